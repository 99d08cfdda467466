package workflow

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMissingNode marks a patch whose binding target node or field does not
// exist in the template. This invalidates the template/binding pairing and
// is surfaced to the caller rather than silently skipped.
var ErrMissingNode = errors.New("template missing required node")

// Patch applies validated overrides onto a copy of g and returns the copy.
// The input graph is never mutated, so templates can be reused across
// requests. Empty overrides return a structurally identical copy.
//
// Override keys that have no binding table entry are ignored; binding
// targets that are absent from the graph fail with ErrMissingNode.
func Patch(g Graph, overrides map[string]any) (Graph, error) {
	out := g.Clone()

	// Deterministic application order keeps error messages stable.
	params := make([]string, 0, len(overrides))
	for p := range overrides {
		params = append(params, p)
	}
	sort.Strings(params)

	for _, param := range params {
		targets, ok := Targets(param)
		if !ok {
			continue
		}
		value := overrides[param]
		for _, t := range targets {
			node, ok := out[t.NodeID]
			if !ok {
				return nil, fmt.Errorf("%w: node %s for parameter %q", ErrMissingNode, t.NodeID, param)
			}
			if node.Inputs == nil {
				return nil, fmt.Errorf("%w: node %s has no inputs", ErrMissingNode, t.NodeID)
			}
			if _, ok := node.Inputs[t.Field]; !ok {
				return nil, fmt.Errorf("%w: node %s missing field %q for parameter %q",
					ErrMissingNode, t.NodeID, t.Field, param)
			}
			node.Inputs[t.Field] = value
		}
	}
	return out, nil
}
