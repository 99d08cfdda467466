// Package workflow models the engine's node graphs as typed documents.
//
// A graph maps node identifiers to typed node records. Templates are static
// assets compiled into the binary; callers obtain a private copy from the
// Store and rewrite caller-supplied parameters into it through the Patcher's
// binding table. Graphs submitted to the engine are plain JSON objects, so
// Graph marshals to exactly the wire shape the engine expects.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Node is one graph node: a class type plus its input fields. Inputs hold
// either literal values or [nodeID, outputIndex] connection pairs.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Graph is a full execution graph keyed by node identifier.
type Graph map[string]Node

// Parse decodes and structurally validates a graph document.
func Parse(data []byte) (Graph, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("graph document is empty")
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks structural well-formedness: every node carries a class
// type and an inputs map. Domain requirements (specific nodes present) are
// checked by the patcher and the diagnostics collector, not here.
func (g Graph) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	for id, node := range g {
		if node.ClassType == "" {
			return fmt.Errorf("node %s: missing class_type", id)
		}
		if node.Inputs == nil {
			return fmt.Errorf("node %s: missing inputs", id)
		}
	}
	return nil
}

// Clone returns a deep copy. Input values are copied recursively so the
// clone shares no mutable state with the original.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for id, node := range g {
		out[id] = Node{
			ClassType: node.ClassType,
			Inputs:    copyMap(node.Inputs),
			Meta:      copyMap(node.Meta),
		}
	}
	return out
}

// NodeIDs returns the node identifiers in sorted order.
func (g Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
