package workflow

import (
	"embed"
	"errors"
	"fmt"
	"sort"
)

// Template names accepted by the job API. TemplateI2V is the default;
// TemplateFLF2V is the first-last-frame variant and requires an end image.
const (
	TemplateI2V   = "wan22_i2v"
	TemplateFLF2V = "flf2v"
)

// ErrUnknownTemplate marks a Load of a name that is not registered.
var ErrUnknownTemplate = errors.New("unknown workflow template")

// Templates are embedded so the worker binary is self-contained regardless
// of working directory or image layout.
//
//go:embed templates/*.json
var templateFS embed.FS

var templateFiles = map[string]string{
	TemplateI2V:   "templates/wan22_i2v.json",
	TemplateFLF2V: "templates/wan22_flf2v.json",
}

// Store holds the parsed, validated graph templates.
type Store struct {
	templates map[string]Graph
}

// NewStore parses every embedded template. A malformed embedded template is
// a build defect and fails construction outright.
func NewStore() (*Store, error) {
	templates := make(map[string]Graph, len(templateFiles))
	for name, path := range templateFiles {
		data, err := templateFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		g, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		templates[name] = g
	}
	return &Store{templates: templates}, nil
}

// Load returns a private deep copy of the named template, so callers can
// never corrupt the shared definition across requests.
func (s *Store) Load(name string) (Graph, error) {
	g, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return g.Clone(), nil
}

// Names lists the registered template names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
