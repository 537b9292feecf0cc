// Package templates holds the predefined stage pipelines a project can be
// seeded with.
package templates

import (
	_ "embed"
	"fmt"
	"sort"

	"ailego/domain/core/valueobjects"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var builtinYAML []byte

// Arrow connects two stages of a template by their index
type Arrow struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Template is a named sequence of stages plus the arrows between them
type Template struct {
	Name   string               `yaml:"name"`
	Stages []valueobjects.Stage `yaml:"stages"`
	Arrows []Arrow              `yaml:"arrows,omitempty"`
}

type document struct {
	Templates []Template `yaml:"templates"`
}

// Catalog is a read-only set of templates keyed by name
type Catalog struct {
	byName map[string]Template
}

// Parse reads templates from YAML. Templates without explicit arrows link
// each stage to the next one.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	c := &Catalog{byName: make(map[string]Template, len(doc.Templates))}
	for _, t := range doc.Templates {
		if t.Name == "" {
			return nil, fmt.Errorf("template without a name")
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, fmt.Errorf("template %q defined twice", t.Name)
		}
		for _, s := range t.Stages {
			if !s.IsValid() {
				return nil, fmt.Errorf("template %q: unknown stage %q", t.Name, s)
			}
		}
		if len(t.Arrows) == 0 {
			for i := 1; i < len(t.Stages); i++ {
				t.Arrows = append(t.Arrows, Arrow{From: i - 1, To: i})
			}
		}
		for _, a := range t.Arrows {
			if a.From < 0 || a.To < 0 || a.From >= len(t.Stages) || a.To >= len(t.Stages) || a.From == a.To {
				return nil, fmt.Errorf("template %q: invalid arrow %d->%d", t.Name, a.From, a.To)
			}
		}
		c.byName[t.Name] = t
	}
	return c, nil
}

// Builtin returns the templates shipped with the editor
func Builtin() *Catalog {
	c, err := Parse(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin templates are invalid: %v", err))
	}
	return c
}

// Lookup finds a template by name
func (c *Catalog) Lookup(name string) (Template, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Names lists template names in sorted order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
