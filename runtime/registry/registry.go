// Package registry implements the Component Registry: a YAML-backed
// catalog of reusable page components keyed by product type, loaded the
// way the example pack's config loaders parse a YAML file into a typed
// struct (codeready-toolchain-tarsy's pkg/config/loader.go), generalized
// from agent/MCP-server config to a component catalog. The component_registry
// graph node consults this at generation time; the registry only supplies
// structured descriptors; rendering markup is the HTMLRenderer
// collaborator's job.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Component describes one reusable page component available to the
// generator for a given product type.
type Component struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Props       []PropSpec     `yaml:"props"`
	Tags        []string       `yaml:"tags,omitempty"`
	Example     map[string]any `yaml:"example,omitempty"`
}

// PropSpec documents one component prop so generated pages can populate it
// and the verify node's schema can require it.
type PropSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required,omitempty"`
}

// catalogFile is the on-disk YAML shape: a map from product type to its
// component list, plus a "common" entry available to every product type.
type catalogFile struct {
	Common    []Component            `yaml:"common"`
	ByProduct map[string][]Component `yaml:"product_types"`
}

// Registry is the loaded, queryable component catalog.
type Registry struct {
	common    []Component
	byProduct map[string][]Component
}

// Load reads and parses a component catalog YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Registry from already-read YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("registry: parse catalog: %w", err)
	}
	return &Registry{common: file.Common, byProduct: file.ByProduct}, nil
}

// ComponentsFor returns every component available to productType: the
// product-type-specific list plus the common set every product type shares.
func (r *Registry) ComponentsFor(productType string) []Component {
	out := make([]Component, 0, len(r.common)+len(r.byProduct[productType]))
	out = append(out, r.common...)
	out = append(out, r.byProduct[productType]...)
	return out
}

// Lookup finds one named component within productType's available set.
func (r *Registry) Lookup(productType, name string) (Component, bool) {
	for _, c := range r.ComponentsFor(productType) {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// AsDocument renders a productType's component set as the loosely-typed map
// the graph State's ComponentRegistry field carries.
func (r *Registry) AsDocument(productType string) map[string]any {
	components := r.ComponentsFor(productType)
	list := make([]map[string]any, 0, len(components))
	for _, c := range components {
		props := make([]map[string]any, 0, len(c.Props))
		for _, p := range c.Props {
			props = append(props, map[string]any{"name": p.Name, "type": p.Type, "required": p.Required})
		}
		list = append(list, map[string]any{
			"name": c.Name, "description": c.Description, "props": props, "tags": c.Tags,
		})
	}
	return map[string]any{"components": list}
}
