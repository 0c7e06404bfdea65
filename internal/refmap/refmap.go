// Package refmap loads reference maps: per-context rewrite tables applied to
// selectors before matching, so mixin configurations written against one
// naming environment keep working after the target classes were renamed.
package refmap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Map is a parsed reference map. Lookups try the requesting context first,
// then the default table; unmapped references pass through unchanged.
type Map struct {
	// Mappings is keyed by context (usually the mixin or target class name),
	// each holding raw-reference to replacement pairs.
	Mappings map[string]map[string]string `yaml:"mappings"`
	// Defaults applies to every context without a more specific entry.
	Defaults map[string]string `yaml:"defaults,omitempty"`
}

// Empty returns a map that passes every reference through.
func Empty() *Map { return &Map{} }

// Load reads and parses a reference map file.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference map: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("reference map %s: %w", path, err)
	}

	return m, nil
}

// Parse decodes a reference map document.
func Parse(data []byte) (*Map, error) {
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// Remap implements selector.Remapper.
func (m *Map) Remap(context, ref string) string {
	if ctx, ok := m.Mappings[context]; ok {
		if out, ok := ctx[ref]; ok {
			return out
		}
	}

	if out, ok := m.Defaults[ref]; ok {
		return out
	}

	return ref
}
