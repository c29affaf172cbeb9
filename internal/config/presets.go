package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/autoduck/internal/audio"
	"github.com/satindergrewal/autoduck/internal/duck"
)

// Presets maps a preset name to ducking parameters.
type Presets map[string]duck.Params

type presetFile struct {
	Presets map[string]yaml.Node `yaml:"presets"`
}

// LoadPresets reads a YAML preset file of the form
//
//	presets:
//	  podcast:
//	    duck_amount_db: 18
//	    fade_ms: 50
//
// Fields a preset omits take their value from base. Every preset is
// validated before it is returned.
func LoadPresets(path string, base duck.Params) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file %s: %w", path, err)
	}
	return ParsePresets(data, base)
}

// ParsePresets parses preset YAML; see LoadPresets.
func ParsePresets(data []byte, base duck.Params) (Presets, error) {
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}

	presets := make(Presets, len(f.Presets))
	for name, node := range f.Presets {
		p := base
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		presets[name] = p
	}
	return presets, nil
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named preset. An empty name returns base.
func (p Presets) Lookup(name string, base duck.Params) (duck.Params, error) {
	if name == "" {
		return base, nil
	}
	params, ok := p[name]
	if !ok {
		return duck.Params{}, &audio.InvalidInputError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", name)}
	}
	return params, nil
}
