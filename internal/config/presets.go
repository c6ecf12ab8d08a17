package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Preset is a named command convenience, resolved by the CLI client before
// sending a raw Launch request: generalizes a single hardcoded default
// command into a small table, letting a client say `launch --preset
// claude` instead of spelling out argv.
type Preset struct {
	Command []string `yaml:"command"`
}

// Presets is the parsed contents of presets.yaml.
type Presets map[string]Preset

func presetsPath(dataDir string) string { return filepath.Join(dataDir, "presets.yaml") }

// defaultPresets ships a couple of common entries so `launch --preset
// claude` works out of the box with no presets.yaml present.
func defaultPresets() Presets {
	return Presets{
		"claude": {Command: []string{"claude"}},
		"shell":  {Command: []string{"bash", "-l"}},
	}
}

// LoadPresets reads dataDir/presets.yaml, falling back to defaultPresets if
// absent.
func LoadPresets(dataDir string) (Presets, error) {
	data, err := os.ReadFile(presetsPath(dataDir))
	if os.IsNotExist(err) {
		return defaultPresets(), nil
	}
	if err != nil {
		return nil, err
	}

	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing presets.yaml: %w", err)
	}
	return p, nil
}

// Resolve looks up a preset by name.
func (p Presets) Resolve(name string) ([]string, error) {
	preset, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset: %s", name)
	}
	if len(preset.Command) == 0 {
		return nil, fmt.Errorf("preset %s has an empty command", name)
	}
	return preset.Command, nil
}
