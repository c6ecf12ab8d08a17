package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPresetsDefaultsWhenAbsent(t *testing.T) {
	p, err := LoadPresets(t.TempDir())
	require.NoError(t, err)
	cmd, err := p.Resolve("claude")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude"}, cmd)

	cmd, err = p.Resolve("shell")
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "-l"}, cmd)
}

func TestLoadPresetsFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
build:
  command: ["make", "build"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "presets.yaml"), []byte(yaml), 0o644))

	p, err := LoadPresets(dir)
	require.NoError(t, err)
	cmd, err := p.Resolve("build")
	require.NoError(t, err)
	assert.Equal(t, []string{"make", "build"}, cmd)

	_, err = p.Resolve("claude")
	assert.Error(t, err, "presets.yaml replaces, not merges with, the defaults")
}

func TestResolveUnknownPreset(t *testing.T) {
	p, err := LoadPresets(t.TempDir())
	require.NoError(t, err)
	_, err = p.Resolve("nonexistent")
	assert.Error(t, err)
}

func TestResolveEmptyCommandIsRejected(t *testing.T) {
	p := Presets{"broken": {Command: nil}}
	_, err := p.Resolve("broken")
	assert.Error(t, err)
}
