package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-import/engine/core"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
log_level = "debug"
asset_dir = "content"
watch = true

[workers]
count = 8

[model]
unit_scale = 100.0
pitch_offset = -90.0

[thumbnail]
cache_dir = ".thumbs"
`))
	require.NoError(t, err)

	assert.Equal(t, core.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, "content", cfg.AssetDir)
	assert.True(t, cfg.Watch)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, DefaultConfig().Workers.MaxInFlight, cfg.Workers.MaxInFlight)
	assert.Equal(t, float32(100), cfg.Model.UnitScale)
	assert.Equal(t, float32(-90), cfg.Model.PitchOffset)
	assert.Equal(t, ".thumbs", cfg.Thumbnail.CacheDir)
	assert.Equal(t, DefaultConfig().Thumbnail.Size, cfg.Thumbnail.Size)

	opts := cfg.loaderOptions()
	assert.Equal(t, float32(100), opts.UnitScale)
	assert.Equal(t, cfg.Limits.MaxModelBytes, opts.Limits.MaxModelBytes)
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("[workers]\nthreads = 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads")
}

func TestParseConfigValidates(t *testing.T) {
	for name, doc := range map[string]string{
		"log level":   `log_level = "loud"`,
		"workers":     "[workers]\ncount = 0",
		"in flight":   "[workers]\nmax_in_flight = 0",
		"unit scale":  "[model]\nunit_scale = 0.0",
		"limits":      "[limits]\nmax_script_bytes = 0",
		"texture cap": "[limits]\nmax_texture_dimension = 100000",
		"thumbnails":  "[thumbnail]\nsize = -1",
		"bad toml":    "workers = [",
		"wrong types": `watch = "yes"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importer.toml")
	require.NoError(t, os.WriteFile(path, []byte("[thumbnail]\nsize = 64\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Thumbnail.Size)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, core.ErrIO)
}
