package engine

import (
	"bytes"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-import/engine/assets/loaders"
	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/systems"
)

type WorkersConfig struct {
	// Number of background import workers.
	Count int `toml:"count"`
	// Capacity of the job queue feeding the workers.
	QueueSize int `toml:"queue_size"`
	// Imports holding a transfer buffer at the same time.
	MaxInFlight int `toml:"max_in_flight"`
	// Dispatched imports waiting for a free slot.
	BacklogSize int `toml:"backlog_size"`
}

// MaxTextureDimension caps limits.max_texture_dimension. Every in-flight
// texture buffer holds d*d*4 bytes.
const MaxTextureDimension = 16384

type LimitsConfig struct {
	MaxTextureDimension int `toml:"max_texture_dimension"`
	MaxScriptBytes      int `toml:"max_script_bytes"`
	MaxModelBytes       int `toml:"max_model_bytes"`
	MaxSessionBytes     int `toml:"max_session_bytes"`
}

type ModelConfig struct {
	// Authored units per engine unit.
	UnitScale float32 `toml:"unit_scale"`
	// Degrees added to the pitch of model roots.
	PitchOffset float32 `toml:"pitch_offset"`
}

type ThumbnailConfig struct {
	Size     int    `toml:"size"`
	CacheDir string `toml:"cache_dir"`
	PerTick  int    `toml:"per_tick"`
}

/**
 * @brief The engine configuration, usually read from a TOML file.
 */
type Config struct {
	LogLevel core.LogLevel `toml:"log_level"`
	// Directory indexed by the asset manager. Relative import paths resolve against it.
	AssetDir string `toml:"asset_dir"`
	// Watch the asset directory and refresh thumbnails of changed files.
	Watch     bool            `toml:"watch"`
	Workers   WorkersConfig   `toml:"workers"`
	Limits    LimitsConfig    `toml:"limits"`
	Model     ModelConfig     `toml:"model"`
	Thumbnail ThumbnailConfig `toml:"thumbnail"`
}

func DefaultConfig() Config {
	limits := loaders.DefaultLimits()
	return Config{
		LogLevel: core.LogLevelInfo,
		AssetDir: "assets",
		Workers: WorkersConfig{
			Count:       4,
			QueueSize:   16,
			MaxInFlight: 8,
			BacklogSize: 256,
		},
		Limits: LimitsConfig{
			MaxTextureDimension: limits.MaxTextureDimension,
			MaxScriptBytes:      limits.MaxScriptBytes,
			MaxModelBytes:       limits.MaxModelBytes,
			MaxSessionBytes:     limits.MaxSessionBytes,
		},
		Model: ModelConfig{
			UnitScale: 1,
		},
		Thumbnail: ThumbnailConfig{
			Size:    systems.DEFAULT_THUMBNAIL_SIZE,
			PerTick: 4,
		},
	}
}

/**
 * @brief Reads a TOML configuration. Keys missing from the file keep their
 * default value; unknown keys are rejected.
 */
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(core.ErrIO, "config %s: %v", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var details *toml.StrictMissingError
		if errors.As(err, &details) {
			return Config{}, errors.Errorf("invalid config: %s", details.String())
		}
		return Config{}, errors.Wrap(err, "invalid config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LogLevel {
	case core.LogLevelDebug, core.LogLevelInfo, core.LogLevelWarn, core.LogLevelError:
	default:
		return errors.Errorf("log_level must be one of debug, info, warn, error; got '%s'", c.LogLevel)
	}
	if c.Workers.Count < 1 {
		return errors.Errorf("workers.count must be > 0, got %d", c.Workers.Count)
	}
	if c.Workers.QueueSize < 0 || c.Workers.BacklogSize < 0 {
		return errors.New("workers.queue_size and workers.backlog_size must not be negative")
	}
	if c.Workers.MaxInFlight < 1 {
		return errors.Errorf("workers.max_in_flight must be > 0, got %d", c.Workers.MaxInFlight)
	}
	if c.Limits.MaxTextureDimension > MaxTextureDimension {
		return errors.Errorf("limits.max_texture_dimension must be <= %d, got %d", MaxTextureDimension, c.Limits.MaxTextureDimension)
	}
	if c.Limits.MaxTextureDimension < 1 || c.Limits.MaxScriptBytes < 1 ||
		c.Limits.MaxModelBytes < 1 || c.Limits.MaxSessionBytes < 1 {
		return errors.New("every limit must be > 0")
	}
	if c.Model.UnitScale <= 0 {
		return errors.Errorf("model.unit_scale must be > 0, got %g", c.Model.UnitScale)
	}
	if c.Thumbnail.Size < 1 {
		return errors.Errorf("thumbnail.size must be > 0, got %d", c.Thumbnail.Size)
	}
	return nil
}

func (c Config) loaderOptions() loaders.Options {
	return loaders.Options{
		Limits: loaders.Limits{
			MaxTextureDimension: c.Limits.MaxTextureDimension,
			MaxScriptBytes:      c.Limits.MaxScriptBytes,
			MaxModelBytes:       c.Limits.MaxModelBytes,
			MaxSessionBytes:     c.Limits.MaxSessionBytes,
		},
		UnitScale:   c.Model.UnitScale,
		PitchOffset: c.Model.PitchOffset,
	}
}

func (c Config) systemsConfig() systems.SystemManagerConfig {
	return systems.SystemManagerConfig{
		Import: systems.ImportSystemConfig{
			Workers:     c.Workers.Count,
			QueueSize:   c.Workers.QueueSize,
			MaxInFlight: c.Workers.MaxInFlight,
			BacklogSize: c.Workers.BacklogSize,
		},
		Thumbnail: systems.ThumbnailSystemConfig{
			Size:     c.Thumbnail.Size,
			CacheDir: c.Thumbnail.CacheDir,
			PerTick:  c.Thumbnail.PerTick,
		},
	}
}
