package blockcache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBuffers is the default number of buffers.
	DefaultBuffers = 30
	// DefaultShards is the default number of shards.
	DefaultShards = 13
	// DefaultBlockSize is the default block size in bytes.
	DefaultBlockSize = 1024
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "BLOCKCACHE_"

// Config sizes a cache. The zero value of a field means its default.
type Config struct {
	Buffers   int `env:"BUFFERS" envDefault:"30" yaml:"buffers"`
	Shards    int `env:"SHARDS" envDefault:"13" yaml:"shards"`
	BlockSize int `env:"BLOCK_SIZE" envDefault:"1024" yaml:"block_size"`

	// FatalExhaustion panics instead of returning ErrNoBuffers.
	FatalExhaustion bool `env:"FATAL_EXHAUSTION" yaml:"fatal_exhaustion"`

	// OffHeap places buffer payloads in an anonymous memory map.
	OffHeap bool `env:"OFF_HEAP" yaml:"off_heap"`

	// LogLevel enables a text logger on stderr at the given level
	// ("debug", "info", "warn", "error"). Empty disables logging.
	LogLevel string `env:"LOG_LEVEL" yaml:"log_level"`

	// MemoryLimitBytes and IOLimitBytesPerSec create a resource controller
	// when none is supplied with WithResourceController.
	MemoryLimitBytes   int64 `env:"MEMORY_LIMIT_BYTES" yaml:"memory_limit_bytes"`
	IOLimitBytesPerSec int64 `env:"IO_LIMIT_BYTES_PER_SEC" yaml:"io_limit_bytes_per_sec"`
}

// DefaultConfig returns the default sizing: 30 buffers in 13 shards of
// 1024-byte blocks.
func DefaultConfig() Config {
	return Config{
		Buffers:   DefaultBuffers,
		Shards:    DefaultShards,
		BlockSize: DefaultBlockSize,
	}
}

func (c *Config) applyDefaults() {
	if c.Buffers == 0 {
		c.Buffers = DefaultBuffers
	}
	if c.Shards == 0 {
		c.Shards = DefaultShards
	}
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
}

// Validate checks the sizing constraints.
func (c Config) Validate() error {
	switch {
	case c.Buffers < 1:
		return fmt.Errorf("%w: buffers must be positive, got %d", ErrInvalidConfig, c.Buffers)
	case c.Shards < 1:
		return fmt.Errorf("%w: shards must be positive, got %d", ErrInvalidConfig, c.Shards)
	case c.Shards > c.Buffers:
		return fmt.Errorf("%w: %d shards exceed %d buffers", ErrInvalidConfig, c.Shards, c.Buffers)
	case c.BlockSize < 1:
		return fmt.Errorf("%w: block size must be positive, got %d", ErrInvalidConfig, c.BlockSize)
	case c.MemoryLimitBytes < 0 || c.IOLimitBytesPerSec < 0:
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidConfig)
	}
	if _, err := c.logLevel(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) logLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return level, nil
	}
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// LoadConfig reads BLOCKCACHE_* environment variables. The given .env files
// are loaded first; with no arguments a ".env" in the working directory is
// loaded if present. Variables already set in the environment win.
func LoadConfig(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("blockcache: load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("blockcache: load env files: %w", err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("blockcache: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML configuration. Missing fields take their defaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("blockcache: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
