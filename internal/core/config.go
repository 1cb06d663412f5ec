package core

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// DefaultMaxStackSize is the engine stack cap applied when none is configured.
const DefaultMaxStackSize = 256 * 1024

// Config holds runtime configuration for a bridge instance.
type Config struct {
	MemoryLimit  int64 `envconfig:"MEMORY_LIMIT" default:"0"`        // bytes, 0 = engine default
	MaxStackSize int64 `envconfig:"MAX_STACK_SIZE" default:"262144"` // bytes
	GCThreshold  int64 `envconfig:"GC_THRESHOLD" default:"0"`        // bytes, 0 = engine default

	// BinaryThreshold is the size above which byte buffers crossing the
	// boundary outside of a host callback use the runtime's direct binary
	// transfer instead of base64 in the wire payload.
	BinaryThreshold int `envconfig:"BINARY_THRESHOLD" default:"65536"`

	// CompressArtifacts brotli-compresses compiled script artifacts.
	CompressArtifacts bool `envconfig:"COMPRESS_ARTIFACTS" default:"true"`

	// Logging and Metrics are read with the same JSBRIDGE_ prefix.
	Logging LogConfig     `ignored:"true"`
	Metrics MetricsConfig `ignored:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"jsbridge"`
}

// LoadConfig loads configuration from JSBRIDGE_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	for _, target := range []any{&cfg, &cfg.Logging, &cfg.Metrics} {
		if err := envconfig.Process("jsbridge", target); err != nil {
			return Config{}, fmt.Errorf("failed to load config: %w", err)
		}
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when nothing is supplied.
func DefaultConfig() Config {
	return Config{
		MaxStackSize:      DefaultMaxStackSize,
		BinaryThreshold:   64 * 1024,
		CompressArtifacts: true,
		Logging: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "jsbridge",
		},
	}
}
