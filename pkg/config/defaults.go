package config

import (
	"strings"
	"time"

	"github.com/marmos91/pixstore/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyStorageDefaults(&cfg.Storage)
	applyKVDefaults(&cfg.KV)
	applyWorkerDefaults(&cfg.Worker)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
		cfg.Insecure = true
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space"}
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "s3"
	}
	if cfg.StagingPrefix == "" {
		cfg.StagingPrefix = "staging"
	}
	if cfg.FinalPrefix == "" {
		cfg.FinalPrefix = "final"
	}
	if cfg.PresignExpiry == 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 100 * bytesize.MiB
	}
}

func applyKVDefaults(cfg *KVConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "badger"
	}
	// Path has no default for the badger backend - it must be configured
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollLimit == 0 {
		cfg.PollLimit = 16
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if cfg.IdleBackoffMin == 0 {
		cfg.IdleBackoffMin = 100 * time.Millisecond
	}
	if cfg.IdleBackoffMax == 0 {
		cfg.IdleBackoffMax = 5 * time.Second
	}
	if cfg.RetryDelayBase == 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.RetryDelayMax == 0 {
		cfg.RetryDelayMax = time.Minute
	}
	if cfg.MaxJobAttempts == 0 {
		cfg.MaxJobAttempts = 5
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			Bucket: "pixstore-uploads",
		},
		KV: KVConfig{
			Path: "/var/lib/pixstore/db",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
