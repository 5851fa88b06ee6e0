// Package config loads, defaults, and validates the pixstore server
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/pixstore/internal/bytesize"
	"github.com/marmos91/pixstore/pkg/api"
)

// Config represents the pixstore server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PIXSTORE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// API contains the upload API HTTP server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry contains OpenTelemetry tracing and profiling configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Storage configures the blob backend and the upload keyspace
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// KV configures the metadata and job store backend
	KV KVConfig `mapstructure:"kv" yaml:"kv"`

	// Worker configures the finalization worker
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TelemetryConfig configures OpenTelemetry distributed tracing.
// When Enabled is false, a no-op tracer is installed (zero overhead).
type TelemetryConfig struct {
	// Enabled controls whether trace export is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC endpoint
	// Default: localhost:4317
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS on the exporter connection
	// Default: true
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: http://localhost:4040
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profile types to collect
	// Default: cpu, alloc_space, inuse_space
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// StorageConfig configures the blob backend and upload keyspace.
type StorageConfig struct {
	// Backend selects the blob store implementation.
	// Valid values: s3, memory (memory is for development only)
	Backend string `mapstructure:"backend" validate:"required,oneof=s3 memory" yaml:"backend"`

	// Bucket is the blob bucket shared by staging and final keys.
	Bucket string `mapstructure:"bucket" validate:"required" yaml:"bucket"`

	// Region is the AWS region for the S3 backend.
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint, for MinIO or LocalStack.
	// Example: http://localhost:9000
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ForcePathStyle uses path-style addressing, required by most
	// S3-compatible servers.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// StagingPrefix and FinalPrefix carve the bucket into the two
	// upload keyspaces.
	// Defaults: staging, final
	StagingPrefix string `mapstructure:"staging_prefix" yaml:"staging_prefix"`
	FinalPrefix   string `mapstructure:"final_prefix" yaml:"final_prefix"`

	// PresignExpiry is the validity window for presigned upload URLs.
	// Default: 15m
	PresignExpiry time.Duration `mapstructure:"presign_expiry" yaml:"presign_expiry"`

	// MaxUploadSize caps the declared size of a single upload.
	// Supports human-readable formats: "100MB", "1Gi"
	// Default: 100MiB
	MaxUploadSize bytesize.ByteSize `mapstructure:"max_upload_size" yaml:"max_upload_size,omitempty"`
}

// KVConfig configures the metadata and job store backend.
type KVConfig struct {
	// Backend selects the key-value store implementation.
	// Valid values: badger, memory (memory is for development only)
	Backend string `mapstructure:"backend" validate:"required,oneof=badger memory" yaml:"backend"`

	// Path is the Badger database directory. Required for the badger
	// backend.
	// Example: /var/lib/pixstore/db
	Path string `mapstructure:"path" yaml:"path"`

	// SyncWrites makes every Badger write fsync before returning.
	// Slower but survives power loss. Default: false
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// WorkerConfig configures the finalization worker.
type WorkerConfig struct {
	// Enabled controls whether the worker is started.
	// Default: true
	// Use a pointer to distinguish "not set" from "explicitly false"
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Concurrency is the maximum number of jobs processed at once.
	// Default: 4
	Concurrency int `mapstructure:"concurrency" validate:"omitempty,min=1" yaml:"concurrency"`

	// PollLimit caps how many due jobs one poll fetches.
	// Default: 16
	PollLimit int `mapstructure:"poll_limit" validate:"omitempty,min=1" yaml:"poll_limit"`

	// LeaseDuration is how long a claimed job stays exclusive. Must
	// exceed the worst-case finalize latency.
	// Default: 30s
	LeaseDuration time.Duration `mapstructure:"lease_duration" yaml:"lease_duration"`

	// IdleBackoffMin and IdleBackoffMax bound the exponential sleep
	// between polls that found no due jobs.
	// Defaults: 100ms, 5s
	IdleBackoffMin time.Duration `mapstructure:"idle_backoff_min" yaml:"idle_backoff_min"`
	IdleBackoffMax time.Duration `mapstructure:"idle_backoff_max" yaml:"idle_backoff_max"`

	// RetryDelayBase and RetryDelayMax bound the exponential delay
	// between attempts of a failing job.
	// Defaults: 1s, 1m
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base" yaml:"retry_delay_base"`
	RetryDelayMax  time.Duration `mapstructure:"retry_delay_max" yaml:"retry_delay_max"`

	// MaxJobAttempts bounds how many times a job may run before it is
	// marked permanently failed.
	// Default: 5
	MaxJobAttempts int `mapstructure:"max_job_attempts" validate:"omitempty,min=1" yaml:"max_job_attempts"`
}

// IsEnabled returns whether the worker is enabled.
// Defaults to true if not explicitly set.
func (c *WorkerConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly
// instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  pixstore init\n\n"+
				"Or specify a custom config file:\n"+
				"  pixstore <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  pixstore init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML
// format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions; config may carry credentials via endpoint
	// URLs.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config
// file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use PIXSTORE_ prefix and underscores
	// Example: PIXSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("PIXSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/pixstore/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file
// was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to
// bytesize.ByteSize, enabling human-readable sizes like "1Gi", "500Mi",
// "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, enabling
// human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// current directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pixstore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "pixstore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for
// the init command).
func GetConfigDir() string {
	return getConfigDir()
}
