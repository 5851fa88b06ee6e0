package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sampleHeader is prepended to generated configuration files.
const sampleHeader = `# Pixstore Configuration File
#
# This file was generated by "pixstore init". Every value shown here is
# the default; delete anything you do not want to override.
#
# All options can also be set via environment variables:
#   PIXSTORE_<SECTION>_<KEY>   (underscores for nested keys)
#
# Examples:
#   PIXSTORE_LOGGING_LEVEL=DEBUG
#   PIXSTORE_STORAGE_BUCKET=my-uploads
#   PIXSTORE_WORKER_CONCURRENCY=8

`

// InitConfig creates a sample configuration file at the default
// location and returns its path.
//
// Returns an error if the file already exists, unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given
// path, creating parent directories as needed.
//
// Returns an error if the file already exists, unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal sample config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := append([]byte(sampleHeader), data...)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
