package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural and semantic errors.
//
// Struct tags cover ranges and enumerations; cross-field rules that
// tags cannot express are checked explicitly afterwards.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.KV.Backend == "badger" && cfg.KV.Path == "" {
		return fmt.Errorf("invalid configuration: kv.path is required for the badger backend")
	}

	if cfg.Worker.LeaseDuration > 0 && cfg.Worker.RetryDelayMax > 0 &&
		cfg.Worker.RetryDelayMax < cfg.Worker.RetryDelayBase {
		return fmt.Errorf("invalid configuration: worker.retry_delay_max must be >= worker.retry_delay_base")
	}

	if cfg.Worker.IdleBackoffMax < cfg.Worker.IdleBackoffMin {
		return fmt.Errorf("invalid configuration: worker.idle_backoff_max must be >= worker.idle_backoff_min")
	}

	return nil
}
