package config

import (
	"fmt"
	"time"
)

// ValidationConfig contains Validation Orchestrator tunables.
type ValidationConfig struct {
	// ValidatorTimeout is the max age of a validator's last heartbeat before
	// the sweep marks its task failed (spec.md §4.2).
	ValidatorTimeout time.Duration `yaml:"validator_timeout"`
	// TimeoutSweepInterval is how often the validator-timeout tick runs.
	TimeoutSweepInterval time.Duration `yaml:"timeout_sweep_interval"`
}

// DefaultValidationConfig returns the built-in validation defaults.
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		ValidatorTimeout:     10 * time.Minute,
		TimeoutSweepInterval: 30 * time.Second,
	}
}

// LoadValidationConfig loads validation tunables from the environment.
func LoadValidationConfig() (*ValidationConfig, error) {
	d := DefaultValidationConfig()
	timeout, err := getSecondsOrDefault("VALIDATOR_TIMEOUT_S", int(d.ValidatorTimeout.Seconds()))
	if err != nil {
		return nil, err
	}
	cfg := &ValidationConfig{
		ValidatorTimeout:     timeout,
		TimeoutSweepInterval: d.TimeoutSweepInterval,
	}
	return cfg, cfg.Validate()
}

// Validate checks the validation configuration.
func (c *ValidationConfig) Validate() error {
	if c.ValidatorTimeout <= 0 {
		return fmt.Errorf("VALIDATOR_TIMEOUT_S must be positive")
	}
	return nil
}
