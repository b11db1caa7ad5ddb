package config

import (
	"fmt"
	"time"
)

// QueueConfig contains task-queue claim and retry tunables.
type QueueConfig struct {
	// ClaimTTL bounds how long a task may sit in `claiming` before the
	// reaper sweep reverts it to `pending`.
	ClaimTTL time.Duration `yaml:"claim_ttl"`
	// ClaimReaperInterval is how often the reaper sweep runs.
	ClaimReaperInterval time.Duration `yaml:"claim_reaper_interval"`
	// ScoreRecomputeInterval is how often the background timer refreshes
	// stale scores.
	ScoreRecomputeInterval time.Duration `yaml:"score_recompute_interval"`
	// TransientRetryAttempts is loaded and validated but read by no other
	// code: transient storage errors are not retried (spec.md §7(d)).
	TransientRetryAttempts int `yaml:"transient_retry_attempts"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		ClaimTTL:               60 * time.Second,
		ClaimReaperInterval:    15 * time.Second,
		ScoreRecomputeInterval: 30 * time.Second,
		TransientRetryAttempts: 3,
	}
}

// LoadQueueConfig loads queue tunables from the environment.
func LoadQueueConfig() (*QueueConfig, error) {
	d := DefaultQueueConfig()

	claimTTL, err := getSecondsOrDefault("CLAIM_TTL_S", int(d.ClaimTTL.Seconds()))
	if err != nil {
		return nil, err
	}
	cfg := &QueueConfig{
		ClaimTTL:               claimTTL,
		ClaimReaperInterval:    d.ClaimReaperInterval,
		ScoreRecomputeInterval: d.ScoreRecomputeInterval,
		TransientRetryAttempts: d.TransientRetryAttempts,
	}
	return cfg, cfg.Validate()
}

// Validate checks the queue configuration.
func (c *QueueConfig) Validate() error {
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("CLAIM_TTL_S must be positive")
	}
	if c.TransientRetryAttempts <= 0 {
		return fmt.Errorf("transient retry attempts must be positive")
	}
	return nil
}
