package config

import (
	"fmt"
	"time"
)

// DiagnosticConfig contains Diagnostic Engine bounds (spec.md §4.3, §6).
type DiagnosticConfig struct {
	StuckThreshold            time.Duration `yaml:"stuck_threshold"`
	Cooldown                  time.Duration `yaml:"cooldown"`
	MaxConsecutiveFailures    int           `yaml:"max_consecutive_failures"`
	MaxDiagnosticsPerWorkflow int           `yaml:"max_diagnostics_per_workflow"`
	MaxRecoveryTasks          int           `yaml:"max_recovery_tasks"`
	ScanInterval              time.Duration `yaml:"scan_interval"`
}

// DefaultDiagnosticConfig returns the built-in diagnostic defaults.
func DefaultDiagnosticConfig() *DiagnosticConfig {
	return &DiagnosticConfig{
		StuckThreshold:            60 * time.Second,
		Cooldown:                  60 * time.Second,
		MaxConsecutiveFailures:    3,
		MaxDiagnosticsPerWorkflow: 10,
		MaxRecoveryTasks:          5,
		ScanInterval:              20 * time.Second,
	}
}

// LoadDiagnosticConfig loads diagnostic tunables from the environment.
func LoadDiagnosticConfig() (*DiagnosticConfig, error) {
	d := DefaultDiagnosticConfig()

	stuck, err := getSecondsOrDefault("DIAGNOSTIC_STUCK_THRESHOLD_S", int(d.StuckThreshold.Seconds()))
	if err != nil {
		return nil, err
	}
	cooldown, err := getSecondsOrDefault("DIAGNOSTIC_COOLDOWN_S", int(d.Cooldown.Seconds()))
	if err != nil {
		return nil, err
	}
	maxFailures, err := getIntOrDefault("MAX_CONSECUTIVE_FAILURES", d.MaxConsecutiveFailures)
	if err != nil {
		return nil, err
	}
	maxDiag, err := getIntOrDefault("MAX_DIAGNOSTICS_PER_WORKFLOW", d.MaxDiagnosticsPerWorkflow)
	if err != nil {
		return nil, err
	}
	maxRecovery, err := getIntOrDefault("MAX_RECOVERY_TASKS", d.MaxRecoveryTasks)
	if err != nil {
		return nil, err
	}

	cfg := &DiagnosticConfig{
		StuckThreshold:            stuck,
		Cooldown:                  cooldown,
		MaxConsecutiveFailures:    maxFailures,
		MaxDiagnosticsPerWorkflow: maxDiag,
		MaxRecoveryTasks:          maxRecovery,
		ScanInterval:              d.ScanInterval,
	}
	return cfg, cfg.Validate()
}

// Validate checks the diagnostic configuration.
func (c *DiagnosticConfig) Validate() error {
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("MAX_CONSECUTIVE_FAILURES must be positive")
	}
	if c.MaxDiagnosticsPerWorkflow <= 0 {
		return fmt.Errorf("MAX_DIAGNOSTICS_PER_WORKFLOW must be positive")
	}
	if c.MaxRecoveryTasks <= 0 {
		return fmt.Errorf("MAX_RECOVERY_TASKS must be positive")
	}
	return nil
}
