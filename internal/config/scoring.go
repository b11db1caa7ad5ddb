package config

import "fmt"

// ScoringConfig holds the Dynamic Scorer's tunables (spec.md §4.1, §6).
type ScoringConfig struct {
	// AgeCeilingSeconds is the age at which age_norm saturates to 1.0.
	AgeCeilingSeconds int `yaml:"age_ceiling_s"`
	// DeadlineHorizonSeconds is the window over which deadline proximity
	// scales deadline_norm.
	DeadlineHorizonSeconds int `yaml:"deadline_horizon_s"`
	// SLAUrgencyWindowSeconds is the distance-to-deadline below which the
	// SLA boost multiplier applies.
	SLAUrgencyWindowSeconds int `yaml:"sla_urgency_window_s"`
	// SLABoostMultiplier scales the base score when within the SLA window.
	SLABoostMultiplier float64 `yaml:"sla_boost_multiplier"`
	// StarvationLimitSeconds is the age beyond which the starvation floor
	// may apply.
	StarvationLimitSeconds int `yaml:"starvation_limit_s"`
	// StarvationFloorScore is the minimum score granted to a starved task.
	StarvationFloorScore float64 `yaml:"starvation_floor_score"`
	// BlockerCeiling is the count of dependents at which blocker_norm
	// saturates to 1.0.
	BlockerCeiling int `yaml:"blocker_ceiling"`
}

// DefaultScoringConfig returns the built-in scoring defaults from spec.md §4.1.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		AgeCeilingSeconds:       3600,
		DeadlineHorizonSeconds:  7200,
		SLAUrgencyWindowSeconds: 900,
		SLABoostMultiplier:      1.25,
		StarvationLimitSeconds:  7200,
		StarvationFloorScore:    0.6,
		BlockerCeiling:          10,
	}
}

// LoadScoringConfig loads scoring tunables from the environment, falling
// back to DefaultScoringConfig for unset values.
func LoadScoringConfig() (*ScoringConfig, error) {
	d := DefaultScoringConfig()

	ageCeiling, err := getIntOrDefault("AGE_CEILING_S", d.AgeCeilingSeconds)
	if err != nil {
		return nil, err
	}
	deadlineHorizon, err := getIntOrDefault("DEADLINE_HORIZON_S", d.DeadlineHorizonSeconds)
	if err != nil {
		return nil, err
	}
	slaWindow, err := getIntOrDefault("SLA_URGENCY_WINDOW_S", d.SLAUrgencyWindowSeconds)
	if err != nil {
		return nil, err
	}
	slaBoost, err := getFloatOrDefault("SLA_BOOST_MULTIPLIER", d.SLABoostMultiplier)
	if err != nil {
		return nil, err
	}
	starvationLimit, err := getIntOrDefault("STARVATION_LIMIT_S", d.StarvationLimitSeconds)
	if err != nil {
		return nil, err
	}
	starvationFloor, err := getFloatOrDefault("STARVATION_FLOOR_SCORE", d.StarvationFloorScore)
	if err != nil {
		return nil, err
	}
	blockerCeiling, err := getIntOrDefault("BLOCKER_CEILING", d.BlockerCeiling)
	if err != nil {
		return nil, err
	}

	cfg := &ScoringConfig{
		AgeCeilingSeconds:       ageCeiling,
		DeadlineHorizonSeconds:  deadlineHorizon,
		SLAUrgencyWindowSeconds: slaWindow,
		SLABoostMultiplier:      slaBoost,
		StarvationLimitSeconds:  starvationLimit,
		StarvationFloorScore:    starvationFloor,
		BlockerCeiling:          blockerCeiling,
	}
	return cfg, cfg.Validate()
}

// Validate checks that the scoring configuration is internally consistent.
func (c *ScoringConfig) Validate() error {
	if c.AgeCeilingSeconds <= 0 {
		return fmt.Errorf("AGE_CEILING_S must be positive")
	}
	if c.DeadlineHorizonSeconds <= 0 {
		return fmt.Errorf("DEADLINE_HORIZON_S must be positive")
	}
	if c.StarvationFloorScore < 0 || c.StarvationFloorScore > 1 {
		return fmt.Errorf("STARVATION_FLOOR_SCORE must be within [0,1]")
	}
	if c.BlockerCeiling <= 0 {
		return fmt.Errorf("BLOCKER_CEILING must be positive")
	}
	return nil
}
