package config

import "testing"

func TestDefaultScoringConfig_Valid(t *testing.T) {
	cfg := DefaultScoringConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default scoring config should validate: %v", err)
	}
}

func TestLoadScoringConfig_Overrides(t *testing.T) {
	t.Setenv("AGE_CEILING_S", "1800")
	t.Setenv("SLA_BOOST_MULTIPLIER", "1.5")

	cfg, err := LoadScoringConfig()
	if err != nil {
		t.Fatalf("LoadScoringConfig: %v", err)
	}
	if cfg.AgeCeilingSeconds != 1800 {
		t.Errorf("AgeCeilingSeconds = %d, want 1800", cfg.AgeCeilingSeconds)
	}
	if cfg.SLABoostMultiplier != 1.5 {
		t.Errorf("SLABoostMultiplier = %v, want 1.5", cfg.SLABoostMultiplier)
	}
	// Untouched fields keep their defaults.
	if cfg.BlockerCeiling != 10 {
		t.Errorf("BlockerCeiling = %d, want default 10", cfg.BlockerCeiling)
	}
}

func TestLoadScoringConfig_InvalidValue(t *testing.T) {
	t.Setenv("AGE_CEILING_S", "not-a-number")
	if _, err := LoadScoringConfig(); err == nil {
		t.Fatal("expected error for non-numeric AGE_CEILING_S")
	}
}

func TestScoringConfig_ValidateBounds(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.StarvationFloorScore = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range starvation floor")
	}
}
