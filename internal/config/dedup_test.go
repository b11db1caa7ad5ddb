package config

import "testing"

func TestDefaultDedupConfig_Valid(t *testing.T) {
	cfg := DefaultDedupConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default dedup config should validate: %v", err)
	}
}

func TestLoadDedupConfig_TaskThresholdOverride(t *testing.T) {
	t.Setenv("DEDUP_THRESHOLD_TASK", "0.7")

	cfg, err := LoadDedupConfig()
	if err != nil {
		t.Fatalf("LoadDedupConfig: %v", err)
	}
	if cfg.TaskThreshold != 0.7 {
		t.Errorf("TaskThreshold = %v, want 0.7", cfg.TaskThreshold)
	}
	// Untouched thresholds keep defaults.
	if cfg.SpecThreshold != 0.92 {
		t.Errorf("SpecThreshold = %v, want default 0.92", cfg.SpecThreshold)
	}
}

func TestDedupConfig_Validate_RejectsOutOfRangeThreshold(t *testing.T) {
	cfg := DefaultDedupConfig()
	cfg.DiagnosticThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range DiagnosticThreshold")
	}
}
