package config

import (
	"testing"
	"time"
)

func TestDefaultQueueConfig_Valid(t *testing.T) {
	cfg := DefaultQueueConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default queue config should validate: %v", err)
	}
}

func TestLoadQueueConfig_ClaimTTLOverride(t *testing.T) {
	t.Setenv("CLAIM_TTL_S", "120")

	cfg, err := LoadQueueConfig()
	if err != nil {
		t.Fatalf("LoadQueueConfig: %v", err)
	}
	if cfg.ClaimTTL != 120*time.Second {
		t.Errorf("ClaimTTL = %v, want 120s", cfg.ClaimTTL)
	}
}

func TestQueueConfig_Validate_RejectsNonPositiveClaimTTL(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.ClaimTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero ClaimTTL")
	}
}

func TestQueueConfig_Validate_RejectsNonPositiveRetryAttempts(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.TransientRetryAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero TransientRetryAttempts")
	}
}
