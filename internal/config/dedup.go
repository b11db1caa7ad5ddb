package config

import "fmt"

// DedupConfig contains per-entity cosine similarity thresholds (spec.md §4.4).
type DedupConfig struct {
	SpecThreshold        float64 `yaml:"dedup_threshold_spec"`
	RequirementThreshold float64 `yaml:"dedup_threshold_req"`
	TaskThreshold        float64 `yaml:"dedup_threshold_task"`
	DiagnosticThreshold  float64 `yaml:"dedup_threshold_diag"`
}

// DefaultDedupConfig returns the built-in dedup thresholds.
func DefaultDedupConfig() *DedupConfig {
	return &DedupConfig{
		SpecThreshold:        0.92,
		RequirementThreshold: 0.88,
		TaskThreshold:        0.85,
		DiagnosticThreshold:  0.90,
	}
}

// LoadDedupConfig loads dedup thresholds from the environment.
func LoadDedupConfig() (*DedupConfig, error) {
	d := DefaultDedupConfig()

	spec, err := getFloatOrDefault("DEDUP_THRESHOLD_SPEC", d.SpecThreshold)
	if err != nil {
		return nil, err
	}
	req, err := getFloatOrDefault("DEDUP_THRESHOLD_REQ", d.RequirementThreshold)
	if err != nil {
		return nil, err
	}
	task, err := getFloatOrDefault("DEDUP_THRESHOLD_TASK", d.TaskThreshold)
	if err != nil {
		return nil, err
	}
	diag, err := getFloatOrDefault("DEDUP_THRESHOLD_DIAG", d.DiagnosticThreshold)
	if err != nil {
		return nil, err
	}

	cfg := &DedupConfig{
		SpecThreshold:        spec,
		RequirementThreshold: req,
		TaskThreshold:        task,
		DiagnosticThreshold:  diag,
	}
	return cfg, cfg.Validate()
}

// Validate checks that every threshold is a valid cosine similarity bound.
func (c *DedupConfig) Validate() error {
	for name, v := range map[string]float64{
		"spec": c.SpecThreshold, "req": c.RequirementThreshold,
		"task": c.TaskThreshold, "diag": c.DiagnosticThreshold,
	} {
		if v < -1 || v > 1 {
			return fmt.Errorf("dedup threshold %s out of range [-1,1]: %v", name, v)
		}
	}
	return nil
}
