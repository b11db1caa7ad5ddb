package config

// ACEConfig tunes the Executor/Reflector/Curator pipeline (spec.md §4.5).
type ACEConfig struct {
	PlaybookSearchThreshold float64 `yaml:"ace_playbook_search_threshold"`
	CuratorDedupThreshold   float64 `yaml:"ace_curator_dedup_threshold"`
	InsightConfidence       float64 `yaml:"ace_insight_confidence"`
	MinEntryLength          int     `yaml:"ace_min_entry_length"`
	ReflectorContextChars   int     `yaml:"ace_reflector_context_chars"`
	ConfidenceStep          float64 `yaml:"ace_confidence_step"`
}

// DefaultACEConfig returns the built-in ACE thresholds (spec.md §4.5, §12).
func DefaultACEConfig() *ACEConfig {
	return &ACEConfig{
		PlaybookSearchThreshold: 0.7,
		CuratorDedupThreshold:   0.85,
		InsightConfidence:       0.7,
		MinEntryLength:          10,
		ReflectorContextChars:   100,
		ConfidenceStep:          0.05,
	}
}
