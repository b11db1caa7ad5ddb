package config

// Config is the umbrella configuration object threaded through the kernel's
// components at startup.
type Config struct {
	Database   DatabaseConfig
	Scoring    *ScoringConfig
	Queue      *QueueConfig
	Validation *ValidationConfig
	Diagnostic *DiagnosticConfig
	Dedup      *DedupConfig
	ACE        *ACEConfig
	Ownership  *OwnershipConfig
}

// Load loads the full kernel configuration from the environment.
func Load() (*Config, error) {
	db, err := LoadDatabaseConfig()
	if err != nil {
		return nil, err
	}
	scoring, err := LoadScoringConfig()
	if err != nil {
		return nil, err
	}
	queue, err := LoadQueueConfig()
	if err != nil {
		return nil, err
	}
	validation, err := LoadValidationConfig()
	if err != nil {
		return nil, err
	}
	diagnostic, err := LoadDiagnosticConfig()
	if err != nil {
		return nil, err
	}
	dedup, err := LoadDedupConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Database:   db,
		Scoring:    scoring,
		Queue:      queue,
		Validation: validation,
		Diagnostic: diagnostic,
		Dedup:      dedup,
		ACE:        DefaultACEConfig(),
		Ownership:  LoadOwnershipConfig(),
	}, nil
}
