package config

// OwnershipConfig controls the strictness of the parallel-sibling file
// ownership validator (spec.md §4.6).
type OwnershipConfig struct {
	// StrictMode turns overlap conflicts into hard errors. Default is
	// lenient: conflicts are recorded as warnings and execution proceeds.
	StrictMode bool `yaml:"ownership_strict_mode"`
}

// DefaultOwnershipConfig returns the lenient-by-default ownership config.
func DefaultOwnershipConfig() *OwnershipConfig {
	return &OwnershipConfig{StrictMode: false}
}

// LoadOwnershipConfig loads the ownership mode from the environment.
func LoadOwnershipConfig() *OwnershipConfig {
	return &OwnershipConfig{StrictMode: getBoolOrDefault("OWNERSHIP_STRICT_MODE", false)}
}
