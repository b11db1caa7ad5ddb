package llmgateway

// DiagnosticAnalysis is the Diagnostic Engine's structured_output schema
// (spec.md §6, §4.3).
type DiagnosticAnalysis struct {
	RootCause       string           `json:"root_cause"`
	Hypotheses      []Hypothesis     `json:"hypotheses"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Hypothesis is one candidate root cause with a likelihood weight.
type Hypothesis struct {
	Description string  `json:"description"`
	Likelihood  float64 `json:"likelihood"`
}

// Recommendation is one suggested corrective action with a priority.
type Recommendation struct {
	Action   string `json:"action"`
	Priority string `json:"priority"`
}

// ValidationResult is a structured_output schema a validator agent can use
// to render its verdict (spec.md §6).
type ValidationResult struct {
	Passed            bool     `json:"passed"`
	Feedback          string   `json:"feedback"`
	BlockingReasons   []string `json:"blocking_reasons,omitempty"`
	CompletenessScore float64  `json:"completeness_score"`
	MissingArtifacts  []string `json:"missing_artifacts,omitempty"`
}

// MemoryClassification classifies a completed task's execution record into
// a TaskMemory.memory_type (spec.md §6, §4.5 Executor async path).
type MemoryClassification struct {
	MemoryType string  `json:"memory_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// PatternExtraction is the Reflector's LLM-backed alternative to its
// keyword heuristics (spec.md §6).
type PatternExtraction struct {
	SuccessIndicators []string `json:"success_indicators"`
	FailureIndicators []string `json:"failure_indicators"`
}
