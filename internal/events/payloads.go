package events

// TaskStatusChangedPayload accompanies EventTaskStatusChanged.
type TaskStatusChangedPayload struct {
	TaskID    string `json:"task_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// ValidationResultPayload accompanies EventValidationPassed/EventValidationFailed.
type ValidationResultPayload struct {
	TaskID          string   `json:"task_id"`
	IterationNumber int      `json:"iteration_number"`
	Passed          bool     `json:"passed"`
	Feedback        string   `json:"feedback"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// DiagnosticTriggeredPayload accompanies EventDiagnosticTriggered.
type DiagnosticTriggeredPayload struct {
	WorkflowID        string `json:"workflow_id"`
	DiagnosticRunID   string `json:"diagnostic_run_id"`
	TaskCountAtTrigger int   `json:"task_count_at_trigger"`
}

// DiagnosticCompletedPayload accompanies EventDiagnosticCompleted.
type DiagnosticCompletedPayload struct {
	WorkflowID        string   `json:"workflow_id"`
	DiagnosticRunID   string   `json:"diagnostic_run_id"`
	Diagnosis         string   `json:"diagnosis"`
	TasksCreatedIDs   []string `json:"tasks_created_ids,omitempty"`
}

// DiscoveryPayload accompanies EventDiscoveryRaised/EventDiscoveryResolved.
type DiscoveryPayload struct {
	DiscoveryID    string   `json:"discovery_id"`
	SourceTaskID   string   `json:"source_task_id"`
	DiscoveryType  string   `json:"discovery_type"`
	SpawnedTaskIDs []string `json:"spawned_task_ids,omitempty"`
}

// PlaybookChangedPayload accompanies EventPlaybookChanged.
type PlaybookChangedPayload struct {
	PlaybookEntryID string `json:"playbook_entry_id"`
	Operation       string `json:"operation"`
	Summary         string `json:"summary"`
}

// HandlerTimeoutPayload accompanies EventBusHandlerTimeout, emitted when a
// subscriber's handler exceeds its deadline so operators can trace which
// consumer is backing up an entity's FIFO queue.
type HandlerTimeoutPayload struct {
	SubscriberName string `json:"subscriber_name"`
	OriginalType   string `json:"original_type"`
}

// AgentFeedbackPayload accompanies EventAgentValidationFeedback, delivered
// to the target agent's message injection sink (spec.md §4.2 send_feedback).
type AgentFeedbackPayload struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
}

// ACEWorkflowCompletedPayload accompanies EventACEWorkflowCompleted, summarizing
// one Executor/Reflector/Curator run (spec.md §4.5).
type ACEWorkflowCompletedPayload struct {
	TaskID         string `json:"task_id"`
	MemoryID       string `json:"memory_id"`
	InsightCount   int    `json:"insight_count"`
	ErrorCount     int    `json:"error_count"`
	PlaybookUpdates int   `json:"playbook_updates"`
}

// AnomalyPayload accompanies EventAnomalyDetected.
type AnomalyPayload struct {
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	AnomalyType string `json:"anomaly_type"`
	Detail      string `json:"detail"`
}
