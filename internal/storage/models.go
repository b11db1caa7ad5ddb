// Package storage implements the kernel's transactional Postgres store:
// tickets, tasks, memories, playbook entries, discoveries, diagnostic runs,
// validation reviews, resource locks, and the supporting agent/project/user
// tables (spec.md §3, §6).
package storage

import "time"

// TicketStatus is the closed enumeration of Ticket.status values.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketDone       TicketStatus = "done"
)

// TaskStatus is the closed enumeration of Task.status values (spec.md §3).
type TaskStatus string

const (
	TaskPending                TaskStatus = "pending"
	TaskClaiming               TaskStatus = "claiming"
	TaskAssigned               TaskStatus = "assigned"
	TaskRunning                TaskStatus = "running"
	TaskUnderReview            TaskStatus = "under_review"
	TaskValidationInProgress   TaskStatus = "validation_in_progress"
	TaskNeedsWork              TaskStatus = "needs_work"
	TaskCompleted              TaskStatus = "completed"
	TaskFailed                 TaskStatus = "failed"
)

// Priority is the closed enumeration of Task.priority values.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Norm returns the normalized [0,1] weight used by the scorer.
func (p Priority) Norm() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.75
	case PriorityMedium:
		return 0.5
	case PriorityLow:
		return 0.25
	default:
		return 0.25
	}
}

// IsTerminal reports whether the status is monotonically final (spec.md §8).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Dependencies is the `{depends_on: [...]}` mapping from spec.md §3.
type Dependencies struct {
	DependsOn []string `json:"depends_on,omitempty"`
}

// Task is the unit-of-work aggregate (spec.md §3).
type Task struct {
	ID                     string
	TicketID               string
	PhaseID                string
	TaskType               string
	Description            string
	Priority               Priority
	Status                 TaskStatus
	AssignedAgentID        *string
	SandboxID              *string
	Result                 []byte // structured blob, opaque JSON
	ErrorMessage           *string
	RetryCount             int
	MaxRetries             int
	DeadlineAt             *time.Time
	Score                  float64
	ValidationEnabled      bool
	ValidationIteration    int
	ReviewDone             bool
	LastValidationFeedback *string
	OwnedFiles             []string
	Dependencies           Dependencies
	EmbeddingVector        []float32
	ContentHash            *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
	ClaimedAt              *time.Time
	CompletedAt            *time.Time
}

// Ticket is the aggregate workflow unit (spec.md §3).
type Ticket struct {
	ID          string
	Title       string
	Description string
	PhaseID     string
	Status      TicketStatus
	Priority    Priority
	ProjectID   *string
	CreatedAt   time.Time
}

// MemoryType is the closed enumeration of TaskMemory.memory_type values.
type MemoryType string

const (
	MemoryErrorFix         MemoryType = "error_fix"
	MemoryDecision         MemoryType = "decision"
	MemoryLearning         MemoryType = "learning"
	MemoryWarning          MemoryType = "warning"
	MemoryCodebaseKnowledge MemoryType = "codebase_knowledge"
	MemoryDiscovery        MemoryType = "discovery"
)

// TaskMemory is the append-only execution record (spec.md §3).
type TaskMemory struct {
	ID                string
	TaskID            string
	ExecutionSummary  string
	MemoryType        MemoryType
	ContextEmbedding  []float32
	Success           bool
	ErrorPatterns     []string
	Goal              *string
	Result            *string
	Feedback          *string
	ToolUsage         []byte // opaque JSON tool-call trace
	ReusedCount       int
	LearnedAt         time.Time
}

// PatternType is the closed enumeration of LearnedPattern.pattern_type values.
type PatternType string

const (
	PatternSuccess     PatternType = "success"
	PatternFailure     PatternType = "failure"
	PatternOptimization PatternType = "optimization"
)

// LearnedPattern is the aggregated success/failure signature (spec.md §3).
type LearnedPattern struct {
	ID                string
	PatternType       PatternType
	TaskTypePattern   string
	SuccessIndicators []string
	FailureIndicators []string
	Embedding         []float32
	ConfidenceScore   float64
	UsageCount        int
}

// PlaybookCategory is the closed enumeration of PlaybookEntry.category values.
type PlaybookCategory string

const (
	CategoryPatterns      PlaybookCategory = "patterns"
	CategoryGotchas       PlaybookCategory = "gotchas"
	CategoryBestPractices PlaybookCategory = "best_practices"
	CategoryGeneral       PlaybookCategory = "general"
)

// PlaybookEntry is a curated knowledge bullet for a ticket (spec.md §3).
type PlaybookEntry struct {
	ID                   string
	TicketID             string
	Content              string
	Category             PlaybookCategory
	Tags                 []string
	Embedding            []float32
	SupportingMemoryIDs  []string
	IsActive             bool
	CreatedBy            *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PlaybookChangeOp is the kind of curator delta applied.
type PlaybookChangeOp string

const (
	PlaybookChangeAdd    PlaybookChangeOp = "add"
	PlaybookChangeUpdate PlaybookChangeOp = "update"
	PlaybookChangeRetire PlaybookChangeOp = "retire"
)

// PlaybookChange is the append-only audit trail of a curator delta (spec.md §3).
type PlaybookChange struct {
	ID              string
	PlaybookEntryID string
	Operation       PlaybookChangeOp
	RelatedMemoryID string
	Summary         string
	CreatedAt       time.Time
}

// DiscoveryResolution is the closed enumeration of TaskDiscovery.resolution_status.
type DiscoveryResolution string

const (
	DiscoveryOpen       DiscoveryResolution = "open"
	DiscoveryInProgress DiscoveryResolution = "in_progress"
	DiscoveryResolved   DiscoveryResolution = "resolved"
	DiscoveryInvalid    DiscoveryResolution = "invalid"
)

// TaskDiscovery is an edge in the workflow-branching graph (spec.md §3).
type TaskDiscovery struct {
	ID               string
	SourceTaskID     string
	DiscoveryType    string
	Description      string
	SpawnedTaskIDs   []string
	DiscoveredAt     time.Time
	PriorityBoost    bool
	ResolutionStatus DiscoveryResolution
}

// DiagnosticRunStatus is the closed enumeration of DiagnosticRun.status.
type DiagnosticRunStatus string

const (
	DiagnosticRunning   DiagnosticRunStatus = "running"
	DiagnosticCompleted DiagnosticRunStatus = "completed"
	DiagnosticSkipped   DiagnosticRunStatus = "skipped"
	DiagnosticFailed    DiagnosticRunStatus = "failed"
)

// DiagnosticRun is one stuck-workflow analysis attempt (spec.md §3).
type DiagnosticRun struct {
	ID               string
	WorkflowID       string // == ticket id
	TriggeredAt      time.Time
	CompletedAt      *time.Time
	TaskCountAtTrigger    int
	PhasesAnalyzed   []string
	AgentsReviewed   []string
	Diagnosis        *string
	TasksCreatedCount int
	TasksCreatedIDs  []string
	Status           DiagnosticRunStatus
}

// ValidationReview is an append-only per-iteration review record (spec.md §3).
type ValidationReview struct {
	ID              string
	TaskID          string
	ValidatorAgentID string
	IterationNumber int
	ValidationPassed bool
	Feedback        string
	Evidence        []byte
	Recommendations []string
	CreatedAt       time.Time
}

// ResourceLock is a named lock with owner and release semantics (spec.md §3).
type ResourceLock struct {
	Name      string
	OwnerID   string
	AcquiredAt time.Time
	ExpiresAt time.Time
}

// WorkflowResultStatus is the status of a workflow-level submission.
type WorkflowResultStatus string

const (
	WorkflowResultSubmitted WorkflowResultStatus = "submitted"
	WorkflowResultValidated WorkflowResultStatus = "validated"
	WorkflowResultRejected  WorkflowResultStatus = "rejected"
)

// WorkflowResult is a workflow-level submission with validation status
// (spec.md §3).
type WorkflowResult struct {
	ID                 string
	TicketID           string
	Status             WorkflowResultStatus
	MarkdownFilePath   *string
	CreatedAt          time.Time
}

// MonitorAnomaly is a detected anomaly record (spec.md §3).
type MonitorAnomaly struct {
	ID          string
	EntityType  string
	EntityID    string
	AnomalyType string
	Detail      string
	DetectedAt  time.Time
}

// AgentResult is a per-task deliverable receipt (spec.md §3).
type AgentResult struct {
	ID              string
	TaskID          string
	AgentID         string
	MarkdownContent string
	CreatedAt       time.Time
}

// Agent is the executing entity that claims and performs tasks.
type Agent struct {
	ID            string
	Type          string // e.g. "worker", "validator"
	Capabilities  []string
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// Project links a ticket to an owner for diagnostic clone-readiness checks
// (spec.md §4.3).
type Project struct {
	ID      string
	Name    string
	OwnerID string
}

// User is the owner of a project; carries the GitHub access token consulted
// by the Diagnostic Engine's clone-readiness chain (spec.md §4.3).
type User struct {
	ID                string
	GitHubAccessToken *string
}
