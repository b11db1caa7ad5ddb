// Package diagnostic implements the Diagnostic Engine: stuck-workflow
// detection, its safeguards, and the recovery-task spawn pipeline
// (spec.md §4.3).
package diagnostic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/embedding"
	"github.com/taskkernel/core/internal/events"
	"github.com/taskkernel/core/internal/kerrors"
	"github.com/taskkernel/core/internal/llmgateway"
	"github.com/taskkernel/core/internal/queue"
	"github.com/taskkernel/core/internal/storage"
)

// activeStatuses are the Task.status values that count as "still working"
// for stuck-detection condition 2.
var activeStatuses = map[storage.TaskStatus]bool{
	storage.TaskPending:              true,
	storage.TaskClaiming:             true,
	storage.TaskAssigned:             true,
	storage.TaskRunning:              true,
	storage.TaskUnderReview:          true,
	storage.TaskValidationInProgress: true,
}

// DedupChecker is the subset of Dedup (§4.4) the spawn pipeline consults
// before creating a recovery task, so diagnostic doesn't import dedup
// directly.
type DedupChecker interface {
	SimilarPending(ctx context.Context, ticketID, taskType, text string, threshold float64) (*storage.Task, error)
}

// Embedder produces the embedding stored on each spawned recovery task.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const dedupDiagnosticThreshold = 0.90

// Engine evaluates tickets for stuck-workflow conditions and, when every
// safeguard clears, runs the LLM-backed diagnosis and recovery spawn
// pipeline. It satisfies validation.DiagnosticTrigger.
type Engine struct {
	tickets     *storage.TicketRepo
	tasks       *storage.TaskRepo
	workflows   *storage.WorkflowResultRepo
	diagnostics *storage.DiagnosticRepo
	discoveries *storage.DiscoveryRepo
	projects    *storage.ProjectRepo
	users       *storage.UserRepo
	queue       *queue.Manager
	dedup       DedupChecker
	embedder    Embedder
	llm         *llmgateway.Gateway
	bus         *events.Bus
	cfg         *config.DiagnosticConfig

	mu       sync.Mutex
	failures map[string]int // ticket ID -> consecutive recovery-task failure count
}

// New wires a diagnostic Engine.
func New(
	tickets *storage.TicketRepo,
	tasks *storage.TaskRepo,
	workflows *storage.WorkflowResultRepo,
	diagnostics *storage.DiagnosticRepo,
	discoveries *storage.DiscoveryRepo,
	projects *storage.ProjectRepo,
	users *storage.UserRepo,
	q *queue.Manager,
	dedup DedupChecker,
	embedder Embedder,
	llm *llmgateway.Gateway,
	bus *events.Bus,
	cfg *config.DiagnosticConfig,
) *Engine {
	return &Engine{
		tickets: tickets, tasks: tasks, workflows: workflows, diagnostics: diagnostics,
		discoveries: discoveries, projects: projects, users: users, queue: q, dedup: dedup,
		embedder: embedder, llm: llm, bus: bus, cfg: cfg,
		failures: make(map[string]int),
	}
}

// Scan evaluates every open ticket, logging and continuing past per-ticket
// failures so one bad ticket never blocks the sweep (spec.md §7 isolation).
func (e *Engine) Scan(ctx context.Context) {
	tickets, err := e.tickets.ListOpen(ctx)
	if err != nil {
		slog.Error("diagnostic scan: list open tickets", "error", err)
		return
	}
	for _, t := range tickets {
		if err := e.evaluate(ctx, t); err != nil {
			slog.Error("diagnostic scan: evaluate ticket", "ticket_id", t.ID, "error", err)
		}
	}
}

// evaluate runs stuck-detection and safeguards for one ticket, spawning
// recovery tasks when every gate clears.
func (e *Engine) evaluate(ctx context.Context, t *storage.Ticket) error {
	stuck, err := e.isStuck(ctx, t.ID)
	if err != nil || !stuck {
		return err
	}

	skip, reason, err := e.checkSafeguards(ctx, t)
	if err != nil {
		return err
	}
	if skip {
		slog.Info("diagnostic: safeguard skip", "ticket_id", t.ID, "reason", reason)
		return nil
	}

	return e.runDiagnosis(ctx, t)
}

// isStuck implements the 5-condition conjunction of spec.md §4.3.
func (e *Engine) isStuck(ctx context.Context, ticketID string) (bool, error) {
	counts, err := e.tickets.TaskCounts(ctx, ticketID)
	if err != nil {
		return false, err
	}
	total := 0
	active := 0
	for status, n := range counts {
		total += n
		if activeStatuses[status] {
			active += n
		}
	}
	if total == 0 || active > 0 {
		return false, nil
	}

	results, err := e.workflows.ListByTicket(ctx, ticketID)
	if err != nil {
		return false, err
	}
	for _, r := range results {
		if r.Status == storage.WorkflowResultValidated {
			return false, nil
		}
	}

	lastActivity, err := e.tasks.LastActivityAt(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if lastActivity == nil || time.Since(*lastActivity) < e.cfg.StuckThreshold {
		return false, nil
	}

	last, err := e.diagnostics.LastForWorkflow(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if last != nil && last.CompletedAt != nil && time.Since(*last.CompletedAt) < e.cfg.Cooldown {
		return false, nil
	}

	return true, nil
}

// checkSafeguards implements the bullet list of spec.md §4.3. It returns
// skip=true with a human-readable reason the first safeguard that fires.
func (e *Engine) checkSafeguards(ctx context.Context, t *storage.Ticket) (skip bool, reason string, err error) {
	counts, err := e.tickets.TaskCounts(ctx, t.ID)
	if err != nil {
		return false, "", err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 && counts[storage.TaskCompleted] == total {
		return true, "all tasks completed, zero failed: workflow succeeded", nil
	}

	tasks, err := e.tasks.ListByTicket(ctx, t.ID)
	if err != nil {
		return false, "", err
	}
	diagnosticCompleted, diagnosticActive := false, false
	nonDiagnosticFailed := false
	for _, task := range tasks {
		isDiagnostic := isDiscoveryDiagnosticType(task.TaskType)
		switch {
		case isDiagnostic && task.Status == storage.TaskCompleted:
			diagnosticCompleted = true
		case isDiagnostic && activeStatuses[task.Status]:
			diagnosticActive = true
		case !isDiagnostic && task.Status == storage.TaskFailed:
			nonDiagnosticFailed = true
		}
	}
	if diagnosticCompleted && nonDiagnosticFailed {
		return true, "diagnostic task already completed and a non-diagnostic task still failed: needs human review", nil
	}
	if diagnosticActive {
		return true, "a diagnostic task is already in flight", nil
	}

	e.mu.Lock()
	failureStreak := e.failures[t.ID]
	e.mu.Unlock()
	if failureStreak >= e.cfg.MaxConsecutiveFailures {
		return true, "consecutive-failure counter at max", nil
	}

	runCount, err := e.diagnostics.CountSince(ctx, t.ID, time.Time{})
	if err != nil {
		return false, "", err
	}
	if runCount >= e.cfg.MaxDiagnosticsPerWorkflow {
		return true, "max diagnostic runs reached for this workflow", nil
	}

	if ok, err := e.cloneReady(ctx, t); err != nil {
		return false, "", err
	} else if !ok {
		return true, "clone-readiness chain unsatisfied", nil
	}

	return false, "", nil
}

// cloneReady walks ticket -> project -> project.owner -> owner's GitHub
// token. A ticket with no project link skips deliberately: ownership is
// ambiguous in multi-tenant setups, so diagnostic never auto-attaches one.
func (e *Engine) cloneReady(ctx context.Context, t *storage.Ticket) (bool, error) {
	if t.ProjectID == nil || *t.ProjectID == "" {
		return false, nil
	}
	project, err := e.projects.Get(ctx, *t.ProjectID)
	if err != nil {
		if kerrors.Is(err, kerrors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	owner, err := e.users.Get(ctx, project.OwnerID)
	if err != nil {
		if kerrors.Is(err, kerrors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return owner.GitHubAccessToken != nil && *owner.GitHubAccessToken != "", nil
}

// runDiagnosis builds the diagnostic context, calls the LLM gateway for a
// DiagnosticAnalysis, and spawns bounded recovery tasks (spec.md §4.3
// spawn pipeline).
func (e *Engine) runDiagnosis(ctx context.Context, t *storage.Ticket) error {
	run := &storage.DiagnosticRun{ID: uuid.NewString(), WorkflowID: t.ID}
	tasks, err := e.tasks.ListByTicket(ctx, t.ID)
	if err != nil {
		return err
	}
	run.TaskCountAtTrigger = len(tasks)

	if err := e.diagnostics.Start(ctx, run); err != nil {
		return err
	}
	e.bus.Publish(events.SystemEvent{
		Type:     events.EventDiagnosticTriggered,
		EntityID: t.ID,
		Payload:  events.DiagnosticTriggeredPayload{DiagnosticRunID: run.ID, WorkflowID: t.ID, TaskCountAtTrigger: run.TaskCountAtTrigger},
	})

	analysis, err := e.analyze(ctx, t, tasks)
	if err != nil {
		_ = e.diagnostics.Skip(ctx, run.ID, fmt.Sprintf("analysis failed: %v", err))
		e.recordOutcome(t.ID, false)
		return err
	}

	diagText := analysis.RootCause
	similar, err := e.dedup.SimilarPending(ctx, t.ID, discoveryDiagnosticNoResultType, diagText, dedupDiagnosticThreshold)
	if err != nil {
		slog.Warn("diagnostic: dedup check failed, proceeding without it", "ticket_id", t.ID, "error", err)
	}
	if similar != nil {
		_ = e.diagnostics.Skip(ctx, run.ID, "semantically similar recovery task already pending")
		e.publishCompleted(run.ID, t.ID, "semantically similar recovery task already pending", nil)
		return nil
	}

	createdIDs, err := e.spawnRecoveryTasks(ctx, t, tasks, analysis)
	if err != nil {
		_ = e.diagnostics.Skip(ctx, run.ID, fmt.Sprintf("spawn failed: %v", err))
		e.recordOutcome(t.ID, false)
		return err
	}

	if err := e.diagnostics.Complete(ctx, run.ID, diagText, createdIDs); err != nil {
		return err
	}
	e.recordOutcome(t.ID, true)
	e.publishCompleted(run.ID, t.ID, diagText, createdIDs)
	return nil
}

func (e *Engine) publishCompleted(runID, ticketID, diagnosis string, createdIDs []string) {
	e.bus.Publish(events.SystemEvent{
		Type:     events.EventDiagnosticCompleted,
		EntityID: ticketID,
		Payload: events.DiagnosticCompletedPayload{
			DiagnosticRunID: runID, WorkflowID: ticketID, Diagnosis: diagnosis, TasksCreatedIDs: createdIDs,
		},
	})
}

// analyze builds the diagnostic context (goal, phase distribution, recent
// task summaries, submission history) and asks the LLM gateway for a
// DiagnosticAnalysis.
func (e *Engine) analyze(ctx context.Context, t *storage.Ticket, tasks []*storage.Task) (*llmgateway.DiagnosticAnalysis, error) {
	prompt := buildDiagnosticPrompt(t, tasks)
	var analysis llmgateway.DiagnosticAnalysis
	err := e.llm.StructuredOutput(ctx, diagnosticSystemPrompt, prompt, &analysis)
	return &analysis, err
}

// spawnRecoveryTasks creates up to MaxRecoveryTasks discovery-branch tasks
// from the analysis's recommendations, embeds each, and links them back to
// the triggering discovery record.
func (e *Engine) spawnRecoveryTasks(ctx context.Context, t *storage.Ticket, ticketTasks []*storage.Task, analysis *llmgateway.DiagnosticAnalysis) ([]string, error) {
	recs := analysis.Recommendations
	sort.SliceStable(recs, func(i, j int) bool { return priorityRank(recs[i].Priority) > priorityRank(recs[j].Priority) })
	if len(recs) > e.cfg.MaxRecoveryTasks {
		recs = recs[:e.cfg.MaxRecoveryTasks]
	}

	source := mostRecentFailedTask(ticketTasks)
	if source == nil {
		return nil, kerrors.Invariant("diagnostic.spawn_recovery_tasks", fmt.Errorf("no failed task to anchor the discovery edge on ticket %s", t.ID))
	}

	discovery := &storage.TaskDiscovery{
		ID:            uuid.NewString(),
		SourceTaskID:  source.ID,
		DiscoveryType: discoveryDiagnosticNoResultType,
		Description:   analysis.RootCause,
		PriorityBoost: true,
	}
	if err := e.discoveries.Create(ctx, discovery); err != nil {
		return nil, err
	}

	var createdIDs []string
	for _, rec := range recs {
		task, err := e.queue.Enqueue(ctx, queue.EnqueueParams{
			TicketID:    t.ID,
			PhaseID:     t.PhaseID,
			TaskType:    "discovery_" + discoveryDiagnosticNoResultType,
			Description: rec.Action,
			Priority:    storage.PriorityHigh,
		})
		if err != nil {
			slog.Error("diagnostic: spawn recovery task", "ticket_id", t.ID, "error", err)
			continue
		}
		if vec, err := e.embedder.Embed(ctx, rec.Action); err == nil {
			hash := embedding.ContentHash(rec.Action)
			_ = e.tasks.SetEmbedding(ctx, task.ID, vec, hash)
		}
		createdIDs = append(createdIDs, task.ID)
	}

	if err := e.discoveries.AttachSpawnedTasks(ctx, discovery.ID, createdIDs); err != nil {
		return nil, err
	}
	return createdIDs, nil
}

// mostRecentFailedTask anchors the discovery edge task_discoveries rows
// require (source_task_id NOT NULL); the diagnostic run is ticket-scoped,
// so the most recently failed task stands in for "the task that triggered
// this investigation".
func mostRecentFailedTask(tasks []*storage.Task) *storage.Task {
	var latest *storage.Task
	for _, task := range tasks {
		if task.Status != storage.TaskFailed {
			continue
		}
		if latest == nil || task.UpdatedAt.After(latest.UpdatedAt) {
			latest = task
		}
	}
	return latest
}

// recordOutcome updates the in-memory consecutive-failure counter per
// spec.md §4.3: record_failure increments, record_success clears.
func (e *Engine) recordOutcome(ticketID string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if success {
		delete(e.failures, ticketID)
	} else {
		e.failures[ticketID]++
	}
}

// TriggerRepeatedFailures is called by the Validation Orchestrator when a
// task's last two reviews both failed. It folds directly into the
// consecutive-failure counter the stuck-detection safeguard consults.
func (e *Engine) TriggerRepeatedFailures(ctx context.Context, ticketID string, consecutiveFailures int) {
	e.mu.Lock()
	if consecutiveFailures > e.failures[ticketID] {
		e.failures[ticketID] = consecutiveFailures
	}
	e.mu.Unlock()
}

// TriggerValidatorTimeout is called when a validator misses its heartbeat
// deadline mid-review; treated as a failure for counter purposes.
func (e *Engine) TriggerValidatorTimeout(ctx context.Context, ticketID, taskID string) {
	e.recordOutcome(ticketID, false)
}

func priorityRank(p string) int {
	switch p {
	case "critical":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

func isDiscoveryDiagnosticType(taskType string) bool {
	return taskType == "discovery_"+discoveryDiagnosticNoResultType
}

const discoveryDiagnosticNoResultType = "diagnostic_no_result"

const diagnosticSystemPrompt = "You are the diagnostic engine for an autonomous task orchestration system. " +
	"Analyze why this workflow has stalled and recommend concrete recovery tasks."
