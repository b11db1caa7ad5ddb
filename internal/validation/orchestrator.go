// Package validation implements the Validation Orchestrator: the per-task
// review state machine, single-active-validator enforcement, and the
// validator-timeout sweep (spec.md §4.2).
package validation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/events"
	"github.com/taskkernel/core/internal/kerrors"
	"github.com/taskkernel/core/internal/storage"
)

// DiagnosticTrigger is the subset of the Diagnostic Engine the orchestrator
// calls into on repeated failures or a validator timeout. Defined here as
// an interface (rather than importing internal/diagnostic) so the two
// packages don't form an import cycle; internal/diagnostic's Engine
// satisfies it structurally.
type DiagnosticTrigger interface {
	TriggerRepeatedFailures(ctx context.Context, ticketID string, consecutiveFailures int)
	TriggerValidatorTimeout(ctx context.Context, ticketID, taskID string)
}

// ACEInvoker runs the Executor/Reflector/Curator pipeline for a task that
// just passed validation. Defined as an interface for the same reason as
// DiagnosticTrigger: internal/ace.Pipeline satisfies it structurally.
type ACEInvoker interface {
	Run(ctx context.Context, taskID string) error
}

// Orchestrator owns the per-task validation state machine.
type Orchestrator struct {
	tasks       *storage.TaskRepo
	tickets     *storage.TicketRepo
	validations *storage.ValidationRepo
	agents      *storage.AgentRepo
	bus         *events.Bus
	cfg         *config.ValidationConfig
	active      *activeValidators
	diag        DiagnosticTrigger
	ace         ACEInvoker
}

// New constructs an Orchestrator. diag and ace may be nil in tests that
// don't exercise the repeated-failure or ACE-invocation paths.
func New(tasks *storage.TaskRepo, tickets *storage.TicketRepo, validations *storage.ValidationRepo,
	agents *storage.AgentRepo, bus *events.Bus, cfg *config.ValidationConfig, diag DiagnosticTrigger, ace ACEInvoker) *Orchestrator {
	return &Orchestrator{
		tasks: tasks, tickets: tickets, validations: validations, agents: agents,
		bus: bus, cfg: cfg, active: newActiveValidators(), diag: diag, ace: ace,
	}
}

// Submit transitions a running task to under_review (and, when validation
// is enabled, straight on to validation_in_progress with a validator
// spawned). commitSHA is required when task.ValidationEnabled (spec.md
// §4.2 invariants).
func (o *Orchestrator) Submit(ctx context.Context, taskID, commitSHA, validatorAgentID string) error {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != storage.TaskRunning {
		return kerrors.Validationf("validation.submit", "task %s is %s, not running", taskID, task.Status)
	}
	if task.ValidationEnabled && commitSHA == "" {
		return kerrors.Validationf("validation.submit", "commit_sha required to enter under_review")
	}

	if err := o.tasks.UpdateStatus(ctx, taskID, storage.TaskUnderReview); err != nil {
		return err
	}
	o.bus.Publish(events.SystemEvent{Type: events.EventValidationStarted, EntityID: taskID, CreatedAt: time.Now()})

	if !task.ValidationEnabled {
		return nil
	}
	return o.spawnValidator(ctx, taskID, validatorAgentID)
}

func (o *Orchestrator) spawnValidator(ctx context.Context, taskID, validatorAgentID string) error {
	if !o.active.Acquire(taskID, validatorAgentID) {
		return kerrors.Validationf("validation.spawn_validator", "task %s already has an active validator", taskID)
	}
	if err := o.tasks.UpdateStatus(ctx, taskID, storage.TaskValidationInProgress); err != nil {
		o.active.Release(taskID)
		return err
	}
	return nil
}

// GiveReview records a validator's verdict and transitions the task per
// spec.md §4.2. Only an agent of type "validator" may call it.
func (o *Orchestrator) GiveReview(ctx context.Context, agentType, taskID, validatorAgentID string, pass bool, feedback string, evidence []byte, recommendations []string) error {
	if agentType != "validator" {
		return kerrors.Permissionf("validation.give_review", "agent type %q may not submit reviews", agentType)
	}
	if !pass && feedback == "" {
		return kerrors.Validationf("validation.give_review", "feedback required on a failing review")
	}

	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != storage.TaskValidationInProgress {
		return kerrors.Validationf("validation.give_review", "task %s is %s, not validation_in_progress", taskID, task.Status)
	}

	review := &storage.ValidationReview{
		ID:                uuid.NewString(),
		TaskID:            taskID,
		ValidatorAgentID:  validatorAgentID,
		IterationNumber:   task.ValidationIteration,
		ValidationPassed:  pass,
		Feedback:          feedback,
		Evidence:          evidence,
		Recommendations:   recommendations,
	}
	if err := o.validations.RecordReview(ctx, review); err != nil {
		return err
	}
	o.active.Release(taskID)

	o.bus.Publish(events.SystemEvent{
		Type:     events.EventValidationReviewSubmitted,
		EntityID: taskID,
		Payload: events.ValidationResultPayload{
			TaskID: taskID, IterationNumber: review.IterationNumber, Passed: pass,
			Feedback: feedback, Recommendations: recommendations,
		},
		CreatedAt: time.Now(),
	})

	if pass {
		return o.handlePass(ctx, task)
	}
	return o.handleFail(ctx, task, feedback)
}

func (o *Orchestrator) handlePass(ctx context.Context, task *storage.Task) error {
	if err := o.tasks.UpdateStatus(ctx, task.ID, storage.TaskCompleted); err != nil {
		return err
	}
	o.bus.Publish(events.SystemEvent{Type: events.EventValidationPassed, EntityID: task.ID, CreatedAt: time.Now()})

	if o.ace == nil {
		return nil
	}
	if err := o.ace.Run(ctx, task.ID); err != nil {
		slog.Warn("validation: ACE pipeline failed after validation pass", "task_id", task.ID, "error", err)
	}
	return nil
}

func (o *Orchestrator) handleFail(ctx context.Context, task *storage.Task, feedback string) error {
	if err := o.tasks.UpdateStatus(ctx, task.ID, storage.TaskNeedsWork); err != nil {
		return err
	}
	o.bus.Publish(events.SystemEvent{Type: events.EventValidationFailed, EntityID: task.ID, CreatedAt: time.Now()})

	if o.diag == nil {
		return nil
	}
	reviews, err := o.validations.ListByTask(ctx, task.ID)
	if err != nil {
		slog.Warn("validation: failed listing reviews for repeated-failure check", "task_id", task.ID, "error", err)
		return nil
	}
	if consecutive := trailingFailureStreak(reviews); consecutive >= 2 {
		o.diag.TriggerRepeatedFailures(ctx, task.TicketID, consecutive)
	}
	return nil
}

// trailingFailureStreak counts consecutive failed reviews at the tail of
// the (oldest-first) review history.
func trailingFailureStreak(reviews []*storage.ValidationReview) int {
	streak := 0
	for i := len(reviews) - 1; i >= 0; i-- {
		if reviews[i].ValidationPassed {
			break
		}
		streak++
	}
	return streak
}

// Resume transitions a needs_work task back to running, the external-resume
// edge of spec.md §4.2.
func (o *Orchestrator) Resume(ctx context.Context, taskID string) error {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != storage.TaskNeedsWork {
		return kerrors.Validationf("validation.resume", "task %s is %s, not needs_work", taskID, task.Status)
	}
	return o.tasks.UpdateStatus(ctx, taskID, storage.TaskRunning)
}

// SendFeedback publishes agent.validation_feedback for delivery to the
// target agent's message injection sink. Returns true iff the agent exists
// (spec.md §4.2 send_feedback).
func (o *Orchestrator) SendFeedback(ctx context.Context, agentID, text string) (bool, error) {
	if _, err := o.agents.Get(ctx, agentID); err != nil {
		if kerrors.Is(err, kerrors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	o.bus.Publish(events.SystemEvent{
		Type:      events.EventAgentValidationFeedback,
		EntityID:  agentID,
		Payload:   events.AgentFeedbackPayload{AgentID: agentID, Text: text},
		CreatedAt: time.Now(),
	})
	return true, nil
}

// RunTimeoutSweep inspects every active validator: if its agent's last
// heartbeat predates cfg.ValidatorTimeout, the task fails and a
// timeout-triggered diagnostic is spawned (spec.md §4.2).
func (o *Orchestrator) RunTimeoutSweep(ctx context.Context) {
	cutoff := time.Now().Add(-o.cfg.ValidatorTimeout)
	stale, err := o.agents.ListStaleHeartbeats(ctx, cutoff)
	if err != nil {
		slog.Warn("validation: timeout sweep failed listing stale agents", "error", err)
		return
	}
	staleSet := make(map[string]bool, len(stale))
	for _, a := range stale {
		staleSet[a.ID] = true
	}

	for taskID, agentID := range o.active.Snapshot() {
		if !staleSet[agentID] {
			continue
		}
		o.timeoutTask(ctx, taskID)
	}
}

func (o *Orchestrator) timeoutTask(ctx context.Context, taskID string) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		slog.Warn("validation: timeout sweep could not load task", "task_id", taskID, "error", err)
		return
	}
	if err := o.tasks.MarkFailed(ctx, taskID, "validation timeout"); err != nil {
		slog.Warn("validation: timeout sweep could not fail task", "task_id", taskID, "error", err)
		return
	}
	o.active.Release(taskID)
	o.bus.Publish(events.SystemEvent{Type: events.EventValidationTimedOut, EntityID: taskID, CreatedAt: time.Now()})

	if o.diag != nil {
		o.diag.TriggerValidatorTimeout(ctx, task.TicketID, taskID)
	}
}

// RunTimeoutSweepLoop ticks RunTimeoutSweep on cfg.TimeoutSweepInterval
// until ctx is cancelled.
func (o *Orchestrator) RunTimeoutSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.TimeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunTimeoutSweep(ctx)
		}
	}
}
