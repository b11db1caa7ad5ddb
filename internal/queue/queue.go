// Package queue implements the Task Queue: enqueue, atomic claim, score
// recomputation, retry, and the claim-reaper sweep (spec.md §4.1).
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/events"
	"github.com/taskkernel/core/internal/kerrors"
	"github.com/taskkernel/core/internal/metrics"
	"github.com/taskkernel/core/internal/scoring"
	"github.com/taskkernel/core/internal/storage"
)

// Manager is the Task Queue: it owns score computation, atomic claim, and
// the background claim-reaper sweep.
type Manager struct {
	tasks   *storage.TaskRepo
	tickets *storage.TicketRepo
	scorer  *scoring.Scorer
	bus     *events.Bus
	cfg     *config.QueueConfig
	metrics *metrics.Registry
}

// New constructs a queue Manager.
func New(tasks *storage.TaskRepo, tickets *storage.TicketRepo, scorer *scoring.Scorer, bus *events.Bus, cfg *config.QueueConfig) *Manager {
	return &Manager{tasks: tasks, tickets: tickets, scorer: scorer, bus: bus, cfg: cfg}
}

// SetMetrics wires a metrics.Registry for claim latency and queue depth
// reporting. Safe to leave unset; a nil registry just skips recording.
func (m *Manager) SetMetrics(r *metrics.Registry) {
	m.metrics = r
}

// ReportDepth refreshes the queue_depth gauge from the current pending
// count per priority. Intended to be called on a timer.
func (m *Manager) ReportDepth(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	counts, err := m.tasks.CountPendingByPriority(ctx)
	if err != nil {
		slog.Warn("queue: depth report failed", "error", err)
		return
	}
	for _, p := range []storage.Priority{storage.PriorityLow, storage.PriorityMedium, storage.PriorityHigh, storage.PriorityCritical} {
		m.metrics.QueueDepth.WithLabelValues(string(p)).Set(float64(counts[p]))
	}
}

// EnqueueParams is the input to Enqueue.
type EnqueueParams struct {
	TicketID    string
	PhaseID     string
	TaskType    string
	Description string
	Priority    storage.Priority
	DependsOn   []string
	Deadline    *time.Time
	OwnedFiles  []string
	MaxRetries  int
}

// Enqueue persists a new task with status=pending, computes its initial
// score, and publishes task.created (spec.md §4.1 enqueue).
func (m *Manager) Enqueue(ctx context.Context, p EnqueueParams) (*storage.Task, error) {
	if p.TicketID == "" || p.Description == "" {
		return nil, kerrors.Validationf("queue.enqueue", "ticket_id and description are required")
	}
	maxRetries := p.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	now := time.Now()
	task := &storage.Task{
		ID:          uuid.NewString(),
		TicketID:    p.TicketID,
		PhaseID:     p.PhaseID,
		TaskType:    p.TaskType,
		Description: p.Description,
		Priority:    p.Priority,
		Status:      storage.TaskPending,
		MaxRetries:  maxRetries,
		DeadlineAt:  p.Deadline,
		OwnedFiles:  p.OwnedFiles,
		Dependencies: storage.Dependencies{
			DependsOn: p.DependsOn,
		},
		CreatedAt: now,
	}
	task.Score = m.scorer.Score(scoring.Input{
		Priority:   task.Priority,
		CreatedAt:  now,
		DeadlineAt: task.DeadlineAt,
		MaxRetries: task.MaxRetries,
		Now:        now,
	})

	if err := m.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	if err := m.tasks.UpdateScore(ctx, task.ID, task.Score); err != nil {
		slog.Warn("queue: initial score write failed", "task_id", task.ID, "error", err)
	}

	m.bus.Publish(events.SystemEvent{
		Type:      events.EventTaskCreated,
		EntityID:  task.ID,
		Payload:   task,
		CreatedAt: now,
	})
	return task, nil
}

// NextReady atomically claims the highest-scored ready task for phaseID,
// transitioning it pending → claiming with no agent bound yet. The caller
// must follow up with FinalizeClaim within ClaimTTL, or call ReleaseClaim
// itself, or the background reaper reverts the claim to pending (spec.md
// §4.1, §5).
func (m *Manager) NextReady(ctx context.Context, phaseID string) (*storage.Task, error) {
	task, err := m.tasks.ClaimNext(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.ObserveClaimLatency(task.TaskType, task.CreatedAt)
	}
	m.bus.Publish(events.SystemEvent{
		Type:      events.EventTaskClaimed,
		EntityID:  task.ID,
		Payload:   task,
		CreatedAt: time.Now(),
	})
	return task, nil
}

// FinalizeClaim completes the claim protocol for a task this scheduler tick
// has successfully dispatched to agentID, transitioning claiming → assigned
// (spec.md §4.1/§5).
func (m *Manager) FinalizeClaim(ctx context.Context, taskID, agentID string) error {
	if err := m.tasks.FinalizeClaim(ctx, taskID, agentID); err != nil {
		return err
	}
	m.bus.Publish(events.SystemEvent{
		Type:      events.EventTaskStatusChanged,
		EntityID:  taskID,
		Payload:   storage.TaskAssigned,
		CreatedAt: time.Now(),
	})
	return nil
}

// ReleaseClaim reverts a claiming task back to pending immediately, for a
// caller that decides not to dispatch it (e.g. no agent could be spawned)
// rather than leaving it for the reaper to notice after ClaimTTL.
func (m *Manager) ReleaseClaim(ctx context.Context, taskID string) error {
	if err := m.tasks.ReleaseClaim(ctx, taskID); err != nil {
		return err
	}
	m.bus.Publish(events.SystemEvent{
		Type:      events.EventTaskStatusChanged,
		EntityID:  taskID,
		Payload:   storage.TaskPending,
		CreatedAt: time.Now(),
	})
	return nil
}

// ReadyTasks returns the read-only score-desc ready view for phaseID.
func (m *Manager) ReadyTasks(ctx context.Context, phaseID string, limit int) ([]*storage.Task, error) {
	return m.tasks.ListReady(ctx, phaseID, limit)
}

// UpdateStatus transitions a task's status. Callers outside internal/queue
// that need state-machine enforcement should go through
// internal/validation instead; this is the raw write the orchestrator uses
// once it has validated a transition.
func (m *Manager) UpdateStatus(ctx context.Context, taskID string, status storage.TaskStatus) error {
	if err := m.tasks.UpdateStatus(ctx, taskID, status); err != nil {
		return err
	}
	m.bus.Publish(events.SystemEvent{
		Type:      events.EventTaskStatusChanged,
		EntityID:  taskID,
		Payload:   status,
		CreatedAt: time.Now(),
	})
	return nil
}

// MarkFailed increments retry_count via IncrementRetry when budget remains,
// otherwise terminally fails the task (spec.md §4.1 retry, §8 boundary: a
// task at retry_count==max_retries that fails transitions to failed, not
// pending).
func (m *Manager) MarkFailed(ctx context.Context, task *storage.Task, errMsg string) error {
	if task.RetryCount < task.MaxRetries {
		if err := m.tasks.IncrementRetry(ctx, task.ID); err != nil {
			return err
		}
		task.RetryCount++
		task.Status = storage.TaskPending
		newScore := m.scorer.ScoreTask(task, 0)
		if err := m.tasks.UpdateScore(ctx, task.ID, newScore); err != nil {
			slog.Warn("queue: score recompute on retry failed", "task_id", task.ID, "error", err)
		}
		m.bus.Publish(events.SystemEvent{Type: events.EventTaskRetried, EntityID: task.ID, Payload: errMsg, CreatedAt: time.Now()})
		return nil
	}

	if err := m.tasks.MarkFailed(ctx, task.ID, errMsg); err != nil {
		return err
	}
	m.bus.Publish(events.SystemEvent{Type: events.EventTaskFailed, EntityID: task.ID, Payload: errMsg, CreatedAt: time.Now()})
	return nil
}

// RecomputeScores refreshes every pending task's score for ticketID (or
// every ticket when ticketID is empty), logging and skipping individual
// failures per the isolation policy of spec.md §4.1/§7.
func (m *Manager) RecomputeScores(ctx context.Context, ticketID string) {
	var ticketIDs []string
	if ticketID != "" {
		ticketIDs = []string{ticketID}
	} else {
		tickets, err := m.tickets.ListOpen(ctx)
		if err != nil {
			slog.Warn("queue: recompute_scores failed listing open tickets", "error", err)
			return
		}
		for _, t := range tickets {
			ticketIDs = append(ticketIDs, t.ID)
		}
	}

	for _, tid := range ticketIDs {
		m.recomputeTicketScores(ctx, tid)
	}
}

func (m *Manager) recomputeTicketScores(ctx context.Context, ticketID string) {
	tasks, err := m.tasks.ListByTicket(ctx, ticketID)
	if err != nil {
		slog.Warn("queue: recompute_scores failed listing tasks", "ticket_id", ticketID, "error", err)
		return
	}
	dependents, err := m.tasks.DependentCounts(ctx, ticketID)
	if err != nil {
		slog.Warn("queue: recompute_scores failed counting dependents", "ticket_id", ticketID, "error", err)
		dependents = map[string]int{}
	}

	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		score := m.scorer.ScoreTask(t, dependents[t.ID])
		if err := m.tasks.UpdateScore(ctx, t.ID, score); err != nil {
			slog.Warn("queue: score write failed, leaving stale score", "task_id", t.ID, "error", err)
			continue
		}
	}
}

// ReapExpiredClaims reverts tasks stuck in claiming (never finalized to
// assigned) past ClaimTTL back to pending. Intended to be called on a timer
// by the claim-reaper tick.
func (m *Manager) ReapExpiredClaims(ctx context.Context) {
	ids, err := m.tasks.ReapExpiredClaims(ctx, m.cfg.ClaimTTL)
	if err != nil {
		slog.Warn("queue: claim reaper sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		m.bus.Publish(events.SystemEvent{
			Type:      events.EventTaskStatusChanged,
			EntityID:  id,
			Payload:   storage.TaskPending,
			CreatedAt: time.Now(),
		})
	}
}

// RunClaimReaper ticks ReapExpiredClaims on cfg.ClaimReaperInterval until ctx
// is cancelled.
func (m *Manager) RunClaimReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ClaimReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapExpiredClaims(ctx)
		}
	}
}

// RunScoreRecompute ticks RecomputeScores on cfg.ScoreRecomputeInterval until
// ctx is cancelled.
func (m *Manager) RunScoreRecompute(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ScoreRecomputeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RecomputeScores(ctx, "")
		}
	}
}
