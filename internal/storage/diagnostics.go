package storage

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// DiagnosticRepo is the repository for Diagnostic Engine run records
// (spec.md §4.3).
type DiagnosticRepo struct {
	db *stdsql.DB
}

const diagnosticRunColumns = `
	id, workflow_id, triggered_at, completed_at, task_count_at_trigger,
	phases_analyzed, agents_reviewed, diagnosis, tasks_created_count,
	tasks_created_ids, status`

func scanDiagnosticRun(row rowScanner) (*DiagnosticRun, error) {
	var d DiagnosticRun
	var phases, agents, createdIDs pqStringArray
	err := row.Scan(&d.ID, &d.WorkflowID, &d.TriggeredAt, &d.CompletedAt,
		&d.TaskCountAtTrigger, &phases, &agents, &d.Diagnosis,
		&d.TasksCreatedCount, &createdIDs, &d.Status)
	if err != nil {
		return nil, err
	}
	d.PhasesAnalyzed = []string(phases)
	d.AgentsReviewed = []string(agents)
	d.TasksCreatedIDs = []string(createdIDs)
	return &d, nil
}

// Start records a new diagnostic run in DiagnosticRunning status.
func (r *DiagnosticRepo) Start(ctx context.Context, d *DiagnosticRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO diagnostic_runs (
			id, workflow_id, triggered_at, task_count_at_trigger, status
		) VALUES ($1,$2,$3,$4,$5)`,
		d.ID, d.WorkflowID, time.Now(), d.TaskCountAtTrigger, DiagnosticRunning)
	if err != nil {
		return kerrors.Transient("storage.diagnostics.start", err)
	}
	return nil
}

// Complete records a run's diagnosis and the recovery tasks it spawned,
// enforcing the MaxRecoveryTasks bound at the call site (internal/diagnostic).
func (r *DiagnosticRepo) Complete(ctx context.Context, id, diagnosis string, createdIDs []string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE diagnostic_runs SET
			completed_at = $1, diagnosis = $2, tasks_created_count = $3,
			tasks_created_ids = $4, status = $5
		WHERE id = $6`,
		time.Now(), diagnosis, len(createdIDs), pqStringArray(createdIDs), DiagnosticCompleted, id)
	if err != nil {
		return kerrors.Transient("storage.diagnostics.complete", err)
	}
	return mustAffectOne(res, "storage.diagnostics.complete", id)
}

// Skip records that a run was short-circuited by a safeguard without
// spawning recovery tasks (spec.md §4.3 safeguards).
func (r *DiagnosticRepo) Skip(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE diagnostic_runs SET completed_at = $1, diagnosis = $2, status = $3 WHERE id = $4`,
		time.Now(), reason, DiagnosticSkipped, id)
	if err != nil {
		return kerrors.Transient("storage.diagnostics.skip", err)
	}
	return mustAffectOne(res, "storage.diagnostics.skip", id)
}

// CountSince returns how many diagnostic runs a workflow has had since t,
// backing the MaxDiagnosticsPerWorkflow safeguard.
func (r *DiagnosticRepo) CountSince(ctx context.Context, workflowID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM diagnostic_runs WHERE workflow_id = $1 AND triggered_at >= $2`,
		workflowID, since).Scan(&n)
	if err != nil {
		return 0, kerrors.Transient("storage.diagnostics.count_since", err)
	}
	return n, nil
}

// LastForWorkflow returns the most recent diagnostic run for a workflow, or
// nil if none exists, backing the cooldown safeguard.
func (r *DiagnosticRepo) LastForWorkflow(ctx context.Context, workflowID string) (*DiagnosticRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+diagnosticRunColumns+` FROM diagnostic_runs
		WHERE workflow_id = $1 ORDER BY triggered_at DESC LIMIT 1`, workflowID)
	d, err := scanDiagnosticRun(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.Transient("storage.diagnostics.last_for_workflow", err)
	}
	return d, nil
}
