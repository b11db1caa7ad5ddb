package storage

import (
	"context"
	stdsql "database/sql"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// ValidationRepo is the repository for the Validation State Machine's
// append-only review trail (spec.md §4.2).
type ValidationRepo struct {
	db *stdsql.DB
}

// RecordReview appends a validator's verdict for one iteration. Reviews are
// never updated or deleted; the orchestrator reads the trail back through
// ListByTask for its repeated-failure check.
func (r *ValidationRepo) RecordReview(ctx context.Context, v *ValidationReview) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO validation_reviews (
			id, task_id, validator_agent_id, iteration_number, validation_passed,
			feedback, evidence, recommendations, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		v.ID, v.TaskID, v.ValidatorAgentID, v.IterationNumber, v.ValidationPassed,
		v.Feedback, v.Evidence, pqStringArray(v.Recommendations), time.Now())
	if err != nil {
		return kerrors.Transient("storage.validation.record_review", err)
	}
	return nil
}

// LatestForTask returns the most recent review recorded for a task, or nil
// if validation has not yet started.
func (r *ValidationRepo) LatestForTask(ctx context.Context, taskID string) (*ValidationReview, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, task_id, validator_agent_id, iteration_number, validation_passed,
			feedback, evidence, recommendations, created_at
		FROM validation_reviews
		WHERE task_id = $1 ORDER BY iteration_number DESC LIMIT 1`, taskID)

	var v ValidationReview
	var recs pqStringArray
	err := row.Scan(&v.ID, &v.TaskID, &v.ValidatorAgentID, &v.IterationNumber,
		&v.ValidationPassed, &v.Feedback, &v.Evidence, &recs, &v.CreatedAt)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.Transient("storage.validation.latest_for_task", err)
	}
	v.Recommendations = []string(recs)
	return &v, nil
}

// ListByTask returns the full review history for a task, oldest first.
func (r *ValidationRepo) ListByTask(ctx context.Context, taskID string) ([]*ValidationReview, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, validator_agent_id, iteration_number, validation_passed,
			feedback, evidence, recommendations, created_at
		FROM validation_reviews WHERE task_id = $1 ORDER BY iteration_number ASC`, taskID)
	if err != nil {
		return nil, kerrors.Transient("storage.validation.list_by_task", err)
	}
	defer rows.Close()

	var reviews []*ValidationReview
	for rows.Next() {
		var v ValidationReview
		var recs pqStringArray
		if err := rows.Scan(&v.ID, &v.TaskID, &v.ValidatorAgentID, &v.IterationNumber,
			&v.ValidationPassed, &v.Feedback, &v.Evidence, &recs, &v.CreatedAt); err != nil {
			return nil, kerrors.Transient("storage.validation.list_by_task", err)
		}
		v.Recommendations = []string(recs)
		reviews = append(reviews, &v)
	}
	return reviews, rows.Err()
}
