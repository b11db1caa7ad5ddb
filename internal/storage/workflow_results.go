package storage

import (
	"context"
	stdsql "database/sql"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// WorkflowResultRepo is the repository for workflow-level submissions.
type WorkflowResultRepo struct {
	db *stdsql.DB
}

// Create records a new workflow-level submission in WorkflowResultSubmitted
// status.
func (r *WorkflowResultRepo) Create(ctx context.Context, w *WorkflowResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_results (id, ticket_id, status, markdown_file_path, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		w.ID, w.TicketID, WorkflowResultSubmitted, w.MarkdownFilePath, time.Now())
	if err != nil {
		return kerrors.Transient("storage.workflow_results.create", err)
	}
	return nil
}

// UpdateStatus records the outcome of validating a workflow-level result.
func (r *WorkflowResultRepo) UpdateStatus(ctx context.Context, id string, status WorkflowResultStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE workflow_results SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return kerrors.Transient("storage.workflow_results.update_status", err)
	}
	return mustAffectOne(res, "storage.workflow_results.update_status", id)
}

// ListByTicket returns every submission for a ticket, newest first.
func (r *WorkflowResultRepo) ListByTicket(ctx context.Context, ticketID string) ([]*WorkflowResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_id, status, markdown_file_path, created_at
		FROM workflow_results WHERE ticket_id = $1 ORDER BY created_at DESC`, ticketID)
	if err != nil {
		return nil, kerrors.Transient("storage.workflow_results.list_by_ticket", err)
	}
	defer rows.Close()

	var results []*WorkflowResult
	for rows.Next() {
		var w WorkflowResult
		if err := rows.Scan(&w.ID, &w.TicketID, &w.Status, &w.MarkdownFilePath, &w.CreatedAt); err != nil {
			return nil, kerrors.Transient("storage.workflow_results.list_by_ticket", err)
		}
		results = append(results, &w)
	}
	return results, rows.Err()
}
