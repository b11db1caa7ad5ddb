package storage

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// TicketRepo is the repository for ticket (workflow) aggregates.
type TicketRepo struct {
	db *stdsql.DB
}

func scanTicket(row rowScanner) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.PhaseID, &t.Status, &t.Priority, &t.ProjectID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const ticketColumns = `id, title, description, phase_id, status, priority, project_id, created_at`

// Create inserts a new ticket in TicketOpen status.
func (r *TicketRepo) Create(ctx context.Context, t *Ticket) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tickets (id, title, description, phase_id, status, priority, project_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.Title, t.Description, t.PhaseID, t.Status, t.Priority, t.ProjectID, time.Now())
	if err != nil {
		return kerrors.Transient("storage.tickets.create", err)
	}
	return nil
}

// Get fetches a ticket by ID.
func (r *TicketRepo) Get(ctx context.Context, id string) (*Ticket, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, kerrors.NotFoundf("storage.tickets.get", "ticket %s not found", id)
	}
	if err != nil {
		return nil, kerrors.Transient("storage.tickets.get", err)
	}
	return t, nil
}

// UpdateStatus moves a ticket through its status enum.
func (r *TicketRepo) UpdateStatus(ctx context.Context, id string, status TicketStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tickets SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return kerrors.Transient("storage.tickets.update_status", err)
	}
	return mustAffectOne(res, "storage.tickets.update_status", id)
}

// ListOpen returns every ticket not yet done, for the diagnostic scan.
func (r *TicketRepo) ListOpen(ctx context.Context) ([]*Ticket, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE status != $1`, TicketDone)
	if err != nil {
		return nil, kerrors.Transient("storage.tickets.list_open", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, kerrors.Transient("storage.tickets.list_open", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// TaskCounts returns the number of tasks per status for a ticket, used by
// the Diagnostic Engine's stuck-workflow predicate (spec.md §4.3).
func (r *TicketRepo) TaskCounts(ctx context.Context, ticketID string) (map[TaskStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, count(*) FROM tasks WHERE ticket_id = $1 GROUP BY status`, ticketID)
	if err != nil {
		return nil, kerrors.Transient("storage.tickets.task_counts", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, kerrors.Transient("storage.tickets.task_counts", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
