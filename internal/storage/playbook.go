package storage

import (
	"context"
	stdsql "database/sql"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// PlaybookRepo is the repository for curated playbook entries and their
// append-only change audit trail (spec.md §4.5 Curator).
type PlaybookRepo struct {
	db *stdsql.DB
}

const playbookColumns = `
	id, ticket_id, content, category, tags, embedding, supporting_memory_ids,
	is_active, created_by, created_at, updated_at`

func scanPlaybookEntry(row rowScanner) (*PlaybookEntry, error) {
	var e PlaybookEntry
	var tags, supporting pqStringArray
	var embedding pqFloatArray
	err := row.Scan(&e.ID, &e.TicketID, &e.Content, &e.Category, &tags,
		&embedding, &supporting, &e.IsActive, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Tags = []string(tags)
	e.Embedding = []float32(embedding)
	e.SupportingMemoryIDs = []string(supporting)
	return &e, nil
}

// Create inserts a new playbook entry via the Curator's "add" delta.
func (r *PlaybookRepo) Create(ctx context.Context, e *PlaybookEntry) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO playbook_entries (
			id, ticket_id, content, category, tags, embedding,
			supporting_memory_ids, is_active, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		e.ID, e.TicketID, e.Content, e.Category, pqStringArray(e.Tags),
		pqFloatArray(e.Embedding), pqStringArray(e.SupportingMemoryIDs),
		true, e.CreatedBy, now)
	if err != nil {
		return kerrors.Transient("storage.playbook.create", err)
	}
	return nil
}

// ListActiveByTicket returns the active playbook bullets surfaced to new
// task executions.
func (r *PlaybookRepo) ListActiveByTicket(ctx context.Context, ticketID string) ([]*PlaybookEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+playbookColumns+` FROM playbook_entries
		WHERE ticket_id = $1 AND is_active ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, kerrors.Transient("storage.playbook.list_active_by_ticket", err)
	}
	defer rows.Close()

	var entries []*PlaybookEntry
	for rows.Next() {
		e, err := scanPlaybookEntry(rows)
		if err != nil {
			return nil, kerrors.Transient("storage.playbook.list_active_by_ticket", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateContent applies the Curator's "update" delta to an existing entry.
func (r *PlaybookRepo) UpdateContent(ctx context.Context, id, content string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE playbook_entries SET content = $1, updated_at = $2 WHERE id = $3`,
		content, time.Now(), id)
	if err != nil {
		return kerrors.Transient("storage.playbook.update_content", err)
	}
	return mustAffectOne(res, "storage.playbook.update_content", id)
}

// Retire marks an entry inactive via the Curator's "retire" delta, without
// deleting the row (the audit trail must still resolve its foreign key).
func (r *PlaybookRepo) Retire(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE playbook_entries SET is_active = false, updated_at = $1 WHERE id = $2`,
		time.Now(), id)
	if err != nil {
		return kerrors.Transient("storage.playbook.retire", err)
	}
	return mustAffectOne(res, "storage.playbook.retire", id)
}

// RecordChange appends an audit entry for a Curator delta.
func (r *PlaybookRepo) RecordChange(ctx context.Context, c *PlaybookChange) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO playbook_changes (id, playbook_entry_id, operation, related_memory_id, summary, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.PlaybookEntryID, c.Operation, c.RelatedMemoryID, c.Summary, time.Now())
	if err != nil {
		return kerrors.Transient("storage.playbook.record_change", err)
	}
	return nil
}

// AppendSupportingMemory adds memoryID to an entry's supporting_memory_ids
// if not already present, backing the Reflector's relevance tagging
// (spec.md §4.5).
func (r *PlaybookRepo) AppendSupportingMemory(ctx context.Context, entryID, memoryID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE playbook_entries
		SET supporting_memory_ids = array_append(supporting_memory_ids, $1), updated_at = $2
		WHERE id = $3 AND NOT ($1 = ANY(supporting_memory_ids))`,
		memoryID, time.Now(), entryID)
	if err != nil {
		return kerrors.Transient("storage.playbook.append_supporting_memory", err)
	}
	_, err = res.RowsAffected()
	return err
}

// HasChangeForMemory reports whether a (entry, memory) delta was already
// applied, backing the Curator's idempotence guarantee keyed on
// (task_id, iteration) (spec.md §4.5).
func (r *PlaybookRepo) HasChangeForMemory(ctx context.Context, entryID, memoryID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM playbook_changes WHERE playbook_entry_id = $1 AND related_memory_id = $2)`,
		entryID, memoryID).Scan(&exists)
	if err != nil {
		return false, kerrors.Transient("storage.playbook.has_change_for_memory", err)
	}
	return exists, nil
}
