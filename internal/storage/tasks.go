package storage

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// TaskRepo is the transactional repository for tasks, including the atomic
// claim protocol that backs the Task Queue's next_ready operation.
type TaskRepo struct {
	db *stdsql.DB
}

// ErrNoTasksAvailable is returned by ClaimNext when no pending task is ready
// to be claimed. Callers treat it as a poll-empty signal, not a failure.
var ErrNoTasksAvailable = errors.New("storage: no tasks available")

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var deps []byte
	var embedding pqFloatArray
	var ownedFiles pqStringArray
	var result []byte

	err := row.Scan(
		&t.ID, &t.TicketID, &t.PhaseID, &t.TaskType, &t.Description,
		&t.Priority, &t.Status, &t.AssignedAgentID, &t.SandboxID,
		&result, &t.ErrorMessage, &t.RetryCount, &t.MaxRetries,
		&t.DeadlineAt, &t.Score, &t.ValidationEnabled, &t.ValidationIteration,
		&t.ReviewDone, &t.LastValidationFeedback, &ownedFiles, &deps,
		&embedding, &t.ContentHash, &t.CreatedAt, &t.UpdatedAt,
		&t.ClaimedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Result = result
	t.OwnedFiles = []string(ownedFiles)
	t.EmbeddingVector = []float32(embedding)
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &t.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal task dependencies: %w", err)
		}
	}
	return &t, nil
}

const taskColumns = `
	id, ticket_id, phase_id, task_type, description, priority, status,
	assigned_agent_id, sandbox_id, result, error_message, retry_count,
	max_retries, deadline_at, score, validation_enabled, validation_iteration,
	review_done, last_validation_feedback, owned_files, dependencies,
	embedding_vector, content_hash, created_at, updated_at, claimed_at,
	completed_at`

// Create inserts a new task in TaskPending status.
func (r *TaskRepo) Create(ctx context.Context, t *Task) error {
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, ticket_id, phase_id, task_type, description, priority, status,
			max_retries, deadline_at, validation_enabled, owned_files,
			dependencies, content_hash, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		t.ID, t.TicketID, t.PhaseID, t.TaskType, t.Description, t.Priority,
		t.Status, t.MaxRetries, t.DeadlineAt, t.ValidationEnabled,
		pqStringArray(t.OwnedFiles), deps, t.ContentHash, time.Now())
	if err != nil {
		return kerrors.Transient("storage.tasks.create", err)
	}
	return nil
}

// Get fetches a task by ID.
func (r *TaskRepo) Get(ctx context.Context, id string) (*Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, kerrors.NotFoundf("storage.tasks.get", "task %s not found", id)
	}
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.get", err)
	}
	return t, nil
}

// ClaimNext atomically claims the highest-scoring ready task for phaseID
// using SELECT ... FOR UPDATE SKIP LOCKED, so concurrent schedulers never
// double-claim the same row (spec.md §4.1, §5). An empty phaseID claims
// across every phase. This is only the first half of the claim protocol:
// it transitions the row pending → claiming with no agent bound yet. The
// caller must follow up with FinalizeClaim within CLAIM_TTL, or the claim
// reaper reverts it to pending (spec.md §4.1/§5 "atomic claim protocol").
func (r *TaskRepo) ClaimNext(ctx context.Context, phaseID string) (*Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.claim_next", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND (deadline_at IS NULL OR deadline_at > now())
			AND ($2 = '' OR phase_id = $2)
			AND NOT EXISTS (
				SELECT 1
				FROM jsonb_array_elements_text(coalesce(tasks.dependencies -> 'depends_on', '[]'::jsonb)) AS dep_id
				LEFT JOIN tasks dt ON dt.id = dep_id
				WHERE dt.id IS NULL OR dt.status <> $3
			)
		ORDER BY score DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, TaskPending, phaseID, TaskCompleted)

	task, err := scanTask(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNoTasksAvailable
	}
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.claim_next", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, claimed_at = $2, updated_at = $2
		WHERE id = $3`, TaskClaiming, now, task.ID)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.claim_next", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, kerrors.Transient("storage.tasks.claim_next", err)
	}

	task.Status = TaskClaiming
	task.ClaimedAt = &now
	return task, nil
}

// FinalizeClaim completes the claim protocol, transitioning a task from
// claiming to assigned under the given agent. Fails with KindValidation if
// the task is no longer in claiming (already finalized, reaped, or never
// claimed), since that is an illegal transition rather than a missing row.
func (r *TaskRepo) FinalizeClaim(ctx context.Context, id, agentID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, assigned_agent_id = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		TaskAssigned, agentID, time.Now(), id, TaskClaiming)
	if err != nil {
		return kerrors.Transient("storage.tasks.finalize_claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.Transient("storage.tasks.finalize_claim", err)
	}
	if n == 0 {
		return kerrors.Validationf("storage.tasks.finalize_claim", "task %s is not in claiming", id)
	}
	return nil
}

// ReleaseClaim reverts a claiming task back to pending immediately, for a
// caller that decides not to finalize (e.g. no agent could be spawned)
// rather than waiting out CLAIM_TTL for the reaper to notice.
func (r *TaskRepo) ReleaseClaim(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, claimed_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4`,
		TaskPending, time.Now(), id, TaskClaiming)
	if err != nil {
		return kerrors.Transient("storage.tasks.release_claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.Transient("storage.tasks.release_claim", err)
	}
	if n == 0 {
		return kerrors.Validationf("storage.tasks.release_claim", "task %s is not in claiming", id)
	}
	return nil
}

// UpdateStatus transitions a task to newStatus. Callers are expected to have
// already validated the transition against the state machine
// (internal/validation); this is a plain write, not a re-check.
func (r *TaskRepo) UpdateStatus(ctx context.Context, id string, newStatus TaskStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		newStatus, time.Now(), id)
	if err != nil {
		return kerrors.Transient("storage.tasks.update_status", err)
	}
	return mustAffectOne(res, "storage.tasks.update_status", id)
}

// MarkCompleted records a terminal completion along with its result blob.
func (r *TaskRepo) MarkCompleted(ctx context.Context, id string, result []byte) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, result = $2, completed_at = $3, updated_at = $3
		WHERE id = $4`, TaskCompleted, result, now, id)
	if err != nil {
		return kerrors.Transient("storage.tasks.mark_completed", err)
	}
	return mustAffectOne(res, "storage.tasks.mark_completed", id)
}

// MarkFailed records a terminal failure with an error message.
func (r *TaskRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, error_message = $2, completed_at = $3, updated_at = $3
		WHERE id = $4`, TaskFailed, errMsg, now, id)
	if err != nil {
		return kerrors.Transient("storage.tasks.mark_failed", err)
	}
	return mustAffectOne(res, "storage.tasks.mark_failed", id)
}

// IncrementRetry bumps retry_count and reverts the task to pending so the
// scheduler can reclaim it, per the bounded-retry policy of spec.md §7(d).
func (r *TaskRepo) IncrementRetry(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET retry_count = retry_count + 1, status = $1,
			assigned_agent_id = NULL, claimed_at = NULL, updated_at = $2
		WHERE id = $3`, TaskPending, time.Now(), id)
	if err != nil {
		return kerrors.Transient("storage.tasks.increment_retry", err)
	}
	return mustAffectOne(res, "storage.tasks.increment_retry", id)
}

// UpdateScore writes a recomputed dynamic score (internal/scoring).
func (r *TaskRepo) UpdateScore(ctx context.Context, id string, score float64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET score = $1 WHERE id = $2`, score, id)
	if err != nil {
		return kerrors.Transient("storage.tasks.update_score", err)
	}
	return mustAffectOne(res, "storage.tasks.update_score", id)
}

// ReapExpiredClaims reverts tasks stuck in TaskClaiming past claimTTL back
// to TaskPending. Only unfinalized claims are in scope: a task that made it
// to TaskAssigned is being actively dispatched and has no CLAIM_TTL-bounded
// lifetime of its own (spec.md §4.1/§5 "a claim that is not finalized to
// assigned within CLAIM_TTL is reaped back to pending"). Returns the
// reverted task IDs for event emission.
func (r *TaskRepo) ReapExpiredClaims(ctx context.Context, claimTTL time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-claimTTL)
	rows, err := r.db.QueryContext(ctx, `
		UPDATE tasks SET status = $1, claimed_at = NULL, updated_at = now()
		WHERE status = $2 AND claimed_at < $3
		RETURNING id`, TaskPending, TaskClaiming, cutoff)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.reap_expired_claims", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, kerrors.Transient("storage.tasks.reap_expired_claims", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListReady returns the score-desc ready set for phaseID (empty matches
// every phase), capped at limit. Read-only: it does not claim anything,
// supporting the ready_tasks contract of spec.md §4.1.
func (r *TaskRepo) ListReady(ctx context.Context, phaseID string, limit int) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND (deadline_at IS NULL OR deadline_at > now())
			AND ($2 = '' OR phase_id = $2)
			AND NOT EXISTS (
				SELECT 1
				FROM jsonb_array_elements_text(coalesce(tasks.dependencies -> 'depends_on', '[]'::jsonb)) AS dep_id
				LEFT JOIN tasks dt ON dt.id = dep_id
				WHERE dt.id IS NULL OR dt.status <> $3
			)
		ORDER BY score DESC, created_at ASC
		LIMIT $4`, TaskPending, phaseID, TaskCompleted, limit)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.list_ready", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, kerrors.Transient("storage.tasks.list_ready", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListByStatus returns every task in the given status, ordered oldest-first.
func (r *TaskRepo) ListByStatus(ctx context.Context, status TaskStatus) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.list_by_status", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, kerrors.Transient("storage.tasks.list_by_status", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListByTicket returns every task belonging to a ticket.
func (r *TaskRepo) ListByTicket(ctx context.Context, ticketID string) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE ticket_id = $1 ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.list_by_ticket", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, kerrors.Transient("storage.tasks.list_by_ticket", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FindByContentHash supports exact-match deduplication (spec.md §4.4 phase 1).
func (r *TaskRepo) FindByContentHash(ctx context.Context, hash string) (*Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE content_hash = $1 LIMIT 1`, hash)
	t, err := scanTask(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.find_by_content_hash", err)
	}
	return t, nil
}

// CandidatesForSemanticDedup returns active (non-terminal) tasks carrying an
// embedding vector, the fallback candidate set for in-process cosine
// comparison when no vector index is available (spec.md §4.4).
func (r *TaskRepo) CandidatesForSemanticDedup(ctx context.Context, ticketID string) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ticket_id = $1 AND status NOT IN ($2, $3) AND embedding_vector IS NOT NULL`,
		ticketID, TaskCompleted, TaskFailed)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.candidates_for_semantic_dedup", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, kerrors.Transient("storage.tasks.candidates_for_semantic_dedup", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetEmbedding stores a task's content embedding and hash after the
// Embedding Gateway has produced it.
func (r *TaskRepo) SetEmbedding(ctx context.Context, id string, vec []float32, hash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET embedding_vector = $1, content_hash = $2 WHERE id = $3`,
		pqFloatArray(vec), hash, id)
	if err != nil {
		return kerrors.Transient("storage.tasks.set_embedding", err)
	}
	return mustAffectOne(res, "storage.tasks.set_embedding", id)
}

// LastActivityAt returns the most recent updated_at across a ticket's
// tasks, the input to the Diagnostic Engine's stuck-detection predicate
// (spec.md §4.3). Returns nil if the ticket has no tasks.
func (r *TaskRepo) LastActivityAt(ctx context.Context, ticketID string) (*time.Time, error) {
	var t stdsql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT max(updated_at) FROM tasks WHERE ticket_id = $1`, ticketID).Scan(&t)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.last_activity_at", err)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// DependentCounts returns, for every task in ticketID, the number of
// sibling tasks whose dependencies.depends_on lists it — the blocker_norm
// input of the scoring formula (spec.md §4.1).
func (r *TaskRepo) DependentCounts(ctx context.Context, ticketID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT dep.value #>> '{}' AS blocked_on, count(*)
		FROM tasks t, jsonb_array_elements(coalesce(t.dependencies -> 'depends_on', '[]'::jsonb)) AS dep
		WHERE t.ticket_id = $1
		GROUP BY blocked_on`, ticketID)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.dependent_counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, kerrors.Transient("storage.tasks.dependent_counts", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ListParallelSiblings returns every task in the same ticket as taskID that
// could run concurrently with it (status pending/claiming/assigned/running)
// and declares its own owned_files, the candidate set for the Ownership
// Validator's overlap check (spec.md §4.6).
func (r *TaskRepo) ListParallelSiblings(ctx context.Context, ticketID, taskID string) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ticket_id = $1 AND id != $2
			AND status IN ($3,$4,$5,$6)
			AND owned_files IS NOT NULL AND array_length(owned_files, 1) > 0`,
		ticketID, taskID, TaskPending, TaskClaiming, TaskAssigned, TaskRunning)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.list_parallel_siblings", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, kerrors.Transient("storage.tasks.list_parallel_siblings", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountPendingByPriority returns the number of pending tasks per priority,
// the input to the queue depth gauge (spec.md §4.1).
func (r *TaskRepo) CountPendingByPriority(ctx context.Context) (map[Priority]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT priority, count(*) FROM tasks WHERE status = $1 GROUP BY priority`, TaskPending)
	if err != nil {
		return nil, kerrors.Transient("storage.tasks.count_pending_by_priority", err)
	}
	defer rows.Close()

	counts := make(map[Priority]int)
	for rows.Next() {
		var p Priority
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, kerrors.Transient("storage.tasks.count_pending_by_priority", err)
		}
		counts[p] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func mustAffectOne(res stdsql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.Transient(op, err)
	}
	if n == 0 {
		return kerrors.NotFoundf(op, "no row with id %s", id)
	}
	return nil
}
