package storage

import (
	"context"
	stdsql "database/sql"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// DiscoveryRepo is the repository for workflow-branching discovery edges
// (spec.md §3, §12 discovery resolution rule).
type DiscoveryRepo struct {
	db *stdsql.DB
}

// Create records a discovery raised while executing a task.
func (r *DiscoveryRepo) Create(ctx context.Context, d *TaskDiscovery) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO task_discoveries (
			id, source_task_id, discovery_type, description, spawned_task_ids,
			discovered_at, priority_boost, resolution_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.SourceTaskID, d.DiscoveryType, d.Description,
		pqStringArray(d.SpawnedTaskIDs), time.Now(), d.PriorityBoost, DiscoveryOpen)
	if err != nil {
		return kerrors.Transient("storage.discoveries.create", err)
	}
	return nil
}

// AttachSpawnedTasks records which new tasks were spawned from a discovery
// and marks it in_progress, per spec.md §12's discovery resolution rule:
// a discovery stays open until every spawned task reaches a terminal state.
func (r *DiscoveryRepo) AttachSpawnedTasks(ctx context.Context, id string, taskIDs []string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE task_discoveries SET spawned_task_ids = $1, resolution_status = $2 WHERE id = $3`,
		pqStringArray(taskIDs), DiscoveryInProgress, id)
	if err != nil {
		return kerrors.Transient("storage.discoveries.attach_spawned_tasks", err)
	}
	return mustAffectOne(res, "storage.discoveries.attach_spawned_tasks", id)
}

// ResolveIfSpawnedTasksTerminal marks a discovery resolved once every task it
// spawned has reached TaskCompleted or TaskFailed.
func (r *DiscoveryRepo) ResolveIfSpawnedTasksTerminal(ctx context.Context, id string) (bool, error) {
	var pendingCount int
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*) FROM tasks t
		JOIN task_discoveries d ON t.id = ANY(d.spawned_task_ids)
		WHERE d.id = $1 AND t.status NOT IN ($2, $3)`,
		id, TaskCompleted, TaskFailed).Scan(&pendingCount)
	if err != nil {
		return false, kerrors.Transient("storage.discoveries.resolve_if_spawned_tasks_terminal", err)
	}
	if pendingCount > 0 {
		return false, nil
	}
	_, err = r.db.ExecContext(ctx, `UPDATE task_discoveries SET resolution_status = $1 WHERE id = $2`,
		DiscoveryResolved, id)
	if err != nil {
		return false, kerrors.Transient("storage.discoveries.resolve_if_spawned_tasks_terminal", err)
	}
	return true, nil
}

// ListOpenBySourceTask returns unresolved discoveries raised by a task.
func (r *DiscoveryRepo) ListOpenBySourceTask(ctx context.Context, taskID string) ([]*TaskDiscovery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_task_id, discovery_type, description, spawned_task_ids,
			discovered_at, priority_boost, resolution_status
		FROM task_discoveries
		WHERE source_task_id = $1 AND resolution_status IN ($2, $3)`,
		taskID, DiscoveryOpen, DiscoveryInProgress)
	if err != nil {
		return nil, kerrors.Transient("storage.discoveries.list_open_by_source_task", err)
	}
	defer rows.Close()

	var discoveries []*TaskDiscovery
	for rows.Next() {
		var d TaskDiscovery
		var spawned pqStringArray
		if err := rows.Scan(&d.ID, &d.SourceTaskID, &d.DiscoveryType, &d.Description,
			&spawned, &d.DiscoveredAt, &d.PriorityBoost, &d.ResolutionStatus); err != nil {
			return nil, kerrors.Transient("storage.discoveries.list_open_by_source_task", err)
		}
		d.SpawnedTaskIDs = []string(spawned)
		discoveries = append(discoveries, &d)
	}
	return discoveries, rows.Err()
}
