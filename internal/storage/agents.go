package storage

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// AgentRepo is the repository for executing agents, including the
// heartbeat contract consulted by the validator-timeout sweep (spec.md §12).
type AgentRepo struct {
	db *stdsql.DB
}

// Upsert registers or refreshes an agent's declared capabilities.
func (r *AgentRepo) Upsert(ctx context.Context, a *Agent) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (id, type, capabilities, last_heartbeat, created_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, capabilities = EXCLUDED.capabilities, last_heartbeat = EXCLUDED.last_heartbeat`,
		a.ID, a.Type, pqStringArray(a.Capabilities), now)
	if err != nil {
		return kerrors.Transient("storage.agents.upsert", err)
	}
	return nil
}

// Heartbeat refreshes an agent's last_heartbeat timestamp.
func (r *AgentRepo) Heartbeat(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE agents SET last_heartbeat = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return kerrors.Transient("storage.agents.heartbeat", err)
	}
	return mustAffectOne(res, "storage.agents.heartbeat", id)
}

// Get fetches an agent by ID.
func (r *AgentRepo) Get(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	var caps pqStringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT id, type, capabilities, last_heartbeat, created_at FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.Type, &caps, &a.LastHeartbeat, &a.CreatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, kerrors.NotFoundf("storage.agents.get", "agent %s not found", id)
	}
	if err != nil {
		return nil, kerrors.Transient("storage.agents.get", err)
	}
	a.Capabilities = []string(caps)
	return &a, nil
}

// ListStaleHeartbeats returns agents whose last heartbeat predates cutoff,
// the input to the validator timeout sweep (spec.md §4.2).
func (r *AgentRepo) ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*Agent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, capabilities, last_heartbeat, created_at
		FROM agents WHERE last_heartbeat < $1`, cutoff)
	if err != nil {
		return nil, kerrors.Transient("storage.agents.list_stale_heartbeats", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		var caps pqStringArray
		if err := rows.Scan(&a.ID, &a.Type, &caps, &a.LastHeartbeat, &a.CreatedAt); err != nil {
			return nil, kerrors.Transient("storage.agents.list_stale_heartbeats", err)
		}
		a.Capabilities = []string(caps)
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}
