package storage

import (
	"context"
	stdsql "database/sql"
	"time"

	"github.com/taskkernel/core/internal/kerrors"
)

// LockRepo is the repository for named, TTL-bounded resource locks
// (spec.md §4.6). The ownership validator and the scheduler do not use it.
type LockRepo struct {
	db *stdsql.DB
}

// ErrLockHeld is returned by Acquire when the lock is already held by a
// different owner and has not yet expired.
var ErrLockHeld = kerrors.Permissionf("storage.locks.acquire", "lock held by another owner")

// Acquire takes a named lock for ownerID with a TTL, failing if another
// owner already holds an unexpired lock of the same name.
func (r *LockRepo) Acquire(ctx context.Context, name, ownerID string, ttl time.Duration) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resource_locks (name, owner_id, acquired_at, expires_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (name) DO UPDATE SET
			owner_id = EXCLUDED.owner_id, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		WHERE resource_locks.expires_at < $3 OR resource_locks.owner_id = $2`,
		name, ownerID, now, now.Add(ttl))
	if err != nil {
		return kerrors.Transient("storage.locks.acquire", err)
	}

	held, err := r.ownerOf(ctx, name)
	if err != nil {
		return err
	}
	if held != ownerID {
		return ErrLockHeld
	}
	return nil
}

// Release drops a lock, but only if ownerID still holds it.
func (r *LockRepo) Release(ctx context.Context, name, ownerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM resource_locks WHERE name = $1 AND owner_id = $2`, name, ownerID)
	if err != nil {
		return kerrors.Transient("storage.locks.release", err)
	}
	return nil
}

func (r *LockRepo) ownerOf(ctx context.Context, name string) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `SELECT owner_id FROM resource_locks WHERE name = $1`, name).Scan(&owner)
	if err == stdsql.ErrNoRows {
		return "", kerrors.NotFoundf("storage.locks.owner_of", "lock %s not found", name)
	}
	if err != nil {
		return "", kerrors.Transient("storage.locks.owner_of", err)
	}
	return owner, nil
}
