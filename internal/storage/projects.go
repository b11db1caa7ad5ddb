package storage

import (
	"context"
	stdsql "database/sql"
	"errors"

	"github.com/taskkernel/core/internal/kerrors"
)

// ProjectRepo backs the Diagnostic Engine's clone-readiness chain:
// ticket -> project -> project.owner (spec.md §4.3).
type ProjectRepo struct {
	db *stdsql.DB
}

// Get fetches a project by ID.
func (r *ProjectRepo) Get(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := r.db.QueryRowContext(ctx, `SELECT id, name, owner_id FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.OwnerID)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, kerrors.NotFoundf("storage.projects.get", "project %s not found", id)
	}
	if err != nil {
		return nil, kerrors.Transient("storage.projects.get", err)
	}
	return &p, nil
}

// UserRepo backs the final link of the clone-readiness chain: the project
// owner's GitHub access token.
type UserRepo struct {
	db *stdsql.DB
}

// Get fetches a user by ID.
func (r *UserRepo) Get(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `SELECT id, github_access_token FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.GitHubAccessToken)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, kerrors.NotFoundf("storage.users.get", "user %s not found", id)
	}
	if err != nil {
		return nil, kerrors.Transient("storage.users.get", err)
	}
	return &u, nil
}
