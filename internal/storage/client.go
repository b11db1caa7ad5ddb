package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver with database/sql

	stdsql "database/sql"

	"github.com/taskkernel/core/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB connection and exposes the kernel's
// per-entity repositories. Every repository shares this single pool so row
// locks taken inside a transaction are visible across subsystems.
type Client struct {
	db *stdsql.DB

	Tickets     *TicketRepo
	Tasks       *TaskRepo
	Memory      *MemoryRepo
	Playbook    *PlaybookRepo
	Discoveries *DiscoveryRepo
	Diagnostics *DiagnosticRepo
	Validation  *ValidationRepo
	Locks       *LockRepo
	Workflows   *WorkflowResultRepo
	Monitor     *MonitorRepo
	Agents      *AgentRepo
	Projects    *ProjectRepo
	Users       *UserRepo
}

// DB returns the underlying pool for health checks and ad-hoc queries.
func (c *Client) DB() *stdsql.DB { return c.db }

// Close releases the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens the connection pool, applies pending migrations, and
// wires up the per-entity repositories.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewClientFromDB(db), nil
}

// NewClientFromDB wires repositories on top of an already-open pool, useful
// for tests that hand in a sqlmock-backed *sql.DB.
func NewClientFromDB(db *stdsql.DB) *Client {
	return &Client{
		db:          db,
		Tickets:     &TicketRepo{db: db},
		Tasks:       &TaskRepo{db: db},
		Memory:      &MemoryRepo{db: db},
		Playbook:    &PlaybookRepo{db: db},
		Discoveries: &DiscoveryRepo{db: db},
		Diagnostics: &DiagnosticRepo{db: db},
		Validation:  &ValidationRepo{db: db},
		Locks:       &LockRepo{db: db},
		Workflows:   &WorkflowResultRepo{db: db},
		Monitor:     &MonitorRepo{db: db},
		Agents:      &AgentRepo{db: db},
		Projects:    &ProjectRepo{db: db},
		Users:       &UserRepo{db: db},
	}
}

// runMigrations applies embedded SQL migrations with golang-migrate,
// mirroring the embed-then-auto-apply startup pattern: migrations ship
// inside the binary so a fresh deploy never depends on external files.
func runMigrations(db *stdsql.DB, database string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source driver. Calling m.Close() would also close db via
	// the postgres.WithInstance-wrapped driver, breaking the shared pool.
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
