package ownership

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/storage"
)

func newTestValidator(t *testing.T, strict bool) (*Validator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := storage.NewClientFromDB(db)
	v := New(client.Tasks, &config.OwnershipConfig{StrictMode: strict})
	return v, mock
}

func taskCols() []string {
	return []string{
		"id", "ticket_id", "phase_id", "task_type", "description", "priority", "status",
		"assigned_agent_id", "sandbox_id", "result", "error_message", "retry_count",
		"max_retries", "deadline_at", "score", "validation_enabled", "validation_iteration",
		"review_done", "last_validation_feedback", "owned_files", "dependencies",
		"embedding_vector", "content_hash", "created_at", "updated_at", "claimed_at",
		"completed_at",
	}
}

func siblingRow(id, ticketID string, ownedFiles []string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(taskCols()).AddRow(
		id, ticketID, "phase-1", "implement", "do the thing", string(storage.PriorityHigh), string(storage.TaskPending),
		nil, nil, nil, nil, 0, 3, nil, 0.5, false, 0, false, nil,
		pq(ownedFiles), "{}", nil, nil, now, now, nil, nil,
	)
}

// pq mimics a postgres text[] literal as the driver would return it, since
// the repo's row scanner expects that wire format.
func pq(values []string) string {
	s := "{"
	for i, v := range values {
		if i > 0 {
			s += ","
		}
		s += v
	}
	return s + "}"
}

func TestValidateTask_NoOwnedFilesAlwaysValid(t *testing.T) {
	v, _ := newTestValidator(t, false)
	task := &storage.Task{ID: "t1", TicketID: "ticket-1"}

	res, err := v.ValidateTask(context.Background(), task)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.Conflicts)
	require.Empty(t, res.Warnings)
}

func TestValidateTask_LenientOverlapIsWarningNotConflict(t *testing.T) {
	v, mock := newTestValidator(t, false)
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(siblingRow("sib-1", "ticket-1", []string{"src/auth/**"}))

	task := &storage.Task{ID: "t1", TicketID: "ticket-1", OwnedFiles: []string{"src/auth/jwt.py"}}
	res, err := v.ValidateTask(context.Background(), task)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.Conflicts)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, "sib-1", res.Warnings[0].SiblingTaskID)
}

func TestValidateTask_StrictOverlapIsConflictAndInvalid(t *testing.T) {
	v, mock := newTestValidator(t, true)
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(siblingRow("sib-1", "ticket-1", []string{"src/auth/**"}))

	task := &storage.Task{ID: "t1", TicketID: "ticket-1", OwnedFiles: []string{"src/auth/jwt.py"}}
	res, err := v.ValidateTask(context.Background(), task)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Len(t, res.Conflicts, 1)
	require.Contains(t, res.ConflictingTaskIDs, "sib-1")
}

func TestValidateTask_DisjointPatternsNoConflict(t *testing.T) {
	v, mock := newTestValidator(t, true)
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(siblingRow("sib-1", "ticket-1", []string{"docs/**"}))

	task := &storage.Task{ID: "t1", TicketID: "ticket-1", OwnedFiles: []string{"src/auth/jwt.py"}}
	res, err := v.ValidateTask(context.Background(), task)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.Conflicts)
	require.Empty(t, res.Warnings)
}

func TestValidateTask_EvaluatesAllPairsNonShortCircuiting(t *testing.T) {
	v, mock := newTestValidator(t, false)
	now := time.Now()
	rows := sqlmock.NewRows(taskCols())
	rows.AddRow(
		"sib-1", "ticket-1", "phase-1", "implement", "do the thing", string(storage.PriorityHigh), string(storage.TaskPending),
		nil, nil, nil, nil, 0, 3, nil, 0.5, false, 0, false, nil,
		pq([]string{"src/auth/**"}), "{}", nil, nil, now, now, nil, nil,
	)
	rows.AddRow(
		"sib-2", "ticket-1", "phase-1", "implement", "do the thing", string(storage.PriorityHigh), string(storage.TaskPending),
		nil, nil, nil, nil, 0, 3, nil, 0.5, false, 0, false, nil,
		pq([]string{"src/billing/**"}), "{}", nil, nil, now, now, nil, nil,
	)
	mock.ExpectQuery(`SELECT .* FROM tasks`).WillReturnRows(rows)

	task := &storage.Task{ID: "t1", TicketID: "ticket-1", OwnedFiles: []string{"src/auth/jwt.py", "src/billing/invoice.py"}}
	res, err := v.ValidateTask(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	require.ElementsMatch(t, []string{"sib-1", "sib-2"}, res.ConflictingTaskIDs)
}

func TestMayOverlap(t *testing.T) {
	cases := []struct {
		p1, p2 string
		want   bool
	}{
		{"src/auth/**", "src/auth/**", true},
		{"src/auth/jwt.py", "src/auth/**", true},
		{"src/**", "src/services/user/**", true},
		{"*.py", "*.py", true},
		{"src/auth/**", "docs/**", false},
		{"src/auth/jwt.py", "src/billing/invoice.py", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, mayOverlap(c.p1, c.p2), "%s vs %s", c.p1, c.p2)
	}
}

func TestValidPattern(t *testing.T) {
	require.True(t, ValidPattern("src/**/*.go"))
}
