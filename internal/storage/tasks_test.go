package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewClientFromDB(db), mock
}

func taskRow(mock sqlmock.Sqlmock) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(splitColumns(taskColumns)).AddRow(
		"task-1", "ticket-1", "phase-1", "implement", "do the thing",
		string(PriorityHigh), string(TaskPending), nil, nil, nil, nil, 0, 3, nil, 0.5,
		true, 0, false, nil, "{}", "{}", "{}", nil, now, now, nil, nil,
	)
}

func TestTaskRepo_ClaimNext_Success(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(taskRow(mock))
	mock.ExpectExec(`UPDATE tasks SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := client.Tasks.ClaimNext(context.Background(), "phase-1")
	require.NoError(t, err)
	require.Equal(t, TaskClaiming, task.Status)
	require.Nil(t, task.AssignedAgentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepo_ClaimNext_NoTasksAvailable(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(sqlmock.NewRows(splitColumns(taskColumns)))
	mock.ExpectRollback()

	_, err := client.Tasks.ClaimNext(context.Background(), "")
	require.ErrorIs(t, err, ErrNoTasksAvailable)
}

func TestTaskRepo_FinalizeClaim_TransitionsToAssigned(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`UPDATE tasks SET status`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.Tasks.FinalizeClaim(context.Background(), "task-1", "agent-1")
	require.NoError(t, err)
}

func TestTaskRepo_FinalizeClaim_ErrorsWhenNotClaiming(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`UPDATE tasks SET status`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := client.Tasks.FinalizeClaim(context.Background(), "task-1", "agent-1")
	require.Error(t, err)
}

func TestTaskRepo_ReleaseClaim_RevertsToPending(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`UPDATE tasks SET status`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.Tasks.ReleaseClaim(context.Background(), "task-1")
	require.NoError(t, err)
}

func TestTaskRepo_ReapExpiredClaims_ReturnsRevertedIDs(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(`UPDATE tasks SET status`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("task-1").AddRow("task-2"))

	ids, err := client.Tasks.ReapExpiredClaims(context.Background(), 60*time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"task-1", "task-2"}, ids)
}

func TestTaskRepo_Get_NotFound(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id`).
		WillReturnRows(sqlmock.NewRows(splitColumns(taskColumns)))

	_, err := client.Tasks.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestTaskRepo_CountPendingByPriority_GroupsByPriority(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(`SELECT priority, count\(\*\) FROM tasks WHERE status`).
		WillReturnRows(sqlmock.NewRows([]string{"priority", "count"}).
			AddRow(string(PriorityHigh), 3).
			AddRow(string(PriorityLow), 1))

	counts, err := client.Tasks.CountPendingByPriority(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, counts[PriorityHigh])
	require.Equal(t, 1, counts[PriorityLow])
}

// splitColumns turns the repo's comma-joined column list into a slice for
// sqlmock row construction.
func splitColumns(cols string) []string {
	var out []string
	cur := ""
	for _, r := range cols {
		switch r {
		case ',':
			out = append(out, trimSpaceNL(cur))
			cur = ""
		case '\n', '\t':
			// collapse formatting whitespace
		default:
			cur += string(r)
		}
	}
	if trimmed := trimSpaceNL(cur); trimmed != "" {
		out = append(out, trimmed)
	}
	return out
}

func trimSpaceNL(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n') {
		end--
	}
	return s[start:end]
}
