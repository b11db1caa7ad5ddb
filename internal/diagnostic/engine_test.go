package diagnostic

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/events"
	"github.com/taskkernel/core/internal/llmgateway"
	"github.com/taskkernel/core/internal/queue"
	"github.com/taskkernel/core/internal/scoring"
	"github.com/taskkernel/core/internal/storage"
)

type fakeDedup struct {
	similar *storage.Task
	err     error
}

func (f *fakeDedup) SimilarPending(ctx context.Context, ticketID, taskType, text string, threshold float64) (*storage.Task, error) {
	return f.similar, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 8), nil
}

type fakeCompleter struct{ content string }

func (f *fakeCompleter) Complete(ctx context.Context, req llmgateway.Request) (*llmgateway.Response, error) {
	return &llmgateway.Response{Content: f.content}, nil
}

func newTestEngine(t *testing.T, dedup DedupChecker, llmContent string) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := storage.NewClientFromDB(db)
	bus := events.NewBus(time.Second)
	q := queue.New(client.Tasks, client.Tickets, scoring.New(config.DefaultScoringConfig()), bus, config.DefaultQueueConfig())
	gw := llmgateway.New(&fakeCompleter{content: llmContent}, 3)
	cfg := config.DefaultDiagnosticConfig()

	e := New(client.Tickets, client.Tasks, client.Workflows, client.Diagnostics, client.Discoveries,
		client.Projects, client.Users, q, dedup, fakeEmbedder{}, gw, bus, cfg)
	return e, mock
}

func ticketRow(projectID *string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "description", "phase_id", "status", "priority", "project_id", "created_at"}).
		AddRow("ticket-1", "fix the thing", "desc", "phase-1", string(storage.TicketOpen), string(storage.PriorityHigh), projectID, time.Now())
}

func TestIsStuck_FalseWhenNoTasks(t *testing.T) {
	e, mock := newTestEngine(t, nil, "")
	mock.ExpectQuery(`SELECT status, count\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}))

	stuck, err := e.isStuck(context.Background(), "ticket-1")
	require.NoError(t, err)
	require.False(t, stuck)
}

func TestIsStuck_FalseWhenActiveTasksExist(t *testing.T) {
	e, mock := newTestEngine(t, nil, "")
	mock.ExpectQuery(`SELECT status, count\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(string(storage.TaskRunning), 1))

	stuck, err := e.isStuck(context.Background(), "ticket-1")
	require.NoError(t, err)
	require.False(t, stuck)
}

func TestIsStuck_FalseWhenValidatedResultExists(t *testing.T) {
	e, mock := newTestEngine(t, nil, "")
	mock.ExpectQuery(`SELECT status, count\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(string(storage.TaskFailed), 1))
	mock.ExpectQuery(`SELECT .* FROM workflow_results`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ticket_id", "status", "markdown_file_path", "created_at"}).
			AddRow("w1", "ticket-1", string(storage.WorkflowResultValidated), nil, time.Now()))

	stuck, err := e.isStuck(context.Background(), "ticket-1")
	require.NoError(t, err)
	require.False(t, stuck)
}

func TestIsStuck_TrueWhenAllConditionsHold(t *testing.T) {
	e, mock := newTestEngine(t, nil, "")
	mock.ExpectQuery(`SELECT status, count\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(string(storage.TaskFailed), 1))
	mock.ExpectQuery(`SELECT .* FROM workflow_results`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ticket_id", "status", "markdown_file_path", "created_at"}))
	old := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT max\(updated_at\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(old))
	mock.ExpectQuery(`SELECT .* FROM diagnostic_runs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workflow_id", "triggered_at", "completed_at", "task_count_at_trigger",
			"phases_analyzed", "agents_reviewed", "diagnosis", "tasks_created_count",
			"tasks_created_ids", "status",
		}))

	stuck, err := e.isStuck(context.Background(), "ticket-1")
	require.NoError(t, err)
	require.True(t, stuck)
}

func TestCheckSafeguards_SkipsWhenZeroFailedTasks(t *testing.T) {
	e, mock := newTestEngine(t, nil, "")
	mock.ExpectQuery(`SELECT status, count\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(string(storage.TaskCompleted), 3))

	skip, reason, err := e.checkSafeguards(context.Background(), &storage.Ticket{ID: "ticket-1"})
	require.NoError(t, err)
	require.True(t, skip)
	require.Contains(t, reason, "workflow succeeded")
}

func TestCheckSafeguards_SkipsWhenNoProjectLinked(t *testing.T) {
	e, mock := newTestEngine(t, nil, "")
	mock.ExpectQuery(`SELECT status, count\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(string(storage.TaskFailed), 1))
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE ticket_id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ticket_id", "phase_id", "task_type", "description", "priority", "status",
			"assigned_agent_id", "sandbox_id", "result", "error_message", "retry_count",
			"max_retries", "deadline_at", "score", "validation_enabled", "validation_iteration",
			"review_done", "last_validation_feedback", "owned_files", "dependencies",
			"embedding_vector", "content_hash", "created_at", "updated_at", "claimed_at",
			"completed_at",
		}))
	mock.ExpectQuery(`SELECT count\(\*\) FROM diagnostic_runs WHERE workflow_id`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	skip, reason, err := e.checkSafeguards(context.Background(), &storage.Ticket{ID: "ticket-1", ProjectID: nil})
	require.NoError(t, err)
	require.True(t, skip)
	require.Contains(t, reason, "clone-readiness")
}

func TestRecordOutcome_ClearsOnSuccessIncrementsOnFailure(t *testing.T) {
	e, _ := newTestEngine(t, nil, "")
	e.recordOutcome("ticket-1", false)
	e.recordOutcome("ticket-1", false)
	require.Equal(t, 2, e.failures["ticket-1"])
	e.recordOutcome("ticket-1", true)
	require.Equal(t, 0, e.failures["ticket-1"])
}

func TestTriggerRepeatedFailures_OnlyRaisesCounter(t *testing.T) {
	e, _ := newTestEngine(t, nil, "")
	e.failures["ticket-1"] = 3
	e.TriggerRepeatedFailures(context.Background(), "ticket-1", 1)
	require.Equal(t, 3, e.failures["ticket-1"])
	e.TriggerRepeatedFailures(context.Background(), "ticket-1", 5)
	require.Equal(t, 5, e.failures["ticket-1"])
}

func TestMostRecentFailedTask_PicksLatestByUpdatedAt(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	tasks := []*storage.Task{
		{ID: "t1", Status: storage.TaskFailed, UpdatedAt: older},
		{ID: "t2", Status: storage.TaskCompleted, UpdatedAt: newer},
		{ID: "t3", Status: storage.TaskFailed, UpdatedAt: newer},
	}
	got := mostRecentFailedTask(tasks)
	require.NotNil(t, got)
	require.Equal(t, "t3", got.ID)
}

func TestMostRecentFailedTask_NilWhenNoneFailed(t *testing.T) {
	tasks := []*storage.Task{{ID: "t1", Status: storage.TaskCompleted}}
	require.Nil(t, mostRecentFailedTask(tasks))
}
