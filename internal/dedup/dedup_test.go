package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/metrics"
	"github.com/taskkernel/core/internal/storage"
)

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return f.vec, nil }

func newTestChecker(t *testing.T, vec []float32) (*Checker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := storage.NewClientFromDB(db)
	c := New(client.Tasks, fixedEmbedder{vec: vec}, config.DefaultDedupConfig())
	return c, mock
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

func taskRow(id, ticketID, taskType string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(taskCols()).AddRow(
		id, ticketID, "phase-1", taskType, "do the thing", string(storage.PriorityHigh), string(storage.TaskPending),
		nil, nil, nil, nil, 0, 3, nil, 0.5, false, 0, false, nil, nil, "{}", nil, nil, now, now, nil, nil,
	)
}

func TestCheckTask_ExactHashMatchInScopeSkips(t *testing.T) {
	c, mock := newTestChecker(t, nil)
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE content_hash`).
		WillReturnRows(taskRow("t1", "ticket-1", "implement"))

	res, err := c.CheckTask(context.Background(), "ticket-1", "implement", "do the thing")
	require.NoError(t, err)
	require.Equal(t, ActionSkip, res.Action)
	require.True(t, res.IsDuplicate)
	require.Equal(t, 1.0, res.HighestSimilarity)
}

func TestCheckTask_HashMatchOutOfScopeFallsThroughToSemantic(t *testing.T) {
	c, mock := newTestChecker(t, []float32{1, 0, 0})
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE content_hash`).
		WillReturnRows(taskRow("t1", "other-ticket", "implement"))
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(sqlmock.NewRows(taskCols()))

	res, err := c.CheckTask(context.Background(), "ticket-1", "implement", "do the thing")
	require.NoError(t, err)
	require.Equal(t, ActionCreate, res.Action)
}

func TestCheckTask_NoHashMatchNoSemanticCandidatesCreates(t *testing.T) {
	c, mock := newTestChecker(t, []float32{1, 0, 0})
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE content_hash`).
		WillReturnRows(sqlmock.NewRows(taskCols()))
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(sqlmock.NewRows(taskCols()))

	res, err := c.CheckTask(context.Background(), "ticket-1", "implement", "new description")
	require.NoError(t, err)
	require.Equal(t, ActionCreate, res.Action)
	require.False(t, res.IsDuplicate)
}

func TestSimilarPending_FiltersByTaskType(t *testing.T) {
	c, mock := newTestChecker(t, []float32{1, 0, 0})
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(taskRow("t1", "ticket-1", "other_type"))

	match, err := c.SimilarPending(context.Background(), "ticket-1", "implement", "desc", 0.9)
	require.NoError(t, err)
	require.Nil(t, match)
}

func TestCheckTask_RecordsHitWhenMetricsWired(t *testing.T) {
	c, mock := newTestChecker(t, nil)
	c.SetMetrics(metrics.New(prometheus.NewRegistry()))
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE content_hash`).
		WillReturnRows(taskRow("t1", "ticket-1", "implement"))

	_, err := c.CheckTask(context.Background(), "ticket-1", "implement", "do the thing")
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(c.metrics.DedupHits.WithLabelValues("implement", "exact")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.metrics.DedupChecks.WithLabelValues("implement")))
}

func TestBulkCheckTasks_PreservesOrderAcrossPartitions(t *testing.T) {
	c, mock := newTestChecker(t, []float32{1, 0, 0})
	// item 0: hash match in scope -> skip
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE content_hash`).
		WillReturnRows(taskRow("existing", "ticket-1", "implement"))
	// item 1: no hash match, no semantic candidates -> create
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE content_hash`).
		WillReturnRows(sqlmock.NewRows(taskCols()))
	mock.ExpectQuery(`SELECT .* FROM tasks`).
		WillReturnRows(sqlmock.NewRows(taskCols()))

	result := c.BulkCheckTasks(context.Background(), "ticket-1", []BulkCandidate{
		{TaskType: "implement", Text: "do the thing"},
		{TaskType: "implement", Text: "do a different thing"},
	})
	require.Len(t, result.ToSkip, 1)
	require.Equal(t, 0, result.ToSkip[0].Index)
	require.Len(t, result.ToCreate, 1)
	require.Equal(t, 1, result.ToCreate[0].Index)
}
