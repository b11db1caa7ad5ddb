package ace

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/events"
	"github.com/taskkernel/core/internal/storage"
)

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.vec != nil {
		return f.vec, nil
	}
	return make([]float32, 8), nil
}

func newTestPipeline(t *testing.T, vec []float32) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := storage.NewClientFromDB(db)
	bus := events.NewBus(time.Second)
	p := New(client.Tasks, client.Memory, client.Playbook, fixedEmbedder{vec: vec}, bus, config.DefaultACEConfig())
	return p, mock
}

func taskRow(id, ticketID, description, result string) *sqlmock.Rows {
	now := time.Now()
	resultBytes := []byte(result)
	return sqlmock.NewRows([]string{
		"id", "ticket_id", "phase_id", "task_type", "description", "priority", "status",
		"assigned_agent_id", "sandbox_id", "result", "error_message", "retry_count",
		"max_retries", "deadline_at", "score", "validation_enabled", "validation_iteration",
		"review_done", "last_validation_feedback", "owned_files", "dependencies",
		"embedding_vector", "content_hash", "created_at", "updated_at", "claimed_at",
		"completed_at",
	}).AddRow(
		id, ticketID, "phase-1", "implement", description, string(storage.PriorityHigh), string(storage.TaskCompleted),
		nil, nil, resultBytes, nil, 0, 3, nil, 0.5, false, 0, false, nil, nil, "{}", nil, nil, now, now, nil, nil,
	)
}

func TestClassifyMemoryType_ErrorFixOnFailureWithErrorKeyword(t *testing.T) {
	got := classifyMemoryType("fix the bug", "raised a TypeError while parsing", "desc", false)
	require.Equal(t, storage.MemoryErrorFix, got)
}

func TestClassifyMemoryType_DefaultsToLearning(t *testing.T) {
	got := classifyMemoryType("implement the widget", "added the widget", "desc", true)
	require.Equal(t, storage.MemoryLearning, got)
}

func TestExtractFilePaths_RecognizesKnownToolsAndAliases(t *testing.T) {
	entries := []toolUsageEntry{
		{ToolName: "file_edit", Arguments: map[string]any{"path": "b.go"}},
		{ToolName: "read_file", Arguments: map[string]any{"file_path": "a.go"}},
		{ToolName: "shell", Arguments: map[string]any{"path": "ignored.sh"}},
	}
	got := extractFilePaths(entries)
	require.Equal(t, []string{"a.go", "b.go"}, got)
}

func TestIdentifyErrors_MatchesKnownTypeAndCapturesContext(t *testing.T) {
	feedback := "Ran the suite and got a KeyError: 'missing' during setup."
	errs := identifyErrors(feedback, 10)
	require.Len(t, errs, 1)
	require.Equal(t, "KeyError", errs[0].ErrorType)
	require.Contains(t, errs[0].Context, "KeyError")
}

func TestIdentifyErrors_GenericFailureOnlyOnce(t *testing.T) {
	feedback := "the deploy failed, then logging showed another error downstream"
	errs := identifyErrors(feedback, 20)
	require.Len(t, errs, 1)
	require.Equal(t, "Failure", errs[0].ErrorType)
}

func TestIdentifyErrors_ContextNeverSplitsRune(t *testing.T) {
	feedback := repeatRune("日") + "TypeError" + repeatRune("本")
	errs := identifyErrors(feedback, 3)
	require.Len(t, errs, 1)
	for _, r := range errs[0].Context {
		require.NotEqual(t, rune(0xFFFD), r)
	}
}

func repeatRune(s string) string {
	out := ""
	for i := 0; i < 5; i++ {
		out += s
	}
	return out
}

func TestExtractInsights_TagsPatternGotchaBestPractice(t *testing.T) {
	goal := "Always validate input before writing to disk."
	result := "Be careful about watch out for race conditions."
	feedback := "We recommend preferring the batched writer."
	insights := extractInsights(goal, result, feedback, 0.7)

	var kinds []string
	for _, ins := range insights {
		kinds = append(kinds, ins.Kind)
	}
	require.Contains(t, kinds, "pattern")
	require.Contains(t, kinds, "gotcha")
	require.Contains(t, kinds, "best_practice")
}

func TestPipelineRun_PersistsMemoryAndPublishesEvent(t *testing.T) {
	p, mock := newTestPipeline(t, []float32{1, 0, 0})
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE id`).
		WillReturnRows(taskRow("t1", "ticket-1", "implement the widget", `{"summary":"added the widget"}`))
	mock.ExpectExec(`INSERT INTO task_memories`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT .* FROM playbook_entries WHERE ticket_id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ticket_id", "content", "category", "tags", "embedding",
			"supporting_memory_ids", "is_active", "created_by", "created_at", "updated_at",
		}))
	mock.ExpectQuery(`SELECT .* FROM playbook_entries WHERE ticket_id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ticket_id", "content", "category", "tags", "embedding",
			"supporting_memory_ids", "is_active", "created_by", "created_at", "updated_at",
		}))

	err := p.Run(context.Background(), "t1")
	require.NoError(t, err)
}
