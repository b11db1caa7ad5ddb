package validation

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

type fakeDiag struct {
	repeatedCalls []int
	timeoutCalls  []string
}

func (f *fakeDiag) TriggerRepeatedFailures(ctx context.Context, ticketID string, consecutiveFailures int) {
	f.repeatedCalls = append(f.repeatedCalls, consecutiveFailures)
}
func (f *fakeDiag) TriggerValidatorTimeout(ctx context.Context, ticketID, taskID string) {
	f.timeoutCalls = append(f.timeoutCalls, taskID)
}

type fakeACE struct{ calls []string }

func (f *fakeACE) Run(ctx context.Context, taskID string) error {
	f.calls = append(f.calls, taskID)
	return nil
}

func newTestOrchestrator(t *testing.T, diag DiagnosticTrigger, ace ACEInvoker) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := storage.NewClientFromDB(db)
	bus := events.NewBus(time.Second)
	o := New(client.Tasks, client.Tickets, client.Validation, client.Agents, bus, config.DefaultValidationConfig(), diag, ace)
	return o, mock
}

func taskRowFor(status storage.TaskStatus, validationEnabled bool, iteration int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(splitColumns()).AddRow(
		"task-1", "ticket-1", "phase-1", "implement", "do the thing",
		string(storage.PriorityHigh), string(status), nil, nil, nil, nil, 0, 3, nil, 0.5,
		validationEnabled, iteration, false, nil, "{}", "{}", "{}", nil, now, now, nil, nil,
	)
}

// splitColumns mirrors the storage package's test helper for the fixed
// taskColumns shape, duplicated here since it's unexported there.
func splitColumns() []string {
	return []string{
		"id", "ticket_id", "phase_id", "task_type", "description", "priority", "status",
		"assigned_agent_id", "sandbox_id", "result", "error_message", "retry_count",
		"max_retries", "deadline_at", "score", "validation_enabled", "validation_iteration",
		"review_done", "last_validation_feedback", "owned_files", "dependencies",
		"embedding_vector", "content_hash", "created_at", "updated_at", "claimed_at",
		"completed_at",
	}
}

func TestSubmit_RequiresCommitSHAWhenValidationEnabled(t *testing.T) {
	o, mock := newTestOrchestrator(t, nil, nil)
	mock.ExpectQuery(`SELECT .* FROM tasks`).WillReturnRows(taskRowFor(storage.TaskRunning, true, 0))

	err := o.Submit(context.Background(), "task-1", "", "validator-1")
	require.Error(t, err)
}

func TestSubmit_SpawnsValidatorWhenValidationEnabled(t *testing.T) {
	o, mock := newTestOrchestrator(t, nil, nil)
	mock.ExpectQuery(`SELECT .* FROM tasks`).WillReturnRows(taskRowFor(storage.TaskRunning, true, 0))
	mock.ExpectExec(`UPDATE tasks SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tasks SET status`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := o.Submit(context.Background(), "task-1", "c1", "validator-1")
	require.NoError(t, err)

	agentID, ok := o.active.ValidatorFor("task-1")
	require.True(t, ok)
	require.Equal(t, "validator-1", agentID)
}

func TestGiveReview_RejectsNonValidatorAgent(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	err := o.GiveReview(context.Background(), "worker", "task-1", "agent-1", true, "", nil, nil)
	require.Error(t, err)
}

func TestGiveReview_RejectsEmptyFeedbackOnFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	err := o.GiveReview(context.Background(), "validator", "task-1", "agent-1", false, "", nil, nil)
	require.Error(t, err)
}

func TestGiveReview_PassTransitionsToDoneAndInvokesACE(t *testing.T) {
	ace := &fakeACE{}
	o, mock := newTestOrchestrator(t, nil, ace)
	mock.ExpectQuery(`SELECT .* FROM tasks`).WillReturnRows(taskRowFor(storage.TaskValidationInProgress, true, 1))
	mock.ExpectExec(`INSERT INTO validation_reviews`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tasks SET status`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := o.GiveReview(context.Background(), "validator", "task-1", "validator-1", true, "ok", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"task-1"}, ace.calls)
}

func TestGiveReview_RepeatedFailureTriggersDiagnostic(t *testing.T) {
	diag := &fakeDiag{}
	o, mock := newTestOrchestrator(t, diag, nil)
	mock.ExpectQuery(`SELECT .* FROM tasks`).WillReturnRows(taskRowFor(storage.TaskValidationInProgress, true, 2))
	mock.ExpectExec(`INSERT INTO validation_reviews`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tasks SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, task_id, validator_agent_id.*FROM validation_reviews`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_id", "validator_agent_id", "iteration_number", "validation_passed",
			"feedback", "evidence", "recommendations", "created_at",
		}).
			AddRow("r1", "task-1", "v1", 1, false, "err1", nil, nil, time.Now()).
			AddRow("r2", "task-1", "v1", 2, false, "err2", nil, nil, time.Now()))

	err := o.GiveReview(context.Background(), "validator", "task-1", "validator-1", false, "err2", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []int{2}, diag.repeatedCalls)
}
