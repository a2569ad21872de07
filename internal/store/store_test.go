package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cua-tester/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// jsonArg matches a JSON-encoded argument against want, ignoring formatting.
func jsonArg(t *testing.T, want string) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		b, ok := v.([]byte)
		if !ok {
			return false
		}
		var got, exp any
		if err := json.Unmarshal(b, &got); err != nil {
			t.Logf("argument is not JSON: %v", err)
			return false
		}
		require.NoError(t, json.Unmarshal([]byte(want), &exp))
		return assert.ObjectsAreEqual(exp, got)
	}
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool
}

func expectMigration(mockPool pgxmock.PgxPoolIface) {
	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateRuns)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateSteps)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
}

func newTestStore(t *testing.T, mockPool pgxmock.PgxPoolIface, logger *zap.Logger) *Store {
	t.Helper()
	expectMigration(mockPool)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool := newMockPool(t)
		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err := New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create tables", func(t *testing.T) {
		mockPool := newMockPool(t)
		newTestStore(t, mockPool, zap.NewNop())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the schema cannot be created", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateRuns)).WillReturnError(errors.New("permission denied"))

		_, err := New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create schema")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

// anyArgs matches n arguments of any value. pgxmock compares the argument
// count even when the values are irrelevant to the test.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestStartRun(t *testing.T) {
	mockPool := newMockPool(t)
	store := newTestStore(t, mockPool, zap.NewNop())

	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	scenario := schemas.Scenario{
		Name:         "login",
		TargetURL:    "https://example.test/",
		Instructions: "Log in then log out",
	}
	mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs("run-1", "login", "https://example.test/", "Log in then log out", string(schemas.StateStart), startedAt.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StartRun(context.Background(), "run-1", scenario, startedAt))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordStep(t *testing.T) {
	ctx := context.Background()
	step := schemas.StepRecord{
		RunID:      "run-1",
		Index:      2,
		CallID:     "call_2",
		ResponseID: "resp_2",
		Action:     schemas.KindClick,
		Params:     schemas.ClickAction{Button: schemas.ButtonLeft, X: 10, Y: 20},
		Succeeded:  true,
		Duration:   1500 * time.Millisecond,
		StartedAt:  time.Now(),
	}

	t.Run("should insert the step and bump the run in one transaction", func(t *testing.T) {
		mockPool := newMockPool(t)
		core, logs := observer.New(zapcore.ErrorLevel)
		store := newTestStore(t, mockPool, zap.New(core))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs("run-1", 2, "call_2", "resp_2", "click",
				jsonArg(t, `{"button":"left","x":10,"y":20}`), true, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1500)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateRunSteps)).
			WithArgs("run-1", 2, string(schemas.StateAwaitingNextAction)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		require.NoError(t, store.RecordStep(ctx, step))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.Len(), "no rollback errors expected after commit")
	})

	t.Run("should roll back when the insert fails", func(t *testing.T) {
		mockPool := newMockPool(t)
		store := newTestStore(t, mockPool, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs(anyArgs(10)...).
			WillReturnError(errors.New("disk full"))
		mockPool.ExpectRollback()

		err := store.RecordStep(ctx, step)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert step 2 of run run-1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the run is unknown", func(t *testing.T) {
		mockPool := newMockPool(t)
		store := newTestStore(t, mockPool, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs(anyArgs(10)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateRunSteps)).
			WithArgs("run-1", 2, string(schemas.StateAwaitingNextAction)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectRollback()

		err := store.RecordStep(ctx, step)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run run-1 not found")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should store parameterless actions as an empty object", func(t *testing.T) {
		mockPool := newMockPool(t)
		store := newTestStore(t, mockPool, zap.NewNop())

		wait := step
		wait.Action = schemas.KindWait
		wait.Params = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "wait",
				jsonArg(t, `{}`), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateRunSteps)).
			WithArgs(anyArgs(3)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		require.NoError(t, store.RecordStep(ctx, wait))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestFinishRun(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	result := schemas.RunResult{
		RunID:      "run-1",
		State:      schemas.StateDone,
		Steps:      7,
		ResponseID: "resp_9",
		Summary:    "Logged out.",
		StartedAt:  started,
		Duration:   42 * time.Second,
	}

	t.Run("should store the terminal state", func(t *testing.T) {
		mockPool := newMockPool(t)
		store := newTestStore(t, mockPool, zap.NewNop())

		summary, responseID := "Logged out.", "resp_9"
		mockPool.ExpectExec(flexibleSQLMatcher(sqlFinishRun)).
			WithArgs("run-1", "DONE", 7, &responseID, &summary, (*string)(nil), started.Add(42*time.Second), int64(42000)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.FinishRun(context.Background(), result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a missing run", func(t *testing.T) {
		mockPool := newMockPool(t)
		store := newTestStore(t, mockPool, zap.NewNop())

		mockPool.ExpectExec(flexibleSQLMatcher(sqlFinishRun)).
			WithArgs(anyArgs(8)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.FinishRun(context.Background(), result)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
