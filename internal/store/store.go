package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cua-tester/api/schemas"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateRuns = `
        CREATE TABLE IF NOT EXISTS cua_runs (
            id TEXT PRIMARY KEY,
            scenario TEXT NOT NULL,
            target_url TEXT NOT NULL,
            instructions TEXT NOT NULL,
            state TEXT NOT NULL,
            steps INTEGER NOT NULL DEFAULT 0,
            response_id TEXT,
            summary TEXT,
            error TEXT,
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ,
            duration_ms BIGINT
        );
    `
	sqlCreateSteps = `
        CREATE TABLE IF NOT EXISTS cua_steps (
            run_id TEXT NOT NULL REFERENCES cua_runs (id) ON DELETE CASCADE,
            step_index INTEGER NOT NULL,
            call_id TEXT NOT NULL,
            response_id TEXT NOT NULL,
            action TEXT NOT NULL,
            params JSONB NOT NULL,
            succeeded BOOLEAN NOT NULL,
            error TEXT,
            started_at TIMESTAMPTZ NOT NULL,
            duration_ms BIGINT NOT NULL,
            PRIMARY KEY (run_id, step_index)
        );
    `
	sqlInsertRun = `
        INSERT INTO cua_runs (id, scenario, target_url, instructions, state, started_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	sqlInsertStep = `
        INSERT INTO cua_steps (run_id, step_index, call_id, response_id, action, params, succeeded, error, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (run_id, step_index) DO NOTHING;
    `
	sqlUpdateRunSteps = `
        UPDATE cua_runs SET steps = GREATEST(steps, $2), state = $3 WHERE id = $1;
    `
	sqlFinishRun = `
        UPDATE cua_runs
        SET state = $2, steps = $3, response_id = $4, summary = $5, error = $6, finished_at = $7, duration_ms = $8
        WHERE id = $1;
    `
)

// Store persists runs and their steps in PostgreSQL. It implements
// schemas.RunRecorder.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.RunRecorder = (*Store)(nil)

// New creates a new store instance, verifies the connection and ensures the
// tables exist.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		pool: pool,
		log:  logger.Named("store"),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, ddl := range []string{sqlCreateRuns, sqlCreateSteps} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// StartRun inserts the run row in the Start state.
func (s *Store) StartRun(ctx context.Context, runID string, scenario schemas.Scenario, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx, sqlInsertRun,
		runID, scenario.Name, scenario.TargetURL, scenario.Instructions,
		string(schemas.StateStart), startedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	s.log.Debug("Run recorded", zap.String("run_id", runID))
	return nil
}

// RecordStep inserts a step and advances the run's step counter in one
// transaction.
func (s *Store) RecordStep(ctx context.Context, step schemas.StepRecord) error {
	params, err := encodeParams(step.Params)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertStep,
		step.RunID, step.Index, step.CallID, step.ResponseID, string(step.Action),
		params, step.Succeeded, nullable(step.Error), step.StartedAt.UTC(), step.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("failed to insert step %d of run %s: %w", step.Index, step.RunID, err)
	}

	tag, err := tx.Exec(ctx, sqlUpdateRunSteps, step.RunID, step.Index, string(schemas.StateAwaitingNextAction))
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", step.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", step.RunID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// FinishRun stores the terminal state and summary of a run.
func (s *Store) FinishRun(ctx context.Context, result schemas.RunResult) error {
	finishedAt := result.StartedAt.Add(result.Duration).UTC()
	tag, err := s.pool.Exec(ctx, sqlFinishRun,
		result.RunID, string(result.State), result.Steps,
		nullable(result.ResponseID), nullable(result.Summary), nullable(result.Error),
		finishedAt, result.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", result.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", result.RunID)
	}
	s.log.Debug("Run finished", zap.String("run_id", result.RunID), zap.String("state", string(result.State)))
	return nil
}

// encodeParams renders the action parameters for the JSONB column. Actions
// without parameters become an empty object.
func encodeParams(a schemas.Action) ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	b, err := codec.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s parameters: %w", a.Kind(), err)
	}
	if string(b) == "null" {
		return []byte("{}"), nil
	}
	return b, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
