// internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cua-tester/api/schemas"
	"github.com/xkilldash9x/cua-tester/internal/config"
)

const (
	steerBufferSize = 16
	recorderTimeout = 5 * time.Second
)

// LoopConfig bounds a run.
type LoopConfig struct {
	MaxSteps int
	// AcknowledgeDone reports a success outcome for the terminal marker
	// before the run ends.
	AcknowledgeDone bool
}

// LoopConfigFromConfig extracts the loop settings from the agent section.
func LoopConfigFromConfig(cfg config.AgentConfig) LoopConfig {
	return LoopConfig{MaxSteps: cfg.MaxSteps, AcknowledgeDone: cfg.AcknowledgeDone}
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithRecorder attaches a run recorder. Recorder failures are logged only.
func WithRecorder(r schemas.RunRecorder) LoopOption {
	return func(l *Loop) { l.recorder = r }
}

// Loop drives one run: ask the model, execute the action, report the result,
// until the model emits the terminal marker or something fails.
type Loop struct {
	session  schemas.ModelSession
	executor schemas.ActionExecutor
	recorder schemas.RunRecorder
	cfg      LoopConfig
	logger   *zap.Logger

	steer chan string

	mu    sync.RWMutex
	state schemas.RunState
}

// NewLoop wires a loop around a fresh session and an executor.
func NewLoop(session schemas.ModelSession, executor schemas.ActionExecutor, cfg LoopConfig, logger *zap.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		session:  session,
		executor: executor,
		cfg:      cfg,
		logger:   logger.Named("loop"),
		steer:    make(chan string, steerBufferSize),
		state:    schemas.StateStart,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current loop state.
func (l *Loop) State() schemas.RunState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Loop) setState(s schemas.RunState) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()
	l.logger.Debug("State transition", zap.String("from", string(prev)), zap.String("to", string(s)))
}

// Steer queues a free-text message for the model. It is delivered with the
// next screenshot report. Steer never blocks and reports false when the
// queue is full or the message is blank.
func (l *Loop) Steer(msg string) bool {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return false
	}
	select {
	case l.steer <- msg:
		return true
	default:
		l.logger.Warn("Steering queue full, dropping message")
		return false
	}
}

func (l *Loop) drainSteer() string {
	var msgs []string
	for {
		select {
		case m := <-l.steer:
			msgs = append(msgs, m)
		default:
			return strings.Join(msgs, "\n")
		}
	}
}

// Run executes the scenario. The result is always returned; the error is
// non-nil when the run ends Failed.
func (l *Loop) Run(ctx context.Context, runID string, scenario schemas.Scenario) (*schemas.RunResult, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	logger := l.logger.With(zap.String("run_id", runID))
	result := &schemas.RunResult{RunID: runID, StartedAt: time.Now().UTC()}

	l.setState(schemas.StateStart)
	l.recordStart(ctx, logger, runID, scenario, result.StartedAt)

	runErr := l.run(ctx, logger, result, scenario)

	result.Duration = time.Since(result.StartedAt)
	result.ResponseID = l.session.ResponseID()
	if runErr != nil {
		l.setState(schemas.StateFailed)
		result.Error = runErr.Error()
		logger.Error("Run failed", zap.Int("steps", result.Steps), zap.Error(runErr))
	} else {
		l.setState(schemas.StateDone)
		logger.Info("Run complete", zap.Int("steps", result.Steps), zap.Duration("duration", result.Duration))
	}
	result.State = l.State()

	l.recordFinish(ctx, logger, *result)
	return result, runErr
}

func (l *Loop) run(ctx context.Context, logger *zap.Logger, result *schemas.RunResult, scenario schemas.Scenario) error {
	l.setState(schemas.StateAwaitingFirstAction)
	logger.Info("Starting run", zap.String("scenario", scenario.Name))

	next, err := l.session.Initialize(ctx, scenario.Instructions, scenario.UserContext)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}

		if done, ok := next.Action.(schemas.MarkDone); ok {
			result.Summary = summarize(next, done)
			if l.cfg.AcknowledgeDone {
				outcome := schemas.ActionOutcome{Success: true, Action: schemas.KindMarkDone}
				if _, err := l.session.ReportFunctionOutcome(ctx, next.CallID, outcome); err != nil {
					logger.Warn("Failed to acknowledge the terminal marker", zap.Error(err))
				}
			}
			return nil
		}

		if l.cfg.MaxSteps > 0 && result.Steps >= l.cfg.MaxSteps {
			return fmt.Errorf("%w: %d steps without the terminal marker", ErrStepLimitExceeded, result.Steps)
		}

		next, err = l.step(ctx, logger, result, next)
		if err != nil {
			return err
		}
	}
}

// step executes one action and reports its outcome, returning the model's
// next prescription.
func (l *Loop) step(ctx context.Context, logger *zap.Logger, result *schemas.RunResult, current *schemas.NextAction) (*schemas.NextAction, error) {
	l.setState(schemas.StateExecutingAction)
	result.Steps++
	kind := current.Action.Kind()
	logger.Info("Executing action",
		zap.Int("step", result.Steps),
		zap.String("action", string(kind)),
		zap.String("call_id", current.CallID))

	started := time.Now()
	shot, execErr := l.executor.Execute(ctx, current.Action)
	if execErr == nil && shot == nil {
		execErr = schemas.NewActionError(schemas.ErrCodeExecutionFailure, kind, errors.New("executor returned no screenshot"))
	}

	step := schemas.StepRecord{
		RunID:      result.RunID,
		Index:      result.Steps,
		CallID:     current.CallID,
		ResponseID: current.ResponseID,
		Action:     kind,
		Params:     current.Action,
		Succeeded:  execErr == nil,
		Duration:   time.Since(started),
		StartedAt:  started.UTC(),
	}
	if execErr != nil {
		step.Error = execErr.Error()
	}
	l.recordStep(ctx, logger, step)

	l.setState(schemas.StateAwaitingNextAction)

	if execErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("run cancelled: %w", ctxErr)
		}
		outcome := schemas.ActionOutcome{
			Success:   false,
			Action:    kind,
			ErrorCode: string(schemas.ErrorCodeOf(execErr)),
			Error:     execErr.Error(),
		}
		logger.Warn("Action failed, reporting to model",
			zap.String("action", string(kind)),
			zap.String("error_code", outcome.ErrorCode),
			zap.Error(execErr))
		return l.session.ReportFunctionOutcome(ctx, current.CallID, outcome)
	}

	return l.session.ReportScreenshot(ctx, current.CallID, *shot, l.drainSteer())
}

func summarize(next *schemas.NextAction, done schemas.MarkDone) string {
	if next.Message != "" {
		return next.Message
	}
	if args := strings.TrimSpace(done.Arguments); args != "" && args != "{}" {
		return args
	}
	if n := len(next.Reasoning); n > 0 {
		return next.Reasoning[n-1]
	}
	return ""
}

// -- Recorder hooks --

func (l *Loop) recorderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recorderTimeout)
}

func (l *Loop) recordStart(ctx context.Context, logger *zap.Logger, runID string, scenario schemas.Scenario, startedAt time.Time) {
	if l.recorder == nil {
		return
	}
	rctx, cancel := l.recorderContext(ctx)
	defer cancel()
	if err := l.recorder.StartRun(rctx, runID, scenario, startedAt); err != nil {
		logger.Warn("Failed to record run start", zap.Error(err))
	}
}

func (l *Loop) recordStep(ctx context.Context, logger *zap.Logger, step schemas.StepRecord) {
	if l.recorder == nil {
		return
	}
	rctx, cancel := l.recorderContext(ctx)
	defer cancel()
	if err := l.recorder.RecordStep(rctx, step); err != nil {
		logger.Warn("Failed to record step", zap.Int("step", step.Index), zap.Error(err))
	}
}

func (l *Loop) recordFinish(ctx context.Context, logger *zap.Logger, result schemas.RunResult) {
	if l.recorder == nil {
		return
	}
	rctx, cancel := l.recorderContext(ctx)
	defer cancel()
	if err := l.recorder.FinishRun(rctx, result); err != nil {
		logger.Warn("Failed to record run result", zap.Error(err))
	}
}
