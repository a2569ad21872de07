// internal/agent/session.go
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cua-tester/api/schemas"
	"github.com/xkilldash9x/cua-tester/internal/config"
	"github.com/xkilldash9x/cua-tester/internal/llmclient"
	"github.com/xkilldash9x/cua-tester/internal/observability"
)

// SessionOptions configures a ModelSession.
type SessionOptions struct {
	Request llmclient.RequestOptions
	// RoundTripTimeout bounds each model call. Zero means no extra deadline.
	RoundTripTimeout        time.Duration
	EnvInstructions         string
	AcknowledgeSafetyChecks bool
}

// SessionOptionsFromConfig derives session options from the agent and browser
// sections; the display size advertised to the model is the browser viewport.
func SessionOptionsFromConfig(agentCfg config.AgentConfig, browserCfg config.BrowserConfig) SessionOptions {
	return SessionOptions{
		Request: llmclient.RequestOptions{
			Model:            agentCfg.LLM.Model,
			DisplayWidth:     browserCfg.DisplayWidth,
			DisplayHeight:    browserCfg.DisplayHeight,
			ReasoningSummary: agentCfg.LLM.ReasoningSummary,
			Truncation:       agentCfg.LLM.Truncation,
		},
		RoundTripTimeout:        agentCfg.RoundTripTimeout,
		EnvInstructions:         agentCfg.EnvInstructions,
		AcknowledgeSafetyChecks: agentCfg.AcknowledgeSafetyChecks,
	}
}

// ModelSession is the conversation with the computer-use model for one run.
// It keeps the continuation identifier and the pending call between
// round-trips so callers never thread them through.
type ModelSession struct {
	client llmclient.Client
	audit  *observability.AuditLogger
	logger *zap.Logger
	opts   SessionOptions

	mu               sync.Mutex
	responseID       string
	pendingCallID    string
	pendingChecks    []schemas.SafetyCheck
	taskInstructions string
	userContext      string
}

var _ schemas.ModelSession = (*ModelSession)(nil)

// NewModelSession creates a session. audit may be nil.
func NewModelSession(client llmclient.Client, opts SessionOptions, audit *observability.AuditLogger, logger *zap.Logger) *ModelSession {
	return &ModelSession{
		client: client,
		audit:  audit,
		logger: logger.Named("model_session"),
		opts:   opts,
	}
}

// ResponseID returns the continuation identifier of the most recent reply.
func (s *ModelSession) ResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseID
}

// PendingCallID returns the call awaiting an outcome, if any.
func (s *ModelSession) PendingCallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCallID
}

// Initialize opens the conversation with the system framing and the task.
func (s *ModelSession) Initialize(ctx context.Context, taskInstructions, userContext string) (*schemas.NextAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.responseID != "" {
		return nil, ErrAlreadyInitialized
	}
	s.taskInstructions = taskInstructions
	s.userContext = userContext

	prompt := BuildSystemPrompt(s.opts.EnvInstructions)
	s.audit.Initialization(prompt, taskInstructions, userContext != "")

	input := []llmclient.InputItem{
		llmclient.SystemMessage(prompt),
		llmclient.UserMessage(FormatTaskMessage(taskInstructions, userContext)),
	}
	return s.roundTrip(ctx, input)
}

// ReportScreenshot reports the screenshot taken after callID was executed,
// optionally followed by a steering message from the user.
func (s *ModelSession) ReportScreenshot(ctx context.Context, callID string, shot schemas.Screenshot, userMessage string) (*schemas.NextAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPending(callID); err != nil {
		return nil, err
	}

	var acknowledged []llmclient.SafetyCheck
	if s.opts.AcknowledgeSafetyChecks {
		for _, sc := range s.pendingChecks {
			acknowledged = append(acknowledged, llmclient.SafetyCheck(sc))
		}
		if len(acknowledged) > 0 {
			s.logger.Info("Acknowledging pending safety checks",
				zap.String("call_id", callID), zap.Int("count", len(acknowledged)))
		}
	}

	input := []llmclient.InputItem{llmclient.ScreenshotOutput(callID, shot.DataURL(), acknowledged)}
	s.audit.Screenshot(callID, s.responseID, len(shot.Data), userMessage != "")
	if userMessage != "" {
		s.audit.UserMessage(userMessage)
		input = append(input, llmclient.UserMessage(userMessage))
	}
	return s.roundTrip(ctx, input)
}

// ReportFunctionOutcome reports a JSON-serializable outcome for callID.
func (s *ModelSession) ReportFunctionOutcome(ctx context.Context, callID string, outcome any) (*schemas.NextAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPending(callID); err != nil {
		return nil, err
	}
	item, err := llmclient.FunctionOutput(callID, outcome)
	if err != nil {
		return nil, err
	}
	s.audit.FunctionOutput(callID, s.responseID, outcome)
	return s.roundTrip(ctx, []llmclient.InputItem{item})
}

func (s *ModelSession) checkPending(callID string) error {
	if s.pendingCallID == "" {
		return fmt.Errorf("%w: no call is pending (got %q)", ErrCallMismatch, callID)
	}
	if callID != s.pendingCallID {
		return fmt.Errorf("%w: pending %q, got %q", ErrCallMismatch, s.pendingCallID, callID)
	}
	return nil
}

// roundTrip sends one request continuing the stored response id. The caller
// holds s.mu.
func (s *ModelSession) roundTrip(ctx context.Context, input []llmclient.InputItem) (*schemas.NextAction, error) {
	req := llmclient.NewRequest(s.opts.Request, input, s.responseID)
	endpoint := s.client.Endpoint()
	s.audit.Request(endpoint, req.Redacted())

	callCtx := ctx
	if s.opts.RoundTripTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.RoundTripTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.client.CreateResponse(callCtx, req)
	if err != nil {
		s.logger.Error("Model call failed",
			zap.String("previous_response_id", s.responseID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrModelCall, err)
	}
	s.audit.Response(endpoint, resp.ID, resp)

	// The reply id is stored even when the reply is unusable.
	s.responseID = resp.ID
	s.pendingCallID = ""
	s.pendingChecks = nil

	next, err := llmclient.ParseNextAction(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	s.pendingCallID = next.CallID
	s.pendingChecks = next.PendingSafetyChecks

	s.logger.Debug("Model prescribed next action",
		zap.String("response_id", next.ResponseID),
		zap.String("call_id", next.CallID),
		zap.String("action", string(next.Action.Kind())),
		zap.Strings("reasoning", next.Reasoning),
		zap.Duration("duration", time.Since(start)))
	return next, nil
}
