package agent

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cua-tester/api/schemas"
	"github.com/xkilldash9x/cua-tester/internal/llmclient"
)

// -- Model Session Mock --

type MockModelSession struct {
	mock.Mock
}

func nextOrNil(args mock.Arguments) (*schemas.NextAction, error) {
	if v := args.Get(0); v != nil {
		return v.(*schemas.NextAction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockModelSession) Initialize(ctx context.Context, task, userContext string) (*schemas.NextAction, error) {
	return nextOrNil(m.Called(ctx, task, userContext))
}

func (m *MockModelSession) ReportScreenshot(ctx context.Context, callID string, shot schemas.Screenshot, userMessage string) (*schemas.NextAction, error) {
	return nextOrNil(m.Called(ctx, callID, shot, userMessage))
}

func (m *MockModelSession) ReportFunctionOutcome(ctx context.Context, callID string, outcome any) (*schemas.NextAction, error) {
	return nextOrNil(m.Called(ctx, callID, outcome))
}

func (m *MockModelSession) ResponseID() string {
	return m.Called().String(0)
}

// -- Action Executor Mock --

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, action schemas.Action) (*schemas.Screenshot, error) {
	args := m.Called(ctx, action)
	if v := args.Get(0); v != nil {
		return v.(*schemas.Screenshot), args.Error(1)
	}
	return nil, args.Error(1)
}

// -- Run Recorder Mock --

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) StartRun(ctx context.Context, runID string, scenario schemas.Scenario, startedAt time.Time) error {
	return m.Called(ctx, runID, scenario, startedAt).Error(0)
}

func (m *MockRecorder) RecordStep(ctx context.Context, step schemas.StepRecord) error {
	return m.Called(ctx, step).Error(0)
}

func (m *MockRecorder) FinishRun(ctx context.Context, result schemas.RunResult) error {
	return m.Called(ctx, result).Error(0)
}

// -- Responses Client Mock --

type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateResponse(ctx context.Context, req *llmclient.ResponseRequest) (*llmclient.Response, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*llmclient.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Endpoint() string {
	return "http://model.test/responses"
}

// -- Reply Builders --

func computerCall(respID, callID string, action string) *llmclient.Response {
	return &llmclient.Response{
		ID: respID,
		Output: []llmclient.OutputItem{{
			Type:   llmclient.ItemComputerCall,
			CallID: callID,
			Action: []byte(action),
		}},
	}
}

func markDoneReply(respID, callID string) *llmclient.Response {
	return &llmclient.Response{
		ID: respID,
		Output: []llmclient.OutputItem{
			{Type: llmclient.ItemMessage, Content: []llmclient.ContentPart{{Type: "output_text", Text: "Logged out."}}},
			{Type: llmclient.ItemFunctionCall, Name: llmclient.MarkDoneFunction, Arguments: "{}", CallID: callID},
		},
	}
}

func prescribe(respID, callID string, action schemas.Action) *schemas.NextAction {
	return &schemas.NextAction{ResponseID: respID, CallID: callID, Action: action}
}

func pngShot(b ...byte) *schemas.Screenshot {
	return &schemas.Screenshot{Data: b, MIMEType: "image/png"}
}
