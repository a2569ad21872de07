package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cua-tester/api/schemas"
	"github.com/xkilldash9x/cua-tester/internal/config"
	"github.com/xkilldash9x/cua-tester/internal/llmclient"
	"github.com/xkilldash9x/cua-tester/internal/observability"
)

// scriptedModel serves canned Responses replies in order and records what
// the session sent.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	received []map[string]any
}

func (m *scriptedModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.received = append(m.received, body)

	if len(m.replies) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"script exhausted","type":"server_error"}}`))
		return
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(reply))
}

func TestLoop_EndToEndOverHTTP(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"id":"resp_1","output":[
		  {"type":"reasoning","summary":[{"type":"summary_text","text":"Open the login form."}]},
		  {"type":"computer_call","call_id":"call_1","action":{"type":"click","button":"left","x":900,"y":40},
		   "pending_safety_checks":[{"id":"sc_1","code":"irrelevant_domain","message":"Check domain."}]}]}`,
		`{"id":"resp_2","output":[{"type":"computer_call","call_id":"call_2","action":{"type":"type","text":"cua@example.com"}}]}`,
		`{"id":"resp_3","output":[{"type":"function_call","name":"mark_done","arguments":"{}","call_id":"call_3"}]}`,
	}}
	server := httptest.NewServer(model)
	defer server.Close()

	llmCfg := config.LLMConfig{
		Provider: config.ProviderOpenAI,
		Model:    "computer-use-preview",
		APIKey:   "test-key",
		Endpoint: server.URL,
	}
	client, err := llmclient.NewClient(llmCfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	core, auditLogs := observer.New(zap.InfoLevel)
	opts := testSessionOptions()
	session := NewModelSession(client, opts, observability.NewAuditLoggerFromZap(zap.New(core)), zaptest.NewLogger(t))

	executor := new(MockExecutor)
	shot := pngShot(0x89, 'P', 'N', 'G')
	executor.On("Execute", mock.Anything, schemas.ClickAction{Button: schemas.ButtonLeft, X: 900, Y: 40}).
		Return(nil, schemas.NewActionError(schemas.ErrCodeTimeoutError, schemas.KindClick, context.DeadlineExceeded)).Once()
	executor.On("Execute", mock.Anything, schemas.TypeAction{Text: "cua@example.com"}).Return(shot, nil).Once()

	loop := NewLoop(session, executor, LoopConfig{MaxSteps: 5}, zaptest.NewLogger(t))
	result, err := loop.Run(context.Background(), "e2e", loginScenario())
	require.NoError(t, err)
	executor.AssertExpectations(t)

	assert.Equal(t, schemas.StateDone, result.State)
	assert.Equal(t, 2, result.Steps)
	assert.Equal(t, "resp_3", result.ResponseID)
	assert.Equal(t, "resp_3", session.ResponseID())

	model.mu.Lock()
	defer model.mu.Unlock()
	require.Len(t, model.received, 3)

	assert.NotContains(t, model.received[0], "previous_response_id")
	assert.Equal(t, "resp_1", model.received[1]["previous_response_id"])
	assert.Equal(t, "resp_2", model.received[2]["previous_response_id"])

	failure := model.received[1]["input"].([]any)[0].(map[string]any)
	assert.Equal(t, "function_call_output", failure["type"])
	assert.Equal(t, "call_1", failure["call_id"])
	var outcome map[string]any
	require.NoError(t, json.Unmarshal([]byte(failure["output"].(string)), &outcome))
	assert.Equal(t, false, outcome["success"])
	assert.Equal(t, "TIMEOUT_ERROR", outcome["error_code"])

	screenshot := model.received[2]["input"].([]any)[0].(map[string]any)
	assert.Equal(t, "computer_call_output", screenshot["type"])
	assert.Equal(t, "call_2", screenshot["call_id"])
	assert.Equal(t, map[string]any{"type": "computer_screenshot", "image_url": shot.DataURL()}, screenshot["output"])

	assert.Equal(t, 3, auditLogs.FilterField(zap.String("type", observability.AuditResponse)).Len())
	assert.Equal(t, 1, auditLogs.FilterField(zap.String("type", observability.AuditFunctionOutput)).Len())
	assert.Equal(t, 1, auditLogs.FilterField(zap.String("type", observability.AuditScreenshot)).Len())
}
