package llmclient

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cua-tester/api/schemas"
)

func decodeResponse(t *testing.T, body string) *Response {
	t.Helper()
	var resp Response
	require.NoError(t, codec.Unmarshal([]byte(body), &resp))
	return &resp
}

func TestParseNextAction_ComputerActions(t *testing.T) {
	tests := []struct {
		name   string
		action string
		want   schemas.Action
	}{
		{"click", `{"type":"click","button":"right","x":10,"y":20}`, schemas.ClickAction{Button: schemas.ButtonRight, X: 10, Y: 20}},
		{"click defaults to left", `{"type":"click","x":1,"y":2}`, schemas.ClickAction{Button: schemas.ButtonLeft, X: 1, Y: 2}},
		{"double click", `{"type":"double_click","x":3,"y":4}`, schemas.DoubleClickAction{X: 3, Y: 4}},
		{"drag", `{"type":"drag","path":[{"x":0,"y":0},{"x":5,"y":6}]}`, schemas.DragAction{Path: []schemas.Point{{X: 0, Y: 0}, {X: 5, Y: 6}}}},
		{"move", `{"type":"move","x":7,"y":8}`, schemas.MoveAction{X: 7, Y: 8}},
		{"type", `{"type":"type","text":"cua@example.com"}`, schemas.TypeAction{Text: "cua@example.com"}},
		{"keypress", `{"type":"keypress","keys":["CTRL","A"]}`, schemas.KeypressAction{Keys: []string{"CTRL", "A"}}},
		{"scroll", `{"type":"scroll","x":100,"y":200,"scroll_x":0,"scroll_y":300}`, schemas.ScrollAction{X: 100, Y: 200, ScrollY: 300}},
		{"wait", `{"type":"wait"}`, schemas.WaitAction{}},
		{"screenshot", `{"type":"screenshot"}`, schemas.ScreenshotAction{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeResponse(t, `{"id":"resp_1","output":[{"type":"computer_call","call_id":"call_1","action":`+tt.action+`}]}`)
			next, err := ParseNextAction(resp)
			require.NoError(t, err)
			assert.Equal(t, "resp_1", next.ResponseID)
			assert.Equal(t, "call_1", next.CallID)
			if diff := cmp.Diff(tt.want, next.Action); diff != "" {
				t.Errorf("action mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseNextAction_FullReply(t *testing.T) {
	resp := decodeResponse(t, `{
	  "id": "resp_7",
	  "output": [
	    {"type": "reasoning", "id": "rs_1", "summary": [{"type": "summary_text", "text": "The login form is visible."}]},
	    {"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "Clicking the email field."}]},
	    {"type": "computer_call", "call_id": "call_7", "action": {"type": "click", "button": "left", "x": 400, "y": 300},
	     "pending_safety_checks": [{"id": "sc_1", "code": "malicious_instructions", "message": "Check the page."}]},
	    {"type": "computer_call", "call_id": "call_8", "action": {"type": "wait"}}
	  ]
	}`)

	next, err := ParseNextAction(resp)
	require.NoError(t, err)

	want := &schemas.NextAction{
		ResponseID: "resp_7",
		CallID:     "call_7",
		Action:     schemas.ClickAction{Button: schemas.ButtonLeft, X: 400, Y: 300},
		PendingSafetyChecks: []schemas.SafetyCheck{
			{ID: "sc_1", Code: "malicious_instructions", Message: "Check the page."},
		},
		Reasoning: []string{"The login form is visible."},
		Message:   "Clicking the email field.",
	}
	if diff := cmp.Diff(want, next); diff != "" {
		t.Errorf("NextAction mismatch (-want +got):\n%s", diff)
	}
}

func TestParseNextAction_MarkDone(t *testing.T) {
	resp := decodeResponse(t, `{"id":"resp_9","output":[{"type":"function_call","name":"mark_done","arguments":"{}","call_id":"call_9"}]}`)
	next, err := ParseNextAction(resp)
	require.NoError(t, err)
	assert.Equal(t, schemas.MarkDone{Arguments: "{}"}, next.Action)
	assert.True(t, schemas.IsTerminal(next.Action))
	assert.Equal(t, "call_9", next.CallID)
}

func TestParseNextAction_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"only a message", `{"id":"r","output":[{"type":"message","content":[{"type":"output_text","text":"done?"}]}]}`, ErrNoAction},
		{"empty output", `{"id":"r","output":[]}`, ErrNoAction},
		{"unknown action", `{"id":"r","output":[{"type":"computer_call","call_id":"c","action":{"type":"teleport"}}]}`, ErrUnknownAction},
		{"missing action", `{"id":"r","output":[{"type":"computer_call","call_id":"c"}]}`, ErrUnknownAction},
		{"unknown function", `{"id":"r","output":[{"type":"function_call","name":"rm_rf","call_id":"c"}]}`, ErrUnknownFunction},
		{"missing call id", `{"id":"r","output":[{"type":"computer_call","action":{"type":"wait"}}]}`, ErrNoAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNextAction(decodeResponse(t, tt.body))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := ParseNextAction(nil)
	assert.ErrorIs(t, err, ErrNoAction)
}
