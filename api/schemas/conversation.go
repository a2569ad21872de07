package schemas

import (
	"encoding/base64"
	"time"
)

// -- Model Conversation Schemas --

// SafetyCheck is a check the model attached to a computer call. It has to be
// acknowledged on the next outcome report before the model will proceed.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NextAction is the single action prescribed by one model reply.
type NextAction struct {
	// ResponseID is the continuation identifier issued with this reply.
	ResponseID string
	// CallID ties the outcome report back to this action.
	CallID string
	Action Action
	// PendingSafetyChecks must be acknowledged with the next screenshot.
	PendingSafetyChecks []SafetyCheck
	// Reasoning holds the summary texts the model returned, if any.
	Reasoning []string
	// Message holds any assistant text returned alongside the action.
	Message string
}

// Screenshot is a transient image of the browser viewport. It lives only for
// the round-trip that carries it to the model.
type Screenshot struct {
	Data       []byte
	MIMEType   string
	CapturedAt time.Time
}

// Base64 returns the standard base64 encoding of the image bytes.
func (s Screenshot) Base64() string {
	return base64.StdEncoding.EncodeToString(s.Data)
}

// DataURL renders the screenshot as a data URL suitable for image inputs.
func (s Screenshot) DataURL() string {
	mime := s.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + s.Base64()
}

// ActionOutcome is the function-style outcome object reported to the model
// when a UI action could not be executed.
type ActionOutcome struct {
	Success   bool       `json:"success"`
	Action    ActionKind `json:"action,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	Error     string     `json:"error,omitempty"`
}
