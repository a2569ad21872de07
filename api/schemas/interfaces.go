package schemas

import (
	"context"
)

// -- Conversation Interfaces --

// ModelSession owns the conversation with the external action-generating
// model. Implementations keep the continuation identifier between calls; each
// run uses its own instance.
type ModelSession interface {
	// Initialize sends the system framing and the task as the first turn.
	Initialize(ctx context.Context, taskInstructions, userContext string) (*NextAction, error)
	// ReportScreenshot reports a screenshot as the outcome of callID and,
	// when userMessage is non-empty, appends it as a steering message.
	ReportScreenshot(ctx context.Context, callID string, shot Screenshot, userMessage string) (*NextAction, error)
	// ReportFunctionOutcome reports a JSON-serializable outcome for callID.
	ReportFunctionOutcome(ctx context.Context, callID string, outcome any) (*NextAction, error)
	// ResponseID returns the most recent continuation identifier.
	ResponseID() string
}

// ActionExecutor performs UI actions against a browser.
type ActionExecutor interface {
	// Execute performs the action and returns a screenshot of the resulting state.
	Execute(ctx context.Context, action Action) (*Screenshot, error)
}
