package schemas

import (
	"context"
	"time"
)

// -- Run Schemas --

// RunState is a state of the conversation loop.
type RunState string

const (
	StateStart               RunState = "START"
	StateAwaitingFirstAction RunState = "AWAITING_FIRST_ACTION"
	StateExecutingAction     RunState = "EXECUTING_ACTION"
	StateAwaitingNextAction  RunState = "AWAITING_NEXT_ACTION"
	StateDone                RunState = "DONE"
	StateFailed              RunState = "FAILED"
)

// Terminal reports whether no further transition can happen from the state.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Scenario is the scripted test a run executes.
type Scenario struct {
	Name         string `json:"name"`
	TargetURL    string `json:"target_url"`
	Instructions string `json:"instructions"`
	UserContext  string `json:"user_context"`
}

// StepRecord describes one completed round-trip.
type StepRecord struct {
	RunID      string        `json:"run_id"`
	Index      int           `json:"index"`
	CallID     string        `json:"call_id"`
	ResponseID string        `json:"response_id"`
	Action     ActionKind    `json:"action"`
	Params     Action        `json:"params"`
	Succeeded  bool          `json:"succeeded"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
}

// RunResult is what the loop exposes to its caller once it stops.
type RunResult struct {
	RunID      string        `json:"run_id"`
	State      RunState      `json:"state"`
	Steps      int           `json:"steps"`
	ResponseID string        `json:"response_id,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the run reached the terminal marker.
func (r RunResult) Succeeded() bool {
	return r.State == StateDone
}

// RunRecorder receives the lifecycle of a run for persistence.
type RunRecorder interface {
	StartRun(ctx context.Context, runID string, scenario Scenario, startedAt time.Time) error
	RecordStep(ctx context.Context, step StepRecord) error
	FinishRun(ctx context.Context, result RunResult) error
}
