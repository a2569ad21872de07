// internal/agent/errors.go
package agent

import (
	"errors"

	"github.com/xkilldash9x/cua-tester/internal/llmclient"
)

var (
	// ErrModelCall wraps any transport or API failure talking to the model.
	ErrModelCall = errors.New("model call failed")
	// ErrMalformedReply means the model replied without a usable action.
	ErrMalformedReply = errors.New("malformed model reply")
	// ErrUnknownAction means the reply named an action outside the supported set.
	ErrUnknownAction = llmclient.ErrUnknownAction
	// ErrStepLimitExceeded means the run hit agent.max_steps before the terminal marker.
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	// ErrCallMismatch means an outcome was reported for a call that is not pending.
	ErrCallMismatch = errors.New("outcome does not match the pending call")
	// ErrAlreadyInitialized means Initialize was called twice on one session.
	ErrAlreadyInitialized = errors.New("model session already initialized")
)
