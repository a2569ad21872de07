package schemas

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies why a UI action could not be executed. It is reported
// back to the model inside the failure outcome.
type ErrorCode string

const (
	ErrCodeElementNotFound   ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeoutError      ErrorCode = "TIMEOUT_ERROR"
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
)

// ActionError is returned by executors when an action fails.
type ActionError struct {
	Code   ErrorCode
	Action ActionKind
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Action, e.Code, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewActionError wraps err with a code and the failing action kind.
func NewActionError(code ErrorCode, kind ActionKind, err error) error {
	return &ActionError{Code: code, Action: kind, Err: err}
}

// ErrorCodeOf extracts the code from an ActionError anywhere in err's chain.
// Deadline errors without a code map to TIMEOUT_ERROR; everything else to
// EXECUTION_FAILURE.
func ErrorCodeOf(err error) ErrorCode {
	var actionErr *ActionError
	if errors.As(err, &actionErr) && actionErr.Code != "" {
		return actionErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeoutError
	}
	return ErrCodeExecutionFailure
}
