// internal/llmclient/errors.go
package llmclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
)

var (
	// ErrNoAction means the reply carried neither a computer call nor a function call.
	ErrNoAction = errors.New("reply contains no actionable output")
	// ErrUnknownAction means a computer call used an action type this client does not model.
	ErrUnknownAction = errors.New("unknown computer action type")
	// ErrUnknownFunction means the model called a function tool that was never offered.
	ErrUnknownFunction = errors.New("unknown function call")
)

// APIError is a non-2xx reply from the Responses endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai API error: status %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("openai API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// newAPIError copies the status and error object the SDK decoded.
func newAPIError(sdkErr *openai.Error) *APIError {
	return &APIError{
		StatusCode: sdkErr.StatusCode,
		Type:       sdkErr.Type,
		Code:       sdkErr.Code,
		Message:    sdkErr.Message,
		Body:       sdkErr.RawJSON(),
	}
}
