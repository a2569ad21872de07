// internal/llmclient/responses.go
package llmclient

import (
	"encoding/json"
	"fmt"
)

// MarkDoneFunction is the function tool the model calls to end a run.
const MarkDoneFunction = "mark_done"

// Input item types understood by the Responses endpoint.
const (
	ItemComputerCallOutput = "computer_call_output"
	ItemFunctionCallOutput = "function_call_output"
	ItemComputerCall       = "computer_call"
	ItemFunctionCall       = "function_call"
	ItemReasoning          = "reasoning"
	ItemMessage            = "message"

	screenshotOutputType = "computer_screenshot"
)

// Tool types offered to the model.
const (
	ToolComputerUsePreview = "computer_use_preview"
	ToolFunction           = "function"
)

// -- Responses API Request Structures --

// Tool is either the computer_use_preview tool or a function tool.
type Tool struct {
	Type          string          `json:"type"`
	DisplayWidth  int             `json:"display_width,omitempty"`
	DisplayHeight int             `json:"display_height,omitempty"`
	Environment   string          `json:"environment,omitempty"`
	Name          string          `json:"name,omitempty"`
	Description   string          `json:"description,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
}

// SafetyCheck mirrors the pending/acknowledged safety check objects.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ImageOutput is the screenshot payload of a computer_call_output item.
type ImageOutput struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

// InputItem is one element of the request input list. Role messages set Role
// and Content; outputs set Type, CallID and Output.
type InputItem struct {
	Type                     string        `json:"type,omitempty"`
	Role                     string        `json:"role,omitempty"`
	Content                  string        `json:"content,omitempty"`
	CallID                   string        `json:"call_id,omitempty"`
	Output                   any           `json:"output,omitempty"`
	AcknowledgedSafetyChecks []SafetyCheck `json:"acknowledged_safety_checks,omitempty"`
}

// Reasoning configures the reasoning summary the model returns.
type Reasoning struct {
	Summary string `json:"summary,omitempty"`
}

// ResponseRequest is the provider-neutral form of a POST /responses call.
// It is what the audit log records.
type ResponseRequest struct {
	Model              string      `json:"model"`
	Tools              []Tool      `json:"tools"`
	Input              []InputItem `json:"input"`
	Reasoning          *Reasoning  `json:"reasoning,omitempty"`
	Truncation         string      `json:"truncation,omitempty"`
	ToolChoice         string      `json:"tool_choice,omitempty"`
	PreviousResponseID string      `json:"previous_response_id,omitempty"`
}

// -- Responses API Response Structures --

// ContentPart is a text part of a message or reasoning summary.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutputItem is one element of the reply output list.
type OutputItem struct {
	Type                string          `json:"type"`
	ID                  string          `json:"id,omitempty"`
	Status              string          `json:"status,omitempty"`
	CallID              string          `json:"call_id,omitempty"`
	Action              json.RawMessage `json:"action,omitempty"`
	PendingSafetyChecks []SafetyCheck   `json:"pending_safety_checks,omitempty"`
	Name                string          `json:"name,omitempty"`
	Arguments           string          `json:"arguments,omitempty"`
	Role                string          `json:"role,omitempty"`
	Content             []ContentPart   `json:"content,omitempty"`
	Summary             []ContentPart   `json:"summary,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the subset of a reply the session consumes.
type Response struct {
	ID     string       `json:"id"`
	Status string       `json:"status,omitempty"`
	Model  string       `json:"model,omitempty"`
	Output []OutputItem `json:"output"`
	Usage  *Usage       `json:"usage,omitempty"`
}

// -- Request Construction --

// RequestOptions are the settings every request carries.
type RequestOptions struct {
	Model            string
	DisplayWidth     int
	DisplayHeight    int
	ReasoningSummary string
	Truncation       string
}

// Tools returns the tool list: the browser computer tool and mark_done.
func (o RequestOptions) Tools() []Tool {
	return []Tool{
		{
			Type:          ToolComputerUsePreview,
			DisplayWidth:  o.DisplayWidth,
			DisplayHeight: o.DisplayHeight,
			Environment:   "browser",
		},
		{
			Type:        ToolFunction,
			Name:        MarkDoneFunction,
			Description: "Use this tool to let the user know you have finished the tasks.",
			Parameters:  json.RawMessage(`{}`),
		},
	}
}

// NewRequest builds a request continuing previousResponseID, if set.
func NewRequest(opts RequestOptions, input []InputItem, previousResponseID string) *ResponseRequest {
	req := &ResponseRequest{
		Model:              opts.Model,
		Tools:              opts.Tools(),
		Input:              input,
		Truncation:         opts.Truncation,
		ToolChoice:         "required",
		PreviousResponseID: previousResponseID,
	}
	if opts.ReasoningSummary != "" {
		req.Reasoning = &Reasoning{Summary: opts.ReasoningSummary}
	}
	return req
}

// SystemMessage returns a system role message.
func SystemMessage(text string) InputItem {
	return InputItem{Role: "system", Content: text}
}

// UserMessage returns a user role message.
func UserMessage(text string) InputItem {
	return InputItem{Role: "user", Content: text}
}

// ScreenshotOutput returns a computer_call_output carrying an image data URL.
func ScreenshotOutput(callID, dataURL string, acknowledged []SafetyCheck) InputItem {
	return InputItem{
		Type:                     ItemComputerCallOutput,
		CallID:                   callID,
		Output:                   &ImageOutput{Type: screenshotOutputType, ImageURL: dataURL},
		AcknowledgedSafetyChecks: acknowledged,
	}
}

// FunctionOutput returns a function_call_output whose output is the JSON
// encoding of outcome.
func FunctionOutput(callID string, outcome any) (InputItem, error) {
	if outcome == nil {
		outcome = struct{}{}
	}
	encoded, err := codec.Marshal(outcome)
	if err != nil {
		return InputItem{}, fmt.Errorf("failed to encode function output: %w", err)
	}
	return InputItem{
		Type:   ItemFunctionCallOutput,
		CallID: callID,
		Output: string(encoded),
	}, nil
}

// Redacted returns a copy of the request with image payloads replaced by a
// size marker, suitable for audit logs.
func (r *ResponseRequest) Redacted() *ResponseRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Input = make([]InputItem, len(r.Input))
	for i, item := range r.Input {
		if img, ok := item.Output.(*ImageOutput); ok && img != nil {
			item.Output = &ImageOutput{
				Type:     img.Type,
				ImageURL: fmt.Sprintf("<elided %d bytes>", len(img.ImageURL)),
			}
		}
		out.Input[i] = item
	}
	return &out
}
