// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cua-tester/internal/config"
)

// codec encodes function outputs and audit payloads.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultEndpoint = "https://api.openai.com/v1"

// OpenAIClient talks to the OpenAI Responses endpoint through the official SDK.
type OpenAIClient struct {
	sdk      openai.Client
	endpoint string
	limiter  *rate.Limiter
	logger   *zap.Logger
	config   config.LLMConfig

	// newBackOff builds the retry schedule for a single call.
	newBackOff func() backoff.BackOff
}

// NewOpenAIClient initializes the client. The SDK's own retries are disabled
// so that only transient failures are retried, and only when configured.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	base := cfg.Endpoint
	if base == "" {
		base = defaultEndpoint
	}
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/responses")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", cfg.Endpoint, err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}
	if cfg.APITimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.APITimeout))
	}

	c := &OpenAIClient{
		sdk:      openai.NewClient(opts...),
		endpoint: base + "/responses",
		config:   cfg,
		logger:   logger.Named("llm_client.openai"),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	retries := uint64(0)
	if cfg.MaxRetries > 0 {
		retries = uint64(cfg.MaxRetries)
	}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 0
		return backoff.WithMaxRetries(b, retries)
	}
	return c, nil
}

// Endpoint returns the fully qualified responses URL.
func (c *OpenAIClient) Endpoint() string { return c.endpoint }

// CreateResponse sends one request. Transient failures are retried up to the
// configured retry count; everything else fails on the first attempt.
func (c *OpenAIClient) CreateResponse(ctx context.Context, req *ResponseRequest) (*Response, error) {
	params, err := newResponseParams(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request parameters: %w", err)
	}

	var result *Response
	attempt := 0

	operation := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limiter wait: %w", err))
			}
		}

		startTime := time.Now()
		resp, err := c.sdk.Responses.New(ctx, params)
		duration := time.Since(startTime)
		if err != nil {
			return c.classify(ctx, attempt, err)
		}
		if resp == nil || resp.ID == "" {
			return backoff.Permanent(fmt.Errorf("openai API returned a response without an id"))
		}

		payload := fromSDKResponse(resp)
		fields := []zap.Field{
			zap.String("response_id", payload.ID),
			zap.Duration("duration", duration),
			zap.Int("output_items", len(payload.Output)),
		}
		if payload.Usage != nil {
			fields = append(fields,
				zap.Int("input_tokens", payload.Usage.InputTokens),
				zap.Int("output_tokens", payload.Usage.OutputTokens),
				zap.Int("total_tokens", payload.Usage.TotalTokens),
			)
		}
		c.logger.Debug("Model response received", fields...)

		result = payload
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// classify maps an SDK error onto the retry policy. Only API errors with a
// transient status and transport failures are retried.
func (c *OpenAIClient) classify(ctx context.Context, attempt int, err error) error {
	var sdkErr *openai.Error
	if errors.As(err, &sdkErr) {
		apiErr := newAPIError(sdkErr)
		c.logger.Error("OpenAI API returned error status",
			zap.Int("status", apiErr.StatusCode),
			zap.String("type", apiErr.Type),
			zap.String("message", apiErr.Message),
		)
		if apiErr.Transient() {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	if ctx.Err() != nil {
		return backoff.Permanent(fmt.Errorf("request aborted: %w", ctx.Err()))
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		c.logger.Warn("Network error during model request", zap.Int("attempt", attempt), zap.Error(err))
		return fmt.Errorf("failed to execute model request: %w", err)
	}
	return backoff.Permanent(fmt.Errorf("model request failed: %w", err))
}

// AsAPIError unwraps an *APIError from err, if present.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// -- SDK Conversion --

// newResponseParams converts a request into the SDK parameter form.
func newResponseParams(req *ResponseRequest) (responses.ResponseNewParams, error) {
	if req == nil {
		return responses.ResponseNewParams{}, errors.New("nil request")
	}

	input := make(responses.ResponseInputParam, 0, len(req.Input))
	for i, item := range req.Input {
		p, err := inputItemParam(item)
		if err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("input item %d: %w", i, err)
		}
		input = append(input, p)
	}

	tools := make([]responses.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		p, err := toolParam(t)
		if err != nil {
			return responses.ResponseNewParams{}, err
		}
		tools = append(tools, p)
	}

	params := responses.ResponseNewParams{
		Model: req.Model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
		Tools: tools,
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	if req.Truncation != "" {
		params.Truncation = responses.ResponseNewParamsTruncation(req.Truncation)
	}
	if req.ToolChoice != "" {
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptions(req.ToolChoice)),
		}
	}
	if req.Reasoning != nil && req.Reasoning.Summary != "" {
		params.Reasoning.Summary = openai.ReasoningSummary(req.Reasoning.Summary)
	}
	return params, nil
}

func toolParam(t Tool) (responses.ToolUnionParam, error) {
	switch t.Type {
	case ToolComputerUsePreview:
		return responses.ToolUnionParam{OfComputerUsePreview: &responses.ComputerToolParam{
			DisplayWidth:  int64(t.DisplayWidth),
			DisplayHeight: int64(t.DisplayHeight),
			Environment:   responses.ComputerToolEnvironment(t.Environment),
		}}, nil
	case ToolFunction:
		parameters := map[string]any{}
		if len(t.Parameters) > 0 {
			if err := codec.Unmarshal(t.Parameters, &parameters); err != nil {
				return responses.ToolUnionParam{}, fmt.Errorf("tool %s parameters: %w", t.Name, err)
			}
		}
		fn := &responses.FunctionToolParam{
			Name:       t.Name,
			Parameters: parameters,
			Strict:     openai.Bool(false),
		}
		if t.Description != "" {
			fn.Description = openai.String(t.Description)
		}
		return responses.ToolUnionParam{OfFunction: fn}, nil
	default:
		return responses.ToolUnionParam{}, fmt.Errorf("unsupported tool type %q", t.Type)
	}
}

func inputItemParam(item InputItem) (responses.ResponseInputItemUnionParam, error) {
	switch item.Type {
	case "", ItemMessage:
		return responses.ResponseInputItemUnionParam{OfMessage: &responses.EasyInputMessageParam{
			Role:    responses.EasyInputMessageRole(item.Role),
			Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(item.Content)},
		}}, nil

	case ItemComputerCallOutput:
		img, ok := item.Output.(*ImageOutput)
		if !ok || img == nil {
			return responses.ResponseInputItemUnionParam{}, fmt.Errorf("computer call %s output is not a screenshot", item.CallID)
		}
		out := &responses.ResponseInputItemComputerCallOutputParam{
			CallID: item.CallID,
			Output: responses.ResponseComputerToolCallOutputScreenshotParam{
				ImageURL: openai.String(img.ImageURL),
			},
		}
		for _, sc := range item.AcknowledgedSafetyChecks {
			ack := responses.ResponseInputItemComputerCallOutputAcknowledgedSafetyCheckParam{ID: sc.ID}
			if sc.Code != "" {
				ack.Code = openai.String(sc.Code)
			}
			if sc.Message != "" {
				ack.Message = openai.String(sc.Message)
			}
			out.AcknowledgedSafetyChecks = append(out.AcknowledgedSafetyChecks, ack)
		}
		return responses.ResponseInputItemUnionParam{OfComputerCallOutput: out}, nil

	case ItemFunctionCallOutput:
		text, ok := item.Output.(string)
		if !ok {
			return responses.ResponseInputItemUnionParam{}, fmt.Errorf("function call %s output is not a string", item.CallID)
		}
		return responses.ResponseInputItemUnionParam{OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
			CallID: item.CallID,
			Output: responses.ResponseInputItemFunctionCallOutputOutputUnionParam{OfString: openai.String(text)},
		}}, nil

	default:
		return responses.ResponseInputItemUnionParam{}, fmt.Errorf("unsupported input item type %q", item.Type)
	}
}

// fromSDKResponse keeps the parts of a reply the session and audit log use.
func fromSDKResponse(r *responses.Response) *Response {
	out := &Response{
		ID:     r.ID,
		Status: string(r.Status),
		Model:  r.Model,
		Output: make([]OutputItem, 0, len(r.Output)),
	}
	for _, item := range r.Output {
		o := OutputItem{Type: item.Type, ID: item.ID, Status: item.Status}
		switch item.Type {
		case ItemComputerCall:
			call := item.AsComputerCall()
			o.CallID = call.CallID
			if raw := call.Action.RawJSON(); raw != "" {
				o.Action = json.RawMessage(raw)
			}
			for _, sc := range call.PendingSafetyChecks {
				o.PendingSafetyChecks = append(o.PendingSafetyChecks, SafetyCheck{ID: sc.ID, Code: sc.Code, Message: sc.Message})
			}
		case ItemFunctionCall:
			call := item.AsFunctionCall()
			o.CallID = call.CallID
			o.Name = call.Name
			o.Arguments = call.Arguments
		case ItemReasoning:
			for _, s := range item.AsReasoning().Summary {
				o.Summary = append(o.Summary, ContentPart{Type: string(s.Type), Text: s.Text})
			}
		case ItemMessage:
			msg := item.AsMessage()
			o.Role = string(msg.Role)
			for _, part := range msg.Content {
				o.Content = append(o.Content, ContentPart{Type: part.Type, Text: part.Text})
			}
		}
		out.Output = append(out.Output, o)
	}
	if r.JSON.Usage.Valid() {
		out.Usage = &Usage{
			InputTokens:  int(r.Usage.InputTokens),
			OutputTokens: int(r.Usage.OutputTokens),
			TotalTokens:  int(r.Usage.TotalTokens),
		}
	}
	return out
}
