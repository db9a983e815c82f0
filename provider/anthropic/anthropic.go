// Package anthropic implements stupidmeter.Provider on top of the
// official anthropic-sdk-go client.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	stupidmeter "github.com/benchlab/stupidmeter"
)

// defaultMaxTokens applies when the request leaves MaxTokens unset.
// The Messages API rejects requests without a positive cap.
const defaultMaxTokens = 4096

// Option configures the adapter.
type Option func(*Anthropic)

// WithBaseURL points the SDK at a different endpoint. Test hook and
// gateway support.
func WithBaseURL(u string) Option {
	return func(a *Anthropic) { a.clientOpts = append(a.clientOpts, option.WithBaseURL(u)) }
}

// Anthropic implements stupidmeter.Provider for Claude models.
type Anthropic struct {
	client     sdk.Client
	clientOpts []option.RequestOption
}

var _ stupidmeter.Provider = (*Anthropic)(nil)

// New creates an Anthropic adapter. The key comes from ANTHROPIC_API_KEY.
// SDK-level retries are disabled; the shared retry middleware owns
// backoff so attempts are not multiplied.
func New(apiKey string, opts ...Option) *Anthropic {
	a := &Anthropic{
		clientOpts: []option.RequestOption{
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.client = sdk.NewClient(a.clientOpts...)
	return a
}

// Name returns the vendor tag "anthropic".
func (a *Anthropic) Name() string { return string(stupidmeter.VendorAnthropic) }

// ListModels returns the model ids available to the configured key.
func (a *Anthropic) ListModels(ctx context.Context) ([]string, error) {
	page, err := a.client.Models.List(ctx, sdk.ModelListParams{Limit: sdk.Int(100)})
	if err != nil {
		return nil, a.classify(err)
	}
	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, string(m.ID))
	}
	return models, nil
}

// Chat sends a non-streaming Messages call and normalizes the result.
func (a *Anthropic) Chat(ctx context.Context, req stupidmeter.ChatRequest) (stupidmeter.ChatResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return stupidmeter.ChatResponse{}, err
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return stupidmeter.ChatResponse{}, a.classify(err)
	}
	return parseMessage(msg), nil
}

// buildParams converts the canonical request into MessageNewParams.
// System messages move to the dedicated System field and the
// reasoning-effort hint becomes an extended-thinking budget.
func buildParams(req stupidmeter.ChatRequest) (sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: sdk.Float(req.Temperature),
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	if budget := thinkingBudget(req.ReasoningEffort); budget > 0 {
		// The budget must stay below max_tokens or the API rejects
		// the request.
		if budget >= params.MaxTokens {
			params.MaxTokens = budget + 1024
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(budget)
	}

	for _, t := range req.Tools {
		schema, err := toolSchema(t.Parameters)
		if err != nil {
			return sdk.MessageNewParams{}, &stupidmeter.ErrLLM{
				Provider: string(stupidmeter.VendorAnthropic),
				Message:  "invalid schema for tool " + t.Name + ": " + err.Error(),
			}
		}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil && t.Description != "" {
			u.OfTool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	// "auto" is the API default when tools are present, so the
	// tool_choice field stays unset.
	return params, nil
}

func toolSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func thinkingBudget(effort string) int64 {
	switch effort {
	case "low":
		return 1024
	case "medium":
		return 8192
	case "high":
		return 24576
	default:
		return 0
	}
}

// parseMessage flattens the content blocks into the canonical shape.
// Thinking blocks are dropped; only visible text and tool calls count.
func parseMessage(msg *sdk.Message) stupidmeter.ChatResponse {
	out := stupidmeter.ChatResponse{
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
		Raw:       json.RawMessage(msg.RawJSON()),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, stupidmeter.ToolCallReq{
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	out.Text = text.String()
	return out
}

// classify maps SDK errors onto the shared error types. Billing
// failures become ErrCreditExhausted; other API errors carry their
// status and body so the retry middleware can act on them.
func (a *Anthropic) classify(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return &stupidmeter.ErrLLM{Provider: string(stupidmeter.VendorAnthropic), Message: err.Error()}
	}
	body := apiErr.RawJSON()
	if isCreditExhausted(body) {
		return &stupidmeter.ErrCreditExhausted{
			Vendor:  stupidmeter.VendorAnthropic,
			Message: strings.TrimSpace(body),
		}
	}
	var retryAfter time.Duration
	if apiErr.Response != nil {
		retryAfter = stupidmeter.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return &stupidmeter.ErrHTTP{
		Status:     apiErr.StatusCode,
		Body:       body,
		RetryAfter: retryAfter,
	}
}

// isCreditExhausted matches the billing error the API returns as a 400
// invalid_request_error rather than a dedicated status.
func isCreditExhausted(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "credit balance is too low") ||
		strings.Contains(lower, "insufficient credits")
}
