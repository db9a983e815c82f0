// Package openaicompat implements stupidmeter.Provider for any backend
// speaking the OpenAI chat completions dialect: OpenAI itself, xAI,
// DeepSeek, GLM, and compatible gateways. Vendors differ only in base
// URL and the vendor tag carried on errors.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	stupidmeter "github.com/benchlab/stupidmeter"
)

// defaultBaseURLs maps each vendor tag to its chat completions base.
var defaultBaseURLs = map[stupidmeter.Vendor]string{
	stupidmeter.VendorOpenAI:   "https://api.openai.com/v1",
	stupidmeter.VendorXAI:      "https://api.x.ai/v1",
	stupidmeter.VendorDeepSeek: "https://api.deepseek.com/v1",
	stupidmeter.VendorGLM:      "https://api.z.ai/api/paas/v4",
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the vendor's default API base. The
// /chat/completions path is appended automatically.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client. Useful for tests and
// custom transports.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements stupidmeter.Provider for one vendor.
type Provider struct {
	vendor  stupidmeter.Vendor
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ stupidmeter.Provider = (*Provider)(nil)

// New creates an adapter for vendor. Unknown vendors need WithBaseURL.
func New(vendor stupidmeter.Vendor, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		vendor:  vendor,
		apiKey:  apiKey,
		baseURL: defaultBaseURLs[vendor],
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the vendor tag.
func (p *Provider) Name() string { return string(p.vendor) }

// ListModels returns the model ids available to the configured key.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, p.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.wrapErr("read response: " + err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.httpErr(resp, body)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, p.wrapErr("parse models response: " + err.Error())
	}
	models := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// Chat sends a non-streaming chat completion and normalizes the result.
func (p *Provider) Chat(ctx context.Context, req stupidmeter.ChatRequest) (stupidmeter.ChatResponse, error) {
	body := buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return stupidmeter.ChatResponse{}, p.wrapErr("marshal request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return stupidmeter.ChatResponse{}, p.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return stupidmeter.ChatResponse{}, p.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return stupidmeter.ChatResponse{}, p.wrapErr("read response: " + err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return stupidmeter.ChatResponse{}, p.httpErr(resp, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return stupidmeter.ChatResponse{}, p.wrapErr("parse response: " + err.Error())
	}
	return parseResponse(parsed, respBody), nil
}

// --- wire types ---

type chatBody struct {
	Model           string        `json:"model"`
	Messages        []wireMessage `json:"messages"`
	Temperature     *float64      `json:"temperature,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	Tools           []wireTool    `json:"tools,omitempty"`
	ToolChoice      string        `json:"tool_choice,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// buildBody converts the canonical request into the OpenAI dialect.
func buildBody(req stupidmeter.ChatRequest) chatBody {
	body := chatBody{
		Model:           req.Model,
		MaxTokens:       req.MaxTokens,
		ToolChoice:      req.ToolChoice,
		ReasoningEffort: req.ReasoningEffort,
	}
	temp := req.Temperature
	body.Temperature = &temp

	for _, m := range req.Messages {
		body.Messages = append(body.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return body
}

// parseResponse normalizes choices[0] into the canonical shape. OpenAI
// returns function arguments as a JSON string; invalid fragments
// degrade to an empty object instead of poisoning the session.
func parseResponse(parsed chatResponse, raw []byte) stupidmeter.ChatResponse {
	out := stupidmeter.ChatResponse{
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
		Raw:       json.RawMessage(raw),
	}
	if len(parsed.Choices) == 0 {
		return out
	}
	msg := parsed.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, stupidmeter.ToolCallReq{
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}

func (p *Provider) wrapErr(msg string) error {
	return &stupidmeter.ErrLLM{Provider: string(p.vendor), Message: msg}
}

// httpErr classifies a non-2xx response. Billing failures become
// ErrCreditExhausted so the suite can skip the vendor for the rest of
// the tick; everything else is ErrHTTP for the retry middleware.
func (p *Provider) httpErr(resp *http.Response, body []byte) error {
	if isCreditExhausted(resp.StatusCode, body) {
		return &stupidmeter.ErrCreditExhausted{Vendor: p.vendor, Message: strings.TrimSpace(string(body))}
	}
	return &stupidmeter.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: stupidmeter.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// isCreditExhausted matches the billing-failure shapes seen across the
// compatible vendors: DeepSeek's 402, OpenAI's insufficient_quota code,
// and balance messages from GLM.
func isCreditExhausted(status int, body []byte) bool {
	if status == http.StatusPaymentRequired {
		return true
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "insufficient balance") ||
		strings.Contains(lower, "insufficient credits")
}
