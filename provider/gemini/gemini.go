// Package gemini implements stupidmeter.Provider for the Google Gemini
// REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Option configures a Gemini provider.
type Option func(*Gemini)

// WithBaseURL overrides the API base. Test hook and proxy support.
func WithBaseURL(u string) Option {
	return func(g *Gemini) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.client = c }
}

// Gemini implements stupidmeter.Provider for Google models.
type Gemini struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ stupidmeter.Provider = (*Gemini)(nil)

// New creates a Gemini adapter. The key comes from GEMINI_API_KEY.
func New(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the vendor tag "google".
func (g *Gemini) Name() string { return string(stupidmeter.VendorGoogle) }

// ListModels returns the generateContent-capable model names, with the
// "models/" resource prefix stripped.
func (g *Gemini) ListModels(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/models?key=%s", g.baseURL, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, g.wrapErr("create request: " + err.Error())
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, g.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.wrapErr("read response: " + err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp, string(body))
	}

	var parsed struct {
		Models []struct {
			Name                       string   `json:"name"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, g.wrapErr("parse models response: " + err.Error())
	}

	var names []string
	for _, m := range parsed.Models {
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				names = append(names, strings.TrimPrefix(m.Name, "models/"))
				break
			}
		}
	}
	return names, nil
}

// Chat sends a generateContent call and normalizes the response.
func (g *Gemini) Chat(ctx context.Context, req stupidmeter.ChatRequest) (stupidmeter.ChatResponse, error) {
	body := buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return stupidmeter.ChatResponse{}, g.wrapErr("marshal body: " + err.Error())
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return stupidmeter.ChatResponse{}, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return stupidmeter.ChatResponse{}, g.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return stupidmeter.ChatResponse{}, g.wrapErr("read response: " + err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return stupidmeter.ChatResponse{}, httpErr(resp, string(respBody))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return stupidmeter.ChatResponse{}, g.wrapErr("parse response: " + err.Error())
	}
	return parseResponse(parsed, respBody), nil
}

// --- wire types ---

type geminiBody struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	Tools             []toolBlock      `json:"tools,omitempty"`
	ToolConfig        *toolConfig      `json:"toolConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64         `json:"temperature"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type toolBlock struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig functionCallingConfig `json:"functionCallingConfig"`
}

type functionCallingConfig struct {
	Mode string `json:"mode"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string `json:"text"`
				Thought      bool   `json:"thought"`
				FunctionCall *struct {
					Name string          `json:"name"`
					Args json.RawMessage `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// buildBody converts the canonical request into Gemini's dialect:
// system messages become systemInstruction, assistant turns use the
// "model" role, and the reasoning-effort hint maps to a thinking budget.
func buildBody(req stupidmeter.ChatRequest) geminiBody {
	body := geminiBody{
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	var systemParts []part
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, part{Text: m.Content})
		case "assistant":
			body.Contents = append(body.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(systemParts) > 0 {
		body.SystemInstruction = &content{Parts: systemParts}
	}

	if budget := thinkingBudget(req.ReasoningEffort); budget > 0 {
		body.GenerationConfig.ThinkingConfig = &thinkingConfig{ThinkingBudget: budget}
	}

	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		body.Tools = []toolBlock{{FunctionDeclarations: decls}}
		if req.ToolChoice == "auto" {
			body.ToolConfig = &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "AUTO"}}
		}
	}
	return body
}

// thinkingBudget maps the effort hint onto Gemini's token budget tiers.
func thinkingBudget(effort string) int {
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

// parseResponse normalizes candidates[0], skipping thought parts.
func parseResponse(parsed geminiResponse, raw []byte) stupidmeter.ChatResponse {
	out := stupidmeter.ChatResponse{Raw: json.RawMessage(raw)}
	if parsed.UsageMetadata != nil {
		out.TokensIn = parsed.UsageMetadata.PromptTokenCount
		out.TokensOut = parsed.UsageMetadata.CandidatesTokenCount
	}
	if len(parsed.Candidates) == 0 {
		return out
	}

	var text strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		if p.Thought {
			continue
		}
		text.WriteString(p.Text)
		if p.FunctionCall != nil {
			args := p.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, stupidmeter.ToolCallReq{
				Name:      p.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	out.Text = text.String()
	return out
}

func (g *Gemini) wrapErr(msg string) error {
	return &stupidmeter.ErrLLM{Provider: string(stupidmeter.VendorGoogle), Message: msg}
}

// httpErr creates an ErrHTTP from a response, extracting the retry delay
// from the Retry-After header or from the google.rpc.RetryInfo detail
// in the JSON error body.
func httpErr(resp *http.Response, body string) *stupidmeter.ErrHTTP {
	ra := stupidmeter.ParseRetryAfter(resp.Header.Get("Retry-After"))
	if ra == 0 {
		ra = parseRetryInfo(body)
	}
	return &stupidmeter.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       body,
		RetryAfter: ra,
	}
}

// parseRetryInfo extracts the retryDelay from an error body carrying a
// google.rpc.RetryInfo detail. Returns 0 if not found or unparseable.
func parseRetryInfo(body string) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}
