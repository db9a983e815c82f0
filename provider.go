package stupidmeter

import "context"

// Provider abstracts one LLM backend. Adapters translate ChatRequest to
// the provider's REST dialect and normalize tool calls back into the
// canonical shape. Retry is the caller's concern (see WithRetry) —
// adapters surface provider errors with HTTP status where possible.
type Provider interface {
	// ListModels returns the provider-facing model names available to
	// the configured credentials.
	ListModels(ctx context.Context) ([]string, error)
	// Chat sends a request and returns a complete response. When
	// req.Tools is non-empty, the response may contain ToolCalls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the vendor tag (e.g. "google", "anthropic").
	Name() string
}
