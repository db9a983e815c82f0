package stupidmeter

import "encoding/json"

// --- Domain types (database records) ---

// Vendor tags the provider family a model belongs to. The set is closed:
// routing, API-key lookup, and code-gen sharding all switch on it.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorXAI       Vendor = "xai"
	VendorAnthropic Vendor = "anthropic"
	VendorGoogle    Vendor = "google"
	VendorDeepSeek  Vendor = "deepseek"
	VendorGLM       Vendor = "glm"
)

// Vendors lists every supported vendor tag in a stable order.
func Vendors() []Vendor {
	return []Vendor{VendorOpenAI, VendorXAI, VendorAnthropic, VendorGoogle, VendorDeepSeek, VendorGLM}
}

// Model is a benchmarked LLM. Name is the provider-facing identifier
// (what goes on the wire), ID is the store's key.
type Model struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Vendor              Vendor `json:"vendor"`
	Version             string `json:"version,omitempty"`
	Notes               string `json:"notes,omitempty"`
	ShowInRankings      bool   `json:"show_in_rankings"`
	SupportsToolCalling bool   `json:"supports_tool_calling"`
	CreatedAt           int64  `json:"created_at"`
}

// Suite names a benchmark class.
type Suite string

const (
	SuiteHourly  Suite = "hourly"  // fast code-gen suite, every 20 minutes
	SuiteDeep    Suite = "deep"    // same pipeline, daily
	SuiteTooling Suite = "tooling" // multi-turn tool calling, daily
)

// Run records one trial: a single prompt→response→evaluation cycle.
type Run struct {
	ID           int64   `json:"id"`
	ModelID      int64   `json:"model_id"`
	TaskID       string  `json:"task_id,omitempty"`
	TS           string  `json:"ts"` // ISO-8601
	TempSeed     float64 `json:"temp_seed"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`
	LatencyMs    int64   `json:"latency_ms"`
	Attempts     int     `json:"attempts"`
	Passed       bool    `json:"passed"`
	ArtifactHash string  `json:"artifact_hash,omitempty"` // short content hash of the code, never the code itself
}

// Axes is the seven-axis quality vector, every component in [0,1] —
// except on sentinel scores, where every component is -1.
type Axes struct {
	Correctness float64 `json:"correctness"`
	Complexity  float64 `json:"complexity"`
	CodeQuality float64 `json:"codeQuality"`
	Efficiency  float64 `json:"efficiency"`
	Stability   float64 `json:"stability"`
	EdgeCases   float64 `json:"edgeCases"`
	Debugging   float64 `json:"debugging"`
}

// SentinelAxes is the axis vector stored alongside sentinel scores.
func SentinelAxes() Axes {
	return Axes{Correctness: -1, Complexity: -1, CodeQuality: -1, Efficiency: -1, Stability: -1, EdgeCases: -1, Debugging: -1}
}

// Metric is the per-run axis vector. One row per run, at most.
type Metric struct {
	RunID int64 `json:"run_id"`
	Axes  Axes  `json:"axes"`
}

// Score is an aggregated per-model, per-suite snapshot.
// StupidScore is either in [0,100] or one of the sentinels below.
type Score struct {
	ID          int64   `json:"id"`
	ModelID     int64   `json:"model_id"`
	TS          string  `json:"ts"` // ISO-8601; batch runs share one timestamp
	Suite       Suite   `json:"suite"`
	StupidScore float64 `json:"stupid_score"`
	Axes        Axes    `json:"axes"`
	CUSUM       float64 `json:"cusum"`
	Note        string  `json:"note,omitempty"`
}

// Sentinel values carried on Score.StupidScore. They are an external
// compatibility constraint: inside the pipeline failures travel as errors,
// and the sentinel is attached only at the storage boundary.
const (
	SentinelNoAPIKey       = -999 // vendor API key not configured
	SentinelAllTasksFailed = -888 // zero trials succeeded across all tasks
	SentinelAdapterFailed  = -777 // canary round failed after retries
	SentinelGenericError   = -100 // unhandled failure mid-tick
)

// IsSentinel reports whether a stored stupidScore is a sentinel rather
// than a measurement.
func IsSentinel(score float64) bool {
	return score < 0
}

// SessionStatus is the lifecycle state of a ToolSession.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionTimedOut  SessionStatus = "timedout"
)

// ToolSession records one multi-turn tool-calling run for a (model, task)
// pair inside a single sandbox. Created in "running", transitioned exactly
// once to a terminal state after its sandbox is destroyed.
type ToolSession struct {
	ID                  string        `json:"id"`
	ModelID             int64         `json:"model_id"`
	TaskSlug            string        `json:"task_slug"`
	Status              SessionStatus `json:"status"`
	SandboxID           string        `json:"sandbox_id"`
	Turns               int           `json:"turns"`
	TotalLatencyMs      int64         `json:"total_latency_ms"`
	TotalTokensIn       int           `json:"total_tokens_in"`
	TotalTokensOut      int           `json:"total_tokens_out"`
	ToolCallsCount      int           `json:"tool_calls_count"`
	SuccessfulToolCalls int           `json:"successful_tool_calls"`
	FailedToolCalls     int           `json:"failed_tool_calls"`
	Passed              bool          `json:"passed"`
	FinalScore          float64       `json:"final_score"`
	ConversationData    string        `json:"conversation_data,omitempty"`
	ToolCallHistory     string        `json:"tool_call_history,omitempty"`
	ErrorLog            string        `json:"error_log,omitempty"`
	CompletedAt         string        `json:"completed_at,omitempty"`
}

// ToolExecution is a per-call log row within a session.
type ToolExecution struct {
	ID           int64  `json:"id"`
	SessionID    string `json:"session_id"`
	TurnNumber   int    `json:"turn_number"`
	ToolName     string `json:"tool_name"`
	Parameters   string `json:"parameters"`
	Result       string `json:"result"`
	Success      bool   `json:"success"`
	LatencyMs    int64  `json:"latency_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
	TS           string `json:"ts"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ToolCallReq is a tool invocation requested by the model, normalized to
// the canonical {name, arguments} shape regardless of provider dialect.
type ToolCallReq struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ChatRequest is a provider-agnostic chat call.
type ChatRequest struct {
	Model           string           `json:"model"`
	Messages        []ChatMessage    `json:"messages"`
	Temperature     float64          `json:"temperature"`
	MaxTokens       int              `json:"max_tokens"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	ToolChoice      string           `json:"tool_choice,omitempty"` // "auto" or empty
	ReasoningEffort string           `json:"reasoning_effort,omitempty"`
}

// ChatResponse normalizes provider responses.
type ChatResponse struct {
	Text      string          `json:"text"`
	TokensIn  int             `json:"tokens_in"`
	TokensOut int             `json:"tokens_out"`
	ToolCalls []ToolCallReq   `json:"tool_calls,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
