package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/tasks"
	"github.com/google/uuid"
)

const (
	sessionTemperature = 0.2
	sessionMaxTokens   = 2000
	maxResultEcho      = 2000
)

// Observer receives session telemetry. Satisfied by
// observer.Instruments; a nil Observer disables reporting.
type Observer interface {
	RecordSession(ctx context.Context, model, taskSlug string, status stupidmeter.SessionStatus, latencyMs int64)
	RecordToolExecution(ctx context.Context, toolName string, success bool)
	RecordScore(ctx context.Context, suite stupidmeter.Suite, model string, score float64)
}

// Engine drives one (model, task) tool session end to end: sandbox
// setup, the turn loop, deterministic success checking, metrics, and the
// session's single running-to-terminal transition.
type Engine struct {
	store    stupidmeter.Store
	sb       Sandboxer
	registry *Registry
	logger   *slog.Logger
	obs      Observer
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the session logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithEngineObserver reports session and tool-call telemetry.
func WithEngineObserver(o Observer) EngineOption {
	return func(e *Engine) { e.obs = o }
}

// withEngineClock fixes time for tests.
func withEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires a session engine.
func NewEngine(store stupidmeter.Store, sb Sandboxer, registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		sb:       sb,
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RunSession executes the full session for one (model, task) pair and
// persists it. The returned session is terminal. The error is non-nil
// only for failures the caller must act on: credit exhaustion is
// re-raised after the session is finalized so the scheduler can record
// the vendor outage and move on.
func (e *Engine) RunSession(ctx context.Context, provider stupidmeter.Provider, model stupidmeter.Model, task tasks.ToolTask) (stupidmeter.ToolSession, error) {
	session := stupidmeter.ToolSession{
		ID:       uuid.NewString(),
		ModelID:  model.ID,
		TaskSlug: task.Slug,
		Status:   stupidmeter.SessionRunning,
	}

	sandboxID, err := e.sb.Create(ctx, task.Sandbox)
	if err != nil {
		return session, fmt.Errorf("toolcall: sandbox for %s/%s: %w", model.Name, task.Slug, err)
	}
	session.SandboxID = sandboxID

	for path, content := range task.InitialFiles {
		if err := e.sb.WriteFile(ctx, sandboxID, path, content); err != nil {
			_ = e.sb.Destroy(context.WithoutCancel(ctx), sandboxID)
			return session, fmt.Errorf("toolcall: seed %s: %w", path, err)
		}
	}

	if err := e.store.CreateToolSession(ctx, session); err != nil {
		_ = e.sb.Destroy(context.WithoutCancel(ctx), sandboxID)
		return session, fmt.Errorf("toolcall: create session row: %w", err)
	}

	sessCtx, cancel := context.WithTimeout(ctx, time.Duration(task.TimeoutMs)*time.Millisecond)
	defer cancel()

	messages := []stupidmeter.ChatMessage{
		stupidmeter.SystemMessage(task.SystemPrompt),
		stupidmeter.UserMessage(task.InitialMessage),
	}
	var (
		calls      []CallRecord
		turn       int
		success    bool
		sessionErr error
	)

	for turn < task.MaxTurns {
		turn++

		start := e.now()
		resp, chatErr := provider.Chat(sessCtx, stupidmeter.ChatRequest{
			Model:       model.Name,
			Messages:    messages,
			Temperature: sessionTemperature,
			MaxTokens:   sessionMaxTokens,
			Tools:       e.registry.Definitions(),
			ToolChoice:  "auto",
		})
		session.TotalLatencyMs += e.now().Sub(start).Milliseconds()
		if chatErr != nil {
			sessionErr = chatErr
			break
		}
		session.TotalTokensIn += resp.TokensIn
		session.TotalTokensOut += resp.TokensOut

		if resp.Text != "" {
			messages = append(messages, stupidmeter.AssistantMessage(resp.Text))
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		for _, call := range resp.ToolCalls {
			rec := e.executeCall(sessCtx, sandboxID, session.ID, turn, call)
			calls = append(calls, rec)
			messages = append(messages, stupidmeter.UserMessage(rec.echo(call.Name)))
		}

		met, checkErr := CheckSuccess(sessCtx, e.sb, sandboxID, task.Success)
		if checkErr != nil {
			sessionErr = checkErr
			break
		}
		if met {
			success = true
			break
		}
	}

	// Success can also land on the final turn's last tool call.
	if !success && sessionErr == nil {
		if met, checkErr := CheckSuccess(context.WithoutCancel(ctx), e.sb, sandboxID, task.Success); checkErr == nil {
			success = met
		}
	}

	// The sandbox dies before the session row goes terminal.
	if err := e.sb.Destroy(context.WithoutCancel(ctx), sandboxID); err != nil {
		e.logger.Warn("sandbox destroy failed", "session", session.ID, "error", err)
	}

	metrics := ComputeMetrics(task, calls, success, len(messages), turn, e.registry.Size())

	session.Turns = turn
	session.Passed = success
	session.FinalScore = ToolingScore(metrics)
	session.ToolCallsCount = len(calls)
	for _, c := range calls {
		if c.Success {
			session.SuccessfulToolCalls++
		} else {
			session.FailedToolCalls++
		}
	}
	session.ConversationData = marshalOrEmpty(messages)
	session.ToolCallHistory = marshalOrEmpty(calls)
	session.CompletedAt = e.now().UTC().Format(time.RFC3339)

	switch {
	case sessionErr == nil:
		session.Status = stupidmeter.SessionCompleted
	case errors.Is(sessionErr, context.DeadlineExceeded):
		session.Status = stupidmeter.SessionTimedOut
		session.ErrorLog = sessionErr.Error()
	default:
		session.Status = stupidmeter.SessionFailed
		session.ErrorLog = sessionErr.Error()
	}

	if err := e.store.FinalizeToolSession(context.WithoutCancel(ctx), session); err != nil {
		e.logger.Error("finalizing session failed", "session", session.ID, "error", err)
	}
	if e.obs != nil {
		e.obs.RecordSession(context.WithoutCancel(ctx), model.Name, task.Slug, session.Status, session.TotalLatencyMs)
	}
	e.logger.Info("tool session finished",
		"model", model.Name, "task", task.Slug, "status", session.Status,
		"turns", session.Turns, "passed", session.Passed, "score", session.FinalScore)

	var credit *stupidmeter.ErrCreditExhausted
	if errors.As(sessionErr, &credit) {
		return session, credit
	}
	return session, nil
}

// executeCall runs one tool call, logs its execution row, and folds the
// outcome into a CallRecord. Call failures never abort the session.
func (e *Engine) executeCall(ctx context.Context, sandboxID, sessionID string, turn int, call stupidmeter.ToolCallReq) CallRecord {
	start := e.now()
	result, err := e.registry.Execute(ctx, e.sb, sandboxID, call)
	latency := e.now().Sub(start).Milliseconds()

	rec := CallRecord{
		Tool:      call.Name,
		Params:    string(call.Arguments),
		Result:    result,
		Success:   err == nil,
		Dangerous: IsSafetyError(err),
		LatencyMs: latency,
	}
	exec := stupidmeter.ToolExecution{
		SessionID:  sessionID,
		TurnNumber: turn,
		ToolName:   call.Name,
		Parameters: rec.Params,
		Result:     truncate(result, maxResultEcho),
		Success:    rec.Success,
		LatencyMs:  latency,
		TS:         e.now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		rec.Result = err.Error()
		exec.ErrorMessage = err.Error()
	}
	if insErr := e.store.InsertToolExecution(ctx, exec); insErr != nil {
		e.logger.Error("persisting tool execution failed", "session", sessionID, "error", insErr)
	}
	if e.obs != nil {
		e.obs.RecordToolExecution(ctx, call.Name, rec.Success)
	}
	return rec
}

// echo renders a call outcome as the user message fed back to the model.
func (r CallRecord) echo(tool string) string {
	verdict := "succeeded"
	if !r.Success {
		verdict = "failed"
	}
	return fmt.Sprintf("Tool %s %s:\n%s", tool, verdict, truncate(r.Result, maxResultEcho))
}

func marshalOrEmpty(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
