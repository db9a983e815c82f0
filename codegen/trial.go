package codegen

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/tasks"
)

// reasoningFamilyRe matches model names that route through a reasoning
// pipeline and starve on ordinary token budgets.
var reasoningFamilyRe = regexp.MustCompile(`(?i)(^|[-_/.])(o[134](-mini|-pro)?|gpt-5[\w.-]*|r1|reasoner|thinking)([-_/.]|$)`)

const (
	trialBaseTemp      = 0.2
	trialTempStep      = 0.15
	trialMaxAttempts   = 3
	reasoningMinBudget = 8000
	refLatencyMs       = 1000
	efficiencyCap      = 0.92
)

// retrySuffix is appended to the user prompt on the aggregator's
// second-phase pass over tasks that failed every first-phase trial.
const retrySuffix = "\n\nReturn the complete, final implementation in a single fenced python code block. Do not truncate it."

// TrialResult is one successful prompt round-trip plus evaluation.
// Stability is not a per-trial quantity and stays zero here.
type TrialResult struct {
	Code      string
	LatencyMs int64
	TokensIn  int
	TokensOut int
	Attempts  int
	TempSeed  float64
	Axes      stupidmeter.Axes
	Eval      EvalResult
}

// ArtifactHash is a short content hash of the trial's extracted code,
// safe to persist where the code itself must not be.
func (r TrialResult) ArtifactHash() string {
	if r.Code == "" {
		return ""
	}
	sum := sha1.Sum([]byte(r.Code))
	return hex.EncodeToString(sum[:])[:16]
}

// Runner executes single code-gen trials against one provider.
type Runner struct {
	provider stupidmeter.Provider
	eval     *Evaluator
	logger   *slog.Logger
	rng      *rand.Rand
	// cacheProne marks providers that cache at request level; the salted
	// system message then carries the nonce too.
	cacheProne bool
	now        func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the trial logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithCacheProne marks the provider as request-level caching.
func WithCacheProne() RunnerOption {
	return func(r *Runner) { r.cacheProne = true }
}

// withRunnerRand fixes the RNG for tests.
func withRunnerRand(rng *rand.Rand) RunnerOption {
	return func(r *Runner) { r.rng = rng }
}

// NewRunner wires a trial runner over a provider and an evaluator.
func NewRunner(p stupidmeter.Provider, eval *Evaluator, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider: p,
		eval:     eval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunTrial performs one trial: salted prompt, chat call, extraction,
// sandboxed evaluation, axis derivation. Empty responses are retried
// locally up to two more times with escalated budgets; anything else
// propagates wrapped in ErrTrialFailed.
func (r *Runner) RunTrial(ctx context.Context, model stupidmeter.Model, task tasks.CodeTask, sessionID string, trial int, retryPass bool) (TrialResult, error) {
	prompt := task.Prompt
	if retryPass {
		prompt += retrySuffix
	}

	var lastReason string
	for attempt := 0; attempt < trialMaxAttempts; attempt++ {
		nonce := trialNonce(sessionID, trial, attempt)
		system := saltedSystem(r.rng, attempt, r.cacheProne, nonce)
		if retryPass && attempt == 0 {
			// The retry pass starts on the alternate pool even before any
			// local retry happens.
			system = saltedSystem(r.rng, 1, r.cacheProne, nonce)
		}
		temp := trialBaseTemp + trialTempStep*float64(attempt)

		req := stupidmeter.ChatRequest{
			Model: model.Name,
			Messages: []stupidmeter.ChatMessage{
				stupidmeter.SystemMessage(system),
				stupidmeter.UserMessage(saltedPrompt(prompt, nonce)),
			},
			Temperature: temp,
			MaxTokens:   tokenBudget(model.Name, task.MaxTokens, attempt, retryPass),
		}
		if reasoningFamilyRe.MatchString(model.Name) {
			req.ReasoningEffort = "low"
		}

		start := r.now()
		resp, err := r.provider.Chat(ctx, req)
		latency := r.now().Sub(start).Milliseconds()
		if err != nil {
			return TrialResult{}, &stupidmeter.ErrTrialFailed{Task: task.ID, Reason: err.Error()}
		}

		code := ExtractCode(resp.Text, task.Language)
		if strings.TrimSpace(resp.Text) == "" || code == "" {
			lastReason = "empty response"
			r.logger.Debug("empty trial response, retrying", "model", model.Name, "task", task.ID, "attempt", attempt)
			continue
		}

		eval, err := r.eval.Evaluate(ctx, code, task)
		if err != nil {
			return TrialResult{}, &stupidmeter.ErrTrialFailed{Task: task.ID, Reason: err.Error()}
		}

		return TrialResult{
			Code:      code,
			LatencyMs: latency,
			TokensIn:  resp.TokensIn,
			TokensOut: resp.TokensOut,
			Attempts:  attempt + 1,
			TempSeed:  temp,
			Axes:      trialAxes(task, eval, code, latency),
			Eval:      eval,
		}, nil
	}
	return TrialResult{}, &stupidmeter.ErrTrialFailed{Task: task.ID, Reason: lastReason}
}

// tokenBudget selects maxTokens for one attempt. Reasoning-family models
// get a floor large enough to survive their hidden deliberation tokens;
// local retries escalate roughly 3x then 4x.
func tokenBudget(modelName string, base, attempt int, retryPass bool) int {
	budget := base
	if reasoningFamilyRe.MatchString(modelName) && budget < reasoningMinBudget {
		budget = reasoningMinBudget
	}
	step := attempt
	if retryPass {
		step++
	}
	switch {
	case step >= 2:
		budget *= 4
	case step == 1:
		budget *= 3
	}
	return budget
}

// trialAxes derives the per-trial axis vector from the evaluation.
func trialAxes(task tasks.CodeTask, eval EvalResult, code string, latencyMs int64) stupidmeter.Axes {
	correctness := clip01(eval.Correctness())

	var complexity float64
	if eval.SyntaxOK && eval.SymbolOK {
		switch task.Difficulty {
		case tasks.Easy:
			complexity = 0.3
		case tasks.Medium:
			complexity = 0.6
		case tasks.Hard:
			complexity = 0.9
		}
	}

	edgeBonus := 0.5 * correctness
	if correctness > 0.95 {
		edgeBonus = 1
	}
	edgeCases := clip01(0.8*correctness + 0.2*edgeBonus)

	debugging := math.Min(1, correctness+0.05)
	if task.HasTag("debug") {
		debugging = correctness
	}

	if latencyMs < 1 {
		latencyMs = 1
	}
	eff := math.Pow(math.Min(1, refLatencyMs/float64(latencyMs)), 0.85)
	if eff > efficiencyCap {
		eff = efficiencyCap
	}

	return stupidmeter.Axes{
		Correctness: correctness,
		Complexity:  complexity,
		CodeQuality: CodeQuality(code),
		Efficiency:  eff,
		EdgeCases:   edgeCases,
		Debugging:   debugging,
	}
}

func clip01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
