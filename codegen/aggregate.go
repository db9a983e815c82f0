package codegen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/tasks"
	"golang.org/x/sync/errgroup"
)

const (
	tasksPerTick  = 7
	trialsPerTask = 3
	canaryPrompt  = "Reply with the single word: ok"
)

// Observer receives trial and score telemetry. Satisfied by
// observer.Instruments; a nil Observer disables reporting.
type Observer interface {
	RecordTrial(ctx context.Context, suite stupidmeter.Suite, model, taskID string, passed bool, latencyMs int64)
	RecordScore(ctx context.Context, suite stupidmeter.Suite, model string, score float64)
}

// cacheProneVendors marks serving stacks that cache responses at request
// level by default; their salted system messages carry the nonce too.
var cacheProneVendors = map[stupidmeter.Vendor]bool{
	stupidmeter.VendorOpenAI:   true,
	stupidmeter.VendorDeepSeek: true,
	stupidmeter.VendorGLM:      true,
}

// Aggregator runs the code-gen suite for every model in one tick:
// canary, task selection, trials, retry pass, collapse, scoring,
// persistence. Models shard by vendor so one slow vendor cannot rate-
// limit another; within a vendor, models run serially.
type Aggregator struct {
	providers map[stupidmeter.Vendor]stupidmeter.Provider
	store     stupidmeter.Store
	sb        Sandboxer
	logger    *slog.Logger
	obs       Observer
	rng       *rand.Rand
	now       func() time.Time
	sleep     func(context.Context, time.Duration)
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the suite logger.
func WithAggregatorLogger(l *slog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = l }
}

// WithAggregatorObserver reports trial and score telemetry.
func WithAggregatorObserver(o Observer) AggregatorOption {
	return func(a *Aggregator) { a.obs = o }
}

// withAggregatorClock fixes time and sleep for tests.
func withAggregatorClock(now func() time.Time, sleep func(context.Context, time.Duration)) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
		a.sleep = sleep
	}
}

// withAggregatorRand fixes the RNG for tests.
func withAggregatorRand(rng *rand.Rand) AggregatorOption {
	return func(a *Aggregator) { a.rng = rng }
}

// NewAggregator wires the code-gen suite. providers maps each vendor to
// its (retry-wrapped) adapter; a vendor absent from the map scores the
// no-API-key sentinel.
func NewAggregator(providers map[stupidmeter.Vendor]stupidmeter.Provider, store stupidmeter.Store, sb Sandboxer, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		providers: providers,
		store:     store,
		sb:        sb,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RunSuite benchmarks every listed model and persists one score snapshot
// per model. All snapshots of the batch share one timestamp. Individual
// model failures become sentinel scores, never suite errors; only store
// or context failures propagate.
func (a *Aggregator) RunSuite(ctx context.Context, suite stupidmeter.Suite) error {
	models, err := a.store.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("codegen: list models: %w", err)
	}
	batchTS := a.now().UTC().Format(time.RFC3339)

	byVendor := make(map[stupidmeter.Vendor][]stupidmeter.Model)
	for _, m := range models {
		byVendor[m.Vendor] = append(byVendor[m.Vendor], m)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, vendorModels := range byVendor {
		vendorModels := vendorModels
		// Each vendor shard gets its own RNG; rand.Rand is not safe for
		// concurrent use.
		rng := rand.New(rand.NewSource(a.rng.Int63()))
		g.Go(func() error {
			for _, m := range vendorModels {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.runModel(gctx, suite, m, batchTS, rng)
			}
			return nil
		})
	}
	return g.Wait()
}

// runModel executes the whole pipeline for one model. A panic anywhere
// inside becomes the generic-error sentinel for that model only.
func (a *Aggregator) runModel(ctx context.Context, suite stupidmeter.Suite, model stupidmeter.Model, batchTS string, rng *rand.Rand) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("model run panicked", "model", model.Name, "panic", r)
			a.persistSentinel(ctx, suite, model, batchTS, stupidmeter.SentinelGenericError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	provider, ok := a.providers[model.Vendor]
	if !ok || provider == nil {
		a.persistSentinel(ctx, suite, model, batchTS, stupidmeter.SentinelNoAPIKey, "no API key configured for "+string(model.Vendor))
		return
	}

	if err := a.canary(ctx, provider, model); err != nil {
		a.logger.Warn("canary failed", "model", model.Name, "error", err)
		a.persistSentinel(ctx, suite, model, batchTS, stupidmeter.SentinelAdapterFailed, "canary failed: "+err.Error())
		return
	}

	catalog := tasks.CodeTasks()
	rng.Shuffle(len(catalog), func(i, j int) { catalog[i], catalog[j] = catalog[j], catalog[i] })
	k := tasksPerTick
	if k > len(catalog) {
		k = len(catalog)
	}
	picked := catalog[:k]

	runnerOpts := []RunnerOption{WithRunnerLogger(a.logger), withRunnerRand(rng)}
	if cacheProneVendors[model.Vendor] {
		runnerOpts = append(runnerOpts, WithCacheProne())
	}
	runner := NewRunner(provider, NewEvaluator(a.sb, a.logger), runnerOpts...)
	sessionID := fmt.Sprintf("%s:%d:%s", suite, model.ID, batchTS)

	results := make([]taskOutcome, 0, k)
	for _, task := range picked {
		results = append(results, a.runTask(ctx, suite, runner, model, task, sessionID, false, rng))
	}
	// Second phase: one boosted retry for tasks where every trial failed.
	for i, out := range results {
		if out.successes() == 0 {
			retried := a.runTask(ctx, suite, runner, model, picked[i], sessionID, true, rng)
			retried.attemptedCorrectness = append(results[i].attemptedCorrectness, retried.attemptedCorrectness...)
			results[i] = retried
		}
	}

	agg, okTasks := collapseSuite(results)
	if okTasks == 0 {
		a.persistSentinel(ctx, suite, model, batchTS, stupidmeter.SentinelAllTasksFailed, "all tasks failed")
		return
	}

	history, err := a.store.RecentScores(ctx, model.ID, suite, 50)
	if err != nil {
		a.logger.Error("loading score history failed", "model", model.Name, "error", err)
	}
	baseline := stupidmeter.ComputeBaseline(history)

	score := stupidmeter.HarshScore(agg, baseline)
	score -= math.Round(12 * (1 - float64(okTasks)/float64(k)))
	note := ""
	if !baseline.HasBaseline {
		score -= 2
		note = stupidmeter.CalibratingNote(baseline.Samples)
	}
	if score < 0 {
		score = 0
	}

	var prevCUSUM float64
	if len(history) > 0 {
		prevCUSUM = history[0].CUSUM
	}

	snap := stupidmeter.Score{
		ModelID:     model.ID,
		TS:          batchTS,
		Suite:       suite,
		StupidScore: score,
		Axes:        agg,
		CUSUM:       stupidmeter.NextCUSUM(prevCUSUM, score, baseline),
		Note:        note,
	}
	if err := a.store.InsertScore(ctx, snap); err != nil {
		a.logger.Error("persisting score failed", "model", model.Name, "error", err)
		return
	}
	if a.obs != nil {
		a.obs.RecordScore(ctx, suite, model.Name, score)
	}
	a.logger.Info("model scored", "model", model.Name, "suite", suite, "score", score, "tasks_ok", okTasks, "tasks", k)
}

// canary validates credentials and liveness with one tiny chat round,
// retried once.
func (a *Aggregator) canary(ctx context.Context, p stupidmeter.Provider, model stupidmeter.Model) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := p.Chat(ctx, stupidmeter.ChatRequest{
			Model:       model.Name,
			Messages:    []stupidmeter.ChatMessage{stupidmeter.UserMessage(canaryPrompt)},
			Temperature: 0,
			MaxTokens:   16,
		})
		if err == nil && resp.Text != "" {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("empty canary response")
		}
		lastErr = err
	}
	return lastErr
}

// taskOutcome gathers one task's trials. attemptedCorrectness has one
// entry per attempted trial, zero for trials that failed outright.
type taskOutcome struct {
	trials               []TrialResult
	attemptedCorrectness []float64
}

func (t taskOutcome) successes() int { return len(t.trials) }

// runTask executes the trial loop for one task, persisting each
// successful trial's run and metric rows as it goes.
func (a *Aggregator) runTask(ctx context.Context, suite stupidmeter.Suite, runner *Runner, model stupidmeter.Model, task tasks.CodeTask, sessionID string, retryPass bool, rng *rand.Rand) taskOutcome {
	var out taskOutcome
	n := trialsPerTask
	if retryPass {
		n = 1
	}
	for trial := 0; trial < n; trial++ {
		if trial > 0 {
			a.sleep(ctx, time.Duration(200+rng.Intn(201))*time.Millisecond)
		}
		res, err := runner.RunTrial(ctx, model, task, sessionID, trial, retryPass)
		if err != nil {
			a.logger.Debug("trial failed", "model", model.Name, "task", task.ID, "trial", trial, "error", err)
			out.attemptedCorrectness = append(out.attemptedCorrectness, 0)
			if a.obs != nil {
				a.obs.RecordTrial(ctx, suite, model.Name, task.ID, false, 0)
			}
			continue
		}
		out.trials = append(out.trials, res)
		out.attemptedCorrectness = append(out.attemptedCorrectness, res.Axes.Correctness)
		if a.obs != nil {
			passed := res.Eval.Total > 0 && res.Eval.Passed == res.Eval.Total
			a.obs.RecordTrial(ctx, suite, model.Name, task.ID, passed, res.LatencyMs)
		}
		a.persistTrial(ctx, model, task, res)
	}
	return out
}

// persistTrial appends the run row and its metric vector. Persistence
// failures are logged, not fatal: a lost row must not sink the suite.
func (a *Aggregator) persistTrial(ctx context.Context, model stupidmeter.Model, task tasks.CodeTask, res TrialResult) {
	runID, err := a.store.InsertRun(ctx, stupidmeter.Run{
		ModelID:      model.ID,
		TaskID:       task.ID,
		TS:           a.now().UTC().Format(time.RFC3339),
		TempSeed:     res.TempSeed,
		TokensIn:     res.TokensIn,
		TokensOut:    res.TokensOut,
		LatencyMs:    res.LatencyMs,
		Attempts:     res.Attempts,
		Passed:       res.Eval.Total > 0 && res.Eval.Passed == res.Eval.Total,
		ArtifactHash: res.ArtifactHash(),
	})
	if err != nil {
		a.logger.Error("persisting run failed", "model", model.Name, "task", task.ID, "error", err)
		return
	}
	if err := a.store.InsertMetric(ctx, stupidmeter.Metric{RunID: runID, Axes: res.Axes}); err != nil {
		a.logger.Error("persisting metric failed", "model", model.Name, "task", task.ID, "error", err)
	}
}

// persistSentinel writes a sentinel score snapshot with sentinel axes.
func (a *Aggregator) persistSentinel(ctx context.Context, suite stupidmeter.Suite, model stupidmeter.Model, batchTS string, sentinel float64, note string) {
	err := a.store.InsertScore(ctx, stupidmeter.Score{
		ModelID:     model.ID,
		TS:          batchTS,
		Suite:       suite,
		StupidScore: sentinel,
		Axes:        stupidmeter.SentinelAxes(),
		Note:        note,
	})
	if err != nil {
		a.logger.Error("persisting sentinel failed", "model", model.Name, "sentinel", sentinel, "error", err)
		return
	}
	if a.obs != nil {
		a.obs.RecordScore(ctx, suite, model.Name, sentinel)
	}
}

// collapseTask medians each axis across the task's successful trials and
// derives stability from the spread of correctness across all attempted
// trials.
func collapseTask(out taskOutcome) stupidmeter.Axes {
	axes := stupidmeter.Axes{
		Correctness: medianOf(out.trials, func(a stupidmeter.Axes) float64 { return a.Correctness }),
		Complexity:  medianOf(out.trials, func(a stupidmeter.Axes) float64 { return a.Complexity }),
		CodeQuality: medianOf(out.trials, func(a stupidmeter.Axes) float64 { return a.CodeQuality }),
		Efficiency:  medianOf(out.trials, func(a stupidmeter.Axes) float64 { return a.Efficiency }),
		EdgeCases:   medianOf(out.trials, func(a stupidmeter.Axes) float64 { return a.EdgeCases }),
		Debugging:   medianOf(out.trials, func(a stupidmeter.Axes) float64 { return a.Debugging }),
	}
	axes.Stability = clip01(1 - stddev(out.attemptedCorrectness)/0.3)
	return axes
}

// collapseSuite means the per-task vectors across tasks with at least one
// successful trial, then soft-caps stability.
func collapseSuite(results []taskOutcome) (stupidmeter.Axes, int) {
	var sum stupidmeter.Axes
	var n int
	for _, out := range results {
		if out.successes() == 0 {
			continue
		}
		t := collapseTask(out)
		sum.Correctness += t.Correctness
		sum.Complexity += t.Complexity
		sum.CodeQuality += t.CodeQuality
		sum.Efficiency += t.Efficiency
		sum.Stability += t.Stability
		sum.EdgeCases += t.EdgeCases
		sum.Debugging += t.Debugging
		n++
	}
	if n == 0 {
		return stupidmeter.Axes{}, 0
	}
	f := float64(n)
	agg := stupidmeter.Axes{
		Correctness: sum.Correctness / f,
		Complexity:  sum.Complexity / f,
		CodeQuality: sum.CodeQuality / f,
		Efficiency:  sum.Efficiency / f,
		Stability:   math.Min(0.95, sum.Stability/f),
		EdgeCases:   sum.EdgeCases / f,
		Debugging:   sum.Debugging / f,
	}
	return agg, n
}

// medianOf extracts one axis from each trial and medians it. Even counts
// average the two middle values.
func medianOf(trials []TrialResult, get func(stupidmeter.Axes) float64) float64 {
	if len(trials) == 0 {
		return 0
	}
	vals := make([]float64, len(trials))
	for i, t := range trials {
		vals[i] = get(t.Axes)
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// stddev is the population standard deviation.
func stddev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)))
}
