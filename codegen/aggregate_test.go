package codegen

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
)

func testAggregator(provider stupidmeter.Provider, store *memStore, sb *fakeSandbox) *Aggregator {
	providers := map[stupidmeter.Vendor]stupidmeter.Provider{}
	if provider != nil {
		providers[stupidmeter.VendorOpenAI] = provider
	}
	return NewAggregator(providers, store, sb,
		withAggregatorRand(rand.New(rand.NewSource(7))),
		withAggregatorClock(
			func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
			func(context.Context, time.Duration) {},
		),
	)
}

func seedModel(t *testing.T, store *memStore) stupidmeter.Model {
	t.Helper()
	m, err := store.UpsertModel(context.Background(), stupidmeter.Model{Name: "gpt-test", Vendor: stupidmeter.VendorOpenAI})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRunSuiteHappyPath(t *testing.T) {
	store := &memStore{}
	seedModel(t, store)
	provider := &fakeProvider{
		name: "openai",
		responses: []stupidmeter.ChatResponse{
			{Text: "ok"},           // canary
			{Text: fencedSolution}, // every trial
		},
	}
	sb := newFakeSandbox("OK\n", "4/4\n")
	agg := testAggregator(provider, store, sb)

	if err := agg.RunSuite(context.Background(), stupidmeter.SuiteHourly); err != nil {
		t.Fatal(err)
	}

	score, ok := store.lastScore()
	if !ok {
		t.Fatal("no score persisted")
	}
	if stupidmeter.IsSentinel(score.StupidScore) {
		t.Fatalf("StupidScore = %v, want a measurement", score.StupidScore)
	}
	if score.StupidScore < 0 || score.StupidScore > 100 {
		t.Errorf("StupidScore = %v, want in [0,100]", score.StupidScore)
	}
	if score.Axes.Correctness != 1.0 {
		t.Errorf("Correctness = %v, want 1.0", score.Axes.Correctness)
	}
	if score.Axes.Stability != 0.95 {
		t.Errorf("Stability = %v, want soft cap 0.95", score.Axes.Stability)
	}
	if !strings.HasPrefix(score.Note, "Calibrating") {
		t.Errorf("Note = %q, want calibrating note with empty history", score.Note)
	}
	if want := tasksPerTick * trialsPerTask; len(store.runs) != want {
		t.Errorf("runs = %d, want %d", len(store.runs), want)
	}
	if len(store.metrics) != len(store.runs) {
		t.Errorf("metrics = %d, want one per run", len(store.metrics))
	}
	for _, r := range store.runs {
		if !r.Passed {
			t.Errorf("run %d not passed", r.ID)
		}
		if r.ArtifactHash == "" {
			t.Errorf("run %d missing artifact hash", r.ID)
		}
	}
}

func TestRunSuiteNoProviderSentinel(t *testing.T) {
	store := &memStore{}
	seedModel(t, store)
	agg := testAggregator(nil, store, newFakeSandbox("", ""))

	if err := agg.RunSuite(context.Background(), stupidmeter.SuiteHourly); err != nil {
		t.Fatal(err)
	}
	score, ok := store.lastScore()
	if !ok {
		t.Fatal("no score persisted")
	}
	if score.StupidScore != stupidmeter.SentinelNoAPIKey {
		t.Errorf("StupidScore = %v, want %v", score.StupidScore, stupidmeter.SentinelNoAPIKey)
	}
	if score.Axes.Correctness != -1 {
		t.Errorf("sentinel axes = %+v, want all -1", score.Axes)
	}
	if len(store.runs) != 0 {
		t.Errorf("runs = %d, want none for a keyless vendor", len(store.runs))
	}
}

func TestRunSuiteCanaryFailureSentinel(t *testing.T) {
	store := &memStore{}
	seedModel(t, store)
	provider := &fakeProvider{
		name: "openai",
		errs: []error{errors.New("401 unauthorized"), errors.New("401 unauthorized")},
	}
	agg := testAggregator(provider, store, newFakeSandbox("", ""))

	if err := agg.RunSuite(context.Background(), stupidmeter.SuiteHourly); err != nil {
		t.Fatal(err)
	}
	score, _ := store.lastScore()
	if score.StupidScore != stupidmeter.SentinelAdapterFailed {
		t.Errorf("StupidScore = %v, want %v", score.StupidScore, stupidmeter.SentinelAdapterFailed)
	}
	if !strings.Contains(score.Note, "canary") {
		t.Errorf("Note = %q, want canary failure reason", score.Note)
	}
}

func TestRunSuiteAllTasksFailedSentinel(t *testing.T) {
	store := &memStore{}
	seedModel(t, store)
	provider := &fakeProvider{
		name: "openai",
		responses: []stupidmeter.ChatResponse{
			{Text: "ok"}, // canary passes
			{Text: ""},   // every trial returns nothing
		},
	}
	agg := testAggregator(provider, store, newFakeSandbox("", ""))

	if err := agg.RunSuite(context.Background(), stupidmeter.SuiteHourly); err != nil {
		t.Fatal(err)
	}
	score, _ := store.lastScore()
	if score.StupidScore != stupidmeter.SentinelAllTasksFailed {
		t.Errorf("StupidScore = %v, want %v", score.StupidScore, stupidmeter.SentinelAllTasksFailed)
	}
}

func TestRunSuiteSharedBatchTimestamp(t *testing.T) {
	store := &memStore{}
	seedModel(t, store)
	if _, err := store.UpsertModel(context.Background(), stupidmeter.Model{Name: "grok-test", Vendor: stupidmeter.VendorXAI}); err != nil {
		t.Fatal(err)
	}
	agg := testAggregator(nil, store, newFakeSandbox("", ""))

	if err := agg.RunSuite(context.Background(), stupidmeter.SuiteHourly); err != nil {
		t.Fatal(err)
	}
	if len(store.scores) != 2 {
		t.Fatalf("scores = %d, want 2", len(store.scores))
	}
	if store.scores[0].TS != store.scores[1].TS {
		t.Errorf("batch timestamps differ: %q vs %q", store.scores[0].TS, store.scores[1].TS)
	}
}

func TestRunSuiteReportsTelemetry(t *testing.T) {
	store := &memStore{}
	seedModel(t, store)
	provider := &fakeProvider{
		name: "openai",
		responses: []stupidmeter.ChatResponse{
			{Text: "ok"},
			{Text: fencedSolution},
		},
	}
	obs := &fakeObserver{}
	providers := map[stupidmeter.Vendor]stupidmeter.Provider{stupidmeter.VendorOpenAI: provider}
	agg := NewAggregator(providers, store, newFakeSandbox("OK\n", "4/4\n"),
		WithAggregatorObserver(obs),
		withAggregatorRand(rand.New(rand.NewSource(7))),
		withAggregatorClock(
			func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
			func(context.Context, time.Duration) {},
		),
	)

	if err := agg.RunSuite(context.Background(), stupidmeter.SuiteHourly); err != nil {
		t.Fatal(err)
	}
	if want := tasksPerTick * trialsPerTask; obs.trials != want {
		t.Errorf("recorded trials = %d, want %d", obs.trials, want)
	}
	if obs.trialsPassed != obs.trials {
		t.Errorf("passed trials = %d, want all %d", obs.trialsPassed, obs.trials)
	}
	if len(obs.scores) != 1 {
		t.Fatalf("recorded scores = %d, want 1", len(obs.scores))
	}
	score, _ := store.lastScore()
	if obs.scores[0] != score.StupidScore {
		t.Errorf("recorded score = %v, want persisted %v", obs.scores[0], score.StupidScore)
	}
}

func TestRunSuiteSentinelTelemetry(t *testing.T) {
	store := &memStore{}
	seedModel(t, store)
	obs := &fakeObserver{}
	agg := NewAggregator(nil, store, newFakeSandbox("", ""), WithAggregatorObserver(obs))

	if err := agg.RunSuite(context.Background(), stupidmeter.SuiteHourly); err != nil {
		t.Fatal(err)
	}
	if len(obs.scores) != 1 || obs.scores[0] != stupidmeter.SentinelNoAPIKey {
		t.Errorf("recorded scores = %v, want the no-key sentinel", obs.scores)
	}
}

func TestRunSuiteCacheProneVendorSaltsSystem(t *testing.T) {
	run := func(t *testing.T, vendor stupidmeter.Vendor) *fakeProvider {
		t.Helper()
		store := &memStore{}
		if _, err := store.UpsertModel(context.Background(), stupidmeter.Model{Name: "m-test", Vendor: vendor}); err != nil {
			t.Fatal(err)
		}
		provider := &fakeProvider{
			name: string(vendor),
			responses: []stupidmeter.ChatResponse{
				{Text: "ok"},
				{Text: fencedSolution},
			},
		}
		providers := map[stupidmeter.Vendor]stupidmeter.Provider{vendor: provider}
		agg := NewAggregator(providers, store, newFakeSandbox("OK\n", "4/4\n"),
			withAggregatorRand(rand.New(rand.NewSource(7))),
			withAggregatorClock(
				func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
				func(context.Context, time.Duration) {},
			),
		)
		if err := agg.RunSuite(context.Background(), stupidmeter.SuiteHourly); err != nil {
			t.Fatal(err)
		}
		return provider
	}

	// trialSystem returns the system message of the first trial request
	// (canary requests carry a single message).
	trialSystem := func(t *testing.T, p *fakeProvider) string {
		t.Helper()
		for _, req := range p.requests {
			if len(req.Messages) == 2 {
				return req.Messages[0].Content
			}
		}
		t.Fatal("no trial request captured")
		return ""
	}

	prone := run(t, stupidmeter.VendorDeepSeek)
	if sys := trialSystem(t, prone); !strings.Contains(sys, "[session ") {
		t.Errorf("deepseek system = %q, want nonce suffix", sys)
	}
	plain := run(t, stupidmeter.VendorXAI)
	if sys := trialSystem(t, plain); strings.Contains(sys, "[session ") {
		t.Errorf("xai system = %q, want no nonce suffix", sys)
	}
}

func TestCollapseTaskStability(t *testing.T) {
	identical := taskOutcome{
		trials: []TrialResult{
			{Axes: stupidmeter.Axes{Correctness: 1}},
			{Axes: stupidmeter.Axes{Correctness: 1}},
			{Axes: stupidmeter.Axes{Correctness: 1}},
		},
		attemptedCorrectness: []float64{1, 1, 1},
	}
	if got := collapseTask(identical).Stability; got != 1 {
		t.Errorf("Stability = %v, want 1 for identical trials", got)
	}

	flaky := taskOutcome{
		trials: []TrialResult{
			{Axes: stupidmeter.Axes{Correctness: 1}},
		},
		attemptedCorrectness: []float64{1, 0, 0},
	}
	if got := collapseTask(flaky).Stability; got != 0 {
		t.Errorf("Stability = %v, want 0 when correctness swings 0 to 1", got)
	}
}

func TestMedianOf(t *testing.T) {
	get := func(a stupidmeter.Axes) float64 { return a.Correctness }
	odd := []TrialResult{
		{Axes: stupidmeter.Axes{Correctness: 0.2}},
		{Axes: stupidmeter.Axes{Correctness: 0.9}},
		{Axes: stupidmeter.Axes{Correctness: 0.5}},
	}
	if got := medianOf(odd, get); got != 0.5 {
		t.Errorf("medianOf(odd) = %v, want 0.5", got)
	}
	even := odd[:2]
	if got := medianOf(even, get); got != 0.55 {
		t.Errorf("medianOf(even) = %v, want 0.55", got)
	}
	if got := medianOf(nil, get); got != 0 {
		t.Errorf("medianOf(nil) = %v, want 0", got)
	}
}
