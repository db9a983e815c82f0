package codegen

import (
	"context"
	"fmt"
	"sync"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/sandbox"
)

// fakeSandbox is a scripted Sandboxer. Exec returns checkOut for
// check.py and runnerOut for runner.py; WriteFile captures content.
type fakeSandbox struct {
	mu        sync.Mutex
	checkOut  string
	runnerOut string
	execErr   error
	created   int
	destroyed int
	files     map[string]string // last written content per path
}

var _ Sandboxer = (*fakeSandbox)(nil)

func newFakeSandbox(checkOut, runnerOut string) *fakeSandbox {
	return &fakeSandbox{checkOut: checkOut, runnerOut: runnerOut, files: make(map[string]string)}
}

func (f *fakeSandbox) Create(ctx context.Context, cfg sandbox.Config) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("sb-%d", f.created), nil
}

func (f *fakeSandbox) Exec(ctx context.Context, id string, argv []string, opts sandbox.ExecOptions) (sandbox.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return sandbox.ExecResult{}, f.execErr
	}
	out := f.runnerOut
	if len(argv) == 2 && argv[1] == "check.py" {
		out = f.checkOut
	}
	return sandbox.ExecResult{Stdout: out}, nil
}

func (f *fakeSandbox) WriteFile(ctx context.Context, id, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
	return nil
}

func (f *fakeSandbox) Destroy(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return nil
}

// fakeProvider returns canned chat responses in order, repeating the
// last one.
type fakeProvider struct {
	mu        sync.Mutex
	name      string
	responses []stupidmeter.ChatResponse
	errs      []error
	idx       int
	requests  []stupidmeter.ChatRequest
}

var _ stupidmeter.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) ListModels(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (p *fakeProvider) Chat(ctx context.Context, req stupidmeter.ChatRequest) (stupidmeter.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	i := p.idx
	if i >= len(p.responses) && len(p.responses) > 0 {
		i = len(p.responses) - 1
	}
	p.idx++
	if i < len(p.errs) && p.errs[i] != nil {
		return stupidmeter.ChatResponse{}, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return stupidmeter.ChatResponse{}, fmt.Errorf("no scripted response")
}

// memStore is an in-memory Store capturing inserts. Safe for the
// aggregator's per-vendor goroutines.
type memStore struct {
	mu      sync.Mutex
	models  []stupidmeter.Model
	runs    []stupidmeter.Run
	metrics []stupidmeter.Metric
	scores  []stupidmeter.Score
	history []stupidmeter.Score // returned by RecentScores
}

var _ stupidmeter.Store = (*memStore)(nil)

func (s *memStore) Init(ctx context.Context) error { return nil }
func (s *memStore) Close() error                   { return nil }

func (s *memStore) UpsertModel(ctx context.Context, m stupidmeter.Model) (stupidmeter.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = int64(len(s.models) + 1)
	s.models = append(s.models, m)
	return m, nil
}

func (s *memStore) ListModels(ctx context.Context) ([]stupidmeter.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stupidmeter.Model(nil), s.models...), nil
}

func (s *memStore) InsertRun(ctx context.Context, r stupidmeter.Run) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = int64(len(s.runs) + 1)
	s.runs = append(s.runs, r)
	return r.ID, nil
}

func (s *memStore) InsertMetric(ctx context.Context, m stupidmeter.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *memStore) InsertScore(ctx context.Context, sc stupidmeter.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.ID = int64(len(s.scores) + 1)
	s.scores = append(s.scores, sc)
	return nil
}

func (s *memStore) RecentScores(ctx context.Context, modelID int64, suite stupidmeter.Suite, limit int) ([]stupidmeter.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]stupidmeter.Score(nil), s.history...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LatestScores(ctx context.Context, suite stupidmeter.Suite) ([]stupidmeter.Score, error) {
	return nil, nil
}

func (s *memStore) ScoreHistory(ctx context.Context, modelID int64, suite stupidmeter.Suite, since time.Time) ([]stupidmeter.Score, error) {
	return nil, nil
}

func (s *memStore) CreateToolSession(ctx context.Context, sess stupidmeter.ToolSession) error {
	return nil
}

func (s *memStore) FinalizeToolSession(ctx context.Context, sess stupidmeter.ToolSession) error {
	return nil
}

func (s *memStore) InsertToolExecution(ctx context.Context, e stupidmeter.ToolExecution) error {
	return nil
}

func (s *memStore) RecentSessionExists(ctx context.Context, modelID int64, taskSlug string, within time.Duration) (bool, error) {
	return false, nil
}

// fakeObserver counts telemetry calls.
type fakeObserver struct {
	mu           sync.Mutex
	trials       int
	trialsPassed int
	scores       []float64
}

var _ Observer = (*fakeObserver)(nil)

func (o *fakeObserver) RecordTrial(ctx context.Context, suite stupidmeter.Suite, model, taskID string, passed bool, latencyMs int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trials++
	if passed {
		o.trialsPassed++
	}
}

func (o *fakeObserver) RecordScore(ctx context.Context, suite stupidmeter.Suite, model string, score float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scores = append(o.scores, score)
}

func (s *memStore) lastScore() (stupidmeter.Score, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scores) == 0 {
		return stupidmeter.Score{}, false
	}
	return s.scores[len(s.scores)-1], true
}
