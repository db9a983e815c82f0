package toolcall

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/sandbox"
)

// fakeSandbox emulates just enough of a container filesystem for the
// executors: write, read, list, and a few canned shell commands.
type fakeSandbox struct {
	mu        sync.Mutex
	files     map[string]map[string]string // sandboxID -> path -> content
	destroyed map[string]bool
	created   int
	inFlight  int
	maxFlight int
	execHook  func(argv []string) (sandbox.ExecResult, bool)
	createErr error
}

var _ Sandboxer = (*fakeSandbox)(nil)

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		files:     make(map[string]map[string]string),
		destroyed: make(map[string]bool),
	}
}

func (f *fakeSandbox) Create(ctx context.Context, cfg sandbox.Config) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	id := fmt.Sprintf("sb-%d", f.created)
	f.files[id] = make(map[string]string)
	return id, nil
}

func (f *fakeSandbox) Destroy(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.destroyed[id] {
		f.destroyed[id] = true
		f.inFlight--
	}
	return nil
}

func (f *fakeSandbox) WriteFile(ctx context.Context, id, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.files[id]
	if !ok || f.destroyed[id] {
		return sandbox.ErrNotRunning
	}
	fs[path] = content
	return nil
}

func (f *fakeSandbox) ReadFile(ctx context.Context, id, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.files[id]
	if !ok || f.destroyed[id] {
		return "", sandbox.ErrNotRunning
	}
	content, ok := fs[path]
	if !ok {
		return "", fmt.Errorf("read %s: no such file", path)
	}
	return content, nil
}

func (f *fakeSandbox) Exec(ctx context.Context, id string, argv []string, opts sandbox.ExecOptions) (sandbox.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.files[id]
	if !ok || f.destroyed[id] {
		return sandbox.ExecResult{}, sandbox.ErrNotRunning
	}
	if f.execHook != nil {
		if res, handled := f.execHook(argv); handled {
			return res, nil
		}
	}

	switch {
	case argv[0] == "mkdir":
		return sandbox.ExecResult{}, nil
	case argv[0] == "test" && len(argv) == 3 && argv[1] == "-e":
		if _, exists := fs[argv[2]]; exists {
			return sandbox.ExecResult{}, nil
		}
		for path := range fs {
			if strings.HasPrefix(path, argv[2]+"/") {
				return sandbox.ExecResult{}, nil
			}
		}
		return sandbox.ExecResult{ExitCode: 1}, nil
	case argv[0] == "ls":
		dir := argv[len(argv)-1]
		var names []string
		for path := range fs {
			rel := path
			if dir != "." {
				if !strings.HasPrefix(path, dir+"/") {
					continue
				}
				rel = strings.TrimPrefix(path, dir+"/")
			}
			names = append(names, strings.SplitN(rel, "/", 2)[0])
		}
		return sandbox.ExecResult{Stdout: strings.Join(names, "\n")}, nil
	case argv[0] == "/bin/sh" && len(argv) == 3:
		return f.shLocked(fs, argv[2]), nil
	}
	return sandbox.ExecResult{}, nil
}

// shLocked interprets the small command subset the tests exercise.
func (f *fakeSandbox) shLocked(fs map[string]string, cmd string) sandbox.ExecResult {
	switch {
	case strings.HasPrefix(cmd, "wc -c < "):
		path := strings.Trim(strings.TrimPrefix(cmd, "wc -c < "), "'")
		content, ok := fs[path]
		if !ok {
			return sandbox.ExecResult{ExitCode: 1, Stderr: "no such file"}
		}
		return sandbox.ExecResult{Stdout: fmt.Sprintf("%d\n", len(content))}
	case strings.HasPrefix(cmd, "cat "):
		path := strings.TrimSpace(strings.TrimPrefix(cmd, "cat "))
		content, ok := fs[path]
		if !ok {
			return sandbox.ExecResult{ExitCode: 1, Stderr: "no such file"}
		}
		return sandbox.ExecResult{Stdout: content}
	}
	return sandbox.ExecResult{}
}

// scriptedProvider pops responses in order; past the script it returns
// a plain no-tool-call response so sessions terminate.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []stupidmeter.ChatResponse
	errs      []error
	idx       int
	requests  []stupidmeter.ChatRequest
}

var _ stupidmeter.Provider = (*scriptedProvider)(nil)

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (p *scriptedProvider) Chat(ctx context.Context, req stupidmeter.ChatRequest) (stupidmeter.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	i := p.idx
	p.idx++
	if i < len(p.errs) && p.errs[i] != nil {
		return stupidmeter.ChatResponse{}, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return stupidmeter.ChatResponse{Text: "done"}, nil
}

func toolCall(name, args string) stupidmeter.ToolCallReq {
	return stupidmeter.ToolCallReq{Name: name, Arguments: []byte(args)}
}

func testSandboxConfig() sandbox.Config {
	return sandbox.Config{}
}

// memStore captures sessions, executions, and scores in memory.
type memStore struct {
	mu         sync.Mutex
	models     []stupidmeter.Model
	sessions   map[string]stupidmeter.ToolSession
	finalized  []stupidmeter.ToolSession
	executions []stupidmeter.ToolExecution
	scores     []stupidmeter.Score
	recent     map[string]bool // modelID/taskSlug -> recent
}

var _ stupidmeter.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]stupidmeter.ToolSession),
		recent:   make(map[string]bool),
	}
}

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

func (s *memStore) InsertRun(ctx context.Context, r stupidmeter.Run) (int64, error) { return 1, nil }
func (s *memStore) InsertMetric(ctx context.Context, m stupidmeter.Metric) error    { return nil }

func (s *memStore) InsertScore(ctx context.Context, sc stupidmeter.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, sc)
	return nil
}

func (s *memStore) RecentScores(ctx context.Context, modelID int64, suite stupidmeter.Suite, limit int) ([]stupidmeter.Score, error) {
	return nil, nil
}

func (s *memStore) LatestScores(ctx context.Context, suite stupidmeter.Suite) ([]stupidmeter.Score, error) {
	return nil, nil
}

func (s *memStore) ScoreHistory(ctx context.Context, modelID int64, suite stupidmeter.Suite, since time.Time) ([]stupidmeter.Score, error) {
	return nil, nil
}

func (s *memStore) CreateToolSession(ctx context.Context, sess stupidmeter.ToolSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memStore) FinalizeToolSession(ctx context.Context, sess stupidmeter.ToolSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, sess)
	return nil
}

func (s *memStore) InsertToolExecution(ctx context.Context, e stupidmeter.ToolExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, e)
	return nil
}

func (s *memStore) RecentSessionExists(ctx context.Context, modelID int64, taskSlug string, within time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent[recentKey(modelID, taskSlug)], nil
}

func recentKey(modelID int64, taskSlug string) string {
	return fmt.Sprintf("%d/%s", modelID, taskSlug)
}

// fakeObserver counts telemetry calls.
type fakeObserver struct {
	mu         sync.Mutex
	sessions   []stupidmeter.SessionStatus
	executions []string // tool names
	scores     []float64
}

var _ Observer = (*fakeObserver)(nil)

func (o *fakeObserver) RecordSession(ctx context.Context, model, taskSlug string, status stupidmeter.SessionStatus, latencyMs int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions = append(o.sessions, status)
}

func (o *fakeObserver) RecordToolExecution(ctx context.Context, toolName string, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executions = append(o.executions, toolName)
}

func (o *fakeObserver) RecordScore(ctx context.Context, suite stupidmeter.Suite, model string, score float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scores = append(o.scores, score)
}
