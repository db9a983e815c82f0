package toolcall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"
	"github.com/benchlab/stupidmeter/tasks"
	"golang.org/x/sync/semaphore"
)

const (
	// defaultWorkers caps concurrent sessions, and with them concurrent
	// sandboxes.
	defaultWorkers = 3
	// recencyWindow skips a (model, task) pair benchmarked this recently.
	recencyWindow = 20 * time.Hour
)

// Suite drains every (tool-capable model, tool task) pair through the
// session engine under a bounded worker pool, then persists one score
// snapshot per model.
type Suite struct {
	providers map[stupidmeter.Vendor]stupidmeter.Provider
	store     stupidmeter.Store
	engine    *Engine
	logger    *slog.Logger
	obs       Observer
	workers   int64
	now       func() time.Time
}

// SuiteOption configures a Suite.
type SuiteOption func(*Suite)

// WithSuiteLogger sets the suite logger.
func WithSuiteLogger(l *slog.Logger) SuiteOption {
	return func(s *Suite) { s.logger = l }
}

// WithSuiteObserver reports persisted tooling scores.
func WithSuiteObserver(o Observer) SuiteOption {
	return func(s *Suite) { s.obs = o }
}

// WithSuiteWorkers overrides the session concurrency limit.
func WithSuiteWorkers(n int64) SuiteOption {
	return func(s *Suite) {
		if n > 0 {
			s.workers = n
		}
	}
}

// withSuiteClock fixes time for tests.
func withSuiteClock(now func() time.Time) SuiteOption {
	return func(s *Suite) { s.now = now }
}

// NewSuite wires the tooling suite.
func NewSuite(providers map[stupidmeter.Vendor]stupidmeter.Provider, store stupidmeter.Store, engine *Engine, opts ...SuiteOption) *Suite {
	s := &Suite{
		providers: providers,
		store:     store,
		engine:    engine,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:   defaultWorkers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run executes one tooling tick. Models without tool support are
// excluded; models whose vendor has no key score the no-API-key
// sentinel. Session failures are contained per pair.
func (s *Suite) Run(ctx context.Context) error {
	models, err := s.store.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("toolcall: list models: %w", err)
	}
	batchTS := s.now().UTC().Format(time.RFC3339)
	catalog := tasks.ToolTasks()

	sem := semaphore.NewWeighted(s.workers)
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		scores    = make(map[int64][]float64) // modelID -> session scores
		creditHit = make(map[stupidmeter.Vendor]bool)
	)

	for _, model := range models {
		if !model.SupportsToolCalling {
			continue
		}
		provider, ok := s.providers[model.Vendor]
		if !ok || provider == nil {
			s.persistSentinel(ctx, model, batchTS, stupidmeter.SentinelNoAPIKey, "no API key configured for "+string(model.Vendor))
			continue
		}

		for _, task := range catalog {
			recent, rErr := s.store.RecentSessionExists(ctx, model.ID, task.Slug, recencyWindow)
			if rErr != nil {
				s.logger.Error("recency lookup failed", "model", model.Name, "task", task.Slug, "error", rErr)
			} else if recent {
				s.logger.Debug("skipping recently benchmarked pair", "model", model.Name, "task", task.Slug)
				continue
			}

			mu.Lock()
			skip := creditHit[model.Vendor]
			mu.Unlock()
			if skip {
				continue
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}
			model, task := model, task
			wg.Add(1)
			go func() {
				defer sem.Release(1)
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("tool session panicked", "model", model.Name, "task", task.Slug, "panic", r)
					}
				}()

				session, sErr := s.engine.RunSession(ctx, provider, model, task)
				if sErr != nil {
					var credit *stupidmeter.ErrCreditExhausted
					if errors.As(sErr, &credit) {
						s.logger.Warn("vendor credit exhausted, skipping remaining sessions", "vendor", model.Vendor)
						mu.Lock()
						creditHit[model.Vendor] = true
						mu.Unlock()
						return
					}
					s.logger.Error("tool session failed", "model", model.Name, "task", task.Slug, "error", sErr)
					return
				}
				if session.Status == stupidmeter.SessionCompleted {
					mu.Lock()
					scores[model.ID] = append(scores[model.ID], session.FinalScore)
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	for _, model := range models {
		if !model.SupportsToolCalling {
			continue
		}
		vals, ok := scores[model.ID]
		if !ok || len(vals) == 0 {
			continue
		}
		s.persistScore(ctx, model, batchTS, vals)
	}
	return ctx.Err()
}

// persistScore writes the per-model tooling snapshot: the mean of its
// session scores, with the mean scaled back to [0,1] on every axis so
// dashboard consumers see a uniform axis shape across suites.
func (s *Suite) persistScore(ctx context.Context, model stupidmeter.Model, batchTS string, vals []float64) {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	unit := clampUnit(mean / 100)
	// Stability keeps its 0.95 soft cap in every persisted aggregate,
	// whichever suite produced it.
	stability := math.Min(unit, 0.95)

	err := s.store.InsertScore(ctx, stupidmeter.Score{
		ModelID:     model.ID,
		TS:          batchTS,
		Suite:       stupidmeter.SuiteTooling,
		StupidScore: math.Round(mean),
		Axes: stupidmeter.Axes{
			Correctness: unit, Complexity: unit, CodeQuality: unit,
			Efficiency: unit, Stability: stability, EdgeCases: unit, Debugging: unit,
		},
	})
	if err != nil {
		s.logger.Error("persisting tooling score failed", "model", model.Name, "error", err)
		return
	}
	if s.obs != nil {
		s.obs.RecordScore(ctx, stupidmeter.SuiteTooling, model.Name, math.Round(mean))
	}
	s.logger.Info("tooling score persisted", "model", model.Name, "score", math.Round(mean), "sessions", len(vals))
}

func (s *Suite) persistSentinel(ctx context.Context, model stupidmeter.Model, batchTS string, sentinel float64, note string) {
	err := s.store.InsertScore(ctx, stupidmeter.Score{
		ModelID:     model.ID,
		TS:          batchTS,
		Suite:       stupidmeter.SuiteTooling,
		StupidScore: sentinel,
		Axes:        stupidmeter.SentinelAxes(),
		Note:        note,
	})
	if err != nil {
		s.logger.Error("persisting sentinel failed", "model", model.Name, "error", err)
		return
	}
	if s.obs != nil {
		s.obs.RecordScore(ctx, stupidmeter.SuiteTooling, model.Name, sentinel)
	}
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
