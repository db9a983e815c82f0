package stupidmeter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// SuiteFunc runs one full tick of a suite across every model.
type SuiteFunc func(ctx context.Context) error

// CacheInvalidator drops dashboard cache entries bound to a suite.
// The scheduler treats invalidation failures as advisory: logged, never
// allowed to fail a tick.
type CacheInvalidator interface {
	InvalidateSuite(suite Suite) error
}

// schedulerConfig holds options accumulated by SchedulerOption calls.
type schedulerConfig struct {
	poll     time.Duration
	tzOffset int
	watchdog time.Duration
	logger   *slog.Logger
	cache    CacheInvalidator
	now      func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerConfig)

// WithSchedulerPoll sets the trigger polling interval. Default: 30s.
func WithSchedulerPoll(d time.Duration) SchedulerOption {
	return func(c *schedulerConfig) { c.poll = d }
}

// WithSchedulerTZOffset sets the UTC offset in hours for the daily
// triggers. Default: 0 (UTC).
func WithSchedulerTZOffset(hours int) SchedulerOption {
	return func(c *schedulerConfig) { c.tzOffset = hours }
}

// WithSchedulerWatchdog bounds the wall-clock duration of one suite tick.
// Default: 1 hour. On expiry the tick's context is cancelled; in-flight
// sandbox execs are killed by their own deadlines.
func WithSchedulerWatchdog(d time.Duration) SchedulerOption {
	return func(c *schedulerConfig) { c.watchdog = d }
}

// WithSchedulerLogger sets the structured logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(c *schedulerConfig) { c.logger = l }
}

// WithSchedulerCache sets the dashboard cache to invalidate after each
// completed tick.
func WithSchedulerCache(ci CacheInvalidator) SchedulerOption {
	return func(c *schedulerConfig) { c.cache = ci }
}

// withSchedulerClock overrides the time source. Test hook.
func withSchedulerClock(now func() time.Time) SchedulerOption {
	return func(c *schedulerConfig) { c.now = now }
}

// suiteSlot is the per-suite scheduling state: the suite function, its
// in-flight guard, and the next due time.
type suiteSlot struct {
	suite    Suite
	run      SuiteFunc
	inflight atomic.Bool
	nextDue  atomic.Int64
}

// Scheduler fires the three benchmark suites on their cadences:
// code-gen "hourly" every 20 minutes at :00/:20/:40, code-gen "deep"
// daily at 03:00, tool-calling daily at 04:00. Each suite has a single
// in-flight guard; concurrent triggers are dropped with a log line, and
// a crash in one suite never stops future ticks of any suite.
type Scheduler struct {
	hourly  *suiteSlot
	deep    *suiteSlot
	tooling *suiteSlot

	poll     time.Duration
	tzOffset int
	watchdog time.Duration
	logger   *slog.Logger
	cache    CacheInvalidator
	now      func() time.Time
}

const (
	hourlyEveryMinutes = 20
	deepHour           = 3
	toolingHour        = 4
)

// NewScheduler creates a Scheduler over the three suite functions.
func NewScheduler(hourly, deep, tooling SuiteFunc, opts ...SchedulerOption) *Scheduler {
	cfg := schedulerConfig{
		poll:     30 * time.Second,
		watchdog: time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	s := &Scheduler{
		hourly:   &suiteSlot{suite: SuiteHourly, run: hourly},
		deep:     &suiteSlot{suite: SuiteDeep, run: deep},
		tooling:  &suiteSlot{suite: SuiteTooling, run: tooling},
		poll:     cfg.poll,
		tzOffset: cfg.tzOffset,
		watchdog: cfg.watchdog,
		logger:   cfg.logger,
		cache:    cfg.cache,
		now:      cfg.now,
	}
	nowUnix := s.now().Unix()
	s.hourly.nextDue.Store(NextIntervalTick(nowUnix, hourlyEveryMinutes))
	s.deep.nextDue.Store(NextDailyTick(nowUnix, deepHour, 0, s.tzOffset))
	s.tooling.nextDue.Store(NextDailyTick(nowUnix, toolingHour, 0, s.tzOffset))
	return s
}

// Start begins the polling loop. Blocks until ctx is cancelled.
// Returns nil on clean shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.poll):
		}
	}
}

// tick checks each suite for a due trigger and fires it asynchronously.
func (s *Scheduler) tick(ctx context.Context) {
	nowUnix := s.now().Unix()
	s.fireIfDue(ctx, s.hourly, nowUnix, func() int64 {
		return NextIntervalTick(nowUnix, hourlyEveryMinutes)
	})
	s.fireIfDue(ctx, s.deep, nowUnix, func() int64 {
		return NextDailyTick(nowUnix, deepHour, 0, s.tzOffset)
	})
	s.fireIfDue(ctx, s.tooling, nowUnix, func() int64 {
		return NextDailyTick(nowUnix, toolingHour, 0, s.tzOffset)
	})
}

// fireIfDue advances the slot's due time and launches the suite in a
// goroutine, unless a previous run of the same suite is still in flight.
func (s *Scheduler) fireIfDue(ctx context.Context, slot *suiteSlot, nowUnix int64, next func() int64) {
	if nowUnix < slot.nextDue.Load() {
		return
	}
	slot.nextDue.Store(next())

	if !slot.inflight.CompareAndSwap(false, true) {
		s.logger.Warn("suite already running, skipping", "suite", slot.suite)
		return
	}

	go func() {
		defer slot.inflight.Store(false)
		s.runSuite(ctx, slot)
	}()
}

// RunSuite fires one suite synchronously, honoring the in-flight guard.
// Used by the run-once CLI mode.
func (s *Scheduler) RunSuite(ctx context.Context, suite Suite) error {
	var slot *suiteSlot
	switch suite {
	case SuiteHourly:
		slot = s.hourly
	case SuiteDeep:
		slot = s.deep
	case SuiteTooling:
		slot = s.tooling
	default:
		return fmt.Errorf("unknown suite %q", suite)
	}
	if !slot.inflight.CompareAndSwap(false, true) {
		s.logger.Warn("suite already running, skipping", "suite", suite)
		return nil
	}
	defer slot.inflight.Store(false)
	return s.runSuite(ctx, slot)
}

// runSuite executes one tick with panic recovery, a watchdog deadline,
// and post-completion cache invalidation.
func (s *Scheduler) runSuite(ctx context.Context, slot *suiteSlot) (err error) {
	tickCtx, cancel := context.WithTimeout(ctx, s.watchdog)
	defer cancel()

	started := s.now()
	s.logger.Info("suite tick started", "suite", slot.suite)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("suite %s panicked: %v", slot.suite, p)
			s.logger.Error("suite tick panicked", "suite", slot.suite, "panic", p)
		}
		s.invalidate(slot.suite)
		s.logger.Info("suite tick completed",
			"suite", slot.suite,
			"duration", s.now().Sub(started),
			"error", err)
	}()

	if err = slot.run(tickCtx); err != nil {
		s.logger.Error("suite tick failed", "suite", slot.suite, "error", err)
	}
	return err
}

// invalidate drops the suite's dashboard cache entries. Failures are
// logged and swallowed: a stale cache is better than a dead tick.
func (s *Scheduler) invalidate(suite Suite) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSuite(suite); err != nil {
		s.logger.Warn("cache invalidation failed", "suite", suite, "error", err)
	}
}
