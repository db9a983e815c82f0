package stupidmeter

import (
	"context"
	"time"
)

// Store is the persistence contract. Runs, metrics, scores, and tool
// executions are append-only; the only mutation is a tool session's single
// transition from running to a terminal state.
type Store interface {
	// Init creates all required tables.
	Init(ctx context.Context) error
	Close() error

	// Models are long-lived, inserted on discovery. UpsertModel matches
	// on (name, vendor) and returns the model with its ID populated.
	UpsertModel(ctx context.Context, m Model) (Model, error)
	ListModels(ctx context.Context) ([]Model, error)

	// InsertRun appends one trial row and returns its ID.
	InsertRun(ctx context.Context, r Run) (int64, error)
	// InsertMetric appends the run's axis vector. At most one per run.
	InsertMetric(ctx context.Context, m Metric) error

	// InsertScore appends a score snapshot.
	InsertScore(ctx context.Context, s Score) error
	// RecentScores returns up to limit non-sentinel scores for a model
	// and suite, most recent first. Sentinel rows are excluded so they
	// never feed baselines, trends, or rankings.
	RecentScores(ctx context.Context, modelID int64, suite Suite, limit int) ([]Score, error)
	// LatestScores returns the newest score per model for a suite,
	// including sentinel rows (the dashboard converts them to N/A).
	LatestScores(ctx context.Context, suite Suite) ([]Score, error)
	// ScoreHistory returns all scores for a model and suite since the
	// given time, oldest first, sentinels excluded.
	ScoreHistory(ctx context.Context, modelID int64, suite Suite, since time.Time) ([]Score, error)

	// CreateToolSession inserts a session in the running state.
	CreateToolSession(ctx context.Context, s ToolSession) error
	// FinalizeToolSession transitions a running session to a terminal
	// state, writing all result fields. Calling it twice is an error.
	FinalizeToolSession(ctx context.Context, s ToolSession) error
	// InsertToolExecution appends one per-call log row.
	InsertToolExecution(ctx context.Context, e ToolExecution) error
	// RecentSessionExists reports whether any terminal session for the
	// (model, task) pair completed within the given window. Drives the
	// scheduler's recency skip.
	RecentSessionExists(ctx context.Context, modelID int64, taskSlug string, within time.Duration) (bool, error)
}
