// Package postgres implements stupidmeter.Store using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	stupidmeter "github.com/benchlab/stupidmeter"
)

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements stupidmeter.Store backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

var _ stupidmeter.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates all required tables and indexes. Safe to call multiple
// times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			vendor TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			show_in_rankings BOOLEAN NOT NULL DEFAULT TRUE,
			supports_tool_calling BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			UNIQUE(name, vendor)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id BIGSERIAL PRIMARY KEY,
			model_id BIGINT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL,
			temp_seed DOUBLE PRECISION NOT NULL DEFAULT 0,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 1,
			passed BOOLEAN NOT NULL DEFAULT FALSE,
			artifact_hash TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			run_id BIGINT PRIMARY KEY,
			axes TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id BIGSERIAL PRIMARY KEY,
			model_id BIGINT NOT NULL,
			ts TEXT NOT NULL,
			suite TEXT NOT NULL,
			stupid_score DOUBLE PRECISION NOT NULL,
			axes TEXT NOT NULL,
			cusum DOUBLE PRECISION NOT NULL DEFAULT 0,
			note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS tool_sessions (
			id TEXT PRIMARY KEY,
			model_id BIGINT NOT NULL,
			task_slug TEXT NOT NULL,
			status TEXT NOT NULL,
			sandbox_id TEXT NOT NULL DEFAULT '',
			turns INTEGER NOT NULL DEFAULT 0,
			total_latency_ms BIGINT NOT NULL DEFAULT 0,
			total_tokens_in INTEGER NOT NULL DEFAULT 0,
			total_tokens_out INTEGER NOT NULL DEFAULT 0,
			tool_calls_count INTEGER NOT NULL DEFAULT 0,
			successful_tool_calls INTEGER NOT NULL DEFAULT 0,
			failed_tool_calls INTEGER NOT NULL DEFAULT 0,
			passed BOOLEAN NOT NULL DEFAULT FALSE,
			final_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			conversation_data TEXT NOT NULL DEFAULT '',
			tool_call_history TEXT NOT NULL DEFAULT '',
			error_log TEXT NOT NULL DEFAULT '',
			completed_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			parameters TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL DEFAULT FALSE,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_model_suite ON scores(model_id, suite, id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_model_task ON tool_sessions(model_id, task_slug)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_session ON tool_executions(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	s.logger.Info("postgres: init completed", "duration", time.Since(start))
	return nil
}

// Close is a no-op; the pool is caller-owned.
func (s *Store) Close() error { return nil }

// UpsertModel inserts the model or refreshes its mutable fields,
// matching on (name, vendor). Returns the model with ID populated.
func (s *Store) UpsertModel(ctx context.Context, m stupidmeter.Model) (stupidmeter.Model, error) {
	if m.CreatedAt == 0 {
		m.CreatedAt = s.now().Unix()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO models (name, vendor, version, notes, show_in_rankings, supports_tool_calling, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name, vendor) DO UPDATE SET
			version = EXCLUDED.version,
			notes = EXCLUDED.notes,
			show_in_rankings = EXCLUDED.show_in_rankings,
			supports_tool_calling = EXCLUDED.supports_tool_calling
		 RETURNING id, created_at`,
		m.Name, m.Vendor, m.Version, m.Notes, m.ShowInRankings, m.SupportsToolCalling, m.CreatedAt,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return stupidmeter.Model{}, fmt.Errorf("upsert model: %w", err)
	}
	return m, nil
}

// ListModels returns every model, oldest first.
func (s *Store) ListModels(ctx context.Context) ([]stupidmeter.Model, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, vendor, version, notes, show_in_rankings, supports_tool_calling, created_at
		 FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []stupidmeter.Model
	for rows.Next() {
		var m stupidmeter.Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Vendor, &m.Version, &m.Notes, &m.ShowInRankings, &m.SupportsToolCalling, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// InsertRun appends one trial row and returns its ID.
func (s *Store) InsertRun(ctx context.Context, r stupidmeter.Run) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO runs (model_id, task_id, ts, temp_seed, tokens_in, tokens_out, latency_ms, attempts, passed, artifact_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		r.ModelID, r.TaskID, r.TS, r.TempSeed, r.TokensIn, r.TokensOut, r.LatencyMs, r.Attempts, r.Passed, r.ArtifactHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// InsertMetric appends the run's axis vector. At most one per run.
func (s *Store) InsertMetric(ctx context.Context, m stupidmeter.Metric) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO metrics (run_id, axes) VALUES ($1, $2)`,
		m.RunID, stupidmeter.EncodeAxes(m.Axes),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// InsertScore appends a score snapshot.
func (s *Store) InsertScore(ctx context.Context, sc stupidmeter.Score) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scores (model_id, ts, suite, stupid_score, axes, cusum, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sc.ModelID, sc.TS, sc.Suite, sc.StupidScore, stupidmeter.EncodeAxes(sc.Axes), sc.CUSUM, sc.Note,
	)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

// RecentScores returns up to limit non-sentinel scores for a model and
// suite, most recent first.
func (s *Store) RecentScores(ctx context.Context, modelID int64, suite stupidmeter.Suite, limit int) ([]stupidmeter.Score, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, model_id, ts, suite, stupid_score, axes, cusum, note
		 FROM scores
		 WHERE model_id = $1 AND suite = $2 AND stupid_score >= 0
		 ORDER BY id DESC LIMIT $3`,
		modelID, suite, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent scores: %w", err)
	}
	defer rows.Close()
	return scanScores(rows)
}

// LatestScores returns the newest score per model for a suite, sentinel
// rows included.
func (s *Store) LatestScores(ctx context.Context, suite stupidmeter.Suite) ([]stupidmeter.Score, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sc.id, sc.model_id, sc.ts, sc.suite, sc.stupid_score, sc.axes, sc.cusum, sc.note
		 FROM scores sc
		 JOIN (SELECT model_id, MAX(id) AS max_id FROM scores WHERE suite = $1 GROUP BY model_id) latest
		   ON sc.id = latest.max_id
		 ORDER BY sc.model_id`,
		suite,
	)
	if err != nil {
		return nil, fmt.Errorf("latest scores: %w", err)
	}
	defer rows.Close()
	return scanScores(rows)
}

// ScoreHistory returns all non-sentinel scores for a model and suite
// since the given time, oldest first.
func (s *Store) ScoreHistory(ctx context.Context, modelID int64, suite stupidmeter.Suite, since time.Time) ([]stupidmeter.Score, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, model_id, ts, suite, stupid_score, axes, cusum, note
		 FROM scores
		 WHERE model_id = $1 AND suite = $2 AND stupid_score >= 0 AND ts >= $3
		 ORDER BY id`,
		modelID, suite, since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("score history: %w", err)
	}
	defer rows.Close()
	return scanScores(rows)
}

// CreateToolSession inserts a session in the running state.
func (s *Store) CreateToolSession(ctx context.Context, sess stupidmeter.ToolSession) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_sessions (id, model_id, task_slug, status, sandbox_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.ModelID, sess.TaskSlug, stupidmeter.SessionRunning, sess.SandboxID,
	)
	if err != nil {
		return fmt.Errorf("create tool session: %w", err)
	}
	return nil
}

// FinalizeToolSession transitions a running session to a terminal state.
// Finalizing a session that is not running is an error.
func (s *Store) FinalizeToolSession(ctx context.Context, sess stupidmeter.ToolSession) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tool_sessions SET
			status = $1, turns = $2, total_latency_ms = $3, total_tokens_in = $4, total_tokens_out = $5,
			tool_calls_count = $6, successful_tool_calls = $7, failed_tool_calls = $8,
			passed = $9, final_score = $10, conversation_data = $11, tool_call_history = $12,
			error_log = $13, completed_at = $14
		 WHERE id = $15 AND status = $16`,
		sess.Status, sess.Turns, sess.TotalLatencyMs, sess.TotalTokensIn, sess.TotalTokensOut,
		sess.ToolCallsCount, sess.SuccessfulToolCalls, sess.FailedToolCalls,
		sess.Passed, sess.FinalScore, sess.ConversationData, sess.ToolCallHistory,
		sess.ErrorLog, sess.CompletedAt,
		sess.ID, stupidmeter.SessionRunning,
	)
	if err != nil {
		return fmt.Errorf("finalize tool session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize tool session %s: not in running state", sess.ID)
	}
	return nil
}

// InsertToolExecution appends one per-call log row.
func (s *Store) InsertToolExecution(ctx context.Context, e stupidmeter.ToolExecution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_executions (session_id, turn_number, tool_name, parameters, result, success, latency_ms, error_message, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.SessionID, e.TurnNumber, e.ToolName, e.Parameters, e.Result, e.Success, e.LatencyMs, e.ErrorMessage, e.TS,
	)
	if err != nil {
		return fmt.Errorf("insert tool execution: %w", err)
	}
	return nil
}

// RecentSessionExists reports whether any terminal session for the
// (model, task) pair completed within the given window.
func (s *Store) RecentSessionExists(ctx context.Context, modelID int64, taskSlug string, within time.Duration) (bool, error) {
	cutoff := s.now().Add(-within).UTC().Format(time.RFC3339)
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM tool_sessions
			WHERE model_id = $1 AND task_slug = $2 AND status != $3 AND completed_at >= $4
		)`,
		modelID, taskSlug, stupidmeter.SessionRunning, cutoff,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("recent session lookup: %w", err)
	}
	return exists, nil
}

// scanScores drains a scores cursor, decoding the axes blob with legacy
// axis-name tolerance.
func scanScores(rows pgx.Rows) ([]stupidmeter.Score, error) {
	var scores []stupidmeter.Score
	for rows.Next() {
		var sc stupidmeter.Score
		var axesJSON string
		if err := rows.Scan(&sc.ID, &sc.ModelID, &sc.TS, &sc.Suite, &sc.StupidScore, &axesJSON, &sc.CUSUM, &sc.Note); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		axes, err := stupidmeter.DecodeAxes([]byte(axesJSON))
		if err != nil {
			return nil, fmt.Errorf("decode axes for score %d: %w", sc.ID, err)
		}
		sc.Axes = axes
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}
