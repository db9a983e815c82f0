// Package sqlite implements stupidmeter.Store backed by a local SQLite
// file using the pure-Go driver. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	stupidmeter "github.com/benchlab/stupidmeter"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and key
// parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements stupidmeter.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ stupidmeter.Store = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so
// that all goroutines serialize through one connection, eliminating
// SQLITE_BUSY errors caused by concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			vendor TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			show_in_rankings INTEGER NOT NULL DEFAULT 1,
			supports_tool_calling INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE(name, vendor)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id INTEGER NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL,
			temp_seed REAL NOT NULL DEFAULT 0,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 1,
			passed INTEGER NOT NULL DEFAULT 0,
			artifact_hash TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			run_id INTEGER PRIMARY KEY,
			axes TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id INTEGER NOT NULL,
			ts TEXT NOT NULL,
			suite TEXT NOT NULL,
			stupid_score REAL NOT NULL,
			axes TEXT NOT NULL,
			cusum REAL NOT NULL DEFAULT 0,
			note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS tool_sessions (
			id TEXT PRIMARY KEY,
			model_id INTEGER NOT NULL,
			task_slug TEXT NOT NULL,
			status TEXT NOT NULL,
			sandbox_id TEXT NOT NULL DEFAULT '',
			turns INTEGER NOT NULL DEFAULT 0,
			total_latency_ms INTEGER NOT NULL DEFAULT 0,
			total_tokens_in INTEGER NOT NULL DEFAULT 0,
			total_tokens_out INTEGER NOT NULL DEFAULT 0,
			tool_calls_count INTEGER NOT NULL DEFAULT 0,
			successful_tool_calls INTEGER NOT NULL DEFAULT 0,
			failed_tool_calls INTEGER NOT NULL DEFAULT 0,
			passed INTEGER NOT NULL DEFAULT 0,
			final_score REAL NOT NULL DEFAULT 0,
			conversation_data TEXT NOT NULL DEFAULT '',
			tool_call_history TEXT NOT NULL DEFAULT '',
			error_log TEXT NOT NULL DEFAULT '',
			completed_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			parameters TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_scores_model_suite ON scores(model_id, suite, id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_model_task ON tool_sessions(model_id, task_slug)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_executions_session ON tool_executions(session_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertModel inserts the model or refreshes its mutable fields,
// matching on (name, vendor). Returns the model with ID populated.
func (s *Store) UpsertModel(ctx context.Context, m stupidmeter.Model) (stupidmeter.Model, error) {
	if m.CreatedAt == 0 {
		m.CreatedAt = s.now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (name, vendor, version, notes, show_in_rankings, supports_tool_calling, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name, vendor) DO UPDATE SET
			version = excluded.version,
			notes = excluded.notes,
			show_in_rankings = excluded.show_in_rankings,
			supports_tool_calling = excluded.supports_tool_calling`,
		m.Name, m.Vendor, m.Version, m.Notes, boolToInt(m.ShowInRankings), boolToInt(m.SupportsToolCalling), m.CreatedAt,
	)
	if err != nil {
		return stupidmeter.Model{}, fmt.Errorf("upsert model: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM models WHERE name = ? AND vendor = ?`, m.Name, m.Vendor)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return stupidmeter.Model{}, fmt.Errorf("upsert model readback: %w", err)
	}
	return m, nil
}

// ListModels returns every model, oldest first.
func (s *Store) ListModels(ctx context.Context) ([]stupidmeter.Model, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, vendor, version, notes, show_in_rankings, supports_tool_calling, created_at
		 FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []stupidmeter.Model
	for rows.Next() {
		var m stupidmeter.Model
		var show, tools int
		if err := rows.Scan(&m.ID, &m.Name, &m.Vendor, &m.Version, &m.Notes, &show, &tools, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		m.ShowInRankings = show != 0
		m.SupportsToolCalling = tools != 0
		models = append(models, m)
	}
	return models, rows.Err()
}

// InsertRun appends one trial row and returns its ID.
func (s *Store) InsertRun(ctx context.Context, r stupidmeter.Run) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (model_id, task_id, ts, temp_seed, tokens_in, tokens_out, latency_ms, attempts, passed, artifact_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ModelID, r.TaskID, r.TS, r.TempSeed, r.TokensIn, r.TokensOut, r.LatencyMs, r.Attempts, boolToInt(r.Passed), r.ArtifactHash,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert run id: %w", err)
	}
	return id, nil
}

// InsertMetric appends the run's axis vector. The run_id primary key
// enforces at most one metric per run.
func (s *Store) InsertMetric(ctx context.Context, m stupidmeter.Metric) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (run_id, axes) VALUES (?, ?)`,
		m.RunID, stupidmeter.EncodeAxes(m.Axes),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// InsertScore appends a score snapshot.
func (s *Store) InsertScore(ctx context.Context, sc stupidmeter.Score) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (model_id, ts, suite, stupid_score, axes, cusum, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_id, ts, suite, stupid_score, axes, cusum, note
		 FROM scores
		 WHERE model_id = ? AND suite = ? AND stupid_score >= 0
		 ORDER BY id DESC LIMIT ?`,
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT sc.id, sc.model_id, sc.ts, sc.suite, sc.stupid_score, sc.axes, sc.cusum, sc.note
		 FROM scores sc
		 JOIN (SELECT model_id, MAX(id) AS max_id FROM scores WHERE suite = ? GROUP BY model_id) latest
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_id, ts, suite, stupid_score, axes, cusum, note
		 FROM scores
		 WHERE model_id = ? AND suite = ? AND stupid_score >= 0 AND ts >= ?
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_sessions (id, model_id, task_slug, status, sandbox_id)
		 VALUES (?, ?, ?, ?, ?)`,
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_sessions SET
			status = ?, turns = ?, total_latency_ms = ?, total_tokens_in = ?, total_tokens_out = ?,
			tool_calls_count = ?, successful_tool_calls = ?, failed_tool_calls = ?,
			passed = ?, final_score = ?, conversation_data = ?, tool_call_history = ?,
			error_log = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		sess.Status, sess.Turns, sess.TotalLatencyMs, sess.TotalTokensIn, sess.TotalTokensOut,
		sess.ToolCallsCount, sess.SuccessfulToolCalls, sess.FailedToolCalls,
		boolToInt(sess.Passed), sess.FinalScore, sess.ConversationData, sess.ToolCallHistory,
		sess.ErrorLog, sess.CompletedAt,
		sess.ID, stupidmeter.SessionRunning,
	)
	if err != nil {
		return fmt.Errorf("finalize tool session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize tool session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finalize tool session %s: not in running state", sess.ID)
	}
	return nil
}

// InsertToolExecution appends one per-call log row.
func (s *Store) InsertToolExecution(ctx context.Context, e stupidmeter.ToolExecution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_executions (session_id, turn_number, tool_name, parameters, result, success, latency_ms, error_message, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.TurnNumber, e.ToolName, e.Parameters, e.Result, boolToInt(e.Success), e.LatencyMs, e.ErrorMessage, e.TS,
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
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM tool_sessions
			WHERE model_id = ? AND task_slug = ? AND status != ? AND completed_at >= ?
		)`,
		modelID, taskSlug, stupidmeter.SessionRunning, cutoff,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("recent session lookup: %w", err)
	}
	return exists != 0, nil
}

// scanScores drains a scores cursor, decoding the axes blob with legacy
// axis-name tolerance.
func scanScores(rows *sql.Rows) ([]stupidmeter.Score, error) {
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
