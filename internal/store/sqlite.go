package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ BacktestStore = (*SQLiteStore)(nil)
var _ StrategyStore = (*SQLiteStore)(nil)

// SQLiteStore implements BacktestStore and StrategyStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	strategy_id  TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL,
	request_json TEXT NOT NULL,
	result_json  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	completed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_backtest_runs_user ON backtest_runs(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS strategies (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	name         TEXT NOT NULL,
	kind         TEXT NOT NULL,
	params_json  TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	entrypoint   TEXT NOT NULL DEFAULT '',
	code_version INTEGER NOT NULL DEFAULT 1,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_strategies_user ON strategies(user_id, name);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// BacktestStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts or replaces a backtest run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *BacktestRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs
			(id, user_id, strategy_id, kind, request_json, result_json, status, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.StrategyID, run.Kind, run.RequestJSON, run.ResultJSON,
		run.Status, run.Error, run.CreatedAt.UnixMilli(), unixMilliOrZero(run.CompletedAt))
	return err
}

// GetRun retrieves one run by ID; nil when absent.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*BacktestRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, strategy_id, kind, request_json, result_json, status, error, created_at, completed_at
		FROM backtest_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns a user's runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, userID string, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, strategy_id, kind, request_json, result_json, status, error, created_at, completed_at
		FROM backtest_runs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*BacktestRun, error) {
	var run BacktestRun
	var created, completed int64
	if err := row.Scan(&run.ID, &run.UserID, &run.StrategyID, &run.Kind,
		&run.RequestJSON, &run.ResultJSON, &run.Status, &run.Error,
		&created, &completed); err != nil {
		return nil, err
	}
	run.CreatedAt = time.UnixMilli(created).UTC()
	if completed > 0 {
		run.CompletedAt = time.UnixMilli(completed).UTC()
	}
	return &run, nil
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy inserts a strategy, or updates it in place. When the stored
// source differs from the incoming one, the code version is bumped.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, rec *StrategyRecord) error {
	now := time.Now().UTC()
	existing, err := s.GetStrategy(ctx, rec.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		rec.CodeVersion = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO strategies
				(id, user_id, name, kind, params_json, source, entrypoint, code_version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.UserID, rec.Name, rec.Kind, rec.ParamsJSON, rec.Source,
			rec.Entrypoint, rec.CodeVersion, now.UnixMilli(), now.UnixMilli())
		return err
	}

	rec.CodeVersion = existing.CodeVersion
	if rec.Source != existing.Source {
		rec.CodeVersion++
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		UPDATE strategies
		SET name = ?, kind = ?, params_json = ?, source = ?, entrypoint = ?, code_version = ?, updated_at = ?
		WHERE id = ?`,
		rec.Name, rec.Kind, rec.ParamsJSON, rec.Source, rec.Entrypoint,
		rec.CodeVersion, now.UnixMilli(), rec.ID)
	return err
}

// GetStrategy retrieves one strategy by ID; nil when absent.
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*StrategyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, kind, params_json, source, entrypoint, code_version, created_at, updated_at
		FROM strategies WHERE id = ?`, id)
	rec, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListStrategies returns a user's strategies ordered by name.
func (s *SQLiteStore) ListStrategies(ctx context.Context, userID string) ([]StrategyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, kind, params_json, source, entrypoint, code_version, created_at, updated_at
		FROM strategies WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []StrategyRecord
	for rows.Next() {
		rec, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// DeleteStrategy removes a strategy by ID. Deleting a missing ID is not an
// error.
func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	return err
}

func scanStrategy(row rowScanner) (*StrategyRecord, error) {
	var rec StrategyRecord
	var created, updated int64
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Kind,
		&rec.ParamsJSON, &rec.Source, &rec.Entrypoint, &rec.CodeVersion,
		&created, &updated); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
