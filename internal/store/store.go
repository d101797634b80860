// Package store defines storage interfaces for persisting and retrieving
// domain objects: daily bars, saved backtest runs, and user strategies.
package store

import (
	"context"
	"time"

	"quantdesk/internal/domain"
)

// BacktestRun is a persisted backtest: the request that produced it and the
// serialized result.
type BacktestRun struct {
	ID          string
	UserID      string
	StrategyID  string // empty for ad-hoc runs
	Kind        string // single, ensemble, sandbox
	RequestJSON string
	ResultJSON  string
	Status      string // running, completed, failed
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// StrategyRecord is a saved strategy definition: a built-in kind with
// parameters, or user sandbox code.
type StrategyRecord struct {
	ID          string
	UserID      string
	Name        string
	Kind        string // builtin kind identifier, or "sandbox"
	ParamsJSON  string
	Source      string // sandbox code; empty for builtins
	Entrypoint  string
	CodeVersion int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BarStore persists and retrieves daily OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars, merging with existing data.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// BacktestStore persists backtest runs.
type BacktestStore interface {
	// SaveRun inserts a run, or replaces it when the ID already exists.
	SaveRun(ctx context.Context, run *BacktestRun) error

	// GetRun retrieves one run by ID, or nil when absent.
	GetRun(ctx context.Context, id string) (*BacktestRun, error)

	// ListRuns returns a user's runs, newest first, up to limit.
	ListRuns(ctx context.Context, userID string, limit int) ([]BacktestRun, error)
}

// StrategyStore persists strategy definitions.
type StrategyStore interface {
	// SaveStrategy inserts or updates a strategy, bumping CodeVersion on
	// source changes.
	SaveStrategy(ctx context.Context, rec *StrategyRecord) error

	// GetStrategy retrieves one strategy by ID, or nil when absent.
	GetStrategy(ctx context.Context, id string) (*StrategyRecord, error)

	// ListStrategies returns a user's strategies ordered by name.
	ListStrategies(ctx context.Context, userID string) ([]StrategyRecord, error)

	// DeleteStrategy removes a strategy by ID.
	DeleteStrategy(ctx context.Context, id string) error
}
