// Package httpapi serves the QuantDesk REST API: backtests, strategy
// management, sandbox validation/preview, and the broker proxy used by
// the dashboard.
package httpapi

import (
	"encoding/json"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/domain"
	"quantdesk/internal/store"
)

// BacktestRequestJSON is the request body for POST /api/backtests and
// POST /api/strategies/preview. Kind selects which of the strategy
// fields are consulted; when strategy_id names a saved strategy the kind
// and code are resolved from the record instead.
type BacktestRequestJSON struct {
	Kind       string `json:"kind"`
	UserID     string `json:"user_id"`
	StrategyID string `json:"strategy_id"`

	// builtin
	Strategy string         `json:"strategy"`
	Params   map[string]any `json:"params"`

	// ensemble
	Members     []backtest.MemberSpec `json:"members"`
	Constraints *domain.Constraints   `json:"constraints"`

	// sandbox
	Source     string `json:"source"`
	Entrypoint string `json:"entrypoint"`
	Mode       string `json:"mode"`

	// data range
	Universe []string `json:"universe"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Field    string   `json:"field"` // close | adj_close

	// simulation knobs; zero values fall back to server defaults
	InitialCash       float64 `json:"initial_cash"`
	FeeBps            float64 `json:"fee_bps"`
	SlippageBps       float64 `json:"slippage_bps"`
	Rebalance         string  `json:"rebalance"`
	Benchmark         string  `json:"benchmark"`
	LongOnly          bool    `json:"long_only"`
	CashBufferPct     float64 `json:"cash_buffer_pct"`
	MaxWeightPerAsset float64 `json:"max_weight_per_asset"`
}

// BacktestResponse wraps a completed run with its persisted ID.
type BacktestResponse struct {
	ID     string           `json:"id"`
	Result *backtest.Result `json:"result"`
}

// RunSummaryJSON is one row in the run list.
type RunSummaryJSON struct {
	ID          string    `json:"id"`
	StrategyID  string    `json:"strategy_id,omitempty"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// RunDetailJSON is the full persisted run, with the stored JSON blobs
// inlined.
type RunDetailJSON struct {
	RunSummaryJSON
	Request json.RawMessage `json:"request,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// RunsResponse lists a user's runs.
type RunsResponse struct {
	Runs []RunSummaryJSON `json:"runs"`
}

// StrategyJSON is the API shape of a saved strategy.
type StrategyJSON struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params,omitempty"`
	Source      string         `json:"source,omitempty"`
	Entrypoint  string         `json:"entrypoint,omitempty"`
	CodeVersion int            `json:"code_version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// StrategiesResponse lists a user's strategies.
type StrategiesResponse struct {
	Strategies []StrategyJSON `json:"strategies"`
}

// ValidateRequest is the body for POST /api/strategies/validate.
type ValidateRequest struct {
	Source     string          `json:"source"`
	Entrypoint string          `json:"entrypoint"`
	Mode       string          `json:"mode"`
	Params     map[string]any  `json:"params,omitempty"`
	Schema     json.RawMessage `json:"schema,omitempty"`
}

// IssueJSON is one parameter validation finding.
type IssueJSON struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidateResponse reports static validation findings. Valid means the
// source passed the sandbox checks and every schema issue list is empty.
type ValidateResponse struct {
	Valid  bool        `json:"valid"`
	Error  string      `json:"error,omitempty"`
	Issues []IssueJSON `json:"issues,omitempty"`
}

// OrderRequest is the body for POST /api/broker/orders.
type OrderRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"` // buy | sell
	Qty    float64 `json:"qty"`
}

// SymbolsResponse lists symbols with stored bars.
type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

// BarJSON is one daily bar.
type BarJSON struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close,omitempty"`
	Volume   int64   `json:"volume"`
}

// PricesResponse holds daily bars for one symbol.
type PricesResponse struct {
	Symbol string    `json:"symbol"`
	Bars   []BarJSON `json:"bars"`
}

func convertRunSummary(run *store.BacktestRun) RunSummaryJSON {
	return RunSummaryJSON{
		ID:          run.ID,
		StrategyID:  run.StrategyID,
		Kind:        run.Kind,
		Status:      string(run.Status),
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}
}

func convertStrategy(rec *store.StrategyRecord) StrategyJSON {
	out := StrategyJSON{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Name:        rec.Name,
		Kind:        rec.Kind,
		Source:      rec.Source,
		Entrypoint:  rec.Entrypoint,
		CodeVersion: rec.CodeVersion,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.ParamsJSON != "" {
		// Best effort: a corrupt params blob still returns the record.
		_ = json.Unmarshal([]byte(rec.ParamsJSON), &out.Params)
	}
	return out
}

func convertBar(b domain.Bar) BarJSON {
	return BarJSON{
		Date:     b.Timestamp.UTC().Format("2006-01-02"),
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		AdjClose: b.AdjClose,
		Volume:   b.Volume,
	}
}
