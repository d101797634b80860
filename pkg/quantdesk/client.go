// Package quantdesk is a small Go SDK for the quantdesk-server REST API.
// It defines its own wire types so importers do not depend on server
// internals.
package quantdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a quantdesk-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quantdesk API %d: %s", e.StatusCode, e.Message)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// BacktestRequest mirrors the POST /api/backtests body. Kind is one of
// "builtin", "ensemble", "sandbox"; alternatively set StrategyID to run
// a saved strategy.
type BacktestRequest struct {
	Kind       string         `json:"kind,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Members    []Member       `json:"members,omitempty"`
	Source     string         `json:"source,omitempty"`
	Entrypoint string         `json:"entrypoint,omitempty"`
	Mode       string         `json:"mode,omitempty"`

	Universe []string `json:"universe"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Field    string   `json:"field,omitempty"`

	InitialCash       float64 `json:"initial_cash,omitempty"`
	FeeBps            float64 `json:"fee_bps,omitempty"`
	SlippageBps       float64 `json:"slippage_bps,omitempty"`
	Rebalance         string  `json:"rebalance,omitempty"`
	Benchmark         string  `json:"benchmark,omitempty"`
	LongOnly          bool    `json:"long_only,omitempty"`
	CashBufferPct     float64 `json:"cash_buffer_pct,omitempty"`
	MaxWeightPerAsset float64 `json:"max_weight_per_asset,omitempty"`
}

// Member is one ensemble component.
type Member struct {
	Strategy string         `json:"strategy"`
	Params   map[string]any `json:"params,omitempty"`
	Weight   float64        `json:"weight"`
}

// Metrics is the derived statistics block of a backtest result.
type Metrics struct {
	TotalReturnPct   float64 `json:"total_return_pct"`
	CAGR             float64 `json:"cagr"`
	Volatility       float64 `json:"volatility"`
	Sharpe           float64 `json:"sharpe"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	TrackingError    float64 `json:"tracking_error"`
	InformationRatio float64 `json:"information_ratio"`
	AvgTurnoverPct   float64 `json:"avg_turnover_pct"`
}

// EquityPoint is one point of an equity curve.
type EquityPoint struct {
	Date   string  `json:"date"`
	Equity float64 `json:"equity"`
}

// ReturnPoint is one day-over-day percentage return observation.
type ReturnPoint struct {
	Date string  `json:"date"`
	Ret  float64 `json:"ret"`
}

// DrawdownPoint is the percentage decline from the running equity peak.
type DrawdownPoint struct {
	Date  string  `json:"date"`
	DDPct float64 `json:"dd_pct"`
}

// BacktestResult is the result block of a completed run.
type BacktestResult struct {
	EquityCurve []EquityPoint   `json:"equity_curve"`
	Returns     []ReturnPoint   `json:"returns"`
	Drawdown    []DrawdownPoint `json:"drawdown"`
	Metrics     Metrics         `json:"metrics"`
	Positions   json.RawMessage `json:"positions_summary,omitempty"`
}

// BacktestResponse wraps a run result with its persisted ID.
type BacktestResponse struct {
	ID     string          `json:"id"`
	Result *BacktestResult `json:"result"`
}

// RunSummary is one row of the run list.
type RunSummary struct {
	ID          string    `json:"id"`
	StrategyID  string    `json:"strategy_id,omitempty"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Strategy is a saved strategy record.
type Strategy struct {
	ID          string         `json:"id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Source      string         `json:"source,omitempty"`
	Entrypoint  string         `json:"entrypoint,omitempty"`
	CodeVersion int            `json:"code_version,omitempty"`
}

// ValidateResult reports static validation findings.
type ValidateResult struct {
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
	Issues []struct {
		Field  string `json:"field"`
		Reason string `json:"reason"`
	} `json:"issues,omitempty"`
}

// Account is the brokerage account snapshot.
type Account struct {
	ID          string  `json:"id"`
	Cash        float64 `json:"cash"`
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`
	Currency    string  `json:"currency"`
}

// Position is one open brokerage position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	Side          string  `json:"side"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
}

// Order is one brokerage order.
type Order struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Qty            float64 `json:"qty"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	FilledQty      float64 `json:"filled_qty"`
	FilledAvgPrice float64 `json:"filled_avg_price"`
}

// Bar is one daily bar.
type Bar struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close,omitempty"`
	Volume   int64   `json:"volume"`
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

// RunBacktest runs a backtest and returns the persisted result.
func (c *Client) RunBacktest(ctx context.Context, req *BacktestRequest) (*BacktestResponse, error) {
	var resp BacktestResponse
	if err := c.do(ctx, "POST", "/api/backtests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun retrieves one run by ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunSummary, error) {
	var run RunSummary
	if err := c.do(ctx, "GET", "/api/backtests/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns a user's runs, newest first.
func (c *Client) ListRuns(ctx context.Context, userID string, limit int) ([]RunSummary, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Runs []RunSummary `json:"runs"`
	}
	if err := c.do(ctx, "GET", "/api/backtests?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

// SaveStrategy creates or updates a strategy.
func (c *Client) SaveStrategy(ctx context.Context, s *Strategy) (*Strategy, error) {
	var saved Strategy
	if err := c.do(ctx, "POST", "/api/strategies", s, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// GetStrategy retrieves one strategy by ID.
func (c *Client) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	var s Strategy
	if err := c.do(ctx, "GET", "/api/strategies/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStrategies returns a user's strategies.
func (c *Client) ListStrategies(ctx context.Context, userID string) ([]Strategy, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	var resp struct {
		Strategies []Strategy `json:"strategies"`
	}
	if err := c.do(ctx, "GET", "/api/strategies?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// DeleteStrategy removes a strategy by ID.
func (c *Client) DeleteStrategy(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/api/strategies/"+url.PathEscape(id), nil, nil)
}

// ValidateStrategy statically validates sandboxed strategy source.
func (c *Client) ValidateStrategy(ctx context.Context, source, entrypoint, mode string) (*ValidateResult, error) {
	req := map[string]string{"source": source, "entrypoint": entrypoint, "mode": mode}
	var result ValidateResult
	if err := c.do(ctx, "POST", "/api/strategies/validate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ---------------------------------------------------------------------------
// Broker
// ---------------------------------------------------------------------------

// GetAccount retrieves the brokerage account snapshot.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, "GET", "/api/broker/account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetPositions retrieves open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.do(ctx, "GET", "/api/broker/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// SubmitMarketOrder places a market order.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol, side string, qty float64) (*Order, error) {
	req := map[string]any{"symbol": symbol, "side": side, "qty": qty}
	var order Order
	if err := c.do(ctx, "POST", "/api/broker/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// GetBars retrieves daily bars for a symbol over [start, end].
func (c *Client) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	q := url.Values{}
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", end.Format("2006-01-02"))
	var resp struct {
		Symbol string `json:"symbol"`
		Bars   []Bar  `json:"bars"`
	}
	path := "/api/prices/" + url.PathEscape(symbol) + "?" + q.Encode()
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bars, nil
}

// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = string(data)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
