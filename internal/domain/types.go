// Package domain defines the shared types used across the quantdesk
// platform: price series, strategy signals, equity curves, performance
// metrics, and brokerage snapshots.
package domain

import (
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// DateLayout is the ISO date format used for all trading dates.
const DateLayout = "2006-01-02"

// PriceSeries maps symbol -> ISO date -> price. Dates within one symbol are
// unique; a missing date means no trading data, not a zero price.
type PriceSeries map[string]map[string]float64

// Dates returns the sorted union of all dates present in the series.
func (p PriceSeries) Dates() []string {
	seen := make(map[string]struct{})
	for _, series := range p {
		for d := range series {
			seen[d] = struct{}{}
		}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Empty reports whether the series contains no price points at all.
func (p PriceSeries) Empty() bool {
	for _, series := range p {
		if len(series) > 0 {
			return false
		}
	}
	return true
}

// PriceField selects which bar price a series is built from.
type PriceField string

const (
	PriceFieldClose    PriceField = "close"
	PriceFieldAdjClose PriceField = "adj_close"
)

// Bar is a daily OHLCV bar.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	AdjClose   float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Strategy output
// ---------------------------------------------------------------------------

// Signal is one rebalance event: the date it applies to and the target
// allocation. Weights are not necessarily normalized at emission time, and
// an empty map means fully in cash.
type Signal struct {
	Date          string             `json:"date"`
	TargetWeights map[string]float64 `json:"target_weights"`
}

// ---------------------------------------------------------------------------
// Backtest output
// ---------------------------------------------------------------------------

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

// Metrics is the fixed set of statistics derived from an equity curve.
// Degenerate inputs (empty curves, zero variance) resolve to 0.0, never NaN.
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

// PositionsSummary reports concurrent position counts over a backtest.
type PositionsSummary struct {
	AvgPositions float64 `json:"avg_positions"`
	MaxPositions int     `json:"max_positions"`
}

// ---------------------------------------------------------------------------
// Ensemble constraints
// ---------------------------------------------------------------------------

// Constraints are the optional weight constraints attached to an ensemble.
// Nil pointer fields mean "not set".
type Constraints struct {
	NormalizeWeights   *bool    `json:"normalize_weights,omitempty"`
	MaxWeightPerSymbol *float64 `json:"max_weight_per_symbol,omitempty"`
	MaxPositions       *int     `json:"max_positions,omitempty"`
	CashBufferPct      *float64 `json:"cash_buffer_pct,omitempty"`
	MinTradeWeight     *float64 `json:"min_trade_weight,omitempty"`
}

// Normalize reports whether weight normalization is enabled (default true).
func (c *Constraints) Normalize() bool {
	if c == nil || c.NormalizeWeights == nil {
		return true
	}
	return *c.NormalizeWeights
}

// ---------------------------------------------------------------------------
// Brokerage snapshots
// ---------------------------------------------------------------------------

// Account is a snapshot of brokerage account financials.
type Account struct {
	ID          string  `json:"id"`
	Cash        float64 `json:"cash"`
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`
	Currency    string  `json:"currency"`
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a snapshot of one open brokerage position.
type Position struct {
	Symbol        string       `json:"symbol"`
	Qty           float64      `json:"qty"`
	Side          PositionSide `json:"side"`
	AvgEntryPrice float64      `json:"avg_entry_price"`
	MarketValue   float64      `json:"market_value"`
	UnrealizedPL  float64      `json:"unrealized_pl"`
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a snapshot of a brokerage order.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Qty            float64     `json:"qty"`
	Type           string      `json:"type"`
	Status         OrderStatus `json:"status"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// PortfolioHistory is a time series of account equity from the brokerage.
type PortfolioHistory struct {
	Timestamps    []int64   `json:"timestamps"`
	Equity        []float64 `json:"equity"`
	ProfitLoss    []float64 `json:"profit_loss"`
	ProfitLossPct []float64 `json:"profit_loss_pct"`
	BaseValue     float64   `json:"base_value"`
}
