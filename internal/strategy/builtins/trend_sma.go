package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
	"quantdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*TrendSMA)(nil)

// TrendSMA is a binary risk-on/risk-off switch on a single benchmark
// symbol: fully invested while the benchmark trades above its simple moving
// average, fully in cash otherwise.
type TrendSMA struct {
	benchmark string
	smaWindow int
}

// NewTrendSMA constructs the strategy from its parameters: benchmark
// (default "SPY") and sma_window (default 200).
func NewTrendSMA(params map[string]any) (strategy.Strategy, error) {
	return &TrendSMA{
		benchmark: strategy.StringParam(params, "benchmark", "SPY"),
		smaWindow: strategy.IntParam(params, "sma_window", 200),
	}, nil
}

// Name returns "trend_sma".
func (s *TrendSMA) Name() string { return "trend_sma" }

// TargetWeights returns 100% benchmark when its price is above the moving
// average, an empty map during warm-up or when the trend is down.
func (s *TrendSMA) TargetWeights(m *domain.PriceMatrix, _ *strategy.Context, _ []string, date string) (map[string]float64, error) {
	idx := m.DateIndex(date)
	on, ok := aboveSMA(m, s.benchmark, s.smaWindow, idx)
	if !ok || !on {
		return map[string]float64{}, nil
	}
	return map[string]float64{s.benchmark: 1.0}, nil
}

// aboveSMA reports the benchmark regime at idx: risk-on (true), risk-off
// (false), and whether the regime is defined at all. Shared with the
// risk-on/off rotation strategy, which uses the identical regime rule.
func aboveSMA(m *domain.PriceMatrix, benchmark string, window, idx int) (bool, bool) {
	col := m.Column(benchmark)
	if col == nil || idx < window-1 {
		return false, false
	}
	sma := indicators.SMA(col, window)
	if math.IsNaN(col[idx]) || math.IsNaN(sma[idx]) {
		return false, false
	}
	return col[idx] > sma[idx], true
}
