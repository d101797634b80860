package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RiskOnOff)(nil)

// RiskOnOff rotates between cash and a momentum basket based on a benchmark
// regime flag: while the benchmark trades below its moving average the
// portfolio goes fully to cash, otherwise it holds the top-K performers.
type RiskOnOff struct {
	benchmark    string
	smaWindow    int
	lookbackDays int
	topK         int
}

// NewRiskOnOff constructs the strategy from its parameters: benchmark
// (default "SPY"), sma_window (default 200), lookback_days (default 90),
// top_k (default 3).
func NewRiskOnOff(params map[string]any) (strategy.Strategy, error) {
	return &RiskOnOff{
		benchmark:    strategy.StringParam(params, "benchmark", "SPY"),
		smaWindow:    strategy.IntParam(params, "sma_window", 200),
		lookbackDays: strategy.IntParam(params, "lookback_days", 90),
		topK:         strategy.IntParam(params, "top_k", 3),
	}, nil
}

// Name returns "risk_on_off".
func (s *RiskOnOff) Name() string { return "risk_on_off" }

// TargetWeights returns an empty map while risk-off (or during warm-up) and
// the equal-weighted top-K momentum basket while risk-on.
func (s *RiskOnOff) TargetWeights(m *domain.PriceMatrix, _ *strategy.Context, universe []string, date string) (map[string]float64, error) {
	idx := m.DateIndex(date)
	on, ok := aboveSMA(m, s.benchmark, s.smaWindow, idx)
	if !ok || !on {
		return map[string]float64{}, nil
	}
	if idx < s.lookbackDays {
		return map[string]float64{}, nil
	}

	var entries []scored
	for _, sym := range universe {
		cur := m.Price(sym, idx)
		prev := m.Price(sym, idx-s.lookbackDays)
		if math.IsNaN(cur) || math.IsNaN(prev) || prev == 0 {
			continue
		}
		entries = append(entries, scored{sym: sym, score: cur/prev - 1})
	}
	return equalWeights(topBy(entries, s.topK, true)), nil
}
