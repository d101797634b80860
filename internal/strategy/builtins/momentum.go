package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/strategy"
)

// Compile-time interface checks.
var _ strategy.Strategy = (*MomentumTopN)(nil)
var _ strategy.SignalGenerator = (*MomentumTopN)(nil)

// MomentumTopN ranks the universe by total return over lookbackDays ending
// at the rebalance date, selects the top N, and equal-weights the selection.
type MomentumTopN struct {
	lookbackDays int
	topN         int
	rebalance    string
}

// NewMomentumTopN constructs the strategy from its parameters:
// lookback_days (default 90), top_n (default 3), rebalance
// (daily/weekly/monthly, default monthly).
func NewMomentumTopN(params map[string]any) (strategy.Strategy, error) {
	return &MomentumTopN{
		lookbackDays: strategy.IntParam(params, "lookback_days", 90),
		topN:         strategy.IntParam(params, "top_n", 3),
		rebalance:    strategy.StringParam(params, "rebalance", "monthly"),
	}, nil
}

// Name returns "momentum_top_n".
func (s *MomentumTopN) Name() string { return "momentum_top_n" }

// TargetWeights selects the top-N symbols by trailing return at date. It
// returns an empty map before lookback_days of history have accumulated.
func (s *MomentumTopN) TargetWeights(m *domain.PriceMatrix, _ *strategy.Context, universe []string, date string) (map[string]float64, error) {
	idx := m.DateIndex(date)
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
	return equalWeights(topBy(entries, s.topN, true)), nil
}

// GenerateSignals emits one signal per rebalance date at the configured
// cadence, skipping warm-up dates entirely.
func (s *MomentumTopN) GenerateSignals(m *domain.PriceMatrix, ctx *strategy.Context, universe []string) ([]domain.Signal, error) {
	var signals []domain.Signal
	for _, idx := range rebalanceIndexes(m.Dates, s.rebalance) {
		if idx < s.lookbackDays {
			continue
		}
		weights, err := s.TargetWeights(m, ctx, universe, m.Dates[idx])
		if err != nil {
			return nil, err
		}
		signals = append(signals, domain.Signal{Date: m.Dates[idx], TargetWeights: weights})
	}
	return signals, nil
}
