package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
	"quantdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*VolAdjustedMomentum)(nil)

// VolAdjustedMomentum ranks the universe by trailing return divided by
// trailing volatility and equal-weights the top K. Symbols whose score is
// undefined (zero or missing volatility) are excluded from the ranking.
type VolAdjustedMomentum struct {
	lookbackDays int
	volWindow    int
	topK         int
}

// NewVolAdjustedMomentum constructs the strategy from its parameters:
// lookback_days (default 90), vol_window (default 30), top_k (default 3).
func NewVolAdjustedMomentum(params map[string]any) (strategy.Strategy, error) {
	return &VolAdjustedMomentum{
		lookbackDays: strategy.IntParam(params, "lookback_days", 90),
		volWindow:    strategy.IntParam(params, "vol_window", 30),
		topK:         strategy.IntParam(params, "top_k", 3),
	}, nil
}

// Name returns "vol_adjusted_momentum".
func (s *VolAdjustedMomentum) Name() string { return "vol_adjusted_momentum" }

// TargetWeights computes return(lookback)/volatility(vol_window) per symbol
// at date and equal-weights the top K scores.
func (s *VolAdjustedMomentum) TargetWeights(m *domain.PriceMatrix, _ *strategy.Context, universe []string, date string) (map[string]float64, error) {
	idx := m.DateIndex(date)
	warmup := s.lookbackDays
	if s.volWindow > warmup {
		warmup = s.volWindow
	}
	if idx < warmup {
		return map[string]float64{}, nil
	}

	var entries []scored
	for _, sym := range universe {
		col := m.Column(sym)
		if col == nil {
			continue
		}
		cur := m.Price(sym, idx)
		prev := m.Price(sym, idx-s.lookbackDays)
		if math.IsNaN(cur) || math.IsNaN(prev) || prev == 0 {
			continue
		}
		vol := indicators.Volatility(indicators.Returns(col, 1), s.volWindow)[idx]
		if !finite(vol) || vol == 0 {
			continue
		}
		entries = append(entries, scored{sym: sym, score: (cur/prev - 1) / vol})
	}
	return equalWeights(topBy(entries, s.topK, true)), nil
}
