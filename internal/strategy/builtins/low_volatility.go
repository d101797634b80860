package builtins

import (
	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
	"quantdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*LowVolatility)(nil)

// LowVolatility ranks the universe by trailing return volatility and holds
// the quietest names, weighted equally or inversely to volatility.
type LowVolatility struct {
	lookbackDays int
	topK         int
	weighting    string // "equal" or "inverse_vol"
}

// NewLowVolatility constructs the strategy from its parameters:
// lookback_days (default 60), top_k (default 3), weighting (default
// "inverse_vol").
func NewLowVolatility(params map[string]any) (strategy.Strategy, error) {
	return &LowVolatility{
		lookbackDays: strategy.IntParam(params, "lookback_days", 60),
		topK:         strategy.IntParam(params, "top_k", 3),
		weighting:    strategy.StringParam(params, "weighting", "inverse_vol"),
	}, nil
}

// Name returns "low_volatility".
func (s *LowVolatility) Name() string { return "low_volatility" }

// TargetWeights selects the top-K lowest-volatility symbols at date. With
// inverse_vol weighting, weights are proportional to 1/vol and renormalized
// to sum 1; if volatility is degenerate (zero) across the selection, the
// weighting falls back to equal.
func (s *LowVolatility) TargetWeights(m *domain.PriceMatrix, _ *strategy.Context, universe []string, date string) (map[string]float64, error) {
	idx := m.DateIndex(date)
	if idx < s.lookbackDays {
		return map[string]float64{}, nil
	}

	vols := make(map[string]float64)
	var entries []scored
	for _, sym := range universe {
		col := m.Column(sym)
		if col == nil {
			continue
		}
		vol := indicators.Volatility(indicators.Returns(col, 1), s.lookbackDays)[idx]
		if !finite(vol) {
			continue
		}
		vols[sym] = vol
		entries = append(entries, scored{sym: sym, score: vol})
	}

	selected := topBy(entries, s.topK, false)
	if len(selected) == 0 {
		return map[string]float64{}, nil
	}

	if s.weighting != "inverse_vol" {
		return equalWeights(selected), nil
	}
	for _, sym := range selected {
		if vols[sym] == 0 {
			// Degenerate volatility anywhere in the selection makes the
			// inverse weights undefined.
			return equalWeights(selected), nil
		}
	}
	invSum := 0.0
	for _, sym := range selected {
		invSum += 1 / vols[sym]
	}
	out := make(map[string]float64, len(selected))
	for _, sym := range selected {
		out[sym] = (1 / vols[sym]) / invSum
	}
	return out, nil
}
