// Package builtins provides the built-in weight-generating strategies that
// ship with the quantdesk platform. All of them operate on the pivoted
// price matrix and share the same edge-case policy: fewer samples than the
// required lookback at a date means no signal for that date, not an error.
package builtins

import (
	"math"
	"sort"

	"quantdesk/internal/strategy"
)

// RegisterAll registers every built-in strategy kind on the registry.
func RegisterAll(r *strategy.Registry) {
	r.Register("momentum_top_n", NewMomentumTopN)
	r.Register("trend_sma", NewTrendSMA)
	r.Register("rsi_mean_reversion", NewRSIMeanReversion)
	r.Register("low_volatility", NewLowVolatility)
	r.Register("vol_adjusted_momentum", NewVolAdjustedMomentum)
	r.Register("risk_on_off", NewRiskOnOff)
}

// rebalanceIndexes returns the matrix row indexes a cadence-driven strategy
// emits signals for. Weekly is every 5th index; monthly matches the
// day-of-month of the first historical date. Both are approximations kept
// for parity with the simulator's cadence handling.
func rebalanceIndexes(dates []string, cadence string) []int {
	var out []int
	switch cadence {
	case "weekly":
		for i := range dates {
			if i%5 == 0 {
				out = append(out, i)
			}
		}
	case "monthly":
		if len(dates) == 0 {
			return nil
		}
		firstDay := dayOfMonth(dates[0])
		for i, d := range dates {
			if dayOfMonth(d) == firstDay {
				out = append(out, i)
			}
		}
	default: // daily
		for i := range dates {
			out = append(out, i)
		}
	}
	return out
}

// dayOfMonth extracts the DD component of an ISO YYYY-MM-DD date string.
func dayOfMonth(date string) string {
	if len(date) < 10 {
		return date
	}
	return date[8:10]
}

type scored struct {
	sym   string
	score float64
}

// topBy ranks the scored entries and returns the first n symbols. Ties
// break on symbol for determinism. NaN scores must be filtered by the
// caller before ranking.
func topBy(entries []scored, n int, descending bool) []string {
	sort.Slice(entries, func(i, j int) bool {
		si, sj := entries[i].score, entries[j].score
		if si != sj {
			if descending {
				return si > sj
			}
			return si < sj
		}
		return entries[i].sym < entries[j].sym
	})
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].sym
	}
	return out
}

// equalWeights assigns 1/len to each symbol.
func equalWeights(symbols []string) map[string]float64 {
	if len(symbols) == 0 {
		return map[string]float64{}
	}
	w := 1.0 / float64(len(symbols))
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		out[sym] = w
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
