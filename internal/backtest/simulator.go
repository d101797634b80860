// Package backtest implements the portfolio simulator, performance metrics,
// and the runner that drives backtests for built-in, ensemble, and
// sandboxed strategies.
package backtest

import (
	"errors"
	"math"

	"quantdesk/internal/domain"
)

// ErrNoData is returned when the requested universe/date range produced no
// price data at all. Gaps inside an otherwise valid series do not trigger
// it; they degrade to zero contribution day by day.
var ErrNoData = errors.New("no price data for requested universe and date range")

// Rebalance cadences. Weekly and monthly are index-based approximations
// (every 5th and 21st trading day), not calendar-aligned.
const (
	RebalanceDaily   = "daily"
	RebalanceWeekly  = "weekly"
	RebalanceMonthly = "monthly"
)

// SimConfig holds the cost and cadence parameters of one simulation.
type SimConfig struct {
	InitialCash float64
	FeeBps      float64
	SlippageBps float64
	Rebalance   string
}

// WeightFunc produces the target allocation for a rebalance date. The index
// is the row of the date in the price matrix.
type WeightFunc func(date string, idx int) (map[string]float64, error)

// SimResult is the raw output of one simulation pass.
type SimResult struct {
	EquityCurve    []domain.EquityPoint
	Turnovers      []float64 // per day, 0 on non-rebalance days
	PositionCounts []int     // symbols with non-zero weight, per day
}

// isRebalanceIndex reports whether the day at idx is a rebalance day for
// the cadence.
func isRebalanceIndex(idx int, cadence string) bool {
	switch cadence {
	case RebalanceWeekly:
		return idx%5 == 0
	case RebalanceMonthly:
		return idx%21 == 0
	default:
		return true
	}
}

// Turnover is the total absolute weight change across a rebalance, summed
// over the union of old and new symbols. It lies in [0, 2] for weight maps
// whose absolute sums do not exceed 1.
func Turnover(oldW, newW map[string]float64) float64 {
	total := 0.0
	for sym, w := range newW {
		total += math.Abs(w - oldW[sym])
	}
	for sym, w := range oldW {
		if _, ok := newW[sym]; !ok {
			total += math.Abs(w)
		}
	}
	return total
}

// scaleToUnit scales weights down so their absolute sum does not exceed 1.
// Sub-unit allocations (deliberate cash) are left untouched.
func scaleToUnit(weights map[string]float64) map[string]float64 {
	total := 0.0
	for _, w := range weights {
		total += math.Abs(w)
	}
	if total <= 1 {
		return weights
	}
	out := make(map[string]float64, len(weights))
	for sym, w := range weights {
		out[sym] = w / total
	}
	return out
}

// Simulate folds the weight function over the trading dates of the matrix:
// rebalance (with turnover-proportional costs), then compound the day's
// weighted return. It is deterministic and never retries; missing prices
// contribute zero for their day.
func Simulate(m *domain.PriceMatrix, cfg SimConfig, weightsAt WeightFunc) (*SimResult, error) {
	if m == nil || m.Len() == 0 {
		return nil, ErrNoData
	}

	equity := cfg.InitialCash
	weights := map[string]float64{}
	res := &SimResult{
		EquityCurve:    make([]domain.EquityPoint, 0, m.Len()),
		Turnovers:      make([]float64, 0, m.Len()),
		PositionCounts: make([]int, 0, m.Len()),
	}

	for idx, date := range m.Dates {
		dayTurnover := 0.0
		if isRebalanceIndex(idx, cfg.Rebalance) {
			newWeights, err := weightsAt(date, idx)
			if err != nil {
				return nil, err
			}
			newWeights = scaleToUnit(newWeights)

			dayTurnover = Turnover(weights, newWeights)
			cost := dayTurnover * (cfg.FeeBps + cfg.SlippageBps) / 10000
			equity *= 1 - cost
			weights = newWeights
		}

		dayReturn := 0.0
		for sym, w := range weights {
			dayReturn += w * m.DailyReturn(sym, idx)
		}
		equity *= 1 + dayReturn

		positions := 0
		for _, w := range weights {
			if w != 0 {
				positions++
			}
		}

		res.EquityCurve = append(res.EquityCurve, domain.EquityPoint{Date: date, Equity: equity})
		res.Turnovers = append(res.Turnovers, dayTurnover)
		res.PositionCounts = append(res.PositionCounts, positions)
	}
	return res, nil
}

// positionsSummary derives the average and maximum concurrent position
// counts of a run.
func positionsSummary(counts []int) domain.PositionsSummary {
	if len(counts) == 0 {
		return domain.PositionsSummary{}
	}
	sum, maxN := 0, 0
	for _, n := range counts {
		sum += n
		if n > maxN {
			maxN = n
		}
	}
	return domain.PositionsSummary{
		AvgPositions: float64(sum) / float64(len(counts)),
		MaxPositions: maxN,
	}
}

// avgTurnoverPct is the mean daily turnover expressed in percent.
func avgTurnoverPct(turnovers []float64) float64 {
	if len(turnovers) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range turnovers {
		sum += v
	}
	return sum / float64(len(turnovers)) * 100
}
