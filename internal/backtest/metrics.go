package backtest

import (
	"math"

	"quantdesk/internal/domain"
)

const tradingDaysPerYear = 252

// DailyReturns derives day-over-day percentage returns from an equity
// curve. Curves with fewer than two points yield an empty slice.
func DailyReturns(curve []domain.EquityPoint) []domain.ReturnPoint {
	if len(curve) < 2 {
		return nil
	}
	out := make([]domain.ReturnPoint, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		ret := 0.0
		if prev != 0 {
			ret = curve[i].Equity/prev - 1
		}
		out = append(out, domain.ReturnPoint{Date: curve[i].Date, Ret: ret})
	}
	return out
}

// Drawdowns tracks the running equity peak from the start of the curve and
// reports each point's percentage decline from it (always <= 0).
func Drawdowns(curve []domain.EquityPoint) []domain.DrawdownPoint {
	out := make([]domain.DrawdownPoint, 0, len(curve))
	peak := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (p.Equity - peak) / peak * 100
		}
		out = append(out, domain.DrawdownPoint{Date: p.Date, DDPct: dd})
	}
	return out
}

// ComputeMetrics derives the full statistics record from an equity curve
// and an optional benchmark curve. Every degenerate case (empty curve,
// single point, zero variance) resolves to 0.0; no NaN or Inf ever leaves
// this function.
func ComputeMetrics(curve, benchmark []domain.EquityPoint) domain.Metrics {
	var m domain.Metrics
	if len(curve) == 0 {
		return m
	}

	returns := DailyReturns(curve)
	rets := make([]float64, len(returns))
	for i, r := range returns {
		rets[i] = r.Ret
	}

	start, end := curve[0].Equity, curve[len(curve)-1].Equity
	if start != 0 {
		m.TotalReturnPct = (end/start - 1) * 100
	}

	for _, dd := range Drawdowns(curve) {
		if dd.DDPct < m.MaxDrawdownPct {
			m.MaxDrawdownPct = dd.DDPct
		}
	}

	if len(rets) == 0 {
		return m
	}

	mean, std := meanStd(rets)
	m.Volatility = std * math.Sqrt(tradingDaysPerYear)
	if std > 0 {
		m.Sharpe = mean / std * math.Sqrt(tradingDaysPerYear)
	}

	n := len(rets)
	if n < 1 {
		n = 1
	}
	if start > 0 && end > 0 {
		m.CAGR = math.Pow(end/start, tradingDaysPerYear/float64(n)) - 1
	}

	benchReturns := DailyReturns(benchmark)
	if len(benchReturns) > 0 {
		brets := make([]float64, len(benchReturns))
		for i, r := range benchReturns {
			brets[i] = r.Ret
		}
		applyBenchmark(&m, rets, brets)
	}

	return sanitize(m)
}

// applyBenchmark fills alpha, beta, tracking error, and information ratio
// from overlapping return observations.
func applyBenchmark(m *domain.Metrics, rets, brets []float64) {
	n := len(rets)
	if len(brets) < n {
		n = len(brets)
	}
	if n == 0 {
		return
	}
	rets, brets = rets[:n], brets[:n]

	meanR, _ := meanStd(rets)
	meanB, _ := meanStd(brets)

	var cov, varB float64
	for i := 0; i < n; i++ {
		cov += (rets[i] - meanR) * (brets[i] - meanB)
		varB += (brets[i] - meanB) * (brets[i] - meanB)
	}
	cov /= float64(n)
	varB /= float64(n)

	if varB > 0 {
		m.Beta = cov / varB
	}
	m.Alpha = (meanR - m.Beta*meanB) * tradingDaysPerYear * 100

	diffs := make([]float64, n)
	for i := 0; i < n; i++ {
		diffs[i] = rets[i] - brets[i]
	}
	meanD, stdD := meanStd(diffs)
	m.TrackingError = stdD * math.Sqrt(tradingDaysPerYear)
	if stdD > 0 {
		m.InformationRatio = meanD / stdD * math.Sqrt(tradingDaysPerYear)
	}
}

// meanStd returns the mean and sample standard deviation of a series.
// Series shorter than two observations have zero deviation.
func meanStd(series []float64) (float64, float64) {
	if len(series) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))
	if len(series) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range series {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(series)-1))
}

// sanitize replaces any NaN or Inf field with 0 so degeneracies never
// propagate to callers.
func sanitize(m domain.Metrics) domain.Metrics {
	clean := func(v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	}
	m.TotalReturnPct = clean(m.TotalReturnPct)
	m.CAGR = clean(m.CAGR)
	m.Volatility = clean(m.Volatility)
	m.Sharpe = clean(m.Sharpe)
	m.MaxDrawdownPct = clean(m.MaxDrawdownPct)
	m.Alpha = clean(m.Alpha)
	m.Beta = clean(m.Beta)
	m.TrackingError = clean(m.TrackingError)
	m.InformationRatio = clean(m.InformationRatio)
	m.AvgTurnoverPct = clean(m.AvgTurnoverPct)
	return m
}
