package backtest

import (
	"math"
	"testing"

	"quantdesk/internal/domain"
)

func curveOf(values ...float64) []domain.EquityPoint {
	dates := tradingDates(len(values))
	curve := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		curve[i] = domain.EquityPoint{Date: dates[i], Equity: v}
	}
	return curve
}

func TestDailyReturns(t *testing.T) {
	rets := DailyReturns(curveOf(100, 110, 99))
	if len(rets) != 2 {
		t.Fatalf("len = %d, want 2", len(rets))
	}
	if math.Abs(rets[0].Ret-0.10) > 1e-12 {
		t.Fatalf("rets[0] = %v, want 0.10", rets[0].Ret)
	}
	if math.Abs(rets[1].Ret+0.10) > 1e-12 {
		t.Fatalf("rets[1] = %v, want -0.10", rets[1].Ret)
	}

	if got := DailyReturns(curveOf(100)); got != nil {
		t.Fatalf("single point returns = %v, want nil", got)
	}
}

func TestDrawdownsTrackRunningPeak(t *testing.T) {
	dds := Drawdowns(curveOf(100, 120, 90, 126))
	want := []float64{0, 0, -25, 0} // 90 is 25% below the 120 peak
	for i, dd := range dds {
		if math.Abs(dd.DDPct-want[i]) > 1e-9 {
			t.Fatalf("dd[%d] = %v, want %v", i, dd.DDPct, want[i])
		}
	}
}

func TestComputeMetricsBasic(t *testing.T) {
	m := ComputeMetrics(curveOf(100, 110, 99, 120), nil)

	if math.Abs(m.TotalReturnPct-20) > 1e-9 {
		t.Fatalf("total return = %v, want 20", m.TotalReturnPct)
	}
	if math.Abs(m.MaxDrawdownPct+10) > 1e-9 {
		t.Fatalf("max drawdown = %v, want -10", m.MaxDrawdownPct)
	}
	if m.Volatility <= 0 || m.Sharpe == 0 {
		t.Fatalf("volatility = %v, sharpe = %v", m.Volatility, m.Sharpe)
	}
}

func TestComputeMetricsCAGROverOneYear(t *testing.T) {
	// 253 equity points = 252 daily returns; doubling over exactly one
	// trading year means CAGR 1.0.
	values := make([]float64, 253)
	for i := range values {
		values[i] = 100 * math.Pow(2, float64(i)/252)
	}
	curve := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		curve[i] = domain.EquityPoint{Date: "", Equity: v}
	}
	m := ComputeMetrics(curve, nil)
	if math.Abs(m.CAGR-1.0) > 1e-9 {
		t.Fatalf("CAGR = %v, want 1.0", m.CAGR)
	}
}

func TestComputeMetricsDegenerateCasesNeverNaN(t *testing.T) {
	cases := []struct {
		name  string
		curve []domain.EquityPoint
	}{
		{"empty", nil},
		{"single point", curveOf(100)},
		{"constant equity", curveOf(100, 100, 100)},
		{"zero start", curveOf(0, 0, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := ComputeMetrics(tc.curve, tc.curve)
			for name, v := range map[string]float64{
				"total_return": m.TotalReturnPct,
				"cagr":         m.CAGR,
				"volatility":   m.Volatility,
				"sharpe":       m.Sharpe,
				"max_drawdown": m.MaxDrawdownPct,
				"alpha":        m.Alpha,
				"beta":         m.Beta,
				"tracking":     m.TrackingError,
				"ir":           m.InformationRatio,
			} {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("%s = %v", name, v)
				}
			}
		})
	}
}

func TestComputeMetricsAgainstIdenticalBenchmark(t *testing.T) {
	curve := curveOf(100, 103, 101, 106, 104)
	m := ComputeMetrics(curve, curve)

	if math.Abs(m.Beta-1) > 1e-9 {
		t.Fatalf("beta = %v, want 1", m.Beta)
	}
	if math.Abs(m.Alpha) > 1e-9 {
		t.Fatalf("alpha = %v, want 0", m.Alpha)
	}
	if m.TrackingError != 0 || m.InformationRatio != 0 {
		t.Fatalf("tracking = %v, ir = %v, want 0", m.TrackingError, m.InformationRatio)
	}
}

func TestComputeMetricsVolatilityAnnualization(t *testing.T) {
	// Alternating +1%/-1% daily returns: sample std of the return series
	// times sqrt(252).
	curve := []domain.EquityPoint{{Equity: 100}}
	equity := 100.0
	rets := []float64{0.01, -0.01, 0.01, -0.01, 0.01}
	for _, r := range rets {
		equity *= 1 + r
		curve = append(curve, domain.EquityPoint{Equity: equity})
	}
	_, std := meanStd(rets)
	want := std * math.Sqrt(252)

	m := ComputeMetrics(curve, nil)
	if math.Abs(m.Volatility-want) > 1e-9 {
		t.Fatalf("volatility = %v, want %v", m.Volatility, want)
	}
}
