// Package indicators provides pure functions over ordered daily price and
// return series. Positions with insufficient history are NaN; callers skip
// them rather than treating them as values.
package indicators

import (
	"fmt"
	"math"
)

// RSIMethod selects the smoothing used for average gains and losses.
type RSIMethod string

const (
	// RSIWilder smooths gains and losses with an exponential moving
	// average using factor 1/window.
	RSIWilder RSIMethod = "wilder"
	// RSISMA uses a simple moving average of gains and losses.
	RSISMA RSIMethod = "sma"
)

func checkWindow(window int) {
	if window <= 0 {
		panic(fmt.Sprintf("indicators: window must be positive, got %d", window))
	}
}

// RSI computes the Relative Strength Index of a price series, aligned to the
// input: out[i] corresponds to series[i]. The first window points are NaN.
// Steps touching a gap (NaN price on either side) contribute nothing and
// stay NaN themselves; the smoothing resumes on the next valid step.
// A zero average loss also yields NaN, the series-wide "no value" marker.
// Panics if window <= 0.
func RSI(series []float64, window int, method RSIMethod) []float64 {
	checkWindow(window)

	out := make([]float64, len(series))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(series) <= window {
		return out
	}

	gains := make([]float64, len(series))
	losses := make([]float64, len(series))
	valid := make([]bool, len(series))
	for i := 1; i < len(series); i++ {
		if math.IsNaN(series[i]) || math.IsNaN(series[i-1]) {
			continue
		}
		valid[i] = true
		delta := series[i] - series[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	switch method {
	case RSISMA:
		for i := window; i < len(series); i++ {
			g, l, n := 0.0, 0.0, 0
			for j := i - window + 1; j <= i; j++ {
				if !valid[j] {
					continue
				}
				g += gains[j]
				l += losses[j]
				n++
			}
			if n < window {
				continue
			}
			out[i] = rsiValue(g/float64(window), l/float64(window))
		}
	default: // Wilder smoothing, seeded by the first window valid steps.
		alpha := 1.0 / float64(window)
		var avgGain, avgLoss float64
		seeded, n := false, 0
		for i := 1; i < len(series); i++ {
			if !valid[i] {
				continue
			}
			if !seeded {
				avgGain += gains[i]
				avgLoss += losses[i]
				n++
				if n == window {
					avgGain /= float64(window)
					avgLoss /= float64(window)
					seeded = true
					out[i] = rsiValue(avgGain, avgLoss)
				}
				continue
			}
			avgGain = alpha*gains[i] + (1-alpha)*avgGain
			avgLoss = alpha*losses[i] + (1-alpha)*avgLoss
			out[i] = rsiValue(avgGain, avgLoss)
		}
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return math.NaN()
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Returns computes the simple percentage change over window samples:
// series[i]/series[i-window] - 1. The first window points are NaN.
// Panics if window <= 0.
func Returns(series []float64, window int) []float64 {
	checkWindow(window)

	out := make([]float64, len(series))
	for i := range out {
		out[i] = math.NaN()
	}
	for i := window; i < len(series); i++ {
		prev := series[i-window]
		if prev == 0 || math.IsNaN(prev) || math.IsNaN(series[i]) {
			continue
		}
		out[i] = series[i]/prev - 1
	}
	return out
}

// Volatility computes the rolling sample standard deviation of a returns
// series over window observations. Points with fewer than window valid
// observations are NaN. Panics if window <= 0.
func Volatility(returns []float64, window int) []float64 {
	checkWindow(window)

	out := make([]float64, len(returns))
	for i := range out {
		out[i] = math.NaN()
	}
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(returns); i++ {
		sum, n := 0.0, 0
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(returns[j]) {
				continue
			}
			sum += returns[j]
			n++
		}
		if n < window {
			continue
		}
		mean := sum / float64(n)
		var ss float64
		for j := i - window + 1; j <= i; j++ {
			d := returns[j] - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(n-1))
	}
	return out
}

// TotalReturn returns the percentage change between the first and last valid
// points of the slice, or NaN when fewer than two valid points exist.
func TotalReturn(series []float64) float64 {
	first, last := math.NaN(), math.NaN()
	for _, v := range series {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(first) {
			first = v
		}
		last = v
	}
	if math.IsNaN(first) || math.IsNaN(last) || first == 0 {
		return math.NaN()
	}
	return last/first - 1
}

// SMA computes the simple moving average over window samples, NaN before
// window samples accumulate. A window containing a gap (NaN) is NaN, but
// later gap-free windows recover. Panics if window <= 0.
func SMA(series []float64, window int) []float64 {
	checkWindow(window)

	out := make([]float64, len(series))
	for i := range out {
		out[i] = math.NaN()
	}
	for i := window - 1; i < len(series); i++ {
		sum, n := 0.0, 0
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(series[j]) {
				continue
			}
			sum += series[j]
			n++
		}
		if n < window {
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}
