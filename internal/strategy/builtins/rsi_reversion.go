package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
	"quantdesk/internal/strategy"
)

// Compile-time interface checks.
var _ strategy.Strategy = (*RSIMeanReversion)(nil)
var _ strategy.SignalGenerator = (*RSIMeanReversion)(nil)

// RSIMeanReversion is a single-symbol state machine: enter long when RSI
// drops below the entry threshold, exit when it rises above the exit
// threshold, hold the previous state otherwise. The position flag is local
// to each scan; per-date queries re-scan the series from the beginning.
type RSIMeanReversion struct {
	symbol   string
	window   int
	entryRSI float64
	exitRSI  float64
	method   indicators.RSIMethod
}

// NewRSIMeanReversion constructs the strategy from its parameters: symbol
// (default "SPY"), rsi_window (default 14), entry_rsi (default 30),
// exit_rsi (default 55), method ("wilder" or "sma", default wilder).
func NewRSIMeanReversion(params map[string]any) (strategy.Strategy, error) {
	return &RSIMeanReversion{
		symbol:   strategy.StringParam(params, "symbol", "SPY"),
		window:   strategy.IntParam(params, "rsi_window", 14),
		entryRSI: strategy.FloatParam(params, "entry_rsi", 30),
		exitRSI:  strategy.FloatParam(params, "exit_rsi", 55),
		method:   indicators.RSIMethod(strategy.StringParam(params, "method", string(indicators.RSIWilder))),
	}, nil
}

// Name returns "rsi_mean_reversion".
func (s *RSIMeanReversion) Name() string { return "rsi_mean_reversion" }

// positionAt replays the state machine from the start of the series up to
// and including index idx and returns whether a long position is held.
func (s *RSIMeanReversion) positionAt(rsi []float64, idx int) bool {
	long := false
	for i := 0; i <= idx && i < len(rsi); i++ {
		v := rsi[i]
		if math.IsNaN(v) {
			continue
		}
		if !long && v < s.entryRSI {
			long = true
		} else if long && v > s.exitRSI {
			long = false
		}
	}
	return long
}

// TargetWeights returns {symbol: 1} while the state machine holds a long
// position at date, an empty map otherwise.
func (s *RSIMeanReversion) TargetWeights(m *domain.PriceMatrix, _ *strategy.Context, _ []string, date string) (map[string]float64, error) {
	idx := m.DateIndex(date)
	col := m.Column(s.symbol)
	if col == nil || idx < s.window {
		return map[string]float64{}, nil
	}
	rsi := indicators.RSI(col, s.window, s.method)
	if s.positionAt(rsi, idx) {
		return map[string]float64{s.symbol: 1.0}, nil
	}
	return map[string]float64{}, nil
}

// GenerateSignals emits a signal at every state transition: entry produces
// a full allocation, exit produces an empty (all-cash) allocation.
func (s *RSIMeanReversion) GenerateSignals(m *domain.PriceMatrix, _ *strategy.Context, _ []string) ([]domain.Signal, error) {
	col := m.Column(s.symbol)
	if col == nil {
		return nil, nil
	}
	rsi := indicators.RSI(col, s.window, s.method)

	var signals []domain.Signal
	long := false
	for i := range rsi {
		v := rsi[i]
		if math.IsNaN(v) {
			continue
		}
		switch {
		case !long && v < s.entryRSI:
			long = true
			signals = append(signals, domain.Signal{
				Date:          m.Dates[i],
				TargetWeights: map[string]float64{s.symbol: 1.0},
			})
		case long && v > s.exitRSI:
			long = false
			signals = append(signals, domain.Signal{
				Date:          m.Dates[i],
				TargetWeights: map[string]float64{},
			})
		}
	}
	return signals, nil
}
