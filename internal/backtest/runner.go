package backtest

import (
	"context"
	"fmt"
	"sort"

	"quantdesk/internal/domain"
	"quantdesk/internal/sandbox"
	"quantdesk/internal/strategy"
)

// RunConfig holds the per-run knobs shared by every strategy kind.
type RunConfig struct {
	Universe          []string
	InitialCash       float64
	FeeBps            float64
	SlippageBps       float64
	Rebalance         string // daily, weekly, monthly
	Benchmark         string // optional symbol for alpha/beta
	LongOnly          bool
	CashBufferPct     float64
	MaxWeightPerAsset float64
}

// Result is the complete output of one backtest, shaped for storage and
// the HTTP API.
type Result struct {
	EquityCurve []domain.EquityPoint    `json:"equity_curve"`
	Returns     []domain.ReturnPoint    `json:"returns"`
	Drawdown    []domain.DrawdownPoint  `json:"drawdown"`
	Metrics     domain.Metrics          `json:"metrics"`
	Positions   domain.PositionsSummary `json:"positions_summary"`
}

// EnsembleMember pairs one strategy with its invocation context and mixing
// coefficient. Members are independent even when they share a strategy
// kind, so two copies of the same kind with different params blend as two
// components.
type EnsembleMember struct {
	Strategy strategy.Strategy
	Ctx      *strategy.Context
	Weight   float64
}

// SandboxJob describes one user-code run.
type SandboxJob struct {
	Source     string
	Entrypoint string
	Mode       sandbox.Mode
	Params     map[string]any
}

// Runner executes backtests over a prepared price matrix. The sandbox
// executor is only needed for user-code runs; built-in and ensemble runs
// work with a nil executor.
type Runner struct {
	executor *sandbox.Executor
}

func NewRunner(ex *sandbox.Executor) *Runner {
	return &Runner{executor: ex}
}

// matrixUniverse is the symbol set the price matrix carries: the trading
// universe plus the benchmark, so benchmark-relative metrics work even when
// the benchmark is not tradable.
func matrixUniverse(cfg RunConfig) []string {
	if cfg.Benchmark == "" {
		return cfg.Universe
	}
	for _, sym := range cfg.Universe {
		if sym == cfg.Benchmark {
			return cfg.Universe
		}
	}
	return append(append([]string{}, cfg.Universe...), cfg.Benchmark)
}

// RunSingle backtests one strategy. Strategies that also implement
// SignalGenerator are driven once for the whole range; everything else is
// called per rebalance date. Weights pass through validation either way.
func (r *Runner) RunSingle(prices domain.PriceSeries, strat strategy.Strategy, sctx *strategy.Context, cfg RunConfig) (*Result, error) {
	m := domain.NewPriceMatrix(prices, matrixUniverse(cfg))
	if m.Len() == 0 {
		return nil, ErrNoData
	}

	var weightsAt WeightFunc
	if gen, ok := strat.(strategy.SignalGenerator); ok {
		signals, err := gen.GenerateSignals(m, sctx, cfg.Universe)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strat.Name(), err)
		}
		weightsAt = r.signalWeightFunc(signals, cfg)
	} else {
		weightsAt = func(date string, idx int) (map[string]float64, error) {
			raw, err := strat.TargetWeights(m, sctx, cfg.Universe, date)
			if err != nil {
				return nil, fmt.Errorf("strategy %s at %s: %w", strat.Name(), date, err)
			}
			return strategy.ValidateTargetWeights(raw, cfg.Universe, cfg.LongOnly, cfg.CashBufferPct, cfg.MaxWeightPerAsset)
		}
	}

	return r.simulate(m, cfg, weightsAt)
}

// RunEnsemble backtests a blend of strategies. Each member's raw weights
// are validated individually, mixed by coefficient, and passed through the
// shared constraints before simulation.
func (r *Runner) RunEnsemble(prices domain.PriceSeries, members []EnsembleMember, constraints *domain.Constraints, cfg RunConfig) (*Result, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble has no members")
	}
	m := domain.NewPriceMatrix(prices, matrixUniverse(cfg))
	if m.Len() == 0 {
		return nil, ErrNoData
	}

	weightsAt := func(date string, idx int) (map[string]float64, error) {
		perMember := make(map[string]map[string]float64, len(members))
		mix := make(map[string]float64, len(members))
		for i, member := range members {
			raw, err := member.Strategy.TargetWeights(m, member.Ctx, cfg.Universe, date)
			if err != nil {
				return nil, fmt.Errorf("strategy %s at %s: %w", member.Strategy.Name(), date, err)
			}
			validated, err := strategy.ValidateTargetWeights(raw, cfg.Universe, cfg.LongOnly, cfg.CashBufferPct, cfg.MaxWeightPerAsset)
			if err != nil {
				return nil, fmt.Errorf("strategy %s at %s: %w", member.Strategy.Name(), date, err)
			}
			// Key by position so duplicate kinds stay distinct members.
			key := fmt.Sprintf("%d:%s", i, member.Strategy.Name())
			perMember[key] = validated
			mix[key] = member.Weight
		}
		return strategy.MixWeights(perMember, mix, constraints), nil
	}

	return r.simulate(m, cfg, weightsAt)
}

// RunSandbox backtests user code. The worker computes the full signal
// schedule in one isolated invocation; the simulator then replays it.
func (r *Runner) RunSandbox(ctx context.Context, prices domain.PriceSeries, job SandboxJob, cfg RunConfig) (*Result, error) {
	if r.executor == nil {
		return nil, fmt.Errorf("sandbox execution is not configured")
	}
	m := domain.NewPriceMatrix(prices, matrixUniverse(cfg))
	if m.Len() == 0 {
		return nil, ErrNoData
	}

	resp, err := r.executor.Execute(ctx, &sandbox.Request{
		Mode:           job.Mode,
		Source:         job.Source,
		Entrypoint:     job.Entrypoint,
		Universe:       cfg.Universe,
		Prices:         prices,
		Params:         job.Params,
		RebalanceDates: rebalanceDates(m, cfg.Rebalance),
	})
	if err != nil {
		return nil, err
	}

	return r.simulate(m, cfg, r.signalWeightFunc(resp.Signals, cfg))
}

// signalWeightFunc adapts a date-sorted signal schedule to the per-date
// shape: each rebalance date holds the most recent signal at or before it,
// and dates before the first signal stay in cash. Validation happens when
// a signal is first applied.
func (r *Runner) signalWeightFunc(signals []domain.Signal, cfg RunConfig) WeightFunc {
	sorted := make([]domain.Signal, len(signals))
	copy(sorted, signals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	return func(date string, idx int) (map[string]float64, error) {
		// Last signal with Date <= date.
		pos := sort.Search(len(sorted), func(i int) bool { return sorted[i].Date > date }) - 1
		if pos < 0 {
			return map[string]float64{}, nil
		}
		return strategy.ValidateTargetWeights(sorted[pos].TargetWeights, cfg.Universe, cfg.LongOnly, cfg.CashBufferPct, cfg.MaxWeightPerAsset)
	}
}

// simulate runs the fold and assembles the full result, including the
// optional benchmark-relative statistics.
func (r *Runner) simulate(m *domain.PriceMatrix, cfg RunConfig, weightsAt WeightFunc) (*Result, error) {
	sim, err := Simulate(m, SimConfig{
		InitialCash: cfg.InitialCash,
		FeeBps:      cfg.FeeBps,
		SlippageBps: cfg.SlippageBps,
		Rebalance:   cfg.Rebalance,
	}, weightsAt)
	if err != nil {
		return nil, err
	}

	metrics := ComputeMetrics(sim.EquityCurve, benchmarkCurve(m, cfg))
	metrics.AvgTurnoverPct = avgTurnoverPct(sim.Turnovers)
	metrics = sanitize(metrics)

	return &Result{
		EquityCurve: sim.EquityCurve,
		Returns:     DailyReturns(sim.EquityCurve),
		Drawdown:    Drawdowns(sim.EquityCurve),
		Metrics:     metrics,
		Positions:   positionsSummary(sim.PositionCounts),
	}, nil
}

// benchmarkCurve builds a buy-and-hold equity curve for the configured
// benchmark symbol, or nil when no benchmark is set or it has no data.
func benchmarkCurve(m *domain.PriceMatrix, cfg RunConfig) []domain.EquityPoint {
	if cfg.Benchmark == "" {
		return nil
	}
	col := m.Column(cfg.Benchmark)
	if col == nil {
		return nil
	}
	curve := make([]domain.EquityPoint, 0, m.Len())
	equity := cfg.InitialCash
	for idx, date := range m.Dates {
		equity *= 1 + m.DailyReturn(cfg.Benchmark, idx)
		curve = append(curve, domain.EquityPoint{Date: date, Equity: equity})
	}
	return curve
}

// rebalanceDates lists the trading dates the cadence rebalances on.
func rebalanceDates(m *domain.PriceMatrix, cadence string) []string {
	var dates []string
	for idx, date := range m.Dates {
		if isRebalanceIndex(idx, cadence) {
			dates = append(dates, date)
		}
	}
	return dates
}
