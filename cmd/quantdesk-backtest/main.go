// quantdesk-backtest runs a single or ensemble backtest against the local
// bar store and prints the JSON result to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"quantdesk/internal/backtest"
	"quantdesk/internal/config"
	"quantdesk/internal/domain"
	"quantdesk/internal/pricedata"
	"quantdesk/internal/sandbox"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/strategy/builtins"
)

func main() {
	// The sandbox executor re-invokes this binary in worker mode.
	if len(os.Args) > 1 && os.Args[1] == sandbox.WorkerArg {
		if err := sandbox.RunWorker(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	var (
		cfgPath    = flag.String("config", "config/quantdesk.yaml", "config file path")
		kind       = flag.String("kind", "builtin", "builtin | ensemble | sandbox")
		strat      = flag.String("strategy", "momentum_top_n", "builtin strategy kind")
		paramsJSON = flag.String("params", "{}", "strategy params as JSON")
		members    = flag.String("members", "", "ensemble members as JSON array")
		sourceFile = flag.String("source", "", "sandbox strategy source file")
		entrypoint = flag.String("entrypoint", "target_weights", "sandbox entrypoint")
		mode       = flag.String("mode", "weights", "sandbox mode: weights | signals")
		universe   = flag.String("universe", "", "comma-separated symbols (required)")
		start      = flag.String("start", "", "start date YYYY-MM-DD (required)")
		end        = flag.String("end", "", "end date YYYY-MM-DD (required)")
		field      = flag.String("field", "close", "price field: close | adj_close")
		cash       = flag.Float64("cash", 0, "initial cash (default from config)")
		feeBps     = flag.Float64("fee-bps", 0, "fee in basis points")
		slipBps    = flag.Float64("slippage-bps", 0, "slippage in basis points")
		rebalance  = flag.String("rebalance", "", "daily | weekly | monthly")
		benchmark  = flag.String("benchmark", "", "benchmark symbol")
		longOnly   = flag.Bool("long-only", true, "reject negative weights")
		cashBuffer = flag.Float64("cash-buffer", 0, "cash buffer fraction")
	)
	flag.Parse()

	if *universe == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("loading config: %v", err)
	}

	runCfg := backtest.RunConfig{
		Universe:      splitSymbols(*universe),
		InitialCash:   *cash,
		FeeBps:        *feeBps,
		SlippageBps:   *slipBps,
		Rebalance:     *rebalance,
		Benchmark:     *benchmark,
		LongOnly:      *longOnly,
		CashBufferPct: *cashBuffer,
	}
	if runCfg.InitialCash <= 0 {
		runCfg.InitialCash = cfg.Backtest.InitialCash
	}
	if runCfg.FeeBps == 0 {
		runCfg.FeeBps = cfg.Backtest.FeeBps
	}
	if runCfg.SlippageBps == 0 {
		runCfg.SlippageBps = cfg.Backtest.SlippageBps
	}
	if runCfg.Rebalance == "" {
		runCfg.Rebalance = cfg.Backtest.Rebalance
	}
	if runCfg.Benchmark == "" {
		runCfg.Benchmark = cfg.Backtest.Benchmark
	}

	req := &backtest.Request{Kind: *kind, Config: runCfg}
	switch *kind {
	case backtest.KindBuiltin:
		req.Strategy = *strat
		if err := json.Unmarshal([]byte(*paramsJSON), &req.Params); err != nil {
			fatal("parsing -params: %v", err)
		}
	case backtest.KindEnsemble:
		if err := json.Unmarshal([]byte(*members), &req.Members); err != nil {
			fatal("parsing -members: %v", err)
		}
	case backtest.KindSandbox:
		source, err := os.ReadFile(*sourceFile)
		if err != nil {
			fatal("reading -source: %v", err)
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(*paramsJSON), &params); err != nil {
			fatal("parsing -params: %v", err)
		}
		req.Sandbox = &backtest.SandboxJob{
			Source:     string(source),
			Entrypoint: *entrypoint,
			Mode:       sandbox.Mode(*mode),
			Params:     params,
		}
	default:
		fatal("unknown -kind %q", *kind)
	}

	loader := pricedata.NewStoreLoader(store.NewParquetBarStore(cfg.Storage.DataDir))
	ctx := context.Background()

	symbols := runCfg.Universe
	if runCfg.Benchmark != "" {
		symbols = append(append([]string{}, symbols...), runCfg.Benchmark)
	}
	prices, err := loader.LoadPriceSeries(ctx, symbols, *start, *end, domain.PriceField(*field))
	if err != nil {
		fatal("loading prices: %v", err)
	}

	registry := strategy.NewRegistry()
	builtins.RegisterAll(registry)

	runner := backtest.NewRunner(sandbox.NewExecutor(cfg.Sandbox.Timeout()))
	result, err := runner.Run(ctx, prices, registry, req)
	if err != nil {
		fatal("backtest failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fatal("encoding result: %v", err)
	}
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
