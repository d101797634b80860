package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/broker"
	"quantdesk/internal/config"
	"quantdesk/internal/engine"
	"quantdesk/internal/httpapi"
	"quantdesk/internal/pricedata"
	"quantdesk/internal/sandbox"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/strategy/builtins"
	"quantdesk/internal/tradeparams"
	"quantdesk/internal/util"
)

func main() {
	// Sandbox worker mode: the server binary re-invokes itself with this
	// argument to run user code in an isolated process.
	if len(os.Args) > 1 && os.Args[1] == sandbox.WorkerArg {
		if err := sandbox.RunWorker(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfgPath := "config/quantdesk.yaml"
	if p := os.Getenv("QUANTDESK_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	// Stores.
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "quantdesk.db")
	}
	sqlite, err := store.NewSQLiteStore(sqlitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer sqlite.Close()
	bars := store.NewParquetBarStore(cfg.Storage.DataDir)

	// Price loader: Alpaca market data when credentials are configured,
	// the local bar store otherwise.
	var loader pricedata.Loader
	if cfg.Alpaca.APIKey != "" {
		loader = pricedata.NewAlpacaLoader(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, 0)
		logger.Info("price loader: alpaca market data")
	} else {
		loader = pricedata.NewStoreLoader(bars)
		logger.Info("price loader: local bar store")
	}

	// Broker: live Alpaca when configured, in-memory paper simulator
	// otherwise.
	var b broker.Broker
	if cfg.Alpaca.APIKey != "" && !cfg.Trading.PaperMode {
		b = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	} else {
		b = broker.NewSimulatorBroker(cfg.Backtest.InitialCash)
	}
	logger.Info("broker configured", "name", b.Name())

	risk := engine.NewRiskManager(cfg.Trading.MaxPositionPct, cfg.Trading.MaxDailyLossPct)
	eng := engine.NewEngine(b, risk, latestClose(bars), logger)

	// Backtest runners: the preview runner carries the short sandbox
	// timeout used by the strategy editor.
	runner := backtest.NewRunner(sandbox.NewExecutor(cfg.Sandbox.Timeout()))
	preview := backtest.NewRunner(sandbox.NewExecutor(cfg.Sandbox.PreviewTimeout()))

	registry := strategy.NewRegistry()
	builtins.RegisterAll(registry)

	params := tradeparams.NewStore(filepath.Join(cfg.Storage.DataDir, "tradeparams.json"), logger)

	srv := httpapi.NewServer(httpapi.Deps{
		Loader:     loader,
		Bars:       bars,
		Runs:       sqlite,
		Strategies: sqlite,
		Runner:     runner,
		Preview:    preview,
		Registry:   registry,
		Engine:     eng,
		Params:     params,
		Defaults:   cfg.Backtest,
		Log:        logger,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("quantdesk server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// latestClose estimates order notional from the most recent stored daily
// close for a symbol.
func latestClose(bars store.BarStore) engine.PriceFunc {
	return func(ctx context.Context, symbol string) (float64, error) {
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -14)
		recent, err := bars.ReadBars(ctx, symbol, start, end)
		if err != nil {
			return 0, err
		}
		if len(recent) == 0 {
			return 0, fmt.Errorf("no recent bars for %s", symbol)
		}
		last := recent[len(recent)-1]
		if last.Close <= 0 {
			return 0, fmt.Errorf("no usable close for %s", symbol)
		}
		return last.Close, nil
	}
}
