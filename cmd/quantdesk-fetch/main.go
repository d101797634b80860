// Command quantdesk-fetch backfills daily bars from the Alpaca market-data
// API into the local Parquet bar store, so backtests can run without
// touching the network.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quantdesk/internal/config"
	"quantdesk/internal/pricedata"
	"quantdesk/internal/store"
	"quantdesk/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/quantdesk.yaml", "path to config file")
	symbolsArg := flag.String("symbols", "", "comma-separated symbols to fetch (required)")
	start := flag.String("start", "", "start date YYYY-MM-DD (required)")
	end := flag.String("end", "", "end date YYYY-MM-DD (default: latest complete trading day)")
	flag.Parse()

	if p := os.Getenv("QUANTDESK_CONFIG"); p != "" && *cfgPath == "config/quantdesk.yaml" {
		*cfgPath = p
	}

	symbols := splitSymbols(*symbolsArg)
	if len(symbols) == 0 || *start == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("alpaca credentials are required to fetch bars")
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/quantdesk-fetch-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *end == "" {
		cal := util.NewTradingCalendar()
		*end = cal.LatestCompleteTradingDay(time.Now()).Format("2006-01-02")
	}

	bars := store.NewParquetBarStore(cfg.Storage.DataDir)
	loader := pricedata.NewAlpacaLoader(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, 0)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("fetching daily bars",
		"symbols", len(symbols), "start", *start, "end", *end, "logFile", logFileName)

	fetched, err := loader.LoadBars(ctx, symbols, *start, *end)
	if err != nil {
		log.Fatalf("fetch bars: %v", err)
	}
	if len(fetched) == 0 {
		slog.Warn("no bars returned for requested range")
		return
	}
	if err := bars.WriteBars(ctx, fetched); err != nil {
		log.Fatalf("write bars: %v", err)
	}
	slog.Info("backfill complete", "bars", len(fetched), "dataDir", cfg.Storage.DataDir)
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
