// Package pricedata loads the close-price series backtests run on, either
// from the local bar store or from the Alpaca market-data API.
package pricedata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantdesk/internal/domain"
	"quantdesk/internal/store"
	"quantdesk/internal/util"
)

// Loader produces a symbol -> date -> price mapping for a date range.
// Symbols with no data come back as empty inner maps, never as an error;
// the backtest layer decides what an empty series means.
type Loader interface {
	LoadPriceSeries(ctx context.Context, symbols []string, start, end string, field domain.PriceField) (domain.PriceSeries, error)
}

// Compile-time interface checks.
var _ Loader = (*StoreLoader)(nil)
var _ Loader = (*AlpacaLoader)(nil)

// ---------------------------------------------------------------------------
// StoreLoader
// ---------------------------------------------------------------------------

// StoreLoader reads price series from the local bar store.
type StoreLoader struct {
	Bars store.BarStore
}

func NewStoreLoader(bars store.BarStore) *StoreLoader {
	return &StoreLoader{Bars: bars}
}

// LoadPriceSeries reads the stored daily bars for each symbol and projects
// the requested price field. A bar without an adjusted close falls back to
// the raw close.
func (l *StoreLoader) LoadPriceSeries(ctx context.Context, symbols []string, start, end string, field domain.PriceField) (domain.PriceSeries, error) {
	startT, endT, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}

	series := domain.PriceSeries{}
	for _, symbol := range symbols {
		symbol = strings.ToUpper(symbol)
		bars, err := l.Bars.ReadBars(ctx, symbol, startT, endT)
		if err != nil {
			return nil, fmt.Errorf("read bars for %s: %w", symbol, err)
		}
		inner := make(map[string]float64, len(bars))
		for _, b := range bars {
			inner[b.Timestamp.Format(domain.DateLayout)] = priceOf(b, field)
		}
		series[symbol] = inner
	}
	return series, nil
}

func priceOf(b domain.Bar, field domain.PriceField) float64 {
	if field == domain.PriceFieldAdjClose && b.AdjClose != 0 {
		return b.AdjClose
	}
	return b.Close
}

// ---------------------------------------------------------------------------
// AlpacaLoader
// ---------------------------------------------------------------------------

// AlpacaLoader fetches daily bars from the Alpaca market-data API. Requests
// are rate-limited and retried with backoff.
type AlpacaLoader struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaLoader creates a loader with the given credentials. perMinute
// bounds the API request rate.
func NewAlpacaLoader(apiKey, apiSecret, dataURL string, perMinute int) *AlpacaLoader {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if perMinute <= 0 {
		perMinute = 200
	}
	return &AlpacaLoader{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(perMinute),
		log:     slog.Default().With("component", "alpaca-loader"),
	}
}

// LoadPriceSeries fetches daily bars for all symbols in one multi-bar
// request. The adj_close field maps to Alpaca's fully adjusted bars.
func (l *AlpacaLoader) LoadPriceSeries(ctx context.Context, symbols []string, start, end string, field domain.PriceField) (domain.PriceSeries, error) {
	startT, endT, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     startT,
		End:       endT,
		Feed:      "sip",
	}
	if field == domain.PriceFieldAdjClose {
		req.Adjustment = marketdata.All
	} else {
		req.Adjustment = marketdata.Raw
	}

	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}

	var multiBars map[string][]marketdata.Bar
	err = util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var reqErr error
		multiBars, reqErr = l.client.GetMultiBars(upper, req)
		if reqErr != nil {
			l.log.Warn("GetMultiBars failed", "error", reqErr)
		}
		return reqErr
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	series := domain.PriceSeries{}
	for _, symbol := range upper {
		inner := make(map[string]float64)
		for _, bar := range multiBars[symbol] {
			inner[bar.Timestamp.Format(domain.DateLayout)] = bar.Close
		}
		series[symbol] = inner
	}
	return series, nil
}

// LoadBars fetches full daily OHLCV bars for the given symbols, suitable for
// persisting to the local bar store. Raw bars carry the traded prices; a
// second fully-adjusted request fills in AdjClose.
func (l *AlpacaLoader) LoadBars(ctx context.Context, symbols []string, start, end string) ([]domain.Bar, error) {
	startT, endT, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}

	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}

	raw, err := l.getMultiBars(ctx, upper, startT, endT, marketdata.Raw)
	if err != nil {
		return nil, err
	}
	adjusted, err := l.getMultiBars(ctx, upper, startT, endT, marketdata.All)
	if err != nil {
		return nil, err
	}

	adjClose := make(map[string]map[string]float64, len(adjusted))
	for symbol, bars := range adjusted {
		inner := make(map[string]float64, len(bars))
		for _, b := range bars {
			inner[b.Timestamp.Format(domain.DateLayout)] = b.Close
		}
		adjClose[symbol] = inner
	}

	var out []domain.Bar
	for _, symbol := range upper {
		for _, ab := range raw[symbol] {
			out = append(out, domain.Bar{
				Symbol:     symbol,
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				AdjClose:   adjClose[symbol][ab.Timestamp.Format(domain.DateLayout)],
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return out, nil
}

func (l *AlpacaLoader) getMultiBars(ctx context.Context, symbols []string, start, end time.Time, adj marketdata.Adjustment) (map[string][]marketdata.Bar, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		End:        end,
		Feed:       "sip",
		Adjustment: adj,
	}
	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var reqErr error
		multiBars, reqErr = l.client.GetMultiBars(symbols, req)
		if reqErr != nil {
			l.log.Warn("GetMultiBars failed", "error", reqErr)
		}
		return reqErr
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}
	return multiBars, nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	startT, err := time.Parse(domain.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start date %q: %w", start, err)
	}
	endT, err := time.Parse(domain.DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end date %q: %w", end, err)
	}
	if endT.Before(startT) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return startT, endT, nil
}
