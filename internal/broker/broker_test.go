package broker

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quantdesk/internal/domain"
)

func TestSimulatorBuyAndAccount(t *testing.T) {
	b := NewSimulatorBroker(10000)
	b.SetPrice("AAPL", 100)

	order, err := b.SubmitMarketOrder(context.Background(), "AAPL", domain.OrderSideBuy, 10)
	if err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want filled", order.Status)
	}
	if order.FilledAvgPrice != 100 || order.FilledQty != 10 {
		t.Errorf("fill = %v @ %v, want 10 @ 100", order.FilledQty, order.FilledAvgPrice)
	}

	acct, err := b.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Cash != 9000 {
		t.Errorf("cash = %v, want 9000", acct.Cash)
	}
	if acct.Equity != 10000 {
		t.Errorf("equity = %v, want 10000", acct.Equity)
	}
}

func TestSimulatorPositionAveraging(t *testing.T) {
	b := NewSimulatorBroker(100000)
	ctx := context.Background()

	b.SetPrice("MSFT", 100)
	if _, err := b.SubmitMarketOrder(ctx, "MSFT", domain.OrderSideBuy, 10); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	b.SetPrice("MSFT", 200)
	if _, err := b.SubmitMarketOrder(ctx, "MSFT", domain.OrderSideBuy, 10); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	positions, err := b.GetPositions(ctx)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	pos := positions[0]
	if pos.Qty != 20 {
		t.Errorf("qty = %v, want 20", pos.Qty)
	}
	if math.Abs(pos.AvgEntryPrice-150) > 1e-9 {
		t.Errorf("avg entry = %v, want 150", pos.AvgEntryPrice)
	}
	if math.Abs(pos.MarketValue-4000) > 1e-9 {
		t.Errorf("market value = %v, want 4000", pos.MarketValue)
	}
	if math.Abs(pos.UnrealizedPL-1000) > 1e-9 {
		t.Errorf("unrealized PL = %v, want 1000", pos.UnrealizedPL)
	}
}

func TestSimulatorSellClosesPosition(t *testing.T) {
	b := NewSimulatorBroker(10000)
	ctx := context.Background()

	b.SetPrice("NVDA", 50)
	if _, err := b.SubmitMarketOrder(ctx, "NVDA", domain.OrderSideBuy, 100); err != nil {
		t.Fatalf("buy: %v", err)
	}
	b.SetPrice("NVDA", 60)
	if _, err := b.SubmitMarketOrder(ctx, "NVDA", domain.OrderSideSell, 100); err != nil {
		t.Fatalf("sell: %v", err)
	}

	positions, _ := b.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("got %d positions after full exit, want 0", len(positions))
	}
	acct, _ := b.GetAccount(ctx)
	if acct.Cash != 11000 {
		t.Errorf("cash = %v, want 11000", acct.Cash)
	}
}

func TestSimulatorRejections(t *testing.T) {
	b := NewSimulatorBroker(100)
	ctx := context.Background()
	b.SetPrice("AAPL", 100)

	if _, err := b.SubmitMarketOrder(ctx, "AAPL", domain.OrderSideBuy, 5); err == nil {
		t.Error("expected insufficient cash error")
	} else if !strings.Contains(err.Error(), "insufficient cash") {
		t.Errorf("err = %v, want insufficient cash", err)
	}

	if _, err := b.SubmitMarketOrder(ctx, "AAPL", domain.OrderSideSell, 1); err == nil {
		t.Error("expected insufficient shares error")
	}

	if _, err := b.SubmitMarketOrder(ctx, "UNKNOWN", domain.OrderSideBuy, 1); err == nil {
		t.Error("expected no-price error")
	}

	if _, err := b.SubmitMarketOrder(ctx, "AAPL", domain.OrderSideBuy, 0); err == nil {
		t.Error("expected qty validation error")
	}

	// rejected attempts are recorded in order history
	orders, err := b.GetOrders(ctx, false)
	if err != nil {
		t.Fatalf("GetOrders: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("got %d orders, want 3 recorded rejections", len(orders))
	}
	for _, o := range orders {
		if o.Status != domain.OrderStatusRejected {
			t.Errorf("order %s status = %s, want rejected", o.ID, o.Status)
		}
	}
}

func TestSimulatorOrderHistoryNewestFirst(t *testing.T) {
	b := NewSimulatorBroker(100000)
	ctx := context.Background()
	b.SetPrice("AAPL", 10)
	b.SetPrice("MSFT", 10)

	if _, err := b.SubmitMarketOrder(ctx, "AAPL", domain.OrderSideBuy, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SubmitMarketOrder(ctx, "MSFT", domain.OrderSideBuy, 1); err != nil {
		t.Fatal(err)
	}

	orders, err := b.GetOrders(ctx, false)
	if err != nil {
		t.Fatalf("GetOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(orders))
	}
	if orders[0].Symbol != "MSFT" || orders[1].Symbol != "AAPL" {
		t.Errorf("order = [%s, %s], want newest first [MSFT, AAPL]", orders[0].Symbol, orders[1].Symbol)
	}

	// market orders fill immediately, so nothing is open
	open, _ := b.GetOrders(ctx, true)
	if len(open) != 0 {
		t.Errorf("got %d open orders, want 0", len(open))
	}
}

func TestSimulatorCancelFilledOrder(t *testing.T) {
	b := NewSimulatorBroker(1000)
	ctx := context.Background()
	b.SetPrice("AAPL", 10)

	order, err := b.SubmitMarketOrder(ctx, "AAPL", domain.OrderSideBuy, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.CancelOrder(ctx, order.ID); err == nil {
		t.Error("expected error cancelling a filled order")
	}
	if err := b.CancelOrder(ctx, "missing"); err == nil {
		t.Error("expected error cancelling unknown order")
	}
}

func TestSimulatorPortfolioHistory(t *testing.T) {
	b := NewSimulatorBroker(10000)
	ctx := context.Background()

	b.Snapshot()
	b.SetPrice("AAPL", 100)
	if _, err := b.SubmitMarketOrder(ctx, "AAPL", domain.OrderSideBuy, 50); err != nil {
		t.Fatal(err)
	}
	b.SetPrice("AAPL", 120)
	b.Snapshot()

	hist, err := b.GetPortfolioHistory(ctx, "1M")
	if err != nil {
		t.Fatalf("GetPortfolioHistory: %v", err)
	}
	if len(hist.Equity) != 3 {
		t.Fatalf("got %d history points, want 3", len(hist.Equity))
	}
	if hist.BaseValue != 10000 {
		t.Errorf("base value = %v, want 10000", hist.BaseValue)
	}
	if hist.Equity[0] != 10000 {
		t.Errorf("initial equity = %v, want 10000", hist.Equity[0])
	}
	// 50 shares marked up 20 each
	if math.Abs(hist.Equity[2]-11000) > 1e-9 {
		t.Errorf("final equity = %v, want 11000", hist.Equity[2])
	}
	if math.Abs(hist.ProfitLossPct[2]-0.1) > 1e-9 {
		t.Errorf("final PL pct = %v, want 0.1", hist.ProfitLossPct[2])
	}
	if len(hist.Timestamps) != 3 || len(hist.ProfitLoss) != 3 {
		t.Errorf("history series lengths mismatch: %d timestamps, %d PL",
			len(hist.Timestamps), len(hist.ProfitLoss))
	}
}

func TestAlpacaPortfolioHistoryRequest(t *testing.T) {
	var gotPath, gotPeriod, gotTimeframe string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPeriod = r.URL.Query().Get("period")
		gotTimeframe = r.URL.Query().Get("timeframe")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"timestamp": [1704171600, 1704258000],
			"equity": [10000, 10100],
			"profit_loss": [0, 100],
			"profit_loss_pct": [0, 0.01],
			"base_value": 10000
		}`)
	}))
	defer srv.Close()

	b := NewAlpacaBroker("key", "secret", srv.URL)
	hist, err := b.GetPortfolioHistory(context.Background(), "1M")
	if err != nil {
		t.Fatalf("GetPortfolioHistory: %v", err)
	}

	if !strings.HasSuffix(gotPath, "/account/portfolio/history") {
		t.Errorf("path = %q", gotPath)
	}
	if gotPeriod != "1M" {
		t.Errorf("period = %q, want 1M", gotPeriod)
	}
	// Daily resolution on the wire.
	if gotTimeframe != "1D" {
		t.Errorf("timeframe = %q, want 1D", gotTimeframe)
	}
	if len(hist.Timestamps) != 2 || hist.BaseValue != 10000 {
		t.Errorf("history = %+v", hist)
	}
	if math.Abs(hist.Equity[1]-10100) > 1e-9 || math.Abs(hist.ProfitLossPct[1]-0.01) > 1e-9 {
		t.Errorf("series = %v / %v", hist.Equity, hist.ProfitLossPct)
	}
}

func TestBrokerNames(t *testing.T) {
	if got := NewSimulatorBroker(0).Name(); got != "simulator" {
		t.Errorf("simulator Name() = %q", got)
	}
	if got := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets").Name(); got != "alpaca" {
		t.Errorf("alpaca Name() = %q", got)
	}
}
