package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantdesk/internal/broker"
	"quantdesk/internal/domain"
)

func staticPrice(price float64) PriceFunc {
	return func(ctx context.Context, symbol string) (float64, error) {
		return price, nil
	}
}

func TestEngineSubmitPassesRiskCheck(t *testing.T) {
	b := broker.NewSimulatorBroker(100000)
	b.SetPrice("AAPL", 100)
	e := NewEngine(b, NewRiskManager(0.10, 0.05), staticPrice(100), nil)

	order, err := e.SubmitMarketOrder(context.Background(), "AAPL", domain.OrderSideBuy, 50)
	if err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want filled", order.Status)
	}
}

func TestEngineRejectsOversizedPosition(t *testing.T) {
	b := broker.NewSimulatorBroker(100000)
	b.SetPrice("AAPL", 100)
	e := NewEngine(b, NewRiskManager(0.10, 0), staticPrice(100), nil)

	// 200 shares at 100 = 20000 notional, above 10% of 100k equity.
	_, err := e.SubmitMarketOrder(context.Background(), "AAPL", domain.OrderSideBuy, 200)
	var rerr *RiskError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RiskError", err)
	}
	if rerr.Rule != "max_position" {
		t.Errorf("rule = %q, want max_position", rerr.Rule)
	}

	// Nothing reached the broker.
	orders, _ := b.GetOrders(context.Background(), false)
	if len(orders) != 0 {
		t.Errorf("broker saw %d orders, want 0", len(orders))
	}
}

func TestRiskCountsExistingExposure(t *testing.T) {
	b := broker.NewSimulatorBroker(100000)
	b.SetPrice("AAPL", 100)
	e := NewEngine(b, NewRiskManager(0.10, 0), staticPrice(100), nil)
	ctx := context.Background()

	// 80 shares = 8000, fine on its own.
	if _, err := e.SubmitMarketOrder(ctx, "AAPL", domain.OrderSideBuy, 80); err != nil {
		t.Fatalf("first order: %v", err)
	}
	// Another 80 would take the position to 16000, over the 10% cap.
	if _, err := e.SubmitMarketOrder(ctx, "AAPL", domain.OrderSideBuy, 80); err == nil {
		t.Error("expected rejection on combined exposure")
	}
	// A different symbol is still fine.
	b.SetPrice("MSFT", 100)
	if _, err := e.SubmitMarketOrder(ctx, "MSFT", domain.OrderSideBuy, 80); err != nil {
		t.Errorf("other symbol: %v", err)
	}
}

func TestRiskDailyLossHaltsBuys(t *testing.T) {
	rm := NewRiskManager(0, 0.02)
	rm.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	acct := &domain.Account{Equity: 100000}
	if err := rm.CheckOrder(acct, nil, "AAPL", domain.OrderSideBuy, 1, 100); err != nil {
		t.Fatalf("first check should set the baseline: %v", err)
	}

	// Down 3% on the day: buys halt, sells still pass.
	acct.Equity = 97000
	err := rm.CheckOrder(acct, nil, "AAPL", domain.OrderSideBuy, 1, 100)
	var rerr *RiskError
	if !errors.As(err, &rerr) || rerr.Rule != "daily_loss" {
		t.Fatalf("err = %v, want daily_loss RiskError", err)
	}
	if err := rm.CheckOrder(acct, nil, "AAPL", domain.OrderSideSell, 1, 100); err != nil {
		t.Errorf("sell should pass during halt: %v", err)
	}

	// Next day the baseline resets.
	rm.now = func() time.Time { return time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC) }
	if err := rm.CheckOrder(acct, nil, "AAPL", domain.OrderSideBuy, 1, 100); err != nil {
		t.Errorf("new day should reset the baseline: %v", err)
	}
}

func TestRiskDisabledRules(t *testing.T) {
	rm := NewRiskManager(0, 0)
	acct := &domain.Account{Equity: 1000}
	if err := rm.CheckOrder(acct, nil, "AAPL", domain.OrderSideBuy, 1e6, 100); err != nil {
		t.Errorf("disabled rules should pass everything: %v", err)
	}
}

func TestEngineDelegatesReads(t *testing.T) {
	b := broker.NewSimulatorBroker(5000)
	b.SetPrice("NVDA", 50)
	e := NewEngine(b, nil, staticPrice(50), nil)
	ctx := context.Background()

	if _, err := e.SubmitMarketOrder(ctx, "NVDA", domain.OrderSideBuy, 10); err != nil {
		t.Fatal(err)
	}
	acct, err := e.GetAccount(ctx)
	if err != nil || acct.Cash != 4500 {
		t.Errorf("GetAccount = %+v, %v; want cash 4500", acct, err)
	}
	positions, err := e.GetPositions(ctx)
	if err != nil || len(positions) != 1 {
		t.Errorf("GetPositions = %v, %v; want one position", positions, err)
	}
	orders, err := e.GetOrders(ctx, false)
	if err != nil || len(orders) != 1 {
		t.Errorf("GetOrders = %v, %v; want one order", orders, err)
	}
	hist, err := e.GetPortfolioHistory(ctx, "1M")
	if err != nil || len(hist.Equity) == 0 {
		t.Errorf("GetPortfolioHistory = %v, %v; want snapshots", hist, err)
	}
}
