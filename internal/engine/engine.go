// Package engine sits between the API layer and the broker: every order
// passes a pre-trade risk check before it is forwarded for execution.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"quantdesk/internal/broker"
	"quantdesk/internal/domain"
)

// PriceFunc returns the latest known price for a symbol, used to
// estimate the notional of a market order before submission.
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

// Engine orchestrates order flow: risk check first, then delegate to the
// broker. Read operations pass straight through.
type Engine struct {
	broker broker.Broker
	risk   *RiskManager
	price  PriceFunc
	log    *slog.Logger
}

// NewEngine creates an Engine wired with the given dependencies.
func NewEngine(b broker.Broker, risk *RiskManager, price PriceFunc, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{broker: b, risk: risk, price: price, log: log}
}

// SubmitMarketOrder runs the pre-trade risk check and forwards the order
// to the broker.
func (e *Engine) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (*domain.Order, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("order qty must be positive, got %v", qty)
	}
	if e.price == nil {
		return nil, fmt.Errorf("no price source configured")
	}

	price, err := e.price(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("looking up price for %s: %w", symbol, err)
	}
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	if e.risk != nil {
		if err := e.risk.CheckOrder(acct, positions, symbol, side, qty, price); err != nil {
			e.log.Warn("order rejected by risk check",
				"symbol", symbol, "side", side, "qty", qty, "error", err)
			return nil, err
		}
	}

	order, err := e.broker.SubmitMarketOrder(ctx, symbol, side, qty)
	if err != nil {
		return nil, err
	}
	e.log.Info("order submitted",
		"id", order.ID, "symbol", symbol, "side", side, "qty", qty, "broker", e.broker.Name())
	return order, nil
}

// CancelOrder requests cancellation of a working order.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	return e.broker.CancelOrder(ctx, orderID)
}

// GetAccount returns the current account snapshot.
func (e *Engine) GetAccount(ctx context.Context) (*domain.Account, error) {
	return e.broker.GetAccount(ctx)
}

// GetPositions returns all open positions.
func (e *Engine) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return e.broker.GetPositions(ctx)
}

// GetOrders returns recent orders, newest first.
func (e *Engine) GetOrders(ctx context.Context, openOnly bool) ([]domain.Order, error) {
	return e.broker.GetOrders(ctx, openOnly)
}

// GetPortfolioHistory returns the account equity time series.
func (e *Engine) GetPortfolioHistory(ctx context.Context, period string) (*domain.PortfolioHistory, error) {
	return e.broker.GetPortfolioHistory(ctx, period)
}
