// Package broker abstracts the brokerage surface the dashboard needs:
// account state, open positions, order flow and equity history. The live
// implementation talks to Alpaca; the simulator is an in-memory paper
// broker used for testing and paper mode.
package broker

import (
	"context"

	"quantdesk/internal/domain"
)

// Broker is the brokerage operations the server exposes.
type Broker interface {
	// Name identifies the implementation ("alpaca", "simulator").
	Name() string

	// GetAccount returns the current account snapshot.
	GetAccount(ctx context.Context) (*domain.Account, error)

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetOrders returns recent orders, newest first. When openOnly is
	// set only orders that are still working are returned.
	GetOrders(ctx context.Context, openOnly bool) ([]domain.Order, error)

	// SubmitMarketOrder places a day market order for qty shares.
	SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (*domain.Order, error)

	// CancelOrder cancels a working order by ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetPortfolioHistory returns the account equity time series for a
	// period such as "1M", "3M" or "1A".
	GetPortfolioHistory(ctx context.Context, period string) (*domain.PortfolioHistory, error)
}
