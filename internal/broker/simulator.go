package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quantdesk/internal/domain"
)

// SimulatorBroker is an in-memory paper broker. Market orders fill
// immediately at the last known price for the symbol. Prices are fed in
// via SetPrice (e.g. from the data loader or a test).
type SimulatorBroker struct {
	mu        sync.Mutex
	cash      float64
	baseValue float64
	prices    map[string]float64
	positions map[string]*domain.Position
	orders    []domain.Order
	history   domain.PortfolioHistory
	nextID    int
	now       func() time.Time
}

var _ Broker = (*SimulatorBroker)(nil)

// NewSimulatorBroker creates a paper broker with the given starting cash.
func NewSimulatorBroker(startingCash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      startingCash,
		baseValue: startingCash,
		prices:    make(map[string]float64),
		positions: make(map[string]*domain.Position),
		now:       time.Now,
	}
}

func (b *SimulatorBroker) Name() string { return "simulator" }

// SetPrice updates the mark price used for fills and position valuation.
func (b *SimulatorBroker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
	b.revalueLocked()
}

func (b *SimulatorBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &domain.Account{
		ID:          "simulator",
		Cash:        b.cash,
		Equity:      b.equityLocked(),
		BuyingPower: b.cash,
		Currency:    "USD",
	}, nil
}

func (b *SimulatorBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	symbols := make([]string, 0, len(b.positions))
	for sym := range b.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	out := make([]domain.Position, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, *b.positions[sym])
	}
	return out, nil
}

func (b *SimulatorBroker) GetOrders(ctx context.Context, openOnly bool) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Order, 0, len(b.orders))
	for i := len(b.orders) - 1; i >= 0; i-- {
		o := b.orders[i]
		if openOnly && o.Status != domain.OrderStatusNew {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (b *SimulatorBroker) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (*domain.Order, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("order qty must be positive, got %v", qty)
	}
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return nil, fmt.Errorf("unknown order side %q", side)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.nextID++
	order := domain.Order{
		ID:        fmt.Sprintf("sim-%d", b.nextID),
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		Type:      "market",
		CreatedAt: now,
		UpdatedAt: now,
	}

	price, ok := b.prices[symbol]
	if !ok || price <= 0 {
		order.Status = domain.OrderStatusRejected
		b.orders = append(b.orders, order)
		return nil, fmt.Errorf("no price available for %s", symbol)
	}

	if err := b.fillLocked(symbol, side, qty, price); err != nil {
		order.Status = domain.OrderStatusRejected
		b.orders = append(b.orders, order)
		return nil, err
	}

	order.Status = domain.OrderStatusFilled
	order.FilledQty = qty
	order.FilledAvgPrice = price
	b.orders = append(b.orders, order)
	b.revalueLocked()
	b.snapshotLocked(now)
	return &order, nil
}

func (b *SimulatorBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.orders {
		if b.orders[i].ID != orderID {
			continue
		}
		if b.orders[i].Status != domain.OrderStatusNew {
			return fmt.Errorf("order %s is %s, cannot cancel", orderID, b.orders[i].Status)
		}
		b.orders[i].Status = domain.OrderStatusCancelled
		b.orders[i].UpdatedAt = b.now()
		return nil
	}
	return fmt.Errorf("order %s not found", orderID)
}

func (b *SimulatorBroker) GetPortfolioHistory(ctx context.Context, period string) (*domain.PortfolioHistory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := domain.PortfolioHistory{
		Timestamps:    append([]int64(nil), b.history.Timestamps...),
		Equity:        append([]float64(nil), b.history.Equity...),
		ProfitLoss:    append([]float64(nil), b.history.ProfitLoss...),
		ProfitLossPct: append([]float64(nil), b.history.ProfitLossPct...),
		BaseValue:     b.baseValue,
	}
	return &out, nil
}

// Snapshot records the current equity into the portfolio history. The
// server calls this on a schedule; fills also record one automatically.
func (b *SimulatorBroker) Snapshot() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshotLocked(b.now())
}

// ---------------------------------------------------------------------------
// internals (callers hold b.mu)
// ---------------------------------------------------------------------------

func (b *SimulatorBroker) fillLocked(symbol string, side domain.OrderSide, qty, price float64) error {
	cost := qty * price
	pos := b.positions[symbol]

	if side == domain.OrderSideBuy {
		if cost > b.cash {
			return fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, b.cash)
		}
		b.cash -= cost
		if pos == nil {
			b.positions[symbol] = &domain.Position{
				Symbol:        symbol,
				Qty:           qty,
				Side:          domain.PositionSideLong,
				AvgEntryPrice: price,
			}
			return nil
		}
		total := pos.Qty + qty
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Qty + cost) / total
		pos.Qty = total
		return nil
	}

	// sell
	if pos == nil || pos.Qty < qty {
		have := 0.0
		if pos != nil {
			have = pos.Qty
		}
		return fmt.Errorf("insufficient shares of %s: selling %v, have %v", symbol, qty, have)
	}
	b.cash += cost
	pos.Qty -= qty
	if pos.Qty == 0 {
		delete(b.positions, symbol)
	}
	return nil
}

func (b *SimulatorBroker) revalueLocked() {
	for sym, pos := range b.positions {
		if price, ok := b.prices[sym]; ok {
			pos.MarketValue = pos.Qty * price
			pos.UnrealizedPL = (price - pos.AvgEntryPrice) * pos.Qty
		}
	}
}

func (b *SimulatorBroker) equityLocked() float64 {
	equity := b.cash
	for sym, pos := range b.positions {
		price, ok := b.prices[sym]
		if !ok {
			price = pos.AvgEntryPrice
		}
		equity += pos.Qty * price
	}
	return equity
}

func (b *SimulatorBroker) snapshotLocked(now time.Time) {
	equity := b.equityLocked()
	pl := equity - b.baseValue
	plPct := 0.0
	if b.baseValue > 0 {
		plPct = pl / b.baseValue
	}
	b.history.Timestamps = append(b.history.Timestamps, now.Unix())
	b.history.Equity = append(b.history.Equity, equity)
	b.history.ProfitLoss = append(b.history.ProfitLoss, pl)
	b.history.ProfitLossPct = append(b.history.ProfitLossPct, plPct)
}
