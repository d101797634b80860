package broker

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"quantdesk/internal/domain"
)

// AlpacaBroker implements Broker against the Alpaca trading API.
type AlpacaBroker struct {
	client *alpaca.Client
}

var _ Broker = (*AlpacaBroker)(nil)

// NewAlpacaBroker creates a broker backed by the Alpaca trading API.
// baseURL selects paper vs live trading.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

func (b *AlpacaBroker) Name() string { return "alpaca" }

func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca GetAccount: %w", err)
	}
	return &domain.Account{
		ID:          acct.ID,
		Cash:        acct.Cash.InexactFloat64(),
		Equity:      acct.Equity.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		Currency:    acct.Currency,
	}, nil
}

func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	positions, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca GetPositions: %w", err)
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, domain.Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty.InexactFloat64(),
			Side:          domain.PositionSide(p.Side),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
			MarketValue:   decimalPtrFloat(p.MarketValue),
			UnrealizedPL:  decimalPtrFloat(p.UnrealizedPL),
		})
	}
	return out, nil
}

func (b *AlpacaBroker) GetOrders(ctx context.Context, openOnly bool) ([]domain.Order, error) {
	status := "all"
	if openOnly {
		status = "open"
	}
	orders, err := b.client.GetOrders(alpaca.GetOrdersRequest{
		Status: status,
		Limit:  100,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetOrders: %w", err)
	}
	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, convertAlpacaOrder(&o))
	}
	return out, nil
}

func (b *AlpacaBroker) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (*domain.Order, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("order qty must be positive, got %v", qty)
	}
	q := decimal.NewFromFloat(qty)
	order, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &q,
		Side:        alpaca.Side(side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca PlaceOrder %s %s: %w", side, symbol, err)
	}
	converted := convertAlpacaOrder(order)
	return &converted, nil
}

func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca CancelOrder %s: %w", orderID, err)
	}
	return nil
}

func (b *AlpacaBroker) GetPortfolioHistory(ctx context.Context, period string) (*domain.PortfolioHistory, error) {
	hist, err := b.client.GetPortfolioHistory(alpaca.GetPortfolioHistoryRequest{
		Period:    period,
		TimeFrame: alpaca.Day1,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetPortfolioHistory: %w", err)
	}
	out := &domain.PortfolioHistory{
		Timestamps:    hist.Timestamp,
		Equity:        decimalsToFloats(hist.Equity),
		ProfitLoss:    decimalsToFloats(hist.ProfitLoss),
		ProfitLossPct: decimalsToFloats(hist.ProfitLossPct),
		BaseValue:     hist.BaseValue.InexactFloat64(),
	}
	return out, nil
}

func convertAlpacaOrder(o *alpaca.Order) domain.Order {
	out := domain.Order{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      domain.OrderSide(o.Side),
		Type:      string(o.Type),
		Status:    domain.OrderStatus(o.Status),
		FilledQty: o.FilledQty.InexactFloat64(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	if o.Qty != nil {
		out.Qty = o.Qty.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return out
}

func decimalPtrFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

func decimalsToFloats(ds []decimal.Decimal) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = d.InexactFloat64()
	}
	return out
}
