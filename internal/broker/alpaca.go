package broker

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"riskpilot/internal/config"
	"riskpilot/internal/types"
)

// Alpaca adapts the Alpaca equities API to the Broker interface. Equities
// only; all account values are already in the account base currency.
type Alpaca struct {
	client *alpaca.Client
}

func NewAlpaca(cfg config.AlpacaConfig) *Alpaca {
	return &Alpaca{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
	}
}

func (a *Alpaca) SubmitOrder(_ context.Context, order types.Order) (types.Order, error) {
	qty := decimal.NewFromFloat(order.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:      order.Symbol,
		Qty:         &qty,
		Side:        alpacaSide(order.Side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if order.Side == types.OrderBuy && order.StopLoss > 0 && order.TakeProfit > 0 {
		stop := decimal.NewFromFloat(order.StopLoss)
		take := decimal.NewFromFloat(order.TakeProfit)
		req.OrderClass = alpaca.Bracket
		req.StopLoss = &alpaca.StopLoss{StopPrice: &stop}
		req.TakeProfit = &alpaca.TakeProfit{LimitPrice: &take}
	}

	placed, err := a.client.PlaceOrder(req)
	if err != nil {
		order.Status = types.OrderRejected
		return order, fmt.Errorf("alpaca place order: %w", err)
	}
	order.VenueID = placed.ID
	if placed.FilledAvgPrice != nil && placed.FilledAt != nil {
		px, _ := placed.FilledAvgPrice.Float64()
		order.Fill(px, *placed.FilledAt)
	}
	return order, nil
}

func (a *Alpaca) CancelOrder(_ context.Context, id string) (bool, error) {
	if err := a.client.CancelOrder(id); err != nil {
		return false, fmt.Errorf("alpaca cancel order %s: %w", id, err)
	}
	return true, nil
}

func (a *Alpaca) GetPositions(_ context.Context) (map[string]types.Position, error) {
	raw, err := a.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca get positions: %w", err)
	}
	out := make(map[string]types.Position, len(raw))
	for _, p := range raw {
		qty, _ := p.Qty.Float64()
		if qty <= 0 {
			continue
		}
		entry, _ := p.AvgEntryPrice.Float64()
		current := entry
		if p.CurrentPrice != nil {
			current, _ = p.CurrentPrice.Float64()
		}
		out[p.Symbol] = types.Position{
			Symbol:        p.Symbol,
			Quantity:      qty,
			AvgEntryPrice: entry,
			CurrentPrice:  current,
		}
	}
	return out, nil
}

func (a *Alpaca) GetPortfolioValue(_ context.Context) (float64, error) {
	acct, err := a.client.GetAccount()
	if err != nil {
		return 0, fmt.Errorf("alpaca get account: %w", err)
	}
	v, _ := acct.Equity.Float64()
	return v, nil
}

func (a *Alpaca) GetCash(_ context.Context) (float64, error) {
	acct, err := a.client.GetAccount()
	if err != nil {
		return 0, fmt.Errorf("alpaca get account: %w", err)
	}
	v, _ := acct.Cash.Float64()
	return v, nil
}

func (a *Alpaca) GetSymbolCurrency(_ context.Context, _ string) (string, error) {
	return a.GetAccountBaseCurrency(context.Background())
}

func (a *Alpaca) GetAccountBaseCurrency(_ context.Context) (string, error) {
	acct, err := a.client.GetAccount()
	if err != nil {
		return "", fmt.Errorf("alpaca get account: %w", err)
	}
	return acct.Currency, nil
}

func alpacaSide(side types.OrderSide) alpaca.Side {
	if side == types.OrderSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}
