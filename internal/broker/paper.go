package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskpilot/internal/types"
)

// Paper is an in-process broker simulator. Orders fill immediately at the
// submitted signal price; cash and positions are tracked locally. Used by
// paper mode and as the test double for the live pipeline.
type Paper struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]types.Position
	prices    map[string]float64
	now       func() time.Time
}

func NewPaper(initialCash float64) *Paper {
	return &Paper{
		cash:      initialCash,
		positions: make(map[string]types.Position),
		prices:    make(map[string]float64),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MarkPrice updates the simulator's last-seen price for a symbol; the live
// pipeline calls this from each bar so valuations track the market.
func (p *Paper) MarkPrice(sym string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[sym] = price
	if pos, ok := p.positions[sym]; ok {
		pos.CurrentPrice = price
		p.positions[sym] = pos
	}
}

func (p *Paper) SubmitOrder(_ context.Context, order types.Order) (types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := order.SignalPrice
	if price <= 0 {
		price = p.prices[order.Symbol]
	}
	if price <= 0 {
		order.Status = types.OrderRejected
		return order, fmt.Errorf("no price available for %s", order.Symbol)
	}

	switch order.Side {
	case types.OrderBuy:
		cost := order.Quantity * price
		if cost > p.cash {
			order.Status = types.OrderRejected
			return order, fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, p.cash)
		}
		p.cash -= cost
		pos := p.positions[order.Symbol]
		totalQty := pos.Quantity + order.Quantity
		pos.Symbol = order.Symbol
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*order.Quantity) / totalQty
		pos.Quantity = totalQty
		pos.CurrentPrice = price
		p.positions[order.Symbol] = pos

	case types.OrderSell:
		pos, ok := p.positions[order.Symbol]
		if !ok || pos.Quantity < order.Quantity {
			order.Status = types.OrderRejected
			return order, fmt.Errorf("insufficient position in %s", order.Symbol)
		}
		p.cash += order.Quantity * price
		pos.Quantity -= order.Quantity
		if pos.Quantity <= 0 {
			delete(p.positions, order.Symbol)
		} else {
			pos.CurrentPrice = price
			p.positions[order.Symbol] = pos
		}
	}

	order.Fill(price, p.now())
	return order, nil
}

func (p *Paper) CancelOrder(_ context.Context, _ string) (bool, error) {
	// Fills are immediate; there is never a resting order to cancel.
	return false, nil
}

func (p *Paper) GetPositions(_ context.Context) (map[string]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]types.Position, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = pos
	}
	return out, nil
}

func (p *Paper) GetPortfolioValue(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.cash
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total, nil
}

func (p *Paper) GetCash(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}
