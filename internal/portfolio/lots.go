package portfolio

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a single buy parcel. Quantities and prices are decimal so that
// realized PnL from partial fills does not accumulate float drift.
type Lot struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
	At       time.Time
}

// LotBook tracks open buy lots per symbol and realizes PnL oldest-lot-first.
type LotBook struct {
	lots map[string][]Lot
}

func NewLotBook() *LotBook {
	return &LotBook{lots: make(map[string][]Lot)}
}

// Buy appends a new lot for the symbol.
func (b *LotBook) Buy(symbol string, qty, price float64, at time.Time) {
	b.lots[symbol] = append(b.lots[symbol], Lot{
		Quantity: decimal.NewFromFloat(qty),
		Price:    decimal.NewFromFloat(price),
		At:       at.UTC(),
	})
}

// Sell consumes lots front-to-back and returns the realized PnL of the
// matched quantity. Selling more than is held is an error; the book is left
// untouched in that case.
func (b *LotBook) Sell(symbol string, qty, price float64) (float64, error) {
	remaining := decimal.NewFromFloat(qty)
	if remaining.Sign() <= 0 {
		return 0, fmt.Errorf("sell quantity %v not positive", qty)
	}
	if b.Quantity(symbol).LessThan(remaining) {
		return 0, fmt.Errorf("sell %v %s exceeds held %v", qty, symbol, b.Quantity(symbol))
	}
	sellPx := decimal.NewFromFloat(price)
	realized := decimal.Zero
	queue := b.lots[symbol]
	for len(queue) > 0 && remaining.Sign() > 0 {
		lot := queue[0]
		matched := decimal.Min(lot.Quantity, remaining)
		realized = realized.Add(sellPx.Sub(lot.Price).Mul(matched))
		remaining = remaining.Sub(matched)
		if lot.Quantity.Equal(matched) {
			queue = queue[1:]
		} else {
			queue[0].Quantity = lot.Quantity.Sub(matched)
		}
	}
	if len(queue) == 0 {
		delete(b.lots, symbol)
	} else {
		b.lots[symbol] = queue
	}
	f, _ := realized.Float64()
	return f, nil
}

// Quantity returns the total open quantity across lots.
func (b *LotBook) Quantity(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.lots[symbol] {
		total = total.Add(lot.Quantity)
	}
	return total
}

// AvgEntry returns the quantity-weighted average entry price, or 0 when flat.
func (b *LotBook) AvgEntry(symbol string) float64 {
	qty := b.Quantity(symbol)
	if qty.Sign() == 0 {
		return 0
	}
	cost := decimal.Zero
	for _, lot := range b.lots[symbol] {
		cost = cost.Add(lot.Price.Mul(lot.Quantity))
	}
	f, _ := cost.Div(qty).Float64()
	return f
}

// Symbols lists symbols with open lots.
func (b *LotBook) Symbols() []string {
	out := make([]string, 0, len(b.lots))
	for s := range b.lots {
		out = append(out, s)
	}
	return out
}
