package types

import (
	"time"

	"github.com/google/uuid"
)

type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Order is created by the risk manager and mutated by broker/fill logic.
// Filled, Cancelled and Rejected are terminal.
type Order struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Quantity    float64     `json:"quantity"`
	StopLoss    float64     `json:"stop_loss,omitempty"`
	TakeProfit  float64     `json:"take_profit,omitempty"`
	Status      OrderStatus `json:"status"`
	VenueID     string      `json:"venue_id,omitempty"`
	Strategy    string      `json:"strategy,omitempty"`
	SignalPrice float64     `json:"signal_price,omitempty"`
	FilledPrice float64     `json:"filled_price,omitempty"`
	FilledAt    time.Time   `json:"filled_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func NewOrder(symbol string, side OrderSide, qty float64) Order {
	return Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Status:    OrderPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Fill marks the order filled at the given price. The fill time is stored in UTC.
func (o *Order) Fill(price float64, at time.Time) {
	o.Status = OrderFilled
	o.FilledPrice = price
	o.FilledAt = at.UTC()
}

func (o Order) Terminal() bool {
	switch o.Status {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}
