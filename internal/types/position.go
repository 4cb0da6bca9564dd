package types

// Position is an open long holding. Quantity stays >= 0 while open; the
// holder removes the position once quantity reaches zero.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
}

// MarketValue values the position at its current mark.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// UnrealizedPnL is the open profit against the average entry.
func (p Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.AvgEntryPrice) * p.Quantity
}
