package types

import (
	"fmt"
	"time"
)

// Bar is one OHLCV sample for a symbol over an interval. Immutable once produced.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate rejects bars whose timestamp carries no explicit UTC offset
// (a zero time has no location worth trusting either).
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar: symbol is required")
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar %s: timestamp is zero", b.Symbol)
	}
	if b.Timestamp.Location() == nil {
		return fmt.Errorf("bar %s: timestamp has no location", b.Symbol)
	}
	return nil
}

// UTC returns a copy of the bar with the timestamp normalized to UTC.
func (b Bar) UTC() Bar {
	b.Timestamp = b.Timestamp.UTC()
	return b
}
