package types

import (
	"fmt"
	"time"
)

// SignalKind is a strategy's recommendation for a symbol.
type SignalKind string

const (
	SignalLong  SignalKind = "long"
	SignalClose SignalKind = "close"
	SignalHold  SignalKind = "hold"
)

// Signal is produced by a SignalGenerator and consumed exactly once by the
// risk manager. Strength scales position sizing.
type Signal struct {
	Symbol    string             `json:"symbol"`
	Kind      SignalKind         `json:"kind"`
	Strength  float64            `json:"strength"`
	Timestamp time.Time          `json:"timestamp"`
	Strategy  string             `json:"strategy"`
	Metadata  map[string]float64 `json:"metadata,omitempty"`
}

// NewSignal builds a signal, enforcing strength in [0,1] and a UTC timestamp.
func NewSignal(symbol string, kind SignalKind, strength float64, ts time.Time, strategy string) (Signal, error) {
	if symbol == "" {
		return Signal{}, fmt.Errorf("signal: symbol is required")
	}
	if strength < 0 || strength > 1 {
		return Signal{}, fmt.Errorf("signal %s: strength %.4f outside [0,1]", symbol, strength)
	}
	switch kind {
	case SignalLong, SignalClose, SignalHold:
	default:
		return Signal{}, fmt.Errorf("signal %s: unknown kind %q", symbol, kind)
	}
	return Signal{
		Symbol:    symbol,
		Kind:      kind,
		Strength:  strength,
		Timestamp: ts.UTC(),
		Strategy:  strategy,
	}, nil
}

// Meta returns a metadata value and whether it was present.
func (s Signal) Meta(key string) (float64, bool) {
	if s.Metadata == nil {
		return 0, false
	}
	v, ok := s.Metadata[key]
	return v, ok
}
