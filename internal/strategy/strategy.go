package strategy

import (
	"riskpilot/internal/types"
)

// SignalGenerator turns bar history into at most one signal. History is
// ordered oldest first and ends with the current bar; implementations must
// not look past the final element.
type SignalGenerator interface {
	Name() string
	OnBar(history []types.Bar) (*types.Signal, error)
}

func closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highs(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lows(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}
