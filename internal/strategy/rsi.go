package strategy

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"riskpilot/internal/types"
)

// RSIReversion buys oversold extremes and closes once RSI recovers past the
// exit level. Mean-reversion complement to the trend-following SMA cross.
type RSIReversion struct {
	name      string
	period    int
	oversold  float64
	exitLevel float64
}

func NewRSIReversion(period int, oversold, exitLevel float64) (*RSIReversion, error) {
	if period <= 0 {
		period = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	if exitLevel <= oversold {
		exitLevel = 55
	}
	if oversold >= 100 || exitLevel > 100 {
		return nil, fmt.Errorf("rsi reversion: levels out of range: oversold %.1f exit %.1f", oversold, exitLevel)
	}
	return &RSIReversion{
		name:      fmt.Sprintf("rsi_reversion_%d", period),
		period:    period,
		oversold:  oversold,
		exitLevel: exitLevel,
	}, nil
}

func (r *RSIReversion) Name() string { return r.name }

func (r *RSIReversion) OnBar(history []types.Bar) (*types.Signal, error) {
	if len(history) < r.period+1 {
		return nil, nil
	}
	series := talib.Rsi(closes(history), r.period)
	last := len(series) - 1
	val := series[last]
	if math.IsNaN(val) {
		return nil, nil
	}
	bar := history[last]

	switch {
	case val < r.oversold:
		// Deeper oversold reads as a stronger entry.
		strength := math.Min(1, (r.oversold-val)/r.oversold+0.3)
		sig, err := types.NewSignal(bar.Symbol, types.SignalLong, strength, bar.Timestamp, r.name)
		if err != nil {
			return nil, err
		}
		sig.Metadata = map[string]float64{"rsi": val}
		return &sig, nil
	case val > r.exitLevel:
		sig, err := types.NewSignal(bar.Symbol, types.SignalClose, 0, bar.Timestamp, r.name)
		if err != nil {
			return nil, err
		}
		sig.Metadata = map[string]float64{"rsi": val}
		return &sig, nil
	default:
		return nil, nil
	}
}
