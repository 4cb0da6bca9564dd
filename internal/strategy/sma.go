package strategy

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"riskpilot/internal/types"
)

// SMACross signals long when the fast SMA crosses above the slow one and
// close on the cross back down. Strength grows with the relative spread
// between the averages; ATR rides along in the metadata so the risk manager
// can place volatility stops.
type SMACross struct {
	name       string
	fastPeriod int
	slowPeriod int
	atrPeriod  int
}

func NewSMACross(fast, slow, atrPeriod int) (*SMACross, error) {
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("sma cross: need 0 < fast < slow, got %d/%d", fast, slow)
	}
	if atrPeriod <= 0 {
		atrPeriod = 14
	}
	return &SMACross{
		name:       fmt.Sprintf("sma_cross_%d_%d", fast, slow),
		fastPeriod: fast,
		slowPeriod: slow,
		atrPeriod:  atrPeriod,
	}, nil
}

func (s *SMACross) Name() string { return s.name }

func (s *SMACross) OnBar(history []types.Bar) (*types.Signal, error) {
	need := s.slowPeriod + 1
	if s.atrPeriod+1 > need {
		need = s.atrPeriod + 1
	}
	if len(history) < need {
		return nil, nil
	}

	cl := closes(history)
	fast := talib.Sma(cl, s.fastPeriod)
	slow := talib.Sma(cl, s.slowPeriod)
	last := len(cl) - 1

	fastNow, fastPrev := fast[last], fast[last-1]
	slowNow, slowPrev := slow[last], slow[last-1]
	if slowNow == 0 || slowPrev == 0 {
		return nil, nil
	}

	bar := history[last]
	crossedUp := fastPrev <= slowPrev && fastNow > slowNow
	crossedDown := fastPrev >= slowPrev && fastNow < slowNow

	switch {
	case crossedUp:
		spread := (fastNow - slowNow) / slowNow
		strength := math.Min(1, math.Max(0.1, spread*100))
		sig, err := types.NewSignal(bar.Symbol, types.SignalLong, strength, bar.Timestamp, s.name)
		if err != nil {
			return nil, err
		}
		atr := talib.Atr(highs(history), lows(history), cl, s.atrPeriod)
		sig.Metadata = map[string]float64{
			"atr":  atr[last],
			"fast": fastNow,
			"slow": slowNow,
		}
		return &sig, nil
	case crossedDown:
		sig, err := types.NewSignal(bar.Symbol, types.SignalClose, 0, bar.Timestamp, s.name)
		if err != nil {
			return nil, err
		}
		return &sig, nil
	default:
		return nil, nil
	}
}
