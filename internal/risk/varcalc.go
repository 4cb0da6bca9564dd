package risk

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// minVarSamples is how many return observations the gate needs before it
// starts vetoing orders; below this the estimate is noise.
const minVarSamples = 10

// returnWindow keeps the most recent N portfolio returns for the VaR gate.
// Touched only from the bar-processing call path, so no lock.
type returnWindow struct {
	size    int
	returns []float64
}

func newReturnWindow(size int) *returnWindow {
	if size <= 0 {
		size = 1
	}
	return &returnWindow{size: size}
}

func (w *returnWindow) Add(r float64) {
	w.returns = append(w.returns, r)
	if len(w.returns) > w.size {
		w.returns = w.returns[len(w.returns)-w.size:]
	}
}

func (w *returnWindow) Len() int { return len(w.returns) }

// VaR95 is the 95% historical value-at-risk of the windowed returns,
// expressed as a positive loss fraction. Zero until minVarSamples observations.
func (w *returnWindow) VaR95() float64 {
	if len(w.returns) < minVarSamples {
		return 0
	}
	sorted := append([]float64(nil), w.returns...)
	sort.Float64s(sorted)
	q := stat.Quantile(0.05, stat.Empirical, sorted, nil)
	if q >= 0 {
		return 0
	}
	return -q
}
