package risk

import (
	"gonum.org/v1/gonum/stat"
)

// CorrelationSource answers pairwise correlation lookups. Read-only after
// construction; freely shared.
type CorrelationSource interface {
	Correlation(a, b string) (float64, bool)
}

// SectorSource maps a symbol to its sector. Read-only after construction.
type SectorSource interface {
	Sector(symbol string) (string, bool)
}

// StaticCorrelation is an in-memory symmetric correlation matrix.
type StaticCorrelation struct {
	pairs map[[2]string]float64
}

func NewStaticCorrelation() *StaticCorrelation {
	return &StaticCorrelation{pairs: make(map[[2]string]float64)}
}

func (c *StaticCorrelation) Set(a, b string, corr float64) {
	c.pairs[pairKey(a, b)] = corr
}

func (c *StaticCorrelation) Correlation(a, b string) (float64, bool) {
	if a == b {
		return 1, true
	}
	v, ok := c.pairs[pairKey(a, b)]
	return v, ok
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// CorrelationFromReturns builds the matrix from aligned per-symbol return
// series. Symbols with mismatched lengths are skipped pairwise.
func CorrelationFromReturns(returns map[string][]float64) *StaticCorrelation {
	out := NewStaticCorrelation()
	symbols := make([]string, 0, len(returns))
	for s := range returns {
		symbols = append(symbols, s)
	}
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			a, b := returns[symbols[i]], returns[symbols[j]]
			if len(a) == 0 || len(a) != len(b) {
				continue
			}
			out.Set(symbols[i], symbols[j], stat.Correlation(a, b, nil))
		}
	}
	return out
}

// StaticSectors is an in-memory symbol to sector map.
type StaticSectors map[string]string

func (s StaticSectors) Sector(symbol string) (string, bool) {
	sec, ok := s[symbol]
	return sec, ok
}
