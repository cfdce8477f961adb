package tracking

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// CnrWindow is the number of epochs per C/N0 estimate.
const CnrWindow = 5

// EstimateCNR computes a moment-based (M2/M4) carrier-to-noise-density
// series over consecutive windows of prompt correlator output. tint is the
// coherent integration time in seconds.
//
// The estimator's radicand 2*M2^2 - M4 goes negative in heavy noise or for
// degenerate windows; such windows report NaN ("C/N0 undefined") rather
// than a silently clamped value. Trailing epochs short of a full window
// are dropped.
func EstimateCNR(records []Record, window int, tint float64) []float64 {
	if window <= 0 || len(records) < window {
		return nil
	}
	p2 := make([]float64, window)
	p4 := make([]float64, window)
	out := make([]float64, 0, len(records)/window)
	for start := 0; start+window <= len(records); start += window {
		for i := 0; i < window; i++ {
			r := records[start+i]
			p := r.IP*r.IP + r.QP*r.QP
			p2[i] = p
			p4[i] = p * p
		}
		m2 := stat.Mean(p2, nil)
		m4 := stat.Mean(p4, nil)
		out = append(out, cnrFromMoments(m2, m4, tint))
	}
	return out
}

func cnrFromMoments(m2, m4, tint float64) float64 {
	radicand := 2*m2*m2 - m4
	if radicand < 0 {
		return math.NaN()
	}
	pd := math.Sqrt(radicand) // carrier power
	pn := m2 - pd             // noise power
	if pn <= 0 {
		return math.NaN()
	}
	return 10 * math.Log10(pd/pn/tint)
}
