package tracking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordsFromPrompt(ip []float64) []Record {
	records := make([]Record, len(ip))
	for i, v := range ip {
		records[i].IP = v
	}
	return records
}

func TestEstimateCNRFiniteForVaryingSignal(t *testing.T) {
	// Moderate power spread inside the window keeps the M2/M4
	// moments well-conditioned.
	records := recordsFromPrompt([]float64{3, 1, 3, 1, 3})
	cnr := EstimateCNR(records, CnrWindow, 1e-3)
	require.Len(t, cnr, 1)
	assert.False(t, math.IsNaN(cnr[0]))
	assert.Greater(t, cnr[0], 0.0)
}

// A constant noiseless prompt makes the estimated noise power zero; the
// estimator reports that as undefined rather than an infinite ratio.
func TestEstimateCNRUndefinedForConstantSignal(t *testing.T) {
	records := recordsFromPrompt([]float64{5, 5, 5, 5, 5})
	cnr := EstimateCNR(records, CnrWindow, 1e-3)
	require.Len(t, cnr, 1)
	assert.True(t, math.IsNaN(cnr[0]))
}

// Heavy-tailed windows drive the radicand 2*M2^2-M4 negative; the policy
// is NaN, never a crash or a silently clamped value.
func TestEstimateCNRNegativeRadicand(t *testing.T) {
	records := recordsFromPrompt([]float64{0, 0, 0, 0, 5})
	cnr := EstimateCNR(records, CnrWindow, 1e-3)
	require.Len(t, cnr, 1)
	assert.True(t, math.IsNaN(cnr[0]))
}

func TestEstimateCNRWindowing(t *testing.T) {
	// 12 epochs with a 5-epoch window: two full windows, trailing
	// epochs dropped.
	ip := make([]float64, 12)
	for i := range ip {
		ip[i] = float64(i%2 + 1)
	}
	cnr := EstimateCNR(recordsFromPrompt(ip), CnrWindow, 1e-3)
	assert.Len(t, cnr, 2)
}

func TestEstimateCNRShortInput(t *testing.T) {
	records := recordsFromPrompt([]float64{1, 2, 3})
	assert.Nil(t, EstimateCNR(records, CnrWindow, 1e-3))
	assert.Nil(t, EstimateCNR(nil, CnrWindow, 1e-3))
	assert.Nil(t, EstimateCNR(records, 0, 1e-3))
}
