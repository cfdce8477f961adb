package loopfilt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePure(t *testing.T) {
	a, err := Compute(2, 0.7, 1)
	require.NoError(t, err)
	b, err := Compute(2, 0.7, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Positive(t, a.Tau1)
	assert.Positive(t, a.Tau2)
	assert.Positive(t, a.Wn)
}

func TestComputeBandwidthMonotonic(t *testing.T) {
	prev := 0.0
	for _, bw := range []float64{0.5, 1, 2, 5, 10, 25} {
		c, err := Compute(bw, 0.7, 1)
		require.NoError(t, err)
		assert.Greater(t, c.Wn, prev, "bw %g", bw)
		prev = c.Wn
	}
}

func TestComputeRejectsNonPositive(t *testing.T) {
	cases := [][3]float64{
		{0, 0.7, 1},
		{-2, 0.7, 1},
		{2, 0, 1},
		{2, 0.7, 0},
		{2, -0.7, -1},
	}
	for _, c := range cases {
		_, err := Compute(c[0], c[1], c[2])
		assert.Error(t, err, "inputs %v", c)
	}
}

func TestNewCodeFilterUnknownOrder(t *testing.T) {
	coef, err := Compute(2, 0.7, 1)
	require.NoError(t, err)
	_, err = NewCodeFilter(Order(4), coef, 1e-3)
	assert.Error(t, err)
	_, err = NewCodeFilter(Order(0), coef, 1e-3)
	assert.Error(t, err)
}

func TestFirstOrderProportional(t *testing.T) {
	coef, err := Compute(2, 0.7, 1)
	require.NoError(t, err)
	f, err := NewCodeFilter(FirstOrder, coef, 1e-3)
	require.NoError(t, err)

	// NCO moves by wn times the discriminator difference.
	assert.InDelta(t, coef.Wn*0.5, f.Update(0.5), 1e-15)
	// A repeated input produces no further movement.
	assert.InDelta(t, coef.Wn*0.5, f.Update(0.5), 1e-15)
}

func TestSecondOrderAccumulates(t *testing.T) {
	coef, err := Compute(2, 0.7, 1)
	require.NoError(t, err)
	f, err := NewCodeFilter(SecondOrder, coef, 1e-3)
	require.NoError(t, err)

	// Constant error: after the first step only the integrator acts,
	// so the NCO keeps walking.
	first := f.Update(0.2)
	second := f.Update(0.2)
	third := f.Update(0.2)
	assert.Greater(t, second, first)
	assert.InDelta(t, second-first, third-second, 1e-12)
}

// The third-order recursion must run its first two epochs on
// zero-initialized history, exactly.
func TestThirdOrderZeroHistory(t *testing.T) {
	const dt = 1e-3
	coef, err := Compute(2, 0.7, 1)
	require.NoError(t, err)
	f, err := NewCodeFilter(ThirdOrder, coef, dt)
	require.NoError(t, err)

	wn := coef.Wn
	e1, e2 := 0.3, -0.1

	// Epoch 1: all history zero.
	want1 := thirdB*wn*e1 + thirdA*wn*wn*dt*e1 + wn*wn*wn*dt*dt*e1
	got1 := f.Update(e1)
	assert.Equal(t, want1, got1)

	// Epoch 2: one slot of each history populated, second still zero.
	want2 := 2*want1 +
		thirdB*wn*(e2-2*e1) +
		thirdA*wn*wn*dt*(e2-e1) +
		wn*wn*wn*dt*dt*e2
	got2 := f.Update(e2)
	assert.Equal(t, want2, got2)
}

func TestCarrierFilterMatchesSecondOrder(t *testing.T) {
	coef, err := Compute(25, 0.7, 0.25)
	require.NoError(t, err)
	cf := NewCarrierFilter(coef, 1e-3)
	sf, err := NewCodeFilter(SecondOrder, coef, 1e-3)
	require.NoError(t, err)

	for _, e := range []float64{0.1, -0.05, 0.2, 0.0, -0.3} {
		assert.Equal(t, sf.Update(e), cf.Update(e))
	}
}

func TestOrderString(t *testing.T) {
	assert.Equal(t, "first-order", FirstOrder.String())
	assert.Equal(t, "second-order", SecondOrder.String())
	assert.Equal(t, "third-order", ThirdOrder.String())
}
