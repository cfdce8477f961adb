// Package loopfilt derives tracking-loop filter coefficients from a target
// noise bandwidth and provides the code-loop filter variants.
package loopfilt

import (
	"errors"
	"fmt"
)

// Coefficients parameterize a proportional-plus-integrator loop filter.
type Coefficients struct {
	Tau1 float64
	Tau2 float64
	Wn   float64 // natural frequency, rad/s
}

var errNonPositive = errors.New("loopfilt: parameters must be positive")

// Compute maps a noise bandwidth (Hz), damping ratio and loop gain to
// filter time constants. Called once per loop per run.
func Compute(noiseBW, damping, gain float64) (Coefficients, error) {
	if noiseBW <= 0 || damping <= 0 || gain <= 0 {
		return Coefficients{}, fmt.Errorf("%w: bw=%g damping=%g gain=%g",
			errNonPositive, noiseBW, damping, gain)
	}
	wn := noiseBW / (damping + 1/(4*damping))
	return Coefficients{
		Tau1: gain / (wn * wn),
		Tau2: 2 * damping / wn,
		Wn:   wn,
	}, nil
}

// Order selects the code-loop filter topology.
type Order int

const (
	FirstOrder Order = iota + 1
	SecondOrder
	ThirdOrder
)

func (o Order) String() string {
	switch o {
	case FirstOrder:
		return "first-order"
	case SecondOrder:
		return "second-order"
	case ThirdOrder:
		return "third-order"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// CodeFilter consumes one discriminator sample per epoch and returns the
// accumulated NCO offset. Implementations are stateful and must be fed
// epochs in order.
type CodeFilter interface {
	Update(err float64) float64
}

// NewCodeFilter returns the filter for the given loop order. dt is the
// coherent integration time per epoch in seconds.
func NewCodeFilter(order Order, coef Coefficients, dt float64) (CodeFilter, error) {
	switch order {
	case FirstOrder:
		return &firstOrder{wn: coef.Wn}, nil
	case SecondOrder:
		return &secondOrder{coef: coef, dt: dt}, nil
	case ThirdOrder:
		return &thirdOrder{wn: coef.Wn, dt: dt}, nil
	default:
		return nil, fmt.Errorf("loopfilt: unknown loop order %d", order)
	}
}

// firstOrder applies a proportional step on the discriminator difference.
type firstOrder struct {
	wn      float64
	nco     float64
	prevErr float64
}

func (f *firstOrder) Update(err float64) float64 {
	f.nco += f.wn * (err - f.prevErr)
	f.prevErr = err
	return f.nco
}

// secondOrder is the classic proportional-plus-integrator update.
type secondOrder struct {
	coef    Coefficients
	dt      float64
	nco     float64
	prevErr float64
}

func (f *secondOrder) Update(err float64) float64 {
	f.nco += f.coef.Tau2/f.coef.Tau1*(err-f.prevErr) + err*f.dt/f.coef.Tau1
	f.prevErr = err
	return f.nco
}

// Third-order proportional gains. Empirical pairing for fast pull-in with
// acceptable transient overshoot.
const (
	thirdB = 2.4
	thirdA = 1.1
)

// thirdOrder is the backward-difference discretization of
// F(s) = (b*wn*s^2 + a*wn^2*s + wn^3) / s^2. It combines the current and
// two prior discriminator values with the two prior NCO outputs; the first
// two epochs run on zero-initialized history.
type thirdOrder struct {
	wn, dt            float64
	prevErr, prevErr2 float64
	prevNco, prevNco2 float64
}

func (f *thirdOrder) Update(err float64) float64 {
	nco := 2*f.prevNco - f.prevNco2 +
		thirdB*f.wn*(err-2*f.prevErr+f.prevErr2) +
		thirdA*f.wn*f.wn*f.dt*(err-f.prevErr) +
		f.wn*f.wn*f.wn*f.dt*f.dt*err
	f.prevErr2 = f.prevErr
	f.prevErr = err
	f.prevNco2 = f.prevNco
	f.prevNco = nco
	return nco
}

// CarrierFilter is the proportional-plus-integrator filter driving the
// carrier NCO. The carrier loop is always second-order.
type CarrierFilter struct {
	coef    Coefficients
	dt      float64
	nco     float64
	prevErr float64
}

// NewCarrierFilter returns a zero-state carrier loop filter.
func NewCarrierFilter(coef Coefficients, dt float64) *CarrierFilter {
	return &CarrierFilter{coef: coef, dt: dt}
}

// Update consumes one phase-error sample (cycles) and returns the
// accumulated NCO offset in Hz.
func (f *CarrierFilter) Update(err float64) float64 {
	f.nco += f.coef.Tau2/f.coef.Tau1*(err-f.prevErr) + err*f.dt/f.coef.Tau1
	f.prevErr = err
	return f.nco
}
