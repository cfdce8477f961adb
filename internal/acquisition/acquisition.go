// Package acquisition implements the parallel code-phase / Doppler search
// that produces the coarse channel estimates handed to tracking.
package acquisition

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/21syl/pullin-sdr/internal/frontend"
	"github.com/21syl/pullin-sdr/internal/goldcode"
)

// ErrInsufficientSamples is returned when the source holds less than the
// 11 ms the search consumes.
var ErrInsufficientSamples = errors.New("acquisition: insufficient samples")

// coherentBlocks is the number of 1 ms blocks correlated per Doppler bin;
// the stronger block wins, which rides out a data-bit edge in either one.
const coherentBlocks = 2

// totalBlocks is the search window in 1 ms blocks: two for correlation,
// the rest feeding the DC-removed fine-frequency refinement.
const totalBlocks = 11

// fineGuardBins excludes spectrum edges from the fine-frequency peak
// search to avoid DC and Nyquist artifacts.
const fineGuardBins = 5

// Config carries the search parameters. Immutable once the Engine is built.
type Config struct {
	SampleRate       float64 // Hz
	IntermediateFreq float64 // Hz
	ChipRate         float64 // Hz
	CodeLength       int     // chips
	SearchHalfBand   float64 // Hz, Doppler half-bandwidth around the IF
	SearchStep       float64 // Hz, Doppler bin spacing
	Threshold        float64 // peak-metric acceptance ratio
}

// Result is the coarse estimate for one satellite. A zero value means the
// satellite was not accepted.
type Result struct {
	CarrierFreq float64 // Hz, refined estimate
	CodePhase   int     // samples, 0-based offset into one code period
	PeakMetric  float64 // first-to-second peak ratio
}

// Acquired reports whether the satellite passed the acceptance threshold.
func (r Result) Acquired() bool { return r.PeakMetric > 0 }

// Engine runs the two-dimensional matched-filter search.
type Engine struct {
	cfg Config
	log logrus.FieldLogger
}

// New returns an Engine for the given configuration.
func New(cfg Config, log logrus.FieldLogger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// SamplesPerCode is the sample count of one full code period.
func (e *Engine) SamplesPerCode() int {
	return int(math.Ceil(e.cfg.SampleRate * float64(e.cfg.CodeLength) / e.cfg.ChipRate))
}

// Acquire searches for every requested satellite in one 11 ms window read
// from src. Satellites below the acceptance threshold are reported with a
// zero Result, not an error.
func (e *Engine) Acquire(src frontend.Source, prns []int) (map[int]Result, error) {
	spc := e.SamplesPerCode()
	window := make([]complex128, totalBlocks*spc)
	n, err := src.ReadBlock(window)
	if n < len(window) {
		return nil, fmt.Errorf("%w: got %d of %d samples (%v)",
			ErrInsufficientSamples, n, len(window), err)
	}

	// DC removal over the whole window, used by the fine-frequency step.
	var dc complex128
	for _, s := range window {
		dc += s
	}
	dc /= complex(float64(len(window)), 0)
	windowDC := make([]complex128, len(window))
	for i, s := range window {
		windowDC[i] = s - dc
	}

	numBins := int(math.Round(2*e.cfg.SearchHalfBand/e.cfg.SearchStep)) + 1
	freqs := make([]float64, numBins)
	for k := range freqs {
		freqs[k] = e.cfg.IntermediateFreq - e.cfg.SearchHalfBand + float64(k)*e.cfg.SearchStep
	}

	fft := fourier.NewCmplxFFT(spc)
	results := make(map[int]Result, len(prns))
	for _, prn := range prns {
		res, err := e.acquireOne(fft, prn, window, windowDC, freqs, spc)
		if err != nil {
			return nil, err
		}
		results[prn] = res
	}
	return results, nil
}

func (e *Engine) acquireOne(fft *fourier.CmplxFFT, prn int, window, windowDC []complex128, freqs []float64, spc int) (Result, error) {
	code, err := goldcode.Generate(prn)
	if err != nil {
		return Result{}, err
	}
	codeSpec := e.codeSpectrum(fft, code, spc)

	grid := make([][]float64, len(freqs))
	bb := make([]complex128, spc)
	for k, freq := range freqs {
		var best []float64
		bestPeak := math.Inf(-1)
		for blk := 0; blk < coherentBlocks; blk++ {
			e.mix(bb, window[blk*spc:(blk+1)*spc], freq)
			power := e.correlate(fft, bb, codeSpec)
			if peak, _ := maxExcluding(power, -1, -1); peak > bestPeak {
				bestPeak = peak
				best = power
			}
		}
		grid[k] = best
	}

	// Global maximum over the Doppler x code-phase grid.
	peak := math.Inf(-1)
	binIdx, codePhase := 0, 0
	for k, row := range grid {
		if p, i := maxExcluding(row, -1, -1); p > peak {
			peak, binIdx, codePhase = p, k, i
		}
	}

	// Second peak outside a +-1 chip window around the maximum, at the
	// winning Doppler bin. Exclusion wraps across the code period.
	samplesPerChip := int(math.Ceil(e.cfg.SampleRate / e.cfg.ChipRate))
	exStart := codePhase - samplesPerChip
	if exStart < 0 {
		exStart += spc
	}
	exEnd := codePhase + samplesPerChip
	if exEnd >= spc {
		exEnd -= spc
	}
	second, _ := maxExcluding(grid[binIdx], exStart, exEnd)
	metric := peak / second

	if metric <= e.cfg.Threshold {
		e.log.WithFields(logrus.Fields{"prn": prn, "peakMetric": metric}).
			Debug("satellite not acquired")
		return Result{}, nil
	}

	carrFreq := e.refineFrequency(windowDC, code, codePhase, spc)
	e.log.WithFields(logrus.Fields{
		"prn":        prn,
		"peakMetric": metric,
		"codePhase":  codePhase,
		"coarseFreq": freqs[binIdx],
		"fineFreq":   carrFreq,
	}).Info("satellite acquired")
	return Result{CarrierFreq: carrFreq, CodePhase: codePhase, PeakMetric: metric}, nil
}

// codeSpectrum resamples one code period to spc samples and returns the
// conjugate of its spectrum.
func (e *Engine) codeSpectrum(fft *fourier.CmplxFFT, code []int16, spc int) []complex128 {
	ci := e.cfg.ChipRate / e.cfg.SampleRate // chips per sample
	rcode := make([]complex128, spc)
	for i := 0; i < spc; i++ {
		idx := int(float64(i)*ci) % e.cfg.CodeLength
		rcode[i] = complex(float64(code[idx]), 0)
	}
	spec := fft.Coefficients(nil, rcode)
	for i := range spec {
		spec[i] = complex(real(spec[i]), -imag(spec[i]))
	}
	return spec
}

// mix downconverts one block to baseband at the given carrier frequency.
func (e *Engine) mix(dst, block []complex128, freq float64) {
	step := 2 * math.Pi * freq / e.cfg.SampleRate
	for i, s := range block {
		sin, cos := math.Sincos(step * float64(i))
		// s * exp(-j*phase)
		dst[i] = complex(
			real(s)*cos+imag(s)*sin,
			imag(s)*cos-real(s)*sin,
		)
	}
}

// correlate returns the correlation power per code-phase hypothesis via
// frequency-domain multiplication with the conjugate code spectrum.
func (e *Engine) correlate(fft *fourier.CmplxFFT, bb, codeSpec []complex128) []float64 {
	spec := fft.Coefficients(nil, bb)
	for i := range spec {
		spec[i] *= codeSpec[i]
	}
	corr := fft.Sequence(nil, spec)
	n := float64(len(corr))
	power := make([]float64, len(corr))
	for i, c := range corr {
		re, im := real(c)/n, imag(c)/n
		power[i] = re*re + im*im
	}
	return power
}

// refineFrequency strips the code modulation from 10 ms of DC-removed
// samples at the estimated code phase and reads the carrier off a
// high-resolution spectrum.
func (e *Engine) refineFrequency(windowDC []complex128, code []int16, codePhase, spc int) float64 {
	n := (totalBlocks - 1) * spc
	ci := e.cfg.ChipRate / e.cfg.SampleRate
	carrier := make([]complex128, nextPow2(n)*8)
	for i := 0; i < n; i++ {
		idx := int(float64(i)*ci) % e.cfg.CodeLength
		carrier[i] = windowDC[codePhase+i] * complex(float64(code[idx]), 0)
	}

	fft := fourier.NewCmplxFFT(len(carrier))
	spec := fft.Coefficients(nil, carrier)
	uniq := len(carrier)/2 + 1
	best, bestIdx := math.Inf(-1), fineGuardBins
	for i := fineGuardBins; i < uniq-fineGuardBins; i++ {
		re, im := real(spec[i]), imag(spec[i])
		if p := re*re + im*im; p > best {
			best, bestIdx = p, i
		}
	}
	return float64(bestIdx) * e.cfg.SampleRate / float64(len(carrier))
}

// maxExcluding returns the maximum value and its index, skipping the
// closed index range [exStart, exEnd]. The range may wrap (exStart >
// exEnd); -1 for both disables the exclusion.
func maxExcluding(data []float64, exStart, exEnd int) (float64, int) {
	max, ind := math.Inf(-1), 0
	for i, v := range data {
		if exStart >= 0 && exEnd >= 0 {
			if exStart <= exEnd {
				if i >= exStart && i <= exEnd {
					continue
				}
			} else if i >= exStart || i <= exEnd {
				continue
			}
		}
		if v > max {
			max, ind = v, i
		}
	}
	return max, ind
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
