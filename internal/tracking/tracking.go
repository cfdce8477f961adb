// Package tracking implements the per-channel closed code/carrier loop,
// the C/N0 estimator and the spoofing-capture decision rule.
package tracking

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/21syl/pullin-sdr/internal/acquisition"
	"github.com/21syl/pullin-sdr/internal/frontend"
	"github.com/21syl/pullin-sdr/internal/goldcode"
	"github.com/21syl/pullin-sdr/internal/loopfilt"
)

const dpi = 2 * math.Pi

// LoopConfig parameterizes one feedback loop.
type LoopConfig struct {
	NoiseBandwidth float64 // Hz
	DampingRatio   float64
	Gain           float64
}

// Config carries the tracking parameters for a run. Immutable.
type Config struct {
	SampleRate        float64 // Hz
	IntermediateFreq  float64 // Hz
	ChipRate          float64 // Hz
	CodeLength        int     // chips
	Epochs            int     // number of 1 ms epochs to process
	CorrelatorSpacing float64 // chips, early/late offset from prompt
	CodeLoop          LoopConfig
	CarrierLoop       LoopConfig
	CodeLoopOrder     loopfilt.Order
	SpoofPowerDB      float64 // configured counterfeit power advantage hint
	Decision          DecisionConfig
}

// Record is one epoch of tracking state, appended per millisecond.
type Record struct {
	SamplePos   int64
	CodeFreq    float64
	CarrierFreq float64
	Doppler     float64

	IE, QE float64
	IP, QP float64
	IL, QL float64

	CodeErr float64 // raw DLL discriminator
	CodeNco float64 // filtered
	CarrErr float64 // raw PLL discriminator, cycles
	CarrNco float64 // filtered, Hz

	RemCode float64 // residual code phase, chips [0, CodeLength)
	RemCarr float64 // residual carrier phase, rad [0, 2*pi)
}

// Result is the terminal output of one channel's run.
type Result struct {
	Records []Record
	CNR     []float64 // dB-Hz per 5-epoch window; NaN where undefined

	SpoofingDetected bool
	LossOfLock       bool
	// Complete is false when the stream ran out before the configured
	// epoch count; Records then holds the partial run.
	Complete bool

	EarlyWindowMean float64
	LateWindowMean  float64
}

// Channel is the mutable per-channel tracking state.
type Channel struct {
	PRN  int
	code []int16

	codePhase   int // samples, from acquisition
	acqCarrFreq float64

	codeFreq float64
	carrFreq float64
	remCode  float64
	remCarr  float64

	codeFilter *latchedFilter
	carrFilter *loopfilt.CarrierFilter
}

// NewChannel builds tracking state from an accepted acquisition result.
func NewChannel(prn int, acq acquisition.Result, cfg Config) (*Channel, error) {
	if !acq.Acquired() {
		return nil, fmt.Errorf("tracking: prn %d was not acquired", prn)
	}
	code, err := goldcode.Generate(prn)
	if err != nil {
		return nil, err
	}

	dt := float64(cfg.CodeLength) / cfg.ChipRate // coherent integration time
	codeCoef, err := loopfilt.Compute(cfg.CodeLoop.NoiseBandwidth,
		cfg.CodeLoop.DampingRatio, cfg.CodeLoop.Gain)
	if err != nil {
		return nil, fmt.Errorf("tracking: code loop: %w", err)
	}
	carrCoef, err := loopfilt.Compute(cfg.CarrierLoop.NoiseBandwidth,
		cfg.CarrierLoop.DampingRatio, cfg.CarrierLoop.Gain)
	if err != nil {
		return nil, fmt.Errorf("tracking: carrier loop: %w", err)
	}
	codeFilter, err := loopfilt.NewCodeFilter(cfg.CodeLoopOrder, codeCoef, dt)
	if err != nil {
		return nil, err
	}

	return &Channel{
		PRN:         prn,
		code:        code,
		codePhase:   acq.CodePhase,
		acqCarrFreq: acq.CarrierFreq,
		codeFreq:    cfg.ChipRate,
		carrFreq:    acq.CarrierFreq,
		codeFilter:  &latchedFilter{f: codeFilter},
		carrFilter:  loopfilt.NewCarrierFilter(carrCoef, dt),
	}, nil
}

// latchedFilter keeps the last NCO output available between epochs so a
// rejected (lock-lost) epoch can still record the running value.
type latchedFilter struct {
	f   loopfilt.CodeFilter
	nco float64
}

func (l *latchedFilter) update(err float64) float64 {
	l.nco = l.f.Update(err)
	return l.nco
}

// Engine drives one channel over a sample stream.
type Engine struct {
	cfg Config
	log logrus.FieldLogger

	// replica scratch, reused across epochs
	early, prompt, late []float64
	iBB, qBB            []float64
}

// New returns a tracking engine for the given configuration.
func New(cfg Config, log logrus.FieldLogger) *Engine {
	blk := cfg.BlockSize()
	return &Engine{
		cfg:    cfg,
		log:    log,
		early:  make([]float64, blk),
		prompt: make([]float64, blk),
		late:   make([]float64, blk),
		iBB:    make([]float64, blk),
		qBB:    make([]float64, blk),
	}
}

// BlockSize is the fixed epoch length in samples.
func (c Config) BlockSize() int {
	return int(math.Ceil(1e-3 * c.SampleRate))
}

// Track runs the closed loop for the configured number of epochs, or until
// the stream or ctx ends. Stream exhaustion is an early termination with a
// partial record, not an error; ctx cancellation returns ctx.Err alongside
// the partial result. Cancellation is only observed at epoch boundaries so
// loop-filter state is never left mid-epoch.
func (e *Engine) Track(ctx context.Context, src frontend.Source, ch *Channel) (*Result, error) {
	if err := src.Seek(int64(ch.codePhase)); err != nil {
		return nil, err
	}

	blk := e.cfg.BlockSize()
	block := make([]complex128, blk)
	res := &Result{
		Records:  make([]Record, 0, e.cfg.Epochs),
		Complete: true,
	}
	samplePos := int64(ch.codePhase)
	log := e.log.WithField("prn", ch.PRN)

	for epoch := 0; epoch < e.cfg.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			e.finish(res, log)
			return res, ctx.Err()
		default:
		}

		n, _ := src.ReadBlock(block)
		if n < blk {
			log.WithFields(logrus.Fields{"epoch": epoch, "samples": n}).
				Warn("sample stream exhausted, ending run early")
			res.Complete = false
			break
		}

		rec := e.epoch(ch, block, samplePos)
		if math.Abs(rec.CodeErr) > 1 || !isFinite(rec.CodeErr) {
			res.LossOfLock = true
		}
		res.Records = append(res.Records, rec)
		samplePos += int64(blk)
	}

	e.finish(res, log)
	return res, nil
}

func (e *Engine) finish(res *Result, log logrus.FieldLogger) {
	res.CNR = EstimateCNR(res.Records, CnrWindow,
		float64(e.cfg.CodeLength)/e.cfg.ChipRate)
	res.EarlyWindowMean, res.LateWindowMean, res.SpoofingDetected =
		e.cfg.Decision.Detect(res.Records, e.cfg.SpoofPowerDB)
	log.WithFields(logrus.Fields{
		"epochs":   len(res.Records),
		"spoofed":  res.SpoofingDetected,
		"lostLock": res.LossOfLock,
	}).Info("tracking run finished")
}

// epoch processes one 1 ms block through the correlators and both loops.
func (e *Engine) epoch(ch *Channel, block []complex128, samplePos int64) Record {
	blk := len(block)
	clen := float64(e.cfg.CodeLength)

	// Early/prompt/late code replicas, phase-stepped at codeFreq/fs with
	// circular wraparound over the code period.
	codeStep := ch.codeFreq / e.cfg.SampleRate
	sp := e.cfg.CorrelatorSpacing
	for i := 0; i < blk; i++ {
		tcode := ch.remCode + float64(i)*codeStep
		e.prompt[i] = float64(ch.code[wrapIndex(tcode, clen)])
		e.early[i] = float64(ch.code[wrapIndex(tcode-sp, clen)])
		e.late[i] = float64(ch.code[wrapIndex(tcode+sp, clen)])
	}
	ch.remCode = math.Mod(ch.remCode+float64(blk)*codeStep, clen)

	// Carrier replica and quadrature downconversion.
	carrStep := dpi * ch.carrFreq / e.cfg.SampleRate
	for i := 0; i < blk; i++ {
		sin, cos := math.Sincos(ch.remCarr + float64(i)*carrStep)
		s := block[i]
		e.iBB[i] = real(s)*cos + imag(s)*sin
		e.qBB[i] = imag(s)*cos - real(s)*sin
	}
	ch.remCarr = math.Mod(ch.remCarr+float64(blk)*carrStep, dpi)

	rec := Record{
		SamplePos: samplePos,
		IE:        floats.Dot(e.early, e.iBB),
		QE:        floats.Dot(e.early, e.qBB),
		IP:        floats.Dot(e.prompt, e.iBB),
		QP:        floats.Dot(e.prompt, e.qBB),
		IL:        floats.Dot(e.late, e.iBB),
		QL:        floats.Dot(e.late, e.qBB),
		RemCode:   ch.remCode,
		RemCarr:   ch.remCarr,
	}

	// Carrier loop: four-quadrant phase error in cycles.
	rec.CarrErr = math.Atan2(rec.QP, rec.IP) / dpi
	rec.CarrNco = ch.carrFilter.Update(rec.CarrErr)
	ch.carrFreq = ch.acqCarrFreq + rec.CarrNco

	// Code loop: normalized early-minus-late power.
	eMag := math.Hypot(rec.IE, rec.QE)
	lMag := math.Hypot(rec.IL, rec.QL)
	rec.CodeErr = (eMag - lMag) / (eMag + lMag)
	if isFinite(rec.CodeErr) && math.Abs(rec.CodeErr) <= 1 {
		rec.CodeNco = ch.codeFilter.update(rec.CodeErr)
	} else {
		// Malformed correlation shape; hold the NCO, the caller
		// latches loss of lock off CodeErr.
		rec.CodeNco = ch.codeFilter.nco
	}
	ch.codeFreq = e.cfg.ChipRate - rec.CodeNco

	rec.CodeFreq = ch.codeFreq
	rec.CarrierFreq = ch.carrFreq
	rec.Doppler = ch.carrFreq - e.cfg.IntermediateFreq
	return rec
}

// wrapIndex maps a possibly negative code phase to a chip index.
func wrapIndex(tcode, clen float64) int {
	idx := int(math.Floor(math.Mod(tcode, clen)))
	if idx < 0 {
		idx += int(clen)
	}
	return idx
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
