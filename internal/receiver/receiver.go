// Package receiver wires acquisition and tracking into a complete run
// over one pair of recorded sample files.
package receiver

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/21syl/pullin-sdr/internal/acquisition"
	"github.com/21syl/pullin-sdr/internal/frontend"
	"github.com/21syl/pullin-sdr/internal/tracking"
)

// ChannelResult pairs one satellite's coarse estimate with its tracking
// outcome.
type ChannelResult struct {
	PRN   int
	Acq   acquisition.Result
	Track *tracking.Result
	Err   error
}

// RunResult is the output of one receiver run.
type RunResult struct {
	// Acquisition holds a Result per requested PRN, zero-valued for
	// satellites below threshold.
	Acquisition map[int]acquisition.Result
	// Channels holds one entry per accepted satellite, ordered by PRN.
	Channels []ChannelResult
}

// Receiver runs the configured scenario.
type Receiver struct {
	cfg Config
	log *logrus.Logger
}

// New returns a Receiver. The configuration must already be validated.
func New(cfg Config, log *logrus.Logger) *Receiver {
	return &Receiver{cfg: cfg, log: log}
}

// Run acquires all requested satellites and tracks every accepted one.
// Channels run concurrently; each owns its file handles and state, so
// they share nothing mutable. An empty accepted set is a valid result,
// not an error.
func (r *Receiver) Run(ctx context.Context) (*RunResult, error) {
	acqResults, err := r.acquire()
	if err != nil {
		return nil, err
	}

	var accepted []int
	for prn, res := range acqResults {
		if res.Acquired() {
			accepted = append(accepted, prn)
		}
	}
	sort.Ints(accepted)
	out := &RunResult{
		Acquisition: acqResults,
		Channels:    make([]ChannelResult, len(accepted)),
	}
	if len(accepted) == 0 {
		r.log.Warn("no satellites acquired")
		return out, nil
	}

	var wg sync.WaitGroup
	for i, prn := range accepted {
		wg.Add(1)
		go func(i, prn int) {
			defer wg.Done()
			out.Channels[i] = r.trackOne(ctx, prn, acqResults[prn])
		}(i, prn)
	}
	wg.Wait()
	return out, nil
}

func (r *Receiver) acquire() (map[int]acquisition.Result, error) {
	src, err := frontend.OpenFile(r.cfg.RealFile, r.cfg.ImagFile)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	engine := acquisition.New(acquisition.Config{
		SampleRate:       r.cfg.SampleRate,
		IntermediateFreq: r.cfg.IntermediateFreq,
		ChipRate:         r.cfg.ChipRate,
		CodeLength:       r.cfg.CodeLength,
		SearchHalfBand:   r.cfg.Acquisition.SearchHalfBand,
		SearchStep:       r.cfg.Acquisition.SearchStep,
		Threshold:        r.cfg.Acquisition.Threshold,
	}, r.log.WithField("stage", "acquisition"))
	return engine.Acquire(src, r.cfg.Acquisition.PRNs)
}

func (r *Receiver) trackOne(ctx context.Context, prn int, acq acquisition.Result) ChannelResult {
	out := ChannelResult{PRN: prn, Acq: acq}

	src, err := frontend.OpenFile(r.cfg.RealFile, r.cfg.ImagFile)
	if err != nil {
		out.Err = err
		return out
	}
	defer src.Close()

	cfg := r.trackingConfig()
	ch, err := tracking.NewChannel(prn, acq, cfg)
	if err != nil {
		out.Err = err
		return out
	}
	engine := tracking.New(cfg, r.log.WithField("stage", "tracking"))
	out.Track, out.Err = engine.Track(ctx, src, ch)
	return out
}

func (r *Receiver) trackingConfig() tracking.Config {
	return tracking.Config{
		SampleRate:        r.cfg.SampleRate,
		IntermediateFreq:  r.cfg.IntermediateFreq,
		ChipRate:          r.cfg.ChipRate,
		CodeLength:        r.cfg.CodeLength,
		Epochs:            r.cfg.Epochs,
		CorrelatorSpacing: r.cfg.CorrelatorSpacing,
		CodeLoop: tracking.LoopConfig{
			NoiseBandwidth: r.cfg.CodeLoop.NoiseBandwidth,
			DampingRatio:   r.cfg.CodeLoop.DampingRatio,
			Gain:           r.cfg.CodeLoop.Gain,
		},
		CarrierLoop: tracking.LoopConfig{
			NoiseBandwidth: r.cfg.CarrierLoop.NoiseBandwidth,
			DampingRatio:   r.cfg.CarrierLoop.DampingRatio,
			Gain:           r.cfg.CarrierLoop.Gain,
		},
		CodeLoopOrder: r.cfg.CodeLoopOrder,
		SpoofPowerDB:  r.cfg.SpoofPowerDB,
		Decision:      r.cfg.Decision,
	}
}
