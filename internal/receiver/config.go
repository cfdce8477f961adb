package receiver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/21syl/pullin-sdr/internal/goldcode"
	"github.com/21syl/pullin-sdr/internal/loopfilt"
	"github.com/21syl/pullin-sdr/internal/tracking"
)

// LoopConfig parameterizes one tracking loop.
type LoopConfig struct {
	NoiseBandwidth float64 `yaml:"noise_bandwidth"`
	DampingRatio   float64 `yaml:"damping_ratio"`
	Gain           float64 `yaml:"gain"`
}

// AcquisitionConfig carries the search parameters.
type AcquisitionConfig struct {
	SearchHalfBand float64 `yaml:"search_half_band"`
	SearchStep     float64 `yaml:"search_step"`
	Threshold      float64 `yaml:"threshold"`
	PRNs           []int   `yaml:"prns"`
}

// Config is the complete scenario configuration. It is treated as
// immutable once the receiver is constructed.
type Config struct {
	RealFile string `yaml:"real_file"`
	ImagFile string `yaml:"imag_file"`

	SampleRate       float64 `yaml:"sample_rate"`
	IntermediateFreq float64 `yaml:"intermediate_freq"`
	ChipRate         float64 `yaml:"chip_rate"`
	CodeLength       int     `yaml:"code_length"`

	Epochs            int     `yaml:"epochs"`
	CorrelatorSpacing float64 `yaml:"correlator_spacing"`

	CodeLoop      LoopConfig     `yaml:"code_loop"`
	CarrierLoop   LoopConfig     `yaml:"carrier_loop"`
	CodeLoopOrder loopfilt.Order `yaml:"code_loop_order"`

	SpoofPowerDB float64                 `yaml:"spoof_power_db"`
	Decision     tracking.DecisionConfig `yaml:"decision"`

	Acquisition AcquisitionConfig `yaml:"acquisition"`
}

// DefaultConfig returns the reference scenario parameters.
func DefaultConfig() Config {
	return Config{
		SampleRate:        16.368e6,
		IntermediateFreq:  4.092e6,
		ChipRate:          goldcode.ChipRate,
		CodeLength:        goldcode.Length,
		Epochs:            5000,
		CorrelatorSpacing: 0.5,
		CodeLoop:          LoopConfig{NoiseBandwidth: 2, DampingRatio: 0.7, Gain: 1},
		CarrierLoop:       LoopConfig{NoiseBandwidth: 25, DampingRatio: 0.7, Gain: 0.25},
		CodeLoopOrder:     loopfilt.SecondOrder,
		Decision:          tracking.DefaultDecision(),
		Acquisition: AcquisitionConfig{
			SearchHalfBand: 7000,
			SearchStep:     500,
			Threshold:      2.5,
			PRNs:           []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		},
	}
}

// Load reads a YAML scenario file over the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("receiver: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("receiver: parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the engines cannot run.
func (c Config) Validate() error {
	switch {
	case c.RealFile == "" || c.ImagFile == "":
		return fmt.Errorf("receiver: sample file paths are required")
	case c.SampleRate <= 0:
		return fmt.Errorf("receiver: sample rate must be positive")
	case c.IntermediateFreq < 0:
		return fmt.Errorf("receiver: intermediate frequency must not be negative")
	case c.ChipRate <= 0 || c.CodeLength <= 0:
		return fmt.Errorf("receiver: chip rate and code length must be positive")
	case c.Epochs <= 0:
		return fmt.Errorf("receiver: epoch count must be positive")
	case c.CorrelatorSpacing <= 0 || c.CorrelatorSpacing >= 1:
		return fmt.Errorf("receiver: correlator spacing must be in (0, 1) chips")
	case c.Acquisition.Threshold < 1:
		return fmt.Errorf("receiver: acquisition threshold must be >= 1")
	case len(c.Acquisition.PRNs) == 0:
		return fmt.Errorf("receiver: at least one PRN is required")
	}
	switch c.CodeLoopOrder {
	case loopfilt.FirstOrder, loopfilt.SecondOrder, loopfilt.ThirdOrder:
	default:
		return fmt.Errorf("receiver: code loop order must be 1, 2 or 3")
	}
	for _, prn := range c.Acquisition.PRNs {
		if prn < 1 || prn > goldcode.MaxPRN {
			return fmt.Errorf("receiver: prn %d outside 1..%d", prn, goldcode.MaxPRN)
		}
	}
	return nil
}
