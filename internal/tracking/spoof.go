package tracking

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ThresholdBand maps a minimum counterfeit power advantage (dB) to the
// prompt-correlation level that marks a captured loop. Bands are matched
// highest first.
type ThresholdBand struct {
	MinPowerDB float64 `yaml:"min_power_db"`
	Threshold  float64 `yaml:"threshold"`
}

// DecisionConfig carries the spoofing-capture decision rule. The default
// thresholds and window indices are empirically calibrated for the
// reference scenario and deliberately live in configuration.
type DecisionConfig struct {
	// Early window [EarlyStart, EarlyEnd) in epochs; reported for
	// comparison against the late window.
	EarlyStart int `yaml:"early_start"`
	EarlyEnd   int `yaml:"early_end"`
	// LateSpan is the number of final epochs the decision is made on.
	LateSpan int             `yaml:"late_span"`
	Bands    []ThresholdBand `yaml:"bands"`
}

// DefaultDecision returns the calibrated decision rule.
func DefaultDecision() DecisionConfig {
	return DecisionConfig{
		EarlyStart: 500,
		EarlyEnd:   1000,
		LateSpan:   1000,
		Bands: []ThresholdBand{
			{MinPowerDB: 7, Threshold: 9e6},
			{MinPowerDB: 4, Threshold: 7e6},
			{MinPowerDB: 2, Threshold: 6e6},
			{MinPowerDB: math.Inf(-1), Threshold: 5.5e6},
		},
	}
}

// ThresholdFor selects the decision boundary for a counterfeit power
// advantage. Returns +Inf when no band matches, so detection never fires
// on an empty table.
func (d DecisionConfig) ThresholdFor(powerDB float64) float64 {
	for _, b := range d.Bands {
		if powerDB >= b.MinPowerDB {
			return b.Threshold
		}
	}
	return math.Inf(1)
}

// Detect evaluates the capture rule once, at run end: the mean absolute
// prompt in-phase correlation over the final LateSpan epochs is compared
// against the band threshold. The early-window mean is reported so callers
// can inspect the pull-in contrast. Runs shorter than either window are
// never flagged.
func (d DecisionConfig) Detect(records []Record, powerDB float64) (early, late float64, detected bool) {
	early = meanAbsPromptI(records, d.EarlyStart, d.EarlyEnd)
	if d.LateSpan <= 0 || len(records) < d.LateSpan {
		return early, math.NaN(), false
	}
	late = meanAbsPromptI(records, len(records)-d.LateSpan, len(records))
	return early, late, late > d.ThresholdFor(powerDB)
}

func meanAbsPromptI(records []Record, start, end int) float64 {
	if start < 0 || end > len(records) || start >= end {
		return math.NaN()
	}
	vals := make([]float64, end-start)
	for i := range vals {
		vals[i] = math.Abs(records[start+i].IP)
	}
	return stat.Mean(vals, nil)
}
