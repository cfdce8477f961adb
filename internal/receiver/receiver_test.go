package receiver

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/21syl/pullin-sdr/internal/goldcode"
	"github.com/21syl/pullin-sdr/internal/loopfilt"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig(t *testing.T, dir string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RealFile = filepath.Join(dir, "real.bin")
	cfg.ImagFile = filepath.Join(dir, "imag.bin")
	cfg.SampleRate = 2.046e6
	cfg.IntermediateFreq = 250e3
	cfg.Epochs = 50
	cfg.Acquisition.PRNs = []int{5, 9}
	return cfg
}

// writeScenario records a clean signal for one satellite into the
// configured component files.
func writeScenario(t *testing.T, cfg Config, prn, codePhase int, doppler, amp float64) {
	t.Helper()
	code, err := goldcode.Generate(prn)
	require.NoError(t, err)

	spc := int(math.Ceil(cfg.SampleRate * float64(cfg.CodeLength) / cfg.ChipRate))
	n := codePhase + (11+cfg.Epochs+1)*spc
	freq := cfg.IntermediateFreq + doppler
	ci := cfg.ChipRate / cfg.SampleRate

	re := make([]byte, 8*n)
	im := make([]byte, 8*n)
	for i := 0; i < n; i++ {
		chip := int(math.Floor(float64(i-codePhase)*ci)) % cfg.CodeLength
		if chip < 0 {
			chip += cfg.CodeLength
		}
		phase := 2 * math.Pi * freq * float64(i) / cfg.SampleRate
		sin, cos := math.Sincos(phase)
		c := amp * float64(code[chip])
		binary.BigEndian.PutUint64(re[i*8:], math.Float64bits(c*cos))
		binary.BigEndian.PutUint64(im[i*8:], math.Float64bits(c*sin))
	}
	require.NoError(t, os.WriteFile(cfg.RealFile, re, 0o644))
	require.NoError(t, os.WriteFile(cfg.ImagFile, im, 0o644))
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	const (
		prn       = 5
		codePhase = 700
		doppler   = 2000.0
	)
	writeScenario(t, cfg, prn, codePhase, doppler, 1)
	require.NoError(t, cfg.Validate())

	result, err := New(cfg, testLogger()).Run(context.Background())
	require.NoError(t, err)

	// PRN 9 was requested but not present.
	assert.False(t, result.Acquisition[9].Acquired())
	require.True(t, result.Acquisition[prn].Acquired())
	assert.InDelta(t, codePhase, result.Acquisition[prn].CodePhase, 1)

	require.Len(t, result.Channels, 1)
	ch := result.Channels[0]
	assert.Equal(t, prn, ch.PRN)
	require.NoError(t, ch.Err)
	require.NotNil(t, ch.Track)
	assert.True(t, ch.Track.Complete)
	assert.False(t, ch.Track.LossOfLock)
	assert.Len(t, ch.Track.Records, cfg.Epochs)
}

func TestRunNoSatellitesAcquired(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	// Record a satellite nobody asked for; the requested set stays empty.
	writeScenario(t, cfg, 1, 100, 1000, 1)
	cfg.Acquisition.PRNs = []int{7}

	result, err := New(cfg, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Channels)
	assert.False(t, result.Acquisition[7].Acquired())
}

func TestRunMissingFiles(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	_, err := New(cfg, testLogger()).Run(context.Background())
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.RealFile = "real.bin"
		cfg.ImagFile = "imag.bin"
		return cfg
	}
	require.NoError(t, base().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing files", func(c *Config) { c.RealFile = "" }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"negative IF", func(c *Config) { c.IntermediateFreq = -1 }},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"spacing too wide", func(c *Config) { c.CorrelatorSpacing = 1 }},
		{"threshold below one", func(c *Config) { c.Acquisition.Threshold = 0.5 }},
		{"no prns", func(c *Config) { c.Acquisition.PRNs = nil }},
		{"prn out of range", func(c *Config) { c.Acquisition.PRNs = []int{13} }},
		{"bad loop order", func(c *Config) { c.CodeLoopOrder = loopfilt.Order(5) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
real_file: real.bin
imag_file: imag.bin
epochs: 1200
code_loop_order: 3
spoof_power_db: 7
acquisition:
  threshold: 3.0
  prns: [1, 2, 3]
decision:
  late_span: 500
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.Epochs)
	assert.Equal(t, loopfilt.ThirdOrder, cfg.CodeLoopOrder)
	assert.Equal(t, 7.0, cfg.SpoofPowerDB)
	assert.Equal(t, 3.0, cfg.Acquisition.Threshold)
	assert.Equal(t, []int{1, 2, 3}, cfg.Acquisition.PRNs)
	assert.Equal(t, 500, cfg.Decision.LateSpan)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultConfig().SampleRate, cfg.SampleRate)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
