package calibrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrwynneiii/sdrfifo/config"
	"github.com/jrwynneiii/sdrfifo/dsp"
	"github.com/jrwynneiii/sdrfifo/radio"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureSim(t *testing.T, sc config.SimConf) *Collector {
	t.Helper()
	sim := radio.NewSim(sc)
	conf := radio.ChannelConf{
		SampleRate: 1e6,
		Stream:     radio.StreamConf{BlockLen: 64, Timeout: time.Second},
	}
	c, err := Capture(sim, radio.ChannelRx(0), conf, 4)
	require.NoError(t, err)
	require.Equal(t, 256, c.Len())
	return c
}

func TestEstimateCleanTone(t *testing.T) {
	c := captureSim(t, config.SimConf{ToneHz: 250e3, Amplitude: 1000, IQGain: 1})
	m, err := c.Measurement()
	require.NoError(t, err)
	assert.InDelta(t, 0, m.DCOffsetI, 1e-9)
	assert.InDelta(t, 0, m.DCOffsetQ, 1e-9)
	assert.InDelta(t, 1, m.IQGain, 1e-9)
	assert.InDelta(t, 0, m.IQPhase, 1e-9)
}

func TestEstimateImpairedTone(t *testing.T) {
	sc := config.SimConf{ToneHz: 250e3, Amplitude: 1000, DCOffsetI: 10, DCOffsetQ: -5, IQGain: 1.1, IQPhase: 10}
	c := captureSim(t, sc)
	m, err := c.Measurement()
	require.NoError(t, err)
	assert.InDelta(t, 10, m.DCOffsetI, 0.5)
	assert.InDelta(t, -5, m.DCOffsetQ, 0.5)
	assert.InDelta(t, 1.1, m.IQGain, 1e-3)
	assert.InDelta(t, 10, m.IQPhase, 0.05)

	// The estimate is good enough to undo the impairment.
	coef, err := dsp.NewCoefficients(m)
	require.NoError(t, err)
	rx := dsp.NewRxCorrector(coef, dsp.FullRange)
	re, im := rx.Correct(1010, 186)
	assert.InDelta(t, 1000, re, 1)
	assert.InDelta(t, 0, im, 1)
}

func TestEstimateRejectsFlatInput(t *testing.T) {
	c := NewCollector(4)
	_, err := c.Measurement()
	assert.ErrorIs(t, err, ErrTooFewSamples)

	c.Add([]int16{5, 5, 5, 5, 5, 5})
	_, err = c.Measurement()
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestCaptureRequiresBlocks(t *testing.T) {
	_, err := Capture(radio.NewSim(config.SimConf{IQGain: 1}), radio.ChannelRx(0), radio.ChannelConf{}, 0)
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestHCLLoadsBack(t *testing.T) {
	m := dsp.Measurement{DCOffsetI: 1.5, DCOffsetQ: -2.25, IQGain: 1.0125, IQPhase: -3.5}
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(HCL("rx", m)), 0o600))

	k := koanf.New(".")
	require.NoError(t, config.LoadFile(k, path))
	c, err := config.Load(k)
	require.NoError(t, err)
	assert.Equal(t, 1.5, c.Rx.DCOffsetI)
	assert.Equal(t, -2.25, c.Rx.DCOffsetQ)
	assert.Equal(t, 1.0125, c.Rx.IQGain)
	assert.Equal(t, -3.5, c.Rx.IQPhase)
}
