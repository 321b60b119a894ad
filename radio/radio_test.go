package radio

import (
	"fmt"
	"testing"
	"time"

	"github.com/jrwynneiii/sdrfifo/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hz.tools/rf"
)

func simChannelConf(blockLen int) ChannelConf {
	return ChannelConf{
		Frequency:  rf.Hz(915e6),
		Bandwidth:  rf.Hz(1e6),
		SampleRate: rf.Hz(1e6),
		Stream:     StreamConf{BlockLen: blockLen, Timeout: time.Second},
	}
}

func TestChannelString(t *testing.T) {
	assert.Equal(t, "Rx0", ChannelRx(0).String())
	assert.Equal(t, "Tx1", ChannelTx(1).String())
}

func TestChannelFromConfig(t *testing.T) {
	c := config.Default()
	c.Hardware.TimeoutMs = 250
	c.Hardware.RxDiscard = 1024
	cc := ChannelFromConfig(c.Rx, c.Hardware)

	assert.Equal(t, rf.Hz(2.4e9), cc.Frequency)
	assert.Equal(t, rf.Hz(61.44e6), cc.SampleRate)
	assert.Equal(t, 16384, cc.Stream.BlockLen)
	assert.Equal(t, 250*time.Millisecond, cc.Stream.Timeout)
	assert.Equal(t, 1024, cc.Stream.Discard)
}

func TestOpenRequiresDriver(t *testing.T) {
	_, err := Open(config.RadioConf{}, "")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestOpenPairSharesMatchingSerials(t *testing.T) {
	conf := config.RadioConf{Driver: "sim", RxSerial: "a", TxSerial: "a"}
	rx, tx, err := OpenPair(conf)
	require.NoError(t, err)
	assert.Same(t, rx, tx)

	conf.TxSerial = "b"
	rx, tx, err = OpenPair(conf)
	require.NoError(t, err)
	assert.NotSame(t, rx, tx)
}

func TestSimRequiresConfigureAndEnable(t *testing.T) {
	s := NewSim(config.SimConf{Amplitude: 100, IQGain: 1})
	buf := make([]int16, 8)
	ch := ChannelRx(0)

	assert.ErrorIs(t, s.Enable(ch, true), ErrNotConfigured)
	assert.ErrorIs(t, s.Transfer(ch, buf, 4, time.Second), ErrNotConfigured)

	_, err := s.Configure(ch, simChannelConf(4))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Transfer(ch, buf, 4, time.Second), ErrNotEnabled)

	require.NoError(t, s.Enable(ch, true))
	require.NoError(t, s.Transfer(ch, buf, 4, time.Second))
	assert.Error(t, s.Transfer(ch, buf, 5, time.Second))
	assert.Error(t, s.Transfer(ch, buf, 0, time.Second))
	assert.Equal(t, uint64(4), s.Samples(ch))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Transfer(ch, buf, 4, time.Second), ErrNotEnabled)
}

func TestSimRxQuarterRateTone(t *testing.T) {
	s := NewSim(config.SimConf{ToneHz: 250e3, Amplitude: 1000, IQGain: 1})
	ch := ChannelRx(0)
	_, err := s.Configure(ch, simChannelConf(4))
	require.NoError(t, err)
	require.NoError(t, s.Enable(ch, true))

	buf := make([]int16, 8)
	require.NoError(t, s.Transfer(ch, buf, 4, time.Second))
	assert.Equal(t, []int16{1000, 0, 0, 1000, -1000, 0, 0, -1000}, buf)

	// Phase continues across transfers.
	require.NoError(t, s.Transfer(ch, buf, 1, time.Second))
	assert.Equal(t, []int16{1000, 0}, buf[:2])
}

func TestSimRxImpairmentAndHardwareCorrection(t *testing.T) {
	sc := config.SimConf{Amplitude: 1000, DCOffsetI: 10, DCOffsetQ: -5, IQGain: 1.1, IQPhase: 10}
	s := NewSim(sc)
	ch := ChannelRx(0)
	_, err := s.Configure(ch, simChannelConf(1))
	require.NoError(t, err)
	require.NoError(t, s.Enable(ch, true))

	buf := make([]int16, 2)
	require.NoError(t, s.Transfer(ch, buf, 1, time.Second))
	assert.Equal(t, int16(1010), buf[0])
	assert.Equal(t, int16(186), buf[1])

	require.NoError(t, s.SetCorrection(ch, Correction{
		DCOffsetI: sc.DCOffsetI,
		DCOffsetQ: sc.DCOffsetQ,
		IQGain:    sc.IQGain,
		IQPhase:   sc.IQPhase,
	}))
	require.NoError(t, s.Transfer(ch, buf, 1, time.Second))
	assert.Equal(t, int16(1000), buf[0])
	assert.Equal(t, int16(0), buf[1])
}

func TestSimRejectsBadCorrection(t *testing.T) {
	s := NewSim(config.SimConf{IQGain: 1})
	ch := ChannelRx(0)
	_, err := s.Configure(ch, simChannelConf(1))
	require.NoError(t, err)
	assert.Error(t, s.SetCorrection(ch, Correction{IQGain: 0}))
	assert.ErrorIs(t, s.SetCorrection(ChannelRx(1), Correction{IQGain: 1}), ErrNotConfigured)
}

func TestSimTxKeepsLastTransfer(t *testing.T) {
	s := NewSim(config.SimConf{IQGain: 1})
	ch := ChannelTx(0)
	_, err := s.Configure(ch, simChannelConf(2))
	require.NoError(t, err)
	require.NoError(t, s.Enable(ch, true))

	buf := []int16{1, 2, 3, 4, 5, 6}
	require.NoError(t, s.Transfer(ch, buf, 2, time.Second))
	buf[0] = 99
	assert.Equal(t, []int16{1, 2, 3, 4}, s.LastTransfer(ch))
	assert.Equal(t, uint64(2), s.Samples(ch))
	assert.Nil(t, s.LastTransfer(ChannelTx(3)))
}

func TestDCOffsetIsRelativeToFullRange(t *testing.T) {
	i, q := dcOffset(100, -2047)
	assert.InDelta(t, 100.0/2047, i, 1e-12)
	assert.InDelta(t, -1.0, q, 1e-12)

	i, q = dcOffset(0, 0)
	assert.Zero(t, i)
	assert.Zero(t, q)

	// Anything the converters can represent stays inside SoapySDR's [-1, 1].
	i, q = dcOffset(2047, 1)
	assert.LessOrEqual(t, i, 1.0)
	assert.InDelta(t, 1.0/2047, q, 1e-12)
}

func TestSoapyStreamWindowReusesScratch(t *testing.T) {
	s := newSoapyStream(nil)
	buf := []int16{1, 2, 3, 4, 5, 6, 7, 8}

	w := s.remaining(buf, 1, 4)
	require.Len(t, w, 1)
	assert.Equal(t, []int16{3, 4, 5, 6, 7, 8}, w[0])

	allocs := testing.AllocsPerRun(100, func() {
		s.remaining(buf, 2, 4)
	})
	assert.Zero(t, allocs)
	assert.Equal(t, []int16{5, 6, 7, 8}, s.window[0])
	assert.Len(t, s.flags, 1)
}

func TestLogModulesReportsLibrary(t *testing.T) {
	var lines []string
	logModules(func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	})
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "SoapySDR")
	assert.Contains(t, lines[0], "ABI")
}
