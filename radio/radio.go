package radio

import (
	"errors"
	"fmt"
	"time"

	"github.com/jrwynneiii/sdrfifo/config"
	"hz.tools/rf"
)

var (
	ErrNotConfigured     = errors.New("channel not configured")
	ErrNotEnabled        = errors.New("channel not enabled")
	ErrUnsupportedDriver = errors.New("unsupported radio driver")
)

type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "Tx"
	}
	return "Rx"
}

// Channel addresses one converter path of a device.
type Channel struct {
	Dir   Direction
	Index uint
}

func ChannelRx(index uint) Channel { return Channel{Dir: RX, Index: index} }
func ChannelTx(index uint) Channel { return Channel{Dir: TX, Index: index} }

func (c Channel) String() string {
	return fmt.Sprintf("%s%d", c.Dir, c.Index)
}

// StreamConf sizes the driver side DMA ring. BlockLen is the number of samples moved by every
// Transfer call.
type StreamConf struct {
	BlockLen  int
	Buffers   int
	Transfers int
	Timeout   time.Duration
	Discard   int
}

// ChannelConf is what a pipeline asks of its channel. Configure reports the values the hardware
// actually settled on in the same shape.
type ChannelConf struct {
	Frequency  rf.Hz
	Bandwidth  rf.Hz
	SampleRate rf.Hz
	Gain       float64
	Stream     StreamConf
}

// Correction is pushed to hardware that can remove impairments itself.
type Correction struct {
	DCOffsetI float64
	DCOffsetQ float64
	IQPhase   float64
	IQGain    float64
}

// Handle is a radio front end. Rx and Tx may be driven from different goroutines as long as each
// channel is only used by one of them.
type Handle interface {
	// Configure tunes the channel and records its stream layout.
	Configure(ch Channel, conf ChannelConf) (ChannelConf, error)
	// SetCorrection programs hardware DC offset and I/Q balance correction.
	SetCorrection(ch Channel, corr Correction) error
	// Enable starts or stops streaming on a configured channel.
	Enable(ch Channel, on bool) error
	// Transfer blocks until samples interleaved I/Q pairs have been received into, or sent from,
	// buf.
	Transfer(ch Channel, buf []int16, samples int, timeout time.Duration) error
	Close() error
}

// ChannelFromConfig converts the file representation of a channel.
func ChannelFromConfig(c config.ChannelConf, hw config.HardwareConf) ChannelConf {
	return ChannelConf{
		Frequency:  rf.Hz(c.Frequency),
		Bandwidth:  rf.Hz(c.Bandwidth),
		SampleRate: rf.Hz(c.SampleRate),
		Gain:       c.Gain,
		Stream: StreamConf{
			BlockLen:  hw.BlockLen,
			Buffers:   hw.Buffers,
			Transfers: hw.Transfers,
			Timeout:   time.Duration(hw.TimeoutMs) * time.Millisecond,
			Discard:   hw.RxDiscard,
		},
	}
}

// Open creates the handle for a device. serial selects a board when several are attached.
func Open(conf config.RadioConf, serial string) (Handle, error) {
	switch conf.Driver {
	case "sim":
		return NewSim(conf.Sim), nil
	case "":
		return nil, fmt.Errorf("%w: no driver configured", ErrUnsupportedDriver)
	default:
		r, err := OpenSoapy(conf, serial)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// OpenPair opens the Rx and Tx devices. Boards that share a serial number are opened once.
func OpenPair(conf config.RadioConf) (rx Handle, tx Handle, err error) {
	tx, err = Open(conf, conf.TxSerial)
	if err != nil {
		return nil, nil, err
	}
	if conf.RxSerial == conf.TxSerial {
		return tx, tx, nil
	}
	rx, err = Open(conf, conf.RxSerial)
	if err != nil {
		tx.Close()
		return nil, nil, err
	}
	return rx, tx, nil
}

func checkBuffer(buf []int16, samples int) error {
	if samples <= 0 || len(buf) < 2*samples {
		return fmt.Errorf("buffer of %d values cannot hold %d samples", len(buf), samples)
	}
	return nil
}
