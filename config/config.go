package config

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/v2"
)

var ErrInvalid = errors.New("invalid configuration")

type FifoConf struct {
	Transport  string `koanf:"transport"`
	Rx         string `koanf:"rx"`
	Tx         string `koanf:"tx"`
	TxFeedback string `koanf:"tx_feedback"`
	BlockLen   int    `koanf:"block_len"`
	Depth      int    `koanf:"depth"`
}

type SimConf struct {
	ToneHz    float64 `koanf:"tone_hz"`
	Amplitude float64 `koanf:"amplitude"`
	DCOffsetI float64 `koanf:"dc_offset_i"`
	DCOffsetQ float64 `koanf:"dc_offset_q"`
	IQGain    float64 `koanf:"iq_gain"`
	IQPhase   float64 `koanf:"iq_phase"`
}

type RadioConf struct {
	Driver     string  `koanf:"driver"`
	Address    string  `koanf:"address"`
	RxSerial   string  `koanf:"rx_serial"`
	TxSerial   string  `koanf:"tx_serial"`
	Correction string  `koanf:"correction"`
	Sim        SimConf `koanf:"sim"`
}

type ChannelConf struct {
	Frequency  float64 `koanf:"frequency"`
	Bandwidth  float64 `koanf:"bandwidth"`
	SampleRate float64 `koanf:"sample_rate"`
	Gain       float64 `koanf:"gain"`
	Channel    uint    `koanf:"channel"`
	CPU        int     `koanf:"cpu"`
	DCOffsetI  float64 `koanf:"dc_offset_i"`
	DCOffsetQ  float64 `koanf:"dc_offset_q"`
	IQGain     float64 `koanf:"iq_gain"`
	IQPhase    float64 `koanf:"iq_phase"`
}

type HardwareConf struct {
	BlockLen  int `koanf:"block_len"`
	Buffers   int `koanf:"buffers"`
	Transfers int `koanf:"transfers"`
	TimeoutMs int `koanf:"timeout_ms"`
	RxDiscard int `koanf:"rx_discard"`
}

type SampleConf struct {
	FullScale float64 `koanf:"full_scale"`
	Saturate  bool    `koanf:"saturate"`
}

type TuiConf struct {
	RefreshMs       int     `koanf:"refresh_ms"`
	LagWarnPct      float64 `koanf:"lag_warn_pct"`
	LagCritPct      float64 `koanf:"lag_crit_pct"`
	PlotPoints      int     `koanf:"plot_points"`
	EnableLogOutput bool    `koanf:"enable_log_output"`
}

type Conf struct {
	Fifo     FifoConf     `koanf:"fifo"`
	Radio    RadioConf    `koanf:"radio"`
	Rx       ChannelConf  `koanf:"rx"`
	Tx       ChannelConf  `koanf:"tx"`
	Hardware HardwareConf `koanf:"hardware"`
	Samples  SampleConf   `koanf:"samples"`
	Tui      TuiConf      `koanf:"tui"`
	Verbose  bool         `koanf:"verbose"`
}

func defaultChannel() ChannelConf {
	return ChannelConf{
		Frequency:  2.4e9,
		Bandwidth:  56e6,
		SampleRate: 61.44e6,
		CPU:        -1,
		IQGain:     1,
	}
}

// Default returns the settings used when a key is absent from every source.
func Default() Conf {
	return Conf{
		Fifo: FifoConf{
			Transport: "pipe",
			BlockLen:  512,
			Depth:     8,
		},
		Radio: RadioConf{
			Driver:     "bladerf",
			Correction: "software",
			Sim: SimConf{
				ToneHz:    1e6,
				Amplitude: 1500,
				IQGain:    1,
			},
		},
		Rx: defaultChannel(),
		Tx: defaultChannel(),
		Hardware: HardwareConf{
			BlockLen:  16384,
			Buffers:   32,
			Transfers: 16,
			TimeoutMs: 1000,
		},
		Samples: SampleConf{
			FullScale: 1,
		},
		Tui: TuiConf{
			RefreshMs:       500,
			LagWarnPct:      10,
			LagCritPct:      50,
			PlotPoints:      120,
			EnableLogOutput: true,
		},
	}
}

// Load overlays whatever k holds on top of the defaults and validates the result.
func Load(k *koanf.Koanf) (Conf, error) {
	c := Default()
	if err := k.Unmarshal("", &c); err != nil {
		return c, fmt.Errorf("could not decode config: %w", err)
	}
	return c, c.Validate()
}

// RxEnabled reports whether an Rx FIFO was named.
func (c Conf) RxEnabled() bool {
	return c.Fifo.Rx != ""
}

// TxEnabled reports whether a Tx FIFO was named.
func (c Conf) TxEnabled() bool {
	return c.Fifo.Tx != ""
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (ch ChannelConf) validate(name string) error {
	switch {
	case ch.Frequency <= 1:
		return invalid("%s.frequency must be positive", name)
	case ch.Bandwidth <= 1:
		return invalid("%s.bandwidth must be positive", name)
	case ch.SampleRate <= 1:
		return invalid("%s.sample_rate must be positive", name)
	case ch.CPU < -1:
		return invalid("%s.cpu must be -1 or a cpu index", name)
	case ch.IQGain <= 0:
		return invalid("%s.iq_gain must be positive", name)
	case ch.IQPhase <= -90 || ch.IQPhase >= 90:
		return invalid("%s.iq_phase must be within (-90, 90) degrees", name)
	}
	return nil
}

func (c Conf) Validate() error {
	if c.Fifo.BlockLen <= 0 {
		return invalid("fifo.block_len must be positive")
	}
	if c.Fifo.Depth <= 0 {
		return invalid("fifo.depth must be positive")
	}
	if c.TxEnabled() && c.Fifo.TxFeedback == "" {
		return invalid("fifo.tx_feedback is required when fifo.tx is set")
	}
	if c.Samples.FullScale <= 0 {
		return invalid("samples.full_scale must be positive")
	}
	if c.Hardware.BlockLen <= 0 || c.Hardware.Buffers <= 0 || c.Hardware.Transfers <= 0 {
		return invalid("hardware block_len, buffers and transfers must be positive")
	}
	if c.Hardware.TimeoutMs < 0 {
		return invalid("hardware.timeout_ms must not be negative")
	}
	switch c.Radio.Correction {
	case "software", "hardware":
	default:
		return invalid("radio.correction must be software or hardware, got %q", c.Radio.Correction)
	}
	if (c.Radio.RxSerial == "") != (c.Radio.TxSerial == "") {
		return invalid("radio.rx_serial and radio.tx_serial must be given together")
	}
	if c.Tui.RefreshMs <= 0 {
		return invalid("tui.refresh_ms must be positive")
	}
	if c.Tui.PlotPoints <= 0 {
		return invalid("tui.plot_points must be positive")
	}
	if err := c.Rx.validate("rx"); err != nil {
		return err
	}
	return c.Tx.validate("tx")
}
