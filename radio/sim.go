package radio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sdrfifo/config"
	"github.com/jrwynneiii/sdrfifo/dsp"
)

// Sim is a radio without hardware. Rx synthesizes a tone carrying the configured DC offset and I/Q
// imbalance; Tx swallows samples and keeps the most recent transfer.
type Sim struct {
	conf     config.SimConf
	mu       sync.Mutex
	channels map[Channel]*simChannel
}

type simChannel struct {
	conf       ChannelConf
	corr       *dsp.Coefficients
	enabled    bool
	phaseAcc   uint32
	tuningWord uint32
	samples    uint64
	last       []int16
}

func NewSim(conf config.SimConf) *Sim {
	log.Debugf("Using simulated radio: tone=%v Hz amplitude=%v", conf.ToneHz, conf.Amplitude)
	return &Sim{
		conf:     conf,
		channels: make(map[Channel]*simChannel),
	}
}

func (s *Sim) channel(ch Channel) (*simChannel, error) {
	c, ok := s.channels[ch]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ch, ErrNotConfigured)
	}
	return c, nil
}

func (s *Sim) Configure(ch Channel, conf ChannelConf) (ChannelConf, error) {
	if conf.SampleRate <= 0 {
		return ChannelConf{}, fmt.Errorf("%s sample rate must be positive, got %s", ch, conf.SampleRate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[ch]
	if !ok {
		c = &simChannel{}
		s.channels[ch] = c
	}
	c.conf = conf
	// Tuning word = tone / rate * 2^32
	c.tuningWord = uint32(int64(s.conf.ToneHz / float64(conf.SampleRate) * 4294967296.0))
	return conf, nil
}

// SetCorrection makes the simulated Rx path remove the given impairments, the way a front end with
// hardware correction would.
func (s *Sim) SetCorrection(ch Channel, corr Correction) error {
	coef, err := dsp.NewCoefficients(dsp.Measurement{
		DCOffsetI: corr.DCOffsetI,
		DCOffsetQ: corr.DCOffsetQ,
		IQGain:    corr.IQGain,
		IQPhase:   corr.IQPhase,
	})
	if err != nil {
		return fmt.Errorf("%s correction: %w", ch, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	c.corr = &coef
	return nil
}

func (s *Sim) Enable(ch Channel, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	c.enabled = on
	return nil
}

func (s *Sim) Transfer(ch Channel, buf []int16, samples int, timeout time.Duration) error {
	if err := checkBuffer(buf, samples); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	if !c.enabled {
		return fmt.Errorf("%s: %w", ch, ErrNotEnabled)
	}

	if ch.Dir == TX {
		c.last = append(c.last[:0], buf[:2*samples]...)
	} else {
		s.synthesize(c, buf[:2*samples])
	}
	c.samples += uint64(samples)
	return nil
}

func (s *Sim) synthesize(c *simChannel, iq []int16) {
	phi := s.conf.IQPhase * math.Pi / 180
	sinPhi, cosPhi := math.Sincos(phi)
	for n := 0; n < len(iq); n += 2 {
		rads := float64(c.phaseAcc) * (2.0 * math.Pi / 4294967296.0)
		i := s.conf.Amplitude * math.Cos(rads)
		q := s.conf.Amplitude * math.Sin(rads)

		im := i + s.conf.DCOffsetI
		qm := s.conf.IQGain*(sinPhi*i+cosPhi*q) + s.conf.DCOffsetQ

		if c.corr != nil {
			x := im - float64(c.corr.DCI)
			y := qm - float64(c.corr.DCQ)
			im = float64(c.corr.A) * x
			qm = float64(c.corr.C)*x + float64(c.corr.D)*y
		}

		iq[n] = dsp.Quantize(float32(im), true)
		iq[n+1] = dsp.Quantize(float32(qm), true)
		c.phaseAcc += c.tuningWord
	}
}

// Samples reports how many samples a channel has moved.
func (s *Sim) Samples(ch Channel) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[ch]; ok {
		return c.samples
	}
	return 0
}

// LastTransfer returns a copy of the interleaved samples most recently sent on a Tx channel.
func (s *Sim) LastTransfer(ch Channel) []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[ch]; ok {
		return append([]int16(nil), c.last...)
	}
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.channels {
		c.enabled = false
	}
	return nil
}
