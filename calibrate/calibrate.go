// Package calibrate estimates the DC offset and I/Q imbalance of a receive channel from raw
// converter samples. The estimates use the same model the correction inverts:
//
//	I_m = I + dcI
//	Q_m = g * (sin(phi)*I + cos(phi)*Q) + dcQ
//
// For a signal whose I and Q are uncorrelated with equal power, the channel means are the offsets,
// the ratio of standard deviations is g and the I/Q correlation coefficient is sin(phi).
package calibrate

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sdrfifo/dsp"
	"github.com/jrwynneiii/sdrfifo/radio"
	"gonum.org/v1/gonum/stat"
)

var ErrTooFewSamples = errors.New("not enough signal to estimate impairments")

// Collector accumulates interleaved samples for estimation.
type Collector struct {
	i []float64
	q []float64
}

func NewCollector(capacity int) *Collector {
	return &Collector{
		i: make([]float64, 0, capacity),
		q: make([]float64, 0, capacity),
	}
}

// Add appends the samples of an interleaved I/Q block.
func (c *Collector) Add(iq []int16) {
	for n := 0; n+1 < len(iq); n += 2 {
		c.i = append(c.i, float64(iq[n]))
		c.q = append(c.q, float64(iq[n+1]))
	}
}

func (c *Collector) Len() int {
	return len(c.i)
}

// Measurement estimates the impairments of everything added so far.
func (c *Collector) Measurement() (dsp.Measurement, error) {
	if len(c.i) < 2 {
		return dsp.Measurement{}, fmt.Errorf("%w: %d samples", ErrTooFewSamples, len(c.i))
	}
	meanI, sdI := stat.MeanStdDev(c.i, nil)
	meanQ, sdQ := stat.MeanStdDev(c.q, nil)
	if sdI == 0 || sdQ == 0 {
		return dsp.Measurement{}, fmt.Errorf("%w: flat channel (sdI=%v, sdQ=%v)", ErrTooFewSamples, sdI, sdQ)
	}
	rho := stat.Correlation(c.i, c.q, nil)
	rho = max(min(rho, 1), -1)

	m := dsp.Measurement{
		DCOffsetI: meanI,
		DCOffsetQ: meanQ,
		IQGain:    sdQ / sdI,
		IQPhase:   math.Asin(rho) * 180 / math.Pi,
	}
	log.Debugf("Estimated over %d samples: %+v", len(c.i), m)
	return m, nil
}

// Capture configures ch, streams blocks hardware blocks from it and returns them collected.
func Capture(r radio.Handle, ch radio.Channel, conf radio.ChannelConf, blocks int) (*Collector, error) {
	if blocks <= 0 {
		return nil, fmt.Errorf("%w: %d blocks", ErrTooFewSamples, blocks)
	}
	if _, err := r.Configure(ch, conf); err != nil {
		return nil, err
	}
	hwLen := conf.Stream.BlockLen
	buf := make([]int16, 2*hwLen)
	c := NewCollector(blocks * hwLen)

	if err := r.Enable(ch, true); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Enable(ch, false); err != nil {
			log.Errorf("Could not disable %s: %v", ch, err)
		}
	}()

	for n := range blocks {
		if err := r.Transfer(ch, buf, hwLen, conf.Stream.Timeout); err != nil {
			return nil, fmt.Errorf("capture block %d: %w", n, err)
		}
		c.Add(buf)
	}
	log.Infof("Captured %d samples from %s", c.Len(), ch)
	return c, nil
}

// HCL renders m as a config section that can be pasted into config.hcl.
func HCL(section string, m dsp.Measurement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s {\n", section)
	fmt.Fprintf(&b, "  dc_offset_i = %.4f\n", m.DCOffsetI)
	fmt.Fprintf(&b, "  dc_offset_q = %.4f\n", m.DCOffsetQ)
	fmt.Fprintf(&b, "  iq_gain     = %.6f\n", m.IQGain)
	fmt.Fprintf(&b, "  iq_phase    = %.4f\n", m.IQPhase)
	b.WriteString("}\n")
	return b.String()
}
