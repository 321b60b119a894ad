package pipeline

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sdrfifo/buffer"
	"github.com/jrwynneiii/sdrfifo/dsp"
	"github.com/jrwynneiii/sdrfifo/radio"
	"github.com/jrwynneiii/sdrfifo/reblock"
)

const rxPrefix = "[rx]"

// Rx moves samples from the radio into the application FIFO, correcting them on the way.
type Rx struct {
	Params
	radio radio.Handle
	stats *Stats
}

func NewRx(r radio.Handle, p Params) *Rx {
	return &Rx{Params: p, radio: r, stats: NewStats("rx")}
}

func (p *Rx) Stats() *Stats {
	return p.stats
}

// Run streams until tok is cancelled or a fatal error occurs, in which case tok is cancelled with
// that error. Complete application blocks produced by the last hardware block are still written;
// a partial block is dropped.
func (p *Rx) Run(tok *Token) (err error) {
	p.stats.setState(Configuring)
	defer func() {
		p.stats.setState(Stopped)
		if err != nil {
			err = fmt.Errorf("rx: %w", err)
			tok.Cancel(err)
		}
		log.Infof("%s Stopped", rxPrefix)
	}()

	unpin, err := pin(p.CPU)
	if err != nil {
		return err
	}
	defer unpin()

	if err := p.validate(); err != nil {
		return err
	}

	// The consumer must be attached before the hardware produces anything.
	log.Infof("%s Opening FIFO %s", rxPrefix, p.Name)
	prod, err := p.Fifo.OpenProducer(tok.Done(), p.Name, p.appBlockSize()*p.Depth)
	if err != nil {
		return attachErr(tok, rxPrefix, p.Name, err)
	}
	defer prod.Close()

	if err := configure(p.radio, p.Params, rxPrefix); err != nil {
		return err
	}
	coef, err := p.setup(p.radio, rxPrefix)
	if err != nil {
		return err
	}

	hwLen := p.Conf.Stream.BlockLen
	hwBuf, err := buffer.New(4 * hwLen)
	if err != nil {
		return err
	}
	defer hwBuf.Free()
	appBuf, err := buffer.New(p.appBlockSize())
	if err != nil {
		return err
	}
	defer appBuf.Free()

	engine, err := reblock.New(hwLen, p.BlockLen)
	if err != nil {
		return err
	}
	corrector := dsp.NewRxCorrector(coef, p.FullScale)

	iq := hwBuf.Int16s()
	planar := appBuf.Float32s()
	re, im := planar[:p.BlockLen], planar[p.BlockLen:]
	move := func(src, dst, n int) {
		corrector.Block(re[dst:dst+n], im[dst:dst+n], iq[2*src:2*(src+n)])
	}
	handoff := func() error {
		n, err := prod.Write(appBuf.Bytes(), p.appBlockSize(), 1)
		if err != nil {
			return fmt.Errorf("could not write to %s: %w", p.Name, err)
		}
		if n != 1 {
			return fmt.Errorf("short write to %s", p.Name)
		}
		p.stats.blocks.Add(1)
		return nil
	}

	log.Infof("%s Enabling %s", rxPrefix, p.Channel)
	if err := p.radio.Enable(p.Channel, true); err != nil {
		return err
	}
	defer func() {
		if derr := p.radio.Enable(p.Channel, false); derr != nil {
			log.Errorf("%s Could not disable %s: %v", rxPrefix, p.Channel, derr)
		}
	}()

	p.stats.setState(Streaming)
	log.Infof("%s Streaming %d sample hardware blocks into %d sample FIFO blocks", rxPrefix, hwLen, p.BlockLen)
	for !tok.Cancelled() {
		if err := p.radio.Transfer(p.Channel, iq, hwLen, p.Conf.Stream.Timeout); err != nil {
			return err
		}
		p.stats.transfers.Add(1)
		if p.Verbose {
			log.Debugf("%s Received %d samples, %d pending", rxPrefix, hwLen, engine.Pending())
		}
		if err := engine.Feed(move, handoff); err != nil {
			return err
		}
	}
	p.stats.setState(Draining)
	return nil
}
