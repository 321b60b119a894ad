package pipeline

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sdrfifo/buffer"
	"github.com/jrwynneiii/sdrfifo/dsp"
	"github.com/jrwynneiii/sdrfifo/fifo"
	"github.com/jrwynneiii/sdrfifo/radio"
	"github.com/jrwynneiii/sdrfifo/reblock"
)

const txPrefix = "[tx]"

// Tx moves samples from the application FIFO to the radio and returns one feedback token per
// consumed block.
type Tx struct {
	Params
	radio radio.Handle
	stats *Stats
}

func NewTx(r radio.Handle, p Params) *Tx {
	return &Tx{Params: p, radio: r, stats: NewStats("tx")}
}

func (p *Tx) Stats() *Stats {
	return p.stats
}

// Run streams until the application closes its end of the FIFO, tok is cancelled or a fatal error
// occurs. Samples left in a partially filled hardware block are not sent.
func (p *Tx) Run(tok *Token) (err error) {
	p.stats.setState(Configuring)
	defer func() {
		p.stats.setState(Stopped)
		if err != nil {
			err = fmt.Errorf("tx: %w", err)
			tok.Cancel(err)
		}
		log.Infof("%s Stopped", txPrefix)
	}()

	unpin, err := pin(p.CPU)
	if err != nil {
		return err
	}
	defer unpin()

	if err := p.validate(); err != nil {
		return err
	}
	if p.Feedback == "" {
		return errors.New("no feedback fifo name")
	}

	// Feedback first: the application opens it before it starts producing data.
	log.Infof("%s Opening feedback FIFO %s", txPrefix, p.Feedback)
	feedback, err := p.Fifo.OpenProducer(tok.Done(), p.Feedback, tokenSize*p.Depth)
	if err != nil {
		return attachErr(tok, txPrefix, p.Feedback, err)
	}
	defer feedback.Close()

	log.Infof("%s Opening FIFO %s", txPrefix, p.Name)
	data, err := p.Fifo.OpenConsumer(tok.Done(), p.Name, p.appBlockSize()*p.Depth)
	if err != nil {
		return attachErr(tok, txPrefix, p.Name, err)
	}
	release := closeOnCancel(tok, data)
	defer release()

	if err := configure(p.radio, p.Params, txPrefix); err != nil {
		return err
	}
	coef, err := p.setup(p.radio, txPrefix)
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
	tokenBuf, err := buffer.New(tokenSize)
	if err != nil {
		return err
	}
	defer tokenBuf.Free()
	tokenBuf.Int32s()[0] = tokenValue

	engine, err := reblock.New(p.BlockLen, hwLen)
	if err != nil {
		return err
	}
	corrector := dsp.NewTxCorrector(coef, p.FullScale, p.Saturate)

	iq := hwBuf.Int16s()
	planar := appBuf.Float32s()
	re, im := planar[:p.BlockLen], planar[p.BlockLen:]
	move := func(src, dst, n int) {
		corrector.Block(iq[2*dst:2*(dst+n)], re[src:src+n], im[src:src+n])
	}
	handoff := func() error {
		if err := p.radio.Transfer(p.Channel, iq, hwLen, p.Conf.Stream.Timeout); err != nil {
			return err
		}
		p.stats.transfers.Add(1)
		if p.Verbose {
			log.Debugf("%s Sent %d samples", txPrefix, hwLen)
		}
		return nil
	}

	log.Infof("%s Enabling %s", txPrefix, p.Channel)
	if err := p.radio.Enable(p.Channel, true); err != nil {
		return err
	}
	defer func() {
		if derr := p.radio.Enable(p.Channel, false); derr != nil {
			log.Errorf("%s Could not disable %s: %v", txPrefix, p.Channel, derr)
		}
	}()

	p.stats.setState(Streaming)
	log.Infof("%s Streaming %d sample FIFO blocks into %d sample hardware blocks", txPrefix, p.BlockLen, hwLen)
	for !tok.Cancelled() {
		n, err := data.Read(appBuf.Bytes(), p.appBlockSize(), 1)
		if err != nil {
			if tok.Cancelled() && errors.Is(err, fifo.ErrClosed) {
				break
			}
			return fmt.Errorf("could not read from %s: %w", p.Name, err)
		}
		if n != 1 {
			log.Infof("%s End of stream on %s", txPrefix, p.Name)
			break
		}
		p.stats.blocks.Add(1)

		if err := engine.Feed(move, handoff); err != nil {
			return err
		}

		n, err = feedback.Write(tokenBuf.Bytes(), tokenSize, 1)
		if err != nil {
			return fmt.Errorf("could not write token to %s: %w", p.Feedback, err)
		}
		if n != 1 {
			return fmt.Errorf("short token write to %s", p.Feedback)
		}
		p.stats.tokens.Add(1)
	}
	return nil
}
