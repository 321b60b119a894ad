// Package pipeline runs the two streaming directions between a radio and its application FIFOs.
// Each direction is driven by one goroutine locked to an OS thread; both stop when the shared
// Token is cancelled, and either cancels it when it fails.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sdrfifo/dsp"
	"github.com/jrwynneiii/sdrfifo/fifo"
	"github.com/jrwynneiii/sdrfifo/radio"
)

const (
	// tokenValue is the int32 written to the feedback FIFO for every consumed Tx block.
	tokenValue = 1
	tokenSize  = 4
)

// Params holds what a direction needs beyond its radio handle.
type Params struct {
	Fifo     fifo.Transport
	Name     string
	Feedback string
	BlockLen int
	// Depth is the FIFO capacity in application blocks.
	Depth     int
	FullScale float32
	Saturate  bool

	Channel     radio.Channel
	Conf        radio.ChannelConf
	Measurement dsp.Measurement
	// HardwareCorrection pushes the measurement to the radio and runs the pipeline with identity
	// coefficients.
	HardwareCorrection bool

	CPU     int
	Verbose bool
}

// appBlockSize is the byte size of one planar float32 application block.
func (p Params) appBlockSize() int {
	return 8 * p.BlockLen
}

func (p Params) validate() error {
	switch {
	case p.Fifo == nil:
		return errors.New("no fifo transport")
	case p.Name == "":
		return errors.New("no fifo name")
	case p.BlockLen <= 0:
		return fmt.Errorf("block length must be positive, got %d", p.BlockLen)
	case p.Depth <= 0:
		return fmt.Errorf("fifo depth must be positive, got %d", p.Depth)
	case p.FullScale <= 0:
		return fmt.Errorf("full scale must be positive, got %v", p.FullScale)
	case p.Conf.Stream.BlockLen <= 0:
		return fmt.Errorf("hardware block length must be positive, got %d", p.Conf.Stream.BlockLen)
	}
	return nil
}

// setup validates the measurement, programs hardware correction if asked to, and returns the
// coefficients the pipeline applies itself.
func (p Params) setup(r radio.Handle, prefix string) (dsp.Coefficients, error) {
	coef, err := dsp.NewCoefficients(p.Measurement)
	if err != nil {
		return coef, err
	}
	if !p.HardwareCorrection {
		log.Infof("%s Software correction: %s", prefix, coef)
		return coef, nil
	}
	err = r.SetCorrection(p.Channel, radio.Correction{
		DCOffsetI: p.Measurement.DCOffsetI,
		DCOffsetQ: p.Measurement.DCOffsetQ,
		IQGain:    p.Measurement.IQGain,
		IQPhase:   p.Measurement.IQPhase,
	})
	if err != nil {
		return coef, err
	}
	log.Infof("%s Hardware correction: %s", prefix, coef)
	return dsp.Identity(), nil
}

func configure(r radio.Handle, p Params, prefix string) error {
	actual, err := r.Configure(p.Channel, p.Conf)
	if err != nil {
		return err
	}
	if p.Verbose {
		log.Infof("%s Frequency: requested %s, actual %s", prefix, p.Conf.Frequency, actual.Frequency)
		log.Infof("%s Bandwidth: requested %s, actual %s", prefix, p.Conf.Bandwidth, actual.Bandwidth)
		log.Infof("%s Sample rate: requested %s, actual %s", prefix, p.Conf.SampleRate, actual.SampleRate)
		log.Infof("%s Gain: requested %v, actual %v", prefix, p.Conf.Gain, actual.Gain)
	}
	return nil
}

// attachErr wraps a failed FIFO open. An open released by tok being cancelled is a clean stop.
func attachErr(tok *Token, prefix, name string, err error) error {
	if tok.Cancelled() && errors.Is(err, fifo.ErrClosed) {
		log.Infof("%s Stopped while waiting for %s", prefix, name)
		return nil
	}
	return fmt.Errorf("could not open %s: %w", name, err)
}

// closeOnCancel closes c when tok is cancelled so a pipeline parked in FIFO I/O wakes up. The
// returned func closes c if that has not happened yet and stops the watcher.
func closeOnCancel(tok *Token, c interface{ Close() error }) func() {
	var once sync.Once
	closeIt := func() {
		once.Do(func() { c.Close() })
	}
	quit := make(chan struct{})
	go func() {
		select {
		case <-tok.Done():
			closeIt()
		case <-quit:
		}
	}()
	return func() {
		close(quit)
		closeIt()
	}
}

// Runner is a pipeline direction.
type Runner interface {
	Run(tok *Token) error
	Stats() *Stats
}

// Run starts every runner on its own goroutine and waits for all of them. The result joins every
// pipeline error.
func Run(tok *Token, runners ...Runner) error {
	errs := make([]error, len(runners))
	var wg sync.WaitGroup
	for i, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.Run(tok)
		}()
	}
	wg.Wait()
	for _, r := range runners {
		log.Info(r.Stats().Snapshot().String())
	}
	return errors.Join(errs...)
}
