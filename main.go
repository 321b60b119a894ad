package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sdrfifo/calibrate"
	"github.com/jrwynneiii/sdrfifo/config"
	"github.com/jrwynneiii/sdrfifo/dsp"
	"github.com/jrwynneiii/sdrfifo/fifo"
	"github.com/jrwynneiii/sdrfifo/pipeline"
	"github.com/jrwynneiii/sdrfifo/radio"
	"github.com/jrwynneiii/sdrfifo/tui"

	"github.com/knadh/koanf/v2"
)

var configFile = koanf.New(".")

func getConfigPath() string {
	if cli.Config != "" {
		return cli.Config
	}
	paths := []string{"/etc/sdrfifo/config.hcl"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config/sdrfifo/config.hcl"))
	}
	paths = append(paths, "./config.hcl")
	for _, path := range paths {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			log.Infof("Found config file: %s", path)
			return path
		}
	}
	log.Info("Config file not found!")
	return ""
}

// applyFlags lets the stream flags override whatever the config sources said.
func applyFlags() {
	s := cli.Stream
	set := func(key string, val any) {
		if err := configFile.Set(key, val); err != nil {
			log.Fatalf("Could not apply flag %s: %v", key, err)
		}
	}
	if s.Rx != "" {
		set("fifo.rx", s.Rx)
	}
	if s.Tx != "" {
		set("fifo.tx", s.Tx)
	}
	if s.Txfb != "" {
		set("fifo.tx_feedback", s.Txfb)
	}
	if s.BlockLen != nil {
		set("fifo.block_len", *s.BlockLen)
	}
	if s.FifoSize != nil {
		set("fifo.depth", *s.FifoSize)
	}
	if s.FullScale != nil {
		set("samples.full_scale", *s.FullScale)
	}
	if s.Saturate != nil {
		set("samples.saturate", *s.Saturate)
	}
	if s.RxCPU != nil {
		set("rx.cpu", *s.RxCPU)
	}
	if s.TxCPU != nil {
		set("tx.cpu", *s.TxCPU)
	}
	if cli.Verbose {
		set("verbose", true)
	}
}

func measurement(ch config.ChannelConf) dsp.Measurement {
	return dsp.Measurement{
		DCOffsetI: ch.DCOffsetI,
		DCOffsetQ: ch.DCOffsetQ,
		IQGain:    ch.IQGain,
		IQPhase:   ch.IQPhase,
	}
}

func pipelineParams(conf config.Conf, tr fifo.Transport, ch config.ChannelConf, c radio.Channel) pipeline.Params {
	return pipeline.Params{
		Fifo:               tr,
		BlockLen:           conf.Fifo.BlockLen,
		Depth:              conf.Fifo.Depth,
		FullScale:          float32(conf.Samples.FullScale),
		Saturate:           conf.Samples.Saturate,
		Channel:            c,
		Conf:               radio.ChannelFromConfig(ch, conf.Hardware),
		Measurement:        measurement(ch),
		HardwareCorrection: conf.Radio.Correction == "hardware",
		CPU:                ch.CPU,
		Verbose:            conf.Verbose,
	}
}

func coefficientsLabel(p pipeline.Params) string {
	coef, err := dsp.NewCoefficients(p.Measurement)
	if err != nil {
		return err.Error()
	}
	if p.HardwareCorrection {
		return "hardware: " + coef.String()
	}
	return coef.String()
}

// watchSignals cancels tok on the first SIGINT, SIGTERM or SIGABRT and exits on the second.
func watchSignals(tok *pipeline.Token) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	go func() {
		sig := <-sigs
		log.Infof("Caught %v, stopping pipelines", sig)
		tok.Cancel(nil)
		sig = <-sigs
		log.Fatalf("Caught %v again, exiting", sig)
	}()
}

func stream(conf config.Conf) error {
	if !conf.RxEnabled() && !conf.TxEnabled() {
		return fmt.Errorf("%w: neither an Rx nor a Tx FIFO was given", config.ErrInvalid)
	}
	tr, err := fifo.New(conf.Fifo.Transport)
	if err != nil {
		return err
	}

	var rxRadio, txRadio radio.Handle
	switch {
	case conf.RxEnabled() && conf.TxEnabled():
		rxRadio, txRadio, err = radio.OpenPair(conf.Radio)
	case conf.RxEnabled():
		rxRadio, err = radio.Open(conf.Radio, conf.Radio.RxSerial)
	default:
		txRadio, err = radio.Open(conf.Radio, conf.Radio.TxSerial)
	}
	if err != nil {
		return fmt.Errorf("could not open radio: %w", err)
	}
	defer func() {
		for _, h := range []radio.Handle{rxRadio, txRadio} {
			if h == nil {
				continue
			}
			if err := h.Close(); err != nil {
				log.Errorf("Could not close radio: %v", err)
			}
			if rxRadio == txRadio {
				break
			}
		}
	}()

	var runners []pipeline.Runner
	var sources []tui.Source
	if conf.RxEnabled() {
		p := pipelineParams(conf, tr, conf.Rx, radio.ChannelRx(conf.Rx.Channel))
		p.Name = conf.Fifo.Rx
		rx := pipeline.NewRx(rxRadio, p)
		runners = append(runners, rx)
		sources = append(sources, tui.Source{
			Stats: rx.Stats(), Fifo: p.Name, BlockLen: p.BlockLen, HwBlockLen: p.Conf.Stream.BlockLen,
			SampleRate: p.Conf.SampleRate, Coefficients: coefficientsLabel(p),
		})
	}
	if conf.TxEnabled() {
		p := pipelineParams(conf, tr, conf.Tx, radio.ChannelTx(conf.Tx.Channel))
		p.Name = conf.Fifo.Tx
		p.Feedback = conf.Fifo.TxFeedback
		tx := pipeline.NewTx(txRadio, p)
		runners = append(runners, tx)
		sources = append(sources, tui.Source{
			Stats: tx.Stats(), Fifo: p.Name, BlockLen: p.BlockLen, HwBlockLen: p.Conf.Stream.BlockLen,
			SampleRate: p.Conf.SampleRate, Coefficients: coefficientsLabel(p),
		})
	}

	tok := pipeline.NewToken()
	watchSignals(tok)

	if !cli.Stream.Tui {
		return pipeline.Run(tok, runners...)
	}

	done := make(chan struct{})
	var runErr error
	go func() {
		runErr = pipeline.Run(tok, runners...)
		close(done)
	}()
	tui.StartUI(sources, conf.Tui, done, func() { tok.Cancel(nil) })
	<-done
	return runErr
}

func calibrateRx(conf config.Conf, blocks int) error {
	h, err := radio.Open(conf.Radio, conf.Radio.RxSerial)
	if err != nil {
		return fmt.Errorf("could not open radio: %w", err)
	}
	defer h.Close()

	ch := radio.ChannelRx(conf.Rx.Channel)
	c, err := calibrate.Capture(h, ch, radio.ChannelFromConfig(conf.Rx, conf.Hardware), blocks)
	if err != nil {
		return err
	}
	m, err := c.Measurement()
	if err != nil {
		return err
	}
	fmt.Print(calibrate.HCL("rx", m))
	return nil
}

func main() {
	log.Info("Starting sdrfifo")
	flags := kong.Parse(&cli)
	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if cli.Profile {
		prof, err := os.Create("./cpu.pprof")
		if err != nil {
			log.Fatalf("Could not create profile: %v", err)
		}
		pprof.StartCPUProfile(prof)
		defer pprof.StopCPUProfile()
	}

	if err := config.LoadFile(configFile, getConfigPath()); err != nil {
		log.Errorf("Could not read config file: %v", err)
		log.Error("Attempting to use environment variables")
		if err := configFile.Load(config.EnvProvider(), nil); err != nil {
			log.Errorf("Could not read environment: %v", err)
		}
	}

	switch flags.Command() {
	case "probe":
		radio.LogAllSoapySDRDevices()

	case "stream":
		applyFlags()
		conf, err := config.Load(configFile)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if conf.Verbose {
			log.SetLevel(log.DebugLevel)
		}
		log.Debugf("Using config: %+v", conf)
		if err := stream(conf); err != nil {
			log.Fatalf("Streaming failed: %v", err)
		}

	case "calibrate":
		conf, err := config.Load(configFile)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if err := calibrateRx(conf, cli.Calibrate.Blocks); err != nil {
			log.Fatalf("Calibration failed: %v", err)
		}

	default:
		log.Info("Command not recognized")
	}
}
