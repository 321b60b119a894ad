package radio

// #cgo CFLAGS: -g -Wall
// #cgo LDFLAGS: -lSoapySDR
import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sdrfifo/config"
	"github.com/jrwynneiii/sdrfifo/dsp"
	"hz.tools/rf"

	"github.com/pothosware/go-soapy-sdr/pkg/device"
	"github.com/pothosware/go-soapy-sdr/pkg/modules"
	"github.com/pothosware/go-soapy-sdr/pkg/sdrlogger"
	"github.com/pothosware/go-soapy-sdr/pkg/version"
)

// Soapy drives any SoapySDR device with CS16 sync streams. SC16 Q11 hardware such as the bladeRF
// hands its native samples through unchanged.
type Soapy struct {
	Driver string
	Serial string

	args    map[string]string
	device  *device.SDRDevice
	mu      sync.Mutex
	conf    map[Channel]ChannelConf
	streams map[Channel]*soapyStream
}

// soapyStream keeps the per-transfer scratch next to the stream so Transfer does not allocate.
type soapyStream struct {
	*device.SDRStreamCS16
	flags  []int
	window [][]int16
}

func newSoapyStream(s *device.SDRStreamCS16) *soapyStream {
	return &soapyStream{
		SDRStreamCS16: s,
		flags:         make([]int, 1),
		window:        make([][]int16, 1),
	}
}

// remaining points the single channel window at the samples of buf not yet moved.
func (s *soapyStream) remaining(buf []int16, done, samples int) [][]int16 {
	s.window[0] = buf[2*done : 2*samples]
	return s.window
}

var initOnce sync.Once

// logModules reports the SoapySDR build and every module it loaded through logf, then quiets
// SoapySDR's own logger.
func logModules(logf func(string, ...any)) {
	logf("SoapySDR %s (ABI %s, API %s), modules under %v",
		version.GetLibVersion(), version.GetABIVersion(), version.GetAPIVersion(), modules.GetRootPath())
	for i, path := range modules.ListSearchPaths() {
		logf("SoapySDR search path #%d: %v", i, path)
	}
	found := modules.ListModules()
	if len(found) == 0 {
		logf("No SoapySDR modules found")
	}
	for _, module := range found {
		v := modules.GetModuleVersion(module)
		if v == "" {
			v = "[None]"
		}
		logf("Found SoapySDR module: %v, version: %v", module, v)
	}
	sdrlogger.SetLogLevel(sdrlogger.Error)
}

// LogAllSoapySDRDevices lists every module and device SoapySDR can see.
func LogAllSoapySDRDevices() {
	logModules(log.Infof)

	devices := device.Enumerate(nil)
	log.Infof("Found %d devices", len(devices))
	for idx, dev := range devices {
		args := map[string]string{"driver": dev["driver"]}
		if serial, ok := dev["serial"]; ok {
			args["serial"] = serial
		}
		log.Infof("Device #%d: driver=%s serial=%s label=%s", idx, dev["driver"], dev["serial"], dev["label"])
		sdr, err := device.Make(args)
		if err != nil {
			log.Errorf("SoapySDR could not open device #%d: %v", idx, err)
			continue
		}
		LogAvailSettings(sdr)
		if err := sdr.Unmake(); err != nil {
			log.Errorf("Could not close device #%d: %v", idx, err)
		}
	}
}

func LogAvailSettings(dev *device.SDRDevice) {
	log.Infof("Current settings:")
	settings := dev.GetSettingInfo()
	if len(settings) > 0 {
		for _, setting := range settings {
			log.Infof("\t- %s: %v", setting.Key, setting.Value)
		}
	}

	for _, dir := range []device.Direction{device.DirectionRX, device.DirectionTX} {
		numChannels := dev.GetNumChannels(dir)
		log.Infof("%v channel info:", dir)
		for channel := uint(0); channel < numChannels; channel++ {
			log.Infof("Channel %d:", channel)
			log.Infof("\tAvailable sample rates:")
			log.Infof("\t\t- %v", dev.GetSampleRate(dir, channel))
			for _, sampleRateRange := range dev.GetSampleRateRange(dir, channel) {
				log.Infof("\t\t- %v", sampleRateRange.ToString())
			}
			log.Infof("\tIQ Sample Types: %v", dev.GetStreamFormats(dir, channel))
		}
	}
}

// OpenSoapy makes the SoapySDR device selected by driver, address and serial.
func OpenSoapy(conf config.RadioConf, serial string) (*Soapy, error) {
	initOnce.Do(func() { logModules(log.Debugf) })

	r := &Soapy{
		Driver:  conf.Driver,
		Serial:  serial,
		args:    map[string]string{"driver": conf.Driver},
		conf:    make(map[Channel]ChannelConf),
		streams: make(map[Channel]*soapyStream),
	}
	if serial != "" {
		r.args["serial"] = serial
	}
	if conf.Driver == "rtltcp" {
		r.args["rtltcp"] = conf.Address
	}

	var err error
	if r.device, err = device.Make(r.args); err != nil {
		return nil, fmt.Errorf("could not create SoapySDR device %v: %w", r.args, err)
	}
	log.Debugf("Initialized device: %v", r.args)
	return r, nil
}

func soapyDirection(d Direction) device.Direction {
	if d == TX {
		return device.DirectionTX
	}
	return device.DirectionRX
}

func (r *Soapy) Configure(ch Channel, conf ChannelConf) (ChannelConf, error) {
	dir := soapyDirection(ch.Dir)

	log.Debugf("[%s] Setting frequency to %s", ch, conf.Frequency)
	if err := r.device.SetFrequency(dir, ch.Index, float64(conf.Frequency), nil); err != nil {
		return ChannelConf{}, fmt.Errorf("failed to set %s frequency = %s: %w", ch, conf.Frequency, err)
	}

	log.Debugf("[%s] Setting bandwidth to %s", ch, conf.Bandwidth)
	if err := r.device.SetBandwidth(dir, ch.Index, float64(conf.Bandwidth)); err != nil {
		return ChannelConf{}, fmt.Errorf("failed to set %s bandwidth = %s: %w", ch, conf.Bandwidth, err)
	}

	log.Debugf("[%s] Setting sample rate to %s", ch, conf.SampleRate)
	if err := r.device.SetSampleRate(dir, ch.Index, float64(conf.SampleRate)); err != nil {
		return ChannelConf{}, fmt.Errorf("failed to set %s sample rate = %s: %w", ch, conf.SampleRate, err)
	}

	// Manual gain on receive, the pipeline has no AGC of its own.
	if ch.Dir == RX {
		if err := r.device.SetGainMode(dir, ch.Index, false); err != nil {
			return ChannelConf{}, fmt.Errorf("failed to disable %s AGC: %w", ch, err)
		}
	}

	if err := r.device.SetGain(dir, ch.Index, conf.Gain); err != nil {
		return ChannelConf{}, fmt.Errorf("failed to set %s gain = %v: %w", ch, conf.Gain, err)
	}

	actual := ChannelConf{
		Frequency:  rf.Hz(r.device.GetFrequency(dir, ch.Index)),
		Bandwidth:  rf.Hz(r.device.GetBandwidth(dir, ch.Index)),
		SampleRate: rf.Hz(r.device.GetSampleRate(dir, ch.Index)),
		Gain:       r.device.GetGain(dir, ch.Index),
		Stream:     conf.Stream,
	}

	r.mu.Lock()
	r.conf[ch] = actual
	r.mu.Unlock()
	return actual, nil
}

// SetCorrection maps the correction onto SoapySDR's DC offset and complex I/Q balance. The balance
// factor carries the gain term in its real part and the phase cross term in its imaginary part.
func (r *Soapy) SetCorrection(ch Channel, corr Correction) error {
	dir := soapyDirection(ch.Dir)
	offsetI, offsetQ := dcOffset(corr.DCOffsetI, corr.DCOffsetQ)
	if err := r.device.SetDCOffset(dir, ch.Index, offsetI, offsetQ); err != nil {
		return fmt.Errorf("failed to set %s DC offset: %w", ch, err)
	}
	balanceI, balanceQ := balance(corr.IQGain, corr.IQPhase)
	if err := r.device.SetIQBalance(dir, ch.Index, balanceI, balanceQ); err != nil {
		return fmt.Errorf("failed to set %s IQ balance: %w", ch, err)
	}
	return nil
}

// dcOffset converts an offset in converter units to SoapySDR's relative scale, where 1.0 is full
// range.
func dcOffset(i, q float64) (float64, float64) {
	return i / dsp.FullRange, q / dsp.FullRange
}

func balance(gain, phaseDeg float64) (float64, float64) {
	_, c, d := dsp.IQImbalance(gain, phaseDeg)
	return d, c
}

func (r *Soapy) Enable(ch Channel, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conf, ok := r.conf[ch]
	if !ok {
		return fmt.Errorf("%s: %w", ch, ErrNotConfigured)
	}
	if on {
		return r.activate(ch, conf.Stream)
	}
	return r.deactivate(ch)
}

func (r *Soapy) activate(ch Channel, sc StreamConf) error {
	if _, ok := r.streams[ch]; ok {
		return nil
	}
	args := map[string]string{
		"buffers":   strconv.Itoa(sc.Buffers),
		"buflen":    strconv.Itoa(sc.BlockLen),
		"transfers": strconv.Itoa(sc.Transfers),
	}
	log.Debugf("[%s] Creating the IQ stream %v", ch, args)
	stream, err := r.device.SetupSDRStreamCS16(soapyDirection(ch.Dir), []uint{ch.Index}, args)
	if err != nil {
		return fmt.Errorf("could not setup %s stream: %w", ch, err)
	}
	log.Debugf("[%s] Activating IQ stream", ch)
	if err := stream.Activate(0, 0, 0); err != nil {
		stream.Close()
		return fmt.Errorf("could not activate the %s stream: %w", ch, err)
	}
	r.streams[ch] = newSoapyStream(stream)

	// Drop the first samples after activation; they hold whatever the converters settled through.
	if ch.Dir == RX && sc.Discard > 0 {
		scratch := make([]int16, 2*sc.Discard)
		flags := r.streams[ch].flags
		if _, _, err := stream.Read([][]int16{scratch}, uint(sc.Discard), flags, uint(sc.Timeout.Microseconds())); err != nil {
			log.Debugf("[%s] Discard read failed: %v", ch, err)
		}
	}
	return nil
}

func (r *Soapy) deactivate(ch Channel) error {
	stream, ok := r.streams[ch]
	if !ok {
		return nil
	}
	delete(r.streams, ch)
	log.Debugf("[%s] Deactivating IQ stream...", ch)
	if err := stream.Deactivate(0, 0); err != nil {
		stream.Close()
		return fmt.Errorf("could not deactivate the %s stream: %w", ch, err)
	}
	log.Debugf("[%s] Closing IQ stream...", ch)
	if err := stream.Close(); err != nil {
		return fmt.Errorf("could not close the %s stream: %w", ch, err)
	}
	return nil
}

func (r *Soapy) stream(ch Channel) (*soapyStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[ch]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ch, ErrNotEnabled)
	}
	return s, nil
}

// Transfer loops until every sample has been moved; SoapySDR may complete a call partially.
func (r *Soapy) Transfer(ch Channel, buf []int16, samples int, timeout time.Duration) error {
	if err := checkBuffer(buf, samples); err != nil {
		return err
	}
	stream, err := r.stream(ch)
	if err != nil {
		return err
	}
	timeoutUs := uint(timeout.Microseconds())
	done := 0
	for done < samples {
		window := stream.remaining(buf, done, samples)
		var n uint
		if ch.Dir == RX {
			_, n, err = stream.Read(window, uint(samples-done), stream.flags, timeoutUs)
		} else {
			n, err = stream.Write(window, uint(samples-done), stream.flags, 0, timeoutUs)
		}
		if err != nil {
			return fmt.Errorf("%s transfer failed after %d of %d samples: %w", ch, done, samples, err)
		}
		if n == 0 {
			return fmt.Errorf("%s transfer timed out after %d of %d samples", ch, done, samples)
		}
		done += int(n)
	}
	return nil
}

func (r *Soapy) Close() error {
	r.mu.Lock()
	for ch := range r.streams {
		if err := r.deactivate(ch); err != nil {
			log.Errorf("Could not stop %s: %v", ch, err)
		}
	}
	r.mu.Unlock()
	if r.device == nil {
		return nil
	}
	err := r.device.Unmake()
	r.device = nil
	return err
}
