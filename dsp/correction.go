package dsp

import (
	"fmt"
	"math"

	"github.com/tphakala/simd/f32"
)

// FullRange is the largest magnitude the SC16 Q11 converters represent symmetrically.
const FullRange = 2047

// Measurement holds the per-channel impairments measured on the hardware. DC offsets are in
// converter units, phase is in degrees.
type Measurement struct {
	DCOffsetI float64
	DCOffsetQ float64
	IQGain    float64
	IQPhase   float64
}

// Coefficients undo the impairment model
//
//	I_m = I
//	Q_m = g * (sin(phi)*I + cos(phi)*Q)
//
// with re' = A*re and im' = C*re + D*im. They are computed once and never mutated.
type Coefficients struct {
	A   float32
	C   float32
	D   float32
	DCI float32
	DCQ float32
}

// Identity returns coefficients that leave samples untouched apart from scaling.
func Identity() Coefficients {
	return Coefficients{A: 1, C: 0, D: 1}
}

// IQImbalance derives the 2x2 correction from a gain ratio and a phase error in degrees.
func IQImbalance(gain, phaseDeg float64) (a, c, d float64) {
	phi := phaseDeg * math.Pi / 180
	a = 1
	c = -math.Tan(phi)
	d = 1 / (gain * math.Cos(phi))
	return a, c, d
}

// NewCoefficients validates a measurement and precomputes its correction.
func NewCoefficients(m Measurement) (Coefficients, error) {
	if m.IQGain <= 0 || math.IsNaN(m.IQGain) || math.IsInf(m.IQGain, 0) {
		return Coefficients{}, fmt.Errorf("iq gain must be positive and finite, got %v", m.IQGain)
	}
	if math.Abs(m.IQPhase) >= 90 || math.IsNaN(m.IQPhase) {
		return Coefficients{}, fmt.Errorf("iq phase must be within (-90, 90) degrees, got %v", m.IQPhase)
	}
	a, c, d := IQImbalance(m.IQGain, m.IQPhase)
	return Coefficients{
		A:   float32(a),
		C:   float32(c),
		D:   float32(d),
		DCI: float32(m.DCOffsetI),
		DCQ: float32(m.DCOffsetQ),
	}, nil
}

func (c Coefficients) String() string {
	return fmt.Sprintf("DC Offset (I, Q)=(%5.2f, %5.2f), Correction (A, C, D)=(%5.2f, %5.2f, %5.2f)", c.DCI, c.DCQ, c.A, c.C, c.D)
}

// RxCorrector turns raw converter samples into full-scale normalised floats. DC removal and
// range scaling happen before the imbalance inverse.
type RxCorrector struct {
	coef  Coefficients
	scale float32
	ca    float32
	cc    float32
	cd    float32
}

func NewRxCorrector(coef Coefficients, fullScale float32) *RxCorrector {
	scale := fullScale / FullRange
	return &RxCorrector{
		coef:  coef,
		scale: scale,
		ca:    coef.A * scale,
		cc:    coef.C * scale,
		cd:    coef.D * scale,
	}
}

// Correct applies the Rx correction to a single sample.
func (r *RxCorrector) Correct(xRe, xIm int16) (float32, float32) {
	re := float32(xRe) - r.coef.DCI
	im := float32(xIm) - r.coef.DCQ
	return r.ca * re, r.cc*re + r.cd*im
}

// Block corrects len(re) interleaved samples from iq into the planar re and im slices.
func (r *RxCorrector) Block(re, im []float32, iq []int16) {
	n := len(re)
	im = im[:n]
	iq = iq[:2*n]
	for i := range n {
		re[i] = float32(iq[2*i]) - r.coef.DCI
		im[i] = float32(iq[2*i+1]) - r.coef.DCQ
	}
	f32.Scale(im, im, r.cd)
	if r.cc != 0 {
		for i := range n {
			im[i] += r.cc * re[i]
		}
	}
	f32.Scale(re, re, r.ca)
}

// TxCorrector pre-distorts normalised floats and quantizes them for the converter. Imbalance
// correction comes first, then range scaling, then DC removal.
type TxCorrector struct {
	coef     Coefficients
	ca       float32
	cc       float32
	cd       float32
	saturate bool
}

func NewTxCorrector(coef Coefficients, fullScale float32, saturate bool) *TxCorrector {
	scale := FullRange / fullScale
	return &TxCorrector{
		coef:     coef,
		ca:       coef.A * scale,
		cc:       coef.C * scale,
		cd:       coef.D * scale,
		saturate: saturate,
	}
}

// Scaled returns the pre-quantization value of a sample in converter units.
func (t *TxCorrector) Scaled(xRe, xIm float32) (float32, float32) {
	return t.ca*xRe - t.coef.DCI, t.cc*xRe + t.cd*xIm - t.coef.DCQ
}

// Correct applies the Tx correction and quantizes the result.
func (t *TxCorrector) Correct(xRe, xIm float32) (int16, int16) {
	re, im := t.Scaled(xRe, xIm)
	return Quantize(re, t.saturate), Quantize(im, t.saturate)
}

// Block corrects the planar re and im slices into interleaved iq.
func (t *TxCorrector) Block(iq []int16, re, im []float32) {
	n := len(re)
	im = im[:n]
	iq = iq[:2*n]
	for i := range n {
		iq[2*i], iq[2*i+1] = t.Correct(re[i], im[i])
	}
}
