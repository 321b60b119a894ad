package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityMeasurementDegenerates(t *testing.T) {
	coef, err := NewCoefficients(Measurement{IQGain: 1})
	require.NoError(t, err)
	assert.Equal(t, Identity(), coef)
}

func TestCoefficientsDeterministic(t *testing.T) {
	m := Measurement{DCOffsetI: 3.5, DCOffsetQ: -2, IQGain: 1.07, IQPhase: 4.2}
	first, err := NewCoefficients(m)
	require.NoError(t, err)
	second, err := NewCoefficients(m)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rx1 := NewRxCorrector(first, 1)
	rx2 := NewRxCorrector(second, 1)
	for x := int16(-2047); x <= 2047; x += 97 {
		re1, im1 := rx1.Correct(x, -x/2)
		re2, im2 := rx2.Correct(x, -x/2)
		assert.Equal(t, re1, re2)
		assert.Equal(t, im1, im2)
	}
}

func TestCoefficientsRejectBadMeasurements(t *testing.T) {
	tests := []Measurement{
		{IQGain: 0},
		{IQGain: -1},
		{IQGain: math.Inf(1)},
		{IQGain: 1, IQPhase: 90},
		{IQGain: 1, IQPhase: -120},
	}
	for _, m := range tests {
		_, err := NewCoefficients(m)
		assert.Error(t, err, "%+v", m)
	}
}

func TestRxIdentityCorrection(t *testing.T) {
	for _, fullScale := range []float32{1, 0.5, 32767} {
		rx := NewRxCorrector(Identity(), fullScale)
		for x := int16(-2047); x <= 2047; x += 13 {
			re, im := rx.Correct(x, -x)
			assert.InDelta(t, float64(x)*float64(fullScale)/FullRange, re, 1e-6*float64(fullScale))
			assert.InDelta(t, -float64(x)*float64(fullScale)/FullRange, im, 1e-6*float64(fullScale))
		}
	}
}

func TestTxIdentityCorrection(t *testing.T) {
	tx := NewTxCorrector(Identity(), 1, false)
	for _, v := range []float32{-1, -0.5, -0.001, 0, 0.25, 0.999, 1} {
		re, im := tx.Scaled(v, -v)
		assert.InDelta(t, v*FullRange, re, 1e-3)
		assert.InDelta(t, -v*FullRange, im, 1e-3)
	}
}

// The Tx pre-distortion followed by the hardware impairment should give back the input sample.
func TestTxPredistortionCancelsImpairment(t *testing.T) {
	gain, phaseDeg := 1.1, 5.0
	coef, err := NewCoefficients(Measurement{IQGain: gain, IQPhase: phaseDeg})
	require.NoError(t, err)
	tx := NewTxCorrector(coef, 1, false)

	phi := phaseDeg * math.Pi / 180
	for _, s := range [][2]float32{{0.3, 0.1}, {-0.2, 0.4}, {0.05, -0.6}} {
		re, im := tx.Scaled(s[0], s[1])
		outI := float64(re)
		outQ := gain * (math.Sin(phi)*float64(re) + math.Cos(phi)*float64(im))
		assert.InDelta(t, float64(s[0])*FullRange, outI, 1e-2)
		assert.InDelta(t, float64(s[1])*FullRange, outQ, 1e-2)
	}
}

func TestRxCorrectionUndoesImpairment(t *testing.T) {
	gain, phaseDeg := 0.93, -3.0
	coef, err := NewCoefficients(Measurement{DCOffsetI: 12, DCOffsetQ: -9, IQGain: gain, IQPhase: phaseDeg})
	require.NoError(t, err)
	rx := NewRxCorrector(coef, FullRange)

	phi := phaseDeg * math.Pi / 180
	for _, s := range [][2]float64{{300, 100}, {-800, 450}, {1000, -1000}} {
		mI := s[0] + 12
		mQ := gain*(math.Sin(phi)*s[0]+math.Cos(phi)*s[1]) - 9
		re, im := rx.Correct(int16(math.Round(mI)), int16(math.Round(mQ)))
		assert.InDelta(t, s[0], re, 1.5)
		assert.InDelta(t, s[1], im, 1.5)
	}
}

func TestRxBlockMatchesScalar(t *testing.T) {
	coef, err := NewCoefficients(Measurement{DCOffsetI: 1.5, DCOffsetQ: -0.5, IQGain: 1.02, IQPhase: 2})
	require.NoError(t, err)
	rx := NewRxCorrector(coef, 1)

	iq := make([]int16, 2*37)
	for i := range iq {
		iq[i] = int16((i*331)%4095 - 2047)
	}
	re := make([]float32, 37)
	im := make([]float32, 37)
	rx.Block(re, im, iq)

	for i := range re {
		wantRe, wantIm := rx.Correct(iq[2*i], iq[2*i+1])
		assert.InDelta(t, wantRe, re[i], 1e-6)
		assert.InDelta(t, wantIm, im[i], 1e-6)
	}
}

func TestTxBlockMatchesScalar(t *testing.T) {
	tx := NewTxCorrector(Identity(), 2, true)
	re := []float32{0.1, -1.9, 2.5, 0}
	im := []float32{-0.3, 1, -4, 0.0005}
	iq := make([]int16, 8)
	tx.Block(iq, re, im)
	for i := range re {
		wantRe, wantIm := tx.Correct(re[i], im[i])
		assert.Equal(t, wantRe, iq[2*i])
		assert.Equal(t, wantIm, iq[2*i+1])
	}
	assert.Equal(t, int16(2047), iq[4])
	assert.Equal(t, int16(-2047), iq[5])
}

func TestQuantizeRounding(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0.5, 1},
		{-0.5, -1},
		{1.49, 1},
		{-1.5, -2},
		{2.5, 3},
		{0, 0},
		{-0.49, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quantize(tt.in, false), "in=%v", tt.in)
		assert.Equal(t, tt.want, Quantize(tt.in, true), "in=%v", tt.in)
	}
}

func TestQuantizeSaturation(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{2047.6, 2047},
		{-2048.4, -2047},
		{3000, 2047},
		{-3000, -2047},
		{2047, 2047},
		{-2047, -2047},
		{2046.6, 2047},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quantize(tt.in, true), "in=%v", tt.in)
	}
}

func TestQuantizeWithoutSaturationPassesThrough(t *testing.T) {
	assert.Equal(t, int16(3000), Quantize(3000, false))
	assert.Equal(t, int16(-2048), Quantize(-2048.4, false))
	// Beyond int16 the value wraps.
	assert.Equal(t, int16(-32768), Quantize(32768, false))
}

func TestQuantizeRoundTrip(t *testing.T) {
	for _, fullScale := range []float32{1, 10, 0.01} {
		tx := NewTxCorrector(Identity(), fullScale, true)
		step := float64(fullScale) / FullRange
		for i := -1000; i <= 1000; i++ {
			m := float32(i) / 1000 * fullScale
			q, _ := tx.Correct(m, 0)
			back := Dequantize(q, fullScale)
			assert.InDelta(t, m, back, step, "m=%v fullScale=%v", m, fullScale)
		}
	}
}
