package dsp

import "math"

// Quantize rounds v half away from zero. With saturate set the result is clamped to
// [-FullRange, FullRange]; otherwise values outside int16 wrap and keeping them in range is the
// caller's job.
func Quantize(v float32, saturate bool) int16 {
	r := int64(math.Round(float64(v)))
	if saturate {
		r = max(min(r, FullRange), -FullRange)
	}
	return int16(r)
}

// Dequantize maps a converter value back to the application scale.
func Dequantize(x int16, fullScale float32) float32 {
	return float32(x) * fullScale / FullRange
}
