// Package simd holds unrolled conversion loops for storage-only element types.
package simd

import (
	"github.com/x448/float16"
)

// MaxFloat16 is the largest finite half-precision value.
const MaxFloat16 = 65504.0

// WidenFloat16 converts half-precision src into dst.
// dst must be at least as long as src.
func WidenFloat16(dst []float32, src []float16.Float16) {
	dst = dst[:len(src)]
	i := 0
	for ; i <= len(src)-4; i += 4 {
		dst[i] = src[i].Float32()
		dst[i+1] = src[i+1].Float32()
		dst[i+2] = src[i+2].Float32()
		dst[i+3] = src[i+3].Float32()
	}
	for ; i < len(src); i++ {
		dst[i] = src[i].Float32()
	}
}

// NarrowFloat16 converts src into half precision, rounding to nearest even.
// Finite values outside the half-precision range saturate to ±MaxFloat16;
// Inf and NaN are preserved.
func NarrowFloat16(dst []float16.Float16, src []float32) {
	dst = dst[:len(src)]
	i := 0
	for ; i <= len(src)-4; i += 4 {
		dst[i] = narrow(src[i])
		dst[i+1] = narrow(src[i+1])
		dst[i+2] = narrow(src[i+2])
		dst[i+3] = narrow(src[i+3])
	}
	for ; i < len(src); i++ {
		dst[i] = narrow(src[i])
	}
}

// NarrowFloat64 converts float64 values into half precision with the same
// saturation as NarrowFloat16.
func NarrowFloat64(dst []float16.Float16, src []float64) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = narrow(clampFloat32(v))
	}
}

func narrow(f float32) float16.Float16 {
	switch {
	case f > MaxFloat16 && f <= maxFloat32:
		f = MaxFloat16
	case f < -MaxFloat16 && f >= -maxFloat32:
		f = -MaxFloat16
	}
	return float16.Fromfloat32(f)
}

const maxFloat32 = 3.40282346638528859811704183484516925440e+38

func clampFloat32(v float64) float32 {
	switch {
	case v > maxFloat32 && v <= 1.7976931348623157e308:
		return maxFloat32
	case v < -maxFloat32 && v >= -1.7976931348623157e308:
		return -maxFloat32
	}
	return float32(v)
}
