package simd

import (
	"math"
	"testing"

	"github.com/x448/float16"
)

func TestWidenFloat16(t *testing.T) {
	src := []float16.Float16{
		float16.Fromfloat32(1), float16.Fromfloat32(-2), float16.Fromfloat32(0.5),
		float16.Fromfloat32(65504), float16.Fromfloat32(3),
	}
	expected := []float32{1, -2, 0.5, 65504, 3}
	dst := make([]float32, len(src))

	WidenFloat16(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("WidenFloat16(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestNarrowFloat16(t *testing.T) {
	src := []float32{1, -2, 1e6, -1e6, float32(math.Inf(1)), 0.25}
	dst := make([]float16.Float16, len(src))

	NarrowFloat16(dst, src)

	// 1.0 in FP16 = 0x3c00, -2.0 = 0xc000
	if dst[0].Bits() != 0x3c00 {
		t.Errorf("Expected 0x3c00 for 1.0, got 0x%x", dst[0].Bits())
	}
	if dst[1].Bits() != 0xc000 {
		t.Errorf("Expected 0xc000 for -2.0, got 0x%x", dst[1].Bits())
	}
	if dst[2].Float32() != MaxFloat16 || dst[3].Float32() != -MaxFloat16 {
		t.Errorf("Expected saturation to ±%v, got %v and %v", MaxFloat16, dst[2].Float32(), dst[3].Float32())
	}
	if !math.IsInf(float64(dst[4].Float32()), 1) {
		t.Errorf("Expected +Inf to be preserved, got %v", dst[4].Float32())
	}
	if dst[5].Float32() != 0.25 {
		t.Errorf("NarrowFloat16(0.25) = %v", dst[5].Float32())
	}
}

func TestNarrowFloat16_NaN(t *testing.T) {
	dst := make([]float16.Float16, 1)
	NarrowFloat16(dst, []float32{float32(math.NaN())})
	if !dst[0].IsNaN() {
		t.Errorf("Expected NaN, got 0x%x", dst[0].Bits())
	}
}

func TestNarrowFloat64(t *testing.T) {
	dst := make([]float16.Float16, 3)
	NarrowFloat64(dst, []float64{1e300, -1.5, math.Inf(-1)})
	if dst[0].Float32() != MaxFloat16 {
		t.Errorf("Expected %v, got %v", MaxFloat16, dst[0].Float32())
	}
	if dst[1].Float32() != -1.5 {
		t.Errorf("Expected -1.5, got %v", dst[1].Float32())
	}
	if !math.IsInf(float64(dst[2].Float32()), -1) {
		t.Errorf("Expected -Inf, got %v", dst[2].Float32())
	}
}

func TestRoundTrip(t *testing.T) {
	src := make([]float32, 37)
	for i := range src {
		src[i] = float32(i) - 18
	}
	half := make([]float16.Float16, len(src))
	back := make([]float32, len(src))
	NarrowFloat16(half, src)
	WidenFloat16(back, half)
	for i := range src {
		if back[i] != src[i] {
			t.Errorf("round trip %d: got %v, want %v", i, back[i], src[i])
		}
	}
}
