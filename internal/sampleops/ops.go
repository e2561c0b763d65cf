// Package sampleops provides generic numeric kernels for the int16 and
// float32 sample types supported by the processing pipeline.
// This enables a single codebase to serve both integer and floating-point
// audio without duplication.
//
// With Profile-Guided Optimization (Go 1.22+), function pointer calls in hot
// paths can be devirtualized and inlined, achieving near-zero overhead.
package sampleops

import (
	"math"

	"github.com/tphakala/simd/f32"
)

// Sample is the type constraint for supported PCM sample types.
type Sample interface {
	int16 | float32
}

// Ops provides correlation and conversion kernels for sample type S.
// Function pointers allow type-safe generic code while delegating to
// type-specific implementations: the float32 side uses SIMD-accelerated
// routines, the int16 side accumulates in int64 to stay exact.
type Ops[S Sample] struct {
	// Dot computes the dot product of a and b, widened to float64.
	// Use only when slices are guaranteed to have equal length.
	Dot func(a, b []S) float64

	// SquaredSum returns the sum of squared elements, widened to float64.
	SquaredSum func(a []S) float64

	// ToFloat64 widens src into dst without scaling: dst[i] = float64(src[i]).
	// Slices must have equal length.
	ToFloat64 func(dst []float64, src []S)

	// FromFloat64 narrows src into dst: int16 rounds half away from zero
	// and saturates, float32 converts directly. Slices must have equal length.
	FromFloat64 func(dst []S, src []float64)

	// Saturate narrows a single value using the same policy as FromFloat64.
	Saturate func(v float64) S
}

func dotI16(a, b []int16) float64 {
	var sum int64
	n := len(a) &^ 3
	for i := 0; i < n; i += 4 {
		sum += int64(a[i])*int64(b[i]) +
			int64(a[i+1])*int64(b[i+1]) +
			int64(a[i+2])*int64(b[i+2]) +
			int64(a[i+3])*int64(b[i+3])
	}
	for i := n; i < len(a); i++ {
		sum += int64(a[i]) * int64(b[i])
	}
	return float64(sum)
}

func squaredSumI16(a []int16) float64 {
	var sum int64
	for _, v := range a {
		sum += int64(v) * int64(v)
	}
	return float64(sum)
}

func toFloat64I16(dst []float64, src []int16) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}

func fromFloat64I16(dst []int16, src []float64) {
	for i, v := range src {
		dst[i] = saturateI16(v)
	}
}

func saturateI16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func dotF32(a, b []float32) float64 {
	return float64(f32.DotProductUnsafe(a, b))
}

func squaredSumF32(a []float32) float64 {
	return float64(f32.DotProductUnsafe(a, a))
}

func toFloat64F32(dst []float64, src []float32) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}

func fromFloat64F32(dst []float32, src []float64) {
	for i, v := range src {
		dst[i] = float32(v)
	}
}

func saturateF32(v float64) float32 {
	return float32(v)
}

// Pre-instantiated operations for each sample type.
// These are package-level variables to avoid repeated allocation.
var (
	opsI16 = Ops[int16]{
		Dot:         dotI16,
		SquaredSum:  squaredSumI16,
		ToFloat64:   toFloat64I16,
		FromFloat64: fromFloat64I16,
		Saturate:    saturateI16,
	}
	opsF32 = Ops[float32]{
		Dot:         dotF32,
		SquaredSum:  squaredSumF32,
		ToFloat64:   toFloat64F32,
		FromFloat64: fromFloat64F32,
		Saturate:    saturateF32,
	}
)

// For returns the Ops instance for type S.
// The type switch happens at instantiation time, not in hot paths.
func For[S Sample]() *Ops[S] {
	var zero S
	switch any(zero).(type) {
	case int16:
		ops, ok := any(&opsI16).(*Ops[S])
		if !ok {
			panic("sampleops: type assertion failed for int16")
		}
		return ops
	case float32:
		ops, ok := any(&opsF32).(*Ops[S])
		if !ok {
			panic("sampleops: type assertion failed for float32")
		}
		return ops
	default:
		panic("sampleops: unsupported sample type")
	}
}

// Type aliases for common configurations.
type (
	OpsI16 = Ops[int16]
	OpsF32 = Ops[float32]
)

// Int16Ops returns the int16 kernels.
// Convenience function for non-generic code.
func Int16Ops() *Ops[int16] {
	return &opsI16
}

// Float32Ops returns the float32 kernels.
// Convenience function for non-generic code.
func Float32Ops() *Ops[float32] {
	return &opsF32
}
