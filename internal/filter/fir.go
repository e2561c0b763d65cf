package filter

import (
	"fmt"
	"math"

	"github.com/tphakala/simd/f32"

	"github.com/tphakala/go-audio-stretch/internal/sampleops"
)

// Channel counts supported by the evaluation kernels.
const (
	monoChannels   = 1
	stereoChannels = 2
)

// firOps bundles the evaluation kernels for one sample type. Evaluation is
// the single hot loop of the library, so the per-type choice is made once at
// construction rather than per call: int16 accumulates in int64 and shifts,
// float32 uses SIMD convolution for mono and a float64-accumulating scalar
// loop for stereo.
type firOps[S sampleops.Sample] struct {
	evaluateMono   func(dst, src, coeffs []S, shift uint) int
	evaluateStereo func(dst, src, coeffs []S, shift uint) int
}

var (
	firOpsI16 = firOps[int16]{
		evaluateMono:   firMonoInt16,
		evaluateStereo: firStereoInt16,
	}
	firOpsF32 = firOps[float32]{
		evaluateMono:   firMonoFloat32,
		evaluateStereo: firStereoFloat32,
	}
)

func firOpsFor[S sampleops.Sample]() firOps[S] {
	var zero S
	switch any(zero).(type) {
	case int16:
		ops, ok := any(firOpsI16).(firOps[S])
		if !ok {
			panic("filter: type assertion failed for int16")
		}
		return ops
	case float32:
		ops, ok := any(firOpsF32).(firOps[S])
		if !ok {
			panic("filter: type assertion failed for float32")
		}
		return ops
	default:
		panic("filter: unsupported sample type")
	}
}

// FIR applies a fixed coefficient set as a causal convolution over
// interleaved multi-channel input. Each output frame consumes one input
// frame, so a buffer of N input frames yields N - Length() output frames;
// the caller keeps the trailing frames buffered as history for the next
// block.
type FIR[S sampleops.Sample] struct {
	coeffs []S
	shift  uint
	ops    firOps[S]
}

// NewFIR returns an engine with no coefficients. SetCoefficients must be
// called before Evaluate.
func NewFIR[S sampleops.Sample]() *FIR[S] {
	return &FIR[S]{ops: firOpsFor[S]()}
}

// SetCoefficients stores a copy of the tap set and the fixed-point shift
// applied to each accumulated output. The tap count must be at least 2 and
// a multiple of 4.
func (f *FIR[S]) SetCoefficients(coeffs []S, shift uint) error {
	if err := ValidateLength(len(coeffs)); err != nil {
		return err
	}
	if len(f.coeffs) != len(coeffs) {
		f.coeffs = make([]S, len(coeffs))
	}
	copy(f.coeffs, coeffs)
	f.shift = shift
	return nil
}

// Length returns the current tap count, or zero before SetCoefficients.
func (f *FIR[S]) Length() int {
	return len(f.coeffs)
}

// Coefficients returns a copy of the current tap set.
func (f *FIR[S]) Coefficients() []S {
	out := make([]S, len(f.coeffs))
	copy(out, f.coeffs)
	return out
}

// Shift returns the fixed-point shift applied to each output sample.
func (f *FIR[S]) Shift() uint {
	return f.shift
}

// Evaluate convolves src into dst and returns the number of output frames
// written. src holds interleaved frames of numChannels samples each; with
// N input frames the result is exactly N - Length() frames, or zero when
// the input does not yet cover the tap count.
func (f *FIR[S]) Evaluate(dst, src []S, numChannels int) (int, error) {
	if len(f.coeffs) == 0 {
		return 0, fmt.Errorf("%w: coefficients not set", ErrInvalidParams)
	}
	if numChannels != monoChannels && numChannels != stereoChannels {
		return 0, fmt.Errorf("%w: channel count %d not supported", ErrInvalidParams, numChannels)
	}
	if len(src)%numChannels != 0 {
		return 0, fmt.Errorf("%w: sample count %d not a multiple of %d channels",
			ErrInvalidParams, len(src), numChannels)
	}

	frames := len(src)/numChannels - len(f.coeffs)
	if frames <= 0 {
		return 0, nil
	}
	if len(dst) < frames*numChannels {
		return 0, fmt.Errorf("%w: need %d samples, have %d", ErrShortBuffer,
			frames*numChannels, len(dst))
	}

	if numChannels == monoChannels {
		return f.ops.evaluateMono(dst, src, f.coeffs, f.shift), nil
	}
	return f.ops.evaluateStereo(dst, src, f.coeffs, f.shift), nil
}

func firMonoInt16(dst, src, coeffs []int16, shift uint) int {
	length := len(coeffs)
	out := len(src) - length
	for j := 0; j < out; j++ {
		in := src[j : j+length]
		var sum int64
		for i := 0; i < length; i += 4 {
			sum += int64(in[i])*int64(coeffs[i]) +
				int64(in[i+1])*int64(coeffs[i+1]) +
				int64(in[i+2])*int64(coeffs[i+2]) +
				int64(in[i+3])*int64(coeffs[i+3])
		}
		sum >>= shift
		dst[j] = saturateInt64(sum)
	}
	return out
}

func firStereoInt16(dst, src, coeffs []int16, shift uint) int {
	length := len(coeffs)
	out := len(src)/stereoChannels - length
	for j := 0; j < out; j++ {
		in := src[stereoChannels*j:]
		var left, right int64
		for i := 0; i < length; i += 2 {
			c0 := int64(coeffs[i])
			c1 := int64(coeffs[i+1])
			left += int64(in[2*i])*c0 + int64(in[2*i+2])*c1
			right += int64(in[2*i+1])*c0 + int64(in[2*i+3])*c1
		}
		left >>= shift
		right >>= shift
		dst[stereoChannels*j] = saturateInt64(left)
		dst[stereoChannels*j+1] = saturateInt64(right)
	}
	return out
}

func saturateInt64(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func firMonoFloat32(dst, src, coeffs []float32, shift uint) int {
	length := len(coeffs)
	n := len(src)
	out := n - length
	// Valid convolution over src[:n-1] yields exactly n-length outputs.
	f32.ConvolveValid(dst[:out], src[:n-1], coeffs)
	f32.Scale(dst[:out], dst[:out], 1/float32(int64(1)<<shift))
	return out
}

func firStereoFloat32(dst, src, coeffs []float32, shift uint) int {
	length := len(coeffs)
	out := len(src)/stereoChannels - length
	scale := 1 / float64(int64(1)<<shift)
	for j := 0; j < out; j++ {
		in := src[stereoChannels*j:]
		var left, right float64
		for i := 0; i < length; i += 2 {
			c0 := float64(coeffs[i])
			c1 := float64(coeffs[i+1])
			left += float64(in[2*i])*c0 + float64(in[2*i+2])*c1
			right += float64(in[2*i+1])*c0 + float64(in[2*i+3])*c1
		}
		dst[stereoChannels*j] = float32(left * scale)
		dst[stereoChannels*j+1] = float32(right * scale)
	}
	return out
}
