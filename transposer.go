package stretch

import (
	"fmt"
	"math"

	"github.com/tphakala/go-audio-stretch/internal/filter"
	"github.com/tphakala/go-audio-stretch/internal/sampleops"
)

const (
	// transposeSlack pads output reservations to absorb phase rounding.
	transposeSlack = 8

	// linearFixedScale is the 16.16 fixed-point one of the int16 linear
	// kernel.
	linearFixedScale = 65536

	// Hermite basis coefficients.
	hermiteHalf        = 0.5
	hermiteThreeHalves = 1.5
	hermiteFiveHalves  = 2.5

	// shannonTaps is the windowed-sinc kernel width; shannonCenter is the
	// tap holding the current frame, shannonHalfWidth the window reach.
	shannonTaps      = 8
	shannonCenter    = 3
	shannonHalfWidth = 4
)

// interpolator generates output frames at a fractional input stride.
// Kernels keep their phase across calls; consumed may overshoot the frames
// actually present when the final advance steps past the block end, and the
// transposer carries that overshoot into the next block.
type interpolator[S Sample] interface {
	setRate(rate float64)
	reset()

	// lookahead is the number of trailing frames a kernel reads beyond
	// the current position; the transposer keeps them buffered between
	// blocks.
	lookahead() int

	transposeMono(dst, src []S) (produced, consumed int)
	transposeStereo(dst, src []S) (produced, consumed int)
}

// linearInt16 is the 2-point kernel in 16.16 fixed point, exact integer
// arithmetic end to end.
type linearInt16 struct {
	rate  int
	fract int
}

func (ip *linearInt16) setRate(rate float64) { ip.rate = int(rate*linearFixedScale + 0.5) }
func (ip *linearInt16) reset()               { ip.fract = 0 }
func (ip *linearInt16) lookahead() int       { return 1 }

func (ip *linearInt16) transposeMono(dst, src []int16) (int, int) {
	srcEnd := len(src) - 1
	var produced, pos int
	for pos < srcEnd && produced < len(dst) {
		v := int(src[pos])*(linearFixedScale-ip.fract) + int(src[pos+1])*ip.fract
		dst[produced] = int16(v / linearFixedScale)
		produced++

		ip.fract += ip.rate
		pos += ip.fract >> 16
		ip.fract &= linearFixedScale - 1
	}
	return produced, pos
}

func (ip *linearInt16) transposeStereo(dst, src []int16) (int, int) {
	srcEnd := len(src)/2 - 1
	maxOut := len(dst) / 2
	var produced, pos int
	for pos < srcEnd && produced < maxOut {
		a := linearFixedScale - ip.fract
		b := ip.fract
		dst[2*produced] = int16((int(src[2*pos])*a + int(src[2*pos+2])*b) / linearFixedScale)
		dst[2*produced+1] = int16((int(src[2*pos+1])*a + int(src[2*pos+3])*b) / linearFixedScale)
		produced++

		ip.fract += ip.rate
		pos += ip.fract >> 16
		ip.fract &= linearFixedScale - 1
	}
	return produced, pos
}

// linearFloat32 is the 2-point kernel in floating point.
type linearFloat32 struct {
	rate  float64
	fract float64
}

func (ip *linearFloat32) setRate(rate float64) { ip.rate = rate }
func (ip *linearFloat32) reset()               { ip.fract = 0 }
func (ip *linearFloat32) lookahead() int       { return 1 }

func (ip *linearFloat32) transposeMono(dst, src []float32) (int, int) {
	srcEnd := len(src) - 1
	var produced, pos int
	for pos < srcEnd && produced < len(dst) {
		dst[produced] = float32((1-ip.fract)*float64(src[pos]) + ip.fract*float64(src[pos+1]))
		produced++

		ip.fract += ip.rate
		whole := int(ip.fract)
		ip.fract -= float64(whole)
		pos += whole
	}
	return produced, pos
}

func (ip *linearFloat32) transposeStereo(dst, src []float32) (int, int) {
	srcEnd := len(src)/2 - 1
	maxOut := len(dst) / 2
	var produced, pos int
	for pos < srcEnd && produced < maxOut {
		a := 1 - ip.fract
		b := ip.fract
		dst[2*produced] = float32(a*float64(src[2*pos]) + b*float64(src[2*pos+2]))
		dst[2*produced+1] = float32(a*float64(src[2*pos+1]) + b*float64(src[2*pos+3]))
		produced++

		ip.fract += ip.rate
		whole := int(ip.fract)
		ip.fract -= float64(whole)
		pos += whole
	}
	return produced, pos
}

// cubicInterp is the 4-point Hermite kernel, evaluated in float64 with the
// result narrowed by the sample type's saturation policy. The interpolated
// point lies between taps 1 and 2, giving the kernel one frame of built-in
// delay.
type cubicInterp[S Sample] struct {
	rate  float64
	fract float64
	sat   func(float64) S
}

func (ip *cubicInterp[S]) setRate(rate float64) { ip.rate = rate }
func (ip *cubicInterp[S]) reset()               { ip.fract = 0 }
func (ip *cubicInterp[S]) lookahead() int       { return 3 }

// hermite evaluates y = ((a*x + b)*x + c)*x + d over four consecutive
// points; continuous first derivative across segments.
func hermite(x, y0, y1, y2, y3 float64) float64 {
	a := -hermiteHalf*y0 + hermiteThreeHalves*y1 - hermiteThreeHalves*y2 + hermiteHalf*y3
	b := y0 - hermiteFiveHalves*y1 + 2*y2 - hermiteHalf*y3
	c := -hermiteHalf*y0 + hermiteHalf*y2
	d := y1
	return ((a*x+b)*x+c)*x + d
}

func (ip *cubicInterp[S]) transposeMono(dst, src []S) (int, int) {
	srcEnd := len(src) - 3
	var produced, pos int
	for pos < srcEnd && produced < len(dst) {
		dst[produced] = ip.sat(hermite(ip.fract,
			float64(src[pos]), float64(src[pos+1]), float64(src[pos+2]), float64(src[pos+3])))
		produced++

		ip.fract += ip.rate
		whole := int(ip.fract)
		ip.fract -= float64(whole)
		pos += whole
	}
	return produced, pos
}

func (ip *cubicInterp[S]) transposeStereo(dst, src []S) (int, int) {
	srcEnd := len(src)/2 - 3
	maxOut := len(dst) / 2
	var produced, pos int
	for pos < srcEnd && produced < maxOut {
		x := ip.fract
		base := src[2*pos:]
		dst[2*produced] = ip.sat(hermite(x,
			float64(base[0]), float64(base[2]), float64(base[4]), float64(base[6])))
		dst[2*produced+1] = ip.sat(hermite(x,
			float64(base[1]), float64(base[3]), float64(base[5]), float64(base[7])))
		produced++

		ip.fract += ip.rate
		whole := int(ip.fract)
		ip.fract -= float64(whole)
		pos += whole
	}
	return produced, pos
}

// shannonInterp is the 8-point windowed-sinc kernel: highest quality,
// highest cost. The interpolated point lies between taps 3 and 4.
type shannonInterp[S Sample] struct {
	rate  float64
	fract float64
	sat   func(float64) S
}

func (ip *shannonInterp[S]) setRate(rate float64) { ip.rate = rate }
func (ip *shannonInterp[S]) reset()               { ip.fract = 0 }
func (ip *shannonInterp[S]) lookahead() int       { return shannonTaps - 1 }

// shannonKernel evaluates a cosine-windowed sinc at offset t in frames,
// t in (-shannonHalfWidth, shannonHalfWidth].
func shannonKernel(t float64) float64 {
	if t == 0 {
		return 1
	}
	px := math.Pi * t
	return math.Sin(px) / px * (0.5 * (1 + math.Cos(px/shannonHalfWidth)))
}

func (ip *shannonInterp[S]) transposeMono(dst, src []S) (int, int) {
	srcEnd := len(src) - (shannonTaps - 1)
	var produced, pos int
	for pos < srcEnd && produced < len(dst) {
		var sum float64
		for k := 0; k < shannonTaps; k++ {
			sum += float64(src[pos+k]) * shannonKernel(float64(k-shannonCenter)-ip.fract)
		}
		dst[produced] = ip.sat(sum)
		produced++

		ip.fract += ip.rate
		whole := int(ip.fract)
		ip.fract -= float64(whole)
		pos += whole
	}
	return produced, pos
}

func (ip *shannonInterp[S]) transposeStereo(dst, src []S) (int, int) {
	srcEnd := len(src)/2 - (shannonTaps - 1)
	maxOut := len(dst) / 2
	var produced, pos int
	for pos < srcEnd && produced < maxOut {
		var left, right float64
		base := src[2*pos:]
		for k := 0; k < shannonTaps; k++ {
			w := shannonKernel(float64(k-shannonCenter) - ip.fract)
			left += float64(base[2*k]) * w
			right += float64(base[2*k+1]) * w
		}
		dst[2*produced] = ip.sat(left)
		dst[2*produced+1] = ip.sat(right)
		produced++

		ip.fract += ip.rate
		whole := int(ip.fract)
		ip.fract -= float64(whole)
		pos += whole
	}
	return produced, pos
}

// newInterpolator picks the kernel for a mode and sample type. Linear has a
// dedicated exact fixed-point implementation for int16; the type switch
// happens once at construction.
func newInterpolator[S Sample](mode InterpolationMode) interpolator[S] {
	switch mode {
	case InterpolateLinear:
		var zero S
		switch any(zero).(type) {
		case int16:
			ip, ok := any(&linearInt16{rate: linearFixedScale}).(interpolator[S])
			if !ok {
				panic("stretch: interpolator dispatch failed for int16")
			}
			return ip
		case float32:
			ip, ok := any(&linearFloat32{rate: 1}).(interpolator[S])
			if !ok {
				panic("stretch: interpolator dispatch failed for float32")
			}
			return ip
		default:
			panic("stretch: unsupported sample type")
		}
	case InterpolateShannon:
		return &shannonInterp[S]{rate: 1, sat: sampleops.For[S]().Saturate}
	default:
		return &cubicInterp[S]{rate: 1, sat: sampleops.For[S]().Saturate}
	}
}

// RateTransposer changes playback rate and pitch together by resampling the
// stream, band-limiting with an anti-alias filter around the rate change:
// the filter runs after transposing when slowing down (rate < 1) and before
// when speeding up, with its cutoff tracking the rate.
//
// The embedded FIFO is the stage's output queue.
type RateTransposer[S Sample] struct {
	*FIFO[S]

	input  *FIFO[S]
	mid    *FIFO[S]
	aa     *filter.AAFilter[S]
	interp interpolator[S]

	channels    int
	rate        float64
	useAA       bool
	mode        InterpolationMode
	pendingSkip int
}

// NewRateTransposer creates a transposer at rate 1.0 with anti-alias
// filtering enabled and cubic interpolation.
func NewRateTransposer[S Sample](channels int) (*RateTransposer[S], error) {
	if channels < minChannels || channels > maxChannels {
		return nil, fmt.Errorf("%w: channel count %d outside [%d, %d]",
			ErrInvalidConfig, channels, minChannels, maxChannels)
	}
	aa, err := filter.NewAAFilter[S](DefaultAAFilterLength)
	if err != nil {
		return nil, err
	}
	rt := &RateTransposer[S]{
		FIFO:     NewFIFO[S](channels),
		input:    NewFIFO[S](channels),
		mid:      NewFIFO[S](channels),
		aa:       aa,
		interp:   newInterpolator[S](InterpolateCubic),
		channels: channels,
		rate:     1.0,
		useAA:    true,
		mode:     InterpolateCubic,
	}
	return rt, nil
}

// SetRate sets the playback rate factor in [MinRate, MaxRate] and retunes
// the anti-alias cutoff to the new rate.
func (rt *RateTransposer[S]) SetRate(rate float64) error {
	if rate < MinRate || rate > MaxRate {
		return fmt.Errorf("%w: rate %g outside [%g, %g]", ErrInvalidConfig, rate, MinRate, MaxRate)
	}

	cutoff := 0.5 * rate
	if rate > 1.0 {
		cutoff = 0.5 / rate
	}
	if err := rt.aa.SetCutoffFreq(cutoff); err != nil {
		return err
	}

	rt.rate = rate
	rt.interp.setRate(rate)
	return nil
}

// Rate returns the current playback rate factor.
func (rt *RateTransposer[S]) Rate() float64 {
	return rt.rate
}

// SetInterpolation swaps the interpolation kernel, resetting its phase.
func (rt *RateTransposer[S]) SetInterpolation(mode InterpolationMode) error {
	switch mode {
	case InterpolateCubic, InterpolateLinear, InterpolateShannon:
	default:
		return fmt.Errorf("%w: unknown interpolation mode %d", ErrInvalidConfig, mode)
	}
	rt.interp = newInterpolator[S](mode)
	rt.interp.setRate(rt.rate)
	rt.mode = mode
	return nil
}

// Interpolation returns the active interpolation mode.
func (rt *RateTransposer[S]) Interpolation() InterpolationMode {
	return rt.mode
}

// EnableAAFilter turns anti-alias filtering on or off.
func (rt *RateTransposer[S]) EnableAAFilter(enabled bool) {
	rt.useAA = enabled
}

// AAFilterEnabled reports whether anti-alias filtering is active.
func (rt *RateTransposer[S]) AAFilterEnabled() bool {
	return rt.useAA
}

// SetAAFilterLength redesigns the anti-alias filter with a new tap count.
func (rt *RateTransposer[S]) SetAAFilterLength(length int) error {
	return rt.aa.SetLength(length)
}

// AAFilterLength returns the anti-alias filter tap count.
func (rt *RateTransposer[S]) AAFilterLength() int {
	return rt.aa.Length()
}

// latency is the approximate frame count held back by the stage: the
// filter's convolution history plus the kernel's lookahead.
func (rt *RateTransposer[S]) latency() int {
	n := rt.interp.lookahead()
	if rt.useAA {
		n += rt.aa.Length()
	}
	return n
}

// PutSamples feeds interleaved input frames and immediately processes them
// toward the output queue.
func (rt *RateTransposer[S]) PutSamples(samples []S) error {
	if err := rt.input.PutSamples(samples); err != nil {
		return err
	}
	return rt.process()
}

func (rt *RateTransposer[S]) process() error {
	if !rt.useAA {
		rt.transposeFrom(rt.FIFO, rt.input)
		return nil
	}
	if rt.rate < 1.0 {
		rt.transposeFrom(rt.mid, rt.input)
		return rt.filterFrom(rt.FIFO, rt.mid)
	}
	if err := rt.filterFrom(rt.mid, rt.input); err != nil {
		return err
	}
	rt.transposeFrom(rt.FIFO, rt.mid)
	return nil
}

// transposeFrom runs the interpolation kernel over everything src has,
// appending to dst. The kernel's lookahead frames stay in src as history
// for the next block.
func (rt *RateTransposer[S]) transposeFrom(dst, src *FIFO[S]) {
	if rt.pendingSkip > 0 {
		rt.pendingSkip -= src.Discard(rt.pendingSkip)
		if rt.pendingSkip > 0 {
			return
		}
	}

	frames := src.AvailableSamples()
	if frames == 0 {
		return
	}

	demand := int(float64(frames)/rt.rate) + transposeSlack
	out := dst.Reserve(demand)

	var produced, consumed int
	if rt.channels == 1 {
		produced, consumed = rt.interp.transposeMono(out, src.Samples())
	} else {
		produced, consumed = rt.interp.transposeStereo(out, src.Samples())
	}
	dst.Commit(produced)

	if consumed > frames {
		rt.pendingSkip = consumed - frames
		consumed = frames
	}
	src.Discard(consumed)
}

// filterFrom band-limits everything src has into dst. The filter's tap
// count of trailing frames stays in src as convolution history.
func (rt *RateTransposer[S]) filterFrom(dst, src *FIFO[S]) error {
	frames := src.AvailableSamples()
	if frames == 0 {
		return nil
	}
	out := dst.Reserve(frames)
	produced, err := rt.aa.Evaluate(out, src.Samples(), rt.channels)
	if err != nil {
		return err
	}
	dst.Commit(produced)
	src.Discard(produced)
	return nil
}

// Clear resets the stage, discarding input, intermediate, and output
// frames.
func (rt *RateTransposer[S]) Clear() {
	rt.FIFO.Clear()
	rt.input.Clear()
	rt.mid.Clear()
	rt.interp.reset()
	rt.pendingSkip = 0
}

// ClearInput drops buffered input and intermediate frames but keeps
// processed output available.
func (rt *RateTransposer[S]) ClearInput() {
	rt.input.Clear()
	rt.mid.Clear()
	rt.interp.reset()
	rt.pendingSkip = 0
}
