// Package testutil provides reusable test helper functions for audio
// processing tests.
package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/go-audio-stretch/internal/sampleops"
)

// Default tolerances for various test scenarios.
const (
	DefaultTolerance   = 1e-10
	MagnitudeTolerance = 1e-2
	DBTolerance        = 0.01
)

// halfDivisor is used for finding center indices in symmetric arrays.
const halfDivisor = 2

// Real is the constraint for slices the assert helpers accept: the two
// pipeline sample types plus float64 for unmaterialized coefficients.
type Real interface {
	int16 | float32 | float64
}

// AssertSymmetric verifies that a slice is symmetric (s[i] == s[n-1-i]).
func AssertSymmetric[T Real](t *testing.T, s []T, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	n := len(s)
	for i := 0; i < n/2; i++ {
		j := n - 1 - i
		if !assert.InDelta(t, float64(s[i]), float64(s[j]), tolerance,
			"slice not symmetric at i=%d: s[%d]=%v != s[%d]=%v", i, i, s[i], j, s[j]) {
			return false
		}
	}
	return true
}

// AssertNoNaNOrInf verifies that no elements in the slice are NaN or Inf.
func AssertNoNaNOrInf[T Real](t *testing.T, s []T, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		f := float64(v)
		if math.IsNaN(f) {
			return assert.Fail(t, "found NaN", "s[%d] is NaN", i)
		}
		if math.IsInf(f, 0) {
			return assert.Fail(t, "found Inf", "s[%d] is Inf", i)
		}
	}
	return true
}

// AssertAllInRange verifies that all elements are within [min, max].
func AssertAllInRange[T Real](t *testing.T, s []T, minVal, maxVal float64, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		f := float64(v)
		if f < minVal || f > maxVal {
			return assert.Fail(t, "value out of range",
				"s[%d]=%v is outside range [%f, %f]", i, v, minVal, maxVal)
		}
	}
	return true
}

// AssertDCGain verifies that the sum of coefficients equals the expected DC gain.
func AssertDCGain[T Real](t *testing.T, coeffs []T, expectedGain, tolerance float64) bool {
	t.Helper()
	var sum float64
	for _, c := range coeffs {
		sum += float64(c)
	}
	return assert.InDelta(t, expectedGain, sum, tolerance,
		"DC gain = %f, want %f", sum, expectedGain)
}

// AssertCenterIsMax verifies that the center element is the maximum value.
func AssertCenterIsMax[T Real](t *testing.T, s []T, msgAndArgs ...any) bool {
	t.Helper()
	if len(s) == 0 {
		return assert.Fail(t, "empty slice")
	}
	centerIdx := len(s) / halfDivisor
	centerValue := s[centerIdx]
	for i, v := range s {
		if v > centerValue {
			return assert.Fail(t, "center is not max",
				"s[%d]=%v > center s[%d]=%v", i, v, centerIdx, centerValue)
		}
	}
	return true
}

// AssertRelativeError verifies that the relative error between actual and
// expected is within tolerance.
func AssertRelativeError(t *testing.T, expected, actual, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	if expected == 0 {
		return assert.InDelta(t, expected, actual, tolerance, msgAndArgs...)
	}
	relError := math.Abs(actual-expected) / math.Abs(expected)
	return assert.LessOrEqual(t, relError, tolerance,
		"relative error %e exceeds tolerance %e (expected=%f, actual=%f)",
		relError, tolerance, expected, actual)
}

// MakeSine generates an interleaved sine signal. The same value is written
// to every channel of a frame.
func MakeSine[S sampleops.Sample](freqHz float64, sampleRate, channels, frames int, amplitude float64) []S {
	sat := sampleops.For[S]().Saturate
	out := make([]S, frames*channels)
	step := 2 * math.Pi * freqHz / float64(sampleRate)
	for i := 0; i < frames; i++ {
		v := sat(amplitude * math.Sin(step*float64(i)))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

// MakeClickTrack generates an interleaved metronome-like signal with short
// decaying bursts at the given tempo. Useful for beat detection tests.
func MakeClickTrack[S sampleops.Sample](bpm float64, sampleRate, channels, frames int, amplitude float64) []S {
	const clickDurationSec = 0.02

	sat := sampleops.For[S]().Saturate
	out := make([]S, frames*channels)
	interval := int(60.0 / bpm * float64(sampleRate))
	clickLen := int(clickDurationSec * float64(sampleRate))
	for start := 0; start < frames; start += interval {
		for i := 0; i < clickLen && start+i < frames; i++ {
			decay := 1.0 - float64(i)/float64(clickLen)
			v := sat(amplitude * decay)
			for c := 0; c < channels; c++ {
				out[(start+i)*channels+c] = v
			}
		}
	}
	return out
}

// RMS returns the root mean square level of a signal, widened to float64.
func RMS[S sampleops.Sample](s []S) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(s)))
}
