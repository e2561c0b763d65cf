// Package filter implements windowed-sinc anti-alias filter design and the
// streaming FIR convolution engine that applies the designed coefficients to
// interleaved int16 or float32 audio.
//
// Coefficients are designed in float64 and materialized per sample type: the
// int16 variant quantizes to a 14-bit fixed-point fractional scale, the
// float32 variant keeps the same scale unrounded so that both pipelines share
// one design path and one evaluation contract.
package filter

import (
	"errors"
	"fmt"
	"math"

	"github.com/tphakala/go-audio-stretch/internal/sampleops"
)

// Sentinel errors for the filter package.
var (
	// ErrInvalidParams indicates a rejected design or evaluation request.
	ErrInvalidParams = errors.New("invalid filter parameters")

	// ErrDesignFailed indicates a violated filter-shape invariant. It marks a
	// mathematically broken design, not bad input data.
	ErrDesignFailed = errors.New("filter design failed")

	// ErrShortBuffer indicates an output slice too small for the result.
	ErrShortBuffer = errors.New("output buffer too small")
)

const (
	// CoeffShift is the fixed-point fractional scale of materialized
	// coefficients: int16 evaluation right-shifts accumulators by this
	// amount, float32 evaluation multiplies by 1/2^CoeffShift.
	CoeffShift = 14

	// fixedPointOne is the unity gain target of the quantized coefficient
	// sum (1 << CoeffShift).
	fixedPointOne = 16384.0

	// minTaps is the smallest accepted tap count.
	minTaps = 2

	// tapAlignment keeps tap counts a multiple of four so evaluation loops
	// can be unrolled.
	tapAlignment = 4

	// maxCutoff is the Nyquist boundary in normalized frequency.
	maxCutoff = 0.5

	// Hamming window terms.
	hammingOffset = 0.54
	hammingScale  = 0.46

	// shapeTolerance absorbs rounding noise when checking that the taps
	// around the center lobe are non-negative.
	shapeTolerance = 1e-6
)

// ValidateLength reports whether a tap count is usable for design and
// evaluation.
func ValidateLength(length int) error {
	if length < minTaps {
		return fmt.Errorf("%w: tap count %d below minimum %d", ErrInvalidParams, length, minTaps)
	}
	if length%tapAlignment != 0 {
		return fmt.Errorf("%w: tap count %d not a multiple of %d", ErrInvalidParams, length, tapAlignment)
	}
	return nil
}

// ValidateCutoff reports whether a normalized cutoff frequency is usable.
// Valid cutoffs lie in (0, 0.5] where 0.5 is Nyquist.
func ValidateCutoff(cutoff float64) error {
	if cutoff <= 0 || cutoff > maxCutoff {
		return fmt.Errorf("%w: cutoff %g outside (0, %g]", ErrInvalidParams, cutoff, maxCutoff)
	}
	return nil
}

// DesignWindowedSinc computes raw low-pass coefficients for the given tap
// count and normalized cutoff: an ideal sinc impulse response shaped by a
// Hamming window centered on tap length/2. The result is unnormalized; see
// Coefficients for the materialized fixed-point form.
func DesignWindowedSinc(length int, cutoff float64) ([]float64, error) {
	work, _, err := design(length, cutoff)
	return work, err
}

func design(length int, cutoff float64) ([]float64, float64, error) {
	if err := ValidateLength(length); err != nil {
		return nil, 0, err
	}
	if err := ValidateCutoff(cutoff); err != nil {
		return nil, 0, err
	}

	fc2 := 2 * cutoff
	wc := math.Pi * fc2

	work := make([]float64, length)
	var sum float64
	for i := 0; i < length; i++ {
		c := float64(i - length/2)

		var h float64
		if c*wc == 0 {
			h = 1.0
		} else {
			h = fc2 * math.Sin(c*wc) / (c * wc)
		}

		w := hammingOffset + hammingScale*math.Cos((2*math.Pi/float64(length))*c)
		work[i] = w * h
		sum += work[i]
	}

	// A low-pass design always has positive DC gain and a non-negative
	// center lobe. A violation means the cutoff/length combination produced
	// a broken filter shape.
	if sum <= 0 {
		return nil, 0, fmt.Errorf("%w: coefficient sum %g not positive", ErrDesignFailed, sum)
	}
	center := length / 2
	if work[center] <= 0 {
		return nil, 0, fmt.Errorf("%w: center tap %g not positive", ErrDesignFailed, work[center])
	}
	if work[center-1] < -shapeTolerance || work[center+1] < -shapeTolerance {
		return nil, 0, fmt.Errorf("%w: negative tap beside center lobe", ErrDesignFailed)
	}

	return work, sum, nil
}

// Coefficients designs and materializes filter taps for sample type S.
// Raw coefficients are scaled so their sum equals 2^CoeffShift; the int16
// form rounds to the nearest integer with ties away from zero and rejects
// any value outside the 16-bit range, the float32 form keeps the scaled
// values unrounded.
func Coefficients[S sampleops.Sample](length int, cutoff float64) ([]S, error) {
	work, sum, err := design(length, cutoff)
	if err != nil {
		return nil, err
	}

	scale := fixedPointOne / sum
	coeffs := make([]S, length)
	switch out := any(coeffs).(type) {
	case []int16:
		for i, c := range work {
			v := math.Round(c * scale)
			if v < math.MinInt16 || v > math.MaxInt16 {
				return nil, fmt.Errorf("%w: quantized tap %d value %g outside int16 range",
					ErrDesignFailed, i, v)
			}
			out[i] = int16(v)
		}
	case []float32:
		for i, c := range work {
			out[i] = float32(c * scale)
		}
	}
	return coeffs, nil
}
