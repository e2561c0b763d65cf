package filter

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// minResponsePoints keeps the frequency grid non-degenerate.
	minResponsePoints = 2

	// minMagnitude clips the dB conversion at -200 dB.
	minMagnitude = 1e-10
)

// Response holds a sampled frequency response. Frequencies are normalized:
// 0.5 is Nyquist.
type Response struct {
	Frequencies []float64
	Magnitude   []float64
	Phase       []float64
}

// ComputeResponse samples the DTFT of a coefficient set at numPoints evenly
// spaced frequencies from DC to Nyquist inclusive. The coefficients are
// zero-padded onto an FFT grid chosen so the requested frequencies land
// exactly on bins.
func ComputeResponse(coeffs []float64, numPoints int) Response {
	if numPoints < minResponsePoints {
		numPoints = minResponsePoints
	}

	// Grid of 2*(numPoints-1)*stride real samples puts point k at bin
	// k*stride, i.e. normalized frequency k/(2*(numPoints-1)).
	base := 2 * (numPoints - 1)
	stride := 1
	for base*stride < len(coeffs) {
		stride++
	}
	nfft := base * stride

	padded := make([]float64, nfft)
	copy(padded, coeffs)

	fft := fourier.NewFFT(nfft)
	bins := fft.Coefficients(nil, padded)

	resp := Response{
		Frequencies: make([]float64, numPoints),
		Magnitude:   make([]float64, numPoints),
		Phase:       make([]float64, numPoints),
	}
	for k := 0; k < numPoints; k++ {
		b := bins[k*stride]
		resp.Frequencies[k] = float64(k) / float64(base)
		resp.Magnitude[k] = cmplx.Abs(b)
		resp.Phase[k] = cmplx.Phase(b)
	}
	return resp
}

// MagnitudeDB converts a linear magnitude to decibels, clipping at -200 dB
// so silent bins stay finite.
func MagnitudeDB(mag float64) float64 {
	if mag < minMagnitude {
		mag = minMagnitude
	}
	return 20 * math.Log10(mag)
}
