package filter

import "github.com/tphakala/go-audio-stretch/internal/sampleops"

// defaultCutoff is the cutoff used until SetCutoffFreq is called; 0.5 is
// Nyquist, so the initial filter is a near-passthrough band limiter.
const defaultCutoff = 0.5

// AAFilter is an anti-alias low-pass filter: a windowed-sinc design bound to
// a FIR engine. Either mutator recomputes the full coefficient set; there is
// no incremental update. A failed redesign leaves the previous coefficients
// in place.
type AAFilter[S sampleops.Sample] struct {
	fir    *FIR[S]
	length int
	cutoff float64
}

// NewAAFilter returns a filter with the given tap count and a cutoff at
// Nyquist (0.5).
func NewAAFilter[S sampleops.Sample](length int) (*AAFilter[S], error) {
	f := &AAFilter[S]{
		fir:    NewFIR[S](),
		cutoff: defaultCutoff,
	}
	if err := f.SetLength(length); err != nil {
		return nil, err
	}
	return f, nil
}

// SetLength redesigns the filter with a new tap count. The count must be at
// least 2 and a multiple of 4.
func (f *AAFilter[S]) SetLength(length int) error {
	if err := f.redesign(length, f.cutoff); err != nil {
		return err
	}
	f.length = length
	return nil
}

// SetCutoffFreq redesigns the filter for a new normalized cutoff in
// (0, 0.5].
func (f *AAFilter[S]) SetCutoffFreq(cutoff float64) error {
	if err := f.redesign(f.length, cutoff); err != nil {
		return err
	}
	f.cutoff = cutoff
	return nil
}

func (f *AAFilter[S]) redesign(length int, cutoff float64) error {
	coeffs, err := Coefficients[S](length, cutoff)
	if err != nil {
		return err
	}
	return f.fir.SetCoefficients(coeffs, CoeffShift)
}

// Length returns the current tap count.
func (f *AAFilter[S]) Length() int {
	return f.fir.Length()
}

// CutoffFreq returns the current normalized cutoff.
func (f *AAFilter[S]) CutoffFreq() float64 {
	return f.cutoff
}

// Evaluate band-limits src into dst, delegating to the FIR engine: N input
// frames produce N - Length() output frames, or zero when under-filled.
func (f *AAFilter[S]) Evaluate(dst, src []S, numChannels int) (int, error) {
	return f.fir.Evaluate(dst, src, numChannels)
}

// Response samples the filter's frequency response at numPoints evenly
// spaced normalized frequencies in [0, 0.5], with the coefficient scale
// removed so a passband has unity gain.
func (f *AAFilter[S]) Response(numPoints int) Response {
	coeffs := f.fir.Coefficients()
	scale := 1 / float64(int64(1)<<f.fir.Shift())
	wide := make([]float64, len(coeffs))
	for i, c := range coeffs {
		wide[i] = float64(c) * scale
	}
	return ComputeResponse(wide, numPoints)
}
