package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-audio-stretch/internal/testutil"
)

const (
	testSampleRate = 44100

	// dcLevel keeps DC-gain checks within one quantization step.
	dcLevel = 512
)

// TestNewAAFilter verifies construction defaults and validation.
func TestNewAAFilter(t *testing.T) {
	f, err := NewAAFilter[int16](testLength64)
	require.NoError(t, err)

	assert.Equal(t, testLength64, f.Length())
	assert.InDelta(t, defaultCutoff, f.CutoffFreq(), 1e-12)

	_, err = NewAAFilter[int16](30)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

// TestAAFilter_DCPass verifies that a constant signal passes with unity
// gain through both materializations.
func TestAAFilter_DCPass(t *testing.T) {
	const frames = 256

	t.Run("int16", func(t *testing.T) {
		f, err := NewAAFilter[int16](testLength64)
		require.NoError(t, err)
		require.NoError(t, f.SetCutoffFreq(testCutoff025))

		src := make([]int16, frames)
		for i := range src {
			src[i] = dcLevel
		}
		dst := make([]int16, frames)
		got, err := f.Evaluate(dst, src, 1)
		require.NoError(t, err)
		require.Equal(t, frames-testLength64, got)

		for j := 0; j < got; j++ {
			assert.InDelta(t, dcLevel, float64(dst[j]), 1, "frame %d", j)
		}
	})

	t.Run("float32", func(t *testing.T) {
		f, err := NewAAFilter[float32](testLength64)
		require.NoError(t, err)
		require.NoError(t, f.SetCutoffFreq(testCutoff025))

		src := make([]float32, frames)
		for i := range src {
			src[i] = 0.5
		}
		dst := make([]float32, frames)
		got, err := f.Evaluate(dst, src, 1)
		require.NoError(t, err)
		require.Equal(t, frames-testLength64, got)

		for j := 0; j < got; j++ {
			assert.InDelta(t, 0.5, float64(dst[j]), 1e-4, "frame %d", j)
		}
	})
}

// TestAAFilter_StopbandAttenuation verifies band limiting: a tone well
// above the cutoff nearly vanishes while a passband tone survives.
func TestAAFilter_StopbandAttenuation(t *testing.T) {
	const frames = 2048

	f, err := NewAAFilter[float32](testLength64)
	require.NoError(t, err)
	require.NoError(t, f.SetCutoffFreq(0.125))

	// Normalized 0.35 cycles/sample is deep in the stopband.
	stop := testutil.MakeSine[float32](0.35*testSampleRate, testSampleRate, 1, frames, 0.8)
	dst := make([]float32, frames)
	got, err := f.Evaluate(dst, stop, 1)
	require.NoError(t, err)

	stopRatio := testutil.RMS(dst[:got]) / testutil.RMS(stop)
	assert.Less(t, stopRatio, 0.02, "stopband tone should be attenuated")

	// Normalized 0.03 cycles/sample is deep in the passband.
	pass := testutil.MakeSine[float32](0.03*testSampleRate, testSampleRate, 1, frames, 0.8)
	got, err = f.Evaluate(dst, pass, 1)
	require.NoError(t, err)

	passRatio := testutil.RMS(dst[:got]) / testutil.RMS(pass)
	assert.InDelta(t, 1.0, passRatio, 0.1, "passband tone should survive")
}

// TestAAFilter_Redesign verifies that mutators recompute coefficients and
// that failed redesigns leave the previous state intact.
func TestAAFilter_Redesign(t *testing.T) {
	f, err := NewAAFilter[int16](testLength32)
	require.NoError(t, err)

	require.NoError(t, f.SetLength(testLength64))
	assert.Equal(t, testLength64, f.Length())

	require.NoError(t, f.SetCutoffFreq(0.1))
	assert.InDelta(t, 0.1, f.CutoffFreq(), 1e-12)

	assert.ErrorIs(t, f.SetCutoffFreq(0.9), ErrInvalidParams)
	assert.InDelta(t, 0.1, f.CutoffFreq(), 1e-12, "failed redesign must not change cutoff")

	assert.ErrorIs(t, f.SetLength(13), ErrInvalidParams)
	assert.Equal(t, testLength64, f.Length(), "failed redesign must not change length")

	// Still usable after rejected mutations.
	src := make([]int16, testLength64+8)
	dst := make([]int16, len(src))
	got, err := f.Evaluate(dst, src, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, got)
}

// TestAAFilter_Response verifies the sampled frequency response of a design
// against its passband and stopband.
func TestAAFilter_Response(t *testing.T) {
	f, err := NewAAFilter[float32](testLength64)
	require.NoError(t, err)
	require.NoError(t, f.SetCutoffFreq(testCutoff025))

	const numPoints = 256
	resp := f.Response(numPoints)

	require.Len(t, resp.Magnitude, numPoints)
	assert.InDelta(t, 1.0, resp.Magnitude[0], responseTolerance, "DC gain")
	assert.InDelta(t, 0.5, resp.Frequencies[numPoints-1], 1e-12, "grid ends at Nyquist")

	// Normalized 0.45 sits deep in the stopband of a 0.25 cutoff.
	idx := int(0.45 / 0.5 * float64(numPoints-1))
	assert.Less(t, resp.Magnitude[idx], 0.02, "stopband leakage")
}

// TestAAFilter_EvaluateUnderFilled verifies delegation of the under-filled
// contract.
func TestAAFilter_EvaluateUnderFilled(t *testing.T) {
	f, err := NewAAFilter[int16](testLength32)
	require.NoError(t, err)

	got, err := f.Evaluate(make([]int16, 64), make([]int16, testLength32), 1)
	require.NoError(t, err)
	assert.Zero(t, got)
}

// BenchmarkAAFilterRedesign benchmarks a full design-quantize-install
// cycle, the cost of a live cutoff change.
func BenchmarkAAFilterRedesign(b *testing.B) {
	f, err := NewAAFilter[int16](testLength64)
	if err != nil {
		b.Fatal(err)
	}
	cutoffs := []float64{0.1, 0.2, 0.3, 0.4}
	for b.Loop() {
		for _, c := range cutoffs {
			_ = f.SetCutoffFreq(c)
		}
	}
}
