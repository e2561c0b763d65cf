package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-audio-stretch/internal/testutil"
)

const (
	// identityTap passes input through unchanged once shifted by
	// CoeffShift.
	identityTap = int16(16384)

	// f32Tolerance absorbs float32 accumulation error in reference
	// comparisons.
	f32Tolerance = 1e-3
)

// identityCoeffs returns a 4-tap set whose only contribution is tap k, so
// output frame j equals input frame j+k exactly.
func identityCoeffs[S int16 | float32](k int) []S {
	coeffs := make([]S, 4)
	coeffs[k] = S(identityTap)
	return coeffs
}

// TestFIR_OutputCount verifies the N input frames to N-length output frames
// contract, including under-filled inputs.
func TestFIR_OutputCount(t *testing.T) {
	tests := []struct {
		name     string
		frames   int
		channels int
		want     int
	}{
		{"mono_well_filled", 100, 1, 96},
		{"mono_exact_fill", 4, 1, 0},
		{"mono_under_filled", 3, 1, 0},
		{"mono_empty", 0, 1, 0},
		{"stereo_well_filled", 100, 2, 96},
		{"stereo_under_filled", 2, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFIR[int16]()
			require.NoError(t, f.SetCoefficients(identityCoeffs[int16](0), CoeffShift))

			src := make([]int16, tt.frames*tt.channels)
			dst := make([]int16, len(src))
			got, err := f.Evaluate(dst, src, tt.channels)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "output frame count")
		})
	}
}

// TestFIR_IdentityInt16 verifies exact pass-through with a unit tap,
// proving sample order and channel interleaving are preserved.
func TestFIR_IdentityInt16(t *testing.T) {
	t.Run("mono", func(t *testing.T) {
		f := NewFIR[int16]()
		require.NoError(t, f.SetCoefficients(identityCoeffs[int16](0), CoeffShift))

		src := []int16{100, -200, 300, -400, 500, -600, 700, -800, 900}
		dst := make([]int16, len(src))
		got, err := f.Evaluate(dst, src, 1)
		require.NoError(t, err)

		require.Equal(t, len(src)-4, got)
		assert.Equal(t, src[:got], dst[:got])
	})

	t.Run("stereo", func(t *testing.T) {
		f := NewFIR[int16]()
		require.NoError(t, f.SetCoefficients(identityCoeffs[int16](0), CoeffShift))

		const frames = 12
		src := make([]int16, frames*2)
		for i := 0; i < frames; i++ {
			src[2*i] = int16(1000 + i)
			src[2*i+1] = int16(-1000 - i)
		}
		dst := make([]int16, len(src))
		got, err := f.Evaluate(dst, src, 2)
		require.NoError(t, err)

		require.Equal(t, frames-4, got)
		assert.Equal(t, src[:got*2], dst[:got*2])
	})
}

// TestFIR_IdentityFloat32 verifies exact pass-through on the float32
// kernels; the fixed-point scale is a power of two, so scaling round-trips
// without error.
func TestFIR_IdentityFloat32(t *testing.T) {
	t.Run("mono", func(t *testing.T) {
		f := NewFIR[float32]()
		require.NoError(t, f.SetCoefficients(identityCoeffs[float32](0), CoeffShift))

		src := []float32{0.5, -0.25, 0.125, 1.0, -1.0, 0.75, 0.0625, -0.5}
		dst := make([]float32, len(src))
		got, err := f.Evaluate(dst, src, 1)
		require.NoError(t, err)

		require.Equal(t, len(src)-4, got)
		assert.Equal(t, src[:got], dst[:got])
	})

	t.Run("stereo", func(t *testing.T) {
		f := NewFIR[float32]()
		require.NoError(t, f.SetCoefficients(identityCoeffs[float32](0), CoeffShift))

		const frames = 10
		src := make([]float32, frames*2)
		for i := 0; i < frames; i++ {
			src[2*i] = float32(i) * 0.125
			src[2*i+1] = float32(i) * -0.25
		}
		dst := make([]float32, len(src))
		got, err := f.Evaluate(dst, src, 2)
		require.NoError(t, err)

		require.Equal(t, frames-4, got)
		assert.Equal(t, src[:got*2], dst[:got*2])
	})
}

// TestFIR_DelayedIdentity verifies the tap index direction: a unit tap at
// index k reads k frames ahead.
func TestFIR_DelayedIdentity(t *testing.T) {
	f := NewFIR[int16]()
	require.NoError(t, f.SetCoefficients(identityCoeffs[int16](2), CoeffShift))

	src := []int16{10, 20, 30, 40, 50, 60, 70, 80}
	dst := make([]int16, len(src))
	got, err := f.Evaluate(dst, src, 1)
	require.NoError(t, err)

	require.Equal(t, 4, got)
	assert.Equal(t, []int16{30, 40, 50, 60}, dst[:got])
}

// TestFIR_ShiftSemantics verifies that integer outputs use an arithmetic
// right shift, which floors negative results.
func TestFIR_ShiftSemantics(t *testing.T) {
	f := NewFIR[int16]()
	// Four equal taps averaging four samples.
	require.NoError(t, f.SetCoefficients([]int16{4096, 4096, 4096, 4096}, CoeffShift))

	src := []int16{8, 8, 8, 8, -1, 0, 0, 0, 0}
	dst := make([]int16, len(src))
	got, err := f.Evaluate(dst, src, 1)
	require.NoError(t, err)
	require.Equal(t, 5, got)

	assert.Equal(t, int16(8), dst[0], "average of equal samples")
	// (8+8+8-1)*4096 >> 14 floors 5.75 to 5.
	assert.Equal(t, int16(5), dst[1])
	// (-1)*4096 >> 14 floors -0.25 to -1.
	assert.Equal(t, int16(-1), dst[4])
}

// TestFIR_Saturation verifies that overflowing int16 accumulations clamp
// instead of wrapping.
func TestFIR_Saturation(t *testing.T) {
	f := NewFIR[int16]()
	require.NoError(t, f.SetCoefficients([]int16{32767, 32767, 32767, 32767}, 0))

	src := []int16{32767, 32767, 32767, 32767, -32768, -32768, -32768, -32768}
	dst := make([]int16, len(src))
	got, err := f.Evaluate(dst, src, 1)
	require.NoError(t, err)
	require.Equal(t, 4, got)

	assert.Equal(t, int16(math.MaxInt16), dst[0], "positive overflow clamps")
	assert.Equal(t, int16(math.MinInt16), dst[3], "negative overflow clamps")
}

// TestFIR_StereoIndependence verifies that channels never leak into each
// other.
func TestFIR_StereoIndependence(t *testing.T) {
	f := NewFIR[float32]()
	coeffs, err := Coefficients[float32](testLength32, testCutoff025)
	require.NoError(t, err)
	require.NoError(t, f.SetCoefficients(coeffs, CoeffShift))

	const frames = 128
	src := make([]float32, frames*2)
	left := testutil.MakeSine[float32](1000, 44100, 1, frames, 0.5)
	for i := 0; i < frames; i++ {
		src[2*i] = left[i]
		src[2*i+1] = 0
	}

	dst := make([]float32, len(src))
	got, err := f.Evaluate(dst, src, 2)
	require.NoError(t, err)
	require.Equal(t, frames-testLength32, got)

	var leftEnergy float64
	for j := 0; j < got; j++ {
		leftEnergy += float64(dst[2*j]) * float64(dst[2*j])
		assert.Zero(t, dst[2*j+1], "right channel leaked at frame %d", j)
	}
	assert.Positive(t, leftEnergy, "left channel should carry signal")
}

// TestFIR_MatchesScalarReference verifies the SIMD-backed float32 mono
// kernel against a plain float64 reference on a deterministic signal.
func TestFIR_MatchesScalarReference(t *testing.T) {
	coeffs, err := Coefficients[float32](testLength64, 0.2)
	require.NoError(t, err)

	f := NewFIR[float32]()
	require.NoError(t, f.SetCoefficients(coeffs, CoeffShift))

	const frames = 512
	src := testutil.MakeSine[float32](3000, 44100, 1, frames, 0.8)
	dst := make([]float32, frames)
	got, err := f.Evaluate(dst, src, 1)
	require.NoError(t, err)
	require.Equal(t, frames-testLength64, got)

	scale := 1 / float64(int64(1)<<CoeffShift)
	for j := 0; j < got; j++ {
		var want float64
		for i, c := range coeffs {
			want += float64(src[j+i]) * float64(c)
		}
		want *= scale
		assert.InDelta(t, want, float64(dst[j]), f32Tolerance, "frame %d", j)
	}
}

// TestFIR_Errors verifies rejection of misuse before any samples are
// touched.
func TestFIR_Errors(t *testing.T) {
	t.Run("coefficients_not_set", func(t *testing.T) {
		f := NewFIR[int16]()
		_, err := f.Evaluate(make([]int16, 8), make([]int16, 8), 1)
		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("bad_tap_count", func(t *testing.T) {
		f := NewFIR[int16]()
		assert.ErrorIs(t, f.SetCoefficients(make([]int16, 6), CoeffShift), ErrInvalidParams)
		assert.ErrorIs(t, f.SetCoefficients(nil, CoeffShift), ErrInvalidParams)
	})

	t.Run("bad_channel_count", func(t *testing.T) {
		f := NewFIR[int16]()
		require.NoError(t, f.SetCoefficients(identityCoeffs[int16](0), CoeffShift))
		for _, channels := range []int{0, -1, 3} {
			_, err := f.Evaluate(make([]int16, 32), make([]int16, 32), channels)
			assert.ErrorIs(t, err, ErrInvalidParams, "channels=%d", channels)
		}
	})

	t.Run("partial_frame", func(t *testing.T) {
		f := NewFIR[int16]()
		require.NoError(t, f.SetCoefficients(identityCoeffs[int16](0), CoeffShift))
		_, err := f.Evaluate(make([]int16, 32), make([]int16, 15), 2)
		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("short_output", func(t *testing.T) {
		f := NewFIR[int16]()
		require.NoError(t, f.SetCoefficients(identityCoeffs[int16](0), CoeffShift))
		_, err := f.Evaluate(make([]int16, 2), make([]int16, 32), 1)
		assert.ErrorIs(t, err, ErrShortBuffer)
	})
}

// TestFIR_SetCoefficientsReplaces verifies that redesigns swap the tap set
// without stale state.
func TestFIR_SetCoefficientsReplaces(t *testing.T) {
	f := NewFIR[int16]()
	require.NoError(t, f.SetCoefficients(identityCoeffs[int16](0), CoeffShift))
	require.Equal(t, 4, f.Length())

	longer := make([]int16, 8)
	longer[0] = identityTap
	require.NoError(t, f.SetCoefficients(longer, CoeffShift))
	assert.Equal(t, 8, f.Length())

	// Caller mutations after the call must not affect the engine.
	longer[0] = 0
	assert.Equal(t, identityTap, f.Coefficients()[0])
}

// BenchmarkFIREvaluate benchmarks the hot convolution loop at a typical
// anti-alias length.
func BenchmarkFIREvaluate(b *testing.B) {
	const frames = 4096

	b.Run("int16_mono", func(b *testing.B) {
		coeffs, _ := Coefficients[int16](testLength64, testCutoff025)
		f := NewFIR[int16]()
		_ = f.SetCoefficients(coeffs, CoeffShift)
		src := testutil.MakeSine[int16](1000, 44100, 1, frames, 16000)
		dst := make([]int16, frames)
		for b.Loop() {
			_, _ = f.Evaluate(dst, src, 1)
		}
	})

	b.Run("int16_stereo", func(b *testing.B) {
		coeffs, _ := Coefficients[int16](testLength64, testCutoff025)
		f := NewFIR[int16]()
		_ = f.SetCoefficients(coeffs, CoeffShift)
		src := testutil.MakeSine[int16](1000, 44100, 2, frames, 16000)
		dst := make([]int16, frames*2)
		for b.Loop() {
			_, _ = f.Evaluate(dst, src, 2)
		}
	})

	b.Run("float32_mono", func(b *testing.B) {
		coeffs, _ := Coefficients[float32](testLength64, testCutoff025)
		f := NewFIR[float32]()
		_ = f.SetCoefficients(coeffs, CoeffShift)
		src := testutil.MakeSine[float32](1000, 44100, 1, frames, 0.5)
		dst := make([]float32, frames)
		for b.Loop() {
			_, _ = f.Evaluate(dst, src, 1)
		}
	})

	b.Run("float32_stereo", func(b *testing.B) {
		coeffs, _ := Coefficients[float32](testLength64, testCutoff025)
		f := NewFIR[float32]()
		_ = f.SetCoefficients(coeffs, CoeffShift)
		src := testutil.MakeSine[float32](1000, 44100, 2, frames, 0.5)
		dst := make([]float32, frames*2)
		for b.Loop() {
			_, _ = f.Evaluate(dst, src, 2)
		}
	})
}
