package stretch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-audio-stretch/internal/testutil"
)

const (
	bpmTestRate      = 44100
	bpmTestSeconds   = 15
	bpmTestTempo     = 120.0
	bpmTestTolerance = 3.0
	bpmChunkFrames   = 4096

	bpmAmplitudeI16 = 12000.0
	bpmAmplitudeF32 = 0.5
)

// feedClickTrack streams a metronome signal into the detector in chunks,
// the way a file reader would.
func feedClickTrack[S Sample](t *testing.T, d *BPMDetector[S], bpm float64, channels, seconds int, amplitude float64) {
	t.Helper()
	frames := seconds * bpmTestRate
	track := testutil.MakeClickTrack[S](bpm, bpmTestRate, channels, frames, amplitude)
	for off := 0; off < len(track); off += bpmChunkFrames * channels {
		end := min(off+bpmChunkFrames*channels, len(track))
		require.NoError(t, d.PutSamples(track[off:end]))
	}
}

func TestNewBPMDetector(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		d, err := NewBPMDetector[float32](2, 44100)
		require.NoError(t, err)
		assert.Zero(t, d.BPM(), "no input should yield no estimate")
	})

	t.Run("invalid_channels", func(t *testing.T) {
		for _, ch := range []int{0, -1, 3} {
			_, err := NewBPMDetector[int16](ch, 44100)
			assert.ErrorIs(t, err, ErrInvalidConfig, "channels=%d", ch)
		}
	})

	t.Run("invalid_sample_rate", func(t *testing.T) {
		for _, rate := range []int{0, 7999, 384001} {
			_, err := NewBPMDetector[int16](1, rate)
			assert.ErrorIs(t, err, ErrInvalidConfig, "sampleRate=%d", rate)
		}
	})
}

func TestBPMDetectsClickTrack(t *testing.T) {
	t.Run("int16", func(t *testing.T) {
		for _, channels := range []int{1, 2} {
			d, err := NewBPMDetector[int16](channels, bpmTestRate)
			require.NoError(t, err)
			feedClickTrack(t, d, bpmTestTempo, channels, bpmTestSeconds, bpmAmplitudeI16)
			assert.InDelta(t, bpmTestTempo, d.BPM(), bpmTestTolerance, "channels=%d", channels)
		}
	})

	t.Run("float32", func(t *testing.T) {
		for _, channels := range []int{1, 2} {
			d, err := NewBPMDetector[float32](channels, bpmTestRate)
			require.NoError(t, err)
			feedClickTrack(t, d, bpmTestTempo, channels, bpmTestSeconds, bpmAmplitudeF32)
			assert.InDelta(t, bpmTestTempo, d.BPM(), bpmTestTolerance, "channels=%d", channels)
		}
	})
}

func TestBPMTempoGrid(t *testing.T) {
	for _, tempo := range []float64{90, 144} {
		d, err := NewBPMDetector[float32](1, bpmTestRate)
		require.NoError(t, err)
		feedClickTrack(t, d, tempo, 1, bpmTestSeconds, bpmAmplitudeF32)
		assert.InDelta(t, tempo, d.BPM(), bpmTestTolerance, "tempo=%v", tempo)
	}
}

func TestBPMNoBeatYieldsZero(t *testing.T) {
	t.Run("silence", func(t *testing.T) {
		d, err := NewBPMDetector[float32](1, bpmTestRate)
		require.NoError(t, err)
		require.NoError(t, d.PutSamples(make([]float32, 10*bpmTestRate)))
		assert.Zero(t, d.BPM())
	})

	t.Run("too_short", func(t *testing.T) {
		// Under one full correlation window no lags accumulate yet.
		d, err := NewBPMDetector[float32](1, bpmTestRate)
		require.NoError(t, err)
		track := testutil.MakeClickTrack[float32](bpmTestTempo, bpmTestRate, 1, bpmTestRate/2, bpmAmplitudeF32)
		require.NoError(t, d.PutSamples(track))
		assert.Zero(t, d.BPM())
	})
}

func TestBPMReadIsRepeatable(t *testing.T) {
	d, err := NewBPMDetector[int16](1, bpmTestRate)
	require.NoError(t, err)

	feedClickTrack(t, d, bpmTestTempo, 1, 8, bpmAmplitudeI16)
	first := d.BPM()
	assert.InDelta(t, bpmTestTempo, first, bpmTestTolerance)
	assert.Equal(t, first, d.BPM(), "reading must not perturb the analysis")

	feedClickTrack(t, d, bpmTestTempo, 1, 7, bpmAmplitudeI16)
	assert.InDelta(t, bpmTestTempo, d.BPM(), bpmTestTolerance)
}

func TestBPMPutSamplesAlignment(t *testing.T) {
	d, err := NewBPMDetector[int16](2, bpmTestRate)
	require.NoError(t, err)
	assert.ErrorIs(t, d.PutSamples(make([]int16, 5)), ErrInvalidSamples)
}

// addHump writes a triangular peak of the given height into data.
func addHump(data []float64, center, halfWidth int, height float64) {
	for i := -halfWidth; i <= halfWidth; i++ {
		frac := float64(abs(i)) / float64(halfWidth)
		data[center+i] += height * (1 - frac)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestPeakFinder(t *testing.T) {
	const (
		rangeMin  = 50
		rangeMax  = 1000
		humpWidth = 10
	)

	t.Run("single_peak", func(t *testing.T) {
		data := make([]float64, rangeMax)
		addHump(data, 600, humpWidth, 1.0)
		pf := peakFinder{min: rangeMin, max: rangeMax}
		assert.InDelta(t, 600, pf.detect(data), 0.5)
	})

	t.Run("prefers_base_tempo", func(t *testing.T) {
		// The double-period peak is slightly stronger, but the peak at
		// half its lag marks the true beat rate and must win.
		data := make([]float64, rangeMax)
		addHump(data, 400, humpWidth, 1.0)
		addHump(data, 800, humpWidth, 1.05)
		pf := peakFinder{min: rangeMin, max: rangeMax}
		assert.InDelta(t, 400, pf.detect(data), 0.5)
	})

	t.Run("flat_data", func(t *testing.T) {
		data := make([]float64, rangeMax)
		pf := peakFinder{min: rangeMin, max: rangeMax}
		assert.Zero(t, pf.detect(data))
	})
}

func BenchmarkBPMDetector(b *testing.B) {
	track := testutil.MakeClickTrack[int16](bpmTestTempo, bpmTestRate, 2, bpmTestRate, bpmAmplitudeI16)
	d, err := NewBPMDetector[int16](2, bpmTestRate)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(track) * 2))
	for b.Loop() {
		if err := d.PutSamples(track); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBPMAnalyze(b *testing.B) {
	d, err := NewBPMDetector[int16](1, bpmTestRate)
	if err != nil {
		b.Fatal(err)
	}
	track := testutil.MakeClickTrack[int16](bpmTestTempo, bpmTestRate, 1, bpmTestSeconds*bpmTestRate, bpmAmplitudeI16)
	if err := d.PutSamples(track); err != nil {
		b.Fatal(err)
	}
	for b.Loop() {
		if d.BPM() == 0 {
			b.Fatal("no estimate")
		}
	}
}
