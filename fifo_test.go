package stretch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequentialFrames returns n mono frames with distinct, order-revealing
// values.
func sequentialFrames(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i - n/2)
	}
	return out
}

// TestFIFO_RoundTrip verifies that pushed frames come back identical and in
// order, for mono and stereo interleaving.
func TestFIFO_RoundTrip(t *testing.T) {
	t.Run("mono", func(t *testing.T) {
		f := NewFIFO[int16](1)
		src := sequentialFrames(100)
		require.NoError(t, f.PutSamples(src))

		assert.Equal(t, 100, f.AvailableSamples())
		assert.False(t, f.IsEmpty())

		dst := make([]int16, 100)
		got := f.ReceiveSamples(dst)
		assert.Equal(t, 100, got)
		assert.Equal(t, src, dst)
		assert.True(t, f.IsEmpty())
	})

	t.Run("stereo", func(t *testing.T) {
		f := NewFIFO[float32](2)
		src := make([]float32, 60)
		for i := range src {
			src[i] = float32(i) * 0.25
		}
		require.NoError(t, f.PutSamples(src))
		assert.Equal(t, 30, f.AvailableSamples(), "frames are sample pairs")

		dst := make([]float32, 60)
		got := f.ReceiveSamples(dst)
		assert.Equal(t, 30, got)
		assert.Equal(t, src, dst)
	})
}

// TestFIFO_ChunkedDrain verifies order preservation when draining in many
// small reads.
func TestFIFO_ChunkedDrain(t *testing.T) {
	f := NewFIFO[int16](1)
	src := sequentialFrames(100)
	require.NoError(t, f.PutSamples(src))

	var drained []int16
	chunk := make([]int16, 7)
	for !f.IsEmpty() {
		got := f.ReceiveSamples(chunk)
		drained = append(drained, chunk[:got]...)
	}
	assert.Equal(t, src, drained)
}

// TestFIFO_DiscardThenReceive verifies the zero-copy drain path: skipping
// 40 of 100 frames leaves exactly frames 41-100 to be copied out.
func TestFIFO_DiscardThenReceive(t *testing.T) {
	f := NewFIFO[int16](1)
	src := sequentialFrames(100)
	require.NoError(t, f.PutSamples(src))

	assert.Equal(t, 40, f.Discard(40))

	dst := make([]int16, 100)
	got := f.ReceiveSamples(dst)
	assert.Equal(t, 60, got)
	assert.Equal(t, src[40:], dst[:got])
}

// TestFIFO_OverDrainClamps verifies that reads and discards beyond the
// available count clamp and report the actual amount.
func TestFIFO_OverDrainClamps(t *testing.T) {
	f := NewFIFO[int16](1)
	require.NoError(t, f.PutSamples(sequentialFrames(10)))

	dst := make([]int16, 50)
	assert.Equal(t, 10, f.ReceiveSamples(dst))
	assert.Equal(t, 0, f.ReceiveSamples(dst), "drained queue yields nothing")

	require.NoError(t, f.PutSamples(sequentialFrames(5)))
	assert.Equal(t, 5, f.Discard(100))
	assert.Equal(t, 0, f.Discard(3))
	assert.Equal(t, 0, f.Discard(-1), "negative request is a no-op")
}

// TestFIFO_PutSamplesValidation verifies frame alignment checking and the
// empty no-op.
func TestFIFO_PutSamplesValidation(t *testing.T) {
	f := NewFIFO[int16](2)

	err := f.PutSamples(make([]int16, 7))
	assert.ErrorIs(t, err, ErrInvalidSamples)
	assert.True(t, f.IsEmpty(), "rejected put must not buffer anything")

	require.NoError(t, f.PutSamples(nil))
	require.NoError(t, f.PutSamples([]int16{}))
	assert.True(t, f.IsEmpty())
}

// TestFIFO_SamplesView verifies the zero-copy view tracks the read offset.
func TestFIFO_SamplesView(t *testing.T) {
	f := NewFIFO[int16](1)
	src := sequentialFrames(20)
	require.NoError(t, f.PutSamples(src))

	view := f.Samples()
	require.Len(t, view, 20)
	assert.Equal(t, src, view)

	f.Discard(5)
	view = f.Samples()
	require.Len(t, view, 15)
	assert.Equal(t, src[5:], view)

	f.Discard(15)
	assert.Empty(t, f.Samples())
}

// TestFIFO_ReserveCommit verifies in-place production of output frames.
func TestFIFO_ReserveCommit(t *testing.T) {
	f := NewFIFO[int16](2)

	tail := f.Reserve(3)
	require.Len(t, tail, 6)
	for i := range tail {
		tail[i] = int16(i)
	}
	f.Commit(2)
	assert.Equal(t, 2, f.AvailableSamples(), "only committed frames are visible")
	assert.Equal(t, []int16{0, 1, 2, 3}, f.Samples())

	assert.Empty(t, f.Reserve(0))
	assert.Empty(t, f.Reserve(-1))

	assert.Panics(t, func() { f.Commit(1000) }, "commit beyond reservation")
	assert.Panics(t, func() { f.Commit(-1) }, "negative commit")
}

// TestFIFO_Truncate verifies tail truncation keeps the oldest frames.
func TestFIFO_Truncate(t *testing.T) {
	f := NewFIFO[int16](1)
	src := sequentialFrames(10)
	require.NoError(t, f.PutSamples(src))

	f.Truncate(4)
	assert.Equal(t, 4, f.AvailableSamples())
	assert.Equal(t, src[:4], f.Samples())

	f.Truncate(100)
	assert.Equal(t, 4, f.AvailableSamples(), "larger limit is a no-op")
	f.Truncate(-1)
	assert.Equal(t, 4, f.AvailableSamples(), "negative limit is a no-op")

	f.Truncate(0)
	assert.True(t, f.IsEmpty())
}

// TestFIFO_Clear verifies reset-and-reuse.
func TestFIFO_Clear(t *testing.T) {
	f := NewFIFO[float32](2)
	require.NoError(t, f.PutSamples(make([]float32, 32)))
	f.Clear()

	assert.True(t, f.IsEmpty())
	assert.Equal(t, 0, f.AvailableSamples())
	assert.Equal(t, 2, f.Channels())

	require.NoError(t, f.PutSamples([]float32{1, 2}))
	assert.Equal(t, 1, f.AvailableSamples())
	assert.Equal(t, []float32{1, 2}, f.Samples())
}

// TestFIFO_GrowthPreservesOrder interleaves ragged writes and reads so the
// buffer repeatedly compacts and grows, checking that no frame is lost,
// duplicated, or reordered.
func TestFIFO_GrowthPreservesOrder(t *testing.T) {
	const total = 10000

	f := NewFIFO[int16](1)
	next := 0
	verified := 0
	chunk := make([]int16, 13)

	for verified < total {
		if next < total {
			n := min(7, total-next)
			block := make([]int16, n)
			for i := range block {
				block[i] = int16(next + i)
			}
			require.NoError(t, f.PutSamples(block))
			next += n
		}

		got := f.ReceiveSamples(chunk)
		for i := 0; i < got; i++ {
			require.Equal(t, int16(verified), chunk[i], "frame %d", verified)
			verified++
		}
	}
	assert.True(t, f.IsEmpty())
}

// TestFIFO_DefaultsToMono verifies the channel floor.
func TestFIFO_DefaultsToMono(t *testing.T) {
	assert.Equal(t, 1, NewFIFO[int16](0).Channels())
	assert.Equal(t, 1, NewFIFO[int16](-3).Channels())
}

// TestMoveSamples verifies the stage chaining primitive: everything the
// source has moves downstream in order, leaving it empty.
func TestMoveSamples(t *testing.T) {
	src := NewFIFO[int16](2)
	dst := NewFIFO[int16](2)

	frames := []int16{1, 2, 3, 4, 5, 6}
	require.NoError(t, src.PutSamples(frames))

	moved, err := MoveSamples[int16](dst, src)
	require.NoError(t, err)
	assert.Equal(t, 3, moved)
	assert.True(t, src.IsEmpty())
	assert.Equal(t, frames, dst.Samples())

	moved, err = MoveSamples[int16](dst, src)
	require.NoError(t, err)
	assert.Zero(t, moved, "empty source moves nothing")
	assert.Equal(t, 3, dst.AvailableSamples())
}

// BenchmarkFIFOPutReceive benchmarks steady-state streaming through the
// queue at a typical block size.
func BenchmarkFIFOPutReceive(b *testing.B) {
	const frames = 4096

	f := NewFIFO[int16](2)
	src := make([]int16, frames*2)
	dst := make([]int16, frames*2)

	for b.Loop() {
		_ = f.PutSamples(src)
		_ = f.ReceiveSamples(dst)
	}
}
