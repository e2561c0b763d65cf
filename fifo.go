package stretch

import "fmt"

// initialFIFOFrames sizes the first allocation of a FIFO's backing storage.
const initialFIFOFrames = 256

// FIFO is the concrete sample queue behind every pipeline stage. Frames are
// stored interleaved in one linear buffer with a read offset; the live
// region stays contiguous so Samples can expose it without copying, and the
// buffer is compacted or grown only when a write runs out of tail room.
//
// Writers either copy frames in with PutSamples or generate them in place
// with the Reserve/Commit pair.
type FIFO[S Sample] struct {
	buffer   []S
	channels int
	begin    int // read offset in frames
	frames   int // live frame count
}

// NewFIFO creates an empty queue for the given interleaved channel count.
// Channel counts below 1 are treated as mono.
func NewFIFO[S Sample](channels int) *FIFO[S] {
	if channels < 1 {
		channels = 1
	}
	return &FIFO[S]{channels: channels}
}

// Channels returns the interleaved channel count.
func (f *FIFO[S]) Channels() int {
	return f.channels
}

// AvailableSamples returns the number of buffered frames.
func (f *FIFO[S]) AvailableSamples() int {
	return f.frames
}

// IsEmpty reports whether no frames are buffered.
func (f *FIFO[S]) IsEmpty() bool {
	return f.frames == 0
}

// Samples returns a view of all buffered frames. The view is valid only
// until the next mutating call.
func (f *FIFO[S]) Samples() []S {
	return f.live()
}

// PutSamples appends interleaved frames to the queue. The slice length must
// be a whole number of frames; an empty slice is a no-op.
func (f *FIFO[S]) PutSamples(samples []S) error {
	if len(samples)%f.channels != 0 {
		return fmt.Errorf("%w: %d samples not a multiple of %d channels",
			ErrInvalidSamples, len(samples), f.channels)
	}
	n := len(samples) / f.channels
	if n == 0 {
		return nil
	}
	copy(f.reserve(n), samples)
	f.frames += n
	return nil
}

// Reserve returns a writable view of the given number of uncommitted tail
// frames, growing storage as needed. The view is valid until the next
// mutating call; the frames become available only after Commit.
func (f *FIFO[S]) Reserve(frames int) []S {
	if frames <= 0 {
		return nil
	}
	return f.reserve(frames)
}

// Commit makes frames previously filled through Reserve available for
// reading. It panics when frames exceeds the reserved tail capacity.
func (f *FIFO[S]) Commit(frames int) {
	if frames < 0 || (f.begin+f.frames+frames)*f.channels > len(f.buffer) {
		panic("stretch: Commit beyond reserved capacity")
	}
	f.frames += frames
}

// ReceiveSamples copies up to len(output)/Channels() frames into output,
// removing them from the queue. It returns the frame count actually copied.
func (f *FIFO[S]) ReceiveSamples(output []S) int {
	n := min(len(output)/f.channels, f.frames)
	if n == 0 {
		return 0
	}
	copy(output, f.buffer[f.begin*f.channels:(f.begin+n)*f.channels])
	f.advance(n)
	return n
}

// Discard removes up to maxFrames frames without copying, returning the
// count actually removed.
func (f *FIFO[S]) Discard(maxFrames int) int {
	n := min(maxFrames, f.frames)
	if n <= 0 {
		return 0
	}
	f.advance(n)
	return n
}

// Truncate drops frames from the tail so at most maxFrames remain.
func (f *FIFO[S]) Truncate(maxFrames int) {
	if maxFrames >= 0 && maxFrames < f.frames {
		f.frames = maxFrames
	}
}

// Clear empties the queue, retaining backing storage for reuse.
func (f *FIFO[S]) Clear() {
	f.begin = 0
	f.frames = 0
}

func (f *FIFO[S]) live() []S {
	return f.buffer[f.begin*f.channels : (f.begin+f.frames)*f.channels]
}

func (f *FIFO[S]) advance(n int) {
	f.begin += n
	f.frames -= n
	if f.frames == 0 {
		f.begin = 0
	}
}

// reserve returns the tail view for n additional frames, compacting or
// growing the buffer when the tail is short.
func (f *FIFO[S]) reserve(n int) []S {
	ch := f.channels
	if (f.begin+f.frames+n)*ch > len(f.buffer) {
		f.ensureCapacity(n)
	}
	start := (f.begin + f.frames) * ch
	return f.buffer[start : start+n*ch]
}

func (f *FIFO[S]) ensureCapacity(extra int) {
	ch := f.channels
	needed := (f.frames + extra) * ch
	if needed <= len(f.buffer) {
		// Total room is sufficient once the live region moves back to the
		// front.
		copy(f.buffer, f.live())
		f.begin = 0
		return
	}

	newCap := len(f.buffer)
	if newCap == 0 {
		newCap = initialFIFOFrames * ch
	}
	for newCap < needed {
		newCap *= 2
	}
	newBuf := make([]S, newCap)
	copy(newBuf, f.live())
	f.buffer = newBuf
	f.begin = 0
}
