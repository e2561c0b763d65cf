package stretch

// Pipe is the uniform streaming contract of every processing stage: input
// frames go in through PutSamples, processed frames are drained through
// Samples/ReceiveSamples/Discard. Counts are in frames; one frame holds
// Channels interleaved samples. A stage is free to buffer input or process
// it immediately, but it must never reorder frames.
//
// A Pipe is not safe for concurrent use.
type Pipe[S Sample] interface {
	// PutSamples appends interleaved input frames. The slice length must
	// be a whole number of frames; an empty slice is a no-op.
	PutSamples(samples []S) error

	// ReceiveSamples copies up to len(output)/Channels() frames of
	// available output into output and removes them. It returns the frame
	// count actually copied, which is less than requested when the pipe
	// runs dry.
	ReceiveSamples(output []S) int

	// Discard removes up to maxFrames frames of available output without
	// copying them, returning the count actually removed. Use together
	// with Samples for zero-copy draining.
	Discard(maxFrames int) int

	// Samples returns a view of the entire available output region. The
	// view is valid only until the next mutating call on the pipe; it must
	// not be retained.
	Samples() []S

	// AvailableSamples returns the number of output frames ready to drain.
	AvailableSamples() int

	// IsEmpty reports whether no output is available.
	IsEmpty() bool

	// Channels returns the interleaved channel count.
	Channels() int

	// Clear resets the stage to its initial empty state, discarding all
	// buffered input and output. Safe to call at any time.
	Clear()
}

// MoveSamples drains everything src currently has available into dst with a
// single put, preserving frame order. It returns the number of frames moved.
// This is the chaining primitive between pipeline stages.
func MoveSamples[S Sample](dst, src Pipe[S]) (int, error) {
	frames := src.AvailableSamples()
	if frames == 0 {
		return 0, nil
	}
	if err := dst.PutSamples(src.Samples()); err != nil {
		return 0, err
	}
	src.Discard(frames)
	return frames, nil
}

// Interface compliance checks for all pipeline stages.
var (
	_ Pipe[int16]   = (*FIFO[int16])(nil)
	_ Pipe[float32] = (*FIFO[float32])(nil)
	_ Pipe[int16]   = (*RateTransposer[int16])(nil)
	_ Pipe[float32] = (*RateTransposer[float32])(nil)
	_ Pipe[int16]   = (*TimeStretcher[int16])(nil)
	_ Pipe[float32] = (*TimeStretcher[float32])(nil)
	_ Pipe[int16]   = (*Processor[int16])(nil)
	_ Pipe[float32] = (*Processor[float32])(nil)
)
