package stretch

import (
	"fmt"
	"math"

	"github.com/tphakala/go-audio-stretch/internal/sampleops"
)

// Automatic sequence and seek-window durations interpolate linearly between
// these endpoints as the tempo moves from the low to the top anchor, and
// saturate outside that range. Slow tempos favour longer sequences.
const (
	autoTempoLow = 0.5
	autoTempoTop = 2.0

	autoSequenceMaxMS = 90.0
	autoSequenceMinMS = 40.0
	autoSeekMaxMS     = 20.0
	autoSeekMinMS     = 15.0
)

const (
	// Overlap length in frames is floored and aligned after the
	// millisecond conversion.
	minOverlapFrames = 16
	overlapAlignment = 8

	// Quick seek scans the window coarsely, then refines around the two
	// best coarse hits.
	seekScanStep = 16
	seekScanWind = 8

	// Seek scoring adds a fixed offset so silent windows compare sanely
	// and weighs positions toward the window midpoint.
	seekBiasOffset   = 0.1
	seekCenterWeight = 0.25

	// Normalizer floor guards the division for near-silent windows.
	seekNormFloor = 1e-9
)

// mixOps hold the overlap-add kernels for one sample type. The int16 pair
// mixes in integer arithmetic, the float32 pair in floating point.
type mixOps[S Sample] struct {
	mono   func(dst, in, mid []S, overlap int)
	stereo func(dst, in, mid []S, overlap int)
}

var mixOpsI16 = mixOps[int16]{mono: overlapMonoInt16, stereo: overlapStereoInt16}
var mixOpsF32 = mixOps[float32]{mono: overlapMonoFloat32, stereo: overlapStereoFloat32}

func mixOpsFor[S Sample]() *mixOps[S] {
	var zero S
	switch any(zero).(type) {
	case int16:
		ops, ok := any(&mixOpsI16).(*mixOps[S])
		if !ok {
			panic("stretch: mix dispatch failed for int16")
		}
		return ops
	case float32:
		ops, ok := any(&mixOpsF32).(*mixOps[S])
		if !ok {
			panic("stretch: mix dispatch failed for float32")
		}
		return ops
	default:
		panic("stretch: unsupported sample type")
	}
}

func overlapMonoInt16(dst, in, mid []int16, overlap int) {
	for i := 0; i < overlap; i++ {
		dst[i] = int16((int(in[i])*i + int(mid[i])*(overlap-i)) / overlap)
	}
}

func overlapStereoInt16(dst, in, mid []int16, overlap int) {
	for i := 0; i < overlap; i++ {
		up, down := i, overlap-i
		dst[2*i] = int16((int(in[2*i])*up + int(mid[2*i])*down) / overlap)
		dst[2*i+1] = int16((int(in[2*i+1])*up + int(mid[2*i+1])*down) / overlap)
	}
}

func overlapMonoFloat32(dst, in, mid []float32, overlap int) {
	scale := 1.0 / float32(overlap)
	for i := 0; i < overlap; i++ {
		up := float32(i) * scale
		dst[i] = in[i]*up + mid[i]*(1-up)
	}
}

func overlapStereoFloat32(dst, in, mid []float32, overlap int) {
	scale := 1.0 / float32(overlap)
	for i := 0; i < overlap; i++ {
		up := float32(i) * scale
		down := 1 - up
		dst[2*i] = in[2*i]*up + mid[2*i]*down
		dst[2*i+1] = in[2*i+1]*up + mid[2*i+1]*down
	}
}

// TimeStretcher changes tempo without affecting pitch. Input is cut into
// overlapping sequences; each sequence is appended to the output at the
// offset whose waveform correlates best with the tail of the previous one,
// cross-faded over the overlap region. The sequence advance through the
// input runs at tempo times the output advance, with the fractional part
// carried between batches so the ratio holds exactly over time.
//
// The embedded FIFO is the stage's output queue.
type TimeStretcher[S Sample] struct {
	*FIFO[S]

	input *FIFO[S]
	mid   []S
	ops   *sampleops.Ops[S]
	mix   *mixOps[S]

	channels   int
	sampleRate int

	tempo        float64
	sequenceMS   int
	seekWindowMS int
	overlapMS    int
	autoSequence bool
	autoSeek     bool
	quickSeek    bool

	seqLen     int
	seekLen    int
	overlapLen int

	nominalSkip float64
	skipFract   float64
	sampleReq   int

	beginning bool
}

// NewTimeStretcher creates a stretcher at tempo 1.0 with automatic sequence
// and seek-window durations.
func NewTimeStretcher[S Sample](sampleRate, channels int) (*TimeStretcher[S], error) {
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return nil, fmt.Errorf("%w: sample rate %d outside [%d, %d]",
			ErrInvalidConfig, sampleRate, minSampleRate, maxSampleRate)
	}
	if channels < minChannels || channels > maxChannels {
		return nil, fmt.Errorf("%w: channel count %d outside [%d, %d]",
			ErrInvalidConfig, channels, minChannels, maxChannels)
	}

	ts := &TimeStretcher[S]{
		FIFO:         NewFIFO[S](channels),
		input:        NewFIFO[S](channels),
		ops:          sampleops.For[S](),
		mix:          mixOpsFor[S](),
		channels:     channels,
		sampleRate:   sampleRate,
		tempo:        1.0,
		overlapMS:    DefaultOverlapMS,
		autoSequence: true,
		autoSeek:     true,
		beginning:    true,
	}
	ts.setOverlapDuration(ts.overlapMS)
	ts.applyTempo()
	return ts, nil
}

// SetTempo sets the tempo factor in [MinTempo, MaxTempo]: 2.0 halves the
// duration, 0.5 doubles it.
func (ts *TimeStretcher[S]) SetTempo(tempo float64) error {
	if tempo < MinTempo || tempo > MaxTempo {
		return fmt.Errorf("%w: tempo %g outside [%g, %g]", ErrInvalidConfig, tempo, MinTempo, MaxTempo)
	}
	ts.tempo = tempo
	ts.applyTempo()
	return nil
}

// Tempo returns the current tempo factor.
func (ts *TimeStretcher[S]) Tempo() float64 {
	return ts.tempo
}

// SetParameters adjusts the processing window durations, all in
// milliseconds. Zero selects automatic tempo-dependent adaptation for the
// sequence and seek window; negative values leave the current setting
// untouched. The overlap must be positive to change.
func (ts *TimeStretcher[S]) SetParameters(sequenceMS, seekWindowMS, overlapMS int) {
	if sequenceMS > 0 {
		ts.sequenceMS = sequenceMS
		ts.autoSequence = false
	} else if sequenceMS == 0 {
		ts.autoSequence = true
	}

	if seekWindowMS > 0 {
		ts.seekWindowMS = seekWindowMS
		ts.autoSeek = false
	} else if seekWindowMS == 0 {
		ts.autoSeek = true
	}

	if overlapMS > 0 {
		ts.overlapMS = overlapMS
	}

	ts.setOverlapDuration(ts.overlapMS)
	ts.applyTempo()
}

// SequenceMS returns the effective sequence duration; under automatic
// adaptation this tracks the tempo.
func (ts *TimeStretcher[S]) SequenceMS() int { return ts.sequenceMS }

// SeekWindowMS returns the effective seek window duration.
func (ts *TimeStretcher[S]) SeekWindowMS() int { return ts.seekWindowMS }

// OverlapMS returns the cross-fade duration.
func (ts *TimeStretcher[S]) OverlapMS() int { return ts.overlapMS }

// SetQuickSeek toggles the coarse-then-refine seek algorithm, trading a
// little alignment quality for speed.
func (ts *TimeStretcher[S]) SetQuickSeek(enabled bool) {
	ts.quickSeek = enabled
}

// QuickSeek reports whether coarse seeking is active.
func (ts *TimeStretcher[S]) QuickSeek() bool {
	return ts.quickSeek
}

// InputSequence returns the nominal input frames consumed per processing
// batch at the current tempo.
func (ts *TimeStretcher[S]) InputSequence() int {
	return int(ts.nominalSkip + 0.5)
}

// OutputSequence returns the nominal output frames produced per processing
// batch.
func (ts *TimeStretcher[S]) OutputSequence() int {
	return ts.seqLen - ts.overlapLen
}

// UnprocessedSamples returns the input frames buffered but not yet
// processed into output.
func (ts *TimeStretcher[S]) UnprocessedSamples() int {
	return ts.input.AvailableSamples()
}

// PutSamples feeds interleaved input frames and processes as many full
// batches as the buffered input allows.
func (ts *TimeStretcher[S]) PutSamples(samples []S) error {
	if err := ts.input.PutSamples(samples); err != nil {
		return err
	}
	ts.processBatches()
	return nil
}

// Clear resets the stage, discarding buffered input, cross-fade history,
// and output.
func (ts *TimeStretcher[S]) Clear() {
	ts.FIFO.Clear()
	ts.ClearInput()
}

// ClearInput drops buffered input and cross-fade history but keeps
// processed output available.
func (ts *TimeStretcher[S]) ClearInput() {
	ts.input.Clear()
	clear(ts.mid)
	ts.beginning = true
	ts.skipFract = 0
}

// autoDuration interpolates a window duration for the tempo between the
// endpoint anchors, saturating outside them.
func autoDuration(tempo, atLow, atTop float64) int {
	k := (atTop - atLow) / (autoTempoTop - autoTempoLow)
	ms := atLow + k*(tempo-autoTempoLow)
	ms = math.Max(math.Min(ms, math.Max(atLow, atTop)), math.Min(atLow, atTop))
	return int(ms + 0.5)
}

// applyTempo refreshes the derived frame counts after a tempo or parameter
// change.
func (ts *TimeStretcher[S]) applyTempo() {
	if ts.autoSequence {
		ts.sequenceMS = autoDuration(ts.tempo, autoSequenceMaxMS, autoSequenceMinMS)
	}
	if ts.autoSeek {
		ts.seekWindowMS = autoDuration(ts.tempo, autoSeekMaxMS, autoSeekMinMS)
	}

	ts.seqLen = ts.sampleRate * ts.sequenceMS / 1000
	if ts.seqLen < 2*ts.overlapLen {
		ts.seqLen = 2 * ts.overlapLen
	}
	ts.seekLen = ts.sampleRate * ts.seekWindowMS / 1000

	ts.nominalSkip = ts.tempo * float64(ts.seqLen-ts.overlapLen)
	intSkip := int(ts.nominalSkip + 0.5)
	ts.sampleReq = max(intSkip+ts.overlapLen, ts.seqLen) + ts.seekLen
}

func (ts *TimeStretcher[S]) setOverlapDuration(overlapMS int) {
	frames := ts.sampleRate * overlapMS / 1000
	if frames < minOverlapFrames {
		frames = minOverlapFrames
	}
	frames -= frames % overlapAlignment

	if frames == ts.overlapLen && ts.mid != nil {
		return
	}
	ts.overlapLen = frames
	ts.mid = make([]S, ts.channels*frames)
}

// processBatches runs the stretch loop while a full batch of input is
// buffered: seek the best overlap offset, cross-fade into the output, copy
// the sequence body, stash the new tail, then advance the input by the
// tempo-scaled skip with fractional carry.
func (ts *TimeStretcher[S]) processBatches() {
	for ts.input.AvailableSamples() >= ts.sampleReq {
		var offset int
		if ts.beginning {
			// No history to align against; skip part of the seek
			// span up front so the first sequence sits where later
			// ones nominally would.
			ts.beginning = false
			skip := int(ts.tempo*float64(ts.overlapLen) + 0.5*float64(ts.seekLen) + 0.5)
			ts.skipFract -= float64(skip)
			if ts.skipFract <= -ts.nominalSkip {
				ts.skipFract = -ts.nominalSkip
			}
		} else {
			offset = ts.seekBestOverlapPosition(ts.input.Samples())

			out := ts.FIFO.Reserve(ts.overlapLen)
			in := ts.input.Samples()[ts.channels*offset:]
			if ts.channels == 1 {
				ts.mix.mono(out, in, ts.mid, ts.overlapLen)
			} else {
				ts.mix.stereo(out, in, ts.mid, ts.overlapLen)
			}
			ts.FIFO.Commit(ts.overlapLen)
			offset += ts.overlapLen
		}

		body := ts.seqLen - 2*ts.overlapLen
		if body > 0 {
			src := ts.input.Samples()[ts.channels*offset:]
			out := ts.FIFO.Reserve(body)
			copy(out, src[:ts.channels*body])
			ts.FIFO.Commit(body)
		}

		tail := ts.input.Samples()[ts.channels*(offset+body):]
		copy(ts.mid, tail[:len(ts.mid)])

		ts.skipFract += ts.nominalSkip
		skip := int(ts.skipFract)
		ts.skipFract -= float64(skip)
		ts.input.Discard(skip)
	}
}

func (ts *TimeStretcher[S]) seekBestOverlapPosition(ref []S) int {
	if ts.quickSeek {
		return ts.seekQuick(ref)
	}
	return ts.seekFull(ref)
}

// seekScore applies the midpoint bias to a normalized correlation.
func (ts *TimeStretcher[S]) seekScore(corr float64, i int) float64 {
	tmp := float64(2*i-ts.seekLen) / float64(ts.seekLen)
	return (corr + seekBiasOffset) * (1.0 - seekCenterWeight*tmp*tmp)
}

// normalizedCorr relates correlation energy to the candidate window's own
// energy so loud windows can't win on amplitude alone.
func normalizedCorr(corr, norm float64) float64 {
	if norm < seekNormFloor {
		norm = 1.0
	}
	return corr / math.Sqrt(norm)
}

// seekFull scores every offset in the seek window, sliding the normalizer
// across candidates instead of recomputing it.
func (ts *TimeStretcher[S]) seekFull(ref []S) int {
	n := len(ts.mid)

	corr := ts.ops.Dot(ref[:n], ts.mid)
	norm := ts.ops.SquaredSum(ref[:n])
	bestScore := ts.seekScore(normalizedCorr(corr, norm), 0)
	bestOffs := 0

	for i := 1; i < ts.seekLen; i++ {
		start := ts.channels * i
		for k := 1; k <= ts.channels; k++ {
			out := float64(ref[start-k])
			norm -= out * out
		}
		for k := 0; k < ts.channels; k++ {
			in := float64(ref[start+n-1-k])
			norm += in * in
		}

		corr = ts.ops.Dot(ref[start:start+n], ts.mid)
		if score := ts.seekScore(normalizedCorr(corr, norm), i); score > bestScore {
			bestScore = score
			bestOffs = i
		}
	}
	return bestOffs
}

// seekQuick scans coarsely, keeps the two best coarse hits, then refines
// around both with unit steps.
func (ts *TimeStretcher[S]) seekQuick(ref []S) int {
	score := func(i int) float64 {
		w := ref[ts.channels*i:][:len(ts.mid)]
		return ts.seekScore(normalizedCorr(ts.ops.Dot(w, ts.mid), ts.ops.SquaredSum(w)), i)
	}

	bestScore, bestScore2 := math.Inf(-1), math.Inf(-1)
	bestOffs, bestOffs2 := seekScanWind, 0

	for i := seekScanStep; i < ts.seekLen-seekScanWind-1; i += seekScanStep {
		s := score(i)
		if s > bestScore {
			bestScore2, bestOffs2 = bestScore, bestOffs
			bestScore, bestOffs = s, i
		} else if s > bestScore2 {
			bestScore2, bestOffs2 = s, i
		}
	}

	for _, center := range []int{bestOffs, bestOffs2} {
		end := min(center+seekScanWind+1, ts.seekLen)
		for i := center - seekScanWind; i < end; i++ {
			if i == center || i < 0 {
				continue
			}
			if s := score(i); s > bestScore {
				bestScore = s
				bestOffs = i
			}
		}
	}
	return bestOffs
}
