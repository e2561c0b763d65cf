package stretch

import (
	"fmt"
	"math"
)

const (
	// Flush pushes short silent blocks through the pipeline until the
	// expected output has appeared, bounded in case the expectation was
	// wrong.
	flushBlockFrames   = 128
	maxFlushIterations = 200

	// effectiveEpsilon suppresses redundant stage retuning when a
	// recomputed factor lands back on its previous value.
	effectiveEpsilon = 1e-10
)

// Processor alters tempo, pitch, and playback rate of a PCM stream
// independently of each other. Tempo changes duration while preserving
// pitch, pitch changes tone while preserving duration, and rate changes
// both together. The three controls combine freely; each takes effect on
// the samples fed after the call.
//
// Feed input with PutSamples, collect output with ReceiveSamples, and call
// Flush once the input has ended to drain the processing latency. A
// Processor is not safe for concurrent use.
type Processor[S Sample] struct {
	transposer *RateTransposer[S]
	stretcher  *TimeStretcher[S]

	sampleRate int
	channels   int

	virtualTempo float64
	virtualRate  float64
	virtualPitch float64

	// Effective stage factors derived from the virtual controls.
	tempo float64
	rate  float64

	// The last stage depends on the effective rate: rates above 1.0 run
	// the transposer after the stretcher, all others before it.
	transposerIsOutput bool

	samplesExpectedOut float64
	samplesOutput      int64
}

// New creates a Processor for the given stream parameters. Zero optional
// fields in cfg take their documented defaults.
func New[S Sample](cfg Config) (*Processor[S], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transposer, err := NewRateTransposer[S](cfg.Channels)
	if err != nil {
		return nil, err
	}
	if err := transposer.SetInterpolation(cfg.Interpolation); err != nil {
		return nil, err
	}
	if err := transposer.SetAAFilterLength(cfg.AAFilterLength); err != nil {
		return nil, err
	}
	transposer.EnableAAFilter(!cfg.DisableAAFilter)

	stretcher, err := NewTimeStretcher[S](cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, err
	}
	stretcher.SetParameters(cfg.SequenceMS, cfg.SeekWindowMS, cfg.OverlapMS)
	stretcher.SetQuickSeek(cfg.QuickSeek)

	return &Processor[S]{
		transposer:   transposer,
		stretcher:    stretcher,
		sampleRate:   cfg.SampleRate,
		channels:     cfg.Channels,
		virtualTempo: 1.0,
		virtualRate:  1.0,
		virtualPitch: 1.0,
		tempo:        1.0,
		rate:         1.0,
	}, nil
}

// SampleRate returns the configured sample rate in Hz.
func (p *Processor[S]) SampleRate() int { return p.sampleRate }

// Channels returns the configured channel count.
func (p *Processor[S]) Channels() int { return p.channels }

// Tempo returns the tempo control value.
func (p *Processor[S]) Tempo() float64 { return p.virtualTempo }

// Rate returns the rate control value.
func (p *Processor[S]) Rate() float64 { return p.virtualRate }

// Pitch returns the pitch control value.
func (p *Processor[S]) Pitch() float64 { return p.virtualPitch }

// SetTempo sets the tempo factor in [MinTempo, MaxTempo]: 2.0 halves the
// duration, 0.5 doubles it, pitch is unaffected.
func (p *Processor[S]) SetTempo(tempo float64) error {
	if tempo < MinTempo || tempo > MaxTempo {
		return fmt.Errorf("%w: tempo %g outside [%g, %g]", ErrInvalidConfig, tempo, MinTempo, MaxTempo)
	}
	return p.applyVirtual(tempo, p.virtualRate, p.virtualPitch)
}

// SetTempoChange sets the tempo as a percentage delta: +10 plays 10%
// faster.
func (p *Processor[S]) SetTempoChange(percent float64) error {
	return p.SetTempo(1.0 + 0.01*percent)
}

// SetRate sets the playback rate factor in [MinRate, MaxRate]: 2.0 plays
// twice as fast and an octave higher, like doubling a tape speed.
func (p *Processor[S]) SetRate(rate float64) error {
	if rate < MinRate || rate > MaxRate {
		return fmt.Errorf("%w: rate %g outside [%g, %g]", ErrInvalidConfig, rate, MinRate, MaxRate)
	}
	return p.applyVirtual(p.virtualTempo, rate, p.virtualPitch)
}

// SetRateChange sets the rate as a percentage delta: +10 plays 10% faster.
func (p *Processor[S]) SetRateChange(percent float64) error {
	return p.SetRate(1.0 + 0.01*percent)
}

// SetPitch sets the pitch factor: 2.0 shifts one octave up, 0.5 one octave
// down, duration is unaffected. The factor must stay within
// MaxPitchOctaves of unity.
func (p *Processor[S]) SetPitch(pitch float64) error {
	if pitch <= 0 {
		return fmt.Errorf("%w: pitch factor %g is not positive", ErrInvalidConfig, pitch)
	}
	if oct := math.Log2(pitch); oct < -MaxPitchOctaves || oct > MaxPitchOctaves {
		return fmt.Errorf("%w: pitch factor %g exceeds %g octaves", ErrInvalidConfig, pitch, MaxPitchOctaves)
	}
	return p.applyVirtual(p.virtualTempo, p.virtualRate, pitch)
}

// SetPitchOctaves sets the pitch shift in octaves, within
// [-MaxPitchOctaves, MaxPitchOctaves].
func (p *Processor[S]) SetPitchOctaves(octaves float64) error {
	if octaves < -MaxPitchOctaves || octaves > MaxPitchOctaves {
		return fmt.Errorf("%w: pitch shift %g octaves outside [-%g, %g]",
			ErrInvalidConfig, octaves, MaxPitchOctaves, MaxPitchOctaves)
	}
	return p.applyVirtual(p.virtualTempo, p.virtualRate, math.Exp2(octaves))
}

// SetPitchSemiTones sets the pitch shift in semitones, within
// [-MaxPitchSemiTones, MaxPitchSemiTones].
func (p *Processor[S]) SetPitchSemiTones(semitones float64) error {
	if semitones < -MaxPitchSemiTones || semitones > MaxPitchSemiTones {
		return fmt.Errorf("%w: pitch shift %g semitones outside [-%g, %g]",
			ErrInvalidConfig, semitones, MaxPitchSemiTones, MaxPitchSemiTones)
	}
	return p.SetPitchOctaves(semitones / 12.0)
}

// InputOutputSampleRatio returns the expected output frames per input
// frame under the current settings.
func (p *Processor[S]) InputOutputSampleRatio() float64 {
	return 1.0 / (p.tempo * p.rate)
}

// SetQuickSeek toggles the faster, slightly lower quality seek algorithm
// of the tempo stage.
func (p *Processor[S]) SetQuickSeek(enabled bool) {
	p.stretcher.SetQuickSeek(enabled)
}

// QuickSeek reports whether quick seeking is active.
func (p *Processor[S]) QuickSeek() bool {
	return p.stretcher.QuickSeek()
}

// SetAAFilter turns the rate stage's anti-alias filter on or off.
func (p *Processor[S]) SetAAFilter(enabled bool) {
	p.transposer.EnableAAFilter(enabled)
}

// AAFilter reports whether anti-alias filtering is active.
func (p *Processor[S]) AAFilter() bool {
	return p.transposer.AAFilterEnabled()
}

// SetAAFilterLength redesigns the anti-alias filter with a new tap count.
func (p *Processor[S]) SetAAFilterLength(length int) error {
	return p.transposer.SetAAFilterLength(length)
}

// AAFilterLength returns the anti-alias filter tap count.
func (p *Processor[S]) AAFilterLength() int {
	return p.transposer.AAFilterLength()
}

// SetInterpolation selects the rate stage's interpolation kernel.
func (p *Processor[S]) SetInterpolation(mode InterpolationMode) error {
	return p.transposer.SetInterpolation(mode)
}

// Interpolation returns the active interpolation mode.
func (p *Processor[S]) Interpolation() InterpolationMode {
	return p.transposer.Interpolation()
}

// SetSequenceMS sets the tempo stage's sequence duration in milliseconds;
// zero restores automatic tempo-dependent adaptation.
func (p *Processor[S]) SetSequenceMS(ms int) {
	p.stretcher.SetParameters(ms, -1, -1)
}

// SequenceMS returns the effective sequence duration in milliseconds.
func (p *Processor[S]) SequenceMS() int { return p.stretcher.SequenceMS() }

// SetSeekWindowMS sets the tempo stage's seek window duration in
// milliseconds; zero restores automatic adaptation.
func (p *Processor[S]) SetSeekWindowMS(ms int) {
	p.stretcher.SetParameters(-1, ms, -1)
}

// SeekWindowMS returns the effective seek window duration in milliseconds.
func (p *Processor[S]) SeekWindowMS() int { return p.stretcher.SeekWindowMS() }

// SetOverlapMS sets the tempo stage's cross-fade duration in milliseconds.
func (p *Processor[S]) SetOverlapMS(ms int) {
	p.stretcher.SetParameters(-1, -1, ms)
}

// OverlapMS returns the cross-fade duration in milliseconds.
func (p *Processor[S]) OverlapMS() int { return p.stretcher.OverlapMS() }

// InputSequence returns the nominal input frames consumed per tempo-stage
// batch under the current settings.
func (p *Processor[S]) InputSequence() int { return p.stretcher.InputSequence() }

// OutputSequence returns the nominal output frames produced per
// tempo-stage batch.
func (p *Processor[S]) OutputSequence() int { return p.stretcher.OutputSequence() }

// InitialLatency returns the approximate number of input frames that must
// be fed before the first processed frames appear.
func (p *Processor[S]) InitialLatency() int {
	stretch := float64(p.stretcher.sampleReq)
	trans := float64(p.transposer.latency())
	if p.rate <= 1.0 {
		return int(stretch*p.rate + trans + 0.5)
	}
	return int(stretch + trans*p.tempo + 0.5)
}

// applyVirtual validates the combined effect of the proposed control
// values, then commits them and retunes the stages. The controls combine
// into two stage factors: tempo/pitch drives the stretcher and pitch*rate
// drives the transposer.
func (p *Processor[S]) applyVirtual(tempo, rate, pitch float64) error {
	effTempo := tempo / pitch
	effRate := pitch * rate
	if effTempo < MinTempo || effTempo > MaxTempo {
		return fmt.Errorf("%w: combined tempo %.4g outside [%g, %g]",
			ErrInvalidConfig, effTempo, MinTempo, MaxTempo)
	}
	if effRate < MinRate || effRate > MaxRate {
		return fmt.Errorf("%w: combined rate %.4g outside [%g, %g]",
			ErrInvalidConfig, effRate, MinRate, MaxRate)
	}

	p.virtualTempo, p.virtualRate, p.virtualPitch = tempo, rate, pitch
	return p.updateEffective(effTempo, effRate)
}

// updateEffective retunes the stages and, when the effective rate crosses
// 1.0, reorders them. Reordering moves already-processed frames to the new
// output stage so nothing buffered is lost or reprocessed.
func (p *Processor[S]) updateEffective(effTempo, effRate float64) error {
	if math.Abs(effRate-p.rate) > effectiveEpsilon {
		if err := p.transposer.SetRate(effRate); err != nil {
			return err
		}
	}
	if math.Abs(effTempo-p.tempo) > effectiveEpsilon {
		if err := p.stretcher.SetTempo(effTempo); err != nil {
			return err
		}
	}
	p.tempo, p.rate = effTempo, effRate

	if p.rate <= 1.0 {
		if p.transposerIsOutput {
			if _, err := MoveSamples[S](p.stretcher.FIFO, p.transposer); err != nil {
				return err
			}
			p.transposerIsOutput = false
		}
		return nil
	}
	if !p.transposerIsOutput {
		// Finished frames jump the queue; the stretcher's pending
		// input is transposed now that the transposer runs last.
		if _, err := MoveSamples[S](p.transposer.FIFO, p.stretcher); err != nil {
			return err
		}
		if _, err := MoveSamples[S](p.transposer, p.stretcher.input); err != nil {
			return err
		}
		p.transposerIsOutput = true
	}
	return nil
}

func (p *Processor[S]) output() Pipe[S] {
	if p.transposerIsOutput {
		return p.transposer
	}
	return p.stretcher
}

func (p *Processor[S]) outputFIFO() *FIFO[S] {
	if p.transposerIsOutput {
		return p.transposer.FIFO
	}
	return p.stretcher.FIFO
}

// PutSamples feeds interleaved input frames through the processing chain.
// The slice length must be a multiple of the channel count.
func (p *Processor[S]) PutSamples(samples []S) error {
	if p.rate <= 1.0 {
		if err := p.transposer.PutSamples(samples); err != nil {
			return err
		}
		p.samplesExpectedOut += float64(len(samples)/p.channels) / (p.rate * p.tempo)
		_, err := MoveSamples[S](p.stretcher, p.transposer)
		return err
	}

	if err := p.stretcher.PutSamples(samples); err != nil {
		return err
	}
	p.samplesExpectedOut += float64(len(samples)/p.channels) / (p.rate * p.tempo)
	_, err := MoveSamples[S](p.transposer, p.stretcher)
	return err
}

// ReceiveSamples moves processed frames into output, interleaved, and
// returns how many frames were written; fewer than requested when less is
// available.
func (p *Processor[S]) ReceiveSamples(output []S) int {
	got := p.output().ReceiveSamples(output)
	p.samplesOutput += int64(got)
	return got
}

// Discard drops up to maxFrames processed frames and returns how many were
// dropped.
func (p *Processor[S]) Discard(maxFrames int) int {
	got := p.output().Discard(maxFrames)
	p.samplesOutput += int64(got)
	return got
}

// Samples returns a read-only view of the processed frames currently
// buffered; valid until the next call on the Processor.
func (p *Processor[S]) Samples() []S {
	return p.output().Samples()
}

// AvailableSamples returns the number of processed frames ready to
// receive.
func (p *Processor[S]) AvailableSamples() int {
	return p.output().AvailableSamples()
}

// IsEmpty reports whether no processed frames are buffered.
func (p *Processor[S]) IsEmpty() bool {
	return p.output().IsEmpty()
}

// UnprocessedSamples returns the input frames buffered ahead of the tempo
// stage but not yet processed.
func (p *Processor[S]) UnprocessedSamples() int {
	return p.stretcher.UnprocessedSamples()
}

// Flush drains the processing latency after the last input: it pushes
// silence through the chain until the output frame count reaches the
// running input/output ratio expectation, then trims any silent excess.
// The stream can continue with more PutSamples after a flush, starting
// from clean stage state.
func (p *Processor[S]) Flush() error {
	expected := int(p.samplesExpectedOut+0.5) - int(p.samplesOutput)
	if expected < 0 {
		expected = 0
	}

	silence := make([]S, flushBlockFrames*p.channels)
	for i := 0; i < maxFlushIterations && expected > p.AvailableSamples(); i++ {
		if err := p.PutSamples(silence); err != nil {
			return err
		}
	}

	p.outputFIFO().Truncate(expected)

	p.stretcher.ClearInput()
	p.transposer.ClearInput()

	// Rebaseline the output accounting to the frames still undrained, so
	// the silence fed above cannot leak into the next flush's expectation.
	p.samplesExpectedOut = float64(p.AvailableSamples())
	p.samplesOutput = 0
	return nil
}

// Clear resets the whole chain, discarding all buffered input and output.
func (p *Processor[S]) Clear() {
	p.samplesExpectedOut = 0
	p.samplesOutput = 0
	p.transposer.Clear()
	p.stretcher.Clear()
}
