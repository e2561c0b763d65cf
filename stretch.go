package stretch

import (
	"errors"
	"fmt"

	"github.com/tphakala/go-audio-stretch/internal/filter"
)

// Sentinel errors for the stretch package.
var (
	// ErrInvalidConfig indicates an invalid configuration or control value.
	ErrInvalidConfig = errors.New("invalid stretch configuration")

	// ErrInvalidSamples indicates a sample slice whose length is not a
	// whole number of frames.
	ErrInvalidSamples = errors.New("invalid sample slice")
)

// Sample is the closed set of PCM sample types the pipeline processes:
// 16-bit signed integer, or 32-bit float with a nominal [-1, 1] range.
type Sample interface {
	int16 | float32
}

// Control value ranges. Setters reject values outside these bounds rather
// than clamping them.
const (
	// MinTempo and MaxTempo bound the tempo factor (1.0 is unchanged).
	MinTempo = 0.05
	MaxTempo = 20.0

	// MinRate and MaxRate bound the playback rate factor.
	MinRate = 0.05
	MaxRate = 20.0

	// MaxPitchOctaves bounds pitch shifts in either direction.
	MaxPitchOctaves = 5.0

	// MaxPitchSemiTones is MaxPitchOctaves expressed in semitones.
	MaxPitchSemiTones = 60.0
)

// Validation limits.
const (
	minSampleRate = 8000
	maxSampleRate = 384000
	minChannels   = 1
	maxChannels   = 2
)

// Defaults applied by New for zero Config fields.
const (
	// DefaultOverlapMS is the crossfade overlap between output sequences.
	DefaultOverlapMS = 8

	// DefaultAAFilterLength is the anti-alias filter tap count.
	DefaultAAFilterLength = 64
)

// InterpolationMode selects the transposer's interpolation algorithm.
type InterpolationMode int

const (
	// InterpolateCubic is the default: 4-point cubic Hermite interpolation,
	// a good quality/cost balance for both sample types.
	InterpolateCubic InterpolationMode = iota

	// InterpolateLinear is the cheapest mode; audible aliasing at large
	// rate changes.
	InterpolateLinear

	// InterpolateShannon uses an 8-point windowed-sinc kernel; the most
	// expensive and most faithful mode.
	InterpolateShannon
)

// String returns a human-readable mode name.
func (m InterpolationMode) String() string {
	switch m {
	case InterpolateCubic:
		return "cubic"
	case InterpolateLinear:
		return "linear"
	case InterpolateShannon:
		return "shannon"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Config holds the static stream parameters of a Processor. Control values
// that may change during streaming (tempo, pitch, rate) are set through
// Processor methods instead.
type Config struct {
	// SampleRate is the stream sample rate in Hz.
	SampleRate int

	// Channels is the interleaved channel count: 1 (mono) or 2 (stereo).
	Channels int

	// SequenceMS overrides the stretch sequence length in milliseconds.
	// Zero selects an automatic value adapted to the current tempo.
	SequenceMS int

	// SeekWindowMS overrides the overlap seek window in milliseconds.
	// Zero selects an automatic value adapted to the current tempo.
	SeekWindowMS int

	// OverlapMS is the crossfade overlap in milliseconds. Zero selects
	// DefaultOverlapMS.
	OverlapMS int

	// QuickSeek enables a faster two-stage coarse search for the best
	// overlap position, trading a little alignment quality for speed.
	QuickSeek bool

	// DisableAAFilter turns off anti-alias filtering around rate
	// transposing. Faster, with audible aliasing on large rate changes.
	DisableAAFilter bool

	// AAFilterLength is the anti-alias filter tap count, a multiple of 4.
	// Zero selects DefaultAAFilterLength.
	AAFilterLength int

	// Interpolation selects the transposer interpolation algorithm.
	Interpolation InterpolationMode
}

// DefaultConfig returns a Config with recommended general-purpose values
// for the given stream parameters.
func DefaultConfig(sampleRate, channels int) Config {
	return Config{
		SampleRate:     sampleRate,
		Channels:       channels,
		OverlapMS:      DefaultOverlapMS,
		AAFilterLength: DefaultAAFilterLength,
		Interpolation:  InterpolateCubic,
	}
}

// Validate checks the configuration and returns an error describing the
// first problem found.
func (c Config) Validate() error {
	if c.SampleRate < minSampleRate || c.SampleRate > maxSampleRate {
		return fmt.Errorf("%w: sample rate %d outside [%d, %d]",
			ErrInvalidConfig, c.SampleRate, minSampleRate, maxSampleRate)
	}
	if c.Channels < minChannels || c.Channels > maxChannels {
		return fmt.Errorf("%w: channel count %d outside [%d, %d]",
			ErrInvalidConfig, c.Channels, minChannels, maxChannels)
	}
	if c.SequenceMS < 0 {
		return fmt.Errorf("%w: sequence length %d ms is negative", ErrInvalidConfig, c.SequenceMS)
	}
	if c.SeekWindowMS < 0 {
		return fmt.Errorf("%w: seek window %d ms is negative", ErrInvalidConfig, c.SeekWindowMS)
	}
	if c.OverlapMS < 0 {
		return fmt.Errorf("%w: overlap %d ms is negative", ErrInvalidConfig, c.OverlapMS)
	}
	if c.AAFilterLength != 0 {
		if err := filter.ValidateLength(c.AAFilterLength); err != nil {
			return fmt.Errorf("%w: anti-alias filter length %d: %v",
				ErrInvalidConfig, c.AAFilterLength, err)
		}
	}
	switch c.Interpolation {
	case InterpolateCubic, InterpolateLinear, InterpolateShannon:
	default:
		return fmt.Errorf("%w: unknown interpolation mode %d", ErrInvalidConfig, c.Interpolation)
	}
	return nil
}

// withDefaults fills zero fields with their documented defaults.
func (c Config) withDefaults() Config {
	if c.OverlapMS == 0 {
		c.OverlapMS = DefaultOverlapMS
	}
	if c.AAFilterLength == 0 {
		c.AAFilterLength = DefaultAAFilterLength
	}
	return c
}
