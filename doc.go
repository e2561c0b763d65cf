// Package stretch provides time stretching, pitch shifting and playback
// rate conversion for PCM audio in pure Go.
//
// This library is based on the SoundTouch audio processing library by Olli
// Parviainen, implementing WSOLA-style time-domain stretching combined with
// an anti-aliased rate transposer so that tempo, pitch and rate can be
// controlled independently of each other.
//
// # Features
//
//   - Tempo control: change playback speed without affecting pitch
//   - Pitch control: shift pitch in factors, octaves or semitones without
//     affecting duration
//   - Rate control: change tempo and pitch together, like a tape transport
//   - Works on int16 and float32 interleaved PCM through generics
//   - Streaming sample-pipe API for processing audio in chunks
//   - Beat rate detection via [BPMDetector]
//   - Pure Go implementation with no CGO dependencies
//
// # Quick Start
//
// For simple one-shot processing:
//
//	faster, err := stretch.ChangeTempo(samples, 44100, 2, 1.25)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// For streaming with a reusable processor:
//
//	p, err := stretch.New[int16](stretch.Config{SampleRate: 44100, Channels: 2})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p.SetPitchSemiTones(4)
//
//	out := make([]int16, 8192*2)
//	for chunk := range audioChunks {
//	    if err := p.PutSamples(chunk); err != nil {
//	        log.Fatal(err)
//	    }
//	    for !p.IsEmpty() {
//	        n := p.ReceiveSamples(out)
//	        writeOutput(out[:n*2])
//	    }
//	}
//	p.Flush()
//	for !p.IsEmpty() {
//	    n := p.ReceiveSamples(out)
//	    writeOutput(out[:n*2])
//	}
//
// # The Three Controls
//
// The processor exposes three independent controls, all multiplicative
// factors with 1.0 meaning unchanged:
//
//   - Tempo ([Processor.SetTempo]): playback speed. 2.0 plays twice as fast
//     at the original pitch, so the output is half as long.
//   - Pitch ([Processor.SetPitch]): musical pitch. 2.0 is one octave up at
//     the original speed, so the output length is unchanged.
//     [Processor.SetPitchSemiTones] and [Processor.SetPitchOctaves] derive
//     the factor from musical units.
//   - Rate ([Processor.SetRate]): raw playback rate. 2.0 doubles speed and
//     pitch together.
//
// The controls combine: tempo 0.5 with pitch 2.0 plays at half speed one
// octave up. Combinations whose effective stage values leave the supported
// range are rejected without changing the current settings.
//
// # Architecture
//
// Internally the processor routes audio through two stages connected as
// sample pipes:
//
//	Input -> [TimeStretcher] -> [RateTransposer] -> Output   (rate > 1)
//	Input -> [RateTransposer] -> [TimeStretcher] -> Output   (rate <= 1)
//
// The [TimeStretcher] changes duration without touching pitch by removing
// or repeating stretches of sound, cross-correlating neighbouring offsets
// to find seam positions where the waveforms align and cross-fading across
// them. The [RateTransposer] changes duration and pitch together by
// interpolating the waveform at a different step, with a windowed-sinc
// anti-alias filter guarding against fold-back distortion. Pitch shifting
// is the combination of both: transpose to move the pitch, then stretch to
// restore the duration.
//
// Every stage implements the [Pipe] contract, so stages can also be used
// on their own and chained with [MoveSamples].
//
// # Sample Types
//
// The package is generic over the [Sample] types int16 and float32. The
// int16 path stays in integer arithmetic with saturation at the edges, the
// float32 path trades exactness for headroom; both run the same algorithms
// with the same parameters.
//
// # Latency and Flushing
//
// The stages buffer sound internally, so output becomes available only
// after roughly [Processor.InitialLatency] frames of input. At the end of
// a stream call [Processor.Flush] to push the buffered tail through the
// pipeline; the processor then trims the result so that total output
// matches total input scaled by the configured factors. Flushing feeds
// silence into the pipeline, so a processor should be cleared with
// [Processor.Clear] before being reused for unrelated audio.
//
// # Thread Safety
//
// A [Processor] is not safe for concurrent use. Process independent
// streams with independent processors; they share no mutable state.
//
// # Attribution
//
// This library is based on SoundTouch (https://www.surina.net/soundtouch/)
// by Olli Parviainen, licensed under LGPL-2.1. The following components
// were derived from SoundTouch:
//
//   - WSOLA-style overlap-seek time stretching with autotuned sequence,
//     seek window and overlap durations
//   - Anti-aliased rate transposition with linear, cubic and sinc
//     interpolation kernels
//   - Tempo/pitch/rate control model and pipeline routing
//   - Beat detection from the autocorrelation of a gated amplitude envelope
package stretch
