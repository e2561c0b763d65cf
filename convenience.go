package stretch

const stereoChannels = 2

// ChangeTempo stretches interleaved audio to play at the given tempo factor
// without changing its pitch. A factor of 1.25 makes playback 25% faster and
// the output correspondingly shorter. The whole input is processed and
// flushed in one shot; for streaming use, drive a Processor directly.
func ChangeTempo[S Sample](input []S, sampleRate, channels int, tempo float64) ([]S, error) {
	p, err := New[S](Config{SampleRate: sampleRate, Channels: channels})
	if err != nil {
		return nil, err
	}
	if err := p.SetTempo(tempo); err != nil {
		return nil, err
	}
	return processOneShot(p, input)
}

// ChangePitch shifts the pitch of interleaved audio by the given factor
// without changing its duration. A factor of 2.0 raises pitch one octave;
// use math.Exp2(semitones/12) to derive the factor from semitones.
func ChangePitch[S Sample](input []S, sampleRate, channels int, pitch float64) ([]S, error) {
	p, err := New[S](Config{SampleRate: sampleRate, Channels: channels})
	if err != nil {
		return nil, err
	}
	if err := p.SetPitch(pitch); err != nil {
		return nil, err
	}
	return processOneShot(p, input)
}

// ChangeRate resamples interleaved audio to the given playback rate factor,
// changing tempo and pitch together like a tape transport speed change.
func ChangeRate[S Sample](input []S, sampleRate, channels int, rate float64) ([]S, error) {
	p, err := New[S](Config{SampleRate: sampleRate, Channels: channels})
	if err != nil {
		return nil, err
	}
	if err := p.SetRate(rate); err != nil {
		return nil, err
	}
	return processOneShot(p, input)
}

func processOneShot[S Sample](p *Processor[S], input []S) ([]S, error) {
	if err := p.PutSamples(input); err != nil {
		return nil, err
	}
	if err := p.Flush(); err != nil {
		return nil, err
	}
	out := make([]S, p.AvailableSamples()*p.Channels())
	p.ReceiveSamples(out)
	return out, nil
}

// Interleave merges two mono channels into interleaved stereo
// [L0, R0, L1, R1, ...], truncating to the shorter channel.
func Interleave[S Sample](left, right []S) []S {
	frames := min(len(left), len(right))
	out := make([]S, frames*stereoChannels)
	for i := range frames {
		out[i*stereoChannels] = left[i]
		out[i*stereoChannels+1] = right[i]
	}
	return out
}

// Deinterleave splits interleaved stereo [L0, R0, L1, R1, ...] into two
// mono channels. A trailing odd sample is dropped.
func Deinterleave[S Sample](interleaved []S) (left, right []S) {
	frames := len(interleaved) / stereoChannels
	left = make([]S, frames)
	right = make([]S, frames)
	for i := range frames {
		left[i] = interleaved[i*stereoChannels]
		right[i] = interleaved[i*stereoChannels+1]
	}
	return left, right
}
