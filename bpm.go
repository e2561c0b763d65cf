package stretch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Detection covers common musical tempos; the autocorrelation lag window
// is sized from these bounds.
const (
	MinBPM = 45.0
	MaxBPM = 230.0
)

const (
	// Decimation target rate in Hz; beat periodicity lives far below
	// this, and the reduction makes the lag window cheap to correlate.
	bpmDecimatedRate = 1000

	// The RMS gate tracks average loudness over roughly ten seconds and
	// zeroes everything quieter than half of it; beats are loudness
	// peaks, the material between them only blurs the correlation.
	bpmRMSDecay    = 0.99986
	bpmSilenceGate = 0.5

	// Envelope smoothing turns gated amplitudes into humps wide enough
	// to correlate across slightly uneven beat spacing.
	bpmEnvelopeDecay = 0.7
)

// BPMDetector estimates the beats-per-minute of an audio stream. Feed any
// amount of audio with PutSamples, then read the estimate with BPM; the
// more audio analyzed the steadier the estimate. Detection works on the
// loudness envelope, so it needs material with rhythmic level variation.
type BPMDetector[S Sample] struct {
	channels   int
	sampleRate int
	decimateBy int

	decSum   float64
	decCount int

	rmsAccu float64
	envAccu float64

	window      []float64
	xcorr       []float64
	windowStart int
	windowLen   int
}

// NewBPMDetector creates a detector for interleaved audio in the given
// format.
func NewBPMDetector[S Sample](channels, sampleRate int) (*BPMDetector[S], error) {
	if channels < minChannels || channels > maxChannels {
		return nil, fmt.Errorf("%w: channel count %d outside [%d, %d]",
			ErrInvalidConfig, channels, minChannels, maxChannels)
	}
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return nil, fmt.Errorf("%w: sample rate %d outside [%d, %d]",
			ErrInvalidConfig, sampleRate, minSampleRate, maxSampleRate)
	}

	decimateBy := sampleRate / bpmDecimatedRate
	windowLen := 60 * sampleRate / (decimateBy * MinBPM)
	windowStart := 60 * sampleRate / (decimateBy * MaxBPM)

	return &BPMDetector[S]{
		channels:    channels,
		sampleRate:  sampleRate,
		decimateBy:  decimateBy,
		xcorr:       make([]float64, windowLen),
		windowStart: windowStart,
		windowLen:   windowLen,
	}, nil
}

// PutSamples feeds interleaved frames into the analysis. The slice length
// must be a multiple of the channel count.
func (d *BPMDetector[S]) PutSamples(samples []S) error {
	if len(samples)%d.channels != 0 {
		return fmt.Errorf("%w: %d samples do not divide into %d-channel frames",
			ErrInvalidSamples, len(samples), d.channels)
	}

	for i := 0; i < len(samples); i += d.channels {
		for c := 0; c < d.channels; c++ {
			d.decSum += float64(samples[i+c])
		}
		d.decCount++
		if d.decCount >= d.decimateBy {
			v := d.decSum / float64(d.decCount*d.channels)
			d.decSum, d.decCount = 0, 0
			d.window = append(d.window, d.envelope(v))
		}
	}

	d.updateXCorr()
	return nil
}

// envelope gates out material quieter than half the running RMS level and
// smooths the rest, so beats become humps and sustained content flattens.
func (d *BPMDetector[S]) envelope(v float64) float64 {
	const rmsNorm = 1 - bpmRMSDecay

	val := math.Abs(v)
	d.rmsAccu = bpmRMSDecay*d.rmsAccu + val*val
	if val < bpmSilenceGate*math.Sqrt(d.rmsAccu*rmsNorm) {
		val = 0
	}

	d.envAccu = bpmEnvelopeDecay*d.envAccu + val
	return d.envAccu * (1 - bpmEnvelopeDecay)
}

// updateXCorr folds envelope frames beyond one full lag window into the
// running autocorrelation, then drops them.
func (d *BPMDetector[S]) updateXCorr() {
	excess := len(d.window) - d.windowLen
	if excess <= 0 {
		return
	}

	for lag := d.windowStart; lag < d.windowLen; lag++ {
		d.xcorr[lag] += floats.Dot(d.window[:excess], d.window[lag:lag+excess])
	}

	n := copy(d.window, d.window[excess:])
	d.window = d.window[:n]
}

// BPM returns the beat rate detected so far, or 0 when no credible beat
// was found. The detector keeps accumulating; BPM may be read repeatedly
// as more audio arrives.
func (d *BPMDetector[S]) BPM() float64 {
	data := make([]float64, d.windowLen)
	copy(data, d.xcorr)

	// Level the correlation floor so peak shapes stand alone.
	lags := data[d.windowStart:]
	floats.AddConst(-floats.Min(lags), lags)

	pf := peakFinder{min: d.windowStart, max: d.windowLen}
	lag := pf.detect(data)
	if lag < 1e-9 {
		return 0
	}

	bpm := 60 * float64(d.sampleRate) / float64(d.decimateBy) / lag
	if bpm < MinBPM || bpm > MaxBPM {
		return 0
	}
	return bpm
}

// peakFinder locates the mass center of the strongest hump in data within
// [min, max), refining past two traps: local jitter on the hump top and
// the half-tempo ambiguity where a multiple of the true beat period
// correlates slightly stronger.
type peakFinder struct {
	min, max int
}

// detect returns the refined peak position, or 0 when the range holds no
// usable peak.
func (p *peakFinder) detect(data []float64) float64 {
	pos := p.min
	peak := data[pos]
	for i := p.min + 1; i < p.max; i++ {
		if data[i] > peak {
			peak, pos = data[i], i
		}
	}

	high := p.peakCenter(data, pos)
	result := high

	// Probe whether the strongest peak is in fact a multiple of a
	// shorter true period: check candidate positions at high/1.5,
	// high/2, ... and accept a credible enough earlier peak.
	for h := 3; h < 10; h++ {
		harmonic := float64(h) * 0.5
		cand := int(high/harmonic + 0.5)
		if cand < p.min {
			break
		}
		cand = p.findTop(data, cand)
		if cand == 0 {
			continue
		}
		center := p.peakCenter(data, cand)
		ratio := harmonic * center / high
		if ratio < 0.96 || ratio > 1.04 {
			continue
		}
		if data[int(center+0.5)] >= 0.4*data[int(high+0.5)] {
			result = center
		}
	}
	return result
}

// findTop walks to the true local maximum within ±10 positions; returns 0
// when the maximum sits on the range edge, meaning a slope rather than a
// peak.
func (p *peakFinder) findTop(data []float64, pos int) int {
	ref := data[pos]
	start := max(pos-10, p.min)
	end := min(pos+10, p.max-1)

	for i := start; i <= end; i++ {
		if data[i] > ref {
			pos, ref = i, data[i]
		}
	}

	if pos == start || pos == end {
		return 0
	}
	return pos
}

// findGround walks downhill from the peak in the given direction until the
// next hump starts climbing, returning the lowest position passed.
func (p *peakFinder) findGround(data []float64, pos, direction int) int {
	climb := 0
	low := pos
	ref := data[pos]

	for pos > p.min && pos < p.max-1 {
		next := pos + direction
		if data[next]-data[pos] <= 0 {
			if climb > 0 {
				climb--
			}
			if data[next] < ref {
				low, ref = next, data[next]
			}
		} else {
			climb++
			if climb > 5 {
				break
			}
		}
		pos = next
	}
	return low
}

// findCrossingLevel returns the last position on the peak's side of the
// given level when walking in direction, or -1 when the level is never
// crossed.
func (p *peakFinder) findCrossingLevel(data []float64, level float64, pos, direction int) int {
	for pos >= p.min && pos < p.max-1 {
		if data[pos+direction] < level {
			return pos
		}
		pos += direction
	}
	return -1
}

// peakCenter refines an integer peak position into a fractional one: cut
// the hump at 70% height above its ground level and take the mass center
// of what remains.
func (p *peakFinder) peakCenter(data []float64, pos int) float64 {
	g1 := p.findGround(data, pos, -1)
	g2 := p.findGround(data, pos, 1)

	cut := data[pos]
	if g1 != g2 {
		ground := 0.5 * (data[g1] + data[g2])
		cut = 0.70*data[pos] + 0.30*ground
	}

	c1 := p.findCrossingLevel(data, cut, pos, -1)
	c2 := p.findCrossingLevel(data, cut, pos, 1)
	if c1 < 0 || c2 < 0 {
		return 0
	}
	return massCenter(data, c1, c2)
}

func massCenter(data []float64, first, last int) float64 {
	var sum, weight float64
	for i := first; i <= last; i++ {
		sum += float64(i) * data[i]
		weight += data[i]
	}
	if weight < 1e-6 {
		return 0
	}
	return sum / weight
}
