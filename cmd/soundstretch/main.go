// Command soundstretch changes the tempo, pitch or playback rate of WAV
// audio files.
//
// Usage:
//
//	soundstretch -tempo=25 input.wav output.wav     # 25% faster, same pitch
//	soundstretch -pitch=-2 input.wav output.wav     # two semitones down, same length
//	soundstretch -rate=10 input.wav output.wav      # 10% faster and higher
//	soundstretch -bpm input.wav                     # detect beats per minute
//	soundstretch -bpm=120 input.wav output.wav      # adjust tempo to 120 BPM
//
// Tempo, pitch and rate changes can be combined in one run. Processing is
// 16-bit integer by default; -float switches to the float32 pipeline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/go-audio/audio"
	log "github.com/sirupsen/logrus"

	stretch "github.com/tphakala/go-audio-stretch"
	"github.com/tphakala/go-audio-stretch/internal/filter"
)

const (
	// Frames per processing block
	blockFrames = 8192

	// Processing parameters tuned for speech material
	speechSequenceMS   = 40
	speechSeekWindowMS = 15
	speechOverlapMS    = 8

	percentScale = 100

	// Frequency grid size for -filterinfo output
	filterResponsePoints = 9

	minRequiredArgs = 2
)

// bpmFlag accepts both a bare -bpm (detect and print) and -bpm=N (detect,
// then adjust tempo so the output plays at N beats per minute).
type bpmFlag struct {
	detect bool
	target float64
}

func (f *bpmFlag) String() string {
	if f.target > 0 {
		return strconv.FormatFloat(f.target, 'g', -1, 64)
	}
	if f.detect {
		return "true"
	}
	return ""
}

func (f *bpmFlag) Set(s string) error {
	switch s {
	case "true":
		f.detect = true
		return nil
	case "false":
		f.detect = false
		f.target = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return fmt.Errorf("invalid target BPM %q", s)
	}
	f.detect = true
	f.target = v
	return nil
}

// IsBoolFlag lets the flag package accept -bpm without a value.
func (f *bpmFlag) IsBoolFlag() bool { return true }

// options collects the parsed command line.
type options struct {
	inputPath  string
	outputPath string

	tempoPercent   float64
	pitchSemiTones float64
	ratePercent    float64
	bpm            bpmFlag

	quickSeek  bool
	noAAFilter bool
	speech     bool
	useFloat   bool
}

type processStats struct {
	inputFrames  int64
	outputFrames int64
	rate         int
	channels     int
	bitDepth     int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] input.wav output.wav\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s -tempo=25 song.wav faster.wav   # 25%% faster at the same pitch\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -pitch=3 song.wav higher.wav    # three semitones up, same length\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -rate=-50 song.wav halfrate.wav # half speed, octave down\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -bpm song.wav                   # print the detected beat rate\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -bpm=100 song.wav steady.wav    # retime the song to 100 BPM\n", os.Args[0])
}

func run() error {
	tempo := flag.Float64("tempo", 0, "change tempo by n percent (keeps pitch)")
	pitch := flag.Float64("pitch", 0, "change pitch by n semitones (keeps tempo)")
	rate := flag.Float64("rate", 0, "change playback rate by n percent (changes tempo and pitch)")
	var bpm bpmFlag
	flag.Var(&bpm, "bpm", "detect beats per minute; -bpm=n also adjusts tempo to n BPM")
	quick := flag.Bool("quick", false, "use quicker seek algorithm (faster, slightly lower quality)")
	naa := flag.Bool("naa", false, "disable the rate transposer's anti-alias filter")
	speech := flag.Bool("speech", false, "tune processing parameters for speech instead of music")
	useFloat := flag.Bool("float", false, "process in float32 instead of 16-bit integer")
	filterInfo := flag.Bool("filterinfo", false, "print the anti-alias filter design and exit")
	verbose := flag.Bool("v", false, "verbose output")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to file (for PGO)")
	flag.Usage = usage
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *filterInfo {
		return printFilterInfo(stretch.DefaultAAFilterLength)
	}

	// A lone input file is enough for BPM detection; anything else needs
	// an output file too.
	args := flag.Args()
	if len(args) < minRequiredArgs && !(len(args) == 1 && bpm.detect) {
		usage()
		return errors.New("insufficient arguments")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	opts := &options{
		inputPath:      args[0],
		tempoPercent:   *tempo,
		pitchSemiTones: *pitch,
		ratePercent:    *rate,
		bpm:            bpm,
		quickSeek:      *quick,
		noAAFilter:     *naa,
		speech:         *speech,
		useFloat:       *useFloat,
	}
	if len(args) > 1 {
		opts.outputPath = args[1]
	}

	input, err := openWAVInput(opts.inputPath)
	if err != nil {
		return err
	}
	defer func() { _ = input.Close() }()

	start := time.Now()
	var stats *processStats
	if opts.useFloat {
		stats, err = processFile[float32](opts, input)
	} else {
		stats, err = processFile[int16](opts, input)
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if opts.outputPath == "" {
		return nil
	}

	ratio := 0.0
	if stats.inputFrames > 0 {
		ratio = float64(stats.outputFrames) / float64(stats.inputFrames)
	}
	fmt.Printf("Processed %s -> %s\n", filepath.Base(opts.inputPath), filepath.Base(opts.outputPath))
	fmt.Printf("  %d Hz, %d channels, %d-bit\n", stats.rate, stats.channels, stats.bitDepth)
	fmt.Printf("  %d -> %d frames (ratio %.3f)\n", stats.inputFrames, stats.outputFrames, ratio)
	fmt.Printf("  Duration: %.2fs, Speed: %.1fx realtime\n",
		elapsed.Seconds(),
		float64(stats.inputFrames)/float64(stats.rate)/elapsed.Seconds())

	return nil
}

// processFile runs the optional BPM pass and then streams the input
// through a processor into the output file.
func processFile[S stretch.Sample](opts *options, input *wavInput) (stats *processStats, err error) {
	stats = &processStats{
		rate:     input.rate,
		channels: input.channels,
		bitDepth: input.bitDepth,
	}

	if opts.bpm.detect {
		detected, err := detectBPM[S](input)
		if err != nil {
			return nil, err
		}
		if detected > 0 {
			fmt.Printf("Detected BPM rate %.1f\n", detected)
		} else {
			fmt.Println("Couldn't detect BPM rate.")
		}

		if opts.outputPath == "" {
			return stats, nil
		}
		if opts.bpm.target > 0 {
			if detected <= 0 {
				return nil, errors.New("cannot adjust tempo: no beat detected")
			}
			opts.tempoPercent = (opts.bpm.target/detected - 1) * percentScale
			log.Infof("adjusting tempo %+.1f%% to reach %.1f BPM", opts.tempoPercent, opts.bpm.target)
		}
		if err := input.Rewind(); err != nil {
			return nil, fmt.Errorf("failed to rewind after BPM pass: %w", err)
		}
	}

	cfg := stretch.Config{
		SampleRate:      input.rate,
		Channels:        input.channels,
		QuickSeek:       opts.quickSeek,
		DisableAAFilter: opts.noAAFilter,
	}
	if opts.speech {
		cfg.SequenceMS = speechSequenceMS
		cfg.SeekWindowMS = speechSeekWindowMS
		cfg.OverlapMS = speechOverlapMS
	}

	p, err := stretch.New[S](cfg)
	if err != nil {
		return nil, err
	}
	if err := p.SetTempoChange(opts.tempoPercent); err != nil {
		return nil, err
	}
	if err := p.SetPitchSemiTones(opts.pitchSemiTones); err != nil {
		return nil, err
	}
	if err := p.SetRateChange(opts.ratePercent); err != nil {
		return nil, err
	}

	log.Debugf("tempo %+.1f%%, pitch %+.1f semitones, rate %+.1f%%",
		opts.tempoPercent, opts.pitchSemiTones, opts.ratePercent)
	log.Debugf("initial latency ~%d frames", p.InitialLatency())

	output, err := newWAVWriter(opts.outputPath, input.rate, input.bitDepth, input.channels)
	if err != nil {
		return nil, err
	}
	// Close errors matter here: the WAV header sizes are patched on Close.
	defer func() {
		if closeErr := output.Close(); err == nil {
			err = closeErr
		}
	}()

	progress := &progressTracker{totalFrames: input.totalFrames}

	intBuf := &audio.IntBuffer{Data: make([]int, blockFrames*input.channels), Format: input.format}
	inSamples := make([]S, blockFrames*input.channels)
	outSamples := make([]S, blockFrames*input.channels)
	outInts := make([]int, blockFrames*input.channels)

	drain := func() error {
		for {
			got := p.ReceiveSamples(outSamples)
			if got == 0 {
				return nil
			}
			flat := got * input.channels
			samplesToInts(outInts[:flat], outSamples[:flat], input.bitDepth)
			if err := output.WriteFrames(outInts[:flat]); err != nil {
				return fmt.Errorf("failed to write audio data: %w", err)
			}
			stats.outputFrames += int64(got)
		}
	}

	for {
		n, err := input.decoder.PCMBuffer(intBuf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read audio data: %w", err)
		}
		if n == 0 {
			break
		}
		flat := n - n%input.channels // trim a torn final frame
		intsToSamples(inSamples[:flat], intBuf.Data[:flat], input.bitDepth)
		if err := p.PutSamples(inSamples[:flat]); err != nil {
			return nil, err
		}
		stats.inputFrames += int64(flat / input.channels)

		if err := drain(); err != nil {
			return nil, err
		}
		progress.report(stats.inputFrames)
	}

	if err := p.Flush(); err != nil {
		return nil, err
	}
	if err := drain(); err != nil {
		return nil, err
	}

	return stats, nil
}

// printFilterInfo prints the windowed-sinc design the rate transposer uses,
// at full bandwidth and at the cutoffs of two representative transpositions.
func printFilterInfo(length int) error {
	fmt.Println("=== Anti-Alias Filter Design ===")

	for _, cutoff := range []float64{0.5, 0.25, 0.125} {
		raw, err := filter.DesignWindowedSinc(length, cutoff)
		if err != nil {
			return err
		}
		var sum float64
		for _, c := range raw {
			sum += c
		}

		quantized, err := filter.Coefficients[int16](length, cutoff)
		if err != nil {
			return err
		}
		var qsum int64
		for _, c := range quantized {
			qsum += int64(c)
		}

		fmt.Printf("\nCutoff %.3f (%d taps):\n", cutoff, length)
		fmt.Printf("  Raw DC gain:       %.10f\n", sum)
		fmt.Printf("  Quantized DC gain: %d / %d\n", qsum, 1<<filter.CoeffShift)

		// Normalize to unity DC so the response table reads in dB of gain.
		normalized := make([]float64, len(raw))
		for i, c := range raw {
			normalized[i] = c / sum
		}
		resp := filter.ComputeResponse(normalized, filterResponsePoints)
		fmt.Println("  Response:")
		for i, f := range resp.Frequencies {
			fmt.Printf("    f=%.4f  %8.2f dB\n", f, filter.MagnitudeDB(resp.Magnitude[i]))
		}
	}
	return nil
}
