package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	log "github.com/sirupsen/logrus"

	stretch "github.com/tphakala/go-audio-stretch"
)

const (
	// Supported PCM sample formats
	bitsPerSample16 = 16
	bitsPerSample24 = 24
	bitsPerSample32 = 32

	bytesPerSample16 = 2
	bytesPerSample24 = 3
	bytesPerSample32 = 4
	bitsPerByte      = 8

	// WAV format constants
	wavHeaderSize      = 44 // Total WAV header size in bytes
	wavRiffHeaderSize  = 36 // RIFF header size (file size - 8 = riffHeaderSize + dataSize)
	wavPCMSubchunkSize = 16 // fmt subchunk size for PCM format
	wavFileSizeOffset  = 4  // Byte offset for file size field in header
	wavDataSizeOffset  = 40 // Byte offset for data size field in header
	uint32Size         = 4

	bitShift8  = 8
	bitShift16 = 16

	wavWriterBufferSize = 256 * 1024

	progressStep = 10 // Report progress every N%
)

// wavInput holds a validated input file and its format information.
type wavInput struct {
	file        *os.File
	decoder     *wav.Decoder
	rate        int
	channels    int
	bitDepth    int
	totalFrames int64
	format      *audio.Format
}

// openWAVInput opens and validates a WAV file.
func openWAVInput(path string) (*wavInput, error) {
	inputFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	decoder := wav.NewDecoder(inputFile)
	if !decoder.IsValidFile() {
		_ = inputFile.Close()
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}

	format := decoder.Format()
	rate := format.SampleRate
	channels := format.NumChannels
	bitDepth := int(decoder.BitDepth)

	switch bitDepth {
	case bitsPerSample16, bitsPerSample24, bitsPerSample32:
	default:
		_ = inputFile.Close()
		return nil, fmt.Errorf("unsupported bit depth %d (need 16, 24 or 32)", bitDepth)
	}

	log.Debugf("input format: %d Hz, %d channels, %d-bit", rate, channels, bitDepth)

	// Total duration for progress reporting; non-seekable metadata is fine.
	duration, err := decoder.Duration()
	if err != nil {
		duration = 0
	}
	totalFrames := int64(duration.Seconds() * float64(rate))

	return &wavInput{
		file:        inputFile,
		decoder:     decoder,
		rate:        rate,
		channels:    channels,
		bitDepth:    bitDepth,
		totalFrames: totalFrames,
		format:      format,
	}, nil
}

// Rewind seeks back to the start of the PCM data for a second pass.
func (w *wavInput) Rewind() error {
	return w.decoder.Rewind()
}

// Close closes the input file.
func (w *wavInput) Close() error {
	return w.file.Close()
}

// intsToSamples converts decoded PCM ints at the source bit depth into
// pipeline samples: the int16 pipeline truncates to the top 16 bits, the
// float32 pipeline normalizes to [-1, 1).
func intsToSamples[S stretch.Sample](dst []S, src []int, bitDepth int) {
	switch d := any(dst).(type) {
	case []int16:
		shift := uint(bitDepth - bitsPerSample16)
		for i, v := range src {
			d[i] = int16(v >> shift)
		}
	case []float32:
		scale := 1.0 / float64(int64(1)<<(bitDepth-1))
		for i, v := range src {
			d[i] = float32(float64(v) * scale)
		}
	}
}

// samplesToInts converts pipeline samples back to PCM ints at the target
// bit depth, saturating the float32 path at full scale.
func samplesToInts[S stretch.Sample](dst []int, src []S, bitDepth int) {
	switch s := any(src).(type) {
	case []int16:
		shift := uint(bitDepth - bitsPerSample16)
		for i, v := range s {
			dst[i] = int(v) << shift
		}
	case []float32:
		scale := float64(int64(1) << (bitDepth - 1))
		hi := int(scale) - 1
		lo := -int(scale)
		for i, v := range s {
			n := int(float64(v) * scale)
			if n > hi {
				n = hi
			} else if n < lo {
				n = lo
			}
			dst[i] = n
		}
	}
}

// detectBPM streams the whole input through a beat detector. The caller
// rewinds the decoder afterwards if the audio is needed again.
func detectBPM[S stretch.Sample](input *wavInput) (float64, error) {
	det, err := stretch.NewBPMDetector[S](input.channels, input.rate)
	if err != nil {
		return 0, err
	}

	intBuf := &audio.IntBuffer{Data: make([]int, blockFrames*input.channels)}
	samples := make([]S, blockFrames*input.channels)

	for {
		n, err := input.decoder.PCMBuffer(intBuf)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("failed to read audio data: %w", err)
		}
		if n == 0 {
			break
		}
		flat := n - n%input.channels
		intsToSamples(samples[:flat], intBuf.Data[:flat], input.bitDepth)
		if err := det.PutSamples(samples[:flat]); err != nil {
			return 0, err
		}
	}

	return det.BPM(), nil
}

// wavWriter streams PCM data to a WAV file without per-sample allocations,
// patching the RIFF and data chunk sizes into the header on Close.
type wavWriter struct {
	f          *os.File
	w          *bufio.Writer
	sampleRate int
	bitDepth   int
	channels   int
	dataSize   uint32
	byteBuf    []byte
}

// newWAVWriter creates the output file and writes a header with
// placeholder sizes.
func newWAVWriter(path string, sampleRate, bitDepth, channels int) (*wavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	w := &wavWriter{
		f:          f,
		w:          bufio.NewWriterSize(f, wavWriterBufferSize),
		sampleRate: sampleRate,
		bitDepth:   bitDepth,
		channels:   channels,
		byteBuf:    make([]byte, blockFrames*channels*(bitDepth/bitsPerByte)),
	}

	if err := w.writeHeader(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

func (w *wavWriter) writeHeader() error {
	byteRate := w.sampleRate * w.channels * (w.bitDepth / bitsPerByte)
	blockAlign := w.channels * (w.bitDepth / bitsPerByte)

	header := make([]byte, wavHeaderSize)

	// RIFF header
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 0) // Placeholder for file size - 8
	copy(header[8:12], "WAVE")

	// fmt subchunk
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], wavPCMSubchunkSize)
	binary.LittleEndian.PutUint16(header[20:22], 1) // AudioFormat (1 = PCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(w.bitDepth))

	// data subchunk
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], 0) // Placeholder for data size

	_, err := w.w.Write(header)
	return err
}

// WriteFrames encodes interleaved PCM ints at the writer's bit depth.
func (w *wavWriter) WriteFrames(samples []int) error {
	n := len(samples)
	needed := n * (w.bitDepth / bitsPerByte)
	if len(w.byteBuf) < needed {
		w.byteBuf = make([]byte, needed)
	}
	buf := w.byteBuf[:needed]

	switch w.bitDepth {
	case bitsPerSample16:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(buf[i*bytesPerSample16:], uint16(int16(s)))
		}
	case bitsPerSample24:
		for i, s := range samples {
			buf[i*bytesPerSample24] = byte(s)
			buf[i*bytesPerSample24+1] = byte(s >> bitShift8)
			buf[i*bytesPerSample24+2] = byte(s >> bitShift16)
		}
	case bitsPerSample32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(buf[i*bytesPerSample32:], uint32(int32(s)))
		}
	default:
		return fmt.Errorf("unsupported bit depth %d", w.bitDepth)
	}

	written, err := w.w.Write(buf)
	w.dataSize += uint32(written)
	return err
}

// Close flushes buffered data and patches the final sizes into the header.
func (w *wavWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}

	sizeBytes := make([]byte, uint32Size)

	// File size at offset 4: header remainder plus data bytes.
	binary.LittleEndian.PutUint32(sizeBytes, wavRiffHeaderSize+w.dataSize)
	if _, err := w.f.Seek(wavFileSizeOffset, io.SeekStart); err != nil {
		_ = w.f.Close()
		return err
	}
	if _, err := w.f.Write(sizeBytes); err != nil {
		_ = w.f.Close()
		return err
	}

	binary.LittleEndian.PutUint32(sizeBytes, w.dataSize)
	if _, err := w.f.Seek(wavDataSizeOffset, io.SeekStart); err != nil {
		_ = w.f.Close()
		return err
	}
	if _, err := w.f.Write(sizeBytes); err != nil {
		_ = w.f.Close()
		return err
	}

	return w.f.Close()
}

// progressTracker reports processing progress at debug level.
type progressTracker struct {
	totalFrames int64
	lastPercent int
}

func (p *progressTracker) report(frames int64) {
	if p.totalFrames == 0 {
		return
	}
	percent := int(float64(frames) / float64(p.totalFrames) * 100)
	if percent >= p.lastPercent+progressStep {
		log.Debugf("progress: %d%%", percent)
		p.lastPercent = percent
	}
}
