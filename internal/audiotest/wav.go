package audiotest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV describes a PCM file written through go-audio/wav.
type WAV struct {
	SampleRate int
	BitDepth   int
	Channels   int
	// Format is the WAVE format tag; 0 means 1 (integer PCM).
	Format   int
	Metadata *wav.Metadata
}

// Write encodes the interleaved samples to dir/name and returns the path.
func (w WAV) Write(tb testing.TB, dir, name string, samples []int) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()

	format := w.Format
	if format == 0 {
		format = 1
	}
	enc := wav.NewEncoder(f, w.SampleRate, w.BitDepth, w.Channels, format)
	enc.Metadata = w.Metadata
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: w.Channels, SampleRate: w.SampleRate},
		Data:           samples,
		SourceBitDepth: w.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		tb.Fatalf("failed to write samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		tb.Fatalf("failed to close encoder: %v", err)
	}
	return path
}

// Sine returns n interleaved frames of a sine at freq Hz scaled to bitDepth.
func Sine(n, channels, sampleRate, bitDepth int, freq float64) []int {
	maxVal := float64(audio.IntMaxSignedValue(bitDepth))
	out := make([]int, n*channels)
	for i := 0; i < n; i++ {
		v := int(maxVal * 0.5 * math.Sin(2*math.Pi*float64(i)*freq/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

// WriteFile writes raw bytes to dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// ExtensibleWAV returns a WAVE_FORMAT_EXTENSIBLE file whose sub-format GUID
// carries subFormat. data is the raw interleaved payload.
func ExtensibleWAV(sampleRate, channels, bitDepth int, subFormat uint16, data []byte) []byte {
	le := binary.LittleEndian
	block := channels * bitDepth / 8

	var fmtChunk bytes.Buffer
	binary.Write(&fmtChunk, le, uint16(0xFFFE))
	binary.Write(&fmtChunk, le, uint16(channels))
	binary.Write(&fmtChunk, le, uint32(sampleRate))
	binary.Write(&fmtChunk, le, uint32(sampleRate*block))
	binary.Write(&fmtChunk, le, uint16(block))
	binary.Write(&fmtChunk, le, uint16(bitDepth))
	binary.Write(&fmtChunk, le, uint16(22))            // cbSize
	binary.Write(&fmtChunk, le, uint16(bitDepth))      // valid bits
	binary.Write(&fmtChunk, le, uint32(1<<channels-1)) // channel mask
	binary.Write(&fmtChunk, le, subFormat)
	// Remainder of the KSDATAFORMAT_SUBTYPE GUID.
	fmtChunk.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71})

	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, le, uint32(4+8+fmtChunk.Len()+8+len(data)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, le, uint32(fmtChunk.Len()))
	b.Write(fmtChunk.Bytes())
	b.WriteString("data")
	binary.Write(&b, le, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}
