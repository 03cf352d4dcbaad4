package media

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/go-audio/audio"
)

// Frame is a block of decoded audio. Planar formats carry one plane per
// channel in Data; interleaved formats carry a single plane. Samples are
// little-endian.
//
// The receiver of a Frame owns it and should call Release when done.
type Frame struct {
	Format     SampleFormat
	SampleRate int
	Channels   int
	NumSamples int   // samples per channel
	PTS        int64 // position of the first sample, in samples from stream start
	Data       [][]byte

	released bool
}

var planePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 16384)
		return &b
	},
}

func getPlane(n int) []byte {
	p := planePool.Get().(*[]byte)
	if cap(*p) < n {
		return make([]byte, n)
	}
	b := (*p)[:n]
	clear(b)
	return b
}

// NewFrame allocates a frame with zeroed planes sized for numSamples.
func NewFrame(format SampleFormat, sampleRate, channels, numSamples int) *Frame {
	f := &Frame{
		Format:     format,
		SampleRate: sampleRate,
		Channels:   channels,
		NumSamples: numSamples,
	}
	bps := format.BytesPerSample()
	if format.IsPlanar() {
		f.Data = make([][]byte, channels)
		for ch := range f.Data {
			f.Data[ch] = getPlane(numSamples * bps)
		}
	} else {
		f.Data = [][]byte{getPlane(numSamples * channels * bps)}
	}
	return f
}

// Release returns the frame's buffers to the pool. The frame must not be
// used afterwards. Releasing twice is a no-op.
func (f *Frame) Release() {
	if f == nil || f.released {
		return
	}
	f.released = true
	for i, plane := range f.Data {
		b := plane[:0]
		planePool.Put(&b)
		f.Data[i] = nil
	}
	f.Data = nil
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool { return f.released }

// Duration is the playback time covered by the frame.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(f.NumSamples) * int64(time.Second) / int64(f.SampleRate))
}

// Sample returns sample i of channel ch normalized to [-1, 1].
func (f *Frame) Sample(ch, i int) float64 {
	bps := f.Format.BytesPerSample()
	var b []byte
	if f.Format.IsPlanar() {
		b = f.Data[ch][i*bps:]
	} else {
		b = f.Data[0][(i*f.Channels+ch)*bps:]
	}
	switch f.Format.Packed() {
	case SampleFormatU8:
		return (float64(b[0]) - 128) / 128
	case SampleFormatS16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case SampleFormatS32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	case SampleFormatF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case SampleFormatF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// Float32Buffer converts the frame to an interleaved go-audio float buffer.
func (f *Frame) Float32Buffer() *audio.Float32Buffer {
	buf := &audio.Float32Buffer{
		Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           make([]float32, f.NumSamples*f.Channels),
		SourceBitDepth: f.Format.Bits(),
	}
	for i := 0; i < f.NumSamples; i++ {
		for ch := 0; ch < f.Channels; ch++ {
			buf.Data[i*f.Channels+ch] = float32(f.Sample(ch, i))
		}
	}
	return buf
}

// IntBuffer converts the frame to an interleaved go-audio int buffer scaled
// to bitDepth (8, 16, 24 or 32).
func (f *Frame) IntBuffer(bitDepth int) *audio.IntBuffer {
	maxVal := float64(audio.IntMaxSignedValue(bitDepth))
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           make([]int, f.NumSamples*f.Channels),
		SourceBitDepth: bitDepth,
	}
	for i := 0; i < f.NumSamples; i++ {
		for ch := 0; ch < f.Channels; ch++ {
			v := f.Sample(ch, i)
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			buf.Data[i*f.Channels+ch] = int(math.Round(v * maxVal))
		}
	}
	return buf
}
