package audiotest

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var flacRateCodes = map[int]uint64{
	88200: 1, 176400: 2, 192000: 3, 8000: 4, 16000: 5, 22050: 6,
	24000: 7, 32000: 8, 44100: 9, 48000: 10, 96000: 11,
}

var flacDepthCodes = map[int]uint64{8: 1, 12: 2, 16: 4, 20: 5, 24: 6}

// FLACFrame encodes one fixed-blocksize FLAC frame with independent channels
// and verbatim subframes. samples is indexed [channel][sample].
func FLACFrame(num uint64, sampleRate, bitDepth int, samples [][]int32) []byte {
	rateCode, ok := flacRateCodes[sampleRate]
	if !ok {
		panic(fmt.Sprintf("audiotest: no FLAC rate code for %d", sampleRate))
	}
	depthCode, ok := flacDepthCodes[bitDepth]
	if !ok {
		panic(fmt.Sprintf("audiotest: no FLAC depth code for %d", bitDepth))
	}
	blockSize := len(samples[0])

	w := &bitWriter{}
	w.write(0x3FFE, 14) // sync
	w.write(0, 1)       // reserved
	w.write(0, 1)       // fixed blocksize
	w.write(7, 4)       // 16-bit blocksize-1 follows
	w.write(rateCode, 4)
	w.write(uint64(len(samples)-1), 4)
	w.write(depthCode, 3)
	w.write(0, 1)
	for _, b := range utf8Number(num) {
		w.write(uint64(b), 8)
	}
	w.write(uint64(blockSize-1), 16)
	w.write(uint64(CRC8(w.bytes())), 8)

	for _, ch := range samples {
		w.write(0, 1)
		w.write(1, 6) // verbatim
		w.write(0, 1) // no wasted bits
		for _, s := range ch {
			w.write(uint64(uint32(s))&(1<<uint(bitDepth)-1), uint(bitDepth))
		}
	}
	w.align()
	w.write(uint64(CRC16(w.bytes())), 16)
	return w.bytes()
}

// utf8Number is the extended UTF-8 coding FLAC uses for frame numbers.
func utf8Number(n uint64) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var size int
	switch {
	case n < 0x800:
		size = 2
	case n < 0x10000:
		size = 3
	case n < 0x200000:
		size = 4
	case n < 0x4000000:
		size = 5
	case n < 0x80000000:
		size = 6
	default:
		size = 7
	}
	out := make([]byte, size)
	for i := size - 1; i > 0; i-- {
		out[i] = 0x80 | byte(n&0x3F)
		n >>= 6
	}
	out[0] = byte(int(0xFF00)>>size) | byte(n)
	return out
}

// FLACStream describes a native FLAC file.
type FLACStream struct {
	SampleRate int
	BitDepth   int
	Channels   int
	BlockSize  int
	// TotalSamples is written to STREAMINFO; 0 means unknown.
	TotalSamples uint64
	Vendor       string
	Comments     []string
}

// Bytes writes the "fLaC" marker, STREAMINFO, an optional VORBIS_COMMENT
// block and the given frames.
func (s FLACStream) Bytes(frames ...[]byte) []byte {
	var out bytes.Buffer
	out.WriteString("fLaC")
	hasComments := s.Vendor != "" || len(s.Comments) > 0
	out.Write(blockHeader(0, 34, !hasComments))
	out.Write(s.StreamInfo())
	if hasComments {
		body := VorbisComment(s.Vendor, s.Comments)
		out.Write(blockHeader(4, len(body), true))
		out.Write(body)
	}
	for _, f := range frames {
		out.Write(f)
	}
	return out.Bytes()
}

// StreamInfo returns the 34-byte STREAMINFO block body.
func (s FLACStream) StreamInfo() []byte {
	w := &bitWriter{}
	w.write(uint64(s.BlockSize), 16)
	w.write(uint64(s.BlockSize), 16)
	w.write(0, 24)
	w.write(0, 24)
	w.write(uint64(s.SampleRate), 20)
	w.write(uint64(s.Channels-1), 3)
	w.write(uint64(s.BitDepth-1), 5)
	w.write(s.TotalSamples, 36)
	w.write(0, 64)
	w.write(0, 64)
	return w.bytes()
}

func blockHeader(typ byte, length int, last bool) []byte {
	if last {
		typ |= 0x80
	}
	return []byte{typ, byte(length >> 16), byte(length >> 8), byte(length)}
}

// VorbisComment encodes a comment header body without framing.
func VorbisComment(vendor string, comments []string) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint32(len(vendor)))
	b.WriteString(vendor)
	binary.Write(&b, binary.LittleEndian, uint32(len(comments)))
	for _, c := range comments {
		binary.Write(&b, binary.LittleEndian, uint32(len(c)))
		b.WriteString(c)
	}
	return b.Bytes()
}

// Ramp returns n samples per channel of a rising sawtooth that fits in
// bitDepth bits. Channel c is offset by c so channels differ.
func Ramp(channels, n, bitDepth, start int) [][]int32 {
	maxVal := int32(1)<<(bitDepth-1) - 1
	out := make([][]int32, channels)
	for c := range out {
		out[c] = make([]int32, n)
		for i := range out[c] {
			v := int32(start+i*37+c) % (2 * maxVal)
			out[c][i] = v - maxVal
		}
	}
	return out
}
