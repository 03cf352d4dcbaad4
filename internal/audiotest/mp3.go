package audiotest

import (
	"bytes"
	"encoding/binary"
)

// MP3FrameSize is the size of the frames built by MP3Frame: MPEG-1 Layer III,
// 128 kbit/s, 44100 Hz, no padding.
const MP3FrameSize = 144 * 128000 / 44100

// MP3SamplesPerFrame is the sample count of one MPEG-1 Layer III frame.
const MP3SamplesPerFrame = 1152

// MP3Frame returns one mono frame whose side info and main data are all
// zero, which decodes to silence.
func MP3Frame() []byte {
	f := make([]byte, MP3FrameSize)
	copy(f, []byte{0xFF, 0xFB, 0x90, 0xC0})
	return f
}

// MP3XingFrame returns a frame carrying a Xing header that declares frames
// audio frames.
func MP3XingFrame(frames uint32) []byte {
	f := MP3Frame()
	// mono MPEG-1: 4 byte header + 17 bytes side info
	off := 4 + 17
	copy(f[off:], "Xing")
	binary.BigEndian.PutUint32(f[off+4:], 0x1)
	binary.BigEndian.PutUint32(f[off+8:], frames)
	return f
}

// ID3v2 builds an ID3v2.3 tag from frame ID / text pairs. Text is written
// as ISO-8859-1.
func ID3v2(pairs ...string) []byte {
	var body bytes.Buffer
	for i := 0; i+1 < len(pairs); i += 2 {
		body.WriteString(pairs[i])
		binary.Write(&body, binary.BigEndian, uint32(len(pairs[i+1])+1))
		body.Write([]byte{0, 0})
		body.WriteByte(0)
		body.WriteString(pairs[i+1])
	}
	size := body.Len()
	var b bytes.Buffer
	b.WriteString("ID3")
	b.Write([]byte{3, 0, 0})
	b.Write([]byte{byte(size >> 21 & 0x7F), byte(size >> 14 & 0x7F), byte(size >> 7 & 0x7F), byte(size & 0x7F)})
	b.Write(body.Bytes())
	return b.Bytes()
}

// ID3v1 builds a 128-byte ID3v1 trailer.
func ID3v1(title, artist, album string, track byte) []byte {
	t := make([]byte, 128)
	copy(t, "TAG")
	copy(t[3:33], title)
	copy(t[33:63], artist)
	copy(t[63:93], album)
	t[126] = track
	t[127] = 255
	return t
}
