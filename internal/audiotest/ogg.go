package audiotest

import (
	"bytes"
	"encoding/binary"
)

// Ogg page header flags.
const (
	OggContinued = 0x01
	OggBOS       = 0x02
	OggEOS       = 0x04
)

// OggPage encodes one page holding complete packets.
func OggPage(serial, seq uint32, granule int64, flags byte, packets ...[]byte) []byte {
	var lacing []byte
	var body bytes.Buffer
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		body.Write(p)
	}
	return oggPage(serial, seq, granule, flags, lacing, body.Bytes())
}

func oggPage(serial, seq uint32, granule int64, flags byte, lacing, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString("OggS")
	b.WriteByte(0)
	b.WriteByte(flags)
	binary.Write(&b, binary.LittleEndian, granule)
	binary.Write(&b, binary.LittleEndian, serial)
	binary.Write(&b, binary.LittleEndian, seq)
	binary.Write(&b, binary.LittleEndian, uint32(0))
	b.WriteByte(byte(len(lacing)))
	b.Write(lacing)
	b.Write(body)
	page := b.Bytes()
	binary.LittleEndian.PutUint32(page[22:], OggCRC(page))
	return page
}

// OggSplitPacket encodes a packet across two pages, the first ending in a
// 255 lacing value and the second flagged as continued.
func OggSplitPacket(serial, seq uint32, granule int64, p []byte) []byte {
	first := 255
	if len(p) <= first {
		panic("audiotest: packet too short to split")
	}
	a := oggPage(serial, seq, -1, 0, []byte{255}, p[:first])
	rest := len(p) - first
	var lacing []byte
	for rest >= 255 {
		lacing = append(lacing, 255)
		rest -= 255
	}
	lacing = append(lacing, byte(rest))
	b := oggPage(serial, seq+1, granule, OggContinued, lacing, p[first:])
	return append(a, b...)
}

// OggFLACHeader wraps a STREAMINFO body in the Ogg FLAC mapping header.
// numHeaders is the count of metadata packets that follow.
func OggFLACHeader(streamInfo []byte, numHeaders int) []byte {
	var b bytes.Buffer
	b.WriteByte(0x7F)
	b.WriteString("FLAC")
	b.WriteByte(1)
	b.WriteByte(0)
	binary.Write(&b, binary.BigEndian, uint16(numHeaders))
	b.WriteString("fLaC")
	b.Write(blockHeader(0, len(streamInfo), numHeaders == 0))
	b.Write(streamInfo)
	return b.Bytes()
}

// OggFLACComment wraps a Vorbis comment body as an Ogg FLAC metadata packet.
func OggFLACComment(vendor string, comments []string) []byte {
	body := VorbisComment(vendor, comments)
	return append(blockHeader(4, len(body), true), body...)
}

// TheoraHeader is a Theora identification header, enough to classify a
// stream as video.
func TheoraHeader() []byte {
	h := append([]byte{0x80}, "theora"...)
	return append(h, make([]byte, 35)...)
}

// KateHeader is a Kate identification header, enough to classify a stream
// as subtitles.
func KateHeader() []byte {
	h := append([]byte{0x80}, "kate\x00\x00\x00"...)
	return append(h, make([]byte, 56)...)
}

// OpusHead encodes an OpusHead identification header.
func OpusHead(channels int, preSkip uint16, inputRate uint32) []byte {
	var b bytes.Buffer
	b.WriteString("OpusHead")
	b.WriteByte(1)
	b.WriteByte(byte(channels))
	binary.Write(&b, binary.LittleEndian, preSkip)
	binary.Write(&b, binary.LittleEndian, inputRate)
	binary.Write(&b, binary.LittleEndian, int16(0))
	b.WriteByte(0)
	return b.Bytes()
}

// OpusTags encodes an OpusTags comment header.
func OpusTags(vendor string, comments []string) []byte {
	return append([]byte("OpusTags"), VorbisComment(vendor, comments)...)
}
