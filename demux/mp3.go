package demux

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log"

	"github.com/linuxmatters/audiopump/media"
)

const (
	mpegHeaderSize = 4
	// mpegMaxFrame is a Layer I/II/III frame at 448 kbit/s, 8 kHz, padded,
	// rounded up.
	mpegMaxFrame = 8192
)

// mpegHeader is a decoded MPEG audio frame header.
type mpegHeader struct {
	version    int // 1, 2, or 25 for MPEG 2.5
	layer      int
	bitRate    int // bits per second
	sampleRate int
	channels   int
	frameSize  int
	samples    int
}

var mpegBitRates = [2][3][15]int{
	{ // MPEG-1
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
	},
	{ // MPEG-2 and 2.5
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	},
}

var mpegSampleRates = map[int][3]int{
	1:  {44100, 48000, 32000},
	2:  {22050, 24000, 16000},
	25: {11025, 12000, 8000},
}

// parseMPEGHeader decodes the 4-byte header at the start of b. Free-format
// bitrates are not supported.
func parseMPEGHeader(b []byte) (mpegHeader, bool) {
	var h mpegHeader
	if len(b) < mpegHeaderSize || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return h, false
	}
	switch b[1] >> 3 & 0x03 {
	case 0:
		h.version = 25
	case 2:
		h.version = 2
	case 3:
		h.version = 1
	default:
		return h, false
	}
	layerBits := b[1] >> 1 & 0x03
	if layerBits == 0 {
		return h, false
	}
	h.layer = 4 - int(layerBits)

	brIndex := int(b[2] >> 4)
	srIndex := int(b[2] >> 2 & 0x03)
	if brIndex == 0 || brIndex == 15 || srIndex == 3 {
		return h, false
	}
	table := 0
	if h.version != 1 {
		table = 1
	}
	h.bitRate = mpegBitRates[table][h.layer-1][brIndex] * 1000
	h.sampleRate = mpegSampleRates[h.version][srIndex]
	padding := int(b[2] >> 1 & 0x01)
	h.channels = 2
	if b[3]>>6 == 3 {
		h.channels = 1
	}

	switch h.layer {
	case 1:
		h.samples = 384
		h.frameSize = (12*h.bitRate/h.sampleRate + padding) * 4
	case 2:
		h.samples = 1152
		h.frameSize = 144*h.bitRate/h.sampleRate + padding
	case 3:
		if h.version == 1 {
			h.samples = 1152
			h.frameSize = 144*h.bitRate/h.sampleRate + padding
		} else {
			h.samples = 576
			h.frameSize = 72*h.bitRate/h.sampleRate + padding
		}
	}
	return h, h.frameSize > mpegHeaderSize
}

// sameStream reports whether two headers could belong to one stream.
func (h mpegHeader) sameStream(o mpegHeader) bool {
	return h.version == o.version && h.layer == o.layer && h.sampleRate == o.sampleRate
}

func (h mpegHeader) codecName() string {
	switch h.layer {
	case 1:
		return "mp1"
	case 2:
		return "mp2"
	}
	return "mp3"
}

// sideInfoSize is the Layer III side information length.
func (h mpegHeader) sideInfoSize() int {
	switch {
	case h.version == 1 && h.channels == 1:
		return 17
	case h.version == 1:
		return 32
	case h.channels == 1:
		return 9
	}
	return 17
}

// vbrFrames returns the frame count announced by a Xing, Info or VBRI
// header inside frame.
func vbrFrames(h mpegHeader, frame []byte) (int64, bool) {
	off := mpegHeaderSize + h.sideInfoSize()
	if len(frame) >= off+12 {
		tag := string(frame[off : off+4])
		if tag == "Xing" || tag == "Info" {
			flags := binary.BigEndian.Uint32(frame[off+4:])
			if flags&0x1 != 0 {
				return int64(binary.BigEndian.Uint32(frame[off+8:])), true
			}
			return 0, true
		}
	}
	const vbriOff = mpegHeaderSize + 32
	if len(frame) >= vbriOff+18 && string(frame[vbriOff:vbriOff+4]) == "VBRI" {
		return int64(binary.BigEndian.Uint32(frame[vbriOff+14:])), true
	}
	return 0, false
}

// findMPEGSync returns the offset of the first header in b that is followed
// by a second matching header, or -1.
func findMPEGSync(b []byte) (int, mpegHeader) {
	for i := 0; i+mpegHeaderSize <= len(b); i++ {
		h, ok := parseMPEGHeader(b[i:])
		if !ok {
			continue
		}
		next := i + h.frameSize
		if next+mpegHeaderSize > len(b) {
			continue
		}
		if h2, ok := parseMPEGHeader(b[next:]); ok && h.sameStream(h2) {
			return i, h
		}
	}
	return -1, mpegHeader{}
}

func probeMP3(b []byte) int {
	i, _ := findMPEGSync(b)
	switch {
	case i == 0:
		return 50
	case i > 0:
		return 25
	}
	return 0
}

type mp3Demuxer struct {
	br      *bufio.Reader
	first   mpegHeader
	stream  *Stream
	tags    media.Tags
	left    int64 // bytes of audio data before any trailing tag
	samples int64
	log     *log.Logger
}

func openMP3(rs io.ReadSeeker, logger *log.Logger) (Demuxer, error) {
	fileSize, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	tags, start, err := readID3v2(rs)
	if err != nil {
		return nil, err
	}
	end := fileSize
	if v1, ok := readID3v1(rs, fileSize); ok {
		mergeMissing(&tags, v1)
		end -= id3v1Size
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	d := &mp3Demuxer{
		br:   bufio.NewReaderSize(io.LimitReader(rs, end-start), mpegMaxFrame*4),
		tags: tags,
		left: end - start,
		log:  logger,
	}

	// Find the first frame that is followed by a matching one.
	buf, _ := d.br.Peek(mpegMaxFrame * 4)
	off, h := findMPEGSync(buf)
	if off < 0 {
		// A single-frame file has nothing to confirm it against.
		var ok bool
		if h, ok = parseMPEGHeader(buf); !ok || h.frameSize > len(buf) {
			return nil, errors.New("no MPEG audio frame found")
		}
		off = 0
	}
	if off > 0 {
		logger.Printf("mp3: skipped %d bytes before the first frame", off)
		d.discard(off)
	}
	d.first = h

	var duration int64
	frame, _ := d.br.Peek(h.frameSize)
	if frames, ok := vbrFrames(h, frame); ok {
		// The VBR header frame carries no audio.
		d.discard(h.frameSize)
		duration = frames * int64(h.samples)
	} else if h.bitRate > 0 {
		duration = d.left * 8 * int64(h.sampleRate) / int64(h.bitRate)
	}

	d.stream = &Stream{
		Index: 0,
		Type:  media.Audio,
		Codec: media.CodecParameters{
			Codec:      h.codecName(),
			Type:       media.Audio,
			SampleRate: h.sampleRate,
			Channels:   h.channels,
			BitRate:    int64(h.bitRate),
		},
		TimeBase: media.NewRational(1, int64(h.sampleRate)),
		Duration: duration,
	}
	return d, nil
}

func (d *mp3Demuxer) discard(n int) {
	got, _ := d.br.Discard(n)
	d.left -= int64(got)
}

func (d *mp3Demuxer) Streams() []*Stream { return []*Stream{d.stream} }

func (d *mp3Demuxer) Metadata() media.Tags { return d.tags }

// ReadPacket returns the next frame, resyncing over garbage between
// frames.
func (d *mp3Demuxer) ReadPacket() (*media.Packet, error) {
	skipped := 0
	defer func() {
		if skipped > 0 {
			d.log.Printf("mp3: skipped %d bytes of junk", skipped)
		}
	}()

	for {
		head, err := d.br.Peek(mpegHeaderSize)
		if len(head) < mpegHeaderSize {
			if len(head) == 0 && (err == io.EOF || err == nil) {
				return nil, io.EOF
			}
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		h, ok := parseMPEGHeader(head)
		if ok && h.sameStream(d.first) {
			frame, err := d.br.Peek(h.frameSize)
			if len(frame) < h.frameSize {
				if err == io.EOF {
					return nil, io.ErrUnexpectedEOF
				}
				return nil, err
			}
			if d.confirmed(h, skipped > 0) {
				pkt := &media.Packet{
					Data:     bytes.Clone(frame),
					PTS:      d.samples,
					Duration: int64(h.samples),
				}
				d.samples += int64(h.samples)
				d.discard(h.frameSize)
				return pkt, nil
			}
		}
		// Resync on the next possible sync byte.
		window, _ := d.br.Peek(mpegMaxFrame)
		n := len(window)
		if i := bytes.IndexByte(window[1:], 0xFF); i >= 0 {
			n = i + 1
		}
		d.discard(n)
		skipped += n
	}
}

// confirmed accepts the frame at the head of the buffer. After a resync the
// next header must also match, unless the frame is the last one.
func (d *mp3Demuxer) confirmed(h mpegHeader, resynced bool) bool {
	if !resynced {
		return true
	}
	buf, _ := d.br.Peek(h.frameSize + mpegHeaderSize)
	if len(buf) < h.frameSize+mpegHeaderSize {
		return len(buf) == h.frameSize
	}
	h2, ok := parseMPEGHeader(buf[h.frameSize:])
	return ok && h.sameStream(h2)
}

func (d *mp3Demuxer) Close() error {
	d.br = nil
	return nil
}
