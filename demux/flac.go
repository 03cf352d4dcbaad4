package demux

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/linuxmatters/audiopump/media"
	"github.com/mewkiz/flac/meta"
)

const (
	// flacMaxHeader bounds a frame header: sync, codes, a 7-byte coded
	// number, 16-bit block size, 16-bit rate and the CRC-8.
	flacMaxHeader = 16
	// flacMaxFrame is the largest frame the splitter will buffer.
	flacMaxFrame = 1 << 22
	flacScanStep = 1 << 14
)

func probeFLAC(b []byte) int {
	if hasPrefix(b, "fLaC") {
		return 100
	}
	return 0
}

type flacDemuxer struct {
	br        *bufio.Reader
	stream    *Stream
	tags      media.Tags
	samples   int64
	truncated bool
	log       *log.Logger
}

func openFLAC(rs io.ReadSeeker, logger *log.Logger) (Demuxer, error) {
	id3, _, err := readID3v2(rs)
	if err != nil {
		return nil, err
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(rs, magic); err != nil || string(magic) != "fLaC" {
		return nil, errors.New("missing fLaC marker")
	}

	var (
		info       *meta.StreamInfo
		streamInfo []byte
		tags       media.Tags
	)
	for last := false; !last; {
		head := make([]byte, 4)
		if _, err := io.ReadFull(rs, head); err != nil {
			return nil, fmt.Errorf("failed to read metadata block header: %w", err)
		}
		last = head[0]&0x80 != 0
		typ := meta.Type(head[0] & 0x7F)
		length := int(head[1])<<16 | int(head[2])<<8 | int(head[3])

		switch typ {
		case meta.TypeStreamInfo, meta.TypeVorbisComment:
			body := make([]byte, length)
			if _, err := io.ReadFull(rs, body); err != nil {
				return nil, fmt.Errorf("failed to read %v block: %w", typ, err)
			}
			if typ == meta.TypeStreamInfo {
				if info, err = parseStreamInfo(append(head, body...)); err != nil {
					return nil, err
				}
				streamInfo = body
				continue
			}
			vc, _, err := parseVorbisComment(body)
			if err != nil {
				logger.Printf("flac: %v", err)
				continue
			}
			tags.Merge(vc)
		default:
			if _, err := rs.Seek(int64(length), io.SeekCurrent); err != nil {
				return nil, err
			}
		}
	}
	if info == nil {
		return nil, errors.New("missing STREAMINFO block")
	}
	mergeMissing(&tags, id3)

	params := flacCodecParams(info, streamInfo)
	return &flacDemuxer{
		br:   bufio.NewReaderSize(rs, flacMaxFrame),
		tags: tags,
		log:  logger,
		stream: &Stream{
			Index:    0,
			Type:     media.Audio,
			Codec:    params,
			TimeBase: media.NewRational(1, int64(info.SampleRate)),
			Duration: int64(info.NSamples),
		},
	}, nil
}

// parseStreamInfo decodes a STREAMINFO block, header included.
func parseStreamInfo(block []byte) (*meta.StreamInfo, error) {
	blk, err := meta.Parse(bytes.NewReader(block))
	if err != nil {
		return nil, fmt.Errorf("failed to parse STREAMINFO: %w", err)
	}
	info, ok := blk.Body.(*meta.StreamInfo)
	if !ok {
		return nil, fmt.Errorf("expected STREAMINFO, got %v block", blk.Type)
	}
	if info.SampleRate == 0 || info.NChannels == 0 {
		return nil, fmt.Errorf("invalid layout %d Hz x %d channels", info.SampleRate, info.NChannels)
	}
	return info, nil
}

func flacCodecParams(info *meta.StreamInfo, streamInfo []byte) media.CodecParameters {
	return media.CodecParameters{
		Codec:      "flac",
		Type:       media.Audio,
		SampleRate: int(info.SampleRate),
		Channels:   int(info.NChannels),
		BitDepth:   int(info.BitsPerSample),
		Headers:    [][]byte{streamInfo},
	}
}

func (d *flacDemuxer) Streams() []*Stream { return []*Stream{d.stream} }

func (d *flacDemuxer) Metadata() media.Tags { return d.tags }

// ReadPacket returns the next frame. A frame ends where the next valid
// frame header begins and the CRC-16 over the frame checks out.
func (d *flacDemuxer) ReadPacket() (*media.Packet, error) {
	if d.truncated {
		d.truncated = false
		return nil, io.ErrUnexpectedEOF
	}
	if err := d.syncFrame(); err != nil {
		return nil, err
	}

	head, _ := d.br.Peek(flacMaxHeader)
	hdrLen, blockSize, _ := parseFLACFrameHeader(head)

	from, fallback := hdrLen, 0
	for size := flacScanStep; ; size = min(size*2, flacMaxFrame) {
		buf, err := d.br.Peek(size)
		end, candidate := findFLACFrameEnd(buf, from, err == io.EOF)
		if end > 0 {
			return d.emit(buf[:end], blockSize)
		}
		if fallback == 0 {
			fallback = candidate
		}
		if err == nil && size == flacMaxFrame {
			if fallback > 0 {
				return d.emit(buf[:fallback], blockSize)
			}
			return nil, fmt.Errorf("no frame boundary within %d bytes", flacMaxFrame)
		}
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			if fallback > 0 {
				// A damaged frame; cut it at the next header so the decoder
				// rejects it alone.
				return d.emit(buf[:fallback], blockSize)
			}
			// The final frame runs to the end of the input.
			if crc16(buf) != 0 {
				d.truncated = true
			}
			return d.emit(buf, blockSize)
		}
		// Candidates need a full header past them before they can be
		// checked.
		from = max(hdrLen, len(buf)-flacMaxHeader+1)
	}
}

func (d *flacDemuxer) emit(frame []byte, blockSize int) (*media.Packet, error) {
	pkt := &media.Packet{
		Data:     bytes.Clone(frame),
		PTS:      d.samples,
		Duration: int64(blockSize),
	}
	d.samples += int64(blockSize)
	if _, err := d.br.Discard(len(frame)); err != nil {
		return nil, err
	}
	return pkt, nil
}

// syncFrame discards bytes until a valid frame header starts the buffer.
func (d *flacDemuxer) syncFrame() error {
	skipped := 0
	defer func() {
		if skipped > 0 {
			d.log.Printf("flac: skipped %d bytes to the next frame", skipped)
		}
	}()
	for {
		head, err := d.br.Peek(flacMaxHeader)
		if len(head) < 2 {
			if err == nil || err == io.EOF {
				return io.EOF
			}
			return err
		}
		if _, _, ok := parseFLACFrameHeader(head); ok {
			return nil
		}
		if err == io.EOF && len(head) < flacMaxHeader {
			// A header cut short by the end of the input.
			return io.ErrUnexpectedEOF
		}
		n := len(head)
		if i := bytes.IndexByte(head[1:], 0xFF); i >= 0 {
			n = i + 1
		}
		d.br.Discard(n)
		skipped += n
	}
}

// findFLACFrameEnd returns the offset of the first frame header at or
// after from that closes a CRC-valid frame, or 0. candidate is the first
// valid header seen regardless of the CRC. Unless atEOF, only candidates
// followed by a full header's worth of bytes are tried.
func findFLACFrameEnd(buf []byte, from int, atEOF bool) (end, candidate int) {
	limit := len(buf) - flacMaxHeader
	if atEOF {
		limit = len(buf) - 2
	}
	for i := from; i <= limit; i++ {
		if buf[i] != 0xFF || buf[i+1]&0xFE != 0xF8 {
			continue
		}
		if _, _, ok := parseFLACFrameHeader(buf[i:]); !ok {
			continue
		}
		if crc16(buf[:i]) == 0 {
			return i, candidate
		}
		if candidate == 0 {
			candidate = i
		}
	}
	return 0, candidate
}

// parseFLACFrameHeader validates a frame header at the start of b and
// returns its length and block size.
func parseFLACFrameHeader(b []byte) (hdrLen, blockSize int, ok bool) {
	if len(b) < 6 || b[0] != 0xFF || b[1]&0xFE != 0xF8 {
		return 0, 0, false
	}
	bsCode := b[2] >> 4
	rateCode := b[2] & 0x0F
	chanCode := b[3] >> 4
	depthCode := b[3] >> 1 & 0x07
	if bsCode == 0 || rateCode == 0x0F || chanCode > 10 || depthCode == 3 || b[3]&1 != 0 {
		return 0, 0, false
	}

	n := 4
	lead := b[n]
	extra := 0
	switch {
	case lead&0x80 == 0:
	case lead&0xE0 == 0xC0:
		extra = 1
	case lead&0xF0 == 0xE0:
		extra = 2
	case lead&0xF8 == 0xF0:
		extra = 3
	case lead&0xFC == 0xF8:
		extra = 4
	case lead&0xFE == 0xFC:
		extra = 5
	case lead == 0xFE:
		extra = 6
	default:
		return 0, 0, false
	}
	if len(b) < n+1+extra {
		return 0, 0, false
	}
	for _, c := range b[n+1 : n+1+extra] {
		if c&0xC0 != 0x80 {
			return 0, 0, false
		}
	}
	n += 1 + extra

	switch {
	case bsCode == 1:
		blockSize = 192
	case bsCode <= 5:
		blockSize = 576 << (bsCode - 2)
	case bsCode == 6:
		if len(b) < n+1 {
			return 0, 0, false
		}
		blockSize = int(b[n]) + 1
		n++
	case bsCode == 7:
		if len(b) < n+2 {
			return 0, 0, false
		}
		blockSize = (int(b[n])<<8 | int(b[n+1])) + 1
		n += 2
	default:
		blockSize = 256 << (bsCode - 8)
	}
	switch rateCode {
	case 12:
		n++
	case 13, 14:
		n += 2
	}
	if len(b) < n+1 || crc8(b[:n]) != b[n] {
		return 0, 0, false
	}
	return n + 1, blockSize, true
}

func (d *flacDemuxer) Close() error {
	d.br = nil
	return nil
}
