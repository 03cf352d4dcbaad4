package demux

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/linuxmatters/audiopump/media"
	"github.com/mewkiz/flac/meta"
)

const (
	oggHeaderSize = 27
	oggMaxPage    = oggHeaderSize + 255 + 255*255

	oggFlagContinued = 0x01
	oggFlagBOS       = 0x02

	// oggTailScan is how far from the end the duration scan looks for the
	// last page of each stream.
	oggTailScan = 1 << 16

	opusRate = 48000
)

func probeOgg(b []byte) int {
	if len(b) >= 5 && hasPrefix(b, "OggS") && b[4] == 0 {
		return 100
	}
	return 0
}

type oggPage struct {
	flags   byte
	granule int64
	serial  uint32
	seq     uint32
	lacing  []byte
	body    []byte
}

// oggPageReader reads pages, resyncing on the capture pattern after a bad
// checksum.
type oggPageReader struct {
	br  *bufio.Reader
	log *log.Logger
}

func (pr *oggPageReader) next() (*oggPage, error) {
	skipped := 0
	defer func() {
		if skipped > 0 {
			pr.log.Printf("ogg: skipped %d bytes to the next page", skipped)
		}
	}()
	for {
		head, err := pr.br.Peek(oggHeaderSize)
		if len(head) < oggHeaderSize {
			if len(head) == 0 && (err == io.EOF || err == nil) {
				return nil, io.EOF
			}
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if !hasPrefix(head, "OggS") || head[4] != 0 {
			n := len(head)
			if i := bytes.Index(head[1:], []byte("OggS")); i >= 0 {
				n = i + 1
			} else {
				n -= 3
			}
			pr.br.Discard(n)
			skipped += n
			continue
		}
		nsegs := int(head[26])
		full, err := pr.br.Peek(oggHeaderSize + nsegs)
		if len(full) < oggHeaderSize+nsegs {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		bodySize := 0
		for _, l := range full[oggHeaderSize:] {
			bodySize += int(l)
		}
		size := oggHeaderSize + nsegs + bodySize
		raw, err := pr.br.Peek(size)
		if len(raw) < size {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		want := binary.LittleEndian.Uint32(raw[22:])
		check := bytes.Clone(raw)
		binary.LittleEndian.PutUint32(check[22:], 0)
		if oggCRC(check) != want {
			pr.log.Printf("ogg: page checksum mismatch")
			pr.br.Discard(1)
			skipped++
			continue
		}
		pr.br.Discard(size)

		return &oggPage{
			flags:   raw[5],
			granule: int64(binary.LittleEndian.Uint64(raw[6:])),
			serial:  binary.LittleEndian.Uint32(raw[14:]),
			seq:     binary.LittleEndian.Uint32(raw[18:]),
			lacing:  check[oggHeaderSize : oggHeaderSize+nsegs],
			body:    check[oggHeaderSize+nsegs:],
		}, nil
	}
}

// oggStream is the per-serial state of a logical bitstream.
type oggStream struct {
	*Stream
	serial  uint32
	partial []byte
	// headers still to collect before audio packets start.
	headers int
	preSkip int64
	granule int64 // last granule position seen
	lastSeq uint32
	seen    bool
}

type oggDemuxer struct {
	pr      *oggPageReader
	streams []*oggStream
	bySer   map[uint32]*oggStream
	queue   []*media.Packet
	tags    media.Tags
	log     *log.Logger
}

func openOgg(rs io.ReadSeeker, logger *log.Logger) (Demuxer, error) {
	d := &oggDemuxer{
		pr:    &oggPageReader{br: bufio.NewReaderSize(rs, oggMaxPage), log: logger},
		bySer: make(map[uint32]*oggStream),
		log:   logger,
	}

	// Beginning-of-stream pages come first, one per logical stream. Audio
	// streams then need their remaining header packets.
	bosPhase := true
	for {
		pg, err := d.pr.next()
		if err != nil {
			if len(d.streams) == 0 {
				return nil, fmt.Errorf("failed to read first page: %w", err)
			}
			if err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, err
			}
			d.pr = nil
			break
		}
		if pg.flags&oggFlagBOS != 0 && bosPhase {
			if _, dup := d.bySer[pg.serial]; dup {
				return nil, fmt.Errorf("duplicate stream serial %#x", pg.serial)
			}
			d.addStream(pg)
			continue
		}
		if len(d.streams) == 0 {
			return nil, errors.New("first page is not a beginning-of-stream page")
		}
		bosPhase = false
		d.pushPage(pg)
		if d.headersDone() {
			break
		}
	}
	if len(d.streams) == 0 {
		return nil, errors.New("no logical streams")
	}
	for _, s := range d.streams {
		if s.Type == media.Audio && s.headers > 0 {
			return nil, fmt.Errorf("stream %d: %d header packets missing", s.Index, s.headers)
		}
	}

	for _, s := range d.streams {
		if s.Type == media.Audio && s.granule > 0 {
			s.Duration = max(s.granule-s.preSkip, 0)
		}
	}
	if d.pr != nil {
		if err := d.scanDurations(rs); err != nil {
			logger.Printf("ogg: duration scan failed: %v", err)
		}
	}
	return d, nil
}

func (d *oggDemuxer) headersDone() bool {
	for _, s := range d.streams {
		if s.Type == media.Audio && s.headers > 0 {
			return false
		}
	}
	return true
}

func (d *oggDemuxer) addStream(pg *oggPage) {
	s := &oggStream{
		Stream: &Stream{Index: len(d.streams)},
		serial: pg.serial,
	}
	d.streams = append(d.streams, s)
	d.bySer[pg.serial] = s

	packets := d.packets(s, pg)
	if len(packets) == 0 {
		s.Type = media.Data
		return
	}
	identifyOggStream(s, packets[0], d.log)
	for _, p := range packets[1:] {
		d.handlePacket(s, p)
	}
}

// identifyOggStream classifies a stream from its first packet and fills in
// the codec parameters.
func identifyOggStream(s *oggStream, p []byte, logger *log.Logger) {
	s.Type = media.Data
	s.Codec.Type = media.Data
	switch {
	case len(p) >= 30 && p[0] == 1 && string(p[1:7]) == "vorbis":
		rate := int(binary.LittleEndian.Uint32(p[12:]))
		s.Type = media.Audio
		s.Codec = media.CodecParameters{
			Codec:      "vorbis",
			Type:       media.Audio,
			Channels:   int(p[11]),
			SampleRate: rate,
			BitRate:    int64(int32(binary.LittleEndian.Uint32(p[20:]))),
			Headers:    [][]byte{p},
		}
		s.TimeBase = media.NewRational(1, int64(rate))
		s.headers = 2
	case len(p) >= 19 && string(p[:8]) == "OpusHead":
		s.Type = media.Audio
		s.preSkip = int64(binary.LittleEndian.Uint16(p[10:]))
		s.Codec = media.CodecParameters{
			Codec:      "opus",
			Type:       media.Audio,
			Channels:   int(p[9]),
			SampleRate: opusRate,
			Delay:      int(s.preSkip),
			Headers:    [][]byte{p},
		}
		s.TimeBase = media.NewRational(1, opusRate)
		s.headers = 1
	case len(p) >= 51 && p[0] == 0x7F && string(p[1:5]) == "FLAC" && string(p[9:13]) == "fLaC":
		info, err := parseStreamInfo(p[13:51])
		if err != nil {
			logger.Printf("ogg: stream %d: %v", s.Index, err)
			return
		}
		s.Type = media.Audio
		s.Codec = flacCodecParams(info, p[17:51])
		s.TimeBase = media.NewRational(1, int64(info.SampleRate))
		s.headers = int(binary.BigEndian.Uint16(p[7:]))
	case len(p) >= 7 && p[0] == 0x80 && string(p[1:7]) == "theora":
		s.Type = media.Video
		s.Codec = media.CodecParameters{Codec: "theora", Type: media.Video}
	case len(p) >= 8 && p[0] == 0x80 && string(p[1:8]) == "kate\x00\x00\x00":
		s.Type = media.Subtitle
		s.Codec = media.CodecParameters{Codec: "kate", Type: media.Subtitle}
	case len(p) >= 8 && string(p[:8]) == "fishead\x00":
		s.Codec.Codec = "skeleton"
	default:
		logger.Printf("ogg: stream %d has an unknown codec", s.Index)
	}
}

// packets reassembles the complete packets of a page. A continued page
// with no packet start on record begins with a tail that is dropped.
func (d *oggDemuxer) packets(s *oggStream, pg *oggPage) [][]byte {
	if s.seen && pg.seq != s.lastSeq+1 {
		d.log.Printf("ogg: stream %d lost pages %d to %d", s.Index, s.lastSeq+1, pg.seq-1)
		s.partial = nil
	}
	s.seen, s.lastSeq = true, pg.seq
	if pg.granule != -1 {
		s.granule = pg.granule
	}

	continued := pg.flags&oggFlagContinued != 0
	if !continued && len(s.partial) > 0 {
		d.log.Printf("ogg: stream %d dropped an unfinished packet", s.Index)
		s.partial = nil
	}
	skip := continued && s.partial == nil

	var out [][]byte
	start := 0
	for _, l := range pg.lacing {
		end := start + int(l)
		if !skip {
			s.partial = append(s.partial, pg.body[start:end]...)
		}
		start = end
		if l == 255 {
			continue
		}
		if !skip && len(s.partial) > 0 {
			out = append(out, s.partial)
		}
		s.partial = nil
		skip = false
	}
	return out
}

// handlePacket routes a complete packet: header packets of audio streams
// go to the codec parameters, everything else is queued.
func (d *oggDemuxer) handlePacket(s *oggStream, p []byte) {
	if s.Type == media.Audio && s.headers > 0 {
		s.headers--
		s.Codec.Headers = append(s.Codec.Headers, p)
		d.readCommentHeader(s, p)
		return
	}
	d.queue = append(d.queue, &media.Packet{
		StreamIndex: s.Index,
		Data:        p,
		PTS:         media.NoPTS,
	})
}

func (d *oggDemuxer) readCommentHeader(s *oggStream, p []byte) {
	var body []byte
	switch s.Codec.Codec {
	case "vorbis":
		if len(p) > 7 && p[0] == 3 && string(p[1:7]) == "vorbis" {
			body = p[7:]
		}
	case "opus":
		if hasPrefix(p, "OpusTags") {
			body = p[8:]
		}
	case "flac":
		if len(p) > 4 && meta.Type(p[0]&0x7F) == meta.TypeVorbisComment {
			body = p[4:]
		}
	}
	if body == nil {
		return
	}
	tags, _, err := parseVorbisComment(body)
	if err != nil {
		d.log.Printf("ogg: stream %d: %v", s.Index, err)
		return
	}
	s.Tags.Merge(tags)
}

func (d *oggDemuxer) pushPage(pg *oggPage) {
	s, ok := d.bySer[pg.serial]
	if !ok {
		d.log.Printf("ogg: ignoring page of unknown stream %#x", pg.serial)
		return
	}
	for _, p := range d.packets(s, pg) {
		d.handlePacket(s, p)
	}
}

// scanDurations reads the pages near the end of the file for the last
// granule position of every stream, then restores the read position.
func (d *oggDemuxer) scanDurations(rs io.ReadSeeker) error {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	// bufio has read ahead; the logical position is behind the file offset.
	resume := pos - int64(d.pr.br.Buffered())
	defer rs.Seek(pos, io.SeekStart)

	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	from := max(resume, size-oggTailScan)
	if _, err := rs.Seek(from, io.SeekStart); err != nil {
		return err
	}
	tail := &oggPageReader{br: bufio.NewReaderSize(rs, oggMaxPage), log: log.New(io.Discard, "", 0)}
	last := make(map[uint32]int64)
	for {
		pg, err := tail.next()
		if err != nil {
			break
		}
		if pg.granule != -1 {
			last[pg.serial] = pg.granule
		}
	}
	for serial, granule := range last {
		s, ok := d.bySer[serial]
		if !ok || s.Type != media.Audio {
			continue
		}
		s.Duration = max(granule-s.preSkip, 0)
	}
	return nil
}

func (d *oggDemuxer) Streams() []*Stream {
	out := make([]*Stream, len(d.streams))
	for i, s := range d.streams {
		out[i] = s.Stream
	}
	return out
}

// Metadata is empty: Ogg carries tags per logical stream.
func (d *oggDemuxer) Metadata() media.Tags { return d.tags }

func (d *oggDemuxer) ReadPacket() (*media.Packet, error) {
	for len(d.queue) == 0 {
		if d.pr == nil {
			return nil, io.EOF
		}
		pg, err := d.pr.next()
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			d.pr = nil
			for _, s := range d.streams {
				if len(s.partial) > 0 {
					s.partial = nil
					return nil, io.ErrUnexpectedEOF
				}
			}
			return nil, io.EOF
		}
		if _, ok := d.bySer[pg.serial]; !ok && pg.flags&oggFlagBOS != 0 {
			d.log.Printf("ogg: ignoring chained stream %#x", pg.serial)
			continue
		}
		d.pushPage(pg)
	}
	p := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return p, nil
}

func (d *oggDemuxer) Close() error {
	d.pr = nil
	d.queue = nil
	return nil
}
