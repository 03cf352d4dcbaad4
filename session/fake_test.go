package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/linuxmatters/audiopump/codec"
	"github.com/linuxmatters/audiopump/demux"
	"github.com/linuxmatters/audiopump/internal/audiotest"
	"github.com/linuxmatters/audiopump/media"
)

// The "fakemux" container lets tests script exactly which packets of which
// streams the pump sees:
//
//	"FAKEMUX!"
//	u8 stream count, then per stream: u8 media type, str codec, tags
//	container tags
//	packets to EOF: u8 stream index, u16 length, payload
//
// where str is a u8 length and bytes, and tags is a u8 count of str pairs.
// Stream index fakeIOError makes ReadPacket fail with a plain I/O error.
const (
	fakeMagic   = "FAKEMUX!"
	fakeIOError = 0xEE
	fakeRate    = 44100
)

// Payload markers understood by the fake codecs.
const (
	markCorrupt  = 0xBA // the packet fails to decode
	markWrongFmt = 0xBB // the frame comes out at the wrong sample rate
)

var (
	fakeOnce   sync.Once
	fakeCloses atomic.Int64
)

func registerFakes() {
	fakeOnce.Do(func() {
		Init()
		demux.Register(demux.Format{Name: "fakemux", Probe: probeFake, Open: openFake})
		codec.Register("fake_direct", func(p media.CodecParameters) (codec.Decoder, error) {
			return newFakeDecoder(p, false), nil
		})
		codec.Register("fake_delay", func(p media.CodecParameters) (codec.Decoder, error) {
			return newFakeDecoder(p, true), nil
		})
	})
}

type fakeStream struct {
	typ   media.MediaType
	codec string
	tags  [][2]string
}

type fakePacket struct {
	stream int
	data   []byte
}

// samples builds a payload decoding to n samples.
func samples(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i%100) + 1
	}
	return b
}

func writeFake(t *testing.T, streams []fakeStream, tags [][2]string, packets []fakePacket) string {
	t.Helper()
	var b bytes.Buffer
	str := func(s string) {
		b.WriteByte(byte(len(s)))
		b.WriteString(s)
	}
	writeTags := func(tags [][2]string) {
		b.WriteByte(byte(len(tags)))
		for _, kv := range tags {
			str(kv[0])
			str(kv[1])
		}
	}

	b.WriteString(fakeMagic)
	b.WriteByte(byte(len(streams)))
	for _, s := range streams {
		b.WriteByte(byte(s.typ))
		str(s.codec)
		writeTags(s.tags)
	}
	writeTags(tags)
	for _, p := range packets {
		b.WriteByte(byte(p.stream))
		binary.Write(&b, binary.BigEndian, uint16(len(p.data)))
		b.Write(p.data)
	}
	return audiotest.WriteFile(t, t.TempDir(), "input.fake", b.Bytes())
}

func probeFake(b []byte) int {
	if bytes.HasPrefix(b, []byte(fakeMagic)) {
		return 100
	}
	return 0
}

type fakeDemuxer struct {
	r       *bytes.Reader
	streams []*demux.Stream
	tags    media.Tags
}

func openFake(rs io.ReadSeeker, _ *log.Logger) (demux.Demuxer, error) {
	raw, err := io.ReadAll(rs)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(raw[len(fakeMagic):])
	str := func() string {
		n, _ := r.ReadByte()
		s := make([]byte, n)
		io.ReadFull(r, s)
		return string(s)
	}
	readTags := func() media.Tags {
		var tags media.Tags
		n, _ := r.ReadByte()
		for range int(n) {
			k := str()
			tags.Add(k, str())
		}
		return tags
	}

	d := &fakeDemuxer{r: r}
	n, err := r.ReadByte()
	if err != nil {
		return nil, errors.New("missing stream count")
	}
	for i := range int(n) {
		typ, _ := r.ReadByte()
		name := str()
		d.streams = append(d.streams, &demux.Stream{
			Index: i,
			Type:  media.MediaType(typ),
			Codec: media.CodecParameters{
				Codec:      name,
				Type:       media.MediaType(typ),
				SampleRate: fakeRate,
				Channels:   1,
				BitDepth:   16,
			},
			TimeBase: media.NewRational(1, fakeRate),
			Tags:     readTags(),
		})
	}
	d.tags = readTags()
	return d, nil
}

func (d *fakeDemuxer) Streams() []*demux.Stream { return d.streams }

func (d *fakeDemuxer) Metadata() media.Tags { return d.tags }

func (d *fakeDemuxer) ReadPacket() (*media.Packet, error) {
	idx, err := d.r.ReadByte()
	if err != nil {
		return nil, io.EOF
	}
	if idx == fakeIOError {
		return nil, errors.New("device not ready")
	}
	var n uint16
	if err := binary.Read(d.r, binary.BigEndian, &n); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return &media.Packet{StreamIndex: int(idx), Data: data, PTS: media.NoPTS}, nil
}

func (d *fakeDemuxer) Close() error {
	fakeCloses.Add(1)
	return nil
}

// fakeDecoder turns a packet of n bytes into a mono frame of n samples. With
// delay set it holds every frame back until the flush marker.
type fakeDecoder struct {
	params media.CodecParameters
	delay  bool
	held   []*media.Frame
	q      codec.Queue
}

func newFakeDecoder(p media.CodecParameters, delay bool) *fakeDecoder {
	p.SampleFormat = media.SampleFormatS16
	return &fakeDecoder{params: p, delay: delay}
}

func (d *fakeDecoder) Params() media.CodecParameters { return d.params }

func (d *fakeDecoder) SendPacket(pkt *media.Packet) error {
	if d.q.Flushed() {
		return codec.ErrFlushed
	}
	if pkt == nil {
		for _, f := range d.held {
			d.q.Push(f)
		}
		d.held = nil
		d.q.Flush()
		return nil
	}
	if len(pkt.Data) == 0 || pkt.Data[0] == markCorrupt {
		return codec.DecodeError("fake", fmt.Errorf("bad packet of %d bytes", len(pkt.Data)))
	}
	rate := d.params.SampleRate
	if pkt.Data[0] == markWrongFmt {
		rate /= 2
	}
	f := media.NewFrame(media.SampleFormatS16, rate, 1, len(pkt.Data))
	for i, v := range pkt.Data {
		binary.LittleEndian.PutUint16(f.Data[0][i*2:], uint16(v)<<8)
	}
	if d.delay {
		d.held = append(d.held, f)
		return nil
	}
	d.q.Push(f)
	return nil
}

func (d *fakeDecoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.Pop()
}

func (d *fakeDecoder) Close() error {
	for _, f := range d.held {
		f.Release()
	}
	d.held = nil
	d.q.Reset()
	return nil
}
