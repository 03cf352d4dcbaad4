// Package opus registers an Opus decoder backed by libopus. Import it for its
// side effect:
//
//	import _ "github.com/linuxmatters/audiopump/codec/opus"
package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/linuxmatters/audiopump/codec"
	"github.com/linuxmatters/audiopump/media"
	libopus "gopkg.in/hraban/opus.v2"
)

// SampleRate is the rate Opus always decodes at.
const SampleRate = 48000

// maxFrameSamples is 120 ms at 48 kHz, the longest Opus packet.
const maxFrameSamples = 5760

func init() {
	codec.Register("opus", newDecoder)
}

// Head is the parsed OpusHead identification header.
type Head struct {
	Channels      int
	PreSkip       int
	InputRate     int
	OutputGain    int16 // Q7.8 dB
	MappingFamily int
}

// ParseHead decodes an OpusHead packet.
func ParseHead(b []byte) (Head, error) {
	if len(b) < 19 || string(b[:8]) != "OpusHead" {
		return Head{}, errors.New("not an OpusHead packet")
	}
	if b[8]>>4 != 0 {
		return Head{}, fmt.Errorf("unsupported OpusHead version %d", b[8])
	}
	h := Head{
		Channels:      int(b[9]),
		PreSkip:       int(binary.LittleEndian.Uint16(b[10:])),
		InputRate:     int(binary.LittleEndian.Uint32(b[12:])),
		OutputGain:    int16(binary.LittleEndian.Uint16(b[16:])),
		MappingFamily: int(b[18]),
	}
	if h.Channels == 0 {
		return Head{}, errors.New("OpusHead declares zero channels")
	}
	return h, nil
}

type decoder struct {
	params media.CodecParameters
	dec    *libopus.Decoder
	pcm    []float32
	skip   int
	gain   float32
	q      codec.Queue
}

func newDecoder(params media.CodecParameters) (codec.Decoder, error) {
	if len(params.Headers) == 0 {
		return nil, codec.InitError("opus", errors.New("missing OpusHead"))
	}
	head, err := ParseHead(params.Headers[0])
	if err != nil {
		return nil, codec.InitError("opus", err)
	}
	if head.MappingFamily != 0 || head.Channels > 2 {
		return nil, codec.InitError("opus", fmt.Errorf("channel mapping family %d with %d channels", head.MappingFamily, head.Channels))
	}

	dec, err := libopus.NewDecoder(SampleRate, head.Channels)
	if err != nil {
		return nil, codec.InitError("opus", err)
	}

	params.SampleRate = SampleRate
	params.Channels = head.Channels
	params.SampleFormat = media.SampleFormatF32
	params.BitDepth = 0
	params.Delay = head.PreSkip

	d := &decoder{
		params: params,
		dec:    dec,
		pcm:    make([]float32, maxFrameSamples*head.Channels),
		skip:   head.PreSkip,
		gain:   1,
	}
	if head.OutputGain != 0 {
		d.gain = float32(math.Pow(10, float64(head.OutputGain)/(20*256)))
	}
	return d, nil
}

func (d *decoder) Params() media.CodecParameters { return d.params }

func (d *decoder) SendPacket(pkt *media.Packet) error {
	if d.q.Flushed() {
		return codec.ErrFlushed
	}
	if pkt == nil {
		d.q.Flush()
		return nil
	}

	n, err := d.dec.DecodeFloat32(pkt.Data, d.pcm)
	if err != nil {
		return codec.DecodeError("opus", err)
	}

	ch := d.params.Channels
	samples := d.pcm[:n*ch]
	if d.skip > 0 {
		drop := min(d.skip, n)
		d.skip -= drop
		samples = samples[drop*ch:]
	}
	if len(samples) == 0 {
		return nil
	}

	f := media.NewFrame(media.SampleFormatF32, SampleRate, ch, len(samples)/ch)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(f.Data[0][i*4:], math.Float32bits(s*d.gain))
	}
	d.q.Push(f)
	return nil
}

func (d *decoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.Pop()
}

func (d *decoder) Close() error {
	d.q.Reset()
	d.dec = nil
	return nil
}
