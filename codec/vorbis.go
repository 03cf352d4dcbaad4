package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/jfreymuth/vorbis"
	"github.com/linuxmatters/audiopump/media"
)

// vorbisDecoder wraps jfreymuth/vorbis. The first audio packet only primes
// the overlap window, so output trails input by one packet.
type vorbisDecoder struct {
	params media.CodecParameters
	dec    vorbis.Decoder
	buf    []float32
	q      Queue
}

func newVorbisDecoder(params media.CodecParameters) (Decoder, error) {
	if len(params.Headers) != 3 {
		return nil, InitError("vorbis", fmt.Errorf("need 3 header packets, got %d", len(params.Headers)))
	}
	d := &vorbisDecoder{}
	for i, h := range params.Headers {
		if err := d.dec.ReadHeader(h); err != nil {
			return nil, InitError("vorbis", fmt.Errorf("header %d: %w", i, err))
		}
	}
	if !d.dec.HeadersRead() {
		return nil, InitError("vorbis", errors.New("setup header missing"))
	}
	if d.dec.SampleRate() <= 0 || d.dec.Channels() <= 0 {
		return nil, InitError("vorbis", fmt.Errorf("invalid layout %d Hz x %d channels", d.dec.SampleRate(), d.dec.Channels()))
	}

	params.SampleRate = d.dec.SampleRate()
	params.Channels = d.dec.Channels()
	params.SampleFormat = media.SampleFormatF32
	params.BitDepth = 0
	if params.BitRate == 0 {
		params.BitRate = int64(d.dec.Bitrate.Nominal)
	}
	d.params = params
	d.buf = make([]float32, d.dec.BufferSize())
	return d, nil
}

func (d *vorbisDecoder) Params() media.CodecParameters { return d.params }

func (d *vorbisDecoder) SendPacket(pkt *media.Packet) error {
	if d.q.Flushed() {
		return ErrFlushed
	}
	if pkt == nil {
		d.q.Flush()
		return nil
	}
	if vorbis.IsHeader(pkt.Data) {
		return nil
	}

	var out []float32
	err := Guard("vorbis", func() error {
		var err error
		out, err = d.dec.DecodeInto(pkt.Data, d.buf)
		return err
	})
	if err != nil {
		// The overlap no longer lines up with the next packet.
		d.dec.Clear()
		if media.KindOf(err) == nil {
			err = DecodeError("vorbis", err)
		}
		return err
	}
	if len(out) == 0 {
		return nil
	}

	ch := d.params.Channels
	f := media.NewFrame(media.SampleFormatF32, d.params.SampleRate, ch, len(out)/ch)
	for i, s := range out[:f.NumSamples*ch] {
		binary.LittleEndian.PutUint32(f.Data[0][i*4:], math.Float32bits(s))
	}
	d.q.Push(f)
	return nil
}

func (d *vorbisDecoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.Pop()
}

func (d *vorbisDecoder) Close() error {
	d.q.Reset()
	return nil
}
