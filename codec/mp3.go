package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/linuxmatters/audiopump/media"
)

// go-mp3 always produces 16-bit little-endian stereo; mono streams come out
// with the channel duplicated.
const (
	mp3Channels       = 2
	mp3BytesPerSample = 4
	mp3MaxFrameBytes  = 1152 * mp3BytesPerSample
)

// mp3Feed hands packet bytes to go-mp3. It reports io.EOF when empty and
// accepts more data afterwards.
type mp3Feed struct {
	buf bytes.Buffer
}

func (f *mp3Feed) Read(p []byte) (int, error) {
	if f.buf.Len() == 0 {
		return 0, io.EOF
	}
	return f.buf.Read(p)
}

// mp3Decoder decodes one Layer III frame per packet. The go-mp3 decoder is
// created on the first packet and kept across packets so the bit reservoir
// survives frame boundaries.
type mp3Decoder struct {
	params media.CodecParameters
	feed   *mp3Feed
	dec    *mp3.Decoder
	pcm    []byte
	q      Queue
}

func newMP3Decoder(params media.CodecParameters) (Decoder, error) {
	if params.SampleRate <= 0 {
		return nil, InitError("mp3", fmt.Errorf("invalid sample rate %d", params.SampleRate))
	}
	if params.Channels != 1 {
		params.Channels = mp3Channels
	}
	params.SampleFormat = media.SampleFormatS16
	params.BitDepth = 0
	return &mp3Decoder{
		params: params,
		feed:   &mp3Feed{},
		pcm:    make([]byte, mp3MaxFrameBytes),
	}, nil
}

func (d *mp3Decoder) Params() media.CodecParameters { return d.params }

func (d *mp3Decoder) SendPacket(pkt *media.Packet) error {
	if d.q.Flushed() {
		return ErrFlushed
	}
	if pkt == nil {
		d.q.Flush()
		return nil
	}

	d.feed.buf.Write(pkt.Data)
	var n int
	err := Guard("mp3", func() error {
		if d.dec == nil {
			// NewDecoder consumes the first frame and holds its PCM.
			dec, err := mp3.NewDecoder(d.feed)
			if err != nil {
				return err
			}
			d.dec = dec
		}
		var err error
		n, err = d.dec.Read(d.pcm)
		return err
	})
	if err != nil {
		// A failed frame leaves go-mp3 without a previous frame; start over
		// from the next packet.
		d.feed.buf.Reset()
		if errors.Is(err, media.ErrDecode) {
			d.dec = nil
			return err
		}
		return DecodeError("mp3", err)
	}
	if n == 0 || n%mp3BytesPerSample != 0 {
		return DecodeError("mp3", fmt.Errorf("short frame of %d bytes", n))
	}

	samples := n / mp3BytesPerSample
	f := media.NewFrame(media.SampleFormatS16, d.dec.SampleRate(), d.params.Channels, samples)
	if d.params.Channels == 1 {
		for i := range samples {
			copy(f.Data[0][i*2:i*2+2], d.pcm[i*mp3BytesPerSample:])
		}
	} else {
		copy(f.Data[0], d.pcm[:n])
	}
	d.q.Push(f)
	return nil
}

func (d *mp3Decoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.Pop()
}

func (d *mp3Decoder) Close() error {
	d.q.Reset()
	d.dec = nil
	d.feed.buf.Reset()
	return nil
}
