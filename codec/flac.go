package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/linuxmatters/audiopump/media"
	"github.com/mewkiz/flac/frame"
)

type flacDecoder struct {
	params media.CodecParameters
	q      Queue
}

func newFLACDecoder(params media.CodecParameters) (Decoder, error) {
	if params.SampleRate <= 0 || params.Channels <= 0 || params.Channels > 8 {
		return nil, InitError("flac", fmt.Errorf("invalid layout %d Hz x %d channels", params.SampleRate, params.Channels))
	}
	if params.BitDepth < 4 || params.BitDepth > 32 {
		return nil, InitError("flac", fmt.Errorf("unsupported bit depth %d", params.BitDepth))
	}
	params.SampleFormat = flacOutputFormat(params.BitDepth)
	return &flacDecoder{params: params}, nil
}

func flacOutputFormat(bitDepth int) media.SampleFormat {
	if bitDepth <= 16 {
		return media.SampleFormatS16P
	}
	return media.SampleFormatS32P
}

func (d *flacDecoder) Params() media.CodecParameters { return d.params }

func (d *flacDecoder) SendPacket(pkt *media.Packet) error {
	if d.q.Flushed() {
		return ErrFlushed
	}
	if pkt == nil {
		d.q.Flush()
		return nil
	}

	var fr *frame.Frame
	err := Guard("flac", func() error {
		var err error
		fr, err = frame.Parse(bytes.NewReader(pkt.Data))
		return err
	})
	if err != nil {
		if media.KindOf(err) == nil {
			err = DecodeError("flac", err)
		}
		return err
	}

	bps := int(fr.BitsPerSample)
	if bps == 0 {
		bps = d.params.BitDepth
	}
	rate := int(fr.SampleRate)
	if rate == 0 {
		rate = d.params.SampleRate
	}
	if len(fr.Subframes) == 0 || len(fr.Subframes[0].Samples) == 0 {
		return DecodeError("flac", fmt.Errorf("frame %d carries no samples", fr.Num))
	}

	format := flacOutputFormat(bps)
	n := len(fr.Subframes[0].Samples)
	f := media.NewFrame(format, rate, len(fr.Subframes), n)
	for ch, sub := range fr.Subframes {
		plane := f.Data[ch]
		if len(sub.Samples) < n {
			f.Release()
			return DecodeError("flac", fmt.Errorf("subframe %d has %d of %d samples", ch, len(sub.Samples), n))
		}
		if format == media.SampleFormatS16P {
			shift := 16 - bps
			for i, s := range sub.Samples[:n] {
				binary.LittleEndian.PutUint16(plane[i*2:], uint16(int16(s<<shift)))
			}
		} else {
			shift := 32 - bps
			for i, s := range sub.Samples[:n] {
				binary.LittleEndian.PutUint32(plane[i*4:], uint32(s<<shift))
			}
		}
	}
	d.q.Push(f)
	return nil
}

func (d *flacDecoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.Pop()
}

func (d *flacDecoder) Close() error {
	d.q.Reset()
	return nil
}
