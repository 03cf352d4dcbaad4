package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/linuxmatters/audiopump/media"
)

// pcmLayout describes how a raw PCM codec is stored and what it decodes to.
type pcmLayout struct {
	codedBytes int
	bitDepth   int
	out        media.SampleFormat
}

var pcmLayouts = map[string]pcmLayout{
	"pcm_u8":    {1, 8, media.SampleFormatU8},
	"pcm_s16le": {2, 16, media.SampleFormatS16},
	"pcm_s24le": {3, 24, media.SampleFormatS32},
	"pcm_s32le": {4, 32, media.SampleFormatS32},
	"pcm_f32le": {4, 32, media.SampleFormatF32},
	"pcm_f64le": {8, 64, media.SampleFormatF64},
	"pcm_alaw":  {1, 16, media.SampleFormatS16},
	"pcm_mulaw": {1, 16, media.SampleFormatS16},
}

func pcmCodecs() []string {
	names := make([]string, 0, len(pcmLayouts))
	for name := range pcmLayouts {
		names = append(names, name)
	}
	return names
}

// PCMCodecName maps a bit depth and sign/float flavour to a codec name.
func PCMCodecName(bitDepth int, float bool) (string, error) {
	if float {
		switch bitDepth {
		case 32:
			return "pcm_f32le", nil
		case 64:
			return "pcm_f64le", nil
		}
		return "", fmt.Errorf("no float PCM codec for %d bits", bitDepth)
	}
	switch bitDepth {
	case 8:
		return "pcm_u8", nil
	case 16:
		return "pcm_s16le", nil
	case 24:
		return "pcm_s24le", nil
	case 32:
		return "pcm_s32le", nil
	}
	return "", fmt.Errorf("no integer PCM codec for %d bits", bitDepth)
}

type pcmDecoder struct {
	params     media.CodecParameters
	layout     pcmLayout
	blockAlign int
	q          Queue
}

func newPCMDecoder(params media.CodecParameters) (Decoder, error) {
	layout, ok := pcmLayouts[params.Codec]
	if !ok {
		return nil, media.NewError(media.ErrDecoderInit, "codec "+params.Codec, media.ErrUnsupportedCodec)
	}
	if params.SampleRate <= 0 || params.Channels <= 0 {
		return nil, InitError(params.Codec, fmt.Errorf("invalid layout %d Hz x %d channels", params.SampleRate, params.Channels))
	}
	blockAlign := layout.codedBytes * params.Channels
	if params.BlockAlign != 0 && params.BlockAlign != blockAlign {
		return nil, InitError(params.Codec, fmt.Errorf("block align %d does not match %d channels", params.BlockAlign, params.Channels))
	}

	params.BlockAlign = blockAlign
	params.SampleFormat = layout.out
	if params.BitDepth == 0 {
		params.BitDepth = layout.bitDepth
	}
	return &pcmDecoder{params: params, layout: layout, blockAlign: blockAlign}, nil
}

func (d *pcmDecoder) Params() media.CodecParameters { return d.params }

func (d *pcmDecoder) SendPacket(pkt *media.Packet) error {
	if d.q.Flushed() {
		return ErrFlushed
	}
	if pkt == nil {
		d.q.Flush()
		return nil
	}

	n := len(pkt.Data) / d.blockAlign
	if n == 0 {
		return DecodeError(d.params.Codec, fmt.Errorf("packet of %d bytes is shorter than one sample frame", len(pkt.Data)))
	}

	in := pkt.Data[:n*d.blockAlign]
	f := media.NewFrame(d.layout.out, d.params.SampleRate, d.params.Channels, n)
	out := f.Data[0]

	switch d.params.Codec {
	case "pcm_u8", "pcm_s16le", "pcm_s32le", "pcm_f32le", "pcm_f64le":
		copy(out, in)
	case "pcm_s24le":
		for i := 0; i < n*d.params.Channels; i++ {
			v := audio.Int24LETo32(in[i*3 : i*3+3])
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v)<<8)
		}
	case "pcm_alaw":
		for i, b := range in {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(alawTable[b]))
		}
	case "pcm_mulaw":
		for i, b := range in {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(mulawTable[b]))
		}
	}

	d.q.Push(f)
	return nil
}

func (d *pcmDecoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.Pop()
}

func (d *pcmDecoder) Close() error {
	d.q.Reset()
	return nil
}
