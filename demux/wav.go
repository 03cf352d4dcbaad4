package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/linuxmatters/audiopump/codec"
	"github.com/linuxmatters/audiopump/media"
)

// WAVE format tags.
const (
	wavFormatPCM        = 0x0001
	wavFormatFloat      = 0x0003
	wavFormatALaw       = 0x0006
	wavFormatMuLaw      = 0x0007
	wavFormatExtensible = 0xFFFE
)

// wavExtensibleSize is the fmt chunk size of WAVE_FORMAT_EXTENSIBLE.
const wavExtensibleSize = 40

// wavPacketFrames is the number of sample frames per packet.
const wavPacketFrames = 4096

// wavUnknownSize is the data chunk size written by streaming encoders that
// never patch the header.
const wavUnknownSize = 0xFFFFFFFF

func probeWAV(b []byte) int {
	if len(b) >= 12 && hasPrefix(b, "RIFF") && string(b[8:12]) == "WAVE" {
		return 100
	}
	return 0
}

type wavDemuxer struct {
	r       io.Reader
	stream  *Stream
	tags    media.Tags
	block   int
	left    int64 // data bytes the header promises
	avail   int64 // data bytes actually present in the file
	samples int64
}

func openWAV(rs io.ReadSeeker, logger *log.Logger) (Demuxer, error) {
	fileSize, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	p := riff.New(rs)
	if err := p.ParseHeaders(); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if p.Format != riff.WavFormatID {
		return nil, fmt.Errorf("RIFF form %q is not WAVE", p.Format[:])
	}

	var (
		info      wav.Decoder // collects LIST/INFO entries
		haveFmt   bool
		format    uint16
		dataStart int64 = -1
		dataSize  int64
	)
	pos := int64(12)
	for pos+8 <= fileSize {
		id, size, err := p.IDnSize()
		if err != nil {
			break
		}
		body := pos + 8
		ch := &riff.Chunk{ID: id, Size: int(size), R: rs}

		switch id {
		case riff.FmtID:
			if err := ch.DecodeWavHeader(p); err != nil {
				return nil, fmt.Errorf("failed to decode fmt chunk: %w", err)
			}
			haveFmt = true
			format = p.WavAudioFormat
			if format == wavFormatExtensible {
				if format, err = wavSubFormat(rs, body, int64(size)); err != nil {
					return nil, err
				}
			}
		case wav.CIDList:
			if err := wav.DecodeListChunk(&info, ch); err != nil {
				logger.Printf("wav: skipping LIST chunk: %v", err)
			}
		case riff.DataFormatID:
			dataStart, dataSize = body, int64(size)
			if size == wavUnknownSize || size == 0 {
				dataSize = fileSize - body
			}
		}

		pos = body + int64(size) + int64(size&1)
		if _, err := rs.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
	}

	if !haveFmt {
		return nil, errors.New("missing fmt chunk")
	}
	if dataStart < 0 {
		return nil, wav.ErrPCMChunkNotFound
	}
	if p.NumChannels == 0 || p.SampleRate == 0 {
		return nil, fmt.Errorf("invalid layout %d Hz x %d channels", p.SampleRate, p.NumChannels)
	}

	params, err := wavCodecParams(p, format)
	if err != nil {
		return nil, err
	}

	avail := min(dataSize, fileSize-dataStart)
	if avail < dataSize {
		logger.Printf("wav: data chunk declares %d bytes, file holds %d", dataSize, avail)
	}
	if _, err := rs.Seek(dataStart, io.SeekStart); err != nil {
		return nil, err
	}

	d := &wavDemuxer{
		r:     io.LimitReader(rs, avail),
		tags:  riffInfoTags(info.Metadata),
		block: params.BlockAlign,
		left:  dataSize,
		avail: avail,
	}
	d.stream = &Stream{
		Index:    0,
		Type:     media.Audio,
		Codec:    params,
		TimeBase: media.NewRational(1, int64(params.SampleRate)),
		Duration: dataSize / int64(params.BlockAlign),
	}
	return d, nil
}

// wavSubFormat reads the format tag embedded in the first two bytes of the
// WAVE_FORMAT_EXTENSIBLE sub-format GUID, which follows cbSize, the valid
// bits and the channel mask.
func wavSubFormat(rs io.ReadSeeker, body, size int64) (uint16, error) {
	if size < wavExtensibleSize {
		return 0, fmt.Errorf("extensible fmt chunk of %d bytes, want %d", size, wavExtensibleSize)
	}
	if _, err := rs.Seek(body+24, io.SeekStart); err != nil {
		return 0, err
	}
	var tag [2]byte
	if _, err := io.ReadFull(rs, tag[:]); err != nil {
		return 0, fmt.Errorf("failed to read extensible sub-format: %w", err)
	}
	return binary.LittleEndian.Uint16(tag[:]), nil
}

func wavCodecParams(p *riff.Parser, format uint16) (media.CodecParameters, error) {
	params := media.CodecParameters{
		Type:       media.Audio,
		SampleRate: int(p.SampleRate),
		Channels:   int(p.NumChannels),
		BitDepth:   int(p.BitsPerSample),
		BlockAlign: int(p.BlockAlign),
		BitRate:    int64(p.AvgBytesPerSec) * 8,
	}

	var err error
	switch format {
	case wavFormatPCM:
		params.Codec, err = codec.PCMCodecName(params.BitDepth, false)
	case wavFormatFloat:
		params.Codec, err = codec.PCMCodecName(params.BitDepth, true)
	case wavFormatALaw:
		params.Codec, params.BitDepth = "pcm_alaw", 0
	case wavFormatMuLaw:
		params.Codec, params.BitDepth = "pcm_mulaw", 0
	default:
		// Compressed WAVE payloads are exposed under their format tag so the
		// codec lookup reports them as unsupported.
		params.Codec = fmt.Sprintf("wav_%04x", format)
	}
	if err != nil {
		params.Codec = fmt.Sprintf("pcm_%dbit", params.BitDepth)
	}

	if params.BlockAlign == 0 {
		params.BlockAlign = (params.BitDepth + 7) / 8 * params.Channels
	}
	if params.BlockAlign <= 0 {
		return params, fmt.Errorf("invalid block align for %d-bit samples", params.BitDepth)
	}
	return params, nil
}

func (d *wavDemuxer) Streams() []*Stream { return []*Stream{d.stream} }

func (d *wavDemuxer) Metadata() media.Tags { return d.tags }

func (d *wavDemuxer) ReadPacket() (*media.Packet, error) {
	if d.avail < int64(d.block) {
		if d.left > d.avail {
			d.left = 0
			return nil, io.ErrUnexpectedEOF
		}
		return nil, io.EOF
	}

	n := min(int64(wavPacketFrames*d.block), d.avail/int64(d.block)*int64(d.block))
	data, err := readUpTo(d.r, int(n))
	if len(data) >= d.block {
		whole := len(data) / d.block * d.block
		d.avail -= int64(len(data))
		d.left -= int64(len(data))
		if err != nil {
			// The file ended early; what is left cannot be read.
			d.avail = 0
		}
		pkt := &media.Packet{
			Data:     data[:whole],
			PTS:      d.samples,
			Duration: int64(whole / d.block),
		}
		d.samples += pkt.Duration
		return pkt, nil
	}
	if err == nil || err == io.EOF {
		d.avail = 0
		return nil, io.ErrUnexpectedEOF
	}
	return nil, err
}

func (d *wavDemuxer) Close() error {
	d.r = nil
	return nil
}
