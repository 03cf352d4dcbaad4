package media

import "math"

// MediaType classifies an elementary stream.
type MediaType int

const (
	Unknown MediaType = iota
	Audio
	Video
	Subtitle
	Data
)

func (t MediaType) String() string {
	switch t {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case Subtitle:
		return "subtitle"
	case Data:
		return "data"
	}
	return "unknown"
}

// CodecParameters describe how a stream is coded. Demuxers fill in what the
// container knows; decoders resolve the output fields.
type CodecParameters struct {
	Codec      string // short codec name, e.g. "flac", "pcm_s16le"
	Type       MediaType
	SampleRate int
	Channels   int

	// BitDepth is the number of meaningful bits per sample, 0 for lossy codecs.
	BitDepth int
	// BlockAlign is the size in bytes of one interleaved sample frame for
	// constant-size codecs.
	BlockAlign int
	BitRate    int64

	// Headers carries codec setup packets (Vorbis identification, comment
	// and setup headers, OpusHead, FLAC STREAMINFO).
	Headers [][]byte

	// Delay is the number of leading samples to discard (Opus pre-skip).
	Delay int

	// SampleFormat is the decoded sample format, set by the decoder.
	SampleFormat SampleFormat
}

// NoPTS marks an unknown timestamp.
const NoPTS int64 = math.MinInt64

// Packet is one compressed unit of a single stream.
type Packet struct {
	StreamIndex int
	Data        []byte
	PTS         int64 // in stream time base, NoPTS if unknown
	Duration    int64 // in stream time base, 0 if unknown
}
