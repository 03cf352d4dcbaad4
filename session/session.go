// Package session decodes the first audio stream of a media file into
// frames.
//
// A Session ties a container reader to a decoder and pulls packets only when
// the decoder has nothing buffered. At the end of the container the decoder
// is flushed, so frames it held back are still delivered.
//
//	s, err := session.Open("track.flac")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	for {
//		frame, err := s.NextFrame()
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		consume(frame)
//		frame.Release()
//	}
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/linuxmatters/audiopump/codec"
	"github.com/linuxmatters/audiopump/demux"
	"github.com/linuxmatters/audiopump/media"
)

// StreamInfo describes the decoded stream. It is captured at Open and never
// changes.
type StreamInfo struct {
	SampleRate   int
	BitDepth     int // 0 for lossy codecs
	SampleFormat media.SampleFormat
	Channels     int
	CodecName    string
	FormatName   string
	// Duration in seconds; the zero value means unknown.
	Duration    media.Rational
	Tags        media.Tags
	StreamIndex int
}

// Stats counts what the pump has done so far.
type Stats struct {
	PacketsRead    int64
	PacketsSkipped int64 // packets of other streams
	DecodeErrors   int64
	Frames         int64
	Samples        int64
}

type state int

const (
	running state = iota
	draining
	finished
)

// Session decodes one audio stream of one file. It is not safe for
// concurrent use.
type Session struct {
	rd     *demux.Reader
	dec    codec.Decoder
	info   StreamInfo
	log    *log.Logger
	path   string
	maxErr int

	state   state
	err     error // sticky fatal error
	pending *media.Packet
	next    int64 // PTS of the next frame, in samples
	run     int   // consecutive decode errors
	stats   Stats
	closed  bool
}

// Init registers the built-in container formats and decoders. Open calls it;
// calling it earlier moves the one-time cost out of the first Open.
func Init() {
	codec.Init()
	demux.Init()
}

// Open probes path, selects its first audio stream and opens a decoder for
// it. Errors match media.ErrOpen, media.ErrStreamSelection or
// media.ErrDecoderInit.
func Open(path string, opts ...Option) (*Session, error) {
	Init()
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rd, err := demux.OpenFile(path, demux.Options{Logger: o.logger, ProbeSize: o.probeSize})
	if err != nil {
		return nil, err
	}
	s, err := newSession(rd, path, o)
	if err != nil {
		rd.Close()
		return nil, withPath(err, path)
	}
	return s, nil
}

func newSession(rd *demux.Reader, path string, o options) (*Session, error) {
	streams := rd.Streams()
	idx, err := demux.SelectAudioStream(streams)
	if err != nil {
		return nil, err
	}
	var st *demux.Stream
	for _, cand := range streams {
		if cand.Index == idx {
			st = cand
			break
		}
	}

	dec, err := codec.Open(st.Codec)
	if err != nil {
		return nil, err
	}
	params := dec.Params()
	if params.SampleRate <= 0 || params.Channels <= 0 || !params.SampleFormat.Valid() {
		dec.Close()
		return nil, codec.InitError(st.Codec.Codec,
			fmt.Errorf("decoder reports %d Hz x %d channels of %v", params.SampleRate, params.Channels, params.SampleFormat))
	}

	tags := rd.Metadata().Clone()
	tags.Merge(st.Tags)

	var duration media.Rational
	if st.Duration > 0 {
		duration = st.TimeBase.MulInt(st.Duration)
	}

	codecName := params.Codec
	if codecName == "" {
		codecName = st.Codec.Codec
	}

	s := &Session{
		rd:     rd,
		dec:    dec,
		log:    o.logger,
		path:   path,
		maxErr: o.maxDecodeErrors,
		info: StreamInfo{
			SampleRate:   params.SampleRate,
			BitDepth:     params.BitDepth,
			SampleFormat: params.SampleFormat,
			Channels:     params.Channels,
			CodecName:    codecName,
			FormatName:   rd.Format(),
			Duration:     duration,
			Tags:         tags,
			StreamIndex:  idx,
		},
	}
	s.log.Printf("opened %s: %s/%s stream %d, %d Hz, %d channels, %v",
		path, s.info.FormatName, s.info.CodecName, idx, s.info.SampleRate, s.info.Channels, s.info.SampleFormat)
	return s, nil
}

// Info returns the stream description captured at Open. It is valid after
// Close.
func (s *Session) Info() StreamInfo {
	info := s.info
	info.Tags = s.info.Tags.Clone()
	return info
}

// Stats returns the pump counters.
func (s *Session) Stats() Stats { return s.stats }

// NextFrame returns the next decoded frame, io.EOF once the stream is
// exhausted, or a fatal error matching media.ErrIO. Fatal errors repeat on
// every later call. Packets that fail to decode are logged, counted and
// skipped.
//
// The caller owns the returned frame.
func (s *Session) NextFrame() (*media.Frame, error) {
	if s.closed {
		return nil, media.NewError(media.ErrIO, "next frame", os.ErrClosed).WithPath(s.path)
	}
	for {
		switch s.state {
		case finished:
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF

		case running:
			frame, err := s.dec.ReceiveFrame()
			switch {
			case err == nil:
				if f := s.accept(frame); f != nil {
					return f, nil
				}
			case errors.Is(err, codec.ErrAgain):
				if err := s.feed(); err != nil {
					return nil, s.fail(err)
				}
			case err == io.EOF:
				// The decoder ended without a flush.
				s.state = finished
			default:
				if err := s.decodeError(err); err != nil {
					return nil, err
				}
			}

		case draining:
			frame, err := s.dec.ReceiveFrame()
			switch {
			case err == nil:
				if f := s.accept(frame); f != nil {
					return f, nil
				}
			case err == io.EOF:
				s.log.Printf("end of stream after %d frames, %d samples", s.stats.Frames, s.stats.Samples)
				s.state = finished
			case errors.Is(err, codec.ErrAgain):
				s.log.Printf("decoder asked for input after flush, stopping")
				s.state = finished
			default:
				if err := s.decodeError(err); err != nil {
					return nil, err
				}
			}
		}
	}
}

// feed sends the next packet of the selected stream to the decoder, or the
// flush marker at the end of the container.
func (s *Session) feed() error {
	pkt := s.pending
	s.pending = nil
	for pkt == nil {
		p, err := s.rd.ReadPacket()
		if err == io.EOF {
			s.state = draining
			if err := s.dec.SendPacket(nil); err != nil && !errors.Is(err, codec.ErrFlushed) {
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		s.stats.PacketsRead++
		if p.StreamIndex != s.info.StreamIndex {
			s.stats.PacketsSkipped++
			continue
		}
		pkt = p
	}

	err := s.dec.SendPacket(pkt)
	switch {
	case err == nil:
	case errors.Is(err, codec.ErrAgain):
		// Output must be drained first; retry this packet on the next feed.
		s.pending = pkt
	case errors.Is(err, media.ErrDecode):
		return s.decodeError(err)
	default:
		return err
	}
	return nil
}

// accept checks a decoded frame against the stream description and stamps
// its position. Mismatched frames are dropped as decode errors.
func (s *Session) accept(f *media.Frame) *media.Frame {
	if f.SampleRate != s.info.SampleRate || f.Channels != s.info.Channels || f.Format != s.info.SampleFormat {
		s.stats.DecodeErrors++
		s.log.Printf("dropping frame of %d Hz x %d channels %v, stream is %d Hz x %d channels %v",
			f.SampleRate, f.Channels, f.Format, s.info.SampleRate, s.info.Channels, s.info.SampleFormat)
		f.Release()
		return nil
	}
	if f.NumSamples == 0 {
		f.Release()
		return nil
	}
	s.run = 0
	f.PTS = s.next
	s.next += int64(f.NumSamples)
	s.stats.Frames++
	s.stats.Samples += int64(f.NumSamples)
	return f
}

// decodeError records a recoverable error. Non-decode errors, and runs of
// decode errors beyond the configured limit, become fatal.
func (s *Session) decodeError(err error) error {
	if !errors.Is(err, media.ErrDecode) {
		return s.fail(err)
	}
	s.stats.DecodeErrors++
	s.run++
	s.log.Printf("skipping packet: %v", err)
	if s.maxErr > 0 && s.run > s.maxErr {
		return s.fail(fmt.Errorf("giving up after %d consecutive decode errors: %w", s.run, err))
	}
	return nil
}

// fail moves the pump to finished with a sticky error matching media.ErrIO.
func (s *Session) fail(err error) error {
	if s.err != nil {
		return s.err
	}
	if !errors.Is(err, media.ErrIO) {
		err = media.NewError(media.ErrIO, "decode", err).WithPath(s.path)
	}
	s.log.Printf("fatal: %v", err)
	s.state, s.err = finished, err
	return err
}

// Close releases the decoder, then the container. Later calls do nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	err := s.dec.Close()
	if rerr := s.rd.Close(); err == nil {
		err = rerr
	}
	return err
}

func withPath(err error, path string) error {
	var me *media.Error
	if errors.As(err, &me) && me.Path == "" {
		return me.WithPath(path)
	}
	return err
}
