// Package codec turns compressed packets into decoded audio frames through a
// two-call protocol: SendPacket feeds input, ReceiveFrame drains output.
package codec

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/linuxmatters/audiopump/media"
)

var (
	// ErrAgain means the decoder needs another SendPacket before it can
	// produce a frame.
	ErrAgain = errors.New("codec: more input needed")

	// ErrFlushed is returned by SendPacket after the flush marker was sent.
	ErrFlushed = errors.New("codec: decoder already flushed")
)

// Decoder is a stateful audio decoder.
//
// SendPacket(nil) is the flush marker: the decoder returns its buffered
// frames from ReceiveFrame and then io.EOF.
type Decoder interface {
	SendPacket(pkt *media.Packet) error
	ReceiveFrame() (*media.Frame, error)
	// Params reports the resolved output parameters.
	Params() media.CodecParameters
	Close() error
}

// Factory opens a decoder for the given stream parameters.
type Factory func(params media.CodecParameters) (Decoder, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
	initOnce  sync.Once
)

// Register makes a decoder available under a codec name. Registering the
// same name twice replaces the earlier factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Lookup returns the factory registered for name.
func Lookup(name string) (Factory, bool) {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names lists the registered codec names in sorted order.
func Names() []string {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Init registers the built-in decoders. It runs once per process; later
// calls return immediately.
func Init() {
	initOnce.Do(func() {
		for _, name := range pcmCodecs() {
			Register(name, newPCMDecoder)
		}
		Register("flac", newFLACDecoder)
		Register("mp3", newMP3Decoder)
		Register("vorbis", newVorbisDecoder)
	})
}

// Open finds the decoder for params.Codec and opens it.
func Open(params media.CodecParameters) (Decoder, error) {
	f, ok := Lookup(params.Codec)
	if !ok {
		return nil, media.NewError(media.ErrDecoderInit, "codec "+params.Codec, media.ErrUnsupportedCodec)
	}
	if params.Type != media.Audio && params.Type != media.Unknown {
		return nil, InitError(params.Codec, fmt.Errorf("%s stream", params.Type))
	}
	dec, err := f(params)
	if err != nil {
		if media.KindOf(err) == nil {
			err = InitError(params.Codec, err)
		}
		return nil, err
	}
	return dec, nil
}

// InitError reports a decoder that rejected its parameters.
func InitError(codec string, err error) error {
	return media.NewError(media.ErrDecoderInit, "codec "+codec, fmt.Errorf("%w: %w", media.ErrDecoderInitFailed, err))
}

// DecodeError reports a packet that could not be decoded.
func DecodeError(codec string, err error) error {
	return media.NewError(media.ErrDecode, "codec "+codec, fmt.Errorf("%w: %w", media.ErrInvalidData, err))
}

// Guard runs fn and converts a panic inside third-party decoding code into
// a decode error.
func Guard(codec string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = DecodeError(codec, fmt.Errorf("decoder panic: %v", r))
		}
	}()
	return fn()
}

// Queue is the output side shared by decoders that decode synchronously in
// SendPacket.
type Queue struct {
	frames  []*media.Frame
	flushed bool
}

// Push appends a decoded frame.
func (q *Queue) Push(f *media.Frame) { q.frames = append(q.frames, f) }

// Flush marks the end of input.
func (q *Queue) Flush() { q.flushed = true }

// Flushed reports whether Flush was called.
func (q *Queue) Flushed() bool { return q.flushed }

// Pop returns the oldest frame, ErrAgain, or io.EOF after Flush.
func (q *Queue) Pop() (*media.Frame, error) {
	if len(q.frames) > 0 {
		f := q.frames[0]
		q.frames[0] = nil
		q.frames = q.frames[1:]
		return f, nil
	}
	if q.flushed {
		return nil, io.EOF
	}
	return nil, ErrAgain
}

// Reset releases any queued frames.
func (q *Queue) Reset() {
	for _, f := range q.frames {
		f.Release()
	}
	q.frames = nil
}
