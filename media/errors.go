package media

import (
	"errors"
	"strings"
)

// Error kinds. Every error returned by the session, demux and codec packages
// matches exactly one of these with errors.Is.
var (
	ErrOpen            = errors.New("open failed")
	ErrStreamSelection = errors.New("stream selection failed")
	ErrDecoderInit     = errors.New("decoder init failed")
	ErrDecode          = errors.New("decode failed")
	ErrIO              = errors.New("i/o failed")
)

// Reasons wrapped by the kinds above.
var (
	ErrNotFound          = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("unsupported container format")
	ErrCorrupt           = errors.New("corrupt container")
	ErrNoAudioStream     = errors.New("no audio stream")
	ErrUnsupportedCodec  = errors.New("unsupported codec")
	ErrDecoderInitFailed = errors.New("decoder rejected parameters")
	ErrInvalidData       = errors.New("invalid data")
)

// Error is the concrete error type of the decoding pipeline.
type Error struct {
	Kind error  // one of ErrOpen, ErrStreamSelection, ErrDecoderInit, ErrDecode, ErrIO
	Op   string // operation or component, e.g. "open", "flac"
	Path string // input path when known
	Err  error  // underlying cause
}

// NewError builds an *Error of the given kind.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WithPath returns a copy of e annotated with path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
