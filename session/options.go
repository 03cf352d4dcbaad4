package session

import (
	"io"
	"log"
)

type options struct {
	logger          *log.Logger
	probeSize       int
	maxDecodeErrors int
}

func defaultOptions() options {
	return options{logger: log.New(io.Discard, "", 0)}
}

// Option configures Open.
type Option func(*options)

// WithLogger sends diagnostics (skipped packets, resyncs, truncation) to l.
// Sessions are silent by default.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProbeSize sets how many leading bytes are used to detect the format.
func WithProbeSize(n int) Option {
	return func(o *options) { o.probeSize = n }
}

// WithMaxDecodeErrors makes more than n consecutive decode errors fatal.
// Zero, the default, never gives up.
func WithMaxDecodeErrors(n int) Option {
	return func(o *options) { o.maxDecodeErrors = n }
}
