// Package demux splits audio containers into per-stream packets.
//
// Formats are detected from the file content, never from the extension.
// Each Format scores a probe buffer; the best score opens the input.
package demux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"sync"

	"github.com/linuxmatters/audiopump/media"
)

// DefaultProbeSize is the number of bytes handed to Format.Probe.
const DefaultProbeSize = 4096

// Stream describes one elementary stream of a container.
type Stream struct {
	Index    int
	Type     media.MediaType
	Codec    media.CodecParameters
	TimeBase media.Rational
	// Duration in TimeBase units, 0 if unknown.
	Duration int64
	Tags     media.Tags
}

// Demuxer is implemented by each container format.
//
// ReadPacket returns io.EOF at the end of data and io.ErrUnexpectedEOF when
// the input stops inside a unit.
type Demuxer interface {
	Streams() []*Stream
	Metadata() media.Tags
	ReadPacket() (*media.Packet, error)
	Close() error
}

// Format is a registered container format.
type Format struct {
	Name string
	// Probe scores how likely header is the start of this format, 0 to 100.
	// A leading ID3v2 tag has already been skipped.
	Probe func(header []byte) int
	// Open parses the container headers. r is positioned at offset 0.
	Open func(r io.ReadSeeker, logger *log.Logger) (Demuxer, error)
}

// Options control how an input is opened.
type Options struct {
	Logger    *log.Logger
	ProbeSize int
}

func (o Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return o.Logger
}

var (
	mu       sync.RWMutex
	formats  []Format
	initOnce sync.Once
)

// Register adds a format. Later registrations lose probe ties.
func Register(f Format) {
	mu.Lock()
	defer mu.Unlock()
	formats = append(formats, f)
}

// Init registers the built-in formats once per process.
func Init() {
	initOnce.Do(func() {
		Register(Format{Name: "wav", Probe: probeWAV, Open: openWAV})
		Register(Format{Name: "flac", Probe: probeFLAC, Open: openFLAC})
		Register(Format{Name: "ogg", Probe: probeOgg, Open: openOgg})
		Register(Format{Name: "mp3", Probe: probeMP3, Open: openMP3})
	})
}

// Formats lists the registered format names in registration order.
func Formats() []string {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.Name
	}
	return names
}

// Reader is an opened container.
type Reader struct {
	format string
	dmx    Demuxer
	file   io.Closer
	log    *log.Logger
	path   string
	closed bool
}

// OpenFile opens path and probes its format. The file is closed on every
// failure and by Reader.Close.
func OpenFile(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		var pe *fs.PathError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		return nil, openError(media.ErrNotFound, err).WithPath(path)
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		f.Close()
		return nil, openError(media.ErrNotFound, errors.New("is a directory")).WithPath(path)
	}

	r, err := Open(f, opts)
	if err != nil {
		f.Close()
		var me *media.Error
		if errors.As(err, &me) {
			return nil, me.WithPath(path)
		}
		return nil, err
	}
	r.file = f
	r.path = path
	return r, nil
}

// Open probes r and parses the container headers of the best matching
// format. The caller keeps ownership of r.
func Open(r io.ReadSeeker, opts Options) (*Reader, error) {
	Init()
	logger := opts.logger()

	header, err := probeBuffer(r, opts.ProbeSize)
	if err != nil {
		return nil, openError(media.ErrNotFound, err)
	}

	mu.RLock()
	var best *Format
	bestScore := 0
	for i := range formats {
		if score := formats[i].Probe(header); score > bestScore {
			best, bestScore = &formats[i], score
		}
	}
	mu.RUnlock()
	if best == nil {
		return nil, openError(media.ErrUnsupportedFormat, errors.New("no format matched the file content"))
	}
	logger.Printf("probe: %s scored %d", best.Name, bestScore)

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, openError(media.ErrNotFound, err)
	}
	dmx, err := best.Open(r, logger)
	if err != nil {
		if media.KindOf(err) == nil {
			err = openError(media.ErrCorrupt, fmt.Errorf("%s: %w", best.Name, err))
		}
		return nil, err
	}
	return &Reader{format: best.Name, dmx: dmx, log: logger}, nil
}

// probeBuffer reads up to size bytes from the start of r, past any ID3v2 tag.
func probeBuffer(r io.ReadSeeker, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultProbeSize
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var head [id3v2HeaderSize]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && err != io.EOF {
		return nil, err
	}
	if tagSize, ok := id3v2Size(head[:n]); ok {
		if _, err := r.Seek(tagSize, io.SeekStart); err != nil {
			return nil, err
		}
	} else if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	n, err = io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func openError(reason, err error) *media.Error {
	return media.NewError(media.ErrOpen, "open", fmt.Errorf("%w: %w", reason, err))
}

// Format returns the short name of the detected container format.
func (r *Reader) Format() string { return r.format }

// Streams returns the stream table.
func (r *Reader) Streams() []*Stream { return r.dmx.Streams() }

// Metadata returns the container-level tags, empty when there are none.
func (r *Reader) Metadata() media.Tags { return r.dmx.Metadata() }

// ReadPacket returns the next packet of any stream. A unit cut short by the
// end of the input ends the stream with io.EOF; other read failures match
// media.ErrIO.
func (r *Reader) ReadPacket() (*media.Packet, error) {
	if r.closed {
		return nil, media.NewError(media.ErrIO, "read", os.ErrClosed)
	}
	pkt, err := r.dmx.ReadPacket()
	switch {
	case err == nil:
		return pkt, nil
	case err == io.EOF:
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.log.Printf("%s: input ends inside a unit, stopping", r.format)
		return nil, io.EOF
	case media.KindOf(err) != nil:
		return nil, err
	}
	e := media.NewError(media.ErrIO, "read", err)
	if r.path != "" {
		e = e.WithPath(r.path)
	}
	return nil, e
}

// Close releases the format state and the file. Calls after the first are
// no-ops.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.dmx.Close()
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// SelectAudioStream returns the index of the first audio stream.
func SelectAudioStream(streams []*Stream) (int, error) {
	for _, s := range streams {
		if s.Type == media.Audio {
			return s.Index, nil
		}
	}
	return -1, media.NewError(media.ErrStreamSelection, "select stream",
		fmt.Errorf("%w among %d streams", media.ErrNoAudioStream, len(streams)))
}

// readUpTo reads n bytes and reports a short final read as the partial
// buffer together with io.EOF.
func readUpTo(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF {
		return buf[:got], io.EOF
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// hasPrefix reports whether b starts with s.
func hasPrefix(b []byte, s string) bool {
	return bytes.HasPrefix(b, []byte(s))
}
