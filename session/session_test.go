package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"
	"github.com/linuxmatters/audiopump/internal/audiotest"
	"github.com/linuxmatters/audiopump/media"
)

// drain pulls every frame and returns them with the terminating error.
func drain(t *testing.T, s *Session) ([]*media.Frame, error) {
	t.Helper()
	var frames []*media.Frame
	for range 100000 {
		f, err := s.NextFrame()
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	t.Fatal("NextFrame() did not terminate")
	return nil, nil
}

func totalSamples(frames []*media.Frame) int {
	n := 0
	for _, f := range frames {
		n += f.NumSamples
	}
	return n
}

func audioStream(codec string) []fakeStream {
	return []fakeStream{{typ: media.Audio, codec: codec}}
}

func TestDrainDeliversHeldFrames(t *testing.T) {
	registerFakes()
	var packets []fakePacket
	for _, n := range []int{10, 20, 30, 40, 50} {
		packets = append(packets, fakePacket{0, samples(n)})
	}
	s, err := Open(writeFake(t, audioStream("fake_delay"), nil, packets))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	frames, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(frames) != 5 {
		t.Fatalf("got %d frames after flush, want 5", len(frames))
	}
	var pts int64
	for i, f := range frames {
		if f.PTS != pts {
			t.Errorf("frame %d: PTS = %d, want %d", i, f.PTS, pts)
		}
		pts += int64(f.NumSamples)
	}
	if totalSamples(frames) != 150 {
		t.Errorf("got %d samples, want 150", totalSamples(frames))
	}
	if s.state != finished {
		t.Errorf("state = %v, want finished", s.state)
	}

	// finished is terminal
	for range 3 {
		if _, err := s.NextFrame(); err != io.EOF {
			t.Errorf("NextFrame() after end = %v, want io.EOF", err)
		}
	}
}

func TestCorruptPacketIsSkipped(t *testing.T) {
	registerFakes()
	packets := []fakePacket{
		{0, samples(100)},
		{0, []byte{markCorrupt, 1, 2, 3}},
		{0, samples(100)},
		{0, []byte{markWrongFmt, 1, 2, 3}},
		{0, samples(100)},
	}
	var logBuf bytes.Buffer
	s, err := Open(writeFake(t, audioStream("fake_direct"), nil, packets),
		WithLogger(log.New(&logBuf, "", 0)))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	frames, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(frames) != 3 {
		t.Errorf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.SampleRate != fakeRate {
			t.Errorf("frame %d: sample rate %d", i, f.SampleRate)
		}
	}
	st := s.Stats()
	if st.DecodeErrors != 2 || st.Frames != 3 || st.Samples != 300 || st.PacketsRead != 5 {
		t.Errorf("Stats() = %+v", st)
	}
	if !strings.Contains(logBuf.String(), "skipping packet") {
		t.Errorf("decode error was not logged: %q", logBuf.String())
	}
}

func TestMaxDecodeErrors(t *testing.T) {
	registerFakes()
	bad := fakePacket{0, []byte{markCorrupt}}
	packets := []fakePacket{{0, samples(10)}, bad, bad, bad, {0, samples(10)}}
	path := writeFake(t, audioStream("fake_direct"), nil, packets)

	tests := []struct {
		name       string
		limit      int
		wantFrames int
		wantErr    error
	}{
		{"unlimited", 0, 2, io.EOF},
		{"above the run", 3, 2, io.EOF},
		{"below the run", 2, 1, media.ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(path, WithMaxDecodeErrors(tt.limit))
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			defer s.Close()
			frames, err := drain(t, s)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("terminating error = %v, want %v", err, tt.wantErr)
			}
			if len(frames) != tt.wantFrames {
				t.Errorf("got %d frames, want %d", len(frames), tt.wantFrames)
			}
		})
	}
}

func TestFirstAudioStreamIsSelected(t *testing.T) {
	registerFakes()
	streams := []fakeStream{
		{typ: media.Video, codec: "theora"},
		{typ: media.Subtitle, codec: "kate"},
		{typ: media.Audio, codec: "fake_direct", tags: [][2]string{{"TITLE", "Stream title"}}},
		{typ: media.Audio, codec: "fake_direct"},
	}
	tags := [][2]string{{"title", "Container title"}, {"artist", "Someone"}}
	var packets []fakePacket
	for range 4 {
		packets = append(packets,
			fakePacket{0, []byte("video")},
			fakePacket{2, samples(64)},
			fakePacket{1, []byte("subtitle")},
			fakePacket{3, samples(32)},
		)
	}

	s, err := Open(writeFake(t, streams, tags, packets))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	info := s.Info()
	if info.StreamIndex != 2 || info.SampleRate != fakeRate || info.FormatName != "fakemux" || info.CodecName != "fake_direct" {
		t.Errorf("Info() = %+v", info)
	}
	if got := info.Tags.Keys(); len(got) != 2 || got[0] != "title" || got[1] != "artist" {
		t.Errorf("tag keys = %v", got)
	}
	if title, _ := info.Tags.Get("title"); title != "Stream title" {
		t.Errorf("title = %q, stream tags should override", title)
	}

	frames, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(frames) != 4 || totalSamples(frames) != 4*64 {
		t.Errorf("got %d frames / %d samples from the selected stream", len(frames), totalSamples(frames))
	}
	for i, f := range frames {
		if f.SampleRate != info.SampleRate {
			t.Errorf("frame %d: sample rate %d", i, f.SampleRate)
		}
	}
	if st := s.Stats(); st.PacketsSkipped != 12 || st.PacketsRead != 16 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestOpenFailuresCloseTheContainer(t *testing.T) {
	registerFakes()
	tests := []struct {
		name    string
		streams []fakeStream
		kind    error
		reason  error
	}{
		{
			"no audio stream",
			[]fakeStream{{typ: media.Video, codec: "theora"}, {typ: media.Subtitle, codec: "kate"}},
			media.ErrStreamSelection, media.ErrNoAudioStream,
		},
		{
			"unknown codec",
			audioStream("fake_missing"),
			media.ErrDecoderInit, media.ErrUnsupportedCodec,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFake(t, tt.streams, nil, nil)
			before := fakeCloses.Load()
			_, err := Open(path)
			if !errors.Is(err, tt.kind) || !errors.Is(err, tt.reason) {
				t.Fatalf("expected %v/%v, got %v", tt.kind, tt.reason, err)
			}
			var me *media.Error
			if !errors.As(err, &me) || me.Path != path {
				t.Errorf("error does not carry the path: %v", err)
			}
			if fakeCloses.Load() != before+1 {
				t.Errorf("container was not closed")
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "nope.flac")); !errors.Is(err, media.ErrOpen) || !errors.Is(err, media.ErrNotFound) {
		t.Errorf("missing file: got %v", err)
	}
	path := audiotest.WriteFile(t, dir, "text.wav", []byte("plain text, not audio"))
	if _, err := Open(path); !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Errorf("unknown content: got %v", err)
	}
}

func TestIOErrorIsSticky(t *testing.T) {
	registerFakes()
	packets := []fakePacket{{0, samples(10)}, {fakeIOError, nil}, {0, samples(10)}}
	s, err := Open(writeFake(t, audioStream("fake_direct"), nil, packets))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if _, err := s.NextFrame(); err != nil {
		t.Fatalf("first NextFrame() error: %v", err)
	}
	_, err = s.NextFrame()
	if !errors.Is(err, media.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	for range 3 {
		if _, again := s.NextFrame(); again != err {
			t.Errorf("later NextFrame() = %v, want the same error", again)
		}
	}
}

func TestInfoIsStable(t *testing.T) {
	registerFakes()
	tags := [][2]string{{"title", "T"}}
	s, err := Open(writeFake(t, audioStream("fake_direct"), tags, []fakePacket{{0, samples(5)}}))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	first := s.Info()
	first.Tags.Set("title", "changed by caller")
	drain(t, s)
	s.Close()

	a, b := s.Info(), s.Info()
	if a.SampleRate != b.SampleRate || a.SampleFormat != b.SampleFormat || a.Duration != b.Duration || !a.Tags.Equal(b.Tags) {
		t.Errorf("Info() changed between calls: %+v vs %+v", a, b)
	}
	if title, _ := a.Tags.Get("title"); title != "T" {
		t.Errorf("title = %q, Info must not share tags with callers", title)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	registerFakes()
	s, err := Open(writeFake(t, audioStream("fake_direct"), nil, []fakePacket{{0, samples(5)}}))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	before := fakeCloses.Load()
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if fakeCloses.Load() != before+1 {
		t.Errorf("container closed %d times", fakeCloses.Load()-before)
	}
	if _, err := s.NextFrame(); !errors.Is(err, media.ErrIO) || !errors.Is(err, os.ErrClosed) {
		t.Errorf("NextFrame() after Close = %v", err)
	}
}

func TestWAVSession(t *testing.T) {
	const n = 10000
	path := audiotest.WAV{
		SampleRate: 48000,
		BitDepth:   16,
		Channels:   2,
		Metadata:   &wav.Metadata{Title: "Sines", Artist: "Linux"},
	}.Write(t, t.TempDir(), "tone.wav", audiotest.Sine(n, 2, 48000, 16, 440))

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	info := s.Info()
	if info.SampleRate != 48000 || info.Channels != 2 || info.BitDepth != 16 ||
		info.SampleFormat != media.SampleFormatS16 || info.CodecName != "pcm_s16le" || info.FormatName != "wav" {
		t.Errorf("Info() = %+v", info)
	}
	if info.Duration != media.NewRational(n, 48000) {
		t.Errorf("Duration = %v", info.Duration)
	}
	if title, _ := info.Tags.Get("title"); title != "Sines" {
		t.Errorf("title = %q", title)
	}

	frames, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if totalSamples(frames) != n {
		t.Errorf("decoded %d samples, want %d", totalSamples(frames), n)
	}
	for _, f := range frames {
		f.Release()
	}
}

func TestExtensibleFloatWAVSession(t *testing.T) {
	const n = 1000
	data := make([]byte, 4*n*2)
	for i := 0; i < n*2; i++ {
		v := float32(0.5)
		if i%2 == 1 {
			v = -0.25
		}
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	path := audiotest.WriteFile(t, t.TempDir(), "float.wav", audiotest.ExtensibleWAV(44100, 2, 32, 0x0003, data))

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	info := s.Info()
	if info.SampleFormat != media.SampleFormatF32 || info.CodecName != "pcm_f32le" || info.Channels != 2 {
		t.Errorf("Info() = %+v", info)
	}

	frames, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if totalSamples(frames) != n {
		t.Errorf("decoded %d samples, want %d", totalSamples(frames), n)
	}
	for _, f := range frames {
		for i := 0; i < f.NumSamples; i++ {
			if l, r := f.Sample(0, i), f.Sample(1, i); l != 0.5 || r != -0.25 {
				t.Fatalf("sample %d = (%v, %v), want (0.5, -0.25)", i, l, r)
			}
		}
		f.Release()
	}
}

func TestTruncatedWAVEndsCleanly(t *testing.T) {
	path := audiotest.WAV{SampleRate: 8000, BitDepth: 24, Channels: 1}.
		Write(t, t.TempDir(), "cut.wav", audiotest.Sine(4000, 1, 8000, 24, 200))
	if err := os.Truncate(path, 44+3000*3+1); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()
	if s.Info().SampleFormat != media.SampleFormatS32 || s.Info().BitDepth != 24 {
		t.Errorf("Info() = %+v", s.Info())
	}

	frames, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if totalSamples(frames) != 3000 {
		t.Errorf("decoded %d samples, want 3000", totalSamples(frames))
	}
}

func flacFile(t *testing.T) (string, int) {
	t.Helper()
	st := audiotest.FLACStream{
		SampleRate:   44100,
		BitDepth:     16,
		Channels:     2,
		BlockSize:    256,
		TotalSamples: 1024,
		Comments:     []string{"TITLE=Ramp", "TRACKNUMBER=1"},
	}
	var frames [][]byte
	for i := range 4 {
		frames = append(frames, audiotest.FLACFrame(uint64(i), 44100, 16, audiotest.Ramp(2, 256, 16, i*256)))
	}
	return audiotest.WriteFile(t, t.TempDir(), "ramp.flac", st.Bytes(frames...)), 1024
}

func TestFLACSession(t *testing.T) {
	path, n := flacFile(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	info := s.Info()
	if info.CodecName != "flac" || info.BitDepth != 16 || info.SampleFormat != media.SampleFormatS16P {
		t.Errorf("Info() = %+v", info)
	}
	if info.Duration != media.NewRational(int64(n), 44100) {
		t.Errorf("Duration = %v", info.Duration)
	}
	if track, _ := info.Tags.Get("track"); track != "1" {
		t.Errorf("track = %q", track)
	}

	frames, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(frames) != 4 || totalSamples(frames) != n {
		t.Errorf("got %d frames / %d samples", len(frames), totalSamples(frames))
	}
	if frames[3].PTS != 768 {
		t.Errorf("last frame PTS = %d", frames[3].PTS)
	}
}

func TestOggThreeStreams(t *testing.T) {
	st := audiotest.FLACStream{SampleRate: 44100, BitDepth: 16, Channels: 1, BlockSize: 128}
	var frames [][]byte
	for i := range 3 {
		frames = append(frames, audiotest.FLACFrame(uint64(i), 44100, 16, audiotest.Ramp(1, 128, 16, i*128)))
	}
	var b []byte
	b = append(b, audiotest.OggPage(7, 0, 0, audiotest.OggBOS, audiotest.TheoraHeader())...)
	b = append(b, audiotest.OggPage(8, 0, 0, audiotest.OggBOS, audiotest.KateHeader())...)
	b = append(b, audiotest.OggPage(9, 0, 0, audiotest.OggBOS, audiotest.OggFLACHeader(st.StreamInfo(), 1))...)
	b = append(b, audiotest.OggPage(9, 1, 0, 0, audiotest.OggFLACComment("v", []string{"ARTIST=Ogg"}))...)
	for i, f := range frames {
		b = append(b, audiotest.OggPage(7, uint32(i+1), int64(i), 0, []byte("video"))...)
		b = append(b, audiotest.OggPage(9, uint32(i+2), int64((i+1)*128), 0, f)...)
		b = append(b, audiotest.OggPage(8, uint32(i+1), int64(i), 0, []byte("text"))...)
	}
	path := audiotest.WriteFile(t, t.TempDir(), "av.ogg", b)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	info := s.Info()
	if info.StreamIndex != 2 || info.SampleRate != 44100 || info.FormatName != "ogg" || info.CodecName != "flac" {
		t.Errorf("Info() = %+v", info)
	}
	if info.Duration != media.NewRational(384, 44100) {
		t.Errorf("Duration = %v", info.Duration)
	}
	if artist, _ := info.Tags.Get("artist"); artist != "Ogg" {
		t.Errorf("artist = %q", artist)
	}

	got, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	for i, f := range got {
		if f.SampleRate != 44100 || f.NumSamples != 128 {
			t.Errorf("frame %d: %d samples @ %d Hz", i, f.NumSamples, f.SampleRate)
		}
	}
	if st := s.Stats(); st.PacketsSkipped != 6 {
		t.Errorf("skipped %d packets, want 6", st.PacketsSkipped)
	}
}

func TestMP3Session(t *testing.T) {
	var b []byte
	b = append(b, audiotest.ID3v2("TIT2", "Silence")...)
	for range 4 {
		b = append(b, audiotest.MP3Frame()...)
	}
	path := audiotest.WriteFile(t, t.TempDir(), "quiet.mp3", b)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	info := s.Info()
	if info.CodecName != "mp3" || info.BitDepth != 0 || info.SampleRate != 44100 || info.Channels != 1 {
		t.Errorf("Info() = %+v", info)
	}
	if title, _ := info.Tags.Get("title"); title != "Silence" {
		t.Errorf("title = %q", title)
	}

	frames, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if totalSamples(frames) != 4*audiotest.MP3SamplesPerFrame {
		t.Errorf("decoded %d samples", totalSamples(frames))
	}
}
