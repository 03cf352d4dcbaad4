package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestNewRational(t *testing.T) {
	tests := []struct {
		num, den int64
		want     Rational
	}{
		{441000, 44100, Rational{10, 1}},
		{1, 48000, Rational{1, 48000}},
		{6, -4, Rational{-3, 2}},
		{5, 0, Rational{}},
		{0, 7, Rational{}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.num, tt.den), func(t *testing.T) {
			if got := NewRational(tt.num, tt.den); got != tt.want {
				t.Errorf("NewRational(%d, %d) = %v, want %v", tt.num, tt.den, got, tt.want)
			}
		})
	}
}

func TestRationalMulInt(t *testing.T) {
	tb := NewRational(1, 44100)
	d := tb.MulInt(88200)
	if d != (Rational{2, 1}) {
		t.Fatalf("88200 samples at 44.1kHz = %v, want 2", d)
	}
	if got := d.Duration(); got != 2*time.Second {
		t.Errorf("Duration() = %v, want 2s", got)
	}

	// Large tick counts must not overflow.
	big := NewRational(1, 1000000007).MulInt(math.MaxInt64 / 3)
	if big.IsZero() {
		t.Fatal("large product collapsed to zero")
	}
	if f := big.Float64(); math.Abs(f-float64(math.MaxInt64/3)/1000000007) > 1 {
		t.Errorf("large product = %f", f)
	}

	if !(Rational{}).MulInt(5).IsZero() {
		t.Error("unknown duration must stay unknown")
	}
}

func TestSampleFormat(t *testing.T) {
	tests := []struct {
		f       SampleFormat
		name    string
		planar  bool
		float   bool
		bytes   int
		packed  SampleFormat
		planarF SampleFormat
	}{
		{SampleFormatU8, "u8", false, false, 1, SampleFormatU8, SampleFormatU8P},
		{SampleFormatS16P, "s16p", true, false, 2, SampleFormatS16, SampleFormatS16P},
		{SampleFormatS32, "s32", false, false, 4, SampleFormatS32, SampleFormatS32P},
		{SampleFormatF32P, "fltp", true, true, 4, SampleFormatF32, SampleFormatF32P},
		{SampleFormatF64, "dbl", false, true, 8, SampleFormatF64, SampleFormatF64P},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.f.String() != tt.name {
				t.Errorf("String() = %q", tt.f.String())
			}
			if tt.f.IsPlanar() != tt.planar {
				t.Errorf("IsPlanar() = %v", tt.f.IsPlanar())
			}
			if tt.f.IsFloat() != tt.float {
				t.Errorf("IsFloat() = %v", tt.f.IsFloat())
			}
			if tt.f.BytesPerSample() != tt.bytes {
				t.Errorf("BytesPerSample() = %d", tt.f.BytesPerSample())
			}
			if tt.f.Packed() != tt.packed {
				t.Errorf("Packed() = %v", tt.f.Packed())
			}
			if tt.f.Planar() != tt.planarF {
				t.Errorf("Planar() = %v", tt.f.Planar())
			}
		})
	}

	if SampleFormatNone.Valid() {
		t.Error("none must not be valid")
	}
}

func TestTags(t *testing.T) {
	var tags Tags
	tags.Add("TITLE", "First")
	tags.Add("artist", "Someone")
	tags.Add(" Title ", "Second")
	tags.Add("", "ignored")

	if tags.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tags.Len())
	}
	if v, _ := tags.Get("title"); v != "First; Second" {
		t.Errorf("title = %q", v)
	}
	if keys := tags.Keys(); keys[0] != "title" || keys[1] != "artist" {
		t.Errorf("keys = %v", keys)
	}

	var stream Tags
	stream.Set("artist", "Other")
	stream.Set("album", "Record")
	merged := tags.Clone()
	merged.Merge(stream)

	want := []string{"title", "artist", "album"}
	i := 0
	for k := range merged.All() {
		if k != want[i] {
			t.Errorf("key %d = %q, want %q", i, k, want[i])
		}
		i++
	}
	if v, _ := merged.Get("artist"); v != "Other" {
		t.Errorf("merged artist = %q", v)
	}
	if v, _ := tags.Get("artist"); v != "Someone" {
		t.Errorf("clone leaked a write: %q", v)
	}
	if merged.Equal(tags) {
		t.Error("Equal() should differ after merge")
	}
	if !tags.Equal(tags.Clone()) {
		t.Error("Equal() should hold for a clone")
	}
}

func TestFrameSamples(t *testing.T) {
	f := NewFrame(SampleFormatS16, 44100, 2, 2)
	binary.LittleEndian.PutUint16(f.Data[0][0:], uint16(0x4000))
	binary.LittleEndian.PutUint16(f.Data[0][2:], uint16(0xC000))
	binary.LittleEndian.PutUint16(f.Data[0][4:], uint16(0x7FFF))

	if got := f.Sample(0, 0); got != 0.5 {
		t.Errorf("Sample(0,0) = %f, want 0.5", got)
	}
	if got := f.Sample(1, 0); got != -0.5 {
		t.Errorf("Sample(1,0) = %f, want -0.5", got)
	}

	ib := f.IntBuffer(16)
	if ib.Data[0] != 16384 || ib.Data[1] != -16384 || ib.Data[2] != 32766 {
		t.Errorf("IntBuffer data = %v", ib.Data)
	}
	fb := f.Float32Buffer()
	if fb.Format.NumChannels != 2 || fb.NumFrames() != 2 {
		t.Errorf("Float32Buffer frames = %d", fb.NumFrames())
	}

	p := NewFrame(SampleFormatF32P, 48000, 2, 1)
	binary.LittleEndian.PutUint32(p.Data[1], math.Float32bits(0.25))
	if got := p.Sample(1, 0); got != 0.25 {
		t.Errorf("planar Sample(1,0) = %f", got)
	}

	f.Release()
	f.Release()
	if !f.Released() || f.Data != nil {
		t.Error("Release() should drop the planes")
	}
}

func TestFrameFromPoolIsZeroed(t *testing.T) {
	f := NewFrame(SampleFormatU8, 8000, 1, 64)
	for i := range f.Data[0] {
		f.Data[0][i] = 0xFF
	}
	f.Release()

	g := NewFrame(SampleFormatU8, 8000, 1, 64)
	for i, b := range g.Data[0] {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want zero", i, b)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("session: %w", &Error{
		Kind: ErrOpen,
		Op:   "open",
		Path: "/tmp/x.wav",
		Err:  ErrNotFound,
	})

	if !errors.Is(err, ErrOpen) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if errors.Is(err, ErrDecode) {
		t.Error("unexpected match with ErrDecode")
	}
	if KindOf(err) != ErrOpen {
		t.Errorf("KindOf() = %v", KindOf(err))
	}
	if got, want := err.Error(), "session: open /tmp/x.wav: file not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
