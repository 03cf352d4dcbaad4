// Package media holds the value types shared by the demuxers, the codecs and
// the decode session: sample formats, rationals, packets, frames, tags and
// the error taxonomy.
package media

// SampleFormat identifies the numeric representation and layout of decoded
// samples.
type SampleFormat int

const (
	SampleFormatNone SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatF32
	SampleFormatF64
	SampleFormatU8P
	SampleFormatS16P
	SampleFormatS32P
	SampleFormatF32P
	SampleFormatF64P
)

var sampleFormatNames = [...]string{
	SampleFormatNone: "none",
	SampleFormatU8:   "u8",
	SampleFormatS16:  "s16",
	SampleFormatS32:  "s32",
	SampleFormatF32:  "flt",
	SampleFormatF64:  "dbl",
	SampleFormatU8P:  "u8p",
	SampleFormatS16P: "s16p",
	SampleFormatS32P: "s32p",
	SampleFormatF32P: "fltp",
	SampleFormatF64P: "dblp",
}

func (f SampleFormat) String() string {
	if f < 0 || int(f) >= len(sampleFormatNames) {
		return "unknown"
	}
	return sampleFormatNames[f]
}

// Valid reports whether f is a known format other than None.
func (f SampleFormat) Valid() bool {
	return f > SampleFormatNone && f <= SampleFormatF64P
}

// IsPlanar reports whether each channel is stored in its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f >= SampleFormatU8P && f <= SampleFormatF64P
}

// IsFloat reports whether samples are IEEE floats.
func (f SampleFormat) IsFloat() bool {
	switch f.Packed() {
	case SampleFormatF32, SampleFormatF64:
		return true
	}
	return false
}

// Packed returns the interleaved variant of f.
func (f SampleFormat) Packed() SampleFormat {
	if f.IsPlanar() {
		return f - (SampleFormatU8P - SampleFormatU8)
	}
	return f
}

// Planar returns the planar variant of f.
func (f SampleFormat) Planar() SampleFormat {
	if f.Valid() && !f.IsPlanar() {
		return f + (SampleFormatU8P - SampleFormatU8)
	}
	return f
}

// BytesPerSample is the storage size of one sample of one channel.
func (f SampleFormat) BytesPerSample() int {
	switch f.Packed() {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatF32:
		return 4
	case SampleFormatF64:
		return 8
	}
	return 0
}

// Bits is the storage width in bits.
func (f SampleFormat) Bits() int {
	return f.BytesPerSample() * 8
}
