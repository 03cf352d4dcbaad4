package config

import "time"

// Analysis settings
const (
	FFTSize = 2048 // samples per spectrum window, a power of two
	NumBars = 64   // spectrum bars
)

// Spectrum scaling
const (
	// DefaultBaseScale maps raw bar magnitudes into the 0.0-1.0 range until
	// enough audio has been seen to calibrate.
	DefaultBaseScale = 0.0075
	// TargetPeak is where the loudest bar lands after calibration.
	TargetPeak = 0.85
	// NoiseGate drops scaled bar values below this level.
	NoiseGate = 0.01
)

// Progress reporting
const (
	// UpdateInterval throttles progress messages from the decode loop.
	UpdateInterval = 50 * time.Millisecond
	// CompletionDelay keeps the finished TUI on screen before quitting.
	CompletionDelay = 1500 * time.Millisecond
)

// Input settings
const (
	// ProbeSize is how many bytes are read to detect the container format.
	ProbeSize = 4096
	// MaxDecodeErrors is the default run of consecutive undecodable packets
	// after which decoding stops. Zero means never.
	MaxDecodeErrors = 0
)

// PlainUpdateInterval spaces progress lines when the TUI is off.
const PlainUpdateInterval = time.Second
