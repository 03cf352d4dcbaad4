// Package analysis measures levels and a coarse spectrum of decoded audio.
package analysis

import (
	"math"
	"time"

	"github.com/linuxmatters/audiopump/internal/config"
	"github.com/linuxmatters/audiopump/media"
)

// ChannelLevel holds the level of one channel over all analysed samples, as
// linear amplitudes where full scale is 1.0.
type ChannelLevel struct {
	Peak float64
	RMS  float64
}

// PeakDB returns the peak in dBFS.
func (c ChannelLevel) PeakDB() float64 { return toDB(c.Peak) }

// RMSDB returns the RMS level in dBFS.
func (c ChannelLevel) RMSDB() float64 { return toDB(c.RMS) }

func toDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

// Profile holds the analysis results for a whole stream.
type Profile struct {
	Channels   []ChannelLevel
	SampleRate int
	Samples    int64 // per channel

	// Number of FFT windows, and the highest bar magnitude seen in any
	// of them.
	Windows    int
	GlobalPeak float64

	// Average bar magnitudes scaled so the loudest bar is 1.0.
	Spectrum []float64
}

// Duration is the playback time analysed.
func (p *Profile) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Samples * int64(time.Second) / int64(p.SampleRate))
}

// Analyzer accumulates levels per channel and FFT bar magnitudes of the mono
// mixdown over consecutive, non-overlapping windows of config.FFTSize samples.
type Analyzer struct {
	channels   int
	sampleRate int

	peak       []float64
	sumSquares []float64
	samples    int64

	proc       *Processor
	window     []float64
	filled     int
	mags       []float64
	sums       []float64
	windows    int
	globalPeak float64
	bars       []float64
}

// New returns an analyzer for audio with the given layout.
func New(channels, sampleRate int) *Analyzer {
	return &Analyzer{
		channels:   channels,
		sampleRate: sampleRate,
		peak:       make([]float64, channels),
		sumSquares: make([]float64, channels),
		proc:       NewProcessor(),
		window:     make([]float64, config.FFTSize),
		mags:       make([]float64, config.NumBars),
		sums:       make([]float64, config.NumBars),
		bars:       make([]float64, config.NumBars),
	}
}

// Add folds a decoded frame into the analysis. Channels beyond the layout
// given to New are ignored.
func (a *Analyzer) Add(f *media.Frame) {
	buf := f.Float32Buffer()
	stride := buf.Format.NumChannels
	if stride == 0 || a.channels == 0 {
		return
	}
	channels := min(stride, a.channels)
	n := len(buf.Data) / stride

	for i := range n {
		var mono float64
		for ch := range channels {
			v := float64(buf.Data[i*stride+ch])
			if abs := math.Abs(v); abs > a.peak[ch] {
				a.peak[ch] = abs
			}
			a.sumSquares[ch] += v * v
			mono += v
		}
		a.window[a.filled] = mono / float64(channels)
		a.filled++
		if a.filled == len(a.window) {
			a.analyzeWindow(a.window)
			a.filled = 0
		}
	}
	a.samples += int64(n)
}

func (a *Analyzer) analyzeWindow(samples []float64) {
	coeffs := a.proc.ProcessChunk(samples)
	barMagnitudes(coeffs, a.mags)
	for i, m := range a.mags {
		a.sums[i] += m
		if m > a.globalPeak {
			a.globalPeak = m
		}
	}
	a.windows++

	scale := config.DefaultBaseScale
	if a.globalPeak > 0 {
		scale = config.TargetPeak / a.globalPeak
	}
	BinFFT(coeffs, 1.0, scale, a.bars)
}

// Bars returns the log-scaled bars of the latest complete window, scaled
// against the loudest bar seen so far.
func (a *Analyzer) Bars() []float64 {
	out := make([]float64, len(a.bars))
	copy(out, a.bars)
	return out
}

// Samples returns the number of samples per channel added so far.
func (a *Analyzer) Samples() int64 { return a.samples }

// Profile returns the results so far. A trailing partial window is zero
// padded and analysed first.
func (a *Analyzer) Profile() *Profile {
	if a.filled > 0 {
		a.analyzeWindow(a.window[:a.filled])
		a.filled = 0
	}

	p := &Profile{
		Channels:   make([]ChannelLevel, a.channels),
		SampleRate: a.sampleRate,
		Samples:    a.samples,
		Windows:    a.windows,
		GlobalPeak: a.globalPeak,
		Spectrum:   make([]float64, len(a.sums)),
	}
	for ch := range p.Channels {
		p.Channels[ch].Peak = a.peak[ch]
		if a.samples > 0 {
			p.Channels[ch].RMS = math.Sqrt(a.sumSquares[ch] / float64(a.samples))
		}
	}

	var loudest float64
	for _, s := range a.sums {
		loudest = max(loudest, s)
	}
	if loudest > 0 {
		for i, s := range a.sums {
			p.Spectrum[i] = s / loudest
		}
	}
	return p
}
