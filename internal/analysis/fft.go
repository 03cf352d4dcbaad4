package analysis

import (
	"math"

	"github.com/argusdusty/gofft"

	"github.com/linuxmatters/audiopump/internal/config"
)

// ApplyHanning returns data multiplied by a Hanning window.
func ApplyHanning(data []float64) []float64 {
	windowed := make([]float64, len(data))
	n := len(data)
	if n < 2 {
		copy(windowed, data)
		return windowed
	}
	for i := range data {
		window := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = data[i] * window
	}
	return windowed
}

// barMagnitudes averages FFT magnitudes into len(result) bars. Only the lower
// three quarters of the positive spectrum are used, where most audio energy
// sits.
func barMagnitudes(coeffs []complex128, result []float64) {
	halfSize := len(coeffs) / 2
	maxFreqBin := (halfSize * 3) / 4
	numBars := len(result)
	binsPerBar := maxFreqBin / numBars
	if binsPerBar == 0 {
		binsPerBar = 1
	}

	for bar := range result {
		start := bar * binsPerBar
		end := min(start+binsPerBar, maxFreqBin)
		var sum float64
		for i := start; i < end; i++ {
			sum += math.Hypot(real(coeffs[i]), imag(coeffs[i]))
		}
		result[bar] = sum / float64(binsPerBar)
	}
}

// BinFFT bins FFT coefficients into len(result) bars normalized to roughly
// 0.0-1.0. Magnitudes are multiplied by baseScale and sensitivity, gated, then
// log scaled.
func BinFFT(coeffs []complex128, sensitivity, baseScale float64, result []float64) {
	barMagnitudes(coeffs, result)
	for i, m := range result {
		scaled := m * baseScale * sensitivity
		if scaled < config.NoiseGate {
			result[i] = 0
			continue
		}
		// Log10(1 + x*9) maps [0, 1] onto [0, 1].
		result[i] = math.Log10(1 + scaled*9)
	}
}

// RearrangeFrequenciesCenterOut mirrors the lower half of barHeights around
// the centre of result, lowest frequencies in the middle.
func RearrangeFrequenciesCenterOut(barHeights, result []float64) {
	n := len(result)
	center := n / 2
	for i := 0; i < n/2 && i < len(barHeights); i++ {
		result[center-1-i] = barHeights[i]
		result[center+i] = barHeights[i]
	}
}

// Processor runs windowed FFTs of config.FFTSize samples.
type Processor struct {
	buf []complex128
}

// NewProcessor prepares the FFT tables for config.FFTSize.
func NewProcessor() *Processor {
	// FFTSize is a power of two, which is the only failure gofft reports.
	_ = gofft.Prepare(config.FFTSize)
	return &Processor{buf: make([]complex128, config.FFTSize)}
}

// ProcessChunk applies a Hanning window to samples, zero padded to
// config.FFTSize, and returns the FFT coefficients. The returned slice is
// reused by the next call.
func (p *Processor) ProcessChunk(samples []float64) []complex128 {
	chunk := samples
	if len(chunk) != config.FFTSize {
		padded := make([]float64, config.FFTSize)
		copy(padded, chunk)
		chunk = padded
	}
	windowed := ApplyHanning(chunk)
	for i, v := range windowed {
		p.buf[i] = complex(v, 0)
	}
	_ = gofft.FFT(p.buf)
	return p.buf
}
