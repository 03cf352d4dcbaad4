package analysis

import (
	"math"
	"testing"

	"github.com/argusdusty/gofft"

	"github.com/linuxmatters/audiopump/internal/config"
)

func sineWave(n int, freq, rate, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func argmax(values []float64) (int, float64) {
	idx, best := 0, math.Inf(-1)
	for i, v := range values {
		if v > best {
			idx, best = i, v
		}
	}
	return idx, best
}

// TestBinFFT_KnownSineWave checks that a 440 Hz tone lands in the bar that
// covers its FFT bin. At 44.1 kHz a 2048 point FFT has bins of ~21.5 Hz, so
// 440 Hz is bin ~20, and with 768 usable bins over 64 bars that is bar 1.
func TestBinFFT_KnownSineWave(t *testing.T) {
	const (
		sampleRate  = 44100
		frequency   = 440
		sensitivity = 1.0
		baseScale   = 1.0
	)

	windowed := ApplyHanning(sineWave(config.FFTSize, frequency, sampleRate, 1))
	fftInput := gofft.Float64ToComplex128Array(windowed)
	if err := gofft.FFT(fftInput); err != nil {
		t.Fatalf("FFT computation failed: %v", err)
	}

	result := make([]float64, config.NumBars)
	BinFFT(fftInput, sensitivity, baseScale, result)

	maxBar, maxVal := argmax(result)
	if maxBar != 1 {
		t.Errorf("peak bar = %d, want 1", maxBar)
	}
	if maxVal <= 0 {
		t.Errorf("peak magnitude = %.6f, want > 0", maxVal)
	}

	var sumOthers float64
	for bar, val := range result {
		if bar != maxBar {
			sumOthers += val
		}
	}
	avgOthers := sumOthers / float64(len(result)-1)
	if maxVal <= avgOthers {
		t.Errorf("peak %.6f not dominant over average of others %.6f", maxVal, avgOthers)
	}
	t.Logf("440 Hz: bar %d magnitude %.4f, others average %.4f", maxBar, maxVal, avgOthers)
}

func TestBinFFT_Silence(t *testing.T) {
	silence := make([]complex128, config.FFTSize)
	result := make([]float64, config.NumBars)
	for i := range result {
		result[i] = -1
	}

	BinFFT(silence, 1.0, 1.0, result)

	for bar, val := range result {
		if val != 0 {
			t.Errorf("bar %d = %.6f for silence, want 0", bar, val)
		}
	}
}

// TestBinFFT_NoiseGate checks that a very quiet signal is gated to zero.
func TestBinFFT_NoiseGate(t *testing.T) {
	quiet := make([]float64, config.FFTSize)
	for i := range quiet {
		quiet[i] = 0.001 * math.Sin(2*math.Pi*float64(i)/100.0)
	}
	fftInput := gofft.Float64ToComplex128Array(ApplyHanning(quiet))
	if err := gofft.FFT(fftInput); err != nil {
		t.Fatalf("FFT computation failed: %v", err)
	}

	result := make([]float64, config.NumBars)
	BinFFT(fftInput, 0.1, 0.1, result)

	for bar, val := range result {
		if val != 0 {
			t.Errorf("bar %d = %.6f, want gated to 0", bar, val)
		}
	}
}

func TestApplyHanning_WindowProperties(t *testing.T) {
	const size = 8
	input := make([]float64, size)
	for i := range input {
		input[i] = 1.0
	}

	windowed := ApplyHanning(input)
	if len(windowed) != size {
		t.Fatalf("window size = %d, want %d", len(windowed), size)
	}

	epsilon := 1e-10
	if math.Abs(windowed[0]) > epsilon || math.Abs(windowed[size-1]) > epsilon {
		t.Errorf("window ends = %.15f, %.15f, want 0", windowed[0], windowed[size-1])
	}
	if mid := windowed[size/2]; mid < 0.9 || mid > 1.05 {
		t.Errorf("window centre = %.6f, want ~1.0", mid)
	}
	for i := range size / 2 {
		if math.Abs(windowed[i]-windowed[size-1-i]) > epsilon {
			t.Errorf("window not symmetric at %d: %.15f != %.15f", i, windowed[i], windowed[size-1-i])
		}
	}
	if input[size/2] != 1.0 {
		t.Error("ApplyHanning modified its input")
	}
}

func TestApplyHanning_ShortInput(t *testing.T) {
	tests := []struct {
		name  string
		input []float64
	}{
		{"empty", nil},
		{"single", []float64{0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyHanning(tt.input)
			if len(got) != len(tt.input) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.input))
			}
			for i := range got {
				if got[i] != tt.input[i] {
					t.Errorf("got[%d] = %v, want %v", i, got[i], tt.input[i])
				}
			}
		})
	}
}

func TestRearrangeFrequenciesCenterOut_Mapping(t *testing.T) {
	const numBars = 8
	input := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	result := make([]float64, numBars)

	RearrangeFrequenciesCenterOut(input, result)

	want := []float64{3, 2, 1, 0, 0, 1, 2, 3}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("result[%d] = %.0f, want %.0f", i, result[i], want[i])
		}
	}
}

func TestRearrangeFrequenciesCenterOut_Symmetry(t *testing.T) {
	input := make([]float64, config.NumBars)
	for i := range input {
		input[i] = float64(i)
	}
	result := make([]float64, config.NumBars)

	RearrangeFrequenciesCenterOut(input, result)

	center := config.NumBars / 2
	for i := range center {
		left, right := center-1-i, center+i
		if result[left] != result[right] {
			t.Errorf("offset %d: result[%d]=%.0f != result[%d]=%.0f", i, left, result[left], right, result[right])
		}
	}
}

func TestProcessorPadsShortChunks(t *testing.T) {
	p := NewProcessor()

	coeffs := p.ProcessChunk(make([]float64, 10))
	if len(coeffs) != config.FFTSize {
		t.Fatalf("coefficients = %d, want %d", len(coeffs), config.FFTSize)
	}
	for i, c := range coeffs {
		if c != 0 {
			t.Fatalf("coefficient %d = %v for silence, want 0", i, c)
		}
	}

	coeffs = p.ProcessChunk(sineWave(config.FFTSize/2, 440, 44100, 1))
	mags := make([]float64, config.NumBars)
	barMagnitudes(coeffs, mags)
	if bar, _ := argmax(mags); bar != 1 {
		t.Errorf("padded 440 Hz chunk peaks in bar %d, want 1", bar)
	}
}
