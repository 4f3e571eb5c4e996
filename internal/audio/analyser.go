package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	defaultFFTSize   = 2048
	defaultSmoothing = 0.8
	minDecibels      = -100.0
	maxDecibels      = -30.0
)

// Analyser keeps the most recent fftSize samples of a stream and reports
// smoothed byte frequency data scaled between minDecibels and maxDecibels.
type Analyser struct {
	mu sync.Mutex

	fftSize   int
	smoothing float64
	window    []float64
	fft       *fourier.FFT

	ring   []float64
	cursor int

	frame     []float64
	coeffs    []complex128
	magnitude []float64
}

func NewAnalyser(fftSize int) *Analyser {
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		fftSize = defaultFFTSize
	}
	return &Analyser{
		fftSize:   fftSize,
		smoothing: defaultSmoothing,
		window:    blackmanWindow(fftSize),
		fft:       fourier.NewFFT(fftSize),
		ring:      make([]float64, fftSize),
		frame:     make([]float64, fftSize),
		magnitude: make([]float64, fftSize/2),
	}
}

// binCount is half the FFT size.
func (a *Analyser) binCount() int {
	return a.fftSize / 2
}

// Write appends normalized samples in [-1, 1].
func (a *Analyser) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sample := range samples {
		a.ring[a.cursor] = sample
		a.cursor++
		if a.cursor == len(a.ring) {
			a.cursor = 0
		}
	}
}

// WritePCM16 appends little-endian signed 16-bit mono samples.
func (a *Analyser) WritePCM16(pcm []byte) {
	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		samples[i] = float64(v) / 32768.0
	}
	a.Write(samples)
}

func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.fftSize
	for i := 0; i < n; i++ {
		a.frame[i] = a.ring[(a.cursor+i)%n] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	bins := len(a.magnitude)
	if len(dst) < bins {
		bins = len(dst)
	}
	scale := 255.0 / (maxDecibels - minDecibels)
	for k := 0; k < len(a.magnitude); k++ {
		mag := cmplx.Abs(a.coeffs[k]) / float64(n)
		a.magnitude[k] = a.smoothing*a.magnitude[k] + (1-a.smoothing)*mag
		if k >= bins {
			continue
		}
		db := minDecibels
		if a.magnitude[k] > 0 {
			db = 20 * math.Log10(a.magnitude[k])
		}
		dst[k] = byte(math.Max(0, math.Min(255, math.Floor(scale*(db-minDecibels)))))
	}
	return bins
}

// Reset forgets buffered audio and smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.ring {
		a.ring[i] = 0
	}
	for i := range a.magnitude {
		a.magnitude[i] = 0
	}
	a.cursor = 0
}

func blackmanWindow(n int) []float64 {
	const alpha = 0.16
	a0 := 0.5 * (1 - alpha)
	a1 := 0.5
	a2 := 0.5 * alpha
	window := make([]float64, n)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(n)
		window[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return window
}
