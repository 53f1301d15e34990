// Package analyser turns the most recent microphone samples into byte
// frequency data on a 0-255 scale with AnalyserNode semantics, which is
// the scale the voice activity threshold is expressed in.
package analyser

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"n8n-voice-interface/ring_buffer"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8

	minFFTSize  = 32
	minDecibels = -100.0
	maxDecibels = -30.0
	pcmMax      = 32768.0
)

// Analyser is safe for concurrent use: the capture goroutine writes
// samples while the detector samples levels.
type Analyser struct {
	mu        sync.Mutex
	fftSize   int
	smoothing float64
	samples   ring_buffer.Interface
	window    []float64
	smoothed  []float64
	scratch   []float64
}

// New creates an analyser. fftSize must be a power of two of at least 32
// and smoothing must lie in [0, 1).
func New(fftSize int, smoothing float64) (*Analyser, error) {
	if fftSize < minFFTSize || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size must be a power of two >= %d, got %d", minFFTSize, fftSize)
	}

	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("smoothing must be in [0, 1), got %v", smoothing)
	}

	return &Analyser{
		fftSize:   fftSize,
		smoothing: smoothing,
		samples:   ring_buffer.New(fftSize),
		window:    window.Blackman(fftSize),
		smoothed:  make([]float64, fftSize/2),
		scratch:   make([]float64, fftSize),
	}, nil
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	return a.fftSize / 2
}

// Write feeds PCM samples into the analysis window.
func (a *Analyser) Write(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples.Add(samples)
}

// ByteFrequencyData fills dst with the current spectrum and returns the
// number of bins written. Each call advances the smoothing state.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.updateSpectrum()

	n := len(a.smoothed)
	if len(dst) < n {
		n = len(dst)
	}

	for i := 0; i < n; i++ {
		dst[i] = toByte(a.smoothed[i])
	}

	return n
}

// AverageLevel is the mean of the byte frequency data.
func (a *Analyser) AverageLevel() float64 {
	bins := make([]byte, a.FrequencyBinCount())
	n := a.ByteFrequencyData(bins)
	if n == 0 {
		return 0
	}

	var sum float64
	for _, b := range bins[:n] {
		sum += float64(b)
	}

	return sum / float64(n)
}

// Reset drops buffered samples and smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples.Clear()
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
}

// updateSpectrum must be called with mu held.
func (a *Analyser) updateSpectrum() {
	raw := a.samples.Read()
	for i, s := range raw {
		a.scratch[i] = float64(s) / pcmMax * a.window[i]
	}

	spectrum := fft.FFTReal(a.scratch)

	for k := range a.smoothed {
		magnitude := cmplx.Abs(spectrum[k]) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*magnitude
	}
}

func toByte(magnitude float64) byte {
	if magnitude <= 0 {
		return 0
	}

	db := 20 * math.Log10(magnitude)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)

	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return byte(scaled)
	}
}
