package beat

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	minFrame = 256
	maxFrame = 2048
)

// band is a frequency range in Hz.
type band struct {
	lo, hi float64
}

var bass = band{lo: 20, hi: 250}

// bins maps b onto FFT bin indexes [first, last) for a frame of size samples.
func (b band) bins(sampleRate float64, size int) (int, int) {
	step := sampleRate / float64(size)
	first := int(b.lo / step)
	last := min(int(math.Ceil(b.hi/step))+1, size/2)
	return first, last
}

// spectrum holds a windowed frame reused across calls.
type spectrum struct {
	sampleRate float64
	frame      []float64
	window     []float64
}

func newSpectrum(sampleRate float64) *spectrum {
	if sampleRate <= 0 {
		sampleRate = 44_100
	}
	return &spectrum{sampleRate: sampleRate}
}

// lowBand returns the normalized bass energy of samples.
func (s *spectrum) lowBand(samples []float32) float64 {
	return s.level(samples, bass)
}

// level returns the mean bin magnitude of samples inside b, capped at 1.
func (s *spectrum) level(samples []float32, b band) float64 {
	if len(samples) == 0 {
		return 0
	}
	size := frameSize(len(samples))
	if len(s.frame) != size {
		s.frame = make([]float64, size)
		s.window = window.Hann(size)
	}
	for i := range s.frame {
		s.frame[i] = 0
		if i < len(samples) {
			s.frame[i] = float64(samples[i]) * s.window[i]
		}
	}

	first, last := b.bins(s.sampleRate, size)
	if first >= last {
		return 0
	}
	coeffs := fft.FFTReal(s.frame)
	var sum float64
	for _, c := range coeffs[first:last] {
		sum += cmplx.Abs(c)
	}
	return math.Min(sum/float64(last-first), 1)
}

// frameSize is the smallest power of two covering n, kept within
// [minFrame, maxFrame].
func frameSize(n int) int {
	size := minFrame
	for size < n && size < maxFrame {
		size <<= 1
	}
	return size
}
