package audio

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SyntheticConfig tunes the generated signal.
type SyntheticConfig struct {
	SampleRate float64
	BufferSize int
	BPM        float64
	Seed       int64
	Now        func() time.Time
}

// Synthetic generates a drum-like signal: a quiet bed of tones with a decaying
// kick on every beat. It stands in for a device when audio is unavailable.
type Synthetic struct {
	sampleRate float64
	size       int
	period     time.Duration
	start      time.Time
	now        func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthetic creates a generator.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BPM <= 0 {
		cfg.BPM = 120
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Synthetic{
		sampleRate: cfg.SampleRate,
		size:       cfg.BufferSize,
		period:     time.Duration(float64(time.Minute) / cfg.BPM),
		start:      cfg.Now(),
		now:        cfg.Now,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SampleRate is the nominal rate of the generated signal.
func (s *Synthetic) SampleRate() float64 {
	return s.sampleRate
}

// Samples renders the buffer ending at the current time.
func (s *Synthetic) Samples() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.now().Sub(s.start).Seconds()
	dt := 1 / s.sampleRate
	beat := s.period.Seconds()
	out := make([]float32, s.size)
	for i := range out {
		t := end - float64(s.size-1-i)*dt
		if t < 0 {
			continue
		}
		phase := math.Mod(t, beat)
		kick := math.Exp(-phase*18) * math.Sin(2*math.Pi*55*phase)
		bed := 0.12*math.Sin(2*math.Pi*220*t) + 0.06*math.Sin(2*math.Pi*330*t+0.5)
		noise := (s.rng.Float64()*2 - 1) * 0.02
		out[i] = float32(clampUnit(0.85*kick + bed + noise))
	}
	return out
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
