// Package beat samples an audio signal on a fixed tick, classifies each sample
// as a beat or not and derives the dynamic multipliers the surfaces consume.
package beat

import (
	"sync"
	"time"

	"github.com/guidoenr/backdrop/internal/logger"
	"github.com/guidoenr/backdrop/internal/settings"
)

// DefaultInterval is the analysis tick.
const DefaultInterval = 100 * time.Millisecond

// Source yields the most recent buffer of time-domain samples in [-1,1].
type Source interface {
	Samples() []float32
}

// SourceFunc adapts a function to Source.
type SourceFunc func() []float32

// Samples implements Source.
func (f SourceFunc) Samples() []float32 { return f() }

// Sample is what the detector emits on every tick.
type Sample struct {
	Multipliers Multipliers   `json:"multipliers"`
	Peak        float64       `json:"peak"`
	Beat        bool          `json:"beat"`
	Low         float64       `json:"low"`
	At          time.Time     `json:"at"`
	SinceLast   time.Duration `json:"sinceLast"`
}

// Options configures a Detector.
type Options struct {
	Interval   time.Duration
	SampleRate float64
	Now        func() time.Time
	Log        *logger.Logger
}

// Detector runs the tick loop. Start and Stop may be called from any goroutine
// but the onSample callback must not call Stop itself.
type Detector struct {
	source   Source
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger

	mu         sync.Mutex
	running    bool
	gen        uint64
	audio      settings.Audio
	lastSample time.Time
	stop       chan struct{}
	done       chan struct{}
	spectrum   *spectrum
}

// New creates a stopped Detector reading from source.
func New(source Source, opts Options) *Detector {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{
		source:   source,
		interval: opts.Interval,
		now:      opts.Now,
		log:      opts.Log,
		spectrum: newSpectrum(opts.SampleRate),
	}
}

// Start (re)starts analysis with the audio knobs of s. A running loop is
// stopped first and detection state is reset.
func (d *Detector) Start(s settings.Settings, onSample func(Sample)) {
	d.Stop()

	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.running = true
	d.audio = s.Audio
	d.lastSample = time.Time{}
	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop = stop
	d.done = done
	d.mu.Unlock()

	d.log.WithFields(map[string]any{
		"threshold": s.Audio.BeatThreshold,
		"interval":  d.interval.String(),
	}).Debug("beat detector started")

	go d.loop(gen, stop, done, onSample)
}

// Stop cancels the loop and waits for it to exit. After Stop returns the
// callback passed to Start is never invoked again.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	done := d.done
	d.mu.Unlock()

	<-done
	d.log.Debug("beat detector stopped")
}

// Running reports whether the loop is active.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Step performs a single analysis pass outside the loop. It returns false when
// the detector is stopped.
func (d *Detector) Step() (Sample, bool) {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	return d.sample(gen)
}

func (d *Detector) loop(gen uint64, stop <-chan struct{}, done chan<- struct{}, onSample func(Sample)) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample, ok := d.sample(gen)
			if !ok {
				return
			}
			if onSample != nil {
				onSample(sample)
			}
		}
	}
}

func (d *Detector) sample(gen uint64) (Sample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || gen != d.gen {
		return Sample{}, false
	}

	var samples []float32
	if d.source != nil {
		samples = d.source.Samples()
	}

	threshold := d.audio.BeatThreshold
	peak := Peak(samples, threshold)
	isBeat := IsBeat(peak, threshold)
	now := d.now()

	out := Sample{
		Multipliers: Derive(d.audio, isBeat),
		Peak:        peak,
		Beat:        isBeat,
		Low:         d.spectrum.lowBand(samples),
		At:          now,
	}
	if !d.lastSample.IsZero() {
		out.SinceLast = now.Sub(d.lastSample)
	}
	d.lastSample = now
	return out, true
}
