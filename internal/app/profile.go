package app

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/guidoenr/backdrop/internal/logger"
)

// profiler appends per-frame section timings to a CSV file.
type profiler struct {
	mu    sync.Mutex
	out   io.WriteCloser
	now   func() time.Time
	start time.Time
	last  time.Time
}

func newProfiler(path string, log *logger.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Error(err, "profiler disabled")
		return nil
	}
	return newProfilerTo(f, time.Now)
}

func newProfilerTo(out io.WriteCloser, now func() time.Time) *profiler {
	p := &profiler{out: out, now: now}
	fmt.Fprintln(p.out, "timestamp,section,delta_ms")
	return p
}

func (p *profiler) BeginFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.start = now
	p.last = now
}

func (p *profiler) Mark(section string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.writeLocked(now, section, now.Sub(p.last))
	p.last = now
}

func (p *profiler) EndFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.writeLocked(now, "frame_total", now.Sub(p.start))
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Close()
}

func (p *profiler) writeLocked(at time.Time, section string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	fmt.Fprintf(p.out, "%s,%s,%.3f\n", at.UTC().Format(time.RFC3339Nano), section, ms)
}
