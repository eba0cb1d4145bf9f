package audio

import "sync"

// ring keeps the most recent mono samples written by the stream callback.
type ring struct {
	mu     sync.RWMutex
	buffer []float32
	index  int
	mono   []float32
}

func newRing(size int) *ring {
	return &ring{buffer: make([]float32, size)}
}

// write downmixes interleaved frames and appends them, overwriting the
// oldest samples.
func (r *ring) write(in []float32, channels int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channels > 1 {
		frames := len(in) / channels
		if cap(r.mono) < frames {
			r.mono = make([]float32, frames)
		}
		mono := r.mono[:frames]
		for i := range mono {
			var sum float32
			base := i * channels
			for ch := 0; ch < channels; ch++ {
				sum += in[base+ch]
			}
			mono[i] = sum / float32(channels)
		}
		in = mono
	}
	r.appendLocked(in)
}

func (r *ring) appendLocked(in []float32) {
	size := len(r.buffer)
	if len(in) == 0 || size == 0 {
		return
	}
	if len(in) >= size {
		copy(r.buffer, in[len(in)-size:])
		r.index = 0
		return
	}
	n := copy(r.buffer[r.index:], in)
	if n < len(in) {
		copy(r.buffer, in[n:])
	}
	r.index = (r.index + len(in)) % size
}

// snapshot returns the buffer oldest sample first.
func (r *ring) snapshot() []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float32, len(r.buffer))
	n := copy(out, r.buffer[r.index:])
	copy(out[n:], r.buffer[:r.index])
	return out
}
