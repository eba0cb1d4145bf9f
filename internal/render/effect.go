package render

import (
	"sync"

	"github.com/guidoenr/backdrop/internal/surface"
)

// effect is one live handle. Its phase advances with the speed the surface
// manager eases.
type effect struct {
	stage *Stage
	key   surface.Key

	mu       sync.Mutex
	params   surface.Params
	speed    float64
	phase    float64
	disposed bool
}

func newEffect(stage *Stage, key surface.Key, initial surface.Params) *effect {
	return &effect{stage: stage, key: key, params: initial, speed: initial.Speed}
}

func (e *effect) SetParameters(p surface.Params) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = p
	e.speed = p.Speed
}

func (e *effect) SetSpeed(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = v
}

func (e *effect) Dispose() {
	e.detach()
	e.stage.release(e)
}

func (e *effect) detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
}

// advance moves the phase by dt seconds and returns a copy of the state to
// draw.
func (e *effect) advance(dt float64) (surface.Params, float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return surface.Params{}, 0, false
	}
	e.phase += dt * e.speed
	return e.params, e.phase, true
}
