package surface

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/logger"
	"github.com/guidoenr/backdrop/internal/settings"
)

const (
	DefaultReadyTimeout = 5 * time.Second
	DefaultSettleDelay  = 100 * time.Millisecond
	DefaultFadeDuration = 600 * time.Millisecond
)

// ErrNoElement is logged when a ready surface has no element to attach to.
var ErrNoElement = errors.New("surface element missing")

// Options configures a Manager.
type Options struct {
	ReadyTimeout time.Duration
	SettleDelay  time.Duration
	FadeDuration time.Duration
	Now          func() time.Time
	Log          *logger.Logger
}

// Manager is the registry of surface states. Each Manager is independent, so
// tests and embedders can run several side by side.
type Manager struct {
	renderer     Renderer
	locator      Locator
	readyTimeout time.Duration
	settleDelay  time.Duration
	fadeDuration time.Duration
	now          func() time.Time
	log          *logger.Logger

	mu     sync.Mutex
	states map[Key]*state
	gens   map[Key]uint64
	hidden map[Key]bool
}

// NewManager creates an empty registry.
func NewManager(renderer Renderer, locator Locator, opts Options) *Manager {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.FadeDuration <= 0 {
		opts.FadeDuration = DefaultFadeDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		renderer:     renderer,
		locator:      locator,
		readyTimeout: opts.ReadyTimeout,
		settleDelay:  opts.SettleDelay,
		fadeDuration: opts.FadeDuration,
		now:          opts.Now,
		log:          opts.Log,
		states:       make(map[Key]*state),
		gens:         make(map[Key]uint64),
		hidden:       make(map[Key]bool),
	}
}

// Create renders a new effect on key. An existing effect is destroyed first
// and any create still waiting for the same key is abandoned. It returns
// false when there are no colors, the surface does not become ready in time,
// the renderer fails or a newer create or destroy supersedes this one.
func (m *Manager) Create(ctx context.Context, key Key, in Input) bool {
	log := m.log.WithFields(map[string]any{"surface": string(key), "variant": string(in.Settings.Variant)})
	if len(in.Colors) == 0 {
		log.Debug("create skipped: empty palette")
		return false
	}

	m.mu.Lock()
	m.destroyLocked(key)
	m.gens[key]++
	gen := m.gens[key]
	m.mu.Unlock()

	if !m.locator.WaitUntilReady(ctx, key, m.readyTimeout) {
		log.Debug("create skipped: surface not ready")
		return false
	}
	el, ok := m.locator.Element(key)
	if !ok {
		log.Error(ErrNoElement, "create failed")
		return false
	}

	m.mu.Lock()
	if m.gens[key] != gen {
		m.mu.Unlock()
		log.Debug("create superseded before allocation")
		return false
	}
	st := newState(key, in, m.hidden[key], m.now())
	initial := st.params()
	m.mu.Unlock()

	handle, err := m.renderer.Allocate(ctx, el, initial)
	if err != nil {
		log.Error(err, "renderer allocation failed")
		return false
	}

	m.mu.Lock()
	if m.gens[key] != gen {
		m.mu.Unlock()
		handle.Dispose()
		log.Debug("create superseded")
		return false
	}
	m.destroyLocked(key)
	st.handle = handle
	st.createdAt = m.now()
	m.states[key] = st
	m.mu.Unlock()

	log.Info("effect created")
	return true
}

// UpdateColors swaps the palette of a live effect and reapplies parameters.
func (m *Manager) UpdateColors(key Key, palette colors.Palette, s settings.Settings, mult settings.Multipliers) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.liveLocked(key)
	if st == nil {
		return false
	}
	if !st.colors.Equal(palette) {
		st.colors = palette.Clone()
	}
	st.settings = s
	st.multipliers = mult
	st.retarget()
	st.handle.SetParameters(st.params())
	return true
}

// UpdateSettings reapplies settings and multipliers to a live effect unless
// both are equal to what it already shows.
func (m *Manager) UpdateSettings(key Key, s settings.Settings, mult settings.Multipliers) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.liveLocked(key)
	if st == nil {
		return false
	}
	if st.settings == s && st.multipliers == mult {
		return false
	}
	st.settings = s
	st.multipliers = mult
	st.retarget()
	st.handle.SetParameters(st.params())
	return true
}

// UpdateAll pushes settings and multipliers into every live effect and
// returns how many changed.
func (m *Manager) UpdateAll(s settings.Settings, mult settings.Multipliers) int {
	n := 0
	for _, key := range Keys() {
		if m.UpdateSettings(key, s, mult) {
			n++
		}
	}
	return n
}

// SetArtwork starts an artwork transition on a warped-artwork surface. While
// one transition runs, the newest request waits as the single pending one.
func (m *Manager) SetArtwork(key Key, ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.liveLocked(key)
	if st == nil || st.settings.Variant != settings.VariantWarpedArtwork {
		return false
	}
	if st.transitioning {
		st.pending = ref
		return true
	}
	if ref == st.artwork {
		return false
	}
	m.startTransitionLocked(st, ref)
	return true
}

// Destroy tears down the effect on key and abandons in-flight creates.
// It reports whether an effect was live.
func (m *Manager) Destroy(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[key]++
	return m.destroyLocked(key)
}

// DestroyAll tears down every surface.
func (m *Manager) DestroyAll() int {
	n := 0
	for _, key := range Keys() {
		if m.Destroy(key) {
			n++
		}
	}
	return n
}

// DestroyVariant tears down only the surfaces currently rendering v.
func (m *Manager) DestroyVariant(v settings.Variant) []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Key
	for _, key := range Keys() {
		st := m.liveLocked(key)
		if st == nil || st.settings.Variant != v {
			continue
		}
		m.gens[key]++
		m.destroyLocked(key)
		out = append(out, key)
	}
	return out
}

// Pause ramps the speed of key toward zero. Calling it twice is a no-op.
func (m *Manager) Pause(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden[key] = true
	st := m.liveLocked(key)
	if st == nil || st.paused {
		return false
	}
	st.paused = true
	st.retarget()
	return true
}

// Resume ramps the speed of key back to its settings-derived target.
func (m *Manager) Resume(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hidden, key)
	st := m.liveLocked(key)
	if st == nil || !st.paused {
		return false
	}
	st.paused = false
	st.retarget()
	return true
}

// Tick advances every live effect by one animation step: fade-in, speed and
// scale ramps, and artwork transitions.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range Keys() {
		st := m.liveLocked(key)
		if st == nil {
			continue
		}
		m.tickLocked(st, now)
	}
}

func (m *Manager) tickLocked(st *state, now time.Time) {
	dirty := false

	fadeStart := st.createdAt.Add(m.settleDelay)
	if st.fade < 1 && !now.Before(fadeStart) {
		progress := float64(now.Sub(fadeStart)) / float64(m.fadeDuration)
		if progress > 1 {
			progress = 1
		}
		if progress > st.fade {
			st.fade = progress
			dirty = true
		}
	}

	if st.speed != st.targetSpeed {
		st.speed, _ = ease(st.speed, st.targetSpeed)
		st.handle.SetSpeed(st.speed)
	}
	if st.scale != st.targetScale {
		st.scale, _ = ease(st.scale, st.targetScale)
		dirty = true
	}

	if st.transitioning && !now.Before(st.transitionEnd) {
		st.transitioning = false
		if st.pending != "" {
			next := st.pending
			st.pending = ""
			if next != st.artwork {
				m.startTransitionLocked(st, next)
				return
			}
		}
	}

	if dirty {
		st.handle.SetParameters(st.params())
	}
}

func (m *Manager) startTransitionLocked(st *state, ref string) {
	st.artwork = ref
	st.pending = ""
	d := time.Duration(st.settings.TransitionMillis() * float64(time.Millisecond))
	if d > 0 {
		st.transitioning = true
		st.transitionEnd = m.now().Add(d)
	}
	st.handle.SetParameters(st.params())
}

// Live reports whether key currently shows an effect.
func (m *Manager) Live(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(key) != nil
}

// LiveKeys lists surfaces with a live effect.
func (m *Manager) LiveKeys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Key
	for _, key := range Keys() {
		if m.liveLocked(key) != nil {
			out = append(out, key)
		}
	}
	return out
}

// Snapshot returns a copy of the state for key.
func (m *Manager) Snapshot(key Key) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.liveLocked(key)
	if st == nil {
		return State{Key: key, Paused: m.hidden[key]}, false
	}
	return st.snapshot(), true
}

func (m *Manager) liveLocked(key Key) *state {
	st := m.states[key]
	if st == nil || st.handle == nil {
		return nil
	}
	return st
}

// destroyLocked disposes the handle and drops the record so no animation
// state survives into the next create.
func (m *Manager) destroyLocked(key Key) bool {
	st := m.states[key]
	delete(m.states, key)
	if st == nil || st.handle == nil {
		return false
	}
	st.handle.Dispose()
	st.handle = nil
	m.log.With("surface", string(key)).Debug("effect destroyed")
	return true
}
