// Package render is a terminal preview of the effect surfaces. A Stage lays
// the three surfaces out on the terminal, tells the orchestrator when each is
// ready and draws the live effects into ANSI frames.
package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guidoenr/backdrop/internal/surface"
)

// rect is a cell region of the terminal.
type rect struct {
	x, y, w, h int
}

func (r rect) empty() bool {
	return r.w <= 0 || r.h <= 0
}

func (r rect) contains(x, y int) bool {
	return x >= r.x && x < r.x+r.w && y >= r.y && y < r.y+r.h
}

// Stage implements surface.Renderer, surface.Locator and surface.PageTracker
// over a terminal of width x height cells.
type Stage struct {
	ramp []rune

	mu      sync.Mutex
	width   int
	height  int
	page    surface.Page
	layout  map[surface.Key]rect
	effects map[surface.Key]*effect
	changed chan struct{}
}

// NewStage creates a stage for a terminal of the given size.
func NewStage(width, height int, rampName string) *Stage {
	s := &Stage{
		ramp:    Ramp(rampName),
		page:    surface.PageNowPlaying,
		effects: make(map[surface.Key]*effect),
		changed: make(chan struct{}),
	}
	s.Resize(width, height)
	return s
}

// Resize changes the terminal size and relays out the surfaces.
func (s *Stage) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if width == s.width && height == s.height && s.layout != nil {
		return
	}
	s.width, s.height = width, height
	s.relayoutLocked()
}

// SetPage switches the page shown around the surfaces. Browse surfaces only
// exist on browse pages.
func (s *Stage) SetPage(page surface.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page == s.page {
		return
	}
	s.page = page
	s.relayoutLocked()
}

// Page returns the current page.
func (s *Stage) Page() surface.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *Stage) relayoutLocked() {
	layout := make(map[surface.Key]rect)
	w, h := s.width, s.height
	if w > 0 && h > 0 {
		if s.page.IsBrowse() && h >= 3 {
			header := h / 3
			half := w / 2
			layout[surface.BrowseA] = rect{x: 0, y: 0, w: half, h: header}
			layout[surface.BrowseB] = rect{x: half, y: 0, w: w - half, h: header}
			layout[surface.Primary] = rect{x: 0, y: header, w: w, h: h - header}
		} else {
			layout[surface.Primary] = rect{w: w, h: h}
		}
	}
	s.layout = layout
	close(s.changed)
	s.changed = make(chan struct{})
}

// IsReady reports whether key has a non-empty region.
func (s *Stage) IsReady(key surface.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.layout[key].empty()
}

// Element returns the key itself as the element handle of a ready surface.
func (s *Stage) Element(key surface.Key) (surface.Element, bool) {
	if !s.IsReady(key) {
		return nil, false
	}
	return key, true
}

// WaitUntilReady blocks until key has a region, the timeout passes or ctx
// is done.
func (s *Stage) WaitUntilReady(ctx context.Context, key surface.Key, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		ready := !s.layout[key].empty()
		changed := s.changed
		s.mu.Unlock()
		if ready {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return s.IsReady(key)
		case <-ctx.Done():
			return false
		}
	}
}

// Allocate attaches a new effect to the surface named by el.
func (s *Stage) Allocate(ctx context.Context, el surface.Element, initial surface.Params) (surface.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, ok := el.(surface.Key)
	if !ok || !key.Valid() {
		return nil, fmt.Errorf("render: unsupported element %v", el)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layout[key].empty() {
		return nil, fmt.Errorf("render: surface %s has no region", key)
	}
	e := newEffect(s, key, initial)
	if old := s.effects[key]; old != nil {
		old.detach()
	}
	s.effects[key] = e
	return e, nil
}

func (s *Stage) release(e *effect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.effects[e.key] == e {
		delete(s.effects, e.key)
	}
}

// Effects reports how many effects are attached.
func (s *Stage) Effects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.effects)
}
