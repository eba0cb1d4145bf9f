package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guidoenr/backdrop/internal/beat"
	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/logger"
	"github.com/guidoenr/backdrop/internal/memory"
	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/store"
	"github.com/guidoenr/backdrop/internal/surface"
)

type fakeHandle struct {
	mu       sync.Mutex
	last     surface.Params
	disposed bool
}

func (h *fakeHandle) SetParameters(p surface.Params) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = p
}

func (h *fakeHandle) SetSpeed(float64) {}

func (h *fakeHandle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposed = true
}

type fakeRenderer struct {
	mu      sync.Mutex
	handles []*fakeHandle
}

func (r *fakeRenderer) Allocate(_ context.Context, _ surface.Element, p surface.Params) (surface.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &fakeHandle{last: p}
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *fakeRenderer) counts() (allocated, live int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		h.mu.Lock()
		if !h.disposed {
			live++
		}
		h.mu.Unlock()
	}
	return len(r.handles), live
}

type fakeLocator struct {
	mu    sync.Mutex
	ready map[surface.Key]bool
	page  surface.Page
}

func newLocator(keys ...surface.Key) *fakeLocator {
	l := &fakeLocator{ready: make(map[surface.Key]bool)}
	for _, k := range keys {
		l.ready[k] = true
	}
	return l
}

func (l *fakeLocator) SetPage(p surface.Page) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.page = p
}

func (l *fakeLocator) currentPage() surface.Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page
}

func (l *fakeLocator) IsReady(key surface.Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready[key]
}

func (l *fakeLocator) Element(key surface.Key) (surface.Element, bool) {
	return string(key), l.IsReady(key)
}

func (l *fakeLocator) WaitUntilReady(ctx context.Context, key surface.Key, timeout time.Duration) bool {
	if l.IsReady(key) {
		return true
	}
	select {
	case <-time.After(timeout):
	case <-ctx.Done():
	}
	return l.IsReady(key)
}

type extractCall struct {
	ref   string
	boost bool
	knobs settings.Boost
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []extractCall
	palette func(extractCall) colors.Palette
}

func (e *fakeExtractor) Extract(_ context.Context, ref string, boost bool, knobs settings.Boost) colors.Palette {
	call := extractCall{ref: ref, boost: boost, knobs: knobs}
	e.mu.Lock()
	e.calls = append(e.calls, call)
	fn := e.palette
	e.mu.Unlock()
	if fn == nil {
		return warm
	}
	return fn(call)
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeExtractor) lastCall() extractCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

type fakeDetector struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	cb      func(beat.Sample)
}

func (d *fakeDetector) Start(_ settings.Settings, cb func(beat.Sample)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	d.starts++
	d.cb = cb
}

func (d *fakeDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		d.stops++
	}
	d.running = false
	d.cb = nil
}

func (d *fakeDetector) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *fakeDetector) emit(s beat.Sample) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

var (
	warm   = colors.Palette{colors.RGB(220, 90, 40), colors.RGB(180, 40, 60)}
	cool   = colors.Palette{colors.RGB(30, 90, 200), colors.RGB(20, 160, 180)}
	picked = colors.Palette{colors.RGB(10, 200, 10)}
)

type harness struct {
	orch      *Orchestrator
	renderer  *fakeRenderer
	locator   *fakeLocator
	extractor *fakeExtractor
	detector  *fakeDetector
	store     *store.Memory
	memory    *memory.Memory
	surfaces  *surface.Manager
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, s settings.Settings, page surface.Page, ready ...surface.Key) *harness {
	t.Helper()
	h := &harness{
		renderer:  &fakeRenderer{},
		locator:   newLocator(ready...),
		extractor: &fakeExtractor{},
		detector:  &fakeDetector{},
		store:     store.NewMemory(),
	}
	h.memory = memory.New(h.store, memory.Options{Delay: time.Hour})
	h.surfaces = surface.NewManager(h.renderer, h.locator, surface.Options{ReadyTimeout: 30 * time.Millisecond})
	orch, err := New(Deps{
		Surfaces:  h.surfaces,
		Locator:   h.locator,
		Extractor: h.extractor,
		Memory:    h.memory,
		Detector:  h.detector,
		Store:     h.store,
	}, Options{Settings: s, Page: page, FrameInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = h.orch.Run(ctx) }()
	t.Cleanup(h.stop)
	select {
	case <-h.orch.Ready():
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not start")
	}
}

func (h *harness) stop() {
	h.cancel()
	<-h.orch.Done()
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, err := h.orch.State(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) eventuallyLive(t *testing.T, keys ...surface.Key) {
	t.Helper()
	require.Eventually(t, func() bool {
		live := h.surfaces.LiveKeys()
		return len(live) == len(keys) && (len(keys) == 0 || live[0] == keys[0])
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEndToEndWarpedArtwork(t *testing.T) {
	s := settings.Defaults()
	s.Variant = settings.VariantWarpedArtwork
	h := newHarness(t, s, surface.PageNowPlaying, surface.Primary)
	h.start(t)

	ctx := context.Background()
	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "https://img.example/cover.jpg?size=640", Title: "Song", Author: "Band"}))
	h.eventuallyLive(t, surface.Primary)

	st := h.state(t)
	require.True(t, warm.Equal(st.Colors))
	require.Equal(t, "Song", st.Title)
	require.Len(t, st.Surfaces, 1)
	require.Equal(t, "https://img.example/cover.jpg?size=640", st.Surfaces[0].Artwork)

	h.stop()
	allocated, live := h.renderer.counts()
	require.Equal(t, 1, allocated)
	require.Zero(t, live)

	entries, err := memory.New(h.store, memory.Options{}).Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "https://img.example/cover.jpg", entries[0].ID)
	require.False(t, entries[0].ManuallyModified)
	require.True(t, warm.Equal(entries[0].Colors))
}

func TestDisableLeavesNoHandles(t *testing.T) {
	s := settings.Defaults()
	s.Audio.Enabled = true
	h := newHarness(t, s, surface.PageAlbum, surface.Keys()...)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "a.png"}))
	require.Eventually(t, func() bool { return len(h.surfaces.LiveKeys()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, h.detector.isRunning())

	off := s
	off.Enabled = false
	_, _, err := h.orch.ApplySettings(ctx, off)
	require.NoError(t, err)

	st := h.state(t)
	require.Empty(t, st.Surfaces)
	require.Empty(t, st.Colors)
	_, live := h.renderer.counts()
	require.Zero(t, live)
	require.False(t, h.detector.isRunning())

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "b.png"}))
	st = h.state(t)
	require.Empty(t, st.Surfaces)

	_, _, err = h.orch.ApplySettings(ctx, s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.surfaces.LiveKeys()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "b.png", h.extractor.lastCall().ref)
	require.True(t, h.detector.isRunning())
}

func TestManualOverrideWinsOverFreshExtraction(t *testing.T) {
	s := settings.Defaults()
	h := newHarness(t, s, surface.PageNowPlaying, surface.Primary)
	ctx := context.Background()
	h.memory.Save("cover.png", picked, true)
	require.NoError(t, h.memory.Flush(ctx))
	h.start(t)

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "cover.png?v=2"}))
	h.eventuallyLive(t, surface.Primary)
	require.True(t, picked.Equal(h.state(t).Colors))
}

func TestSavedColorsUsedWhenBoostOff(t *testing.T) {
	s := settings.Defaults()
	s.BoostDullColors = false
	h := newHarness(t, s, surface.PageNowPlaying, surface.Primary)
	ctx := context.Background()
	h.memory.Save("cover.png", cool, false)
	require.NoError(t, h.memory.Flush(ctx))
	h.start(t)

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "cover.png"}))
	h.eventuallyLive(t, surface.Primary)
	require.True(t, cool.Equal(h.state(t).Colors))
}

func TestBoostChangeReextracts(t *testing.T) {
	s := settings.Defaults()
	h := newHarness(t, s, surface.PageNowPlaying, surface.Primary)
	h.extractor.palette = func(c extractCall) colors.Palette {
		if c.knobs.Intensity > 1 {
			return cool
		}
		return warm
	}
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "cover.png"}))
	h.eventuallyLive(t, surface.Primary)
	require.Equal(t, 1, h.extractor.callCount())

	next := s
	next.Boost.Intensity = 1.8
	_, _, err := h.orch.ApplySettings(ctx, next)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := h.surfaces.Snapshot(surface.Primary)
		return ok && cool.Equal(st.Colors)
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, h.extractor.callCount())
	require.Equal(t, 1.8, h.extractor.lastCall().knobs.Intensity)
	allocated, _ := h.renderer.counts()
	require.Equal(t, 1, allocated)
}

func TestVariantSwitchKeepsPalette(t *testing.T) {
	s := settings.Defaults()
	h := newHarness(t, s, surface.PageNowPlaying, surface.Primary)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.orch.SetColors(ctx, picked))
	h.eventuallyLive(t, surface.Primary)

	next := s
	next.Variant = settings.VariantWarpedArtwork
	_, _, err := h.orch.ApplySettings(ctx, next)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := h.surfaces.Snapshot(surface.Primary)
		return ok && st.Variant == settings.VariantWarpedArtwork
	}, 2*time.Second, 5*time.Millisecond)
	st, _ := h.surfaces.Snapshot(surface.Primary)
	require.True(t, picked.Equal(st.Colors))
	allocated, live := h.renderer.counts()
	require.Equal(t, 2, allocated)
	require.Equal(t, 1, live)
}

func TestBeatSamplesDriveMultipliers(t *testing.T) {
	s := settings.Defaults()
	s.Audio.Enabled = true
	h := newHarness(t, s, surface.PageNowPlaying, surface.Primary)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "cover.png"}))
	h.eventuallyLive(t, surface.Primary)

	boosted := settings.Multipliers{Speed: 2, Scale: 1.08}
	h.detector.emit(beat.Sample{Multipliers: boosted, Beat: true, Peak: 0.9})
	require.Eventually(t, func() bool {
		st, _ := h.surfaces.Snapshot(surface.Primary)
		return st.Multipliers == boosted
	}, 2*time.Second, 5*time.Millisecond)

	off := s
	off.Audio.Enabled = false
	_, _, err := h.orch.ApplySettings(ctx, off)
	require.NoError(t, err)

	st := h.state(t)
	require.False(t, st.Beat.Beat)
	require.Equal(t, settings.NeutralMultipliers(), st.Surfaces[0].Multipliers)
	require.False(t, h.detector.isRunning())
}

func TestNavigationSyncsBrowseSurfaces(t *testing.T) {
	s := settings.Defaults()
	h := newHarness(t, s, surface.PageNowPlaying, surface.Keys()...)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "cover.png"}))
	h.eventuallyLive(t, surface.Primary)

	require.NoError(t, h.orch.Navigate(ctx, surface.PagePlaylist))
	require.Eventually(t, func() bool { return len(h.surfaces.LiveKeys()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, surface.PagePlaylist, h.locator.currentPage())

	hidden := s
	hidden.ShowOnBrowse = false
	_, _, err := h.orch.ApplySettings(ctx, hidden)
	require.NoError(t, err)
	h.eventuallyLive(t, surface.Primary)

	_, _, err = h.orch.ApplySettings(ctx, s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.surfaces.LiveKeys()) == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.orch.Navigate(ctx, surface.PageNowPlaying))
	h.eventuallyLive(t, surface.Primary)
}

func TestVisibilityPausesSurface(t *testing.T) {
	h := newHarness(t, settings.Defaults(), surface.PageNowPlaying, surface.Primary)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "cover.png"}))
	h.eventuallyLive(t, surface.Primary)

	require.NoError(t, h.orch.SetVisible(ctx, surface.Primary, false))
	st := h.state(t)
	require.True(t, st.Surfaces[0].Paused)
	require.Zero(t, st.Surfaces[0].TargetSpeed)

	require.NoError(t, h.orch.SetVisible(ctx, surface.Primary, true))
	require.False(t, h.state(t).Surfaces[0].Paused)
	require.Error(t, h.orch.SetVisible(ctx, surface.Key("sidebar"), true))
}

func TestSetColorsRemembersManualOverride(t *testing.T) {
	h := newHarness(t, settings.Defaults(), surface.PageNowPlaying, surface.Primary)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.orch.TrackChanged(ctx, Track{Artwork: "cover.png"}))
	h.eventuallyLive(t, surface.Primary)
	require.NoError(t, h.orch.SetColors(ctx, picked))
	require.True(t, picked.Equal(h.state(t).Colors))

	rec, ok := h.memory.Load(ctx, "cover.png")
	require.True(t, ok)
	require.True(t, rec.ManuallyModified)
	require.True(t, picked.Equal(rec.Colors))

	require.NoError(t, h.orch.ResetMemory(ctx, false))
	require.Eventually(t, func() bool { return warm.Equal(h.state(t).Colors) }, 2*time.Second, 5*time.Millisecond)
	require.Error(t, h.orch.SetColors(ctx, nil))
}

func TestSettingsPersistAndRestore(t *testing.T) {
	h := newHarness(t, settings.Defaults(), surface.PageNowPlaying)
	stored := settings.Defaults()
	stored.Gradient.Distortion = 0.9
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	require.NoError(t, h.store.Set(context.Background(), SettingsKey, data))
	h.start(t)
	ctx := context.Background()

	require.Equal(t, 0.9, h.state(t).Settings.Gradient.Distortion)

	next := stored
	next.Gradient.Scale = 99
	clean, touched, err := h.orch.ApplySettings(ctx, next)
	require.NoError(t, err)
	require.NotEmpty(t, touched)
	require.Less(t, clean.Gradient.Scale, 99.0)

	require.Eventually(t, func() bool {
		raw, ok, err := h.store.Get(ctx, SettingsKey)
		if err != nil || !ok {
			return false
		}
		got, _, err := settings.Decode(raw)
		return err == nil && got == clean
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPostAfterStop(t *testing.T) {
	h := newHarness(t, settings.Defaults(), surface.PageNowPlaying)
	h.start(t)
	h.stop()
	_, err := h.orch.State(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestConcurrentPartialUpdatesCompose(t *testing.T) {
	h := newHarness(t, settings.Defaults(), surface.PageNowPlaying)
	h.start(t)
	ctx := context.Background()

	patches := []func(*settings.Settings) error{
		func(s *settings.Settings) error { s.Gradient.Distortion = 0.9; return nil },
		func(s *settings.Settings) error { s.Audio.BeatThreshold = 0.2; return nil },
	}
	errs := make(chan error, len(patches))
	for _, patch := range patches {
		go func(patch func(*settings.Settings) error) {
			_, _, err := h.orch.UpdateSettings(ctx, patch)
			errs <- err
		}(patch)
	}
	for range patches {
		require.NoError(t, <-errs)
	}

	got := h.state(t).Settings
	require.Equal(t, 0.9, got.Gradient.Distortion)
	require.Equal(t, 0.2, got.Audio.BeatThreshold)
}

func TestUpdateSettingsErrorLeavesSettings(t *testing.T) {
	h := newHarness(t, settings.Defaults(), surface.PageNowPlaying)
	h.start(t)
	ctx := context.Background()

	_, _, err := h.orch.UpdateSettings(ctx, func(s *settings.Settings) error {
		s.Enabled = false
		return errors.New("bad patch")
	})
	require.EqualError(t, err, "bad patch")
	require.True(t, h.state(t).Settings.Enabled)
}

func TestVerboseLoggingFollowsSettings(t *testing.T) {
	t.Cleanup(func() { logger.SetVerbose(false) })
	h := newHarness(t, settings.Defaults(), surface.PageNowPlaying)
	h.start(t)
	ctx := context.Background()
	require.False(t, logger.Verbose())

	_, _, err := h.orch.UpdateSettings(ctx, func(s *settings.Settings) error {
		s.VerboseLogging = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, logger.Verbose())

	_, _, err = h.orch.UpdateSettings(ctx, func(s *settings.Settings) error {
		s.VerboseLogging = false
		return nil
	})
	require.NoError(t, err)
	require.False(t, logger.Verbose())
}
