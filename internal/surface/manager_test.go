package surface

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/settings"
)

type fakeHandle struct {
	mu       sync.Mutex
	params   []Params
	speeds   []float64
	disposed bool
}

func (h *fakeHandle) SetParameters(p Params) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.params = append(h.params, p)
}

func (h *fakeHandle) SetSpeed(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speeds = append(h.speeds, v)
}

func (h *fakeHandle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposed = true
}

func (h *fakeHandle) isDisposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

func (h *fakeHandle) paramCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.params)
}

type fakeRenderer struct {
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
}

func (r *fakeRenderer) Allocate(_ context.Context, _ Element, initial Params) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	h := &fakeHandle{params: []Params{initial}}
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *fakeRenderer) live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.handles {
		if !h.isDisposed() {
			n++
		}
	}
	return n
}

func (r *fakeRenderer) allocated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

type fakeLocator struct {
	mu      sync.Mutex
	ready   map[Key]bool
	gate    chan struct{}
	waiting int
}

func (l *fakeLocator) waiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

func newFakeLocator(keys ...Key) *fakeLocator {
	l := &fakeLocator{ready: make(map[Key]bool)}
	for _, k := range keys {
		l.ready[k] = true
	}
	return l
}

func (l *fakeLocator) IsReady(key Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready[key]
}

func (l *fakeLocator) Element(key Key) (Element, bool) {
	if !l.IsReady(key) {
		return nil, false
	}
	return string(key), true
}

func (l *fakeLocator) WaitUntilReady(ctx context.Context, key Key, timeout time.Duration) bool {
	l.mu.Lock()
	gate := l.gate
	l.waiting++
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false
		}
	}
	if l.IsReady(key) {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return l.IsReady(key)
}

func testInput() Input {
	return Input{
		Colors:      colors.Palette{colors.RGB(200, 40, 40), colors.RGB(40, 40, 200)},
		Settings:    settings.Defaults(),
		Multipliers: settings.NeutralMultipliers(),
	}
}

func newTestManager(r Renderer, l Locator) *Manager {
	return NewManager(r, l, Options{ReadyTimeout: 20 * time.Millisecond, SettleDelay: time.Millisecond, FadeDuration: 10 * time.Millisecond})
}

func TestCreateReplacesExistingEffect(t *testing.T) {
	r := &fakeRenderer{}
	m := newTestManager(r, newFakeLocator(Primary))
	ctx := context.Background()

	require.True(t, m.Create(ctx, Primary, testInput()))
	require.True(t, m.Create(ctx, Primary, testInput()))
	require.True(t, m.Create(ctx, Primary, testInput()))

	require.Equal(t, 3, r.allocated())
	require.Equal(t, 1, r.live())
	require.True(t, m.Live(Primary))
}

func TestConcurrentCreatesLeaveOneHandle(t *testing.T) {
	r := &fakeRenderer{}
	l := newFakeLocator(Primary)
	l.gate = make(chan struct{})
	m := newTestManager(r, l)

	var wg sync.WaitGroup
	results := make([]bool, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Create(context.Background(), Primary, testInput())
		}(i)
	}
	require.Eventually(t, func() bool { return l.waiters() == len(results) }, time.Second, time.Millisecond)
	close(l.gate)
	wg.Wait()

	require.Equal(t, 1, r.live())
	require.True(t, m.Live(Primary))
	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}

func TestDestroyAbandonsPendingCreate(t *testing.T) {
	r := &fakeRenderer{}
	l := newFakeLocator(Primary)
	l.gate = make(chan struct{})
	m := newTestManager(r, l)

	done := make(chan bool)
	go func() { done <- m.Create(context.Background(), Primary, testInput()) }()
	require.Eventually(t, func() bool { return l.waiters() == 1 }, time.Second, time.Millisecond)
	m.Destroy(Primary)
	close(l.gate)

	require.False(t, <-done)
	require.False(t, m.Live(Primary))
	require.Zero(t, r.live())
}

func TestCreateFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("empty palette", func(t *testing.T) {
		r := &fakeRenderer{}
		m := newTestManager(r, newFakeLocator(Primary))
		in := testInput()
		in.Colors = nil
		require.False(t, m.Create(ctx, Primary, in))
		require.Zero(t, r.allocated())
	})

	t.Run("never ready", func(t *testing.T) {
		r := &fakeRenderer{}
		m := newTestManager(r, newFakeLocator())
		require.False(t, m.Create(ctx, BrowseA, testInput()))
		require.Zero(t, r.allocated())
		require.False(t, m.Live(BrowseA))
	})

	t.Run("renderer error", func(t *testing.T) {
		r := &fakeRenderer{err: errors.New("no gpu")}
		m := newTestManager(r, newFakeLocator(Primary))
		require.False(t, m.Create(ctx, Primary, testInput()))
		require.False(t, m.Live(Primary))
	})
}

func TestDestroyIsIdempotent(t *testing.T) {
	r := &fakeRenderer{}
	m := newTestManager(r, newFakeLocator(Primary, BrowseA))
	ctx := context.Background()
	require.True(t, m.Create(ctx, Primary, testInput()))
	require.True(t, m.Create(ctx, BrowseA, testInput()))

	require.True(t, m.Destroy(Primary))
	require.False(t, m.Destroy(Primary))
	require.False(t, m.Destroy(BrowseB))
	require.Equal(t, []Key{BrowseA}, m.LiveKeys())
	require.Equal(t, 1, m.DestroyAll())
	require.Zero(t, r.live())
}

func TestDestroyVariant(t *testing.T) {
	r := &fakeRenderer{}
	m := newTestManager(r, newFakeLocator(Primary, BrowseA))
	ctx := context.Background()

	in := testInput()
	require.True(t, m.Create(ctx, Primary, in))
	art := testInput()
	art.Settings.Variant = settings.VariantWarpedArtwork
	require.True(t, m.Create(ctx, BrowseA, art))

	require.Equal(t, []Key{BrowseA}, m.DestroyVariant(settings.VariantWarpedArtwork))
	require.True(t, m.Live(Primary))
	require.False(t, m.Live(BrowseA))
}

func TestPauseResumeEasesSpeed(t *testing.T) {
	r := &fakeRenderer{}
	m := newTestManager(r, newFakeLocator(Primary))
	require.True(t, m.Create(context.Background(), Primary, testInput()))
	base := settings.Defaults().Speed()

	require.True(t, m.Pause(Primary))
	require.False(t, m.Pause(Primary))

	now := time.Now()
	for i := 0; i < 1000; i++ {
		m.Tick(now)
	}
	st, ok := m.Snapshot(Primary)
	require.True(t, ok)
	require.True(t, st.Paused)
	require.Zero(t, st.Speed)

	require.True(t, m.Resume(Primary))
	require.False(t, m.Resume(Primary))
	m.Tick(now)
	st, _ = m.Snapshot(Primary)
	require.Greater(t, st.Speed, 0.0)
	require.Less(t, st.Speed, base)
	for i := 0; i < 1000; i++ {
		m.Tick(now)
	}
	st, _ = m.Snapshot(Primary)
	require.Equal(t, base, st.Speed)
}

func TestPauseBeforeCreateStartsStill(t *testing.T) {
	m := newTestManager(&fakeRenderer{}, newFakeLocator(BrowseB))
	m.Pause(BrowseB)
	require.True(t, m.Create(context.Background(), BrowseB, testInput()))
	st, _ := m.Snapshot(BrowseB)
	require.True(t, st.Paused)
	require.Zero(t, st.Speed)
	require.Zero(t, st.TargetSpeed)
}

func TestUpdateSettingsSkipsEqualValues(t *testing.T) {
	r := &fakeRenderer{}
	m := newTestManager(r, newFakeLocator(Primary))
	in := testInput()
	require.True(t, m.Create(context.Background(), Primary, in))
	h := r.handles[0]
	before := h.paramCount()

	require.False(t, m.UpdateSettings(Primary, in.Settings, in.Multipliers))
	require.Equal(t, before, h.paramCount())

	next := in.Settings
	next.Gradient.Distortion = 0.7
	require.True(t, m.UpdateSettings(Primary, next, in.Multipliers))
	require.Equal(t, before+1, h.paramCount())

	mult := settings.Multipliers{Speed: 2, Scale: 1.1}
	require.Equal(t, 1, m.UpdateAll(next, mult))
	st, _ := m.Snapshot(Primary)
	require.InDelta(t, next.Speed()*2, st.TargetSpeed, 1e-9)
	require.InDelta(t, next.Scale()*1.1, st.TargetScale, 1e-9)
}

func TestUpdateColors(t *testing.T) {
	r := &fakeRenderer{}
	m := newTestManager(r, newFakeLocator(Primary))
	in := testInput()
	require.False(t, m.UpdateColors(Primary, in.Colors, in.Settings, in.Multipliers))
	require.True(t, m.Create(context.Background(), Primary, in))

	next := colors.Palette{colors.RGB(1, 2, 3)}
	require.True(t, m.UpdateColors(Primary, next, in.Settings, in.Multipliers))
	st, _ := m.Snapshot(Primary)
	require.True(t, next.Equal(st.Colors))
}

func TestFadeInAfterSettle(t *testing.T) {
	now := time.Now()
	clock := now
	r := &fakeRenderer{}
	m := NewManager(r, newFakeLocator(Primary), Options{
		SettleDelay:  100 * time.Millisecond,
		FadeDuration: 600 * time.Millisecond,
		Now:          func() time.Time { return clock },
	})
	require.True(t, m.Create(context.Background(), Primary, testInput()))

	m.Tick(now.Add(50 * time.Millisecond))
	st, _ := m.Snapshot(Primary)
	require.Zero(t, st.Fade)

	m.Tick(now.Add(400 * time.Millisecond))
	st, _ = m.Snapshot(Primary)
	require.InDelta(t, 0.5, st.Fade, 1e-9)

	m.Tick(now.Add(2 * time.Second))
	st, _ = m.Snapshot(Primary)
	require.Equal(t, 1.0, st.Fade)
}

func TestArtworkTransitionKeepsNewestPending(t *testing.T) {
	start := time.Now()
	clock := start
	r := &fakeRenderer{}
	m := NewManager(r, newFakeLocator(Primary), Options{Now: func() time.Time { return clock }})

	in := testInput()
	in.Settings.Variant = settings.VariantWarpedArtwork
	in.Artwork = "a.jpg"
	require.True(t, m.Create(context.Background(), Primary, in))

	require.True(t, m.SetArtwork(Primary, "b.jpg"))
	require.True(t, m.SetArtwork(Primary, "c.jpg"))
	require.True(t, m.SetArtwork(Primary, "d.jpg"))

	st, _ := m.Snapshot(Primary)
	require.Equal(t, "b.jpg", st.Artwork)
	require.True(t, st.Transitioning)
	require.Equal(t, "d.jpg", st.Pending)

	clock = start.Add(time.Minute)
	m.Tick(clock)
	st, _ = m.Snapshot(Primary)
	require.Equal(t, "d.jpg", st.Artwork)
	require.Empty(t, st.Pending)
}

func TestSetArtworkIgnoresGradient(t *testing.T) {
	m := newTestManager(&fakeRenderer{}, newFakeLocator(Primary))
	require.True(t, m.Create(context.Background(), Primary, testInput()))
	require.False(t, m.SetArtwork(Primary, "x.jpg"))
}

func TestWanted(t *testing.T) {
	require.Equal(t, []Key{Primary}, Wanted(PageNowPlaying, true))
	require.Equal(t, []Key{Primary}, Wanted(PageAlbum, false))
	require.Equal(t, []Key{Primary, BrowseA, BrowseB}, Wanted(PagePlaylist, true))
	require.False(t, Page("settings").IsBrowse())
}
