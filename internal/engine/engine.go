// Package engine is the orchestration facade. It owns a single event loop
// that serialises navigation, track, settings and completion events and
// drives the surfaces, the palette pipeline, the beat detector and the album
// memory from it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guidoenr/backdrop/internal/beat"
	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/logger"
	"github.com/guidoenr/backdrop/internal/memory"
	"github.com/guidoenr/backdrop/internal/reconcile"
	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/surface"
)

const (
	// DefaultFrameInterval drives surface easing at roughly 60 steps a second.
	DefaultFrameInterval = time.Second / 60
	// SettingsKey is the store key holding the persisted settings snapshot.
	SettingsKey = "settings"

	eventBuffer     = 64
	shutdownTimeout = 3 * time.Second
)

// ErrNotRunning is returned when an event is posted to a stopped loop.
var ErrNotRunning = errors.New("orchestrator not running")

// Extractor produces palettes for artwork references.
type Extractor interface {
	Extract(ctx context.Context, ref string, boost bool, knobs settings.Boost) colors.Palette
}

// BeatDetector is the audio analysis loop.
type BeatDetector interface {
	Start(s settings.Settings, onSample func(beat.Sample))
	Stop()
}

// Track is the now-playing item.
type Track struct {
	Artwork string `json:"artwork"`
	Title   string `json:"title"`
	Author  string `json:"author"`
}

// Deps are the components the orchestrator drives.
type Deps struct {
	Surfaces  *surface.Manager
	Locator   surface.Locator
	Extractor Extractor
	Memory    *memory.Memory
	Detector  BeatDetector
	// Store persists the settings snapshot. Optional.
	Store memory.Store
}

// Options configures an Orchestrator.
type Options struct {
	Settings      settings.Settings
	Page          surface.Page
	FrameInterval time.Duration
	Log           *logger.Logger
}

// Orchestrator is the facade. Its exported methods are safe for concurrent
// use; everything else runs on the loop goroutine started by Run.
type Orchestrator struct {
	deps  Deps
	frame time.Duration
	log   *logger.Logger

	events  chan func(context.Context)
	started chan struct{}
	stopped chan struct{}

	// loop-owned
	settings    settings.Settings
	page        surface.Page
	track       Track
	active      colors.Palette
	mult        settings.Multipliers
	lastSample  beat.Sample
	beatGen     uint64
	extractGen  uint64
	cancelFetch context.CancelFunc
	createSeq   uint64
	creating    map[surface.Key]uint64
	listeners   []func(State)
	saveSeq     uint64

	saveMu   sync.Mutex
	savedSeq uint64
	saves    sync.WaitGroup
}

// New creates an orchestrator. Run must be called to start processing.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Surfaces == nil || deps.Extractor == nil || deps.Memory == nil || deps.Detector == nil {
		return nil, errors.New("engine: surfaces, extractor, memory and detector are required")
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.Page == "" {
		opts.Page = surface.PageNowPlaying
	}
	if opts.Settings == (settings.Settings{}) {
		opts.Settings = settings.Defaults()
	}
	initial, touched := opts.Settings.Sanitize()
	if len(touched) > 0 {
		opts.Log.With("fields", touched).Warn("initial settings clamped")
	}
	return &Orchestrator{
		deps:     deps,
		frame:    opts.FrameInterval,
		log:      opts.Log,
		events:   make(chan func(context.Context), eventBuffer),
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
		settings: initial,
		page:     opts.Page,
		mult:     settings.NeutralMultipliers(),
		creating: make(map[surface.Key]uint64),
	}, nil
}

// Subscribe registers fn to receive a state snapshot after every change.
// It must be called before Run and fn must not block.
func (o *Orchestrator) Subscribe(fn func(State)) {
	o.listeners = append(o.listeners, fn)
}

// Run processes events until ctx is cancelled, then tears everything down.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)

	o.restoreSettings(ctx)
	logger.SetVerbose(o.settings.VerboseLogging)
	o.log.WithFields(map[string]any{
		"enabled": o.settings.Enabled,
		"variant": string(o.settings.Variant),
		"page":    string(o.page),
	}).Info("orchestrator started")

	off := o.settings
	off.Enabled = false
	o.reconcile(ctx, off, o.settings)
	close(o.started)

	ticker := time.NewTicker(o.frame)
	defer ticker.Stop()
	defer o.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-o.events:
			fn(ctx)
		case now := <-ticker.C:
			o.deps.Surfaces.Tick(now)
		}
	}
}

// Ready is closed once the loop has applied the initial settings.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.started
}

// Done is closed after Run has returned and torn everything down.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.stopped
}

// post queues fn on the loop, waiting until it is accepted.
func (o *Orchestrator) post(ctx context.Context, fn func(context.Context)) error {
	select {
	case <-o.stopped:
		return ErrNotRunning
	default:
	}
	select {
	case o.events <- fn:
		return nil
	case <-o.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryPost queues fn unless the loop is busy.
func (o *Orchestrator) tryPost(fn func(context.Context)) bool {
	select {
	case o.events <- fn:
		return true
	default:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	err := o.post(ctx, func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-o.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplySettings sanitises next and queues it for reconciliation. The
// sanitised snapshot and the names of clamped fields are returned.
func (o *Orchestrator) ApplySettings(ctx context.Context, next settings.Settings) (settings.Settings, []string, error) {
	clean, touched := next.Sanitize()
	err := o.post(ctx, func(loopCtx context.Context) {
		o.commitSettings(loopCtx, clean, touched)
	})
	return clean, touched, err
}

// UpdateSettings applies mutate to the current settings on the loop, so
// concurrent partial updates never merge over a stale base. A mutate error
// leaves the settings untouched.
func (o *Orchestrator) UpdateSettings(ctx context.Context, mutate func(*settings.Settings) error) (settings.Settings, []string, error) {
	var (
		clean   settings.Settings
		touched []string
		mutErr  error
	)
	err := o.call(ctx, func(loopCtx context.Context) {
		next := o.settings
		if mutErr = mutate(&next); mutErr != nil {
			return
		}
		clean, touched = next.Sanitize()
		o.commitSettings(loopCtx, clean, touched)
	})
	if err != nil {
		return settings.Settings{}, nil, err
	}
	if mutErr != nil {
		return settings.Settings{}, nil, mutErr
	}
	return clean, touched, nil
}

func (o *Orchestrator) commitSettings(ctx context.Context, clean settings.Settings, touched []string) {
	if len(touched) > 0 {
		o.log.With("fields", touched).Warn("settings clamped")
	}
	prev := o.settings
	if prev == clean {
		return
	}
	o.settings = clean
	logger.SetVerbose(clean.VerboseLogging)
	o.reconcile(ctx, prev, clean)
	o.persistSettings(clean)
	o.notify()
}

// Navigate records a page change and repopulates the surfaces.
func (o *Orchestrator) Navigate(ctx context.Context, page surface.Page) error {
	return o.post(ctx, func(loopCtx context.Context) {
		if page == o.page {
			return
		}
		o.page = page
		if pt, ok := o.deps.Locator.(surface.PageTracker); ok {
			pt.SetPage(page)
		}
		o.log.With("page", string(page)).Debug("navigated")
		if o.settings.Enabled {
			o.populateSurfaces(loopCtx)
		}
		o.notify()
	})
}

// TrackChanged records a new now-playing item. A new artwork reference
// cancels any extraction still running for the previous one.
func (o *Orchestrator) TrackChanged(ctx context.Context, track Track) error {
	return o.post(ctx, func(loopCtx context.Context) {
		prev := o.track
		o.track = track
		if track.Artwork == prev.Artwork {
			o.notify()
			return
		}
		o.log.WithFields(map[string]any{"title": track.Title, "artwork": track.Artwork}).Info("track changed")
		if !o.settings.Enabled {
			o.cancelExtraction()
			o.active = nil
			o.notify()
			return
		}
		if o.settings.Variant == settings.VariantWarpedArtwork {
			for _, key := range o.deps.Surfaces.LiveKeys() {
				o.deps.Surfaces.SetArtwork(key, track.Artwork)
			}
		}
		o.startExtraction(loopCtx, true)
		o.notify()
	})
}

// SetVisible pauses or resumes one surface.
func (o *Orchestrator) SetVisible(ctx context.Context, key surface.Key, visible bool) error {
	if !key.Valid() {
		return fmt.Errorf("unknown surface %q", key)
	}
	return o.post(ctx, func(context.Context) {
		if visible {
			o.deps.Surfaces.Resume(key)
		} else {
			o.deps.Surfaces.Pause(key)
		}
		o.notify()
	})
}

// SetColors applies a hand-picked palette to the current item and remembers
// it as a manual override.
func (o *Orchestrator) SetColors(ctx context.Context, palette colors.Palette) error {
	if len(palette) == 0 {
		return errors.New("empty palette")
	}
	palette = palette.Clone()
	return o.post(ctx, func(loopCtx context.Context) {
		o.cancelExtraction()
		o.applyPalette(loopCtx, palette)
		if o.settings.RememberPerItem && o.track.Artwork != "" {
			o.deps.Memory.Save(o.track.Artwork, palette, true)
		}
		o.notify()
	})
}

// ResetMemory forgets the override for the current item, or every override
// when all is set, and extracts the current artwork again.
func (o *Orchestrator) ResetMemory(ctx context.Context, all bool) error {
	var resetErr error
	err := o.call(ctx, func(loopCtx context.Context) {
		if all {
			resetErr = o.deps.Memory.Clear(loopCtx)
		} else if o.track.Artwork != "" {
			resetErr = o.deps.Memory.Reset(loopCtx, o.track.Artwork)
		}
		if resetErr != nil {
			o.log.Error(resetErr, "album memory reset failed")
		}
		if o.settings.Enabled {
			o.startExtraction(loopCtx, true)
		}
		o.notify()
	})
	if err != nil {
		return err
	}
	return resetErr
}

// State returns a snapshot taken on the loop.
func (o *Orchestrator) State(ctx context.Context) (State, error) {
	var st State
	err := o.call(ctx, func(context.Context) {
		st = o.snapshot()
	})
	return st, err
}

func (o *Orchestrator) reconcile(ctx context.Context, prev, next settings.Settings) {
	actions, err := reconcile.Run(ctx, o, prev, next)
	if err != nil {
		o.log.Error(err, "reconcile failed")
	}
	if len(actions) > 0 {
		names := make([]string, 0, len(actions))
		for _, a := range actions {
			names = append(names, a.String())
		}
		o.log.With("actions", names).Debug("settings reconciled")
	}
}

func (o *Orchestrator) restoreSettings(ctx context.Context) {
	if o.deps.Store == nil {
		return
	}
	raw, ok, err := o.deps.Store.Get(ctx, SettingsKey)
	if err != nil {
		o.log.Error(err, "settings restore failed")
		return
	}
	if !ok {
		return
	}
	restored, touched, err := settings.Decode(raw)
	if err != nil {
		o.log.Error(err, "stored settings unreadable")
		return
	}
	if len(touched) > 0 {
		o.log.With("fields", touched).Warn("stored settings clamped")
	}
	o.settings = restored
}

func (o *Orchestrator) persistSettings(s settings.Settings) {
	if o.deps.Store == nil {
		return
	}
	data, err := settings.Encode(s)
	if err != nil {
		o.log.Error(err, "settings encode failed")
		return
	}
	o.saveSeq++
	seq := o.saveSeq
	o.saves.Add(1)
	go func() {
		defer o.saves.Done()
		o.saveMu.Lock()
		defer o.saveMu.Unlock()
		if seq <= o.savedSeq {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := o.deps.Store.Set(ctx, SettingsKey, data); err != nil {
			o.log.Error(err, "settings save failed")
			return
		}
		o.savedSeq = seq
	}()
}

func (o *Orchestrator) shutdown() {
	o.cancelExtraction()
	o.beatGen++
	o.deps.Detector.Stop()
	n := o.deps.Surfaces.DestroyAll()
	o.saves.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.deps.Memory.Flush(ctx); err != nil {
		o.log.Error(err, "album memory flush failed")
	}
	o.log.With("destroyed", n).Info("orchestrator stopped")
}
