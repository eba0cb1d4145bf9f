// Package app wires the orchestrator to its audio source, storage, renderer
// and settings channel.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/guidoenr/backdrop/internal/audio"
	"github.com/guidoenr/backdrop/internal/beat"
	"github.com/guidoenr/backdrop/internal/config"
	"github.com/guidoenr/backdrop/internal/engine"
	"github.com/guidoenr/backdrop/internal/logger"
	"github.com/guidoenr/backdrop/internal/memory"
	"github.com/guidoenr/backdrop/internal/palette"
	"github.com/guidoenr/backdrop/internal/render"
	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/store"
	"github.com/guidoenr/backdrop/internal/surface"
	"github.com/guidoenr/backdrop/internal/web"
)

const commandTimeout = 2 * time.Second

// sampleSource is what the beat detector reads from.
type sampleSource interface {
	beat.Source
	SampleRate() float64
}

// Options carries runtime inputs that are not part of the config file.
type Options struct {
	Log   *logger.Logger
	Track *engine.Track
}

// App ties together storage, audio, orchestration and presentation.
type App struct {
	cfg   config.Config
	opts  Options
	log   *logger.Logger
	store *store.File

	release     func()
	capture     *audio.Capture
	source      sampleSource
	deviceLabel string

	stage    *render.Stage
	surfaces *surface.Manager
	orch     *engine.Orchestrator
	server   *web.Server
	preview  *render.Preview
	profiler *profiler

	latest  atomic.Pointer[engine.State]
	primary atomic.Bool
}

// New constructs the application from cfg.
func New(cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	st, err := store.OpenFile(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{cfg: cfg, opts: opts, log: log, store: st}
	a.primary.Store(true)

	if err := a.openAudio(); err != nil {
		_ = st.Close()
		return nil, err
	}

	mem := memory.New(st, memory.Options{
		Capacity: cfg.Memory.Capacity,
		Delay:    cfg.Memory.SaveDelay,
		Log:      log.With("component", "memory"),
	})

	extractor := palette.NewExtractor(
		palette.NewHTTPLoader(&http.Client{Timeout: cfg.Palette.FetchTimeout}),
		palette.NewPopularity(),
		palette.Options{
			CacheSize: cfg.Palette.CacheSize,
			Colors:    cfg.Palette.Colors,
			MinSize:   cfg.Palette.MinSize,
			Log:       log.With("component", "palette"),
		},
	)

	detector := beat.New(a.source, beat.Options{
		SampleRate: a.source.SampleRate(),
		Log:        log.With("component", "beat"),
	})

	width, height := a.terminalSize()
	a.stage = render.NewStage(width, height, cfg.Preview.Ramp)
	a.stage.SetPage(surface.Page(cfg.Page))

	a.surfaces = surface.NewManager(a.stage, a.stage, surface.Options{
		ReadyTimeout: cfg.Surfaces.ReadyTimeout,
		SettleDelay:  cfg.Surfaces.SettleDelay,
		FadeDuration: cfg.Surfaces.FadeDuration,
		Log:          log.With("component", "surface"),
	})

	orch, err := engine.New(engine.Deps{
		Surfaces:  a.surfaces,
		Locator:   a.stage,
		Extractor: extractor,
		Memory:    mem,
		Detector:  detector,
		Store:     st,
	}, engine.Options{
		Settings:      cfg.Settings,
		Page:          surface.Page(cfg.Page),
		FrameInterval: cfg.Surfaces.FrameInterval,
		Log:           log.With("component", "engine"),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.orch = orch

	a.server = web.NewServer(orch, log.With("component", "web"))
	orch.Subscribe(func(st engine.State) {
		a.latest.Store(&st)
		a.server.Publish(st)
	})

	if cfg.Preview.Enabled {
		a.profiler = newProfiler(cfg.Preview.Profile, log)
		pcfg := render.PreviewConfig{
			FPS:        cfg.Preview.FPS,
			UseANSI:    cfg.Preview.ANSI,
			ShowStatus: cfg.Preview.Status,
			Status:     a.status,
			Log:        log.With("component", "preview"),
		}
		if a.profiler != nil {
			pcfg.Profiler = a.profiler
		}
		a.preview = render.NewPreview(a.stage, pcfg)
	}
	return a, nil
}

func (a *App) openAudio() error {
	if a.cfg.Audio.Synthetic {
		a.useSynthetic()
		return nil
	}

	release, err := audio.Initialize()
	if err != nil {
		a.log.Error(err, "audio backend unavailable, using synthetic source")
		a.useSynthetic()
		return nil
	}
	capture, err := audio.Open(audio.Config{
		Device:     a.cfg.Audio.Device,
		BufferSize: a.cfg.Audio.BufferSize,
		Channels:   2,
		Log:        a.log.With("component", "audio"),
	})
	if err != nil {
		release()
		if a.cfg.Audio.Device != "" {
			return fmt.Errorf("audio capture: %w", err)
		}
		a.log.Error(err, "no capture device, using synthetic source")
		a.useSynthetic()
		return nil
	}
	a.release = release
	a.capture = capture
	a.source = capture
	a.deviceLabel = capture.DeviceName()
	return nil
}

func (a *App) useSynthetic() {
	a.source = audio.NewSynthetic(audio.SyntheticConfig{
		BufferSize: a.cfg.Audio.BufferSize,
		BPM:        a.cfg.Audio.BPM,
	})
	a.deviceLabel = "synthetic"
}

func (a *App) terminalSize() (int, int) {
	w, h := a.cfg.Preview.Width, a.cfg.Preview.Height
	if w > 0 && h > 0 {
		return w, h
	}
	if tw, th, err := term.GetSize(int(os.Stdout.Fd())); err == nil && tw > 0 && th > 0 {
		return tw, th
	}
	return 80, 24
}

// Run starts the orchestrator, the settings channel and, when enabled, the
// terminal preview. It returns when ctx is done or the preview quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("orchestrator: %w", err)
		}
		cancel()
	}()

	select {
	case <-a.orch.Ready():
	case <-ctx.Done():
		wg.Wait()
		return firstError(errCh)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.server.ListenAndServe(ctx, a.cfg.Listen); err != nil {
			errCh <- fmt.Errorf("settings channel: %w", err)
			cancel()
		}
	}()

	if a.opts.Track != nil {
		tctx, tcancel := context.WithTimeout(ctx, commandTimeout)
		if err := a.orch.TrackChanged(tctx, *a.opts.Track); err != nil {
			a.log.Error(err, "initial track rejected")
		}
		tcancel()
	}

	a.log.WithFields(map[string]any{
		"listen": a.cfg.Listen,
		"audio":  a.deviceLabel,
		"store":  a.store.Path(),
	}).Info("backdrop running")

	if a.preview != nil {
		if err := a.preview.Run(ctx, func(cmd render.Command) { a.handleCommand(ctx, cmd) }); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("preview: %w", err)
		}
		cancel()
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	return firstError(errCh)
}

func firstError(errCh chan error) error {
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// handleCommand maps preview key presses onto orchestrator operations.
func (a *App) handleCommand(ctx context.Context, cmd render.Command) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd {
	case render.CommandTogglePage:
		next := surface.PageAlbum
		if a.stage.Page().IsBrowse() {
			next = surface.PageNowPlaying
		}
		err = a.orch.Navigate(ctx, next)
	case render.CommandToggleVisible:
		visible := !a.primary.Load()
		a.primary.Store(visible)
		err = a.orch.SetVisible(ctx, surface.Primary, visible)
	case render.CommandToggleAudio:
		err = a.updateSettings(ctx, func(s *settings.Settings) {
			s.Audio.Enabled = !s.Audio.Enabled
		})
	case render.CommandNextVariant:
		err = a.updateSettings(ctx, func(s *settings.Settings) {
			s.Variant = nextVariant(s.Variant)
		})
	}
	if err != nil {
		a.log.Error(err, "preview command failed")
	}
}

func (a *App) updateSettings(ctx context.Context, mutate func(*settings.Settings)) error {
	_, _, err := a.orch.UpdateSettings(ctx, func(s *settings.Settings) error {
		mutate(s)
		return nil
	})
	return err
}

func nextVariant(v settings.Variant) settings.Variant {
	all := settings.Variants()
	for i, candidate := range all {
		if candidate == v {
			return all[(i+1)%len(all)]
		}
	}
	return all[0]
}

func (a *App) status() string {
	st := a.latest.Load()
	if st == nil {
		return "backdrop | starting"
	}
	text := fmt.Sprintf("backdrop | %s | %s | page=%s | effects=%d",
		onOff(st.Settings.Enabled), st.Settings.Variant, st.Page, a.stage.Effects())
	if st.Title != "" {
		text += fmt.Sprintf(" | %s - %s", st.Title, st.Author)
	}
	if st.Settings.Audio.Enabled {
		text += fmt.Sprintf(" | audio=%s peak=%.2f", a.deviceLabel, st.Beat.Peak)
	}
	return text + " | [b]rowse [v]isible [a]udio [n]ext [q]uit"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Close releases held resources.
func (a *App) Close() error {
	var errs []error
	if a.capture != nil {
		errs = append(errs, a.capture.Close())
		a.capture = nil
	}
	if a.release != nil {
		a.release()
		a.release = nil
	}
	if a.profiler != nil {
		errs = append(errs, a.profiler.Close())
		a.profiler = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}
