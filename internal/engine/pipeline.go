package engine

import (
	"context"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/memory"
	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/surface"
)

// populate is the full navigation check: surfaces are created from the
// active palette right away and a fresh extraction runs when there is none.
func (o *Orchestrator) populate(ctx context.Context) {
	if len(o.active) == 0 && o.track.Artwork != "" {
		o.startExtraction(ctx, true)
		return
	}
	o.populateSurfaces(ctx)
}

// populateSurfaces creates effects on wanted surfaces that have none and
// tears them down on the rest.
func (o *Orchestrator) populateSurfaces(ctx context.Context) {
	if !o.settings.Enabled {
		return
	}
	wanted := make(map[surface.Key]bool)
	for _, key := range surface.Wanted(o.page, o.settings.ShowOnBrowse) {
		wanted[key] = true
	}
	for _, key := range surface.Keys() {
		if !wanted[key] {
			if _, inFlight := o.creating[key]; inFlight || o.deps.Surfaces.Live(key) {
				delete(o.creating, key)
				o.deps.Surfaces.Destroy(key)
			}
			continue
		}
		if _, inFlight := o.creating[key]; inFlight || o.deps.Surfaces.Live(key) {
			continue
		}
		if len(o.active) == 0 {
			continue
		}
		o.create(ctx, key)
	}
}

// create runs a surface create off the loop. The manager enforces one live
// handle per key; the token drops completions of creates abandoned since.
func (o *Orchestrator) create(ctx context.Context, key surface.Key) {
	o.createSeq++
	token := o.createSeq
	o.creating[key] = token
	in := surface.Input{
		Colors:      o.active.Clone(),
		Artwork:     o.track.Artwork,
		Settings:    o.settings,
		Multipliers: o.mult,
	}
	go func() {
		ok := o.deps.Surfaces.Create(ctx, key, in)
		_ = o.post(ctx, func(context.Context) {
			if o.creating[key] != token {
				return
			}
			delete(o.creating, key)
			if !ok {
				return
			}
			o.afterCreate(key, in)
		})
	}()
}

// afterCreate catches a fresh effect up with anything that changed while it
// was being created.
func (o *Orchestrator) afterCreate(key surface.Key, in surface.Input) {
	if !o.settings.Enabled || in.Settings.Variant != o.settings.Variant {
		o.deps.Surfaces.Destroy(key)
		return
	}
	if !in.Colors.Equal(o.active) && len(o.active) > 0 {
		o.deps.Surfaces.UpdateColors(key, o.active, o.settings, o.mult)
	} else {
		o.deps.Surfaces.UpdateSettings(key, o.settings, o.mult)
	}
	if o.settings.Variant == settings.VariantWarpedArtwork && in.Artwork != o.track.Artwork {
		o.deps.Surfaces.SetArtwork(key, o.track.Artwork)
	}
	o.notify()
}

// abandonCreates supersedes every create still in flight.
func (o *Orchestrator) abandonCreates() {
	for key := range o.creating {
		o.deps.Surfaces.Destroy(key)
		delete(o.creating, key)
	}
}

// startExtraction fetches the palette of the current artwork. With
// useMemory the result is settled against the remembered record and saved;
// without it the saved path is bypassed.
func (o *Orchestrator) startExtraction(ctx context.Context, useMemory bool) {
	o.cancelExtraction()
	ref := o.track.Artwork
	if ref == "" {
		o.populateSurfaces(ctx)
		return
	}

	o.extractGen++
	gen := o.extractGen
	fetchCtx, cancel := context.WithCancel(ctx)
	o.cancelFetch = cancel

	s := o.settings
	remember := useMemory && s.RememberPerItem
	go func() {
		fresh := o.deps.Extractor.Extract(fetchCtx, ref, s.BoostDullColors, s.Boost)
		var saved *memory.Record
		if remember {
			if rec, ok := o.deps.Memory.Load(fetchCtx, ref); ok {
				saved = &rec
			}
		}
		if fetchCtx.Err() != nil {
			return
		}
		_ = o.post(ctx, func(loopCtx context.Context) {
			o.finishExtraction(loopCtx, gen, ref, fresh, saved, useMemory)
		})
	}()
}

func (o *Orchestrator) finishExtraction(ctx context.Context, gen uint64, ref string, fresh colors.Palette, saved *memory.Record, useMemory bool) {
	if gen != o.extractGen || ref != o.track.Artwork || !o.settings.Enabled {
		return
	}
	if o.cancelFetch != nil {
		o.cancelFetch()
		o.cancelFetch = nil
	}

	palette := fresh
	log := o.log.With("artwork", ref)
	if useMemory {
		var choice memory.Choice
		palette, choice = memory.Resolve(saved, fresh, o.settings.BoostDullColors)
		log = log.With("source", string(choice))
		if choice == memory.ChoiceFresh && o.settings.RememberPerItem {
			o.deps.Memory.Save(ref, palette, false)
		}
	}
	if len(palette) == 0 {
		log.Debug("no usable palette")
		o.populateSurfaces(ctx)
		o.notify()
		return
	}
	log.With("colors", palette.Hex()).Debug("palette resolved")
	o.applyPalette(ctx, palette)
	o.notify()
}

// applyPalette makes palette the active one, updates live effects and
// creates the ones still missing.
func (o *Orchestrator) applyPalette(ctx context.Context, palette colors.Palette) {
	o.active = palette
	for _, key := range o.deps.Surfaces.LiveKeys() {
		o.deps.Surfaces.UpdateColors(key, palette, o.settings, o.mult)
	}
	o.populateSurfaces(ctx)
}

func (o *Orchestrator) cancelExtraction() {
	o.extractGen++
	if o.cancelFetch != nil {
		o.cancelFetch()
		o.cancelFetch = nil
	}
}
