package engine

import (
	"context"
	"fmt"

	"github.com/guidoenr/backdrop/internal/beat"
	"github.com/guidoenr/backdrop/internal/reconcile"
	"github.com/guidoenr/backdrop/internal/settings"
)

// Execute carries out one reconciliation step. It runs on the loop.
func (o *Orchestrator) Execute(ctx context.Context, action reconcile.Action, next settings.Settings) error {
	switch action.Kind {
	case reconcile.DestroyAll:
		o.cancelExtraction()
		o.abandonCreates()
		n := o.deps.Surfaces.DestroyAll()
		o.active = nil
		o.log.With("destroyed", n).Info("effects disabled")
	case reconcile.StopBeat:
		o.stopBeat()
	case reconcile.StartBeat:
		o.startBeat(next)
	case reconcile.Populate:
		o.populate(ctx)
	case reconcile.DestroyVariant:
		o.abandonCreates()
		keys := o.deps.Surfaces.DestroyVariant(action.Variant)
		o.log.WithFields(map[string]any{
			"variant":   string(action.Variant),
			"destroyed": len(keys),
		}).Info("variant switched")
	case reconcile.Reextract:
		o.startExtraction(ctx, false)
	case reconcile.PushSettings:
		o.deps.Surfaces.UpdateAll(next, o.mult)
	case reconcile.SyncBrowse:
		o.populateSurfaces(ctx)
	default:
		return fmt.Errorf("unknown action %s", action)
	}
	return nil
}

func (o *Orchestrator) startBeat(s settings.Settings) {
	o.beatGen++
	gen := o.beatGen
	o.deps.Detector.Start(s, func(sample beat.Sample) {
		// The detector goroutine must never wait on the loop: Stop is called
		// from the loop and waits for that goroutine to exit.
		o.tryPost(func(context.Context) {
			if gen != o.beatGen {
				return
			}
			o.onSample(sample)
		})
	})
}

func (o *Orchestrator) stopBeat() {
	o.beatGen++
	o.deps.Detector.Stop()
	o.lastSample = beat.Sample{}
	if o.mult != settings.NeutralMultipliers() {
		o.mult = settings.NeutralMultipliers()
		o.deps.Surfaces.UpdateAll(o.settings, o.mult)
	}
}

func (o *Orchestrator) onSample(sample beat.Sample) {
	beatChanged := sample.Beat != o.lastSample.Beat
	o.lastSample = sample
	if sample.Multipliers == o.mult {
		return
	}
	o.mult = sample.Multipliers
	o.deps.Surfaces.UpdateAll(o.settings, o.mult)
	if beatChanged {
		o.notify()
	}
}
