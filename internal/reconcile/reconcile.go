// Package reconcile turns a pair of settings snapshots into the ordered list
// of actions that brings the running effects in line with the newer one.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/guidoenr/backdrop/internal/settings"
)

// Kind names one reconciliation step.
type Kind int

const (
	DestroyAll Kind = iota + 1
	StopBeat
	StartBeat
	Populate
	DestroyVariant
	Reextract
	PushSettings
	SyncBrowse
)

var kindNames = map[Kind]string{
	DestroyAll:     "destroy-all",
	StopBeat:       "stop-beat",
	StartBeat:      "start-beat",
	Populate:       "populate",
	DestroyVariant: "destroy-variant",
	Reextract:      "reextract",
	PushSettings:   "push-settings",
	SyncBrowse:     "sync-browse",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Action is a single step. Variant is only set for DestroyVariant and names
// the variant being torn down.
type Action struct {
	Kind    Kind
	Variant settings.Variant
}

func (a Action) String() string {
	if a.Kind == DestroyVariant {
		return a.Kind.String() + ":" + string(a.Variant)
	}
	return a.Kind.String()
}

// Delta holds the independent change flags between two snapshots.
type Delta struct {
	Any     bool
	Enabled bool
	Variant bool
	Audio   bool
	Boost   bool
	Browse  bool
}

// Diff compares two snapshots field group by field group.
func Diff(prev, next settings.Settings) Delta {
	return Delta{
		Any:     prev != next,
		Enabled: prev.Enabled != next.Enabled,
		Variant: prev.Variant != next.Variant,
		Audio:   settings.AudioChanged(prev, next),
		Boost:   settings.BoostChanged(prev, next),
		Browse:  prev.ShowOnBrowse != next.ShowOnBrowse,
	}
}

// Apply plans the actions for moving from prev to next. Turning the effect
// off or on and switching variants dominate every other change except the
// audio toggle, which still applies after a variant switch.
func Apply(prev, next settings.Settings) []Action {
	d := Diff(prev, next)
	if !d.Any {
		return nil
	}

	switch {
	case d.Enabled && !next.Enabled:
		return []Action{{Kind: DestroyAll}, {Kind: StopBeat}}
	case d.Enabled && next.Enabled:
		actions := []Action{{Kind: Populate}}
		if next.Audio.Enabled {
			actions = append(actions, Action{Kind: StartBeat})
		}
		return actions
	case !next.Enabled:
		return nil
	case d.Variant:
		actions := []Action{{Kind: DestroyVariant, Variant: prev.Variant}, {Kind: Populate}}
		return appendBeat(actions, d, prev, next)
	}

	actions := appendBeat(nil, d, prev, next)
	if d.Boost && next.Variant.UsesPalette() {
		actions = append(actions, Action{Kind: Reextract})
	}
	actions = append(actions, Action{Kind: PushSettings})
	if d.Browse {
		actions = append(actions, Action{Kind: SyncBrowse})
	}
	return actions
}

func appendBeat(actions []Action, d Delta, prev, next settings.Settings) []Action {
	if !d.Audio {
		return actions
	}
	switch {
	case next.Audio.Enabled:
		return append(actions, Action{Kind: StartBeat})
	case prev.Audio.Enabled:
		return append(actions, Action{Kind: StopBeat})
	}
	return actions
}

// Executor carries out actions against the running components.
type Executor interface {
	Execute(ctx context.Context, action Action, next settings.Settings) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action Action, next settings.Settings) error

func (f ExecutorFunc) Execute(ctx context.Context, action Action, next settings.Settings) error {
	return f(ctx, action, next)
}

// Run plans and executes the actions in order. A failing action does not stop
// the ones after it; all failures are returned joined. Cancellation stops the
// run between actions.
func Run(ctx context.Context, exec Executor, prev, next settings.Settings) ([]Action, error) {
	actions := Apply(prev, next)
	var errs []error
	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return actions[:i], errors.Join(errs...)
		}
		if err := exec.Execute(ctx, action, next); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", action, err))
		}
	}
	return actions, errors.Join(errs...)
}
