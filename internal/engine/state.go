package engine

import (
	"github.com/guidoenr/backdrop/internal/beat"
	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/surface"
)

// State is what the settings channel reports to the UI.
type State struct {
	Colors   colors.Palette    `json:"colors"`
	Title    string            `json:"title"`
	Author   string            `json:"author"`
	Artwork  string            `json:"artwork"`
	Settings settings.Settings `json:"settings"`
	Page     surface.Page      `json:"page"`
	Surfaces []surface.State   `json:"surfaces"`
	Beat     beat.Sample       `json:"beat"`
}

func (o *Orchestrator) snapshot() State {
	st := State{
		Colors:   o.active.Clone(),
		Title:    o.track.Title,
		Author:   o.track.Author,
		Artwork:  o.track.Artwork,
		Settings: o.settings,
		Page:     o.page,
		Beat:     o.lastSample,
	}
	if st.Colors == nil {
		st.Colors = colors.Palette{}
	}
	for _, key := range surface.Keys() {
		if s, ok := o.deps.Surfaces.Snapshot(key); ok {
			st.Surfaces = append(st.Surfaces, s)
		}
	}
	return st
}

func (o *Orchestrator) notify() {
	if len(o.listeners) == 0 {
		return
	}
	st := o.snapshot()
	for _, fn := range o.listeners {
		fn(st)
	}
}
