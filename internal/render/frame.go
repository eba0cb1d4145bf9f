package render

import (
	"math"
	"runtime"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/guidoenr/backdrop/internal/settings"
	"github.com/guidoenr/backdrop/internal/surface"
)

// Frame holds the rendered terminal rows.
type Frame struct {
	Lines []string
}

type layer struct {
	area   rect
	params surface.Params
	phase  float64
	grad   gradient
	sin    float64
	cos    float64
}

// Render advances every live effect by dt seconds and draws one frame. Cells
// outside any live effect are blank.
func (s *Stage) Render(dt float64, useANSI bool) Frame {
	s.mu.Lock()
	width, height := s.width, s.height
	var layers []layer
	for _, key := range surface.Keys() {
		e := s.effects[key]
		area := s.layout[key]
		if e == nil || area.empty() {
			continue
		}
		p, phase, ok := e.advance(dt)
		if !ok {
			continue
		}
		rot := p.Rotation*math.Pi/180 + phase*0.05
		sin, cos := math.Sincos(rot)
		layers = append(layers, layer{
			area:   area,
			params: p,
			phase:  phase,
			grad:   newGradient(p.Colors, p.Saturation),
			sin:    sin,
			cos:    cos,
		})
	}
	s.mu.Unlock()

	if width <= 0 || height <= 0 {
		return Frame{}
	}

	lines := make([]string, height)
	workers := runtime.GOMAXPROCS(0)
	if workers > height {
		workers = height
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	rows := make(chan int, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rows {
				lines[y] = s.renderRow(layers, y, width, useANSI)
			}
		}()
	}
	for y := 0; y < height; y++ {
		rows <- y
	}
	close(rows)
	wg.Wait()

	return Frame{Lines: lines}
}

func (s *Stage) renderRow(layers []layer, y, width int, useANSI bool) string {
	var b strings.Builder
	b.Grow(width * 8)
	lastColor := -1
	for x := 0; x < width; x++ {
		var l *layer
		for i := range layers {
			if layers[i].area.contains(x, y) {
				l = &layers[i]
				break
			}
		}
		if l == nil {
			if useANSI && lastColor != -1 {
				b.WriteString(resetANSI)
				lastColor = -1
			}
			b.WriteByte(' ')
			continue
		}
		c, brightness := l.sample(x, y)
		idx := int(clampFloat(math.Round(brightness*float64(len(s.ramp)-1)), 0, float64(len(s.ramp)-1)))
		if useANSI {
			fg := rgbToANSI(c)
			if fg != lastColor {
				b.WriteString(colorCode(fg))
				lastColor = fg
			}
		}
		b.WriteRune(s.ramp[idx])
	}
	if useANSI {
		b.WriteString(resetANSI)
	}
	return b.String()
}

// sample shades one cell of the layer.
func (l *layer) sample(x, y int) (colorful.Color, float64) {
	p := l.params
	nx := (float64(x-l.area.x)+0.5)/float64(l.area.w) - 0.5
	ny := ((float64(y-l.area.y)+0.5)/float64(l.area.h) - 0.5) * 0.5
	scale := math.Max(0.1, p.Scale)
	nx, ny = nx*2/scale, ny*2/scale
	rx := nx*l.cos - ny*l.sin
	ry := nx*l.sin + ny*l.cos

	var v float64
	if p.Variant == settings.VariantWarpedArtwork {
		v = warpField(rx, ry, l.phase, p.Warp, p.Blur)
	} else {
		v = flowField(rx, ry, l.phase, p.Distortion)
	}
	t := (v + 1) / 2
	if p.Dithering > 0 {
		t += (lattice(x, y) - 0.5) * p.Dithering * 0.15
	}

	c := l.grad.at(t)
	opacity := clamp01(p.Opacity)
	c = colorful.Color{R: c.R * opacity, G: c.G * opacity, B: c.B * opacity}
	_, _, lightness := c.Hsl()
	return c, clamp01(lightness * 1.6)
}
