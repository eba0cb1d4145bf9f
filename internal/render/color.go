package render

import (
	"math"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/guidoenr/backdrop/internal/colors"
)

const resetANSI = "\x1b[0m"

var precomputedANSI [256]string

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

func colorCode(index int) string {
	if index < 0 {
		index = 0
	} else if index >= len(precomputedANSI) {
		index = len(precomputedANSI) - 1
	}
	return precomputedANSI[index]
}

// rgbToANSI maps a color onto the xterm 256-color cube or gray ramp.
func rgbToANSI(c colorful.Color) int {
	r, g, b := clamp01(c.R), clamp01(c.G), clamp01(c.B)
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		return 232 + int(clampFloat(math.Round(r*23), 0, 23))
	}
	ri := int(clampFloat(r*5+0.5, 0, 5))
	gi := int(clampFloat(g*5+0.5, 0, 5))
	bi := int(clampFloat(b*5+0.5, 0, 5))
	return 16 + 36*ri + 6*gi + bi
}

// gradient samples a palette as a continuous ramp blended in Lab space.
type gradient []colorful.Color

func newGradient(p colors.Palette, saturation float64) gradient {
	g := make(gradient, 0, len(p))
	for _, c := range p {
		cf := c.Colorful()
		if saturation != 1 {
			h, s, l := cf.Hsl()
			cf = colorful.Hsl(h, clamp01(s*saturation), l)
		}
		g = append(g, cf)
	}
	return g
}

func (g gradient) at(t float64) colorful.Color {
	switch len(g) {
	case 0:
		return colorful.Color{}
	case 1:
		return g[0]
	}
	t = clamp01(t) * float64(len(g)-1)
	i := int(t)
	if i >= len(g)-1 {
		return g[len(g)-1]
	}
	f := t - float64(i)
	if f == 0 {
		return g[i]
	}
	return g[i].BlendLab(g[i+1], f).Clamped()
}
