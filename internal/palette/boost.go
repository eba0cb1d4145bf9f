package palette

import (
	"math"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/settings"
)

const (
	dullSaturation      = 0.40
	grayscaleSaturation = 0.05
	maxBoostSaturation  = 0.70
)

// Boost lifts dull palettes. A palette whose share of vibrant colors already
// exceeds the ratio threshold is returned unchanged. Otherwise colors below
// 40% saturation are scaled by 1+intensity*0.5 plus intensity*0.4, capped at
// 70%, and near-gray colors first take the average hue of the colored ones.
func Boost(p colors.Palette, knobs settings.Boost) colors.Palette {
	if len(p) == 0 {
		return p.Clone()
	}

	vibrantThreshold := knobs.VibrantSaturation / 100
	vibrant := 0
	for _, c := range p {
		_, s, _ := c.HSL()
		if s >= vibrantThreshold {
			vibrant++
		}
	}
	ratio := float64(vibrant) / float64(len(p)) * 100
	if ratio > knobs.VibrantRatio {
		return p.Clone()
	}

	avgHue, hasHue := averageHue(p)
	intensity := knobs.Intensity

	out := make(colors.Palette, len(p))
	for i, c := range p {
		h, s, l := c.HSL()
		if s >= dullSaturation {
			out[i] = c
			continue
		}
		if s <= grayscaleSaturation && hasHue {
			h = avgHue
		}
		boosted := s*(1+intensity*0.5) + intensity*0.4
		if boosted > maxBoostSaturation {
			boosted = maxBoostSaturation
		}
		out[i] = colors.HSL(h, boosted, l)
	}
	return out
}

// averageHue is the circular mean hue of the non-grayscale members.
func averageHue(p colors.Palette) (float64, bool) {
	var sumSin, sumCos float64
	n := 0
	for _, c := range p {
		h, s, _ := c.HSL()
		if s <= grayscaleSaturation {
			continue
		}
		rad := h * math.Pi / 180
		sumSin += math.Sin(rad)
		sumCos += math.Cos(rad)
		n++
	}
	if n == 0 {
		return 0, false
	}
	deg := math.Atan2(sumSin, sumCos) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg, true
}
