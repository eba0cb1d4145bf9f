package render

var (
	blockRamp = []rune(" ░▒▓█")
	asciiRamp = []rune(" .:-=+*#%@")
	sparkRamp = []rune("  ´`^\"~:;*+×•¤°oO@#█")
)

// Ramp returns the glyphs used for brightness mapping, darkest first.
func Ramp(name string) []rune {
	switch name {
	case "ascii":
		return asciiRamp
	case "spark":
		return sparkRamp
	default:
		return blockRamp
	}
}

// RampNames lists the glyph ramps.
func RampNames() []string {
	return []string{"block", "ascii", "spark"}
}
