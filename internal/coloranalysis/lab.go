package coloranalysis

import (
	"fmt"
	"math"
	"strings"
)

// sRGB (D65) to CIE Lab. Distances between Lab triples approximate
// perceptual difference (CIE76 delta-E), which is what clustering and
// palette matching need.
func rgbToLab(r, g, b uint8) [3]float64 {
	rl := srgbToLinear(float64(r) / 255.0)
	gl := srgbToLinear(float64(g) / 255.0)
	bl := srgbToLinear(float64(b) / 255.0)

	x := rl*0.4124564 + gl*0.3575761 + bl*0.1804375
	y := rl*0.2126729 + gl*0.7151522 + bl*0.0721750
	z := rl*0.0193339 + gl*0.1191920 + bl*0.9503041

	// D65 reference white
	fx := labF(x / 0.95047)
	fy := labF(y / 1.00000)
	fz := labF(z / 1.08883)

	return [3]float64{
		116.0*fy - 16.0,
		500.0 * (fx - fy),
		200.0 * (fy - fz),
	}
}

func srgbToLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

func labF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

// labDistance is CIE76 delta-E.
func labDistance(a, b [3]float64) float64 {
	dl := a[0] - b[0]
	da := a[1] - b[1]
	db := a[2] - b[2]
	return math.Sqrt(dl*dl + da*da + db*db)
}

func rgbToHex(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// ParseHex converts a "#rrggbb" (or "rrggbb") string to RGB components.
func ParseHex(hex string) ([3]uint8, error) {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) != 6 {
		return [3]uint8{}, fmt.Errorf("invalid hex color %q", hex)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return [3]uint8{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	return [3]uint8{r, g, b}, nil
}

// HexToLab converts a hex color straight to Lab, for palette matching.
func HexToLab(hex string) ([3]float64, error) {
	rgb, err := ParseHex(hex)
	if err != nil {
		return [3]float64{}, err
	}
	return rgbToLab(rgb[0], rgb[1], rgb[2]), nil
}
