package shadow

import (
	"math"

	"github.com/goccy/go-json"
)

// Packed value ranges.
const (
	// PackedMax is the upper bound of packed intensity and volume values.
	PackedMax = 65535
)

// ScalePercent expands a packed 0..max value to a 0..100 percentage,
// rounded to the nearest integer. Pure; out-of-range input is clamped.
func ScalePercent(raw float64, max float64) int {
	if max <= 0 {
		return 0
	}
	if raw < 0 {
		raw = 0
	}
	if raw > max {
		raw = max
	}
	return int(math.Round(raw * 100 / max))
}

// HueSaturation derives the presentation hue (degrees, [0,360)) and
// saturation (percent, [0,100]) from 8-bit RGB components. Pure.
func HueSaturation(r, g, b float64) (hue, saturation float64) {
	r, g, b = clamp255(r)/255, clamp255(g)/255, clamp255(b)/255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	if max > 0 {
		saturation = delta / max * 100
	}

	if delta > 0 {
		switch max {
		case r:
			hue = 60 * math.Mod((g-b)/delta, 6)
		case g:
			hue = 60 * ((b-r)/delta + 2)
		default:
			hue = 60 * ((r-g)/delta + 4)
		}
		if hue < 0 {
			hue += 360
		}
	}
	return hue, saturation
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// asFloat converts JSON-decoded numbers of any width to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
