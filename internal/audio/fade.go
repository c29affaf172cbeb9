package audio

import (
	"fmt"
	"math"
	"strings"
)

// FadeCurve shapes a gain ramp from 0 to 1.
type FadeCurve string

const (
	FadeLinear     FadeCurve = "linear"
	FadeSmoothstep FadeCurve = "smoothstep"
)

// ParseFadeCurve accepts "linear" (the default when empty) or "smoothstep".
func ParseFadeCurve(s string) (FadeCurve, error) {
	switch FadeCurve(strings.ToLower(s)) {
	case "", FadeLinear:
		return FadeLinear, nil
	case FadeSmoothstep:
		return FadeSmoothstep, nil
	}
	return "", &InvalidInputError{Field: "fade_curve", Reason: fmt.Sprintf("unknown curve %q", s)}
}

// Gain maps ramp progress t in [0,1] to an amplitude factor.
func (c FadeCurve) Gain(t float64) float64 {
	if c == FadeSmoothstep {
		return Smoothstep(t)
	}
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t
}

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeGain returns the envelope gain for frame i of an n-frame segment with
// fadeFrames-long ramps at both ends. The first and last frame are silent.
// When the ramps overlap (n < 2*fadeFrames) the two gains multiply.
func FadeGain(curve FadeCurve, i, n, fadeFrames int) float64 {
	if fadeFrames <= 0 {
		return 1
	}
	g := 1.0
	if i < fadeFrames {
		g *= curve.Gain(float64(i) / float64(fadeFrames))
	}
	if r := n - 1 - i; r < fadeFrames {
		g *= curve.Gain(float64(r) / float64(fadeFrames))
	}
	return g
}

// ApplyGain scales interleaved samples by gain, applying the fade envelope
// per frame, and writes the result into dst. dst and src must have equal
// length. Results saturate at the int16 range.
func ApplyGain(dst, src []int16, channels int, gain float64, curve FadeCurve, fadeFrames int) {
	n := len(src) / channels
	for i := range n {
		g := gain * FadeGain(curve, i, n, fadeFrames)
		for c := range channels {
			j := i*channels + c
			dst[j] = Clip(math.Round(float64(src[j]) * g))
		}
	}
}
