// Package duck implements the automatic ducking engine: it conditions a
// voice/background pair to equal length, attenuates the background chunk by
// chunk according to voice loudness, and mixes the two back together.
package duck

import (
	"fmt"
	"math"

	"github.com/satindergrewal/autoduck/internal/audio"
)

// Params configures one ducking operation. The engine never mutates it.
type Params struct {
	ChunkDurationMs       int     `yaml:"chunk_duration_ms" json:"chunk_duration_ms"`
	DuckAmountDb          float64 `yaml:"duck_amount_db" json:"duck_amount_db"`
	LightDuckDb           float64 `yaml:"light_duck_db" json:"light_duck_db"`
	FadeMs                int     `yaml:"fade_ms" json:"fade_ms"`
	BackgroundExtensionMs int     `yaml:"background_extension_ms" json:"background_extension_ms"`
	LoudnessThresholdDbfs float64 `yaml:"loudness_threshold_dbfs" json:"loudness_threshold_dbfs"`
}

// DefaultParams returns the stock settings: 1s chunks, 20dB heavy duck,
// 10dB light duck, 30ms fades, 3s tail and a -30dBFS voice threshold.
func DefaultParams() Params {
	return Params{
		ChunkDurationMs:       1000,
		DuckAmountDb:          20,
		LightDuckDb:           10,
		FadeMs:                30,
		BackgroundExtensionMs: 3000,
		LoudnessThresholdDbfs: -30,
	}
}

// Engine bounds. These are wider than the UI ranges and only exclude values
// that make no physical sense or would allocate absurd buffers.
const (
	minChunkMs     = 10
	maxChunkMs     = 10000
	maxAttenuation = 96.0
	maxExtensionMs = 600000
	minThreshold   = -120.0
)

// Validate checks every field against the engine bounds.
func (p Params) Validate() error {
	if p.ChunkDurationMs < minChunkMs || p.ChunkDurationMs > maxChunkMs {
		return invalid("chunk_duration_ms", "must be between %d and %d, got %d", minChunkMs, maxChunkMs, p.ChunkDurationMs)
	}
	if !finite(p.DuckAmountDb) || p.DuckAmountDb <= 0 || p.DuckAmountDb > maxAttenuation {
		return invalid("duck_amount_db", "must be in (0, %g], got %g", maxAttenuation, p.DuckAmountDb)
	}
	if !finite(p.LightDuckDb) || p.LightDuckDb < 0 || p.LightDuckDb > maxAttenuation {
		return invalid("light_duck_db", "must be in [0, %g], got %g", maxAttenuation, p.LightDuckDb)
	}
	if p.FadeMs < 0 {
		return invalid("fade_ms", "cannot be negative, got %d", p.FadeMs)
	}
	if p.FadeMs > p.ChunkDurationMs/2 {
		return invalid("fade_ms", "must not exceed half the chunk duration (%d ms), got %d", p.ChunkDurationMs/2, p.FadeMs)
	}
	if p.BackgroundExtensionMs < 0 || p.BackgroundExtensionMs > maxExtensionMs {
		return invalid("background_extension_ms", "must be between 0 and %d, got %d", maxExtensionMs, p.BackgroundExtensionMs)
	}
	if !finite(p.LoudnessThresholdDbfs) || p.LoudnessThresholdDbfs < minThreshold || p.LoudnessThresholdDbfs > 0 {
		return invalid("loudness_threshold_dbfs", "must be in [%g, 0], got %g", minThreshold, p.LoudnessThresholdDbfs)
	}
	return nil
}

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) contains(v float64) bool { return v >= r.Min && v <= r.Max }

// UIRanges are the slider bounds the original upload form offered.
type UIRanges struct {
	ChunkDurationMs       Range `json:"chunk_duration_ms"`
	DuckAmountDb          Range `json:"duck_amount_db"`
	LightDuckDb           Range `json:"light_duck_db"`
	FadeMs                Range `json:"fade_ms"`
	BackgroundExtensionMs Range `json:"background_extension_ms"`
	LoudnessThresholdDbfs Range `json:"loudness_threshold_dbfs"`
}

// DefaultUIRanges returns the stock slider bounds.
func DefaultUIRanges() UIRanges {
	return UIRanges{
		ChunkDurationMs:       Range{500, 2000},
		DuckAmountDb:          Range{5, 30},
		LightDuckDb:           Range{0, 15},
		FadeMs:                Range{10, 100},
		BackgroundExtensionMs: Range{1000, 5000},
		LoudnessThresholdDbfs: Range{-50, -10},
	}
}

// Check reports the first field of p outside the ranges.
func (u UIRanges) Check(p Params) error {
	fields := []struct {
		name string
		r    Range
		v    float64
	}{
		{"chunk_duration_ms", u.ChunkDurationMs, float64(p.ChunkDurationMs)},
		{"duck_amount_db", u.DuckAmountDb, p.DuckAmountDb},
		{"light_duck_db", u.LightDuckDb, p.LightDuckDb},
		{"fade_ms", u.FadeMs, float64(p.FadeMs)},
		{"background_extension_ms", u.BackgroundExtensionMs, float64(p.BackgroundExtensionMs)},
		{"loudness_threshold_dbfs", u.LoudnessThresholdDbfs, p.LoudnessThresholdDbfs},
	}
	for _, f := range fields {
		if !f.r.contains(f.v) {
			return invalid(f.name, "must be between %g and %g, got %g", f.r.Min, f.r.Max, f.v)
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return &audio.InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
