package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/satindergrewal/autoduck/internal/duck"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port           int
	MaxUploadBytes int64

	// Codec
	FFmpegPath   string
	OutputFormat string // mp3, opus, wav
	Bitrate      int    // bits per second

	// Engine
	Workers    int    // chunk worker pool size, 0 = GOMAXPROCS
	FadeCurve  string // linear, smoothstep
	PresetPath string // optional YAML preset file
	Defaults   duck.Params

	// Logging
	LogLevel  string
	LogFormat string // text, json
}

// Load reads an optional .env file and then environment variables, falling
// back to sane defaults for anything unset or unparsable.
func Load() Config {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	def := duck.DefaultParams()
	return Config{
		Port:           envInt("AUTODUCK_PORT", 8080),
		MaxUploadBytes: int64(envInt("AUTODUCK_MAX_UPLOAD_MB", 100)) << 20,

		FFmpegPath:   envStr("AUTODUCK_FFMPEG", "ffmpeg"),
		OutputFormat: envStr("AUTODUCK_FORMAT", "mp3"),
		Bitrate:      envInt("AUTODUCK_BITRATE_KBPS", 192) * 1000,

		Workers:    envInt("AUTODUCK_WORKERS", 0),
		FadeCurve:  envStr("AUTODUCK_FADE_CURVE", "linear"),
		PresetPath: envStr("AUTODUCK_PRESETS", ""),
		Defaults: duck.Params{
			ChunkDurationMs:       envInt("AUTODUCK_CHUNK_MS", def.ChunkDurationMs),
			DuckAmountDb:          envFloat("AUTODUCK_DUCK_DB", def.DuckAmountDb),
			LightDuckDb:           envFloat("AUTODUCK_LIGHT_DUCK_DB", def.LightDuckDb),
			FadeMs:                envInt("AUTODUCK_FADE_MS", def.FadeMs),
			BackgroundExtensionMs: envInt("AUTODUCK_EXTENSION_MS", def.BackgroundExtensionMs),
			LoudnessThresholdDbfs: envFloat("AUTODUCK_THRESHOLD_DBFS", def.LoudnessThresholdDbfs),
		},

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "text"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
