package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/autoduck/internal/audio"
	"github.com/satindergrewal/autoduck/internal/cli"
	"github.com/satindergrewal/autoduck/internal/config"
	"github.com/satindergrewal/autoduck/internal/duck"
	"github.com/satindergrewal/autoduck/internal/metrics"
	"github.com/satindergrewal/autoduck/internal/server"
)

var (
	version = "0.1.0"
)

// CLI defines the command-line interface
type CLI struct {
	Mix     MixCmd     `cmd:"" help:"Duck a background track under a voice-over and write the mix"`
	Serve   ServeCmd   `cmd:"" help:"Run the HTTP ducking service"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// app carries what every command needs.
type app struct {
	cfg    config.Config
	logger *logrus.Logger
}

// MixCmd ducks one voice/background pair from disk.
type MixCmd struct {
	Voice      string `short:"v" type:"existingfile" required:"" help:"Voice-over audio file"`
	Background string `short:"b" type:"existingfile" required:"" help:"Background music file"`
	Output     string `short:"o" type:"path" help:"Output file (default: <voice>-ducked.<ext>)"`
	Format     string `short:"f" help:"Output format: mp3, opus or wav" default:"${format}"`
	Preset     string `short:"p" help:"Named preset from the preset file"`
	Presets    string `help:"YAML preset file" default:"${presets}"`
	Strict     bool   `help:"Reject parameters outside the recommended ranges"`
	Report     bool   `short:"r" help:"Print the per-chunk ducking decisions"`

	ChunkMs     *int     `name:"chunk-ms" help:"Analysis chunk length in milliseconds"`
	DuckDb      *float64 `name:"duck-db" help:"Attenuation while the voice is speaking"`
	LightDuckDb *float64 `name:"light-duck-db" help:"Attenuation while the voice is quiet"`
	FadeMs      *int     `name:"fade-ms" help:"Fade length at each chunk edge in milliseconds"`
	ExtensionMs *int     `name:"extension-ms" help:"Background tail after the voice ends in milliseconds"`
	Threshold   *float64 `name:"threshold" help:"Voice level in dBFS above which the heavy duck applies"`
}

// Run executes the mix command.
func (c *MixCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	format, err := audio.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	params, err := c.params(a.cfg.Defaults)
	if err != nil {
		return err
	}

	voice, err := os.ReadFile(c.Voice)
	if err != nil {
		return fmt.Errorf("failed to read voice: %w", err)
	}
	background, err := os.ReadFile(c.Background)
	if err != nil {
		return fmt.Errorf("failed to read background: %w", err)
	}

	runner := newRunner(a, nil)
	out, err := runner.Run(ctx, duck.Request{
		Voice:      voice,
		Background: background,
		Params:     params,
		Format:     format,
	})
	if err != nil {
		return err
	}

	path := c.Output
	if path == "" {
		base := strings.TrimSuffix(c.Voice, filepath.Ext(c.Voice))
		path = base + "-ducked." + format.Extension()
	}
	if err := os.WriteFile(path, out.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if c.Report {
		cli.PrintChunks(os.Stdout, out.Result.Chunks, params.LoudnessThresholdDbfs)
	}
	cli.PrintSummary(os.Stdout, path, out, params)
	return nil
}

// params resolves the preset and flag overrides on top of base.
func (c *MixCmd) params(base duck.Params) (duck.Params, error) {
	p := base
	if c.Preset != "" {
		if c.Presets == "" {
			return p, &audio.InvalidInputError{Field: "preset", Reason: "no preset file configured"}
		}
		presets, err := config.LoadPresets(c.Presets, base)
		if err != nil {
			return p, err
		}
		if p, err = presets.Lookup(c.Preset, base); err != nil {
			return p, err
		}
	}

	if c.ChunkMs != nil {
		p.ChunkDurationMs = *c.ChunkMs
	}
	if c.DuckDb != nil {
		p.DuckAmountDb = *c.DuckDb
	}
	if c.LightDuckDb != nil {
		p.LightDuckDb = *c.LightDuckDb
	}
	if c.FadeMs != nil {
		p.FadeMs = *c.FadeMs
	}
	if c.ExtensionMs != nil {
		p.BackgroundExtensionMs = *c.ExtensionMs
	}
	if c.Threshold != nil {
		p.LoudnessThresholdDbfs = *c.Threshold
	}

	if c.Strict {
		if err := duck.DefaultUIRanges().Check(p); err != nil {
			return p, err
		}
	}
	return p, p.Validate()
}

// ServeCmd runs the HTTP service.
type ServeCmd struct {
	Port int `short:"P" help:"Listen port" default:"${port}"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := a.logger
	cfg := a.cfg

	var presets config.Presets
	if cfg.PresetPath != "" {
		var err error
		presets, err = config.LoadPresets(cfg.PresetPath, cfg.Defaults)
		if err != nil {
			return err
		}
		log.WithField("presets", presets.Names()).Info("Loaded presets")
	}

	format, err := audio.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srv := server.New(newRunner(a, m), server.Options{
		Defaults:      cfg.Defaults,
		Presets:       presets,
		DefaultFormat: format,
		MaxUpload:     cfg.MaxUploadBytes,
		Gatherer:      reg,
		Metrics:       m,
		Logger:        log,
	})

	addr := fmt.Sprintf(":%d", c.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Graceful shutdown failed")
			httpServer.Close()
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":    addr,
		"format":  format,
		"bitrate": cfg.Bitrate,
		"ffmpeg":  cfg.FFmpegPath,
	}).Info("autoduck listening")
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(a *app) error {
	cli.PrintVersion(version)
	return nil
}

func newRunner(a *app, m *metrics.Metrics) *duck.Runner {
	curve, err := audio.ParseFadeCurve(a.cfg.FadeCurve)
	if err != nil {
		a.logger.WithError(err).Warn("Unknown fade curve, using linear")
		curve = audio.FadeLinear
	}
	return duck.NewRunner(a.cfg.FFmpegPath, a.cfg.Bitrate, duck.Options{
		Workers:   a.cfg.Workers,
		FadeCurve: curve,
	}, a.logger, m)
}

func initLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func main() {
	cfg := config.Load()

	cliArgs := &CLI{}
	ctx := kong.Parse(cliArgs,
		kong.Name("autoduck"),
		kong.Description("Automatic background-music ducking under voice-over"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
			"format":  cfg.OutputFormat,
			"presets": cfg.PresetPath,
			"port":    fmt.Sprint(cfg.Port),
		},
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)

	if err := ctx.Run(&app{cfg: cfg, logger: initLogger(cfg)}); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}
