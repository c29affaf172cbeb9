package duck

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/autoduck/internal/audio"
	"github.com/satindergrewal/autoduck/internal/metrics"
)

// Request is one encoded voice/background pair to duck.
type Request struct {
	Voice      []byte
	Background []byte
	Params     Params
	Format     audio.Format
}

// Output is the encoded mix plus the analysis that produced it.
type Output struct {
	Data   []byte
	Format audio.Format
	Result *Result
}

// Runner wires decoding, ducking and encoding into one byte-in, byte-out call.
type Runner struct {
	Decoder *audio.Decoder
	Encoder *audio.Encoder
	Options Options
	Logger  *logrus.Logger
	Metrics *metrics.Metrics // optional
}

// NewRunner creates a runner using the FFmpeg binary at ffmpegPath.
func NewRunner(ffmpegPath string, bitrate int, opts Options, logger *logrus.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		Decoder: audio.NewDecoder(ffmpegPath),
		Encoder: audio.NewEncoder(ffmpegPath, bitrate),
		Options: opts,
		Logger:  logger,
		Metrics: m,
	}
}

// Run decodes both inputs, ducks the background under the voice and encodes
// the mix. Errors are *audio.InvalidInputError, *audio.DecodeError,
// *audio.EncodeError or a context error; none are retried.
func (r *Runner) Run(ctx context.Context, req Request) (*Output, error) {
	out, err := r.run(ctx, req)
	r.Metrics.RecordJob(Outcome(err))
	return out, err
}

func (r *Runner) run(ctx context.Context, req Request) (*Output, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	format := req.Format
	if format == "" {
		format = audio.FormatMP3
	}

	log := r.Logger.WithFields(logrus.Fields{
		"format":           format,
		"voice_bytes":      len(req.Voice),
		"background_bytes": len(req.Background),
	})

	start := time.Now()
	var voice, background audio.Buffer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		voice, err = r.Decoder.Decode(gctx, "voice", req.Voice)
		return err
	})
	g.Go(func() (err error) {
		background, err = r.Decoder.Decode(gctx, "background", req.Background)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.Metrics.ObserveStage("decode", time.Since(start).Seconds())
	log.WithFields(logrus.Fields{
		"voice":      voice.String(),
		"background": background.String(),
	}).Debug("Decoded inputs")

	background, err := audio.Conform(background, voice.SampleRate, voice.Channels)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	res, err := Duck(ctx, voice, background, req.Params, r.Options)
	if err != nil {
		return nil, err
	}
	r.Metrics.ObserveStage("process", time.Since(start).Seconds())
	r.Metrics.RecordInput(voice.Duration().Seconds(), res.LoopCount)
	r.Metrics.RecordChunks(res.ActiveChunks(), len(res.Chunks)-res.ActiveChunks())

	start = time.Now()
	data, err := r.Encoder.Encode(ctx, format, res.Mixed)
	if err != nil {
		return nil, err
	}
	r.Metrics.ObserveStage("encode", time.Since(start).Seconds())
	r.Metrics.RecordOutput(string(format), len(data))

	log.WithFields(logrus.Fields{
		"chunks":        len(res.Chunks),
		"active_chunks": res.ActiveChunks(),
		"loops":         res.LoopCount,
		"duration":      res.Mixed.Duration().String(),
		"output_bytes":  len(data),
	}).Info("Ducking complete")

	return &Output{Data: data, Format: format, Result: res}, nil
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	var (
		invalid *audio.InvalidInputError
		decode  *audio.DecodeError
		encode  *audio.EncodeError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &invalid):
		return "invalid_input"
	case errors.As(err, &decode):
		return "decode_error"
	case errors.As(err, &encode):
		return "encode_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
