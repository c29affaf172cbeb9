package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/autoduck/internal/audio"
	"github.com/satindergrewal/autoduck/internal/config"
	"github.com/satindergrewal/autoduck/internal/duck"
	"github.com/satindergrewal/autoduck/internal/metrics"
)

// Ducker is the engine surface the HTTP handlers need.
type Ducker interface {
	Run(ctx context.Context, req duck.Request) (*duck.Output, error)
}

// Server exposes the ducking engine over HTTP.
type Server struct {
	ducker        Ducker
	defaults      duck.Params
	presets       config.Presets
	ranges        duck.UIRanges
	defaultFormat audio.Format
	maxUpload     int64
	gatherer      prometheus.Gatherer
	metrics       *metrics.Metrics
	logger        *logrus.Logger
	startTime     time.Time
}

// Options configures a Server.
type Options struct {
	Defaults      duck.Params
	Presets       config.Presets
	DefaultFormat audio.Format
	MaxUpload     int64
	Gatherer      prometheus.Gatherer // serves /metrics; nil disables the endpoint
	Metrics       *metrics.Metrics
	Logger        *logrus.Logger
}

// New creates a Server around d.
func New(d Ducker, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = audio.FormatMP3
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 100 << 20
	}
	return &Server{
		ducker:        d,
		defaults:      opts.Defaults,
		presets:       opts.Presets,
		ranges:        duck.DefaultUIRanges(),
		defaultFormat: opts.DefaultFormat,
		maxUpload:     opts.MaxUpload,
		gatherer:      opts.Gatherer,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		startTime:     time.Now(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/duck", s.instrument("/api/duck", s.handleDuck))
	mux.HandleFunc("/api/params", s.instrument("/api/params", s.handleParams))
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// handleDuck accepts a multipart upload with "voice" and "background" files
// and optional parameter fields, and responds with the encoded mix.
func (s *Server) handleDuck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.NewString()
	log := s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"remote":     r.RemoteAddr,
	})

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		log.WithError(err).Warn("Invalid upload")
		status := http.StatusBadRequest
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, "invalid multipart upload: "+err.Error(), status)
		return
	}
	defer r.MultipartForm.RemoveAll()

	voice, err := readFormFile(r, "voice")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	background, err := readFormFile(r, "background")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	params, err := s.paramsFromForm(r)
	if err != nil {
		s.writeError(w, log, err)
		return
	}
	format := s.defaultFormat
	if f := r.FormValue("format"); f != "" {
		if format, err = audio.ParseFormat(f); err != nil {
			s.writeError(w, log, err)
			return
		}
	}

	out, err := s.ducker.Run(r.Context(), duck.Request{
		Voice:      voice,
		Background: background,
		Params:     params,
		Format:     format,
	})
	if err != nil {
		s.writeError(w, log, err)
		return
	}

	res := out.Result
	w.Header().Set("Content-Type", out.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ducked_audio.%s"`, out.Format.Extension()))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Header().Set("X-Request-Id", requestID)
	w.Header().Set("X-Duck-Chunks", strconv.Itoa(len(res.Chunks)))
	w.Header().Set("X-Duck-Active-Chunks", strconv.Itoa(res.ActiveChunks()))
	w.Header().Set("X-Duck-Duration-Ms", strconv.FormatInt(res.Mixed.Duration().Milliseconds(), 10))
	if _, err := w.Write(out.Data); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

// paramsFromForm starts from the named preset (or the defaults) and applies
// any individual field overrides from the form.
func (s *Server) paramsFromForm(r *http.Request) (duck.Params, error) {
	p, err := s.presets.Lookup(r.FormValue("preset"), s.defaults)
	if err != nil {
		return duck.Params{}, err
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"chunk_duration_ms", &p.ChunkDurationMs},
		{"fade_ms", &p.FadeMs},
		{"background_extension_ms", &p.BackgroundExtensionMs},
	}
	for _, f := range ints {
		v := r.FormValue(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return duck.Params{}, &audio.InvalidInputError{Field: f.key, Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		*f.dst = n
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"duck_amount_db", &p.DuckAmountDb},
		{"light_duck_db", &p.LightDuckDb},
		{"loudness_threshold_dbfs", &p.LoudnessThresholdDbfs},
	}
	for _, f := range floats {
		v := r.FormValue(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return duck.Params{}, &audio.InvalidInputError{Field: f.key, Reason: fmt.Sprintf("not a number: %q", v)}
		}
		*f.dst = n
	}

	if r.FormValue("strict") == "true" {
		if err := s.ranges.Check(p); err != nil {
			return duck.Params{}, err
		}
	}
	return p, p.Validate()
}

// handleParams reports defaults, slider ranges and presets.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	presets := s.presets
	if presets == nil {
		presets = config.Presets{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"defaults": s.defaults,
		"ranges":   s.ranges,
		"presets":  presets,
		"formats":  []audio.Format{audio.FormatMP3, audio.FormatOpus, audio.FormatWAV},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// statusClientClosedRequest is recorded when the client goes away before
// a response is written.
const statusClientClosedRequest = 499

// writeError maps engine errors to status codes. A decode failure is the
// caller's fault unless the decoder binary itself could not be started.
func (s *Server) writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	var (
		invalid *audio.InvalidInputError
		decode  *audio.DecodeError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.Canceled):
		// Nobody is left to read the body; the status only feeds metrics.
		log.WithError(err).Info("Request canceled")
		w.WriteHeader(statusClientClosedRequest)
		return
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		// Missing FFmpeg is a server fault, whichever stage hit it.
	case errors.As(err, &invalid), errors.As(err, &decode):
		status = http.StatusBadRequest
	}

	entry := log.WithError(err).WithField("outcome", duck.Outcome(err))
	if status >= 500 {
		entry.Error("Ducking failed")
	} else {
		entry.Warn("Ducking rejected")
	}
	http.Error(w, err.Error(), status)
}

// instrument records request count and latency for endpoint.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, fmt.Errorf("missing %s file", field)
		}
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer f.Close()
	return readAll(f)
}

func readAll(f multipart.File) ([]byte, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}
