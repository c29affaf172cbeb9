package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/autoduck/internal/audio"
	"github.com/satindergrewal/autoduck/internal/config"
	"github.com/satindergrewal/autoduck/internal/duck"
	"github.com/satindergrewal/autoduck/internal/metrics"
)

// fakeDucker records the last request and returns a canned result.
type fakeDucker struct {
	got duck.Request
	err error
}

func (f *fakeDucker) Run(ctx context.Context, req duck.Request) (*duck.Output, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	mixed := audio.Silence(2000, 8000, 1)
	return &duck.Output{
		Data:   []byte("encoded"),
		Format: req.Format,
		Result: &duck.Result{
			Mixed: mixed,
			Chunks: []duck.ChunkReport{
				{Index: 0, Active: true, AttenuationDb: 20},
				{Index: 1, AttenuationDb: 10},
			},
			LoopCount: 1,
		},
	}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(d Ducker, presets config.Presets) *Server {
	return New(d, Options{
		Defaults: duck.DefaultParams(),
		Presets:  presets,
		Logger:   quietLogger(),
	})
}

// upload builds a multipart request with the given files and fields.
func upload(t *testing.T, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".wav")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/duck", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func bothFiles() map[string][]byte {
	return map[string][]byte{"voice": []byte("voice"), "background": []byte("music")}
}

func TestDuckDefaults(t *testing.T) {
	fake := &fakeDucker{}
	rec := httptest.NewRecorder()
	newTestServer(fake, nil).Handler().ServeHTTP(rec, upload(t, bothFiles(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="ducked_audio.mp3"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	if got := rec.Header().Get("X-Duck-Chunks"); got != "2" {
		t.Errorf("X-Duck-Chunks = %q, want 2", got)
	}
	if got := rec.Header().Get("X-Duck-Active-Chunks"); got != "1" {
		t.Errorf("X-Duck-Active-Chunks = %q, want 1", got)
	}
	if got := rec.Header().Get("X-Duck-Duration-Ms"); got != "2000" {
		t.Errorf("X-Duck-Duration-Ms = %q, want 2000", got)
	}
	if rec.Body.String() != "encoded" {
		t.Errorf("body = %q", rec.Body.String())
	}

	if string(fake.got.Voice) != "voice" || string(fake.got.Background) != "music" {
		t.Errorf("files not forwarded: %q / %q", fake.got.Voice, fake.got.Background)
	}
	if fake.got.Params != duck.DefaultParams() {
		t.Errorf("Params = %+v, want defaults", fake.got.Params)
	}
	if fake.got.Format != audio.FormatMP3 {
		t.Errorf("Format = %q, want mp3", fake.got.Format)
	}
}

func TestDuckFieldOverridesAndPreset(t *testing.T) {
	base := duck.DefaultParams()
	preset := base
	preset.DuckAmountDb = 25
	preset.FadeMs = 60
	fake := &fakeDucker{}
	srv := newTestServer(fake, config.Presets{"trailer": preset})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, upload(t, bothFiles(), map[string]string{
		"preset":                  "trailer",
		"fade_ms":                 "45",
		"loudness_threshold_dbfs": "-35.5",
		"format":                  "opus",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	want := preset
	want.FadeMs = 45
	want.LoudnessThresholdDbfs = -35.5
	if fake.got.Params != want {
		t.Errorf("Params = %+v, want %+v", fake.got.Params, want)
	}
	if fake.got.Format != audio.FormatOpus {
		t.Errorf("Format = %q, want opus", fake.got.Format)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="ducked_audio.ogg"` {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestDuckBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string][]byte
		fields map[string]string
		want   int
	}{
		{"missing background", map[string][]byte{"voice": []byte("v")}, nil, http.StatusBadRequest},
		{"non-numeric field", bothFiles(), map[string]string{"chunk_duration_ms": "long"}, http.StatusBadRequest},
		{"out of engine bounds", bothFiles(), map[string]string{"duck_amount_db": "-5"}, http.StatusBadRequest},
		{"fade longer than half chunk", bothFiles(), map[string]string{"chunk_duration_ms": "500", "fade_ms": "300"}, http.StatusBadRequest},
		{"strict slider bounds", bothFiles(), map[string]string{"chunk_duration_ms": "100", "fade_ms": "20", "strict": "true"}, http.StatusBadRequest},
		{"unknown preset", bothFiles(), map[string]string{"preset": "nope"}, http.StatusBadRequest},
		{"unknown format", bothFiles(), map[string]string{"format": "flac"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeDucker{}
			rec := httptest.NewRecorder()
			newTestServer(fake, nil).Handler().ServeHTTP(rec, upload(t, tt.files, tt.fields))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tt.want, rec.Body.String())
			}
			if fake.got.Voice != nil {
				t.Error("engine should not run for a rejected request")
			}
		})
	}
}

func TestDuckEngineErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&audio.DecodeError{Stream: "voice", Err: errors.New("bad header")}, http.StatusBadRequest},
		{&audio.InvalidInputError{Field: "voice", Reason: "buffer is empty"}, http.StatusBadRequest},
		{&audio.EncodeError{Format: "mp3", Err: errors.New("ffmpeg exited")}, http.StatusInternalServerError},
		{&audio.DecodeError{Stream: "voice", Err: fmt.Errorf("ffmpeg: %w", exec.ErrNotFound)}, http.StatusInternalServerError},
		{&audio.DecodeError{Stream: "background", Err: &fs.PathError{Op: "fork/exec", Path: "/opt/ffmpeg", Err: fs.ErrNotExist}}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		newTestServer(&fakeDucker{err: tt.err}, nil).Handler().ServeHTTP(rec, upload(t, bothFiles(), nil))
		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
		if !strings.Contains(rec.Body.String(), tt.err.Error()) {
			t.Errorf("body %q does not name the error", rec.Body.String())
		}
	}
}

func TestDuckCanceledRecords499(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := New(&fakeDucker{err: fmt.Errorf("decode voice: %w", context.Canceled)}, Options{
		Defaults: duck.DefaultParams(),
		Metrics:  metrics.New(reg),
		Logger:   quietLogger(),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, upload(t, bothFiles(), nil))
	if rec.Code != statusClientClosedRequest {
		t.Errorf("status = %d, want %d", rec.Code, statusClientClosedRequest)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("canceled request wrote body %q", rec.Body.String())
	}

	m := srv.metrics.HTTPRequests
	if got := testutil.ToFloat64(m.WithLabelValues(http.MethodPost, "/api/duck", "499")); got != 1 {
		t.Errorf("499 counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WithLabelValues(http.MethodPost, "/api/duck", "200")); got != 0 {
		t.Errorf("200 counter = %v, want 0", got)
	}
}

func TestDuckMethodAndSize(t *testing.T) {
	srv := newTestServer(&fakeDucker{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/duck", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	srv.maxUpload = 1024
	rec = httptest.NewRecorder()
	big := map[string][]byte{"voice": bytes.Repeat([]byte("x"), 4096), "background": []byte("m")}
	srv.Handler().ServeHTTP(rec, upload(t, big, nil))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized status = %d, want 413", rec.Code)
	}
}

func TestDuckEndToEndWAV(t *testing.T) {
	enc := audio.NewEncoder("", 0)
	voice, err := enc.Encode(context.Background(), audio.FormatWAV, audio.Silence(400, 8000, 1))
	if err != nil {
		t.Fatal(err)
	}
	music := audio.Silence(300, 8000, 1)
	for i := range music.Samples {
		music.Samples[i] = 8000
	}
	background, err := enc.Encode(context.Background(), audio.FormatWAV, music)
	if err != nil {
		t.Fatal(err)
	}

	runner := duck.NewRunner("/nonexistent/ffmpeg", 0, duck.Options{}, quietLogger(), nil)
	runner.Decoder.SampleRate = 8000
	runner.Decoder.Channels = 1

	rec := httptest.NewRecorder()
	newTestServer(runner, nil).Handler().ServeHTTP(rec, upload(t,
		map[string][]byte{"voice": voice, "background": background},
		map[string]string{"chunk_duration_ms": "100", "fade_ms": "10", "background_extension_ms": "100", "format": "wav"},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/wav" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("X-Duck-Chunks"); got != "5" {
		t.Errorf("X-Duck-Chunks = %q, want 5", got)
	}
	// Silent voice means no chunk is heavily ducked
	if got := rec.Header().Get("X-Duck-Active-Chunks"); got != "0" {
		t.Errorf("X-Duck-Active-Chunks = %q, want 0", got)
	}

	out, err := runner.Decoder.Decode(context.Background(), "output", rec.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not decodable: %v", err)
	}
	if out.Frames() != 4000 {
		t.Errorf("output frames = %d, want 4000", out.Frames())
	}
}

func TestParamsEndpoint(t *testing.T) {
	preset := duck.DefaultParams()
	preset.DuckAmountDb = 12
	srv := newTestServer(&fakeDucker{}, config.Presets{"soft": preset})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/params", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Defaults duck.Params            `json:"defaults"`
		Ranges   duck.UIRanges          `json:"ranges"`
		Presets  map[string]duck.Params `json:"presets"`
		Formats  []string               `json:"formats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Defaults != duck.DefaultParams() {
		t.Errorf("defaults = %+v", resp.Defaults)
	}
	if resp.Ranges != duck.DefaultUIRanges() {
		t.Errorf("ranges = %+v", resp.Ranges)
	}
	if resp.Presets["soft"].DuckAmountDb != 12 {
		t.Errorf("presets = %+v", resp.Presets)
	}
	if len(resp.Formats) != 3 {
		t.Errorf("formats = %v", resp.Formats)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := New(&fakeDucker{}, Options{
		Defaults: duck.DefaultParams(),
		Gatherer: reg,
		Metrics:  m,
		Logger:   quietLogger(),
	})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/params", nil))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `autoduck_http_requests_total{endpoint="/api/params",method="GET",status_code="200"} 1`) {
		t.Errorf("metrics missing request counter:\n%s", body)
	}
}
