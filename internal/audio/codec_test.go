package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os/exec"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ext  string
		mime string
	}{
		{"", FormatMP3, "mp3", "audio/mpeg"},
		{"MP3", FormatMP3, "mp3", "audio/mpeg"},
		{".ogg", FormatOpus, "ogg", "audio/ogg"},
		{"opus", FormatOpus, "ogg", "audio/ogg"},
		{"wave", FormatWAV, "wav", "audio/wav"},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil {
			t.Fatalf("ParseFormat(%q) error: %v", tt.in, err)
		}
		if got != tt.want || got.Extension() != tt.ext || got.ContentType() != tt.mime {
			t.Errorf("ParseFormat(%q) = %q (%s, %s)", tt.in, got, got.Extension(), got.ContentType())
		}
	}

	var invalid *InvalidInputError
	if _, err := ParseFormat("flac"); !errors.As(err, &invalid) {
		t.Errorf("ParseFormat(flac) = %v, want *InvalidInputError", err)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := tone(250, 8000, 1, 3277)
	data, err := NewEncoder("", 0).Encode(context.Background(), FormatWAV, in)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !isWAV(data) {
		t.Fatalf("output is not RIFF/WAVE: %q", data[:12])
	}

	dec := &Decoder{FFmpegPath: "/nonexistent/ffmpeg", SampleRate: 8000, Channels: 1}
	out, err := dec.Decode(context.Background(), "voice", data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if out.Frames() != in.Frames() {
		t.Fatalf("decoded %d frames, want %d", out.Frames(), in.Frames())
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestDecodeConformsWAV(t *testing.T) {
	in := tone(100, 8000, 1, 1000)
	data, err := NewEncoder("", 0).Encode(context.Background(), FormatWAV, in)
	if err != nil {
		t.Fatal(err)
	}
	dec := &Decoder{FFmpegPath: "/nonexistent/ffmpeg", SampleRate: 16000, Channels: 2}
	out, err := dec.Decode(context.Background(), "background", data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if out.SampleRate != 16000 || out.Channels != 2 || out.Frames() != 1600 {
		t.Errorf("decoded %s with %d frames, want 16000Hz stereo with 1600", out, out.Frames())
	}
}

func TestDecodeErrors(t *testing.T) {
	dec := &Decoder{FFmpegPath: "/nonexistent/ffmpeg", SampleRate: 8000, Channels: 1}

	var decErr *DecodeError
	_, err := dec.Decode(context.Background(), "voice", nil)
	if !errors.As(err, &decErr) || decErr.Stream != "voice" {
		t.Errorf("empty input: got %v, want DecodeError for voice", err)
	}

	_, err = dec.Decode(context.Background(), "background", []byte("definitely not audio"))
	if !errors.As(err, &decErr) || decErr.Stream != "background" {
		t.Errorf("garbage input: got %v, want DecodeError for background", err)
	}
}

func TestEncodeRejectsEmptyBuffer(t *testing.T) {
	var encErr *EncodeError
	_, err := NewEncoder("", 0).Encode(context.Background(), FormatWAV, Buffer{SampleRate: 8000, Channels: 1})
	if !errors.As(err, &encErr) {
		t.Fatalf("got %v, want *EncodeError", err)
	}
	_, err = NewEncoder("", 0).Encode(context.Background(), Format("flac"), Silence(10, 8000, 1))
	if !errors.As(err, &encErr) || encErr.Format != "flac" {
		t.Errorf("got %v, want *EncodeError for flac", err)
	}
}

func TestEncodeMP3MissingFFmpeg(t *testing.T) {
	var encErr *EncodeError
	_, err := NewEncoder("/nonexistent/ffmpeg", 0).Encode(context.Background(), FormatMP3, Silence(100, 48000, 2))
	if !errors.As(err, &encErr) || encErr.Format != "mp3" {
		t.Errorf("got %v, want *EncodeError for mp3", err)
	}
}

func TestEncodeOpus(t *testing.T) {
	tests := []struct {
		name     string
		ms, rate int
		channels int
	}{
		{"48k stereo", 105, 48000, 2},
		{"16k mono", 333, 16000, 1},
		{"8k stereo", 20, 8000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tone(tt.ms, tt.rate, tt.channels, 3000)
			data, err := NewEncoder("", 0).Encode(context.Background(), FormatOpus, in)
			if err != nil {
				t.Fatalf("Encode(opus) error: %v", err)
			}
			pages, err := oggPages(data)
			if err != nil {
				t.Fatalf("oggPages() error: %v", err)
			}
			if len(pages) < 3 {
				t.Fatalf("got %d pages, want headers plus audio", len(pages))
			}
			for i, p := range pages {
				page := bytes.Clone(data[p.off:p.end])
				want := binary.LittleEndian.Uint32(page[22:])
				binary.LittleEndian.PutUint32(page[22:], 0)
				if got := oggChecksum(page); got != want {
					t.Errorf("page %d checksum = %08x, want %08x", i, got, want)
				}
			}

			head := data[pages[0].off:pages[0].end]
			idx := bytes.Index(head, []byte("OpusHead"))
			if idx < 0 {
				t.Fatal("missing OpusHead header")
			}
			preSkip := uint64(binary.LittleEndian.Uint16(head[idx+10:]))

			// Granules count 48kHz samples, so the decoded length after
			// pre-skip must equal the input length at 48kHz.
			wantFrames := uint64(in.Frames() * 48000 / tt.rate)
			final := data[pages[len(pages)-1].off:pages[len(pages)-1].end]
			granule, flags := oggGranule(final)
			if granule < preSkip || granule-preSkip != wantFrames {
				t.Errorf("final granule %d - pre-skip %d = %d frames, want %d",
					granule, preSkip, int64(granule)-int64(preSkip), wantFrames)
			}
			if flags&oggFlagEOS == 0 {
				t.Errorf("final page flags = %#x, want end of stream set", flags)
			}

			// Audio pages never move backwards and the first one is not
			// below the 960 samples it contains.
			prev := uint64(0)
			for i, p := range pages[2:] {
				g, f := oggGranule(data[p.off:p.end])
				if g < prev {
					t.Errorf("audio page %d granule %d < previous %d", i, g, prev)
				}
				if i < len(pages)-3 && f&oggFlagEOS != 0 {
					t.Errorf("audio page %d has end of stream set", i)
				}
				prev = g
			}
			if g, _ := oggGranule(data[pages[2].off:pages[2].end]); g != 960 {
				t.Errorf("first audio page granule = %d, want 960", g)
			}
		})
	}
}

func TestEncodeMP3(t *testing.T) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	data, err := NewEncoder(path, DefaultBitrate).Encode(context.Background(), FormatMP3, tone(500, 48000, 2, 3000))
	if err != nil {
		t.Fatalf("Encode(mp3) error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty mp3")
	}

	// Decoding the mp3 back through FFmpeg restores roughly the same length
	out, err := NewDecoder(path).Decode(context.Background(), "voice", data)
	if err != nil {
		t.Fatalf("Decode(mp3) error: %v", err)
	}
	if out.Frames() < 23000 {
		t.Errorf("decoded %d frames, want about 24000", out.Frames())
	}
}
