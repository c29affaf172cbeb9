package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
)

// Decoder turns compressed or containerised audio into int16 PCM in a fixed
// target format. 16-bit PCM WAV is parsed in-process; everything else goes
// through FFmpeg.
type Decoder struct {
	FFmpegPath string
	SampleRate int
	Channels   int
}

// NewDecoder returns a decoder producing 48kHz stereo.
func NewDecoder(ffmpegPath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{
		FFmpegPath: ffmpegPath,
		SampleRate: SampleRate,
		Channels:   Channels,
	}
}

// Decode decodes one input stream. stream names the input in errors.
func (d *Decoder) Decode(ctx context.Context, stream string, data []byte) (Buffer, error) {
	if len(data) == 0 {
		return Buffer{}, &DecodeError{Stream: stream, Err: errors.New("empty input")}
	}

	var (
		buf Buffer
		err error
	)
	if isWAV(data) {
		buf, err = decodeWAV(data)
		if errors.Is(err, errWAVUnsupported) {
			buf, err = d.decodeFFmpeg(ctx, data)
		}
	} else {
		buf, err = d.decodeFFmpeg(ctx, data)
	}
	if err != nil {
		return Buffer{}, &DecodeError{Stream: stream, Err: err}
	}

	buf, err = Conform(buf, d.SampleRate, d.Channels)
	if err != nil {
		return Buffer{}, &DecodeError{Stream: stream, Err: err}
	}
	if buf.Frames() == 0 {
		return Buffer{}, &DecodeError{Stream: stream, Err: errors.New("no audio samples decoded")}
	}
	return buf, nil
}

// decodeFFmpeg runs FFmpeg with the input on stdin and raw s16le PCM on stdout.
func (d *Decoder) decodeFFmpeg(ctx context.Context, data []byte) (Buffer, error) {
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(d.SampleRate),
		"-ac", strconv.Itoa(d.Channels),
		"-loglevel", "error",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Buffer{}, fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return Buffer{}, fmt.Errorf("ffmpeg: %w", err)
	}

	// Ensure whole frames for int16 alignment
	frameBytes := 2 * d.Channels
	out = out[:len(out)-len(out)%frameBytes]

	return Buffer{
		Samples:    BytesToSamples(out),
		SampleRate: d.SampleRate,
		Channels:   d.Channels,
	}, nil
}

var errWAVUnsupported = errors.New("wav: not 16-bit PCM")

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// decodeWAV parses 16-bit PCM WAV without leaving the process. Other WAV
// flavours return errWAVUnsupported so the caller can fall back to FFmpeg.
func decodeWAV(data []byte) (Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Buffer{}, errWAVUnsupported
	}
	if dec.WavAudioFormat != 1 || dec.BitDepth != BitDepth {
		return Buffer{}, errWAVUnsupported
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("wav: %w", err)
	}

	samples := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = int16(v)
	}
	buf := Buffer{
		Samples:    samples,
		SampleRate: pcm.Format.SampleRate,
		Channels:   pcm.Format.NumChannels,
	}
	if buf.Channels <= 0 || buf.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("wav: invalid format %s", formatString(buf.SampleRate, buf.Channels))
	}
	buf.Samples = buf.Samples[:len(buf.Samples)-len(buf.Samples)%buf.Channels]
	return buf, nil
}

// BytesToSamples converts little-endian bytes to int16 samples. A trailing
// odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
