package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

// DefaultBitrate is the fixed output bitrate for lossy formats.
const DefaultBitrate = 192000

// Format is an output container/codec.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatWAV  Format = "wav"
)

// ParseFormat accepts a format name or file extension (with or without dot).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "mp3":
		return FormatMP3, nil
	case "opus", "ogg":
		return FormatOpus, nil
	case "wav", "wave":
		return FormatWAV, nil
	}
	return "", &InvalidInputError{Field: "format", Reason: fmt.Sprintf("unsupported output format %q", s)}
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	if f == FormatOpus {
		return "ogg"
	}
	return string(f)
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatOpus:
		return "audio/ogg"
	case FormatWAV:
		return "audio/wav"
	}
	return "audio/mpeg"
}

// Encoder serialises PCM buffers to a compressed or containerised stream.
type Encoder struct {
	FFmpegPath string
	Bitrate    int // bits per second, lossy formats only
}

// NewEncoder returns an encoder at the given bitrate. Zero selects DefaultBitrate.
func NewEncoder(ffmpegPath string, bitrate int) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	return &Encoder{FFmpegPath: ffmpegPath, Bitrate: bitrate}
}

// Encode returns the complete encoded stream. On failure no bytes are
// returned and the error is an *EncodeError.
func (e *Encoder) Encode(ctx context.Context, format Format, buf Buffer) ([]byte, error) {
	if err := buf.Validate("output"); err != nil {
		return nil, &EncodeError{Format: string(format), Err: err}
	}

	var (
		out []byte
		err error
	)
	switch format {
	case FormatMP3:
		out, err = e.encodeMP3(ctx, buf)
	case FormatOpus:
		out, err = e.encodeOpus(ctx, buf)
	case FormatWAV:
		out, err = encodeWAV(buf)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, &EncodeError{Format: string(format), Err: err}
	}
	return out, nil
}

// encodeMP3 pipes PCM through FFmpeg's libmp3lame at a constant bitrate.
func (e *Encoder) encodeMP3(ctx context.Context, buf Buffer) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.FFmpegPath,
		"-f", "s16le",
		"-ar", strconv.Itoa(buf.SampleRate),
		"-ac", strconv.Itoa(buf.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(e.Bitrate/1000)+"k",
		"-f", "mp3",
		"-loglevel", "error",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(SamplesToBytes(buf.Samples))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}

// Opus granule positions always count at 48kHz regardless of input rate.
const opusGranuleRate = 48000

const (
	// opusPreSkip is the pre-skip the Ogg writer advertises in OpusHead.
	opusPreSkip = 3840
	// opusLookahead is the libopus encoder delay, Fs/400 + Fs/250 at 48kHz.
	opusLookahead = 312
)

// encodeOpus encodes 20ms Opus packets and muxes them into an Ogg stream.
//
// The writer always advertises a 3840 sample pre-skip, so the encoder is
// fed enough leading silence that the first decoded sample after the
// pre-skip is the first input frame. The final page carries the end of
// stream flag and a granule of pre-skip plus the input length, which
// trims the padding of the last packet on decode.
func (e *Encoder) encodeOpus(ctx context.Context, buf Buffer) ([]byte, error) {
	if buf.Channels > 2 {
		return nil, fmt.Errorf("opus: %d channels not supported", buf.Channels)
	}
	enc, err := opus.NewEncoder(buf.SampleRate, buf.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opus: %s: %w", formatString(buf.SampleRate, buf.Channels), err)
	}
	if err := enc.SetBitrate(e.Bitrate); err != nil {
		return nil, fmt.Errorf("opus: set bitrate %d: %w", e.Bitrate, err)
	}

	var out bytes.Buffer
	ogg, err := oggwriter.NewWith(&out, uint32(buf.SampleRate), uint16(buf.Channels))
	if err != nil {
		return nil, fmt.Errorf("ogg: %w", err)
	}

	rate := buf.SampleRate
	frameSize := rate / 50 // 20ms
	frameSamples := frameSize * buf.Channels
	granuleStep := uint64(opusGranuleRate / 50)

	lead := (opusPreSkip - opusLookahead) * rate / opusGranuleRate
	tail := opusLookahead * rate / opusGranuleRate
	packets := (lead + buf.Frames() + tail + frameSize - 1) / frameSize
	last := uint64(opusPreSkip + buf.Frames()*(opusGranuleRate/rate))

	pcm := make([]int16, packets*frameSamples)
	copy(pcm[lead*buf.Channels:], buf.Samples)
	packet := make([]byte, 4000)

	// The writer pins the first page at granule 1 and derives later pages
	// from timestamp deltas, so timestamps are offset by one from the
	// granule each page should carry.
	for k := 0; k < packets; k++ {
		if err := ctx.Err(); err != nil {
			ogg.Close()
			return nil, err
		}
		size, err := enc.Encode(pcm[k*frameSamples:(k+1)*frameSamples], packet)
		if err != nil {
			ogg.Close()
			return nil, fmt.Errorf("opus: encode frame %d: %w", k, err)
		}
		var ts uint32
		if k > 0 {
			ts = uint32(min(uint64(k+1)*granuleStep, last) - 1)
		}
		if err := ogg.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111,
				SequenceNumber: uint16(k),
				Timestamp:      ts,
			},
			Payload: packet[:size],
		}); err != nil {
			ogg.Close()
			return nil, fmt.Errorf("ogg: write page: %w", err)
		}
	}
	if err := ogg.Close(); err != nil {
		return nil, fmt.Errorf("ogg: %w", err)
	}

	data := out.Bytes()
	pages, err := oggPages(data)
	if err != nil {
		return nil, fmt.Errorf("ogg: %w", err)
	}
	// pages[0] and pages[1] hold OpusHead and OpusTags. The lead-in alone
	// spans four packets, so the first and final audio pages differ.
	first, final := pages[2], pages[len(pages)-1]
	patchOggPage(data[first.off:first.end], granuleStep, 0)
	patchOggPage(data[final.off:final.end], last, oggFlagEOS)
	return data, nil
}

func encodeWAV(buf Buffer) ([]byte, error) {
	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, buf.SampleRate, BitDepth, buf.Channels, 1)

	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(s)
	}
	if err := enc.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: buf.Channels,
			SampleRate:  buf.SampleRate,
		},
		Data:           data,
		SourceBitDepth: BitDepth,
	}); err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	return ws.buf, nil
}
