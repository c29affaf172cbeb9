package audio

import (
	"fmt"
	"time"
)

// Default PCM layout produced by the decoder. Everything downstream works on
// interleaved signed 16-bit samples.
const (
	SampleRate = 48000
	Channels   = 2
	BitDepth   = 16

	// FullScale is the amplitude of 0 dBFS for int16 PCM.
	FullScale = 32768.0

	maxSample = 32767
	minSample = -32768
)

// Buffer is a block of interleaved int16 PCM with its format.
type Buffer struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// FramesFor converts a millisecond duration into a frame count at the
// buffer's sample rate, rounding down.
func (b Buffer) FramesFor(ms int) int {
	return FramesFor(ms, b.SampleRate)
}

// SameFormat reports whether two buffers share sample rate and channel count.
func (b Buffer) SameFormat(o Buffer) bool {
	return b.SampleRate == o.SampleRate && b.Channels == o.Channels
}

// Slice returns the frames [start, end) as a view on the same backing array.
func (b Buffer) Slice(start, end int) []int16 {
	return b.Samples[start*b.Channels : end*b.Channels]
}

// Validate rejects buffers that cannot be processed.
func (b Buffer) Validate(name string) error {
	if b.SampleRate <= 0 {
		return &InvalidInputError{Field: name, Reason: fmt.Sprintf("sample rate must be positive, got %d", b.SampleRate)}
	}
	if b.Channels <= 0 {
		return &InvalidInputError{Field: name, Reason: fmt.Sprintf("channel count must be positive, got %d", b.Channels)}
	}
	if len(b.Samples)%b.Channels != 0 {
		return &InvalidInputError{Field: name, Reason: fmt.Sprintf("%d samples do not divide into %d channels", len(b.Samples), b.Channels)}
	}
	if b.Frames() == 0 {
		return &InvalidInputError{Field: name, Reason: "buffer is empty"}
	}
	return nil
}

// String describes the format, e.g. "48000Hz stereo, 2.5s".
func (b Buffer) String() string {
	return fmt.Sprintf("%s, %s", formatString(b.SampleRate, b.Channels), b.Duration())
}

// FramesFor converts milliseconds to frames at sampleRate.
func FramesFor(ms, sampleRate int) int {
	return int(int64(ms) * int64(sampleRate) / 1000)
}

// Silence returns ms milliseconds of digital silence in the given format.
func Silence(ms, sampleRate, channels int) Buffer {
	return Buffer{
		Samples:    make([]int16, FramesFor(ms, sampleRate)*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Clip saturates v to the int16 range.
func Clip(v float64) int16 {
	if v > maxSample {
		return maxSample
	}
	if v < minSample {
		return minSample
	}
	return int16(v)
}

// ClipInt saturates an integer sum to the int16 range.
func ClipInt(v int32) int16 {
	if v > maxSample {
		return maxSample
	}
	if v < minSample {
		return minSample
	}
	return int16(v)
}

func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
