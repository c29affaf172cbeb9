package duck

import (
	"fmt"

	"github.com/satindergrewal/autoduck/internal/audio"
)

// Conditioned holds the voice and background after they have been brought to
// the same length.
type Conditioned struct {
	Voice      audio.Buffer
	Background audio.Buffer
	// LoopCount is how many copies of the original background were laid end
	// to end before truncation. 1 means no looping was needed.
	LoopCount int
}

// Condition extends the background to cover the voice plus the configured
// tail, looping it when it is too short, and pads the voice with silence so
// both buffers end up exactly len(voice)+tail frames long.
func Condition(voice, background audio.Buffer, p Params) (Conditioned, error) {
	if err := voice.Validate("voice"); err != nil {
		return Conditioned{}, err
	}
	if err := background.Validate("background"); err != nil {
		return Conditioned{}, err
	}
	if !voice.SameFormat(background) {
		return Conditioned{}, &audio.InvalidInputError{
			Field:  "background",
			Reason: fmt.Sprintf("format %s does not match voice %s", background, voice),
		}
	}
	if p.BackgroundExtensionMs < 0 {
		return Conditioned{}, invalid("background_extension_ms", "cannot be negative, got %d", p.BackgroundExtensionMs)
	}

	ch := voice.Channels
	tail := voice.FramesFor(p.BackgroundExtensionMs)
	total := voice.Frames() + tail

	loops := loopCount(total, background.Frames())
	bg := make([]int16, total*ch)
	for off := 0; off < len(bg); {
		off += copy(bg[off:], background.Samples)
	}

	v := make([]int16, total*ch)
	copy(v, voice.Samples) // remaining tail stays zero

	return Conditioned{
		Voice:      audio.Buffer{Samples: v, SampleRate: voice.SampleRate, Channels: ch},
		Background: audio.Buffer{Samples: bg, SampleRate: background.SampleRate, Channels: ch},
		LoopCount:  loops,
	}, nil
}

// loopCount returns the smallest number of whole copies of an n-frame
// background that covers total frames.
func loopCount(total, n int) int {
	if total <= n {
		return 1
	}
	return (total + n - 1) / n
}
