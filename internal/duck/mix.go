package duck

import (
	"fmt"

	"github.com/satindergrewal/autoduck/internal/audio"
)

// Mix overlays voice on top of background by summing sample-wise. Sums
// saturate at the int16 range instead of wrapping.
func Mix(background, voice audio.Buffer) (audio.Buffer, error) {
	if len(background.Samples) != len(voice.Samples) || !background.SameFormat(voice) {
		return audio.Buffer{}, &audio.InvalidInputError{
			Field:  "mix",
			Reason: fmt.Sprintf("buffers differ: background %s, voice %s", background, voice),
		}
	}
	out := make([]int16, len(background.Samples))
	for i := range out {
		out[i] = audio.ClipInt(int32(background.Samples[i]) + int32(voice.Samples[i]))
	}
	return audio.Buffer{
		Samples:    out,
		SampleRate: background.SampleRate,
		Channels:   background.Channels,
	}, nil
}
