package duck

import (
	"github.com/satindergrewal/autoduck/internal/audio"
)

const testRate = 8000

// square returns a square wave whose RMS equals amplitude.
func square(ms, channels int, amplitude int16) audio.Buffer {
	b := audio.Silence(ms, testRate, channels)
	for i := range b.Frames() {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		for c := range channels {
			b.Samples[i*channels+c] = v
		}
	}
	return b
}

// dc returns a constant positive signal.
func dc(ms, channels int, value int16) audio.Buffer {
	b := audio.Silence(ms, testRate, channels)
	for i := range b.Samples {
		b.Samples[i] = value
	}
	return b
}

// ramp returns a mono buffer whose sample i is i, so positions can be traced.
func ramp(frames int) audio.Buffer {
	b := audio.Buffer{Samples: make([]int16, frames), SampleRate: testRate, Channels: 1}
	for i := range b.Samples {
		b.Samples[i] = int16(i)
	}
	return b
}
