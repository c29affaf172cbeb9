package audio

import (
	"fmt"
	"math"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Conform converts b to the requested sample rate and channel count. When the
// format already matches, b is returned unchanged. Downmixing runs first so
// stereo is never resampled when the target is mono.
func Conform(b Buffer, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}, &InvalidInputError{Field: "format", Reason: fmt.Sprintf("cannot conform to %s", formatString(sampleRate, channels))}
	}
	if b.SampleRate == sampleRate && b.Channels == channels {
		return b, nil
	}

	out := b
	if out.Channels > channels {
		out = downmix(out, channels)
	}
	if out.SampleRate != sampleRate {
		var err error
		if out, err = Resample(out, sampleRate); err != nil {
			return Buffer{}, err
		}
	}
	if out.Channels < channels {
		out = upmix(out, channels)
	}
	return out, nil
}

// downmix averages all source channels into each of the target channels.
// Uses int32 arithmetic to prevent overflow.
func downmix(b Buffer, channels int) Buffer {
	frames := b.Frames()
	out := make([]int16, frames*channels)
	for i := range frames {
		var sum int32
		for c := range b.Channels {
			sum += int32(b.Samples[i*b.Channels+c])
		}
		avg := ClipInt(sum / int32(b.Channels))
		for c := range channels {
			out[i*channels+c] = avg
		}
	}
	return Buffer{Samples: out, SampleRate: b.SampleRate, Channels: channels}
}

// upmix copies the last source channel into any extra target channels, so
// mono becomes an identical L+R pair.
func upmix(b Buffer, channels int) Buffer {
	frames := b.Frames()
	out := make([]int16, frames*channels)
	for i := range frames {
		for c := range channels {
			src := c
			if src >= b.Channels {
				src = b.Channels - 1
			}
			out[i*channels+c] = b.Samples[i*b.Channels+src]
		}
	}
	return Buffer{Samples: out, SampleRate: b.SampleRate, Channels: channels}
}

// Resample converts b to dstRate with a band-limited polyphase filter, so
// content above the lower Nyquist frequency is removed rather than folded
// back into the audible band. Each channel is resampled independently and
// the result holds exactly frames*dstRate/srcRate frames.
func Resample(b Buffer, dstRate int) (Buffer, error) {
	if b.SampleRate <= 0 || dstRate <= 0 {
		return Buffer{}, &InvalidInputError{Field: "format", Reason: fmt.Sprintf("cannot resample %s to %d Hz", formatString(b.SampleRate, b.Channels), dstRate)}
	}
	if b.SampleRate == dstRate || len(b.Samples) == 0 {
		b.SampleRate = dstRate
		return b, nil
	}

	srcFrames := b.Frames()
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(b.SampleRate))
	out := make([]int16, dstFrames*b.Channels)
	plane := make([]float64, srcFrames)

	for c := range b.Channels {
		for i := range srcFrames {
			plane[i] = float64(b.Samples[i*b.Channels+c]) / FullScale
		}
		res, err := resampler.ResampleMono(plane, float64(b.SampleRate), float64(dstRate), resampler.QualityHigh)
		if err != nil {
			return Buffer{}, fmt.Errorf("resample %d -> %d Hz: %w", b.SampleRate, dstRate, err)
		}
		// The filter may emit a few frames more or less than the exact
		// ratio; trim or leave the zeroed tail.
		for i := range min(len(res), dstFrames) {
			out[i*b.Channels+c] = Clip(math.Round(res[i] * FullScale))
		}
	}
	return Buffer{Samples: out, SampleRate: dstRate, Channels: b.Channels}, nil
}
