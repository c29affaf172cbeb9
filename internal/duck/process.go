package duck

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/autoduck/internal/audio"
)

// Chunk is a contiguous frame range [Start, End) of a buffer.
type Chunk struct {
	Index int
	Start int
	End   int
}

// Frames returns the chunk length in frames.
func (c Chunk) Frames() int { return c.End - c.Start }

// Chunks partitions totalFrames into consecutive chunkFrames-long ranges.
// The last chunk is shorter when totalFrames is not an exact multiple.
func Chunks(totalFrames, chunkFrames int) []Chunk {
	if totalFrames <= 0 || chunkFrames <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (totalFrames+chunkFrames-1)/chunkFrames)
	for start := 0; start < totalFrames; start += chunkFrames {
		end := min(start+chunkFrames, totalFrames)
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: end})
	}
	return chunks
}

// ChunkReport records the decision taken for one chunk.
type ChunkReport struct {
	Index         int
	Start         time.Duration
	Duration      time.Duration
	VoiceDbfs     float64 // -Inf for digital silence
	AttenuationDb float64
	Active        bool // voice above threshold, heavy ducking applied
}

// Options tunes how Process runs. The zero value is usable.
type Options struct {
	// Workers bounds concurrent chunk processing. Zero uses GOMAXPROCS.
	Workers int
	// FadeCurve shapes the per-chunk fade envelope. Empty means linear.
	FadeCurve audio.FadeCurve
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Attenuation returns the gain reduction in dB for a chunk whose voice level
// is voiceDbfs, and whether the voice counts as active. The comparison is a
// strict greater-than with no hysteresis.
func Attenuation(voiceDbfs float64, p Params) (float64, bool) {
	if voiceDbfs > p.LoudnessThresholdDbfs {
		return p.DuckAmountDb, true
	}
	return p.LightDuckDb, false
}

// Process attenuates background chunk by chunk according to the loudness of
// the matching voice chunk and returns the ducked background. voice and
// background must already share length and format (see Condition).
//
// Chunks run on a bounded worker pool. Each worker writes only its own frame
// range of the output, so chunk i of the output always comes from chunk i of
// the input. Cancelling ctx abandons the operation at the next chunk boundary
// and no buffer is returned.
func Process(ctx context.Context, voice, background audio.Buffer, p Params, opts Options) (audio.Buffer, []ChunkReport, error) {
	if len(voice.Samples) != len(background.Samples) || !voice.SameFormat(background) {
		return audio.Buffer{}, nil, &audio.InvalidInputError{
			Field:  "background",
			Reason: fmt.Sprintf("must match voice exactly: voice %s, background %s", voice, background),
		}
	}
	if err := voice.Validate("voice"); err != nil {
		return audio.Buffer{}, nil, err
	}

	chunkFrames := voice.FramesFor(p.ChunkDurationMs)
	if chunkFrames <= 0 {
		return audio.Buffer{}, nil, invalid("chunk_duration_ms", "%d ms is shorter than one frame at %d Hz", p.ChunkDurationMs, voice.SampleRate)
	}
	fadeFrames := voice.FramesFor(p.FadeMs)
	curve := opts.FadeCurve
	if curve == "" {
		curve = audio.FadeLinear
	}

	chunks := Chunks(voice.Frames(), chunkFrames)
	out := make([]int16, len(background.Samples))
	reports := make([]ChunkReport, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for _, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			level := audio.LevelDBFS(voice.Slice(c.Start, c.End))
			att, active := Attenuation(level, p)
			audio.ApplyGain(
				out[c.Start*voice.Channels:c.End*voice.Channels],
				background.Slice(c.Start, c.End),
				voice.Channels,
				audio.DBToGain(-att),
				curve,
				fadeFrames,
			)
			reports[c.Index] = ChunkReport{
				Index:         c.Index,
				Start:         framesToDuration(c.Start, voice.SampleRate),
				Duration:      framesToDuration(c.Frames(), voice.SampleRate),
				VoiceDbfs:     level,
				AttenuationDb: att,
				Active:        active,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return audio.Buffer{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, nil, err
	}

	return audio.Buffer{
		Samples:    out,
		SampleRate: background.SampleRate,
		Channels:   background.Channels,
	}, reports, nil
}

func framesToDuration(frames, sampleRate int) time.Duration {
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}
