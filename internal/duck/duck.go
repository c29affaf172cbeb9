package duck

import (
	"context"
	"fmt"

	"github.com/satindergrewal/autoduck/internal/audio"
)

// Result is the outcome of one ducking operation.
type Result struct {
	Mixed      audio.Buffer // ducked background with the voice on top
	Background audio.Buffer // ducked background alone
	Voice      audio.Buffer // voice padded with the silent tail
	Chunks     []ChunkReport
	LoopCount  int
}

// ActiveChunks counts chunks that received heavy ducking.
func (r *Result) ActiveChunks() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Active {
			n++
		}
	}
	return n
}

// Duck runs conditioning, chunked processing and mixing on decoded buffers.
// It is deterministic and keeps no state between calls. Either a complete
// result or an error is returned, never both.
func Duck(ctx context.Context, voice, background audio.Buffer, p Params, opts Options) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cond, err := Condition(voice, background, p)
	if err != nil {
		return nil, err
	}

	ducked, reports, err := Process(ctx, cond.Voice, cond.Background, p, opts)
	if err != nil {
		return nil, fmt.Errorf("process chunks: %w", err)
	}

	mixed, err := Mix(ducked, cond.Voice)
	if err != nil {
		return nil, err
	}

	return &Result{
		Mixed:      mixed,
		Background: ducked,
		Voice:      cond.Voice,
		Chunks:     reports,
		LoopCount:  cond.LoopCount,
	}, nil
}
