package engine

import (
	"context"
	"fmt"

	"github.com/tonewood/tonewood/internal/clock"
)

// Render drives a prepared runtime graph block by block and returns the
// main output as interleaved stereo samples. Control context: it
// allocates the result and may be cancelled between blocks.
func Render(ctx context.Context, rg *RuntimeGraph, start clock.SampleTick, totalFrames, blockFrames int) ([]float32, error) {
	if totalFrames < 0 {
		return nil, fmt.Errorf("engine: negative frame count %d", totalFrames)
	}
	if blockFrames <= 0 {
		return nil, fmt.Errorf("engine: invalid block size %d", blockFrames)
	}
	if !rg.prepared {
		return nil, fmt.Errorf("engine: render before Prepare")
	}

	out := make([]float32, totalFrames*Channels)
	for done := 0; done < totalFrames; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frames := min(blockFrames, totalFrames-done)

		lease := rg.Process(start+clock.SampleTick(done), frames)
		buf := lease.Buffer()
		if buf != nil && buf.Frames() > 0 {
			// A pool underflow yields an empty buffer; the block stays
			// silent in the output.
			copy(out[done*Channels:], buf.Samples()[:buf.Frames()*Channels])
		}
		rg.pool.Recycle(lease)
		done += frames
	}
	return out, nil
}
