// Package engine executes compiled render plans.
//
// Each planned node gets one NodeRuntime instance, built by a Factory the
// execution host supplies. Lifecycle per runtime is prepare -> process* ->
// reset -> prepare...: Prepare may allocate and runs in the control
// context; Process runs on the realtime path and may only call pool
// operations and pure arithmetic: no locks, allocation, I/O, or logging.
package engine

import (
	"fmt"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/compiler"
	"github.com/tonewood/tonewood/internal/pool"
)

// Channels is the engine's internal channel count. Mono sources are
// upmixed at the source node; everything downstream is interleaved stereo.
const Channels = 2

// Format describes the stream a runtime is prepared for.
type Format struct {
	SampleRate int
	Channels   int
}

// Context carries per-block render state into Process.
type Context struct {
	// StartTick is the timeline tick of the block's first frame.
	StartTick clock.SampleTick

	// SampleRate is the engine sample rate.
	SampleRate int

	// Quality is the plan's rendering tier.
	Quality compiler.Quality
}

// NodeRuntime is the executable counterpart of one planned node.
type NodeRuntime interface {
	// Prepare allocates whatever Process will need. Control context only.
	Prepare(format Format, maxFrames int) error

	// Reset returns the runtime to its post-Prepare state.
	Reset()

	// Process renders one block. inputs holds the already-rendered buffers
	// of the node's ordered inputs. The returned lease transfers to the
	// caller. Must be realtime-safe.
	Process(ctx Context, frames int, inputs []*pool.Buffer, p *pool.Pool) pool.Lease
}

// Factory builds the runtime for a planned node. The execution host
// supplies it; DefaultFactory covers every built-in node kind.
type Factory interface {
	NewRuntime(node compiler.PlannedNode) (NodeRuntime, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(node compiler.PlannedNode) (NodeRuntime, error)

// NewRuntime implements Factory.
func (f FactoryFunc) NewRuntime(node compiler.PlannedNode) (NodeRuntime, error) {
	return f(node)
}

func validFormat(f Format) error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("engine: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels != Channels {
		return fmt.Errorf("engine: unsupported channel count %d", f.Channels)
	}
	return nil
}
