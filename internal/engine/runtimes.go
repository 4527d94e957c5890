package engine

import (
	"fmt"
	"math"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/compiler"
	"github.com/tonewood/tonewood/internal/graph"
	"github.com/tonewood/tonewood/internal/pool"
	"github.com/tonewood/tonewood/internal/timemap"
)

// DefaultFactory builds the built-in runtime for every node kind.
type DefaultFactory struct{}

// NewRuntime implements Factory. The switch is exhaustive over the sealed
// spec union; an unknown kind is a programming error, not a silent skip.
func (DefaultFactory) NewRuntime(node compiler.PlannedNode) (NodeRuntime, error) {
	switch spec := node.Spec.(type) {
	case graph.SourceSpec:
		return &sourceRuntime{handle: node.BoundSource}, nil
	case graph.TimeMapSpec:
		return &timeMapRuntime{m: spec.Map}, nil
	case graph.GainSpec:
		return &gainRuntime{gain: float32(spec.Gain)}, nil
	case graph.PanSpec:
		return newPanRuntime(spec.Pan), nil
	case graph.FadeSpec:
		return &fadeRuntime{spec: spec}, nil
	case graph.BusSpec:
		return &busRuntime{}, nil
	case graph.MeterTapSpec:
		return &meterTapRuntime{}, nil
	case graph.AnalyzerTapSpec:
		return newAnalyzerRuntime(), nil
	default:
		return nil, fmt.Errorf("engine: no runtime for node kind %q", node.Spec.Kind())
	}
}

// sourceRuntime pulls interleaved samples from a bound source handle.
// An unbound source renders silence; binding failures were already
// recorded in plan diagnostics at compile time.
type sourceRuntime struct {
	handle  compiler.SourceHandle
	scratch []float32 // mono staging, allocated in Prepare
}

func (r *sourceRuntime) Prepare(format Format, maxFrames int) error {
	if err := validFormat(format); err != nil {
		return err
	}
	if r.handle != nil && r.handle.Channels() == 1 {
		r.scratch = make([]float32, maxFrames)
	}
	return nil
}

func (r *sourceRuntime) Reset() {}

func (r *sourceRuntime) Process(ctx Context, frames int, _ []*pool.Buffer, p *pool.Pool) pool.Lease {
	lease := p.Borrow(Channels, frames)
	buf := lease.Buffer()
	if r.handle == nil || buf.Frames() == 0 {
		return lease // borrowed buffers arrive zeroed
	}

	out := buf.Samples()
	switch r.handle.Channels() {
	case Channels:
		r.handle.Read(ctx.StartTick, out)
	case 1:
		mono := r.scratch[:buf.Frames()]
		n := r.handle.Read(ctx.StartTick, mono)
		for i := 0; i < n; i++ {
			out[2*i] = mono[i]
			out[2*i+1] = mono[i]
		}
	}
	return lease
}

// timeMapRuntime retimes audio through the segment time map. When its
// input is a bound source, each in-range destination frame reads the
// source at its mapped tick, so slipped and speed-changed clips render
// the retimed content. Without a handle it falls back to gating its
// input buffer by destination-tick membership. Frames the map excludes
// render silence, as do reversed segments; no reverse playback algorithm
// exists yet, so both modes mute. No resampling is performed; retiming
// selects samples per frame, it does not interpolate.
type timeMapRuntime struct {
	m      timemap.TimeMap
	handle compiler.SourceHandle
	frame  [Channels]float32
}

func (r *timeMapRuntime) Prepare(format Format, _ int) error {
	return validFormat(format)
}

func (r *timeMapRuntime) Reset() {}

func (r *timeMapRuntime) Process(ctx Context, frames int, inputs []*pool.Buffer, p *pool.Pool) pool.Lease {
	lease := p.Borrow(Channels, frames)
	buf := lease.Buffer()
	if buf.Frames() == 0 || r.m.Reverse != timemap.ReverseOff {
		return lease
	}

	out := buf.Samples()
	if r.handle != nil {
		for i := 0; i < buf.Frames(); i++ {
			src, ok := r.m.SourceTick(ctx.StartTick + clock.SampleTick(i))
			if !ok {
				continue
			}
			switch r.handle.Channels() {
			case Channels:
				r.handle.Read(src, r.frame[:])
				out[2*i] = r.frame[0]
				out[2*i+1] = r.frame[1]
			case 1:
				r.handle.Read(src, r.frame[:1])
				out[2*i] = r.frame[0]
				out[2*i+1] = r.frame[0]
			}
		}
		return lease
	}

	if len(inputs) == 0 {
		return lease
	}
	in := inputs[0].Samples()
	n := min(buf.Frames(), inputs[0].Frames())
	for i := 0; i < n; i++ {
		if _, ok := r.m.SourceTick(ctx.StartTick + clock.SampleTick(i)); ok {
			out[2*i] = in[2*i]
			out[2*i+1] = in[2*i+1]
		}
	}
	return lease
}

type gainRuntime struct {
	gain float32
}

func (r *gainRuntime) Prepare(format Format, _ int) error { return validFormat(format) }
func (r *gainRuntime) Reset()                             {}

func (r *gainRuntime) Process(_ Context, frames int, inputs []*pool.Buffer, p *pool.Pool) pool.Lease {
	lease := p.Borrow(Channels, frames)
	buf := lease.Buffer()
	if len(inputs) == 0 || buf.Frames() == 0 {
		return lease
	}
	in := inputs[0].Samples()
	out := buf.Samples()
	n := min(len(in), len(out))
	for i := 0; i < n; i++ {
		out[i] = in[i] * r.gain
	}
	return lease
}

// panRuntime applies equal-power stereo balance. The channel gains are
// fixed at construction; Process is pure multiplication.
type panRuntime struct {
	left  float32
	right float32
}

func newPanRuntime(pan float64) *panRuntime {
	angle := (pan + 1) * math.Pi / 4
	return &panRuntime{
		left:  float32(math.Cos(angle)),
		right: float32(math.Sin(angle)),
	}
}

func (r *panRuntime) Prepare(format Format, _ int) error { return validFormat(format) }
func (r *panRuntime) Reset()                             {}

func (r *panRuntime) Process(_ Context, frames int, inputs []*pool.Buffer, p *pool.Pool) pool.Lease {
	lease := p.Borrow(Channels, frames)
	buf := lease.Buffer()
	if len(inputs) == 0 || buf.Frames() == 0 {
		return lease
	}
	in := inputs[0].Samples()
	out := buf.Samples()
	n := min(buf.Frames(), inputs[0].Frames())
	for i := 0; i < n; i++ {
		out[2*i] = in[2*i] * r.left
		out[2*i+1] = in[2*i+1] * r.right
	}
	return lease
}

// fadeRuntime ramps gain over the first DurationSamples frames it
// processes after Reset: up from zero for fade-in, down to zero for
// fade-out. Past the window, fade-in is unity and fade-out is silence.
type fadeRuntime struct {
	spec      graph.FadeSpec
	processed int64
}

func (r *fadeRuntime) Prepare(format Format, _ int) error {
	return validFormat(format)
}

func (r *fadeRuntime) Reset() { r.processed = 0 }

func (r *fadeRuntime) Process(_ Context, frames int, inputs []*pool.Buffer, p *pool.Pool) pool.Lease {
	lease := p.Borrow(Channels, frames)
	buf := lease.Buffer()
	if len(inputs) == 0 || buf.Frames() == 0 {
		r.processed += int64(frames)
		return lease
	}
	in := inputs[0].Samples()
	out := buf.Samples()
	n := min(buf.Frames(), inputs[0].Frames())
	for i := 0; i < n; i++ {
		g := r.gainAt(r.processed + int64(i))
		out[2*i] = in[2*i] * g
		out[2*i+1] = in[2*i+1] * g
	}
	r.processed += int64(buf.Frames())
	return lease
}

func (r *fadeRuntime) gainAt(pos int64) float32 {
	d := r.spec.DurationSamples
	var t float64
	switch {
	case d <= 0 || pos >= d:
		t = 1
	case pos < 0:
		t = 0
	default:
		t = float64(pos) / float64(d)
	}
	if r.spec.FadeKind == graph.FadeOut {
		t = 1 - t
	}
	if r.spec.Shape == graph.FadeEqualPower {
		return float32(math.Sin(t * math.Pi / 2))
	}
	return float32(t)
}

// busRuntime sums its ordered inputs.
type busRuntime struct{}

func (r *busRuntime) Prepare(format Format, _ int) error { return validFormat(format) }
func (r *busRuntime) Reset()                             {}

func (r *busRuntime) Process(_ Context, frames int, inputs []*pool.Buffer, p *pool.Pool) pool.Lease {
	lease := p.Borrow(Channels, frames)
	buf := lease.Buffer()
	if buf.Frames() == 0 {
		return lease
	}
	out := buf.Samples()
	for _, input := range inputs {
		in := input.Samples()
		n := min(len(in), len(out))
		for i := 0; i < n; i++ {
			out[i] += in[i]
		}
	}
	return lease
}
