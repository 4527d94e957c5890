package engine

import (
	"math"
	"sync/atomic"

	"github.com/tonewood/tonewood/internal/pool"
)

// Meter exposes the last processed block's peak and RMS to the control
// context. Both values are stored as atomic float bits, so reading them
// concurrently with Process is safe and lock-free.
type Meter struct {
	peakBits atomic.Uint64
	rmsBits  atomic.Uint64
}

// Peak returns the linear peak of the most recent block.
func (m *Meter) Peak() float64 {
	return math.Float64frombits(m.peakBits.Load())
}

// RMS returns the root-mean-square of the most recent block.
func (m *Meter) RMS() float64 {
	return math.Float64frombits(m.rmsBits.Load())
}

func (m *Meter) update(samples []float32) {
	peak := 0.0
	sumSquares := 0.0
	for _, s := range samples {
		v := float64(s)
		if a := math.Abs(v); a > peak {
			peak = a
		}
		sumSquares += v * v
	}
	rms := 0.0
	if len(samples) > 0 {
		rms = math.Sqrt(sumSquares / float64(len(samples)))
	}
	m.peakBits.Store(math.Float64bits(peak))
	m.rmsBits.Store(math.Float64bits(rms))
}

// meterTapRuntime passes audio through unchanged while updating its Meter.
type meterTapRuntime struct {
	meter Meter
}

func (r *meterTapRuntime) Prepare(format Format, _ int) error { return validFormat(format) }

func (r *meterTapRuntime) Reset() {
	r.meter.peakBits.Store(0)
	r.meter.rmsBits.Store(0)
}

func (r *meterTapRuntime) Process(_ Context, frames int, inputs []*pool.Buffer, p *pool.Pool) pool.Lease {
	lease := p.Borrow(Channels, frames)
	buf := lease.Buffer()
	if len(inputs) == 0 || buf.Frames() == 0 {
		r.meter.update(nil)
		return lease
	}
	buf.CopyFrom(inputs[0])
	buf.SetFrames(frames)
	r.meter.update(buf.Samples())
	return lease
}
