package engine

import (
	"fmt"
	"math"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/tonewood/tonewood/internal/pool"
)

// analyzerFFTSize is the analysis window length in frames.
const analyzerFFTSize = 1024

// Analyzer accumulates mono-summed samples into a preallocated ring and
// computes a magnitude spectrum on demand from the control context.
//
// The ring is written by Process without synchronization; Spectrum may
// observe a block boundary mid-window. That tear is acceptable for a
// display tap and keeps the realtime write path free of locks.
type Analyzer struct {
	ring  []float64
	write int

	plan   *algofft.Plan[complex128]
	input  []complex128
	output []complex128
	window []float64
}

func (a *Analyzer) prepare() error {
	plan, err := algofft.NewPlan64(analyzerFFTSize)
	if err != nil {
		return fmt.Errorf("engine: analyzer fft plan: %w", err)
	}
	a.plan = plan
	a.ring = make([]float64, analyzerFFTSize)
	a.input = make([]complex128, analyzerFFTSize)
	a.output = make([]complex128, analyzerFFTSize)
	a.window = make([]float64, analyzerFFTSize)
	for i := range a.window {
		// Hann window.
		a.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(analyzerFFTSize)))
	}
	return nil
}

func (a *Analyzer) push(samples []float32) {
	for i := 0; i+1 < len(samples); i += 2 {
		a.ring[a.write] = float64(samples[i]+samples[i+1]) * 0.5
		a.write++
		if a.write == len(a.ring) {
			a.write = 0
		}
	}
}

// Spectrum returns the magnitude spectrum of the most recent window,
// analyzerFFTSize/2+1 bins. Control context only.
func (a *Analyzer) Spectrum() ([]float64, error) {
	if a.plan == nil {
		return nil, fmt.Errorf("engine: analyzer not prepared")
	}
	// Unroll the ring oldest-first and window it.
	for i := 0; i < analyzerFFTSize; i++ {
		s := a.ring[(a.write+i)%analyzerFFTSize]
		a.input[i] = complex(s*a.window[i], 0)
	}
	if err := a.plan.Forward(a.output, a.input); err != nil {
		return nil, fmt.Errorf("engine: analyzer fft: %w", err)
	}
	mags := make([]float64, analyzerFFTSize/2+1)
	for i := range mags {
		mags[i] = cmplx.Abs(a.output[i]) / float64(analyzerFFTSize)
	}
	return mags, nil
}

// analyzerTapRuntime passes audio through unchanged while feeding its
// Analyzer ring.
type analyzerTapRuntime struct {
	analyzer Analyzer
}

func newAnalyzerRuntime() *analyzerTapRuntime {
	return &analyzerTapRuntime{}
}

func (r *analyzerTapRuntime) Prepare(format Format, _ int) error {
	if err := validFormat(format); err != nil {
		return err
	}
	return r.analyzer.prepare()
}

func (r *analyzerTapRuntime) Reset() {
	for i := range r.analyzer.ring {
		r.analyzer.ring[i] = 0
	}
	r.analyzer.write = 0
}

func (r *analyzerTapRuntime) Process(_ Context, frames int, inputs []*pool.Buffer, p *pool.Pool) pool.Lease {
	lease := p.Borrow(Channels, frames)
	buf := lease.Buffer()
	if len(inputs) == 0 || buf.Frames() == 0 {
		return lease
	}
	buf.CopyFrom(inputs[0])
	buf.SetFrames(frames)
	r.analyzer.push(buf.Samples())
	return lease
}
