package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/compiler"
	"github.com/tonewood/tonewood/internal/graph"
	"github.com/tonewood/tonewood/internal/pool"
	"github.com/tonewood/tonewood/internal/timemap"
)

const testRate = 48000

// rampHandle yields sample value tick/1000 on every channel, so the
// expected output of any frame is a pure function of its absolute tick.
type rampHandle struct {
	channels int
}

func (h *rampHandle) Channels() int { return h.channels }

func (h *rampHandle) Read(start clock.SampleTick, dst []float32) int {
	for i := range dst {
		frame := i / h.channels
		dst[i] = float32(int64(start)+int64(frame)) / 1000
	}
	return len(dst)
}

// constHandle yields a fixed value on every channel.
type constHandle struct {
	channels int
	value    float32
}

func (h *constHandle) Channels() int { return h.channels }

func (h *constHandle) Read(_ clock.SampleTick, dst []float32) int {
	for i := range dst {
		dst[i] = h.value
	}
	return len(dst)
}

func newTestPool(t *testing.T, buffers, maxFrames int) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Config{
		ChannelCounts:          []int{2},
		BuffersPerChannelCount: buffers,
		MaxFrames:              maxFrames,
	})
	require.NoError(t, err)
	return p
}

func testFormat() Format { return Format{SampleRate: testRate, Channels: Channels} }

// constInput borrows a buffer, fills it with value, and returns it for use
// as a runtime input. The lease is intentionally leaked into the test pool.
func constInput(t *testing.T, p *pool.Pool, frames int, value float32) *pool.Buffer {
	t.Helper()
	lease := p.Borrow(Channels, frames)
	require.False(t, lease.Empty())
	buf := lease.Buffer()
	samples := buf.Samples()
	for i := range samples {
		samples[i] = value
	}
	return buf
}

func prepare(t *testing.T, rt NodeRuntime) {
	t.Helper()
	require.NoError(t, rt.Prepare(testFormat(), 512))
}

func TestDefaultFactoryCoversEveryKind(t *testing.T) {
	specs := []graph.NodeSpec{
		graph.SourceSpec{ClipID: "c", AssetID: "a"},
		graph.TimeMapSpec{Map: mustMap(t, 0, 100)},
		graph.GainSpec{Gain: 0.5},
		graph.PanSpec{Pan: 0},
		graph.FadeSpec{FadeKind: graph.FadeIn, DurationSamples: 10, Shape: graph.FadeLinear},
		graph.BusSpec{BusID: "main"},
		graph.MeterTapSpec{},
		graph.AnalyzerTapSpec{},
	}
	for _, spec := range specs {
		rt, err := DefaultFactory{}.NewRuntime(compiler.PlannedNode{ID: "n", Spec: spec})
		require.NoError(t, err, "kind %s", spec.Kind())
		require.NotNil(t, rt, "kind %s", spec.Kind())
	}
}

func mustMap(t *testing.T, start clock.SampleTick, duration int64) timemap.TimeMap {
	t.Helper()
	m, err := timemap.New(timemap.TimeMap{
		SampleRate:       testRate,
		TimelineStart:    start,
		TimelineDuration: duration,
		Speed:            1,
	})
	require.NoError(t, err)
	return m
}

func TestSourceRuntimeStereoReadsAtBlockTick(t *testing.T) {
	p := newTestPool(t, 4, 64)
	rt := &sourceRuntime{handle: &rampHandle{channels: 2}}
	prepare(t, rt)

	lease := rt.Process(Context{StartTick: 2000, SampleRate: testRate}, 4, nil, p)
	out := lease.Buffer().Samples()
	for f := 0; f < 4; f++ {
		want := float32(2000+f) / 1000
		assert.Equal(t, want, out[2*f])
		assert.Equal(t, want, out[2*f+1])
	}
	p.Recycle(lease)
}

func TestSourceRuntimeMonoUpmixDuplicatesChannels(t *testing.T) {
	p := newTestPool(t, 4, 64)
	rt := &sourceRuntime{handle: &constHandle{channels: 1, value: 0.25}}
	prepare(t, rt)

	lease := rt.Process(Context{StartTick: 0, SampleRate: testRate}, 8, nil, p)
	out := lease.Buffer().Samples()
	for i := range out {
		assert.Equal(t, float32(0.25), out[i])
	}
	p.Recycle(lease)
}

func TestSourceRuntimeUnboundRendersSilence(t *testing.T) {
	p := newTestPool(t, 4, 64)
	rt := &sourceRuntime{handle: nil}
	prepare(t, rt)

	lease := rt.Process(Context{StartTick: 0, SampleRate: testRate}, 8, nil, p)
	for _, s := range lease.Buffer().Samples() {
		assert.Zero(t, s)
	}
	p.Recycle(lease)
}

func TestGainRuntimeScalesInput(t *testing.T) {
	p := newTestPool(t, 4, 64)
	rt := &gainRuntime{gain: 0.5}
	prepare(t, rt)

	in := constInput(t, p, 8, 0.8)
	lease := rt.Process(Context{}, 8, []*pool.Buffer{in}, p)
	for _, s := range lease.Buffer().Samples() {
		assert.InDelta(t, 0.4, s, 1e-6)
	}
	p.Recycle(lease)
}

func TestPanRuntimeEqualPowerLaw(t *testing.T) {
	p := newTestPool(t, 8, 64)
	cases := []struct {
		pan         float64
		left, right float64
	}{
		{pan: -1, left: 1, right: 0},
		{pan: 1, left: 0, right: 1},
		{pan: 0, left: math.Sqrt2 / 2, right: math.Sqrt2 / 2},
	}
	for _, tc := range cases {
		rt := newPanRuntime(tc.pan)
		prepare(t, rt)
		in := constInput(t, p, 2, 1)
		lease := rt.Process(Context{}, 2, []*pool.Buffer{in}, p)
		out := lease.Buffer().Samples()
		assert.InDelta(t, tc.left, out[0], 1e-6, "pan %v left", tc.pan)
		assert.InDelta(t, tc.right, out[1], 1e-6, "pan %v right", tc.pan)
		p.Recycle(lease)
	}
}

func TestFadeInLinearRampSpansBlocks(t *testing.T) {
	p := newTestPool(t, 8, 64)
	rt := &fadeRuntime{spec: graph.FadeSpec{
		FadeKind: graph.FadeIn, DurationSamples: 8, Shape: graph.FadeLinear,
	}}
	prepare(t, rt)

	in := constInput(t, p, 4, 1)
	first := rt.Process(Context{}, 4, []*pool.Buffer{in}, p)
	second := rt.Process(Context{}, 4, []*pool.Buffer{in}, p)

	for f := 0; f < 4; f++ {
		assert.InDelta(t, float64(f)/8, first.Buffer().Samples()[2*f], 1e-6)
		assert.InDelta(t, float64(f+4)/8, second.Buffer().Samples()[2*f], 1e-6)
	}
	p.Recycle(first)
	p.Recycle(second)

	// Reset restarts the ramp from zero.
	rt.Reset()
	again := rt.Process(Context{}, 4, []*pool.Buffer{in}, p)
	assert.Zero(t, again.Buffer().Samples()[0])
	p.Recycle(again)
}

func TestFadeOutEqualPowerEndsSilent(t *testing.T) {
	p := newTestPool(t, 8, 64)
	rt := &fadeRuntime{spec: graph.FadeSpec{
		FadeKind: graph.FadeOut, DurationSamples: 4, Shape: graph.FadeEqualPower,
	}}
	prepare(t, rt)

	in := constInput(t, p, 8, 1)
	lease := rt.Process(Context{}, 8, []*pool.Buffer{in}, p)
	out := lease.Buffer().Samples()

	assert.InDelta(t, 1, out[0], 1e-6)
	for f := 4; f < 8; f++ {
		assert.Zero(t, out[2*f], "frame %d past the fade window", f)
	}
	// Inside the window the curve is sin of the remaining fraction.
	assert.InDelta(t, math.Sin((1-0.25)*math.Pi/2), out[2], 1e-6)
	p.Recycle(lease)
}

func TestTimeMapRuntimeGatesFramesOutsideSegment(t *testing.T) {
	p := newTestPool(t, 8, 64)
	rt := &timeMapRuntime{m: mustMap(t, 10, 4)}
	prepare(t, rt)

	in := constInput(t, p, 8, 1)
	lease := rt.Process(Context{StartTick: 8, SampleRate: testRate}, 8, []*pool.Buffer{in}, p)
	out := lease.Buffer().Samples()
	for f := 0; f < 8; f++ {
		tick := 8 + f
		want := float32(0)
		if tick >= 10 && tick < 14 {
			want = 1
		}
		assert.Equal(t, want, out[2*f], "tick %d", tick)
	}
	p.Recycle(lease)
}

func TestTimeMapReadsBoundSourceThroughMappedTicks(t *testing.T) {
	g := graph.New()
	src := g.MustAdd(graph.SourceSpec{ClipID: "clip", AssetID: "asset"})
	retime := g.MustAdd(graph.TimeMapSpec{Map: timemap.TimeMap{
		SampleRate:       testRate,
		TimelineStart:    0,
		TimelineDuration: 32,
		SourceIn:         100,
		Speed:            1,
	}})
	bus := g.MustAdd(graph.BusSpec{BusID: "main"})
	g.Connect(src, retime)
	g.Connect(retime, bus)
	g.Outputs.Main = bus

	plan := compileTestPlan(t, g, &rampHandle{channels: 2})
	p := newTestPool(t, 4, 64)

	rg, err := NewRuntimeGraph(plan, nil, p)
	require.NoError(t, err)
	require.NoError(t, rg.Prepare(testFormat(), 64))

	lease := rg.Process(0, 32)
	out := lease.Buffer().Samples()
	for i := 0; i < 32; i++ {
		// Destination tick i maps to source tick 100+i; a gate-only
		// runtime would emit the ramp at i instead.
		want := float32(100+i) / 1000
		require.Equalf(t, want, out[2*i], "frame %d", i)
		require.Equal(t, want, out[2*i+1])
	}
	p.Recycle(lease)
}

func TestTimeMapSpeedSelectsEverySecondSourceFrame(t *testing.T) {
	g := graph.New()
	src := g.MustAdd(graph.SourceSpec{ClipID: "clip", AssetID: "asset"})
	retime := g.MustAdd(graph.TimeMapSpec{Map: timemap.TimeMap{
		SampleRate:       testRate,
		TimelineStart:    0,
		TimelineDuration: 16,
		SourceIn:         0,
		Speed:            2,
	}})
	bus := g.MustAdd(graph.BusSpec{BusID: "main"})
	g.Connect(src, retime)
	g.Connect(retime, bus)
	g.Outputs.Main = bus

	plan := compileTestPlan(t, g, &rampHandle{channels: 2})
	p := newTestPool(t, 4, 64)

	rg, err := NewRuntimeGraph(plan, nil, p)
	require.NoError(t, err)
	require.NoError(t, rg.Prepare(testFormat(), 64))

	lease := rg.Process(0, 16)
	out := lease.Buffer().Samples()
	for i := 0; i < 16; i++ {
		require.Equalf(t, float32(2*i)/1000, out[2*i], "frame %d", i)
	}
	p.Recycle(lease)
}

func TestTimeMapRuntimeReverseRendersSilence(t *testing.T) {
	p := newTestPool(t, 8, 64)
	m := mustMap(t, 0, 100)
	m.Reverse = timemap.ReverseRough
	rt := &timeMapRuntime{m: m}
	prepare(t, rt)

	in := constInput(t, p, 8, 1)
	lease := rt.Process(Context{StartTick: 0, SampleRate: testRate}, 8, []*pool.Buffer{in}, p)
	for _, s := range lease.Buffer().Samples() {
		assert.Zero(t, s)
	}
	p.Recycle(lease)
}

func TestBusRuntimeSumsOrderedInputs(t *testing.T) {
	p := newTestPool(t, 8, 64)
	rt := &busRuntime{}
	prepare(t, rt)

	a := constInput(t, p, 4, 0.25)
	b := constInput(t, p, 4, 0.5)
	lease := rt.Process(Context{}, 4, []*pool.Buffer{a, b}, p)
	for _, s := range lease.Buffer().Samples() {
		assert.InDelta(t, 0.75, s, 1e-6)
	}
	p.Recycle(lease)
}

func TestMeterTapReportsPeakAndRMS(t *testing.T) {
	p := newTestPool(t, 8, 64)
	rt := &meterTapRuntime{}
	prepare(t, rt)

	inLease := p.Borrow(Channels, 4)
	in := inLease.Buffer()
	copy(in.Samples(), []float32{0, 0, 0.5, -0.5, 1, -1, 0.25, -0.25})

	lease := rt.Process(Context{}, 4, []*pool.Buffer{in}, p)
	assert.Equal(t, in.Samples(), lease.Buffer().Samples(), "tap is a passthrough")
	assert.InDelta(t, 1.0, rt.meter.Peak(), 1e-9)
	assert.InDelta(t, math.Sqrt(0.328125), rt.meter.RMS(), 1e-9)

	p.Recycle(lease)
	p.Recycle(inLease)
}

func TestAnalyzerSpectrumLocatesSineBin(t *testing.T) {
	p := newTestPool(t, 8, analyzerFFTSize)
	rt := newAnalyzerRuntime()
	prepare(t, rt)

	// A sine landing exactly on bin 64 of the analysis window.
	const bin = 64
	inLease := p.Borrow(Channels, analyzerFFTSize)
	in := inLease.Buffer().Samples()
	for f := 0; f < analyzerFFTSize; f++ {
		v := float32(math.Sin(2 * math.Pi * bin * float64(f) / analyzerFFTSize))
		in[2*f] = v
		in[2*f+1] = v
	}

	lease := rt.Process(Context{}, analyzerFFTSize, []*pool.Buffer{inLease.Buffer()}, p)
	p.Recycle(lease)
	p.Recycle(inLease)

	mags, err := rt.analyzer.Spectrum()
	require.NoError(t, err)
	require.Len(t, mags, analyzerFFTSize/2+1)

	peakBin := 0
	for i, m := range mags {
		if m > mags[peakBin] {
			peakBin = i
		}
	}
	assert.Equal(t, bin, peakBin)
	assert.Greater(t, mags[bin], 10*mags[bin/2], "energy concentrates at the sine bin")
}

func compileTestPlan(t *testing.T, g *graph.Graph, handle compiler.SourceHandle) *compiler.Plan {
	t.Helper()
	binder := compiler.BinderFunc(func(_, _, _ string, _ compiler.Quality) (compiler.SourceHandle, error) {
		return handle, nil
	})
	plan, err := compiler.Compile(g, compiler.QualityPreview, binder)
	require.NoError(t, err)
	return plan
}

func TestRuntimeGraphEndToEnd(t *testing.T) {
	g := graph.New()
	src := g.MustAdd(graph.SourceSpec{ClipID: "clip", AssetID: "asset"})
	gain := g.MustAdd(graph.GainSpec{Gain: 0.5})
	bus := g.MustAdd(graph.BusSpec{BusID: "main"})
	g.Connect(src, gain)
	g.Connect(gain, bus)
	g.Outputs.Main = bus

	plan := compileTestPlan(t, g, &constHandle{channels: 2, value: 0.8})
	p := newTestPool(t, 4, 128)

	rg, err := NewRuntimeGraph(plan, nil, p)
	require.NoError(t, err)
	require.NoError(t, rg.Prepare(testFormat(), 128))

	for block := 0; block < 50; block++ {
		lease := rg.Process(clock.SampleTick(block*128), 128)
		out := lease.Buffer()
		require.Equal(t, 128, out.Frames())
		for _, s := range out.Samples() {
			assert.InDelta(t, 0.4, s, 1e-6)
		}
		p.Recycle(lease)
	}
	assert.Zero(t, p.Snapshot().Underflows, "every intermediate lease must be recycled")
}

func TestRuntimeGraphExposesMeterAndAnalyzer(t *testing.T) {
	g := graph.New()
	src := g.MustAdd(graph.SourceSpec{ClipID: "clip", AssetID: "asset"})
	meter := g.MustAdd(graph.MeterTapSpec{})
	analyzer := g.MustAdd(graph.AnalyzerTapSpec{})
	bus := g.MustAdd(graph.BusSpec{BusID: "main"})
	g.Connect(src, meter)
	g.Connect(meter, analyzer)
	g.Connect(analyzer, bus)
	g.Outputs.Main = bus

	plan := compileTestPlan(t, g, &constHandle{channels: 2, value: 0.5})
	p := newTestPool(t, 8, 256)

	rg, err := NewRuntimeGraph(plan, nil, p)
	require.NoError(t, err)
	require.NoError(t, rg.Prepare(testFormat(), 256))

	require.NotNil(t, rg.Meter(meter))
	require.NotNil(t, rg.Analyzer(analyzer))
	assert.Nil(t, rg.Meter(bus))

	lease := rg.Process(0, 256)
	p.Recycle(lease)

	assert.InDelta(t, 0.5, rg.Meter(meter).Peak(), 1e-6)
	assert.InDelta(t, 0.5, rg.Meter(meter).RMS(), 1e-6)

	mags, err := rg.Analyzer(analyzer).Spectrum()
	require.NoError(t, err)
	assert.NotEmpty(t, mags)
}

func TestRenderCopiesRampAcrossBlockBoundaries(t *testing.T) {
	g := graph.New()
	src := g.MustAdd(graph.SourceSpec{ClipID: "clip", AssetID: "asset"})
	bus := g.MustAdd(graph.BusSpec{BusID: "main"})
	g.Connect(src, bus)
	g.Outputs.Main = bus

	plan := compileTestPlan(t, g, &rampHandle{channels: 2})
	p := newTestPool(t, 4, 32)

	rg, err := NewRuntimeGraph(plan, nil, p)
	require.NoError(t, err)
	require.NoError(t, rg.Prepare(testFormat(), 32))

	// 100 frames is not a multiple of the 32-frame block.
	out, err := Render(context.Background(), rg, 500, 100, 32)
	require.NoError(t, err)
	require.Len(t, out, 100*Channels)
	for f := 0; f < 100; f++ {
		want := float32(500+f) / 1000
		assert.Equal(t, want, out[2*f], "frame %d", f)
		assert.Equal(t, want, out[2*f+1], "frame %d", f)
	}
}

func TestRenderHonorsCancellation(t *testing.T) {
	g := graph.New()
	src := g.MustAdd(graph.SourceSpec{ClipID: "clip", AssetID: "asset"})
	bus := g.MustAdd(graph.BusSpec{BusID: "main"})
	g.Connect(src, bus)
	g.Outputs.Main = bus

	plan := compileTestPlan(t, g, &constHandle{channels: 2, value: 1})
	p := newTestPool(t, 4, 32)
	rg, err := NewRuntimeGraph(plan, nil, p)
	require.NoError(t, err)
	require.NoError(t, rg.Prepare(testFormat(), 32))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Render(ctx, rg, 0, 1000, 32)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderRequiresPrepare(t *testing.T) {
	g := graph.New()
	src := g.MustAdd(graph.SourceSpec{ClipID: "clip", AssetID: "asset"})
	bus := g.MustAdd(graph.BusSpec{BusID: "main"})
	g.Connect(src, bus)
	g.Outputs.Main = bus

	plan := compileTestPlan(t, g, &constHandle{channels: 2, value: 1})
	p := newTestPool(t, 4, 32)
	rg, err := NewRuntimeGraph(plan, nil, p)
	require.NoError(t, err)

	_, err = Render(context.Background(), rg, 0, 64, 32)
	assert.Error(t, err)
}
