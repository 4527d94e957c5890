package golden

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/compiler"
	"github.com/tonewood/tonewood/internal/engine"
	"github.com/tonewood/tonewood/internal/graph"
	"github.com/tonewood/tonewood/internal/pool"
)

// referenceSamples is two frames of interleaved stereo with a known peak
// of 1.0 and RMS of sqrt(0.328125).
var referenceSamples = []float32{0, 0, 0.5, -0.5, 1, -1, 0.25, -0.25}

func TestMeasureReferenceBlock(t *testing.T) {
	stats := Measure(referenceSamples)
	assert.InDelta(t, 1.0, stats.Peak, 1e-12)
	assert.InDelta(t, math.Sqrt(0.328125), stats.RMS, 1e-12)
}

func TestMeasureEmptyIsZero(t *testing.T) {
	stats := Measure(nil)
	assert.Zero(t, stats.Peak)
	assert.Zero(t, stats.RMS)
}

func TestHash64SensitiveToOneULP(t *testing.T) {
	a := []float32{0, 0.5, 1, 0.25}
	b := []float32{0, 0.50000006, 1, 0.25}
	assert.NotEqual(t, Hash64(a), Hash64(b))
}

func TestHash64DistinguishesSignOfZero(t *testing.T) {
	pos := []float32{0}
	neg := []float32{float32(math.Copysign(0, -1))}
	assert.NotEqual(t, Hash64(pos), Hash64(neg), "bit-pattern hash must see the sign bit")
}

func TestHash64OrderDependent(t *testing.T) {
	assert.NotEqual(t, Hash64([]float32{1, 2}), Hash64([]float32{2, 1}))
}

func TestHash64StableForIdenticalInput(t *testing.T) {
	assert.Equal(t, Hash64(referenceSamples), Hash64(referenceSamples))
}

func testGraph(reversed bool) *graph.Graph {
	g := graph.New()
	src := graph.NodeID("src")
	gain := graph.NodeID("gain")
	bus := graph.NodeID("zbus")
	if reversed {
		g.Nodes[bus] = graph.BusSpec{BusID: "main"}
		g.Nodes[gain] = graph.GainSpec{Gain: 0.5}
		g.Nodes[src] = graph.SourceSpec{ClipID: "clip-1", AssetID: "asset-1"}
	} else {
		g.Nodes[src] = graph.SourceSpec{ClipID: "clip-1", AssetID: "asset-1"}
		g.Nodes[gain] = graph.GainSpec{Gain: 0.5}
		g.Nodes[bus] = graph.BusSpec{BusID: "main"}
	}
	g.Connect(src, gain)
	g.Connect(gain, bus)
	g.Outputs.Main = bus
	return g
}

func testCase(name string) Case {
	return Case{
		Name:            name,
		Content:         testGraph(false),
		StartSeconds:    0,
		DurationSeconds: 1,
		Quality:         compiler.QualityExport,
		OutputFormat:    Format{SampleRate: 48000, Channels: 2},
	}
}

func TestStableKeyIgnoresName(t *testing.T) {
	a, err := testCase("original name").StableKey()
	require.NoError(t, err)
	b, err := testCase("renamed after a refactor").StableKey()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStableKeyIgnoresGraphConstructionOrder(t *testing.T) {
	a := testCase("x")
	a.Content = testGraph(false)
	b := testCase("x")
	b.Content = testGraph(true)

	keyA, err := a.StableKey()
	require.NoError(t, err)
	keyB, err := b.StableKey()
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)
}

func TestStableKeyTracksContent(t *testing.T) {
	base, err := testCase("x").StableKey()
	require.NoError(t, err)

	quality := testCase("x")
	quality.Quality = compiler.QualityPreview
	window := testCase("x")
	window.DurationSeconds = 2

	for _, c := range []Case{quality, window} {
		key, err := c.StableKey()
		require.NoError(t, err)
		assert.NotEqual(t, base, key)
	}
}

func TestStableFileNameIsShortKeyPrefix(t *testing.T) {
	c := testCase("x")
	key, err := c.StableKey()
	require.NoError(t, err)
	name, err := c.StableFileName()
	require.NoError(t, err)
	assert.Equal(t, key[:16], name)
}

func TestStableKeyRequiresContent(t *testing.T) {
	_, err := Case{Name: "empty"}.StableKey()
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := NewSnapshot(Format{SampleRate: 48000, Channels: 2}, referenceSamples)
	assert.Equal(t, 4, snap.FrameCount)
	assert.Equal(t, AlgorithmVersion, snap.AlgorithmVersion)

	data, err := snap.MarshalDeterministic()
	require.NoError(t, err)

	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.True(t, snap.Equal(decoded))

	again, err := snap.MarshalDeterministic()
	require.NoError(t, err)
	assert.Equal(t, data, again, "serialization is byte stable")
}

// constHandle is a stereo source emitting one fixed sample value, so the
// rendered output is exactly predictable.
type constHandle struct{ value float32 }

func (h constHandle) Channels() int { return 2 }

func (h constHandle) Read(_ clock.SampleTick, dst []float32) int {
	for i := range dst {
		dst[i] = h.value
	}
	return len(dst) / 2
}

// TestAssertRenderedFixture renders the reference graph end to end and
// compares the snapshot against the committed fixture under
// testdata/golden. Regenerate with -update after intentional arithmetic
// changes.
func TestAssertRenderedFixture(t *testing.T) {
	c := testCase("rendered reference graph")
	c.DurationSeconds = 0.001

	binder := compiler.BinderFunc(func(string, string, string, compiler.Quality) (compiler.SourceHandle, error) {
		return constHandle{value: 0.5}, nil
	})
	plan, err := compiler.Compile(c.Content, c.Quality, binder)
	require.NoError(t, err)

	p, err := pool.New(pool.Config{
		ChannelCounts:          []int{2},
		BuffersPerChannelCount: 8,
		MaxFrames:              16,
	})
	require.NoError(t, err)

	rg, err := engine.NewRuntimeGraph(plan, nil, p)
	require.NoError(t, err)
	format := engine.Format{SampleRate: c.OutputFormat.SampleRate, Channels: c.OutputFormat.Channels}
	require.NoError(t, rg.Prepare(format, 16))

	samples, err := engine.Render(context.Background(), rg, 0, 48, 16)
	require.NoError(t, err)
	require.Len(t, samples, 96)
	// Source 0.5 through gain 0.5: every sample is exactly 0.25.
	require.Equal(t, float32(0.25), samples[0])

	Assert(t, c, samples)
}

func TestCheckUpdateThenVerify(t *testing.T) {
	dir := t.TempDir()
	c := testCase("update cycle")

	t.Setenv(UpdateEnv, "1")
	require.NoError(t, Check(dir, c, referenceSamples))

	name, err := c.StableFileName()
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, name+".golden"))
	require.NoError(t, err)

	t.Setenv(UpdateEnv, "")
	assert.NoError(t, Check(dir, c, referenceSamples))
}

func TestCheckFailsOnDivergence(t *testing.T) {
	dir := t.TempDir()
	c := testCase("divergence")

	t.Setenv(UpdateEnv, "1")
	require.NoError(t, Check(dir, c, referenceSamples))

	t.Setenv(UpdateEnv, "")
	changed := append([]float32(nil), referenceSamples...)
	changed[2] = 0.50000006
	err := Check(dir, c, changed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diverged")
}

func TestCheckFailsWhenSnapshotMissing(t *testing.T) {
	t.Setenv(UpdateEnv, "")
	err := Check(t.TempDir(), testCase("never rendered"), referenceSamples)
	require.Error(t, err)
	assert.Contains(t, err.Error(), UpdateEnv)
}
