package compiler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/graph"
)

type stubHandle struct {
	channels int
}

func (h *stubHandle) Channels() int { return h.channels }

func (h *stubHandle) Read(start clock.SampleTick, dst []float32) int {
	for i := range dst {
		dst[i] = 0
	}
	return len(dst)
}

func stubBinder() SourceBinder {
	return BinderFunc(func(clipID, assetID, formatHint string, quality Quality) (SourceHandle, error) {
		return &stubHandle{channels: 2}, nil
	})
}

func failingBinder() SourceBinder {
	return BinderFunc(func(clipID, assetID, formatHint string, quality Quality) (SourceHandle, error) {
		return nil, fmt.Errorf("asset %s offline", assetID)
	})
}

// chainGraph builds source -> gain(v1) -> ... -> gain(vN) -> bus with fixed IDs.
func chainGraph(gains ...float64) (*graph.Graph, []graph.NodeID) {
	g := graph.New()
	src := graph.NodeID("src")
	g.Nodes[src] = graph.SourceSpec{ClipID: "clip-1", AssetID: "asset-1"}
	prev := src
	ids := []graph.NodeID{src}
	for i, v := range gains {
		id := graph.NodeID(fmt.Sprintf("gain-%02d", i))
		g.Nodes[id] = graph.GainSpec{Gain: v}
		g.Connect(prev, id)
		ids = append(ids, id)
		prev = id
	}
	bus := graph.NodeID("zbus")
	g.Nodes[bus] = graph.BusSpec{BusID: "main"}
	g.Connect(prev, bus)
	ids = append(ids, bus)
	g.Outputs.Main = bus
	return g, ids
}

func TestCompileRejectsCycle(t *testing.T) {
	g := graph.New()
	a := graph.NodeID("a")
	b := graph.NodeID("b")
	g.Nodes[a] = graph.GainSpec{Gain: 1}
	g.Nodes[b] = graph.GainSpec{Gain: 1}
	g.Connect(a, b)
	g.Connect(b, a)
	g.Outputs.Main = b

	_, err := Compile(g, QualityPreview, nil)
	require.Error(t, err)
	assert.True(t, IsCycleError(err))

	var se *StructuralError
	require.True(t, errors.As(err, &se))
	assert.GreaterOrEqual(t, len(se.Nodes), 3, "cycle path includes the repeated entry node")
}

func TestCompileRejectsDanglingReference(t *testing.T) {
	g := graph.New()
	a := graph.NodeID("a")
	g.Nodes[a] = graph.GainSpec{Gain: 1}
	g.Connect("ghost", a)
	g.Outputs.Main = a

	_, err := Compile(g, QualityPreview, nil)
	require.Error(t, err)
	assert.True(t, IsDanglingReferenceError(err))
	assert.False(t, IsCycleError(err))
}

func TestCompileRejectsMissingOutput(t *testing.T) {
	g := graph.New()
	_, err := Compile(g, QualityPreview, nil)
	require.Error(t, err)

	var se *StructuralError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodeInvalidGraph, se.Code)
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	g, _ := chainGraph() // source -> bus, no gains
	plan, err := Compile(g, QualityPreview, stubBinder())
	require.NoError(t, err)

	require.Len(t, plan.Ordered, 2)
	assert.Equal(t, graph.KindSource, plan.Ordered[0].Spec.Kind())
	assert.Equal(t, graph.KindBus, plan.Ordered[1].Spec.Kind())
}

func TestGainChainFusesToProduct(t *testing.T) {
	gains := []float64{0.5, 0.8, 1.25, 0.9}
	g, ids := chainGraph(gains...)

	plan, err := Compile(g, QualityExport, nil)
	require.NoError(t, err)

	// source, one surviving gain, bus.
	require.Len(t, plan.Ordered, 3)
	assert.Equal(t, 3, plan.Diagnostics.FusedGainNodes)

	survivor := plan.Node(ids[len(ids)-2])
	require.NotNil(t, survivor, "the downstream-most gain survives")
	gain, ok := survivor.Spec.(graph.GainSpec)
	require.True(t, ok)

	product := 1.0
	for _, v := range gains {
		product *= v
	}
	assert.InDelta(t, product, gain.Gain, 1e-9)
	assert.Equal(t, []graph.NodeID{ids[0]}, survivor.Inputs, "survivor reads the chain's source")
}

func TestGainFusionStopsAtFanOut(t *testing.T) {
	// src -> g1 -> g2 -> bus, with g1 also feeding a meter tap. g1 has two
	// consumers and must not be fused into g2.
	g := graph.New()
	src := graph.NodeID("src")
	g1 := graph.NodeID("g1")
	g2 := graph.NodeID("g2")
	tap := graph.NodeID("tap")
	bus := graph.NodeID("zbus")
	g.Nodes[src] = graph.SourceSpec{ClipID: "c", AssetID: "a"}
	g.Nodes[g1] = graph.GainSpec{Gain: 0.5}
	g.Nodes[g2] = graph.GainSpec{Gain: 0.5}
	g.Nodes[tap] = graph.MeterTapSpec{}
	g.Nodes[bus] = graph.BusSpec{BusID: "main"}
	g.Connect(src, g1)
	g.Connect(g1, g2)
	g.Connect(g1, tap)
	g.Connect(g2, bus)
	g.Connect(tap, bus)
	g.Outputs.Main = bus

	plan, err := Compile(g, QualityPreview, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, plan.Diagnostics.FusedGainNodes)
	require.NotNil(t, plan.Node(g1))
	require.NotNil(t, plan.Node(g2))
}

func TestGainFusionKeepsDeclaredOutputs(t *testing.T) {
	g, ids := chainGraph(0.5, 0.8)
	firstGain := ids[1]
	g.Outputs.Submixes = map[string]graph.NodeID{"pre": firstGain}

	plan, err := Compile(g, QualityPreview, nil)
	require.NoError(t, err)
	assert.NotNil(t, plan.Node(firstGain), "a gain that is a declared output is never fused away")
}

func TestStableHash64IgnoresConstructionOrder(t *testing.T) {
	g1, _ := chainGraph(0.5, 0.8)
	g2, _ := chainGraph(0.5, 0.8)

	// Rebuild g2's node map in reverse insertion order.
	rebuilt := graph.New()
	idsDesc := graph.SortedNodeIDs(g2.Nodes)
	for i := len(idsDesc) - 1; i >= 0; i-- {
		rebuilt.Nodes[idsDesc[i]] = g2.Nodes[idsDesc[i]]
	}
	rebuilt.Edges = g2.Edges
	rebuilt.Outputs = g2.Outputs

	p1, err := Compile(g1, QualityPreview, nil)
	require.NoError(t, err)
	p2, err := Compile(rebuilt, QualityPreview, nil)
	require.NoError(t, err)

	assert.Equal(t, p1.StableHash64, p2.StableHash64)
	assert.Equal(t, p1.PlanHash, p2.PlanHash)
}

func TestPlanHashVariesWithQuality(t *testing.T) {
	g, _ := chainGraph(0.5)

	preview, err := Compile(g, QualityPreview, nil)
	require.NoError(t, err)
	export, err := Compile(g, QualityExport, nil)
	require.NoError(t, err)

	assert.NotEqual(t, preview.PlanHash, export.PlanHash, "quality is part of plan identity")
	assert.Equal(t, preview.StableHash64, export.StableHash64, "structure hash is quality-independent")
}

func TestBinderFailureIsNonFatal(t *testing.T) {
	g, ids := chainGraph()

	plan, err := Compile(g, QualityPreview, failingBinder())
	require.NoError(t, err, "binding failures never abort compilation")

	require.Len(t, plan.Diagnostics.BindingFailures, 1)
	failure := plan.Diagnostics.BindingFailures[0]
	assert.Equal(t, ids[0], failure.NodeID)
	assert.Equal(t, "asset-1", failure.AssetID)
	assert.Contains(t, failure.Reason, "offline")

	assert.Nil(t, plan.Node(ids[0]).BoundSource)
	assert.Equal(t, 1, plan.Diagnostics.UnboundSources)
}

func TestNilBinderLeavesSourcesUnbound(t *testing.T) {
	g, ids := chainGraph()

	plan, err := Compile(g, QualityPreview, nil)
	require.NoError(t, err)
	assert.Nil(t, plan.Node(ids[0]).BoundSource)
	assert.Empty(t, plan.Diagnostics.BindingFailures)
	assert.Equal(t, 1, plan.Diagnostics.UnboundSources)
}

func TestSuccessfulBinding(t *testing.T) {
	g, ids := chainGraph()

	plan, err := Compile(g, QualityExport, stubBinder())
	require.NoError(t, err)
	require.NotNil(t, plan.Node(ids[0]).BoundSource)
	assert.Equal(t, 2, plan.Node(ids[0]).BoundSource.Channels())
	assert.Equal(t, 0, plan.Diagnostics.UnboundSources)
}

func TestUnreachableNodesArePruned(t *testing.T) {
	g, _ := chainGraph(0.5)
	orphan := graph.NodeID("orphan")
	g.Nodes[orphan] = graph.GainSpec{Gain: 2}

	plan, err := Compile(g, QualityPreview, nil)
	require.NoError(t, err)
	assert.Nil(t, plan.Node(orphan), "nodes unreachable from outputs are not planned")
}
