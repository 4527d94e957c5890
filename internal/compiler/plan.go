package compiler

import (
	"fmt"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/graph"
)

// Quality selects the rendering tier a plan is compiled for.
//
// Quality participates in PlanHash (preview and export plans are distinct
// executables) but not in StableHash64, which identifies structure only, so
// both tiers share structure-keyed cache artifacts.
type Quality int

const (
	// QualityPreview favors latency over precision; the interactive player.
	QualityPreview Quality = iota
	// QualityExport favors precision; the offline exporter.
	QualityExport
)

// String returns the canonical name used in hashes and serialized plans.
func (q Quality) String() string {
	switch q {
	case QualityPreview:
		return "preview"
	case QualityExport:
		return "export"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// SourceHandle is an opaque, bound media source produced by a SourceBinder.
//
// Read must be realtime-safe: it copies up to len(dst) interleaved samples
// starting at the given source tick into dst and returns the sample count
// written, without allocating, locking, or blocking. Decoders that cannot
// satisfy that contract must prefetch off the realtime thread and serve
// Read from memory.
type SourceHandle interface {
	// Channels returns the source's channel count.
	Channels() int

	// Read fills dst with interleaved samples starting at start.
	Read(start clock.SampleTick, dst []float32) int
}

// SourceBinder resolves a source node to a concrete handle. It is supplied
// by the media-decoding collaborator, called off the realtime thread, and
// ideally deterministic for identical inputs.
type SourceBinder interface {
	BindSource(clipID, assetID, formatHint string, quality Quality) (SourceHandle, error)
}

// BinderFunc adapts a function to the SourceBinder interface.
type BinderFunc func(clipID, assetID, formatHint string, quality Quality) (SourceHandle, error)

// BindSource implements SourceBinder.
func (f BinderFunc) BindSource(clipID, assetID, formatHint string, quality Quality) (SourceHandle, error) {
	return f(clipID, assetID, formatHint, quality)
}

// PlannedNode is the compiled form of one graph node. Planned nodes are
// produced only by Compile, never hand-constructed.
type PlannedNode struct {
	ID     graph.NodeID
	Spec   graph.NodeSpec
	Inputs []graph.NodeID

	// BoundSource is non-nil only for source nodes the binder resolved.
	BoundSource SourceHandle
}

// BindingFailure records a source the binder could not resolve.
// Binding failures are non-fatal; the node stays unbound and the caller
// decides whether that aborts the operation.
type BindingFailure struct {
	NodeID  graph.NodeID `json:"nodeId"`
	ClipID  string       `json:"clipId"`
	AssetID string       `json:"assetId"`
	Reason  string       `json:"reason"`
}

// Diagnostics aggregates non-fatal observations from one compilation.
type Diagnostics struct {
	BindingFailures []BindingFailure `json:"bindingFailures,omitempty"`
	FusedGainNodes  int              `json:"fusedGainNodes,omitempty"`
	UnboundSources  int              `json:"unboundSources,omitempty"`
}

// Plan is the ordered, resource-bound, hashable execution form of a graph.
// Created once per graph+quality compilation and immutable afterwards; the
// realtime callback may read it concurrently with control-context
// inspection.
type Plan struct {
	Quality Quality

	// PlanHash is the order-sensitive pipeline identity: execution order is
	// part of it, and the runtime must preserve that order exactly.
	PlanHash string

	// StableHash64 is the structural identity of the source graph,
	// independent of construction order. Caching layers key on it.
	StableHash64 uint64

	// Ordered lists planned nodes in execution (topological) order.
	Ordered []PlannedNode

	// Outputs carries the source graph's declared outputs; every output
	// node is guaranteed to appear in Ordered.
	Outputs graph.Outputs

	Diagnostics Diagnostics
}

// Node returns the planned node with the given ID, or nil.
func (p *Plan) Node(id graph.NodeID) *PlannedNode {
	for i := range p.Ordered {
		if p.Ordered[i].ID == id {
			return &p.Ordered[i]
		}
	}
	return nil
}
