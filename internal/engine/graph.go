package engine

import (
	"fmt"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/compiler"
	"github.com/tonewood/tonewood/internal/graph"
	"github.com/tonewood/tonewood/internal/pool"
)

// RuntimeGraph wraps a compiled plan with one NodeRuntime per planned
// node. Construction and Prepare run in the control context; Process is
// the realtime entry point and executes nodes in exactly the plan's
// topological order, which is part of the plan's identity.
type RuntimeGraph struct {
	plan *compiler.Plan
	pool *pool.Pool

	runtimes []NodeRuntime
	inputIdx [][]int
	leases   []pool.Lease
	scratch  []*pool.Buffer
	mainIdx  int

	meters    map[graph.NodeID]*Meter
	analyzers map[graph.NodeID]*Analyzer

	sampleRate int
	prepared   bool
}

// NewRuntimeGraph builds runtimes for every planned node via the factory.
func NewRuntimeGraph(plan *compiler.Plan, factory Factory, p *pool.Pool) (*RuntimeGraph, error) {
	if plan == nil || p == nil {
		return nil, fmt.Errorf("engine: plan and pool are required")
	}
	if factory == nil {
		factory = DefaultFactory{}
	}

	indexByID := make(map[graph.NodeID]int, len(plan.Ordered))
	for i, node := range plan.Ordered {
		indexByID[node.ID] = i
	}

	rg := &RuntimeGraph{
		plan:      plan,
		pool:      p,
		runtimes:  make([]NodeRuntime, len(plan.Ordered)),
		inputIdx:  make([][]int, len(plan.Ordered)),
		leases:    make([]pool.Lease, len(plan.Ordered)),
		mainIdx:   -1,
		meters:    make(map[graph.NodeID]*Meter),
		analyzers: make(map[graph.NodeID]*Analyzer),
	}

	maxInputs := 0
	for i, node := range plan.Ordered {
		rt, err := factory.NewRuntime(node)
		if err != nil {
			return nil, fmt.Errorf("engine: node %s: %w", node.ID, err)
		}
		rg.runtimes[i] = rt

		idx := make([]int, 0, len(node.Inputs))
		for _, in := range node.Inputs {
			pos, ok := indexByID[in]
			if !ok {
				return nil, fmt.Errorf("engine: node %s reads unplanned node %s", node.ID, in)
			}
			idx = append(idx, pos)
		}
		rg.inputIdx[i] = idx
		maxInputs = max(maxInputs, len(idx))

		switch tap := rt.(type) {
		case *meterTapRuntime:
			rg.meters[node.ID] = &tap.meter
		case *analyzerTapRuntime:
			rg.analyzers[node.ID] = &tap.analyzer
		}
	}
	rg.scratch = make([]*pool.Buffer, maxInputs)

	// A time map fed directly by a bound source reads the source through
	// its mapped ticks instead of gating the source's block-aligned output.
	for i, node := range plan.Ordered {
		tm, ok := rg.runtimes[i].(*timeMapRuntime)
		if !ok || len(node.Inputs) != 1 {
			continue
		}
		if input := plan.Node(node.Inputs[0]); input != nil {
			if _, isSource := input.Spec.(graph.SourceSpec); isSource {
				tm.handle = input.BoundSource
			}
		}
	}

	mainIdx, ok := indexByID[plan.Outputs.Main]
	if !ok {
		return nil, fmt.Errorf("engine: main output %s not in plan", plan.Outputs.Main)
	}
	rg.mainIdx = mainIdx
	return rg, nil
}

// Plan returns the wrapped plan.
func (rg *RuntimeGraph) Plan() *compiler.Plan { return rg.plan }

// Meter returns the meter of a meter-tap node, or nil.
func (rg *RuntimeGraph) Meter(id graph.NodeID) *Meter { return rg.meters[id] }

// Analyzer returns the analyzer of an analyzer-tap node, or nil.
func (rg *RuntimeGraph) Analyzer(id graph.NodeID) *Analyzer { return rg.analyzers[id] }

// Prepare readies every runtime. Control context; may allocate.
func (rg *RuntimeGraph) Prepare(format Format, maxFrames int) error {
	if err := validFormat(format); err != nil {
		return err
	}
	if maxFrames <= 0 {
		return fmt.Errorf("engine: invalid max frames %d", maxFrames)
	}
	for i, rt := range rg.runtimes {
		if err := rt.Prepare(format, maxFrames); err != nil {
			return fmt.Errorf("engine: prepare node %s: %w", rg.plan.Ordered[i].ID, err)
		}
	}
	rg.sampleRate = format.SampleRate
	rg.prepared = true
	return nil
}

// Reset returns every runtime to its post-Prepare state.
func (rg *RuntimeGraph) Reset() {
	for _, rt := range rg.runtimes {
		rt.Reset()
	}
}

// Process renders one block starting at startTick and returns the lease
// holding the main output; the caller recycles it. Realtime-safe: it
// touches only the pool, preallocated bookkeeping, and the runtimes.
//
// Every intermediate lease is recycled before returning, so the pool needs
// at least as many buffers as the plan's node count to render underflow-
// free.
func (rg *RuntimeGraph) Process(startTick clock.SampleTick, frames int) pool.Lease {
	ctx := Context{
		StartTick:  startTick,
		SampleRate: rg.sampleRate,
		Quality:    rg.plan.Quality,
	}

	for i, rt := range rg.runtimes {
		inputs := rg.scratch[:len(rg.inputIdx[i])]
		for j, pos := range rg.inputIdx[i] {
			inputs[j] = rg.leases[pos].Buffer()
		}
		rg.leases[i] = rt.Process(ctx, frames, inputs, rg.pool)
	}

	var main pool.Lease
	for i := range rg.leases {
		if i == rg.mainIdx {
			main = rg.leases[i]
		} else {
			rg.pool.Recycle(rg.leases[i])
		}
		rg.leases[i] = pool.Lease{}
	}
	return main
}
