// Package compiler transforms an audio graph into an ordered,
// resource-bound, hashable execution plan.
//
// Compilation is synchronous, runs in the control context, and completes in
// time proportional to graph size; there is no cancellation inside the
// core. The pipeline is: structural validation, reachability, topological
// sort with canonical-ID tie-breaking, gain-chain fusion, source binding,
// and hash computation.
package compiler

import (
	"fmt"
	"slices"

	"github.com/tonewood/tonewood/internal/graph"
)

// Compile turns a graph into an execution plan for the given quality tier.
//
// binder may be nil: source nodes are then left unbound, which is valid for
// structural-only compilation (hashing, dumps, cache keys). Structural
// defects abort with a *StructuralError; binding failures do not abort and
// are recorded in plan diagnostics instead.
func Compile(g *graph.Graph, quality Quality, binder SourceBinder) (*Plan, error) {
	if err := validateStructure(g); err != nil {
		return nil, err
	}

	inputs := inputMap(g)
	reachable := reachableSet(g, inputs)

	order, err := topoSort(g, inputs, reachable)
	if err != nil {
		return nil, err
	}

	var diags Diagnostics
	specs, order := fuseGainChains(g, inputs, order, &diags)

	planned := make([]PlannedNode, 0, len(order))
	for _, id := range order {
		node := PlannedNode{
			ID:     id,
			Spec:   specs[id],
			Inputs: slices.Clone(inputs[id]),
		}
		if src, ok := node.Spec.(graph.SourceSpec); ok {
			node.BoundSource = bindSource(binder, id, src, quality, &diags)
		}
		planned = append(planned, node)
	}

	stable, err := g.StableHash64()
	if err != nil {
		return nil, fmt.Errorf("compiler: structural hash: %w", err)
	}
	planHash, err := pipelineHash(planned, quality)
	if err != nil {
		return nil, fmt.Errorf("compiler: plan hash: %w", err)
	}

	return &Plan{
		Quality:      quality,
		PlanHash:     planHash,
		StableHash64: stable,
		Ordered:      planned,
		Outputs:      g.Outputs,
		Diagnostics:  diags,
	}, nil
}

// validateStructure re-checks graph invariants with coded errors so callers
// can distinguish dangling references from invalid parameters.
func validateStructure(g *graph.Graph) error {
	if g.Outputs.Main == "" {
		return &StructuralError{Code: ErrCodeInvalidGraph, Message: "no main output declared"}
	}
	for _, id := range g.OutputIDs() {
		if _, ok := g.Nodes[id]; !ok {
			return &StructuralError{
				Code:    ErrCodeDanglingReference,
				Message: "output references unknown node",
				Nodes:   []graph.NodeID{id},
			}
		}
	}
	for _, e := range g.Edges {
		for _, id := range []graph.NodeID{e.From, e.To} {
			if _, ok := g.Nodes[id]; !ok {
				return &StructuralError{
					Code:    ErrCodeDanglingReference,
					Message: "edge references unknown node",
					Nodes:   []graph.NodeID{id},
				}
			}
		}
	}
	for _, id := range graph.SortedNodeIDs(g.Nodes) {
		if err := g.Nodes[id].Validate(); err != nil {
			return &StructuralError{
				Code:    ErrCodeInvalidGraph,
				Message: err.Error(),
				Nodes:   []graph.NodeID{id},
			}
		}
	}
	return nil
}

// inputMap precomputes each node's ordered input list.
func inputMap(g *graph.Graph) map[graph.NodeID][]graph.NodeID {
	inputs := make(map[graph.NodeID][]graph.NodeID, len(g.Nodes))
	for _, e := range g.Edges {
		inputs[e.To] = append(inputs[e.To], e.From)
	}
	return inputs
}

// reachableSet walks upstream from the declared outputs.
// Nodes not reachable from any output are dead and never planned.
func reachableSet(g *graph.Graph, inputs map[graph.NodeID][]graph.NodeID) map[graph.NodeID]bool {
	reachable := make(map[graph.NodeID]bool)
	stack := g.OutputIDs()
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		stack = append(stack, inputs[id]...)
	}
	return reachable
}

// topoSort orders reachable nodes inputs-first using Kahn's algorithm.
// Among simultaneously ready nodes it always picks the canonically smallest
// ID, never map iteration order, so the order, and every hash derived from
// it, is identical for graphs that differ only in construction order.
func topoSort(g *graph.Graph, inputs map[graph.NodeID][]graph.NodeID, reachable map[graph.NodeID]bool) ([]graph.NodeID, error) {
	pending := make(map[graph.NodeID]int, len(reachable))
	consumers := make(map[graph.NodeID][]graph.NodeID, len(reachable))
	for id := range reachable {
		count := 0
		for _, in := range inputs[id] {
			if reachable[in] {
				count++
				consumers[in] = append(consumers[in], id)
			}
		}
		pending[id] = count
	}

	var ready []graph.NodeID
	for id, count := range pending {
		if count == 0 {
			ready = append(ready, id)
		}
	}
	slices.SortFunc(ready, graph.CompareNodeIDs)

	order := make([]graph.NodeID, 0, len(reachable))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, consumer := range consumers[id] {
			pending[consumer]--
			if pending[consumer] == 0 {
				at, _ := slices.BinarySearchFunc(ready, consumer, graph.CompareNodeIDs)
				ready = slices.Insert(ready, at, consumer)
			}
		}
	}

	if len(order) < len(reachable) {
		return nil, newCycleError(cyclePath(inputs, reachable, pending))
	}
	return order, nil
}

// cyclePath reconstructs one cycle among the nodes Kahn could not order.
func cyclePath(inputs map[graph.NodeID][]graph.NodeID, reachable map[graph.NodeID]bool, pending map[graph.NodeID]int) []graph.NodeID {
	var stuck []graph.NodeID
	for id, count := range pending {
		if count > 0 && reachable[id] {
			stuck = append(stuck, id)
		}
	}
	if len(stuck) == 0 {
		return nil
	}
	slices.SortFunc(stuck, graph.CompareNodeIDs)
	inCycle := make(map[graph.NodeID]bool, len(stuck))
	for _, id := range stuck {
		inCycle[id] = true
	}

	// Follow stuck-node inputs until a node repeats; that loop is a cycle.
	seen := make(map[graph.NodeID]int)
	var path []graph.NodeID
	current := stuck[0]
	for {
		if at, ok := seen[current]; ok {
			cycle := append(slices.Clone(path[at:]), current)
			slices.Reverse(cycle)
			return cycle
		}
		seen[current] = len(path)
		path = append(path, current)
		next := current
		for _, in := range inputs[current] {
			if inCycle[in] {
				next = in
				break
			}
		}
		current = next
	}
}

// fuseGainChains collapses linear chains of consecutive single-consumer
// gain nodes into the downstream-most gain of the chain, whose value
// becomes the product of the chain and whose input becomes the chain's
// original source. A gain that feeds more than one consumer, or that is a
// declared output, is never fused away.
//
// Gain chains are the only folding rule; pan and fade nodes are never
// subject to fusion.
func fuseGainChains(g *graph.Graph, inputs map[graph.NodeID][]graph.NodeID, order []graph.NodeID, diags *Diagnostics) (map[graph.NodeID]graph.NodeSpec, []graph.NodeID) {
	specs := make(map[graph.NodeID]graph.NodeSpec, len(order))
	for _, id := range order {
		specs[id] = g.Nodes[id]
	}

	protected := make(map[graph.NodeID]bool)
	for _, id := range g.OutputIDs() {
		protected[id] = true
	}

	removed := make(map[graph.NodeID]bool)
	for _, id := range order {
		gain, ok := specs[id].(graph.GainSpec)
		if !ok {
			continue
		}
		for len(inputs[id]) == 1 {
			upstreamID := inputs[id][0]
			upstream, ok := specs[upstreamID].(graph.GainSpec)
			if !ok || protected[upstreamID] || removed[upstreamID] {
				break
			}
			if countConsumers(inputs, removed, upstreamID) != 1 {
				break
			}
			gain.Gain *= upstream.Gain
			specs[id] = gain
			inputs[id] = slices.Clone(inputs[upstreamID])
			removed[upstreamID] = true
			diags.FusedGainNodes++
		}
	}

	if len(removed) == 0 {
		return specs, order
	}
	kept := make([]graph.NodeID, 0, len(order)-len(removed))
	for _, id := range order {
		if !removed[id] {
			kept = append(kept, id)
		}
	}
	return specs, kept
}

// countConsumers counts live edges reading from id.
func countConsumers(inputs map[graph.NodeID][]graph.NodeID, removed map[graph.NodeID]bool, id graph.NodeID) int {
	n := 0
	for to, ins := range inputs {
		if removed[to] {
			continue
		}
		for _, in := range ins {
			if in == id {
				n++
			}
		}
	}
	return n
}

// bindSource invokes the binder capability for one source node.
func bindSource(binder SourceBinder, id graph.NodeID, spec graph.SourceSpec, quality Quality, diags *Diagnostics) SourceHandle {
	if binder == nil {
		diags.UnboundSources++
		return nil
	}
	handle, err := binder.BindSource(spec.ClipID, spec.AssetID, spec.FormatHint, quality)
	if err != nil {
		diags.BindingFailures = append(diags.BindingFailures, BindingFailure{
			NodeID:  id,
			ClipID:  spec.ClipID,
			AssetID: spec.AssetID,
			Reason:  err.Error(),
		})
		diags.UnboundSources++
		return nil
	}
	if handle == nil {
		diags.UnboundSources++
	}
	return handle
}

// pipelineHash computes the order-sensitive plan identity: the execution
// order is part of the plan and must be preserved by the runtime.
func pipelineHash(planned []PlannedNode, quality Quality) (string, error) {
	nodes := make([]any, 0, len(planned))
	for _, n := range planned {
		ins := make([]any, len(n.Inputs))
		for i, in := range n.Inputs {
			ins[i] = string(in)
		}
		nodes = append(nodes, map[string]any{
			"id":     string(n.ID),
			"spec":   graph.SpecCanonical(n.Spec),
			"inputs": ins,
		})
	}
	doc := map[string]any{
		"quality": quality.String(),
		"ordered": nodes,
	}
	data, err := graph.MarshalCanonical(doc)
	if err != nil {
		return "", err
	}
	return graph.HexHashWithDomain(graph.DomainPlan, data), nil
}
