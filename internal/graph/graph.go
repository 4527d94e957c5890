// Package graph defines the content-addressable audio graph: a declarative
// DAG of processing node specs, ordered edges, and declared outputs.
//
// Everything here is an immutable value once built. Identity is structural:
// two graphs with the same nodes, edges, and outputs serialize, hash, and
// compile identically regardless of construction or map-insertion order.
package graph

import (
	"fmt"
	"slices"
)

// Version is the graph schema version carried in serialized documents.
const Version = 1

// Edge connects From's output to one of To's ordered inputs.
// Multiple edges into one node define its input list; their relative order
// among edges sharing the same To node is significant.
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Outputs declares which nodes a plan must render.
type Outputs struct {
	Main     NodeID            `json:"main"`
	Submixes map[string]NodeID `json:"submixes,omitempty"`
	Stems    map[string]NodeID `json:"stems,omitempty"`
}

// Graph is the declarative mix description the compiler consumes.
type Graph struct {
	Version           int                `json:"version"`
	Nodes             map[NodeID]NodeSpec `json:"nodes"`
	Edges             []Edge             `json:"edges"`
	Outputs           Outputs            `json:"outputs"`
	ParameterSnapshot map[string]float64 `json:"parameterSnapshot,omitempty"`
}

// New returns an empty graph at the current schema version.
func New() *Graph {
	return &Graph{
		Version: Version,
		Nodes:   make(map[NodeID]NodeSpec),
	}
}

// Add validates spec, inserts it under a fresh ID, and returns the ID.
func (g *Graph) Add(spec NodeSpec) (NodeID, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	id := NewNodeID()
	g.Nodes[id] = spec
	return id, nil
}

// MustAdd is like Add but panics on invalid specs. Use in tests and
// builders whose inputs are already validated.
func (g *Graph) MustAdd(spec NodeSpec) NodeID {
	id, err := g.Add(spec)
	if err != nil {
		panic(err)
	}
	return id
}

// Connect appends an edge from one node's output to another's input list.
func (g *Graph) Connect(from, to NodeID) {
	g.Edges = append(g.Edges, Edge{From: from, To: to})
}

// InputsOf returns the ordered input list of a node: every edge targeting
// it, in edge-declaration order.
func (g *Graph) InputsOf(id NodeID) []NodeID {
	var inputs []NodeID
	for _, e := range g.Edges {
		if e.To == id {
			inputs = append(inputs, e.From)
		}
	}
	return inputs
}

// OutputIDs returns all declared output node IDs: main first, then
// submixes and stems in canonical name order.
func (g *Graph) OutputIDs() []NodeID {
	ids := []NodeID{g.Outputs.Main}
	for _, name := range sortedNames(g.Outputs.Submixes) {
		ids = append(ids, g.Outputs.Submixes[name])
	}
	for _, name := range sortedNames(g.Outputs.Stems) {
		ids = append(ids, g.Outputs.Stems[name])
	}
	return ids
}

func sortedNames(m map[string]NodeID) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	// Canonical-key ordering keeps output iteration deterministic.
	slices.SortFunc(names, compareUTF16)
	return names
}

// Validate checks the structural invariants a graph must satisfy before
// compilation: the main output exists, every edge references existing
// nodes, every spec is valid, and the version is supported.
// Acyclicity is checked by the compiler, which reports the offending cycle.
func (g *Graph) Validate() error {
	if g.Version != Version {
		return fmt.Errorf("graph: unsupported version %d", g.Version)
	}
	if g.Outputs.Main == "" {
		return fmt.Errorf("graph: no main output declared")
	}
	if _, ok := g.Nodes[g.Outputs.Main]; !ok {
		return fmt.Errorf("graph: main output references unknown node %s", g.Outputs.Main)
	}
	for name, id := range g.Outputs.Submixes {
		if _, ok := g.Nodes[id]; !ok {
			return fmt.Errorf("graph: submix %q references unknown node %s", name, id)
		}
	}
	for name, id := range g.Outputs.Stems {
		if _, ok := g.Nodes[id]; !ok {
			return fmt.Errorf("graph: stem %q references unknown node %s", name, id)
		}
	}
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			return fmt.Errorf("graph: edge references unknown node %s", e.From)
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return fmt.Errorf("graph: edge references unknown node %s", e.To)
		}
	}
	for id, spec := range g.Nodes {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("graph: node %s: %w", id, err)
		}
	}
	return nil
}
