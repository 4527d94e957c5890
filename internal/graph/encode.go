package graph

import (
	"encoding/json"
	"fmt"
	"slices"
)

// CanonicalMap returns the graph as a canonical-JSON-ready value tree.
//
// Node map keys are the canonical node IDs (sorted by the marshaler); edges
// are grouped by destination node in canonical ID order with their relative
// order inside each group preserved, because that relative order is the
// node's input order and therefore semantic. Any two structurally equal
// graphs produce identical trees here, whatever order they were built in.
func (g *Graph) CanonicalMap() (map[string]any, error) {
	nodes := make(map[string]any, len(g.Nodes))
	for id, spec := range g.Nodes {
		nodes[string(id)] = specEnvelope(spec)
	}

	edges := make([]any, 0, len(g.Edges))
	for _, e := range canonicalEdgeOrder(g.Edges) {
		edges = append(edges, map[string]any{
			"from": string(e.From),
			"to":   string(e.To),
		})
	}

	outputs := map[string]any{"main": string(g.Outputs.Main)}
	if len(g.Outputs.Submixes) > 0 {
		outputs["submixes"] = nodeIDMapToAny(g.Outputs.Submixes)
	}
	if len(g.Outputs.Stems) > 0 {
		outputs["stems"] = nodeIDMapToAny(g.Outputs.Stems)
	}

	doc := map[string]any{
		"version": g.Version,
		"nodes":   nodes,
		"edges":   edges,
		"outputs": outputs,
	}
	if len(g.ParameterSnapshot) > 0 {
		params := make(map[string]any, len(g.ParameterSnapshot))
		for k, v := range g.ParameterSnapshot {
			params[k] = v
		}
		doc["parameterSnapshot"] = params
	}
	return doc, nil
}

// canonicalEdgeOrder stable-sorts edges by destination ID, keeping the
// relative order of edges sharing a destination (the input order).
func canonicalEdgeOrder(edges []Edge) []Edge {
	out := slices.Clone(edges)
	slices.SortStableFunc(out, func(a, b Edge) int {
		return CompareNodeIDs(a.To, b.To)
	})
	return out
}

func nodeIDMapToAny(m map[string]NodeID) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = string(v)
	}
	return out
}

// MarshalDeterministic serializes the graph as a deterministic JSON
// document. Structurally equal graphs serialize byte-identically; the
// document round-trips losslessly through UnmarshalGraph.
func (g *Graph) MarshalDeterministic() ([]byte, error) {
	doc, err := g.CanonicalMap()
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(doc)
}

// wireGraph mirrors the serialized document for decoding.
type wireGraph struct {
	Version int                        `json:"version"`
	Nodes   map[string]json.RawMessage `json:"nodes"`
	Edges   []Edge                     `json:"edges"`
	Outputs struct {
		Main     string            `json:"main"`
		Submixes map[string]string `json:"submixes"`
		Stems    map[string]string `json:"stems"`
	} `json:"outputs"`
	ParameterSnapshot map[string]float64 `json:"parameterSnapshot"`
}

type wireEnvelope struct {
	Kind Kind `json:"kind"`
}

// UnmarshalGraph decodes a serialized graph document.
func UnmarshalGraph(data []byte) (*Graph, error) {
	var w wireGraph
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("graph: decode document: %w", err)
	}

	g := New()
	g.Version = w.Version
	for id, raw := range w.Nodes {
		nodeID, err := ParseNodeID(id)
		if err != nil {
			return nil, err
		}
		spec, err := decodeSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("graph: node %s: %w", id, err)
		}
		g.Nodes[nodeID] = spec
	}
	g.Edges = w.Edges
	g.Outputs.Main = NodeID(w.Outputs.Main)
	if len(w.Outputs.Submixes) > 0 {
		g.Outputs.Submixes = make(map[string]NodeID, len(w.Outputs.Submixes))
		for k, v := range w.Outputs.Submixes {
			g.Outputs.Submixes[k] = NodeID(v)
		}
	}
	if len(w.Outputs.Stems) > 0 {
		g.Outputs.Stems = make(map[string]NodeID, len(w.Outputs.Stems))
		for k, v := range w.Outputs.Stems {
			g.Outputs.Stems[k] = NodeID(v)
		}
	}
	g.ParameterSnapshot = w.ParameterSnapshot
	return g, nil
}

// decodeSpec dispatches on the envelope kind tag. The switch is exhaustive
// over the sealed union; unknown kinds are decode errors, not silent drops.
func decodeSpec(raw json.RawMessage) (NodeSpec, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	var (
		spec NodeSpec
		err  error
	)
	switch env.Kind {
	case KindSource:
		var s SourceSpec
		err = json.Unmarshal(raw, &s)
		spec = s
	case KindTimeMap:
		var s TimeMapSpec
		err = json.Unmarshal(raw, &s)
		spec = s
	case KindGain:
		var s GainSpec
		err = json.Unmarshal(raw, &s)
		spec = s
	case KindPan:
		var s PanSpec
		err = json.Unmarshal(raw, &s)
		spec = s
	case KindFade:
		var s FadeSpec
		err = json.Unmarshal(raw, &s)
		spec = s
	case KindBus:
		var s BusSpec
		err = json.Unmarshal(raw, &s)
		spec = s
	case KindMeterTap:
		spec = MeterTapSpec{}
	case KindAnalyzerTap:
		spec = AnalyzerTapSpec{}
	default:
		return nil, fmt.Errorf("unknown node kind %q", env.Kind)
	}
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
