package project

import (
	"fmt"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/graph"
	"github.com/tonewood/tonewood/internal/timemap"
)

// Lower turns a validated snapshot into an audio graph.
//
// Node IDs are derived from track and clip names, never generated, so
// lowering is a pure function: the same snapshot always yields the same
// graph, the same serialized dump, and the same stable hash. Golden cases
// and cache keys depend on that.
func Lower(p *Project) (*graph.Graph, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	clk, err := clock.New(p.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	g := graph.New()
	master := graph.NodeID("master")
	if err := add(g, master, graph.BusSpec{BusID: "main", Role: "master"}); err != nil {
		return nil, err
	}

	for _, track := range p.Tracks {
		trackBus := nodeID("track", track.Name, "bus")
		if err := add(g, trackBus, graph.BusSpec{BusID: track.Name, Role: "track"}); err != nil {
			return nil, err
		}

		for _, clip := range track.Clips {
			head, err := lowerClip(g, clk, p.SampleRate, track.Name, clip)
			if err != nil {
				return nil, err
			}
			g.Connect(head, trackBus)
		}

		gain := 1.0
		if track.Gain != nil {
			gain = *track.Gain
		}
		if track.Mute {
			gain = 0
		}
		gainID := nodeID("track", track.Name, "gain")
		if err := add(g, gainID, graph.GainSpec{Gain: gain}); err != nil {
			return nil, err
		}
		g.Connect(trackBus, gainID)

		panID := nodeID("track", track.Name, "pan")
		if err := add(g, panID, graph.PanSpec{Pan: track.Pan}); err != nil {
			return nil, err
		}
		g.Connect(gainID, panID)

		tail := panID
		if track.Meter {
			meterID := nodeID("track", track.Name, "meter")
			if err := add(g, meterID, graph.MeterTapSpec{}); err != nil {
				return nil, err
			}
			g.Connect(panID, meterID)
			tail = meterID
		}
		g.Connect(tail, master)
	}

	g.Outputs.Main = master
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("project: lowered graph: %w", err)
	}
	return g, nil
}

// lowerClip builds source -> timeMap -> fades -> gain and returns the
// chain's last node.
func lowerClip(g *graph.Graph, clk clock.Clock, sampleRate int, trackName string, clip Clip) (graph.NodeID, error) {
	srcID := nodeID("clip", trackName, clip.ID, "source")
	err := add(g, srcID, graph.SourceSpec{
		ClipID:     clip.ID,
		AssetID:    clip.Asset,
		FormatHint: clip.FormatHint,
	})
	if err != nil {
		return "", err
	}

	m, err := clipTimeMap(clk, sampleRate, clip)
	if err != nil {
		return "", err
	}
	mapID := nodeID("clip", trackName, clip.ID, "timeMap")
	if err := add(g, mapID, graph.TimeMapSpec{Map: m}); err != nil {
		return "", err
	}
	g.Connect(srcID, mapID)
	head := mapID

	shape := graph.FadeLinear
	if clip.FadeShape == "equalPower" {
		shape = graph.FadeEqualPower
	}
	if clip.FadeIn > 0 {
		id := nodeID("clip", trackName, clip.ID, "fadeIn")
		spec := graph.FadeSpec{
			FadeKind:        graph.FadeIn,
			DurationSamples: int64(clk.ToTick(clip.FadeIn)),
			Shape:           shape,
		}
		if err := add(g, id, spec); err != nil {
			return "", err
		}
		g.Connect(head, id)
		head = id
	}
	if clip.FadeOut > 0 {
		id := nodeID("clip", trackName, clip.ID, "fadeOut")
		spec := graph.FadeSpec{
			FadeKind:        graph.FadeOut,
			DurationSamples: int64(clk.ToTick(clip.FadeOut)),
			Shape:           shape,
		}
		if err := add(g, id, spec); err != nil {
			return "", err
		}
		g.Connect(head, id)
		head = id
	}

	if clip.Gain != nil {
		id := nodeID("clip", trackName, clip.ID, "gain")
		if err := add(g, id, graph.GainSpec{Gain: *clip.Gain}); err != nil {
			return "", err
		}
		g.Connect(head, id)
		head = id
	}
	return head, nil
}

func clipTimeMap(clk clock.Clock, sampleRate int, clip Clip) (timemap.TimeMap, error) {
	speed := clip.Speed
	if speed == 0 {
		speed = 1
	}
	reverse := timemap.ReverseOff
	if clip.Reverse != "" {
		var err error
		reverse, err = timemap.ParseReverseMode(clip.Reverse)
		if err != nil {
			return timemap.TimeMap{}, fmt.Errorf("project: clip %q: %w", clip.ID, err)
		}
	}
	m, err := timemap.New(timemap.TimeMap{
		SampleRate:       sampleRate,
		TimelineStart:    clk.ToTick(clip.Start),
		TimelineDuration: int64(clk.ToTick(clip.Duration)),
		SourceIn:         clk.ToTick(clip.SourceIn),
		Speed:            speed,
		Reverse:          reverse,
	})
	if err != nil {
		return timemap.TimeMap{}, fmt.Errorf("project: clip %q: %w", clip.ID, err)
	}
	return m, nil
}

func add(g *graph.Graph, id graph.NodeID, spec graph.NodeSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("project: node %s: %w", id, err)
	}
	if _, exists := g.Nodes[id]; exists {
		return fmt.Errorf("project: duplicate node %s", id)
	}
	g.Nodes[id] = spec
	return nil
}

func nodeID(parts ...string) graph.NodeID {
	id := parts[0]
	for _, p := range parts[1:] {
		id += "/" + p
	}
	return graph.NodeID(id)
}
