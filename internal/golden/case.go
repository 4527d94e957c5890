package golden

import (
	"fmt"

	"github.com/tonewood/tonewood/internal/compiler"
	"github.com/tonewood/tonewood/internal/graph"
)

// Format describes the rendered output a snapshot applies to.
type Format struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// Case is one golden regression case: render Content over the given window
// at the given quality and compare the result against a stored snapshot.
//
// Name is display-only. The case's identity on disk comes from StableKey,
// a pure function of the remaining fields, so renaming a case never
// orphans or rewrites its snapshot.
type Case struct {
	Name            string
	Content         *graph.Graph
	StartSeconds    float64
	DurationSeconds float64
	Quality         compiler.Quality
	OutputFormat    Format
}

// StableKey returns the case's content-derived identity: the domain-
// separated hash of every field except Name, rendered as lowercase hex.
func (c Case) StableKey() (string, error) {
	if c.Content == nil {
		return "", fmt.Errorf("golden: case %q has no content", c.Name)
	}
	contentMap, err := c.Content.CanonicalMap()
	if err != nil {
		return "", fmt.Errorf("golden: case %q: %w", c.Name, err)
	}
	doc := map[string]any{
		"content":         contentMap,
		"startSeconds":    c.StartSeconds,
		"durationSeconds": c.DurationSeconds,
		"quality":         c.Quality.String(),
		"outputFormat": map[string]any{
			"sampleRate": c.OutputFormat.SampleRate,
			"channels":   c.OutputFormat.Channels,
		},
	}
	data, err := graph.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("golden: case %q: %w", c.Name, err)
	}
	return graph.HexHashWithDomain(graph.DomainGolden, data), nil
}

// StableFileName returns the snapshot file name for this case: the first
// sixteen hex digits of the stable key.
func (c Case) StableFileName() (string, error) {
	key, err := c.StableKey()
	if err != nil {
		return "", err
	}
	return key[:16], nil
}
