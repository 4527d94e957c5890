// Package cache persists rendered PCM segments and waveform overview mips
// in SQLite, addressed by content-derived keys.
//
// A cache entry is immutable once written: keys include the plan's
// structural hash, the rendering algorithm version, and the asset
// fingerprint, so any change that could alter rendered audio produces a
// new key instead of overwriting an old entry.
package cache

import (
	"fmt"

	"github.com/tonewood/tonewood/internal/golden"
	"github.com/tonewood/tonewood/internal/graph"
)

// Key addresses persisted render artifacts. It is a pure function of its
// fields; no wall-clock or process state ever participates.
type Key struct {
	AssetID          string        `json:"assetId"`
	ClipID           string        `json:"clipId"`
	PlanStableHash64 uint64        `json:"planStableHash64"`
	AlgorithmVersion int           `json:"algorithmVersion"`
	Format           golden.Format `json:"format"`

	// AssetFingerprint identifies the media file's content, so edits to
	// the file invalidate entries independent of its path.
	AssetFingerprint string `json:"assetFingerprint,omitempty"`
}

// Validate rejects keys that could alias unrelated artifacts.
func (k Key) Validate() error {
	if k.AssetID == "" || k.ClipID == "" {
		return fmt.Errorf("cache: key needs asset and clip IDs")
	}
	if k.AlgorithmVersion <= 0 {
		return fmt.Errorf("cache: key needs a positive algorithm version")
	}
	if k.Format.SampleRate <= 0 || k.Format.Channels <= 0 {
		return fmt.Errorf("cache: key needs a concrete format")
	}
	return nil
}

// Address returns the key's storage identity: the domain-separated hash
// of its canonical serialization, as lowercase hex.
func (k Key) Address() (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	doc := map[string]any{
		"assetId":          k.AssetID,
		"clipId":           k.ClipID,
		"planStableHash64": fmt.Sprintf("%016x", k.PlanStableHash64),
		"algorithmVersion": k.AlgorithmVersion,
		"format": map[string]any{
			"sampleRate": k.Format.SampleRate,
			"channels":   k.Format.Channels,
		},
	}
	if k.AssetFingerprint != "" {
		doc["assetFingerprint"] = k.AssetFingerprint
	}
	data, err := graph.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("cache: key: %w", err)
	}
	return graph.HexHashWithDomain(graph.DomainCache, data), nil
}
