package golden

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tonewood/tonewood/internal/graph"
)

// Snapshot is the persisted summary of one rendered golden case.
// Hash64 is serialized as a fixed-width hex string; JSON numbers cannot
// carry a full uint64 without precision loss.
type Snapshot struct {
	AlgorithmVersion int    `json:"algorithmVersion"`
	Format           Format `json:"format"`
	FrameCount       int    `json:"frameCount"`
	Stats            Stats  `json:"stats"`
	Hash64           uint64 `json:"-"`
}

// NewSnapshot summarizes rendered interleaved samples for a case.
func NewSnapshot(format Format, samples []float32) Snapshot {
	frames := 0
	if format.Channels > 0 {
		frames = len(samples) / format.Channels
	}
	return Snapshot{
		AlgorithmVersion: AlgorithmVersion,
		Format:           format,
		FrameCount:       frames,
		Stats:            Measure(samples),
		Hash64:           Hash64(samples),
	}
}

// MarshalDeterministic serializes the snapshot as canonical JSON, byte
// stable for identical content.
func (s Snapshot) MarshalDeterministic() ([]byte, error) {
	doc := map[string]any{
		"algorithmVersion": s.AlgorithmVersion,
		"format": map[string]any{
			"sampleRate": s.Format.SampleRate,
			"channels":   s.Format.Channels,
		},
		"frameCount": s.FrameCount,
		"stats": map[string]any{
			"peak": s.Stats.Peak,
			"rms":  s.Stats.RMS,
		},
		"hash64": fmt.Sprintf("%016x", s.Hash64),
	}
	return graph.MarshalCanonical(doc)
}

type wireSnapshot struct {
	AlgorithmVersion int    `json:"algorithmVersion"`
	Format           Format `json:"format"`
	FrameCount       int    `json:"frameCount"`
	Stats            Stats  `json:"stats"`
	Hash64           string `json:"hash64"`
}

// UnmarshalSnapshot decodes a snapshot file.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("golden: decode snapshot: %w", err)
	}
	hash, err := strconv.ParseUint(w.Hash64, 16, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("golden: decode snapshot hash %q: %w", w.Hash64, err)
	}
	return Snapshot{
		AlgorithmVersion: w.AlgorithmVersion,
		Format:           w.Format,
		FrameCount:       w.FrameCount,
		Stats:            w.Stats,
		Hash64:           hash,
	}, nil
}

// Equal reports whether two snapshots describe bit-identical renders.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.AlgorithmVersion == other.AlgorithmVersion &&
		s.Format == other.Format &&
		s.FrameCount == other.FrameCount &&
		s.Stats == other.Stats &&
		s.Hash64 == other.Hash64
}
