// Package golden provides the diagnostics layer for regression testing:
// a bit-pattern sample hash, peak/RMS statistics, and snapshot files keyed
// by the content of the case rather than its display name.
package golden

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// AlgorithmVersion is stamped into every snapshot and cache key. Bump it
// whenever rendering arithmetic changes, so stale artifacts are never
// silently reused.
const AlgorithmVersion = 1

// Hash64 computes a streaming, order-dependent FNV-1a hash over the IEEE
// 754 bit patterns of the samples. Hashing bits rather than values makes
// it sensitive to negative zero and NaN payloads, and a one-ULP change in
// any sample changes the result. Stable across processes and platforms.
func Hash64(samples []float32) uint64 {
	h := fnv.New64a()
	var word [4]byte
	for _, s := range samples {
		binary.BigEndian.PutUint32(word[:], math.Float32bits(s))
		h.Write(word[:])
	}
	return h.Sum64()
}

// Stats summarizes a sample block: linear peak and root-mean-square over
// all interleaved samples combined.
type Stats struct {
	Peak float64 `json:"peak"`
	RMS  float64 `json:"rms"`
}

// Measure computes Stats in a single pass.
func Measure(samples []float32) Stats {
	peak := 0.0
	sumSquares := 0.0
	for _, s := range samples {
		v := float64(s)
		if a := math.Abs(v); a > peak {
			peak = a
		}
		sumSquares += v * v
	}
	rms := 0.0
	if len(samples) > 0 {
		rms = math.Sqrt(sumSquares / float64(len(samples)))
	}
	return Stats{Peak: peak, RMS: rms}
}
