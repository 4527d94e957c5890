package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// hash-algorithm migration without silently colliding with old artifacts.
const (
	DomainGraph  = "tonewood/graph/v1"
	DomainPlan   = "tonewood/plan/v1"
	DomainGolden = "tonewood/golden/v1"
	DomainCache  = "tonewood/cache/v1"
)

// HashWithDomain computes SHA-256 over domain || 0x00 || data.
// The null separator removes domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// HexHashWithDomain is HashWithDomain rendered as lowercase hex.
func HexHashWithDomain(domain string, data []byte) string {
	sum := HashWithDomain(domain, data)
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the graph's full content address: the domain-
// separated SHA-256 of its deterministic serialization.
func (g *Graph) ContentHash() (string, error) {
	data, err := g.MarshalDeterministic()
	if err != nil {
		return "", err
	}
	return HexHashWithDomain(DomainGraph, data), nil
}

// StableHash64 is the graph's 64-bit structural hash: the content address
// truncated to its first eight bytes. Insertion order of the node map and
// edge list never influences it; only semantic content does. It keys
// caches, golden snapshots, and plan reuse.
func (g *Graph) StableHash64() (uint64, error) {
	data, err := g.MarshalDeterministic()
	if err != nil {
		return 0, err
	}
	sum := HashWithDomain(DomainGraph, data)
	return binary.BigEndian.Uint64(sum[:8]), nil
}
