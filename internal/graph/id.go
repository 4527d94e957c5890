package graph

import (
	"fmt"
	"slices"
	"unicode/utf16"

	"github.com/google/uuid"
)

// NodeID is an opaque, globally unique, stably comparable node identifier.
//
// Ordering for serialization and hashing is always the canonical string
// form, never insertion order: two graphs built in different orders must
// observe the same node ordering everywhere it is visible.
type NodeID string

// NewNodeID returns a fresh random node ID.
func NewNodeID() NodeID {
	return NodeID(uuid.NewString())
}

// ParseNodeID validates a serialized node ID.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return "", fmt.Errorf("graph: empty node id")
	}
	return NodeID(s), nil
}

// String returns the canonical string form.
func (id NodeID) String() string {
	return string(id)
}

// CompareNodeIDs orders IDs by UTF-16 code units of their canonical form,
// the same ordering canonical JSON uses for object keys, so node ordering
// and key ordering can never disagree.
func CompareNodeIDs(a, b NodeID) int {
	return compareUTF16(string(a), string(b))
}

// SortedNodeIDs returns the IDs of a node map in canonical order.
func SortedNodeIDs[V any](nodes map[NodeID]V) []NodeID {
	ids := make([]NodeID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, CompareNodeIDs)
	return ids
}

// compareUTF16 compares strings by UTF-16 code units (RFC 8785 ordering).
// Go's native string comparison is UTF-8 and orders supplementary-plane
// characters differently.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}
