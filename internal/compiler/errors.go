package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tonewood/tonewood/internal/graph"
)

// StructuralError reports a graph defect that makes compilation impossible.
//
// Structural errors are fatal and surfaced synchronously to the caller;
// they are never recovered into a partial plan. Binding failures are not
// structural errors; they land in plan diagnostics instead.
type StructuralError struct {
	// Code identifies the error category.
	Code StructuralErrorCode

	// Message is a human-readable description.
	Message string

	// Nodes lists the node IDs involved; for cycles, the cycle path in
	// execution order with the entry node repeated at the end.
	Nodes []graph.NodeID
}

// StructuralErrorCode categorizes structural errors.
type StructuralErrorCode string

const (
	// ErrCodeCycle indicates the graph is not a DAG.
	ErrCodeCycle StructuralErrorCode = "CYCLE_DETECTED"

	// ErrCodeDanglingReference indicates an edge or output names a node
	// that does not exist.
	ErrCodeDanglingReference StructuralErrorCode = "DANGLING_REFERENCE"

	// ErrCodeInvalidGraph indicates a node spec or graph field failed
	// boundary validation.
	ErrCodeInvalidGraph StructuralErrorCode = "INVALID_GRAPH"
)

// Error implements the error interface.
func (e *StructuralError) Error() string {
	if len(e.Nodes) > 0 {
		ids := make([]string, len(e.Nodes))
		for i, id := range e.Nodes {
			ids[i] = id.String()
		}
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(ids, " -> "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCycleError reports whether err is a cycle detection error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var se *StructuralError
	return errors.As(err, &se) && se.Code == ErrCodeCycle
}

// IsDanglingReferenceError reports whether err is a dangling reference.
func IsDanglingReferenceError(err error) bool {
	var se *StructuralError
	return errors.As(err, &se) && se.Code == ErrCodeDanglingReference
}

func newCycleError(path []graph.NodeID) *StructuralError {
	return &StructuralError{
		Code:    ErrCodeCycle,
		Message: "graph contains a cycle",
		Nodes:   path,
	}
}
