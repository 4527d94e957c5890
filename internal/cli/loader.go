package cli

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/tonewood/tonewood/internal/graph"
)

//go:embed schema.cue
var graphSchemaCUE string

// LoadError is a coded loader failure, shaped for formatter output.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadGraph reads, schema-validates, and decodes a graph JSON document.
//
// Validation happens in two layers: the CUE schema rejects structurally
// malformed documents with a source position, then UnmarshalGraph and
// Graph.Validate enforce the semantic rules the schema cannot express
// (node references, spec invariants).
func LoadGraph(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading graph document: %v", err)}
	}
	return ParseGraph(path, data)
}

// ParseGraph is LoadGraph over in-memory bytes; path is used only for
// error positions.
func ParseGraph(path string, data []byte) (*graph.Graph, error) {
	if err := validateGraphSchema(path, data); err != nil {
		return nil, err
	}

	g, err := graph.UnmarshalGraph(data)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDecode, Message: err.Error()}
	}
	if err := g.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeDecode, Message: err.Error()}
	}
	return g, nil
}

func validateGraphSchema(path string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(graphSchemaCUE)
	if err := schema.Err(); err != nil {
		return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("compiling graph schema: %v", err)}
	}
	def := schema.LookupPath(cue.ParsePath("#Graph"))
	if err := def.Err(); err != nil {
		return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("resolving graph schema: %v", err)}
	}

	expr, err := cuejson.Extract(path, data)
	if err != nil {
		return &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("parsing JSON: %v", err)}
	}
	doc := ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("building document: %v", err)}
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return &LoadError{Code: ErrCodeSchema, Message: err.Error()}
	}
	return nil
}
