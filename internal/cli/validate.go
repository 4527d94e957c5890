package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonewood/tonewood/internal/compiler"
)

// ValidationResult is the payload of a successful validate run.
type ValidationResult struct {
	Valid        bool   `json:"valid"`
	Nodes        int    `json:"nodes"`
	Edges        int    `json:"edges"`
	ContentHash  string `json:"contentHash"`
	StableHash64 string `json:"stableHash64"`
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("valid: %d nodes, %d edges, stable hash %s", r.Nodes, r.Edges, r.StableHash64)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.json>",
		Short: "Validate a graph document without compiling it",
		Long: `Validate a serialized audio graph document.

Checks the document against the graph schema, decodes it, verifies node
references and spec invariants, and runs structural analysis (cycles,
dangling references) without binding sources or producing a plan.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	g, err := LoadGraph(path)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	formatter.VerboseLog("decoded %d nodes from %s", len(g.Nodes), path)

	// Structural analysis without a binder: cycles and dangling references
	// surface here, binding is deferred to compile.
	if _, err := compiler.Compile(g, compiler.QualityPreview, nil); err != nil {
		var structural *compiler.StructuralError
		if errors.As(err, &structural) {
			formatter.Error(ErrCodeStructural, structural.Error(), structural.Nodes)
			return WrapExitError(ExitFailure, "graph is structurally invalid", err)
		}
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "graph analysis failed", err)
	}

	contentHash, err := g.ContentHash()
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "hashing failed", err)
	}
	stable, err := g.StableHash64()
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "hashing failed", err)
	}

	return formatter.Success(ValidationResult{
		Valid:        true,
		Nodes:        len(g.Nodes),
		Edges:        len(g.Edges),
		ContentHash:  contentHash,
		StableHash64: fmt.Sprintf("%016x", stable),
	})
}

func reportLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		formatter.Error(loadErr.Code, loadErr.Message, nil)
		if loadErr.Code == ErrCodeNotFound {
			return NewExitError(ExitCommandError, loadErr.Message)
		}
		return NewExitError(ExitFailure, loadErr.Message)
	}
	formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return NewExitError(ExitFailure, err.Error())
}
