package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonewood/tonewood/internal/compiler"
)

// CompileResult is the payload of a successful compile run.
type CompileResult struct {
	Quality      string               `json:"quality"`
	PlanHash     string               `json:"planHash"`
	StableHash64 string               `json:"stableHash64"`
	NodeCount    int                  `json:"nodeCount"`
	Order        []string             `json:"order"`
	Diagnostics  compiler.Diagnostics `json:"diagnostics"`
}

func (r CompileResult) String() string {
	return fmt.Sprintf("compiled %d nodes at %s quality\nplan hash   %s\nstable hash %s\nfused gains %d, unbound sources %d",
		r.NodeCount, r.Quality, r.PlanHash, r.StableHash64,
		r.Diagnostics.FusedGainNodes, r.Diagnostics.UnboundSources)
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	var quality string

	cmd := &cobra.Command{
		Use:   "compile <graph.json>",
		Short: "Compile a graph document into an execution plan",
		Long: `Compile a serialized audio graph into an ordered execution plan.

Runs the full pipeline: schema validation, structural analysis, gain
fusion, and hashing. Sources stay unbound (no media is opened); binding
failures would be reported in diagnostics at render time.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(rootOpts, args[0], quality, cmd)
		},
	}
	cmd.Flags().StringVar(&quality, "quality", "preview", "rendering tier (preview|export)")
	return cmd
}

func parseQuality(s string) (compiler.Quality, error) {
	switch s {
	case "preview":
		return compiler.QualityPreview, nil
	case "export":
		return compiler.QualityExport, nil
	default:
		return 0, fmt.Errorf("unknown quality %q: must be preview or export", s)
	}
}

func runCompile(opts *RootOptions, path, qualityName string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	quality, err := parseQuality(qualityName)
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	g, err := LoadGraph(path)
	if err != nil {
		return reportLoadError(formatter, err)
	}

	plan, err := compiler.Compile(g, quality, nil)
	if err != nil {
		var structural *compiler.StructuralError
		if errors.As(err, &structural) {
			formatter.Error(ErrCodeStructural, structural.Error(), structural.Nodes)
			return WrapExitError(ExitFailure, "graph is structurally invalid", err)
		}
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "compilation failed", err)
	}
	formatter.VerboseLog("plan has %d nodes in execution order", len(plan.Ordered))

	return formatter.Success(CompileResult{
		Quality:      plan.Quality.String(),
		PlanHash:     plan.PlanHash,
		StableHash64: fmt.Sprintf("%016x", plan.StableHash64),
		NodeCount:    len(plan.Ordered),
		Order:        orderedIDs(plan),
		Diagnostics:  plan.Diagnostics,
	})
}

func orderedIDs(plan *compiler.Plan) []string {
	ids := make([]string, len(plan.Ordered))
	for i, node := range plan.Ordered {
		ids[i] = string(node.ID)
	}
	return ids
}
