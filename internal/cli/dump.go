package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonewood/tonewood/internal/project"
)

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <project.yaml>",
		Short: "Lower a project snapshot and print its graph document",
		Long: `Lower a YAML project snapshot into an audio graph and print the
graph's deterministic JSON document.

The output is byte stable: the same snapshot always dumps identically,
and the document round-trips through validate and compile.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, args[0], cmd)
		},
	}
}

func runDump(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	p, err := project.Load(path)
	if err != nil {
		formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	g, err := project.Lower(p)
	if err != nil {
		formatter.Error(ErrCodeDecode, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	data, err := g.MarshalDeterministic()
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}
	formatter.VerboseLog("lowered %q to %d nodes", p.Name, len(g.Nodes))

	// The dump is the payload itself, not a message about it; both output
	// formats emit the raw document.
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
