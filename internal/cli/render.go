package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonewood/tonewood/internal/clock"
	"github.com/tonewood/tonewood/internal/compiler"
	"github.com/tonewood/tonewood/internal/engine"
	"github.com/tonewood/tonewood/internal/golden"
	"github.com/tonewood/tonewood/internal/pool"
	"github.com/tonewood/tonewood/internal/project"
)

// RenderResult is the payload of a successful render run.
type RenderResult struct {
	Frames     int     `json:"frames"`
	Peak       float64 `json:"peak"`
	RMS        float64 `json:"rms"`
	Hash64     string  `json:"hash64"`
	Underflows uint64  `json:"underflows"`
	GoldenKey  string  `json:"goldenKey,omitempty"`
}

func (r RenderResult) String() string {
	s := fmt.Sprintf("rendered %d frames: peak %.6f, rms %.6f, hash %s", r.Frames, r.Peak, r.RMS, r.Hash64)
	if r.GoldenKey != "" {
		s += "\ngolden key " + r.GoldenKey
	}
	return s
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		quality   string
		start     float64
		duration  float64
		block     int
		goldenDir string
	)

	cmd := &cobra.Command{
		Use:   "render <project.yaml>",
		Short: "Render a project offline and summarize the output",
		Long: `Lower a project snapshot, compile it, and render the main output
offline. Sources stay unbound, so unbound clips render silence; the
summary still exercises the full plan, which makes this useful for
golden regression checks on graph structure and mix arithmetic.

With --golden-dir the render is compared against (or, in update mode,
written to) a golden snapshot keyed by the case content.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(rootOpts, cmd, args[0], quality, start, duration, block, goldenDir)
		},
	}
	cmd.Flags().StringVar(&quality, "quality", "export", "rendering tier (preview|export)")
	cmd.Flags().Float64Var(&start, "start", 0, "render start in seconds")
	cmd.Flags().Float64Var(&duration, "duration", 1, "render length in seconds")
	cmd.Flags().IntVar(&block, "block", 512, "block size in frames")
	cmd.Flags().StringVar(&goldenDir, "golden-dir", "", "compare against golden snapshots in this directory")
	return cmd
}

func runRender(opts *RootOptions, cmd *cobra.Command, path, qualityName string, start, duration float64, block int, goldenDir string) error {
	formatter := newFormatter(opts, cmd)

	q, err := parseQuality(qualityName)
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	if duration <= 0 || block <= 0 {
		msg := fmt.Sprintf("duration %v and block %d must be positive", duration, block)
		formatter.Error(ErrCodeGeneric, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

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

	plan, err := compiler.Compile(g, q, nil)
	if err != nil {
		var structural *compiler.StructuralError
		if errors.As(err, &structural) {
			formatter.Error(ErrCodeStructural, structural.Error(), structural.Nodes)
			return WrapExitError(ExitFailure, "graph is structurally invalid", err)
		}
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "compilation failed", err)
	}

	clk, err := clock.New(p.SampleRate)
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	cfg := pool.DefaultConfig()
	cfg.MaxFrames = block
	if n := len(plan.Ordered); cfg.BuffersPerChannelCount < n {
		cfg.BuffersPerChannelCount = n
	}
	bufPool, err := pool.New(cfg)
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	rg, err := engine.NewRuntimeGraph(plan, nil, bufPool)
	if err != nil {
		formatter.Error(ErrCodeRender, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}
	format := engine.Format{SampleRate: p.SampleRate, Channels: engine.Channels}
	if err := rg.Prepare(format, block); err != nil {
		formatter.Error(ErrCodeRender, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	totalFrames := int(clk.ToTick(duration))
	samples, err := engine.Render(cmd.Context(), rg, clk.ToTick(start), totalFrames, block)
	if err != nil {
		formatter.Error(ErrCodeRender, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}
	opts.Log.WithField("frames", totalFrames).Debug("offline render complete")

	stats := golden.Measure(samples)
	result := RenderResult{
		Frames:     totalFrames,
		Peak:       stats.Peak,
		RMS:        stats.RMS,
		Hash64:     fmt.Sprintf("%016x", golden.Hash64(samples)),
		Underflows: bufPool.Snapshot().Underflows,
	}

	if goldenDir != "" {
		gc := golden.Case{
			Name:            p.Name,
			Content:         g,
			StartSeconds:    start,
			DurationSeconds: duration,
			Quality:         q,
			OutputFormat:    golden.Format{SampleRate: p.SampleRate, Channels: engine.Channels},
		}
		key, err := gc.StableKey()
		if err != nil {
			formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return NewExitError(ExitFailure, err.Error())
		}
		result.GoldenKey = key
		if err := golden.Check(goldenDir, gc, samples); err != nil {
			formatter.Error(ErrCodeGoldenDiverge, err.Error(), nil)
			return NewExitError(ExitFailure, err.Error())
		}
	}

	return formatter.Success(result)
}
