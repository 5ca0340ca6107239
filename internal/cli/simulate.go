package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Houngansi/SuspenseCore-sub009/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Quiet bool
}

// SimulateResult is the output of the simulate command.
type SimulateResult struct {
	Scenarios []harness.SuiteResult `json:"scenarios"`
	Passed    int                   `json:"passed"`
	Failed    int                   `json:"failed"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml|dir>",
		Short: "Run harness scenarios and print their traces",
		Long: `Run one scenario file, or every .yaml/.yml scenario in a directory,
against an in-process server with a manual clock and fixed ids.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (path not found, etc.)

Examples:
  suspensed simulate ./scenarios/broken_rifle.yaml
  suspensed simulate ./scenarios --quiet
  suspensed simulate ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "print pass/fail only, without traces")

	return cmd
}

func runSimulate(ctx context.Context, opts *SimulateOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	info, err := os.Stat(path)
	if err != nil {
		_ = f.Error(ErrCodeScenario, "scenario path not found", path)
		return WrapExitError(ExitCommandError, "scenario path not found", err)
	}
	paths := []string{path}
	if info.IsDir() {
		if paths, err = harness.ScenarioFiles(path); err != nil {
			return WrapExitError(ExitCommandError, "failed to list scenarios", err)
		}
		if len(paths) == 0 {
			_ = f.Error(ErrCodeScenario, "no scenario files found", path)
			return NewExitError(ExitCommandError, fmt.Sprintf("no scenario files in %s", path))
		}
	}
	f.VerboseLog("Running %d scenario(s)", len(paths))

	res := SimulateResult{Scenarios: harness.RunPaths(ctx, paths)}
	for _, sr := range res.Scenarios {
		if sr.Passed() {
			res.Passed++
		} else {
			res.Failed++
		}
	}

	if f.JSON() {
		if err := f.Success(res); err != nil {
			return err
		}
	} else {
		outputSimulateText(f.Writer, res, !opts.Quiet)
	}
	if res.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", res.Failed, len(res.Scenarios)))
	}
	return nil
}

func outputSimulateText(w io.Writer, res SimulateResult, traces bool) {
	for _, sr := range res.Scenarios {
		name := sr.Name
		if name == "" {
			name = sr.Path
		}
		if sr.Passed() {
			fmt.Fprintf(w, "✓ %s\n", name)
		} else {
			fmt.Fprintf(w, "✗ %s\n", name)
		}
		if sr.Err != "" {
			fmt.Fprintf(w, "    error: %s\n", sr.Err)
			continue
		}
		if traces {
			for _, ev := range sr.Result.Trace {
				fmt.Fprintf(w, "    %s\n", describeEvent(ev))
			}
		}
		for _, e := range sr.Result.Errors {
			fmt.Fprintf(w, "    ! %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed\n", res.Passed, res.Failed)
}

// describeEvent renders one trace event on a single line.
func describeEvent(ev harness.TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d %-9s", ev.Seq, ev.Kind)
	if ev.Step != "" {
		fmt.Fprintf(&b, " %q", ev.Step)
	}
	if ev.Op != "" {
		fmt.Fprintf(&b, " %s", ev.Op)
	}
	if ev.Queued {
		b.WriteString(" queued")
	}
	if ev.Success != nil {
		if *ev.Success {
			fmt.Fprintf(&b, " ok slots=%v", ev.Slots)
		} else {
			fmt.Fprintf(&b, " refused %s", ev.Failure)
		}
	}
	if ev.Prediction != "" {
		fmt.Fprintf(&b, " prediction=%s", ev.Prediction)
	}
	for _, r := range ev.Replicated {
		kind := "delta"
		if r.Full {
			kind = "full"
		}
		sync := "in sync"
		if !r.InSync {
			sync = "STALE"
		}
		fmt.Fprintf(&b, " [%s->%s %s %s]", r.Owner, r.Client, kind, sync)
	}
	return b.String()
}
