package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Houngansi/SuspenseCore-sub009/internal/loadout"
)

// ValidationIssue is one problem found in a loadout.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Loadout string            `json:"loadout,omitempty"`
	Slots   int               `json:"slots,omitempty"`
	Items   int               `json:"items,omitempty"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <loadout>",
		Short: "Validate a loadout file or CUE directory",
		Long: `Load a loadout (YAML, a CUE file or a directory of CUE files) and check
its slot table, item catalog, start items and character defaults.

Exit codes:
  0 - Loadout is valid
  1 - Validation issues were found
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	lo, err := loadout.Load(path)
	if err != nil {
		issues := issuesOf(err)
		if f.JSON() {
			_ = f.Success(ValidationResult{Valid: false, Errors: issues})
		} else {
			outputIssuesText(f.Writer, path, issues)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("loadout %s has %d issue(s)", path, len(issues)))
	}

	f.VerboseLog("Loaded %s: %d slots, %d items", path, len(lo.Slots), len(lo.Items))
	res := ValidationResult{Valid: true, Loadout: lo.Name, Slots: len(lo.Slots), Items: len(lo.Items)}
	if f.JSON() {
		return f.Success(res)
	}
	return f.Success(fmt.Sprintf("✓ loadout %s: %d slots, %d items", lo.Name, res.Slots, res.Items))
}

// issuesOf flattens a joined load error into one issue per problem.
func issuesOf(err error) []ValidationIssue {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	out := make([]ValidationIssue, 0, len(errs))
	for _, e := range errs {
		var le *loadout.LoadError
		if errors.As(e, &le) {
			issue := ValidationIssue{Code: le.Code, Message: le.Message}
			if le.Pos.IsValid() {
				issue.Line = le.Pos.Line()
			}
			out = append(out, issue)
			continue
		}
		out = append(out, ValidationIssue{Code: ErrCodeLoadout, Message: e.Error()})
	}
	return out
}

func outputIssuesText(w io.Writer, path string, issues []ValidationIssue) {
	fmt.Fprintf(w, "✗ %s: %d issue(s)\n", path, len(issues))
	for _, is := range issues {
		if is.Line > 0 {
			fmt.Fprintf(w, "  [%s] line %d: %s\n", is.Code, is.Line, is.Message)
		} else {
			fmt.Fprintf(w, "  [%s] %s\n", is.Code, is.Message)
		}
	}
}
