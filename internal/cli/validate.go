package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsim/internal/scenario"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool   `json:"valid"`
	Scenario   string `json:"scenario,omitempty"`
	Nodes      int    `json:"nodes,omitempty"`
	Steps      int    `json:"steps,omitempty"`
	Assertions int    `json:"assertions,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario>",
		Short: "Validate a scenario without running it",
		Long: `Validate a YAML or CUE scenario file without running it.

Checks the file parses, rejects unknown fields, and validates the node
set, clock, bus settings, script and assertions.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	s, err := scenario.Load(path)
	if err != nil {
		return outputValidationFailure(formatter, err)
	}

	cfg, err := s.Config()
	if err != nil {
		return outputValidationFailure(formatter, err)
	}
	formatter.VerboseLog("Scenario %s: %d node(s), %d step(s)", s.Name, len(cfg.Nodes()), len(cfg.Script))

	result := ValidationResult{
		Valid:      true,
		Scenario:   s.Name,
		Nodes:      len(cfg.Nodes()),
		Steps:      len(cfg.Script),
		Assertions: len(s.Assertions),
	}
	return formatter.Success(result, fmt.Sprintf("✓ Scenario %s valid (%d nodes, %d steps, %d assertions)",
		result.Scenario, result.Nodes, result.Steps, result.Assertions))
}

// outputValidationFailure reports an invalid scenario.
// Validation failures = exit code 1.
func outputValidationFailure(formatter *OutputFormatter, err error) error {
	if formatter.JSON() {
		if outErr := formatter.Failure(ValidationResult{Valid: false, Error: err.Error()}, ErrCodeInvalidScenario, err.Error()); outErr != nil {
			return outErr
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintf(formatter.Writer, "  %s\n", err)
	}
	return WrapExitError(ExitFailure, "validation failed", err)
}
