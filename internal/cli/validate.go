package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/autoreply/internal/rule"
	"github.com/roach88/autoreply/internal/rulefile"
)

// ValidationResult holds validation results for one rule file.
type ValidationResult struct {
	Valid  bool        `json:"valid"`
	File   string      `json:"file"`
	Rules  int         `json:"rules"`
	Errors []FileError `json:"errors,omitempty"`
}

// FileError is one problem found in a rule file.
type FileError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rule-file>",
		Short: "Validate a rule file without importing it",
		Long: `Validate a CUE or YAML rule file.

Checks the file against the rule schema and compiles every regular
expression. Every problem is reported with its line when known.

Exit codes:
  0 - File is valid
  1 - File has errors
  2 - Command error`,
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
	formatter := newFormatter(opts, cmd)

	rules, errs := rulefile.Load(path)
	if len(errs) > 0 {
		return outputRuleFileErrors(formatter, path, errs)
	}

	formatter.VerboseLog("Loaded %d rule(s) from %s", len(rules), path)
	return outputValidateSuccess(formatter, path, len(rules))
}

// toFileErrors converts rulefile errors to their reported form.
func toFileErrors(errs []error) []FileError {
	out := make([]FileError, 0, len(errs))
	for _, err := range errs {
		fe := FileError{Code: ErrCodeRuleFile, Message: err.Error()}

		var rfErr *rulefile.Error
		if errors.As(err, &rfErr) {
			fe.Message = rfErr.Message
			fe.Line = rfErr.Line
			fe.Column = rfErr.Column
		}

		var ve *rule.ValidationError
		if errors.As(err, &ve) {
			fe.Code = string(ve.Code)
			fe.RuleID = ve.RuleID
		}

		out = append(out, fe)
	}
	return out
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, path string, count int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, File: path, Rules: count})
	}

	fmt.Fprintf(formatter.Writer, "✓ %s: %d rule(s) valid\n", path, count)
	return nil
}

// outputRuleFileErrors outputs rule file errors and returns exit code 1.
func outputRuleFileErrors(formatter *OutputFormatter, path string, errs []error) error {
	fileErrs := toFileErrors(errs)

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				File:   path,
				Errors: fileErrs,
			},
			Error: &CLIError{
				Code:    fileErrs[0].Code,
				Message: fileErrs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(fileErrs)))
	}

	fmt.Fprintf(formatter.Writer, "✗ %s: validation failed\n", path)
	fmt.Fprintln(formatter.Writer)

	for _, fe := range fileErrs {
		switch {
		case fe.Line > 0 && fe.Column > 0:
			fmt.Fprintf(formatter.Writer, "line %d, column %d\n", fe.Line, fe.Column)
		case fe.Line > 0:
			fmt.Fprintf(formatter.Writer, "line %d\n", fe.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", fe.Code, fe.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(fileErrs)))
}
