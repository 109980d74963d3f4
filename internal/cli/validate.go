package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/renderscan/internal/config"
)

// Error codes of the validate command.
const (
	ErrCodeConfig   = "E_CONFIG"
	ErrCodeReadFile = "E_READ"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Effective any    `json:"effective,omitempty"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <options-file>",
		Short: "Validate an options file",
		Long: `Validate a YAML, JSON or CUE options file and print the effective
options it produces over the defaults.

CUE files are unified with the options schema, so type and range
errors are reported with their position.

Exit codes:
  0 - The file is valid
  2 - The file is invalid or unreadable`,
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
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Loading options from %s", path)
	patch, err := config.Load(path)
	if err != nil {
		return outputValidateError(formatter, path, err)
	}

	effective, err := config.Effective(patch)
	if err != nil {
		return outputValidateError(formatter, path, err)
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Effective: config.PatchOf(effective)})
	}

	data, err := config.MarshalYAML(effective)
	if err != nil {
		return fmt.Errorf("render effective options: %w", err)
	}
	fmt.Fprintln(formatter.Writer, okStyle.Render("✓ "+path+" is valid"))
	fmt.Fprintln(formatter.Writer, labelStyle.Render("effective options:"))
	fmt.Fprint(formatter.Writer, string(data))
	return nil
}

// outputValidateError reports err and returns the exit error for it.
func outputValidateError(formatter *OutputFormatter, path string, err error) error {
	code := ErrCodeReadFile
	result := ValidationResult{File: path, Message: err.Error()}

	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		code = ErrCodeConfig
		result.File, result.Line, result.Column, result.Message = cfgErr.File, cfgErr.Line, cfgErr.Column, cfgErr.Message
	} else if errors.Is(err, config.ErrUnknownFormat) {
		code = ErrCodeConfig
	}

	var details any
	if result.Line > 0 {
		details = result
	}
	if ferr := formatter.Error(code, err.Error(), details); ferr != nil {
		return ferr
	}
	return WrapExitError(ExitCommandError, "invalid options file", err)
}
