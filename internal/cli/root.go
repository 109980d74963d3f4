package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/renderscan/internal/config"
	"github.com/roach88/renderscan/internal/harness"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the renderscan CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "renderscan",
		Short: "renderscan - see why components re-render",
		Long: `Replay recorded component commits against the render observer,
step through them interactively, and collect the telemetry batches
instrumented apps send.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewCollectCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger returns the text logger commands hand to the packages they
// drive. Verbose raises the level to debug.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// addOptionsFlag registers --options on a command that replays scenarios.
func addOptionsFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVar(path, "options", "", "options file (YAML or CUE) applied before each scenario's own options")
}

// loadOptionsFile turns an options file into the harness option that
// starts every replayed instance from it. An empty path adds nothing.
func loadOptionsFile(path string) ([]harness.Option, error) {
	if path == "" {
		return nil, nil
	}
	patch, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load options file", err)
	}
	return []harness.Option{harness.WithOptions(patch)}, nil
}
