package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/renderscan/internal/harness"
	"github.com/roach88/renderscan/internal/transport"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Collect string // collector URL; empty keeps batches in process
	APIKey  string // overrides the scenario's monitor key
	Options string // options file applied before the scenario's options
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a trace scenario and print what the observer saw",
		Long: `Replay a trace scenario against a fresh observer and print every
step: the render records of each commit, the outlines painted, the
batches flushed, and the final per-node aggregates.

With --options, the instance starts from a YAML or CUE options file
(see validate); the scenario's own options are merged over it.

With --collect, flushed batches are posted to a running collector
instead of being kept in process.

Exit codes:
  0 - Scenario replayed and its assertions held
  1 - One or more assertions failed
  2 - Command error (scenario not found or invalid, etc.)

Examples:
  renderscan replay ./scenarios/cart_click.yaml
  renderscan replay ./scenarios/cart_click.yaml --format json
  renderscan replay ./scenarios/cart_click.yaml --options ./renderscan.cue
  renderscan replay ./scenarios/cart_click.yaml --collect http://127.0.0.1:8787/ingest`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Collect, "collect", "", "post flushed batches to this collector URL")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "API key sent to the collector (defaults to the scenario's)")
	addOptionsFlag(cmd, &opts.Options)

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	fileOpts, err := loadOptionsFile(opts.Options)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	hopts := append([]harness.Option{harness.WithLogger(logger)}, fileOpts...)

	if opts.Collect != "" {
		if scenario.Monitor == nil {
			return NewExitError(ExitCommandError, "--collect needs a scenario with a monitor section")
		}
		scenario.Monitor.URL = opts.Collect
		client, err := transport.NewClient(transport.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create transport", err)
		}
		hopts = append(hopts, harness.WithTransport(client))
	}
	if opts.APIKey != "" && scenario.Monitor != nil {
		scenario.Monitor.APIKey = opts.APIKey
	}

	result, err := harness.Run(scenario, hopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	if opts.Format == "json" {
		if err := outputReplayJSON(cmd, scenario, result); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd, scenario, result)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(result.Errors)))
	}
	return nil
}

func outputReplayJSON(cmd *cobra.Command, scenario *harness.Scenario, result *harness.Result) error {
	response := CLIResponse{Status: "ok", Data: harness.Snapshot(scenario.Name, result)}
	if !result.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_ASSERTION_FAILED",
			Message: fmt.Sprintf("%d assertion(s) failed", len(result.Errors)),
			Details: result.Errors,
		}
	}
	return writeJSON(cmd.OutOrStdout(), response)
}

func outputReplayText(cmd *cobra.Command, scenario *harness.Scenario, result *harness.Result) {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, titleStyle.Render(scenario.Name)+" "+labelStyle.Render(scenario.Description))
	for _, ev := range result.Trace {
		fmt.Fprintln(w, formatEvent(ev))
		for _, line := range formatRecords(ev) {
			fmt.Fprintln(w, line)
		}
	}

	if len(result.Stats) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderStats(result.Stats))
	}
	if len(result.Report) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("By component"))
		fmt.Fprintln(w, renderReport(result.Report))
	}

	fmt.Fprintln(w)
	if result.Pass {
		fmt.Fprintln(w, okStyle.Render(fmt.Sprintf("✓ %d step(s) replayed", len(result.Trace))))
		return
	}
	for _, e := range result.Errors {
		fmt.Fprintln(w, critStyle.Render("✗ "+e))
	}
}
