package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/renderscan/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// ComponentRow is one component line of a report.
type ComponentRow struct {
	Name         string  `json:"name"`
	Interactions int     `json:"interactions"`
	Instances    int     `json:"instances"`
	Renders      int     `json:"renders"`
	TotalTime    float64 `json:"total_time"`
}

// InteractionRow is one interaction line of a report.
type InteractionRow struct {
	Type      string  `json:"type"`
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	TotalTime float64 `json:"total_time"`
	MaxTime   float64 `json:"max_time"`
}

// ReportResult is the report over an archive.
type ReportResult struct {
	Batches      int              `json:"batches"`
	Components   []ComponentRow   `json:"components"`
	Interactions []InteractionRow `json:"interactions"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the batches a collector archived",
		Long: `Summarize an archive written by the collect command: the slowest
components and interactions across every batch received.

Examples:
  renderscan report --db ./telemetry.db
  renderscan report --db ./telemetry.db --limit 5 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "rows per section (0 for all)")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	// store.Open creates missing databases; a report needs an existing one.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	batches, err := st.ListBatches(ctx)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	components, err := st.ComponentSummaries(ctx)
	if err != nil {
		return fmt.Errorf("component summaries: %w", err)
	}
	interactions, err := st.InteractionSummaries(ctx)
	if err != nil {
		return fmt.Errorf("interaction summaries: %w", err)
	}

	result := ReportResult{
		Batches:      len(batches),
		Components:   make([]ComponentRow, 0, len(components)),
		Interactions: make([]InteractionRow, 0, len(interactions)),
	}
	for _, c := range limit(components, opts.Limit) {
		result.Components = append(result.Components, ComponentRow(c))
	}
	for _, i := range limit(interactions, opts.Limit) {
		result.Interactions = append(result.Interactions, InteractionRow(i))
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	outputReportText(cmd, result)
	return nil
}

func limit[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

func outputReportText(cmd *cobra.Command, r ReportResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, titleStyle.Render("renderscan report")+" "+labelStyle.Render(fmt.Sprintf("%d batch(es)", r.Batches)))
	if r.Batches == 0 {
		fmt.Fprintln(w, "No batches archived.")
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Components"))
	ct := newTable("COMPONENT", "INTERACTIONS", "INSTANCES", "RENDERS", "TOTAL TIME")
	for _, c := range r.Components {
		ct.Row(c.Name, fmt.Sprint(c.Interactions), fmt.Sprint(c.Instances), fmt.Sprint(c.Renders), formatMillis(c.TotalTime))
	}
	fmt.Fprintln(w, ct.Render())

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Interactions"))
	it := newTable("TYPE", "NAME", "COUNT", "TOTAL TIME", "MAX TIME")
	for _, i := range r.Interactions {
		it.Row(i.Type, i.Name, fmt.Sprint(i.Count), formatMillis(i.TotalTime), formatMillis(i.MaxTime))
	}
	fmt.Fprintln(w, it.Render())
}
