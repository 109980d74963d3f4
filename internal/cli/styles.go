package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/roach88/renderscan/internal/harness"
)

var (
	colorRed     = lipgloss.Color("#FF5555")
	colorYellow  = lipgloss.Color("#F1FA8C")
	colorGreen   = lipgloss.Color("#50FA7B")
	colorCyan    = lipgloss.Color("#8BE9FD")
	colorMagenta = lipgloss.Color("#FF79C6")
	colorGray    = lipgloss.Color("#6272A4")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	headerStyle = lipgloss.NewStyle().Foreground(colorMagenta).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(colorGray)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(colorGray)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// severityStyle colors an outline by how close it is to maxRenders.
func severityStyle(severity float64) lipgloss.Style {
	switch {
	case severity >= 0.75:
		return critStyle
	case severity >= 0.5:
		return warnStyle
	default:
		return okStyle
	}
}

// newTable builds a bordered table with styled headers.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(labelStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
}

// formatMillis renders a duration in milliseconds.
func formatMillis(ms float64) string {
	return fmt.Sprintf("%.2fms", ms)
}

// formatEvent renders one trace event as a single line.
func formatEvent(ev harness.TraceEvent) string {
	step := labelStyle.Render(fmt.Sprintf("%3d", ev.Step))
	op := titleStyle.Render(fmt.Sprintf("%-11s", ev.Op))

	var detail string
	switch ev.Op {
	case harness.OpCommit:
		switch {
		case ev.Error != "":
			detail = critStyle.Render("walk failed: " + ev.Error)
		case ev.Commit == 0:
			detail = labelStyle.Render("skipped (disabled)")
		default:
			detail = fmt.Sprintf("#%d %s, %d record(s)", ev.Commit, ev.Mode, len(ev.Records))
			if len(ev.Unmounted) > 0 {
				detail += fmt.Sprintf(", unmounted %s", strings.Join(ev.Unmounted, " "))
			}
		}
	case harness.OpAdvance:
		detail = fmt.Sprintf("now %dms", ev.Now)
	case harness.OpInteraction:
		detail = ev.Interaction
	case harness.OpFlush:
		if ev.Batch == nil {
			detail = labelStyle.Render("nothing to send")
		} else {
			detail = fmt.Sprintf("sent %d bytes", len(ev.Batch))
		}
	case harness.OpOutlines:
		detail = fmt.Sprintf("%d outline(s)", len(ev.Outlines))
	default:
		detail = "applied"
	}
	return fmt.Sprintf("%s %s %s", step, op, detail)
}

// formatRecords renders the records of a commit event, one per line.
func formatRecords(ev harness.TraceEvent) []string {
	lines := make([]string, 0, len(ev.Records))
	for _, r := range ev.Records {
		line := fmt.Sprintf("      %s %s %s %s", r.Node, r.Component, headerStyle.Render(string(r.Kind)), formatMillis(r.SelfTime))
		for _, c := range r.Changes {
			name := c.Name
			if c.Unstable {
				name = warnStyle.Render(name + " (unstable)")
			}
			line += " " + name
		}
		lines = append(lines, line)
	}
	for _, o := range ev.Outlines {
		lines = append(lines, fmt.Sprintf("      %s -> %s %s x%d",
			o.Node, o.Target, severityStyle(o.Severity).Render(fmt.Sprintf("%.2f", o.Severity)), o.Count))
	}
	return lines
}

// renderStats renders the final per-node aggregates as a table.
func renderStats(stats []harness.StatTrace) string {
	t := newTable("NODE", "COMPONENT", "RENDERS", "SELF TIME")
	for _, s := range stats {
		t.Row(s.Node, s.Name, fmt.Sprint(s.RenderCount), formatMillis(s.TotalSelfTime))
	}
	return t.Render()
}

// renderReport renders the by-name aggregates as a table.
func renderReport(report []harness.ReportTrace) string {
	t := newTable("COMPONENT", "RENDERS", "SELF TIME")
	for _, r := range report {
		t.Row(r.Name, fmt.Sprint(r.RenderCount), formatMillis(r.TotalSelfTime))
	}
	return t.Render()
}
