package cli

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/roach88/renderscan/internal/harness"
)

// watchHistory is how many past steps the watch view keeps on screen.
const watchHistory = 12

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var optionsFile string
	cmd := &cobra.Command{
		Use:   "watch <scenario.yaml>",
		Short: "Step through a trace scenario interactively",
		Long: `Step through a trace scenario one operation at a time and watch
records, outlines and aggregates change.

Keys:
  n, space, enter  run the next step
  a                run every remaining step
  q, ctrl+c        quit`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, args[0], optionsFile, cmd)
		},
	}
	addOptionsFlag(cmd, &optionsFile)
	return cmd
}

func runWatch(opts *RootOptions, path, optionsFile string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	hopts, err := loadOptionsFile(optionsFile)
	if err != nil {
		return err
	}
	hopts = append(hopts, harness.WithLogger(newLogger(opts, cmd.ErrOrStderr())))

	m, err := newWatchModel(scenario, hopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare scenario", err)
	}
	defer m.h.Close()

	p := tea.NewProgram(m,
		tea.WithContext(cmd.Context()),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	final, err := p.Run()
	if err != nil {
		return WrapExitError(ExitCommandError, "watch failed", err)
	}
	if wm, ok := final.(watchModel); ok {
		if wm.err != nil {
			return WrapExitError(ExitCommandError, "step failed", wm.err)
		}
		if wm.result != nil && !wm.result.Pass {
			return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(wm.result.Errors)))
		}
	}
	return nil
}

// watchLog collects the events the harness reports. It is shared by
// every copy of the model.
type watchLog struct {
	events []harness.TraceEvent
}

// watchModel is the bubbletea model of the watch view.
type watchModel struct {
	h      *harness.Harness
	name   string
	log    *watchLog
	next   int
	result *harness.Result
	err    error
}

func newWatchModel(scenario *harness.Scenario, opts ...harness.Option) (watchModel, error) {
	log := &watchLog{}
	opts = append(opts, harness.WithObserver(func(ev harness.TraceEvent) {
		log.events = append(log.events, ev)
	}))
	h, err := harness.New(scenario, opts...)
	if err != nil {
		return watchModel{}, err
	}
	return watchModel{h: h, name: scenario.Name, log: log}, nil
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "n", " ", "enter", "right":
		m = m.step()
	case "a":
		for !m.done() {
			m = m.step()
		}
	}
	return m, nil
}

func (m watchModel) done() bool {
	return m.err != nil || m.result != nil
}

// step runs the next scenario step, finishing the run after the last one.
func (m watchModel) step() watchModel {
	if m.done() {
		return m
	}
	if m.next < m.h.Len() {
		if err := m.h.Step(context.Background(), m.next); err != nil {
			m.err = err
			return m
		}
		m.next++
	}
	if m.next == m.h.Len() {
		m.result = m.h.Finish()
	}
	return m
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("renderscan watch") + " " + m.name + "\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf("step %d/%d", m.next, m.h.Len())) + "\n\n")

	events := m.log.events
	if len(events) > watchHistory {
		events = events[len(events)-watchHistory:]
	}
	for _, ev := range events {
		b.WriteString(formatEvent(ev) + "\n")
	}
	if n := len(events); n > 0 {
		for _, line := range formatRecords(events[n-1]) {
			b.WriteString(line + "\n")
		}
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + critStyle.Render("step failed: "+m.err.Error()) + "\n")
	case m.result != nil:
		if len(m.result.Stats) > 0 {
			b.WriteString("\n" + renderStats(m.result.Stats) + "\n")
		}
		if m.result.Pass {
			b.WriteString(okStyle.Render("✓ all assertions held") + "\n")
		} else {
			for _, e := range m.result.Errors {
				b.WriteString(critStyle.Render("✗ "+e) + "\n")
			}
		}
	}

	b.WriteString("\n" + helpStyle.Render("n: next  a: all  q: quit") + "\n")
	return b.String()
}
