// Package tui renders scan progress and the resulting violation table.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mayritza/orgsentry/pkg/scanner"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#94A3B8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF3366"))
	borderStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
)

// ProgressMsg wraps a scanner event for the update loop.
type ProgressMsg scanner.Event

// DoneMsg signals scan completion.
type DoneMsg struct {
	Result *scanner.Result
	Err    error
}

// Model is the interactive scan view.
type Model struct {
	spinner spinner.Model
	table   table.Model
	events  <-chan tea.Msg

	scanning   bool
	members    int
	chains     int
	violations int
	startTime  time.Time

	result *scanner.Result
	err    error
}

// NewModel builds the model over the event channel fed by the scan.
func NewModel(events <-chan tea.Msg) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF99"))
	return Model{
		spinner:   sp,
		events:    events,
		scanning:  true,
		startTime: time.Now(),
	}
}

// Result returns the scan outcome, or nil if the scan has not finished.
func (m Model) Result() *scanner.Result {
	return m.result
}

// Err returns the scan error carried by DoneMsg, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		if !m.scanning {
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}
	case ProgressMsg:
		switch msg.Phase {
		case "retrieve":
			m.members++
			m.chains += msg.Chains
		case "evaluate", "output":
			m.violations = msg.Violations
		}
		return m, m.waitForEvent()
	case DoneMsg:
		m.scanning = false
		m.result = msg.Result
		m.err = msg.Err
		if msg.Result != nil {
			m.violations = len(msg.Result.Records)
			m.table = buildTable(msg.Result)
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func buildTable(res *scanner.Result) table.Model {
	columns := []table.Column{
		{Title: "Member", Width: 28},
		{Title: "Project", Width: 20},
		{Title: "Rule", Width: 16},
		{Title: "Required Ancestor", Width: 24},
	}
	rows := make([]table.Row, 0, len(res.Records))
	for _, rec := range res.Records {
		rows = append(rows, table.Row{
			rec.ViolationData.Member,
			rec.ResourceID,
			rec.RuleName,
			rec.ViolationData.RuleAncestor,
		})
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 15)),
	)
	return t
}

func (m Model) View() string {
	if m.scanning {
		return fmt.Sprintf("\n %s Scanning project access...\n\n%s\n",
			m.spinner.View(),
			dimStyle.Render(fmt.Sprintf("   members resolved: %d   chains: %d   elapsed: %s",
				m.members, m.chains, time.Since(m.startTime).Round(time.Second))))
	}

	if m.err != nil && m.result == nil {
		return errorStyle.Render(fmt.Sprintf("\n Scan failed: %v\n", m.err)) + dimStyle.Render("\n press q to quit\n")
	}

	header := titleStyle.Render(fmt.Sprintf("\n ORGSENTRY — %d violation(s), %d member(s) audited\n", m.violations, m.members))
	if m.violations == 0 {
		return header + dimStyle.Render("\n All project access within approved ancestries.\n press q to quit\n")
	}
	return header + "\n" + borderStyle.Render(m.table.View()) + dimStyle.Render("\n ↑/↓ navigate · q quit\n")
}
