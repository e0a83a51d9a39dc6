package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pageforge/buildstream/internal/domain/build"
	"github.com/pageforge/buildstream/internal/domain/events"
	"github.com/pageforge/buildstream/internal/infrastructure/journal"
	"github.com/pageforge/buildstream/internal/infrastructure/watch"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard [build-id]",
	Short: "Interactive TUI dashboard for a journalled build",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("BUILDSTREAM_SKIP_DASHBOARD_RUN") == "true" {
			return nil
		}

		svcs, err := loadServices()
		if err != nil {
			return err
		}

		buildID := ""
		if len(args) == 1 {
			buildID = args[0]
		} else {
			last, err := svcs.Journal.LastSession()
			if err != nil {
				return err
			}
			if last == nil {
				return fmt.Errorf("no journalled build; pass a build id")
			}
			buildID = last.BuildID
		}

		p := tea.NewProgram(initialModel(svcs.Journal, buildID))

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Journal appends from a concurrent follow process show up live.
		watcher, err := watch.NewJournalWatcher(svcs.Journal.Path(), 0, func() {
			p.Send(journalChangedMsg{})
		})
		if err == nil {
			go watcher.Run(ctx)
		}

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("dashboard run failed: %w", err)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(dashboardCmd)
}

// Styles
var baseStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.NormalBorder()).
	BorderForeground(lipgloss.Color("240"))

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4")).
	PaddingLeft(1).
	PaddingRight(1)

var statusDone = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
var statusWIP = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
var statusErr = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

type journalChangedMsg struct{}

type dashboardModel struct {
	table   table.Model
	journal *journal.Journal
	buildID string
	plan    *build.Plan
	err     error
}

func initialModel(j *journal.Journal, buildID string) dashboardModel {
	columns := []table.Column{
		{Title: "Status", Width: 10},
		{Title: "Category", Width: 12},
		{Title: "Task", Width: 44},
		{Title: "ID", Width: 20},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240"))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229"))
	t.SetStyles(s)

	m := dashboardModel{table: t, journal: j, buildID: buildID}
	m.reload()
	return m
}

// reload rebuilds the view from the journal: last snapshot plus every
// event recorded after it.
func (m *dashboardModel) reload() {
	projection := events.NewBuildProjection()
	if err := m.journal.Restore(m.buildID, projection); err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.plan = projection.Plan()

	rows := []table.Row{}
	if m.plan != nil {
		for _, t := range m.plan.Tasks {
			rows = append(rows, table.Row{t.Status.DisplayName(), t.Category, t.Name, t.ID})
		}
	}
	m.table.SetRows(rows)
}

func (m dashboardModel) Init() tea.Cmd { return nil }

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case journalChangedMsg:
		m.reload()
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.reload()
			return m, nil
		}
	}
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m dashboardModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error loading dashboard: %v\nPress q to quit.", m.err)
	}

	header := headerStyle.Render(fmt.Sprintf("Build %s", m.buildID))

	progress := "no plan yet"
	if m.plan != nil {
		progress = fmt.Sprintf("Progress: %d/%d tasks", m.plan.CompletedTasks, m.plan.TotalTasks)
		if m.plan.FailedTasks > 0 {
			progress += statusErr.Render(fmt.Sprintf("  %d failed", m.plan.FailedTasks))
		}
	}

	statusView := ""
	if m.plan != nil {
		switch {
		case m.plan.Status == build.PlanCompleted:
			statusView = statusDone.Render("\nBuild complete")
		case m.plan.Status == build.PlanFailed:
			statusView = statusErr.Render("\nBuild failed")
		default:
			statusView = statusWIP.Render(fmt.Sprintf("\nBuild %s", m.plan.Status.DisplayName()))
		}
	}

	return baseStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			progress,
			"\nTasks:",
			m.table.View(),
			statusView,
			"\n[q] Quit  [r] Reload  [Up/Down] Navigate",
		),
	) + "\n"
}
