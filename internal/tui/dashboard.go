// Package tui renders a read-only terminal dashboard over the mirror's
// snapshot API. It is a development harness for the embedded core, not the
// product renderer.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/fleetview/internal/detail"
)

// AgentLine is one agent row in the dashboard.
type AgentLine struct {
	ID     string
	Label  string
	Status string
	X, Y   float64
	Manual bool
}

// TaskLine is one task row in the dashboard. NextRun is empty for tasks
// without a derivable next fire time (spawn tasks, no schedule).
type TaskLine struct {
	ID      string
	Label   string
	Status  string
	NextRun string
}

// Snapshot is one dashboard refresh, assembled from the read-facing
// accessors. All fields are plain values; taking a snapshot has no side
// effects.
type Snapshot struct {
	Connected      bool
	TransportState string
	Agents         []AgentLine
	Tasks          []TaskLine
	TaskCount      int
	RunningTasks   int
	Connections    int
	Messages       uint64
}

// StatusProvider supplies the current snapshot on every tick.
type StatusProvider func() Snapshot

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	manualMark   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("*")
)

type model struct {
	provider StatusProvider
	ctrl     *detail.Controller // nil disables expansion keys
	snap     Snapshot
	cursor   int
	focusErr string
}

type tickMsg time.Time

// focusDoneMsg reports the outcome of an async focus request.
type focusDoneMsg struct{ err error }

func tickCmd() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.snap.Agents)-1 {
				m.cursor++
			}
		case "enter":
			if m.ctrl != nil && m.cursor < len(m.snap.Agents) {
				id := m.snap.Agents[m.cursor].ID
				ctrl := m.ctrl
				m.focusErr = ""
				return m, func() tea.Msg {
					return focusDoneMsg{err: ctrl.Focus(context.Background(), id)}
				}
			}
		case "esc":
			if m.ctrl != nil {
				m.ctrl.Unfocus()
				m.focusErr = ""
			}
		}
	case focusDoneMsg:
		if msg.err != nil {
			m.focusErr = msg.err.Error()
		}
		return m, nil
	case tickMsg:
		m.snap = m.provider()
		if m.cursor >= len(m.snap.Agents) && m.cursor > 0 {
			m.cursor = len(m.snap.Agents) - 1
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Fleetview Mirror"))
	b.WriteString("  ")
	if m.snap.Connected {
		b.WriteString(onlineStyle.Render("online"))
	} else {
		// Stale-but-present: last-known entities stay on screen.
		b.WriteString(offlineStyle.Render("offline"))
	}
	b.WriteString(dimStyle.Render(" (" + m.snap.TransportState + ")"))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Agents: %d   Tasks: %d (%d running)   Connections: %d   Messages: %d\n\n",
		len(m.snap.Agents), m.snap.TaskCount, m.snap.RunningTasks,
		m.snap.Connections, m.snap.Messages)

	for i, a := range m.snap.Agents {
		label := a.Label
		if label == "" {
			label = a.ID
		}
		cursor := " "
		if i == m.cursor {
			cursor = ">"
		}
		mark := " "
		if a.Manual {
			mark = manualMark
		}
		fmt.Fprintf(&b, "%s %s %-20s %-10s (%7.1f, %7.1f)\n",
			cursor, mark, label, a.Status, a.X, a.Y)
	}

	if len(m.snap.Tasks) > 0 {
		b.WriteString("\n")
		for _, task := range m.snap.Tasks {
			label := task.Label
			if label == "" {
				label = task.ID
			}
			fmt.Fprintf(&b, "    %-20s %-10s", label, task.Status)
			if task.NextRun != "" {
				fmt.Fprintf(&b, "  next run %s", task.NextRun)
			}
			b.WriteString("\n")
		}
	}

	if m.ctrl != nil && m.ctrl.State() == detail.StateExpanded {
		fmt.Fprintf(&b, "\nDetail: %s\n", m.ctrl.FocusedID())
		for _, s := range m.ctrl.Satellites() {
			fmt.Fprintf(&b, "    %-12s %3d items  (%7.1f, %7.1f)\n",
				s.Category, s.Items, s.X, s.Y)
		}
	}
	if m.focusErr != "" {
		b.WriteString(offlineStyle.Render("\ndetail: " + m.focusErr + "\n"))
	}

	b.WriteString(dimStyle.Render("\nup/down select, enter expand, esc collapse, q quit.\n"))
	return b.String()
}

// Run drives the dashboard until ctx is done or the user quits. ctrl may be
// nil for a read-only dashboard without expansion.
func Run(ctx context.Context, provider StatusProvider, ctrl *detail.Controller) error {
	m := model{provider: provider, ctrl: ctrl, snap: provider()}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}
