// Package ui renders the task queue and statistics for the terminal, plus an
// interactive Bubbletea watch mode that refreshes the queue live.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sunward/taskpilot/internal/stats"
	"github.com/sunward/taskpilot/internal/task"
)

// Styles holds lipgloss styles for queue and stats rendering.
type Styles struct {
	Title    lipgloss.Style
	Header   lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	Muted    lipgloss.Style
	Selected lipgloss.Style

	StatusOK     lipgloss.Style
	StatusWarn   lipgloss.Style
	StatusError  lipgloss.Style
	StatusActive lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

// newStyles creates the default style set.
func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#333", Dark: "#ccc"}),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		Selected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		StatusOK:     lipgloss.NewStyle().Foreground(green).Bold(true),
		StatusWarn:   lipgloss.NewStyle().Foreground(yellow).Bold(true),
		StatusError:  lipgloss.NewStyle().Foreground(red).Bold(true),
		StatusActive: lipgloss.NewStyle().Foreground(blue).Bold(true),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// statusStyle picks a style for a task status.
func (s *Styles) statusStyle(st task.Status) lipgloss.Style {
	switch st {
	case task.StatusAICompleted, task.StatusHumanCompleted:
		return s.StatusOK
	case task.StatusAIFailed, task.StatusHumanNeeded:
		return s.StatusError
	case task.StatusAIProcessing, task.StatusHumanProcessing, task.StatusLearning:
		return s.StatusActive
	default:
		return s.Muted
	}
}

// RenderQueue renders queue entries as a table.
func RenderQueue(entries []stats.QueueEntry) string {
	styles := newStyles()
	var b strings.Builder

	b.WriteString(styles.Title.Render("Task Queue"))
	b.WriteString("\n")

	if len(entries) == 0 {
		b.WriteString(styles.Muted.Render("No tasks match"))
		b.WriteString("\n")
		return b.String()
	}

	header := fmt.Sprintf("%-10s %-22s %-14s %-16s %-4s %-7s %s",
		"ID", "TYPE", "PROJECT", "STATUS", "PRI", "RETRIES", "AGE")
	b.WriteString(styles.Header.Render(header))
	b.WriteString("\n")

	for _, e := range entries {
		line := fmt.Sprintf("%-10s %-22s %-14s %-16s %-4d %-7s %s",
			shortID(e.ID), truncate(e.Type, 22), truncate(e.ProjectID, 14),
			styles.statusStyle(e.Status).Render(fmt.Sprintf("%-16s", e.Status)),
			e.Priority, e.Retries, e.Age)
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(styles.Muted.Render(fmt.Sprintf("%d task(s)", len(entries))))
	b.WriteString("\n")
	return b.String()
}

// RenderStats renders a stats result for the terminal.
func RenderStats(r *stats.Result) string {
	styles := newStyles()
	var b strings.Builder

	b.WriteString(styles.Title.Render("Automation Stats"))
	b.WriteString("\n")

	writeLine := func(label, value string) {
		b.WriteString(styles.Label.Render(fmt.Sprintf("%-18s", label)))
		b.WriteString(styles.Value.Render(value))
		b.WriteString("\n")
	}

	writeLine("Total tasks", fmt.Sprintf("%d", r.TotalTasks))
	writeLine("AI attempted", fmt.Sprintf("%d", r.AIAttempted))
	writeLine("AI succeeded", fmt.Sprintf("%d", r.AISucceeded))

	rateStyle := styles.StatusError
	if r.AISuccessRate >= 70 {
		rateStyle = styles.StatusOK
	} else if r.AISuccessRate >= 40 {
		rateStyle = styles.StatusWarn
	}
	b.WriteString(styles.Label.Render(fmt.Sprintf("%-18s", "AI success rate")))
	b.WriteString(rateStyle.Render(fmt.Sprintf("%.1f%%", r.AISuccessRate)))
	b.WriteString("\n")

	if r.AvgResolutionMs > 0 {
		writeLine("Avg resolution", (time.Duration(r.AvgResolutionMs) * time.Millisecond).Round(time.Second).String())
	}
	writeLine("Learnings", fmt.Sprintf("%d", r.TotalLearnings))

	if len(r.ByStatus) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Header.Render("By status"))
		b.WriteString("\n")
		for _, st := range statusOrder {
			if n, ok := r.ByStatus[string(st)]; ok {
				b.WriteString(fmt.Sprintf("  %s %d\n",
					styles.statusStyle(st).Render(fmt.Sprintf("%-18s", st)), n))
			}
		}
	}

	if len(r.ByType) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Header.Render("By type"))
		b.WriteString("\n")
		for t, n := range r.ByType {
			b.WriteString(fmt.Sprintf("  %-22s %d", t, n))
			if ln, ok := r.LearningsByType[t]; ok && ln > 0 {
				b.WriteString(styles.Muted.Render(fmt.Sprintf("  (%d learnings)", ln)))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// statusOrder fixes the display order of statuses.
var statusOrder = []task.Status{
	task.StatusPending,
	task.StatusAIProcessing,
	task.StatusAICompleted,
	task.StatusAIFailed,
	task.StatusHumanNeeded,
	task.StatusHumanProcessing,
	task.StatusLearning,
	task.StatusHumanCompleted,
}

// QueueFetcher loads the current queue view for the watch model.
type QueueFetcher func(ctx context.Context) ([]stats.QueueEntry, error)

// tickMsg triggers a queue refresh.
type tickMsg time.Time

// queueMsg carries a fetched queue snapshot.
type queueMsg struct {
	entries []stats.QueueEntry
	err     error
}

// WatchModel is a Bubbletea model that refreshes the queue on an interval.
type WatchModel struct {
	fetch    QueueFetcher
	interval time.Duration

	width    int
	height   int
	entries  []stats.QueueEntry
	selected int
	scroll   int
	lastErr  error
	updated  time.Time
	quitting bool

	styles *Styles
}

// NewWatch creates a watch model. A non-positive interval defaults to 2s.
func NewWatch(fetch QueueFetcher, interval time.Duration) *WatchModel {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &WatchModel{
		fetch:    fetch,
		interval: interval,
		width:    80,
		height:   24,
		styles:   newStyles(),
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd(), tea.EnterAltScreen)
}

// tickCmd schedules the next refresh.
func (m WatchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd loads the queue off the UI goroutine.
func (m WatchModel) fetchCmd() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		entries, err := fetch(context.Background())
		return queueMsg{entries: entries, err: err}
	}
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down", "j":
			if m.selected < len(m.entries)-1 {
				m.selected++
			}
			return m, nil
		case "g", "home":
			m.selected = 0
			return m, nil
		case "G", "end":
			if len(m.entries) > 0 {
				m.selected = len(m.entries) - 1
			}
			return m, nil
		case "r":
			return m, m.fetchCmd()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case queueMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.entries = msg.entries
		m.updated = time.Now()
		if m.selected >= len(m.entries) {
			m.selected = len(m.entries) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Task Queue (watch)"))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(m.styles.StatusError.Render("refresh failed: " + m.lastErr.Error()))
		b.WriteString("\n")
	}

	if len(m.entries) == 0 {
		b.WriteString(m.styles.Muted.Render("No tasks match"))
		b.WriteString("\n")
	} else {
		header := fmt.Sprintf("%-10s %-22s %-16s %-4s %-7s %s",
			"ID", "TYPE", "STATUS", "PRI", "RETRIES", "AGE")
		b.WriteString(m.styles.Header.Render(header))
		b.WriteString("\n")

		visible := m.height - 6
		if visible < 1 {
			visible = 1
		}
		if m.selected < m.scroll {
			m.scroll = m.selected
		} else if m.selected >= m.scroll+visible {
			m.scroll = m.selected - visible + 1
		}

		for i := m.scroll; i < len(m.entries) && i < m.scroll+visible; i++ {
			e := m.entries[i]
			line := fmt.Sprintf("%-10s %-22s %-16s %-4d %-7s %s",
				shortID(e.ID), truncate(e.Type, 22), e.Status, e.Priority, e.Retries, e.Age)
			if i == m.selected {
				line = m.styles.Selected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if !m.updated.IsZero() {
		b.WriteString(m.styles.Muted.Render("updated " + m.updated.Format("15:04:05")))
		b.WriteString("  ")
	}
	b.WriteString(fmt.Sprintf("%s %s  |  %s %s  |  %s %s",
		m.styles.HelpKey.Render("j/k"), m.styles.HelpText.Render("move"),
		m.styles.HelpKey.Render("r"), m.styles.HelpText.Render("refresh"),
		m.styles.HelpKey.Render("q"), m.styles.HelpText.Render("quit")))
	return b.String()
}

// Run starts the watch TUI.
func (m *WatchModel) Run() error {
	p := tea.NewProgram(*m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// shortID trims a uuid to its first segment for display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return truncate(id, 10)
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
