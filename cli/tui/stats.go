package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/voxlink/cli/reader"
)

// StatsModel shows one session metrics record.
type StatsModel struct {
	data     *reader.MetricsSnapshot
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a stats model. data must be a *reader.MetricsSnapshot.
func NewStatsModel(data any) StatsModel {
	snap, _ := data.(*reader.MetricsSnapshot)
	return StatsModel{data: snap}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	if m.data == nil {
		return "Invalid data type for stats_metrics\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
	}
	d := m.data

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Metrics"))
	b.WriteString("\n")
	for _, f := range [][2]string{
		{"Session:", d.SessionID},
		{"Source:", d.Source},
		{"Endpoint:", d.Endpoint},
		{"Policy:", d.Policy},
		{"Storage:", d.StorageBackend},
		{"Completed:", d.CompletedAt},
	} {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(f[0]), ValueStyle.Render(f[1]))
	}

	sections := []struct {
		title string
		boxes []string
	}{
		{"Connection", []string{
			renderStatBox("Connects", d.Connects, healthyColor),
			renderStatBox("Disconnects", d.Disconnects, degradedColor),
			renderStatBox("Server Drops", d.ServerSideDisconnects, failedColor),
			renderStatBox("Pings", d.PingsSent, accentColor),
		}},
		{"Streams", []string{
			renderStatBox("Created", d.StreamsCreated, accentColor),
			renderStatBox("Released", d.StreamsReleased, healthyColor),
			renderStatBox("Rejected", d.StreamsRejected, failedColor),
			renderStatBox("Pauses", d.Pauses, degradedColor),
		}},
		{"Requests", []string{
			renderStatBox("Sent", d.RequestsSent, accentColor),
			renderStatBox("Succeeded", d.RequestsSucceeded, healthyColor),
			renderStatBox("Exceptions", d.Exceptions, failedColor),
			renderStatBox("Timeouts", d.Timeouts, degradedColor),
		}},
		{"Downstream", []string{
			renderStatBox("Directives", d.DirectivesReceived, accentColor),
			renderStatBox("Attachments", d.AttachmentsReceived, accentColor),
			renderStatBox("Persisted", d.DirectivesPersisted, healthyColor),
			renderStatBox("Parse Errors", d.ParseErrors, failedColor),
		}},
	}
	for _, s := range sections {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(accentColor).Render(s.title))
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, s.boxes...))
		b.WriteString("\n")
	}

	if len(d.RejectedByCause) > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Rejected by cause:"), ValueStyle.Render(formatCounts(d.RejectedByCause)))
	}
	if len(d.FlushTriggers) > 0 {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Flush triggers:"), ValueStyle.Render(formatCounts(d.FlushTriggers)))
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)
	return StatBoxStyle.BorderForeground(color).Render(content)
}

func formatCounts(m map[string]int64) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

// RunStatsTUI runs the stats view.
func RunStatsTUI(data any) error {
	if _, ok := data.(*reader.MetricsSnapshot); !ok {
		return fmt.Errorf("stats view needs *reader.MetricsSnapshot, got %T", data)
	}
	_, err := tea.NewProgram(NewStatsModel(data), tea.WithAltScreen()).Run()
	return err
}

// RenderStatsStatic renders the stats view without a running program.
func RenderStatsStatic(data any) string {
	m := NewStatsModel(data)
	m.width = 80
	m.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
