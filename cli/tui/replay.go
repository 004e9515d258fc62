package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/voxlink/cli/reader"
)

// maxMessagePreview bounds the directive JSON shown under the list.
const maxMessagePreview = 600

// ReplayModel browses the directives recovered from a stream dump.
type ReplayModel struct {
	data     *reader.ReplayResult
	cursor   int
	width    int
	height   int
	quitting bool
}

// NewReplayModel creates a replay model. data must be a *reader.ReplayResult.
func NewReplayModel(data any) ReplayModel {
	res, _ := data.(*reader.ReplayResult)
	return ReplayModel{data: res}
}

// Cursor returns the selected directive index.
func (m ReplayModel) Cursor() int { return m.cursor }

// Init implements tea.Model.
func (m ReplayModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReplayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.data != nil && m.cursor < len(m.data.Directives)-1 {
				m.cursor++
			}
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m ReplayModel) View() string {
	if m.quitting {
		return ""
	}
	if m.data == nil {
		return "Invalid data type for replay\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
	}
	d := m.data

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Stream %d  %s %s", d.StreamID, d.Method, d.URL)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Status:"), ValueStyle.Render(fmt.Sprintf("%d", d.Status)))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Bytes in:"), ValueStyle.Render(fmt.Sprintf("%d", d.BytesIn)))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Attachments:"), ValueStyle.Render(fmt.Sprintf("%d", len(d.Attachments))))
	if d.ParseError != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Parse error:"), ErrorStyle.Render(d.ParseError))
	}
	b.WriteString("\n")

	if len(d.Directives) == 0 {
		b.WriteString(WarningStyle.Render("(no directives)"))
		b.WriteString("\n")
	}
	for i, dir := range d.Directives {
		line := fmt.Sprintf("%3d  %s.%s  %s", i+1, dir.Namespace, dir.Name, dir.MessageID)
		if i == m.cursor {
			b.WriteString(SelectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if m.cursor < len(d.Directives) {
		msg := d.Directives[m.cursor].Message
		if len(msg) > maxMessagePreview {
			msg = msg[:maxMessagePreview] + "..."
		}
		b.WriteString("\n")
		b.WriteString(BoxStyle.Render(msg))
	}

	b.WriteString(HelpStyle.Render("↑/↓ select, q quit"))
	return b.String()
}

// RunReplayTUI runs the replay view.
func RunReplayTUI(data any) error {
	if _, ok := data.(*reader.ReplayResult); !ok {
		return fmt.Errorf("replay view needs *reader.ReplayResult, got %T", data)
	}
	_, err := tea.NewProgram(NewReplayModel(data), tea.WithAltScreen()).Run()
	return err
}
