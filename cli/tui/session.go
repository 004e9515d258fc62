package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/voxlink/metrics"
)

// maxRecent is how many directives the live view keeps.
const maxRecent = 12

// ConnectionMsg reports a session status change.
type ConnectionMsg struct {
	Status string
	Reason string
}

// DirectiveMsg reports a received directive.
type DirectiveMsg struct {
	At        time.Time
	Namespace string
	Name      string
	MessageID string
}

// MetricsMsg carries a fresh metrics snapshot.
type MetricsMsg metrics.Snapshot

// StoppedMsg ends the live view. Err is the reason, if any.
type StoppedMsg struct {
	Err error
}

// SessionModel is the live view of listen --tui.
type SessionModel struct {
	endpoint  string
	sessionID string
	status    string
	reason    string
	recent    []DirectiveMsg
	snap      metrics.Snapshot
	err       error
	width     int
	height    int
	quitting  bool
}

// NewSessionModel creates a live view for one session.
func NewSessionModel(endpoint, sessionID string) SessionModel {
	return SessionModel{
		endpoint:  endpoint,
		sessionID: sessionID,
		status:    "disconnected",
	}
}

// Status returns the last reported connection status.
func (m SessionModel) Status() string { return m.status }

// Recent returns the directives on screen, newest last.
func (m SessionModel) Recent() []DirectiveMsg { return m.recent }

// Init implements tea.Model.
func (m SessionModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	case ConnectionMsg:
		m.status = msg.Status
		m.reason = msg.Reason
	case DirectiveMsg:
		m.recent = append(m.recent, msg)
		if len(m.recent) > maxRecent {
			m.recent = m.recent[len(m.recent)-maxRecent:]
		}
	case MetricsMsg:
		m.snap = metrics.Snapshot(msg)
	case StoppedMsg:
		m.err = msg.Err
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m SessionModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("voxlink listen"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Endpoint:"), ValueStyle.Render(m.endpoint))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Session:"), ValueStyle.Render(m.sessionID))
	status := StateStyle(m.status).Render(m.status)
	if m.reason != "" {
		status += " " + HelpStyle.UnsetMarginTop().Render("("+m.reason+")")
	}
	fmt.Fprintf(&b, "%s %s\n\n", LabelStyle.Render("Status:"), status)

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Directives", m.snap.DirectivesReceived, accentColor),
		renderStatBox("Attachments", m.snap.AttachmentsReceived, accentColor),
		renderStatBox("Open Streams", m.snap.StreamsCreated-m.snap.StreamsReleased, healthyColor),
		renderStatBox("Pauses", m.snap.Pauses, degradedColor),
		renderStatBox("Errors", m.snap.ParseErrors+m.snap.Exceptions, failedColor),
	))
	b.WriteString("\n\n")

	if len(m.recent) == 0 {
		b.WriteString(HelpStyle.UnsetMarginTop().Render("waiting for directives..."))
		b.WriteString("\n")
	}
	for _, d := range m.recent {
		fmt.Fprintf(&b, "%s  %s  %s\n",
			HelpStyle.UnsetMarginTop().Render(d.At.Format("15:04:05.000")),
			ValueStyle.Render(d.Namespace+"."+d.Name),
			HelpStyle.UnsetMarginTop().Render(d.MessageID))
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to stop"))
	return b.String()
}

// Err returns the error the session stopped with, if any.
func (m SessionModel) Err() error { return m.err }

// LiveView runs a SessionModel as a program. A nil *LiveView ignores
// every call, so callers need not branch on whether the view is enabled.
type LiveView struct {
	p *tea.Program
}

// NewLiveView creates the live view for one session.
func NewLiveView(endpoint, sessionID string) *LiveView {
	return &LiveView{p: tea.NewProgram(NewSessionModel(endpoint, sessionID), tea.WithAltScreen())}
}

// Send delivers msg to the view. Safe from any goroutine.
func (v *LiveView) Send(msg tea.Msg) {
	if v == nil {
		return
	}
	v.p.Send(msg)
}

// Run blocks until the user quits or a StoppedMsg arrives.
func (v *LiveView) Run() error {
	if v == nil {
		return nil
	}
	_, err := v.p.Run()
	return err
}
