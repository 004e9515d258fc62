// Package tui holds the Bubble Tea views of the voxlink CLI: the live
// session view of listen, and read-only views of stats and replay output.
// Views show the same payloads the json/table/yaml renderers print.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/voxlink/types"
)

// Colors by what they signal about the connection.
var (
	accentColor   = lipgloss.Color("#0EA5E9")
	healthyColor  = lipgloss.Color("#22C55E")
	degradedColor = lipgloss.Color("#EAB308")
	failedColor   = lipgloss.Color("#DC2626")
	dimColor      = lipgloss.Color("#64748B")
	textColor     = lipgloss.Color("#F8FAFC")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// Shared view styles.
var (
	TitleStyle    = fg(accentColor).Bold(true).MarginBottom(1)
	LabelStyle    = fg(dimColor).Width(20)
	ValueStyle    = fg(textColor)
	WarningStyle  = fg(degradedColor)
	ErrorStyle    = fg(failedColor)
	HelpStyle     = fg(dimColor).MarginTop(1)
	SelectedStyle = fg(accentColor).Bold(true)
	BoxStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor).
			Padding(1, 2)
)

// Counter tiles on the stats view. The tile border takes the counter's color.
var (
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)
	StatLabelStyle = fg(dimColor).Align(lipgloss.Center)
	StatValueStyle = fg(textColor).Bold(true).Align(lipgloss.Center)
)

var statusStyles = map[types.ConnectionStatus]lipgloss.Style{
	types.ConnectionConnected:    fg(healthyColor).Bold(true),
	types.ConnectionPending:      fg(degradedColor),
	types.ConnectionDisconnected: fg(failedColor),
}

// StateStyle returns the style for a connection status. Unknown statuses
// render as plain values.
func StateStyle(status string) lipgloss.Style {
	if st, ok := statusStyles[types.ConnectionStatus(status)]; ok {
		return st
	}
	return ValueStyle
}
