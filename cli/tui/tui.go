package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
)

// View types with an interactive form.
const (
	ViewStatsMetrics = "stats_metrics"
	ViewReplay       = "replay"
)

// Run shows data in the view for viewType and blocks until the user quits.
func Run(viewType string, data any) error {
	switch viewType {
	case ViewStatsMetrics:
		return RunStatsTUI(data)
	case ViewReplay:
		return RunReplayTUI(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
}

// IsTUISupported reports whether viewType has an interactive view.
// The live session view is started by listen directly and is not listed.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews lists the view types Run accepts.
func SupportedTUIViews() []string {
	return []string{ViewStatsMetrics, ViewReplay}
}

type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next"),
	),
}
