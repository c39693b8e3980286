package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/agentx-labs/kiln/internal/activation"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	statusStyles = map[activation.Status]lipgloss.Style{
		activation.StatusApplied:        lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		activation.StatusAlreadyApplied: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		activation.StatusSkipped:        lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		activation.StatusFailed:         lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		activation.StatusPending:        lipgloss.NewStyle().Faint(true),
	}
)

func statusStyle(s activation.Status) lipgloss.Style {
	if st, ok := statusStyles[s]; ok {
		return st
	}
	return lipgloss.NewStyle()
}
