package cmd

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#FF0033")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.Color("#9CA3AF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(14)

	okStyle    = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)

	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent)
)

// field renders one "label value" line.
func field(label, value string) string {
	return labelStyle.Render(label) + value
}
