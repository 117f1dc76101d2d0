package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"
)

// StatusInfo is what the bottom bar reports about the last refresh.
type StatusInfo struct {
	DataAge     string
	Refreshing  bool
	AutoRefresh bool
	Warnings    int
	Message     string
}

// RenderStatusBar renders the bottom status bar.
func RenderStatusBar(width int, info StatusInfo) string {
	t := theme.Active

	base := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	accent := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface)
	warn := lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface)

	left := base.Render(" [?]help  [w]orker  [r]efresh  [q]uit")
	if info.Message != "" {
		left += base.Render("  ") + warn.Render(info.Message)
	}

	var right []string
	if info.Warnings > 0 {
		right = append(right, warn.Render(fmt.Sprintf("%d warnings", info.Warnings)))
	}
	switch {
	case info.Refreshing:
		right = append(right, accent.Render("refreshing…"))
	case info.AutoRefresh:
		right = append(right, accent.Render("auto"))
	}
	if info.DataAge != "" {
		right = append(right, base.Render("Data: "+info.DataAge))
	}
	r := strings.Join(right, base.Render("  ")) + base.Render(" ")

	padding := width - lipgloss.Width(left) - lipgloss.Width(r)
	if padding < 0 {
		padding = 0
	}
	return left + base.Render(strings.Repeat(" ", padding)) + r
}
