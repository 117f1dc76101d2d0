package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"
)

// ProgressBar renders a progress bar followed by its percentage.
func ProgressBar(pct float64, width int) string {
	t := theme.Active
	pct = clampPct(pct)
	filled := min(int(pct*float64(width)), width)

	var barColor lipgloss.Color
	switch {
	case pct >= 0.8:
		barColor = t.AccentBright
	case pct >= 0.5:
		barColor = t.Accent
	default:
		barColor = t.Cyan
	}

	filledStyle := lipgloss.NewStyle().Foreground(barColor).Background(t.Surface)
	emptyStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	pctStyle := lipgloss.NewStyle().Foreground(barColor).Background(t.Surface).Bold(true)
	spaceStyle := lipgloss.NewStyle().Background(t.Surface)

	var b strings.Builder
	b.WriteString(filledStyle.Render(strings.Repeat("█", filled)))
	b.WriteString(emptyStyle.Render(strings.Repeat("░", width-filled)))

	return b.String() + spaceStyle.Render(" ") + pctStyle.Render(fmt.Sprintf("%.0f%%", pct*100))
}

func clampPct(pct float64) float64 {
	if pct != pct || pct < 0 {
		return 0
	}
	return min(pct, 1)
}

// ColorForStability colors a stability percentage (0-100) the way AFL++'s
// status screen does: green when stable, red when noisy.
func ColorForStability(pct float64) lipgloss.Color {
	t := theme.Active
	switch {
	case pct >= 90:
		return t.Green
	case pct >= 80:
		return t.Yellow
	default:
		return t.Red
	}
}

// ColorForPending colors the remaining fraction of favored queue entries.
// Lower is better: the fuzzer has worked through its favorites.
func ColorForPending(frac float64) lipgloss.Color {
	t := theme.Active
	switch {
	case frac >= 0.7:
		return t.Orange
	case frac >= 0.3:
		return t.Yellow
	default:
		return t.Green
	}
}

// MeterBar renders a labeled bar for a fraction in [0,1] with a short note
// after the percentage, e.g. "1234/65536 edges".
func MeterBar(label string, frac float64, color lipgloss.Color, note string, labelW, barWidth int) string {
	t := theme.Active
	frac = clampPct(frac)

	bar := progress.New(
		progress.WithSolidFill(string(color)),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	bar.EmptyColor = string(t.TextDim)

	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	pctStyle := lipgloss.NewStyle().Foreground(color).Background(t.Surface).Bold(true)
	noteStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	spaceStyle := lipgloss.NewStyle().Background(t.Surface)

	return labelStyle.Render(fmt.Sprintf("%-*s", labelW, label)) +
		spaceStyle.Render(" ") +
		bar.ViewAs(frac) +
		spaceStyle.Render(" ") +
		pctStyle.Render(fmt.Sprintf("%6.2f%%", frac*100)) +
		spaceStyle.Render("  ") +
		noteStyle.Render(note)
}
