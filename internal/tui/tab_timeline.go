package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/components"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"
)

// hourLabels returns X-axis labels for hourly buckets.
func hourLabels(hours []model.HourlyStats) []string {
	labels := make([]string, len(hours))
	for i, h := range hours {
		labels[i] = fmt.Sprintf("%dh", h.Hour)
	}
	return labels
}

// hourlyIncrements turns a cumulative counter into per-hour increments.
func hourlyIncrements(hours []model.HourlyStats, field func(model.HourlyStats) int64) []float64 {
	out := make([]float64, len(hours))
	var prev int64
	for i, h := range hours {
		v := field(h)
		out[i] = float64(max(v-prev, 0))
		prev = v
	}
	return out
}

func (a App) renderTimelineTab(cw int) string {
	t := theme.Active
	ws, ok := a.selectedStats()
	if !ok {
		return components.ContentCard("Timeline", "No worker selected", cw)
	}
	hours := a.hourly[ws.Worker]
	var b strings.Builder

	if len(hours) == 0 {
		b.WriteString(components.ContentCard("Timeline · "+ws.Worker,
			lipgloss.NewStyle().Foreground(t.TextMuted).Render("No plot_data samples yet."), cw))
		b.WriteString("\n")
	} else {
		labels := hourLabels(hours)
		speed := make([]float64, len(hours))
		for i, h := range hours {
			speed[i] = h.MeanExecsPerSec
		}

		chartH := 10
		if a.isCompactLayout() {
			chartH = 7
		}
		speedSeries := components.BarSeries{Values: speed, Labels: labels, Color: t.Speed()}
		b.WriteString(components.ContentCard(
			fmt.Sprintf("Mean exec speed per hour · %s (now %s)", ws.Worker, cli.FormatRate(ws.ExecsPerSec)),
			components.BarChart(speedSeries, components.CardInnerWidth(cw), chartH),
			cw,
		))
		b.WriteString("\n")

		last := hours[len(hours)-1]
		edges := components.BarSeries{
			Values: hourlyIncrements(hours, func(h model.HourlyStats) int64 { return h.EdgesFound }),
			Labels: labels,
			Color:  t.Coverage(),
		}
		crashes := components.BarSeries{
			Values: hourlyIncrements(hours, func(h model.HourlyStats) int64 { return h.SavedCrashes }),
			Labels: labels,
			Color:  t.Crash(),
		}
		edgeCard := func(w int) string {
			return components.ContentCard(
				fmt.Sprintf("New edges per hour (%s total)", cli.FormatNumber(last.EdgesFound)),
				components.BarChart(edges, components.CardInnerWidth(w), chartH-2), w)
		}
		crashCard := func(w int) string {
			return components.ContentCard(
				fmt.Sprintf("New crashes per hour (%s total)", cli.FormatNumber(last.SavedCrashes)),
				components.BarChart(crashes, components.CardInnerWidth(w), chartH-2), w)
		}

		if a.isCompactLayout() {
			b.WriteString(edgeCard(cw))
			b.WriteString("\n")
			b.WriteString(crashCard(cw))
		} else {
			halves := components.LayoutRow(cw, 2)
			b.WriteString(components.CardRow([]string{edgeCard(halves[0]), crashCard(halves[1])}))
		}
		b.WriteString("\n")
	}

	b.WriteString(components.ContentCard("Recommendations", a.renderAdvice(components.CardInnerWidth(cw)), cw))
	return b.String()
}

func (a App) renderAdvice(innerW int) string {
	t := theme.Active
	warnStyle := lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface).Bold(true)
	textStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	mutedStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	linkStyle := lipgloss.NewStyle().Foreground(t.Blue).Background(t.Surface).Underline(true)

	if len(a.advice) == 0 {
		return mutedStyle.Render("Nothing to flag. Workers are running within the configured thresholds.")
	}

	var b strings.Builder
	for _, adv := range a.advice {
		fmt.Fprintf(&b, "%s %s %s\n",
			warnStyle.Render("!"),
			mutedStyle.Render(adv.Worker+":"),
			textStyle.Render(truncStr(adv.Message, innerW-len(adv.Worker)-4)))
		if adv.Link != "" {
			b.WriteString("  ")
			b.WriteString(linkStyle.Render(adv.Link))
			b.WriteString("\n")
		}
	}
	return b.String()
}
