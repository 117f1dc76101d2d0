package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/components"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"
)

// sinceLastRun describes how a counter moved since the previous session's
// snapshot of the same workers.
func (a App) sinceLastRun(field func(model.WorkerStats) int64) string {
	if len(a.previous) == 0 {
		return ""
	}
	var delta int64
	for _, s := range a.stats {
		prev, ok := a.previous[s.Worker]
		if !ok {
			continue
		}
		delta += field(s) - field(prev.WorkerStats)
	}
	if d := cli.FormatDelta(delta); d != "" {
		return d + " since last run"
	}
	return ""
}

func (a App) renderDashboardTab(cw int) string {
	t := theme.Active
	totals := pipeline.ComputeTotals(a.stats)
	var b strings.Builder

	// Row 1: Metric cards
	cards := []components.Metric{
		{Label: "Workers", Value: cli.FormatNumber(int64(totals.Workers)), Delta: cli.FormatRate(totals.ExecsPerSec)},
		{
			Label: "Executions",
			Value: cli.FormatCount(totals.ExecsDone),
			Delta: a.sinceLastRun(func(s model.WorkerStats) int64 { return s.ExecsDone }),
		},
		{
			Label: "Crashes",
			Value: cli.FormatNumber(totals.SavedCrashes),
			Delta: a.sinceLastRun(func(s model.WorkerStats) int64 { return s.SavedCrashes }),
			Alert: totals.SavedCrashes > 0,
		},
		{
			Label: "Hangs",
			Value: cli.FormatNumber(totals.SavedHangs),
			Delta: a.sinceLastRun(func(s model.WorkerStats) int64 { return s.SavedHangs }),
		},
		{
			Label: "Corpus",
			Value: cli.FormatNumber(totals.CorpusCount),
			Delta: a.sinceLastRun(func(s model.WorkerStats) int64 { return s.CorpusCount }),
		},
		{Label: "Best coverage", Value: cli.FormatPercent(totals.MaxCoverage)},
	}
	b.WriteString(components.MetricCardRow(cards, cw))
	b.WriteString("\n")

	if changes := a.renderSourceChanges(components.CardInnerWidth(cw)); changes != "" {
		b.WriteString(components.ContentCard("Source changes", changes, cw))
		b.WriteString("\n")
	}

	// Row 2: Coverage bars + edges over time
	halves := components.LayoutRow(cw, 2)
	covInner := components.CardInnerWidth(halves[0])
	nameW := 12
	for _, s := range a.stats {
		nameW = max(nameW, len(s.Worker))
	}
	nameW = min(nameW, covInner/3)
	barW := max(covInner-nameW-30, 8)

	var covBody strings.Builder
	for _, s := range a.stats {
		note := fmt.Sprintf("%s/%s edges", cli.FormatCount(s.EdgesFound), cli.FormatCount(s.TotalEdges))
		covBody.WriteString(components.MeterBar(truncStr(s.Worker, nameW), s.Coverage/100, t.Coverage(), note, nameW, barW))
		covBody.WriteString("\n")
	}

	sparkInner := components.CardInnerWidth(halves[1])
	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	valueStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	var edgeBody strings.Builder
	for _, s := range a.stats {
		series := a.campaign.Plot[s.Worker].Column("edges_found")
		last := ""
		if len(series) > 0 {
			last = cli.FormatNumber(int64(series[len(series)-1]))
		}
		sparkW := max(sparkInner-nameW-10, 8)
		fmt.Fprintf(&edgeBody, "%s %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-*s", nameW, truncStr(s.Worker, nameW))),
			components.Sparkline(series, t.Coverage(), sparkW),
			valueStyle.Render(last))
	}

	covCard := components.ContentCard("Coverage", covBody.String(), halves[0])
	edgeCard := components.ContentCard("Edges over time", edgeBody.String(), halves[1])
	if a.isCompactLayout() {
		b.WriteString(components.ContentCard("Coverage", covBody.String(), cw))
		b.WriteString("\n")
		b.WriteString(components.ContentCard("Edges over time", edgeBody.String(), cw))
	} else {
		b.WriteString(components.CardRow([]string{covCard, edgeCard}))
	}
	b.WriteString("\n")

	// Row 3: Worker table
	b.WriteString(components.ContentCard("Workers", a.renderWorkerTable(components.CardInnerWidth(cw)), cw))
	return b.String()
}

// renderSourceChanges lists resets and refresh warnings, or "" when there are none.
func (a App) renderSourceChanges(innerW int) string {
	if a.campaign == nil || len(a.resets)+len(a.campaign.Warnings) == 0 {
		return ""
	}
	t := theme.Active
	resetStyle := lipgloss.NewStyle().Foreground(t.Cyan).Background(t.Surface)
	warnStyle := lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface)

	var b strings.Builder
	for _, r := range a.resets {
		b.WriteString(resetStyle.Render(truncStr("↻ "+r, innerW)))
		b.WriteString("\n")
	}
	for _, w := range a.campaign.Warnings {
		b.WriteString(warnStyle.Render(truncStr("! "+w, innerW)))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (a App) renderWorkerTable(innerW int) string {
	t := theme.Active
	headerStyle := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	rowStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	selStyle := rowStyle.Background(t.SurfaceHover).Bold(true)

	cols := []struct {
		title string
		width int
	}{
		{"Worker", 16}, {"Run time", 10}, {"Cycles", 8}, {"Corpus", 9}, {"Pending", 9},
		{"Crashes", 8}, {"Hangs", 7}, {"Stability", 10}, {"Speed", 10},
	}
	used := 0
	for _, c := range cols {
		used += c.width + 1
	}
	if extra := innerW - used; extra > 0 {
		cols[0].width += extra
	}

	var b strings.Builder
	for i, c := range cols {
		if i == 0 {
			b.WriteString(headerStyle.Render(fmt.Sprintf("%-*s ", c.width, c.title)))
		} else {
			b.WriteString(headerStyle.Render(fmt.Sprintf("%*s ", c.width, c.title)))
		}
	}
	b.WriteString("\n")

	for _, s := range a.stats {
		style := rowStyle
		if s.Worker == a.worker {
			style = selStyle
		}
		stab := lipgloss.NewStyle().Foreground(components.ColorForStability(s.Stability)).Background(t.Surface)
		crash := style
		if s.SavedCrashes > 0 {
			crash = style.Foreground(t.Crash())
		}
		b.WriteString(style.Render(fmt.Sprintf("%-*s ", cols[0].width, truncStr(s.Worker, cols[0].width))))
		b.WriteString(style.Render(fmt.Sprintf("%*s ", cols[1].width, cli.FormatRunTime(s.RunTimeSecs))))
		b.WriteString(style.Render(fmt.Sprintf("%*d ", cols[2].width, s.CyclesDone)))
		b.WriteString(style.Render(fmt.Sprintf("%*s ", cols[3].width, cli.FormatNumber(s.CorpusCount))))
		b.WriteString(style.Render(fmt.Sprintf("%*s ", cols[4].width, cli.FormatNumber(s.PendingTotal))))
		b.WriteString(crash.Render(fmt.Sprintf("%*s ", cols[5].width, cli.FormatNumber(s.SavedCrashes))))
		b.WriteString(style.Render(fmt.Sprintf("%*s ", cols[6].width, cli.FormatNumber(s.SavedHangs))))
		b.WriteString(stab.Render(fmt.Sprintf("%*s ", cols[7].width, cli.FormatPercent(s.Stability))))
		b.WriteString(style.Render(fmt.Sprintf("%*s ", cols[8].width, cli.FormatRate(s.ExecsPerSec))))
		b.WriteString("\n")
	}
	return b.String()
}
