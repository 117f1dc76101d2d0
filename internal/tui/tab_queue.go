package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/components"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"
)

// queueSeries are the plot_data columns charted on the queue tab.
var queueSeries = []struct {
	column string
	label  string
}{
	{"corpus_count", "Corpus"},
	{"pending_total", "Pending"},
	{"pending_favs", "Pending favs"},
	{"cur_item", "Current item"},
}

func (a App) renderQueueTab(cw int) string {
	t := theme.Active
	ws, ok := a.selectedStats()
	if !ok {
		return components.ContentCard("Queue", "No worker selected", cw)
	}
	var b strings.Builder

	cards := []components.Metric{
		{Label: "Corpus", Value: cli.FormatNumber(ws.CorpusCount), Delta: fmt.Sprintf("%s found", cli.FormatNumber(ws.CorpusFound))},
		{Label: "Favored", Value: cli.FormatNumber(ws.CorpusFavored)},
		{Label: "Pending", Value: cli.FormatNumber(ws.PendingTotal), Delta: fmt.Sprintf("%s favored", cli.FormatNumber(ws.PendingFavs))},
		{Label: "Current item", Value: cli.FormatNumber(ws.CurItem), Delta: fmt.Sprintf("depth %d", ws.MaxDepth)},
	}
	b.WriteString(components.MetricCardRow(cards, cw))
	b.WriteString("\n")

	inner := components.CardInnerWidth(cw)
	labelW := 14

	var progress strings.Builder
	if ws.CorpusFavored > 0 {
		done := 1 - float64(ws.PendingFavs)/float64(ws.CorpusFavored)
		progress.WriteString(components.MeterBar("Favs done", done,
			components.ColorForPending(1-done),
			fmt.Sprintf("%d of %d favored entries fuzzed", ws.CorpusFavored-ws.PendingFavs, ws.CorpusFavored),
			labelW, max(inner-labelW-40, 10)))
		progress.WriteString("\n")
	}
	if ws.CorpusCount > 0 {
		done := 1 - float64(ws.PendingTotal)/float64(ws.CorpusCount)
		progress.WriteString(components.MeterBar("Corpus done", done, t.Accent,
			fmt.Sprintf("cycle %d, %d without finds", ws.CyclesDone, ws.CyclesWoFinds),
			labelW, max(inner-labelW-40, 10)))
		progress.WriteString("\n")
	}

	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	valueStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	plot := a.campaign.Plot[ws.Worker]
	sparkW := max(inner-labelW-14, 10)
	for _, s := range queueSeries {
		series := plot.Column(s.column)
		last := ""
		if len(series) > 0 {
			last = cli.FormatNumber(int64(series[len(series)-1]))
		}
		fmt.Fprintf(&progress, "%s %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-*s", labelW, s.label)),
			components.Sparkline(series, t.Accent, sparkW),
			valueStyle.Render(last))
	}
	b.WriteString(components.ContentCard(fmt.Sprintf("Queue progress · %s", ws.Worker), progress.String(), cw))
	b.WriteString("\n")

	entries := pipeline.CurrentQueueEntries([]model.WorkerStats{ws}, a.campaign.Queue)
	b.WriteString(components.ContentCard(
		fmt.Sprintf("Fuzzing now · id %d", ws.CurItem),
		renderQueueEntries(entries, inner),
		cw,
	))
	return b.String()
}

// renderQueueEntries lists matched queue_data rows with their extra columns.
func renderQueueEntries(entries []model.QueueEntry, innerW int) string {
	t := theme.Active
	mutedStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	nameStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface).Bold(true)
	keyStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	if len(entries) == 0 {
		return mutedStyle.Render("No queue_data row matches the current item yet.")
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(nameStyle.Render(truncStr(e.Filename, innerW)))
		b.WriteString("\n")

		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			if k != "filename" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		var line strings.Builder
		for _, k := range keys {
			part := fmt.Sprintf("%s=%s  ", k, e.Fields[k])
			if line.Len()+len(part) > innerW {
				b.WriteString(keyStyle.Render(line.String()))
				b.WriteString("\n")
				line.Reset()
			}
			line.WriteString(part)
		}
		if line.Len() > 0 {
			b.WriteString(keyStyle.Render(line.String()))
			b.WriteString("\n")
		}
	}
	return b.String()
}
