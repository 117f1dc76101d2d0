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

var densityShades = []rune{'·', '░', '▒', '▓', '█'}

// densityShade maps a cell's set-bit fraction to a shade. Any set bit shows.
func densityShade(frac float64) rune {
	idx := int(frac * float64(len(densityShades)-1))
	if frac > 0 && idx == 0 {
		idx = 1
	}
	return densityShades[max(0, min(idx, len(densityShades)-1))]
}

func (a App) selectedBitmap() (model.BitmapStats, bool) {
	if a.campaign == nil {
		return model.BitmapStats{}, false
	}
	for _, bm := range a.campaign.Bitmaps {
		if bm.Worker == a.worker {
			return bm, true
		}
	}
	return model.BitmapStats{}, false
}

func (a App) renderBitmapTab(cw int) string {
	t := theme.Active
	bm, ok := a.selectedBitmap()
	if !ok {
		return components.ContentCard("Bitmap · "+a.worker,
			lipgloss.NewStyle().Foreground(t.TextMuted).Render("No fuzz_bitmap in this worker's directory."), cw)
	}

	var b strings.Builder
	cards := []components.Metric{
		{Label: "Map size", Value: cli.FormatCount(int64(bm.Bytes)) + " bytes"},
		{Label: "Bits set", Value: cli.FormatNumber(int64(bm.SetBits))},
		{Label: "Density", Value: cli.FormatPercent(bm.Density)},
	}
	if ws, ok := a.selectedStats(); ok {
		cards = append(cards, components.Metric{Label: "Bitmap coverage", Value: cli.FormatPercent(ws.BitmapCvg)})
	}
	b.WriteString(components.MetricCardRow(cards, cw))
	b.WriteString("\n")

	cellStyle := lipgloss.NewStyle().Foreground(t.Coverage()).Background(t.Surface)
	emptyStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	// Each cell is drawn two columns wide so the grid looks square.
	var grid strings.Builder
	for _, row := range bm.Grid {
		for _, frac := range row {
			cell := strings.Repeat(string(densityShade(frac)), 2)
			if frac == 0 {
				grid.WriteString(emptyStyle.Render(cell))
			} else {
				grid.WriteString(cellStyle.Render(cell))
			}
		}
		grid.WriteString("\n")
	}
	legend := emptyStyle.Render(fmt.Sprintf("each cell covers %s bytes of the map",
		cli.FormatNumber(int64(bm.Bytes/max(bm.Side*bm.Side, 1)))))
	grid.WriteString(legend)

	b.WriteString(components.ContentCard(fmt.Sprintf("Coverage density · %s", bm.Worker), grid.String(), cw))
	return b.String()
}
