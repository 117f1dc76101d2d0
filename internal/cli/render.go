package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
)

// Theme colors (Flexoki Dark)
var (
	ColorBg        = lipgloss.Color("#100F0F")
	ColorSurface   = lipgloss.Color("#1C1B1A")
	ColorBorder    = lipgloss.Color("#282726")
	ColorTextDim   = lipgloss.Color("#575653")
	ColorTextMuted = lipgloss.Color("#6F6E69")
	ColorText      = lipgloss.Color("#FFFCF0")
	ColorAccent    = lipgloss.Color("#3AA99F")
	ColorGreen     = lipgloss.Color("#879A39")
	ColorOrange    = lipgloss.Color("#DA702C")
	ColorRed       = lipgloss.Color("#D14D41")
	ColorBlue      = lipgloss.Color("#4385BE")
	ColorPurple    = lipgloss.Color("#8B7EC8")
	ColorYellow    = lipgloss.Color("#D0A215")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText).
			Align(lipgloss.Center)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	valueStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	mutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	crashStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	linkStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Underline(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(ColorOrange)

	dimStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)
)

// SeparatorRow is a table row rendered as a horizontal rule.
const SeparatorRow = "---"

// Table represents a bordered text table for CLI output.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
	Widths  []int // optional column widths, auto-calculated if nil
	// LeftCols is the number of leading columns aligned left; the rest are
	// right-aligned. Zero means one.
	LeftCols int
}

// RenderTitle renders a centered title bar in a bordered box.
func RenderTitle(title string) string {
	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Width(60).
		Align(lipgloss.Center).
		Padding(0, 1)

	return border.Render(titleStyle.Render(title))
}

func (t Table) columnWidths(numCols int) []int {
	widths := make([]int, numCols)
	if t.Widths != nil {
		copy(widths, t.Widths)
		return widths
	}
	for i, h := range t.Headers {
		widths[i] = max(widths[i], lipgloss.Width(h))
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < numCols {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}
	return widths
}

func rule(b *strings.Builder, widths []int, left, mid, right string) {
	b.WriteString(dimStyle.Render(left))
	for i, w := range widths {
		b.WriteString(dimStyle.Render(strings.Repeat("─", w+2)))
		if i < len(widths)-1 {
			b.WriteString(dimStyle.Render(mid))
		}
	}
	b.WriteString(dimStyle.Render(right))
	b.WriteString("\n")
}

func pad(cell string, w int, left bool) string {
	gap := w - lipgloss.Width(cell)
	if gap < 0 {
		gap = 0
	}
	if left {
		return " " + cell + strings.Repeat(" ", gap) + " "
	}
	return " " + strings.Repeat(" ", gap) + cell + " "
}

// RenderTable renders a bordered table with headers and rows.
func RenderTable(t Table) string {
	if len(t.Rows) == 0 && len(t.Headers) == 0 {
		return ""
	}

	numCols := len(t.Headers)
	if numCols == 0 && len(t.Rows) > 0 {
		numCols = len(t.Rows[0])
	}
	leftCols := t.LeftCols
	if leftCols <= 0 {
		leftCols = 1
	}
	widths := t.columnWidths(numCols)

	var b strings.Builder
	if t.Title != "" {
		b.WriteString("  ")
		b.WriteString(headerStyle.Render(t.Title))
		b.WriteString("\n")
	}

	rule(&b, widths, "╭", "┬", "╮")

	if len(t.Headers) > 0 {
		b.WriteString(dimStyle.Render("│"))
		for i, h := range t.Headers {
			b.WriteString(headerStyle.Render(pad(h, widths[i], true)))
			if i < numCols-1 {
				b.WriteString(dimStyle.Render("│"))
			}
		}
		b.WriteString(dimStyle.Render("│"))
		b.WriteString("\n")
		rule(&b, widths, "├", "┼", "┤")
	}

	for _, row := range t.Rows {
		if len(row) == 1 && row[0] == SeparatorRow {
			rule(&b, widths, "├", "┼", "┤")
			continue
		}

		b.WriteString(dimStyle.Render("│"))
		for i := 0; i < numCols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(valueStyle.Render(pad(cell, widths[i], i < leftCols)))
			if i < numCols-1 {
				b.WriteString(dimStyle.Render("│"))
			}
		}
		b.WriteString(dimStyle.Render("│"))
		b.WriteString("\n")
	}

	rule(&b, widths, "╰", "┴", "╯")
	return b.String()
}

// RenderProgressBar renders a simple text progress bar.
func RenderProgressBar(current, total int, width int) string {
	if total <= 0 {
		return ""
	}

	pct := float64(current) / float64(total)
	if pct > 1 {
		pct = 1
	}

	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("[%s] %d/%d files", mutedStyle.Render(bar), current, total)
}

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// RenderSparkline generates a unicode block sparkline from a series of values.
// Series longer than width are downsampled by taking the last value of each
// bucket, which suits cumulative counters. A width of zero disables this.
func RenderSparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}
	if width > 0 && len(values) > width {
		sampled := make([]float64, width)
		for i := range sampled {
			sampled[i] = values[(i+1)*len(values)/width-1]
		}
		values = sampled
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	var b strings.Builder
	for _, v := range values {
		idx := int((v - lo) / span * float64(len(sparkBlocks)-1))
		idx = max(0, min(idx, len(sparkBlocks)-1))
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

var densityShades = []rune{' ', '░', '▒', '▓', '█'}

// RenderBitmapGrid draws a coverage density grid with one shade per cell.
func RenderBitmapGrid(bm model.BitmapStats) string {
	if bm.Side == 0 || len(bm.Grid) == 0 {
		return mutedStyle.Render("  (empty bitmap)")
	}

	var b strings.Builder
	b.WriteString(dimStyle.Render("  ╭" + strings.Repeat("──", bm.Side) + "╮"))
	b.WriteString("\n")
	for y := 0; y < bm.Side; y++ {
		b.WriteString(dimStyle.Render("  │"))
		var line strings.Builder
		for x := 0; x < bm.Side; x++ {
			d := 0.0
			if y < len(bm.Grid) && x < len(bm.Grid[y]) {
				d = bm.Grid[y][x]
			}
			idx := int(d * float64(len(densityShades)-1))
			if d > 0 && idx == 0 {
				idx = 1
			}
			idx = min(idx, len(densityShades)-1)
			r := densityShades[idx]
			line.WriteRune(r)
			line.WriteRune(r)
		}
		b.WriteString(headerStyle.Render(line.String()))
		b.WriteString(dimStyle.Render("│"))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("  ╰" + strings.Repeat("──", bm.Side) + "╯"))
	b.WriteString("\n")
	return b.String()
}

// RenderAdvice renders recommendation lines, one per advice entry.
func RenderAdvice(advice []model.Advice) string {
	if len(advice) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(warnStyle.Render("Recommendations"))
	b.WriteString("\n")
	for _, a := range advice {
		fmt.Fprintf(&b, "  %s %s %s\n", warnStyle.Render("!"), mutedStyle.Render(a.Worker+":"), a.Message)
		if a.Link != "" {
			fmt.Fprintf(&b, "      %s\n", linkStyle.Render(a.Link))
		}
	}
	return b.String()
}

// RenderCrashCount renders a crash or hang counter, highlighted when non-zero.
func RenderCrashCount(n int64) string {
	s := FormatNumber(n)
	if n > 0 {
		return crashStyle.Render(s)
	}
	return s
}

// RenderWarnings renders load warnings in a muted block.
func RenderWarnings(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	var b strings.Builder
	for _, w := range warnings {
		fmt.Fprintf(&b, "  %s %s\n", warnStyle.Render("warning:"), mutedStyle.Render(w))
	}
	return b.String()
}
