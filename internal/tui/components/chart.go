package components

import (
	"fmt"
	"math"
	"strings"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders a unicode sparkline scaled between the series minimum
// and maximum. Cumulative counters such as edges_found would otherwise sit
// flat at the top. Series wider than width keep the last value per bucket.
func Sparkline(values []float64, color lipgloss.Color, width int) string {
	if len(values) == 0 {
		return ""
	}
	t := theme.Active

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

	style := lipgloss.NewStyle().Foreground(color).Background(t.Surface)

	var buf strings.Builder
	buf.Grow(len(values) * 3)
	for _, v := range values {
		idx := int((v - lo) / span * float64(len(sparkBlocks)-1))
		idx = max(0, min(idx, len(sparkBlocks)-1))
		buf.WriteRune(sparkBlocks[idx])
	}

	return style.Render(buf.String())
}

// BarSeries is one chart's data. Labels, when set, has one entry per value.
type BarSeries struct {
	Values []float64
	Labels []string
	Color  lipgloss.Color
}

// barScale maps values onto chart rows.
type barScale struct {
	ceiling     float64
	step        float64
	intervals   int
	rowsPerTick int
}

func (s barScale) rows() int { return s.rowsPerTick * s.intervals }

// newBarScale picks a tick step so that at most height/2 ticks are drawn.
func newBarScale(maxVal float64, height int) barScale {
	if maxVal <= 0 {
		maxVal = 1
	}
	step := chartTickStep(maxVal)
	maxIntervals := max(height/2, 2)
	for int(math.Ceil(maxVal/step)) > maxIntervals {
		step *= 2
	}
	ceiling := math.Ceil(maxVal/step) * step
	intervals := max(int(math.Round(ceiling/step)), 1)
	return barScale{
		ceiling:     ceiling,
		step:        step,
		intervals:   intervals,
		rowsPerTick: max(height/intervals, 2),
	}
}

// fitBars resamples the series when the bars would be narrower than two
// columns, and returns the bar width.
func fitBars(s BarSeries, chartW int) (BarSeries, int) {
	n := len(s.Values)
	if n == 1 {
		return s, min(chartW, 6)
	}
	barW := (chartW - (n - 1)) / n
	if barW >= 2 {
		return s, min(barW, 6)
	}

	keep := max((chartW+1)/3, 2)
	out := BarSeries{Values: make([]float64, keep), Color: s.Color}
	if len(s.Labels) == n {
		out.Labels = make([]string, keep)
	}
	for i := range out.Values {
		src := i * (n - 1) / (keep - 1)
		out.Values[i] = s.Values[src]
		if out.Labels != nil {
			out.Labels[i] = s.Labels[src]
		}
	}
	return out, 2
}

var barBlocks = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// barCell returns the glyph for a bar of value v in the row spanning
// (bottom, top].
func barCell(v, bottom, top float64) rune {
	switch {
	case v >= top:
		return barBlocks[8]
	case v > bottom:
		idx := int((v - bottom) / (top - bottom) * 8)
		return barBlocks[max(1, min(idx, 8))]
	default:
		return ' '
	}
}

// BarChart renders a bar chart with a labelled y axis. Areas too small for
// axes fall back to a sparkline.
func BarChart(s BarSeries, width, height int) string {
	if len(s.Values) == 0 {
		return ""
	}
	if width < 15 || height < 3 {
		return Sparkline(s.Values, s.Color, width)
	}

	t := theme.Active
	maxVal := 0.0
	for _, v := range s.Values {
		maxVal = max(maxVal, v)
	}
	scale := newBarScale(maxVal, height)

	yLabelW := max(len(formatChartLabel(scale.ceiling))+1, 4)
	s, barW := fitBars(s, max(width-yLabelW-1, 5))
	n := len(s.Values)
	gap := 0
	if n > 1 {
		gap = 1
	}
	axisLen := n*barW + (n-1)*gap

	axisStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	fill := lipgloss.NewStyle().Background(t.Surface)
	chartH := scale.rows()

	var b strings.Builder
	for row := chartH; row >= 1; row-- {
		top := scale.ceiling * float64(row) / float64(chartH)
		bottom := scale.ceiling * float64(row-1) / float64(chartH)

		// The upper fifth of the chart is drawn brighter.
		barColor := s.Color
		if float64(row)/float64(chartH) > 0.8 {
			barColor = t.AccentBright
		}
		barStyle := lipgloss.NewStyle().Foreground(barColor).Background(t.Surface)

		label := ""
		if row%scale.rowsPerTick == 0 {
			label = formatChartLabel(scale.step * float64(row/scale.rowsPerTick))
		}
		b.WriteString(axisStyle.Render(fmt.Sprintf("%*s│", yLabelW, label)))

		for i, v := range s.Values {
			if i > 0 && gap > 0 {
				b.WriteString(fill.Render(strings.Repeat(" ", gap)))
			}
			b.WriteString(barStyle.Render(strings.Repeat(string(barCell(v, bottom, top)), barW)))
		}
		b.WriteString("\n")
	}

	b.WriteString(axisStyle.Render(fmt.Sprintf("%*s└%s", yLabelW, "0", strings.Repeat("─", axisLen))))

	if len(s.Labels) == n {
		buf := placeAxisLabels(s.Labels, axisLen, barW, gap)
		b.WriteString("\n")
		b.WriteString(fill.Render(strings.Repeat(" ", yLabelW+1)))
		b.WriteString(axisStyle.Render(strings.TrimRight(string(buf), " ")))
	}

	return b.String()
}

// chartTickStep computes a nice tick interval targeting ~5 ticks.
func chartTickStep(maxVal float64) float64 {
	if maxVal <= 0 {
		return 1
	}
	rough := maxVal / 5
	exp := math.Floor(math.Log10(rough))
	base := math.Pow(10, exp)
	frac := rough / base

	switch {
	case frac < 1.5:
		return base
	case frac < 3.5:
		return 2 * base
	default:
		return 5 * base
	}
}

func formatChartLabel(v float64) string {
	switch {
	case v >= 1e9:
		if v == math.Trunc(v/1e9)*1e9 {
			return fmt.Sprintf("%.0fB", v/1e9)
		}
		return fmt.Sprintf("%.1fB", v/1e9)
	case v >= 1e6:
		if v == math.Trunc(v/1e6)*1e6 {
			return fmt.Sprintf("%.0fM", v/1e6)
		}
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		if v == math.Trunc(v/1e3)*1e3 {
			return fmt.Sprintf("%.0fk", v/1e3)
		}
		return fmt.Sprintf("%.1fk", v/1e3)
	case v >= 1:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// placeAxisLabels lays labels under their bars without overlap. The last
// label is always shown when it fits.
func placeAxisLabels(labels []string, axisLen, barW, gap int) []byte {
	n := len(labels)
	buf := make([]byte, axisLen)
	for i := range buf {
		buf[i] = ' '
	}

	minSpacing := 8
	labelStep := max(1, (n*minSpacing)/(axisLen+1))

	lastEnd := -1
	for i := 0; i < n; i += labelStep {
		pos := i * (barW + gap)
		lbl := labels[i]
		end := pos + len(lbl)
		if pos <= lastEnd {
			continue
		}
		if end > axisLen {
			end = axisLen
			if end-pos < 3 {
				continue
			}
			lbl = lbl[:end-pos]
		}
		copy(buf[pos:end], lbl)
		lastEnd = end + 1
	}
	if n > 1 {
		lbl := labels[n-1]
		pos := (n - 1) * (barW + gap)
		end := pos + len(lbl)
		if end > axisLen {
			pos = axisLen - len(lbl)
			end = axisLen
		}
		if pos >= 0 && pos > lastEnd {
			for j := pos; j < end; j++ {
				buf[j] = ' '
			}
			copy(buf[pos:end], lbl)
		}
	}
	return buf
}
