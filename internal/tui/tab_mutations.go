package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/components"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"
)

// Mutation view modes; split is the zero value so it's the default.
const (
	mutViewSplit  = iota // list + detail side by side
	mutViewDetail        // full-width detail
)

// maxLineage bounds the parent walk in case of a cycle in the log.
const maxLineage = 32

// mutationsState holds the mutations tab state.
type mutationsState struct {
	cursor       int
	offset       int // scroll offset for the list
	viewMode     int
	detailScroll int

	searching   bool
	searchInput textinput.Model
	searchQuery string
}

func (s *mutationsState) moveCursor(delta, n int) {
	s.cursor = max(0, min(s.cursor+delta, n-1))
	s.detailScroll = 0
}

func newSearchInput() textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "result, seed or mutation…"
	ti.CharLimit = 128
	ti.Width = 40
	ti.Prompt = "/ "
	return ti
}

// filteredMutations returns the mutations of the filtered workers that
// match the current search query.
func (a App) filteredMutations() []model.Mutation {
	if a.campaign == nil {
		return nil
	}
	allowed := make(map[string]bool, len(a.stats))
	for _, s := range a.stats {
		allowed[s.Worker] = true
	}
	var muts []model.Mutation
	for _, m := range a.campaign.Mutations {
		if allowed[m.Worker] {
			muts = append(muts, m)
		}
	}
	return pipeline.SearchMutations(muts, a.mutState.searchQuery)
}

// lineage walks from m back through the records that produced its seed.
// The first element is m itself.
func lineage(all []model.Mutation, m model.Mutation) []model.Mutation {
	chain := []model.Mutation{m}
	seen := map[string]bool{m.Result: true}
	for len(chain) < maxLineage {
		parent, ok := pipeline.FindMutation(all, chain[len(chain)-1].Original)
		if !ok || seen[parent.Result] {
			break
		}
		seen[parent.Result] = true
		chain = append(chain, parent)
	}
	return chain
}

// queueNameFields splits an AFL++ queue file name such as
// "id:000012,src:000003,time:1042,execs:5531,op:havoc,rep:4,+cov" into
// key/value pairs. Flags without a value are returned with an empty value.
func queueNameFields(name string) [][2]string {
	var out [][2]string
	for _, part := range strings.Split(name, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, ":")
		out = append(out, [2]string{k, v})
	}
	return out
}

func (a App) updateMutationsKey(key string) (tea.Model, tea.Cmd, bool) {
	muts := a.filteredMutations()
	compact := a.isCompactLayout()

	switch key {
	case "/":
		a.mutState.searching = true
		a.mutState.searchInput = newSearchInput()
		a.mutState.searchInput.SetValue(a.mutState.searchQuery)
		return a, tea.Batch(a.mutState.searchInput.Focus(), textinput.Blink), true
	case "q":
		if !compact && a.mutState.viewMode == mutViewDetail {
			a.mutState.viewMode = mutViewSplit
			return a, nil, true
		}
		return a, tea.Quit, true
	case "enter", "f":
		if !compact && a.mutState.viewMode == mutViewSplit {
			a.mutState.viewMode = mutViewDetail
		}
		return a, nil, true
	case "esc":
		if a.mutState.searchQuery != "" {
			a.mutState.searchQuery = ""
			a.mutState.cursor = 0
			a.mutState.offset = 0
			return a, nil, true
		}
		a.mutState.viewMode = mutViewSplit
		return a, nil, true
	case "j", "down":
		a.mutState.moveCursor(1, len(muts))
		return a, nil, true
	case "k", "up":
		a.mutState.moveCursor(-1, len(muts))
		return a, nil, true
	case "g":
		a.mutState.cursor = 0
		a.mutState.offset = 0
		a.mutState.detailScroll = 0
		return a, nil, true
	case "G":
		a.mutState.cursor = max(len(muts)-1, 0)
		a.mutState.detailScroll = 0
		return a, nil, true
	case "J":
		a.mutState.detailScroll++
		return a, nil, true
	case "K":
		a.mutState.detailScroll = max(a.mutState.detailScroll-1, 0)
		return a, nil, true
	case "ctrl+d":
		a.mutState.moveCursor(max((a.height-scrollOverhead)/2, minHalfPageScroll), len(muts))
		return a, nil, true
	case "ctrl+u":
		a.mutState.moveCursor(-max((a.height-scrollOverhead)/2, minHalfPageScroll), len(muts))
		return a, nil, true
	}
	return a, nil, false
}

// updateMutationsSearch handles key events while in search mode.
func (a App) updateMutationsSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		a.mutState.searchQuery = strings.TrimSpace(a.mutState.searchInput.Value())
		a.mutState.searching = false
		a.mutState.cursor = 0
		a.mutState.offset = 0
		a.mutState.detailScroll = 0
		return a, nil
	case "esc":
		a.mutState.searching = false
		return a, nil
	}

	var cmd tea.Cmd
	a.mutState.searchInput, cmd = a.mutState.searchInput.Update(msg)
	return a, cmd
}

func (a App) renderMutationsTab(cw, h int) string {
	t := theme.Active
	muts := a.filteredMutations()

	var header string
	switch {
	case a.mutState.searching:
		header = a.mutState.searchInput.View() + "\n"
	case a.mutState.searchQuery != "":
		header = lipgloss.NewStyle().Foreground(t.TextMuted).Render(
			fmt.Sprintf("filter %q · %d matches · [esc] clear", a.mutState.searchQuery, len(muts))) + "\n"
	}
	if header != "" {
		h -= lipgloss.Height(header)
	}

	if len(muts) == 0 {
		msg := "No introspection QUEUE records yet. Build the target with AFL++ introspection enabled."
		if a.mutState.searchQuery != "" {
			msg = "No mutation matches the search."
		}
		return header + components.ContentCard("Mutations",
			lipgloss.NewStyle().Foreground(t.TextMuted).Render(msg), cw)
	}

	if a.mutState.viewMode == mutViewDetail || a.isCompactLayout() {
		sel := muts[min(a.mutState.cursor, len(muts)-1)]
		return header + components.ContentCard(mutationTitle(sel), a.renderMutationDetail(sel, cw), cw)
	}
	return header + a.renderMutationsSplit(muts, cw, h)
}

func mutationTitle(m model.Mutation) string {
	return fmt.Sprintf("%s #%d", m.Worker, m.Index)
}

func (a App) renderMutationsSplit(muts []model.Mutation, cw, h int) string {
	t := theme.Active
	ms := a.mutState
	if ms.cursor >= len(muts) {
		return ""
	}

	leftW := max(cw*2/5, 36)
	rightW := cw - leftW
	leftInner := components.CardInnerWidth(leftW)

	rowStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	selectedStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.SurfaceHover).Bold(true)
	opStyle := lipgloss.NewStyle().Foreground(t.Magenta).Background(t.Surface)

	visible := max(h-4, 5) // card border (2) + title (1) + footer (1)
	offset := ms.offset
	if ms.cursor < offset {
		offset = ms.cursor
	}
	if ms.cursor >= offset+visible {
		offset = ms.cursor - visible + 1
	}
	end := min(offset+visible, len(muts))

	var left strings.Builder
	for i := offset; i < end; i++ {
		m := muts[i]
		op := truncStr(m.Mutation, 10)
		line := fmt.Sprintf("%-10s %s", op, truncStr(m.Result, leftInner-11))
		if i == ms.cursor {
			left.WriteString(selectedStyle.Render(fmt.Sprintf("%-*s", leftInner, line)))
		} else {
			left.WriteString(opStyle.Render(fmt.Sprintf("%-10s", op)))
			left.WriteString(rowStyle.Render(" " + truncStr(m.Result, leftInner-11)))
		}
		left.WriteString("\n")
	}

	leftCard := components.ContentCard(fmt.Sprintf("Mutations [%d/%d]", ms.cursor+1, len(muts)), left.String(), leftW)
	sel := muts[ms.cursor]
	rightCard := components.ContentCard(mutationTitle(sel), a.renderMutationDetail(sel, rightW), rightW)
	return components.CardRow([]string{leftCard, rightCard})
}

func (a App) renderMutationDetail(m model.Mutation, w int) string {
	t := theme.Active
	innerW := components.CardInnerWidth(w)

	headerStyle := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	valueStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	opStyle := lipgloss.NewStyle().Foreground(t.Magenta).Background(t.Surface).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	var body strings.Builder
	field := func(label, value string) {
		fmt.Fprintf(&body, "%s %s\n",
			labelStyle.Render(fmt.Sprintf("%-9s", label)),
			valueStyle.Render(truncStr(value, innerW-10)))
	}
	field("Seed", m.Original)
	fmt.Fprintf(&body, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-9s", "Mutation")), opStyle.Render(m.Mutation))
	field("Result", m.Result)
	body.WriteString("\n")

	if fields := queueNameFields(m.Result); len(fields) > 1 {
		body.WriteString(headerStyle.Render("RESULT ATTRIBUTES"))
		body.WriteString("\n")
		for _, kv := range fields {
			if kv[1] == "" {
				body.WriteString(valueStyle.Render("  " + kv[0]))
			} else {
				fmt.Fprintf(&body, "  %s %s", labelStyle.Render(fmt.Sprintf("%-6s", kv[0])), valueStyle.Render(kv[1]))
			}
			body.WriteString("\n")
		}
		body.WriteString("\n")
	}

	chain := lineage(a.campaign.Mutations, m)
	if len(chain) > 1 {
		body.WriteString(headerStyle.Render("LINEAGE"))
		body.WriteString("\n")
		for i := len(chain) - 1; i >= 0; i-- {
			c := chain[i]
			fmt.Fprintf(&body, "  %s %s\n", opStyle.Render(fmt.Sprintf("%-10s", truncStr(c.Mutation, 10))),
				valueStyle.Render(truncStr(c.Result, innerW-14)))
		}
		body.WriteString("\n")
	}

	body.WriteString(dimStyle.Render("[/] search  [Enter] expand  [j/k] navigate  [Esc] back"))

	// Apply detail scroll.
	lines := strings.Split(body.String(), "\n")
	scroll := min(a.mutState.detailScroll, max(len(lines)-1, 0))
	return strings.Join(lines[scroll:], "\n")
}
