// Package tui provides the interactive Bubble Tea dashboard for afldash.
package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/config"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/store"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/components"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"
)

// DataLoadedMsg is sent when the first campaign load finishes.
type DataLoadedMsg struct {
	Campaign *pipeline.Campaign
	Previous map[string]store.Snapshot
	LoadTime time.Duration
	Err      error
}

// ProgressMsg reports file loading progress.
type ProgressMsg struct {
	Current int
	Total   int
}

// RefreshDataMsg is sent when a background refresh completes.
type RefreshDataMsg struct {
	Campaign *pipeline.Campaign
	LoadTime time.Duration
	Err      error
}

// Options configures the dashboard.
type Options struct {
	OutDir       string
	WorkerFilter string
	UseCache     bool
	Config       config.Config
	Logger       *slog.Logger
}

// App is the root Bubble Tea model.
type App struct {
	// One store for the lifetime of the program. Refreshes are serialized
	// through the refreshing flag, so a source is never read concurrently.
	store *pipeline.Store
	opts  Options

	// Data
	campaign *pipeline.Campaign
	previous map[string]store.Snapshot
	loaded   bool
	loadTime time.Duration
	loadErr  error

	// Auto-refresh state
	autoRefresh     bool
	refreshInterval time.Duration
	lastRefresh     time.Time
	refreshing      bool
	message         string
	resets          []string // latest sources re-read from the start

	// Pre-computed for the current worker filter
	stats      []model.WorkerStats
	hourly     map[string][]model.HourlyStats
	advice     []model.Advice
	thresholds pipeline.AdviceThresholds

	// UI state
	width     int
	height    int
	activeTab int
	showHelp  bool
	worker    string

	mutState mutationsState

	// First-run setup (huh form)
	setupForm *huh.Form
	setupVals setupValues
	needSetup bool

	// Loading, fed by the loader goroutine
	spinner     spinner.Model
	progress    int
	progressMax int
	loadSub     chan tea.Msg
}

const (
	minTerminalWidth = 80
	compactWidth     = 120
	maxContentWidth  = 180

	scrollOverhead    = 10 // approximate header + status bar height for half-page calc
	minHalfPageScroll = 1
	minContentHeight  = 5

	minRefreshInterval = 5 * time.Second
)

// NewApp creates a new TUI app model.
func NewApp(opts Options) App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent).Background(theme.Active.Surface)

	cfg := opts.Config

	return App{
		store: pipeline.NewStore(
			pipeline.WithLogger(opts.Logger),
			pipeline.WithResetOnSchemaChange(cfg.Ingest.ResetOnSchemaChange),
		),
		opts:            opts,
		needSetup:       !config.Exists(),
		autoRefresh:     cfg.TUI.AutoRefresh,
		refreshInterval: secondsToInterval(cfg.TUI.RefreshIntervalSec),
		thresholds:      cfg.Thresholds(),
		spinner:         sp,
		loadSub:         make(chan tea.Msg, 1),
	}
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		tea.EnableMouseCellMotion,
		loadDataCmd(a.store, a.opts, a.loadSub),
		a.spinner.Tick,
		tickCmd(),
	)
}

func (a *App) recompute() {
	if a.campaign == nil {
		return
	}
	a.stats = pipeline.FilterWorkers(a.campaign.Stats, a.opts.WorkerFilter)
	a.hourly = a.campaign.Hourly()
	a.advice = pipeline.Advise(a.stats, a.hourly, a.thresholds)

	if _, ok := a.selectedStats(); !ok {
		a.worker = ""
		for _, s := range a.stats {
			if s.Worker == a.campaign.DefaultWorker() {
				a.worker = s.Worker
			}
		}
		if a.worker == "" && len(a.stats) > 0 {
			a.worker = a.stats[0].Worker
		}
	}

	muts := a.filteredMutations()
	if a.mutState.cursor >= len(muts) {
		a.mutState.cursor = len(muts) - 1
	}
	if a.mutState.cursor < 0 {
		a.mutState.cursor = 0
	}
}

func (a App) selectedStats() (model.WorkerStats, bool) {
	for _, s := range a.stats {
		if s.Worker == a.worker {
			return s, true
		}
	}
	return model.WorkerStats{}, false
}

func (a *App) cycleWorker() {
	if len(a.stats) == 0 {
		return
	}
	next := 0
	for i, s := range a.stats {
		if s.Worker == a.worker {
			next = (i + 1) % len(a.stats)
			break
		}
	}
	a.worker = a.stats[next].Worker
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if a.setupForm != nil {
			a.setupForm = a.setupForm.WithWidth(msg.Width).WithHeight(msg.Height)
		}
		return a, nil

	case tea.MouseMsg:
		if !a.loaded || a.showHelp || (a.needSetup && a.setupForm != nil) {
			return a, nil
		}
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			if a.activeTab == tabMutations && !a.mutState.searching {
				a.mutState.moveCursor(-1, len(a.filteredMutations()))
			}
		case tea.MouseButtonWheelDown:
			if a.activeTab == tabMutations && !a.mutState.searching {
				a.mutState.moveCursor(1, len(a.filteredMutations()))
			}
		case tea.MouseButtonLeft:
			if msg.Y == 0 {
				if tab := a.tabAtX(msg.X); tab >= 0 {
					a.activeTab = tab
				}
			}
		}
		return a, nil

	case tea.KeyMsg:
		return a.updateKey(msg)

	case DataLoadedMsg:
		a.loaded = true
		a.loadTime = msg.LoadTime
		a.lastRefresh = time.Now()
		a.loadErr = msg.Err
		a.campaign = msg.Campaign
		a.previous = msg.Previous
		if msg.Campaign != nil {
			a.resets = msg.Campaign.Resets
		}
		a.recompute()

		if a.needSetup {
			a.setupForm = newSetupForm(a.opts.OutDir, len(a.stats), &a.setupVals)
			if a.width > 0 {
				a.setupForm = a.setupForm.WithWidth(a.width).WithHeight(a.height)
			}
			return a, a.setupForm.Init()
		}
		return a, nil

	case ProgressMsg:
		a.progress = msg.Current
		a.progressMax = msg.Total
		return a, waitForLoadMsg(a.loadSub)

	case spinner.TickMsg:
		if !a.loaded {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			return a, cmd
		}
		return a, nil

	case tickMsg:
		cmds := []tea.Cmd{tickCmd()}
		if a.loaded && a.autoRefresh && !a.refreshing && time.Since(a.lastRefresh) >= a.refreshInterval {
			a.refreshing = true
			cmds = append(cmds, refreshDataCmd(a.store, a.opts.OutDir))
		}
		return a, tea.Batch(cmds...)

	case RefreshDataMsg:
		a.refreshing = false
		a.lastRefresh = time.Now()
		if msg.Err != nil {
			a.message = "refresh failed: " + msg.Err.Error()
			a.opts.Logger.Warn("refresh failed", slog.String("error", msg.Err.Error()))
			return a, nil
		}
		a.message = ""
		a.loadErr = nil
		a.campaign = msg.Campaign
		if n := len(msg.Campaign.Resets); n > 0 {
			a.resets = msg.Campaign.Resets
			a.message = fmt.Sprintf("%d source(s) re-read from the start", n)
		}
		a.loadTime = msg.LoadTime
		a.recompute()
		return a, nil
	}

	// Forward unhandled messages to the setup form (cursor blinks, etc.)
	if a.needSetup && a.setupForm != nil {
		return a.updateSetupForm(msg)
	}
	return a, nil
}

func (a App) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return a, tea.Quit
	}
	if !a.loaded {
		return a, nil
	}

	// First-run setup wizard intercepts all keys
	if a.needSetup && a.setupForm != nil {
		return a.updateSetupForm(msg)
	}

	// Mutation search mode intercepts all keys when active
	if a.activeTab == tabMutations && a.mutState.searching {
		return a.updateMutationsSearch(msg)
	}

	if key == "?" {
		a.showHelp = !a.showHelp
		return a, nil
	}
	if a.showHelp {
		a.showHelp = false
		return a, nil
	}

	if a.activeTab == tabMutations {
		if m, cmd, handled := a.updateMutationsKey(key); handled {
			return m, cmd
		}
	}

	switch key {
	case "q":
		return a, tea.Quit
	case "r":
		if !a.refreshing {
			a.refreshing = true
			return a, refreshDataCmd(a.store, a.opts.OutDir)
		}
		return a, nil
	case "R":
		a.autoRefresh = !a.autoRefresh
		a.persistAutoRefresh()
		return a, nil
	case "x":
		released := a.store.ReleaseHeld()
		if len(released) == 0 {
			a.message = "no held sources"
			return a, nil
		}
		for _, p := range released {
			a.opts.Logger.Info("released held source", slog.String("path", p))
		}
		a.message = fmt.Sprintf("released %d held source(s)", len(released))
		if !a.refreshing {
			a.refreshing = true
			return a, refreshDataCmd(a.store, a.opts.OutDir)
		}
		return a, nil
	case "w":
		a.cycleWorker()
		return a, nil
	case "left":
		a.activeTab = (a.activeTab - 1 + len(components.Tabs)) % len(components.Tabs)
		return a, nil
	case "right", "tab":
		a.activeTab = (a.activeTab + 1) % len(components.Tabs)
		return a, nil
	}

	if len(msg.Runes) == 1 {
		if idx := components.TabIdxByKey(msg.Runes[0]); idx >= 0 {
			a.activeTab = idx
		}
	}
	return a, nil
}

// persistAutoRefresh saves the toggle; failure only costs persistence.
func (a *App) persistAutoRefresh() {
	cfg, err := config.Load()
	if err != nil {
		cfg = a.opts.Config
	}
	cfg.TUI.AutoRefresh = a.autoRefresh
	if err := config.Save(cfg); err != nil {
		a.opts.Logger.Warn("saving auto-refresh setting", slog.String("error", err.Error()))
		a.message = "could not save setting"
	}
}

func (a App) updateSetupForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := a.setupForm.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		a.setupForm = f
	}

	switch a.setupForm.State {
	case huh.StateCompleted:
		if err := a.saveSetupConfig(); err != nil {
			a.message = "could not save config"
			a.opts.Logger.Warn("saving setup config", slog.String("error", err.Error()))
		}
		a.recompute()
		a.needSetup = false
		a.setupForm = nil
		return a, nil
	case huh.StateAborted:
		a.needSetup = false
		a.setupForm = nil
		return a, nil
	}
	return a, cmd
}

func (a App) contentWidth() int {
	return min(a.width, maxContentWidth)
}

func (a App) isCompactLayout() bool {
	return a.contentWidth() < compactWidth
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return a.viewTooNarrow()
	}
	if !a.loaded {
		return a.viewLoading()
	}
	if a.needSetup && a.setupForm != nil {
		return a.setupForm.View()
	}
	if a.showHelp {
		return a.viewHelp()
	}
	return a.viewMain()
}

func (a App) viewTooNarrow() string {
	h := max(a.height, 5)
	msg := fmt.Sprintf(
		"\n  Terminal too narrow (%d cols)\n\n  afldash needs at least %d columns.\n",
		a.width,
		minTerminalWidth,
	)
	return padHeight(truncateHeight(msg, h), h)
}

func (a App) viewLoading() string {
	t := theme.Active

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Background(t.Surface).
		Padding(2, 4)
	logoStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	subtitleStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	spinnerStyle := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface)

	var b strings.Builder
	b.WriteString(logoStyle.Render("◈ afldash"))
	b.WriteString(subtitleStyle.Render(" · " + a.opts.OutDir))
	b.WriteString("\n\n")

	b.WriteString(spinnerStyle.Render(a.spinner.View()))
	if a.progressMax > 0 {
		barW := max(20, min(40, a.width-30))
		b.WriteString(subtitleStyle.Render(" Reading fuzzer files\n\n"))
		b.WriteString(components.ProgressBar(float64(a.progress)/float64(a.progressMax), barW))
	} else {
		b.WriteString(subtitleStyle.Render(" Discovering workers..."))
	}

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, cardStyle.Render(b.String()),
		lipgloss.WithWhitespaceBackground(t.Background))
}

func (a App) viewHelp() string {
	t := theme.Active

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Background(t.Surface).
		Padding(1, 3)
	titleStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	sectionStyle := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	keyStyle := lipgloss.NewStyle().Foreground(t.Cyan).Background(t.Surface).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	dimStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	section := func(b *strings.Builder, title string, bindings [][2]string) {
		b.WriteString(sectionStyle.Render(title))
		b.WriteString("\n")
		for _, bind := range bindings {
			fmt.Fprintf(b, "  %s  %s\n",
				keyStyle.Render(fmt.Sprintf("%-10s", bind[0])),
				descStyle.Render(bind[1]))
		}
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("◈ Keyboard Shortcuts"))
	b.WriteString("\n\n")
	section(&b, "Navigation", [][2]string{
		{"d u m t b", "Jump to tab"},
		{"← →", "Previous / Next tab"},
		{"w", "Next worker"},
		{"j k", "Navigate mutations"},
		{"J K", "Scroll mutation detail"},
		{"^d ^u", "Half-page scroll"},
	})
	b.WriteString("\n")
	section(&b, "Actions", [][2]string{
		{"/", "Search mutations"},
		{"Esc", "Clear search"},
		{"r", "Refresh now"},
		{"R", "Toggle auto-refresh"},
		{"x", "Re-read held sources"},
		{"?", "Toggle help"},
		{"q", "Quit"},
	})
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press any key to close"))

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, cardStyle.Render(b.String()),
		lipgloss.WithWhitespaceBackground(t.Background))
}

func (a App) viewMain() string {
	t := theme.Active
	w := a.width
	cw := a.contentWidth()
	h := a.height

	right := a.worker
	if a.opts.WorkerFilter != "" {
		right = fmt.Sprintf("%s (filter %q)", a.worker, a.opts.WorkerFilter)
	}
	header := components.RenderTabBar(a.activeTab, w, right+" ")

	info := components.StatusInfo{
		DataAge:     cli.FormatAgo(a.lastRefresh, time.Now()),
		Refreshing:  a.refreshing,
		AutoRefresh: a.autoRefresh,
		Message:     a.message,
	}
	if a.campaign != nil {
		info.Warnings = len(a.campaign.Warnings) + len(a.resets)
	}
	statusBar := components.RenderStatusBar(w, info)

	contentH := max(h-lipgloss.Height(header)-lipgloss.Height(statusBar), minContentHeight)

	var content string
	switch {
	case a.loadErr != nil:
		content = components.ContentCard("Error", a.loadErr.Error(), cw)
	case len(a.stats) == 0:
		content = components.ContentCard("No workers",
			fmt.Sprintf("No fuzzer_stats found under %s.\nStart afl-fuzz with -o %s, or pass --out-dir.",
				a.opts.OutDir, a.opts.OutDir), cw)
	default:
		switch a.activeTab {
		case tabDashboard:
			content = a.renderDashboardTab(cw)
		case tabQueue:
			content = a.renderQueueTab(cw)
		case tabMutations:
			content = a.renderMutationsTab(cw, contentH)
		case tabTimeline:
			content = a.renderTimelineTab(cw)
		case tabBitmap:
			content = a.renderBitmapTab(cw)
		}
	}

	content = padHeight(truncateHeight(content, contentH), contentH)
	content = fillLinesWithBackground(content, cw, t.Background)
	content = lipgloss.Place(w, contentH, lipgloss.Center, lipgloss.Top, content,
		lipgloss.WithWhitespaceBackground(t.Background))

	output := lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
	return lipgloss.Place(w, h, lipgloss.Left, lipgloss.Top, output,
		lipgloss.WithWhitespaceBackground(t.Background))
}

// ─── Tabs ───────────────────────────────────────────────────────

const (
	tabDashboard = iota
	tabQueue
	tabMutations
	tabTimeline
	tabBitmap
)

// tabAtX returns the tab index at the given X coordinate, or -1 if none.
func (a App) tabAtX(x int) int {
	pos := 0
	for i, tab := range components.Tabs {
		tabW := components.TabVisualWidth(tab, i == a.activeTab)
		if x >= pos && x < pos+tabW {
			return i
		}
		pos += tabW
		if i < len(components.Tabs)-1 {
			pos++ // separator
		}
	}
	return -1
}

// ─── Loading ────────────────────────────────────────────────────

type tickMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// loadDataCmd runs the first load in a background goroutine. It streams
// ProgressMsg updates and a final DataLoadedMsg through sub.
func loadDataCmd(st *pipeline.Store, opts Options, sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		go func() {
			start := time.Now()

			// Non-blocking so the loader is never stalled by the UI.
			progressFn := func(current, total int) {
				select {
				case sub <- ProgressMsg{Current: current, Total: total}:
				default:
				}
			}

			c, err := pipeline.Load(st, opts.OutDir, progressFn)
			msg := DataLoadedMsg{Campaign: c, Err: err}
			if err == nil && opts.UseCache {
				msg.Previous = recordSnapshots(opts, c)
			}
			msg.LoadTime = time.Since(start)
			sub <- msg
		}()

		// Block until the first message (either ProgressMsg or DataLoadedMsg)
		return <-sub
	}
}

// recordSnapshots returns the previous run's snapshots and stores the current
// ones. History is best-effort: the dashboard works without it.
func recordSnapshots(opts Options, c *pipeline.Campaign) map[string]store.Snapshot {
	cache, err := store.Open(config.CachePath())
	if err != nil {
		opts.Logger.Warn("snapshot history unavailable", slog.String("error", err.Error()))
		return nil
	}
	defer func() { _ = cache.Close() }()

	prev, err := cache.LatestSnapshots(c.OutDir)
	if err != nil {
		opts.Logger.Warn("reading snapshot history", slog.String("error", err.Error()))
	}
	if err := cache.SaveSnapshots(c.OutDir, c.Stats, c.LoadedAt); err != nil {
		opts.Logger.Warn("saving snapshots", slog.String("error", err.Error()))
	}
	return prev
}

// waitForLoadMsg blocks until the next message arrives from the loader goroutine.
func waitForLoadMsg(sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

// refreshDataCmd refreshes the campaign in the background (no progress UI).
func refreshDataCmd(st *pipeline.Store, outDir string) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		c, err := pipeline.Load(st, outDir, nil)
		return RefreshDataMsg{Campaign: c, LoadTime: time.Since(start), Err: err}
	}
}

// ─── Helpers ────────────────────────────────────────────────────

func truncStr(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func truncateHeight(s string, limit int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= limit {
		return s
	}
	return strings.Join(lines[:limit], "\n")
}

func padHeight(s string, h int) string {
	lines := strings.Split(s, "\n")
	if len(lines) >= h {
		return s
	}
	return s + strings.Repeat("\n", h-len(lines))
}

// fillLinesWithBackground pads each line to width w with background color.
func fillLinesWithBackground(s string, w int, bg lipgloss.Color) string {
	lines := strings.Split(s, "\n")

	var result strings.Builder
	for i, line := range lines {
		result.WriteString(lipgloss.PlaceHorizontal(w, lipgloss.Left, line,
			lipgloss.WithWhitespaceBackground(bg)))
		if i < len(lines)-1 {
			result.WriteString("\n")
		}
	}
	return result.String()
}
