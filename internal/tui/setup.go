package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/config"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"
)

// setupValues holds the answers of the first-run form.
type setupValues struct {
	outDir      string
	theme       string
	autoRefresh bool
	interval    string
	lowSpeed    string
}

// NewSetupForm builds the configuration form, prefilled from cfg. It is
// shared by the first-run flow and the setup command.
func NewSetupForm(cfg config.Config, header string) (*huh.Form, *SetupResult) {
	vals := &setupValues{}
	vals.fill(cfg)
	form := buildSetupForm(header, vals)
	return form, &SetupResult{vals: vals}
}

// SetupResult applies a completed form to a config.
type SetupResult struct {
	vals *setupValues
}

// Apply writes the form answers into cfg.
func (r *SetupResult) Apply(cfg *config.Config) {
	r.vals.apply(cfg)
}

func (v *setupValues) fill(cfg config.Config) {
	v.outDir = cfg.General.OutDir
	v.theme = cfg.Appearance.Theme
	v.autoRefresh = cfg.TUI.AutoRefresh
	v.interval = strconv.Itoa(cfg.TUI.RefreshIntervalSec)
	v.lowSpeed = strconv.FormatFloat(cfg.Advice.LowExecSpeed, 'f', -1, 64)
}

func (v *setupValues) apply(cfg *config.Config) {
	cfg.General.OutDir = strings.TrimSpace(v.outDir)
	cfg.Appearance.Theme = v.theme
	cfg.TUI.AutoRefresh = v.autoRefresh
	if n, err := strconv.Atoi(strings.TrimSpace(v.interval)); err == nil {
		cfg.TUI.RefreshIntervalSec = n
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(v.lowSpeed), 64); err == nil {
		cfg.Advice.LowExecSpeed = f
	}
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return errors.New("enter a positive whole number")
	}
	return nil
}

func validatePositiveFloat(s string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return errors.New("enter a positive number")
	}
	return nil
}

func buildSetupForm(header string, vals *setupValues) *huh.Form {
	themeOpts := make([]huh.Option[string], 0, len(theme.All))
	for _, name := range theme.Names() {
		themeOpts = append(themeOpts, huh.NewOption(name, name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Welcome to afldash").
				Description(header),
			huh.NewInput().
				Title("Fuzzer output directory").
				Description("The -o directory passed to afl-fuzz. Leave empty to use ./out.").
				Value(&vals.outDir),
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themeOpts...).
				Value(&vals.theme),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Refresh the dashboard automatically?").
				Value(&vals.autoRefresh),
			huh.NewInput().
				Title("Refresh interval (seconds)").
				Validate(validatePositiveInt).
				Value(&vals.interval),
			huh.NewInput().
				Title("Warn when execs/sec drops below").
				Validate(validatePositiveFloat).
				Value(&vals.lowSpeed),
		),
	).WithTheme(huh.ThemeCharm())
}

// newSetupForm builds the first-run form shown after the initial load.
func newSetupForm(outDir string, workers int, vals *setupValues) *huh.Form {
	cfg := config.DefaultConfig()
	if outDir != "" {
		cfg.General.OutDir = outDir
	}
	vals.fill(cfg)
	return buildSetupForm(fmt.Sprintf("Found %d workers in %s.", workers, outDir), vals)
}

func (a *App) saveSetupConfig() error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	a.setupVals.apply(&cfg)

	theme.SetActive(cfg.Appearance.Theme)
	a.autoRefresh = cfg.TUI.AutoRefresh
	a.thresholds = cfg.Thresholds()
	a.refreshInterval = secondsToInterval(cfg.TUI.RefreshIntervalSec)
	return config.Save(cfg)
}

func secondsToInterval(sec int) time.Duration {
	return max(time.Duration(sec)*time.Second, minRefreshInterval)
}
