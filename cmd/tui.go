package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/config"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui/theme"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive TUI dashboard",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	theme.SetActive(cfg.Appearance.Theme)

	// Force TrueColor profile so all background styling produces ANSI codes
	// Without this, lipgloss may default to Ascii profile (no colors)
	lipgloss.SetColorProfile(termenv.TrueColor)

	// The alt screen owns the terminal, so logs go to a file.
	logger, closeLog := tuiLogger()
	defer closeLog()

	app := tui.NewApp(tui.Options{
		OutDir:       flagOutDir,
		WorkerFilter: flagWorker,
		UseCache:     !flagNoCache,
		Config:       cfg,
		Logger:       logger,
	})
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

func tuiLogger() (*slog.Logger, func()) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	path := filepath.Join(config.CacheDir(), "afldash.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return slog.New(slog.DiscardHandler), func() {}
	}
	//nolint:gosec // log path is derived from the user's cache dir
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return slog.New(slog.DiscardHandler), func() {}
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), func() { _ = f.Close() }
}
