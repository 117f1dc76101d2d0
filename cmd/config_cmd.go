// Package cmd implements the afldash CLI commands.
package cmd

import (
	"fmt"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("  Config file: %s\n", config.ConfigPath())
	if config.Exists() {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Problem: %v\n", err)
	}
	fmt.Println()

	fmt.Println("  [General]")
	if cfg.General.OutDir != "" {
		fmt.Printf("    Output directory:  %s\n", cfg.General.OutDir)
	} else {
		fmt.Println("    Output directory:  not set")
	}
	fmt.Printf("    Effective:         %s\n", config.GetOutDir(cfg))
	fmt.Println()

	fmt.Println("  [TUI]")
	fmt.Printf("    Auto refresh:      %v\n", cfg.TUI.AutoRefresh)
	fmt.Printf("    Refresh interval:  %ds\n", cfg.TUI.RefreshIntervalSec)
	fmt.Println()

	fmt.Println("  [Ingest]")
	fmt.Printf("    Reset on schema change: %v\n", cfg.Ingest.ResetOnSchemaChange)
	fmt.Println()

	fmt.Println("  [Advice]")
	fmt.Printf("    Low exec speed:    %.0f execs/sec\n", cfg.Advice.LowExecSpeed)
	fmt.Printf("    Early window:      %ds to %ds\n", cfg.Advice.EarlyWindowMinSec, cfg.Advice.EarlyWindowMaxSec)
	fmt.Printf("    No finds after:    %ds\n", cfg.Advice.NoFindsSec)
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address:           %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Interval:          %ds\n", cfg.Daemon.IntervalSec)
	fmt.Printf("    Events buffer:     %d\n", cfg.Daemon.EventsBuffer)
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme: %s\n", cfg.Appearance.Theme)
	fmt.Println()

	fmt.Printf("  Snapshot history: %s\n", config.CachePath())
	fmt.Println("  Run `afldash setup` to reconfigure.")
	return nil
}
