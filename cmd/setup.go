package cmd

import (
	"errors"
	"fmt"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/config"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/tui"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	header := fmt.Sprintf("No fuzzer workers found in %s yet.", flagOutDir)
	if workers, err := source.Workers(flagOutDir); err == nil && len(workers) > 0 {
		header = fmt.Sprintf("Found %d workers in %s.", len(workers), flagOutDir)
	}

	form, result := tui.NewSetupForm(cfg, header)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("  Setup cancelled, nothing saved.")
			return nil
		}
		return fmt.Errorf("setup form: %w", err)
	}
	result.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", config.ConfigPath())
	fmt.Println("  Run `afldash setup` anytime to reconfigure.")
	fmt.Println()

	return nil
}
