package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/config"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	flagOutDir  string
	flagWorker  string
	flagNoCache bool
	flagQuiet   bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "afldash",
	Short: "AFL++ campaign dashboard",
	Long:  "Monitor an AFL++ output directory: coverage, crashes, queue progress, mutations and speed.",
	RunE:  runSummary,

	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cfg, _ := config.Load()

	rootCmd.PersistentFlags().StringVarP(&flagOutDir, "out-dir", "o", config.GetOutDir(cfg), "AFL++ output directory (afl-fuzz -o)")
	rootCmd.PersistentFlags().StringVarP(&flagWorker, "worker", "w", "", "Filter to workers (substring match)")
	rootCmd.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "Do not read or record snapshot history")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log ingest details to stderr")
}

// loadCampaign is the shared data loading path used by the report commands.
func loadCampaign() (*pipeline.Campaign, error) {
	if !pipeline.OutDirExists(flagOutDir) {
		return nil, fmt.Errorf("output directory %s not found (set --out-dir or AFLDASH_OUT_DIR)", flagOutDir)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("config unreadable, using defaults", slog.String("error", err.Error()))
		cfg = config.DefaultConfig()
	}

	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  Reading %s...\n", flagOutDir)
	}
	progressFn := func(current, total int) {
		if flagQuiet {
			return
		}
		fmt.Fprintf(os.Stderr, "\r  %s", cli.RenderProgressBar(current, total, 20))
	}

	st := pipeline.NewStore(
		pipeline.WithLogger(slog.Default()),
		pipeline.WithResetOnSchemaChange(cfg.Ingest.ResetOnSchemaChange),
	)
	c, err := pipeline.Load(st, flagOutDir, progressFn)
	if err != nil {
		return nil, err
	}

	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "\r  Loaded %d workers in %s    \n",
			len(c.Workers), c.Duration.Round(time.Millisecond))
	}
	return c, nil
}

// filteredStats applies --worker to the campaign's workers.
func filteredStats(c *pipeline.Campaign) []model.WorkerStats {
	return pipeline.FilterWorkers(c.Stats, flagWorker)
}

func printNoWorkers() {
	fmt.Printf("\n  No fuzzer workers found in %s.\n", flagOutDir)
	if flagWorker != "" {
		fmt.Printf("  (filtered by --worker %q)\n", flagWorker)
	}
}
