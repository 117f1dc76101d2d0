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
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/store"

	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Per-worker coverage, crashes and speed with the change since the last run",
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(_ *cobra.Command, _ []string) error {
	c, err := loadCampaign()
	if err != nil {
		return err
	}

	stats := filteredStats(c)
	if len(stats) == 0 {
		printNoWorkers()
		return nil
	}

	previous := recordSnapshots(c.OutDir, stats, c.LoadedAt)

	fmt.Println()
	fmt.Println(cli.RenderTitle("AFL++ CAMPAIGN  " + c.OutDir))
	fmt.Println()
	fmt.Print(cli.RenderTable(workerTable(stats, previous)))

	totals := pipeline.ComputeTotals(stats)
	var prevTotals model.Totals
	if len(previous) > 0 {
		prev := make([]model.WorkerStats, 0, len(previous))
		for _, s := range stats {
			if p, ok := previous[s.Worker]; ok {
				prev = append(prev, p.WorkerStats)
			}
		}
		prevTotals = pipeline.ComputeTotals(prev)
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Totals",
		Headers: []string{"Metric", "Value", "Since last run"},
		Rows: [][]string{
			{"Workers", cli.FormatNumber(int64(totals.Workers)), ""},
			{"Execs", cli.FormatCount(totals.ExecsDone), sinceLast(previous, totals.ExecsDone, prevTotals.ExecsDone)},
			{"Speed", cli.FormatRate(totals.ExecsPerSec), ""},
			{"Corpus", cli.FormatNumber(totals.CorpusCount), sinceLast(previous, totals.CorpusCount, prevTotals.CorpusCount)},
			{cli.SeparatorRow},
			{"Crashes", cli.RenderCrashCount(totals.SavedCrashes), sinceLast(previous, totals.SavedCrashes, prevTotals.SavedCrashes)},
			{"Hangs", cli.RenderCrashCount(totals.SavedHangs), sinceLast(previous, totals.SavedHangs, prevTotals.SavedHangs)},
			{"Best coverage", cli.FormatPercent(totals.MaxCoverage), ""},
		},
	}))

	cfg, _ := config.Load()
	if advice := pipeline.Advise(stats, c.Hourly(), cfg.Thresholds()); len(advice) > 0 {
		fmt.Println()
		fmt.Print(cli.RenderAdvice(advice))
	}
	printLoadWarnings(c)
	return nil
}

func workerTable(stats []model.WorkerStats, previous map[string]store.Snapshot) cli.Table {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		crashes := cli.RenderCrashCount(s.SavedCrashes)
		if p, ok := previous[s.Worker]; ok {
			if d := cli.FormatDelta(s.SavedCrashes - p.SavedCrashes); d != "" {
				crashes += " (" + d + ")"
			}
		}
		rows = append(rows, []string{
			s.Worker,
			cli.FormatRunTime(s.RunTimeSecs),
			cli.FormatPercent(s.Coverage),
			crashes,
			cli.RenderCrashCount(s.SavedHangs),
			cli.FormatPercent(s.Stability),
			cli.FormatRate(s.ExecsPerSec),
			cli.FormatDuration(s.TimeWoFindsSecs),
		})
	}
	return cli.Table{
		Headers:  []string{"Worker", "Run time", "Coverage", "Crashes", "Hangs", "Stability", "Speed", "No finds"},
		Rows:     rows,
		LeftCols: 1,
	}
}

func sinceLast(previous map[string]store.Snapshot, curr, prev int64) string {
	if len(previous) == 0 {
		return ""
	}
	return cli.FormatDelta(curr - prev)
}

// recordSnapshots returns the snapshots saved by the previous run and stores
// the current ones. Cache failures only disable the comparison.
func recordSnapshots(outDir string, stats []model.WorkerStats, at time.Time) map[string]store.Snapshot {
	if flagNoCache {
		return nil
	}
	cache, err := store.Open(config.CachePath())
	if err != nil {
		slog.Warn("snapshot history unavailable", slog.String("error", err.Error()))
		return nil
	}
	defer func() { _ = cache.Close() }()

	previous, err := cache.LatestSnapshots(outDir)
	if err != nil {
		slog.Warn("reading snapshot history", slog.String("error", err.Error()))
	}
	if err := cache.SaveSnapshots(outDir, stats, at); err != nil {
		slog.Warn("recording snapshot history", slog.String("error", err.Error()))
	}
	return previous
}

func printLoadWarnings(c *pipeline.Campaign) {
	warnings := append(append([]string(nil), c.Resets...), c.Warnings...)
	if c.Skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d malformed lines skipped", c.Skipped))
	}
	if len(warnings) > 0 {
		fmt.Fprintln(os.Stderr)
		fmt.Fprint(os.Stderr, cli.RenderWarnings(warnings))
	}
}
