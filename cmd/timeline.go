package cmd

import (
	"fmt"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/config"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"

	"github.com/spf13/cobra"
)

var flagSparkWidth int

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Hourly execution speed, coverage and crashes from plot_data",
	RunE:  runTimeline,
}

func init() {
	timelineCmd.Flags().IntVar(&flagSparkWidth, "width", 48, "Sparkline width in columns")
	rootCmd.AddCommand(timelineCmd)
}

func runTimeline(_ *cobra.Command, _ []string) error {
	c, err := loadCampaign()
	if err != nil {
		return err
	}

	stats := filteredStats(c)
	if len(stats) == 0 {
		printNoWorkers()
		return nil
	}
	hourly := c.Hourly()

	fmt.Println()
	fmt.Println(cli.RenderTitle("TIMELINE  " + c.OutDir))

	for _, s := range stats {
		hs := hourly[s.Worker]
		fmt.Println()
		if len(hs) == 0 {
			fmt.Printf("  %s: no plot_data samples yet\n", s.Worker)
			continue
		}
		fmt.Print(cli.RenderTable(hourlyTable(s.Worker, hs)))

		plot := c.Plot[s.Worker]
		fmt.Printf("  edges  %s\n", cli.RenderSparkline(plot.Column("edges_found"), flagSparkWidth))
		fmt.Printf("  speed  %s\n", cli.RenderSparkline(plot.Column("execs_per_sec"), flagSparkWidth))
	}

	cfg, _ := config.Load()
	if advice := pipeline.Advise(stats, hourly, cfg.Thresholds()); len(advice) > 0 {
		fmt.Println()
		fmt.Print(cli.RenderAdvice(advice))
	}
	printLoadWarnings(c)
	return nil
}

// hourlyTable shows cumulative counters at the end of each hour next to the
// amount they grew within it.
func hourlyTable(worker string, hs []model.HourlyStats) cli.Table {
	rows := make([][]string, 0, len(hs))
	var prev model.HourlyStats
	for i, h := range hs {
		newCrashes := h.SavedCrashes
		newEdges := h.EdgesFound
		if i > 0 {
			newCrashes -= prev.SavedCrashes
			newEdges -= prev.EdgesFound
		}
		rows = append(rows, []string{
			fmt.Sprintf("%dh", h.Hour),
			cli.FormatNumber(int64(h.Samples)),
			cli.FormatRate(h.MeanExecsPerSec),
			cli.FormatCount(h.TotalExecs),
			cli.FormatNumber(h.EdgesFound),
			cli.FormatDelta(newEdges),
			cli.RenderCrashCount(h.SavedCrashes),
			cli.FormatDelta(newCrashes),
		})
		prev = h
	}
	return cli.Table{
		Title:   worker,
		Headers: []string{"Hour", "Samples", "Speed", "Execs", "Edges", "New", "Crashes", "New"},
		Rows:    rows,
	}
}
