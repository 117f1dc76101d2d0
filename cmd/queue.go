package cmd

import (
	"fmt"
	"sort"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Corpus progress and the queue entry each worker is fuzzing",
	RunE:  runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

func runQueue(_ *cobra.Command, _ []string) error {
	c, err := loadCampaign()
	if err != nil {
		return err
	}

	stats := filteredStats(c)
	if len(stats) == 0 {
		printNoWorkers()
		return nil
	}

	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Worker,
			fmt.Sprintf("%d / %d", s.CurItem, s.CorpusCount),
			cli.FormatNumber(s.CorpusFavored),
			cli.FormatNumber(s.CorpusFound),
			cli.FormatNumber(s.PendingTotal),
			cli.FormatNumber(s.PendingFavs),
			cli.FormatNumber(s.MaxDepth),
			cli.FormatNumber(s.CyclesDone),
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("QUEUE  " + c.OutDir))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Worker", "Item", "Favored", "Found", "Pending", "Pend favs", "Depth", "Cycles"},
		Rows:    rows,
	}))

	entries := pipeline.CurrentQueueEntries(stats, c.Queue)
	fmt.Println()
	if len(entries) == 0 {
		fmt.Println("  No queue_data rows match the current items.")
		printLoadWarnings(c)
		return nil
	}
	for _, e := range entries {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			if k != "filename" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		fields := make([][]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, []string{k, e.Fields[k]})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Title:    fmt.Sprintf("%s  item %d  %s", e.Worker, e.CurItem, e.Filename),
			Headers:  []string{"Field", "Value"},
			Rows:     fields,
			LeftCols: 2,
		}))
	}
	printLoadWarnings(c)
	return nil
}
