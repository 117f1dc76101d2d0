package cmd

import (
	"fmt"
	"strings"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	flagResult string
	flagSearch string
	flagLimit  int
)

var mutationsCmd = &cobra.Command{
	Use:   "mutations",
	Short: "Mutation records from introspection.txt",
	RunE:  runMutations,
}

func init() {
	mutationsCmd.Flags().StringVar(&flagResult, "result", "", "Show the record that produced this queue entry")
	mutationsCmd.Flags().StringVarP(&flagSearch, "search", "s", "", "Filter records by substring")
	mutationsCmd.Flags().IntVar(&flagLimit, "limit", 50, "Show at most this many records (0 for all)")
	rootCmd.AddCommand(mutationsCmd)
}

func runMutations(_ *cobra.Command, _ []string) error {
	c, err := loadCampaign()
	if err != nil {
		return err
	}

	muts := workerMutations(c.Mutations)
	if flagResult != "" {
		m, ok := pipeline.FindMutation(muts, flagResult)
		if !ok {
			return fmt.Errorf("no mutation record produced %s", flagResult)
		}
		fmt.Println()
		fmt.Print(cli.RenderTable(cli.Table{
			Headers:  []string{"Field", "Value"},
			LeftCols: 2,
			Rows: [][]string{
				{"Worker", m.Worker},
				{"Record", cli.FormatNumber(int64(m.Index))},
				{"Original", m.Original},
				{"Mutation", m.Mutation},
				{"Result", m.Result},
			},
		}))
		return nil
	}

	muts = pipeline.SearchMutations(muts, flagSearch)
	if len(muts) == 0 {
		fmt.Println("\n  No mutation records found.")
		printLoadWarnings(c)
		return nil
	}

	shown := muts
	if flagLimit > 0 && len(shown) > flagLimit {
		shown = shown[len(shown)-flagLimit:]
	}
	rows := make([][]string, 0, len(shown))
	for _, m := range shown {
		rows = append(rows, []string{m.Worker, m.Original, m.Mutation, m.Result})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:    fmt.Sprintf("Mutations  %d of %d", len(shown), len(muts)),
		Headers:  []string{"Worker", "Original", "Mutation", "Result"},
		Rows:     rows,
		LeftCols: 4,
	}))
	printLoadWarnings(c)
	return nil
}

func workerMutations(muts []model.Mutation) []model.Mutation {
	if flagWorker == "" {
		return muts
	}
	var out []model.Mutation
	for _, m := range muts {
		if strings.Contains(m.Worker, flagWorker) {
			out = append(out, m)
		}
	}
	return out
}
