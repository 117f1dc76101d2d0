package cmd

import (
	"fmt"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"

	"github.com/spf13/cobra"
)

var bitmapCmd = &cobra.Command{
	Use:   "bitmap",
	Short: "Coverage bitmap density per worker",
	RunE:  runBitmap,
}

func init() {
	rootCmd.AddCommand(bitmapCmd)
}

func runBitmap(_ *cobra.Command, _ []string) error {
	c, err := loadCampaign()
	if err != nil {
		return err
	}

	allowed := make(map[string]bool)
	for _, s := range filteredStats(c) {
		allowed[s.Worker] = true
	}
	var bitmaps []model.BitmapStats
	for _, bm := range c.Bitmaps {
		if allowed[bm.Worker] {
			bitmaps = append(bitmaps, bm)
		}
	}
	if len(bitmaps) == 0 {
		fmt.Println("\n  No fuzz_bitmap files found.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("BITMAP  " + c.OutDir))
	for _, bm := range bitmaps {
		fmt.Println()
		fmt.Printf("  %s  %s bits set of %s (%s)\n",
			bm.Worker,
			cli.FormatNumber(int64(bm.SetBits)),
			cli.FormatNumber(int64(bm.Bytes)*8),
			cli.FormatPercent(bm.Density))
		fmt.Print(cli.RenderBitmapGrid(bm))
	}
	printLoadWarnings(c)
	return nil
}
