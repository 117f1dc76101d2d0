package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
)

// BitmapGridSide is the default resolution of bitmap density grids.
const BitmapGridSide = 16

// Campaign is everything known about an output directory after one refresh.
type Campaign struct {
	OutDir  string
	Workers []string

	Stats     []model.WorkerStats
	Plot      map[string]Table
	Queue     map[string]Table
	Mutations []model.Mutation
	Bitmaps   []model.BitmapStats

	// Rows added by this refresh, per logical file.
	NewRows map[string]int
	Skipped int

	// Resets lists sources re-read from the start by this refresh after an
	// incompatible change.
	Resets []string
	// Held lists sources whose ingestion stopped at an incompatible change.
	// They stay held on every refresh until released.
	Held []string
	// Warnings describes sources that failed to refresh, held ones included.
	Warnings []string

	// Timings is how long each logical file took to refresh, in load order.
	Timings []FileTiming

	LoadedAt time.Time
	Duration time.Duration
}

// FileTiming is the refresh time of one logical file across all workers.
type FileTiming struct {
	Name    string
	Elapsed time.Duration
}

// ProgressFunc is called during loading to report progress.
// current is the number of logical files processed so far, total is the total count.
type ProgressFunc func(current, total int)

var loadOrder = []string{
	source.FuzzerStatsFile,
	source.PlotDataFile,
	source.QueueDataFile,
	source.IntrospectionFile,
}

// Load refreshes every logical file under outDir through st and assembles the
// campaign. Per-source failures become warnings; only an unreadable outDir is
// an error.
func Load(st *Store, outDir string, progressFn ProgressFunc) (*Campaign, error) {
	start := time.Now()

	workers, err := source.Workers(outDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", outDir, err)
	}

	c := &Campaign{
		OutDir:  outDir,
		Workers: workers,
		NewRows: make(map[string]int, len(loadOrder)),
	}

	views := make(map[string]*View, len(loadOrder))
	total := len(loadOrder) + 1
	for i, name := range loadOrder {
		fileStart := time.Now()
		view, err := st.CombinedView(outDir, name)
		if view == nil {
			return nil, err
		}
		c.Timings = append(c.Timings, FileTiming{Name: name, Elapsed: time.Since(fileStart)})
		views[name] = view
		c.NewRows[name] = view.NewRows()
		c.Skipped += view.Skipped()
		resets, held, warnings := describeErrors(view)
		c.Resets = append(c.Resets, resets...)
		c.Held = append(c.Held, held...)
		c.Warnings = append(c.Warnings, held...)
		c.Warnings = append(c.Warnings, warnings...)
		if progressFn != nil {
			progressFn(i+1, total)
		}
	}

	stats := views[source.FuzzerStatsFile]
	for _, key := range stats.Keys() {
		if row := stats.Tables[key].Last(); row != nil {
			c.Stats = append(c.Stats, ParseWorkerStats(key, row))
		}
	}
	c.Plot = views[source.PlotDataFile].Tables
	c.Queue = views[source.QueueDataFile].Tables
	c.Mutations = Mutations(views[source.IntrospectionFile].Tables)

	c.Bitmaps, err = loadBitmaps(outDir, workers)
	if err != nil {
		c.Warnings = append(c.Warnings, err.Error())
	}
	if progressFn != nil {
		progressFn(total, total)
	}

	c.LoadedAt = time.Now()
	c.Duration = c.LoadedAt.Sub(start)
	return c, nil
}

// describeErrors sorts the view's failures by what happened to the source.
// Only a delta that actually re-ingested counts as a reset.
func describeErrors(v *View) (resets, held, warnings []string) {
	keys := make([]string, 0, len(v.Errors))
	for k := range v.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		err := v.Errors[k]
		d := v.Deltas[k]
		switch {
		case d.Reset:
			resets = append(resets, fmt.Sprintf("%s/%s changed incompatibly and was re-read from the start: %v", k, v.Name, err))
		case d.Held:
			held = append(held, fmt.Sprintf("%s/%s changed incompatibly, ingestion held until reset: %v", k, v.Name, err))
		default:
			warnings = append(warnings, fmt.Sprintf("%s/%s: %v", k, v.Name, err))
		}
	}
	return resets, held, warnings
}

func loadBitmaps(outDir string, workers []string) ([]model.BitmapStats, error) {
	var (
		out  []model.BitmapStats
		errs []error
	)
	for _, w := range workers {
		data, err := source.ReadBitmap(filepath.Join(outDir, w, source.BitmapFile))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", w, source.BitmapFile, err))
			continue
		}
		if data == nil {
			continue
		}
		out = append(out, SummarizeBitmap(w, data, BitmapGridSide))
	}
	return out, errors.Join(errs...)
}

// Worker returns the stats of the named worker.
func (c *Campaign) Worker(name string) (model.WorkerStats, bool) {
	for _, s := range c.Stats {
		if s.Worker == name {
			return s, true
		}
	}
	return model.WorkerStats{}, false
}

// DefaultWorker picks the worker shown when none is selected: "main" when
// present, otherwise the first one with stats.
func (c *Campaign) DefaultWorker() string {
	for _, s := range c.Stats {
		if s.Worker == "main" {
			return s.Worker
		}
	}
	if len(c.Stats) > 0 {
		return c.Stats[0].Worker
	}
	if len(c.Workers) > 0 {
		return c.Workers[0]
	}
	return ""
}

// Hourly aggregates every worker's plot_data by hour.
func (c *Campaign) Hourly() map[string][]model.HourlyStats {
	out := make(map[string][]model.HourlyStats, len(c.Plot))
	for k, t := range c.Plot {
		out[k] = AggregateHourly(t.Rows)
	}
	return out
}

// OutDirExists reports whether dir exists and is a directory.
func OutDirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
