// Package pipeline ingests campaign files incrementally and derives fuzzing metrics.
package pipeline

import (
	"fmt"
	"math"
	"math/bits"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
)

// SpeedDocsURL is linked from the low execution speed advice.
const SpeedDocsURL = "https://aflplus.plus/docs/best_practices/#improving-speed"

// Coverage returns edgesFound as a percentage of totalEdges. It is 0 whenever
// totalEdges is zero or either input is not a finite number.
func Coverage(edgesFound, totalEdges float64) float64 {
	if totalEdges == 0 || math.IsNaN(totalEdges) || math.IsNaN(edgesFound) ||
		math.IsInf(totalEdges, 0) || math.IsInf(edgesFound, 0) {
		return 0
	}
	return edgesFound / totalEdges * 100
}

// RowCoverage computes Coverage from a fuzzer_stats row; missing or
// non-numeric fields count as zero.
func RowCoverage(row source.Row) float64 {
	edges, ok := row.Float("edges_found")
	if !ok {
		edges = 0
	}
	total, ok := row.Float("total_edges")
	if !ok {
		return 0
	}
	return Coverage(edges, total)
}

// ParseWorkerStats converts a fuzzer_stats row into typed stats.
func ParseWorkerStats(worker string, row source.Row) model.WorkerStats {
	bitmapCvg, _ := row.Percent("bitmap_cvg")
	stability, _ := row.Percent("stability")
	ws := model.WorkerStats{
		Worker:          worker,
		StartTime:       unixTime(row.Int("start_time")),
		LastUpdate:      unixTime(row.Int("last_update")),
		LastFind:        unixTime(row.Int("last_find")),
		RunTimeSecs:     row.Int("run_time"),
		TimeWoFindsSecs: row.Int("time_wo_finds"),
		CyclesDone:      row.Int("cycles_done"),
		CyclesWoFinds:   row.Int("cycles_wo_finds"),
		ExecsDone:       row.Int("execs_done"),
		ExecsPerSec:     row.Value("execs_per_sec"),
		CorpusCount:     row.Int("corpus_count"),
		CorpusFavored:   row.Int("corpus_favored"),
		CorpusFound:     row.Int("corpus_found"),
		PendingTotal:    row.Int("pending_total"),
		PendingFavs:     row.Int("pending_favs"),
		CurItem:         row.Int("cur_item"),
		MaxDepth:        row.Int("max_depth"),
		SavedCrashes:    row.Int("saved_crashes"),
		SavedHangs:      row.Int("saved_hangs"),
		EdgesFound:      row.Int("edges_found"),
		TotalEdges:      row.Int("total_edges"),
		Coverage:        RowCoverage(row),
		BitmapCvg:       bitmapCvg,
		Stability:       stability,
		VarByteCount:    row.Int("var_byte_count"),
		TargetMode:      row["target_mode"],
		Banner:          row["afl_banner"],
		CommandLine:     row["command_line"],
	}
	// Older releases use unique_crashes/unique_hangs.
	if _, ok := row["saved_crashes"]; !ok {
		ws.SavedCrashes = row.Int("unique_crashes")
	}
	if _, ok := row["saved_hangs"]; !ok {
		ws.SavedHangs = row.Int("unique_hangs")
	}
	// run_time is missing before the first stats write after startup.
	if _, ok := row["run_time"]; !ok && !ws.StartTime.IsZero() && !ws.LastUpdate.IsZero() {
		ws.RunTimeSecs = int64(ws.LastUpdate.Sub(ws.StartTime).Seconds())
	}
	return ws
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// ComputeTotals sums the headline counters across workers.
func ComputeTotals(stats []model.WorkerStats) model.Totals {
	t := model.Totals{Workers: len(stats)}
	for _, s := range stats {
		t.ExecsDone += s.ExecsDone
		t.ExecsPerSec += s.ExecsPerSec
		t.SavedCrashes += s.SavedCrashes
		t.SavedHangs += s.SavedHangs
		t.CorpusCount += s.CorpusCount
		if s.Coverage > t.MaxCoverage {
			t.MaxCoverage = s.Coverage
		}
	}
	return t
}

// AggregateHourly groups plot_data rows by hour of relative_time.
// Execution speed is averaged; cumulative counters keep the last sample.
func AggregateHourly(rows []source.Row) []model.HourlyStats {
	byHour := make(map[int]*model.HourlyStats)
	for _, r := range rows {
		rt, ok := r.Float("relative_time")
		if !ok || rt < 0 {
			continue
		}
		hour := int(rt) / 3600
		h, ok := byHour[hour]
		if !ok {
			h = &model.HourlyStats{Hour: hour}
			byHour[hour] = h
		}
		h.Samples++
		// Running mean keeps the loop single-pass.
		h.MeanExecsPerSec += (r.Value("execs_per_sec") - h.MeanExecsPerSec) / float64(h.Samples)
		h.TotalExecs = r.Int("total_execs")
		h.SavedCrashes = r.Int("saved_crashes")
		h.SavedHangs = r.Int("saved_hangs")
		h.EdgesFound = r.Int("edges_found")
		h.CorpusCount = r.Int("corpus_count")
	}

	result := make([]model.HourlyStats, 0, len(byHour))
	for _, h := range byHour {
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Hour < result[j].Hour })
	return result
}

// AdviceThresholds tunes when Advise emits hints.
type AdviceThresholds struct {
	LowExecSpeed      float64
	EarlyWindowMinSec int64
	EarlyWindowMaxSec int64
	NoFindsSec        int64
}

// DefaultAdviceThresholds mirrors the AFL++ tuning guidance.
func DefaultAdviceThresholds() AdviceThresholds {
	return AdviceThresholds{
		LowExecSpeed:      500,
		EarlyWindowMinSec: 600,
		EarlyWindowMaxSec: 800,
		NoFindsSec:        600,
	}
}

// Advise derives tuning hints from the latest stats and the hourly history
// of each worker.
func Advise(stats []model.WorkerStats, hourly map[string][]model.HourlyStats, th AdviceThresholds) []model.Advice {
	var out []model.Advice
	for _, s := range stats {
		if hs := hourly[s.Worker]; len(hs) > 0 {
			last := hs[len(hs)-1]
			if last.MeanExecsPerSec < th.LowExecSpeed {
				out = append(out, model.Advice{
					Worker: s.Worker,
					Message: fmt.Sprintf("Low execution speed in past hour (%.0f execs/sec)",
						last.MeanExecsPerSec),
					Link: SpeedDocsURL,
				})
			}
		}
		if s.RunTimeSecs > th.EarlyWindowMinSec && s.RunTimeSecs < th.EarlyWindowMaxSec &&
			s.TimeWoFindsSecs > th.NoFindsSec {
			out = append(out, model.Advice{
				Worker: s.Worker,
				Message: "No new paths found within the first 10 minutes. Check if the target " +
					"binary is invoked correctly, memory limits, or input file validity.",
			})
		}
	}
	return out
}

// CurrentQueueEntries finds, for each worker, the queue_data rows naming the
// item the worker is fuzzing right now.
func CurrentQueueEntries(stats []model.WorkerStats, queue map[string]Table) []model.QueueEntry {
	var out []model.QueueEntry
	for _, s := range stats {
		t, ok := queue[s.Worker]
		if !ok {
			continue
		}
		re := regexp.MustCompile(fmt.Sprintf(`id:0*%d\b`, s.CurItem))
		for _, r := range t.Rows {
			name := r["filename"]
			if !re.MatchString(name) {
				continue
			}
			fields := make(map[string]string, len(r))
			for k, v := range r {
				fields[k] = v
			}
			out = append(out, model.QueueEntry{
				Worker:   s.Worker,
				CurItem:  s.CurItem,
				Filename: name,
				Fields:   fields,
			})
		}
	}
	return out
}

// Mutations flattens introspection tables into records, worker by worker.
func Mutations(tables map[string]Table) []model.Mutation {
	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []model.Mutation
	for _, k := range keys {
		for i, r := range tables[k].Rows {
			out = append(out, model.Mutation{
				Worker:   k,
				Index:    i,
				Original: r["original"],
				Mutation: r["mutation"],
				Result:   r["result"],
			})
		}
	}
	return out
}

// FindMutation returns the first record whose result matches exactly.
func FindMutation(muts []model.Mutation, result string) (model.Mutation, bool) {
	for _, m := range muts {
		if m.Result == result {
			return m, true
		}
	}
	return model.Mutation{}, false
}

// SearchMutations returns the records whose fields contain q, case-insensitively.
func SearchMutations(muts []model.Mutation, q string) []model.Mutation {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return muts
	}
	var out []model.Mutation
	for _, m := range muts {
		if strings.Contains(strings.ToLower(m.Result), q) ||
			strings.Contains(strings.ToLower(m.Original), q) ||
			strings.Contains(strings.ToLower(m.Mutation), q) {
			out = append(out, m)
		}
	}
	return out
}

// SummarizeBitmap counts set bits and folds the bitmap into a side x side grid.
func SummarizeBitmap(worker string, data []byte, side int) model.BitmapStats {
	bs := model.BitmapStats{Worker: worker, Bytes: len(data), Side: side}
	for _, b := range data {
		bs.SetBits += bits.OnesCount8(b)
	}
	if len(data) > 0 {
		bs.Density = float64(bs.SetBits) / float64(len(data)*8) * 100
	}
	if side <= 0 || len(data) == 0 {
		return bs
	}

	cells := side * side
	total := make([]int, cells)
	set := make([]int, cells)
	nbits := len(data) * 8
	for i, b := range data {
		for j := 0; j < 8; j++ {
			bit := i*8 + j
			cell := bit * cells / nbits
			total[cell]++
			if b&(0x80>>j) != 0 {
				set[cell]++
			}
		}
	}
	bs.Grid = make([][]float64, side)
	for y := 0; y < side; y++ {
		bs.Grid[y] = make([]float64, side)
		for x := 0; x < side; x++ {
			c := y*side + x
			if total[c] > 0 {
				bs.Grid[y][x] = float64(set[c]) / float64(total[c])
			}
		}
	}
	return bs
}

// FilterWorkers keeps the stats whose worker name contains substr.
func FilterWorkers(stats []model.WorkerStats, substr string) []model.WorkerStats {
	if substr == "" {
		return stats
	}
	var out []model.WorkerStats
	for _, s := range stats {
		if strings.Contains(s.Worker, substr) {
			out = append(out, s)
		}
	}
	return out
}
