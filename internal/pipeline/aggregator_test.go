package pipeline

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
)

func TestCoverage(t *testing.T) {
	tests := []struct {
		name         string
		edges, total float64
		want         float64
	}{
		{"half", 50, 100, 50},
		{"zero total", 50, 0, 0},
		{"nan total", 50, math.NaN(), 0},
		{"nan edges", math.NaN(), 100, 0},
		{"inf total", 1, math.Inf(1), 0},
		{"nothing found", 0, 65536, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Coverage(tt.edges, tt.total)
			if got != tt.want {
				t.Errorf("Coverage(%v, %v) = %v, want %v", tt.edges, tt.total, got, tt.want)
			}
		})
	}
}

func TestRowCoverage(t *testing.T) {
	tests := []struct {
		name string
		row  source.Row
		want float64
	}{
		{"normal", source.Row{"edges_found": "16384", "total_edges": "65536"}, 25},
		{"missing total", source.Row{"edges_found": "10"}, 0},
		{"missing edges", source.Row{"total_edges": "10"}, 0},
		{"zero total", source.Row{"edges_found": "10", "total_edges": "0"}, 0},
		{"garbage total", source.Row{"edges_found": "10", "total_edges": "n/a"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RowCoverage(tt.row); got != tt.want {
				t.Errorf("RowCoverage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseWorkerStats(t *testing.T) {
	row := source.Row{
		"start_time":    "1700000000",
		"last_update":   "1700000725",
		"run_time":      "725",
		"time_wo_finds": "30",
		"execs_done":    "1234567",
		"execs_per_sec": "1702.91",
		"corpus_count":  "311",
		"pending_total": "140",
		"pending_favs":  "12",
		"cur_item":      "42",
		"edges_found":   "1024",
		"total_edges":   "4096",
		"saved_crashes": "3",
		"saved_hangs":   "1",
		"stability":     "99.50%",
		"bitmap_cvg":    "1.56%",
	}
	ws := ParseWorkerStats("main", row)

	if ws.Worker != "main" || ws.RunTimeSecs != 725 || ws.CurItem != 42 {
		t.Errorf("basic fields = %+v", ws)
	}
	if ws.Coverage != 25 {
		t.Errorf("Coverage = %v, want 25", ws.Coverage)
	}
	if ws.Stability != 99.5 {
		t.Errorf("Stability = %v, want 99.5", ws.Stability)
	}
	if ws.ExecsPerSec != 1702.91 {
		t.Errorf("ExecsPerSec = %v, want 1702.91", ws.ExecsPerSec)
	}
	if ws.StartTime.Unix() != 1700000000 {
		t.Errorf("StartTime = %v", ws.StartTime)
	}
}

func TestParseWorkerStats_LegacyCrashFields(t *testing.T) {
	ws := ParseWorkerStats("old", source.Row{"unique_crashes": "4", "unique_hangs": "2"})
	if ws.SavedCrashes != 4 || ws.SavedHangs != 2 {
		t.Errorf("crashes/hangs = %d/%d, want 4/2", ws.SavedCrashes, ws.SavedHangs)
	}
}

func TestAggregateHourly(t *testing.T) {
	rows := []source.Row{
		{"relative_time": "10", "execs_per_sec": "100", "total_execs": "1000", "saved_crashes": "0"},
		{"relative_time": "3599", "execs_per_sec": "300", "total_execs": "5000", "saved_crashes": "1"},
		{"relative_time": "3600", "execs_per_sec": "1000", "total_execs": "9000", "saved_crashes": "1"},
		{"relative_time": "bogus", "execs_per_sec": "1"},
		{"relative_time": "7300", "execs_per_sec": "400", "total_execs": "12000", "saved_crashes": "2"},
	}
	got := AggregateHourly(rows)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(got), got)
	}
	if got[0].Hour != 0 || got[0].Samples != 2 || got[0].MeanExecsPerSec != 200 {
		t.Errorf("hour 0 = %+v", got[0])
	}
	if got[0].TotalExecs != 5000 || got[0].SavedCrashes != 1 {
		t.Errorf("hour 0 cumulative = %+v, want last sample", got[0])
	}
	if got[1].Hour != 1 || got[2].Hour != 2 {
		t.Errorf("hours = %d, %d; want 1, 2", got[1].Hour, got[2].Hour)
	}
}

func TestAdvise(t *testing.T) {
	th := DefaultAdviceThresholds()

	tests := []struct {
		name   string
		stats  model.WorkerStats
		hourly []model.HourlyStats
		want   []string
	}{
		{
			name:   "slow last hour",
			stats:  model.WorkerStats{Worker: "main", RunTimeSecs: 7200},
			hourly: []model.HourlyStats{{Hour: 0, MeanExecsPerSec: 2000}, {Hour: 1, MeanExecsPerSec: 120}},
			want:   []string{"Low execution speed"},
		},
		{
			name:   "fast",
			stats:  model.WorkerStats{Worker: "main", RunTimeSecs: 7200},
			hourly: []model.HourlyStats{{Hour: 1, MeanExecsPerSec: 800}},
		},
		{
			name:   "no finds early",
			stats:  model.WorkerStats{Worker: "main", RunTimeSecs: 700, TimeWoFindsSecs: 650},
			hourly: []model.HourlyStats{{Hour: 0, MeanExecsPerSec: 900}},
			want:   []string{"No new paths found"},
		},
		{
			name:  "outside early window",
			stats: model.WorkerStats{Worker: "main", RunTimeSecs: 900, TimeWoFindsSecs: 650},
		},
		{
			name:  "window bounds are exclusive",
			stats: model.WorkerStats{Worker: "main", RunTimeSecs: 800, TimeWoFindsSecs: 700},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Advise([]model.WorkerStats{tt.stats}, map[string][]model.HourlyStats{"main": tt.hourly}, th)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d hints, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, prefix := range tt.want {
				if !strings.HasPrefix(got[i].Message, prefix) {
					t.Errorf("hint %d = %q, want prefix %q", i, got[i].Message, prefix)
				}
			}
		})
	}
}

func TestAdvise_SpeedLink(t *testing.T) {
	got := Advise(
		[]model.WorkerStats{{Worker: "w"}},
		map[string][]model.HourlyStats{"w": {{MeanExecsPerSec: 10}}},
		DefaultAdviceThresholds(),
	)
	if len(got) != 1 || got[0].Link != SpeedDocsURL {
		t.Errorf("advice = %+v", got)
	}
}

func TestCurrentQueueEntries(t *testing.T) {
	stats := []model.WorkerStats{{Worker: "main", CurItem: 7}, {Worker: "asan", CurItem: 0}}
	queue := map[string]Table{
		"main": {Rows: []source.Row{
			{"filename": "id:000006,src:000001"},
			{"filename": "id:000007,src:000002,op:havoc"},
			{"filename": "id:000070,src:000002"},
		}},
		"asan": {Rows: []source.Row{
			{"filename": "id:000000,time:0,orig:seed"},
			{"filename": "id:000001,src:000000"},
		}},
	}
	got := CurrentQueueEntries(stats, queue)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].Worker != "main" || got[0].Filename != "id:000007,src:000002,op:havoc" {
		t.Errorf("main entry = %+v", got[0])
	}
	if got[1].Worker != "asan" || !strings.HasPrefix(got[1].Filename, "id:000000") {
		t.Errorf("asan entry = %+v", got[1])
	}
}

func TestMutationsAndSearch(t *testing.T) {
	tables := map[string]Table{
		"main": {Rows: []source.Row{
			{"original": "id:000001,orig", "mutation": "havoc", "result": "id:000002"},
			{"original": "id:000002", "mutation": "splice", "result": "id:000003"},
		}},
		"asan": {Rows: []source.Row{
			{"original": "id:000000", "mutation": "flip1", "result": "id:000001"},
		}},
	}
	muts := Mutations(tables)
	if len(muts) != 3 || muts[0].Worker != "asan" || muts[2].Index != 1 {
		t.Fatalf("Mutations = %+v", muts)
	}

	m, ok := FindMutation(muts, "id:000003")
	if !ok || m.Mutation != "splice" {
		t.Errorf("FindMutation = %+v, %v", m, ok)
	}
	if _, ok := FindMutation(muts, "id:999999"); ok {
		t.Error("FindMutation found a record that does not exist")
	}
	if got := SearchMutations(muts, "HAVOC"); len(got) != 1 {
		t.Errorf("SearchMutations(HAVOC) = %d results, want 1", len(got))
	}
	if got := SearchMutations(muts, "  "); len(got) != 3 {
		t.Errorf("empty search = %d results, want 3", len(got))
	}
}

func TestSummarizeBitmap(t *testing.T) {
	data := make([]byte, 64)
	data[0] = 0xff
	data[63] = 0x01

	bs := SummarizeBitmap("main", data, 4)
	if bs.SetBits != 9 || bs.Bytes != 64 {
		t.Errorf("SetBits = %d, Bytes = %d, want 9 and 64", bs.SetBits, bs.Bytes)
	}
	if want := 9.0 / 512 * 100; bs.Density != want {
		t.Errorf("Density = %v, want %v", bs.Density, want)
	}
	if len(bs.Grid) != 4 || len(bs.Grid[0]) != 4 {
		t.Fatalf("grid = %dx%d, want 4x4", len(bs.Grid), len(bs.Grid[0]))
	}
	// 512 bits over 16 cells: 32 bits per cell.
	if bs.Grid[0][0] != 8.0/32 {
		t.Errorf("Grid[0][0] = %v, want %v", bs.Grid[0][0], 8.0/32)
	}
	if bs.Grid[3][3] != 1.0/32 {
		t.Errorf("Grid[3][3] = %v, want %v", bs.Grid[3][3], 1.0/32)
	}

	empty := SummarizeBitmap("x", nil, 4)
	if empty.Density != 0 || empty.Grid != nil {
		t.Errorf("empty bitmap = %+v", empty)
	}
}

func TestFilterWorkers(t *testing.T) {
	stats := []model.WorkerStats{{Worker: "main"}, {Worker: "asan"}, {Worker: "main-cmplog"}}
	if got := FilterWorkers(stats, "main"); len(got) != 2 {
		t.Errorf("FilterWorkers(main) = %d, want 2", len(got))
	}
	if got := FilterWorkers(stats, ""); len(got) != 3 {
		t.Errorf("FilterWorkers('') = %d, want 3", len(got))
	}
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeWorkerFile(t, root, "main", source.FuzzerStatsFile,
		"run_time : 3700\ncur_item : 1\nedges_found : 100\ntotal_edges : 400\nsaved_crashes : 2\n")
	writeWorkerFile(t, root, "main", source.PlotDataFile,
		plotFile(plotLine(60, 0, 900), plotLine(3660, 2, 100)))
	writeWorkerFile(t, root, "main", source.QueueDataFile,
		"# filename, depth\n\"id:000000,orig:a\", 1\n\"id:000001,src:000000\", 2\n")
	writeWorkerFile(t, root, "main", source.IntrospectionFile,
		"QUEUE id:000000,orig havoc=id:000001,src:000000\n")
	writeWorkerFile(t, root, "asan", source.FuzzerStatsFile, "run_time : 5\n")
	if err := os.WriteFile(filepath.Join(root, "main", source.BitmapFile), []byte{0x0f, 0x00}, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "starting"), 0o750); err != nil {
		t.Fatal(err)
	}

	var calls int
	c, err := Load(quietStore(), root, func(cur, total int) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Workers) != 3 {
		t.Errorf("Workers = %v, want 3 directories", c.Workers)
	}
	if len(c.Stats) != 2 {
		t.Fatalf("Stats = %d, want 2", len(c.Stats))
	}
	ws, ok := c.Worker("main")
	if !ok || ws.Coverage != 25 || ws.SavedCrashes != 2 {
		t.Errorf("main stats = %+v", ws)
	}
	if c.DefaultWorker() != "main" {
		t.Errorf("DefaultWorker = %q, want main", c.DefaultWorker())
	}
	if len(c.Plot["main"].Rows) != 2 || c.NewRows[source.PlotDataFile] != 2 {
		t.Errorf("plot rows = %d, new = %d", len(c.Plot["main"].Rows), c.NewRows[source.PlotDataFile])
	}
	if len(c.Mutations) != 1 || c.Mutations[0].Mutation != "havoc" {
		t.Errorf("Mutations = %+v", c.Mutations)
	}
	if len(c.Bitmaps) != 1 || c.Bitmaps[0].SetBits != 4 {
		t.Errorf("Bitmaps = %+v", c.Bitmaps)
	}
	entries := CurrentQueueEntries(c.Stats, c.Queue)
	if len(entries) != 1 || entries[0].Filename != "id:000001,src:000000" {
		t.Errorf("queue entries = %+v", entries)
	}
	hourly := c.Hourly()["main"]
	if len(hourly) != 2 {
		t.Errorf("hourly = %+v", hourly)
	}
	if len(c.Warnings) != 0 {
		t.Errorf("Warnings = %v", c.Warnings)
	}
	if len(c.Timings) != 4 || c.Timings[0].Name != source.FuzzerStatsFile || c.Timings[3].Name != source.IntrospectionFile {
		t.Errorf("Timings = %+v, want one per logical file in load order", c.Timings)
	}
	if calls == 0 {
		t.Error("progress callback never called")
	}
}

func TestLoad_SourceChanges(t *testing.T) {
	restart := func(t *testing.T, root string) {
		t.Helper()
		writeWorkerFile(t, root, "main", source.PlotDataFile,
			plotFile(plotLine(100, 0, 900), plotLine(101, 0, 900), plotLine(102, 0, 900)))
	}

	t.Run("held", func(t *testing.T) {
		root := t.TempDir()
		writeWorkerFile(t, root, "main", source.PlotDataFile, plotFile(plotLine(1, 0, 900), plotLine(2, 0, 900)))
		st := quietStore(WithResetOnSchemaChange(false))
		if _, err := Load(st, root, nil); err != nil {
			t.Fatal(err)
		}
		restart(t, root)

		for i := 0; i < 3; i++ {
			c, err := Load(st, root, nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(c.Resets) != 0 {
				t.Errorf("poll %d: Resets = %v, want none for a held source", i, c.Resets)
			}
			if len(c.Held) != 1 || len(c.Warnings) != 1 {
				t.Fatalf("poll %d: Held = %v, Warnings = %v", i, c.Held, c.Warnings)
			}
			if !strings.Contains(c.Warnings[0], "held until reset") || strings.Contains(c.Warnings[0], "re-read") {
				t.Errorf("poll %d: warning = %q", i, c.Warnings[0])
			}
			if got := len(c.Plot["main"].Rows); got != 2 {
				t.Errorf("poll %d: plot rows = %d, want the 2 held rows", i, got)
			}
		}

		st.ReleaseHeld()
		c, err := Load(st, root, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(c.Held) != 0 || len(c.Warnings) != 0 || len(c.Plot["main"].Rows) != 3 {
			t.Errorf("after release: Held = %v, Warnings = %v, rows = %d", c.Held, c.Warnings, len(c.Plot["main"].Rows))
		}
	})

	t.Run("reset", func(t *testing.T) {
		root := t.TempDir()
		writeWorkerFile(t, root, "main", source.PlotDataFile, plotFile(plotLine(1, 0, 900), plotLine(2, 0, 900)))
		st := quietStore()
		if _, err := Load(st, root, nil); err != nil {
			t.Fatal(err)
		}
		restart(t, root)

		c, err := Load(st, root, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(c.Resets) != 1 || !strings.Contains(c.Resets[0], "re-read from the start") {
			t.Errorf("Resets = %v", c.Resets)
		}
		if len(c.Warnings) != 0 || len(c.Held) != 0 {
			t.Errorf("Warnings = %v, Held = %v", c.Warnings, c.Held)
		}
		if got := c.Plot["main"].Column("relative_time"); len(got) != 3 || got[0] != 100 {
			t.Errorf("relative_time = %v, want the restarted run only", got)
		}

		c, err = Load(st, root, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(c.Resets) != 0 {
			t.Errorf("Resets on the next poll = %v, want none", c.Resets)
		}
	})
}

func TestLoad_MissingOutDir(t *testing.T) {
	c, err := Load(quietStore(), filepath.Join(t.TempDir(), "absent"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Stats) != 0 || c.DefaultWorker() != "" {
		t.Errorf("campaign = %+v", c)
	}
}
