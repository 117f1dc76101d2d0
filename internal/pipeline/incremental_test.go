package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
)

const testPlotHeader = "# relative_time, cycles_done, cur_item, corpus_count, pending_total, pending_favs, map_size, saved_crashes, saved_hangs, max_depth, execs_per_sec, total_execs, edges_found"

func quietStore(opts ...StoreOption) *Store {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(append([]StoreOption{WithLogger(logger)}, opts...)...)
}

func plotLine(sec, crashes int, speed float64) string {
	return fmt.Sprintf("%d, 0, %d, 10, 2, 1, 0.50%%, %d, 0, 3, %.2f, %d, %d",
		sec, sec%7, crashes, speed, sec*1000, 100+sec/60)
}

// writeWorkerFile writes root/worker/name, creating the worker directory.
func writeWorkerFile(t *testing.T, root, worker, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, worker)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func plotFile(lines ...string) string {
	return testPlotHeader + "\n" + strings.Join(lines, "\n") + "\n"
}

func TestRefresh_ColdStartAndTail(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", source.PlotDataFile,
		plotFile(plotLine(1, 0, 900), plotLine(2, 0, 910), plotLine(3, 1, 920)))

	srcs, err := source.Discover(root, source.PlotDataFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 1 || srcs[0].Key != "main" {
		t.Fatalf("Discover = %v, want one source keyed main", srcs)
	}

	st := quietStore()
	d, err := st.Refresh(srcs[0])
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if len(d.Rows) != 3 {
		t.Errorf("first Delta = %d rows, want 3", len(d.Rows))
	}
	before, _ := st.Snapshot(srcs[0])
	if len(before.Rows) != 3 {
		t.Fatalf("row count = %d, want 3", len(before.Rows))
	}

	appendFile(t, path, plotLine(4, 1, 930)+"\n"+plotLine(5, 2, 940)+"\n")

	d, err = st.Refresh(srcs[0])
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if len(d.Rows) != 2 {
		t.Errorf("second Delta = %d rows, want 2", len(d.Rows))
	}
	after, _ := st.Snapshot(srcs[0])
	if len(after.Rows) != 5 {
		t.Fatalf("row count = %d, want 5", len(after.Rows))
	}
	for i := 0; i < 3; i++ {
		if after.Rows[i]["relative_time"] != before.Rows[i]["relative_time"] {
			t.Errorf("row %d changed: %v -> %v", i, before.Rows[i], after.Rows[i])
		}
	}
	if after.Rows[4]["relative_time"] != "5" {
		t.Errorf("last row relative_time = %q, want 5", after.Rows[4]["relative_time"])
	}
}

func TestRefresh_IdempotentNoOp(t *testing.T) {
	root := t.TempDir()
	writeWorkerFile(t, root, "main", source.PlotDataFile, plotFile(plotLine(1, 0, 900)))
	src := source.LogSource{Key: "main", Path: filepath.Join(root, "main", source.PlotDataFile), Kind: source.PlotData}

	st := quietStore()
	if _, err := st.Refresh(src); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		d, err := st.Refresh(src)
		if err != nil {
			t.Fatal(err)
		}
		if len(d.Rows) != 0 {
			t.Errorf("refresh %d returned %d rows, want 0", i, len(d.Rows))
		}
	}
	tbl, _ := st.Snapshot(src)
	if len(tbl.Rows) != 1 {
		t.Errorf("row count = %d, want 1", len(tbl.Rows))
	}
}

func TestRefresh_InterleavedAppendsNoDuplicates(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", source.PlotDataFile, testPlotHeader+"\n")
	src := source.LogSource{Key: "main", Path: path, Kind: source.PlotData}

	st := quietStore()
	prev := 0
	next := 1
	for round := 0; round < 6; round++ {
		var b strings.Builder
		for i := 0; i < round; i++ {
			b.WriteString(plotLine(next, 0, 800) + "\n")
			next++
		}
		appendFile(t, path, b.String())

		if _, err := st.Refresh(src); err != nil {
			t.Fatal(err)
		}
		tbl, _ := st.Snapshot(src)
		if len(tbl.Rows) < prev {
			t.Fatalf("round %d: row count shrank from %d to %d", round, prev, len(tbl.Rows))
		}
		prev = len(tbl.Rows)
	}

	tbl, _ := st.Snapshot(src)
	if len(tbl.Rows) != next-1 {
		t.Fatalf("row count = %d, want %d", len(tbl.Rows), next-1)
	}
	seen := make(map[string]bool)
	for _, r := range tbl.Rows {
		if seen[r["relative_time"]] {
			t.Errorf("duplicate row relative_time=%s", r["relative_time"])
		}
		seen[r["relative_time"]] = true
	}
}

func TestRefresh_PartialLineCompletedLater(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", source.PlotDataFile,
		plotFile(plotLine(1, 0, 900))+"2, 0, 2, 10")
	src := source.LogSource{Key: "main", Path: path, Kind: source.PlotData}

	st := quietStore()
	d, err := st.Refresh(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Rows) != 1 || d.Skipped != 0 {
		t.Fatalf("Delta = %d rows / %d skipped, want 1 / 0", len(d.Rows), d.Skipped)
	}

	appendFile(t, path, ", 2, 1, 0.50%, 0, 0, 3, 905.00, 2000, 100\n")
	d, err = st.Refresh(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Rows) != 1 || d.Rows[0]["relative_time"] != "2" {
		t.Errorf("Delta = %v, want the completed row", d.Rows)
	}
}

func TestRefresh_MalformedRowsSkippedOnce(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", source.PlotDataFile,
		plotFile(plotLine(1, 0, 900), "garbage", plotLine(2, 0, 900)))
	src := source.LogSource{Key: "main", Path: path, Kind: source.PlotData}

	st := quietStore()
	d, err := st.Refresh(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Rows) != 2 || d.Skipped != 1 {
		t.Fatalf("Delta = %d rows / %d skipped, want 2 / 1", len(d.Rows), d.Skipped)
	}

	appendFile(t, path, plotLine(3, 0, 900)+"\n")
	d, err = st.Refresh(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Rows) != 1 || d.Skipped != 0 {
		t.Errorf("Delta = %d rows / %d skipped, want 1 / 0", len(d.Rows), d.Skipped)
	}
	tbl, _ := st.Snapshot(src)
	if tbl.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", tbl.Skipped)
	}
}

func TestRefresh_MissingThenAppears(t *testing.T) {
	root := t.TempDir()
	src := source.LogSource{Key: "main", Path: filepath.Join(root, "main", source.PlotDataFile), Kind: source.PlotData}

	st := quietStore()
	d, err := st.Refresh(src)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(d.Rows) != 0 {
		t.Errorf("Delta = %d rows, want 0", len(d.Rows))
	}

	writeWorkerFile(t, root, "main", source.PlotDataFile, testPlotHeader+"\n")
	if d, _ = st.Refresh(src); len(d.Rows) != 0 {
		t.Errorf("header-only Delta = %d rows, want 0", len(d.Rows))
	}

	appendFile(t, src.Path, plotLine(1, 0, 900)+"\n")
	if d, _ = st.Refresh(src); len(d.Rows) != 1 {
		t.Errorf("Delta = %d rows, want 1", len(d.Rows))
	}
}

func TestRefresh_SchemaMismatch(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "w1", "stats.csv", "a,b,c\n1,2,3\n")
	src := source.LogSource{Key: "w1", Path: path, Kind: source.GenericCSV}

	st := quietStore(WithResetOnSchemaChange(false))
	if _, err := st.Refresh(src); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("a,b,d\n1,2,3\n4,5,6\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := st.Refresh(src)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
	var sme *SchemaMismatchError
	if !errors.As(err, &sme) || sme.Got[2] != "d" {
		t.Errorf("SchemaMismatchError = %+v", sme)
	}
	if len(d.Rows) != 0 {
		t.Errorf("Delta = %d rows, want 0", len(d.Rows))
	}
	tbl, _ := st.Snapshot(src)
	if len(tbl.Rows) != 1 || tbl.Columns[2] != "c" {
		t.Errorf("state changed after mismatch: %+v", tbl)
	}

	// Held until reset.
	if _, err := st.Refresh(src); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("second refresh err = %v, want ErrSchemaMismatch", err)
	}
	st.Reset(path)
	d, err = st.Refresh(src)
	if err != nil {
		t.Fatalf("after reset: %v", err)
	}
	if len(d.Rows) != 2 {
		t.Errorf("after reset Delta = %d rows, want 2", len(d.Rows))
	}
}

func TestRefresh_SchemaMismatchResets(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "w1", "stats.csv", "a,b,c\n1,2,3\n")
	src := source.LogSource{Key: "w1", Path: path, Kind: source.GenericCSV}

	st := quietStore()
	if _, err := st.Refresh(src); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("a,b,d\n1,2,3\n4,5,6\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Refresh(src); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
	if _, ok := st.Snapshot(src); ok {
		t.Fatal("state kept after mismatch with reset enabled")
	}
	d, err := st.Refresh(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Rows) != 2 || d.Rows[0]["d"] != "3" {
		t.Errorf("re-ingest Delta = %v", d.Rows)
	}
}

func TestRefresh_Truncated(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", source.PlotDataFile,
		plotFile(plotLine(1, 0, 900), plotLine(2, 0, 900), plotLine(3, 0, 900)))
	src := source.LogSource{Key: "main", Path: path, Kind: source.PlotData}

	st := quietStore()
	if _, err := st.Refresh(src); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(plotFile(plotLine(1, 0, 900))), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Refresh(src); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestRefresh_RewrittenPastCursor(t *testing.T) {
	first := plotFile(plotLine(1, 0, 900), plotLine(2, 0, 900))
	restarted := plotFile(plotLine(100, 0, 900), plotLine(101, 0, 900), plotLine(102, 0, 900))

	t.Run("reset", func(t *testing.T) {
		root := t.TempDir()
		path := writeWorkerFile(t, root, "main", source.PlotDataFile, first)
		src := source.LogSource{Key: "main", Path: path, Kind: source.PlotData}

		st := quietStore()
		if _, err := st.Refresh(src); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(restarted), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := st.Refresh(src); !errors.Is(err, ErrTruncated) {
			t.Fatalf("err = %v, want ErrTruncated", err)
		}
		if _, err := st.Refresh(src); err != nil {
			t.Fatal(err)
		}
		tbl, _ := st.Snapshot(src)
		got := tbl.Column("relative_time")
		if len(got) != 3 || got[0] != 100 || got[2] != 102 {
			t.Errorf("relative_time = %v, want [100 101 102]", got)
		}
	})

	t.Run("held", func(t *testing.T) {
		root := t.TempDir()
		path := writeWorkerFile(t, root, "main", source.PlotDataFile, first)
		src := source.LogSource{Key: "main", Path: path, Kind: source.PlotData}

		st := quietStore(WithResetOnSchemaChange(false))
		if _, err := st.Refresh(src); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(restarted), 0o600); err != nil {
			t.Fatal(err)
		}
		d, err := st.Refresh(src)
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("err = %v, want ErrTruncated", err)
		}
		if !d.Held {
			t.Error("Delta.Held = false, want true")
		}
		tbl, _ := st.Snapshot(src)
		if got := tbl.Column("relative_time"); len(got) != 2 || got[1] != 2 {
			t.Errorf("relative_time = %v, want [1 2]", got)
		}
	})

	t.Run("append after unchanged prefix", func(t *testing.T) {
		root := t.TempDir()
		path := writeWorkerFile(t, root, "main", source.PlotDataFile, first)
		src := source.LogSource{Key: "main", Path: path, Kind: source.PlotData}

		st := quietStore()
		if _, err := st.Refresh(src); err != nil {
			t.Fatal(err)
		}
		grown := plotFile(plotLine(1, 0, 900), plotLine(2, 0, 900), plotLine(3, 0, 900))
		if err := os.WriteFile(path, []byte(grown), 0o600); err != nil {
			t.Fatal(err)
		}
		d, err := st.Refresh(src)
		if err != nil {
			t.Fatal(err)
		}
		if len(d.Rows) != 1 || d.Rows[0].Value("relative_time") != 3 {
			t.Errorf("Delta = %v, want the single appended row", d.Rows)
		}
	})
}

func TestReleaseHeld(t *testing.T) {
	root := t.TempDir()
	held := writeWorkerFile(t, root, "main", "custom.csv", "a,b\n1,2\n")
	healthy := writeWorkerFile(t, root, "asan", "custom.csv", "a,b\n3,4\n")
	heldSrc := source.LogSource{Key: "main", Path: held, Kind: source.GenericCSV}
	healthySrc := source.LogSource{Key: "asan", Path: healthy, Kind: source.GenericCSV}

	st := quietStore(WithResetOnSchemaChange(false))
	for _, src := range []source.LogSource{heldSrc, healthySrc} {
		if _, err := st.Refresh(src); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(held, []byte("a,c\n5,6\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Refresh(heldSrc); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}

	released := st.ReleaseHeld()
	if len(released) != 1 || released[0] != held {
		t.Fatalf("ReleaseHeld = %v, want [%s]", released, held)
	}
	if _, ok := st.Snapshot(healthySrc); !ok {
		t.Error("healthy source was released")
	}
	d, err := st.Refresh(heldSrc)
	if err != nil {
		t.Fatalf("after release: %v", err)
	}
	if len(d.Rows) != 1 || d.Rows[0]["c"] != "6" {
		t.Errorf("Delta after release = %v", d.Rows)
	}
	if got := st.ReleaseHeld(); len(got) != 0 {
		t.Errorf("second ReleaseHeld = %v, want none", got)
	}
}

func TestRefresh_FuzzerStatsFullReread(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", source.FuzzerStatsFile,
		"run_time : 60\nedges_found : 10\ntotal_edges : 100\n")
	src := source.LogSource{Key: "main", Path: path, Kind: source.FuzzerStats}

	st := quietStore()
	d, err := st.Refresh(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Rows) != 1 || d.Rows[0]["run_time"] != "60" {
		t.Fatalf("first Delta = %v", d.Rows)
	}

	if err := os.WriteFile(path, []byte("run_time : 120\nedges_found : 25\ntotal_edges : 100\nsaved_crashes : 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err = st.Refresh(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Rows) != 1 {
		t.Fatalf("second Delta = %d rows, want 1", len(d.Rows))
	}
	if d.Rows[0]["run_time"] != "120" || d.Rows[0]["saved_crashes"] != "1" {
		t.Errorf("second Delta = %v, want the complete new record", d.Rows[0])
	}

	// Unchanged file still yields the full record.
	d, _ = st.Refresh(src)
	if len(d.Rows) != 1 || d.Rows[0]["edges_found"] != "25" {
		t.Errorf("unchanged Delta = %v", d.Rows)
	}

	tbl, _ := st.Snapshot(src)
	if len(tbl.Rows) != 1 || len(tbl.Columns) != 4 {
		t.Errorf("snapshot = %+v", tbl)
	}

	// A file caught mid-rewrite keeps the previous record.
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Refresh(src); err != nil {
		t.Fatal(err)
	}
	tbl, _ = st.Snapshot(src)
	if len(tbl.Rows) != 1 || tbl.Rows[0]["run_time"] != "120" {
		t.Errorf("snapshot after empty rewrite = %v", tbl.Rows)
	}
}

func TestRefresh_FuzzerStatsSkippedNotAccumulated(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", source.FuzzerStatsFile,
		"run_time : 60\nnot a stat\nedges_found : 10\n")
	src := source.LogSource{Key: "main", Path: path, Kind: source.FuzzerStats}

	st := quietStore()
	for i := 0; i < 3; i++ {
		if _, err := st.Refresh(src); err != nil {
			t.Fatal(err)
		}
	}
	tbl, _ := st.Snapshot(src)
	if tbl.Skipped != 1 {
		t.Errorf("Skipped after three re-reads = %d, want 1", tbl.Skipped)
	}
}

func TestCombinedView(t *testing.T) {
	root := t.TempDir()
	writeWorkerFile(t, root, "main", source.PlotDataFile, plotFile(plotLine(1, 0, 900), plotLine(2, 0, 900)))
	writeWorkerFile(t, root, "asan", source.PlotDataFile, plotFile(plotLine(1, 0, 300)))
	writeWorkerFile(t, root, "cmplog", source.FuzzerStatsFile, "run_time : 1\n")

	st := quietStore()
	v, err := st.CombinedView(root, source.PlotDataFile)
	if err != nil {
		t.Fatal(err)
	}
	keys := v.Keys()
	if len(keys) != 2 || keys[0] != "asan" || keys[1] != "main" {
		t.Fatalf("Keys = %v, want [asan main]", keys)
	}
	if v.NewRows() != 3 {
		t.Errorf("NewRows = %d, want 3", v.NewRows())
	}

	// A worker directory that disappears keeps its accumulated rows.
	if err := os.RemoveAll(filepath.Join(root, "asan")); err != nil {
		t.Fatal(err)
	}
	v, err = st.CombinedView(root, source.PlotDataFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Tables["asan"].Rows) != 1 {
		t.Errorf("asan rows = %d, want 1", len(v.Tables["asan"].Rows))
	}
	if v.NewRows() != 0 {
		t.Errorf("NewRows = %d, want 0", v.NewRows())
	}
}

func TestCombinedView_ReingestsAfterSchemaChange(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", "custom.csv", "a,b\n1,2\n")

	st := quietStore()
	if _, err := st.CombinedView(root, "custom.csv"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("a,c\n7,8\n9,10\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := st.CombinedView(root, "custom.csv")
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
	if !v.Deltas["main"].Reset {
		t.Error("Delta.Reset = false, want true")
	}
	if got := v.Tables["main"]; len(got.Rows) != 2 || got.Columns[1] != "c" {
		t.Errorf("table after re-ingest = %+v", got)
	}
}

func TestCombinedView_FailedReingestKeepsError(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", "custom.csv", "a,b\n1,2\n")

	errDisk := errors.New("disk went away")
	st := quietStore()
	calls := 0
	st.read = func(src source.LogSource, skip int) (source.ReadResult, error) {
		calls++
		if calls > 2 {
			return source.ReadResult{}, errDisk
		}
		return source.ReadTail(src, skip)
	}

	if _, err := st.CombinedView(root, "custom.csv"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("a,c\n7,8\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := st.CombinedView(root, "custom.csv")
	if !errors.Is(err, ErrSchemaMismatch) || !errors.Is(err, errDisk) {
		t.Fatalf("err = %v, want both the mismatch and the re-read failure", err)
	}
	if !errors.Is(v.Errors["main"], errDisk) {
		t.Errorf("Errors[main] = %v, want the re-read failure joined in", v.Errors["main"])
	}
	if v.Deltas["main"].Reset {
		t.Error("Delta.Reset = true for a failed re-read")
	}
	if _, ok := v.Tables["main"]; ok {
		t.Error("table present after a failed re-read")
	}
}

func TestCombinedView_EmptyRoot(t *testing.T) {
	st := quietStore()
	v, err := st.CombinedView(filepath.Join(t.TempDir(), "nothing"), source.PlotDataFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.Tables) != 0 {
		t.Errorf("Tables = %d, want 0", len(v.Tables))
	}
}

func TestCombinedView_ConcurrentReaders(t *testing.T) {
	root := t.TempDir()
	path := writeWorkerFile(t, root, "main", source.PlotDataFile, plotFile(plotLine(1, 0, 900)))
	src := source.LogSource{Key: "main", Path: path, Kind: source.PlotData}

	st := quietStore()
	if _, err := st.Refresh(src); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			t.Error(err)
			return
		}
		defer func() { _ = f.Close() }()
		for i := 2; i < 50; i++ {
			if _, err := f.WriteString(plotLine(i, 0, 900) + "\n"); err != nil {
				t.Error(err)
				return
			}
			_, _ = st.CombinedView(root, source.PlotDataFile)
		}
	}()
	go func() {
		defer wg.Done()
		last := 0
		for i := 0; i < 200; i++ {
			tbl, _ := st.Snapshot(src)
			if len(tbl.Rows) < last {
				t.Errorf("row count went backwards: %d -> %d", last, len(tbl.Rows))
				return
			}
			last = len(tbl.Rows)
		}
	}()
	wg.Wait()

	tbl, _ := st.Snapshot(src)
	if len(tbl.Rows) != 49 {
		t.Errorf("row count = %d, want 49", len(tbl.Rows))
	}
}

func TestStoreSessionID(t *testing.T) {
	a, b := quietStore(), quietStore()
	if a.SessionID() == "" || a.SessionID() == b.SessionID() {
		t.Errorf("session IDs %q and %q should be distinct and non-empty", a.SessionID(), b.SessionID())
	}
}
