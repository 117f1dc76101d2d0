package daemon

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
)

func newTestService(t *testing.T, outDir string) *Service {
	t.Helper()
	return New(Config{
		OutDir:              outDir,
		Interval:            10 * time.Second,
		EventsBuffer:        10,
		ResetOnSchemaChange: true,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func writeWorker(t *testing.T, root, worker, name, content string) {
	t.Helper()
	dir := filepath.Join(root, worker)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

const plotHeader = "# relative_time, cycles_done, cur_item, corpus_count, pending_total, pending_favs, map_size, saved_crashes, saved_hangs, max_depth, execs_per_sec, total_execs, edges_found\n"

func TestDiffSnapshots(t *testing.T) {
	prev := Snapshot{ExecsDone: 1000, CorpusCount: 10, SavedCrashes: 1, SavedHangs: 0}
	curr := Snapshot{ExecsDone: 1500, CorpusCount: 12, SavedCrashes: 3, SavedHangs: 1}
	c := &pipeline.Campaign{NewRows: map[string]int{source.PlotDataFile: 4, source.IntrospectionFile: 2}}

	delta := diffSnapshots(prev, curr, c)
	if delta.ExecsDone != 500 {
		t.Fatalf("ExecsDone delta = %d, want 500", delta.ExecsDone)
	}
	if delta.CorpusCount != 2 || delta.SavedCrashes != 2 || delta.SavedHangs != 1 {
		t.Fatalf("delta = %+v", delta)
	}
	if delta.NewPlotRows != 4 || delta.NewMutations != 2 {
		t.Fatalf("row deltas = %d/%d, want 4/2", delta.NewPlotRows, delta.NewMutations)
	}
	if delta.isZero() {
		t.Fatal("delta unexpectedly reported as zero")
	}
	if !diffSnapshots(curr, curr, &pipeline.Campaign{}).isZero() {
		t.Fatal("identical snapshots produced a non-zero delta")
	}
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := New(Config{
		OutDir:       ".",
		Interval:     10 * time.Second,
		EventsBuffer: 2,
	})

	s.publishEvent(Event{ID: 1})
	s.publishEvent(Event{ID: 2})
	s.publishEvent(Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) != 2 {
		t.Fatalf("events len = %d, want 2", len(s.events))
	}
	if s.events[0].ID != 2 || s.events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", s.events[0].ID, s.events[1].ID)
	}
}

func TestPollOnceEvents(t *testing.T) {
	root := t.TempDir()
	writeWorker(t, root, "main", source.FuzzerStatsFile, "execs_done : 100\nsaved_crashes : 0\n")
	writeWorker(t, root, "main", source.PlotDataFile, plotHeader+"1, 0, 0, 1, 1, 1, 0.1%, 0, 0, 1, 100, 100, 10\n")

	s := newTestService(t, root)
	s.pollOnce()

	// Nothing changed: no new event.
	s.pollOnce()

	writeWorker(t, root, "main", source.FuzzerStatsFile, "execs_done : 300\nsaved_crashes : 1\n")
	s.pollOnce()

	s.mu.RLock()
	events := append([]Event(nil), s.events...)
	pollCount := s.pollCount
	s.mu.RUnlock()

	if pollCount != 3 {
		t.Errorf("pollCount = %d, want 3", pollCount)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v, want snapshot then crash", events)
	}
	if events[0].Type != EventSnapshot || events[0].Snapshot.PlotRows != 1 {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Type != EventCrash || events[1].Delta.ExecsDone != 200 || events[1].Delta.SavedCrashes != 1 {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestPollOnceSchemaReset(t *testing.T) {
	root := t.TempDir()
	writeWorker(t, root, "main", source.PlotDataFile, plotHeader+"1, 0, 0, 1, 1, 1, 0.1%, 0, 0, 1, 100, 100, 10\n")

	s := newTestService(t, root)
	s.pollOnce()

	writeWorker(t, root, "main", source.PlotDataFile, "# relative_time, other\n5, 6\n")
	s.pollOnce()

	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	for _, ev := range s.events {
		if ev.Type == EventSchemaReset && ev.Message != "" {
			found = true
		}
	}
	if !found {
		t.Errorf("no schema_reset event in %+v", s.events)
	}
	if got := s.campaign.Plot["main"]; len(got.Rows) != 1 || got.Columns[1] != "other" {
		t.Errorf("plot after reset = %+v", got)
	}
}

func TestPollOnceSchemaResetStatus(t *testing.T) {
	root := t.TempDir()
	writeWorker(t, root, "main", source.PlotDataFile, plotHeader+"1, 0, 0, 1, 1, 1, 0.1%, 0, 0, 1, 100, 100, 10\n")

	s := newTestService(t, root)
	s.pollOnce()
	writeWorker(t, root, "main", source.PlotDataFile, "# relative_time, other\n5, 6\n")
	s.pollOnce()
	s.pollOnce()

	var st Status
	getJSON(t, s.Handler(), "/v1/status", http.StatusOK, &st)
	if len(st.Resets) != 1 || !strings.Contains(st.Resets[0], "main/plot_data") {
		t.Errorf("Resets = %v, want the plot_data reset", st.Resets)
	}
	if len(st.Held) != 0 || len(st.Warnings) != 0 {
		t.Errorf("Held = %v, Warnings = %v", st.Held, st.Warnings)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == EventSchemaReset {
			n++
		}
	}
	if n != 1 {
		t.Errorf("schema_reset events = %d, want 1", n)
	}
}

func TestPollOnceSchemaHeld(t *testing.T) {
	root := t.TempDir()
	writeWorker(t, root, "main", source.PlotDataFile, plotHeader+"1, 0, 0, 1, 1, 1, 0.1%, 0, 0, 1, 100, 100, 10\n")

	s := New(Config{
		OutDir:       root,
		Interval:     10 * time.Second,
		EventsBuffer: 10,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h := s.Handler()
	s.pollOnce()

	writeWorker(t, root, "main", source.PlotDataFile, "# relative_time, other\n5, 6\n")
	for i := 0; i < 3; i++ {
		s.pollOnce()
	}

	countEvents := func(typ string) int {
		s.mu.RLock()
		defer s.mu.RUnlock()
		n := 0
		for _, ev := range s.events {
			if ev.Type == typ {
				n++
			}
		}
		return n
	}
	if n := countEvents(EventSchemaHeld); n != 1 {
		t.Errorf("schema_held events = %d, want 1", n)
	}
	if n := countEvents(EventSchemaReset); n != 0 {
		t.Errorf("schema_reset events = %d, want 0", n)
	}

	var st Status
	getJSON(t, h, "/v1/status", http.StatusOK, &st)
	if len(st.Held) != 1 || len(st.Resets) != 0 {
		t.Fatalf("Held = %v, Resets = %v", st.Held, st.Resets)
	}
	if !strings.Contains(st.Held[0], "held until reset") {
		t.Errorf("Held[0] = %q", st.Held[0])
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/release", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("release = %d %s", rec.Code, rec.Body.String())
	}
	var released struct {
		Released []string `json:"released"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &released); err != nil {
		t.Fatal(err)
	}
	if len(released.Released) != 1 {
		t.Errorf("released = %v, want one path", released.Released)
	}

	s.pollOnce()
	getJSON(t, h, "/v1/status", http.StatusOK, &st)
	if len(st.Held) != 0 {
		t.Errorf("Held after release = %v", st.Held)
	}
	if got := s.currentCampaign().Plot["main"]; len(got.Rows) != 1 || got.Columns[1] != "other" {
		t.Errorf("plot after release = %+v", got)
	}
}

func getJSON(t *testing.T, h http.Handler, path string, wantStatus int, v any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("GET %s = %d, want %d: %s", path, rec.Code, wantStatus, rec.Body.String())
	}
	if v != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
			t.Fatalf("GET %s: decoding %q: %v", path, rec.Body.String(), err)
		}
	}
}

func TestHandlers(t *testing.T) {
	root := t.TempDir()
	writeWorker(t, root, "main", source.FuzzerStatsFile,
		"cur_item : 1\nedges_found : 50\ntotal_edges : 200\nexecs_per_sec : 812.5\n")
	writeWorker(t, root, "main", source.PlotDataFile, plotHeader+
		"1, 0, 0, 1, 1, 1, 0.1%, 0, 0, 1, 100, 100, 10\n"+
		"2, 0, 0, 1, 1, 1, 0.1%, 0, 0, 1, 100, 200, 11\n"+
		"3, 0, 1, 2, 1, 1, 0.1%, 0, 0, 1, 100, 300, 12\n")
	writeWorker(t, root, "main", source.QueueDataFile, "# filename, depth\n\"id:000000,orig:a\", 1\n\"id:000001,src:000000\", 2\n")
	writeWorker(t, root, "main", source.IntrospectionFile,
		"QUEUE id:000000,orig havoc=id:000001,src:000000\nQUEUE id:000001 splice=id:000002\n")

	s := newTestService(t, root)
	h := s.Handler()

	// Before the first poll.
	getJSON(t, h, "/v1/workers", http.StatusServiceUnavailable, nil)

	s.pollOnce()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	var st Status
	getJSON(t, h, "/v1/status", http.StatusOK, &st)
	if st.SessionID == "" || st.PollCount != 1 || st.Summary.Workers != 1 {
		t.Errorf("status = %+v", st)
	}
	if len(st.RefreshMillis) != 4 || st.RefreshMillis[1].File != source.PlotDataFile {
		t.Errorf("refresh timings = %+v", st.RefreshMillis)
	}

	var workers []workerSummary
	getJSON(t, h, "/v1/workers", http.StatusOK, &workers)
	if len(workers) != 1 || workers[0].Coverage != 25 {
		t.Errorf("workers = %+v", workers)
	}
	getJSON(t, h, "/v1/workers/nope", http.StatusNotFound, nil)

	var plot plotResponse
	getJSON(t, h, "/v1/workers/main/plot?since=1", http.StatusOK, &plot)
	if plot.Total != 3 || len(plot.Rows) != 2 || plot.Rows[0]["relative_time"] != "2" {
		t.Errorf("plot = %+v", plot)
	}
	getJSON(t, h, "/v1/workers/main/plot?since=99", http.StatusOK, &plot)
	if len(plot.Rows) != 0 || plot.Since != 3 {
		t.Errorf("plot past end = %+v", plot)
	}
	getJSON(t, h, "/v1/workers/main/plot?since=-1", http.StatusBadRequest, nil)

	var queue struct {
		CurItem int64 `json:"cur_item"`
		Entries []struct {
			Filename string `json:"filename"`
		} `json:"entries"`
	}
	getJSON(t, h, "/v1/workers/main/queue", http.StatusOK, &queue)
	if queue.CurItem != 1 || len(queue.Entries) != 1 || queue.Entries[0].Filename != "id:000001,src:000000" {
		t.Errorf("queue = %+v", queue)
	}

	var mut struct {
		Mutation string `json:"mutation"`
	}
	getJSON(t, h, "/v1/mutations?result=id:000002", http.StatusOK, &mut)
	if mut.Mutation != "splice" {
		t.Errorf("mutation = %+v", mut)
	}
	getJSON(t, h, "/v1/mutations?result=id:999", http.StatusNotFound, nil)

	var all []map[string]any
	getJSON(t, h, "/v1/mutations", http.StatusOK, &all)
	if len(all) != 2 {
		t.Errorf("mutations = %d, want 2", len(all))
	}

	getJSON(t, h, "/v1/workers/main/history", http.StatusNotFound, nil)

	var events []Event
	getJSON(t, h, "/v1/events", http.StatusOK, &events)
	if len(events) != 1 || events[0].Type != EventSnapshot {
		t.Errorf("events = %+v", events)
	}
}
