package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
)

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/release", s.handleRelease)
		r.Get("/events", s.handleEvents)
		r.Get("/stream", s.handleStream)
		r.Get("/mutations", s.handleMutations)
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleWorkers)
			r.Route("/{worker}", func(r chi.Router) {
				r.Get("/", s.handleWorker)
				r.Get("/plot", s.handlePlot)
				r.Get("/queue", s.handleQueue)
				r.Get("/history", s.handleHistory)
			})
		})
	})
	return r
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus())
}

// handleRelease lets held sources be re-read from the start on the next poll.
func (s *Service) handleRelease(w http.ResponseWriter, _ *http.Request) {
	released := s.store.ReleaseHeld()
	for _, p := range released {
		s.logger.Info("released held source", slog.String("path", p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": released})
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Send current snapshot immediately.
	current := Event{
		Type:      EventSnapshot,
		Timestamp: time.Now(),
		Snapshot:  s.snapshotStatus().Summary,
	}
	writeSSE(w, current)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if ev.ID > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", ev.ID)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

// campaignOr503 returns the latest campaign or writes 503 before the first poll.
func (s *Service) campaignOr503(w http.ResponseWriter) *pipeline.Campaign {
	c := s.currentCampaign()
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, "no data yet")
	}
	return c
}

func (s *Service) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	c := s.campaignOr503(w)
	if c == nil {
		return
	}
	out := make([]workerSummary, 0, len(c.Stats))
	for _, ws := range c.Stats {
		out = append(out, summarizeWorker(ws))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleWorker(w http.ResponseWriter, r *http.Request) {
	c := s.campaignOr503(w)
	if c == nil {
		return
	}
	name := chi.URLParam(r, "worker")
	ws, ok := c.Worker(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown worker "+name)
		return
	}
	writeJSON(w, http.StatusOK, summarizeWorker(ws))
}

type plotResponse struct {
	Worker  string       `json:"worker"`
	Columns []string     `json:"columns"`
	Since   int          `json:"since"`
	Total   int          `json:"total"`
	Rows    []source.Row `json:"rows"`
}

// handlePlot serves plot_data rows from index since onward, letting clients
// poll for only the rows they have not seen.
func (s *Service) handlePlot(w http.ResponseWriter, r *http.Request) {
	c := s.campaignOr503(w)
	if c == nil {
		return
	}
	name := chi.URLParam(r, "worker")
	tbl, ok := c.Plot[name]
	if !ok {
		writeError(w, http.StatusNotFound, "no plot_data for worker "+name)
		return
	}

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}
	if since > len(tbl.Rows) {
		since = len(tbl.Rows)
	}

	rows := tbl.Rows[since:]
	if rows == nil {
		rows = []source.Row{}
	}
	writeJSON(w, http.StatusOK, plotResponse{
		Worker:  name,
		Columns: tbl.Columns,
		Since:   since,
		Total:   len(tbl.Rows),
		Rows:    rows,
	})
}

func (s *Service) handleQueue(w http.ResponseWriter, r *http.Request) {
	c := s.campaignOr503(w)
	if c == nil {
		return
	}
	name := chi.URLParam(r, "worker")
	ws, ok := c.Worker(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown worker "+name)
		return
	}
	entries := pipeline.CurrentQueueEntries([]model.WorkerStats{ws}, c.Queue)
	writeJSON(w, http.StatusOK, map[string]any{
		"worker":   name,
		"cur_item": ws.CurItem,
		"entries":  entries,
	})
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "snapshot history is disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	hist, err := s.cache.History(s.cfg.OutDir, chi.URLParam(r, "worker"), limit)
	if err != nil {
		s.logger.Error("reading history", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "reading history failed")
		return
	}
	out := make([]map[string]any, 0, len(hist))
	for _, h := range hist {
		out = append(out, map[string]any{
			"taken_at": h.TakenAt,
			"stats":    summarizeWorker(h.WorkerStats),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleMutations(w http.ResponseWriter, r *http.Request) {
	c := s.campaignOr503(w)
	if c == nil {
		return
	}
	q := r.URL.Query()
	if result := q.Get("result"); result != "" {
		m, ok := pipeline.FindMutation(c.Mutations, result)
		if !ok {
			writeError(w, http.StatusNotFound, "no mutation produced "+result)
			return
		}
		writeJSON(w, http.StatusOK, m)
		return
	}
	muts := pipeline.SearchMutations(c.Mutations, q.Get("q"))
	if muts == nil {
		muts = []model.Mutation{}
	}
	writeJSON(w, http.StatusOK, muts)
}
