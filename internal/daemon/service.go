// Package daemon provides the long-running background campaign monitor service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/pipeline"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/store"
)

// Config controls the daemon runtime behavior.
type Config struct {
	OutDir       string
	WorkerFilter string
	UseCache     bool
	CachePath    string
	Interval     time.Duration
	Addr         string
	EventsBuffer int

	ResetOnSchemaChange bool
	Logger              *slog.Logger
}

// Snapshot is a compact campaign state for status/event payloads.
type Snapshot struct {
	At           time.Time `json:"at"`
	Workers      int       `json:"workers"`
	ExecsDone    int64     `json:"execs_done"`
	ExecsPerSec  float64   `json:"execs_per_sec"`
	CorpusCount  int64     `json:"corpus_count"`
	SavedCrashes int64     `json:"saved_crashes"`
	SavedHangs   int64     `json:"saved_hangs"`
	MaxCoverage  float64   `json:"max_coverage"`
	PlotRows     int       `json:"plot_rows"`
	Mutations    int       `json:"mutations"`
}

// Delta captures snapshot deltas between polls.
type Delta struct {
	ExecsDone    int64 `json:"execs_done"`
	CorpusCount  int64 `json:"corpus_count"`
	SavedCrashes int64 `json:"saved_crashes"`
	SavedHangs   int64 `json:"saved_hangs"`
	NewPlotRows  int   `json:"new_plot_rows"`
	NewMutations int   `json:"new_mutations"`
}

func (d Delta) isZero() bool {
	return d.ExecsDone == 0 &&
		d.CorpusCount == 0 &&
		d.SavedCrashes == 0 &&
		d.SavedHangs == 0 &&
		d.NewPlotRows == 0 &&
		d.NewMutations == 0
}

// Event types.
const (
	EventSnapshot    = "snapshot"
	EventProgress    = "progress"
	EventCrash       = "crash"
	EventSchemaReset = "schema_reset"
	EventSchemaHeld  = "schema_held"
)

// Event is emitted whenever the campaign snapshot updates.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  Snapshot  `json:"snapshot"`
	Delta     Delta     `json:"delta"`
	Message   string    `json:"message,omitempty"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time `json:"started_at"`
	LastPollAt      time.Time `json:"last_poll_at"`
	PollIntervalSec int       `json:"poll_interval_sec"`
	PollCount       int64     `json:"poll_count"`
	OutDir          string    `json:"out_dir"`
	WorkerFilter    string    `json:"worker_filter,omitempty"`
	SessionID       string    `json:"session_id"`
	Summary         Snapshot  `json:"summary"`
	Warnings        []string  `json:"warnings,omitempty"`
	Resets          []string  `json:"resets,omitempty"`
	Held            []string  `json:"held,omitempty"`
	RefreshMillis   []Timing  `json:"refresh_ms,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	EventCount      int       `json:"event_count"`
	SubscriberCount int       `json:"subscriber_count"`
}

// Timing is the last refresh time of one logical file.
type Timing struct {
	File   string  `json:"file"`
	Millis float64 `json:"ms"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg    Config
	logger *slog.Logger
	store  *pipeline.Store
	cache  *store.Cache

	mu          sync.RWMutex
	startedAt   time.Time
	lastPollAt  time.Time
	pollCount   int64
	lastError   string
	hasSnapshot bool
	snapshot    Snapshot
	campaign    *pipeline.Campaign
	nextEventID int64
	events      []Event
	resets      []string            // most recent non-empty reset list
	held        map[string]struct{} // held messages already announced

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service with the provided config.
func New(cfg Config) *Service {
	if cfg.Interval < 2*time.Second {
		cfg.Interval = 15 * time.Second
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cfg:    cfg,
		logger: logger,
		store: pipeline.NewStore(
			pipeline.WithLogger(logger),
			pipeline.WithResetOnSchemaChange(cfg.ResetOnSchemaChange),
		),
		startedAt: time.Now(),
		held:      make(map[string]struct{}),
		subs:      make(map[int]chan Event),
	}
}

// Run starts HTTP endpoints and polling until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.UseCache && s.cfg.CachePath != "" {
		cache, err := store.Open(s.cfg.CachePath)
		if err != nil {
			s.logger.Warn("snapshot history disabled", slog.String("error", err.Error()))
		} else {
			s.cache = cache
			defer func() { _ = cache.Close() }()
		}
	}

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("daemon listening",
		slog.String("addr", s.cfg.Addr),
		slog.String("out_dir", s.cfg.OutDir),
		slog.Duration("interval", s.cfg.Interval))

	// Seed initial snapshot so status is useful immediately.
	s.pollOnce()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			s.pollOnce()
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

func (s *Service) pollOnce() {
	c, err := pipeline.Load(s.store, s.cfg.OutDir, nil)
	if err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.lastPollAt = time.Now()
		s.pollCount++
		s.mu.Unlock()
		s.logger.Error("poll failed", slog.String("error", err.Error()))
		return
	}
	c.Stats = pipeline.FilterWorkers(c.Stats, s.cfg.WorkerFilter)

	now := time.Now()
	snap := snapshotFromCampaign(c, now)

	if s.cache != nil {
		if err := s.cache.SaveSnapshots(s.cfg.OutDir, c.Stats, now); err != nil {
			s.logger.Warn("saving snapshot history", slog.String("error", err.Error()))
		}
	}
	for _, w := range c.Warnings {
		s.logger.Warn("source refresh failed", slog.String("detail", w))
	}
	for _, r := range c.Resets {
		s.logger.Info("source re-read after incompatible change", slog.String("detail", r))
	}
	for _, ft := range c.Timings {
		s.logger.Debug("refreshed file", slog.String("file", ft.Name), slog.Duration("elapsed", ft.Elapsed))
	}

	var pending []Event

	s.mu.Lock()
	prev := s.snapshot
	prevExists := s.hasSnapshot

	s.hasSnapshot = true
	s.snapshot = snap
	s.campaign = c
	s.lastPollAt = now
	s.pollCount++
	s.lastError = ""

	if len(c.Resets) > 0 {
		s.resets = c.Resets
	}
	for _, r := range c.Resets {
		s.nextEventID++
		pending = append(pending, Event{
			ID:        s.nextEventID,
			Type:      EventSchemaReset,
			Timestamp: now,
			Snapshot:  snap,
			Message:   r,
		})
	}

	// A held source fails the same way on every poll; announce it once.
	held := make(map[string]struct{}, len(c.Held))
	for _, h := range c.Held {
		held[h] = struct{}{}
		if _, seen := s.held[h]; seen {
			continue
		}
		s.nextEventID++
		pending = append(pending, Event{
			ID:        s.nextEventID,
			Type:      EventSchemaHeld,
			Timestamp: now,
			Snapshot:  snap,
			Message:   h,
		})
	}
	s.held = held

	if !prevExists {
		s.nextEventID++
		pending = append(pending, Event{
			ID:        s.nextEventID,
			Type:      EventSnapshot,
			Timestamp: now,
			Snapshot:  snap,
		})
	} else {
		delta := diffSnapshots(prev, snap, c)
		if !delta.isZero() {
			typ := EventProgress
			if delta.SavedCrashes > 0 {
				typ = EventCrash
			}
			s.nextEventID++
			pending = append(pending, Event{
				ID:        s.nextEventID,
				Type:      typ,
				Timestamp: now,
				Snapshot:  snap,
				Delta:     delta,
			})
		}
	}
	s.mu.Unlock()

	for _, ev := range pending {
		s.publishEvent(ev)
	}
}

func snapshotFromCampaign(c *pipeline.Campaign, at time.Time) Snapshot {
	t := pipeline.ComputeTotals(c.Stats)
	plotRows := 0
	for _, tbl := range c.Plot {
		plotRows += len(tbl.Rows)
	}
	return Snapshot{
		At:           at,
		Workers:      t.Workers,
		ExecsDone:    t.ExecsDone,
		ExecsPerSec:  t.ExecsPerSec,
		CorpusCount:  t.CorpusCount,
		SavedCrashes: t.SavedCrashes,
		SavedHangs:   t.SavedHangs,
		MaxCoverage:  t.MaxCoverage,
		PlotRows:     plotRows,
		Mutations:    len(c.Mutations),
	}
}

func diffSnapshots(prev, curr Snapshot, c *pipeline.Campaign) Delta {
	d := Delta{
		ExecsDone:    curr.ExecsDone - prev.ExecsDone,
		CorpusCount:  curr.CorpusCount - prev.CorpusCount,
		SavedCrashes: curr.SavedCrashes - prev.SavedCrashes,
		SavedHangs:   curr.SavedHangs - prev.SavedHangs,
	}
	if c != nil {
		d.NewPlotRows = c.NewRows[source.PlotDataFile]
		d.NewMutations = c.NewRows[source.IntrospectionFile]
	}
	return d
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		warnings, held []string
		timings        []Timing
	)
	if s.campaign != nil {
		warnings = s.campaign.Warnings
		held = s.campaign.Held
		for _, ft := range s.campaign.Timings {
			timings = append(timings, Timing{File: ft.Name, Millis: float64(ft.Elapsed) / float64(time.Millisecond)})
		}
	}
	return Status{
		StartedAt:       s.startedAt,
		LastPollAt:      s.lastPollAt,
		PollIntervalSec: int(s.cfg.Interval.Seconds()),
		PollCount:       s.pollCount,
		OutDir:          s.cfg.OutDir,
		WorkerFilter:    s.cfg.WorkerFilter,
		SessionID:       s.store.SessionID(),
		Summary:         s.snapshot,
		Warnings:        warnings,
		Resets:          s.resets,
		Held:            held,
		RefreshMillis:   timings,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

func (s *Service) currentCampaign() *pipeline.Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.campaign
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// workerSummary is the JSON form of a worker's stats.
type workerSummary struct {
	Worker       string  `json:"worker"`
	RunTimeSecs  int64   `json:"run_time_secs"`
	ExecsDone    int64   `json:"execs_done"`
	ExecsPerSec  float64 `json:"execs_per_sec"`
	CorpusCount  int64   `json:"corpus_count"`
	PendingTotal int64   `json:"pending_total"`
	PendingFavs  int64   `json:"pending_favs"`
	CurItem      int64   `json:"cur_item"`
	EdgesFound   int64   `json:"edges_found"`
	TotalEdges   int64   `json:"total_edges"`
	Coverage     float64 `json:"coverage"`
	SavedCrashes int64   `json:"saved_crashes"`
	SavedHangs   int64   `json:"saved_hangs"`
	Stability    float64 `json:"stability"`
	MaxDepth     int64   `json:"max_depth"`
}

func summarizeWorker(w model.WorkerStats) workerSummary {
	return workerSummary{
		Worker:       w.Worker,
		RunTimeSecs:  w.RunTimeSecs,
		ExecsDone:    w.ExecsDone,
		ExecsPerSec:  w.ExecsPerSec,
		CorpusCount:  w.CorpusCount,
		PendingTotal: w.PendingTotal,
		PendingFavs:  w.PendingFavs,
		CurItem:      w.CurItem,
		EdgesFound:   w.EdgesFound,
		TotalEdges:   w.TotalEdges,
		Coverage:     w.Coverage,
		SavedCrashes: w.SavedCrashes,
		SavedHangs:   w.SavedHangs,
		Stability:    w.Stability,
		MaxDepth:     w.MaxDepth,
	}
}
