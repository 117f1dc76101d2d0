package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/source"
)

var (
	// ErrSchemaMismatch is wrapped by SchemaMismatchError.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrTruncated reports a source that now holds fewer complete rows than
	// were already ingested, or whose already ingested rows were rewritten.
	// Both typically mean the fuzzer was restarted.
	ErrTruncated = errors.New("source truncated")
)

// SchemaMismatchError reports a header that changed after the first ingest.
type SchemaMismatchError struct {
	Source source.LogSource
	Want   []string
	Got    []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: %s: columns %v, file now has %v", e.Source.Path, ErrSchemaMismatch, e.Want, e.Got)
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// IngestState is the accumulated content of one source.
type IngestState struct {
	Source      source.LogSource
	Columns     []string
	Rows        []source.Row
	Skipped     int
	LastRefresh time.Time

	mu     sync.Mutex
	cursor int    // complete data lines consumed, malformed ones included
	first  string // first data line, fixed once read
	anchor string // data line at cursor
	frozen error  // set when a discontinuity is kept rather than reset
}

// Delta holds the rows read by a single refresh.
type Delta struct {
	Source  source.LogSource
	Rows    []source.Row
	Skipped int
	Reset   bool // the rows are a full re-ingest after a discontinuity
	Held    bool // a discontinuity stopped ingestion until Store.Reset
}

// Table is a read-only snapshot of one source's accumulated rows.
type Table struct {
	Key     string
	Columns []string
	Rows    []source.Row
	Skipped int
}

// Column extracts a numeric series, using 0 for missing or non-numeric cells.
func (t Table) Column(col string) []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Value(col)
	}
	return out
}

// Last returns the most recent row, or nil for an empty table.
func (t Table) Last() source.Row {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[len(t.Rows)-1]
}

// Store tracks how much of every source has been ingested and appends only
// the unread tail on each refresh.
//
// Refreshes of different sources may run concurrently. Callers must not
// refresh the same source from two goroutines at once; the store serializes
// such calls but their deltas would interleave unpredictably.
type Store struct {
	mu     sync.Mutex
	states map[string]*IngestState

	logger        *slog.Logger
	sessionID     string
	resetOnChange bool
	now           func() time.Time
	read          func(source.LogSource, int) (source.ReadResult, error)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for discontinuities and read failures.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithResetOnSchemaChange controls what happens after a schema change or
// truncation. When true (the default) the state is dropped and the source is
// fully re-ingested. When false the state is frozen and every refresh returns
// the original error until Reset is called.
func WithResetOnSchemaChange(reset bool) StoreOption {
	return func(s *Store) { s.resetOnChange = reset }
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		states:        make(map[string]*IngestState),
		logger:        slog.Default(),
		sessionID:     uuid.NewString(),
		resetOnChange: true,
		now:           time.Now,
		read:          source.ReadTail,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionID identifies this store instance. It changes whenever the hosting
// process restarts and its accumulated state is rebuilt from scratch.
func (s *Store) SessionID() string { return s.sessionID }

func (s *Store) stateFor(src source.LogSource) *IngestState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[src.Path]
	if !ok {
		st = &IngestState{Source: src}
		s.states[src.Path] = st
	}
	return st
}

// Refresh reads whatever src gained since the previous refresh and appends it.
// An absent, empty or header-only file yields an empty delta. Read failures
// leave the state untouched so the next refresh retries from the same place.
func (s *Store) Refresh(src source.LogSource) (Delta, error) {
	st := s.stateFor(src)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.frozen != nil {
		return Delta{Source: src, Held: true}, st.frozen
	}
	if src.Kind == source.FuzzerStats {
		return s.refreshSnapshot(st)
	}

	res, err := s.read(src, st.cursor)
	if err != nil {
		s.logger.Debug("read failed, will retry",
			slog.String("path", src.Path),
			slog.String("error", err.Error()))
		return Delta{Source: src}, fmt.Errorf("refreshing %s: %w", src.Path, err)
	}
	if res.Columns == nil {
		return Delta{Source: src}, nil
	}
	if st.Columns != nil && !slices.Equal(st.Columns, res.Columns) {
		return s.discontinuity(st, &SchemaMismatchError{Source: src, Want: st.Columns, Got: res.Columns})
	}
	if res.Total < st.cursor {
		return s.discontinuity(st, fmt.Errorf("%s: %w: %d rows read before, %d now",
			src.Path, ErrTruncated, st.cursor, res.Total))
	}
	if st.cursor > 0 && (res.First != st.first || res.Anchor != st.anchor) {
		return s.discontinuity(st, fmt.Errorf("%s: %w: rows already read were rewritten",
			src.Path, ErrTruncated))
	}

	if st.Columns == nil {
		st.Columns = res.Columns
	}
	if st.cursor == 0 {
		st.first = res.First
	}
	if res.Total > 0 {
		st.anchor = res.Last
	}
	st.cursor += res.Lines
	st.Skipped += res.Malformed
	st.LastRefresh = s.now()
	if len(res.Rows) > 0 {
		st.Rows = append(st.Rows, res.Rows...)
	}
	if res.Malformed > 0 {
		s.logger.Debug("skipped malformed rows",
			slog.String("path", src.Path),
			slog.Int("count", res.Malformed))
	}
	return Delta{Source: src, Rows: res.Rows, Skipped: res.Malformed}, nil
}

// refreshSnapshot re-reads a snapshot file in full. The record replaces the
// previous one; a file caught mid-rewrite keeps the last good record.
func (s *Store) refreshSnapshot(st *IngestState) (Delta, error) {
	res, err := source.ReadFuzzerStats(st.Source.Path)
	if err != nil {
		s.logger.Debug("read failed, will retry",
			slog.String("path", st.Source.Path),
			slog.String("error", err.Error()))
		return Delta{Source: st.Source}, fmt.Errorf("refreshing %s: %w", st.Source.Path, err)
	}
	st.Skipped = res.Malformed
	if len(res.Rows) == 0 {
		return Delta{Source: st.Source, Skipped: res.Malformed}, nil
	}
	st.Columns = res.Columns
	st.Rows = res.Rows
	st.cursor = res.Total
	st.LastRefresh = s.now()
	return Delta{Source: st.Source, Rows: res.Rows, Skipped: res.Malformed}, nil
}

// discontinuity applies the reset policy. It is called with st.mu held.
func (s *Store) discontinuity(st *IngestState, cause error) (Delta, error) {
	if !s.resetOnChange {
		s.logger.Warn("source changed incompatibly, holding previous rows",
			slog.String("path", st.Source.Path),
			slog.String("error", cause.Error()))
		st.frozen = cause
		return Delta{Source: st.Source, Held: true}, cause
	}

	s.logger.Warn("source changed incompatibly, re-ingesting from the start",
		slog.String("path", st.Source.Path),
		slog.Int("discarded_rows", len(st.Rows)),
		slog.String("error", cause.Error()))
	s.mu.Lock()
	if s.states[st.Source.Path] == st {
		delete(s.states, st.Source.Path)
	}
	s.mu.Unlock()
	return Delta{Source: st.Source}, cause
}

// Reset forgets everything ingested from path.
func (s *Store) Reset(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, path)
}

// ReleaseHeld drops every source frozen by a discontinuity so the next
// refresh re-ingests it from the start. It returns the released paths.
func (s *Store) ReleaseHeld() []string {
	s.mu.Lock()
	states := make([]*IngestState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	s.mu.Unlock()

	// st.mu is never taken while holding s.mu; discontinuity locks them the
	// other way round.
	var released []string
	for _, st := range states {
		st.mu.Lock()
		frozen := st.frozen != nil
		st.mu.Unlock()
		if !frozen {
			continue
		}
		s.mu.Lock()
		if s.states[st.Source.Path] == st {
			delete(s.states, st.Source.Path)
			released = append(released, st.Source.Path)
		}
		s.mu.Unlock()
	}
	sort.Strings(released)
	return released
}

// Snapshot returns the accumulated rows of src, or false if it was never ingested.
func (s *Store) Snapshot(src source.LogSource) (Table, bool) {
	s.mu.Lock()
	st, ok := s.states[src.Path]
	s.mu.Unlock()
	if !ok {
		return Table{}, false
	}
	return st.snapshot(), true
}

func (st *IngestState) snapshot() Table {
	st.mu.Lock()
	defer st.mu.Unlock()
	// Rows only ever grow by append, so a capped slice of the backing array
	// stays valid while later refreshes extend it.
	return Table{
		Key:     st.Source.Key,
		Columns: slices.Clone(st.Columns),
		Rows:    st.Rows[:len(st.Rows):len(st.Rows)],
		Skipped: st.Skipped,
	}
}

// RowCount is the number of rows accumulated so far.
func (st *IngestState) RowCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.Rows)
}

// known returns the sources previously ingested for name under root.
func (s *Store) known(root, name string) []source.LogSource {
	root = filepath.Clean(root)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []source.LogSource
	for _, st := range s.states {
		p := st.Source.Path
		if filepath.Base(p) == name && filepath.Dir(filepath.Dir(p)) == root {
			out = append(out, st.Source)
		}
	}
	return out
}

// View is the combined state of one logical file across all workers.
type View struct {
	Name   string
	Tables map[string]Table
	Deltas map[string]Delta
	Errors map[string]error
}

// Keys returns the worker keys in sorted order.
func (v *View) Keys() []string {
	keys := make([]string, 0, len(v.Tables))
	for k := range v.Tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewRows is the number of rows added by the refresh that built the view.
func (v *View) NewRows() int {
	n := 0
	for _, d := range v.Deltas {
		n += len(d.Rows)
	}
	return n
}

// Skipped is the number of malformed rows skipped by the refresh.
func (v *View) Skipped() int {
	n := 0
	for _, d := range v.Deltas {
		n += d.Skipped
	}
	return n
}

// CombinedView refreshes every source of name under root, both the ones
// discovered now and the ones ingested before, and returns their snapshots.
// The error joins all per-source refresh errors; the view is still populated
// with whatever each source holds. Only a discovery failure returns a nil view.
func (s *Store) CombinedView(root, name string) (*View, error) {
	discovered, err := source.Discover(root, name)
	if err != nil {
		return nil, fmt.Errorf("discovering %s under %s: %w", name, root, err)
	}

	seen := make(map[string]struct{}, len(discovered))
	sources := make([]source.LogSource, 0, len(discovered))
	for _, src := range discovered {
		seen[src.Path] = struct{}{}
		sources = append(sources, src)
	}
	for _, src := range s.known(root, name) {
		if _, ok := seen[src.Path]; !ok {
			sources = append(sources, src)
		}
	}

	view := &View{
		Name:   name,
		Tables: make(map[string]Table, len(sources)),
		Deltas: make(map[string]Delta, len(sources)),
		Errors: make(map[string]error),
	}
	if len(sources) == 0 {
		return view, nil
	}

	type result struct {
		delta Delta
		err   error
	}
	results := make([]result, len(sources))

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(sources) {
		numWorkers = len(sources)
	}
	work := make(chan int, len(sources))
	for i := range sources {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				d, err := s.Refresh(sources[idx])
				if err != nil && s.resetOnChange && isDiscontinuity(err) {
					// The state was dropped; ingest the new content right away.
					rd, rerr := s.Refresh(sources[idx])
					if rerr != nil {
						err = errors.Join(err, rerr)
					} else {
						d = rd
						d.Reset = true
					}
				}
				results[idx] = result{delta: d, err: err}
			}
		}()
	}
	wg.Wait()

	var errs []error
	for i, src := range sources {
		r := results[i]
		view.Deltas[src.Key] = r.delta
		if r.err != nil {
			view.Errors[src.Key] = r.err
			errs = append(errs, r.err)
		}
		if t, ok := s.Snapshot(src); ok && t.Columns != nil {
			view.Tables[src.Key] = t
		}
	}
	return view, errors.Join(errs...)
}

func isDiscontinuity(err error) bool {
	return errors.Is(err, ErrSchemaMismatch) || errors.Is(err, ErrTruncated)
}
