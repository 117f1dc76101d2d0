// Package store provides a SQLite-backed history of worker snapshots.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Cache records fuzzer_stats snapshots across runs of the tool so that a
// later invocation can report what changed in between.
type Cache struct {
	db *sql.DB
}

// timeLayout sorts lexically in time order, which the taken_at queries rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Snapshot is a worker's stats as recorded at TakenAt.
type Snapshot struct {
	TakenAt time.Time
	model.WorkerStats
}

// Open opens or creates the cache database at the given path.
func Open(dbPath string) (*Cache, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveSnapshots stores one row per worker. Saving the same run_time twice
// replaces the earlier row.
func (c *Cache) SaveSnapshots(outDir string, stats []model.WorkerStats, at time.Time) error {
	if len(stats) == 0 {
		return nil
	}
	outDir = canonical(outDir)

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO worker_snapshots
		(out_dir, worker, start_time, run_time, taken_at,
		 execs_done, execs_per_sec, corpus_count, pending_total,
		 edges_found, total_edges, coverage, saved_crashes, saved_hangs, stability)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	takenAt := at.UTC().Format(timeLayout)
	for _, s := range stats {
		var start int64
		if !s.StartTime.IsZero() {
			start = s.StartTime.Unix()
		}
		_, err = stmt.Exec(
			outDir, s.Worker, start, s.RunTimeSecs, takenAt,
			s.ExecsDone, s.ExecsPerSec, s.CorpusCount, s.PendingTotal,
			s.EdgesFound, s.TotalEdges, s.Coverage, s.SavedCrashes, s.SavedHangs, s.Stability,
		)
		if err != nil {
			return fmt.Errorf("saving %s: %w", s.Worker, err)
		}
	}

	return tx.Commit()
}

const snapshotColumns = `worker, start_time, run_time, taken_at,
	execs_done, execs_per_sec, corpus_count, pending_total,
	edges_found, total_edges, coverage, saved_crashes, saved_hangs, stability`

func scanSnapshot(rows *sql.Rows) (Snapshot, error) {
	var (
		s       Snapshot
		start   int64
		takenAt string
	)
	err := rows.Scan(
		&s.Worker, &start, &s.RunTimeSecs, &takenAt,
		&s.ExecsDone, &s.ExecsPerSec, &s.CorpusCount, &s.PendingTotal,
		&s.EdgesFound, &s.TotalEdges, &s.Coverage, &s.SavedCrashes, &s.SavedHangs, &s.Stability,
	)
	if err != nil {
		return s, err
	}
	if start > 0 {
		s.StartTime = time.Unix(start, 0)
	}
	s.TakenAt, _ = time.Parse(timeLayout, takenAt)
	return s, nil
}

// LatestSnapshots returns the most recent snapshot of every worker in outDir.
func (c *Cache) LatestSnapshots(outDir string) (map[string]Snapshot, error) {
	rows, err := c.db.Query(`SELECT `+snapshotColumns+`
		FROM worker_snapshots w
		WHERE out_dir = ? AND taken_at = (
			SELECT MAX(taken_at) FROM worker_snapshots
			WHERE out_dir = w.out_dir AND worker = w.worker
		)`, canonical(outDir))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]Snapshot)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		if prev, ok := result[s.Worker]; !ok || s.RunTimeSecs > prev.RunTimeSecs {
			result[s.Worker] = s
		}
	}
	return result, rows.Err()
}

// History returns up to limit of a worker's most recent snapshots, oldest first.
func (c *Cache) History(outDir, worker string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.Query(`SELECT `+snapshotColumns+`
		FROM worker_snapshots
		WHERE out_dir = ? AND worker = ?
		ORDER BY taken_at DESC, run_time DESC
		LIMIT ?`, canonical(outDir), worker, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Prune deletes snapshots taken before cutoff.
func (c *Cache) Prune(cutoff time.Time) (int64, error) {
	res, err := c.db.Exec("DELETE FROM worker_snapshots WHERE taken_at < ?",
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SnapshotCount returns the number of stored snapshots.
func (c *Cache) SnapshotCount() (int, error) {
	var count int
	err := c.db.QueryRow("SELECT COUNT(*) FROM worker_snapshots").Scan(&count)
	return count, err
}

func canonical(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
