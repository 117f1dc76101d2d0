package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS worker_snapshots (
    out_dir              TEXT NOT NULL,
    worker               TEXT NOT NULL,
    start_time           INTEGER NOT NULL DEFAULT 0,
    run_time             INTEGER NOT NULL,
    taken_at             TEXT NOT NULL,
    execs_done           INTEGER,
    execs_per_sec        REAL,
    corpus_count         INTEGER,
    pending_total        INTEGER,
    edges_found          INTEGER,
    total_edges          INTEGER,
    coverage             REAL,
    saved_crashes        INTEGER,
    saved_hangs          INTEGER,
    stability            REAL,
    PRIMARY KEY (out_dir, worker, start_time, run_time)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON worker_snapshots(out_dir, worker, taken_at);
`
