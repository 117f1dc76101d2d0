package model

import "time"

// WorkerStats is the typed form of one worker's fuzzer_stats snapshot.
type WorkerStats struct {
	Worker string

	StartTime  time.Time
	LastUpdate time.Time
	LastFind   time.Time

	RunTimeSecs     int64
	TimeWoFindsSecs int64
	CyclesDone      int64
	CyclesWoFinds   int64
	ExecsDone       int64
	ExecsPerSec     float64

	CorpusCount   int64
	CorpusFavored int64
	CorpusFound   int64
	PendingTotal  int64
	PendingFavs   int64
	CurItem       int64
	MaxDepth      int64

	SavedCrashes int64
	SavedHangs   int64

	EdgesFound int64
	TotalEdges int64
	Coverage   float64 // edges_found / total_edges as a percentage
	BitmapCvg  float64
	Stability  float64

	// VarByteCount is the number of unstable map bytes.
	VarByteCount int64

	TargetMode  string
	Banner      string
	CommandLine string
}

// HourlyStats aggregates plot_data samples that fall into one hour of run time.
type HourlyStats struct {
	Hour    int
	Samples int

	MeanExecsPerSec float64

	// Cumulative counters as of the last sample in the hour.
	TotalExecs   int64
	SavedCrashes int64
	SavedHangs   int64
	EdgesFound   int64
	CorpusCount  int64
}

// Totals sums the headline counters across workers.
type Totals struct {
	Workers      int
	ExecsDone    int64
	ExecsPerSec  float64
	SavedCrashes int64
	SavedHangs   int64
	CorpusCount  int64
	MaxCoverage  float64
}
