package model

// Mutation is one QUEUE record from introspection.txt.
type Mutation struct {
	Worker   string `json:"worker"`
	Index    int    `json:"index"`
	Original string `json:"original"`
	Mutation string `json:"mutation"`
	Result   string `json:"result"`
}

// QueueEntry is a queue_data row matched to the item a worker is fuzzing.
type QueueEntry struct {
	Worker   string            `json:"worker"`
	CurItem  int64             `json:"cur_item"`
	Filename string            `json:"filename"`
	Fields   map[string]string `json:"fields"`
}

// BitmapStats summarizes a fuzz_bitmap file.
type BitmapStats struct {
	Worker  string
	Bytes   int
	SetBits int
	Density float64 // percentage of bits set

	// Grid folds the bitmap into Side x Side cells, each the fraction of
	// bits set in that cell.
	Side int
	Grid [][]float64
}

// Advice is a tuning hint derived from the campaign's metrics.
type Advice struct {
	Worker  string
	Message string
	Link    string
}
