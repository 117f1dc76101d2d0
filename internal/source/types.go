package source

import (
	"strconv"
	"strings"
)

// Logical file names written by AFL++ into each worker directory.
const (
	PlotDataFile      = "plot_data"
	QueueDataFile     = "queue_data"
	FuzzerStatsFile   = "fuzzer_stats"
	IntrospectionFile = "introspection.txt"
	BitmapFile        = "fuzz_bitmap"
)

// SchemaKind selects the parsing and header normalization rules for a source.
type SchemaKind int

const (
	GenericCSV SchemaKind = iota
	PlotData
	QueueData
	FuzzerStats
	Introspection
)

func (k SchemaKind) String() string {
	switch k {
	case PlotData:
		return "plot_data"
	case QueueData:
		return "queue_data"
	case FuzzerStats:
		return "fuzzer_stats"
	case Introspection:
		return "introspection"
	default:
		return "csv"
	}
}

// KindFor maps a logical file name to its schema kind.
// Unknown names are treated as plain comma-separated tables.
func KindFor(name string) SchemaKind {
	switch name {
	case PlotDataFile:
		return PlotData
	case QueueDataFile:
		return QueueData
	case FuzzerStatsFile:
		return FuzzerStats
	case IntrospectionFile:
		return Introspection
	default:
		return GenericCSV
	}
}

// LogSource is one logical file inside one worker directory.
type LogSource struct {
	Key  string // worker name, the base name of the subdirectory
	Path string
	Kind SchemaKind
}

// Row is one record keyed by normalized column name.
type Row map[string]string

// Float parses a numeric column. A trailing percent sign is accepted.
func (r Row) Float(col string) (float64, bool) {
	v, ok := r[col]
	if !ok {
		return 0, false
	}
	v = strings.TrimSuffix(strings.TrimSpace(v), "%")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int returns the column as an integer, or 0 when absent or not numeric.
func (r Row) Int(col string) int64 {
	f, ok := r.Float(col)
	if !ok || f != f {
		return 0
	}
	return int64(f)
}

// Value returns the column as a float, or 0 when absent or not numeric.
func (r Row) Value(col string) float64 {
	f, _ := r.Float(col)
	return f
}

// Percent returns a percentage column such as "100.00%" as 100, and reports
// whether the value carried the percent sign.
func (r Row) Percent(col string) (float64, bool) {
	f, ok := r.Float(col)
	if !ok {
		return 0, false
	}
	return f, strings.HasSuffix(strings.TrimSpace(r[col]), "%")
}

// IntrospectionColumns is the fixed column set produced for introspection logs.
var IntrospectionColumns = []string{"original", "mutation", "result"}

// ReadResult is the output of reading one source from a line offset.
type ReadResult struct {
	// Columns is nil when the file is absent or has no complete header line yet.
	Columns []string
	Rows    []Row

	// Lines is the number of complete data lines consumed past the offset,
	// including blank and malformed ones.
	Lines int

	// Total is the number of complete data lines in the file.
	Total int

	Malformed int

	// First, Anchor and Last fingerprint the file so a rewrite that grows
	// past the old offset can be told apart from an append. First is the
	// first data line, Anchor the line at the offset and Last the final
	// complete line. Each is empty when the file has no such line.
	First  string
	Anchor string
	Last   string
}
