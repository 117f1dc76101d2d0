// Package source discovers and parses the per-worker files of an AFL++ output directory.
package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrNotQueueLine marks an introspection line that does not describe a queue entry.
	ErrNotQueueLine = errors.New("not a QUEUE line")

	// ErrMalformed marks a record that cannot be parsed under its schema.
	ErrMalformed = errors.New("malformed record")
)

const queuePrefix = "QUEUE "

// ReadTail reads src starting after the first skip complete data lines.
// An absent file reads as empty. A trailing line without a newline is left
// unread because the writer may still be in the middle of it.
//
// fuzzer_stats is a snapshot file that the fuzzer rewrites in place, so it is
// always read in full and skip is ignored.
func ReadTail(src LogSource, skip int) (ReadResult, error) {
	switch src.Kind {
	case FuzzerStats:
		return ReadFuzzerStats(src.Path)
	case Introspection:
		return readIntrospectionTail(src.Path, skip)
	default:
		return readCSVTail(src.Path, src.Kind, skip)
	}
}

// lineReader yields complete newline-terminated lines with the terminator removed.
type lineReader struct {
	r *bufio.Reader
}

func openLines(path string) (*os.File, *lineReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, &lineReader{r: bufio.NewReaderSize(f, 64*1024)}, nil
}

// next returns the next complete line. ok is false at EOF, including when the
// remaining bytes form an unterminated line.
func (lr *lineReader) next() (line string, ok bool, err error) {
	s, err := lr.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		return "", false, err
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, true, nil
}

func readCSVTail(path string, kind SchemaKind, skip int) (ReadResult, error) {
	f, lr, err := openLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{}, nil
		}
		return ReadResult{}, err
	}
	defer func() { _ = f.Close() }()

	var res ReadResult

	// Header: first complete non-blank line.
	for {
		line, ok, err := lr.next()
		if err != nil {
			return ReadResult{}, fmt.Errorf("reading header of %s: %w", path, err)
		}
		if !ok {
			return res, nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := splitCSVLine(line)
		if err != nil {
			return ReadResult{}, fmt.Errorf("parsing header of %s: %w", path, err)
		}
		res.Columns = NormalizeHeader(kind, fields)
		break
	}

	for {
		line, ok, err := lr.next()
		if err != nil {
			return ReadResult{}, fmt.Errorf("reading %s: %w", path, err)
		}
		if !ok {
			break
		}
		res.mark(line, skip)
		if res.Total <= skip {
			continue
		}
		res.Lines++

		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := splitCSVLine(line)
		if err != nil || len(fields) != len(res.Columns) {
			res.Malformed++
			continue
		}
		row := make(Row, len(fields))
		for i, col := range res.Columns {
			row[col] = fields[i]
		}
		res.Rows = append(res.Rows, row)
	}

	return res, nil
}

// mark counts one complete data line and records it in the fingerprint.
func (res *ReadResult) mark(line string, skip int) {
	res.Total++
	if res.Total == 1 {
		res.First = line
	}
	if res.Total == skip {
		res.Anchor = line
	}
	res.Last = line
}

func splitCSVLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

// NormalizeHeader trims every column name and gives the first column its
// fixed logical name for plot_data and queue_data.
func NormalizeHeader(kind SchemaKind, fields []string) []string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = strings.TrimSpace(f)
	}
	if len(cols) == 0 {
		return cols
	}
	switch kind {
	case PlotData:
		cols[0] = "relative_time"
	case QueueData:
		cols[0] = "filename"
	}
	return cols
}

// ReadFuzzerStats parses a fuzzer_stats snapshot into a single row. Each line
// is "key : value", split on the first colon since values such as
// command_line can contain colons themselves. Columns follow file order.
// An unterminated last line is ignored, as in the append-only sources.
func ReadFuzzerStats(path string) (ReadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{}, nil
		}
		return ReadResult{}, err
	}

	lines := strings.Split(string(data), "\n")
	// The final element is either empty or a line still being written.
	lines = lines[:len(lines)-1]

	var res ReadResult
	row := make(Row)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res.Total++
		res.Lines++
		key, val, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			res.Malformed++
			continue
		}
		if _, dup := row[key]; !dup {
			res.Columns = append(res.Columns, key)
		}
		row[key] = strings.TrimSpace(val)
	}
	if len(row) > 0 {
		res.Rows = []Row{row}
	}
	return res, nil
}

// ParseIntrospectionLine parses one line of introspection.txt.
//
//	QUEUE <original> <mutation...>=<result>
//
// The remainder after the prefix is split once on the first '=' and the left
// side once on the first space. Lines without the prefix return
// ErrNotQueueLine; prefixed lines without '=' return ErrMalformed.
func ParseIntrospectionLine(line string) (Row, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, queuePrefix) {
		return nil, ErrNotQueueLine
	}
	rest := line[len(queuePrefix):]

	left, right, ok := strings.Cut(rest, "=")
	if !ok {
		return nil, ErrMalformed
	}
	left = strings.TrimSpace(left)
	original, mutation, _ := strings.Cut(left, " ")

	return Row{
		"original": strings.TrimSpace(original),
		"mutation": strings.TrimSpace(mutation),
		"result":   strings.TrimSpace(right),
	}, nil
}

func readIntrospectionTail(path string, skip int) (ReadResult, error) {
	f, lr, err := openLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{}, nil
		}
		return ReadResult{}, err
	}
	defer func() { _ = f.Close() }()

	res := ReadResult{Columns: IntrospectionColumns}
	for {
		line, ok, err := lr.next()
		if err != nil {
			return ReadResult{}, fmt.Errorf("reading %s: %w", path, err)
		}
		if !ok {
			break
		}
		res.mark(line, skip)
		if res.Total <= skip {
			continue
		}
		res.Lines++

		row, err := ParseIntrospectionLine(line)
		switch {
		case errors.Is(err, ErrNotQueueLine):
			continue
		case err != nil:
			res.Malformed++
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// ReadBitmap returns the raw contents of a fuzz_bitmap file, or nil when absent.
func ReadBitmap(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
