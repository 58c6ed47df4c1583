// Package dataset loads delimited tabular files and derives column statistics.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultSampleSize is the number of leading rows inspected when
	// classifying a column as numeric.
	DefaultSampleSize = 10

	// DefaultDelimiter separates fields when Options.Delimiter is zero.
	DefaultDelimiter = ','
)

// ErrEmptyFile is returned when the file has no header row.
var ErrEmptyFile = errors.New("file has no header row")

// LoadError reports a file that could not be opened or decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Options controls parsing and numeric classification.
type Options struct {
	// Delimiter between fields. Zero means ','.
	Delimiter rune
	// SampleSize is how many leading rows are inspected by NumericColumns.
	// Zero means DefaultSampleSize.
	SampleSize int
}

// Dataset is an ordered header row plus ordered data rows. Rows may be
// shorter than the header; missing trailing fields are simply absent.
type Dataset struct {
	Headers []string
	Rows    [][]string

	sampleSize int
}

// Load reads the file at path. The first record is the header row.
func Load(path string, opts Options) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	ds, err := Parse(bytes.NewReader(data), opts)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return ds, nil
}

// Parse decodes UTF-8 delimited text from r.
func Parse(r io.Reader, opts Options) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, errors.New("input is not valid UTF-8")
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	delim := opts.Delimiter
	if delim == 0 {
		delim = DefaultDelimiter
	}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	headers, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, rec)
	}
	return New(headers, rows, opts), nil
}

// New builds a dataset from already-parsed headers and rows.
func New(headers []string, rows [][]string, opts Options) *Dataset {
	sample := opts.SampleSize
	if sample <= 0 {
		sample = DefaultSampleSize
	}
	return &Dataset{Headers: headers, Rows: rows, sampleSize: sample}
}

// RowCount returns the number of data rows.
func (d *Dataset) RowCount() int { return len(d.Rows) }

// Column returns the values of the named column across all rows, skipping
// rows too short to contain it. An unknown name yields an empty slice.
// Duplicate header names resolve to the first occurrence.
func (d *Dataset) Column(name string) []string {
	idx := d.columnIndex(name)
	if idx < 0 {
		return []string{}
	}
	out := make([]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		if idx < len(row) {
			out = append(out, row[idx])
		}
	}
	return out
}

// NumericColumns returns the headers whose sampled values all parse as
// numbers. Only the first SampleSize rows are inspected; empty and missing
// cells are ignored, and a column with no sampled value is not numeric.
func (d *Dataset) NumericColumns() []string {
	limit := d.sampleSize
	if limit <= 0 {
		limit = DefaultSampleSize
	}
	if limit > len(d.Rows) {
		limit = len(d.Rows)
	}
	numeric := []string{}
	for i, h := range d.Headers {
		sampled := 0
		ok := true
		for _, row := range d.Rows[:limit] {
			if i >= len(row) || row[i] == "" {
				continue
			}
			sampled++
			if !IsNumeric(row[i]) {
				ok = false
				break
			}
		}
		if ok && sampled > 0 {
			numeric = append(numeric, h)
		}
	}
	return numeric
}

// TextColumns returns the headers not classified as numeric, in order.
func (d *Dataset) TextColumns() []string {
	numeric := make(map[string]struct{})
	for _, h := range d.NumericColumns() {
		numeric[h] = struct{}{}
	}
	out := []string{}
	for _, h := range d.Headers {
		if _, ok := numeric[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// Records returns the first n rows as ordered field records. A negative n
// returns every row.
func (d *Dataset) Records(n int) []Record {
	if n < 0 || n > len(d.Rows) {
		n = len(d.Rows)
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = NewRecord(d.Headers, d.Rows[i])
	}
	return out
}

// Preview renders the first n rows as a fixed-width table.
func (d *Dataset) Preview(n int) string {
	cells := make([]string, len(d.Headers))
	for i, h := range d.Headers {
		cells[i] = fmt.Sprintf("%-20s", h)
	}
	header := strings.Join(cells, " | ")
	lines := []string{header, strings.Repeat("-", utf8.RuneCountInString(header))}

	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	for _, row := range d.Rows[:max(n, 0)] {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%-20s", v)
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	return strings.Join(lines, "\n")
}

func (d *Dataset) columnIndex(name string) int {
	for i, h := range d.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// IsNumeric reports whether v parses as a floating-point number.
// Surrounding whitespace is ignored and out-of-range values count as numeric.
func IsNumeric(v string) bool {
	_, ok := parseFloat(v)
	return ok
}

func parseFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return f, true
		}
		return 0, false
	}
	return f, true
}
