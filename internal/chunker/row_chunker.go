package chunker

import (
	"fmt"
	"strings"

	"csvrag/internal/dataset"
	"csvrag/internal/domain"
)

// DefaultBatchSize is the number of rows per row-group chunk.
const DefaultBatchSize = 10

// RowChunker partitions a dataset into one metadata chunk followed by
// consecutive row-group chunks.
type RowChunker struct {
	batchSize int
}

// NewRowChunker returns a chunker grouping batchSize rows per chunk.
// Non-positive sizes fall back to DefaultBatchSize.
func NewRowChunker(batchSize int) *RowChunker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RowChunker{batchSize: batchSize}
}

// BatchSize returns the configured rows per chunk.
func (c *RowChunker) BatchSize() int { return c.batchSize }

// Chunk builds 1 + ceil(rows/batchSize) chunks. Each row appears in exactly
// one row-group chunk, in original order, as one JSON record per line.
func (c *RowChunker) Chunk(ds *dataset.Dataset) []domain.Chunk {
	rows := ds.RowCount()
	chunks := make([]domain.Chunk, 0, 1+(rows+c.batchSize-1)/c.batchSize)
	chunks = append(chunks, domain.Chunk{Index: 0, Text: Metadata(ds)})

	for start := 0; start < rows; start += c.batchSize {
		end := min(start+c.batchSize, rows)
		var sb strings.Builder
		fmt.Fprintf(&sb, "Rows %d to %d:\n", start+1, end)
		for _, row := range ds.Rows[start:end] {
			sb.WriteString(dataset.NewRecord(ds.Headers, row).String())
			sb.WriteByte('\n')
		}
		chunks = append(chunks, domain.Chunk{
			Index:    len(chunks),
			Text:     sb.String(),
			StartRow: start,
			EndRow:   end,
		})
	}
	return chunks
}

// Metadata renders the column list, row count and numeric columns.
func Metadata(ds *dataset.Dataset) string {
	var sb strings.Builder
	sb.WriteString("CSV Metadata:\n")
	fmt.Fprintf(&sb, "Columns: %s\n", strings.Join(ds.Headers, ", "))
	fmt.Fprintf(&sb, "Total rows: %d\n", ds.RowCount())
	fmt.Fprintf(&sb, "Numeric columns: %s\n", strings.Join(ds.NumericColumns(), ", "))
	return sb.String()
}
