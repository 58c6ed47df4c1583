// Package summarizer renders dataset statistics and the prompts sent to
// the completion service.
package summarizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"csvrag/internal/dataset"
)

// DefaultMaxColumns is how many numeric columns get a statistics line.
const DefaultMaxColumns = 5

// StatsSummarizer describes a dataset by its shape and numeric columns.
type StatsSummarizer struct {
	maxColumns int
}

// NewStatsSummarizer creates a summarizer that reports statistics for at
// most maxColumns numeric columns.
func NewStatsSummarizer(maxColumns int) *StatsSummarizer {
	if maxColumns <= 0 {
		maxColumns = DefaultMaxColumns
	}
	return &StatsSummarizer{maxColumns: maxColumns}
}

// Summarize returns the plain-text statistical summary of ds.
func (s *StatsSummarizer) Summarize(name string, ds *dataset.Dataset) string {
	parts := []string{
		"Dataset: " + name,
		fmt.Sprintf("Total Records: %d", ds.RowCount()),
		fmt.Sprintf("Total Columns: %d", len(ds.Headers)),
	}

	numeric := ds.NumericColumns()
	text := ds.TextColumns()
	if len(numeric) > 0 {
		parts = append(parts, fmt.Sprintf("\nNumeric Columns (%d): %s", len(numeric), strings.Join(numeric, ", ")))
	}
	if len(text) > 0 {
		parts = append(parts, fmt.Sprintf("\nText Columns (%d): %s", len(text), strings.Join(text, ", ")))
	}

	if len(numeric) > 0 {
		parts = append(parts, "\nNumeric Statistics:")
		for _, col := range numeric[:min(s.maxColumns, len(numeric))] {
			st := ds.Stats(col)
			if st == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("  %s: mean=%.2f, min=%.2f, max=%.2f", col, st.Mean, st.Min, st.Max))
		}
	}
	return strings.Join(parts, "\n")
}

// SampleContext renders the first n records as indented JSON.
func SampleContext(ds *dataset.Dataset, n int) (string, error) {
	b, err := json.MarshalIndent(ds.Records(n), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding sample records: %w", err)
	}
	return string(b), nil
}

// PromptInput carries what both prompt builders need.
type PromptInput struct {
	File    string
	Rows    int
	Headers []string
	Context string
	Summary string
}

// QuestionPrompt builds the user message for a question. info says where
// the context came from and closes the prompt.
func QuestionPrompt(in PromptInput, question, info string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CSV Dataset: %s\n", in.File)
	fmt.Fprintf(&b, "Total Rows: %d\n", in.Rows)
	fmt.Fprintf(&b, "Columns: %s\n\n", strings.Join(in.Headers, ", "))
	fmt.Fprintf(&b, "Relevant Data:\n%s\n\n", in.Context)
	fmt.Fprintf(&b, "Statistics:\n%s\n\n", in.Summary)
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Answer based on the data above. %s.", info)
	return b.String()
}

// AnalysisPrompt builds the single user message asking for an overview.
func AnalysisPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("Analyze this CSV dataset:\n\n")
	fmt.Fprintf(&b, "Filename: %s\n", in.File)
	fmt.Fprintf(&b, "Total Rows: %d\n", in.Rows)
	fmt.Fprintf(&b, "Columns: %s\n\n", strings.Join(in.Headers, ", "))
	fmt.Fprintf(&b, "%s\n\n", in.Context)
	fmt.Fprintf(&b, "Statistics:\n%s\n\n", in.Summary)
	b.WriteString("Provide:\n1. Dataset overview\n2. Key patterns and insights\n3. Data quality observations\n\nKeep it concise.")
	return b.String()
}
