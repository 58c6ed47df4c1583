package dataset

import (
	"bytes"
	"encoding/json"
)

// Field is one name/value pair of a Record.
type Field struct {
	Name  string
	Value string
}

// Record is a row keyed by header name. Field order follows the header;
// a repeated header keeps its first position and its last value.
type Record []Field

// NewRecord pairs headers with row values up to the shorter of the two.
func NewRecord(headers, row []string) Record {
	n := min(len(headers), len(row))
	rec := make(Record, 0, n)
	pos := make(map[string]int, n)
	for i := 0; i < n; i++ {
		if j, ok := pos[headers[i]]; ok {
			rec[j].Value = row[i]
			continue
		}
		pos[headers[i]] = len(rec)
		rec = append(rec, Field{Name: headers[i], Value: row[i]})
	}
	return rec
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteString(", ")
		}
		if err := writeJSONString(&buf, f.Name); err != nil {
			return nil, err
		}
		buf.WriteString(": ")
		if err := writeJSONString(&buf, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String returns the single-line JSON form used inside chunk text.
func (r Record) String() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
