// Package dataset provides the immutable tabular snapshots the pipeline
// engine operates on: column-ordered frames, versioned snapshots, bounded
// previews, and per-column diagnostics.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame is a column-ordered table. A Frame is immutable once built:
// transformation steps produce new Frames and never write through to rows
// they received.
type Frame struct {
	Columns []string
	Rows    [][]Value
}

// NewFrame builds a frame, validating row widths against the column set.
func NewFrame(columns []string, rows [][]Value) (*Frame, error) {
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(columns))
		}
	}
	return &Frame{Columns: columns, Rows: rows}, nil
}

// NumRows returns the row count.
func (f *Frame) NumRows() int {
	return len(f.Rows)
}

// NumCols returns the column count.
func (f *Frame) NumCols() int {
	return len(f.Columns)
}

// ColumnIndex returns the position of a column, or -1 if absent.
// Lookup is case-insensitive to match normalized ingest headers.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Column returns all values of one column in row order.
func (f *Frame) Column(name string) ([]Value, error) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("no such column: %s", name)
	}
	out := make([]Value, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Head returns a new frame containing at most n leading rows.
// The returned frame shares row slices with the source; both are immutable.
func (f *Frame) Head(n int) *Frame {
	if n < 0 {
		n = 0
	}
	if n > len(f.Rows) {
		n = len(f.Rows)
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
}

// WithColumns returns a frame with the same rows and a new column list.
// Used by rename-style steps; the caller guarantees matching width.
func (f *Frame) WithColumns(columns []string) *Frame {
	return &Frame{Columns: columns, Rows: f.Rows}
}

// Fingerprint returns a deterministic content hash of the frame.
// It is the content-identity half of every result-store key.
func (f *Frame) Fingerprint() string {
	h := sha256.New()
	for _, c := range f.Columns {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	h.Write([]byte{0xff})
	for _, row := range f.Rows {
		for _, v := range row {
			if v.Null {
				h.Write([]byte{0x00})
				continue
			}
			h.Write([]byte{byte(v.Kind) + 1})
			h.Write([]byte(v.Text()))
			h.Write([]byte{0})
		}
		h.Write([]byte{0xfe})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares two frames structurally, cell by cell.
func (f *Frame) Equal(o *Frame) bool {
	if o == nil || len(f.Columns) != len(o.Columns) || len(f.Rows) != len(o.Rows) {
		return false
	}
	for i := range f.Columns {
		if !strings.EqualFold(f.Columns[i], o.Columns[i]) {
			return false
		}
	}
	for i := range f.Rows {
		for j := range f.Rows[i] {
			if !f.Rows[i][j].Equal(o.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// Records renders the frame as column-keyed maps, the shape the HTTP
// facade serializes for previews.
func (f *Frame) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, len(f.Rows))
	for i, row := range f.Rows {
		rec := make(map[string]interface{}, len(f.Columns))
		for j, col := range f.Columns {
			if row[j].Null {
				rec[col] = nil
			} else {
				rec[col] = row[j].Text()
			}
		}
		out[i] = rec
	}
	return out
}
