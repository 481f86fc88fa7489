package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cleanflow/cleanflow/pkg/dataset"
)

// WriteCSV writes a frame as RFC 4180 CSV with a header row. Nulls become
// empty cells; timestamps render as RFC 3339.
func WriteCSV(w io.Writer, f *dataset.Frame) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(f.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(f.Columns))
	for i, row := range f.Rows {
		for j, v := range row {
			record[j] = cellString(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func cellString(v dataset.Value) string {
	switch {
	case v.Null:
		return ""
	case v.Kind == dataset.KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case v.Kind == dataset.KindTime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return v.Str
	}
}
