package dataset

// ColumnDiagnostics summarizes one column of a frame.
type ColumnDiagnostics struct {
	Name          string  `json:"name"`
	NullCount     int     `json:"null_count"`
	DistinctCount int     `json:"distinct_count"`
	NullRatio     float64 `json:"null_ratio"`
	InferredType  string  `json:"inferred_type"`
}

// Diagnostics is the per-column impact summary recomputed after every
// transformation step so the caller can surface the immediate effect.
type Diagnostics struct {
	RowCount      int                 `json:"row_count"`
	ColumnCount   int                 `json:"column_count"`
	DuplicateRows int                 `json:"duplicate_rows"`
	Columns       []ColumnDiagnostics `json:"columns"`
}

// Analyze computes diagnostics for a frame.
func Analyze(f *Frame) Diagnostics {
	d := Diagnostics{
		RowCount:    f.NumRows(),
		ColumnCount: f.NumCols(),
		Columns:     make([]ColumnDiagnostics, f.NumCols()),
	}

	for j, name := range f.Columns {
		cd := ColumnDiagnostics{Name: name}
		distinct := make(map[string]struct{})
		numeric, timed, nonNull := 0, 0, 0

		for _, row := range f.Rows {
			v := row[j]
			if v.Null {
				cd.NullCount++
				continue
			}
			nonNull++
			distinct[v.Text()] = struct{}{}
			if _, ok := v.Float(); ok {
				numeric++
			}
			if v.Kind == KindTime {
				timed++
			}
		}

		cd.DistinctCount = len(distinct)
		if f.NumRows() > 0 {
			cd.NullRatio = float64(cd.NullCount) / float64(f.NumRows())
		}
		switch {
		case nonNull == 0:
			cd.InferredType = "unknown"
		case timed == nonNull:
			cd.InferredType = "time"
		case numeric == nonNull:
			cd.InferredType = "number"
		default:
			cd.InferredType = "string"
		}
		d.Columns[j] = cd
	}

	d.DuplicateRows = countDuplicates(f)
	return d
}

func countDuplicates(f *Frame) int {
	seen := make(map[string]struct{}, len(f.Rows))
	dups := 0
	for _, row := range f.Rows {
		key := rowKey(row)
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
	}
	return dups
}

// rowKey builds a collision-safe identity string for duplicate detection.
func rowKey(row []Value) string {
	buf := make([]byte, 0, 64)
	for _, v := range row {
		if v.Null {
			buf = append(buf, 0x00)
		} else {
			buf = append(buf, 0x01)
			buf = append(buf, v.Text()...)
		}
		buf = append(buf, 0x1f)
	}
	return string(buf)
}
