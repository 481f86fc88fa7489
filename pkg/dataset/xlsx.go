package dataset

import (
	"context"

	"github.com/xuri/excelize/v2"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

// LoadXLSX reads the first sheet of an Excel workbook into a frame.
func (l *Loader) LoadXLSX(ctx context.Context, path string) (*Frame, error) {
	if err := l.limits.validate(path); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, cferr.Wrap(err, cferr.CodeFormatUnknown, "XLSX open failed").
			WithContext("path", path)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, cferr.New(cferr.CodeDatasetEmpty, "workbook has no sheets").
			WithContext("path", path)
	}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, cferr.Wrap(err, cferr.CodeFormatUnknown, "XLSX read failed").
			WithContext("path", path)
	}
	if len(raw) < 2 {
		return nil, cferr.New(cferr.CodeDatasetEmpty, "empty dataset").
			WithContext("path", path)
	}

	columns := normalizeColumns(raw[0])
	limit := l.limits.MaxRows
	if limit <= 0 {
		limit = 10000
	}

	var rows [][]Value
	for _, r := range raw[1:] {
		if len(rows) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := make([]Value, len(columns))
		for i := range columns {
			// excelize drops trailing empty cells
			if i < len(r) {
				row[i] = String(r[i])
			} else {
				row[i] = NullValue()
			}
		}
		rows = append(rows, row)
	}

	return NewFrame(columns, rows)
}
