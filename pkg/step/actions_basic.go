package step

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cleanflow/cleanflow/pkg/dataset"
	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

func init() {
	Register("remove_duplicates", nil, applyRemoveDuplicates)
	Register("impute_nulls", validateImputeNulls, applyImputeNulls)
	Register("convert_to_date", validateConvertToDate, applyConvertToDate)
	Register("rename_column", validateRenameColumn, applyRenameColumn)
	Register("drop_columns", validateDropColumns, applyDropColumns)
	Register("trim_whitespace", nil, applyTrimWhitespace)
}

// --- remove_duplicates ---

func applyRemoveDuplicates(_ context.Context, f *dataset.Frame, _ Step, _ Env) (*dataset.Frame, error) {
	seen := make(map[string]struct{}, f.NumRows())
	rows := make([][]dataset.Value, 0, f.NumRows())
	for _, row := range f.Rows {
		key := dupKey(row)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, row)
	}
	return dataset.NewFrame(f.Columns, rows)
}

func dupKey(row []dataset.Value) string {
	var sb strings.Builder
	for _, v := range row {
		if v.Null {
			sb.WriteByte(0x00)
		} else {
			sb.WriteByte(0x01)
			sb.WriteString(v.Text())
		}
		sb.WriteByte(0x1f)
	}
	return sb.String()
}

// --- impute_nulls ---

var imputeMethods = map[string]bool{
	"mean": true, "median": true, "mode": true, "constant": true,
}

func validateImputeNulls(s Step) error {
	if _, err := requireStringParam(s, "column"); err != nil {
		return err
	}
	method, err := requireStringParam(s, "method")
	if err != nil {
		return err
	}
	if !imputeMethods[method] {
		return cferr.InvalidStep(s.Action, "unknown impute method: "+method)
	}
	if method == "constant" {
		if _, ok := s.Params["value"]; !ok {
			return cferr.InvalidStep(s.Action, "constant method requires value parameter")
		}
	}
	return nil
}

func applyImputeNulls(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	idx, err := resolveColumn(f, s, "column")
	if err != nil {
		return nil, err
	}
	method, _ := s.stringParam("method")

	fill, err := imputeValue(f, idx, method, s)
	if err != nil {
		return nil, err
	}

	rows := make([][]dataset.Value, len(f.Rows))
	for i, row := range f.Rows {
		if row[idx].Null {
			next := make([]dataset.Value, len(row))
			copy(next, row)
			next[idx] = fill
			rows[i] = next
		} else {
			rows[i] = row
		}
	}
	return dataset.NewFrame(f.Columns, rows)
}

func imputeValue(f *dataset.Frame, idx int, method string, s Step) (dataset.Value, error) {
	switch method {
	case "constant":
		if str, ok := s.stringParam("value"); ok {
			return dataset.String(str), nil
		}
		if num, ok := s.floatParam("value"); ok {
			return dataset.Number(num), nil
		}
		return dataset.Value{}, cferr.InvalidStep(s.Action, "unsupported constant value type")

	case "mode":
		counts := make(map[string]int)
		var best dataset.Value
		bestN := 0
		for _, row := range f.Rows {
			v := row[idx]
			if v.Null {
				continue
			}
			counts[v.Text()]++
			if counts[v.Text()] > bestN {
				best, bestN = v, counts[v.Text()]
			}
		}
		if bestN == 0 {
			return dataset.Value{}, cferr.New(cferr.CodeTypeMismatch, "column has no values to take mode of").
				WithContext("column", f.Columns[idx])
		}
		return best, nil

	default: // mean | median
		var nums []float64
		for _, row := range f.Rows {
			if n, ok := row[idx].Float(); ok {
				nums = append(nums, n)
			}
		}
		if len(nums) == 0 {
			return dataset.Value{}, cferr.New(cferr.CodeTypeMismatch, "column has no numeric values").
				WithContext("column", f.Columns[idx])
		}
		if method == "mean" {
			sum := 0.0
			for _, n := range nums {
				sum += n
			}
			return dataset.Number(sum / float64(len(nums))), nil
		}
		sort.Float64s(nums)
		mid := len(nums) / 2
		if len(nums)%2 == 0 {
			return dataset.Number((nums[mid-1] + nums[mid]) / 2), nil
		}
		return dataset.Number(nums[mid]), nil
	}
}

// --- convert_to_date ---

// dateLayouts are tried in order when no explicit layout is given.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
}

func validateConvertToDate(s Step) error {
	_, err := requireStringParam(s, "column")
	return err
}

func applyConvertToDate(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	idx, err := resolveColumn(f, s, "column")
	if err != nil {
		return nil, err
	}

	layouts := dateLayouts
	if layout, ok := s.stringParam("layout"); ok && layout != "" {
		layouts = []string{layout}
	}

	rows := make([][]dataset.Value, len(f.Rows))
	for i, row := range f.Rows {
		v := row[idx]
		if v.Null || v.Kind == dataset.KindTime {
			rows[i] = row
			continue
		}
		t, ok := parseDate(v.Text(), layouts)
		if !ok {
			return nil, cferr.New(cferr.CodeTypeMismatch, "value does not parse as a date").
				WithContext("column", f.Columns[idx]).
				WithContext("row", i).
				WithContext("value", v.Text())
		}
		next := make([]dataset.Value, len(row))
		copy(next, row)
		next[idx] = dataset.Timestamp(t)
		rows[i] = next
	}
	return dataset.NewFrame(f.Columns, rows)
}

func parseDate(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// --- rename_column ---

func validateRenameColumn(s Step) error {
	if _, err := requireStringParam(s, "from"); err != nil {
		return err
	}
	_, err := requireStringParam(s, "to")
	return err
}

func applyRenameColumn(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	idx, err := resolveColumn(f, s, "from")
	if err != nil {
		return nil, err
	}
	to, _ := s.stringParam("to")
	if f.ColumnIndex(to) >= 0 {
		return nil, cferr.InvalidStep(s.Action, "target column already exists: "+to)
	}

	columns := make([]string, len(f.Columns))
	copy(columns, f.Columns)
	columns[idx] = to
	return f.WithColumns(columns), nil
}

// --- drop_columns ---

func validateDropColumns(s Step) error {
	cols, ok := s.stringsParam("columns")
	if !ok || len(cols) == 0 {
		return cferr.InvalidStep(s.Action, "missing required parameter: columns")
	}
	return nil
}

func applyDropColumns(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	drop, _ := s.stringsParam("columns")
	dropSet := make(map[int]bool, len(drop))
	for _, name := range drop {
		idx := f.ColumnIndex(name)
		if idx < 0 {
			return nil, cferr.ColumnMissing(name, f.Columns)
		}
		dropSet[idx] = true
	}
	if len(dropSet) == f.NumCols() {
		return nil, cferr.InvalidStep(s.Action, "cannot drop every column")
	}

	var columns []string
	for j, c := range f.Columns {
		if !dropSet[j] {
			columns = append(columns, c)
		}
	}
	rows := make([][]dataset.Value, len(f.Rows))
	for i, row := range f.Rows {
		next := make([]dataset.Value, 0, len(columns))
		for j := range row {
			if !dropSet[j] {
				next = append(next, row[j])
			}
		}
		rows[i] = next
	}
	return dataset.NewFrame(columns, rows)
}

// --- trim_whitespace ---

func applyTrimWhitespace(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	targets := make(map[int]bool)
	if cols, ok := s.stringsParam("columns"); ok {
		for _, name := range cols {
			idx := f.ColumnIndex(name)
			if idx < 0 {
				return nil, cferr.ColumnMissing(name, f.Columns)
			}
			targets[idx] = true
		}
	} else {
		for j := range f.Columns {
			targets[j] = true
		}
	}

	rows := make([][]dataset.Value, len(f.Rows))
	for i, row := range f.Rows {
		var next []dataset.Value
		for j, v := range row {
			if !targets[j] || v.Null || v.Kind != dataset.KindString {
				continue
			}
			if trimmed := strings.TrimSpace(v.Str); trimmed != v.Str {
				if next == nil {
					next = make([]dataset.Value, len(row))
					copy(next, row)
				}
				next[j] = dataset.String(trimmed)
			}
		}
		if next != nil {
			rows[i] = next
		} else {
			rows[i] = row
		}
	}
	return dataset.NewFrame(f.Columns, rows)
}
