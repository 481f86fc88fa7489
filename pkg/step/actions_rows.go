package step

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"strings"

	"github.com/cleanflow/cleanflow/pkg/dataset"
	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

func init() {
	Register("filter_rows", validateFilterRows, applyFilterRows)
	Register("sample_rows", validateSampleRows, applySampleRows)
	Register("create_calculated_column", validateCalculatedColumn, applyCalculatedColumn)
	Register("anonymize_column", validateAnonymizeColumn, applyAnonymizeColumn)
}

// --- filter_rows ---

var filterOps = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true,
	"ge": true, "le": true, "contains": true, "not_null": true,
}

func validateFilterRows(s Step) error {
	if _, err := requireStringParam(s, "column"); err != nil {
		return err
	}
	op, err := requireStringParam(s, "op")
	if err != nil {
		return err
	}
	if !filterOps[op] {
		return cferr.InvalidStep(s.Action, "unknown filter op: "+op)
	}
	if op != "not_null" {
		if _, ok := s.Params["value"]; !ok {
			return cferr.InvalidStep(s.Action, "missing required parameter: value")
		}
	}
	return nil
}

func applyFilterRows(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	idx, err := resolveColumn(f, s, "column")
	if err != nil {
		return nil, err
	}
	op, _ := s.stringParam("op")

	var rows [][]dataset.Value
	for _, row := range f.Rows {
		keep, err := matchFilter(row[idx], op, s)
		if err != nil {
			return nil, err
		}
		if keep {
			rows = append(rows, row)
		}
	}
	return dataset.NewFrame(f.Columns, rows)
}

func matchFilter(v dataset.Value, op string, s Step) (bool, error) {
	if op == "not_null" {
		return !v.Null, nil
	}
	if v.Null {
		return false, nil
	}

	// Numeric comparison when both sides parse as numbers.
	if want, ok := s.floatParam("value"); ok {
		if got, ok := v.Float(); ok {
			switch op {
			case "eq":
				return got == want, nil
			case "ne":
				return got != want, nil
			case "gt":
				return got > want, nil
			case "lt":
				return got < want, nil
			case "ge":
				return got >= want, nil
			case "le":
				return got <= want, nil
			}
		}
	}

	want, ok := s.stringParam("value")
	if !ok {
		return false, cferr.InvalidStep(s.Action, "value parameter must be a string or number")
	}
	got := v.Text()
	switch op {
	case "eq":
		return got == want, nil
	case "ne":
		return got != want, nil
	case "contains":
		return strings.Contains(got, want), nil
	case "gt":
		return got > want, nil
	case "lt":
		return got < want, nil
	case "ge":
		return got >= want, nil
	case "le":
		return got <= want, nil
	}
	return false, cferr.InvalidStep(s.Action, "unknown filter op: "+op)
}

// --- sample_rows ---

func validateSampleRows(s Step) error {
	_, hasN := s.intParam("n")
	fraction, hasF := s.floatParam("fraction")
	if !hasN && !hasF {
		return cferr.InvalidStep(s.Action, "requires n or fraction parameter")
	}
	if hasF && (fraction <= 0 || fraction > 1) {
		return cferr.InvalidStep(s.Action, "fraction must be in (0, 1]")
	}
	return nil
}

func applySampleRows(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	n, hasN := s.intParam("n")
	if !hasN {
		fraction, _ := s.floatParam("fraction")
		n = int(float64(f.NumRows()) * fraction)
		if n == 0 && f.NumRows() > 0 {
			n = 1
		}
	}
	if n >= f.NumRows() {
		return f, nil
	}

	seed := int64(42)
	if s64, ok := s.intParam("seed"); ok {
		seed = int64(s64)
	}
	rng := rand.New(rand.NewSource(seed))

	// Reservoir sample, then restore original row order.
	picked := make([]int, 0, n)
	for i := range f.Rows {
		if len(picked) < n {
			picked = append(picked, i)
			continue
		}
		if j := rng.Intn(i + 1); j < n {
			picked[j] = i
		}
	}
	inSample := make(map[int]bool, n)
	for _, i := range picked {
		inSample[i] = true
	}

	rows := make([][]dataset.Value, 0, n)
	for i, row := range f.Rows {
		if inSample[i] {
			rows = append(rows, row)
		}
	}
	return dataset.NewFrame(f.Columns, rows)
}

// --- create_calculated_column ---

var calcOps = map[string]bool{"add": true, "sub": true, "mul": true, "div": true}

func validateCalculatedColumn(s Step) error {
	if _, err := requireStringParam(s, "name"); err != nil {
		return err
	}
	if _, err := requireStringParam(s, "left"); err != nil {
		return err
	}
	op, err := requireStringParam(s, "op")
	if err != nil {
		return err
	}
	if !calcOps[op] {
		return cferr.InvalidStep(s.Action, "unknown operator: "+op)
	}
	if _, ok := s.Params["right"]; !ok {
		return cferr.InvalidStep(s.Action, "missing required parameter: right")
	}
	return nil
}

func applyCalculatedColumn(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	name, _ := s.stringParam("name")
	if f.ColumnIndex(name) >= 0 {
		return nil, cferr.InvalidStep(s.Action, "column already exists: "+name)
	}
	leftIdx, err := resolveColumn(f, s, "left")
	if err != nil {
		return nil, err
	}
	op, _ := s.stringParam("op")

	// right is either another column or a numeric constant
	rightIdx := -1
	var rightConst float64
	if rightName, ok := s.stringParam("right"); ok {
		rightIdx = f.ColumnIndex(rightName)
		if rightIdx < 0 {
			return nil, cferr.ColumnMissing(rightName, f.Columns)
		}
	} else if c, ok := s.floatParam("right"); ok {
		rightConst = c
	} else {
		return nil, cferr.InvalidStep(s.Action, "right must be a column name or number")
	}

	columns := append(append([]string{}, f.Columns...), name)
	rows := make([][]dataset.Value, len(f.Rows))
	for i, row := range f.Rows {
		out := dataset.NullValue()
		if left, ok := row[leftIdx].Float(); ok {
			right, rok := rightConst, true
			if rightIdx >= 0 {
				right, rok = row[rightIdx].Float()
			}
			if rok {
				switch op {
				case "add":
					out = dataset.Number(left + right)
				case "sub":
					out = dataset.Number(left - right)
				case "mul":
					out = dataset.Number(left * right)
				case "div":
					if right != 0 {
						out = dataset.Number(left / right)
					}
				}
			}
		}
		next := make([]dataset.Value, len(row)+1)
		copy(next, row)
		next[len(row)] = out
		rows[i] = next
	}
	return dataset.NewFrame(columns, rows)
}

// --- anonymize_column ---

func validateAnonymizeColumn(s Step) error {
	_, err := requireStringParam(s, "column")
	return err
}

// applyAnonymizeColumn replaces values with a salted hash prefix so joins
// still work but the raw value is unrecoverable.
func applyAnonymizeColumn(_ context.Context, f *dataset.Frame, s Step, _ Env) (*dataset.Frame, error) {
	idx, err := resolveColumn(f, s, "column")
	if err != nil {
		return nil, err
	}
	salt, _ := s.stringParam("salt")

	rows := make([][]dataset.Value, len(f.Rows))
	for i, row := range f.Rows {
		v := row[idx]
		if v.Null {
			rows[i] = row
			continue
		}
		sum := sha256.Sum256([]byte(salt + v.Text()))
		next := make([]dataset.Value, len(row))
		copy(next, row)
		next[idx] = dataset.String(hex.EncodeToString(sum[:])[:16])
		rows[i] = next
	}
	return dataset.NewFrame(f.Columns, rows)
}
