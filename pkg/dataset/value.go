package dataset

import (
	"strconv"
	"strings"
	"time"
)

// ValueKind identifies the scalar type held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindTime
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	default:
		return "string"
	}
}

// Value is a single nullable cell. Values are treated as immutable;
// transformations build new Values rather than mutating in place.
type Value struct {
	Null bool
	Kind ValueKind
	Str  string
	Num  float64
	Time time.Time
}

// NullValue returns the null cell.
func NullValue() Value {
	return Value{Null: true}
}

// String wraps a string cell. Empty and common null markers collapse to null,
// mirroring the pre-normalization every cleaning action runs on ingest.
func String(s string) Value {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", "null", "none", "nan", "n/a", "na":
		return NullValue()
	}
	return Value{Kind: KindString, Str: s}
}

// Number wraps a numeric cell.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// Timestamp wraps a time cell.
func Timestamp(t time.Time) Value {
	return Value{Kind: KindTime, Time: t}
}

// Float returns the numeric interpretation of the value.
// String cells are parsed; null and non-numeric cells report ok=false.
func (v Value) Float() (float64, bool) {
	if v.Null {
		return 0, false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text returns a display form of the value; null renders as the empty string.
func (v Value) Text() string {
	if v.Null {
		return ""
	}
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return v.Str
	}
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.Null || o.Null {
		return v.Null == o.Null
	}
	if v.Kind != o.Kind {
		return v.Text() == o.Text()
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindTime:
		return v.Time.Equal(o.Time)
	default:
		return v.Str == o.Str
	}
}
