package dataset

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireValue is the serialized form of a cell. Nulls marshal as kind "null"
// so decode round-trips exactly.
type wireValue struct {
	Kind string `json:"k"`
	Str  string `json:"v,omitempty"`
	Num  float64 `json:"n,omitempty"`
	Time string `json:"t,omitempty"`
}

type wireFrame struct {
	Columns []string      `json:"columns"`
	Rows    [][]wireValue `json:"rows"`
}

// EncodeFrame serializes a frame to bytes. Encoding is deterministic for a
// given frame, so identical frames produce identical artifacts.
func EncodeFrame(f *Frame) ([]byte, error) {
	wf := wireFrame{Columns: f.Columns, Rows: make([][]wireValue, len(f.Rows))}
	for i, row := range f.Rows {
		wr := make([]wireValue, len(row))
		for j, v := range row {
			switch {
			case v.Null:
				wr[j] = wireValue{Kind: "null"}
			case v.Kind == KindNumber:
				wr[j] = wireValue{Kind: "num", Num: v.Num}
			case v.Kind == KindTime:
				wr[j] = wireValue{Kind: "time", Time: v.Time.UTC().Format(time.RFC3339Nano)}
			default:
				wr[j] = wireValue{Kind: "str", Str: v.Str}
			}
		}
		wf.Rows[i] = wr
	}
	return json.Marshal(wf)
}

// DecodeFrame deserializes a frame produced by EncodeFrame.
func DecodeFrame(data []byte) (*Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	rows := make([][]Value, len(wf.Rows))
	for i, wr := range wf.Rows {
		row := make([]Value, len(wr))
		for j, wv := range wr {
			switch wv.Kind {
			case "null":
				row[j] = NullValue()
			case "num":
				row[j] = Number(wv.Num)
			case "time":
				t, err := time.Parse(time.RFC3339Nano, wv.Time)
				if err != nil {
					return nil, fmt.Errorf("row %d: bad time cell: %w", i, err)
				}
				row[j] = Timestamp(t)
			default:
				row[j] = Value{Kind: KindString, Str: wv.Str}
			}
		}
		rows[i] = row
	}
	return NewFrame(wf.Columns, rows)
}
