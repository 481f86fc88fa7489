package dataset

import (
	"testing"
	"time"
)

func sampleFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := NewFrame([]string{"Name", "Amount"}, [][]Value{
		{String("alice"), Number(10)},
		{String("bob"), NullValue()},
		{String("alice"), Number(10)},
	})
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	return f
}

func TestNewFrameRejectsRaggedRows(t *testing.T) {
	_, err := NewFrame([]string{"a", "b"}, [][]Value{
		{Number(1)},
	})
	if err == nil {
		t.Errorf("Expected error for ragged row")
	}
}

func TestColumnIndexCaseInsensitive(t *testing.T) {
	f := sampleFrame(t)
	if f.ColumnIndex("amount") != 1 {
		t.Errorf("Lowercase lookup failed")
	}
	if f.ColumnIndex("AMOUNT") != 1 {
		t.Errorf("Uppercase lookup failed")
	}
	if f.ColumnIndex("missing") != -1 {
		t.Errorf("Missing column should be -1")
	}
}

func TestHead(t *testing.T) {
	f := sampleFrame(t)
	if f.Head(2).NumRows() != 2 {
		t.Errorf("Head(2) wrong")
	}
	if f.Head(100).NumRows() != 3 {
		t.Errorf("Head beyond length must clamp")
	}
	if f.Head(-1).NumRows() != 0 {
		t.Errorf("Negative head must be empty")
	}
}

func TestFingerprint(t *testing.T) {
	f := sampleFrame(t)
	g := sampleFrame(t)
	if f.Fingerprint() != g.Fingerprint() {
		t.Errorf("Identical frames must share a fingerprint")
	}

	// Null and empty string are distinct contents.
	a, _ := NewFrame([]string{"v"}, [][]Value{{NullValue()}})
	b, _ := NewFrame([]string{"v"}, [][]Value{{Value{Kind: KindString}}})
	if a.Fingerprint() == b.Fingerprint() {
		t.Errorf("Null and empty string must not collide")
	}

	// Any cell change moves the fingerprint.
	h, _ := NewFrame([]string{"Name", "Amount"}, [][]Value{
		{String("alice"), Number(10)},
		{String("bob"), NullValue()},
		{String("alice"), Number(11)},
	})
	if f.Fingerprint() == h.Fingerprint() {
		t.Errorf("Changed cell must change the fingerprint")
	}
}

func TestStringNormalizesNullTokens(t *testing.T) {
	for _, token := range []string{"", "null", "NULL", "none", "nan", "n/a", "NA"} {
		if v := String(token); !v.Null {
			t.Errorf("Token %q should normalize to null", token)
		}
	}
	if String("0").Null || String("false").Null {
		t.Errorf("Real values misread as null")
	}
}

func TestAnalyze(t *testing.T) {
	f := sampleFrame(t)
	d := Analyze(f)

	if d.RowCount != 3 || d.ColumnCount != 2 {
		t.Errorf("Wrong shape: %d x %d", d.RowCount, d.ColumnCount)
	}
	if d.DuplicateRows != 1 {
		t.Errorf("Expected 1 duplicate, got %d", d.DuplicateRows)
	}

	name := d.Columns[0]
	if name.NullCount != 0 || name.DistinctCount != 2 || name.InferredType != "string" {
		t.Errorf("Name diagnostics wrong: %+v", name)
	}
	amount := d.Columns[1]
	if amount.NullCount != 1 || amount.InferredType != "number" {
		t.Errorf("Amount diagnostics wrong: %+v", amount)
	}
	if amount.NullRatio < 0.33 || amount.NullRatio > 0.34 {
		t.Errorf("Wrong null ratio: %f", amount.NullRatio)
	}
}

func TestAnalyzeEmptyColumn(t *testing.T) {
	f, _ := NewFrame([]string{"v"}, [][]Value{{NullValue()}, {NullValue()}})
	d := Analyze(f)
	if d.Columns[0].InferredType != "unknown" {
		t.Errorf("All-null column should infer unknown, got %s", d.Columns[0].InferredType)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	f, _ := NewFrame([]string{"s", "n", "t", "x"}, [][]Value{
		{String("hello"), Number(3.14), Timestamp(ts), NullValue()},
	})

	data, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	back, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	if !f.Equal(back) {
		t.Errorf("Round trip changed the frame:\n%+v\n%+v", f.Rows, back.Rows)
	}
	if f.Fingerprint() != back.Fingerprint() {
		t.Errorf("Round trip changed the fingerprint")
	}
}

func TestMemoryStoreWriteOnce(t *testing.T) {
	store := NewMemoryStore()
	f := sampleFrame(t)
	snap := NewSnapshot(f)

	if err := store.Put(snap); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := store.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Frame.Equal(f) {
		t.Errorf("Stored frame differs")
	}

	// Version ids are write-once; a repeat put is a silent no-op.
	if err := store.Put(snap); err != nil {
		t.Errorf("Repeat put should be a no-op, got %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 snapshot, got %d", store.Len())
	}

	store.Delete(snap.ID)
	if _, err := store.Get(snap.ID); err == nil {
		t.Errorf("Deleted snapshot still retrievable")
	}
}
