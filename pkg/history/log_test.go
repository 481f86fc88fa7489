package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cleanflow/cleanflow/pkg/step"
)

func appendN(l *Log, n int) {
	for i := 0; i < n; i++ {
		l.Append(step.Step{Action: "trim_whitespace"}, OutcomeSucceeded, "snap", "prev", "")
	}
}

func TestAppendAssignsPositions(t *testing.T) {
	l := NewLog()
	first := l.Append(step.Step{Action: "a"}, OutcomeSucceeded, "s1", "s0", "")
	second := l.Append(step.Step{Action: "b"}, OutcomeSucceeded, "s2", "s1", "")

	if first.Position != 0 || second.Position != 1 {
		t.Errorf("Positions wrong: %d, %d", first.Position, second.Position)
	}
	if l.Len() != 2 || l.ActiveLen() != 2 {
		t.Errorf("Expected 2 entries, 2 active; got %d, %d", l.Len(), l.ActiveLen())
	}
}

func TestUndoTombstonesNewestFirst(t *testing.T) {
	l := NewLog()
	appendN(l, 3)

	e, ok := l.Undo()
	if !ok || e.Position != 2 {
		t.Fatalf("Expected undo of position 2, got %+v ok=%v", e, ok)
	}
	if l.ActiveLen() != 2 {
		t.Errorf("Expected 2 active, got %d", l.ActiveLen())
	}
	// The entry is tombstoned, not deleted.
	if l.Len() != 3 {
		t.Errorf("Undo must not shrink the log, got %d", l.Len())
	}
	if l.All()[2].Outcome != OutcomeUndone {
		t.Errorf("Expected tombstone, got %s", l.All()[2].Outcome)
	}
}

func TestUndoEmpty(t *testing.T) {
	l := NewLog()
	if _, ok := l.Undo(); ok {
		t.Errorf("Undo on empty log must report false")
	}
}

func TestRedoReactivatesInOrder(t *testing.T) {
	l := NewLog()
	appendN(l, 3)
	l.Undo() // position 2
	l.Undo() // position 1

	e, ok := l.Redo()
	if !ok || e.Position != 1 {
		t.Fatalf("Expected redo of position 1, got %+v ok=%v", e, ok)
	}
	e, ok = l.Redo()
	if !ok || e.Position != 2 {
		t.Fatalf("Expected redo of position 2, got %+v ok=%v", e, ok)
	}
	if _, ok := l.Redo(); ok {
		t.Errorf("No further redo expected")
	}
}

func TestAppendInvalidatesRedo(t *testing.T) {
	l := NewLog()
	appendN(l, 2)
	l.Undo()

	l.Append(step.Step{Action: "c"}, OutcomeSucceeded, "s3", "s1", "")
	if _, ok := l.Redo(); ok {
		t.Errorf("Redo must be impossible after a fresh append")
	}
	// The undone entry stays in the audit trail.
	if l.Len() != 3 {
		t.Errorf("Expected 3 entries, got %d", l.Len())
	}
}

func TestRewindTo(t *testing.T) {
	l := NewLog()
	appendN(l, 4)

	undone := l.RewindTo(1)
	if len(undone) != 2 {
		t.Fatalf("Expected 2 undone entries, got %d", len(undone))
	}
	// Newest first.
	if undone[0].Position != 3 || undone[1].Position != 2 {
		t.Errorf("Wrong rewind order: %d, %d", undone[0].Position, undone[1].Position)
	}
	if l.ActiveLen() != 2 {
		t.Errorf("Expected 2 active after rewind, got %d", l.ActiveLen())
	}

	// Rewinding everything.
	if undone := l.RewindTo(-1); len(undone) != 2 {
		t.Errorf("Expected remaining 2 undone, got %d", len(undone))
	}
}

func TestFailedEntriesNeverActive(t *testing.T) {
	l := NewLog()
	l.Append(step.Step{Action: "a"}, OutcomeSucceeded, "s1", "s0", "")
	l.Append(step.Step{Action: "b"}, OutcomeFailed, "", "s1", "boom")

	if l.ActiveLen() != 1 {
		t.Errorf("Failed entry counted as active")
	}
	active := l.ActiveSuffix()
	if len(active) != 1 || active[0].Step.Action != "a" {
		t.Errorf("Unexpected active suffix: %+v", active)
	}
	if e, ok := l.LastActive(); !ok || e.Step.Action != "a" {
		t.Errorf("LastActive skipped to %+v", e)
	}

	// A failed entry cannot be undone or redone.
	l.Undo()
	if _, ok := l.Undo(); ok {
		t.Errorf("Failed entry must not be undoable")
	}
}

func TestExportAudit(t *testing.T) {
	l := NewLog()
	appendN(l, 2)
	l.Undo()

	path := filepath.Join(t.TempDir(), "audit.json")
	if err := l.ExportAudit(path); err != nil {
		t.Fatalf("ExportAudit failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("Audit file is not valid JSON: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[1].Outcome != OutcomeUndone {
		t.Errorf("Tombstone missing from exported audit: %s", entries[1].Outcome)
	}

	// No stray temp file.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temp file left behind")
	}
}
