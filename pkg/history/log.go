// Package history provides the per-session transformation log.
// The log is append-only: undo marks a suffix inactive with logical
// tombstones, never deleting entries, so the full audit trail is always
// reconstructible.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cleanflow/cleanflow/pkg/step"
)

// Outcome records how a step's application ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeUndone    Outcome = "undone"
	OutcomeFailed    Outcome = "failed"
)

// Entry wraps a pipeline step with its execution outcome.
// Position is the immutable sequence index within the session.
type Entry struct {
	Position       int       `json:"position"`
	Step           step.Step `json:"step"`
	Outcome        Outcome   `json:"outcome"`
	SnapshotID     string    `json:"snapshot_id,omitempty"`
	PrevSnapshotID string    `json:"prev_snapshot_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// Log is the ordered history of one session. All mutation goes through the
// log's lock; the session layer additionally guarantees a single in-flight
// execution per session, so concurrent appends never interleave.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewLog creates an empty history log.
func NewLog() *Log {
	return &Log{}
}

// Append records a new entry at the next position and returns it.
// Appending invalidates any undone suffix: redo is only possible until the
// history grows past the undone entries.
func (l *Log) Append(s step.Step, outcome Outcome, snapshotID, prevSnapshotID, errMsg string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Position:       len(l.entries),
		Step:           s,
		Outcome:        outcome,
		SnapshotID:     snapshotID,
		PrevSnapshotID: prevSnapshotID,
		Error:          errMsg,
		At:             time.Now(),
	}
	l.entries = append(l.entries, e)
	return e
}

// ActiveSuffix returns the entries not yet undone, in order.
// Failed entries are part of the audit trail but never active.
func (l *Log) ActiveSuffix() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.Outcome == OutcomeSucceeded {
			out = append(out, e)
		}
	}
	return out
}

// All returns every entry, including tombstoned and failed ones.
func (l *Log) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the total number of entries ever appended.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ActiveLen returns the number of active (not undone, not failed) entries.
func (l *Log) ActiveLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.entries {
		if e.Outcome == OutcomeSucceeded {
			n++
		}
	}
	return n
}

// Undo tombstones the most recent active entry and returns it.
// The bool reports whether there was anything to undo.
func (l *Log) Undo() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Outcome == OutcomeSucceeded {
			l.entries[i].Outcome = OutcomeUndone
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

// Redo reactivates the earliest undone entry that follows every active
// entry, returning it. Undone entries are only replayable while no new
// append has occurred after them.
func (l *Log) Redo() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lastActive := -1
	for i, e := range l.entries {
		if e.Outcome == OutcomeSucceeded {
			lastActive = i
		}
	}
	for i := lastActive + 1; i < len(l.entries); i++ {
		if l.entries[i].Outcome == OutcomeUndone {
			l.entries[i].Outcome = OutcomeSucceeded
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

// RewindTo bulk-undoes every active entry with Position > position and
// returns the entries tombstoned, newest first. RewindTo(-1) undoes
// everything.
func (l *Log) RewindTo(position int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var undone []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Position <= position {
			break
		}
		if l.entries[i].Outcome == OutcomeSucceeded {
			l.entries[i].Outcome = OutcomeUndone
			undone = append(undone, l.entries[i])
		}
	}
	return undone
}

// LastActive returns the most recent active entry.
func (l *Log) LastActive() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Outcome == OutcomeSucceeded {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

// ExportAudit writes the full history, tombstones included, to a JSON file
// via an atomic rename so a partially written audit never appears on disk.
func (l *Log) ExportAudit(path string) error {
	l.mu.RLock()
	data, err := json.MarshalIndent(l.entries, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write audit file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename audit file: %w", err)
	}
	return nil
}
