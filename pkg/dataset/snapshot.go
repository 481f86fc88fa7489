package dataset

import (
	"sync"
	"time"

	"github.com/google/uuid"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

// Snapshot is an immutable, versioned reference to a dataset's state at one
// point in the pipeline. Snapshots are never mutated or overwritten; undo
// restores a session to an earlier snapshot by id.
type Snapshot struct {
	ID        string    `json:"id"`
	Frame     *Frame    `json:"-"`
	RowCount  int       `json:"row_count"`
	ColCount  int       `json:"col_count"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSnapshot assigns a fresh version id to a frame.
func NewSnapshot(f *Frame) *Snapshot {
	return &Snapshot{
		ID:        uuid.NewString(),
		Frame:     f,
		RowCount:  f.NumRows(),
		ColCount:  f.NumCols(),
		CreatedAt: time.Now(),
	}
}

// Store holds snapshots by version id. Implementations must treat stored
// snapshots as immutable.
type Store interface {
	Put(s *Snapshot) error
	Get(id string) (*Snapshot, error)
	Delete(id string) error
}

// MemoryStore is the in-process snapshot store used by live sessions.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*Snapshot)}
}

// Put registers a snapshot. Re-registering an existing id is a no-op;
// version ids are write-once.
func (m *MemoryStore) Put(s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[s.ID]; ok {
		return nil
	}
	m.snapshots[s.ID] = s
	return nil
}

// Get retrieves a snapshot by version id.
func (m *MemoryStore) Get(id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, cferr.New(cferr.CodeSnapshotMissing, "snapshot not found").
			WithContext("id", id)
	}
	return s, nil
}

// Delete removes a snapshot. Used only when a session is discarded and no
// history entry references the id any longer.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, id)
	return nil
}

// Len reports how many snapshots are held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
