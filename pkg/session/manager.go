package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleanflow/cleanflow/pkg/cache"
	"github.com/cleanflow/cleanflow/pkg/dataset"
	cferr "github.com/cleanflow/cleanflow/pkg/errors"
	"github.com/cleanflow/cleanflow/pkg/history"
	"github.com/cleanflow/cleanflow/pkg/models"
	"github.com/cleanflow/cleanflow/pkg/resultstore"
	"github.com/cleanflow/cleanflow/pkg/step"
)

// Config controls session lifecycle and the caches behind step execution.
type Config struct {
	// PreviewRows bounds the preview slice returned to callers.
	PreviewRows int

	// IdleTimeout is how long a session may sit untouched before the sweep
	// discards it and releases its model handles.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration

	// DurableActions marks which step actions route their results through
	// the tiered cache. Everything else computes inline every time.
	DurableActions []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PreviewRows:   100,
		IdleTimeout:   15 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Manager owns every live session plus the shared machinery behind them:
// the step registry, the snapshot store, the model registry, and the two
// cache tiers. One Manager serves all tenants of a process.
type Manager struct {
	cfg Config

	steps     *step.Registry
	snapshots dataset.Store
	models    *models.Registry
	transient *cache.Cache

	// results is the durable tier; nil disables it and every durable
	// action degrades to inline computation.
	results resultstore.Store

	durable      map[string]bool
	constructors map[string]models.Constructor
	previewRows  int

	mu       sync.Mutex
	sessions map[string]*Session

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager wires a manager from its collaborators and starts the idle
// sweep. A nil results store is allowed; a nil models registry is not.
func NewManager(cfg Config, steps *step.Registry, reg *models.Registry, results resultstore.Store) *Manager {
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 100
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if steps == nil {
		steps = step.Default()
	}

	durable := make(map[string]bool, len(cfg.DurableActions))
	for _, a := range cfg.DurableActions {
		durable[a] = true
	}

	m := &Manager{
		cfg:          cfg,
		steps:        steps,
		snapshots:    dataset.NewMemoryStore(),
		models:       reg,
		transient:    cache.New(),
		results:      results,
		durable:      durable,
		constructors: make(map[string]models.Constructor),
		previewRows:  cfg.PreviewRows,
		sessions:     make(map[string]*Session),
		stopChan:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.sweepLoop()

	return m
}

// RegisterModel makes a model kind constructible for sessions. Steps that
// name an unregistered kind fail at execution time.
func (m *Manager) RegisterModel(kind string, ctor models.Constructor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constructors[kind] = ctor
}

// Create opens a session in Planning over an initial frame. The frame is
// snapshotted immediately so the zero-step state is already versioned.
func (m *Manager) Create(tenant, datasetID string, f *dataset.Frame) (*Session, error) {
	snap := dataset.NewSnapshot(f)
	if err := m.snapshots.Put(snap); err != nil {
		return nil, err
	}

	s := &Session{
		ID:         uuid.NewString(),
		Tenant:     tenant,
		DatasetID:  datasetID,
		CreatedAt:  time.Now(),
		mgr:        m,
		status:     StatusPlanning,
		snapshotID: snap.ID,
		log:        history.NewLog(),
		lastActive: time.Now(),
		handles:    make(map[string]*models.Handle),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s, nil
}

// Get returns a live session. A wrong tenant gets the same not-found answer
// as a missing id; sessions never leak across tenant lines.
func (m *Manager) Get(tenant, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()

	if !ok || s.Tenant != tenant {
		return nil, cferr.New(cferr.CodeSessionNotFound, "session not found").
			WithContext("id", id)
	}
	return s, nil
}

// Discard ends a session: model handles are released, the transient tier is
// purged, and every snapshot the session produced is dropped. Discarding an
// unknown session is a no-op.
func (m *Manager) Discard(tenant, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && s.Tenant == tenant {
		delete(m.sessions, id)
	} else {
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.teardown(s)
}

func (m *Manager) teardown(s *Session) {
	s.mu.Lock()
	s.releaseHandlesLocked()

	seen := map[string]bool{s.snapshotID: true}
	for _, e := range s.log.All() {
		if e.SnapshotID != "" {
			seen[e.SnapshotID] = true
		}
		if e.PrevSnapshotID != "" {
			seen[e.PrevSnapshotID] = true
		}
	}
	s.mu.Unlock()

	for id := range seen {
		m.snapshots.Delete(id)
	}
	m.transient.PurgeSession(s.ID)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep discards every session idle past the configured threshold and
// returns how many were dropped. Exported for tests and manual maintenance.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActive.Before(cutoff) && s.status != StatusExecuting
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.teardown(s)
	}
	return len(stale)
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Results exposes the durable tier, e.g. for export commands that read a
// committed artifact back out by key.
func (m *Manager) Results() resultstore.Store {
	return m.results
}

// Models exposes the model registry for key management and maintenance.
func (m *Manager) Models() *models.Registry {
	return m.models
}

// Close stops the sweep and tears down every remaining session. The model
// registry and result store are owned by the caller and closed separately.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		delete(m.sessions, id)
		remaining = append(remaining, s)
	}
	m.mu.Unlock()

	for _, s := range remaining {
		m.teardown(s)
	}
	return nil
}
