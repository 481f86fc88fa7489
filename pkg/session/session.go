// Package session drives the pipeline state machine: one Session per
// (tenant, dataset) editing context, walking Planning → Executing → Review
// with terminal Committed and Error states, backed by the history log, the
// model registry, and the two cache tiers.
package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cleanflow/cleanflow/pkg/dataset"
	cferr "github.com/cleanflow/cleanflow/pkg/errors"
	"github.com/cleanflow/cleanflow/pkg/history"
	"github.com/cleanflow/cleanflow/pkg/models"
	"github.com/cleanflow/cleanflow/pkg/resultstore"
	"github.com/cleanflow/cleanflow/pkg/step"
)

var tracer = otel.Tracer("github.com/cleanflow/cleanflow/pkg/session")

// Status is the state-machine position of a session.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusReview    Status = "review"
	StatusCommitted Status = "committed"
	StatusError     Status = "error"
)

// Session is one user's active editing context for one dataset. All
// operations on a session serialize through its lock: step execution
// within a session is strictly sequential.
type Session struct {
	ID        string
	Tenant    string
	DatasetID string
	CreatedAt time.Time

	mgr *Manager

	mu           sync.Mutex
	status       Status
	snapshotID   string
	log          *history.Log
	committedKey string
	lastActive   time.Time

	// handles are model instances held for the session's lifetime so
	// consecutive steps reuse them; released when the session ends.
	handles map[string]*models.Handle
}

// Result is the structured outcome returned to the request layer: status,
// a bounded preview, and history metadata.
type Result struct {
	SessionID    string                   `json:"session_id"`
	Status       Status                   `json:"status"`
	SnapshotID   string                   `json:"snapshot_id"`
	RowCount     int                      `json:"row_count"`
	ColCount     int                      `json:"col_count"`
	Preview      []map[string]interface{} `json:"preview"`
	Diagnostics  dataset.Diagnostics      `json:"diagnostics"`
	History      []history.Entry          `json:"history"`
	CommittedKey string                   `json:"committed_key,omitempty"`
}

// Status returns the session's current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SnapshotID returns the current snapshot's version id.
func (s *Session) SnapshotID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotID
}

// History returns the full audit trail, tombstones included.
func (s *Session) History() []history.Entry {
	return s.log.All()
}

// Frame returns the frame behind the current snapshot, e.g. for export.
func (s *Session) Frame() (*dataset.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.mgr.snapshots.Get(s.snapshotID)
	if err != nil {
		return nil, err
	}
	return snap.Frame, nil
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

// Submit accepts a non-empty ordered step sequence, validates every step
// up front, and applies them strictly in order. Each step is atomic: it
// either produces a new snapshot plus a history entry, or fails leaving
// the session snapshot unchanged with a failed entry appended and the
// session frozen in Error. Valid from Planning, or from Review (which
// loops back to Planning for another round).
func (s *Session) Submit(ctx context.Context, steps []step.Step) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if s.status != StatusPlanning && s.status != StatusReview {
		return nil, cferr.InvalidTransition(string(s.status), "submit")
	}
	if len(steps) == 0 {
		return nil, cferr.InvalidStep("", "step sequence must be non-empty")
	}

	// Validate everything before executing anything; a rejected plan leaves
	// the session exactly where it was.
	for _, st := range steps {
		if err := s.mgr.steps.Validate(st); err != nil {
			return nil, err
		}
	}

	s.status = StatusExecuting

	ctx, span := tracer.Start(ctx, "session.submit")
	span.SetAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("tenant", s.Tenant),
		attribute.Int("steps", len(steps)),
	)
	defer span.End()

	applied := 0
	for _, st := range steps {
		// Cancellation is only honored between steps: a step whose
		// snapshot was produced is committed to history. With at least one
		// step applied there is a partial result to inspect in Review;
		// before that the plan never ran and the session returns to
		// Planning.
		if err := ctx.Err(); err != nil {
			if applied > 0 {
				s.status = StatusReview
			} else {
				s.status = StatusPlanning
			}
			return nil, cferr.Wrap(err, cferr.CodeSessionCanceled, "submit canceled").
				WithContext("session", s.ID)
		}

		if err := s.applyLocked(ctx, st); err != nil {
			if cferr.IsSessionFatal(err) {
				s.status = StatusError
			} else {
				// Validation-grade surprises (e.g. a column dropped by an
				// earlier step) stop the run but leave the session usable.
				s.status = StatusPlanning
			}
			return nil, err
		}
		applied++
	}

	s.status = StatusReview
	return s.resultLocked(), nil
}

// applyLocked runs one step against the current snapshot. Caller holds s.mu.
func (s *Session) applyLocked(ctx context.Context, st step.Step) error {
	snap, err := s.mgr.snapshots.Get(s.snapshotID)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "session.step")
	span.SetAttributes(attribute.String("step.action", st.Action))
	defer span.End()

	next, err := s.resolveStep(ctx, snap.Frame, st)
	if err != nil {
		switch cferr.GetCode(err) {
		case cferr.CodeQuotaExceeded, cferr.CodeStoreUnavailable, cferr.CodeSessionCanceled:
			// Environmental conditions, not step failures: nothing is
			// recorded and the session stays usable.
			return err
		}
		fatal := cferr.StepExecution(st.Action, s.log.Len(), err)
		s.log.Append(st, history.OutcomeFailed, "", s.snapshotID, fatal.Error())
		return fatal
	}

	newSnap := dataset.NewSnapshot(next)
	if err := s.mgr.snapshots.Put(newSnap); err != nil {
		return err
	}
	s.log.Append(st, history.OutcomeSucceeded, newSnap.ID, s.snapshotID, "")
	s.snapshotID = newSnap.ID
	return nil
}

// resolveStep applies one step with the tiered cache in front of durable
// actions: transient cache, then result store, then fresh computation.
func (s *Session) resolveStep(ctx context.Context, f *dataset.Frame, st step.Step) (*dataset.Frame, error) {
	env := step.Env{Tenant: s.Tenant, Models: sessionModels{s: s, ctx: ctx}}

	if !s.mgr.durable[st.Action] || s.mgr.results == nil {
		return s.mgr.steps.Apply(ctx, f, st, env)
	}

	params := map[string]interface{}{"action": st.Action}
	for k, v := range st.Params {
		params[k] = v
	}
	key := resultstore.Key(f.Fingerprint(), params)

	// Tier 1: transient, scoped to this session.
	if v, ok := s.mgr.transient.Get(s.ID, key); ok {
		return v.(*dataset.Frame), nil
	}

	// Tier 2: durable, shared across sessions with identical inputs.
	if data, ok, err := s.mgr.results.Get(ctx, key); err == nil && ok {
		frame, derr := dataset.DecodeFrame(data)
		if derr == nil {
			s.mgr.transient.Put(s.ID, key, frame)
			return frame, nil
		}
	}

	// Tier 3: fresh computation, then populate both tiers.
	out, err := s.mgr.steps.Apply(ctx, f, st, env)
	if err != nil {
		return nil, err
	}
	s.mgr.transient.Put(s.ID, key, out)
	if data, err := dataset.EncodeFrame(out); err == nil {
		// Best effort: an unreachable durable tier must not fail the step.
		_ = s.mgr.results.Put(ctx, key, data)
	}
	return out, nil
}

// Undo tombstones the most recent active history entry and restores the
// prior snapshot. Valid in Review or Planning; always lands in Planning.
func (s *Session) Undo() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if s.status != StatusReview && s.status != StatusPlanning {
		return nil, cferr.InvalidTransition(string(s.status), "undo")
	}

	e, ok := s.log.Undo()
	if !ok {
		return nil, cferr.NothingToUndo(s.ID)
	}

	s.snapshotID = e.PrevSnapshotID
	s.status = StatusPlanning
	return s.resultLocked(), nil
}

// Redo reactivates the most recently undone entry, if no append has
// superseded it.
func (s *Session) Redo() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if s.status != StatusReview && s.status != StatusPlanning {
		return nil, cferr.InvalidTransition(string(s.status), "redo")
	}

	e, ok := s.log.Redo()
	if !ok {
		return nil, cferr.New(cferr.CodeNothingToRedo, "no undone entry to redo").
			WithContext("session", s.ID)
	}

	s.snapshotID = e.SnapshotID
	s.status = StatusPlanning
	return s.resultLocked(), nil
}

// RewindTo bulk-undoes every active entry past the given position.
func (s *Session) RewindTo(position int) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if s.status != StatusReview && s.status != StatusPlanning {
		return nil, cferr.InvalidTransition(string(s.status), "rewind")
	}

	undone := s.log.RewindTo(position)
	if len(undone) == 0 {
		return nil, cferr.NothingToUndo(s.ID)
	}

	// Entries come back newest first; the oldest one's predecessor is the
	// snapshot to restore.
	s.snapshotID = undone[len(undone)-1].PrevSnapshotID
	s.status = StatusPlanning
	return s.resultLocked(), nil
}

// Commit persists the current snapshot through the result store and
// transitions to Committed. Idempotent: committing again returns the same
// persisted key without recomputation or duplicate durable writes.
func (s *Session) Commit(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if s.status == StatusCommitted && s.committedKey != "" {
		return s.resultLocked(), nil
	}
	if s.status != StatusReview {
		return nil, cferr.InvalidTransition(string(s.status), "commit")
	}

	ctx, span := tracer.Start(ctx, "session.commit")
	span.SetAttributes(attribute.String("session.id", s.ID))
	defer span.End()

	snap, err := s.mgr.snapshots.Get(s.snapshotID)
	if err != nil {
		return nil, err
	}

	key := resultstore.Key(snap.Frame.Fingerprint(), map[string]interface{}{
		"dataset": s.DatasetID,
		"kind":    "committed_snapshot",
	})

	if s.mgr.results != nil {
		data, err := dataset.EncodeFrame(snap.Frame)
		if err != nil {
			return nil, err
		}
		// Write-once: identical content under the same key makes a repeat
		// write a no-op at the store level as well.
		if err := s.mgr.results.Put(ctx, key, data); err != nil {
			return nil, err
		}
	}

	s.committedKey = key
	s.status = StatusCommitted
	return s.resultLocked(), nil
}

// Preview returns the current state without mutating anything.
func (s *Session) Preview() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.resultLocked(), nil
}

// resultLocked builds the caller-facing result. Caller holds s.mu.
func (s *Session) resultLocked() *Result {
	r := &Result{
		SessionID:    s.ID,
		Status:       s.status,
		SnapshotID:   s.snapshotID,
		History:      s.log.ActiveSuffix(),
		CommittedKey: s.committedKey,
	}

	snap, err := s.mgr.snapshots.Get(s.snapshotID)
	if err != nil {
		return r
	}
	r.RowCount = snap.RowCount
	r.ColCount = snap.ColCount
	r.Preview = snap.Frame.Head(s.mgr.previewRows).Records()
	r.Diagnostics = dataset.Analyze(snap.Frame)
	return r
}

// releaseHandlesLocked returns every held model handle. Caller holds s.mu.
func (s *Session) releaseHandlesLocked() {
	for kind, h := range s.handles {
		s.mgr.models.Release(h)
		delete(s.handles, kind)
	}
}

// sessionModels adapts the registry to the step package's resolver,
// holding acquired handles for the session's lifetime so consecutive
// steps do not pay re-acquisition.
type sessionModels struct {
	s   *Session
	ctx context.Context
}

// Acquire lends out the session's handle for a model kind, acquiring one
// from the registry on first use. The per-step release is a no-op; the
// session releases all handles when it ends.
func (m sessionModels) Acquire(ctx context.Context, kind string) (interface{}, func(), error) {
	// Caller already holds s.mu via Submit.
	if h, ok := m.s.handles[kind]; ok {
		return h.Instance(), func() {}, nil
	}

	ctor, ok := m.s.mgr.constructors[kind]
	if !ok {
		return nil, nil, cferr.New(cferr.CodeModelConstruct, "no constructor for model kind").
			WithContext("kind", kind)
	}

	h, err := m.s.mgr.models.Acquire(ctx, m.s.Tenant, kind, ctor)
	if err != nil {
		return nil, nil, err
	}
	m.s.handles[kind] = h
	return h.Instance(), func() {}, nil
}
