package step

import (
	"context"
	"sort"
	"sync"

	"github.com/cleanflow/cleanflow/pkg/dataset"
	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

// action pairs a validator with its applier.
type action struct {
	validate Validator
	apply    Applier
}

// Registry holds the whitelist of executable actions.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]action
}

// Global default registry; builtin actions register here in init.
var defaultRegistry = NewRegistry()

// NewRegistry creates a new empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]action)}
}

// Register adds an action to the registry. A nil validator accepts any
// parameters.
func (r *Registry) Register(name string, validate Validator, apply Applier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if validate == nil {
		validate = func(Step) error { return nil }
	}
	r.actions[name] = action{validate: validate, apply: apply}
}

// Validate checks a step against its action contract.
// Unknown actions and malformed parameters are rejected.
func (r *Registry) Validate(s Step) error {
	r.mu.RLock()
	a, ok := r.actions[s.Action]
	r.mu.RUnlock()

	if !ok {
		return cferr.InvalidStep(s.Action, "unknown action")
	}
	return a.validate(s)
}

// Apply runs a validated step against a frame.
func (r *Registry) Apply(ctx context.Context, f *dataset.Frame, s Step, env Env) (*dataset.Frame, error) {
	r.mu.RLock()
	a, ok := r.actions[s.Action]
	r.mu.RUnlock()

	if !ok {
		return nil, cferr.InvalidStep(s.Action, "unknown action")
	}
	return a.apply(ctx, f, s, env)
}

// List returns all registered action names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- Global registry functions ---

// Register adds an action to the default registry.
func Register(name string, validate Validator, apply Applier) {
	defaultRegistry.Register(name, validate, apply)
}

// Validate checks a step against the default registry.
func Validate(s Step) error {
	return defaultRegistry.Validate(s)
}

// Apply runs a step through the default registry.
func Apply(ctx context.Context, f *dataset.Frame, s Step, env Env) (*dataset.Frame, error) {
	return defaultRegistry.Apply(ctx, f, s, env)
}

// List lists actions in the default registry.
func List() []string {
	return defaultRegistry.List()
}

// Default returns the default registry for direct access.
func Default() *Registry {
	return defaultRegistry
}

// requireColumn is a shared validator helper: the named string param must be
// present and non-empty.
func requireStringParam(s Step, key string) (string, error) {
	v, ok := s.stringParam(key)
	if !ok || v == "" {
		return "", cferr.InvalidStep(s.Action, "missing required parameter: "+key)
	}
	return v, nil
}

// resolveColumn finds a parameter-named column in the frame.
func resolveColumn(f *dataset.Frame, s Step, key string) (int, error) {
	name, ok := s.stringParam(key)
	if !ok {
		return -1, cferr.InvalidStep(s.Action, "missing required parameter: "+key)
	}
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return -1, cferr.ColumnMissing(name, f.Columns)
	}
	return idx, nil
}
