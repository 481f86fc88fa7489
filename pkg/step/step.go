// Package step defines the closed set of transformation actions a pipeline
// may apply. The action registry is an explicit whitelist: only predefined,
// validated actions are executable, never arbitrary code.
package step

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cleanflow/cleanflow/pkg/dataset"
)

// Step is a single named transformation with a parameter mapping.
// Immutable once recorded into a session's history.
type Step struct {
	Action string                 `json:"action" yaml:"action"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// String renders the step for logs and history metadata.
func (s Step) String() string {
	if len(s.Params) == 0 {
		return s.Action
	}
	return fmt.Sprintf("%s%v", s.Action, s.Params)
}

// Env carries the capabilities an applier may use. Appliers are otherwise
// pure: frame in, new frame out.
type Env struct {
	// Tenant is the isolation boundary the step runs under.
	Tenant string

	// Models resolves model-backed capabilities. Nil when the plan contains
	// no model-backed steps.
	Models ModelResolver
}

// ModelResolver lends out a live model instance for the duration of one
// step. The returned release func must be called exactly once.
type ModelResolver interface {
	Acquire(ctx context.Context, kind string) (instance interface{}, release func(), err error)
}

// Classifier is the opaque inference surface a classify step expects from
// its model instance.
type Classifier interface {
	Classify(ctx context.Context, inputs []string) ([]string, error)
}

// Applier applies one validated step to a frame, producing a new frame.
type Applier func(ctx context.Context, f *dataset.Frame, s Step, env Env) (*dataset.Frame, error)

// Validator checks a step's parameters against its action contract.
// It runs before any execution begins.
type Validator func(s Step) error

// --- Parameter access helpers ---

func (s Step) stringParam(key string) (string, bool) {
	v, ok := s.Params[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

func (s Step) floatParam(key string) (float64, bool) {
	v, ok := s.Params[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (s Step) intParam(key string) (int, bool) {
	f, ok := s.floatParam(key)
	return int(f), ok
}

func (s Step) stringsParam(key string) ([]string, bool) {
	v, ok := s.Params[key]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}
