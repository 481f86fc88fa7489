package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cleanflow/cleanflow/pkg/classify"
	"github.com/cleanflow/cleanflow/pkg/models"
	"github.com/cleanflow/cleanflow/pkg/step"
)

// Plan is a declarative cleaning run: ordered steps plus the model kinds
// they may need.
type Plan struct {
	Name  string      `yaml:"name"`
	Steps []step.Step `yaml:"steps"`

	// Models declares classifier kinds used by classify_column steps.
	Models map[string]ModelSpec `yaml:"models"`
}

// ModelSpec declares one model kind. An endpoint makes it a remote
// classifier; rules make it a local keyword classifier.
type ModelSpec struct {
	Endpoint string          `yaml:"endpoint"`
	Timeout  time.Duration   `yaml:"timeout"`
	Rules    []classify.Rule `yaml:"rules"`
	Fallback string          `yaml:"fallback"`
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	for _, st := range p.Steps {
		if err := step.Validate(st); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// Constructor builds the registry constructor for a model spec.
func (s ModelSpec) Constructor() models.Constructor {
	if s.Endpoint != "" {
		return classify.RemoteConstructor(s.Endpoint, s.Timeout)
	}
	return classify.RuleConstructor(s.Rules, s.Fallback)
}
