package step

import (
	"context"
	"fmt"

	"github.com/cleanflow/cleanflow/pkg/dataset"
	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

func init() {
	Register("classify_column", validateClassifyColumn, applyClassifyColumn)
}

// validateClassifyColumn requires a column to classify and a model kind.
func validateClassifyColumn(s Step) error {
	if _, err := requireStringParam(s, "column"); err != nil {
		return err
	}
	_, err := requireStringParam(s, "model")
	return err
}

// applyClassifyColumn resolves a model instance through the session's model
// resolver and writes one label per row into a new column. The model is an
// opaque inference capability; the step never constructs models itself.
func applyClassifyColumn(ctx context.Context, f *dataset.Frame, s Step, env Env) (*dataset.Frame, error) {
	idx, err := resolveColumn(f, s, "column")
	if err != nil {
		return nil, err
	}
	kind, _ := s.stringParam("model")

	output, ok := s.stringParam("output")
	if !ok || output == "" {
		output = fmt.Sprintf("%s_label", f.Columns[idx])
	}
	if f.ColumnIndex(output) >= 0 {
		return nil, cferr.InvalidStep(s.Action, "output column already exists: "+output)
	}

	if env.Models == nil {
		return nil, cferr.New(cferr.CodeModelConstruct, "no model resolver available").
			WithContext("model", kind)
	}

	instance, release, err := env.Models.Acquire(ctx, kind)
	if err != nil {
		return nil, err
	}
	defer release()

	classifier, ok := instance.(Classifier)
	if !ok {
		return nil, cferr.New(cferr.CodeModelConstruct, "model does not implement classification").
			WithContext("model", kind)
	}

	inputs := make([]string, len(f.Rows))
	for i, row := range f.Rows {
		inputs[i] = row[idx].Text()
	}

	labels, err := classifier.Classify(ctx, inputs)
	if err != nil {
		return nil, cferr.Wrap(err, cferr.CodeModelConstruct, "classification failed").
			WithContext("model", kind)
	}
	if len(labels) != len(f.Rows) {
		return nil, cferr.New(cferr.CodeModelConstruct, "classifier returned wrong label count").
			WithContext("model", kind).
			WithContext("want", len(f.Rows)).
			WithContext("got", len(labels))
	}

	columns := append(append([]string{}, f.Columns...), output)
	rows := make([][]dataset.Value, len(f.Rows))
	for i, row := range f.Rows {
		next := make([]dataset.Value, len(row)+1)
		copy(next, row)
		next[len(row)] = dataset.String(labels[i])
		rows[i] = next
	}
	return dataset.NewFrame(columns, rows)
}
