package scikitlearn

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/vitas/explainer-adapters/dataset"
	"github.com/vitas/explainer-adapters/explainer"
	"github.com/vitas/explainer-adapters/foreign"
)

// ErrMulticlass is returned when predict_proba yields more than two columns.
var ErrMulticlass = errors.New("multiclass probabilities are not supported")

// Model exposes a foreign estimator as an explainer.Model.
//
// Classifiers with predict_proba are scored by the probability of the second
// (positive) class; regressors and everything else go through predict.
type Model struct {
	handle foreign.Handle
	class  string
	proba  bool
}

var _ explainer.Model = (*Model)(nil)

// NewModel wraps h. class is used as the default explainer label. typ is the
// resolved explainer type; regression always scores with predict, and an
// empty type uses predict_proba when the estimator has it.
func NewModel(ctx context.Context, h foreign.Handle, class, typ string) (*Model, error) {
	if typ == explainer.Regression {
		return &Model{handle: h, class: class}, nil
	}
	proba, err := h.HasAttr(ctx, "predict_proba")
	if err != nil {
		return nil, fmt.Errorf("check predict_proba: %w", err)
	}
	return &Model{handle: h, class: class, proba: proba}, nil
}

func (m *Model) Predict(ctx context.Context, data *dataset.Frame) ([]float64, error) {
	if !m.proba {
		v, err := m.handle.Call(ctx, "predict", data.Foreign())
		if err != nil {
			return nil, err
		}
		return v.Floats()
	}

	v, err := m.handle.Call(ctx, "predict_proba", data.Foreign())
	if err != nil {
		return nil, err
	}
	p, err := v.Matrix()
	if err != nil {
		return nil, err
	}
	switch _, c := p.Dims(); c {
	case 1:
		return mat.Col(nil, 0, p), nil
	case 2:
		return mat.Col(nil, 1, p), nil
	default:
		return nil, fmt.Errorf("%w: got %d columns", ErrMulticlass, c)
	}
}

// Label returns the estimator class name.
func (m *Model) Label() string { return m.class }

// Handle returns the underlying foreign object.
func (m *Model) Handle() foreign.Handle { return m.handle }

// Close releases the foreign object.
func (m *Model) Close() error { return m.handle.Close() }
