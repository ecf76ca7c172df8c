// Package explainer builds the uniform explainer record that model
// comparison and explanation tooling consumes.
//
// An Explainer pairs a model with evaluation data, optional targets and,
// when precalculated, predictions and residuals.
package explainer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/vitas/explainer-adapters/dataset"
	"github.com/vitas/explainer-adapters/params"
)

// Model types.
const (
	Classification = "classification"
	Regression     = "regression"
)

// ErrNoPredict is returned when neither the model nor the options provide
// a way to predict.
var ErrNoPredict = errors.New("model has no predict capability")

// Model is anything able to predict on a dataset.
type Model interface {
	Predict(ctx context.Context, data *dataset.Frame) ([]float64, error)
}

// PredictFunc computes predictions for data.
type PredictFunc func(ctx context.Context, m Model, data *dataset.Frame) ([]float64, error)

// ResidualFunc computes residuals for data given observed y.
type ResidualFunc func(ctx context.Context, m Model, data *dataset.Frame, y []float64) ([]float64, error)

// ModelInfo describes where a model comes from.
type ModelInfo struct {
	Package string `json:"package"`
	Version string `json:"version"`
	Type    string `json:"type" validate:"omitempty,oneof=classification regression"`
}

// Options are the explainer constructor arguments.
type Options struct {
	Data         *dataset.Frame
	Y            []float64
	Weights      []float64
	PredictFunc  PredictFunc
	ResidualFunc ResidualFunc
	Label        string
	Verbose      bool
	Precalculate bool
	Colorize     bool
	ModelInfo    *ModelInfo `validate:"omitempty"`
	Type         string     `validate:"omitempty,oneof=classification regression"`

	// Out receives the verbose report. Defaults to io.Discard.
	Out io.Writer
}

// Explainer is the uniform record handed to downstream tooling.
type Explainer struct {
	Model        Model
	Data         *dataset.Frame
	Y            []float64
	Weights      []float64
	PredictFunc  PredictFunc
	ResidualFunc ResidualFunc
	Label        string
	ModelInfo    ModelInfo
	Type         string

	// YHat and Residuals are only set when precalculated.
	YHat      []float64
	Residuals []float64

	// Params holds the model's constructor parameters when an adapter
	// could recover them.
	Params *params.Set
}

var validate = validator.New()

// New builds an Explainer. With opts.Precalculate set and data supplied,
// predictions are computed eagerly, and residuals too when y is supplied.
func New(ctx context.Context, m Model, opts Options) (*Explainer, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("explainer: options: %w", err)
	}
	if m == nil && opts.PredictFunc == nil {
		return nil, ErrNoPredict
	}
	out := opts.Out
	if out == nil || !opts.Verbose {
		out = io.Discard
	}
	rep := newReport(out, opts.Colorize)
	rep.start()

	e := &Explainer{
		Model:        m,
		Data:         opts.Data,
		Y:            opts.Y,
		Weights:      opts.Weights,
		PredictFunc:  opts.PredictFunc,
		ResidualFunc: opts.ResidualFunc,
		Label:        opts.Label,
		Type:         opts.Type,
	}
	if opts.ModelInfo != nil {
		e.ModelInfo = *opts.ModelInfo
	}
	if e.Type == "" {
		e.Type = e.ModelInfo.Type
	}
	if e.ModelInfo.Type == "" {
		e.ModelInfo.Type = e.Type
	}
	if e.Label == "" {
		e.Label = defaultLabel(m)
	}
	if e.PredictFunc == nil {
		e.PredictFunc = defaultPredict
	}
	if e.ResidualFunc == nil {
		e.ResidualFunc = e.defaultResidual
	}

	rows, cols := e.Data.Dims()
	rep.item("model label", e.Label, "")
	if e.Data == nil {
		rep.warn("data", "not specified")
	} else {
		rep.item("data", fmt.Sprintf("%d rows %d cols", rows, cols), "")
	}
	yOK := true
	switch {
	case e.Y == nil:
		rep.warn("target variable", "not specified")
	case e.Data != nil && len(e.Y) != rows:
		yOK = false
		rep.warn("target variable", fmt.Sprintf("length of y (%d) does not match data rows (%d)", len(e.Y), rows))
	default:
		rep.item("target variable", fmt.Sprintf("%d values", len(e.Y)), "")
	}
	if e.Weights != nil && e.Data != nil && len(e.Weights) != rows {
		rep.warn("data weights", fmt.Sprintf("length of weights (%d) does not match data rows (%d)", len(e.Weights), rows))
	}
	rep.item("model_info", fmt.Sprintf("package %s, ver. %s, task %s", orDefault(e.ModelInfo.Package, "unknown"), orDefault(e.ModelInfo.Version, "unknown"), orDefault(e.Type, "unknown")), "")

	if opts.Precalculate && e.Data != nil {
		yhat, err := e.PredictFunc(ctx, e.Model, e.Data)
		if err != nil {
			rep.fail("predicted values", err)
			return nil, fmt.Errorf("explainer: predict: %w", err)
		}
		e.YHat = yhat
		rep.item("predicted values", summary(yhat), "")

		if e.Y != nil && yOK {
			res, err := e.ResidualFunc(ctx, e.Model, e.Data, e.Y)
			if err != nil {
				rep.fail("residuals", err)
				return nil, fmt.Errorf("explainer: residuals: %w", err)
			}
			e.Residuals = res
			rep.item("residuals", summary(res), "")
		}
	} else {
		rep.item("predicted values", "not precalculated", "")
	}
	rep.done()
	return e, nil
}

// Predict runs the explainer's predict function.
func (e *Explainer) Predict(ctx context.Context, data *dataset.Frame) ([]float64, error) {
	return e.PredictFunc(ctx, e.Model, data)
}

// Close releases the model when it holds foreign resources.
func (e *Explainer) Close() error {
	if c, ok := e.Model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func defaultPredict(ctx context.Context, m Model, data *dataset.Frame) ([]float64, error) {
	if m == nil {
		return nil, ErrNoPredict
	}
	return m.Predict(ctx, data)
}

func (e *Explainer) defaultResidual(ctx context.Context, m Model, data *dataset.Frame, y []float64) ([]float64, error) {
	yhat, err := e.PredictFunc(ctx, m, data)
	if err != nil {
		return nil, err
	}
	if len(yhat) != len(y) {
		return nil, fmt.Errorf("got %d predictions for %d observations", len(yhat), len(y))
	}
	res := make([]float64, len(y))
	for i := range y {
		res[i] = y[i] - yhat[i]
	}
	return res, nil
}

func defaultLabel(m Model) string {
	if m == nil {
		return "model"
	}
	if l, ok := m.(interface{ Label() string }); ok && l.Label() != "" {
		return l.Label()
	}
	return fmt.Sprintf("%T", m)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
