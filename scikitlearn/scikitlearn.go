// Package scikitlearn adapts pickled scikit-learn estimators to explainers.
//
// The pipeline is strictly sequential: resolve the model file, provision a
// matching Python runtime, deserialize the object, recover its constructor
// parameters, build the explainer and attach the parameters to it.
package scikitlearn

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vitas/explainer-adapters/adapter"
	"github.com/vitas/explainer-adapters/env"
	"github.com/vitas/explainer-adapters/explainer"
	"github.com/vitas/explainer-adapters/foreign"
	"github.com/vitas/explainer-adapters/modelfile"
	"github.com/vitas/explainer-adapters/params"
	"github.com/vitas/explainer-adapters/pybridge"
)

// Version is the adapter version, set at build time via ldflags.
var Version = "dev"

// Now is the time function used for timestamps. Override in tests.
var Now = time.Now

// OutputSchemaVersion is the metadata contract identifier.
// Bump only on breaking changes (field removal, semantic change).
const OutputSchemaVersion = "scikitlearn@v1"

// Package is reported in the explainer's model info.
const Package = "scikit-learn"

// LoadFunc deserializes the object at path with the given interpreter.
type LoadFunc func(ctx context.Context, python, path, loader string) (foreign.Handle, pybridge.Info, error)

// Adapter explains pickled scikit-learn estimators.
//
// Config keys:
//   - yml: conda environment file to create or reuse
//   - condaenv: existing conda environment name
//   - env: virtualenv / environment prefix
//   - python: interpreter when no environment is given
//   - conda: conda executable
//   - loader: "pickle" (default) or "joblib"
//   - credentials_file: service account key for gs:// sources
type Adapter struct {
	// Provisioner defaults to env.Conda configured from config.
	Provisioner env.Provisioner

	// Opener defaults to a modelfile.Opener configured from config.
	Opener *modelfile.Opener

	// Load defaults to pybridge.Load.
	Load LoadFunc

	Logger *zap.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return "scikitlearn" }

func (a *Adapter) Explain(
	ctx context.Context, source string, opts explainer.Options, config map[string]string,
) (*adapter.Result, error) {
	logger := a.logger().With(zap.String("source", source))

	f, err := a.opener(config).Open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("scikitlearn: open: %w", err)
	}
	defer f.Close()

	rt, err := a.provisioner(config).Provision(ctx, env.Spec{
		Descriptor: config["yml"],
		Name:       config["condaenv"],
		Path:       config["env"],
	})
	if err != nil {
		return nil, fmt.Errorf("scikitlearn: provision: %w", err)
	}
	logger.Debug("runtime ready", zap.String("python", rt.Python))

	h, info, err := a.load()(ctx, rt.Python, f.Path, configOrDefault(config["loader"], pybridge.LoaderPickle))
	if err != nil {
		return nil, fmt.Errorf("scikitlearn: load: %w", err)
	}

	e, err := a.build(ctx, h, info, opts, logger)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("scikitlearn: %w", err)
	}

	var warnings []string
	if !e.Params.Available() {
		w := params.NotAvailable
		if cause := e.Params.Err(); cause != nil {
			w += ": " + cause.Error()
		}
		warnings = append(warnings, w)
	}
	if info.Sklearn == "" {
		warnings = append(warnings, "scikit-learn is not importable in the runtime")
	}
	if opts.Data == nil {
		warnings = append(warnings, "no evaluation data supplied")
	}
	if warnings == nil {
		warnings = []string{}
	}

	return &adapter.Result{
		Explainer: e,
		Metadata: map[string]any{
			"adapter_name":          a.Name(),
			"adapter_version":       Version,
			"output_schema_version": OutputSchemaVersion,
			"source":                f.Source,
			"artifact_sha256":       f.SHA256,
			"model_class":           info.Class,
			"model_module":          info.Module,
			"python_version":        info.Python,
			"sklearn_version":       info.Sklearn,
			"params_available":      e.Params.Available(),
			"timestamp":             Now().UTC().Format(time.RFC3339),
			"warnings":              warnings,
		},
	}, nil
}

// build runs the in-memory half of the pipeline on a loaded handle.
func (a *Adapter) build(
	ctx context.Context, h foreign.Handle, info pybridge.Info, opts explainer.Options, logger *zap.Logger,
) (*explainer.Explainer, error) {
	mi := explainer.ModelInfo{Package: Package, Version: info.Sklearn, Type: opts.Type}
	if opts.ModelInfo != nil {
		mi = *opts.ModelInfo
	}
	if opts.Type == "" && mi.Type == "" {
		mi.Type = estimatorType(ctx, h)
	}
	opts.ModelInfo = &mi

	typ := opts.Type
	if typ == "" {
		typ = mi.Type
	}
	m, err := NewModel(ctx, h, info.Class, typ)
	if err != nil {
		return nil, err
	}
	set := params.Extract(ctx, h, logger)

	e, err := explainer.New(ctx, m, opts)
	if err != nil {
		return nil, err
	}
	e.Params = set
	return e, nil
}

// estimatorType maps scikit-learn's _estimator_type to an explainer type.
func estimatorType(ctx context.Context, h foreign.Handle) string {
	v, err := h.Attr(ctx, "_estimator_type")
	if err != nil {
		return ""
	}
	switch v.String() {
	case "classifier":
		return explainer.Classification
	case "regressor":
		return explainer.Regression
	}
	return ""
}

func (a *Adapter) opener(config map[string]string) *modelfile.Opener {
	if a.Opener != nil {
		return a.Opener
	}
	return &modelfile.Opener{CredentialsFile: config["credentials_file"]}
}

func (a *Adapter) provisioner(config map[string]string) env.Provisioner {
	if a.Provisioner != nil {
		return a.Provisioner
	}
	return &env.Conda{
		Conda:         config["conda"],
		DefaultPython: config["python"],
		Logger:        a.logger(),
	}
}

func (a *Adapter) load() LoadFunc {
	if a.Load != nil {
		return a.Load
	}
	logger := a.logger()
	return func(ctx context.Context, python, path, loader string) (foreign.Handle, pybridge.Info, error) {
		b, err := pybridge.Load(ctx, python, path, pybridge.WithLoader(loader), pybridge.WithLogger(logger))
		if err != nil {
			return nil, pybridge.Info{}, err
		}
		return b, b.Info(), nil
	}
}

func (a *Adapter) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func configOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
