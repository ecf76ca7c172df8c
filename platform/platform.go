// Package platform adapts models trained on a hosted ML platform to
// explainers. Predictions are computed remotely; evaluation data defaults to
// the dataset the model was trained on.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vitas/explainer-adapters/adapter"
	"github.com/vitas/explainer-adapters/dataset"
	"github.com/vitas/explainer-adapters/explainer"
	"github.com/vitas/explainer-adapters/params"
)

// Version is the adapter version, set at build time via ldflags.
var Version = "dev"

// Now is the time function used for timestamps. Override in tests.
var Now = time.Now

// OutputSchemaVersion is the metadata contract identifier.
const OutputSchemaVersion = "platform@v1"

// Package is reported in the explainer's model info.
const Package = "mlplatform"

var (
	// ErrMissingToken is returned before any work when no API token is set.
	ErrMissingToken = errors.New(`platform: an API token is required: pass it as the "token" config value ` +
		`(CLI: platform.token in the config file or EXPLAINER_PLATFORM_TOKEN); see docs/platform.md`)

	// errHostedParams explains the params sentinel on every platform explainer.
	errHostedParams = errors.New("platform: hosted models do not expose constructor parameters")

	// ErrMissingProject is returned when no project is configured.
	ErrMissingProject = errors.New(`platform: the "project" config value is required`)

	// ErrDefaultData is returned when no data was supplied and the model's
	// training dataset could not be fetched.
	ErrDefaultData = errors.New("platform: could not extract default data from the platform; supply evaluation data explicitly")
)

// Model is a platform-hosted model.
type Model struct {
	client  *Client
	project string
	desc    ModelDesc
}

var _ explainer.Model = (*Model)(nil)

func (m *Model) Predict(ctx context.Context, data *dataset.Frame) ([]float64, error) {
	return m.client.Predict(ctx, m.project, m.desc.ID, data)
}

// Label returns the model name on the platform.
func (m *Model) Label() string { return m.desc.Name }

// Desc returns the model description.
func (m *Model) Desc() ModelDesc { return m.desc }

// Adapter explains platform models. The source passed to Explain is the
// model id.
//
// Config keys:
//   - token: API token (required)
//   - project: project id (required)
//   - base_url: API root, DefaultBaseURL when empty
type Adapter struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return "platform" }

func (a *Adapter) Explain(
	ctx context.Context, source string, opts explainer.Options, config map[string]string,
) (*adapter.Result, error) {
	token := config["token"]
	if token == "" {
		return nil, ErrMissingToken
	}
	project := config["project"]
	if project == "" {
		return nil, ErrMissingProject
	}
	logger := a.logger().With(zap.String("project", project), zap.String("model", source))

	client, err := NewClient(config["base_url"], token, a.HTTPClient)
	if err != nil {
		return nil, err
	}
	desc, err := client.Model(ctx, project, source)
	if err != nil {
		return nil, fmt.Errorf("platform: model: %w", err)
	}
	if desc.ID == "" {
		desc.ID = source
	}

	var warnings []string
	if opts.Data == nil {
		if desc.DatasetID == "" {
			return nil, fmt.Errorf("%w: model %s has no dataset", ErrDefaultData, desc.ID)
		}
		data, y, err := client.Dataset(ctx, project, desc.DatasetID, desc.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDefaultData, err)
		}
		opts.Data = data
		if opts.Y == nil {
			opts.Y = y
		}
		warnings = append(warnings, "evaluation data taken from training dataset "+desc.DatasetID)
		logger.Debug("default data fetched", zap.String("dataset", desc.DatasetID))
	}

	if opts.ModelInfo == nil {
		opts.ModelInfo = &explainer.ModelInfo{
			Package: Package,
			Version: desc.LibraryVersion,
			Type:    opts.Type,
		}
	}
	if opts.Type == "" && opts.ModelInfo.Type == "" {
		mi := *opts.ModelInfo
		mi.Type = taskType(desc.Task)
		opts.ModelInfo = &mi
	}

	e, err := explainer.New(ctx, &Model{client: client, project: project, desc: *desc}, opts)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	e.Params = params.Unavailable(errHostedParams)
	if warnings == nil {
		warnings = []string{}
	}
	return &adapter.Result{
		Explainer: e,
		Metadata: map[string]any{
			"adapter_name":          a.Name(),
			"adapter_version":       Version,
			"output_schema_version": OutputSchemaVersion,
			"project":               project,
			"model_id":              desc.ID,
			"model_name":            desc.Name,
			"task":                  desc.Task,
			"algorithm":             desc.Algorithm,
			"timestamp":             Now().UTC().Format(time.RFC3339),
			"warnings":              warnings,
		},
	}, nil
}

func taskType(task string) string {
	switch task {
	case "binary_classification", "classification":
		return explainer.Classification
	case "regression":
		return explainer.Regression
	}
	return ""
}

func (a *Adapter) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
