// Package adapter defines the contract for explainer adapters.
//
// An adapter takes a model produced outside Go (a pickled scikit-learn
// estimator, a model hosted on an ML platform, etc.) and wraps it in an
// explainer.Explainer that comparison and explanation tooling can consume
// like any other model.
package adapter

import (
	"context"

	"github.com/vitas/explainer-adapters/explainer"
)

// Result is the adapter output.
type Result struct {
	// Explainer wraps the foreign model. Callers must Close it when done;
	// it may hold a child process or remote session.
	Explainer *explainer.Explainer `json:"-"`

	// Metadata contains provenance information for audit logging.
	// Example: {"adapter_name": "scikitlearn", "artifact_sha256": "..."}
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Adapter converts a foreign model into an explainer.
type Adapter interface {
	// Name returns the adapter identifier, e.g. "scikitlearn", "platform".
	Name() string

	// Explain loads the model and builds its explainer.
	//
	// Parameters:
	//   - ctx: cancellation context for setup work
	//   - source: where the model lives (file path, gs:// URI, model id)
	//   - opts: forwarded unchanged to explainer.New
	//   - config: adapter-specific settings passed by the caller
	//
	// Returns:
	//   - *Result: explainer + metadata
	//   - error: load failure, missing credentials, etc. No partial
	//     explainer is ever returned alongside an error.
	Explain(ctx context.Context, source string, opts explainer.Options, config map[string]string) (*Result, error)
}
