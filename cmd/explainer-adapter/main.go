package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vitas/explainer-adapters/explainer"
	"github.com/vitas/explainer-adapters/params"
	"github.com/vitas/explainer-adapters/platform"
	"github.com/vitas/explainer-adapters/pybridge"
	"github.com/vitas/explainer-adapters/scikitlearn"
)

// Version is the CLI version, set at build time via ldflags.
var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv))
}

// run executes the CLI and returns the process exit code:
// 0 success, 1 runtime failure, 2 usage or configuration error.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	app := newApp(stdout, stderr, getenv)
	root := app.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if app.logger != nil {
		_ = app.logger.Sync()
	}
	if err == nil {
		return 0
	}
	code, hint, exit := classify(err)
	writeError(stderr, app.jsonErrors, app.adapterName, code, err.Error(), hint)
	return exit
}

// usageError marks bad flags or arguments.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

func classify(err error) (code, hint string, exit int) {
	var ue usageError
	switch {
	case errors.As(err, &ue):
		return "USAGE_ERROR", "Run with --help for usage", 2
	case errors.Is(err, platform.ErrMissingToken):
		return "MISSING_CREDENTIAL", "Set platform.token in the config file or EXPLAINER_PLATFORM_TOKEN", 2
	case errors.Is(err, platform.ErrMissingProject):
		return "USAGE_ERROR", "Pass --project or set EXPLAINER_PLATFORM_PROJECT", 2
	case errors.Is(err, pybridge.ErrDeserialize):
		return "DESERIALIZE_ERROR",
			"The runtime's library versions must match the ones the model was saved with; pass --yml, --condaenv or --env", 1
	case errors.Is(err, platform.ErrDefaultData):
		return "DEFAULT_DATA_ERROR", "Pass evaluation data with --data", 1
	case errors.Is(err, scikitlearn.ErrMulticlass):
		return "UNSUPPORTED_MODEL", "Pass --type regression to score with predict instead of predict_proba", 1
	case errors.Is(err, explainer.ErrNoPredict):
		return "UNSUPPORTED_MODEL", "", 1
	default:
		return "EXPLAIN_ERROR", "", 1
	}
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Hint           string `json:"hint,omitempty"`
	Adapter        string `json:"adapter,omitempty"`
	AdapterVersion string `json:"adapter_version"`
}

func writeError(w io.Writer, jsonMode bool, adapterName, code, message, hint string) {
	if jsonMode {
		env := errorEnvelope{Error: errorDetail{
			Code:           code,
			Message:        message,
			Hint:           hint,
			Adapter:        adapterName,
			AdapterVersion: Version,
		}}
		json.NewEncoder(w).Encode(env) //nolint:errcheck
		return
	}
	fmt.Fprintf(w, "error: %s\n", message)
	if hint != "" {
		fmt.Fprintf(w, "hint: %s\n", hint)
	}
}

// summary is the JSON written to stdout for a built explainer.
type summary struct {
	Label     string              `json:"label"`
	Type      string              `json:"type,omitempty"`
	ModelInfo explainer.ModelInfo `json:"model_info"`
	Rows      int                 `json:"rows"`
	Cols      int                 `json:"cols"`
	YHat      []float64           `json:"y_hat,omitempty"`
	Residuals []float64           `json:"residuals,omitempty"`
	Params    *params.Set         `json:"params,omitempty"`
	Metadata  map[string]any      `json:"metadata"`
}

func writeSummary(w io.Writer, e *explainer.Explainer, metadata map[string]any) error {
	rows, cols := e.Data.Dims()
	s := summary{
		Label:     e.Label,
		Type:      e.Type,
		ModelInfo: e.ModelInfo,
		Rows:      rows,
		Cols:      cols,
		YHat:      e.YHat,
		Residuals: e.Residuals,
		Params:    e.Params,
		Metadata:  metadata,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
