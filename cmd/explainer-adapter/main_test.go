package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// platformServer serves model m1 in project p1; the model predicts 2*a + b.
func platformServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/projects/p1/models/m1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "m1", "name": "gbm", "task": "regression", "algorithm": "xgboost",
			"library_version": "2.0.3", "dataset_id": "d1", "target": "y",
		})
	})
	mux.HandleFunc("GET /v1/projects/p1/datasets/d1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"columns": []string{"a", "b", "y"},
			"rows":    [][]float64{{1, 1, 3}, {2, 0, 5}},
		})
	})
	mux.HandleFunc("POST /v1/projects/p1/models/m1/predict", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Rows [][]float64 `json:"rows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]float64, len(in.Rows))
		for i, row := range in.Rows {
			out[i] = 2*row[0] + row[1]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"predictions": out})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func execute(args []string, getenv func(string) string) (stdout, stderr string, code int) {
	var out, errOut bytes.Buffer
	code = run(args, strings.NewReader(""), &out, &errOut, getenv)
	return out.String(), errOut.String(), code
}

func TestCLI_Platform(t *testing.T) {
	srv := platformServer(t)

	stdout, stderr, code := execute([]string{"platform", "m1"}, envMap(map[string]string{
		"EXPLAINER_PLATFORM_BASE_URL": srv.URL,
		"EXPLAINER_PLATFORM_TOKEN":    "secret",
		"EXPLAINER_PLATFORM_PROJECT":  "p1",
		"EXPLAINER_LOG_LEVEL":         "error",
	}))
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, stderr)

	var got struct {
		summary
		Params string `json:"params"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "gbm", got.Label)
	assert.Equal(t, "regression", got.Type)
	assert.Equal(t, 2, got.Rows)
	assert.Equal(t, 2, got.Cols)
	assert.Equal(t, []float64{3, 4}, got.YHat)
	assert.Equal(t, []float64{0, 1}, got.Residuals)
	assert.Equal(t, "Params not available", got.Params)
	assert.Equal(t, "platform", got.Metadata["adapter_name"])
}

func TestCLI_PlatformSuppliedData(t *testing.T) {
	srv := platformServer(t)
	data := filepath.Join(t.TempDir(), "eval.csv")
	require.NoError(t, os.WriteFile(data, []byte("a,b,y\n0,1,2\n"), 0o644))

	stdout, stderr, code := execute([]string{
		"platform", "m1", "--project", "p1", "--data", data, "--target", "y", "--label", "gbm-eval",
	}, envMap(map[string]string{
		"EXPLAINER_PLATFORM_BASE_URL": srv.URL,
		"EXPLAINER_PLATFORM_TOKEN":    "secret",
		"EXPLAINER_LOG_LEVEL":         "error",
	}))
	require.Equal(t, 0, code, stderr)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "gbm-eval", got["label"])
	assert.Equal(t, []any{1.0}, got["y_hat"])
	assert.Equal(t, []any{1.0}, got["residuals"])
}

func TestCLI_MissingToken_JsonErrors(t *testing.T) {
	stdout, stderr, code := execute([]string{"platform", "m1", "--project", "p1", "--json-errors"}, envMap(nil))
	assert.Equal(t, 2, code)
	assert.Empty(t, stdout)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal([]byte(stderr), &env), stderr)
	assert.Equal(t, "MISSING_CREDENTIAL", env.Error.Code)
	assert.Equal(t, "platform", env.Error.Adapter)
	assert.Equal(t, Version, env.Error.AdapterVersion)
	assert.Contains(t, env.Error.Message, "EXPLAINER_PLATFORM_TOKEN")
	assert.NotEmpty(t, env.Error.Hint)
}

func TestCLI_MissingProject(t *testing.T) {
	_, stderr, code := execute([]string{"platform", "m1"}, envMap(map[string]string{"EXPLAINER_PLATFORM_TOKEN": "x"}))
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "error: ")
	assert.Contains(t, stderr, "hint: Pass --project")
}

func TestCLI_SklearnMissingModel(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.pkl")
	_, stderr, code := execute([]string{"sklearn", missing, "--json-errors"}, envMap(map[string]string{
		"EXPLAINER_LOG_LEVEL": "error",
	}))
	assert.Equal(t, 1, code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal([]byte(stderr), &env), stderr)
	assert.Equal(t, "EXPLAIN_ERROR", env.Error.Code)
	assert.Equal(t, "scikitlearn", env.Error.Adapter)
}

func TestCLI_TargetWithoutData(t *testing.T) {
	_, stderr, code := execute([]string{"platform", "m1", "--target", "y"}, envMap(map[string]string{
		"EXPLAINER_PLATFORM_TOKEN":   "x",
		"EXPLAINER_PLATFORM_PROJECT": "p1",
	}))
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--target needs --data")
}

func TestCLI_BadConfig(t *testing.T) {
	_, stderr, code := execute([]string{"version"}, envMap(map[string]string{"EXPLAINER_LOADER": "dill"}))
	assert.Equal(t, 0, code, "version skips config loading")
	assert.Empty(t, stderr)

	_, stderr, code = execute([]string{"platform", "m1", "--json-errors"}, envMap(map[string]string{"EXPLAINER_LOADER": "dill"}))
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "USAGE_ERROR")
	assert.Contains(t, stderr, "Config.Loader")
}

func TestCLI_Version(t *testing.T) {
	stdout, _, code := execute([]string{"version"}, envMap(nil))
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "explainer-adapter dev"), stdout)
}

func TestCLI_UnknownFlag(t *testing.T) {
	_, stderr, code := execute([]string{"platform", "--bogus"}, envMap(nil))
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown flag")
}

func TestCLI_WrongArgCount(t *testing.T) {
	_, stderr, code := execute([]string{"params", "--json-errors"}, envMap(nil))
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "USAGE_ERROR")
}

func TestCLI_Help(t *testing.T) {
	stdout, _, code := execute([]string{"--help"}, envMap(nil))
	assert.Equal(t, 0, code)
	for _, sub := range []string{"sklearn", "platform", "params", "version"} {
		assert.Contains(t, stdout, sub)
	}
}
