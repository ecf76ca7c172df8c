package platform_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitas/explainer-adapters/dataset"
	"github.com/vitas/explainer-adapters/explainer"
	"github.com/vitas/explainer-adapters/params"
	"github.com/vitas/explainer-adapters/platform"
)

// fakePlatform serves one project with one model and its training dataset.
// The model predicts 2*x1 + x2.
type fakePlatform struct {
	requests    atomic.Int32
	datasetFail bool
	noDataset   bool
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if r.Header.Get("Authorization") != "Token secret" {
		http.Error(w, `{"detail":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/projects/p1/models/m1":
		d := map[string]any{
			"id": "m1", "name": "lightgbm-7", "task": "regression", "algorithm": "lightgbm",
			"library_version": "4.1.0", "dataset_id": "d1", "target": "y",
		}
		if f.noDataset {
			delete(d, "dataset_id")
		}
		_ = json.NewEncoder(w).Encode(d)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/projects/p1/datasets/d1":
		if f.datasetFail {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"columns": []string{"x1", "y", "x2"},
			"rows":    [][]float64{{1, 5, 2}, {2, 7, 2}},
		})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/projects/p1/models/m1/predict":
		var in struct {
			Columns []string    `json:"columns"`
			Rows    [][]float64 `json:"rows"`
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
	default:
		http.NotFound(w, r)
	}
}

func config(url string) map[string]string {
	return map[string]string{"token": "secret", "project": "p1", "base_url": url}
}

func TestAdapter_MissingTokenNoIO(t *testing.T) {
	t.Parallel()

	fp := &fakePlatform{}
	srv := httptest.NewServer(fp)
	defer srv.Close()

	cfg := config(srv.URL)
	delete(cfg, "token")
	_, err := (&platform.Adapter{}).Explain(context.Background(), "m1", explainer.Options{}, cfg)
	require.ErrorIs(t, err, platform.ErrMissingToken)
	assert.Contains(t, err.Error(), "docs/platform.md")
	assert.Zero(t, fp.requests.Load())
}

func TestAdapter_MissingProject(t *testing.T) {
	t.Parallel()

	_, err := (&platform.Adapter{}).Explain(context.Background(), "m1", explainer.Options{}, map[string]string{"token": "x"})
	assert.ErrorIs(t, err, platform.ErrMissingProject)
}

func TestAdapter_DefaultData(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakePlatform{})
	defer srv.Close()

	res, err := (&platform.Adapter{HTTPClient: srv.Client()}).Explain(
		context.Background(), "m1", explainer.Options{Precalculate: true}, config(srv.URL))
	require.NoError(t, err)
	e := res.Explainer

	assert.Equal(t, []string{"x1", "x2"}, e.Data.Columns)
	assert.Equal(t, []float64{5, 7}, e.Y)
	assert.Equal(t, []float64{4, 6}, e.YHat)
	assert.Equal(t, []float64{1, 1}, e.Residuals)
	assert.Equal(t, "lightgbm-7", e.Label)
	assert.Equal(t, explainer.Regression, e.Type)
	assert.Equal(t, "4.1.0", e.ModelInfo.Version)
	require.NotNil(t, e.Params)
	assert.False(t, e.Params.Available())
	assert.Equal(t, params.NotAvailable, e.Params.String())

	warnings := res.Metadata["warnings"].([]string)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "d1")
}

func TestAdapter_SuppliedData(t *testing.T) {
	t.Parallel()

	fp := &fakePlatform{datasetFail: true}
	srv := httptest.NewServer(fp)
	defer srv.Close()

	data, err := dataset.New([]string{"x1", "x2"}, [][]float64{{0, 1}})
	require.NoError(t, err)
	res, err := (&platform.Adapter{}).Explain(context.Background(), "m1",
		explainer.Options{Data: data, Precalculate: true}, config(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, []float64{1}, res.Explainer.YHat)
	assert.Nil(t, res.Explainer.Residuals)
	assert.Equal(t, []string{}, res.Metadata["warnings"])
	assert.EqualValues(t, 2, fp.requests.Load())
}

func TestAdapter_DefaultDataFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakePlatform{datasetFail: true})
	defer srv.Close()

	_, err := (&platform.Adapter{}).Explain(context.Background(), "m1", explainer.Options{}, config(srv.URL))
	assert.ErrorIs(t, err, platform.ErrDefaultData)
	assert.Contains(t, err.Error(), "410")
}

func TestAdapter_NoDatasetOnModel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakePlatform{noDataset: true})
	defer srv.Close()

	_, err := (&platform.Adapter{}).Explain(context.Background(), "m1", explainer.Options{}, config(srv.URL))
	assert.ErrorIs(t, err, platform.ErrDefaultData)
}

func TestAdapter_BadToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakePlatform{})
	defer srv.Close()

	cfg := config(srv.URL)
	cfg["token"] = "wrong"
	_, err := (&platform.Adapter{}).Explain(context.Background(), "m1", explainer.Options{}, cfg)

	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClient_DatasetMissingTarget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakePlatform{})
	defer srv.Close()

	c, err := platform.NewClient(srv.URL, "secret", nil)
	require.NoError(t, err)
	_, _, err = c.Dataset(context.Background(), "p1", "d1", "label")
	assert.ErrorIs(t, err, dataset.ErrNoTarget)

	f, y, err := c.Dataset(context.Background(), "p1", "d1", "")
	require.NoError(t, err)
	assert.Nil(t, y)
	assert.Equal(t, []string{"x1", "y", "x2"}, f.Columns)
}

func TestNewClient_EmptyToken(t *testing.T) {
	t.Parallel()

	_, err := platform.NewClient("", "", nil)
	assert.ErrorIs(t, err, platform.ErrMissingToken)
}
