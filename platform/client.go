package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/vitas/explainer-adapters/dataset"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.mlplatform.io"

const maxErrorBody = 4 << 10

// APIError is a non-2xx response from the platform.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// ModelDesc describes a model hosted on the platform.
type ModelDesc struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Task           string `json:"task"`
	Algorithm      string `json:"algorithm"`
	LibraryVersion string `json:"library_version"`
	DatasetID      string `json:"dataset_id"`
	Target         string `json:"target"`
}

type table struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

type predictions struct {
	Predictions []float64 `json:"predictions"`
}

// Client talks to the platform REST API. No request is retried.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   *memguard.Enclave
}

// NewClient returns a client authenticating with token. The token bytes are
// moved into an encrypted enclave and only decrypted per request.
func NewClient(baseURL, token string, hc *http.Client) (*Client, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("platform: base url: %w", err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL: u,
		http:    hc,
		token:   memguard.NewEnclave([]byte(token)),
	}, nil
}

// Model fetches a model description.
func (c *Client) Model(ctx context.Context, project, model string) (*ModelDesc, error) {
	var d ModelDesc
	if err := c.do(ctx, http.MethodGet, c.path("v1", "projects", project, "models", model), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Dataset fetches a dataset. When target is set, that column is returned
// separately as y.
func (c *Client) Dataset(ctx context.Context, project, id, target string) (*dataset.Frame, []float64, error) {
	var t table
	if err := c.do(ctx, http.MethodGet, c.path("v1", "projects", project, "datasets", id), nil, &t); err != nil {
		return nil, nil, err
	}
	idx := -1
	var columns []string
	for i, col := range t.Columns {
		if target != "" && col == target {
			idx = i
			continue
		}
		columns = append(columns, col)
	}
	if target != "" && idx < 0 {
		return nil, nil, fmt.Errorf("platform: dataset %s: %w: %q", id, dataset.ErrNoTarget, target)
	}
	rows := make([][]float64, len(t.Rows))
	var y []float64
	for i, r := range t.Rows {
		if idx < 0 {
			rows[i] = r
			continue
		}
		if idx >= len(r) {
			return nil, nil, fmt.Errorf("platform: dataset %s: row %d is short", id, i)
		}
		y = append(y, r[idx])
		rows[i] = append(append([]float64(nil), r[:idx]...), r[idx+1:]...)
	}
	f, err := dataset.New(columns, rows)
	if err != nil {
		return nil, nil, fmt.Errorf("platform: dataset %s: %w", id, err)
	}
	return f, y, nil
}

// Predict scores data with a hosted model.
func (c *Client) Predict(ctx context.Context, project, model string, data *dataset.Frame) ([]float64, error) {
	body := table{Columns: data.Columns, Rows: data.Rows()}
	var p predictions
	if err := c.do(ctx, http.MethodPost, c.path("v1", "projects", project, "models", model, "predict"), body, &p); err != nil {
		return nil, err
	}
	if r, _ := data.Dims(); len(p.Predictions) != r {
		return nil, fmt.Errorf("platform: got %d predictions for %d rows", len(p.Predictions), r)
	}
	return p.Predictions, nil
}

func (c *Client) path(parts ...string) string {
	u := *c.baseURL
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	u.Path = u.Path + "/" + strings.Join(parts, "/")
	return u.String()
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("platform: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok, err := c.token.Open()
	if err != nil {
		return fmt.Errorf("platform: open token: %w", err)
	}
	req.Header.Set("Authorization", "Token "+tok.String())
	tok.Destroy()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, URL: u, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform: decode %s: %w", u, err)
	}
	return nil
}
