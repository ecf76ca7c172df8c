// Package dataset holds the rectangular evaluation data handed to explainers.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/vitas/explainer-adapters/foreign"
)

// ErrNoTarget is returned when the requested target column is missing.
var ErrNoTarget = errors.New("target column not found")

// Frame is a numeric table with named columns.
type Frame struct {
	Columns []string
	X       *mat.Dense
}

// New builds a Frame from row-major values.
func New(columns []string, rows [][]float64) (*Frame, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset: no rows")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("dataset: no columns")
	}
	data := make([]float64, 0, len(rows)*len(columns))
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("dataset: row %d has %d values, want %d", i, len(r), len(columns))
		}
		data = append(data, r...)
	}
	return &Frame{
		Columns: append([]string(nil), columns...),
		X:       mat.NewDense(len(rows), len(columns), data),
	}, nil
}

// Dims returns the number of rows and columns.
func (f *Frame) Dims() (rows, cols int) {
	if f == nil || f.X == nil {
		return 0, 0
	}
	return f.X.Dims()
}

// Rows returns a copy of the data in row-major order.
func (f *Frame) Rows() [][]float64 {
	r, _ := f.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, f.X)
	}
	return out
}

// Foreign converts f to a call argument for a foreign handle.
func (f *Frame) Foreign() foreign.Frame {
	return foreign.Frame{Columns: append([]string(nil), f.Columns...), Rows: f.Rows()}
}

// ReadCSV reads a header-first CSV of numeric values. When target is not
// empty, that column is split off and returned as y.
func ReadCSV(r io.Reader, target string) (*Frame, []float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: read csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("dataset: csv needs a header and at least one row")
	}
	header := records[0]
	targetIdx := -1
	if target != "" {
		for i, h := range header {
			if strings.TrimSpace(h) == target {
				targetIdx = i
				break
			}
		}
		if targetIdx < 0 {
			return nil, nil, fmt.Errorf("dataset: %w: %q", ErrNoTarget, target)
		}
	}

	var columns []string
	for i, h := range header {
		if i != targetIdx {
			columns = append(columns, strings.TrimSpace(h))
		}
	}
	rows := make([][]float64, 0, len(records)-1)
	var y []float64
	for line, rec := range records[1:] {
		row := make([]float64, 0, len(columns))
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("dataset: line %d column %q: %w", line+2, header[i], err)
			}
			if i == targetIdx {
				y = append(y, v)
				continue
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	f, err := New(columns, rows)
	if err != nil {
		return nil, nil, err
	}
	return f, y, nil
}
