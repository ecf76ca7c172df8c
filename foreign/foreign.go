// Package foreign defines the contract for objects that live in another
// language runtime.
//
// A Handle is opaque: callers reach the object only by attribute name or
// method name and never assume anything about its structure.
package foreign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// ErrNoAttribute is returned when the foreign object has no attribute
// with the requested name.
var ErrNoAttribute = errors.New("no such attribute")

// Handle is a live reference to an object in a foreign runtime.
type Handle interface {
	// Attr performs a live attribute lookup.
	Attr(ctx context.Context, name string) (Value, error)

	// Repr returns the foreign runtime's string form of the attribute.
	Repr(ctx context.Context, name string) (string, error)

	// HasAttr reports whether the attribute exists.
	HasAttr(ctx context.Context, name string) (bool, error)

	// Call invokes a method by name. Arguments must be JSON-encodable;
	// Frame values are rebuilt as tabular data on the other side.
	Call(ctx context.Context, method string, args ...any) (Value, error)

	// Close releases the foreign object and its runtime.
	Close() error
}

// Frame is a call argument carrying named columns. It is passed to the
// foreign runtime as a data frame when one is available there.
type Frame struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// Value is a foreign value as seen from Go.
type Value struct {
	// JSON is the value's JSON form. Empty when the value has none.
	JSON json.RawMessage `json:"value,omitempty"`

	// Repr is the foreign runtime's string form of the value.
	Repr string `json:"repr,omitempty"`

	// None marks the foreign null value.
	None bool `json:"none,omitempty"`
}

// IsNull reports whether v is the foreign null value.
func (v Value) IsNull() bool {
	return v.None || bytes.Equal(bytes.TrimSpace(v.JSON), []byte("null"))
}

// String renders v the way a user would read it: strings unquoted, numbers
// in the foreign runtime's own form, anything else as the foreign repr.
func (v Value) String() string {
	if v.IsNull() {
		return "NULL"
	}
	if len(v.JSON) == 0 {
		return v.Repr
	}
	var s string
	if err := json.Unmarshal(v.JSON, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(v.JSON, &f); err == nil {
		if v.Repr != "" {
			return v.Repr
		}
		if f == math.Trunc(f) && math.Abs(f) < 1e21 {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(v.JSON, &b); err == nil {
		return strconv.FormatBool(b)
	}
	if v.Repr != "" {
		return v.Repr
	}
	return string(v.JSON)
}

// Decode unmarshals the JSON form of v into dst.
func (v Value) Decode(dst any) error {
	if len(v.JSON) == 0 {
		return fmt.Errorf("foreign: value %q has no JSON form", v.Repr)
	}
	return json.Unmarshal(v.JSON, dst)
}

// Floats decodes a one-dimensional numeric value.
func (v Value) Floats() ([]float64, error) {
	var out []float64
	if err := v.Decode(&out); err != nil {
		return nil, fmt.Errorf("foreign: decode vector: %w", err)
	}
	return out, nil
}

// Matrix decodes a two-dimensional numeric value.
func (v Value) Matrix() (*mat.Dense, error) {
	var rows [][]float64
	if err := v.Decode(&rows); err != nil {
		return nil, fmt.Errorf("foreign: decode matrix: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("foreign: empty matrix")
	}
	c := len(rows[0])
	data := make([]float64, 0, len(rows)*c)
	for i, r := range rows {
		if len(r) != c {
			return nil, fmt.Errorf("foreign: ragged matrix at row %d: %d columns, want %d", i, len(r), c)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), c, data), nil
}
