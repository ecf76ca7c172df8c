// Package foreigntest provides an in-memory foreign.Handle for tests.
package foreigntest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vitas/explainer-adapters/foreign"
)

// Method is a fake foreign method.
type Method func(args ...any) (foreign.Value, error)

// Handle is a foreign.Handle backed by Go maps.
type Handle struct {
	// Attrs holds attribute values. A nil entry is the foreign null value.
	Attrs map[string]any

	// Reprs overrides the string form returned by Repr.
	Reprs map[string]string

	// Methods holds callable attributes.
	Methods map[string]Method

	// Lookups records every Attr call in order.
	Lookups []string

	Closed bool
}

var _ foreign.Handle = (*Handle)(nil)

// New returns an empty Handle.
func New() *Handle {
	return &Handle{
		Attrs:   map[string]any{},
		Reprs:   map[string]string{},
		Methods: map[string]Method{},
	}
}

// Value converts a Go value to a foreign.Value.
func Value(v any) foreign.Value {
	if v == nil {
		return foreign.Value{None: true, Repr: "None"}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return foreign.Value{Repr: fmt.Sprint(v)}
	}
	return foreign.Value{JSON: raw, Repr: fmt.Sprint(v)}
}

func (h *Handle) Attr(_ context.Context, name string) (foreign.Value, error) {
	h.Lookups = append(h.Lookups, name)
	v, ok := h.Attrs[name]
	if !ok {
		return foreign.Value{}, fmt.Errorf("attr %q: %w", name, foreign.ErrNoAttribute)
	}
	return Value(v), nil
}

func (h *Handle) Repr(_ context.Context, name string) (string, error) {
	if r, ok := h.Reprs[name]; ok {
		return r, nil
	}
	if v, ok := h.Attrs[name]; ok {
		return Value(v).Repr, nil
	}
	return "", fmt.Errorf("repr %q: %w", name, foreign.ErrNoAttribute)
}

func (h *Handle) HasAttr(_ context.Context, name string) (bool, error) {
	if _, ok := h.Attrs[name]; ok {
		return true, nil
	}
	if _, ok := h.Reprs[name]; ok {
		return true, nil
	}
	_, ok := h.Methods[name]
	return ok, nil
}

func (h *Handle) Call(_ context.Context, method string, args ...any) (foreign.Value, error) {
	m, ok := h.Methods[method]
	if !ok {
		return foreign.Value{}, fmt.Errorf("call %q: %w", method, foreign.ErrNoAttribute)
	}
	return m(args...)
}

func (h *Handle) Close() error {
	h.Closed = true
	return nil
}
