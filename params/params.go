// Package params recovers the constructor parameters of a foreign model
// from its self-description.
//
// Foreign estimators expose a "get_params" attribute whose string form looks
// like "ClassName(p1=v1, p2=v2, ...)". Only parameter names are taken from
// that string; values are always looked up live on the object.
package params

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vitas/explainer-adapters/foreign"
)

// IntrospectionAttr is the attribute listing constructor parameters.
const IntrospectionAttr = "get_params"

// NotAvailable is what an unavailable parameter set renders as.
const NotAvailable = "Params not available"

// ErrMalformedListing is returned by Parse when the listing has no
// constructor call shape.
var ErrMalformedListing = errors.New("malformed parameter listing")

// Set is an ordered mapping from parameter name to live value.
//
// A Set is either complete or unavailable; it never holds a partial mapping.
type Set struct {
	names  []string
	values map[string]foreign.Value
	err    error
}

// Unavailable returns the sentinel set. cause may be nil.
func Unavailable(cause error) *Set {
	return &Set{err: cause}
}

// Available reports whether s holds a mapping.
func (s *Set) Available() bool { return s != nil && s.values != nil }

// Err returns why the set is unavailable, if known.
func (s *Set) Err() error {
	if s == nil {
		return nil
	}
	return s.err
}

// Names returns parameter names in declaration order.
func (s *Set) Names() []string {
	if !s.Available() {
		return nil
	}
	return append([]string(nil), s.names...)
}

// Get returns the value of a parameter.
func (s *Set) Get(name string) (foreign.Value, bool) {
	if !s.Available() {
		return foreign.Value{}, false
	}
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of parameters.
func (s *Set) Len() int {
	if !s.Available() {
		return 0
	}
	return len(s.names)
}

func (s *Set) String() string {
	if !s.Available() {
		return NotAvailable
	}
	var b strings.Builder
	_ = Print(&b, s)
	return b.String()
}

// MarshalJSON encodes an available set as an object in declaration order
// and the sentinel as a JSON string.
func (s *Set) MarshalJSON() ([]byte, error) {
	if !s.Available() {
		return json.Marshal(NotAvailable)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		v := s.values[name]
		switch {
		case v.IsNull():
			buf.WriteString("null")
		case len(v.JSON) > 0:
			buf.Write(v.JSON)
		default:
			repr, err := json.Marshal(v.Repr)
			if err != nil {
				return nil, err
			}
			buf.Write(repr)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parse recovers parameter names from a listing such as
// "ClassName(a=1, b=2)". Every space and newline is removed from each
// comma-separated token, and only the part left of the first "=" is kept.
// The first token additionally loses everything up to its first "(".
// An empty call such as "Foo()" lists no parameters.
//
// Values containing commas split into extra tokens; the resulting bogus
// names are caught by Extract's attribute check, not here.
func Parse(listing string) ([]string, error) {
	tokens := strings.Split(listing, ",")
	names := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		tok = strings.ReplaceAll(tok, "\n", "")
		tok = strings.ReplaceAll(tok, " ", "")
		name, _, _ := strings.Cut(tok, "=")
		if i == 0 {
			_, rest, ok := strings.Cut(name, "(")
			if !ok {
				return nil, fmt.Errorf("%w: no %q in %q", ErrMalformedListing, "(", name)
			}
			if len(tokens) == 1 && strings.HasPrefix(rest, ")") {
				return names, nil
			}
			name, _, _ = strings.Cut(rest, "(")
		}
		names = append(names, name)
	}
	return names, nil
}

// Extract builds the parameter set of h. It never fails: any problem turns
// the whole set into the sentinel and is logged at warn level.
func Extract(ctx context.Context, h foreign.Handle, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	listing, err := h.Repr(ctx, IntrospectionAttr)
	if err != nil {
		logger.Debug("introspection attribute unavailable", zap.Error(err))
		return Unavailable(err)
	}

	s, err := lookup(ctx, h, listing)
	if err != nil {
		logger.Warn("parameter extraction failed", zap.Error(err))
		return Unavailable(err)
	}
	logger.Debug("parameters extracted", zap.Strings("names", s.names))
	return s
}

func lookup(ctx context.Context, h foreign.Handle, listing string) (*Set, error) {
	names, err := Parse(listing)
	if err != nil {
		return nil, err
	}
	s := &Set{names: make([]string, 0, len(names)), values: make(map[string]foreign.Value, len(names))}
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: empty parameter name in %q", ErrMalformedListing, listing)
		}
		if _, dup := s.values[name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrMalformedListing, name)
		}
		ok, err := h.HasAttr(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("parameter %q: %w", name, foreign.ErrNoAttribute)
		}
		v, err := h.Attr(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", name, err)
		}
		s.names = append(s.names, name)
		s.values[name] = v
	}
	return s, nil
}
