package params_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitas/explainer-adapters/foreign"
	"github.com/vitas/explainer-adapters/foreign/foreigntest"
	"github.com/vitas/explainer-adapters/params"
)

func fooHandle(listing string) *foreigntest.Handle {
	h := foreigntest.New()
	h.Reprs[params.IntrospectionAttr] = listing
	// Live values deliberately differ from the literals in the listing.
	h.Attrs["a"] = 10
	h.Attrs["b"] = "live"
	return h
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		listing string
		want    []string
	}{
		{"compact", "Foo(a=1,b=2)", []string{"a", "b"}},
		{"spaced", "Foo(a=1, b=2)", []string{"a", "b"}},
		{"spaces around equals", "Foo(a = 1,\nb=2)", []string{"a", "b"}},
		{"multiline", "Foo(\n    a=1,\n    b=2\n)", []string{"a", "b"}},
		{"bound method", "<bound method BaseEstimator.get_params of SVC(C=1.0, kernel='rbf')>", []string{"C", "kernel"}},
		{"single", "Foo(alpha=0.5)", []string{"alpha"}},
		{"empty call", "Foo()", []string{}},
		{"bound method empty call", "<bound method BaseEstimator.get_params of LinearRegression()>", []string{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := params.Parse(tt.listing)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.listing, diff)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	for _, listing := range []string{"", "a=1, b=2", "no parens"} {
		_, err := params.Parse(listing)
		assert.ErrorIs(t, err, params.ErrMalformedListing, "listing %q", listing)
	}
}

func TestExtract_LiveValues(t *testing.T) {
	t.Parallel()

	h := fooHandle("Foo(a=1, b=2)")
	s := params.Extract(context.Background(), h, nil)

	require.True(t, s.Available())
	assert.Equal(t, []string{"a", "b"}, s.Names())
	assert.Equal(t, []string{"a", "b"}, h.Lookups)

	a, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "10", a.String())
	b, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, "live", b.String())
}

func TestExtract_WhitespaceNormalizes(t *testing.T) {
	t.Parallel()

	compact := params.Extract(context.Background(), fooHandle("Foo(a=1,b=2)"), nil)
	loose := params.Extract(context.Background(), fooHandle("Foo(a = 1,\nb=2)"), nil)
	assert.Equal(t, compact.Names(), loose.Names())
}

func TestExtract_NoIntrospection(t *testing.T) {
	t.Parallel()

	h := foreigntest.New()
	h.Attrs["a"] = 1
	s := params.Extract(context.Background(), h, nil)

	assert.False(t, s.Available())
	assert.Equal(t, params.NotAvailable, s.String())
	assert.ErrorIs(t, s.Err(), foreign.ErrNoAttribute)
	assert.Empty(t, h.Lookups)
}

func TestExtract_UnknownNameDegradesWholeSet(t *testing.T) {
	t.Parallel()

	h := fooHandle("Foo(a=1, b=2, c=3)")
	s := params.Extract(context.Background(), h, nil)

	assert.False(t, s.Available())
	assert.Zero(t, s.Len())
	assert.ErrorIs(t, s.Err(), foreign.ErrNoAttribute)
}

func TestExtract_NestedValueDegrades(t *testing.T) {
	t.Parallel()

	h := fooHandle("Pipeline(steps=[('a', X()), ('b', Y())])")
	h.Attrs["steps"] = []any{}
	s := params.Extract(context.Background(), h, nil)

	assert.False(t, s.Available())
}

func TestSet_MarshalJSON(t *testing.T) {
	t.Parallel()

	h := foreigntest.New()
	h.Reprs[params.IntrospectionAttr] = "Foo(z=1, a=None)"
	h.Attrs["z"] = 3
	h.Attrs["a"] = nil
	s := params.Extract(context.Background(), h, nil)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"z":3,"a":null}`, string(raw))

	raw, err = json.Marshal(params.Unavailable(errors.New("boom")))
	require.NoError(t, err)
	assert.Equal(t, `"Params not available"`, string(raw))
}

func TestPrint(t *testing.T) {
	t.Parallel()

	h := foreigntest.New()
	h.Reprs[params.IntrospectionAttr] = "Foo(a=1, b=None)"
	h.Attrs["a"] = 1
	h.Attrs["b"] = nil
	s := params.Extract(context.Background(), h, nil)

	var out strings.Builder
	require.NoError(t, params.Print(&out, s))
	assert.Equal(t, "a: 1\nb: NULL\n", out.String())
}

func TestExtract_DefaultConstructedIsEmptyNotSentinel(t *testing.T) {
	t.Parallel()

	h := foreigntest.New()
	h.Reprs[params.IntrospectionAttr] = "<bound method BaseEstimator.get_params of LinearRegression()>"
	s := params.Extract(context.Background(), h, nil)

	require.True(t, s.Available())
	assert.NoError(t, s.Err())
	assert.Zero(t, s.Len())
	assert.Empty(t, h.Lookups)

	var out strings.Builder
	require.NoError(t, params.Print(&out, s))
	assert.Empty(t, out.String())

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestPrint_LargeIntegers(t *testing.T) {
	t.Parallel()

	h := foreigntest.New()
	h.Reprs[params.IntrospectionAttr] = "MLPRegressor(max_fun=1000000, tol=0.0001)"
	h.Attrs["max_fun"] = 1000000
	h.Attrs["tol"] = 0.0001
	s := params.Extract(context.Background(), h, nil)

	var out strings.Builder
	require.NoError(t, params.Print(&out, s))
	assert.Equal(t, "max_fun: 1000000\ntol: 0.0001\n", out.String())
}

func TestPrint_Unavailable(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	require.NoError(t, params.Print(&out, params.Unavailable(nil)))
	assert.Equal(t, "Params not available\n", out.String())
}
