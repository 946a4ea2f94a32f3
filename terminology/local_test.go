package terminology_test

import (
	"context"
	"testing"

	"github.com/carequery/fhirpath/terminology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const severitySystem = "http://example.org/cs/severity"

func testSource() *terminology.Static {
	return &terminology.Static{
		ValueSets: map[string]*terminology.ValueSet{
			"http://example.org/vs/non-critical": {
				ResourceType: "ValueSet",
				URL:          "http://example.org/vs/non-critical",
				Version:      "1.0",
				Compose: &terminology.Compose{
					Include: []terminology.ConceptSet{{
						System: severitySystem,
						Concept: []terminology.ConceptReference{
							{Code: "c1"}, {Code: "c2"}, {Code: "c3"},
						},
					}},
					Exclude: []terminology.ConceptSet{{
						System:  severitySystem,
						Concept: []terminology.ConceptReference{{Code: "c3"}},
					}},
				},
			},
			"http://example.org/vs/all-severities": {
				ResourceType: "ValueSet",
				URL:          "http://example.org/vs/all-severities",
				Compose: &terminology.Compose{
					Include: []terminology.ConceptSet{{System: severitySystem}},
				},
			},
			"http://example.org/vs/marital": {
				ResourceType: "ValueSet",
				URL:          "http://example.org/vs/marital",
				Compose: &terminology.Compose{
					Include: []terminology.ConceptSet{{
						System: "http://example.org/cs/unknown",
					}},
				},
			},
			"http://example.org/vs/active-codes": {
				ResourceType: "ValueSet",
				URL:          "http://example.org/vs/active-codes",
				Compose: &terminology.Compose{
					Include: []terminology.ConceptSet{{
						System: severitySystem,
						Filter: []terminology.Filter{
							{Property: "status", Op: "=", Value: "active"},
						},
					}},
				},
			},
			"http://example.org/vs/pre-expanded": {
				ResourceType: "ValueSet",
				URL:          "http://example.org/vs/pre-expanded",
				Expansion: &terminology.Expansion{
					Total:    1,
					Contains: []terminology.Coding{{System: severitySystem, Code: "x"}},
				},
			},
		},
		CodeSystems: map[string]*terminology.CodeSystem{
			severitySystem: {
				ResourceType: "CodeSystem",
				URL:          severitySystem,
				Concept: []terminology.Concept{
					{Code: "mild"},
					{Code: "severe", Concept: []terminology.Concept{
						{Code: "severe-1"},
						{Code: "severe-2"},
					}},
				},
			},
		},
	}
}

func codesOf(vs *terminology.ValueSet) []string {
	var codes []string
	for _, c := range vs.Expansion.Contains {
		codes = append(codes, c.Code)
	}
	return codes
}

func TestLocalIncludeExclude(t *testing.T) {
	r := terminology.NewLocalResolver(testSource(), nil)
	vs, err := r.Expand(context.Background(), "http://example.org/vs/non-critical")
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, []string{"c1", "c2"}, codesOf(vs))
	assert.Equal(t, 2, vs.Expansion.Total)
	assert.Equal(t, "1.0", vs.Version)
	for _, c := range vs.Expansion.Contains {
		assert.Equal(t, severitySystem, c.System)
	}
}

func TestLocalWholeCodeSystem(t *testing.T) {
	r := terminology.NewLocalResolver(testSource(), nil)
	vs, err := r.Expand(context.Background(), "http://example.org/vs/all-severities")
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, []string{"mild", "severe", "severe-1", "severe-2"}, codesOf(vs))
}

func TestLocalDefers(t *testing.T) {
	r := terminology.NewLocalResolver(testSource(), nil)
	cases := []struct {
		name string
		url  string
	}{
		{"intensional filter", "http://example.org/vs/active-codes"},
		{"missing code system", "http://example.org/vs/marital"},
		{"unknown value set", "http://example.org/vs/nowhere"},
		{"version mismatch", "http://example.org/vs/non-critical|9.9"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			vs, err := r.Expand(context.Background(), c.url)
			require.NoError(t, err)
			assert.Nil(t, vs)
		})
	}
}

func TestLocalVersionedRequest(t *testing.T) {
	r := terminology.NewLocalResolver(testSource(), nil)
	vs, err := r.Expand(context.Background(), "http://example.org/vs/non-critical|1.0")
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, []string{"c1", "c2"}, codesOf(vs))
}

func TestLocalPreExpanded(t *testing.T) {
	r := terminology.NewLocalResolver(testSource(), nil)
	vs, err := r.Expand(context.Background(), "http://example.org/vs/pre-expanded")
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, []string{"x"}, codesOf(vs))
}

func TestChain(t *testing.T) {
	local := terminology.NewLocalResolver(testSource(), nil)
	fallback := &countingResolver{vs: &terminology.ValueSet{
		URL:       "http://example.org/vs/nowhere",
		Expansion: &terminology.Expansion{Contains: []terminology.Coding{{Code: "remote"}}},
	}}
	chain := terminology.Chain{local, fallback}

	// The local resolver wins without consulting the fallback.
	vs, err := chain.Expand(context.Background(), "http://example.org/vs/non-critical")
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, []string{"c1", "c2"}, codesOf(vs))
	assert.Equal(t, 0, fallback.calls)

	// URLs the local resolver defers on fall through.
	vs, err = chain.Expand(context.Background(), "http://example.org/vs/nowhere")
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, []string{"remote"}, codesOf(vs))
	assert.Equal(t, 1, fallback.calls)

	// A URL nothing resolves is a nil result, not an error.
	vs, err = chain.Expand(context.Background(), "http://example.org/vs/unheard-of")
	require.NoError(t, err)
	assert.Nil(t, vs)
}

func TestCodes(t *testing.T) {
	vs := &terminology.ValueSet{
		Expansion: &terminology.Expansion{
			Contains: []terminology.Coding{
				{System: "s1", Code: "a"},
				{System: "s1", Code: "b", Contains: []terminology.Coding{
					{System: "s2", Code: "c"},
				}},
			},
		},
	}
	assert.Equal(t, map[terminology.CodeValue]struct{}{
		{System: "s1", Code: "a"}: {},
		{System: "s1", Code: "b"}: {},
		{System: "s2", Code: "c"}: {},
	}, vs.Codes())
	assert.Empty(t, (&terminology.ValueSet{}).Codes())
}

func TestParseURLVersion(t *testing.T) {
	url, version := terminology.ParseURLVersion("http://example.org/vs/x|1.2")
	assert.Equal(t, "http://example.org/vs/x", url)
	assert.Equal(t, "1.2", version)

	url, version = terminology.ParseURLVersion("http://example.org/vs/x")
	assert.Equal(t, "http://example.org/vs/x", url)
	assert.Empty(t, version)
}
