package sfmt_test

import (
	"testing"

	"github.com/carequery/fhirpath/compiler/parser"
	"github.com/carequery/fhirpath/compiler/sfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Formatting normalizes spacing and reconstructs only the parentheses the
// tree requires, and the result must reparse to the identical tree.  The
// second parse checks that canonical text is a fixed point.
func TestCanonical(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"1+2*3", "1 + 2 * 3"},
		{"(1+2)*3", "(1 + 2) * 3"},
		{"1 * (2 + 3)", "1 * (2 + 3)"},
		{"a - (b - c)", "a - (b - c)"},
		{"(a - b) - c", "a - b - c"},
		{"a.where(use = 'home').postalCode", "a.where(use = 'home').postalCode"},
		{"-5.value", "-5.value"},
		{"(-5).value", "(-5).value"},
		{"- 5", "-5"},
		{"a | b = c", "a | b = c"},
		{"(a | b) = c", "a | b = c"},
		{"a | (b = c)", "a | (b = c)"},
		{"value is Quantity", "value is Quantity"},
		{"(value as FHIR.Quantity).unit", "(value as FHIR.Quantity).unit"},
		{"x implies y or z", "x implies y or z"},
		{"(x implies y) or z", "(x implies y) or z"},
		{"x and (y or z)", "x and (y or z)"},
		{"@2013-01-01T08:00:00Z", "@2013-01-01T08:00:00Z"},
		{"@T12:30", "@T12:30"},
		{"2'mg'", "2 'mg'"},
		{"4 days", "4 days"},
		{"{ }", "{}"},
		{"$this.value", "$this.value"},
		{"name[ 0 ]", "name[0]"},
		{"(1 + 2)[0]", "(1 + 2)[0]"},
		{"telecom.count() = 2", "telecom.count() = 2"},
		{"code in vs or vs contains code", "code in vs or vs contains code"},
		{"'it''s' = 'no'", ""}, // repeated quote is not an escape
		{"`div`.`mod`", "`div`.`mod`"},
		{"`first name`", "`first name`"},
		{"not(active)", "not(active)"},
		{"iif(a, b, c)", "iif(a, b, c)"},
	}
	for _, c := range cases {
		e, err := parser.Parse(c.input)
		if c.want == "" {
			assert.Error(t, err, c.input)
			continue
		}
		require.NoError(t, err, c.input)
		got := sfmt.AST(e)
		assert.Equal(t, c.want, got, c.input)
		reparsed, err := parser.Parse(got)
		require.NoError(t, err, got)
		assert.Equal(t, got, sfmt.AST(reparsed), c.input)
	}
}

func TestStringEscapes(t *testing.T) {
	e, err := parser.Parse(`'tab\there'`)
	require.NoError(t, err)
	assert.Equal(t, `'tab\there'`, sfmt.AST(e))

	e, err = parser.Parse(`'quote\'and\\slash'`)
	require.NoError(t, err)
	assert.Equal(t, `'quote\'and\\slash'`, sfmt.AST(e))
}
