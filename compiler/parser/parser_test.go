package parser_test

import (
	"testing"

	"github.com/carequery/fhirpath/compiler/ast"
	"github.com/carequery/fhirpath/compiler/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, s string) ast.Expr {
	t.Helper()
	e, err := parser.Parse(s)
	require.NoError(t, err, s)
	return e
}

func TestLiterals(t *testing.T) {
	e := parse(t, "true")
	require.IsType(t, &ast.BoolLit{}, e)
	assert.True(t, e.(*ast.BoolLit).Value)

	e = parse(t, "false")
	assert.False(t, e.(*ast.BoolLit).Value)

	e = parse(t, "'home'")
	require.IsType(t, &ast.StringLit{}, e)
	assert.Equal(t, "home", e.(*ast.StringLit).Value)

	e = parse(t, `'it\'s A\n'`)
	assert.Equal(t, "it's A\n", e.(*ast.StringLit).Value)

	e = parse(t, "42")
	require.IsType(t, &ast.IntLit{}, e)
	assert.Equal(t, "42", e.(*ast.IntLit).Text)

	e = parse(t, "3.14")
	require.IsType(t, &ast.DecimalLit{}, e)
	assert.Equal(t, "3.14", e.(*ast.DecimalLit).Text)

	e = parse(t, "{}")
	require.IsType(t, &ast.EmptyLit{}, e)

	e = parse(t, "$this")
	require.IsType(t, &ast.This{}, e)
}

func TestTemporalLiterals(t *testing.T) {
	e := parse(t, "@2013-01-01")
	lit := e.(*ast.TemporalLit)
	assert.Equal(t, "2013-01-01", lit.Text)
	assert.False(t, lit.Time)

	e = parse(t, "@2013-01-01T08:00:00Z")
	assert.Equal(t, "2013-01-01T08:00:00Z", e.(*ast.TemporalLit).Text)

	e = parse(t, "@T12:30")
	lit = e.(*ast.TemporalLit)
	assert.Equal(t, "12:30", lit.Text)
	assert.True(t, lit.Time)
}

// A dash eats into a date literal only when a full two-digit component
// follows, so @2013-5 is a subtraction.
func TestDateLiteralStopsAtPartialComponent(t *testing.T) {
	e := parse(t, "@2013-5")
	b, ok := e.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "-", b.Op)
	assert.Equal(t, "2013", b.LHS.(*ast.TemporalLit).Text)
	assert.Equal(t, "5", b.RHS.(*ast.IntLit).Text)
}

func TestQuantityLiterals(t *testing.T) {
	e := parse(t, "2 'mg'")
	q := e.(*ast.QuantityLit)
	assert.Equal(t, "2", q.Text)
	assert.Equal(t, "mg", q.Unit)
	assert.True(t, q.Quoted)

	e = parse(t, "4 days")
	q = e.(*ast.QuantityLit)
	assert.Equal(t, "4", q.Text)
	assert.Equal(t, "days", q.Unit)
	assert.False(t, q.Quoted)

	// A following identifier that is not a calendar unit belongs to the
	// surrounding expression.
	e = parse(t, "4 and true")
	b := e.(*ast.BinaryExpr)
	assert.Equal(t, "and", b.Op)
	require.IsType(t, &ast.IntLit{}, b.LHS)
}

func TestWhereChain(t *testing.T) {
	e := parse(t, "address.where(use = 'home').postalCode")
	outer, ok := e.(*ast.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, ".", outer.Op)
	assert.Equal(t, "postalCode", outer.RHS.(*ast.ID).Name)

	inner, ok := outer.LHS.(*ast.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, ".", inner.Op)
	assert.Equal(t, "address", inner.LHS.(*ast.ID).Name)

	call, ok := inner.RHS.(*ast.Call)
	require.True(t, ok)
	assert.Equal(t, "where", call.Name.Name)
	require.Len(t, call.Args, 1)

	criteria, ok := call.Args[0].(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "=", criteria.Op)
	assert.Equal(t, "use", criteria.LHS.(*ast.ID).Name)
	assert.Equal(t, "home", criteria.RHS.(*ast.StringLit).Value)
}

func TestPrecedence(t *testing.T) {
	cases := []struct {
		input string
		op    string
		lhs   string // op of LHS when it is a BinaryExpr, else ""
		rhs   string // op of RHS when it is a BinaryExpr, else ""
	}{
		{"1 + 2 * 3", "+", "", "*"},
		{"1 * 2 + 3", "+", "*", ""},
		{"a and b or c", "or", "and", ""},
		{"a or b and c", "or", "", "and"},
		{"a implies b or c", "implies", "", "or"},
		{"a | b = c", "=", "|", ""},
		{"a = b and c", "and", "=", ""},
		{"a < b = c", "=", "<", ""},
		{"a in b or c", "or", "in", ""},
		{"x contains y and z", "and", "contains", ""},
		{"1 + 2 & 'x'", "&", "+", ""},
		{"5 div 2 + 1", "+", "div", ""},
		{"5 mod 2 = 1", "=", "mod", ""},
	}
	for _, c := range cases {
		e := parse(t, c.input)
		b, ok := e.(*ast.BinaryExpr)
		require.True(t, ok, c.input)
		assert.Equal(t, c.op, b.Op, c.input)
		if c.lhs != "" {
			lhs, ok := b.LHS.(*ast.BinaryExpr)
			require.True(t, ok, c.input)
			assert.Equal(t, c.lhs, lhs.Op, c.input)
		}
		if c.rhs != "" {
			rhs, ok := b.RHS.(*ast.BinaryExpr)
			require.True(t, ok, c.input)
			assert.Equal(t, c.rhs, rhs.Op, c.input)
		}
	}
}

func TestParens(t *testing.T) {
	e := parse(t, "(1 + 2) * 3")
	b := e.(*ast.BinaryExpr)
	assert.Equal(t, "*", b.Op)
	assert.Equal(t, "+", b.LHS.(*ast.BinaryExpr).Op)
}

func TestUnionChain(t *testing.T) {
	e := parse(t, "name.given | name.family | nickname")
	b := e.(*ast.BinaryExpr)
	require.Equal(t, "|", b.Op)
	assert.Equal(t, "|", b.LHS.(*ast.BinaryExpr).Op)
}

func TestPolarity(t *testing.T) {
	e := parse(t, "-5.value")
	u, ok := e.(*ast.UnaryExpr)
	require.True(t, ok)
	assert.Equal(t, "-", u.Op)
	dot := u.Operand.(*ast.BinaryExpr)
	assert.Equal(t, ".", dot.Op)

	e = parse(t, "(-5).value")
	dot, ok = e.(*ast.BinaryExpr)
	require.True(t, ok)
	require.IsType(t, &ast.UnaryExpr{}, dot.LHS)
}

func TestIndexer(t *testing.T) {
	e := parse(t, "name[0].given[1 + 2]")
	idx, ok := e.(*ast.IndexExpr)
	require.True(t, ok)
	assert.Equal(t, "+", idx.Index.(*ast.BinaryExpr).Op)
	dot := idx.Expr.(*ast.BinaryExpr)
	require.Equal(t, ".", dot.Op)
	require.IsType(t, &ast.IndexExpr{}, dot.LHS)
}

func TestTypeOperators(t *testing.T) {
	e := parse(t, "value is Quantity")
	te, ok := e.(*ast.TypeExpr)
	require.True(t, ok)
	assert.Equal(t, "is", te.Op)
	assert.Equal(t, "Quantity", te.Type.Name)

	e = parse(t, "value as FHIR.Quantity")
	te = e.(*ast.TypeExpr)
	assert.Equal(t, "as", te.Op)
	assert.Equal(t, "FHIR.Quantity", te.Type.Name)

	e = parse(t, "value is Quantity or value is string")
	b := e.(*ast.BinaryExpr)
	assert.Equal(t, "or", b.Op)
	require.IsType(t, &ast.TypeExpr{}, b.LHS)
	require.IsType(t, &ast.TypeExpr{}, b.RHS)
}

func TestKeywordsAsMemberNames(t *testing.T) {
	e := parse(t, "group.contains.code")
	outer := e.(*ast.BinaryExpr)
	assert.Equal(t, "code", outer.RHS.(*ast.ID).Name)
	inner := outer.LHS.(*ast.BinaryExpr)
	assert.Equal(t, "contains", inner.RHS.(*ast.ID).Name)
}

func TestDelimitedIdentifiers(t *testing.T) {
	e := parse(t, "`PID-1`.`first name`")
	b := e.(*ast.BinaryExpr)
	assert.Equal(t, "PID-1", b.LHS.(*ast.ID).Name)
	assert.Equal(t, "first name", b.RHS.(*ast.ID).Name)
}

func TestCallAtHead(t *testing.T) {
	e := parse(t, "exists()")
	call, ok := e.(*ast.Call)
	require.True(t, ok)
	assert.Equal(t, "exists", call.Name.Name)
	assert.Empty(t, call.Args)
}

func TestComments(t *testing.T) {
	e := parse(t, "name // trailing\n.family")
	b, ok := e.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "family", b.RHS.(*ast.ID).Name)

	e = parse(t, "/* leading */ active")
	assert.Equal(t, "active", e.(*ast.ID).Name)
}

func TestSyntaxErrors(t *testing.T) {
	cases := []struct {
		input    string
		position int
		msg      string
	}{
		{"address..name", 8, "expected member name after '.'"},
		{"1 +", 3, "unexpected end of expression"},
		{"'abc", 4, "unterminated string literal"},
		{"a[1", 3, "mismatched brackets in indexer"},
		{"f(a", 3, "mismatched parens in function call"},
		{"1 2", 2, "unexpected text after expression"},
		{"$that", 5, "unknown context reference $that"},
		{"@20", 1, "invalid date literal"},
		{"{1}", 1, "mismatched braces in empty collection literal"},
		{"/* open", 0, "unterminated block comment"},
	}
	for _, c := range cases {
		_, err := parser.Parse(c.input)
		require.Error(t, err, c.input)
		var serr *parser.SyntaxError
		require.ErrorAs(t, err, &serr, c.input)
		assert.Equal(t, c.position, serr.Position, c.input)
		assert.Equal(t, c.msg, serr.Msg, c.input)
		assert.Contains(t, serr.Error(), "syntax error", c.input)
	}
}

func TestLocSpansSource(t *testing.T) {
	e := parse(t, "name.family")
	assert.Equal(t, 0, e.Pos())
	assert.Equal(t, 10, e.End())
}
