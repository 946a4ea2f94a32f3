// Package sfmt formats syntax trees back into canonical expression text.
// The output reparses to an identical tree: parentheses are reconstructed
// from operator precedence rather than preserved from the source.
package sfmt

import (
	"fmt"
	"strings"

	"github.com/carequery/fhirpath/compiler/ast"
)

// AST returns the canonical text of an expression.
func AST(e ast.Expr) string {
	c := &canon{}
	c.expr(e, "")
	return c.String()
}

type formatter struct {
	sb strings.Builder
}

func (f *formatter) write(format string, args ...any) {
	if len(args) == 0 {
		f.sb.WriteString(format)
		return
	}
	fmt.Fprintf(&f.sb, format, args...)
}

func (f *formatter) String() string { return f.sb.String() }

type canon struct {
	formatter
}

func (c *canon) expr(e ast.Expr, parent string) {
	switch e := e.(type) {
	case *ast.ID:
		c.identifier(e.Name)
	case *ast.This:
		c.write("$this")
	case *ast.Call:
		c.write("%s(", e.Name.Name)
		c.exprs(e.Args)
		c.write(")")
	case *ast.BoolLit:
		c.write("%t", e.Value)
	case *ast.StringLit:
		c.write("%s", quoteString(e.Value))
	case *ast.IntLit:
		c.write("%s", e.Text)
	case *ast.DecimalLit:
		c.write("%s", e.Text)
	case *ast.TemporalLit:
		if e.Time {
			c.write("@T%s", e.Text)
		} else {
			c.write("@%s", e.Text)
		}
	case *ast.QuantityLit:
		if e.Quoted {
			c.write("%s %s", e.Text, quoteString(e.Unit))
		} else {
			c.write("%s %s", e.Text, e.Unit)
		}
	case *ast.EmptyLit:
		c.write("{}")
	case *ast.UnaryExpr:
		parens := needsparens(parent, "unary")
		c.maybewrite("(", parens)
		c.write("%s", e.Op)
		c.expr(e.Operand, "unary")
		c.maybewrite(")", parens)
	case *ast.BinaryExpr:
		c.binary(e, parent)
	case *ast.IndexExpr:
		c.expr(e.Expr, "[")
		c.write("[")
		c.expr(e.Index, "")
		c.write("]")
	case *ast.TypeExpr:
		parens := needsparens(parent, e.Op)
		c.maybewrite("(", parens)
		c.expr(e.Expr, e.Op)
		c.write(" %s %s", e.Op, e.Type.Name)
		c.maybewrite(")", parens)
	default:
		c.write("<unknown expr %T>", e)
	}
}

func (c *canon) exprs(exprs []ast.Expr) {
	for k, e := range exprs {
		if k > 0 {
			c.write(", ")
		}
		c.expr(e, "")
	}
}

func (c *canon) binary(e *ast.BinaryExpr, parent string) {
	if e.Op == "." {
		c.expr(e.LHS, ".")
		c.write(".")
		c.expr(e.RHS, ".")
		return
	}
	parens := needsparens(parent, e.Op)
	c.maybewrite("(", parens)
	c.expr(e.LHS, e.Op)
	c.write(" %s ", e.Op)
	// The grammar is left associative, so an equal-precedence right
	// subtree carries parentheses the source must have had.
	if rhs, ok := e.RHS.(*ast.BinaryExpr); ok && precedence(rhs.Op) == precedence(e.Op) {
		c.write("(")
		c.expr(e.RHS, "")
		c.write(")")
	} else {
		c.expr(e.RHS, e.Op)
	}
	c.maybewrite(")", parens)
}

func needsparens(parent, op string) bool {
	return precedence(parent)-precedence(op) < 0
}

func precedence(op string) int {
	switch op {
	case ".", "[":
		return 1
	case "unary":
		return 2
	case "*", "/", "div", "mod":
		return 3
	case "+", "-", "&":
		return 4
	case "is", "as":
		return 5
	case "|":
		return 6
	case "<", "<=", ">", ">=":
		return 7
	case "=", "~", "!=", "!~":
		return 8
	case "in", "contains":
		return 9
	case "and":
		return 10
	case "or", "xor":
		return 11
	case "implies":
		return 12
	default:
		return 100
	}
}

func (c *canon) maybewrite(s string, do bool) {
	if do {
		c.write("%s", s)
	}
}

func (c *canon) identifier(name string) {
	if isBareIdentifier(name) {
		c.write("%s", name)
		return
	}
	c.write("`%s`", escapeDelimited(name))
}

var keywords = map[string]bool{
	"and": true, "as": true, "contains": true, "div": true, "false": true,
	"implies": true, "in": true, "is": true, "mod": true, "or": true,
	"true": true, "xor": true,
}

func isBareIdentifier(name string) bool {
	if name == "" || keywords[name] {
		return false
	}
	for i, r := range name {
		if i == 0 && !idChar(r) {
			return false
		}
		if !idChar(r) && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func idChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func escapeDelimited(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '`':
			b.WriteString("\\`")
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
