// Package compiler is the front door of the expression pipeline: it parses
// a path expression, binds it against a schema environment, and wraps the
// typed result so callers can evaluate it in memory or render it as SQL
// without touching the pipeline stages themselves.
package compiler

import (
	"context"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ast"
	"github.com/carequery/fhirpath/compiler/ir"
	"github.com/carequery/fhirpath/compiler/parser"
	"github.com/carequery/fhirpath/compiler/semantic"
	"github.com/carequery/fhirpath/compiler/sfmt"
	"github.com/carequery/fhirpath/runtime/interp"
	"github.com/carequery/fhirpath/runtime/sqlgen"
	"github.com/carequery/fhirpath/schema"
	"github.com/carequery/fhirpath/terminology"
)

// Options configures compilation.  The zero value compiles without a
// terminology resolver, leaving memberOf tests to fail at evaluation time
// and SQL memberOf lowerings to join the default codes table.
type Options struct {
	// Resolver backs memberOf during evaluation and pre-expands value
	// sets during SQL encoding.
	Resolver terminology.Resolver
	// CodesTable overrides the value-set codes table SQL memberOf joins
	// against when no expansion is available.
	CodesTable string
}

// Compile parses and analyzes expression src against the definition named
// by root (a name like "Patient" or a canonical URL) in env.  Errors are
// *parser.SyntaxError, *semantic.Error, or the schema navigation errors,
// as produced by the failing stage.
func Compile(env *schema.Environment, root, src string, opts *Options) (*CompiledExpression, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	expr, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	node, err := semantic.Analyze(env, root, expr)
	if err != nil {
		return nil, err
	}
	return &CompiledExpression{
		root: root,
		expr: expr,
		node: node,
		eval: interp.New(node, o.Resolver),
		opts: o,
	}, nil
}

// CompiledExpression is one parsed, type-checked expression.  It is
// immutable and safe for concurrent use: many goroutines may evaluate it
// against different records or render it to SQL at once.
type CompiledExpression struct {
	root string
	expr ast.Expr
	node ir.Node
	eval *interp.Interpreter
	opts Options
}

// Root returns the name of the definition the expression was compiled
// against.
func (c *CompiledExpression) Root() string { return c.root }

// FHIRPath returns the canonical text form of the expression.
func (c *CompiledExpression) FHIRPath() string { return sfmt.AST(c.expr) }

// Type returns the static result type.
func (c *CompiledExpression) Type() fhirpath.Type { return c.node.Type() }

// IR returns the typed intermediate form, for callers lowering the
// expression themselves.
func (c *CompiledExpression) IR() ir.Node { return c.node }

// Evaluate applies the expression to one record and returns the ordered
// result collection.
func (c *CompiledExpression) Evaluate(ctx context.Context, resource *fhirpath.Resource) (fhirpath.Collection, error) {
	return c.eval.Eval(ctx, resource)
}

// SQL renders the expression for the given dialect.
func (c *CompiledExpression) SQL(ctx context.Context, dialect sqlgen.Dialect) (string, error) {
	return sqlgen.Encode(ctx, c.node, dialect, &sqlgen.Options{
		Resolver:   c.opts.Resolver,
		CodesTable: c.opts.CodesTable,
	})
}

// Dialect returns the SQL dialect registered under name, or false for an
// unknown name.  Names are the Dialect.Name values: "bigquery" and
// "spark".
func Dialect(name string) (sqlgen.Dialect, bool) {
	switch name {
	case "bigquery":
		return sqlgen.BigQuery, true
	case "spark":
		return sqlgen.Spark, true
	}
	return nil, false
}
