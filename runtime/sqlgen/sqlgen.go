// Package sqlgen translates analyzed path expressions into SQL that
// evaluates them over one row of a flattened record table.  The lowering
// is shared; a Dialect supplies the leaf syntax that differs between
// engines, such as array construction, aggregate names, and date casts.
//
// Every expression renders as a query yielding a single column.  By
// default the result rows are folded into the dialect's array value so
// scalars and collections come back in one shape.
package sqlgen

import (
	"context"
	"fmt"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ir"
	"github.com/carequery/fhirpath/terminology"
)

// Dialect renders the engine-specific leaves of the lowering.
type Dialect interface {
	Name() string

	// CollectionWrapper folds the rows of subquery into a single array
	// value, dropping NULL elements.
	CollectionWrapper(alias, subquery string) string
	// UnnestFrom renders a FROM clause scanning the elements of array
	// under alias, exposing each ordinal as element_offset.  A non-empty
	// parent subquery is spliced in front.
	UnnestFrom(parent, array, alias string) string
	// Indexer selects the zero-based index'th row of operand.
	Indexer(operand *Select, index string) *Select
	// Relation renders one binary operator application.
	Relation(lhs, op, rhs string) string
	// TemporalCast coerces a date or datetime string for comparison.
	TemporalCast(operand string) string
	// IntegerCast converts operand to a 64-bit integer, yielding NULL
	// when it does not parse.
	IntegerCast(operand string) string
	// RegexFunc names the regular-expression match predicate.
	RegexFunc() string
	// AnyAggregate and AllAggregate name the boolean OR and AND
	// aggregate functions.
	AnyAggregate() string
	AllAggregate() string
	// EmptyOf and ExistsOf test whether operand yields no rows, or any.
	EmptyOf(operand *Select) *Select
	ExistsOf(operand *Select) *Select
	// EqualsCollections compares two collections as unordered sets.
	EqualsCollections(lhs, rhs *Select, invert bool) (Expr, error)
	// ArrayExists tests whether any element of array satisfies the
	// predicate pred renders over the element reference it is handed.
	ArrayExists(array string, pred func(element string) string) string
	// ValueSetCheck tests operand membership against a value-set codes
	// table.
	ValueSetCheck(q *ValueSetQuery) (*Select, error)
}

// OperandCategory classifies the element type a membership test applies to.
type OperandCategory int

const (
	CodeOperand OperandCategory = iota
	CodingOperand
	ConceptOperand
)

// ValueSetQuery describes one memberOf test that joins a value-set codes
// table because no expansion was available at encode time.  The table is
// keyed by valueseturi, valuesetversion, system, and code.
type ValueSetQuery struct {
	Operand    *Select
	Collection bool
	Category   OperandCategory
	URL        string
	Version    string
	Table      string
}

// DefaultCodesTable is the codes table joined when the caller names none.
const DefaultCodesTable = "VALUESET_VIEW"

// Options configures Encode.  The zero value encodes without a
// terminology resolver and wraps every result in the dialect's array
// constructor.
type Options struct {
	// CodesTable names the value-set expansion table memberOf joins
	// against when no expansion is known.
	CodesTable string
	// Resolver, when set, expands value sets up front so memberOf
	// renders an inline membership test instead of a table join.
	Resolver terminology.Resolver
	// BareScalars leaves scalar results unwrapped instead of folding
	// them into a one-element array.
	BareScalars bool
}

// Encode renders node as a SQL expression for dialect.  The context is
// consulted only while a resolver expands value sets; the lowering itself
// performs no I/O.
func Encode(ctx context.Context, node ir.Node, dialect Dialect, opts *Options) (string, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.CodesTable == "" {
		o.CodesTable = DefaultCodesTable
	}
	e := &encoder{
		dialect:   dialect,
		opts:      o,
		valuesets: make(map[string]*terminology.ValueSet),
	}
	if o.Resolver != nil {
		if err := e.expandValueSets(ctx, node); err != nil {
			return "", err
		}
	}
	result, err := e.lower(node)
	if err != nil {
		return "", err
	}
	if !o.BareScalars || fhirpath.IsCollection(node.Type()) {
		return dialect.CollectionWrapper(result.Alias(), ToSubquery(result).String()), nil
	}
	return "(" + result.String() + ")", nil
}

// expandValueSets resolves every memberOf value set reachable from root
// before lowering begins, so the lowering stays pure.
func (e *encoder) expandValueSets(ctx context.Context, root ir.Node) error {
	var urls []string
	ir.Walk(root, func(n ir.Node) bool {
		fn, ok := n.(*ir.Function)
		if !ok || fn.Name != "memberOf" || len(fn.Args) == 0 {
			return true
		}
		if url, ok := literalString(fn.Args[0]); ok {
			urls = append(urls, url)
		}
		return true
	})
	for _, url := range urls {
		if _, ok := e.valuesets[url]; ok {
			continue
		}
		vs, err := e.opts.Resolver.Expand(ctx, url)
		if err != nil {
			return fmt.Errorf("expanding %s: %w", url, err)
		}
		if vs != nil {
			e.valuesets[url] = vs
		}
	}
	return nil
}

// UnsupportedError reports a construct that has no SQL rendering, either
// in one dialect or in the translation as a whole.
type UnsupportedError struct {
	Construct string
	Dialect   string
}

func (e *UnsupportedError) Error() string {
	if e.Dialect != "" {
		return fmt.Sprintf("cannot translate %s to %s SQL", e.Construct, e.Dialect)
	}
	return fmt.Sprintf("cannot translate %s to SQL", e.Construct)
}

func unsupportedf(format string, args ...any) *UnsupportedError {
	return &UnsupportedError{Construct: fmt.Sprintf(format, args...)}
}
