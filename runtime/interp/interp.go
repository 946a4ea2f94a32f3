// Package interp evaluates compiled expressions against in-memory records.
//
// An Interpreter is built once from the typed IR and is immutable
// afterwards, so one compiled expression may evaluate many records
// concurrently.  Evaluation is a bottom-up fold: every node consumes the
// collections its operands produce and emits a new collection, propagating
// emptiness per the language's three-valued rules.
package interp

import (
	"context"
	"regexp"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ir"
	"github.com/carequery/fhirpath/terminology"
)

// Interpreter evaluates one compiled expression.
type Interpreter struct {
	eval evaluator
}

// New builds an interpreter for the analyzed expression.  The resolver
// backs memberOf and may be nil when the expression does no terminology
// membership tests.
func New(node ir.Node, resolver terminology.Resolver) *Interpreter {
	return &Interpreter{eval: build(node, resolver)}
}

// Eval applies the expression to one record.
func (i *Interpreter) Eval(ctx context.Context, resource *fhirpath.Resource) (fhirpath.Collection, error) {
	return i.eval.eval(ctx, &scope{root: resource})
}

// scope is the evaluation state threaded through the fold: the root record
// plus the current criteria element when inside where, exists, or all.
type scope struct {
	root *fhirpath.Resource
	this *fhirpath.Value
}

type evaluator interface {
	eval(ctx context.Context, sc *scope) (fhirpath.Collection, error)
}

func build(node ir.Node, resolver terminology.Resolver) evaluator {
	switch n := node.(type) {
	case *ir.Root:
		return &root{typ: n.Typ}
	case *ir.Reference:
		return &this{}
	case *ir.Literal:
		if ir.IsEmptyLiteral(n) {
			return &literal{}
		}
		return &literal{val: fhirpath.Collection{n.Value}}
	case *ir.Property:
		return buildProperty(n, resolver)
	case *ir.Indexer:
		return &indexer{
			operand: build(n.Operand, resolver),
			index:   build(n.Index, resolver),
		}
	case *ir.Polarity:
		return &polarity{op: n.Op, operand: build(n.Operand, resolver)}
	case *ir.Arithmetic:
		return &arithmetic{
			op:  n.Op,
			lhs: build(n.LHS, resolver),
			rhs: build(n.RHS, resolver),
		}
	case *ir.Equality:
		return &equality{
			op:  n.Op,
			lhs: build(n.LHS, resolver),
			rhs: build(n.RHS, resolver),
		}
	case *ir.Comparison:
		return &comparison{
			op:  n.Op,
			lhs: build(n.LHS, resolver),
			rhs: build(n.RHS, resolver),
		}
	case *ir.BooleanOp:
		return &booleanOp{
			op:  n.Op,
			lhs: build(n.LHS, resolver),
			rhs: build(n.RHS, resolver),
		}
	case *ir.Membership:
		m := &membership{
			element:    build(n.LHS, resolver),
			collection: build(n.RHS, resolver),
		}
		if n.Op == "contains" {
			m.element, m.collection = m.collection, m.element
		}
		return m
	case *ir.Union:
		return &union{lhs: build(n.LHS, resolver), rhs: build(n.RHS, resolver)}
	case *ir.Is:
		return &is{operand: build(n.Operand, resolver), typeName: n.TypeName}
	case *ir.OfType:
		return buildOfType(n, resolver)
	case *ir.Function:
		return buildFunction(n, resolver)
	}
	panic("interp: IR node missing from build table")
}

type root struct {
	typ fhirpath.Type
}

func (r *root) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	return fhirpath.Collection{fhirpath.Element(r.typ, sc.root.Body())}, nil
}

type this struct{}

func (t *this) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	if sc.this == nil {
		return nil, nil
	}
	return fhirpath.Collection{*sc.this}, nil
}

type literal struct {
	val fhirpath.Collection
}

func (l *literal) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	return l.val, nil
}

// buildProperty specializes member access for polymorphic elements: a
// choice property reads whichever suffixed record field is present (value
// becomes valueQuantity, valueString, ...), typing each hit by the matching
// union member.
func buildProperty(n *ir.Property, resolver terminology.Resolver) evaluator {
	p := &property{operand: build(n.Operand, resolver), name: n.Name}
	if u, ok := n.Typ.(*fhirpath.Union); ok && n.Choice {
		for i, name := range u.Names {
			p.fields = append(p.fields, field{
				name: n.Name + fieldSuffix(name),
				typ:  u.Members[i].WithCardinality(fhirpath.Scalar),
			})
		}
	} else {
		p.fields = []field{{name: n.Name, typ: n.Typ.WithCardinality(fhirpath.Scalar)}}
	}
	return p
}

// buildOfType narrows a polymorphic operand.  Narrowing a choice property
// reads the one suffixed record field the type selects; any other operand
// is filtered by the runtime type of its values.
func buildOfType(n *ir.OfType, resolver terminology.Resolver) evaluator {
	if prop, ok := n.Operand.(*ir.Property); ok && prop.Choice {
		return &property{
			operand: build(prop.Operand, resolver),
			name:    prop.Name,
			fields: []field{{
				name: prop.Name + fieldSuffix(n.TypeName),
				typ:  n.Typ.WithCardinality(fhirpath.Scalar),
			}},
		}
	}
	return &ofType{operand: build(n.Operand, resolver), typeName: n.TypeName}
}

func buildFunction(n *ir.Function, resolver terminology.Resolver) evaluator {
	operand := build(n.Operand, resolver)
	var args []evaluator
	for _, arg := range n.Args {
		args = append(args, build(arg, resolver))
	}
	switch n.Name {
	case "all":
		return &all{operand: operand, criteria: args[0]}
	case "anyTrue":
		return &anyTrue{operand: operand}
	case "count":
		return &count{operand: operand}
	case "empty":
		return &empty{operand: operand}
	case "exists":
		e := &exists{operand: operand}
		if len(args) > 0 {
			e.criteria = args[0]
		}
		return e
	case "first":
		return &first{operand: operand}
	case "hasValue":
		return &hasValue{operand: operand}
	case "idFor":
		return &idFor{operand: operand, typeName: referenceTarget(stringArg(n.Args[0]))}
	case "matches":
		// The analyzer validated the pattern; anchor it at the start
		// of the operand the way the relational encoders do.
		pattern := stringArg(n.Args[0])
		return &matches{operand: operand, re: regexp.MustCompile("^(?:" + pattern + ")")}
	case "memberOf":
		return &memberOf{operand: operand, url: stringArg(n.Args[0]), resolver: resolver}
	case "not":
		return &not{operand: operand}
	case "toInteger":
		return &toInteger{operand: operand}
	case "where":
		return &where{operand: operand, criteria: args[0]}
	}
	panic("interp: function missing from build table: " + n.Name)
}

// stringArg unwraps the constant string argument the analyzer guarantees
// for matches, memberOf, and idFor.
func stringArg(n ir.Node) string {
	s, ok := n.(*ir.Literal).Value.AsString()
	if !ok {
		panic("interp: function argument is not a string literal")
	}
	return s
}
