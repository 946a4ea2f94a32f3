package semantic

import (
	"regexp"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ast"
	"github.com/carequery/fhirpath/compiler/ir"
)

// registryNames lists every callable function, for spelling suggestions.
var registryNames = []string{
	"all", "anyTrue", "count", "empty", "exists", "first", "hasValue",
	"idFor", "matches", "memberOf", "not", "ofType", "toInteger", "where",
}

// semCall binds one function call.  Criteria arguments (where, exists, all)
// are analyzed with $this bound to the operand's element type; every other
// argument is analyzed in the enclosing context.
func (a *analyzer) semCall(operand ir.Node, call *ast.Call) (ir.Node, error) {
	name := call.Name.Name
	if name == "ofType" {
		return a.semOfTypeCall(operand, call)
	}
	argmin, argmax := 0, 0
	criteria := false
	switch name {
	case "all", "where":
		argmin, argmax, criteria = 1, 1, true
	case "exists":
		argmax, criteria = 1, true
	case "idFor", "matches", "memberOf":
		argmin, argmax = 1, 1
	case "anyTrue", "count", "empty", "first", "hasValue", "not", "toInteger":
	default:
		if hint := suggest(name, registryNames); hint != "" {
			return nil, a.errorf(call, "no such function %q; did you mean %q?", name, hint)
		}
		return nil, a.errorf(call, "no such function %q", name)
	}
	if len(call.Args) < argmin {
		return nil, a.errorf(call, "%s: too few arguments", name)
	}
	if len(call.Args) > argmax {
		return nil, a.errorf(call, "%s: too many arguments", name)
	}
	var args []ir.Node
	for _, argExpr := range call.Args {
		var arg ir.Node
		var err error
		if criteria {
			save := a.this
			a.this = elementType(operand.Type())
			arg, err = a.semExpr(argExpr)
			a.this = save
		} else {
			arg, err = a.semExpr(argExpr)
		}
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	typ, err := a.resultType(operand, call, name, args)
	if err != nil {
		return nil, err
	}
	return &ir.Function{AST: call, Name: name, Operand: operand, Args: args, Typ: typ}, nil
}

// resultType computes the static type of a call, checking the operand and
// argument constraints each function imposes.
func (a *analyzer) resultType(operand ir.Node, call *ast.Call, name string, args []ir.Node) (fhirpath.Type, error) {
	boolean := fhirpath.NewPrimitive(fhirpath.KindBoolean)
	opType := operand.Type()
	elem := elementType(opType)
	switch name {
	case "all", "empty", "exists", "hasValue", "not":
		return boolean, nil
	case "anyTrue":
		if !booleanElement(elem) {
			return nil, a.errorf(call, "anyTrue requires a boolean collection, not %s", opType)
		}
		return boolean, nil
	case "count":
		return fhirpath.NewPrimitive(fhirpath.KindInteger), nil
	case "first":
		return elem, nil
	case "idFor":
		if _, err := a.stringLiteral(call, name, args); err != nil {
			return nil, err
		}
		if _, ok := elem.(*fhirpath.Struct); !ok {
			return nil, a.errorf(call, "idFor requires a reference operand, not %s", opType)
		}
		str := fhirpath.NewPrimitive(fhirpath.KindString)
		return str.WithCardinality(opType.Cardinality()), nil
	case "matches":
		pattern, err := a.stringLiteral(call, name, args)
		if err != nil {
			return nil, err
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, a.errorf(call.Args[0], "matches: invalid pattern: %s", err)
		}
		if !stringy(elem) {
			return nil, a.errorf(call, "matches requires a string operand, not %s", opType)
		}
		return boolean, nil
	case "memberOf":
		if _, err := a.stringLiteral(call, name, args); err != nil {
			return nil, err
		}
		if !stringy(elem) && !fhirpath.IsCoding(elem) && !fhirpath.IsCodeableConcept(elem) {
			return nil, a.errorf(call, "memberOf requires a code, Coding, or CodeableConcept operand, not %s", opType)
		}
		return boolean.WithCardinality(opType.Cardinality()), nil
	case "toInteger":
		if !convertibleToInteger(elem) {
			return nil, a.errorf(call, "toInteger requires a string, boolean, or integer operand, not %s", opType)
		}
		return fhirpath.NewPrimitive(fhirpath.KindInteger), nil
	case "where":
		return opType.WithCardinality(fhirpath.Repeated), nil
	}
	panic("semantic: function missing from result type table: " + name)
}

// semOfTypeCall handles the function spelling of narrowing, whose single
// argument is a type name rather than an expression to evaluate.
func (a *analyzer) semOfTypeCall(operand ir.Node, call *ast.Call) (ir.Node, error) {
	if len(call.Args) != 1 {
		return nil, a.errorf(call, "ofType: expected a single type argument")
	}
	name, ok := typeNameOf(call.Args[0])
	if !ok {
		return nil, a.errorf(call.Args[0], "ofType: expected a type name")
	}
	return a.semOfType(call, operand, trimNamespace(name))
}

func typeNameOf(e ast.Expr) (string, bool) {
	switch e := e.(type) {
	case *ast.ID:
		return e.Name, true
	case *ast.BinaryExpr:
		if e.Op != "." {
			return "", false
		}
		l, lok := typeNameOf(e.LHS)
		r, rok := typeNameOf(e.RHS)
		if lok && rok {
			return l + "." + r, true
		}
	}
	return "", false
}

// stringLiteral extracts the constant string argument functions like
// matches and memberOf require, as the encoders inline it into SQL.
func (a *analyzer) stringLiteral(call *ast.Call, name string, args []ir.Node) (string, error) {
	if lit, ok := args[0].(*ir.Literal); ok {
		if s, ok := lit.Value.AsString(); ok {
			return s, nil
		}
	}
	return "", a.errorf(call.Args[0], "%s requires a string literal argument", name)
}

func elementType(t fhirpath.Type) fhirpath.Type {
	return t.WithCardinality(fhirpath.Scalar)
}

func booleanElement(t fhirpath.Type) bool {
	if _, ok := t.(fhirpath.Empty); ok {
		return true
	}
	p, ok := t.(fhirpath.Primitive)
	return ok && p.Kind() == fhirpath.KindBoolean
}

func convertibleToInteger(t fhirpath.Type) bool {
	if _, ok := t.(fhirpath.Empty); ok {
		return true
	}
	p, ok := t.(fhirpath.Primitive)
	if !ok {
		return false
	}
	switch p.Kind() {
	case fhirpath.KindString, fhirpath.KindBoolean, fhirpath.KindInteger:
		return true
	}
	return false
}
