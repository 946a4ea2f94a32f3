// Package semantic binds parsed path expressions to a schema environment.
// The analyzer resolves every identifier against structure definitions,
// computes static types and cardinalities, folds literals, and produces
// the intermediate form shared by the interpreter and the SQL encoders.
package semantic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ast"
	"github.com/carequery/fhirpath/compiler/ir"
	"github.com/carequery/fhirpath/schema"
	"github.com/shopspring/decimal"
)

// Error is a semantic failure: the expression parsed, but it cannot be
// bound against the schema environment.
type Error struct {
	Position int
	Msg      string
	Err      error // underlying navigation or literal error, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("semantic error at position %d: %s", e.Position, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Analyze resolves expr against the definition named by root, checking
// every path step and operator against the environment and computing the
// static type of each node.
func Analyze(env *schema.Environment, root string, expr ast.Expr) (ir.Node, error) {
	w, err := env.Walk(root)
	if err != nil {
		return nil, err
	}
	a := &analyzer{env: env, root: fhirpath.NewStruct(w.Definition(), "")}
	return a.semExpr(expr)
}

type analyzer struct {
	env  *schema.Environment
	root fhirpath.Type
	// this is the element type $this is bound to inside a criteria
	// argument; nil at top level, where the context is the root record.
	this fhirpath.Type
}

// context is the node a bare identifier or call is implicitly applied to.
func (a *analyzer) context() ir.Node {
	if a.this != nil {
		return &ir.Reference{Typ: a.this}
	}
	return &ir.Root{Typ: a.root}
}

func (a *analyzer) errorf(n ast.Node, format string, args ...any) error {
	return &Error{Position: n.Pos(), Msg: fmt.Sprintf(format, args...)}
}

func (a *analyzer) wrap(n ast.Node, err error) error {
	return &Error{Position: n.Pos(), Err: err}
}

func (a *analyzer) semExpr(e ast.Expr) (ir.Node, error) {
	switch e := e.(type) {
	case *ast.ID:
		return a.semID(e)
	case *ast.This:
		if a.this != nil {
			return &ir.Reference{AST: e, Typ: a.this}, nil
		}
		return &ir.Root{Typ: a.root}, nil
	case *ast.Call:
		return a.semCall(a.context(), e)
	case *ast.UnaryExpr:
		return a.semUnary(e)
	case *ast.BinaryExpr:
		return a.semBinary(e)
	case *ast.IndexExpr:
		return a.semIndex(e)
	case *ast.TypeExpr:
		return a.semTypeExpr(e)
	case *ast.BoolLit, *ast.StringLit, *ast.IntLit, *ast.DecimalLit,
		*ast.TemporalLit, *ast.QuantityLit, *ast.EmptyLit:
		return a.semLiteral(e)
	}
	panic(fmt.Sprintf("semantic: unknown expression %T", e))
}

func (a *analyzer) semID(id *ast.ID) (ir.Node, error) {
	// A bare identifier may name the root resource type itself, as in
	// Patient.name.family evaluated against a Patient.  Criteria see the
	// whole record too, so the name resolves inside where/all/exists as
	// well as at the top level.
	if root, ok := a.root.(*fhirpath.Struct); ok && (id.Name == root.Def.Name || id.Name == root.Def.Type) {
		return &ir.Root{Typ: a.root}, nil
	}
	return a.semProperty(a.context(), id)
}

func (a *analyzer) semDot(e *ast.BinaryExpr) (ir.Node, error) {
	operand, err := a.semExpr(e.LHS)
	if err != nil {
		return nil, err
	}
	switch rhs := e.RHS.(type) {
	case *ast.ID:
		return a.semProperty(operand, rhs)
	case *ast.Call:
		return a.semCall(operand, rhs)
	}
	panic(fmt.Sprintf("semantic: unknown member expression %T", e.RHS))
}

// semProperty types one path step.  The operand must be struct-valued, and
// stepping into a choice element yields a union that has to be narrowed
// with ofType or as before any further step.
func (a *analyzer) semProperty(operand ir.Node, id *ast.ID) (ir.Node, error) {
	switch t := operand.Type().(type) {
	case *fhirpath.Struct:
		w, err := a.env.At(t.Def, t.Path)
		if err != nil {
			return nil, a.wrap(id, err)
		}
		if err := w.Step(id.Name); err != nil {
			return nil, a.stepError(id, w, err)
		}
		typ, err := a.memberType(w, t.Cardinality())
		if err != nil {
			return nil, a.wrap(id, err)
		}
		_, choice := typ.(*fhirpath.Union)
		return &ir.Property{AST: id, Operand: operand, Name: id.Name, Choice: choice, Typ: typ}, nil
	case *fhirpath.Union:
		return nil, a.errorf(id, "cannot access %q on %s without narrowing to one of its types", id.Name, t)
	case fhirpath.Empty:
		return operand, nil
	default:
		return nil, a.errorf(id, "no element %q in %s", id.Name, t)
	}
}

// stepError wraps a navigation failure, adding a spelling suggestion when
// the step named no element of the containing type.
func (a *analyzer) stepError(id *ast.ID, w *schema.Walker, err error) error {
	var fieldErr *schema.FieldError
	if errors.As(err, &fieldErr) {
		if hint := suggest(id.Name, w.Children()); hint != "" {
			return &Error{
				Position: id.Pos(),
				Msg:      fmt.Sprintf("%s; did you mean %q?", err, hint),
				Err:      err,
			}
		}
	}
	return a.wrap(id, err)
}

// memberType maps the element the walker reached onto the type system.  An
// element repeating in the schema is Repeated; a scalar element reached
// through a collection operand is ChildOfRepeated, which the encoders
// flatten differently from a true repetition.
func (a *analyzer) memberType(w *schema.Walker, operand fhirpath.Cardinality) (fhirpath.Type, error) {
	elem := w.Element()
	card := fhirpath.Scalar
	switch {
	case elem.Repeats():
		card = fhirpath.Repeated
	case operand != fhirpath.Scalar:
		card = fhirpath.ChildOfRepeated
	}
	if elem.Choice() || len(elem.Types) > 1 {
		names := make([]string, 0, len(elem.Types))
		members := make([]fhirpath.Type, 0, len(elem.Types))
		for _, ref := range elem.Types {
			names = append(names, ref.Code)
			members = append(members, a.typeForCode(w, ref.Code))
		}
		return fhirpath.NewUnion(names, members).WithCardinality(card), nil
	}
	if len(elem.Types) == 0 {
		return nil, &schema.MalformedSchemaError{
			URL:    w.Definition().URL,
			Reason: fmt.Sprintf("element %q declares no type", elem.Path),
		}
	}
	return a.typeForCode(w, elem.Types[0].Code).WithCardinality(card), nil
}

// typeForCode resolves one declared type code.  Named types resolve eagerly
// when their definition is in the environment; backbone content and
// unresolvable references stay anchored to the containing element, which
// defers any failure to the step that actually navigates into them.
func (a *analyzer) typeForCode(w *schema.Walker, code string) fhirpath.Type {
	if prim, ok := fhirpath.PrimitiveForCode(code); ok {
		return prim
	}
	if code != "BackboneElement" && code != "Element" {
		if def, ok := a.env.Definition(code); ok {
			return fhirpath.NewStruct(def, "")
		}
	}
	return fhirpath.NewStruct(w.Definition(), w.Element().Path)
}

func (a *analyzer) semLiteral(e ast.Expr) (ir.Node, error) {
	switch e := e.(type) {
	case *ast.BoolLit:
		return a.literal(e, fhirpath.Bool(e.Value), fhirpath.KindBoolean), nil
	case *ast.StringLit:
		return a.literal(e, fhirpath.String(e.Value), fhirpath.KindString), nil
	case *ast.IntLit:
		i, err := strconv.ParseInt(e.Text, 10, 64)
		if err != nil {
			return nil, a.errorf(e, "integer literal %s overflows", e.Text)
		}
		return a.literal(e, fhirpath.Int(i), fhirpath.KindInteger), nil
	case *ast.DecimalLit:
		d, err := decimal.NewFromString(e.Text)
		if err != nil {
			return nil, a.errorf(e, "invalid decimal literal %s", e.Text)
		}
		return a.literal(e, fhirpath.Decimal(d), fhirpath.KindDecimal), nil
	case *ast.TemporalLit:
		text := e.Text
		if e.Time {
			text = "T" + text
		}
		tm, err := fhirpath.ParseTemporal(text)
		if err != nil {
			return nil, a.wrap(e, err)
		}
		return a.literal(e, fhirpath.TemporalValue(tm), tm.Kind), nil
	case *ast.QuantityLit:
		d, err := decimal.NewFromString(e.Text)
		if err != nil {
			return nil, a.errorf(e, "invalid quantity literal %s", e.Text)
		}
		q := fhirpath.NewQuantity(d, e.Unit)
		return a.literal(e, fhirpath.QuantityValue(q), fhirpath.KindQuantity), nil
	case *ast.EmptyLit:
		return &ir.Literal{AST: e, Typ: fhirpath.Empty{}}, nil
	}
	panic(fmt.Sprintf("semantic: unknown literal %T", e))
}

func (a *analyzer) literal(e ast.Expr, v fhirpath.Value, kind fhirpath.Kind) *ir.Literal {
	return &ir.Literal{AST: e, Value: v, Typ: fhirpath.NewPrimitive(kind)}
}

func (a *analyzer) semUnary(e *ast.UnaryExpr) (ir.Node, error) {
	operand, err := a.semExpr(e.Operand)
	if err != nil {
		return nil, err
	}
	if !numericType(operand.Type()) {
		return nil, a.errorf(e, "unary %q requires a numeric operand, not %s", e.Op, operand.Type())
	}
	if lit, ok := operand.(*ir.Literal); ok {
		return a.foldPolarity(e, lit), nil
	}
	return &ir.Polarity{AST: e, Op: e.Op, Operand: operand, Typ: operand.Type()}, nil
}

// foldPolarity folds a sign into a numeric literal so -5 is the constant
// -5 rather than a negation applied to 5.
func (a *analyzer) foldPolarity(e *ast.UnaryExpr, lit *ir.Literal) ir.Node {
	if e.Op == "+" || ir.IsEmptyLiteral(lit) {
		return &ir.Literal{AST: e, Value: lit.Value, Typ: lit.Typ}
	}
	if i, ok := lit.Value.AsInt(); ok {
		return a.literal(e, fhirpath.Int(-i), fhirpath.KindInteger)
	}
	if q, ok := lit.Value.AsQuantity(); ok {
		neg := fhirpath.NewQuantity(q.Value.Neg(), q.Unit)
		return a.literal(e, fhirpath.QuantityValue(neg), fhirpath.KindQuantity)
	}
	if d, ok := lit.Value.AsDecimal(); ok {
		return a.literal(e, fhirpath.Decimal(d.Neg()), fhirpath.KindDecimal)
	}
	panic("semantic: non-numeric literal after numeric check")
}

func (a *analyzer) semBinary(e *ast.BinaryExpr) (ir.Node, error) {
	if e.Op == "." {
		return a.semDot(e)
	}
	lhs, err := a.semExpr(e.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := a.semExpr(e.RHS)
	if err != nil {
		return nil, err
	}
	boolean := fhirpath.NewPrimitive(fhirpath.KindBoolean)
	switch e.Op {
	case "and", "or", "xor", "implies":
		return &ir.BooleanOp{AST: e, Op: e.Op, LHS: lhs, RHS: rhs, Typ: boolean}, nil
	case "=", "!=", "~", "!~":
		return &ir.Equality{AST: e, Op: e.Op, LHS: lhs, RHS: rhs, Typ: boolean}, nil
	case "<", "<=", ">", ">=":
		return a.semComparison(e, lhs, rhs)
	case "+", "-", "*", "/", "div", "mod", "&":
		return a.semArithmetic(e, lhs, rhs)
	case "in", "contains":
		return &ir.Membership{AST: e, Op: e.Op, LHS: lhs, RHS: rhs, Typ: boolean}, nil
	case "|":
		return &ir.Union{AST: e, LHS: lhs, RHS: rhs, Typ: unionType(lhs.Type(), rhs.Type())}, nil
	}
	panic(fmt.Sprintf("semantic: unknown operator %q", e.Op))
}

func (a *analyzer) semComparison(e *ast.BinaryExpr, lhs, rhs ir.Node) (ir.Node, error) {
	t, ok := fhirpath.Promote(lhs.Type(), rhs.Type())
	if !ok || !orderable(t) {
		return nil, a.errorf(e, "cannot compare %s with %s", lhs.Type(), rhs.Type())
	}
	boolean := fhirpath.NewPrimitive(fhirpath.KindBoolean)
	return &ir.Comparison{AST: e, Op: e.Op, LHS: lhs, RHS: rhs, Typ: boolean}, nil
}

func (a *analyzer) semArithmetic(e *ast.BinaryExpr, lhs, rhs ir.Node) (ir.Node, error) {
	lt, rt := lhs.Type(), rhs.Type()
	if e.Op == "&" {
		if !stringy(lt) || !stringy(rt) {
			return nil, a.errorf(e, "& requires string operands, not %s and %s", lt, rt)
		}
		str := fhirpath.NewPrimitive(fhirpath.KindString)
		return &ir.Arithmetic{AST: e, Op: e.Op, LHS: lhs, RHS: rhs, Typ: str}, nil
	}
	// + doubles as string concatenation, with strict empty propagation
	// where & substitutes ''.
	if e.Op == "+" && stringy(lt) && stringy(rt) && (stringKind(lt) || stringKind(rt)) {
		str := fhirpath.NewPrimitive(fhirpath.KindString)
		return &ir.Arithmetic{AST: e, Op: e.Op, LHS: lhs, RHS: rhs, Typ: str}, nil
	}
	t, ok := fhirpath.Promote(lt, rt)
	if !ok || !numericType(t) {
		return nil, a.errorf(e, "%s requires numeric operands, not %s and %s", e.Op, lt, rt)
	}
	if fhirpath.IsQuantity(t) {
		t = fhirpath.NewPrimitive(fhirpath.KindQuantity)
	}
	typ := t
	if p, ok := t.(fhirpath.Primitive); ok {
		switch e.Op {
		case "/":
			if p.Kind() == fhirpath.KindQuantity {
				typ = fhirpath.NewPrimitive(fhirpath.KindQuantity)
			} else {
				typ = fhirpath.NewPrimitive(fhirpath.KindDecimal)
			}
		case "div":
			if p.Kind() == fhirpath.KindQuantity {
				return nil, a.errorf(e, "div is not defined for quantities")
			}
			typ = fhirpath.NewPrimitive(fhirpath.KindInteger)
		case "mod":
			if p.Kind() == fhirpath.KindQuantity {
				return nil, a.errorf(e, "mod is not defined for quantities")
			}
			typ = fhirpath.NewPrimitive(p.Kind())
		default:
			typ = fhirpath.NewPrimitive(p.Kind())
		}
	}
	return &ir.Arithmetic{AST: e, Op: e.Op, LHS: lhs, RHS: rhs, Typ: typ}, nil
}

func (a *analyzer) semIndex(e *ast.IndexExpr) (ir.Node, error) {
	operand, err := a.semExpr(e.Expr)
	if err != nil {
		return nil, err
	}
	index, err := a.semExpr(e.Index)
	if err != nil {
		return nil, err
	}
	if !integerType(index.Type()) {
		return nil, a.errorf(e.Index, "index must be an integer, not %s", index.Type())
	}
	typ := operand.Type().WithCardinality(fhirpath.Scalar)
	return &ir.Indexer{AST: e, Operand: operand, Index: index, Typ: typ}, nil
}

func (a *analyzer) semTypeExpr(e *ast.TypeExpr) (ir.Node, error) {
	operand, err := a.semExpr(e.Expr)
	if err != nil {
		return nil, err
	}
	name := trimNamespace(e.Type.Name)
	if e.Op == "as" {
		return a.semOfType(e, operand, name)
	}
	return a.semIs(e, operand, name)
}

// semOfType narrows operand to the named type.  Narrowing a monomorphic
// operand to its own type is the identity; narrowing it to anything else is
// provably empty and almost certainly a mistake, so it is rejected.
func (a *analyzer) semOfType(e ast.Expr, operand ir.Node, name string) (ir.Node, error) {
	switch t := operand.Type().(type) {
	case *fhirpath.Union:
		member, canonical, ok := t.Member(name)
		if !ok {
			return nil, a.errorf(e, "%s is not one of the types of %s", name, t)
		}
		typ := member.WithCardinality(t.Cardinality())
		return &ir.OfType{AST: e, Operand: operand, TypeName: canonical, Typ: typ}, nil
	case fhirpath.Empty:
		return operand, nil
	default:
		if typeMatches(t, name) {
			return operand, nil
		}
		return nil, a.errorf(e, "%s can never be a %s", t, name)
	}
}

func (a *analyzer) semIs(e ast.Expr, operand ir.Node, name string) (ir.Node, error) {
	if u, ok := operand.Type().(*fhirpath.Union); ok {
		_, canonical, ok := u.Member(name)
		if !ok {
			return nil, a.errorf(e, "%s is not one of the types of %s", name, u)
		}
		name = canonical
	}
	boolean := fhirpath.NewPrimitive(fhirpath.KindBoolean)
	return &ir.Is{AST: e, Operand: operand, TypeName: name, Typ: boolean}, nil
}

// unionType combines the sides of a | expression.  Matching or promotable
// element types keep a single type; anything else degrades to a union.
func unionType(l, r fhirpath.Type) fhirpath.Type {
	if _, ok := l.(fhirpath.Empty); ok {
		return r.WithCardinality(fhirpath.Repeated)
	}
	if _, ok := r.(fhirpath.Empty); ok {
		return l.WithCardinality(fhirpath.Repeated)
	}
	if t, ok := fhirpath.Promote(l, r); ok {
		return t.WithCardinality(fhirpath.Repeated)
	}
	u := fhirpath.NewUnion([]string{l.String(), r.String()}, []fhirpath.Type{l, r})
	return u.WithCardinality(fhirpath.Repeated)
}

func trimNamespace(name string) string {
	s := strings.TrimPrefix(name, "FHIR.")
	return strings.TrimPrefix(s, "System.")
}

// typeMatches reports whether a monomorphic type answers to name, either as
// a FHIR type code or as the language's own name for it.
func typeMatches(t fhirpath.Type, name string) bool {
	switch t := t.(type) {
	case fhirpath.Primitive:
		if prim, ok := fhirpath.PrimitiveForCode(name); ok {
			return prim.Kind() == t.Kind()
		}
		return strings.EqualFold(name, t.String())
	case *fhirpath.Struct:
		return t.Path == "" && (t.Def.Name == name || t.Def.Type == name)
	}
	return false
}

func numericType(t fhirpath.Type) bool {
	if _, ok := t.(fhirpath.Empty); ok {
		return true
	}
	p, ok := t.(fhirpath.Primitive)
	if !ok {
		return fhirpath.IsQuantity(t)
	}
	switch p.Kind() {
	case fhirpath.KindInteger, fhirpath.KindDecimal, fhirpath.KindQuantity:
		return true
	}
	return false
}

// orderable reports whether promoted comparison operands admit an ordering.
func orderable(t fhirpath.Type) bool {
	if _, ok := t.(fhirpath.Empty); ok {
		return true
	}
	p, ok := t.(fhirpath.Primitive)
	if !ok {
		return fhirpath.IsQuantity(t)
	}
	return p.Kind() != fhirpath.KindBoolean
}

func integerType(t fhirpath.Type) bool {
	if _, ok := t.(fhirpath.Empty); ok {
		return true
	}
	p, ok := t.(fhirpath.Primitive)
	return ok && p.Kind() == fhirpath.KindInteger
}

func stringKind(t fhirpath.Type) bool {
	p, ok := t.(fhirpath.Primitive)
	return ok && p.Kind() == fhirpath.KindString
}

func stringy(t fhirpath.Type) bool {
	if _, ok := t.(fhirpath.Empty); ok {
		return true
	}
	return stringKind(t)
}

// suggest returns the closest candidate within an edit distance of two.
func suggest(name string, candidates []string) string {
	best, bestDist := "", 3
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(c))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
