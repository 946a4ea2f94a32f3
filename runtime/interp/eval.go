package interp

import (
	"context"
	"fmt"
	"strings"

	"github.com/carequery/fhirpath"
)

// field is one record field a property access reads.  Monomorphic
// properties have exactly one; choice properties have one per union member,
// named with the member's type suffix.
type field struct {
	name string
	typ  fhirpath.Type
}

type property struct {
	operand evaluator
	name    string
	fields  []field
}

func (p *property) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := p.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	var out fhirpath.Collection
	for _, v := range operand {
		obj, ok := v.AsElement()
		if !ok {
			continue
		}
		for _, f := range p.fields {
			raw, ok := obj[f.name]
			if !ok {
				continue
			}
			items, ok := raw.([]any)
			if !ok {
				items = []any{raw}
			}
			for _, item := range items {
				val, err := fhirpath.NewValue(f.typ, item)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", f.name, err)
				}
				out = append(out, val)
			}
		}
	}
	return out, nil
}

// fieldSuffix converts a schema type code to the suffix choice fields carry
// in records: value + dateTime becomes valueDateTime.
func fieldSuffix(typeName string) string {
	if typeName == "" {
		return ""
	}
	return strings.ToUpper(typeName[:1]) + typeName[1:]
}

type indexer struct {
	operand evaluator
	index   evaluator
}

func (ix *indexer) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := ix.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	index, err := ix.index.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	v, err := index.Singleton()
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	i, ok := v.AsInt()
	if !ok {
		return nil, fmt.Errorf("index must be an integer, not %s", v.Type())
	}
	if i < 0 || i >= int64(len(operand)) {
		return nil, nil
	}
	return fhirpath.Collection{operand[i]}, nil
}

type polarity struct {
	op      string
	operand evaluator
}

func (p *polarity) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := p.operand.eval(ctx, sc)
	if err != nil || operand.Empty() {
		return nil, err
	}
	v, err := operand.Singleton()
	if err != nil {
		return nil, err
	}
	if p.op == "+" {
		return fhirpath.Collection{v}, nil
	}
	if i, ok := v.AsInt(); ok {
		return fhirpath.Collection{fhirpath.Int(-i)}, nil
	}
	if q, ok := v.AsQuantity(); ok {
		neg := fhirpath.NewQuantity(q.Value.Neg(), q.Unit)
		return fhirpath.Collection{fhirpath.QuantityValue(neg)}, nil
	}
	if d, ok := v.AsDecimal(); ok {
		return fhirpath.Collection{fhirpath.Decimal(d.Neg())}, nil
	}
	return nil, fmt.Errorf("unary %q requires a numeric operand, not %s", p.op, v.Type())
}

type arithmetic struct {
	op       string
	lhs, rhs evaluator
}

func (a *arithmetic) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	lhs, err := a.lhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	rhs, err := a.rhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	// & substitutes '' for a missing side where every other operator
	// propagates emptiness.
	if a.op == "&" {
		l, err := stringify(lhs)
		if err != nil {
			return nil, err
		}
		r, err := stringify(rhs)
		if err != nil {
			return nil, err
		}
		return fhirpath.Collection{fhirpath.String(l + r)}, nil
	}
	if lhs.Empty() || rhs.Empty() {
		return nil, nil
	}
	l, err := lhs.Singleton()
	if err != nil {
		return nil, err
	}
	r, err := rhs.Singleton()
	if err != nil {
		return nil, err
	}
	if ls, ok := l.AsString(); ok {
		rs, ok := r.AsString()
		if !ok || a.op != "+" {
			return nil, fmt.Errorf("%s is not defined for %s and %s", a.op, l.Type(), r.Type())
		}
		return fhirpath.Collection{fhirpath.String(ls + rs)}, nil
	}
	if _, ok := l.AsQuantity(); ok {
		return a.quantity(l, r)
	}
	if _, ok := r.AsQuantity(); ok {
		return a.quantity(l, r)
	}
	li, lok := l.AsInt()
	ri, rok := r.AsInt()
	if lok && rok && a.op != "/" {
		return a.integer(li, ri)
	}
	ld, lok := l.AsDecimal()
	rd, rok := r.AsDecimal()
	if !lok || !rok {
		return nil, fmt.Errorf("%s is not defined for %s and %s", a.op, l.Type(), r.Type())
	}
	switch a.op {
	case "+":
		return fhirpath.Collection{fhirpath.Decimal(ld.Add(rd))}, nil
	case "-":
		return fhirpath.Collection{fhirpath.Decimal(ld.Sub(rd))}, nil
	case "*":
		return fhirpath.Collection{fhirpath.Decimal(ld.Mul(rd))}, nil
	case "/":
		if rd.IsZero() {
			return nil, nil
		}
		return fhirpath.Collection{fhirpath.Decimal(ld.Div(rd))}, nil
	case "div":
		if rd.IsZero() {
			return nil, nil
		}
		return fhirpath.Collection{fhirpath.Int(ld.Div(rd).IntPart())}, nil
	case "mod":
		if rd.IsZero() {
			return nil, nil
		}
		return fhirpath.Collection{fhirpath.Decimal(ld.Mod(rd))}, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", a.op)
}

func (a *arithmetic) integer(l, r int64) (fhirpath.Collection, error) {
	switch a.op {
	case "+":
		return fhirpath.Collection{fhirpath.Int(l + r)}, nil
	case "-":
		return fhirpath.Collection{fhirpath.Int(l - r)}, nil
	case "*":
		return fhirpath.Collection{fhirpath.Int(l * r)}, nil
	case "div":
		if r == 0 {
			return nil, nil
		}
		return fhirpath.Collection{fhirpath.Int(l / r)}, nil
	case "mod":
		if r == 0 {
			return nil, nil
		}
		return fhirpath.Collection{fhirpath.Int(l % r)}, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", a.op)
}

// quantity applies arithmetic where at least one side is a quantity.  A
// plain number is treated as dimensionless, so adding it to a united
// quantity fails the same unit check as mixing two units.
func (a *arithmetic) quantity(l, r fhirpath.Value) (fhirpath.Collection, error) {
	lq, err := toQuantity(l)
	if err != nil {
		return nil, err
	}
	rq, err := toQuantity(r)
	if err != nil {
		return nil, err
	}
	switch a.op {
	case "+":
		sum, err := lq.Add(rq)
		if err != nil {
			return nil, err
		}
		return fhirpath.Collection{fhirpath.QuantityValue(sum)}, nil
	case "-":
		diff, err := lq.Sub(rq)
		if err != nil {
			return nil, err
		}
		return fhirpath.Collection{fhirpath.QuantityValue(diff)}, nil
	case "*":
		if lq.Unit != "" && rq.Unit != "" {
			return nil, &fhirpath.UnitMismatchError{Left: lq.Unit, Right: rq.Unit}
		}
		q := fhirpath.NewQuantity(lq.Value.Mul(rq.Value), lq.Unit+rq.Unit)
		return fhirpath.Collection{fhirpath.QuantityValue(q)}, nil
	case "/":
		if rq.Value.IsZero() {
			return nil, nil
		}
		switch {
		case rq.Unit == "":
			q := fhirpath.NewQuantity(lq.Value.Div(rq.Value), lq.Unit)
			return fhirpath.Collection{fhirpath.QuantityValue(q)}, nil
		case rq.Unit == lq.Unit:
			q := fhirpath.NewQuantity(lq.Value.Div(rq.Value), "")
			return fhirpath.Collection{fhirpath.QuantityValue(q)}, nil
		}
		return nil, &fhirpath.UnitMismatchError{Left: lq.Unit, Right: rq.Unit}
	}
	return nil, fmt.Errorf("%s is not defined for quantities", a.op)
}

func toQuantity(v fhirpath.Value) (*fhirpath.Quantity, error) {
	if q, ok := v.AsQuantity(); ok {
		return q, nil
	}
	if d, ok := v.AsDecimal(); ok {
		return fhirpath.NewQuantity(d, ""), nil
	}
	return nil, fmt.Errorf("cannot use %s as a quantity", v.Type())
}

// stringify renders the operand of & as a string, substituting '' for the
// empty collection.
func stringify(c fhirpath.Collection) (string, error) {
	if c.Empty() {
		return "", nil
	}
	v, err := c.Singleton()
	if err != nil {
		return "", err
	}
	s, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("& requires string operands, not %s", v.Type())
	}
	return s, nil
}

type equality struct {
	op       string
	lhs, rhs evaluator
}

func (e *equality) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	lhs, err := e.lhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	rhs, err := e.rhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	equivalent := e.op == "~" || e.op == "!~"
	negated := e.op == "!=" || e.op == "!~"
	if lhs.Empty() || rhs.Empty() {
		// Equality with an empty side is empty; equivalence compares
		// emptiness itself.
		if !equivalent {
			return nil, nil
		}
		eq := lhs.Empty() && rhs.Empty()
		return fhirpath.Collection{fhirpath.Bool(eq != negated)}, nil
	}
	eq, err := collectionsEqual(lhs, rhs, equivalent)
	if err != nil {
		return nil, err
	}
	return fhirpath.Collection{fhirpath.Bool(eq != negated)}, nil
}

// collectionsEqual compares two non-empty collections pairwise in order.
func collectionsEqual(lhs, rhs fhirpath.Collection, equivalent bool) (bool, error) {
	if len(lhs) != len(rhs) {
		return false, nil
	}
	for i := range lhs {
		var eq bool
		var err error
		if equivalent {
			eq, err = lhs[i].Equivalent(rhs[i])
		} else {
			eq, err = lhs[i].Equal(rhs[i])
		}
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}

type comparison struct {
	op       string
	lhs, rhs evaluator
}

func (c *comparison) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	lhs, err := c.lhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	rhs, err := c.rhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	if lhs.Empty() || rhs.Empty() {
		return nil, nil
	}
	l, err := lhs.Singleton()
	if err != nil {
		return nil, err
	}
	r, err := rhs.Singleton()
	if err != nil {
		return nil, err
	}
	cmp, err := l.Compare(r)
	if err != nil {
		return nil, err
	}
	var b bool
	switch c.op {
	case "<":
		b = cmp < 0
	case "<=":
		b = cmp <= 0
	case ">":
		b = cmp > 0
	case ">=":
		b = cmp >= 0
	}
	return fhirpath.Collection{fhirpath.Bool(b)}, nil
}

type booleanOp struct {
	op       string
	lhs, rhs evaluator
}

func (b *booleanOp) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	lhs, err := b.lhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	rhs, err := b.rhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	l, lok, err := lhs.SingletonBool()
	if err != nil {
		return nil, err
	}
	r, rok, err := rhs.SingletonBool()
	if err != nil {
		return nil, err
	}
	switch b.op {
	case "and":
		// false dominates the unknown: {} and false is false.
		switch {
		case lok && !l, rok && !r:
			return fhirpath.Collection{fhirpath.Bool(false)}, nil
		case lok && rok:
			return fhirpath.Collection{fhirpath.Bool(true)}, nil
		}
		return nil, nil
	case "or":
		switch {
		case lok && l, rok && r:
			return fhirpath.Collection{fhirpath.Bool(true)}, nil
		case lok && rok:
			return fhirpath.Collection{fhirpath.Bool(false)}, nil
		}
		return nil, nil
	case "xor":
		if !lok || !rok {
			return nil, nil
		}
		return fhirpath.Collection{fhirpath.Bool(l != r)}, nil
	case "implies":
		switch {
		case !lok:
			// An unknown premise implies only a true conclusion.
			if rok && r {
				return fhirpath.Collection{fhirpath.Bool(true)}, nil
			}
			return nil, nil
		case !l:
			return fhirpath.Collection{fhirpath.Bool(true)}, nil
		case rok:
			return fhirpath.Collection{fhirpath.Bool(r)}, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown boolean operator %q", b.op)
}

// membership implements in; build swaps the operands for contains.
type membership struct {
	element    evaluator
	collection evaluator
}

func (m *membership) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	element, err := m.element.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	collection, err := m.collection.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	if element.Empty() {
		return nil, nil
	}
	e, err := element.Singleton()
	if err != nil {
		return nil, err
	}
	for _, v := range collection {
		eq, err := e.Equal(v)
		if err != nil {
			return nil, err
		}
		if eq {
			return fhirpath.Collection{fhirpath.Bool(true)}, nil
		}
	}
	return fhirpath.Collection{fhirpath.Bool(false)}, nil
}

type union struct {
	lhs, rhs evaluator
}

func (u *union) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	lhs, err := u.lhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	rhs, err := u.rhs.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(lhs)+len(rhs))
	out := make(fhirpath.Collection, 0, len(lhs)+len(rhs))
	for _, side := range [2]fhirpath.Collection{lhs, rhs} {
		for _, v := range side {
			// Key on type and rendering so 'true' the string never
			// collapses into true the boolean.
			key := v.Type().String() + "\x00" + v.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out, nil
}

type is struct {
	operand  evaluator
	typeName string
}

func (i *is) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := i.operand.eval(ctx, sc)
	if err != nil || operand.Empty() {
		return nil, err
	}
	v, err := operand.Singleton()
	if err != nil {
		return nil, err
	}
	return fhirpath.Collection{fhirpath.Bool(typeMatches(v.Type(), i.typeName))}, nil
}

type ofType struct {
	operand  evaluator
	typeName string
}

func (o *ofType) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := o.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	var out fhirpath.Collection
	for _, v := range operand {
		if typeMatches(v.Type(), o.typeName) {
			out = append(out, v)
		}
	}
	return out, nil
}

// typeMatches reports whether a value's type answers to a schema type code,
// mirroring the narrowing rules the analyzer applies to static types.
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
