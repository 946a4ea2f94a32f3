package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ir"
	"github.com/carequery/fhirpath/terminology"
)

// encoder lowers one expression tree for one dialect.
type encoder struct {
	dialect   Dialect
	opts      Options
	valuesets map[string]*terminology.ValueSet
	this      *thisScope
}

// thisScope is the column $this resolves to inside a criteria argument.
type thisScope struct {
	alias string
	typ   DataType
}

func (e *encoder) lower(n ir.Node) (Expr, error) {
	switch n := n.(type) {
	case *ir.Root:
		return nil, unsupportedf("the record root")
	case *ir.Reference:
		return e.reference(n)
	case *ir.Literal:
		return e.literal(n)
	case *ir.Property:
		return e.property(n)
	case *ir.Indexer:
		return e.indexer(n)
	case *ir.Polarity:
		return e.polarity(n)
	case *ir.Arithmetic:
		return e.arithmetic(n)
	case *ir.Equality:
		return e.equality(n)
	case *ir.Comparison:
		return e.comparison(n)
	case *ir.BooleanOp:
		return e.booleanOp(n)
	case *ir.Membership:
		return e.membership(n)
	case *ir.Union:
		return e.union(n)
	case *ir.Is:
		return nil, unsupportedf("the is operator")
	case *ir.OfType:
		return e.ofType(n)
	case *ir.Function:
		return e.function(n)
	}
	return nil, unsupportedf("%T", n)
}

func (e *encoder) reference(n *ir.Reference) (Expr, error) {
	if e.this == nil {
		return nil, unsupportedf("$this outside a criteria argument")
	}
	return &Select{Sel: &Ident{Path: []string{e.this.alias}, Typ: e.this.typ}}, nil
}

func (e *encoder) literal(n *ir.Literal) (Expr, error) {
	if ir.IsEmptyLiteral(n) {
		return &Raw{Expr: "NULL", Typ: TypeUndefined, As: "literal_"}, nil
	}
	p, ok := n.Typ.(fhirpath.Primitive)
	if !ok {
		return nil, unsupportedf("a %s literal", n.Typ)
	}
	v := n.Value
	switch p.Kind() {
	case fhirpath.KindBoolean:
		b, _ := v.AsBool()
		return &Raw{Expr: strings.ToUpper(strconv.FormatBool(b)), Typ: TypeBoolean, As: "literal_"}, nil
	case fhirpath.KindInteger:
		i, _ := v.AsInt()
		return &Raw{Expr: strconv.FormatInt(i, 10), Typ: TypeInt64, As: "literal_"}, nil
	case fhirpath.KindDecimal:
		d, _ := v.AsDecimal()
		return &Raw{Expr: d.String(), Typ: TypeNumeric, As: "literal_"}, nil
	case fhirpath.KindString:
		s, _ := v.AsString()
		return &Raw{Expr: sqlQuote(s), Typ: TypeString, As: "literal_"}, nil
	case fhirpath.KindDate, fhirpath.KindDateTime, fhirpath.KindTime:
		t, _ := v.AsTemporal()
		return &Raw{Expr: sqlQuote(strings.TrimPrefix(t.String(), "T")), Typ: TypeString, As: "literal_"}, nil
	case fhirpath.KindQuantity:
		q, _ := v.AsQuantity()
		return &Raw{Expr: sqlQuote(q.String()), Typ: TypeString, As: "literal_"}, nil
	}
	return nil, unsupportedf("a %s literal", n.Typ)
}

func (e *encoder) property(n *ir.Property) (Expr, error) {
	if n.Choice {
		return nil, unsupportedf("reading %s without narrowing it to one type", n.Name)
	}
	return e.member(n.Operand, n.Name, n.Typ, "")
}

// ofType reads the concrete column backing one arm of a choice element.
func (e *encoder) ofType(n *ir.OfType) (Expr, error) {
	prop, ok := n.Operand.(*ir.Property)
	if !ok || !prop.Choice {
		return nil, unsupportedf("narrowing a value whose storage is already concrete")
	}
	column := prop.Name + fieldSuffix(n.TypeName)
	return e.member(prop.Operand, column, n.Typ, "ofType_")
}

// member lowers access to one element column.  alias overrides the
// selected name when non-empty.
func (e *encoder) member(operand ir.Node, name string, typ fhirpath.Type, alias string) (Expr, error) {
	switch operand.(type) {
	case nil, *ir.Root:
		return e.baseColumn(name, typ, alias)
	case *ir.Reference:
		// Criteria run over the unnested element, so columns reached
		// through $this stay unqualified.
		return e.baseColumn(name, typ, alias)
	}
	lhs, err := e.lower(operand)
	if err != nil {
		return nil, err
	}
	sel := toSelect(lhs)
	id, ok := sel.Sel.(*Ident)
	if !ok {
		return nil, unsupportedf("reading %s of a computed value", name)
	}
	if typ.Cardinality() == fhirpath.Repeated {
		elem := name + "_element_"
		return &Select{
			Sel:  &Ident{Path: []string{elem}, Typ: columnType(typ)},
			From: e.dialect.UnnestFrom(ToSubquery(sel).String(), sel.Alias()+"."+name, elem),
		}, nil
	}
	if alias == "" {
		alias = escapeIdent(name)
	}
	out := *sel
	out.Sel = id.Dot(name, columnType(typ), alias)
	return &out, nil
}

// baseColumn lowers access to a column of the row the query runs over.
func (e *encoder) baseColumn(name string, typ fhirpath.Type, alias string) (Expr, error) {
	escaped := escapeIdent(name)
	if typ.Cardinality() == fhirpath.Repeated {
		elem := name + "_element_"
		return &Select{
			Sel:  &Ident{Path: []string{elem}, Typ: columnType(typ)},
			From: e.dialect.UnnestFrom("", escaped, elem),
		}, nil
	}
	return &Select{Sel: &Ident{Path: []string{escaped}, Typ: columnType(typ), As: alias}}, nil
}

func (e *encoder) indexer(n *ir.Indexer) (Expr, error) {
	operand, err := e.lower(n.Operand)
	if err != nil {
		return nil, err
	}
	index, err := e.lower(n.Index)
	if err != nil {
		return nil, err
	}
	return e.dialect.Indexer(toSelect(operand), index.Operand()), nil
}

func (e *encoder) polarity(n *ir.Polarity) (Expr, error) {
	operand, err := e.lower(n.Operand)
	if err != nil {
		return nil, err
	}
	alias := "pol_"
	if _, ok := n.Operand.(*ir.Literal); ok {
		alias = "literal_"
	}
	return &Select{Sel: &Raw{Expr: n.Op + operand.Operand(), Typ: operand.Type(), As: alias}}, nil
}

func (e *encoder) arithmetic(n *ir.Arithmetic) (Expr, error) {
	lhs, err := e.lower(n.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.lower(n.RHS)
	if err != nil {
		return nil, err
	}
	typ, ok := coerce(lhs.Type(), rhs.Type())
	if !ok {
		return nil, unsupportedf("arithmetic between %s and %s values", lhs.Type(), rhs.Type())
	}
	l, r := lhs.Operand(), rhs.Operand()
	var expr string
	switch {
	case typ == TypeString:
		expr = fmt.Sprintf("CONCAT(%s, %s)", l, r)
	case n.Op == "mod":
		expr = fmt.Sprintf("MOD(%s, %s)", l, r)
	case n.Op == "div":
		expr = fmt.Sprintf("DIV(%s, %s)", l, r)
	default:
		expr = fmt.Sprintf("(%s %s %s)", l, n.Op, r)
	}
	return &Select{Sel: &Raw{Expr: expr, Typ: typ, As: "arith_"}}, nil
}

func (e *encoder) equality(n *ir.Equality) (Expr, error) {
	lhs, err := e.lower(n.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.lower(n.RHS)
	if err != nil {
		return nil, err
	}
	op := "="
	if n.Op == "!=" || n.Op == "!~" {
		op = "!="
	}
	if !fhirpath.IsCollection(n.LHS.Type()) && !fhirpath.IsCollection(n.RHS.Type()) {
		expr := e.dialect.Relation(lhs.Operand(), op, rhs.Operand())
		return &Select{Sel: &Raw{Expr: expr, Typ: TypeBoolean, As: "eq_"}}, nil
	}
	check, err := e.dialect.EqualsCollections(toSelect(lhs), toSelect(rhs), op == "!=")
	if err != nil {
		return nil, err
	}
	return &Select{Sel: check}, nil
}

func (e *encoder) comparison(n *ir.Comparison) (Expr, error) {
	lhs, err := e.lower(n.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.lower(n.RHS)
	if err != nil {
		return nil, err
	}
	if lhs.Type() == TypeStruct || rhs.Type() == TypeStruct {
		return nil, unsupportedf("ordering structured values")
	}
	if _, ok := coerce(lhs.Type(), rhs.Type()); !ok {
		return nil, unsupportedf("comparing %s and %s values", lhs.Type(), rhs.Type())
	}
	l, r := lhs.Operand(), rhs.Operand()
	if temporal(n.LHS.Type()) || temporal(n.RHS.Type()) {
		l, r = e.dialect.TemporalCast(l), e.dialect.TemporalCast(r)
	}
	expr := e.dialect.Relation(l, n.Op, r)
	return &Select{Sel: &Raw{Expr: expr, Typ: TypeBoolean, As: "comparison_"}}, nil
}

// temporal reports whether t is a date or datetime element, whose string
// encoding orders correctly only after a cast.
func temporal(t fhirpath.Type) bool {
	p, ok := t.(fhirpath.Primitive)
	return ok && (p.Kind() == fhirpath.KindDate || p.Kind() == fhirpath.KindDateTime)
}

func (e *encoder) booleanOp(n *ir.BooleanOp) (Expr, error) {
	lhs, err := e.lower(n.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.lower(n.RHS)
	if err != nil {
		return nil, err
	}
	l, r := boolOperand(lhs), boolOperand(rhs)
	var expr string
	switch n.Op {
	case "implies":
		expr = e.dialect.Relation("NOT "+l, "OR", r)
	case "xor":
		expr = e.dialect.Relation(l, "<>", r)
	default:
		expr = e.dialect.Relation(l, strings.ToUpper(n.Op), r)
	}
	return &Select{Sel: &Raw{Expr: expr, Typ: TypeBoolean, As: "logic_"}}, nil
}

// boolOperand renders x for a logical operator, rewriting non-boolean
// operands into existence tests.
func boolOperand(x Expr) string {
	if x.Type() == TypeBoolean {
		return x.Operand()
	}
	if sel, ok := x.(*Select); ok {
		if sel.From != "" || sel.Where != "" {
			return fmt.Sprintf("(SELECT %s IS NOT NULL FROM %s)", sel.Alias(), ToSubquery(sel))
		}
		return fmt.Sprintf("(SELECT %s IS NOT NULL)", sel.Alias())
	}
	return "(" + x.Operand() + " IS NOT NULL)"
}

func (e *encoder) membership(n *ir.Membership) (Expr, error) {
	element, collection := n.LHS, n.RHS
	if n.Op == "contains" {
		element, collection = collection, element
	}
	el, err := e.lower(element)
	if err != nil {
		return nil, err
	}
	coll, err := e.lower(collection)
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf("(%s)\nIN (%s)", el.Operand(), coll.Operand())
	return &Select{Sel: &Raw{Expr: expr, Typ: TypeBoolean, As: "mem_"}}, nil
}

func (e *encoder) union(n *ir.Union) (Expr, error) {
	lhs, err := e.lower(n.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.lower(n.RHS)
	if err != nil {
		return nil, err
	}
	if lhs.Type() == TypeStruct || rhs.Type() == TypeStruct {
		return nil, unsupportedf("a union of structured values")
	}
	typ, ok := coerce(lhs.Type(), rhs.Type())
	if !ok {
		return nil, unsupportedf("a union of %s and %s values", lhs.Type(), rhs.Type())
	}
	ls, rs := toSelect(lhs), toSelect(rhs)
	l := &Select{
		Sel:  &Ident{Path: []string{"lhs_", ls.Alias()}, Typ: ls.Type(), As: "union_"},
		From: ToSubquery(ls).String() + " AS lhs_",
	}
	r := &Select{
		Sel:  &Ident{Path: []string{"rhs_", rs.Alias()}, Typ: rs.Type(), As: "union_"},
		From: ToSubquery(rs).String() + " AS rhs_",
	}
	return &Union{LHS: l, RHS: r, Distinct: true, Typ: typ}, nil
}

// fieldSuffix renders the record field suffix a choice type contributes.
func fieldSuffix(typeName string) string {
	r, size := utf8.DecodeRuneInString(typeName)
	return string(unicode.ToUpper(r)) + typeName[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
