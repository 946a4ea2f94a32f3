package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ir"
	"github.com/carequery/fhirpath/terminology"
)

func (e *encoder) function(n *ir.Function) (Expr, error) {
	if _, ok := n.Operand.(*ir.Root); ok {
		return nil, unsupportedf("%s() applied to the record root", n.Name)
	}
	operand, err := e.lower(n.Operand)
	if err != nil {
		return nil, err
	}
	sel := toSelect(operand)
	switch n.Name {
	case "all":
		return e.allFunc(n, sel)
	case "anyTrue":
		return e.anyTrue(sel)
	case "count":
		return e.count(sel)
	case "empty":
		return e.empty(n, sel)
	case "exists":
		return e.exists(n, sel)
	case "first":
		return e.first(sel)
	case "hasValue":
		return e.hasValue(sel)
	case "idFor":
		return e.idFor(n, sel)
	case "matches":
		return e.matches(n, sel)
	case "memberOf":
		return e.memberOf(n, sel)
	case "not":
		return e.notFunc(sel)
	case "toInteger":
		return e.toInteger(n, sel)
	case "where":
		return e.whereFunc(n, sel)
	}
	return nil, unsupportedf("the %s function", n.Name)
}

// criteria lowers a predicate argument with $this bound to the operand's
// element column.
func (e *encoder) criteria(arg ir.Node, operand *Select) (Expr, error) {
	saved := e.this
	e.this = &thisScope{alias: operand.Alias(), typ: operand.Type()}
	defer func() { e.this = saved }()
	return e.lower(arg)
}

func (e *encoder) whereFunc(n *ir.Function, operand *Select) (Expr, error) {
	return e.applyWhere(operand, n.Args[0])
}

// applyWhere narrows operand's rows to those satisfying arg.
func (e *encoder) applyWhere(operand *Select, arg ir.Node) (*Select, error) {
	crit, err := e.criteria(arg, operand)
	if err != nil {
		return nil, err
	}
	out := *operand
	cond := crit.Operand()
	if out.Where != "" {
		out.Where += " AND " + cond
	} else {
		out.Where = cond
	}
	if out.From == "" {
		if out.Type() == TypeStruct {
			out.From = fmt.Sprintf("(SELECT %s.*)", out.Sel)
		} else {
			out.From = fmt.Sprintf("(SELECT %s)", out.Sel)
		}
	}
	return &out, nil
}

func (e *encoder) allFunc(n *ir.Function, operand *Select) (Expr, error) {
	crit, err := e.criteria(n.Args[0], operand)
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf("IFNULL(\n%s(\nIFNULL(\n(SELECT %s AS all_), FALSE)), TRUE)",
		e.dialect.AllAggregate(), crit.Operand())
	out := &Select{Sel: &Raw{Expr: expr, Typ: TypeBoolean, As: "all_"}}
	if fhirpath.IsCollection(n.Operand.Type()) {
		out.From, out.Where = operand.From, operand.Where
	} else {
		out.From = ToSubquery(operand).String()
	}
	return out, nil
}

func (e *encoder) anyTrue(operand *Select) (Expr, error) {
	return &Select{
		Sel: &Call{
			Name: e.dialect.AnyAggregate(),
			Args: []Expr{&Raw{Expr: operand.Alias(), Typ: operand.Type()}},
			Typ:  TypeBoolean,
			As:   "_anyTrue",
		},
		From: ToSubquery(operand).String(),
	}, nil
}

func (e *encoder) count(operand *Select) (Expr, error) {
	if operand.From == "" {
		return &Select{
			Sel: &Call{
				Name: "COUNT",
				Args: []Expr{&Raw{Expr: operand.Alias(), Typ: operand.Type()}},
				Typ:  TypeInt64,
				As:   "count_",
			},
			From:  ToSubquery(operand).String(),
			Where: operand.Where,
		}, nil
	}
	out := *operand
	out.Sel = &Call{Name: "COUNT", Args: []Expr{operand.Sel}, Typ: TypeInt64, As: "count_"}
	return &out, nil
}

func (e *encoder) empty(n *ir.Function, operand *Select) (Expr, error) {
	if !fhirpath.IsCollection(n.Operand.Type()) {
		out := *operand
		out.Sel = &IsNull{Of: operand.Sel}
		return &out, nil
	}
	return e.dialect.EmptyOf(operand), nil
}

func (e *encoder) exists(n *ir.Function, operand *Select) (Expr, error) {
	var err error
	if len(n.Args) == 1 {
		operand, err = e.applyWhere(operand, n.Args[0])
		if err != nil {
			return nil, err
		}
	}
	if !fhirpath.IsCollection(n.Operand.Type()) && operand.Where == "" {
		out := *operand
		out.Sel = &IsNotNull{Of: operand.Sel, As: "exists_"}
		return &out, nil
	}
	return e.dialect.ExistsOf(operand), nil
}

func (e *encoder) first(operand *Select) (Expr, error) {
	out := *operand
	out.Limit = 1
	return &out, nil
}

func (e *encoder) hasValue(operand *Select) (Expr, error) {
	out := *operand
	out.Sel = &IsNotNull{Of: operand.Sel}
	return &out, nil
}

func (e *encoder) idFor(n *ir.Function, operand *Select) (Expr, error) {
	id, ok := operand.Sel.(*Ident)
	if !ok {
		return nil, unsupportedf("idFor of a computed value")
	}
	target, ok := literalString(n.Args[0])
	if !ok || target == "" {
		return nil, unsupportedf("idFor with a dynamic resource name")
	}
	out := *operand
	out.Sel = id.Dot(lowerFirst(target)+"Id", TypeString, "idFor_")
	return &out, nil
}

func (e *encoder) matches(n *ir.Function, operand *Select) (Expr, error) {
	pattern, err := e.lower(n.Args[0])
	if err != nil {
		return nil, err
	}
	out := *operand
	out.Sel = &Call{
		Name: e.dialect.RegexFunc(),
		Args: []Expr{operand.Sel, pattern},
		Typ:  TypeBoolean,
		As:   "matches_",
	}
	return &out, nil
}

func (e *encoder) notFunc(operand *Select) (Expr, error) {
	out := *operand
	out.Sel = &Call{Name: "NOT", Args: []Expr{operand.Sel}, Typ: TypeBoolean, As: "not_"}
	return &out, nil
}

func (e *encoder) toInteger(n *ir.Function, operand *Select) (Expr, error) {
	out := *operand
	if fhirpath.IsCollection(n.Operand.Type()) {
		out.Limit = 1
	}
	out.Sel = &Raw{
		Expr: e.dialect.IntegerCast(operand.Sel.Operand()),
		Typ:  TypeInt64,
		As:   "to_integer_",
	}
	return &out, nil
}

func (e *encoder) memberOf(n *ir.Function, operand *Select) (Expr, error) {
	url, ok := literalString(n.Args[0])
	if !ok {
		return nil, unsupportedf("memberOf with a dynamic value set")
	}
	category, ok := operandCategory(n.Operand.Type())
	if !ok {
		return nil, unsupportedf("memberOf applied to a %s element", n.Operand.Type())
	}
	if vs := e.valuesets[url]; vs != nil {
		return e.inlineMemberOf(operand, category, vs)
	}
	base, version := terminology.ParseURLVersion(url)
	return e.dialect.ValueSetCheck(&ValueSetQuery{
		Operand:    operand,
		Collection: fhirpath.IsCollection(n.Operand.Type()),
		Category:   category,
		URL:        base,
		Version:    version,
		Table:      e.opts.CodesTable,
	})
}

// operandCategory classifies the element type a membership test runs over.
func operandCategory(t fhirpath.Type) (OperandCategory, bool) {
	if p, ok := t.(fhirpath.Primitive); ok && p.Kind() == fhirpath.KindString {
		return CodeOperand, true
	}
	if fhirpath.IsCoding(t) {
		return CodingOperand, true
	}
	if fhirpath.IsCodeableConcept(t) {
		return ConceptOperand, true
	}
	return 0, false
}

// inlineMemberOf renders a membership test against codes known at encode
// time.  A NULL operand stays NULL rather than becoming false.
func (e *encoder) inlineMemberOf(operand *Select, category OperandCategory, vs *terminology.ValueSet) (Expr, error) {
	out := *operand
	switch category {
	case CodeOperand:
		column := operand.Sel.String()
		var codes []string
		for cv := range vs.Codes() {
			codes = append(codes, sqlQuote(cv.Code))
		}
		sort.Strings(codes)
		test := "FALSE"
		if len(codes) > 0 {
			test = fmt.Sprintf("%s IN (%s)", column, strings.Join(codes, ", "))
		}
		out.Sel = &Raw{
			Expr: fmt.Sprintf("(%s IS NULL OR %s)", column, test),
			Typ:  TypeBoolean,
			As:   "memberof_",
		}
	case CodingOperand:
		column := operand.Sel.String()
		out.Sel = &Raw{
			Expr: fmt.Sprintf("(%s IS NULL OR %s)", column, codingPredicate(vs, column)),
			Typ:  TypeBoolean,
			As:   "memberof_",
		}
	case ConceptOperand:
		coding := operand.Sel.String() + ".coding"
		test := e.dialect.ArrayExists(coding, func(element string) string {
			return codingPredicate(vs, element)
		})
		out.Sel = &Raw{
			Expr: fmt.Sprintf("(%s IS NULL OR %s)", coding, test),
			Typ:  TypeBoolean,
			As:   "memberof_",
		}
	}
	return &out, nil
}

// codingPredicate renders the per-system membership disjunction for one
// coding value.  Systems and codes are ordered so the SQL is stable.
func codingPredicate(vs *terminology.ValueSet, element string) string {
	field := func(name string) string {
		if element == "" {
			return name
		}
		return element + "." + name
	}
	bySystem := make(map[string][]string)
	for cv := range vs.Codes() {
		bySystem[cv.System] = append(bySystem[cv.System], cv.Code)
	}
	systems := make([]string, 0, len(bySystem))
	for s := range bySystem {
		systems = append(systems, s)
	}
	sort.Strings(systems)
	var pred string
	for _, system := range systems {
		codes := bySystem[system]
		sort.Strings(codes)
		quoted := make([]string, len(codes))
		for i, c := range codes {
			quoted[i] = sqlQuote(c)
		}
		clause := fmt.Sprintf("(%s = %s AND %s IN (%s))",
			field("system"), sqlQuote(system), field("code"), strings.Join(quoted, ", "))
		if pred == "" {
			pred = clause
		} else {
			pred = fmt.Sprintf("(%s OR %s)", pred, clause)
		}
	}
	if pred == "" {
		return "FALSE"
	}
	return pred
}

func literalString(n ir.Node) (string, bool) {
	lit, ok := n.(*ir.Literal)
	if !ok {
		return "", false
	}
	return lit.Value.AsString()
}
