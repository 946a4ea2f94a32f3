package sqlgen

import "fmt"

// BigQuery renders GoogleSQL.
var BigQuery Dialect = bigQuery{}

type bigQuery struct{}

func (bigQuery) Name() string { return "bigquery" }

func (bigQuery) CollectionWrapper(alias, subquery string) string {
	return fmt.Sprintf("ARRAY(SELECT %s\nFROM %s\nWHERE %s IS NOT NULL)", alias, subquery, alias)
}

func (bigQuery) UnnestFrom(parent, array, alias string) string {
	unnest := fmt.Sprintf("UNNEST(%s) AS %s WITH OFFSET AS element_offset", array, alias)
	if parent == "" {
		return unnest
	}
	return parent + ",\n" + unnest
}

func (bigQuery) Indexer(operand *Select, index string) *Select {
	alias := operand.Alias()
	inner := fmt.Sprintf("SELECT ROW_NUMBER() OVER() AS row_,\n%s\nFROM %s",
		alias, ToSubquery(operand))
	return &Select{
		Sel:   &Ident{Path: []string{alias}, Typ: operand.Type(), As: "indexed_" + alias},
		From:  fmt.Sprintf("(%s) AS inner_tbl", inner),
		Where: fmt.Sprintf("(inner_tbl.row_ - 1) = %s", index),
	}
}

func (bigQuery) Relation(lhs, op, rhs string) string {
	return fmt.Sprintf("(%s %s %s)", lhs, op, rhs)
}

func (bigQuery) TemporalCast(operand string) string {
	return fmt.Sprintf("SAFE_CAST(%s AS TIMESTAMP)", operand)
}

func (bigQuery) IntegerCast(operand string) string {
	return fmt.Sprintf("SAFE_CAST(%s AS INT64)", operand)
}

func (bigQuery) RegexFunc() string    { return "REGEXP_CONTAINS" }
func (bigQuery) AnyAggregate() string { return "LOGICAL_OR" }
func (bigQuery) AllAggregate() string { return "LOGICAL_AND" }

func (bigQuery) EmptyOf(operand *Select) *Select {
	alias := operand.Alias()
	inner := fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s IS NOT NULL",
		alias, ToSubquery(operand), alias)
	return &Select{Sel: &Call{
		Name: "NOT EXISTS",
		Args: []Expr{&Raw{Expr: inner, Typ: operand.Type()}},
		Typ:  TypeBoolean,
		As:   "empty_",
	}}
}

func (bigQuery) ExistsOf(operand *Select) *Select {
	alias := operand.Alias()
	inner := fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s IS NOT NULL",
		alias, ToSubquery(operand), alias)
	return &Select{Sel: &Call{
		Name: "EXISTS",
		Args: []Expr{&Raw{Expr: inner, Typ: operand.Type()}},
		Typ:  TypeBoolean,
		As:   "exists_",
	}}
}

// EqualsCollections compares two collections as unordered sets by
// numbering each side and checking the set difference both ways at once.
func (bigQuery) EqualsCollections(lhs, rhs *Select, invert bool) (Expr, error) {
	name := "NOT EXISTS"
	if invert {
		name = "EXISTS"
	}
	expr := fmt.Sprintf(
		"SELECT lhs_.*\nFROM (SELECT ROW_NUMBER() OVER() AS row_, %s\nFROM %s) AS lhs_\nEXCEPT DISTINCT\nSELECT rhs_.*\nFROM (SELECT ROW_NUMBER() OVER() AS row_, %s\nFROM %s) AS rhs_",
		lhs.Alias(), ToSubquery(lhs), rhs.Alias(), ToSubquery(rhs))
	return &Call{
		Name: name,
		Args: []Expr{&Raw{Expr: expr, Typ: TypeInt64}},
		Typ:  TypeBoolean,
		As:   "eq_",
	}, nil
}

func (bigQuery) ArrayExists(array string, pred func(element string) string) string {
	return fmt.Sprintf("EXISTS(\nSELECT 1\nFROM UNNEST(%s)\nWHERE %s)", array, pred(""))
}

// ValueSetCheck joins the operand against a codes table.  Scalars test
// through a single-element array so a NULL operand yields no rows rather
// than false; collections left-join per element to keep offsets aligned.
func (bigQuery) ValueSetCheck(q *ValueSetQuery) (*Select, error) {
	table := "`" + q.Table + "`"
	uri := sqlQuote(q.URL)
	version := ""
	if q.Version != "" {
		version = fmt.Sprintf("AND vs.valuesetversion=%s\n", sqlQuote(q.Version))
	}
	sel := q.Operand.Sel.String()

	if !q.Collection {
		var from string
		switch q.Category {
		case CodeOperand:
			from = fmt.Sprintf(
				"UNNEST((SELECT IF(%s IS NULL, [], [\nEXISTS(\nSELECT 1\nFROM %s vs\nWHERE\nvs.valueseturi=%s\n%sAND vs.code=%s\n)]))) AS memberof_",
				sel, table, uri, version, sel)
		case CodingOperand:
			from = fmt.Sprintf(
				"UNNEST((SELECT IF(%s IS NULL, [], [\nEXISTS(\nSELECT 1\nFROM %s vs\nWHERE\nvs.valueseturi=%s\n%sAND vs.system=%s.system\nAND vs.code=%s.code\n)]))) AS memberof_",
				sel, table, uri, version, sel, sel)
		case ConceptOperand:
			from = fmt.Sprintf(
				"UNNEST((SELECT IF(%s.coding IS NULL, [], [\nEXISTS(\nSELECT 1\nFROM UNNEST(%s.coding) AS codings\nINNER JOIN %s vs ON\nvs.valueseturi=%s\n%sAND vs.system=codings.system\nAND vs.code=codings.code\n)]))) AS memberof_",
				sel, sel, table, uri, version)
		}
		return &Select{
			Sel:   &Ident{Path: []string{"memberof_"}, Typ: TypeBoolean},
			From:  from,
			Where: q.Operand.Where,
		}, nil
	}

	var inner string
	switch q.Category {
	case CodeOperand:
		inner = fmt.Sprintf(
			"SELECT element_offset\nFROM %s\nINNER JOIN %s vs ON\nvs.valueseturi=%s\n%sAND vs.code=%s",
			q.Operand.From, table, uri, version, sel)
	case CodingOperand:
		inner = fmt.Sprintf(
			"SELECT element_offset\nFROM %s\nINNER JOIN %s vs ON\nvs.valueseturi=%s\n%sAND vs.system=%s.system\nAND vs.code=%s.code",
			q.Operand.From, table, uri, version, sel, sel)
	case ConceptOperand:
		inner = fmt.Sprintf(
			"SELECT DISTINCT element_offset\nFROM %s,\nUNNEST(%s.coding) AS codings\nINNER JOIN %s vs ON\nvs.valueseturi=%s\n%sAND vs.system=codings.system\nAND vs.code=codings.code",
			q.Operand.From, sel, table, uri, version)
	}
	from := fmt.Sprintf(
		"(SELECT element_offset\nFROM %s) AS all_\nLEFT JOIN (SELECT element_offset\nFROM UNNEST(ARRAY(SELECT element_offset FROM (\n%s\n))) AS element_offset\n) AS matches\nON all_.element_offset=matches.element_offset\nORDER BY all_.element_offset",
		q.Operand.From, inner)
	return &Select{
		Sel:   &Raw{Expr: "matches.element_offset IS NOT NULL", Typ: TypeBoolean, As: "memberof_"},
		From:  from,
		Where: q.Operand.Where,
	}, nil
}
