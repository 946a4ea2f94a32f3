package sqlgen

import "fmt"

// Spark renders Spark SQL.
var Spark Dialect = spark{}

type spark struct{}

func (spark) Name() string { return "spark" }

func (spark) CollectionWrapper(alias, subquery string) string {
	return fmt.Sprintf("(SELECT COLLECT_LIST(%s)\nFROM %s\nWHERE %s IS NOT NULL)",
		alias, subquery, alias)
}

func (spark) UnnestFrom(parent, array, alias string) string {
	if parent == "" {
		return fmt.Sprintf("(SELECT POSEXPLODE(%s) AS (element_offset, %s))", array, alias)
	}
	return fmt.Sprintf("%s\nLATERAL VIEW POSEXPLODE(%s) AS element_offset, %s",
		parent, array, alias)
}

func (spark) Indexer(operand *Select, index string) *Select {
	alias := operand.Alias()
	return &Select{
		Sel: &Raw{
			Expr: fmt.Sprintf("element_at(COLLECT_LIST(%s),%s + 1)", alias, index),
			Typ:  operand.Type(),
			As:   "indexed_" + alias,
		},
		From: ToSubquery(operand).String(),
	}
}

func (spark) Relation(lhs, op, rhs string) string {
	return fmt.Sprintf("%s %s %s", lhs, op, rhs)
}

func (spark) TemporalCast(operand string) string {
	return fmt.Sprintf("CAST(%s AS TIMESTAMP)", operand)
}

func (spark) IntegerCast(operand string) string {
	return fmt.Sprintf("TRY_CAST(%s AS BIGINT)", operand)
}

func (spark) RegexFunc() string    { return "RLIKE" }
func (spark) AnyAggregate() string { return "BOOL_OR" }
func (spark) AllAggregate() string { return "BOOL_AND" }

func (spark) EmptyOf(operand *Select) *Select {
	return &Select{
		Sel:   &Raw{Expr: "CASE WHEN COUNT(*) = 0 THEN TRUE ELSE FALSE END", Typ: TypeBoolean, As: "empty_"},
		From:  ToSubquery(operand).String(),
		Where: fmt.Sprintf("%s IS NOT NULL", operand.Alias()),
	}
}

func (spark) ExistsOf(operand *Select) *Select {
	return &Select{
		Sel:   &Raw{Expr: "CASE WHEN COUNT(*) > 0 THEN TRUE ELSE FALSE END", Typ: TypeBoolean, As: "exists_"},
		From:  ToSubquery(operand).String(),
		Where: fmt.Sprintf("%s IS NOT NULL", operand.Alias()),
	}
}

// EqualsCollections has no Spark rendering: numbering both sides needs a
// window over an explicit ordering, which the flattened rows do not carry.
func (spark) EqualsCollections(lhs, rhs *Select, invert bool) (Expr, error) {
	return nil, &UnsupportedError{Construct: "comparing collections", Dialect: "spark"}
}

func (spark) ArrayExists(array string, pred func(element string) string) string {
	return fmt.Sprintf("EXISTS(%s, x -> %s)", array, pred("x"))
}

func (spark) ValueSetCheck(q *ValueSetQuery) (*Select, error) {
	return nil, &UnsupportedError{Construct: "memberOf against a codes table", Dialect: "spark"}
}
