package sqlgen

import (
	"strings"

	"github.com/carequery/fhirpath"
)

// DataType is the SQL type a lowered expression yields.  The palette is
// deliberately small: temporal fields travel in their string encoding and
// compare through explicit casts, and complex elements are opaque structs.
type DataType int

const (
	TypeUndefined DataType = iota
	TypeBoolean
	TypeInt64
	TypeNumeric
	TypeString
	TypeStruct
	TypeArray
)

func (t DataType) String() string {
	switch t {
	case TypeBoolean:
		return "BOOL"
	case TypeInt64:
		return "INT64"
	case TypeNumeric:
		return "NUMERIC"
	case TypeString:
		return "STRING"
	case TypeStruct:
		return "STRUCT"
	case TypeArray:
		return "ARRAY"
	}
	return "UNDEFINED"
}

// coerce unifies the types of two operands.  Undefined yields to the other
// side and integers widen to NUMERIC; structs and arrays never coerce.
func coerce(a, b DataType) (DataType, bool) {
	switch {
	case a == b:
		return a, true
	case a == TypeUndefined:
		return b, true
	case b == TypeUndefined:
		return a, true
	case a == TypeStruct || b == TypeStruct || a == TypeArray || b == TypeArray:
		return TypeUndefined, false
	case a == TypeInt64 && b == TypeNumeric, a == TypeNumeric && b == TypeInt64:
		return TypeNumeric, true
	}
	return TypeUndefined, false
}

// columnType maps an element type onto the SQL palette.
func columnType(t fhirpath.Type) DataType {
	switch t := t.(type) {
	case fhirpath.Primitive:
		switch t.Kind() {
		case fhirpath.KindBoolean:
			return TypeBoolean
		case fhirpath.KindInteger:
			return TypeInt64
		case fhirpath.KindDecimal:
			return TypeNumeric
		case fhirpath.KindQuantity:
			return TypeStruct
		default:
			return TypeString
		}
	case fhirpath.Empty:
		return TypeUndefined
	}
	return TypeStruct
}

// sqlKeywords holds the GoogleSQL reserved words.  Spark SQL's reserved
// set under ANSI mode is a subset, so one list serves both dialects.
var sqlKeywords = make(map[string]struct{})

func init() {
	const words = `ALL AND ANY ARRAY AS ASC ASSERT_ROWS_MODIFIED AT BETWEEN
		BY CASE CAST COLLATE CONTAINS CREATE CROSS CUBE CURRENT DEFAULT
		DEFINE DESC DISTINCT ELSE END ENUM ESCAPE EXCEPT EXCLUDE EXISTS
		EXTRACT FALSE FETCH FOLLOWING FOR FROM FULL GROUP GROUPING GROUPS
		HASH HAVING IF IGNORE IN INNER INTERSECT INTERVAL INTO IS JOIN
		LATERAL LEFT LIKE LIMIT LOOKUP MERGE NATURAL NEW NO NOT NULL NULLS
		OF ON OR ORDER OUTER OVER PARTITION PRECEDING PROTO RANGE RECURSIVE
		RESPECT RIGHT ROLLUP ROWS SELECT SET SOME STRUCT TABLESAMPLE THEN
		TO TREAT TRUE UNBOUNDED UNION UNNEST USING WHEN WHERE WINDOW WITH
		WITHIN`
	for _, w := range strings.Fields(words) {
		sqlKeywords[w] = struct{}{}
	}
}

// escapeIdent backtick-quotes name when it collides with a reserved word.
func escapeIdent(name string) string {
	if _, ok := sqlKeywords[strings.ToUpper(name)]; ok {
		return "`" + name + "`"
	}
	return name
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// sqlQuote renders s as a single-quoted SQL string literal.
func sqlQuote(s string) string {
	return "'" + quoteEscaper.Replace(s) + "'"
}
