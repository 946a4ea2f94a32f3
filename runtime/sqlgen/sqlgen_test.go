package sqlgen_test

import (
	"context"
	"errors"
	"testing"

	"github.com/carequery/fhirpath/compiler/parser"
	"github.com/carequery/fhirpath/compiler/semantic"
	"github.com/carequery/fhirpath/internal/testschema"
	"github.com/carequery/fhirpath/runtime/sqlgen"
	"github.com/carequery/fhirpath/terminology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, root, src string, dialect sqlgen.Dialect, opts *sqlgen.Options) (string, error) {
	t.Helper()
	expr, err := parser.Parse(src)
	require.NoError(t, err)
	node, err := semantic.Analyze(testschema.Env(), root, expr)
	require.NoError(t, err)
	return sqlgen.Encode(context.Background(), node, dialect, opts)
}

func bigquery(t *testing.T, root, src string) string {
	t.Helper()
	sql, err := encode(t, root, src, sqlgen.BigQuery, nil)
	require.NoError(t, err, "encoding %s", src)
	return sql
}

func spark(t *testing.T, root, src string) string {
	t.Helper()
	sql, err := encode(t, root, src, sqlgen.Spark, nil)
	require.NoError(t, err, "encoding %s", src)
	return sql
}

// mapResolver serves canned expansions so memberOf encodes inline.
type mapResolver map[string]*terminology.ValueSet

func (m mapResolver) Expand(_ context.Context, url string) (*terminology.ValueSet, error) {
	return m[url], nil
}

func expansions() mapResolver {
	return mapResolver{
		"http://example.org/vs/gender": {
			URL: "http://example.org/vs/gender",
			Expansion: &terminology.Expansion{Contains: []terminology.Coding{
				{System: "http://hl7.org/fhir/administrative-gender", Code: "female"},
				{System: "http://hl7.org/fhir/administrative-gender", Code: "male"},
			}},
		},
		"http://example.org/vs/marital": {
			URL: "http://example.org/vs/marital",
			Expansion: &terminology.Expansion{Contains: []terminology.Coding{
				{System: "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus", Code: "S"},
				{System: "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus", Code: "M"},
			}},
		},
	}
}

func TestBigQueryLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"true", `ARRAY(SELECT literal_
FROM (SELECT TRUE AS literal_)
WHERE literal_ IS NOT NULL)`},
		{"3", `ARRAY(SELECT literal_
FROM (SELECT 3 AS literal_)
WHERE literal_ IS NOT NULL)`},
		{"5.7", `ARRAY(SELECT literal_
FROM (SELECT 5.7 AS literal_)
WHERE literal_ IS NOT NULL)`},
		{"'male'", `ARRAY(SELECT literal_
FROM (SELECT 'male' AS literal_)
WHERE literal_ IS NOT NULL)`},
		{"@2000-01-01", `ARRAY(SELECT literal_
FROM (SELECT '2000-01-01' AS literal_)
WHERE literal_ IS NOT NULL)`},
		{"{}", `ARRAY(SELECT literal_
FROM (SELECT NULL AS literal_)
WHERE literal_ IS NOT NULL)`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, bigquery(t, "Patient", tt.src))
		})
	}
}

func TestBigQueryPaths(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"scalar", "gender", `ARRAY(SELECT gender
FROM (SELECT gender)
WHERE gender IS NOT NULL)`},
		{"member of scalar struct", "maritalStatus.text", `ARRAY(SELECT text
FROM (SELECT maritalStatus.text)
WHERE text IS NOT NULL)`},
		{"repeated", "name", `ARRAY(SELECT name_element_
FROM (SELECT name_element_
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset)
WHERE name_element_ IS NOT NULL)`},
		{"repeated under repeated", "name.given", `ARRAY(SELECT given_element_
FROM (SELECT given_element_
FROM (SELECT name_element_
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset),
UNNEST(name_element_.given) AS given_element_ WITH OFFSET AS element_offset)
WHERE given_element_ IS NOT NULL)`},
		{"scalar under repeated", "name.family", `ARRAY(SELECT family
FROM (SELECT name_element_.family
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset)
WHERE family IS NOT NULL)`},
		{"indexer", "name[0]", `ARRAY(SELECT indexed_name_element_
FROM (SELECT name_element_ AS indexed_name_element_
FROM (SELECT ROW_NUMBER() OVER() AS row_,
name_element_
FROM (SELECT name_element_
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset)) AS inner_tbl
WHERE (inner_tbl.row_ - 1) = 0)
WHERE indexed_name_element_ IS NOT NULL)`},
		{"choice narrowing", "deceased.ofType(boolean)", `ARRAY(SELECT ofType_
FROM (SELECT deceasedBoolean AS ofType_)
WHERE ofType_ IS NOT NULL)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bigquery(t, "Patient", tt.src))
		})
	}
}

func TestBigQueryOperators(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"arithmetic", "telecomCount + 1", `ARRAY(SELECT arith_
FROM (SELECT (telecomCount + 1) AS arith_)
WHERE arith_ IS NOT NULL)`},
		{"concatenation", "'foo' + 'bar'", `ARRAY(SELECT arith_
FROM (SELECT CONCAT('foo', 'bar') AS arith_)
WHERE arith_ IS NOT NULL)`},
		{"ampersand", "'foo' & 'bar'", `ARRAY(SELECT arith_
FROM (SELECT CONCAT('foo', 'bar') AS arith_)
WHERE arith_ IS NOT NULL)`},
		{"modulo", "7 mod 4", `ARRAY(SELECT arith_
FROM (SELECT MOD(7, 4) AS arith_)
WHERE arith_ IS NOT NULL)`},
		{"truncated division", "7 div 4", `ARRAY(SELECT arith_
FROM (SELECT DIV(7, 4) AS arith_)
WHERE arith_ IS NOT NULL)`},
		{"polarity", "-telecomCount", `ARRAY(SELECT pol_
FROM (SELECT -telecomCount AS pol_)
WHERE pol_ IS NOT NULL)`},
		{"equality", "gender = 'male'", `ARRAY(SELECT eq_
FROM (SELECT (gender = 'male') AS eq_)
WHERE eq_ IS NOT NULL)`},
		{"equivalence", "gender ~ 'male'", `ARRAY(SELECT eq_
FROM (SELECT (gender = 'male') AS eq_)
WHERE eq_ IS NOT NULL)`},
		{"inequality", "telecomCount != 2", `ARRAY(SELECT eq_
FROM (SELECT (telecomCount != 2) AS eq_)
WHERE eq_ IS NOT NULL)`},
		{"temporal comparison", "birthDate < @2000-01-01", `ARRAY(SELECT comparison_
FROM (SELECT (SAFE_CAST(birthDate AS TIMESTAMP) < SAFE_CAST('2000-01-01' AS TIMESTAMP)) AS comparison_)
WHERE comparison_ IS NOT NULL)`},
		{"numeric comparison", "telecomCount > 2", `ARRAY(SELECT comparison_
FROM (SELECT (telecomCount > 2) AS comparison_)
WHERE comparison_ IS NOT NULL)`},
		{"conjunction", "active and gender.exists()", `ARRAY(SELECT logic_
FROM (SELECT (active AND (gender IS NOT NULL)) AS logic_)
WHERE logic_ IS NOT NULL)`},
		{"non-boolean operand", "3 and 'true'", `ARRAY(SELECT logic_
FROM (SELECT ((3 IS NOT NULL) AND ('true' IS NOT NULL)) AS logic_)
WHERE logic_ IS NOT NULL)`},
		{"implies", "telecomCount > 2 implies active", `ARRAY(SELECT logic_
FROM (SELECT (NOT (telecomCount > 2) OR active) AS logic_)
WHERE logic_ IS NOT NULL)`},
		{"exclusive or", "active xor deceased.ofType(boolean)", `ARRAY(SELECT logic_
FROM (SELECT (active <> deceasedBoolean) AS logic_)
WHERE logic_ IS NOT NULL)`},
		{"membership", "'home' in address.use", `ARRAY(SELECT mem_
FROM (SELECT ('home')
IN ((SELECT address_element_.use
FROM UNNEST(address) AS address_element_ WITH OFFSET AS element_offset)) AS mem_)
WHERE mem_ IS NOT NULL)`},
		{"contains", "address.use contains 'home'", `ARRAY(SELECT mem_
FROM (SELECT ('home')
IN ((SELECT address_element_.use
FROM UNNEST(address) AS address_element_ WITH OFFSET AS element_offset)) AS mem_)
WHERE mem_ IS NOT NULL)`},
		{"union of literals", "3 | 4", `ARRAY(SELECT union_
FROM (SELECT lhs_.literal_ AS union_
FROM (SELECT 3 AS literal_) AS lhs_
UNION DISTINCT
SELECT rhs_.literal_ AS union_
FROM (SELECT 4 AS literal_) AS rhs_)
WHERE union_ IS NOT NULL)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bigquery(t, "Patient", tt.src))
		})
	}
}

func TestBigQueryWhere(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"filtered member access", "address.where(use = 'home').postalCode", `ARRAY(SELECT postalCode
FROM (SELECT address_element_.postalCode
FROM UNNEST(address) AS address_element_ WITH OFFSET AS element_offset
WHERE (use = 'home'))
WHERE postalCode IS NOT NULL)`},
		{"scalar struct operand", "maritalStatus.where(text = 'M')", `ARRAY(SELECT maritalStatus
FROM (SELECT maritalStatus
FROM (SELECT maritalStatus.*)
WHERE (text = 'M'))
WHERE maritalStatus IS NOT NULL)`},
		{"this criteria", "name.use.where($this = 'maiden')", `ARRAY(SELECT use
FROM (SELECT name_element_.use
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset
WHERE (use = 'maiden'))
WHERE use IS NOT NULL)`},
		{"chained criteria", "address.where(use = 'home').where(city = 'Ann Arbor')", `ARRAY(SELECT address_element_
FROM (SELECT address_element_
FROM UNNEST(address) AS address_element_ WITH OFFSET AS element_offset
WHERE (use = 'home') AND (city = 'Ann Arbor'))
WHERE address_element_ IS NOT NULL)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bigquery(t, "Patient", tt.src))
		})
	}
}

func TestBigQueryFunctions(t *testing.T) {
	tests := []struct {
		name string
		root string
		src  string
		want string
	}{
		{"count of collection", "Patient", "name.count()", `ARRAY(SELECT count_
FROM (SELECT COUNT(
name_element_) AS count_
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset)
WHERE count_ IS NOT NULL)`},
		{"count of scalar", "Patient", "gender.count()", `ARRAY(SELECT count_
FROM (SELECT COUNT(
gender) AS count_
FROM (SELECT gender))
WHERE count_ IS NOT NULL)`},
		{"empty of scalar", "Patient", "gender.empty()", `ARRAY(SELECT empty_
FROM (SELECT gender IS NULL AS empty_)
WHERE empty_ IS NOT NULL)`},
		{"empty of collection", "Patient", "name.empty()", `ARRAY(SELECT empty_
FROM (SELECT NOT EXISTS(
SELECT name_element_
FROM (SELECT name_element_
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset)
WHERE name_element_ IS NOT NULL) AS empty_)
WHERE empty_ IS NOT NULL)`},
		{"exists of scalar", "Patient", "gender.exists()", `ARRAY(SELECT exists_
FROM (SELECT gender IS NOT NULL AS exists_)
WHERE exists_ IS NOT NULL)`},
		{"exists with criteria", "Patient", "address.exists(use = 'home')", `ARRAY(SELECT exists_
FROM (SELECT EXISTS(
SELECT address_element_
FROM (SELECT address_element_
FROM UNNEST(address) AS address_element_ WITH OFFSET AS element_offset
WHERE (use = 'home'))
WHERE address_element_ IS NOT NULL) AS exists_)
WHERE exists_ IS NOT NULL)`},
		{"first", "Patient", "name.first()", `ARRAY(SELECT name_element_
FROM (SELECT name_element_
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset
LIMIT 1)
WHERE name_element_ IS NOT NULL)`},
		{"hasValue", "Patient", "gender.hasValue()", `ARRAY(SELECT has_value_
FROM (SELECT gender IS NOT NULL AS has_value_)
WHERE has_value_ IS NOT NULL)`},
		{"not", "Patient", "active.not()", `ARRAY(SELECT not_
FROM (SELECT NOT(
active) AS not_)
WHERE not_ IS NOT NULL)`},
		{"matches", "Patient", "gender.matches('^fe')", `ARRAY(SELECT matches_
FROM (SELECT REGEXP_CONTAINS(
gender, '^fe') AS matches_)
WHERE matches_ IS NOT NULL)`},
		{"toInteger", "Patient", "gender.toInteger()", `ARRAY(SELECT to_integer_
FROM (SELECT SAFE_CAST(gender AS INT64) AS to_integer_)
WHERE to_integer_ IS NOT NULL)`},
		{"anyTrue", "Patient", "deceased.ofType(boolean).anyTrue()", `ARRAY(SELECT _anyTrue
FROM (SELECT LOGICAL_OR(
ofType_) AS _anyTrue
FROM (SELECT deceasedBoolean AS ofType_))
WHERE _anyTrue IS NOT NULL)`},
		{"all over collection", "Patient", "name.all(use.exists())", `ARRAY(SELECT all_
FROM (SELECT IFNULL(
LOGICAL_AND(
IFNULL(
(SELECT (use IS NOT NULL) AS all_), FALSE)), TRUE) AS all_
FROM UNNEST(name) AS name_element_ WITH OFFSET AS element_offset)
WHERE all_ IS NOT NULL)`},
		{"all over scalar", "Patient", "maritalStatus.text.all($this = 'M')", `ARRAY(SELECT all_
FROM (SELECT IFNULL(
LOGICAL_AND(
IFNULL(
(SELECT (text = 'M') AS all_), FALSE)), TRUE) AS all_
FROM (SELECT maritalStatus.text))
WHERE all_ IS NOT NULL)`},
		{"idFor", "Observation", "subject.idFor('Patient')", `ARRAY(SELECT idFor_
FROM (SELECT subject.patientId AS idFor_)
WHERE idFor_ IS NOT NULL)`},
		{"member after narrowing", "Observation", "value.ofType(Quantity).unit", `ARRAY(SELECT unit
FROM (SELECT valueQuantity.unit)
WHERE unit IS NOT NULL)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bigquery(t, tt.root, tt.src))
		})
	}
}

func TestBigQueryInlineMemberOf(t *testing.T) {
	opts := &sqlgen.Options{Resolver: expansions()}

	sql, err := encode(t, "Patient", "gender.memberOf('http://example.org/vs/gender')", sqlgen.BigQuery, opts)
	require.NoError(t, err)
	assert.Equal(t, `ARRAY(SELECT memberof_
FROM (SELECT (gender IS NULL OR gender IN ('female', 'male')) AS memberof_)
WHERE memberof_ IS NOT NULL)`, sql)

	sql, err = encode(t, "Patient", "maritalStatus.memberOf('http://example.org/vs/marital')", sqlgen.BigQuery, opts)
	require.NoError(t, err)
	assert.Equal(t, `ARRAY(SELECT memberof_
FROM (SELECT (maritalStatus.coding IS NULL OR EXISTS(
SELECT 1
FROM UNNEST(maritalStatus.coding)
WHERE (system = 'http://terminology.hl7.org/CodeSystem/v3-MaritalStatus' AND code IN ('M', 'S')))) AS memberof_)
WHERE memberof_ IS NOT NULL)`, sql)

	// An unknown value set falls back to the codes table.
	sql, err = encode(t, "Patient", "gender.memberOf('http://example.org/vs/unknown')", sqlgen.BigQuery,
		&sqlgen.Options{Resolver: expansions(), CodesTable: "codes"})
	require.NoError(t, err)
	assert.Contains(t, sql, "vs.valueseturi='http://example.org/vs/unknown'")
	assert.Contains(t, sql, "`codes` vs")
}

func TestSparkEncoding(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"literal", "true", `(SELECT COLLECT_LIST(literal_)
FROM (SELECT TRUE AS literal_)
WHERE literal_ IS NOT NULL)`},
		{"scalar", "gender", `(SELECT COLLECT_LIST(gender)
FROM (SELECT gender)
WHERE gender IS NOT NULL)`},
		{"repeated", "name.given", `(SELECT COLLECT_LIST(given_element_)
FROM (SELECT given_element_
FROM (SELECT name_element_
FROM (SELECT POSEXPLODE(name) AS (element_offset, name_element_)))
LATERAL VIEW POSEXPLODE(name_element_.given) AS element_offset, given_element_)
WHERE given_element_ IS NOT NULL)`},
		{"indexer", "name[0]", `(SELECT COLLECT_LIST(indexed_name_element_)
FROM (SELECT element_at(COLLECT_LIST(name_element_),0 + 1) AS indexed_name_element_
FROM (SELECT name_element_
FROM (SELECT POSEXPLODE(name) AS (element_offset, name_element_))))
WHERE indexed_name_element_ IS NOT NULL)`},
		{"comparison unparenthesized", "birthDate < @2000-01-01", `(SELECT COLLECT_LIST(comparison_)
FROM (SELECT CAST(birthDate AS TIMESTAMP) < CAST('2000-01-01' AS TIMESTAMP) AS comparison_)
WHERE comparison_ IS NOT NULL)`},
		{"logic unparenthesized", "active and deceased.ofType(boolean)", `(SELECT COLLECT_LIST(logic_)
FROM (SELECT active AND deceasedBoolean AS logic_)
WHERE logic_ IS NOT NULL)`},
		{"empty of collection", "name.empty()", `(SELECT COLLECT_LIST(empty_)
FROM (SELECT CASE WHEN COUNT(*) = 0 THEN TRUE ELSE FALSE END AS empty_
FROM (SELECT name_element_
FROM (SELECT POSEXPLODE(name) AS (element_offset, name_element_)))
WHERE name_element_ IS NOT NULL)
WHERE empty_ IS NOT NULL)`},
		{"exists of collection", "name.exists()", `(SELECT COLLECT_LIST(exists_)
FROM (SELECT CASE WHEN COUNT(*) > 0 THEN TRUE ELSE FALSE END AS exists_
FROM (SELECT name_element_
FROM (SELECT POSEXPLODE(name) AS (element_offset, name_element_)))
WHERE name_element_ IS NOT NULL)
WHERE exists_ IS NOT NULL)`},
		{"toInteger", "gender.toInteger()", `(SELECT COLLECT_LIST(to_integer_)
FROM (SELECT TRY_CAST(gender AS BIGINT) AS to_integer_)
WHERE to_integer_ IS NOT NULL)`},
		{"matches", "gender.matches('^fe')", `(SELECT COLLECT_LIST(matches_)
FROM (SELECT RLIKE(
gender, '^fe') AS matches_)
WHERE matches_ IS NOT NULL)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, spark(t, "Patient", tt.src))
		})
	}
}

func TestSparkInlineMemberOf(t *testing.T) {
	opts := &sqlgen.Options{Resolver: expansions()}
	sql, err := encode(t, "Patient", "maritalStatus.memberOf('http://example.org/vs/marital')", sqlgen.Spark, opts)
	require.NoError(t, err)
	assert.Equal(t, `(SELECT COLLECT_LIST(memberof_)
FROM (SELECT (maritalStatus.coding IS NULL OR EXISTS(maritalStatus.coding, x -> (x.system = 'http://terminology.hl7.org/CodeSystem/v3-MaritalStatus' AND x.code IN ('M', 'S')))) AS memberof_)
WHERE memberof_ IS NOT NULL)`, sql)
}

func TestNullPredicates(t *testing.T) {
	id := &sqlgen.Ident{Path: []string{"gender"}, Typ: sqlgen.TypeString}

	null := &sqlgen.IsNull{Of: id}
	assert.Equal(t, "gender IS NULL", null.String())
	assert.Equal(t, "(gender IS NULL)", null.Operand())
	assert.Equal(t, "empty_", null.Alias())

	notNull := &sqlgen.IsNotNull{Of: id, As: "exists_"}
	assert.Equal(t, "gender IS NOT NULL", notNull.String())
	assert.Equal(t, "(gender IS NOT NULL)", notNull.Operand())
	assert.Equal(t, "exists_", notNull.Alias())
}

func TestBareScalars(t *testing.T) {
	opts := &sqlgen.Options{BareScalars: true}

	sql, err := encode(t, "Patient", "telecomCount + 1", sqlgen.BigQuery, opts)
	require.NoError(t, err)
	assert.Equal(t, "(SELECT (telecomCount + 1) AS arith_)", sql)

	// Collections wrap regardless.
	sql, err = encode(t, "Patient", "name.given", sqlgen.BigQuery, opts)
	require.NoError(t, err)
	assert.Contains(t, sql, "ARRAY(SELECT given_element_")
}

func TestUnsupported(t *testing.T) {
	errFor := func(root, src string, dialect sqlgen.Dialect) error {
		t.Helper()
		_, err := encode(t, root, src, dialect, nil)
		require.Error(t, err, "encoding %s", src)
		return err
	}

	var unsupported *sqlgen.UnsupportedError

	err := errFor("Patient", "deceased is boolean", sqlgen.BigQuery)
	require.ErrorAs(t, err, &unsupported)
	assert.ErrorContains(t, err, "the is operator")

	err = errFor("Patient", "deceased", sqlgen.BigQuery)
	assert.ErrorContains(t, err, "without narrowing")

	err = errFor("Patient", "where(active)", sqlgen.BigQuery)
	assert.ErrorContains(t, err, "applied to the record root")

	err = errFor("Observation", "value.ofType(Quantity) < 4.5 'mg'", sqlgen.BigQuery)
	assert.ErrorContains(t, err, "ordering structured values")

	err = errFor("Patient", "name.given = contact.name.given", sqlgen.Spark)
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "spark", unsupported.Dialect)
	assert.ErrorContains(t, err, "comparing collections")

	err = errFor("Patient", "gender.memberOf('http://example.org/vs/gender')", sqlgen.Spark)
	assert.ErrorContains(t, err, "memberOf against a codes table")
}

func TestResolverFailure(t *testing.T) {
	expr, err := parser.Parse("gender.memberOf('http://example.org/vs/gender')")
	require.NoError(t, err)
	node, err := semantic.Analyze(testschema.Env(), "Patient", expr)
	require.NoError(t, err)

	_, err = sqlgen.Encode(context.Background(), node, sqlgen.BigQuery,
		&sqlgen.Options{Resolver: failResolver{}})
	assert.ErrorContains(t, err, "terminology service down")
}

type failResolver struct{}

func (failResolver) Expand(context.Context, string) (*terminology.ValueSet, error) {
	return nil, errors.New("terminology service down")
}
