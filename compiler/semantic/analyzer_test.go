package semantic_test

import (
	"testing"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ir"
	"github.com/carequery/fhirpath/compiler/parser"
	"github.com/carequery/fhirpath/compiler/semantic"
	"github.com/carequery/fhirpath/internal/testschema"
	"github.com/carequery/fhirpath/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, root, src string) (ir.Node, error) {
	t.Helper()
	expr, err := parser.Parse(src)
	require.NoError(t, err)
	return semantic.Analyze(testschema.Env(), root, expr)
}

func mustAnalyze(t *testing.T, root, src string) ir.Node {
	t.Helper()
	n, err := analyze(t, root, src)
	require.NoError(t, err)
	return n
}

func primKind(t *testing.T, typ fhirpath.Type) fhirpath.Kind {
	t.Helper()
	p, ok := typ.(fhirpath.Primitive)
	require.True(t, ok, "expected a primitive type, got %s", typ)
	return p.Kind()
}

func TestPathTyping(t *testing.T) {
	n := mustAnalyze(t, "Patient", "Patient.name.family")
	family, ok := n.(*ir.Property)
	require.True(t, ok)
	assert.Equal(t, "family", family.Name)
	assert.Equal(t, fhirpath.KindString, primKind(t, family.Typ))
	assert.Equal(t, fhirpath.ChildOfRepeated, family.Typ.Cardinality())

	name, ok := family.Operand.(*ir.Property)
	require.True(t, ok)
	assert.Equal(t, "name", name.Name)
	st, ok := name.Typ.(*fhirpath.Struct)
	require.True(t, ok)
	assert.Equal(t, "HumanName", st.Def.Name)
	assert.Equal(t, fhirpath.Repeated, st.Cardinality())

	_, ok = name.Operand.(*ir.Root)
	assert.True(t, ok, "the path head should resolve to the root record")
}

func TestBareHeadEqualsQualifiedHead(t *testing.T) {
	qualified := mustAnalyze(t, "Patient", "Patient.birthDate").(*ir.Property)
	bare := mustAnalyze(t, "Patient", "birthDate").(*ir.Property)
	assert.Equal(t, qualified.Name, bare.Name)
	assert.Equal(t, qualified.Typ, bare.Typ)
	_, ok := bare.Operand.(*ir.Root)
	assert.True(t, ok, "a bare head is a step off the root record")
	assert.Equal(t, fhirpath.KindDate, primKind(t, bare.Type()))
}

func TestWhereChain(t *testing.T) {
	n := mustAnalyze(t, "Patient", "address.where(use = 'home').postalCode")
	postal, ok := n.(*ir.Property)
	require.True(t, ok)
	assert.Equal(t, "postalCode", postal.Name)
	assert.Equal(t, fhirpath.ChildOfRepeated, postal.Typ.Cardinality())

	where, ok := postal.Operand.(*ir.Function)
	require.True(t, ok)
	assert.Equal(t, "where", where.Name)
	assert.Equal(t, fhirpath.Repeated, where.Typ.Cardinality())
	require.Len(t, where.Args, 1)

	eq, ok := where.Args[0].(*ir.Equality)
	require.True(t, ok)
	use, ok := eq.LHS.(*ir.Property)
	require.True(t, ok)
	assert.Equal(t, "use", use.Name)
	_, ok = use.Operand.(*ir.Reference)
	assert.True(t, ok, "criteria paths hang off the bound element, not the root")

	addr, ok := where.Operand.(*ir.Property)
	require.True(t, ok)
	assert.Equal(t, "address", addr.Name)
}

func TestExplicitThisInCriteria(t *testing.T) {
	n := mustAnalyze(t, "Patient", "name.where($this.use = 'official')")
	where := n.(*ir.Function)
	eq := where.Args[0].(*ir.Equality)
	use := eq.LHS.(*ir.Property)
	ref, ok := use.Operand.(*ir.Reference)
	require.True(t, ok)
	st, ok := ref.Typ.(*fhirpath.Struct)
	require.True(t, ok)
	assert.Equal(t, "HumanName", st.Def.Name)
	assert.Equal(t, fhirpath.Scalar, st.Cardinality())
}

func TestRootNameInCriteria(t *testing.T) {
	// Criteria see the whole record, so the root type name resolves to
	// the record root inside where/all/exists.
	n := mustAnalyze(t, "Patient", "name.where(Patient.gender = 'female')")
	where := n.(*ir.Function)
	eq := where.Args[0].(*ir.Equality)
	gender := eq.LHS.(*ir.Property)
	_, ok := gender.Operand.(*ir.Root)
	require.True(t, ok)
	assert.Equal(t, fhirpath.KindString, primKind(t, gender.Type()))
}

func TestBareCall(t *testing.T) {
	n := mustAnalyze(t, "Patient", "where(active)")
	where, ok := n.(*ir.Function)
	require.True(t, ok)
	_, ok = where.Operand.(*ir.Root)
	assert.True(t, ok)
}

func TestBackboneNavigation(t *testing.T) {
	n := mustAnalyze(t, "Patient", "contact.name.family")
	assert.Equal(t, fhirpath.KindString, primKind(t, n.Type()))
	assert.Equal(t, fhirpath.ChildOfRepeated, n.Type().Cardinality())
}

func TestContentReferenceNavigation(t *testing.T) {
	n := mustAnalyze(t, "Questionnaire", "item.item.linkId")
	assert.Equal(t, fhirpath.KindString, primKind(t, n.Type()))
	assert.Equal(t, fhirpath.ChildOfRepeated, n.Type().Cardinality())
}

func TestExtensionSliceNavigation(t *testing.T) {
	n := mustAnalyze(t, "Patient", "race.url")
	assert.Equal(t, fhirpath.KindString, primKind(t, n.Type()))
}

func TestLiteralFolding(t *testing.T) {
	n := mustAnalyze(t, "Patient", "-5")
	lit, ok := n.(*ir.Literal)
	require.True(t, ok, "polarity folds into numeric literals")
	i, ok := lit.Value.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(-5), i)

	n = mustAnalyze(t, "Patient", "-2.5")
	lit = n.(*ir.Literal)
	d, ok := lit.Value.AsDecimal()
	require.True(t, ok)
	assert.Equal(t, "-2.5", d.String())

	n = mustAnalyze(t, "Patient", "-4 days")
	lit = n.(*ir.Literal)
	q, ok := lit.Value.AsQuantity()
	require.True(t, ok)
	assert.Equal(t, "-4", q.Value.String())
	assert.Equal(t, "days", q.Unit)

	n = mustAnalyze(t, "Patient", "-telecomCount")
	_, ok = n.(*ir.Polarity)
	assert.True(t, ok, "non-literal operands keep the polarity node")

	_, err := analyze(t, "Patient", "-gender")
	assert.Error(t, err, "polarity requires a numeric operand")
}

func TestTemporalLiterals(t *testing.T) {
	n := mustAnalyze(t, "Patient", "@2013-05-14")
	assert.Equal(t, fhirpath.KindDate, primKind(t, n.Type()))

	n = mustAnalyze(t, "Patient", "@2015T")
	assert.Equal(t, fhirpath.KindDateTime, primKind(t, n.Type()))

	n = mustAnalyze(t, "Patient", "@T14:30")
	assert.Equal(t, fhirpath.KindTime, primKind(t, n.Type()))

	_, err := analyze(t, "Patient", "@2013-13-01")
	var semErr *semantic.Error
	require.ErrorAs(t, err, &semErr, "month 13 fails at analysis, not at parse")
}

func TestChoiceRequiresNarrowing(t *testing.T) {
	n := mustAnalyze(t, "Observation", "Observation.value")
	prop, ok := n.(*ir.Property)
	require.True(t, ok)
	assert.True(t, prop.Choice)
	u, ok := prop.Typ.(*fhirpath.Union)
	require.True(t, ok)
	assert.Equal(t, []string{"Quantity", "string", "boolean"}, u.Names)

	_, err := analyze(t, "Observation", "Observation.value.unit")
	var semErr *semantic.Error
	require.ErrorAs(t, err, &semErr)
	assert.Contains(t, semErr.Error(), "narrowing")
}

func TestOfType(t *testing.T) {
	n := mustAnalyze(t, "Observation", "Observation.value.ofType(Quantity).unit")
	unit, ok := n.(*ir.Property)
	require.True(t, ok)
	assert.Equal(t, fhirpath.KindString, primKind(t, unit.Typ))

	narrowed, ok := unit.Operand.(*ir.OfType)
	require.True(t, ok)
	assert.Equal(t, "Quantity", narrowed.TypeName)
	st, ok := narrowed.Typ.(*fhirpath.Struct)
	require.True(t, ok)
	assert.Equal(t, "Quantity", st.Def.Name)
	assert.Equal(t, fhirpath.Scalar, st.Cardinality())
}

func TestOfTypeCanonicalizesCase(t *testing.T) {
	n := mustAnalyze(t, "Patient", "deceased.ofType(DateTime)")
	narrowed := n.(*ir.OfType)
	assert.Equal(t, "dateTime", narrowed.TypeName, "the schema's spelling wins")
}

func TestAsOperator(t *testing.T) {
	n := mustAnalyze(t, "Observation", "(Observation.value as Quantity).unit")
	unit := n.(*ir.Property)
	_, ok := unit.Operand.(*ir.OfType)
	assert.True(t, ok, "as lowers to the same narrowing node as ofType")

	n = mustAnalyze(t, "Observation", "(Observation.value as FHIR.Quantity).unit")
	unit = n.(*ir.Property)
	assert.Equal(t, "Quantity", unit.Operand.(*ir.OfType).TypeName)
}

func TestOfTypeRejectsNonMembers(t *testing.T) {
	_, err := analyze(t, "Observation", "Observation.value.ofType(Period)")
	var semErr *semantic.Error
	require.ErrorAs(t, err, &semErr)
	assert.Contains(t, semErr.Error(), "Period")

	_, err = analyze(t, "Patient", "birthDate as string")
	require.ErrorAs(t, err, &semErr, "a provably empty narrowing is rejected")
}

func TestAsOnMatchingTypeIsIdentity(t *testing.T) {
	n := mustAnalyze(t, "Patient", "birthDate as date")
	_, ok := n.(*ir.Property)
	assert.True(t, ok, "narrowing to the static type changes nothing")
}

func TestIs(t *testing.T) {
	n := mustAnalyze(t, "Patient", "deceased is boolean")
	is, ok := n.(*ir.Is)
	require.True(t, ok)
	assert.Equal(t, "boolean", is.TypeName)
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, is.Typ))

	n = mustAnalyze(t, "Patient", "birthDate is date")
	is = n.(*ir.Is)
	assert.Equal(t, "date", is.TypeName)

	_, err := analyze(t, "Patient", "deceased is Quantity")
	assert.Error(t, err, "is against a type outside the choice is rejected")
}

func TestFieldSuggestion(t *testing.T) {
	_, err := analyze(t, "Patient", "Patient.nam")
	var semErr *semantic.Error
	require.ErrorAs(t, err, &semErr)
	assert.Contains(t, semErr.Error(), `did you mean "name"?`)

	var fieldErr *schema.FieldError
	require.ErrorAs(t, err, &fieldErr, "the navigation error stays reachable")
	assert.Equal(t, "nam", fieldErr.Field)
}

func TestFunctionSuggestion(t *testing.T) {
	_, err := analyze(t, "Patient", "name.wehre(use = 'home')")
	var semErr *semantic.Error
	require.ErrorAs(t, err, &semErr)
	assert.Contains(t, semErr.Error(), `did you mean "where"?`)
}

func TestFunctionArity(t *testing.T) {
	_, err := analyze(t, "Patient", "name.where()")
	assert.ErrorContains(t, err, "too few arguments")

	_, err = analyze(t, "Patient", "name.count(1)")
	assert.ErrorContains(t, err, "too many arguments")

	_, err = analyze(t, "Patient", "name.exists()")
	assert.NoError(t, err, "the existence criteria argument is optional")
}

func TestFunctionOperandChecks(t *testing.T) {
	n := mustAnalyze(t, "Patient", "active.anyTrue()")
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, n.Type()))

	_, err := analyze(t, "Patient", "name.given.anyTrue()")
	assert.ErrorContains(t, err, "boolean")

	n = mustAnalyze(t, "Patient", "gender.toInteger()")
	assert.Equal(t, fhirpath.KindInteger, primKind(t, n.Type()))

	_, err = analyze(t, "Patient", "birthDate.toInteger()")
	assert.Error(t, err)

	n = mustAnalyze(t, "Patient", "name.family.matches('^Cha')")
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, n.Type()))

	_, err = analyze(t, "Patient", "name.family.matches(gender)")
	assert.ErrorContains(t, err, "string literal")
}

func TestMemberOfOperands(t *testing.T) {
	n := mustAnalyze(t, "Patient", "maritalStatus.memberOf('http://example.org/vs/marital')")
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, n.Type()))
	assert.Equal(t, fhirpath.Scalar, n.Type().Cardinality())

	n = mustAnalyze(t, "Patient", "gender.memberOf('http://example.org/vs/gender')")
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, n.Type()))

	n = mustAnalyze(t, "Patient", "maritalStatus.coding.memberOf('http://example.org/vs/marital')")
	assert.Equal(t, fhirpath.Repeated, n.Type().Cardinality(),
		"a collection operand yields one answer per element")

	_, err := analyze(t, "Patient", "name.memberOf('http://example.org/vs/marital')")
	assert.ErrorContains(t, err, "memberOf requires")
}

func TestIdFor(t *testing.T) {
	n := mustAnalyze(t, "Observation", "subject.idFor('Patient')")
	assert.Equal(t, fhirpath.KindString, primKind(t, n.Type()))

	_, err := analyze(t, "Observation", "status.idFor('Patient')")
	assert.ErrorContains(t, err, "reference")
}

func TestOperatorTyping(t *testing.T) {
	n := mustAnalyze(t, "Patient", "1 or 2")
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, n.Type()),
		"logical operators type as boolean regardless of operand types")

	n = mustAnalyze(t, "Patient", "telecomCount + 1")
	assert.Equal(t, fhirpath.KindInteger, primKind(t, n.Type()))

	n = mustAnalyze(t, "Patient", "telecomCount / 2")
	assert.Equal(t, fhirpath.KindDecimal, primKind(t, n.Type()), "/ always yields a decimal")

	n = mustAnalyze(t, "Patient", "7 div 2")
	assert.Equal(t, fhirpath.KindInteger, primKind(t, n.Type()))

	n = mustAnalyze(t, "Patient", "7.5 mod 2")
	assert.Equal(t, fhirpath.KindDecimal, primKind(t, n.Type()))

	n = mustAnalyze(t, "Patient", "name.family & ', ' & name.given")
	assert.Equal(t, fhirpath.KindString, primKind(t, n.Type()))

	n = mustAnalyze(t, "Patient", "birthDate < @2000-01-01")
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, n.Type()))

	n = mustAnalyze(t, "Patient", "'home' in address.use")
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, n.Type()))
}

func TestOperatorErrors(t *testing.T) {
	_, err := analyze(t, "Patient", "1 + 'a'")
	assert.ErrorContains(t, err, "numeric operands")

	_, err = analyze(t, "Patient", "birthDate < 5")
	assert.ErrorContains(t, err, "cannot compare")

	_, err = analyze(t, "Patient", "active < true")
	assert.ErrorContains(t, err, "cannot compare", "booleans admit no ordering")

	_, err = analyze(t, "Patient", "1 & 2")
	assert.ErrorContains(t, err, "string operands")

	_, err = analyze(t, "Patient", "3 'mg' div 2")
	assert.ErrorContains(t, err, "div is not defined for quantities")
}

func TestQuantityComparison(t *testing.T) {
	n := mustAnalyze(t, "Observation", "referenceRange.high > 90 'mm[Hg]'")
	assert.Equal(t, fhirpath.KindBoolean, primKind(t, n.Type()))
}

func TestUnionTyping(t *testing.T) {
	n := mustAnalyze(t, "Patient", "name.given | name.family")
	u, ok := n.(*ir.Union)
	require.True(t, ok)
	assert.Equal(t, fhirpath.KindString, primKind(t, u.Typ), "matching element types stay a single type")
	assert.Equal(t, fhirpath.Repeated, u.Typ.Cardinality())

	n = mustAnalyze(t, "Patient", "name | address")
	_, ok = n.Type().(*fhirpath.Union)
	assert.True(t, ok, "mixed element types degrade to a union")

	n = mustAnalyze(t, "Patient", "{} | name")
	st, ok := n.Type().(*fhirpath.Struct)
	require.True(t, ok)
	assert.Equal(t, "HumanName", st.Def.Name)
}

func TestIndexTyping(t *testing.T) {
	n := mustAnalyze(t, "Patient", "name[0].family")
	assert.Equal(t, fhirpath.KindString, primKind(t, n.Type()))
	assert.Equal(t, fhirpath.Scalar, n.Type().Cardinality(),
		"indexing collapses the collection before the next step")

	_, err := analyze(t, "Patient", "name['first']")
	assert.ErrorContains(t, err, "index must be an integer")
}

func TestEmptyPropagation(t *testing.T) {
	n := mustAnalyze(t, "Patient", "{}.name")
	lit, ok := n.(*ir.Literal)
	require.True(t, ok)
	assert.True(t, ir.IsEmptyLiteral(lit))

	n = mustAnalyze(t, "Patient", "{}.first()")
	_, ok = n.Type().(fhirpath.Empty)
	assert.True(t, ok)
}

func TestUnknownRoot(t *testing.T) {
	expr, err := parser.Parse("name")
	require.NoError(t, err)
	_, err = semantic.Analyze(testschema.Env(), "Encounter", expr)
	var unresolved *schema.UnresolvedTypeError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "Encounter", unresolved.Type)
}

func TestErrorPositions(t *testing.T) {
	_, err := analyze(t, "Patient", "name.family = name.van")
	var semErr *semantic.Error
	require.ErrorAs(t, err, &semErr)
	assert.Equal(t, 19, semErr.Position, "the position points at the failing step")
}
