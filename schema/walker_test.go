package schema_test

import (
	"testing"

	"github.com/carequery/fhirpath/internal/testschema"
	"github.com/carequery/fhirpath/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkUnknownRoot(t *testing.T) {
	env := testschema.Env()
	_, err := env.Walk("Narwhal")
	require.Error(t, err)
	assert.ErrorContains(t, err, "Narwhal")
	var unresolved *schema.UnresolvedTypeError
	assert.ErrorAs(t, err, &unresolved)
}

func TestStepInlineChild(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	require.NoError(t, w.Step("active"))
	assert.Equal(t, "Patient.active", w.Element().Path)
	assert.Equal(t, "Patient", w.Definition().Name)
}

func TestStepDereferencesElementType(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	require.NoError(t, w.Step("name"))
	require.NoError(t, w.Step("family"))
	assert.Equal(t, "HumanName.family", w.Element().Path)
	assert.Equal(t, "HumanName", w.Definition().Name)
}

func TestStepBackboneChildrenStayInline(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	require.NoError(t, w.Step("contact"))
	require.NoError(t, w.Step("name"))
	assert.Equal(t, "Patient.contact.name", w.Element().Path)
	assert.Equal(t, "Patient", w.Definition().Name)
	require.NoError(t, w.Step("given"))
	assert.Equal(t, "HumanName.given", w.Element().Path)
}

func TestStepChoiceElement(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	require.NoError(t, w.Step("deceased"))
	assert.Equal(t, "Patient.deceased[x]", w.Element().Path)
	assert.True(t, w.Element().Choice())
}

func TestStepThroughChoiceRequiresNarrowing(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Observation")
	require.NoError(t, err)
	require.NoError(t, w.Step("value"))
	err = w.Step("unit")
	require.Error(t, err)
	assert.ErrorContains(t, err, "Observation.value[x]")

	require.NoError(t, w.SelectType("Quantity"))
	require.NoError(t, w.Step("unit"))
	assert.Equal(t, "Quantity.unit", w.Element().Path)
}

func TestSelectTypeUnknownMember(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Observation")
	require.NoError(t, err)
	require.NoError(t, w.Step("value"))
	err = w.SelectType("HumanName")
	require.Error(t, err)
	assert.ErrorContains(t, err, "HumanName")
}

func TestStepContentReference(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Questionnaire")
	require.NoError(t, err)
	require.NoError(t, w.Step("item"))
	// The nested item element refers back to Questionnaire.item, so each
	// step lands on the same target element.
	for range 3 {
		require.NoError(t, w.Step("item"))
		assert.Equal(t, "Questionnaire.item", w.Element().ID)
	}
	require.NoError(t, w.Step("linkId"))
	assert.Equal(t, "Questionnaire.item.linkId", w.Element().Path)
}

func TestStepExtensionSlice(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	require.NoError(t, w.Step("race"))
	assert.Equal(t, "Patient.extension:race", w.Element().ID)
	assert.Equal(t, "race", w.Element().SliceName)
}

func TestStepUnknownFieldNamesContainer(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	require.NoError(t, w.Step("name"))
	err = w.Step("nickname")
	require.Error(t, err)
	assert.ErrorContains(t, err, "nickname")
	assert.ErrorContains(t, err, "Patient.name")
	var fieldErr *schema.FieldError
	assert.ErrorAs(t, err, &fieldErr)
}

func TestStepUnknownFieldAtRoot(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	err = w.Step("actvie")
	require.Error(t, err)
	assert.ErrorContains(t, err, "actvie")
	var fieldErr *schema.FieldError
	assert.ErrorAs(t, err, &fieldErr)
}

func TestStepCountMatchesPathLength(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	for _, name := range []string{"contact", "name", "given"} {
		require.NoError(t, w.Step(name))
	}
	assert.Equal(t, "HumanName.given", w.Element().Path)
}

func TestForkIsolatesPosition(t *testing.T) {
	env := testschema.Env()
	w, err := env.Walk("Patient")
	require.NoError(t, err)
	require.NoError(t, w.Step("address"))
	fork := w.Fork()
	require.NoError(t, fork.Step("city"))
	assert.Equal(t, "Patient.address", w.Element().Path)
	assert.Equal(t, "Address.city", fork.Element().Path)
}

func TestNewEnvironmentRejectsDuplicateURLs(t *testing.T) {
	_, err := schema.NewEnvironment(testschema.Patient(), testschema.Patient())
	require.Error(t, err)
	var malformed *schema.MalformedSchemaError
	assert.ErrorAs(t, err, &malformed)
	assert.ErrorContains(t, err, "duplicate")
}

func TestNewEnvironmentRejectsMultipleRoots(t *testing.T) {
	bad := &schema.StructureDefinition{
		URL:  schema.BaseURL + "Bad",
		Name: "Bad",
		Type: "Bad",
		Elements: []*schema.ElementDefinition{
			{ID: "Bad", Path: "Bad"},
			{ID: "AlsoBad", Path: "AlsoBad"},
		},
	}
	_, err := schema.NewEnvironment(bad)
	require.Error(t, err)
	assert.ErrorContains(t, err, "single root")
}

func TestDecodeSnapshot(t *testing.T) {
	const doc = `{
		"resourceType": "StructureDefinition",
		"url": "http://hl7.org/fhir/StructureDefinition/Specimen",
		"name": "Specimen",
		"type": "Specimen",
		"kind": "resource",
		"snapshot": {"element": [
			{"id": "Specimen", "path": "Specimen", "min": 0, "max": "*"},
			{"id": "Specimen.note", "path": "Specimen.note", "min": 0, "max": "*",
			 "type": [{"code": "string"}]}
		]}
	}`
	def, err := schema.Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Specimen", def.Name)
	require.Len(t, def.Elements, 2)
	assert.Equal(t, "Specimen", def.Root().Path)
	assert.True(t, def.Elements[1].Repeats())
	assert.Equal(t, "string", def.Elements[1].Types[0].Code)
}

func TestDecodeRejectsOtherResources(t *testing.T) {
	_, err := schema.Decode([]byte(`{"resourceType": "ValueSet"}`))
	require.Error(t, err)
	assert.ErrorContains(t, err, "ValueSet")
}
