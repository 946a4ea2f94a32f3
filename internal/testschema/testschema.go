// Package testschema provides a small FHIR-like schema environment and
// sample resources shared by tests across the repository.  It covers the
// shapes navigation and compilation care about: repeated elements, backbone
// elements, choice elements, content-reference recursion, and extension
// slices.
package testschema

import "github.com/carequery/fhirpath/schema"

func elem(id, path string, min int, max string, codes ...string) *schema.ElementDefinition {
	e := &schema.ElementDefinition{ID: id, Path: path, Min: min, Max: max}
	for _, code := range codes {
		e.Types = append(e.Types, schema.TypeRef{Code: code})
	}
	return e
}

func def(name, kind string, elems ...*schema.ElementDefinition) *schema.StructureDefinition {
	return &schema.StructureDefinition{
		URL:      schema.BaseURL + name,
		Name:     name,
		Type:     name,
		Kind:     kind,
		Elements: elems,
	}
}

// Patient returns the test Patient definition.
func Patient() *schema.StructureDefinition {
	return def("Patient", "resource",
		elem("Patient", "Patient", 0, "*"),
		elem("Patient.id", "Patient.id", 0, "1", "id"),
		elem("Patient.active", "Patient.active", 0, "1", "boolean"),
		elem("Patient.gender", "Patient.gender", 0, "1", "code"),
		elem("Patient.birthDate", "Patient.birthDate", 0, "1", "date"),
		elem("Patient.name", "Patient.name", 0, "*", "HumanName"),
		elem("Patient.address", "Patient.address", 0, "*", "Address"),
		elem("Patient.telecomCount", "Patient.telecomCount", 0, "1", "unsignedInt"),
		elem("Patient.deceased[x]", "Patient.deceased[x]", 0, "1", "boolean", "dateTime"),
		elem("Patient.multipleBirth[x]", "Patient.multipleBirth[x]", 0, "1", "boolean", "integer"),
		elem("Patient.maritalStatus", "Patient.maritalStatus", 0, "1", "CodeableConcept"),
		elem("Patient.contact", "Patient.contact", 0, "*", "BackboneElement"),
		elem("Patient.contact.name", "Patient.contact.name", 0, "1", "HumanName"),
		elem("Patient.contact.gender", "Patient.contact.gender", 0, "1", "code"),
		&schema.ElementDefinition{
			ID:        "Patient.extension:race",
			Path:      "Patient.extension",
			Min:       0,
			Max:       "1",
			Types:     []schema.TypeRef{{Code: "Extension"}},
			SliceName: "race",
		},
	)
}

// Observation returns the test Observation definition with a choice-typed
// value element.
func Observation() *schema.StructureDefinition {
	return def("Observation", "resource",
		elem("Observation", "Observation", 0, "*"),
		elem("Observation.id", "Observation.id", 0, "1", "id"),
		elem("Observation.status", "Observation.status", 1, "1", "code"),
		elem("Observation.code", "Observation.code", 1, "1", "CodeableConcept"),
		elem("Observation.value[x]", "Observation.value[x]", 0, "1", "Quantity", "string", "boolean"),
		elem("Observation.referenceRange", "Observation.referenceRange", 0, "*", "BackboneElement"),
		elem("Observation.referenceRange.high", "Observation.referenceRange.high", 0, "1", "Quantity"),
		elem("Observation.referenceRange.low", "Observation.referenceRange.low", 0, "1", "Quantity"),
		elem("Observation.subject", "Observation.subject", 0, "1", "Reference"),
	)
}

// Questionnaire returns a definition with content-reference recursion: the
// item element nests itself.
func Questionnaire() *schema.StructureDefinition {
	item := elem("Questionnaire.item", "Questionnaire.item", 0, "*", "BackboneElement")
	nested := &schema.ElementDefinition{
		ID:               "Questionnaire.item.item",
		Path:             "Questionnaire.item.item",
		Min:              0,
		Max:              "*",
		ContentReference: "#Questionnaire.item",
	}
	return def("Questionnaire", "resource",
		elem("Questionnaire", "Questionnaire", 0, "*"),
		elem("Questionnaire.title", "Questionnaire.title", 0, "1", "string"),
		item,
		elem("Questionnaire.item.linkId", "Questionnaire.item.linkId", 1, "1", "string"),
		elem("Questionnaire.item.text", "Questionnaire.item.text", 0, "1", "string"),
		nested,
	)
}

func humanName() *schema.StructureDefinition {
	return def("HumanName", "complex-type",
		elem("HumanName", "HumanName", 0, "*"),
		elem("HumanName.use", "HumanName.use", 0, "1", "code"),
		elem("HumanName.family", "HumanName.family", 0, "1", "string"),
		elem("HumanName.given", "HumanName.given", 0, "*", "string"),
	)
}

func address() *schema.StructureDefinition {
	return def("Address", "complex-type",
		elem("Address", "Address", 0, "*"),
		elem("Address.use", "Address.use", 0, "1", "code"),
		elem("Address.line", "Address.line", 0, "*", "string"),
		elem("Address.city", "Address.city", 0, "1", "string"),
		elem("Address.state", "Address.state", 0, "1", "string"),
		elem("Address.postalCode", "Address.postalCode", 0, "1", "string"),
	)
}

func codeableConcept() *schema.StructureDefinition {
	return def("CodeableConcept", "complex-type",
		elem("CodeableConcept", "CodeableConcept", 0, "*"),
		elem("CodeableConcept.coding", "CodeableConcept.coding", 0, "*", "Coding"),
		elem("CodeableConcept.text", "CodeableConcept.text", 0, "1", "string"),
	)
}

func coding() *schema.StructureDefinition {
	return def("Coding", "complex-type",
		elem("Coding", "Coding", 0, "*"),
		elem("Coding.system", "Coding.system", 0, "1", "uri"),
		elem("Coding.version", "Coding.version", 0, "1", "string"),
		elem("Coding.code", "Coding.code", 0, "1", "code"),
		elem("Coding.display", "Coding.display", 0, "1", "string"),
	)
}

func quantity() *schema.StructureDefinition {
	return def("Quantity", "complex-type",
		elem("Quantity", "Quantity", 0, "*"),
		elem("Quantity.value", "Quantity.value", 0, "1", "decimal"),
		elem("Quantity.unit", "Quantity.unit", 0, "1", "string"),
		elem("Quantity.system", "Quantity.system", 0, "1", "uri"),
		elem("Quantity.code", "Quantity.code", 0, "1", "code"),
	)
}

func reference() *schema.StructureDefinition {
	return def("Reference", "complex-type",
		elem("Reference", "Reference", 0, "*"),
		elem("Reference.reference", "Reference.reference", 0, "1", "string"),
		elem("Reference.display", "Reference.display", 0, "1", "string"),
	)
}

func extension() *schema.StructureDefinition {
	return def("Extension", "complex-type",
		elem("Extension", "Extension", 0, "*"),
		elem("Extension.url", "Extension.url", 1, "1", "uri"),
		elem("Extension.value[x]", "Extension.value[x]", 0, "1", "string", "code"),
	)
}

func backbone() *schema.StructureDefinition {
	return def("BackboneElement", "complex-type",
		elem("BackboneElement", "BackboneElement", 0, "*"),
		elem("BackboneElement.id", "BackboneElement.id", 0, "1", "string"),
	)
}

// Env builds an Environment holding every test definition.
func Env() *schema.Environment {
	env, err := schema.NewEnvironment(
		Patient(),
		Observation(),
		Questionnaire(),
		humanName(),
		address(),
		codeableConcept(),
		coding(),
		quantity(),
		reference(),
		extension(),
		backbone(),
	)
	if err != nil {
		panic(err)
	}
	return env
}

// PatientJSON is a sample record matching the Patient definition.
const PatientJSON = `{
  "resourceType": "Patient",
  "id": "example",
  "active": true,
  "gender": "female",
  "birthDate": "1970-02-14",
  "name": [
    {"use": "official", "family": "Chalmers", "given": ["Peter", "James"]},
    {"use": "nickname", "family": "Windsor", "given": ["Jim"]}
  ],
  "address": [
    {"use": "home", "city": "Ann Arbor", "state": "MI", "postalCode": "48104", "line": ["534 Erewhon St"]},
    {"use": "work", "city": "Detroit", "state": "MI", "postalCode": "48201", "line": ["100 Main St", "Suite 4"]}
  ],
  "telecomCount": 2,
  "deceasedBoolean": false,
  "maritalStatus": {
    "coding": [{"system": "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus", "code": "M"}],
    "text": "Married"
  },
  "contact": [
    {"name": {"family": "du Marché", "given": ["Bénédicte"]}, "gender": "female"}
  ]
}`

// ObservationJSON is a sample record matching the Observation definition.
const ObservationJSON = `{
  "resourceType": "Observation",
  "id": "bp",
  "status": "final",
  "code": {
    "coding": [{"system": "http://loinc.org", "code": "85354-9"}],
    "text": "Blood pressure"
  },
  "valueQuantity": {"value": 107.2, "unit": "mm[Hg]"},
  "referenceRange": [
    {"low": {"value": 90, "unit": "mm[Hg]"}, "high": {"value": 120, "unit": "mm[Hg]"}}
  ],
  "subject": {"reference": "Patient/example", "display": "Peter Chalmers"}
}`
