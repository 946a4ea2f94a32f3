package terminology

import "strings"

// The FHIR JSON models below are trimmed to the fields expansion needs.

// ValueSet is a value-set definition and, once expanded, its member codes.
type ValueSet struct {
	ResourceType string     `json:"resourceType,omitempty"`
	URL          string     `json:"url"`
	Version      string     `json:"version,omitempty"`
	Name         string     `json:"name,omitempty"`
	Compose      *Compose   `json:"compose,omitempty"`
	Expansion    *Expansion `json:"expansion,omitempty"`
}

// Compose holds the definition's include and exclude rules.
type Compose struct {
	Include []ConceptSet `json:"include,omitempty"`
	Exclude []ConceptSet `json:"exclude,omitempty"`
}

// ConceptSet selects codes from one code system: an explicit concept list,
// or the whole system when the list is empty.  A non-empty Filter makes the
// selection intensional.
type ConceptSet struct {
	System   string             `json:"system,omitempty"`
	Version  string             `json:"version,omitempty"`
	Concept  []ConceptReference `json:"concept,omitempty"`
	Filter   []Filter           `json:"filter,omitempty"`
	ValueSet []string           `json:"valueSet,omitempty"`
}

type ConceptReference struct {
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// Filter is an intensional selection rule.  The local resolver does not
// evaluate filters; their presence defers expansion to a remote service.
type Filter struct {
	Property string `json:"property"`
	Op       string `json:"op"`
	Value    string `json:"value"`
}

// Expansion lists the codes a value set denotes.  Remote services page
// large expansions using Total and Offset.
type Expansion struct {
	Total    int      `json:"total,omitempty"`
	Offset   int      `json:"offset,omitempty"`
	Contains []Coding `json:"contains,omitempty"`
}

// Coding is one expanded code.  Services may nest further codes under
// Contains for hierarchical systems.
type Coding struct {
	System   string   `json:"system,omitempty"`
	Version  string   `json:"version,omitempty"`
	Code     string   `json:"code,omitempty"`
	Display  string   `json:"display,omitempty"`
	Contains []Coding `json:"contains,omitempty"`
}

// CodeSystem is a code-system definition with its possibly nested concepts.
type CodeSystem struct {
	ResourceType string    `json:"resourceType,omitempty"`
	URL          string    `json:"url"`
	Version      string    `json:"version,omitempty"`
	Concept      []Concept `json:"concept,omitempty"`
}

type Concept struct {
	Code    string    `json:"code"`
	Display string    `json:"display,omitempty"`
	Concept []Concept `json:"concept,omitempty"`
}

// CodeValue identifies a code for membership tests.
type CodeValue struct {
	System string
	Code   string
}

// Codes flattens the expansion, nested entries included, into
// membership-test form.
func (vs *ValueSet) Codes() map[CodeValue]struct{} {
	codes := make(map[CodeValue]struct{})
	if vs.Expansion == nil {
		return codes
	}
	var walk func([]Coding)
	walk = func(contains []Coding) {
		for _, c := range contains {
			codes[CodeValue{System: c.System, Code: c.Code}] = struct{}{}
			walk(c.Contains)
		}
	}
	walk(vs.Expansion.Contains)
	return codes
}

// ParseURLVersion splits a "url|version" value-set reference.  The version
// is empty when the reference carries none.
func ParseURLVersion(url string) (string, string) {
	u, v, _ := strings.Cut(url, "|")
	return u, v
}
