// Package schema models FHIR StructureDefinitions and provides the
// navigation used to resolve dotted paths against them.  An Environment is
// an immutable set of definitions keyed by canonical URL; a Walker carries
// the mutable position of one in-flight path resolution.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// StructureDefinition is one named type: an ordered list of element
// definitions rooted at a single element whose path has no dot.
type StructureDefinition struct {
	URL      string
	Name     string
	Type     string
	Kind     string
	Elements []*ElementDefinition
}

// Root returns the definition's single root element.  NewEnvironment
// guarantees exactly one exists for every definition it accepts.
func (d *StructureDefinition) Root() *ElementDefinition {
	for _, elem := range d.Elements {
		if !strings.Contains(elem.Path, ".") {
			return elem
		}
	}
	return nil
}

// ElementByID returns the element whose id matches, used to resolve content
// references of the form "#Type.path".
func (d *StructureDefinition) ElementByID(id string) *ElementDefinition {
	for _, elem := range d.Elements {
		if elem.ID == id {
			return elem
		}
	}
	return nil
}

// ElementDefinition describes one element of a structure: its dotted path,
// cardinality, declared types, and optional content reference or slice name.
type ElementDefinition struct {
	ID               string
	Path             string
	Min              int
	Max              string
	Types            []TypeRef
	ContentReference string
	SliceName        string
}

// TypeRef names one type an element may take.  Elements whose path ends in
// "[x]" carry more than one.
type TypeRef struct {
	Code string
}

// Repeats reports whether the element's declared max cardinality admits more
// than one value.
func (e *ElementDefinition) Repeats() bool {
	if e.Max == "*" {
		return true
	}
	n, err := strconv.Atoi(e.Max)
	return err == nil && n > 1
}

// Choice reports whether the element is a polymorphic choice, declared with
// a "[x]" path suffix and one or more candidate types.
func (e *ElementDefinition) Choice() bool {
	return strings.HasSuffix(e.Path, "[x]")
}

// Slice reports whether the element is a slice of another element.
func (e *ElementDefinition) Slice() bool {
	return e.SliceName != ""
}

// The FHIR base URL that unqualified definition names are taken to be
// relative to.
const BaseURL = "http://hl7.org/fhir/StructureDefinition/"

// Environment is a read-only set of structure definitions keyed by URL.
// Once constructed it is safe for concurrent use.
type Environment struct {
	defs map[string]*StructureDefinition
}

// NewEnvironment validates and indexes the given definitions.  It fails
// with a MalformedSchemaError when two definitions share a URL or when a
// definition's root element is missing or duplicated.
func NewEnvironment(defs ...*StructureDefinition) (*Environment, error) {
	byURL := make(map[string]*StructureDefinition, len(defs))
	for _, def := range defs {
		if _, ok := byURL[def.URL]; ok {
			return nil, &MalformedSchemaError{URL: def.URL, Reason: "duplicate definition URL"}
		}
		var roots int
		for _, elem := range def.Elements {
			if !strings.Contains(elem.Path, ".") {
				roots++
			}
		}
		if roots != 1 {
			return nil, &MalformedSchemaError{
				URL:    def.URL,
				Reason: fmt.Sprintf("expected a single root element, found %d", roots),
			}
		}
		byURL[def.URL] = def
	}
	return &Environment{defs: byURL}, nil
}

// Definition returns the definition for a canonical URL.  Unqualified names
// are resolved relative to the FHIR base URL, so "Patient" finds the same
// definition as its full URL.
func (e *Environment) Definition(url string) (*StructureDefinition, bool) {
	if def, ok := e.defs[url]; ok {
		return def, true
	}
	if !strings.Contains(url, "/") {
		def, ok := e.defs[BaseURL+url]
		return def, ok
	}
	return nil, false
}

// Definitions returns all definitions in the environment in unspecified
// order.
func (e *Environment) Definitions() []*StructureDefinition {
	all := make([]*StructureDefinition, 0, len(e.defs))
	for _, def := range e.defs {
		all = append(all, def)
	}
	return all
}
