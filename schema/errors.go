package schema

import "fmt"

// UnresolvedTypeError indicates a type reference whose definition is absent
// from the environment.
type UnresolvedTypeError struct {
	Type string
}

func (e *UnresolvedTypeError) Error() string {
	return fmt.Sprintf("unresolved type %q: no structure definition available", e.Type)
}

// MalformedSchemaError indicates a definition the environment refuses to
// index.
type MalformedSchemaError struct {
	URL    string
	Reason string
}

func (e *MalformedSchemaError) Error() string {
	return fmt.Sprintf("malformed structure definition %q: %s", e.URL, e.Reason)
}

// FieldError indicates a path step naming no element of the containing
// type.
type FieldError struct {
	Field     string
	Container string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("no element %q in %s", e.Field, e.Container)
}

// ChoiceError indicates an attempt to step through a polymorphic choice
// element without first narrowing it to one of its types.
type ChoiceError struct {
	Element string
}

func (e *ChoiceError) Error() string {
	return fmt.Sprintf("cannot navigate into choice element %q without narrowing to one of its types", e.Element)
}
