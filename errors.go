package fhirpath

import "fmt"

// UnitMismatchError reports a quantity operation across two different
// units.
type UnitMismatchError struct {
	Left  string
	Right string
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("quantity unit mismatch: %q vs %q", e.Left, e.Right)
}

// CardinalityError reports a collection supplied where the language
// requires a singleton.
type CardinalityError struct {
	Count int
	Want  string
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("expected %s, got a collection of %d values", e.Want, e.Count)
}
