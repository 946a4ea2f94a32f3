package fhirpath

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quantity is a decimal value paired with a unit string.  Ordering and
// equality are defined only between quantities of identical units; mixing
// units is a UnitMismatchError, never a silent conversion.
type Quantity struct {
	Value decimal.Decimal
	Unit  string
}

func NewQuantity(value decimal.Decimal, unit string) *Quantity {
	return &Quantity{Value: value, Unit: unit}
}

func (q *Quantity) String() string {
	return fmt.Sprintf("%s '%s'", q.Value.String(), q.Unit)
}

func (q *Quantity) checkUnit(r *Quantity) error {
	if q.Unit != r.Unit {
		return &UnitMismatchError{Left: q.Unit, Right: r.Unit}
	}
	return nil
}

// Equal compares two quantities of the same unit.
func (q *Quantity) Equal(r *Quantity) (bool, error) {
	if err := q.checkUnit(r); err != nil {
		return false, err
	}
	return q.Value.Equal(r.Value), nil
}

// Compare returns -1, 0, or +1 ordering q against r, failing when the units
// differ.
func (q *Quantity) Compare(r *Quantity) (int, error) {
	if err := q.checkUnit(r); err != nil {
		return 0, err
	}
	return q.Value.Cmp(r.Value), nil
}

// Add returns q + r in q's unit.
func (q *Quantity) Add(r *Quantity) (*Quantity, error) {
	if err := q.checkUnit(r); err != nil {
		return nil, err
	}
	return NewQuantity(q.Value.Add(r.Value), q.Unit), nil
}

// Sub returns q - r in q's unit.
func (q *Quantity) Sub(r *Quantity) (*Quantity, error) {
	if err := q.checkUnit(r); err != nil {
		return nil, err
	}
	return NewQuantity(q.Value.Sub(r.Value), q.Unit), nil
}
