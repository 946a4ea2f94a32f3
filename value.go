package fhirpath

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Value is one element of the collection an expression evaluates to.  The
// dynamic payload is one of bool, int64, decimal.Decimal, string, Temporal,
// *Quantity, or a JSON object for structured elements.
type Value struct {
	typ Type
	v   any
}

func Bool(b bool) Value {
	return Value{typ: NewPrimitive(KindBoolean), v: b}
}

func Int(i int64) Value {
	return Value{typ: NewPrimitive(KindInteger), v: i}
}

func Decimal(d decimal.Decimal) Value {
	return Value{typ: NewPrimitive(KindDecimal), v: d}
}

func String(s string) Value {
	return Value{typ: NewPrimitive(KindString), v: s}
}

func TemporalValue(t Temporal) Value {
	return Value{typ: NewPrimitive(t.Kind), v: t}
}

func QuantityValue(q *Quantity) Value {
	return Value{typ: NewPrimitive(KindQuantity), v: q}
}

// Element wraps a structured record fragment with its resolved type.
func Element(typ Type, obj map[string]any) Value {
	return Value{typ: typ, v: obj}
}

func (v Value) Type() Type { return v.typ }

func (v Value) IsBool() bool {
	_, ok := v.v.(bool)
	return ok
}

func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

func (v Value) AsInt() (int64, bool) {
	i, ok := v.v.(int64)
	return i, ok
}

func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

func (v Value) AsTemporal() (Temporal, bool) {
	t, ok := v.v.(Temporal)
	return t, ok
}

func (v Value) AsElement() (map[string]any, bool) {
	m, ok := v.v.(map[string]any)
	return m, ok
}

// AsDecimal widens integers so numeric operations share one arithmetic
// path.
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	switch n := v.v.(type) {
	case decimal.Decimal:
		return n, true
	case int64:
		return decimal.NewFromInt(n), true
	}
	return decimal.Decimal{}, false
}

// AsQuantity converts quantity literals and structured Quantity elements to
// a comparable Quantity.
func (v Value) AsQuantity() (*Quantity, bool) {
	switch q := v.v.(type) {
	case *Quantity:
		return q, true
	case map[string]any:
		if !IsQuantity(v.typ) {
			return nil, false
		}
		raw, ok := q["value"]
		if !ok {
			return nil, false
		}
		num, ok := raw.(json.Number)
		if !ok {
			return nil, false
		}
		d, err := decimal.NewFromString(num.String())
		if err != nil {
			return nil, false
		}
		unit, _ := q["unit"].(string)
		return NewQuantity(d, unit), true
	}
	return nil, false
}

func (v Value) String() string {
	switch x := v.v.(type) {
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int64:
		return fmt.Sprintf("%d", x)
	case decimal.Decimal:
		return x.String()
	case string:
		return x
	case Temporal:
		return x.String()
	case *Quantity:
		return x.String()
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
	return fmt.Sprintf("%v", v.v)
}

var caseFolder = cases.Fold()

// Equal implements the language's "=" between two values.  Values of
// incompatible types are unequal rather than an error; quantities of
// different units fail with UnitMismatchError.
func (v Value) Equal(w Value) (bool, error) {
	return v.equal(w, false)
}

// Equivalent implements "~": like Equal but strings compare under Unicode
// case folding.
func (v Value) Equivalent(w Value) (bool, error) {
	return v.equal(w, true)
}

func (v Value) equal(w Value, fold bool) (bool, error) {
	if lq, ok := v.AsQuantity(); ok {
		if rq, ok := w.AsQuantity(); ok {
			return lq.Equal(rq)
		}
		return false, nil
	}
	if ld, ok := v.AsDecimal(); ok {
		if rd, ok := w.AsDecimal(); ok {
			return ld.Equal(rd), nil
		}
		return false, nil
	}
	switch lhs := v.v.(type) {
	case bool:
		rhs, ok := w.v.(bool)
		return ok && lhs == rhs, nil
	case string:
		rhs, ok := w.v.(string)
		if !ok {
			return false, nil
		}
		if fold {
			return caseFolder.String(lhs) == caseFolder.String(rhs), nil
		}
		return lhs == rhs, nil
	case Temporal:
		rhs, ok := w.v.(Temporal)
		return ok && lhs.Compare(rhs) == 0, nil
	case map[string]any:
		rhs, ok := w.v.(map[string]any)
		return ok && jsonEqual(lhs, rhs), nil
	}
	return false, nil
}

// Compare orders two values, returning -1, 0, or +1.  It fails for
// incomparable payloads and for quantities of different units.
func (v Value) Compare(w Value) (int, error) {
	if lq, ok := v.AsQuantity(); ok {
		if rq, ok := w.AsQuantity(); ok {
			return lq.Compare(rq)
		}
		return 0, fmt.Errorf("cannot compare Quantity with %s", w.typ)
	}
	if ld, ok := v.AsDecimal(); ok {
		if rd, ok := w.AsDecimal(); ok {
			return ld.Cmp(rd), nil
		}
		return 0, fmt.Errorf("cannot compare %s with %s", v.typ, w.typ)
	}
	switch lhs := v.v.(type) {
	case string:
		if rhs, ok := w.v.(string); ok {
			return strings.Compare(lhs, rhs), nil
		}
	case Temporal:
		if rhs, ok := w.v.(Temporal); ok {
			return lhs.Compare(rhs), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s with %s", v.typ, w.typ)
}

func jsonEqual(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			yv, ok := y[k]
			if !ok || !jsonEqual(x[k], yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !jsonEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case json.Number:
		y, ok := b.(json.Number)
		if !ok {
			return false
		}
		xd, xerr := decimal.NewFromString(x.String())
		yd, yerr := decimal.NewFromString(y.String())
		if xerr != nil || yerr != nil {
			return x == y
		}
		return xd.Equal(yd)
	default:
		return a == b
	}
}

// NewValue converts a raw decoded JSON field into a Value of the declared
// type.  Collections never appear here; callers flatten arrays before
// conversion.
func NewValue(typ Type, raw any) (Value, error) {
	prim, ok := typ.(Primitive)
	if !ok {
		obj, ok := raw.(map[string]any)
		if !ok {
			return Value{}, fmt.Errorf("expected an object for %s, got %T", typ, raw)
		}
		return Element(typ, obj), nil
	}
	switch prim.Kind() {
	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("expected a boolean, got %T", raw)
		}
		return Bool(b), nil
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected a string, got %T", raw)
		}
		return String(s), nil
	case KindInteger:
		num, ok := raw.(json.Number)
		if !ok {
			return Value{}, fmt.Errorf("expected an integer, got %T", raw)
		}
		i, err := num.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid integer %q", num.String())
		}
		return Int(i), nil
	case KindDecimal:
		num, ok := raw.(json.Number)
		if !ok {
			return Value{}, fmt.Errorf("expected a number, got %T", raw)
		}
		d, err := decimal.NewFromString(num.String())
		if err != nil {
			return Value{}, fmt.Errorf("invalid decimal %q", num.String())
		}
		return Decimal(d), nil
	case KindDate, KindDateTime, KindTime:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected a %s string, got %T", prim.Kind(), raw)
		}
		t, err := ParseRecordTemporal(prim.Kind(), s)
		if err != nil {
			return Value{}, err
		}
		return TemporalValue(t), nil
	case KindQuantity:
		obj, ok := raw.(map[string]any)
		if !ok {
			return Value{}, fmt.Errorf("expected a quantity object, got %T", raw)
		}
		return Element(typ, obj), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %s", typ)
}

// Collection is the ordered, possibly empty result of evaluating an
// expression.
type Collection []Value

func (c Collection) Empty() bool { return len(c) == 0 }

// Singleton returns the collection's single value, failing with a
// CardinalityError for any other size.
func (c Collection) Singleton() (Value, error) {
	if len(c) != 1 {
		return Value{}, &CardinalityError{Count: len(c), Want: "a single value"}
	}
	return c[0], nil
}

// SingletonBool evaluates the collection as a boolean per the language's
// singleton evaluation rule: empty reports ok=false, a single boolean
// yields its value, and a single non-boolean value is truthy by existence.
func (c Collection) SingletonBool() (bool, bool, error) {
	if len(c) == 0 {
		return false, false, nil
	}
	if len(c) > 1 {
		return false, false, &CardinalityError{Count: len(c), Want: "a single boolean"}
	}
	if b, ok := c[0].AsBool(); ok {
		return b, true, nil
	}
	return true, true, nil
}

// Strings renders every value for assertions and display.
func (c Collection) Strings() []string {
	out := make([]string, len(c))
	for i, v := range c {
		out[i] = v.String()
	}
	return out
}
