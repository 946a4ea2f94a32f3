// Package fhirpath provides the value model and type system shared by the
// FHIRPath compiler, its in-memory interpreter, and its SQL encoders.  A
// Type describes the statically resolved shape of an expression step and a
// Value is one element of the ordered collection every expression evaluates
// to.  Types are resolved against FHIR StructureDefinitions by the compiler
// packages; values are backed by FHIR JSON resources.
package fhirpath

import (
	"fmt"
	"strings"

	"github.com/carequery/fhirpath/schema"
)

// Kind enumerates the primitive value categories of the path language.
type Kind int

const (
	KindBoolean Kind = iota
	KindString
	KindInteger
	KindDecimal
	KindDate
	KindDateTime
	KindTime
	KindQuantity
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "Boolean"
	case KindString:
		return "String"
	case KindInteger:
		return "Integer"
	case KindDecimal:
		return "Decimal"
	case KindDate:
		return "Date"
	case KindDateTime:
		return "DateTime"
	case KindTime:
		return "Time"
	case KindQuantity:
		return "Quantity"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Cardinality describes how many values a typed expression step produces.
// A child element of a collection is itself collection-valued even when its
// own cardinality is scalar, so that status is tracked separately.
type Cardinality int

const (
	Scalar Cardinality = iota
	Repeated
	ChildOfRepeated
)

// Type is the resolved static type of an expression node.  The concrete
// variants are Primitive, Struct, Union, and Empty.
type Type interface {
	Cardinality() Cardinality
	// WithCardinality returns a copy of the type carrying the given
	// cardinality.  The receiver is unchanged.
	WithCardinality(Cardinality) Type
	String() string
	typeNode()
}

// Returns true for types whose values arrive as collections, either because
// the element repeats or because an ancestor element repeats.
func IsCollection(t Type) bool {
	if t == nil {
		return false
	}
	return t.Cardinality() != Scalar
}

type Primitive struct {
	kind Kind
	card Cardinality
}

func NewPrimitive(kind Kind) Primitive {
	return Primitive{kind: kind}
}

func (p Primitive) Kind() Kind               { return p.kind }
func (p Primitive) Cardinality() Cardinality { return p.card }
func (p Primitive) String() string           { return p.kind.String() }
func (Primitive) typeNode()                  {}

func (p Primitive) WithCardinality(c Cardinality) Type {
	p.card = c
	return p
}

// Struct is a type backed by a StructureDefinition.  Path selects a backbone
// element within the definition; it is empty when the type is the
// definition's root.
type Struct struct {
	Def  *schema.StructureDefinition
	Path string
	card Cardinality
}

func NewStruct(def *schema.StructureDefinition, path string) *Struct {
	return &Struct{Def: def, Path: path}
}

func (s *Struct) Cardinality() Cardinality { return s.card }

func (s *Struct) WithCardinality(c Cardinality) Type {
	dup := *s
	dup.card = c
	return &dup
}

func (s *Struct) String() string {
	if s.Path != "" {
		return s.Def.Name + "." + s.Path
	}
	return s.Def.Name
}

func (*Struct) typeNode() {}

// URL returns the canonical URL of the backing definition.
func (s *Struct) URL() string { return s.Def.URL }

// Union is the type of a polymorphic choice element.  Members are ordered as
// encountered in the schema and pairwise distinct; Names holds the schema
// type code for the member at the same index.
type Union struct {
	Names   []string
	Members []Type
	card    Cardinality
}

func NewUnion(names []string, members []Type) *Union {
	return &Union{Names: names, Members: members}
}

func (u *Union) Cardinality() Cardinality { return u.card }

func (u *Union) WithCardinality(c Cardinality) Type {
	dup := *u
	dup.card = c
	return &dup
}

func (u *Union) String() string {
	return "Union(" + strings.Join(u.Names, ", ") + ")"
}

func (*Union) typeNode() {}

// Member returns the union member whose schema type code matches name,
// along with the canonical spelling of that code.  Matching is
// case-insensitive as choice suffixes are conventionally capitalized in
// paths but lowercased for primitives.
func (u *Union) Member(name string) (Type, string, bool) {
	for i, n := range u.Names {
		if strings.EqualFold(n, name) {
			return u.Members[i], n, true
		}
	}
	return nil, "", false
}

// Empty is the type of the empty collection literal and of expressions
// provably evaluating to no values.
type Empty struct{}

func (Empty) Cardinality() Cardinality           { return Scalar }
func (e Empty) WithCardinality(Cardinality) Type { return e }
func (Empty) String() string                     { return "Empty" }
func (Empty) typeNode()                          {}

// FHIR type codes for primitives, as they appear in ElementDefinition type
// references, mapped onto the value kinds the language computes with.
var primitiveKinds = map[string]Kind{
	"base64Binary": KindString,
	"boolean":      KindBoolean,
	"canonical":    KindString,
	"code":         KindString,
	"date":         KindDate,
	"dateTime":     KindDateTime,
	"decimal":      KindDecimal,
	"id":           KindString,
	"instant":      KindDateTime,
	"integer":      KindInteger,
	"markdown":     KindString,
	"oid":          KindString,
	"positiveInt":  KindInteger,
	"string":       KindString,
	"time":         KindTime,
	"unsignedInt":  KindInteger,
	"uri":          KindString,
	"url":          KindString,
	"uuid":         KindString,
	"xhtml":        KindString,
	"http://hl7.org/fhirpath/System.String": KindString,
}

// PrimitiveForCode returns the primitive type for a FHIR type code, or
// false if the code names a structured type.
func PrimitiveForCode(code string) (Primitive, bool) {
	kind, ok := primitiveKinds[code]
	if !ok {
		return Primitive{}, false
	}
	return NewPrimitive(kind), true
}

const quantityURL = "http://hl7.org/fhir/StructureDefinition/Quantity"

// IsQuantity reports whether t is the quantity primitive or a structured
// type backed by the FHIR Quantity definition.
func IsQuantity(t Type) bool {
	switch t := t.(type) {
	case Primitive:
		return t.kind == KindQuantity
	case *Struct:
		return t.URL() == quantityURL || t.Def.Name == "Quantity"
	}
	return false
}

// IsCoding reports whether t is backed by the FHIR Coding definition.
func IsCoding(t Type) bool {
	s, ok := t.(*Struct)
	return ok && s.Path == "" && s.Def.Name == "Coding"
}

// IsCodeableConcept reports whether t is backed by the FHIR CodeableConcept
// definition.
func IsCodeableConcept(t Type) bool {
	s, ok := t.(*Struct)
	return ok && s.Path == "" && s.Def.Name == "CodeableConcept"
}

func isNumeric(t Type) bool {
	p, ok := t.(Primitive)
	return ok && (p.kind == KindInteger || p.kind == KindDecimal || p.kind == KindQuantity)
}

func isTemporal(t Type) bool {
	p, ok := t.(Primitive)
	return ok && (p.kind == KindDate || p.kind == KindDateTime || p.kind == KindTime)
}

// Promote implements the language's numeric and temporal widening for a
// pair of operand types: Integer widens to Decimal, Integer and Decimal
// widen to Quantity, and Date widens to DateTime.  It returns false when no
// common type exists.  Empty operands promote to the other side's type since
// emptiness propagates at runtime rather than failing type resolution.
func Promote(a, b Type) (Type, bool) {
	if _, ok := a.(Empty); ok {
		return b, true
	}
	if _, ok := b.(Empty); ok {
		return a, true
	}
	pa, aok := a.(Primitive)
	pb, bok := b.(Primitive)
	if !aok || !bok {
		if sameStruct(a, b) {
			return a, true
		}
		if IsQuantity(a) && IsQuantity(b) {
			return NewPrimitive(KindQuantity), true
		}
		return nil, false
	}
	if pa.kind == pb.kind {
		return NewPrimitive(pa.kind), true
	}
	switch {
	case numericPair(pa, pb, KindInteger, KindDecimal):
		return NewPrimitive(KindDecimal), true
	case numericPair(pa, pb, KindInteger, KindQuantity),
		numericPair(pa, pb, KindDecimal, KindQuantity):
		return NewPrimitive(KindQuantity), true
	case numericPair(pa, pb, KindDate, KindDateTime):
		return NewPrimitive(KindDateTime), true
	}
	return nil, false
}

func numericPair(a, b Primitive, x, y Kind) bool {
	return (a.kind == x && b.kind == y) || (a.kind == y && b.kind == x)
}

func sameStruct(a, b Type) bool {
	sa, aok := a.(*Struct)
	sb, bok := b.(*Struct)
	return aok && bok && sa.URL() == sb.URL() && sa.Path == sb.Path
}

// Coerces reports whether a value of type from may be used where type to is
// required, allowing identity and the Promote widenings.
func Coerces(from, to Type) bool {
	if from == nil || to == nil {
		return false
	}
	if _, ok := from.(Empty); ok {
		return true
	}
	p, ok := Promote(from, to)
	if !ok {
		return false
	}
	pt, tok := to.(Primitive)
	pp, pok := p.(Primitive)
	if tok && pok {
		return pt.kind == pp.kind
	}
	return true
}
