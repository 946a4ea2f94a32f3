package schema

import (
	"fmt"
	"strings"
)

// Walker resolves one dotted path against an Environment, one identifier at
// a time.  It holds the current element and its containing definition as
// mutable state, so a Walker must not be shared across concurrent
// resolutions; Fork copies one cheaply instead.
type Walker struct {
	env      *Environment
	def      *StructureDefinition
	elem     *ElementDefinition
	selected string
}

// Walk returns a Walker positioned at the root element of the definition
// named by url.
func (e *Environment) Walk(url string) (*Walker, error) {
	def, ok := e.Definition(url)
	if !ok {
		return nil, &UnresolvedTypeError{Type: url}
	}
	return &Walker{env: e, def: def, elem: def.Root()}, nil
}

// At returns a walker positioned at the element of def with the given
// path, or at def's root when path is empty.
func (e *Environment) At(def *StructureDefinition, path string) (*Walker, error) {
	if path == "" {
		return &Walker{env: e, def: def, elem: def.Root()}, nil
	}
	for _, elem := range def.Elements {
		if elem.Path == path && !elem.Slice() {
			return &Walker{env: e, def: def, elem: elem}, nil
		}
	}
	return nil, &MalformedSchemaError{
		URL:    def.URL,
		Reason: fmt.Sprintf("no element at path %q", path),
	}
}

// Fork returns an independent Walker at the same position.
func (w *Walker) Fork() *Walker {
	dup := *w
	return &dup
}

// Element returns the element the walker is positioned at.
func (w *Walker) Element() *ElementDefinition { return w.elem }

// Definition returns the structure definition containing the current
// element.
func (w *Walker) Definition() *StructureDefinition { return w.def }

// Selected returns the choice type selected at the current element, or ""
// when none has been.
func (w *Walker) Selected() string { return w.selected }

// Step advances the walker to the child element reached by name.  Children
// inlined in the containing definition (backbone elements, choice variants,
// extension slices) are searched first; otherwise the current element's
// declared type is dereferenced to its own definition and the search
// continues from that definition's root.  Content references resolve to
// their target element as they are encountered, so recursive structures
// cost one lookup per step rather than any eager unrolling.
func (w *Walker) Step(name string) error {
	if elem := findChild(w.def, w.elem.Path, name); elem != nil {
		return w.position(w.def, elem)
	}
	if len(w.elem.Types) == 0 {
		// Root elements declare no type to dereference; an unmatched
		// name here is an unknown field, not a schema defect.
		return &FieldError{
			Field:     name,
			Container: fmt.Sprintf("%s (%s)", w.elem.Path, w.def.URL),
		}
	}
	code, err := w.typeCode()
	if err != nil {
		return err
	}
	def, ok := w.env.Definition(code)
	if !ok {
		return &UnresolvedTypeError{Type: code}
	}
	if elem := findChild(def, def.Root().Path, name); elem != nil {
		return w.position(def, elem)
	}
	return &FieldError{
		Field:     name,
		Container: fmt.Sprintf("%s (%s)", w.elem.Path, w.def.URL),
	}
}

// Children returns the names reachable by Step from the current
// position. It is meant for diagnostics, not navigation: unresolvable
// type references yield no names rather than an error.
func (w *Walker) Children() []string {
	names := childNames(w.def, w.elem.Path)
	if len(names) > 0 {
		return names
	}
	code, err := w.typeCode()
	if err != nil {
		return nil
	}
	def, ok := w.env.Definition(code)
	if !ok {
		return nil
	}
	return childNames(def, def.Root().Path)
}

func childNames(def *StructureDefinition, base string) []string {
	prefix := base + "."
	var names []string
	for _, elem := range def.Elements {
		rest, ok := strings.CutPrefix(elem.Path, prefix)
		if !ok || strings.Contains(rest, ".") {
			continue
		}
		if elem.Slice() {
			names = append(names, elem.SliceName)
			continue
		}
		names = append(names, strings.TrimSuffix(rest, "[x]"))
	}
	return names
}

// SelectType narrows the current choice element to one of its declared
// types, enabling further steps through it.  The name is matched
// case-insensitively against the element's type codes.
func (w *Walker) SelectType(name string) error {
	for _, ref := range w.elem.Types {
		if strings.EqualFold(ref.Code, name) {
			w.selected = ref.Code
			return nil
		}
	}
	return &FieldError{
		Field:     name,
		Container: fmt.Sprintf("choice element %s", w.elem.Path),
	}
}

func (w *Walker) position(def *StructureDefinition, elem *ElementDefinition) error {
	if elem.ContentReference != "" {
		id := strings.TrimPrefix(elem.ContentReference, "#")
		target := def.ElementByID(id)
		if target == nil {
			return &MalformedSchemaError{
				URL:    def.URL,
				Reason: fmt.Sprintf("content reference %q has no target element", elem.ContentReference),
			}
		}
		elem = target
	}
	w.def, w.elem, w.selected = def, elem, ""
	return nil
}

func (w *Walker) typeCode() (string, error) {
	types := w.elem.Types
	if len(types) == 0 {
		return "", &MalformedSchemaError{
			URL:    w.def.URL,
			Reason: fmt.Sprintf("element %q declares no type", w.elem.ID),
		}
	}
	if w.elem.Choice() || len(types) > 1 {
		if w.selected == "" {
			return "", &ChoiceError{Element: w.elem.Path}
		}
		return w.selected, nil
	}
	return types[0].Code, nil
}

// findChild scans def's ordered elements for the child of base reached by
// name: a plain child path, its "[x]" choice variant, or an extension slice
// whose slice name matches.  Other slices never match a path step.
func findChild(def *StructureDefinition, base, name string) *ElementDefinition {
	qualified := base + "." + name
	choice := qualified + "[x]"
	for _, elem := range def.Elements {
		if elem.Slice() {
			if elem.SliceName == name && elem.Path == base+".extension" {
				return elem
			}
			continue
		}
		if elem.Path == qualified || elem.Path == choice {
			return elem
		}
	}
	return nil
}
