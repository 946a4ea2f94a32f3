package interp

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/terminology"
)

type where struct {
	operand  evaluator
	criteria evaluator
}

func (w *where) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := w.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	var out fhirpath.Collection
	for _, candidate := range operand {
		b, ok, err := evalCriteria(ctx, w.criteria, sc, candidate)
		if err != nil {
			return nil, err
		}
		if ok && b {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// evalCriteria applies a criteria expression with $this bound to one
// candidate element, reducing the result by the singleton boolean rule.
func evalCriteria(ctx context.Context, criteria evaluator, sc *scope, candidate fhirpath.Value) (bool, bool, error) {
	inner := &scope{root: sc.root, this: &candidate}
	result, err := criteria.eval(ctx, inner)
	if err != nil {
		return false, false, err
	}
	return result.SingletonBool()
}

type all struct {
	operand  evaluator
	criteria evaluator
}

func (a *all) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := a.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	// Vacuously true on the empty collection.
	for _, candidate := range operand {
		b, ok, err := evalCriteria(ctx, a.criteria, sc, candidate)
		if err != nil {
			return nil, err
		}
		if !ok || !b {
			return fhirpath.Collection{fhirpath.Bool(false)}, nil
		}
	}
	return fhirpath.Collection{fhirpath.Bool(true)}, nil
}

type exists struct {
	operand  evaluator
	criteria evaluator
}

func (e *exists) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := e.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	if e.criteria == nil {
		return fhirpath.Collection{fhirpath.Bool(!operand.Empty())}, nil
	}
	for _, candidate := range operand {
		b, ok, err := evalCriteria(ctx, e.criteria, sc, candidate)
		if err != nil {
			return nil, err
		}
		if ok && b {
			return fhirpath.Collection{fhirpath.Bool(true)}, nil
		}
	}
	return fhirpath.Collection{fhirpath.Bool(false)}, nil
}

type empty struct {
	operand evaluator
}

func (e *empty) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := e.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	return fhirpath.Collection{fhirpath.Bool(operand.Empty())}, nil
}

type count struct {
	operand evaluator
}

func (c *count) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := c.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	return fhirpath.Collection{fhirpath.Int(int64(len(operand)))}, nil
}

type first struct {
	operand evaluator
}

func (f *first) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := f.operand.eval(ctx, sc)
	if err != nil || operand.Empty() {
		return nil, err
	}
	return fhirpath.Collection{operand[0]}, nil
}

type anyTrue struct {
	operand evaluator
}

func (a *anyTrue) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := a.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	found := false
	for _, v := range operand {
		b, ok := v.AsBool()
		if !ok {
			return nil, fmt.Errorf("anyTrue requires booleans, not %s", v.Type())
		}
		found = found || b
	}
	return fhirpath.Collection{fhirpath.Bool(found)}, nil
}

type not struct {
	operand evaluator
}

func (n *not) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := n.operand.eval(ctx, sc)
	if err != nil || operand.Empty() {
		return nil, err
	}
	conj := true
	for _, v := range operand {
		b, ok := v.AsBool()
		if !ok {
			return nil, fmt.Errorf("not requires booleans, not %s", v.Type())
		}
		conj = conj && b
	}
	return fhirpath.Collection{fhirpath.Bool(!conj)}, nil
}

type hasValue struct {
	operand evaluator
}

func (h *hasValue) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := h.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	if len(operand) != 1 {
		return fhirpath.Collection{fhirpath.Bool(false)}, nil
	}
	_, structured := operand[0].AsElement()
	return fhirpath.Collection{fhirpath.Bool(!structured)}, nil
}

type matches struct {
	operand evaluator
	re      *regexp.Regexp
}

func (m *matches) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := m.operand.eval(ctx, sc)
	if err != nil || operand.Empty() {
		return nil, err
	}
	v, err := operand.Singleton()
	if err != nil {
		return nil, err
	}
	s, ok := v.AsString()
	if !ok {
		return nil, fmt.Errorf("matches requires a string operand, not %s", v.Type())
	}
	return fhirpath.Collection{fhirpath.Bool(m.re.MatchString(s))}, nil
}

type toInteger struct {
	operand evaluator
}

func (t *toInteger) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := t.operand.eval(ctx, sc)
	if err != nil || operand.Empty() {
		return nil, err
	}
	v, err := operand.Singleton()
	if err != nil {
		return nil, err
	}
	if i, ok := v.AsInt(); ok {
		return fhirpath.Collection{fhirpath.Int(i)}, nil
	}
	if b, ok := v.AsBool(); ok {
		if b {
			return fhirpath.Collection{fhirpath.Int(1)}, nil
		}
		return fhirpath.Collection{fhirpath.Int(0)}, nil
	}
	if s, ok := v.AsString(); ok {
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, nil
		}
		return fhirpath.Collection{fhirpath.Int(i)}, nil
	}
	return nil, fmt.Errorf("toInteger is not defined for %s", v.Type())
}

// idFor extracts resource ids from references to one target type.  Only
// relative Type/id references carry an id; anything else contributes
// nothing.
type idFor struct {
	operand  evaluator
	typeName string
}

func (f *idFor) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := f.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	var out fhirpath.Collection
	for _, v := range operand {
		obj, ok := v.AsElement()
		if !ok {
			continue
		}
		ref, ok := obj["reference"].(string)
		if !ok {
			continue
		}
		typ, id, ok := strings.Cut(ref, "/")
		if !ok || !strings.EqualFold(typ, f.typeName) {
			continue
		}
		out = append(out, fhirpath.String(id))
	}
	return out, nil
}

// referenceTarget normalizes an idFor argument to the resource type named
// in relative references: both patient and FHIR.Patient select Patient/...
func referenceTarget(name string) string {
	name = strings.TrimPrefix(name, "FHIR.")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// memberOf tests codes against a value set expansion.  The expansion is
// fetched once on first use and memoized for the interpreter's lifetime.
type memberOf struct {
	operand  evaluator
	url      string
	resolver terminology.Resolver

	mu    sync.Mutex
	codes map[terminology.CodeValue]struct{}
}

func (m *memberOf) eval(ctx context.Context, sc *scope) (fhirpath.Collection, error) {
	operand, err := m.operand.eval(ctx, sc)
	if err != nil {
		return nil, err
	}
	codes, err := m.expand(ctx)
	if err != nil {
		return nil, err
	}
	if operand.Empty() {
		return fhirpath.Collection{fhirpath.Bool(false)}, nil
	}
	var out fhirpath.Collection
	for _, v := range operand {
		member, err := isMember(v, codes)
		if err != nil {
			return nil, err
		}
		out = append(out, fhirpath.Bool(member))
	}
	return out, nil
}

func (m *memberOf) expand(ctx context.Context) (map[terminology.CodeValue]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes != nil {
		return m.codes, nil
	}
	if m.resolver == nil {
		return nil, fmt.Errorf("memberOf(%s): no terminology resolver configured", m.url)
	}
	vs, err := m.resolver.Expand(ctx, m.url)
	if err != nil {
		return nil, err
	}
	if vs == nil {
		return nil, fmt.Errorf("no value set %s found", m.url)
	}
	m.codes = vs.Codes()
	return m.codes, nil
}

func isMember(v fhirpath.Value, codes map[terminology.CodeValue]struct{}) (bool, error) {
	if code, ok := v.AsString(); ok {
		// A bare code has no system, so any system may claim it.
		for cv := range codes {
			if cv.Code == code {
				return true, nil
			}
		}
		return false, nil
	}
	obj, ok := v.AsElement()
	if !ok {
		return false, fmt.Errorf("memberOf requires a code, Coding, or CodeableConcept operand, not %s", v.Type())
	}
	if fhirpath.IsCodeableConcept(v.Type()) {
		codings, _ := obj["coding"].([]any)
		for _, raw := range codings {
			coding, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if codingMember(coding, codes) {
				return true, nil
			}
		}
		return false, nil
	}
	return codingMember(obj, codes), nil
}

func codingMember(coding map[string]any, codes map[terminology.CodeValue]struct{}) bool {
	system, _ := coding["system"].(string)
	code, _ := coding["code"].(string)
	_, ok := codes[terminology.CodeValue{System: system, Code: code}]
	return ok
}
