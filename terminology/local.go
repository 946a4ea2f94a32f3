package terminology

import (
	"context"

	"go.uber.org/zap"
)

// Source supplies locally available definitions by canonical URL, returning
// nil for URLs it does not carry.
type Source interface {
	ValueSet(url string) *ValueSet
	CodeSystem(url string) *CodeSystem
}

// Static is an in-memory Source.
type Static struct {
	ValueSets   map[string]*ValueSet
	CodeSystems map[string]*CodeSystem
}

var _ Source = (*Static)(nil)

func (s *Static) ValueSet(url string) *ValueSet     { return s.ValueSets[url] }
func (s *Static) CodeSystem(url string) *CodeSystem { return s.CodeSystems[url] }

// LocalResolver expands extensional value sets from definitions on hand.
// It never contacts a terminology service: intensional filters and code
// systems missing from the source defer to the next resolver.
type LocalResolver struct {
	source Source
	logger *zap.Logger
}

func NewLocalResolver(source Source, logger *zap.Logger) *LocalResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalResolver{source: source, logger: logger}
}

var _ Resolver = (*LocalResolver)(nil)

// Expand computes the expansion as the union of the include rules minus the
// exclude rules, codes compared by (version, system, code).
func (l *LocalResolver) Expand(ctx context.Context, url string) (*ValueSet, error) {
	url, version := ParseURLVersion(url)
	vs := l.source.ValueSet(url)
	if vs == nil {
		l.logger.Warn("value set not in local source", zap.String("url", url))
		return nil, nil
	}
	if version != "" && version != vs.Version {
		l.logger.Warn("incompatible value set version",
			zap.String("url", url),
			zap.String("requested", version),
			zap.String("found", vs.Version))
		return nil, nil
	}
	if vs.Compose == nil {
		if vs.Expansion != nil {
			return vs, nil
		}
		return nil, nil
	}
	if hasFilter(vs.Compose.Include) || hasFilter(vs.Compose.Exclude) {
		l.logger.Warn("value set uses intensional filters; deferring expansion",
			zap.String("url", url))
		return nil, nil
	}

	var includes, excludes []Coding
	for _, cs := range vs.Compose.Include {
		codes, ok := l.expandConceptSet(vs, cs)
		if !ok {
			return nil, nil
		}
		includes = append(includes, codes...)
	}
	for _, cs := range vs.Compose.Exclude {
		codes, ok := l.expandConceptSet(vs, cs)
		if !ok {
			return nil, nil
		}
		excludes = append(excludes, codes...)
	}

	l.logger.Info("expanding value set locally",
		zap.String("url", vs.URL),
		zap.String("version", vs.Version))

	type triple struct {
		version, system, code string
	}
	remove := make(map[triple]struct{}, len(excludes))
	for _, c := range excludes {
		remove[triple{c.Version, c.System, c.Code}] = struct{}{}
	}
	contains := make([]Coding, 0, len(includes))
	for _, c := range includes {
		if _, excluded := remove[triple{c.Version, c.System, c.Code}]; !excluded {
			contains = append(contains, c)
		}
	}

	expanded := *vs
	expanded.Expansion = &Expansion{Total: len(contains), Contains: contains}
	return &expanded, nil
}

func hasFilter(sets []ConceptSet) bool {
	for _, cs := range sets {
		if len(cs.Filter) > 0 {
			return true
		}
	}
	return false
}

// expandConceptSet lists the codes one include or exclude rule selects.  A
// rule with no explicit concepts selects its entire code system; when that
// system is not on hand, ok is false and expansion defers.
func (l *LocalResolver) expandConceptSet(vs *ValueSet, cs ConceptSet) ([]Coding, bool) {
	if len(cs.Concept) > 0 {
		codes := make([]Coding, 0, len(cs.Concept))
		for _, c := range cs.Concept {
			codes = append(codes, Coding{
				System:  cs.System,
				Version: cs.Version,
				Code:    c.Code,
				Display: c.Display,
			})
		}
		return codes, true
	}
	system := l.source.CodeSystem(cs.System)
	if system == nil {
		l.logger.Warn("code system not available locally; deferring expansion",
			zap.String("url", vs.URL),
			zap.String("system", cs.System))
		return nil, false
	}
	l.logger.Info("expanding value set to entire code system",
		zap.String("url", vs.URL),
		zap.String("system", cs.System))
	codes := []Coding{}
	var walk func([]Concept)
	walk = func(concepts []Concept) {
		for _, c := range concepts {
			codes = append(codes, Coding{
				System:  cs.System,
				Version: cs.Version,
				Code:    c.Code,
				Display: c.Display,
			})
			walk(c.Concept)
		}
	}
	walk(system.Concept)
	return codes, true
}
