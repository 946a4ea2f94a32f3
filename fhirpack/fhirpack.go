// Package fhirpack loads FHIR definition packages: the structure
// definitions, value sets, and code systems the compiler and the
// terminology resolver work from.  A package is a directory of JSON
// resources or an NPM-style .tgz archive, addressed by a storage URI so
// packages load the same way from local disk, S3, or stdin.
package fhirpack

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/carequery/fhirpath/pkg/storage"
	"github.com/carequery/fhirpath/schema"
	"github.com/carequery/fhirpath/terminology"
	"go.uber.org/zap"
)

// Bundle is the loaded content of one or more packages.  Once loaded it is
// immutable and safe for concurrent use.
type Bundle struct {
	defs        []*schema.StructureDefinition
	valueSets   map[string]*terminology.ValueSet
	codeSystems map[string]*terminology.CodeSystem
}

var _ terminology.Source = (*Bundle)(nil)

// Environment indexes the bundle's structure definitions for navigation.
func (b *Bundle) Environment() (*schema.Environment, error) {
	return schema.NewEnvironment(b.defs...)
}

// Definitions returns the loaded structure definitions in load order.
func (b *Bundle) Definitions() []*schema.StructureDefinition { return b.defs }

// ValueSet and CodeSystem make the bundle a terminology.Source for local
// value-set expansion.
func (b *Bundle) ValueSet(url string) *terminology.ValueSet { return b.valueSets[url] }

func (b *Bundle) CodeSystem(url string) *terminology.CodeSystem { return b.codeSystems[url] }

// Loader reads packages through a storage engine.
type Loader struct {
	engine storage.Engine
	logger *zap.Logger
}

func NewLoader(engine storage.Engine, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{engine: engine, logger: logger}
}

// Load reads the package at uri: a directory of JSON resources, or a .tgz
// archive when the URI names one.  Files that are not FHIR resources are
// skipped; a file that looks like a resource but does not decode fails the
// load.
func (l *Loader) Load(ctx context.Context, uri *storage.URI) (*Bundle, error) {
	bundle := &Bundle{
		valueSets:   make(map[string]*terminology.ValueSet),
		codeSystems: make(map[string]*terminology.CodeSystem),
	}
	var err error
	if strings.HasSuffix(uri.Path, ".tgz") || strings.HasSuffix(uri.Path, ".tar.gz") {
		err = l.loadArchive(ctx, uri, bundle)
	} else {
		err = l.loadDir(ctx, uri, bundle)
	}
	if err != nil {
		return nil, err
	}
	l.logger.Info("loaded package",
		zap.String("uri", uri.String()),
		zap.Int("structure_definitions", len(bundle.defs)),
		zap.Int("value_sets", len(bundle.valueSets)),
		zap.Int("code_systems", len(bundle.codeSystems)))
	return bundle, nil
}

func (l *Loader) loadDir(ctx context.Context, uri *storage.URI, bundle *Bundle) error {
	infos, err := l.engine.List(ctx, uri)
	if err != nil {
		return fmt.Errorf("listing package %s: %w", uri, err)
	}
	for _, info := range infos {
		if !strings.HasSuffix(info.Name, ".json") {
			continue
		}
		data, err := storage.ReadFile(ctx, l.engine, uri.JoinPath(info.Name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", info.Name, err)
		}
		if err := l.add(bundle, info.Name, data); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) loadArchive(ctx context.Context, uri *storage.URI, bundle *Bundle) error {
	r, err := l.engine.Get(ctx, uri)
	if err != nil {
		return fmt.Errorf("opening package %s: %w", uri, err)
	}
	defer r.Close()
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("package %s: %w", uri, err)
	}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("package %s: %w", uri, err)
		}
		name := strings.TrimPrefix(hdr.Name, "package/")
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(name, ".json") ||
			strings.Contains(name, "/") || strings.HasPrefix(name, ".") ||
			name == "package.json" {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("reading %s from %s: %w", name, uri, err)
		}
		if err := l.add(bundle, name, data); err != nil {
			return err
		}
	}
}

func (l *Loader) add(bundle *Bundle, name string, data []byte) error {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		// Not a resource; packages carry indexes and metadata too.
		l.logger.Debug("skipping non-resource file", zap.String("file", name))
		return nil
	}
	switch probe.ResourceType {
	case "StructureDefinition":
		def, err := schema.Decode(data)
		if err != nil {
			var malformed *schema.MalformedSchemaError
			if errors.As(err, &malformed) {
				// Differential-only definitions cannot be navigated;
				// skip them rather than poisoning the whole package.
				l.logger.Warn("skipping structure definition",
					zap.String("file", name), zap.Error(err))
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		bundle.defs = append(bundle.defs, def)
	case "ValueSet":
		var vs terminology.ValueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		bundle.valueSets[vs.URL] = &vs
	case "CodeSystem":
		var cs terminology.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		bundle.codeSystems[cs.URL] = &cs
	}
	return nil
}
