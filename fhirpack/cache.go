package fhirpack

import (
	"context"

	"github.com/carequery/fhirpath/pkg/storage"
	arc "github.com/hashicorp/golang-lru/arc/v2"
)

// Cache memoizes loaded bundles by package URI so services compiling many
// expressions against the same package parse it once.  Eviction is ARC,
// sized in packages.
type Cache struct {
	loader  *Loader
	bundles *arc.ARCCache[string, *Bundle]
}

func NewCache(loader *Loader, size int) (*Cache, error) {
	bundles, err := arc.NewARC[string, *Bundle](size)
	if err != nil {
		return nil, err
	}
	return &Cache{loader: loader, bundles: bundles}, nil
}

// Load returns the cached bundle for uri, loading and caching it on a
// miss.  Concurrent misses for the same URI may load more than once; the
// last load wins, which is harmless since bundles are immutable.
func (c *Cache) Load(ctx context.Context, uri *storage.URI) (*Bundle, error) {
	key := uri.String()
	if bundle, ok := c.bundles.Get(key); ok {
		return bundle, nil
	}
	bundle, err := c.loader.Load(ctx, uri)
	if err != nil {
		return nil, err
	}
	c.bundles.Add(key, bundle)
	return bundle, nil
}
