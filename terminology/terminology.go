// Package terminology resolves value-set URLs to their expanded code lists.
//
// Expansion runs through a fixed-order chain of resolvers: a local resolver
// that expands extensional value sets from definitions on hand, optional
// caching layers, and a client for remote terminology services.  A resolver
// that cannot expand a URL returns a nil ValueSet with a nil error so the
// caller can move on to the next resolver; hard failures return an error.
package terminology

import "context"

// Resolver expands a value-set URL into its member codes.
type Resolver interface {
	// Expand returns the expanded value set, or (nil, nil) when this
	// resolver cannot expand the URL.
	Expand(ctx context.Context, url string) (*ValueSet, error)
}

// Chain tries each resolver in order and returns the first expansion.
// Resolvers after the first hard error are not consulted.
type Chain []Resolver

var _ Resolver = (Chain)(nil)

func (c Chain) Expand(ctx context.Context, url string) (*ValueSet, error) {
	for _, r := range c {
		vs, err := r.Expand(ctx, url)
		if err != nil {
			return nil, err
		}
		if vs != nil {
			return vs, nil
		}
	}
	return nil, nil
}
