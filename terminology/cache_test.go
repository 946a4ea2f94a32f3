package terminology_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carequery/fhirpath/terminology"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingResolver resolves exactly one value-set URL and counts calls.
type countingResolver struct {
	vs    *terminology.ValueSet
	calls int
}

func (c *countingResolver) Expand(ctx context.Context, url string) (*terminology.ValueSet, error) {
	c.calls++
	if c.vs != nil && c.vs.URL == url {
		return c.vs, nil
	}
	return nil, nil
}

func testExpansion(url string) *terminology.ValueSet {
	return &terminology.ValueSet{
		URL:       url,
		Expansion: &terminology.Expansion{Contains: []terminology.Coding{{System: "s", Code: "a"}}},
	}
}

func TestCacheResolver(t *testing.T) {
	const url = "http://example.org/vs/cached"
	next := &countingResolver{vs: testExpansion(url)}
	cache, err := terminology.NewCacheResolver(next, 8)
	require.NoError(t, err)

	for range 3 {
		vs, err := cache.Expand(context.Background(), url)
		require.NoError(t, err)
		require.NotNil(t, vs)
		assert.Equal(t, []string{"a"}, codesOf(vs))
	}
	assert.Equal(t, 1, next.calls)

	// Deferrals are consulted every time, never cached.
	for range 2 {
		vs, err := cache.Expand(context.Background(), "http://example.org/vs/other")
		require.NoError(t, err)
		assert.Nil(t, vs)
	}
	assert.Equal(t, 3, next.calls)
}

type fakeRedis struct {
	store  map[string]string
	getErr error
	gets   int
	sets   int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{store: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.gets++
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	if v, ok := f.store[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.sets++
	f.store[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func TestRedisResolver(t *testing.T) {
	const url = "http://example.org/vs/shared"
	next := &countingResolver{vs: testExpansion(url)}
	store := newFakeRedis()
	r := terminology.NewRedisResolver(next, store, time.Hour, nil)

	vs, err := r.Expand(context.Background(), url)
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, store.sets)

	// The second expansion is served from redis.
	vs, err = r.Expand(context.Background(), url)
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, []string{"a"}, codesOf(vs))
	assert.Equal(t, 1, next.calls)
}

func TestRedisResolverDegrades(t *testing.T) {
	const url = "http://example.org/vs/shared"
	next := &countingResolver{vs: testExpansion(url)}
	store := newFakeRedis()
	store.getErr = errors.New("connection refused")
	r := terminology.NewRedisResolver(next, store, time.Hour, nil)

	// A redis outage falls through to the underlying resolver.
	vs, err := r.Expand(context.Background(), url)
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, 1, next.calls)
}
