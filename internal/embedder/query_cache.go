package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/moviesearch/internal/storage"
)

// QueryStore persists query embeddings. storage.SQLiteStorage satisfies it.
type QueryStore interface {
	FindQueryEmbedding(ctx context.Context, query string, mode storage.MatchMode) (*storage.QueryEmbedding, error)
	InsertQueryEmbedding(ctx context.Context, qe *storage.QueryEmbedding) (*storage.QueryEmbedding, error)
}

// DefaultResolveTimeout bounds one shared resolution of a novel query
const DefaultResolveTimeout = 30 * time.Second

// QueryCacheStats counts how Resolve calls were answered. A miss is a call
// that triggered a provider request; every other successful call is a hit.
type QueryCacheStats struct {
	Hits   int64
	Misses int64
}

// QueryCacheOption configures a QueryCache
type QueryCacheOption func(*QueryCache)

// WithResolveTimeout bounds the provider call and write made for a novel
// query. It applies to the shared resolution, not to any single caller.
func WithResolveTimeout(d time.Duration) QueryCacheOption {
	return func(c *QueryCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// QueryCache resolves a search query to its embedding vector, calling the
// provider at most once per distinct query and persisting the result.
type QueryCache struct {
	store    QueryStore
	embedder Embedder
	mode     storage.MatchMode
	timeout  time.Duration
	group    singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// resolution is the shared outcome of one flight
type resolution struct {
	vector    []float32
	generated bool // false when a concurrent caller had already stored it
}

// NewQueryCache creates a query cache. An empty mode means storage.MatchExact.
func NewQueryCache(store QueryStore, emb Embedder, mode storage.MatchMode, opts ...QueryCacheOption) *QueryCache {
	if mode == "" {
		mode = storage.MatchExact
	}
	c := &QueryCache{
		store:    store,
		embedder: emb,
		mode:     mode,
		timeout:  DefaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the vector for query. A stored entry is returned as is;
// otherwise the provider is called and the result stored. Concurrent calls for
// the same query share one provider call, which runs detached from any single
// caller's cancellation. Each caller still returns as soon as its own ctx ends.
func (c *QueryCache) Resolve(ctx context.Context, query string) ([]float32, error) {
	vec, found, err := c.lookup(ctx, query)
	if err != nil {
		return nil, err
	}
	if found {
		c.hits.Add(1)
		return vec, nil
	}

	// True only for the caller whose closure ran the flight
	led := false
	ch := c.group.DoChan(query, func() (interface{}, error) {
		led = true
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.resolveMiss(flightCtx, query)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	r := res.Val.(resolution)
	if r.generated && led {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}

	// Callers sharing a flight must not share the backing array
	out := make([]float32, len(r.vector))
	copy(out, r.vector)
	return out, nil
}

func (c *QueryCache) resolveMiss(ctx context.Context, query string) (resolution, error) {
	// A concurrent caller may have stored it between lookup and the flight
	vec, found, err := c.lookup(ctx, query)
	if err != nil {
		return resolution{}, err
	}
	if found {
		return resolution{vector: vec}, nil
	}

	emb, err := c.embedder.GenerateEmbedding(ctx, EmbeddingRequest{Text: query})
	if err != nil {
		return resolution{}, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := checkEmbedding(emb); err != nil {
		return resolution{}, err
	}

	stored, err := c.store.InsertQueryEmbedding(ctx, &storage.QueryEmbedding{
		Query:     query,
		Vector:    emb.Vector,
		Dimension: len(emb.Vector),
		Provider:  emb.Provider,
		Model:     emb.Model,
	})
	if err != nil {
		return resolution{}, fmt.Errorf("failed to store query embedding: %w", err)
	}
	return resolution{vector: stored.Vector, generated: true}, nil
}

func (c *QueryCache) lookup(ctx context.Context, query string) ([]float32, bool, error) {
	qe, err := c.store.FindQueryEmbedding(ctx, query, c.mode)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up query embedding: %w", err)
	}
	if len(qe.Vector) == 0 {
		return nil, false, ErrEmptyEmbedding
	}
	return qe.Vector, true, nil
}

// Mode returns the match mode used for lookups
func (c *QueryCache) Mode() storage.MatchMode {
	return c.mode
}

// Stats returns hit and miss counts since creation
func (c *QueryCache) Stats() QueryCacheStats {
	return QueryCacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}
