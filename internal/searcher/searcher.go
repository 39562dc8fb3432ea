package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/moviesearch/internal/storage"
	"github.com/dshills/moviesearch/pkg/types"
)

const (
	// DefaultLimit is used when a request leaves the limit unset
	DefaultLimit = 3
	// MaxLimit caps the limit of a single request
	MaxLimit = 100
	// DefaultCacheSize is the number of responses kept in the response cache
	DefaultCacheSize = 1000
	// DefaultCacheTTL is how long a cached response stays valid
	DefaultCacheTTL = 5 * time.Minute
)

var (
	// ErrEmptyQuery is returned for blank query strings
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrNotInitialized is returned when a Searcher is missing a collaborator
	ErrNotInitialized = errors.New("searcher not initialized")
)

// QueryResolver resolves a query string to its embedding.
// embedder.QueryCache satisfies it.
type QueryResolver interface {
	Resolve(ctx context.Context, query string) ([]float32, error)
}

// Config configures a Searcher
type Config struct {
	// Timeout bounds a whole merge; zero means no timeout
	Timeout time.Duration
	// CacheSize is the response cache capacity; zero means DefaultCacheSize
	CacheSize int
	Logger    *slog.Logger
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Limit    int  // Zero means DefaultLimit
	UseCache bool // Whether to use the response cache
	CacheTTL time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results        []types.MovieResult
	Type           types.ResultType
	TextResults    int
	VectorResults  int
	TextDuration   time.Duration
	EmbedDuration  time.Duration
	VectorDuration time.Duration
	Duration       time.Duration
	CacheHit       bool
}

// MergeResult is the outcome of Merge before projection
type MergeResult struct {
	Movies         []*storage.Movie
	Type           types.ResultType
	TextResults    int
	VectorResults  int
	TextDuration   time.Duration
	EmbedDuration  time.Duration
	VectorDuration time.Duration
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher combines text and vector search into one classified result
type Searcher struct {
	text     *TextSearcher
	vector   *VectorSearcher
	resolver QueryResolver
	timeout  time.Duration
	logger   *slog.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// NewSearcher creates a new Searcher instance
func NewSearcher(text TextStore, index VectorIndex, resolver QueryResolver, cfg Config) *Searcher {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[[32]byte, *cacheEntry](size)
	if err != nil {
		// This should never happen with a positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Searcher{
		resolver: resolver,
		timeout:  cfg.Timeout,
		logger:   logger,
		cache:    cache,
	}
	if text != nil {
		s.text = NewTextSearcher(text)
	}
	if index != nil {
		s.vector = NewVectorSearcher(index)
	}
	return s
}

// Merge runs the text stage and, when it cannot fill limit on its own, tops
// the result up with nearest plots.
//
// Text matches always come first in title order. Vector hits follow in
// distance order, skipping movies already present, and the result is capped
// at limit. The type is TEXT when the text stage alone filled limit, VECTOR
// when it found nothing and HYBRID otherwise. A limit of zero or less returns
// an empty TEXT result without touching the store.
func (s *Searcher) Merge(ctx context.Context, query string, limit int) (*MergeResult, error) {
	if limit <= 0 {
		return &MergeResult{Movies: []*storage.Movie{}, Type: types.ResultText}, nil
	}
	if s.text == nil || s.vector == nil || s.resolver == nil {
		return nil, ErrNotInitialized
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	textMovies, textElapsed, err := s.text.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	result := &MergeResult{
		TextResults:  len(textMovies),
		TextDuration: textElapsed,
	}

	if len(textMovies) >= limit {
		s.logger.Debug("text search filled limit", "query", query, "limit", limit)
		result.Movies = textMovies
		result.Type = types.ResultText
		return result, nil
	}

	embedStart := time.Now()
	vector, err := s.resolver.Resolve(ctx, query)
	result.EmbedDuration = time.Since(embedStart)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve query embedding: %w", err)
	}

	hits, vectorElapsed, err := s.vector.Search(ctx, vector, limit)
	if err != nil {
		return nil, err
	}
	result.VectorResults = len(hits)
	result.VectorDuration = vectorElapsed

	result.Movies = mergeByID(textMovies, hits, limit)
	if len(textMovies) > 0 {
		result.Type = types.ResultHybrid
	} else {
		result.Type = types.ResultVector
	}

	s.logger.Debug("merged search results",
		"query", query,
		"type", result.Type,
		"text", len(textMovies),
		"vector", len(hits),
		"returned", len(result.Movies))

	return result, nil
}

// mergeByID appends vector hits after text matches, keeping the first
// occurrence of each id, and caps the result at limit
func mergeByID(text []*storage.Movie, hits []*storage.ScoredMovie, limit int) []*storage.Movie {
	seen := make(map[int64]struct{}, len(text)+len(hits))
	merged := make([]*storage.Movie, 0, limit)

	add := func(m *storage.Movie) {
		if len(merged) >= limit {
			return
		}
		if _, dup := seen[m.ID]; dup {
			return
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	for _, m := range text {
		add(m)
	}
	for _, h := range hits {
		add(h.Movie)
	}
	return merged
}

// Search validates req, serves it from the response cache when allowed, and
// otherwise runs Merge and projects the movies for callers.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached, ok := s.checkCache(req); ok {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	merged, err := s.Merge(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, err
	}

	response := &SearchResponse{
		Results:        make([]types.MovieResult, len(merged.Movies)),
		Type:           merged.Type,
		TextResults:    merged.TextResults,
		VectorResults:  merged.VectorResults,
		TextDuration:   merged.TextDuration,
		EmbedDuration:  merged.EmbedDuration,
		VectorDuration: merged.VectorDuration,
	}
	for i, m := range merged.Movies {
		response.Results[i] = m.ToResult()
	}
	response.Duration = time.Since(startTime)

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}

	return response, nil
}

// validateRequest ensures search request is valid and fills defaults
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return ErrEmptyQuery
	}

	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}

	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.CacheTTL <= 0 {
		req.CacheTTL = DefaultCacheTTL
	}

	return nil
}

// checkCache looks up an unexpired cached response
func (s *Searcher) checkCache(req SearchRequest) (*SearchResponse, bool) {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil, false
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response, true
}

// storeInCache saves a copy of response until req.CacheTTL elapses
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.MovieResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		dst.Results[i].Cast = append([]string(nil), r.Cast...)
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s|%d", req.Query, req.Limit)))
}

// InvalidateCache drops every cached response. Call it after an import
// changes the catalog.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
