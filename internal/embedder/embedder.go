package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the in-memory cache capacity used when none is given
const DefaultCacheSize = 10000

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	// ErrEmptyEmbedding is returned when a provider answers with a zero-length vector
	ErrEmptyEmbedding = errors.New("provider returned an empty embedding")
)

// Embedding is the vector for one piece of text, a movie plot or a search
// query, together with the provider and model that produced it
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // SHA-256 of the embedded text
}

// clone returns a deep copy of e
func (e *Embedding) clone() *Embedding {
	vector := make([]float32, len(e.Vector))
	copy(vector, e.Vector)
	return &Embedding{
		Vector:    vector,
		Dimension: e.Dimension,
		Provider:  e.Provider,
		Model:     e.Model,
		Hash:      e.Hash,
	}
}

// checkEmbedding rejects embeddings a caller could not store or search with
func checkEmbedding(e *Embedding) error {
	if e == nil || len(e.Vector) == 0 {
		return ErrEmptyEmbedding
	}
	return nil
}

// EmbeddingRequest asks for the vector of a single text
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest asks for the vectors of several texts in one call
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse holds one embedding per requested text, in order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder turns text into fixed-dimension vectors. Plot and query vectors
// are only comparable when they come from the same Embedder.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension is the length of every vector this Embedder returns
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash. It sits
// in front of the provider; persisted query vectors live in QueryCache.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates an LRU cache holding at most maxLen embeddings
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedding cache: %v", err))
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached embedding for hash
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}

	return emb.clone(), true
}

// Set stores a copy of emb, evicting the least recently used entry when full
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, emb.clone())
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash returns the hex SHA-256 of text, the cache key for its embedding
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest rejects blank text
func ValidateRequest(req EmbeddingRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest rejects empty batches and blank texts
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}
