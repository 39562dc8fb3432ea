package searcher

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/moviesearch/internal/storage"
)

// VectorIndex answers k-nearest-neighbor queries over plot embeddings.
// Results are ordered by ascending Score, where Score is cosine distance.
// storage.SQLiteStorage and qdrant.Index satisfy it.
type VectorIndex interface {
	KNN(ctx context.Context, q storage.VectorQuery) ([]*storage.ScoredMovie, error)
}

// VectorSearcher runs the vector stage of a search
type VectorSearcher struct {
	index VectorIndex
}

// NewVectorSearcher creates a VectorSearcher over index
func NewVectorSearcher(index VectorIndex) *VectorSearcher {
	return &VectorSearcher{index: index}
}

// Search returns at most limit movies nearest to vector, closest first
func (v *VectorSearcher) Search(ctx context.Context, vector []float32, limit int) ([]*storage.ScoredMovie, time.Duration, error) {
	start := time.Now()
	if limit <= 0 {
		return []*storage.ScoredMovie{}, 0, nil
	}
	if len(vector) == 0 {
		return nil, 0, fmt.Errorf("vector search failed: empty query vector")
	}

	hits, err := v.index.KNN(ctx, storage.VectorQuery{Vector: vector, K: limit})
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, fmt.Errorf("vector search failed: %w", err)
	}

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, elapsed, nil
}
