package searcher

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/moviesearch/internal/storage"
)

// TextStore evaluates the title/cast text predicate. storage.SQLiteStorage
// satisfies it.
type TextStore interface {
	SearchMoviesText(ctx context.Context, query string, limit int) ([]*storage.Movie, error)
}

// TextSearcher runs the text stage of a search
type TextSearcher struct {
	store TextStore
}

// NewTextSearcher creates a TextSearcher over store
func NewTextSearcher(store TextStore) *TextSearcher {
	return &TextSearcher{store: store}
}

// Search returns movies whose title equals or contains query, or whose cast
// lists query, ordered by title and capped at limit. No match yields an empty
// slice, not an error.
func (t *TextSearcher) Search(ctx context.Context, query string, limit int) ([]*storage.Movie, time.Duration, error) {
	start := time.Now()
	if limit <= 0 {
		return []*storage.Movie{}, 0, nil
	}

	movies, err := t.store.SearchMoviesText(ctx, query, limit)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, fmt.Errorf("text search failed: %w", err)
	}

	// Guard against stores that ignore the limit
	if len(movies) > limit {
		movies = movies[:limit]
	}
	return movies, elapsed, nil
}
