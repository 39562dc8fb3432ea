package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKNN(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	seedMovies(t, storage, catalog()...)

	t.Run("ascending distance", func(t *testing.T) {
		hits, err := storage.KNN(ctx, VectorQuery{Vector: []float32{1, 0, 0}, K: 3})
		require.NoError(t, err)
		require.Len(t, hits, 3)

		assert.Equal(t, "The Matrix", hits[0].Movie.Title)
		assert.Equal(t, "The Matrix Reloaded", hits[1].Movie.Title)
		// John Wick and Speed tie at distance 1; lower id first
		assert.Equal(t, "John Wick", hits[2].Movie.Title)

		assert.InDelta(t, 0.0, hits[0].Score, 1e-6)
		assert.InDelta(t, 1-1/math.Sqrt2, hits[1].Score, 1e-6)
		assert.InDelta(t, 1.0, hits[2].Score, 1e-6)
		assert.Equal(t, []string{"Keanu Reeves", "Carrie-Anne Moss"}, hits[0].Movie.Cast)
	})

	t.Run("other dimensions are not candidates", func(t *testing.T) {
		hits, err := storage.KNN(ctx, VectorQuery{Vector: []float32{1, 0}, K: 10})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "Alien", hits[0].Movie.Title)
	})

	t.Run("k larger than catalog", func(t *testing.T) {
		hits, err := storage.KNN(ctx, VectorQuery{Vector: []float32{0, 0, 1}, K: 50})
		require.NoError(t, err)
		assert.Len(t, hits, 4)
	})

	t.Run("zero k", func(t *testing.T) {
		hits, err := storage.KNN(ctx, VectorQuery{Vector: []float32{1, 0, 0}, K: 0})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestSerializeDeserializeVector(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{"empty", []float32{}},
		{"single", []float32{1.5}},
		{"mixed", []float32{-1, 0, 0.25, 3.4028235e38}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := serializeVector(tt.vector)
			assert.Len(t, blob, len(tt.vector)*4)
			assert.Equal(t, tt.vector, deserializeVector(blob))
		})
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 1},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineDistance(tt.a, tt.b), 1e-6)
		})
	}
}

func TestSortCandidates(t *testing.T) {
	candidates := []candidate{
		{movieID: 3, score: 0.5},
		{movieID: 1, score: 0.1},
		{movieID: 2, score: 0.5},
		{movieID: 4, score: 0.0},
	}
	sortCandidates(candidates)

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.movieID
	}
	assert.Equal(t, []int64{4, 1, 2, 3}, ids)
}

func BenchmarkCosineDistance(b *testing.B) {
	a := make([]float32, 768)
	v := make([]float32, 768)
	for i := range a {
		a[i] = float32(i) * 0.01
		v[i] = float32(768-i) * 0.01
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cosineDistance(a, v)
	}
}
