package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// knn returns the K movies whose plot embeddings are closest to vq.Vector by
// cosine distance, ascending. Movies with a different embedding dimension are
// not candidates.
func knn(ctx context.Context, q querier, vq VectorQuery) ([]*ScoredMovie, error) {
	if vq.K <= 0 || len(vq.Vector) == 0 {
		return []*ScoredMovie{}, nil
	}

	var (
		candidates []candidate
		err        error
	)
	// Use SQL-side distance when sqlite-vec is loaded
	if VectorExtensionAvailable {
		candidates, err = knnOptimized(ctx, q, vq)
	} else {
		candidates, err = knnFallback(ctx, q, vq)
	}
	if err != nil {
		return nil, err
	}

	return hydrateCandidates(ctx, q, candidates)
}

// candidate is a movie id with its distance from the query vector
type candidate struct {
	movieID int64
	score   float64
}

// knnOptimized uses the sqlite-vec extension to rank in SQL
func knnOptimized(ctx context.Context, q querier, vq VectorQuery) ([]candidate, error) {
	query := `
		SELECT id, vec_distance_cosine(plot_embedding, ?) AS distance
		FROM movies
		WHERE dimension = ?
		ORDER BY distance ASC, id ASC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, serializeVector(vq.Vector), len(vq.Vector), vq.K)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, vq.K)
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.movieID, &c.score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// knnFallback computes cosine distance in Go for purego builds
func knnFallback(ctx context.Context, q querier, vq VectorQuery) ([]candidate, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, plot_embedding FROM movies WHERE dimension = ?`, len(vq.Vector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 1000)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(vq.Vector) {
			continue
		}
		candidates = append(candidates, candidate{movieID: id, score: cosineDistance(vq.Vector, vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > vq.K {
		candidates = candidates[:vq.K]
	}
	return candidates, nil
}

// sortCandidates orders by ascending distance, ties by id
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].movieID < candidates[j].movieID
	})
}

// hydrateCandidates loads the movies for ranked candidates, keeping rank order
func hydrateCandidates(ctx context.Context, q querier, candidates []candidate) ([]*ScoredMovie, error) {
	results := make([]*ScoredMovie, 0, len(candidates))
	if len(candidates) == 0 {
		return results, nil
	}

	// Rows are already closed here, so the connection is free for the lookup
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.movieID
	}
	movies, err := getMoviesByIDs(ctx, q, ids)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		m, ok := movies[c.movieID]
		if !ok {
			continue
		}
		results = append(results, &ScoredMovie{Movie: m, Score: c.score})
	}
	return results, nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance is 1 - cosine similarity, matching vec_distance_cosine
func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}
