package storage

import (
	"context"
	"time"

	"github.com/dshills/moviesearch/pkg/types"
)

// Storage defines the interface for persisting and querying movies, staged
// import records and cached query embeddings
type Storage interface {
	// Movie operations
	GetMovie(ctx context.Context, id int64) (*Movie, error)
	GetMoviesByIDs(ctx context.Context, ids []int64) (map[int64]*Movie, error)
	MovieExists(ctx context.Context, id int64) (bool, error)
	SaveMovies(ctx context.Context, movies []*Movie) (int, error)
	CountMovies(ctx context.Context) (int, error)

	// Search operations
	SearchMoviesText(ctx context.Context, query string, limit int) ([]*Movie, error)
	KNN(ctx context.Context, q VectorQuery) ([]*ScoredMovie, error)

	// Query embedding operations
	FindQueryEmbedding(ctx context.Context, query string, mode MatchMode) (*QueryEmbedding, error)
	InsertQueryEmbedding(ctx context.Context, qe *QueryEmbedding) (*QueryEmbedding, error)
	CountQueryEmbeddings(ctx context.Context) (int, error)

	// Staging operations
	PutStagingRecord(ctx context.Context, rec *StagingRecord) error
	GetStagingRecord(ctx context.Context, id int64) (*StagingRecord, error)
	ScanStagingKeys(ctx context.Context, match string, cursor string, count int) ([]string, string, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Movie is a searchable record in the target store
type Movie struct {
	ID            int64
	Title         string
	Year          int
	Plot          string
	Rating        float64
	Cast          []string
	PlotEmbedding []float32 // Written once on insert
	CreatedAt     time.Time
}

// StagingRecord is the pre-ingestion shape of a movie. It is stored as a JSON
// payload under StagingKey(ID).
type StagingRecord struct {
	Key           string    `json:"-"`
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Year          int       `json:"year"`
	Plot          string    `json:"plot"`
	Rating        float64   `json:"rating"`
	Cast          []string  `json:"actors"`
	PlotEmbedding []float32 `json:"plotEmbedding,omitempty"`
}

// QueryEmbedding is a cached embedding for a search query
type QueryEmbedding struct {
	ID        int64
	Query     string
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// MatchMode selects how a query is matched against cached query embeddings
type MatchMode string

const (
	// MatchExact requires the cached query to equal the lookup string
	MatchExact MatchMode = "exact"
	// MatchSubstring accepts any cached query containing the lookup string
	MatchSubstring MatchMode = "substring"
)

// VectorQuery is a k-nearest-neighbor request over plot embeddings
type VectorQuery struct {
	Vector []float32
	K      int
}

// ScoredMovie is a KNN hit. Score is cosine distance (1 - cosine similarity):
// lower is closer, results are ordered by ascending Score.
type ScoredMovie struct {
	Movie *Movie
	Score float64
}

// Status contains statistics about the store
type Status struct {
	Movies          int
	Staged          int
	QueryEmbeddings int
	EmbeddedMovies  int
	IndexSizeMB     float64
	Health          HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	VectorExtension     bool
}

// ToResult projects a movie onto the shape returned to search callers
func (m *Movie) ToResult() types.MovieResult {
	cast := make([]string, len(m.Cast))
	copy(cast, m.Cast)
	return types.MovieResult{
		Title:  m.Title,
		Year:   m.Year,
		Plot:   m.Plot,
		Rating: m.Rating,
		Cast:   cast,
	}
}

// ToMovie converts a staged record into a movie. The embedding is copied only
// when present; callers fill it otherwise.
func (r *StagingRecord) ToMovie() *Movie {
	cast := make([]string, len(r.Cast))
	copy(cast, r.Cast)
	var vec []float32
	if len(r.PlotEmbedding) > 0 {
		vec = make([]float32, len(r.PlotEmbedding))
		copy(vec, r.PlotEmbedding)
	}
	return &Movie{
		ID:            r.ID,
		Title:         r.Title,
		Year:          r.Year,
		Plot:          r.Plot,
		Rating:        r.Rating,
		Cast:          cast,
		PlotEmbedding: vec,
	}
}
