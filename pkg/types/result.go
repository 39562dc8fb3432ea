package types

// ResultType tells callers which search strategies produced a result set
type ResultType string

const (
	// ResultText means every result came from the text predicate
	ResultText ResultType = "TEXT"
	// ResultVector means the text predicate matched nothing and all results are nearest plots
	ResultVector ResultType = "VECTOR"
	// ResultHybrid means text matches were topped up with nearest plots
	ResultHybrid ResultType = "HYBRID"
)

// Valid reports whether t is one of the known result types
func (t ResultType) Valid() bool {
	switch t {
	case ResultText, ResultVector, ResultHybrid:
		return true
	}
	return false
}

// MovieResult is the projection of a movie returned to search callers.
// Identifiers and embeddings are never exposed.
type MovieResult struct {
	Title  string   `json:"title"`
	Year   int      `json:"year"`
	Plot   string   `json:"plot"`
	Rating float64  `json:"rating"`
	Cast   []string `json:"cast"`
}

// Validate checks if the movie result is valid
func (r *MovieResult) Validate() error {
	if r.Title == "" {
		return ErrEmptyTitle
	}

	if r.Rating < 0 {
		return ErrInvalidRating
	}

	if r.Year < 0 {
		return ErrInvalidYear
	}

	return nil
}
