package types

import "errors"

// Domain errors for type validation
var (
	// Movie result errors
	ErrEmptyTitle    = errors.New("title cannot be empty")
	ErrInvalidRating = errors.New("rating must be >= 0")
	ErrInvalidYear   = errors.New("year must be >= 0")
)
