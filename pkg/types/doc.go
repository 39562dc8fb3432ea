// Package types provides the value types shared by the moviesearch packages
// and returned to its callers.
//
// MovieResult is the only movie shape that leaves the service. It carries the
// display fields and drops the id and plot embedding:
//
//	result := types.MovieResult{
//	    Title:  "The Matrix",
//	    Year:   1999,
//	    Rating: 8.7,
//	    Cast:   []string{"Keanu Reeves", "Carrie-Anne Moss"},
//	}
//
// ResultType labels how a result set was produced:
//
//   - TEXT: the title/cast predicate alone filled the limit
//   - HYBRID: text matches first, then nearest plots by embedding
//   - VECTOR: no text match, nearest plots only
package types
