// Package storage provides SQLite-based persistence for the movie catalog.
//
// The storage layer manages:
//   - Movies with their cast and plot embeddings
//   - The staging keyspace that imports read from
//   - Cached query embeddings
//
// # Database Schema
//
// Tables:
//   - movies: Movie rows keyed by upstream id, with a float32 plot embedding blob
//   - movie_cast: Cast members ordered by position
//   - query_embeddings: One cached vector per distinct query string
//   - staging_records: JSON payloads keyed "import:movie:<id>"
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("movies.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	inserted, err := db.SaveMovies(ctx, movies)
//
// SaveMovies writes one batch per transaction and never overwrites an
// existing movie. The returned count only includes rows actually inserted.
//
// # Searching
//
//	// Title equality, title substring or cast membership, ordered by title
//	movies, err := db.SearchMoviesText(ctx, "The Matrix", 3)
//
//	// Nearest plots by cosine distance, ascending
//	hits, err := db.KNN(ctx, storage.VectorQuery{Vector: vec, K: 3})
//
// # Staging Scan
//
// Staged keys are read in pages with a cursor. An empty cursor starts the scan
// and an empty returned cursor ends it:
//
//	cursor := ""
//	for {
//	    keys, next, err := db.ScanStagingKeys(ctx, "import:movie:*", cursor, 1000)
//	    ...
//	    if next == "" {
//	        break
//	    }
//	    cursor = next
//	}
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 with the sqlite-vec extension
//
//   - KNN distance is computed in SQL with vec_distance_cosine
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (purego tag, the default):
//
//   - Uses modernc.org/sqlite
//
//   - KNN distance is computed in Go
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
