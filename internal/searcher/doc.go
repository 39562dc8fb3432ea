// Package searcher implements hybrid movie search: a title/cast text predicate
// topped up with nearest plots by embedding.
//
// # Basic Usage
//
//	qc := embedder.NewQueryCache(store, emb, storage.MatchExact)
//	s := searcher.NewSearcher(store, store, qc, searcher.Config{Logger: logger})
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "Matrix",
//	    Limit: 3,
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("%s (%d) %s\n", r.Title, r.Year, resp.Type)
//	}
//
// # Merge Procedure
//
// Merge runs the text stage first. If it returns at least limit movies they
// are returned as a TEXT result and no embedding or vector query is made.
//
// Otherwise the query is resolved to an embedding through the QueryResolver,
// the VectorIndex is asked for the limit nearest plots, and the two lists are
// merged by movie id:
//
//   - text matches first, in title order
//   - vector hits next, in distance order, skipping ids already present
//   - the merged list is capped at limit
//
// The result is HYBRID when the text stage found anything and VECTOR when it
// found nothing.
//
// # Vector Index
//
// Any VectorIndex can back the vector stage. storage.SQLiteStorage computes
// cosine distance locally; qdrant.Index delegates to a Qdrant collection.
// Scores are cosine distance in both cases, ascending.
//
// # Response Cache
//
// Search can cache whole responses keyed by query and limit in an LRU with a
// per-request TTL (DefaultCacheTTL when unset). Call InvalidateCache after
// importing movies. An import run by another process against the same
// database cannot purge this cache, so its responses may stay stale until
// their TTL expires.
package searcher
