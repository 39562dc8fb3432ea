// Package qdrant mirrors movie plot embeddings into a Qdrant collection and
// serves nearest-plot queries from it.
//
// Points are keyed by movie id and carry only the vector plus a small title
// payload. KNN hydrates hits from the SQLite catalog and converts Qdrant's
// cosine similarity into the cosine distance used everywhere else, so an
// Index can replace storage.SQLiteStorage as the searcher's VectorIndex.
//
//	idx, err := qdrant.New("localhost:6334", qdrant.DefaultCollection, store)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	if err := idx.EnsureCollection(ctx, emb.Dimension()); err != nil {
//	    return err
//	}
//	imp := importer.New(store, emb, importer.Config{}, importer.WithVectorMirror(idx))
package qdrant
