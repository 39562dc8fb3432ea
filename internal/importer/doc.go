// Package importer moves staged movie records into the searchable catalog
// exactly once.
//
// # Basic Usage
//
//	imp := importer.New(store, emb, importer.Config{}, importer.WithLogger(logger))
//
//	if loaded, _ := imp.IsDataLoaded(ctx); !loaded {
//	    report, err := imp.Run(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Printf("Imported %d of %d staged movies in %v\n",
//	        report.Imported, report.Scanned, report.Duration)
//	}
//
// # Import Pipeline
//
//  1. Scan: page through keys matching "import:movie:*" into a set
//  2. Transform: parse the id from each key, fetch its staging record and
//     skip ids already in the catalog (parallel, bounded by TransformWorkers)
//  3. Embed: reuse the staged plot vector when its dimension matches the
//     embedder, otherwise embed the plot
//  4. Save: write batches of BatchSize with a pool of Workers goroutines
//
// A failed key or batch is logged and counted in the Report without stopping
// the run. Only a failed staging scan or context cancellation aborts it.
//
// # Idempotence
//
// Deduplication checks the catalog itself, so a second run imports nothing
// even after a restart. SaveMovies never overwrites an existing row and
// Report.Imported counts only rows actually inserted.
//
// # Staging
//
// Stage loads a JSON array export into the staging keyspace:
//
//	f, _ := os.Open("movies.json")
//	n, err := importer.Stage(ctx, store, f)
package importer
