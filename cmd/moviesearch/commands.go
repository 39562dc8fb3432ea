package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dshills/moviesearch/internal/importer"
	"github.com/dshills/moviesearch/internal/mcp"
	"github.com/dshills/moviesearch/internal/searcher"
	"github.com/dshills/moviesearch/internal/storage"
)

// ServeCmd imports staged movies when the catalog is empty and serves MCP
type ServeCmd struct {
	SkipImport bool `help:"Do not import staged movies on startup"`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	a.logger.Info("moviesearch starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName,
		"vector_extension", storage.VectorExtensionAvailable)

	if !c.SkipImport {
		if err := a.importIfNeeded(ctx); err != nil {
			return err
		}
	}

	server, err := mcp.NewServer(mcp.Deps{
		Storage:  a.store,
		Importer: a.importer,
		Searcher: a.searcher,
		Queries:  a.queries,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
		return nil
	case err := <-errChan:
		return err
	}
}

// ImportCmd runs the import pipeline once
type ImportCmd struct {
	BatchSize    int  `help:"Movies per write batch" default:"500"`
	Workers      int  `help:"Concurrent batch writers" default:"4"`
	SkipIfLoaded bool `help:"Do nothing when the catalog is already loaded"`
}

func (c *ImportCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if c.SkipIfLoaded {
		loaded, err := a.importer.IsDataLoaded(ctx)
		if err != nil {
			return err
		}
		if loaded {
			fmt.Println("Catalog already loaded; nothing to do")
			return nil
		}
	}

	opts := []importer.Option{importer.WithLogger(a.logger)}
	if a.qdrant != nil {
		opts = append(opts, importer.WithVectorMirror(a.qdrant))
	}
	imp := importer.New(a.store, a.emb, importer.Config{
		BatchSize: c.BatchSize,
		Workers:   c.Workers,
	}, opts...)

	report, err := imp.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Scanned:  %d\n", report.Scanned)
	fmt.Printf("Imported: %d\n", report.Imported)
	fmt.Printf("Skipped:  %d\n", report.Skipped)
	if report.Failed > 0 || report.FailedBatches > 0 {
		fmt.Printf("Failed:   %d keys, %d batches (%d movies)\n",
			report.Failed, report.FailedBatches, report.FailedRecords)
	}
	fmt.Printf("Duration: %v\n", report.Duration)
	return nil
}

// SearchCmd runs one search and prints the results
type SearchCmd struct {
	Query []string `arg:"" help:"Search query"`
	Limit int      `help:"Maximum number of results" default:"3" short:"n"`
	JSON  bool     `help:"Print results as JSON"`
}

func (c *SearchCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.searcher.Search(ctx, searcher.SearchRequest{
		Query: strings.Join(c.Query, " "),
		Limit: c.Limit,
	})
	if err != nil {
		return err
	}

	if c.JSON {
		return writeJSON(os.Stdout, map[string]interface{}{
			"result_type": resp.Type,
			"results":     resp.Results,
		})
	}

	fmt.Printf("%s, %d result(s) in %v\n", resp.Type, len(resp.Results), resp.Duration)
	for i, r := range resp.Results {
		fmt.Printf("%d. %s (%d) %.1f\n", i+1, r.Title, r.Year, r.Rating)
		if len(r.Cast) > 0 {
			fmt.Printf("   Cast: %s\n", strings.Join(r.Cast, ", "))
		}
		if r.Plot != "" {
			fmt.Printf("   %s\n", r.Plot)
		}
	}
	return nil
}

// StageCmd loads a JSON export into the staging area
type StageCmd struct {
	File string `arg:"" help:"JSON file holding an array of movies, or - for stdin"`
}

func (c *StageCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var r io.Reader = os.Stdin
	if c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return fmt.Errorf("failed to open staging file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	n, err := importer.Stage(ctx, a.store, r)
	if err != nil {
		return err
	}
	fmt.Printf("Staged %d movies\n", n)
	return nil
}

// StatusCmd prints catalog statistics
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	status, err := a.store.GetStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Movies:           %d (%d with plot embeddings)\n", status.Movies, status.EmbeddedMovies)
	fmt.Printf("Staged:           %d\n", status.Staged)
	fmt.Printf("Query embeddings: %d\n", status.QueryEmbeddings)
	fmt.Printf("Data loaded:      %v\n", status.Movies > importer.LoadedSentinel)
	fmt.Printf("Database size:    %.2f MB\n", status.IndexSizeMB)
	fmt.Printf("Vector extension: %v\n", status.Health.VectorExtension)
	fmt.Printf("Embedder:         %s/%s\n", a.emb.Provider(), a.emb.Model())
	return nil
}

// VersionCmd prints build information
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("moviesearch\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Build Mode: %s\n", storage.BuildMode)
	fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
	fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
