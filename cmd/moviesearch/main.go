package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/dshills/moviesearch/internal/embedder"
	"github.com/dshills/moviesearch/internal/importer"
	"github.com/dshills/moviesearch/internal/qdrant"
	"github.com/dshills/moviesearch/internal/searcher"
	"github.com/dshills/moviesearch/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Globals are flags shared by every command
type Globals struct {
	DBPath            string  `help:"SQLite database file" env:"MOVIESEARCH_DB_PATH" default:"~/.moviesearch/movies.db" type:"path"`
	EmbeddingProvider string  `help:"Embedding provider; auto picks jina or openai when their key is set, else local" env:"MOVIESEARCH_EMBEDDING_PROVIDER" enum:"auto,jina,openai,local" default:"auto"`
	JinaAPIKey        string  `help:"Jina AI API key" env:"JINA_API_KEY"`
	OpenAIAPIKey      string  `help:"OpenAI API key" env:"OPENAI_API_KEY" name:"openai-api-key"`
	RequestsPerSecond float64 `help:"Cap on embedding API calls per second, 0 for no limit" default:"0"`

	VectorBackend    string `help:"Vector index backend" enum:"sqlite,qdrant" default:"sqlite" env:"MOVIESEARCH_VECTOR_BACKEND"`
	QdrantAddr       string `help:"Qdrant gRPC address" env:"MOVIESEARCH_QDRANT_ADDR" default:"localhost:6334"`
	QdrantCollection string `help:"Qdrant collection name" default:"movies"`

	QueryMatch    string        `help:"How cached query embeddings are matched" enum:"exact,substring" default:"exact"`
	SearchTimeout time.Duration `help:"Timeout for a single search, 0 for none" default:"30s"`
	LogLevel      string        `help:"Log level" enum:"debug,info,warn,error" default:"info" env:"MOVIESEARCH_LOG_LEVEL"`
}

// CLI is the moviesearch command line
type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"1" help:"Import staged movies if needed, then serve MCP on stdio"`
	Import  ImportCmd  `cmd:"" help:"Import staged movies into the catalog"`
	Search  SearchCmd  `cmd:"" help:"Search the catalog"`
	Stage   StageCmd   `cmd:"" help:"Load a JSON array of movies into the staging area"`
	Status  StatusCmd  `cmd:"" help:"Show catalog statistics"`
	Version VersionCmd `cmd:"" help:"Show build information"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("moviesearch"),
		kong.Description("Hybrid title, cast and plot search over a movie catalog."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

// newLogger builds the stderr logger; stdout is reserved for MCP and results
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// app holds the wired components for one command invocation
type app struct {
	logger   *slog.Logger
	store    *storage.SQLiteStorage
	emb      embedder.Embedder
	queries  *embedder.QueryCache
	searcher *searcher.Searcher
	importer *importer.Importer
	qdrant   *qdrant.Index
}

// embedderConfig resolves the provider and its key from the flags
func (g *Globals) embedderConfig() embedder.Config {
	cfg := embedder.Config{
		Provider:          g.EmbeddingProvider,
		CacheSize:         embedder.DefaultCacheSize,
		RequestsPerSecond: g.RequestsPerSecond,
	}
	if cfg.Provider == "auto" || cfg.Provider == "" {
		switch {
		case g.JinaAPIKey != "":
			cfg.Provider = embedder.ProviderJina
		case g.OpenAIAPIKey != "":
			cfg.Provider = embedder.ProviderOpenAI
		default:
			cfg.Provider = embedder.ProviderLocal
		}
	}
	switch cfg.Provider {
	case embedder.ProviderJina:
		cfg.APIKey = g.JinaAPIKey
	case embedder.ProviderOpenAI:
		cfg.APIKey = g.OpenAIAPIKey
	}
	return cfg
}

func openApp(ctx context.Context, g *Globals) (*app, error) {
	logger := newLogger(g.LogLevel)

	if dir := filepath.Dir(g.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(g.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &app{logger: logger, store: store}

	a.emb, err = embedder.New(g.embedderConfig())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var (
		index   searcher.VectorIndex = store
		impOpts                      = []importer.Option{importer.WithLogger(logger)}
	)
	if g.VectorBackend == "qdrant" {
		a.qdrant, err = qdrant.New(g.QdrantAddr, g.QdrantCollection, store)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		if err := a.qdrant.EnsureCollection(ctx, a.emb.Dimension()); err != nil {
			_ = a.Close()
			return nil, err
		}
		index = a.qdrant
		impOpts = append(impOpts, importer.WithVectorMirror(a.qdrant))
	}

	a.queries = embedder.NewQueryCache(store, a.emb, storage.MatchMode(g.QueryMatch),
		embedder.WithResolveTimeout(g.SearchTimeout))
	a.searcher = searcher.NewSearcher(store, index, a.queries, searcher.Config{
		Timeout: g.SearchTimeout,
		Logger:  logger,
	})
	a.importer = importer.New(store, a.emb, importer.Config{}, impOpts...)

	logger.Debug("components ready",
		"db", g.DBPath,
		"provider", a.emb.Provider(),
		"model", a.emb.Model(),
		"vector_backend", g.VectorBackend,
		"driver", storage.DriverName)

	return a, nil
}

// Close releases every component that was opened
func (a *app) Close() error {
	var errs []error
	if a.qdrant != nil {
		errs = append(errs, a.qdrant.Close())
	}
	if a.emb != nil {
		errs = append(errs, a.emb.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// importIfNeeded runs an import unless the catalog is already loaded
func (a *app) importIfNeeded(ctx context.Context) error {
	loaded, err := a.importer.IsDataLoaded(ctx)
	if err != nil {
		return err
	}
	if loaded {
		a.logger.Info("catalog already loaded, skipping import")
		return nil
	}

	report, err := a.importer.Run(ctx)
	if err != nil {
		return fmt.Errorf("startup import failed: %w", err)
	}
	a.logger.Info("startup import complete",
		"scanned", report.Scanned, "imported", report.Imported, "duration", report.Duration)
	return nil
}
