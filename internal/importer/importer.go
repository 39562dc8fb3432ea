package importer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/moviesearch/internal/embedder"
	"github.com/dshills/moviesearch/internal/storage"
)

const (
	// DefaultBatchSize is the number of movies persisted per SaveMovies call
	DefaultBatchSize = 500
	// DefaultScanCount is the page size of a staging key scan
	DefaultScanCount = 1000
	// DefaultWorkers is the number of concurrent batch writers
	DefaultWorkers = 4
	// DefaultProgressInterval is how many saved movies separate progress logs
	DefaultProgressInterval = 500
	// DefaultKeyPattern matches every staged movie
	DefaultKeyPattern = storage.StagingPrefix + "*"

	// LoadedSentinel is the movie count above which the catalog counts as loaded
	LoadedSentinel = 1
)

var (
	// ErrImportInProgress is returned when Run is called while another run holds the lock
	ErrImportInProgress = errors.New("import already in progress")
	// ErrScan wraps failures of the staging key scan; they abort the run
	ErrScan = errors.New("staging scan failed")
	// ErrInvalidKey is returned for staging keys without a numeric id segment
	ErrInvalidKey = errors.New("invalid staging key")
)

// Store is the subset of storage.Storage the import pipeline needs
type Store interface {
	ScanStagingKeys(ctx context.Context, match string, cursor string, count int) ([]string, string, error)
	GetStagingRecord(ctx context.Context, id int64) (*storage.StagingRecord, error)
	MovieExists(ctx context.Context, id int64) (bool, error)
	SaveMovies(ctx context.Context, movies []*storage.Movie) (int, error)
	CountMovies(ctx context.Context) (int, error)
}

// VectorMirror receives plot embeddings of each batch before it is saved.
// qdrant.Index satisfies it.
type VectorMirror interface {
	Mirror(ctx context.Context, movies []*storage.Movie) error
}

// Config contains configuration for the import pipeline
type Config struct {
	BatchSize        int    // Movies per SaveMovies call (default: 500)
	ScanCount        int    // Keys per scan page (default: 1000)
	Workers          int    // Concurrent batch writers (default: 4)
	TransformWorkers int    // Concurrent staging lookups (default: runtime.NumCPU())
	ProgressInterval int    // Saved movies between progress logs (default: 500)
	KeyPattern       string // Staging key glob (default: "import:movie:*")
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ScanCount <= 0 {
		c.ScanCount = DefaultScanCount
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.TransformWorkers <= 0 {
		c.TransformWorkers = runtime.NumCPU()
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.KeyPattern == "" {
		c.KeyPattern = DefaultKeyPattern
	}
	return c
}

// Report contains statistics about one import run
type Report struct {
	Scanned       int // Distinct staging keys discovered
	Transformed   int // Records turned into movies
	Imported      int // Movies confirmed saved
	Skipped       int // Keys without a staging record or already imported
	Failed        int // Keys that could not be parsed, fetched or embedded
	FailedBatches int
	FailedRecords int // Movies in failed batches
	Duration      time.Duration
	ErrorMessages []string
}

// Option configures an Importer
type Option func(*Importer)

// WithLogger sets the logger used for progress and per-item failures
func WithLogger(logger *slog.Logger) Option {
	return func(imp *Importer) {
		if logger != nil {
			imp.logger = logger
		}
	}
}

// WithVectorMirror mirrors every batch into an external vector index
func WithVectorMirror(m VectorMirror) Option {
	return func(imp *Importer) {
		imp.mirror = m
	}
}

// Importer moves staged records into the movie catalog: scan -> transform -> save
type Importer struct {
	store    Store
	embedder embedder.Embedder
	mirror   VectorMirror
	config   Config
	logger   *slog.Logger
	lock     ImportLock
}

// New creates a new Importer. emb computes plot embeddings for records whose
// staged vector is missing or has the wrong dimension; it may be nil when
// every staged record carries its own vector.
func New(store Store, emb embedder.Embedder, config Config, opts ...Option) *Importer {
	imp := &Importer{
		store:    store,
		embedder: emb,
		config:   config.withDefaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// Config returns the effective configuration
func (imp *Importer) Config() Config {
	return imp.config
}

// Running reports whether a run is in progress
func (imp *Importer) Running() bool {
	return imp.lock.Held()
}

// IsDataLoaded reports whether the catalog already holds more than
// LoadedSentinel movies. It is a coarse guard; Run deduplicates per id anyway.
func (imp *Importer) IsDataLoaded(ctx context.Context) (bool, error) {
	n, err := imp.store.CountMovies(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count movies: %w", err)
	}
	return n > LoadedSentinel, nil
}

// Run imports every staged record whose id is not yet in the catalog.
//
// Per-key and per-batch failures are logged and counted in the report; they
// do not abort the run. A failed staging scan aborts it with ErrScan and no
// report.
func (imp *Importer) Run(ctx context.Context) (*Report, error) {
	if !imp.lock.TryAcquire() {
		return nil, ErrImportInProgress
	}
	defer imp.lock.Release()

	startTime := time.Now()
	report := &Report{
		ErrorMessages: make([]string, 0),
	}

	keys, err := imp.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	report.Scanned = len(keys)
	imp.logger.Info("scanned staging keys", "keys", len(keys), "pattern", imp.config.KeyPattern)

	movies, err := imp.transform(ctx, keys, report)
	if err != nil {
		return nil, err
	}
	report.Transformed = len(movies)

	if err := imp.save(ctx, movies, report); err != nil {
		return nil, err
	}

	report.Duration = time.Since(startTime)
	imp.logger.Info("import finished",
		"scanned", report.Scanned,
		"imported", report.Imported,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"failed_batches", report.FailedBatches,
		"duration", report.Duration)

	return report, nil
}

// scanKeys pages through the staging keyspace and collects distinct keys
func (imp *Importer) scanKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, next, err := imp.store.ScanStagingKeys(ctx, imp.config.KeyPattern, cursor, imp.config.ScanCount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScan, err)
		}
		for _, k := range page {
			keys[k] = struct{}{}
		}
		if next == "" {
			return keys, nil
		}
		cursor = next
	}
}

// transform fans out over keys and returns the movies that still need saving
func (imp *Importer) transform(ctx context.Context, keys map[string]struct{}, report *Report) ([]*storage.Movie, error) {
	var (
		skipped int32
		failed  int32
		mu      sync.Mutex // Protects movies and report.ErrorMessages
		movies  = make([]*storage.Movie, 0, len(keys))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.config.TransformWorkers)

	for key := range keys {
		g.Go(func() error {
			movie, err := imp.transformKey(gctx, key)
			switch {
			case err != nil:
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				atomic.AddInt32(&failed, 1)
				imp.logger.Warn("skipping staging key", "key", key, "error", err)
				mu.Lock()
				report.ErrorMessages = append(report.ErrorMessages, fmt.Sprintf("%s: %v", key, err))
				mu.Unlock()
			case movie == nil:
				atomic.AddInt32(&skipped, 1)
			default:
				mu.Lock()
				movies = append(movies, movie)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Batches follow id order so reruns partition the same way
	slices.SortFunc(movies, func(a, b *storage.Movie) int {
		return cmp.Compare(a.ID, b.ID)
	})

	report.Skipped = int(skipped)
	report.Failed = int(failed)
	return movies, nil
}

// transformKey returns nil, nil when there is nothing to import for key
func (imp *Importer) transformKey(ctx context.Context, key string) (*storage.Movie, error) {
	id, err := ParseKeyID(key)
	if err != nil {
		return nil, err
	}

	rec, err := imp.store.GetStagingRecord(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	exists, err := imp.store.MovieExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	movie := rec.ToMovie()
	if imp.embedder == nil || len(movie.PlotEmbedding) == imp.embedder.Dimension() {
		return movie, nil
	}

	emb, err := imp.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: movie.Plot})
	if err != nil {
		return nil, fmt.Errorf("failed to embed plot: %w", err)
	}
	if len(emb.Vector) == 0 {
		return nil, embedder.ErrEmptyEmbedding
	}
	movie.PlotEmbedding = emb.Vector
	return movie, nil
}

// ParseKeyID extracts the movie id from the last colon-delimited segment of key
func ParseKeyID(key string) (int64, error) {
	segment := key
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		segment = key[i+1:]
	}
	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return id, nil
}

// save partitions movies into batches and writes them with a fixed pool of
// workers. Only context cancellation is returned; batch failures are counted.
func (imp *Importer) save(ctx context.Context, movies []*storage.Movie, report *Report) error {
	total := len(movies)
	if total == 0 {
		return nil
	}

	batches := make(chan []*storage.Movie)
	batchCount := (total + imp.config.BatchSize - 1) / imp.config.BatchSize
	var (
		saved         atomic.Int64
		finished      atomic.Int64
		failedBatches int32
		failedRecords int32
		mu            sync.Mutex // Protects report.ErrorMessages
		wg            sync.WaitGroup
	)

	for w := 0; w < imp.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				n, err := imp.saveBatch(ctx, batch)
				if err != nil {
					n = 0
					atomic.AddInt32(&failedBatches, 1)
					atomic.AddInt32(&failedRecords, int32(len(batch)))
					imp.logger.Error("batch save failed",
						"first_id", batch[0].ID, "size", len(batch), "error", err)
					mu.Lock()
					report.ErrorMessages = append(report.ErrorMessages,
						fmt.Sprintf("batch starting at %d: %v", batch[0].ID, err))
					mu.Unlock()
				}
				after := saved.Add(int64(n))
				last := finished.Add(1) == int64(batchCount)
				imp.logProgress(after-int64(n), after, total, last)
			}
		}()
	}

	var cancelled error
	for i := 0; i < total; i += imp.config.BatchSize {
		end := min(i+imp.config.BatchSize, total)
		select {
		case batches <- movies[i:end]:
		case <-ctx.Done():
			cancelled = ctx.Err()
		}
		if cancelled != nil {
			break
		}
	}
	close(batches)
	wg.Wait()

	report.Imported = int(saved.Load())
	report.FailedBatches = int(failedBatches)
	report.FailedRecords = int(failedRecords)
	return cancelled
}

// saveBatch mirrors the batch first so a retried import re-mirrors anything
// the catalog did not confirm
func (imp *Importer) saveBatch(ctx context.Context, batch []*storage.Movie) (int, error) {
	if imp.mirror != nil {
		if err := imp.mirror.Mirror(ctx, batch); err != nil {
			return 0, fmt.Errorf("failed to mirror vectors: %w", err)
		}
	}
	return imp.store.SaveMovies(ctx, batch)
}

// logProgress logs once for every ProgressInterval boundary crossed between
// before and after, and once more when the last batch finishes, saved or not
func (imp *Importer) logProgress(before, after int64, total int, last bool) {
	interval := int64(imp.config.ProgressInterval)
	if after/interval > before/interval || last {
		imp.logger.Info("import progress", "saved", after, "total", total)
	}
}
