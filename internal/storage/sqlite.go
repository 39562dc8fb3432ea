package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidStagingRecord is returned when a staged payload cannot be stored or decoded
	ErrInvalidStagingRecord = errors.New("invalid staging record")
)

// StagingPrefix is the key prefix of staged movie records
const StagingPrefix = "import:movie:"

// StagingKey returns the staging key for a movie id
func StagingKey(id int64) string {
	return fmt.Sprintf("%s%d", StagingPrefix, id)
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: SQLite has one writer, and ":memory:" databases are
	// per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Movie operations

const movieColumns = `m.id, m.title, m.year, m.plot, m.rating, m.created_at`

// scanMovies reads movie rows fully before returning so the single
// connection is free for follow-up queries
func scanMovies(rows *sql.Rows) ([]*Movie, error) {
	defer func() { _ = rows.Close() }()

	movies := make([]*Movie, 0)
	for rows.Next() {
		var m Movie
		if err := rows.Scan(&m.ID, &m.Title, &m.Year, &m.Plot, &m.Rating, &m.CreatedAt); err != nil {
			return nil, err
		}
		movies = append(movies, &m)
	}
	return movies, rows.Err()
}

// loadCast fills Cast for the given movies in position order
func loadCast(ctx context.Context, q querier, movies []*Movie) error {
	if len(movies) == 0 {
		return nil
	}

	byID := make(map[int64]*Movie, len(movies))
	placeholders := make([]string, 0, len(movies))
	args := make([]interface{}, 0, len(movies))
	for _, m := range movies {
		if _, seen := byID[m.ID]; seen {
			continue
		}
		byID[m.ID] = m
		m.Cast = []string{}
		placeholders = append(placeholders, "?")
		args = append(args, m.ID)
	}

	query := `SELECT movie_id, name FROM movie_cast WHERE movie_id IN (` +
		strings.Join(placeholders, ",") + `) ORDER BY movie_id, position`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load cast: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var movieID int64
		var name string
		if err := rows.Scan(&movieID, &name); err != nil {
			return err
		}
		if m, ok := byID[movieID]; ok {
			m.Cast = append(m.Cast, name)
		}
	}
	return rows.Err()
}

func (s *SQLiteStorage) getMovieWithQuerier(ctx context.Context, q querier, id int64) (*Movie, error) {
	query := `
		SELECT ` + movieColumns + `, m.plot_embedding
		FROM movies m
		WHERE m.id = ?
	`
	var m Movie
	var blob []byte
	err := q.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.Title, &m.Year, &m.Plot, &m.Rating, &m.CreatedAt, &blob,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		m.PlotEmbedding = deserializeVector(blob)
	}
	if err := loadCast(ctx, q, []*Movie{&m}); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStorage) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	return s.getMovieWithQuerier(ctx, s.querier(), id)
}

func getMoviesByIDs(ctx context.Context, q querier, ids []int64) (map[int64]*Movie, error) {
	result := make(map[int64]*Movie, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := `SELECT ` + movieColumns + ` FROM movies m WHERE m.id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get movies: %w", err)
	}
	movies, err := scanMovies(rows)
	if err != nil {
		return nil, err
	}
	if err := loadCast(ctx, q, movies); err != nil {
		return nil, err
	}

	for _, m := range movies {
		result[m.ID] = m
	}
	return result, nil
}

// GetMoviesByIDs loads movies keyed by id; ids without a row are absent
// from the map. Plot embeddings are not loaded.
func (s *SQLiteStorage) GetMoviesByIDs(ctx context.Context, ids []int64) (map[int64]*Movie, error) {
	return getMoviesByIDs(ctx, s.querier(), ids)
}

func (s *SQLiteStorage) movieExistsWithQuerier(ctx context.Context, q querier, id int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM movies WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check movie %d: %w", id, err)
	}
	return exists, nil
}

func (s *SQLiteStorage) MovieExists(ctx context.Context, id int64) (bool, error) {
	return s.movieExistsWithQuerier(ctx, s.querier(), id)
}

// saveMoviesWithQuerier inserts movies that are not yet present. Existing rows
// are left untouched; the return value counts rows actually inserted.
func (s *SQLiteStorage) saveMoviesWithQuerier(ctx context.Context, q querier, movies []*Movie) (int, error) {
	insertMovie := `
		INSERT INTO movies (id, title, year, plot, rating, plot_embedding, dimension, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	insertCast := `INSERT INTO movie_cast (movie_id, position, name) VALUES (?, ?, ?)`

	now := time.Now()
	inserted := 0
	for _, m := range movies {
		var blob []byte
		if len(m.PlotEmbedding) > 0 {
			blob = serializeVector(m.PlotEmbedding)
		}

		result, err := q.ExecContext(ctx, insertMovie,
			m.ID, m.Title, m.Year, m.Plot, m.Rating, blob, len(m.PlotEmbedding), now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert movie %d: %w", m.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			continue
		}

		for pos, name := range m.Cast {
			if _, err := q.ExecContext(ctx, insertCast, m.ID, pos, name); err != nil {
				return 0, fmt.Errorf("failed to insert cast for movie %d: %w", m.ID, err)
			}
		}
		m.CreatedAt = now
		inserted++
	}
	return inserted, nil
}

// SaveMovies writes a batch in one transaction. Either the whole batch is
// committed or none of it is.
func (s *SQLiteStorage) SaveMovies(ctx context.Context, movies []*Movie) (int, error) {
	if len(movies) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := s.saveMoviesWithQuerier(ctx, tx, movies)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStorage) countWithQuerier(ctx context.Context, q querier, table string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteStorage) CountMovies(ctx context.Context) (int, error) {
	return s.countWithQuerier(ctx, s.querier(), "movies")
}

// Search operations

func (s *SQLiteStorage) searchMoviesTextWithQuerier(ctx context.Context, q querier, query string, limit int) ([]*Movie, error) {
	if limit <= 0 {
		return []*Movie{}, nil
	}

	sqlQuery := `
		SELECT ` + movieColumns + `
		FROM movies m
		WHERE m.title = ? COLLATE NOCASE
		   OR instr(lower(m.title), lower(?)) > 0
		   OR EXISTS (
		       SELECT 1 FROM movie_cast c
		       WHERE c.movie_id = m.id AND c.name = ? COLLATE NOCASE
		   )
		ORDER BY m.title, m.id
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, sqlQuery, query, query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	movies, err := scanMovies(rows)
	if err != nil {
		return nil, err
	}
	if err := loadCast(ctx, q, movies); err != nil {
		return nil, err
	}
	return movies, nil
}

// SearchMoviesText returns movies whose title equals or contains query, or
// whose cast lists query, ordered by title ascending and capped at limit.
// Matching is case-insensitive.
func (s *SQLiteStorage) SearchMoviesText(ctx context.Context, query string, limit int) ([]*Movie, error) {
	return s.searchMoviesTextWithQuerier(ctx, s.querier(), query, limit)
}

func (s *SQLiteStorage) KNN(ctx context.Context, vq VectorQuery) ([]*ScoredMovie, error) {
	return knn(ctx, s.querier(), vq)
}

// Query embedding operations

const queryEmbeddingColumns = `id, query, vector, dimension, provider, model, created_at`

func scanQueryEmbedding(row *sql.Row) (*QueryEmbedding, error) {
	var qe QueryEmbedding
	var blob []byte
	err := row.Scan(&qe.ID, &qe.Query, &blob, &qe.Dimension, &qe.Provider, &qe.Model, &qe.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	qe.Vector = deserializeVector(blob)
	return &qe, nil
}

func (s *SQLiteStorage) findQueryEmbeddingWithQuerier(ctx context.Context, q querier, query string, mode MatchMode) (*QueryEmbedding, error) {
	var sqlQuery string
	switch mode {
	case MatchSubstring:
		sqlQuery = `SELECT ` + queryEmbeddingColumns + ` FROM query_embeddings
			WHERE instr(lower(query), lower(?)) > 0 ORDER BY id LIMIT 1`
	case MatchExact, "":
		sqlQuery = `SELECT ` + queryEmbeddingColumns + ` FROM query_embeddings
			WHERE query = ? LIMIT 1`
	default:
		return nil, fmt.Errorf("unsupported match mode: %s", mode)
	}
	return scanQueryEmbedding(q.QueryRowContext(ctx, sqlQuery, query))
}

// FindQueryEmbedding returns the first cached embedding matching query under
// mode, or ErrNotFound
func (s *SQLiteStorage) FindQueryEmbedding(ctx context.Context, query string, mode MatchMode) (*QueryEmbedding, error) {
	return s.findQueryEmbeddingWithQuerier(ctx, s.querier(), query, mode)
}

func (s *SQLiteStorage) insertQueryEmbeddingWithQuerier(ctx context.Context, q querier, qe *QueryEmbedding) (*QueryEmbedding, error) {
	if len(qe.Vector) == 0 {
		return nil, fmt.Errorf("failed to insert query embedding: empty vector")
	}

	insert := `
		INSERT INTO query_embeddings (query, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(query) DO NOTHING
	`
	_, err := q.ExecContext(ctx, insert,
		qe.Query, serializeVector(qe.Vector), len(qe.Vector), qe.Provider, qe.Model, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to insert query embedding: %w", err)
	}

	// Return whichever row won so racing writers agree on one vector
	return s.findQueryEmbeddingWithQuerier(ctx, q, qe.Query, MatchExact)
}

// InsertQueryEmbedding stores qe unless a row for the same query exists, and
// returns the stored row
func (s *SQLiteStorage) InsertQueryEmbedding(ctx context.Context, qe *QueryEmbedding) (*QueryEmbedding, error) {
	return s.insertQueryEmbeddingWithQuerier(ctx, s.querier(), qe)
}

func (s *SQLiteStorage) CountQueryEmbeddings(ctx context.Context) (int, error) {
	return s.countWithQuerier(ctx, s.querier(), "query_embeddings")
}

// Staging operations

func (s *SQLiteStorage) putStagingRecordWithQuerier(ctx context.Context, q querier, rec *StagingRecord) error {
	if rec.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidStagingRecord)
	}
	key := rec.Key
	if key == "" {
		key = StagingKey(rec.ID)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStagingRecord, err)
	}

	query := `
		INSERT INTO staging_records (key, movie_id, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			movie_id = excluded.movie_id,
			payload = excluded.payload
	`
	if _, err := q.ExecContext(ctx, query, key, rec.ID, string(payload), time.Now()); err != nil {
		return fmt.Errorf("failed to put staging record %s: %w", key, err)
	}
	rec.Key = key
	return nil
}

func (s *SQLiteStorage) PutStagingRecord(ctx context.Context, rec *StagingRecord) error {
	return s.putStagingRecordWithQuerier(ctx, s.querier(), rec)
}

func (s *SQLiteStorage) getStagingRecordWithQuerier(ctx context.Context, q querier, id int64) (*StagingRecord, error) {
	var key, payload string
	err := q.QueryRowContext(ctx,
		`SELECT key, payload FROM staging_records WHERE movie_id = ?`, id).Scan(&key, &payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staging record %d: %w", id, err)
	}

	var rec StagingRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidStagingRecord, key, err)
	}
	rec.Key = key
	rec.ID = id
	return &rec, nil
}

func (s *SQLiteStorage) GetStagingRecord(ctx context.Context, id int64) (*StagingRecord, error) {
	return s.getStagingRecordWithQuerier(ctx, s.querier(), id)
}

func (s *SQLiteStorage) scanStagingKeysWithQuerier(ctx context.Context, q querier, match string, cursor string, count int) ([]string, string, error) {
	if count <= 0 {
		count = 1000
	}
	if match == "" {
		match = StagingPrefix + "*"
	}

	rows, err := q.QueryContext(ctx, `
		SELECT key FROM staging_records
		WHERE key > ? AND key GLOB ?
		ORDER BY key
		LIMIT ?
	`, cursor, match, count)
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan staging keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0, count)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, "", err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(keys) == count {
		next = keys[len(keys)-1]
	}
	return keys, next, nil
}

// ScanStagingKeys returns up to count keys matching the glob match, starting
// after cursor. An empty next cursor means the scan is complete.
func (s *SQLiteStorage) ScanStagingKeys(ctx context.Context, match string, cursor string, count int) ([]string, string, error) {
	return s.scanStagingKeysWithQuerier(ctx, s.querier(), match, cursor, count)
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	var err error
	if status.Movies, err = s.CountMovies(ctx); err != nil {
		return nil, err
	}
	if status.Staged, err = s.countWithQuerier(ctx, s.db, "staging_records"); err != nil {
		return nil, err
	}
	if status.QueryEmbeddings, err = s.CountQueryEmbeddings(ctx); err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM movies WHERE dimension > 0").Scan(&status.EmbeddedMovies)
	if err != nil {
		return nil, err
	}

	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddedMovies > 0,
		VectorExtension:     VectorExtensionAvailable,
	}
	return status, nil
}

// Transaction implementations

func (t *sqliteTx) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	return t.storage.getMovieWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) GetMoviesByIDs(ctx context.Context, ids []int64) (map[int64]*Movie, error) {
	return getMoviesByIDs(ctx, t.querier(), ids)
}

func (t *sqliteTx) MovieExists(ctx context.Context, id int64) (bool, error) {
	return t.storage.movieExistsWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) SaveMovies(ctx context.Context, movies []*Movie) (int, error) {
	return t.storage.saveMoviesWithQuerier(ctx, t.querier(), movies)
}

func (t *sqliteTx) CountMovies(ctx context.Context) (int, error) {
	return t.storage.countWithQuerier(ctx, t.querier(), "movies")
}

func (t *sqliteTx) SearchMoviesText(ctx context.Context, query string, limit int) ([]*Movie, error) {
	return t.storage.searchMoviesTextWithQuerier(ctx, t.querier(), query, limit)
}

func (t *sqliteTx) KNN(ctx context.Context, vq VectorQuery) ([]*ScoredMovie, error) {
	return knn(ctx, t.querier(), vq)
}

func (t *sqliteTx) FindQueryEmbedding(ctx context.Context, query string, mode MatchMode) (*QueryEmbedding, error) {
	return t.storage.findQueryEmbeddingWithQuerier(ctx, t.querier(), query, mode)
}

func (t *sqliteTx) InsertQueryEmbedding(ctx context.Context, qe *QueryEmbedding) (*QueryEmbedding, error) {
	return t.storage.insertQueryEmbeddingWithQuerier(ctx, t.querier(), qe)
}

func (t *sqliteTx) CountQueryEmbeddings(ctx context.Context) (int, error) {
	return t.storage.countWithQuerier(ctx, t.querier(), "query_embeddings")
}

func (t *sqliteTx) PutStagingRecord(ctx context.Context, rec *StagingRecord) error {
	return t.storage.putStagingRecordWithQuerier(ctx, t.querier(), rec)
}

func (t *sqliteTx) GetStagingRecord(ctx context.Context, id int64) (*StagingRecord, error) {
	return t.storage.getStagingRecordWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ScanStagingKeys(ctx context.Context, match string, cursor string, count int) ([]string, string, error) {
	return t.storage.scanStagingKeysWithQuerier(ctx, t.querier(), match, cursor, count)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	// Status issues several reads outside the transaction; the single pooled
	// connection is held by the transaction, so this is unsupported
	return nil, errors.New("status is not available inside a transaction")
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
