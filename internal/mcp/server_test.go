package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dshills/moviesearch/internal/embedder"
	"github.com/dshills/moviesearch/internal/importer"
	"github.com/dshills/moviesearch/internal/searcher"
	"github.com/dshills/moviesearch/internal/storage"
)

const catalogJSON = `[
  {"id": 1, "title": "The Matrix", "year": 1999, "plot": "A hacker discovers reality is a simulation.",
   "rating": 8.7, "actors": ["Keanu Reeves", "Carrie-Anne Moss"]},
  {"id": 2, "title": "John Wick", "year": 2014, "plot": "A retired hitman seeks vengeance.",
   "rating": 7.4, "actors": ["Keanu Reeves"]},
  {"id": 3, "title": "Alien", "year": 1979, "plot": "A crew meets a deadly lifeform.",
   "rating": 8.5, "actors": ["Sigourney Weaver"]},
  {"id": 4, "title": "Heat", "year": 1995, "plot": "A detective hunts a crew of thieves.",
   "rating": 8.3, "actors": ["Al Pacino", "Robert De Niro"]}
]`

type scanFailingStore struct {
	*storage.SQLiteStorage
}

func (s scanFailingStore) ScanStagingKeys(ctx context.Context, match, cursor string, count int) ([]string, string, error) {
	return nil, "", errors.New("staging offline")
}

// ServerTestSuite exercises the tool handlers against an in-memory catalog
type ServerTestSuite struct {
	suite.Suite
	ctx    context.Context
	store  *storage.SQLiteStorage
	server *Server
	srch   *searcher.Searcher
}

func (s *ServerTestSuite) SetupTest() {
	s.ctx = context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	s.Require().NoError(err)
	s.store = store

	emb, err := embedder.NewLocalProvider(nil)
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queries := embedder.NewQueryCache(store, emb, storage.MatchExact)
	s.srch = searcher.NewSearcher(store, store, queries, searcher.Config{Logger: logger})

	server, err := NewServer(Deps{
		Storage:  store,
		Importer: importer.New(store, emb, importer.Config{}, importer.WithLogger(logger)),
		Searcher: s.srch,
		Queries:  queries,
		Logger:   logger,
	})
	s.Require().NoError(err)
	s.server = server

	_, err = importer.Stage(s.ctx, store, strings.NewReader(catalogJSON))
	s.Require().NoError(err)
}

func (s *ServerTestSuite) TearDownTest() {
	_ = s.store.Close()
}

func (s *ServerTestSuite) call(handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error),
	name string, args interface{}) (map[string]interface{}, error) {
	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
	result, err := handler(s.ctx, request)
	if err != nil {
		return nil, err
	}
	return decodeResult(s.T(), result), nil
}

func (s *ServerTestSuite) importAll() map[string]interface{} {
	out, err := s.call(s.server.handleImportMovies, "import_movies", map[string]interface{}{})
	s.Require().NoError(err)
	return out
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	var text string
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		text = c.Text
	case *mcp.TextContent:
		text = c.Text
	default:
		t.Fatalf("unexpected content type %T", c)
	}

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func assertMCPError(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func (s *ServerTestSuite) TestImportMovies() {
	out := s.importAll()
	s.Equal(float64(4), out["scanned"])
	s.Equal(float64(4), out["imported"])
	s.Equal(float64(0), out["skipped"])
	s.NotContains(out, "errors")

	again := s.importAll()
	s.Equal(float64(0), again["imported"])
	s.Equal(float64(4), again["skipped"])
}

func (s *ServerTestSuite) TestImportMovies_ScanFailure() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.server.importer = importer.New(scanFailingStore{s.store}, nil, importer.Config{}, importer.WithLogger(logger))

	_, err := s.call(s.server.handleImportMovies, "import_movies", nil)
	assertMCPError(s.T(), err, ErrorCodeStagingUnreadable)
}

func (s *ServerTestSuite) TestSearchMovies_Text() {
	s.importAll()

	out, err := s.call(s.server.handleSearchMovies, "search_movies", map[string]interface{}{
		"query": "Keanu Reeves",
		"limit": float64(2),
	})
	s.Require().NoError(err)

	s.Equal("TEXT", out["result_type"])
	results := out["results"].([]interface{})
	s.Require().Len(results, 2)
	s.Equal("John Wick", results[0].(map[string]interface{})["title"])
	s.Equal("The Matrix", results[1].(map[string]interface{})["title"])
	s.Equal(float64(0), out["vector_results"])
}

func (s *ServerTestSuite) TestSearchMovies_HybridDefaultsToThree() {
	s.importAll()

	out, err := s.call(s.server.handleSearchMovies, "search_movies", map[string]interface{}{
		"query": "Matrix",
	})
	s.Require().NoError(err)

	s.Equal("HYBRID", out["result_type"])
	results := out["results"].([]interface{})
	s.Require().Len(results, 3)

	first := results[0].(map[string]interface{})
	s.Equal("The Matrix", first["title"])
	s.Equal(float64(1999), first["year"])
	s.Equal([]interface{}{"Keanu Reeves", "Carrie-Anne Moss"}, first["cast"])

	seen := map[string]bool{}
	for _, r := range results {
		title := r.(map[string]interface{})["title"].(string)
		s.False(seen[title], "duplicate %s", title)
		seen[title] = true
	}
}

func (s *ServerTestSuite) TestSearchMovies_VectorOnly() {
	s.importAll()

	out, err := s.call(s.server.handleSearchMovies, "search_movies", map[string]interface{}{
		"query": "space monsters attack a ship",
		"limit": 2,
	})
	s.Require().NoError(err)
	s.Equal("VECTOR", out["result_type"])
	s.Len(out["results"].([]interface{}), 2)
}

func (s *ServerTestSuite) TestSearchMovies_InvalidParams() {
	tests := []struct {
		name string
		args interface{}
		code int
	}{
		{"arguments not an object", "Matrix", ErrorCodeInvalidParams},
		{"missing query", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"blank query", map[string]interface{}{"query": "   "}, ErrorCodeEmptyQuery},
		{"zero limit", map[string]interface{}{"query": "Heat", "limit": 0}, ErrorCodeInvalidParams},
		{"limit too large", map[string]interface{}{"query": "Heat", "limit": 101}, ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.call(s.server.handleSearchMovies, "search_movies", tt.args)
			assertMCPError(s.T(), err, tt.code)
		})
	}
}

func (s *ServerTestSuite) TestImportClearsResponseCache() {
	s.importAll()

	_, err := s.call(s.server.handleSearchMovies, "search_movies", map[string]interface{}{"query": "Heat", "limit": 1})
	s.Require().NoError(err)
	s.Equal(1, s.srch.CacheLen())

	cached, err := s.call(s.server.handleSearchMovies, "search_movies", map[string]interface{}{"query": "Heat", "limit": 1})
	s.Require().NoError(err)
	s.Equal(true, cached["cache_hit"])

	_, err = importer.Stage(s.ctx, s.store, strings.NewReader(
		`[{"id": 5, "title": "Heat Wave", "year": 2001, "plot": "A summer in the city.", "actors": []}]`))
	s.Require().NoError(err)
	out := s.importAll()
	s.Equal(float64(1), out["imported"])
	s.Zero(s.srch.CacheLen())
}

func (s *ServerTestSuite) TestGetStatus() {
	before, err := s.call(s.server.handleGetStatus, "get_status", nil)
	s.Require().NoError(err)
	s.Equal(false, before["data_loaded"])
	s.Equal(false, before["import_running"])
	stats := before["statistics"].(map[string]interface{})
	s.Equal(float64(0), stats["movies"])
	s.Equal(float64(4), stats["staged"])

	s.importAll()
	_, err = s.call(s.server.handleSearchMovies, "search_movies", map[string]interface{}{"query": "Matrix"})
	s.Require().NoError(err)

	after, err := s.call(s.server.handleGetStatus, "get_status", nil)
	s.Require().NoError(err)
	s.Equal(true, after["data_loaded"])
	stats = after["statistics"].(map[string]interface{})
	s.Equal(float64(4), stats["movies"])
	s.Equal(float64(4), stats["embedded_movies"])
	s.Equal(float64(1), stats["query_embeddings"])

	qc := after["query_cache"].(map[string]interface{})
	s.Equal("exact", qc["mode"])
	s.Equal(float64(1), qc["misses"])

	health := after["health"].(map[string]interface{})
	s.Equal(true, health["database_accessible"])
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func TestNewServer_MissingDependencies(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", nil)
	assert.Equal(t, "MCP error -32004: query cannot be empty", err.Error())
}

func TestArgumentHelpers(t *testing.T) {
	args := map[string]interface{}{
		"float": float64(7),
		"int":   4,
		"flag":  false,
		"str":   "x",
	}
	assert.Equal(t, 7, getIntDefault(args, "float", 3))
	assert.Equal(t, 4, getIntDefault(args, "int", 3))
	assert.Equal(t, 3, getIntDefault(args, "missing", 3))
	assert.Equal(t, 3, getIntDefault(args, "str", 3))
	assert.False(t, getBoolDefault(args, "flag", true))
	assert.True(t, getBoolDefault(args, "missing", true))
}
