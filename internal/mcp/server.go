package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/moviesearch/internal/embedder"
	"github.com/dshills/moviesearch/internal/importer"
	"github.com/dshills/moviesearch/internal/searcher"
	"github.com/dshills/moviesearch/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "moviesearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// ErrMissingDependency is returned by NewServer when a dependency is nil
var ErrMissingDependency = errors.New("missing server dependency")

// Deps are the components a Server exposes as tools
type Deps struct {
	Storage  storage.Storage
	Importer *importer.Importer
	Searcher *searcher.Searcher
	Queries  *embedder.QueryCache // Optional: reported by get_status
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	importer *importer.Importer
	searcher *searcher.Searcher
	queries  *embedder.QueryCache
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Storage == nil || deps.Importer == nil || deps.Searcher == nil {
		return nil, ErrMissingDependency
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		storage:  deps.Storage,
		importer: deps.Importer,
		searcher: deps.Searcher,
		queries:  deps.Queries,
		logger:   logger,
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown. The caller
// owns the storage and closes it afterwards.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", "name", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchMoviesTool(), s.handleSearchMovies)
	s.mcp.AddTool(importMoviesTool(), s.handleImportMovies)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
