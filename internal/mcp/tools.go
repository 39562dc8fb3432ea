package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/moviesearch/internal/importer"
	"github.com/dshills/moviesearch/internal/searcher"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeImportInProgress  = -32002 // Another import is already running
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
	ErrorCodeStagingUnreadable = -32005 // Staging scan failed
)

// maxReportedErrors caps the per-item errors echoed back by import_movies
const maxReportedErrors = 5

// handleSearchMovies handles the search_movies tool invocation
func (s *Server) handleSearchMovies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams,
			fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
				"param": "limit",
				"value": limit,
			})
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		UseCache: getBoolDefault(args, "use_cache", true),
	})
	if errors.Is(err, searcher.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query cannot be empty", nil)
	}
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = map[string]interface{}{
			"title":  r.Title,
			"year":   r.Year,
			"plot":   r.Plot,
			"rating": r.Rating,
			"cast":   r.Cast,
		}
	}

	response := map[string]interface{}{
		"query":          query,
		"result_type":    string(resp.Type),
		"results":        results,
		"total_results":  len(results),
		"text_results":   resp.TextResults,
		"vector_results": resp.VectorResults,
		"cache_hit":      resp.CacheHit,
		"duration_ms":    resp.Duration.Milliseconds(),
		"timings_ms": map[string]interface{}{
			"text":   resp.TextDuration.Milliseconds(),
			"embed":  resp.EmbedDuration.Milliseconds(),
			"vector": resp.VectorDuration.Milliseconds(),
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleImportMovies handles the import_movies tool invocation
func (s *Server) handleImportMovies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.importer.Run(ctx)
	switch {
	case errors.Is(err, importer.ErrImportInProgress):
		return nil, newMCPError(ErrorCodeImportInProgress, "an import is already running", nil)
	case errors.Is(err, importer.ErrScan):
		return nil, newMCPError(ErrorCodeStagingUnreadable, "staging records could not be scanned", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "import failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Cached responses may predate the new movies
	if report.Imported > 0 {
		s.searcher.InvalidateCache()
	}

	response := map[string]interface{}{
		"scanned":        report.Scanned,
		"transformed":    report.Transformed,
		"imported":       report.Imported,
		"skipped":        report.Skipped,
		"failed":         report.Failed,
		"failed_batches": report.FailedBatches,
		"failed_records": report.FailedRecords,
		"duration_ms":    report.Duration.Milliseconds(),
	}

	if len(report.ErrorMessages) > 0 {
		errorCount := len(report.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = report.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = report.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"data_loaded":    status.Movies > importer.LoadedSentinel,
		"import_running": s.importer.Running(),
		"statistics": map[string]interface{}{
			"movies":           status.Movies,
			"embedded_movies":  status.EmbeddedMovies,
			"staged":           status.Staged,
			"query_embeddings": status.QueryEmbeddings,
			"cached_responses": s.searcher.CacheLen(),
			"index_size_mb":    fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"vector_extension":     status.Health.VectorExtension,
		},
	}

	if s.queries != nil {
		stats := s.queries.Stats()
		response["query_cache"] = map[string]interface{}{
			"mode":   string(s.queries.Mode()),
			"hits":   stats.Hits,
			"misses": stats.Misses,
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}
