// Package mcp implements the Model Context Protocol (MCP) server for movie search.
//
// The MCP server exposes three tools:
//   - search_movies: Hybrid title/cast and plot-similarity search
//   - import_movies: Import staged movie records into the catalog
//   - get_status: Catalog, staging and cache statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is typically started via the serve command, which imports staged
// movies first unless the catalog is already loaded:
//
//	moviesearch serve
//
// # Tool: search_movies
//
//	Request:
//	{
//	  "name": "search_movies",
//	  "arguments": {"query": "Matrix", "limit": 3}
//	}
//
//	Response:
//	{
//	  "query": "Matrix",
//	  "result_type": "HYBRID",
//	  "results": [
//	    {
//	      "title": "The Matrix",
//	      "year": 1999,
//	      "plot": "A hacker learns the truth about reality.",
//	      "rating": 8.7,
//	      "cast": ["Keanu Reeves", "Carrie-Anne Moss"]
//	    }
//	  ],
//	  "text_results": 1,
//	  "vector_results": 3
//	}
//
// result_type is TEXT when title and cast matches alone filled the limit,
// VECTOR when nothing matched by text and HYBRID otherwise. limit defaults
// to 3.
//
// # Tool: import_movies
//
//	Response:
//	{
//	  "scanned": 3,
//	  "imported": 2,
//	  "skipped": 1,
//	  "failed": 0,
//	  "failed_batches": 0,
//	  "duration_ms": 41
//	}
//
// A successful import clears the search response cache.
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (bad limit, non-object arguments)
//   - -32603: Internal error (database, embedding provider)
//   - -32002: Import already in progress
//   - -32004: Empty query
//   - -32005: Staging records could not be scanned
//
// # Logging
//
// stdout is reserved for the protocol; the server logs to stderr through the
// slog.Logger passed in Deps.
package mcp
