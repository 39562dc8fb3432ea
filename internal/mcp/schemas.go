package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/moviesearch/internal/searcher"
)

// searchMoviesTool returns the tool definition for search_movies
func searchMoviesTool() mcp.Tool {
	return mcp.Tool{
		Name: "search_movies",
		Description: "Search movies by title or cast name, topped up with movies whose plots " +
			"are semantically closest to the query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Title, actor name or a free-text description of the plot",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of movies to return (1-100)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, serve repeated queries from the response cache",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// importMoviesTool returns the tool definition for import_movies
func importMoviesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "import_movies",
		Description: "Import staged movie records into the catalog, skipping movies already present",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report catalog size, staging backlog and embedding cache statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
