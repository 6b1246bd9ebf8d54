package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexBuildTool returns the tool definition for index_build
func indexBuildTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_build",
		Description: "Build the hierarchical retrieval index over a directory from scratch",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the corpus root directory",
				},
			},
			Required: []string{"path"},
		},
	}
}

// indexUpdateTool returns the tool definition for index_update
func indexUpdateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_update",
		Description: "Rescan the corpus and incrementally update the index: only subtrees touched by added, modified, or deleted files are rebuilt",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the corpus root directory",
				},
			},
			Required: []string{"path"},
		},
	}
}

// indexQueryTool returns the tool definition for index_query
func indexQueryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_query",
		Description: "Search the index with a natural language query; results are ranked by cosine similarity across all tree levels",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"levels": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these tree levels (0 = raw chunks, higher = summaries). Empty means all levels.",
					"items": map[string]interface{}{
						"type":    "integer",
						"minimum": 0,
					},
				},
			},
			Required: []string{"query"},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report the shape of the current index snapshot",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
