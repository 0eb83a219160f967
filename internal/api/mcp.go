package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/smartfile/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Searcher Searcher
	Asker    Asker
	Indexer  Indexer

	SearchLimit     int
	SearchThreshold float32
}

// NewMCPServer creates an MCP server exposing search, question answering,
// and index inspection as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.SearchLimit <= 0 {
		deps.SearchLimit = 10
	}
	if deps.SearchThreshold <= 0 {
		deps.SearchThreshold = 0.3
	}

	s := server.NewMCPServer(
		"smartfile",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("smartfile: semantic search and question answering over your indexed local files."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_files",
			mcp.WithDescription("Semantically search indexed files and return the most relevant text chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithNumber("threshold", mcp.Description("Minimum similarity between -1 and 1 (default 0.3)")),
		),
		mcpSearchFiles(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_files",
			mcp.WithDescription("Answer a question using the content of indexed files, citing the source files."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAskFiles(deps),
	)

	s.AddTool(
		mcp.NewTool("list_folders",
			mcp.WithDescription("List indexed folders with their recursive file counts."),
		),
		mcpListFolders(deps),
	)

	s.AddTool(
		mcp.NewTool("index_status",
			mcp.WithDescription("Report the progress of the current or last indexing run."),
		),
		mcpIndexStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"smartfile://folders/tree",
			"Folder Tree",
			mcp.WithResourceDescription("Indexed folder hierarchy as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFolderTree(deps),
	)

	return s
}

func mcpSearchFiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", deps.SearchLimit)
		if limit <= 0 {
			limit = deps.SearchLimit
		}
		if limit > 50 {
			limit = 50
		}
		threshold := float32(req.GetFloat("threshold", float64(deps.SearchThreshold)))

		chunks, err := deps.Store.TotalChunks()
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if chunks == 0 {
			return mcpText(EmptyIndexMessage), nil
		}

		matches, err := deps.Searcher.Search(ctx, query, limit, threshold)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type result struct {
			FilePath string  `json:"file_path"`
			Chunk    int     `json:"chunk_index"`
			Text     string  `json:"text"`
			Score    float32 `json:"score"`
		}
		results := make([]result, len(matches))
		for i, m := range matches {
			results[i] = result{FilePath: m.FilePath, Chunk: m.ChunkIndex, Text: m.Content, Score: m.Score}
		}
		return mcpJSON(results)
	}
}

func mcpAskFiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		resp, err := deps.Asker.Ask(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("question failed: %v", err)), nil
		}

		text := resp.Answer
		if len(resp.Sources) > 0 {
			text += "\n\nSources:"
			for _, s := range resp.Sources {
				text += fmt.Sprintf("\n- %s (%.2f)", s.FilePath, s.SimilarityScore)
			}
		}
		return mcpText(text), nil
	}
}

func mcpListFolders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		folders, err := deps.Store.ListFolders()
		if err != nil {
			return mcpError(fmt.Sprintf("listing folders failed: %v", err)), nil
		}
		out := make([]FolderInfo, len(folders))
		for i, f := range folders {
			out[i] = folderInfo(f)
		}
		return mcpJSON(out)
	}
}

func mcpIndexStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Indexer.Snapshot())
	}
}

func mcpResourceFolderTree(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		nodes, err := deps.Store.FolderHierarchy(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load folder tree: %w", err)
		}
		b, err := json.Marshal(folderTree(nodes))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal folder tree: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
