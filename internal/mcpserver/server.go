// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes stored highlights to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/marker/internal/apperr"
	"github.com/starford/marker/internal/highlightservice"
)

// DescriptorFormatURI is the resource holding DescriptorContract.
const DescriptorFormatURI = "marker://descriptor-format"

// Server wraps the MCP server with highlight tools.
type Server struct {
	mcp *server.MCPServer
	svc *highlightservice.Service
}

// New creates a new MCP server with all highlight tools registered.
func New(svc *highlightservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Marker",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List pages that have stored highlights, most recently updated first."),
		mcp.WithNumber("limit", mcp.Description("Maximum pages to return (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Number of pages to skip")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("get_highlights",
		mcp.WithDescription("Return every highlight record stored for a page, in saved order. "+
			"Positions are only meaningful against the page's text nodes; read the contract via "+
			"get_descriptor_contract or the "+DescriptorFormatURI+" resource."),
		mcp.WithString("page_key", mcp.Required(), mcp.Description("Exact page URI the highlights were saved under")),
	), s.getHighlights)

	s.mcp.AddTool(mcp.NewTool("search_highlights",
		mcp.WithDescription("Full-text search through the text of stored highlights."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchHighlights)

	s.mcp.AddTool(mcp.NewTool("export_highlights",
		mcp.WithDescription("Export a page's highlights as Markdown quotes."),
		mcp.WithString("page_key", mcp.Required(), mcp.Description("Exact page URI the highlights were saved under")),
	), s.exportHighlights)

	s.mcp.AddTool(mcp.NewTool("get_descriptor_contract",
		mcp.WithDescription("Returns the highlight record and position descriptor contract."),
	), s.getDescriptorContract)

	// Resource: descriptor format contract.
	s.mcp.AddResource(
		mcp.NewResource(DescriptorFormatURI, "Position Descriptor Contract",
			mcp.WithResourceDescription("How highlight records address text in a page."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDescriptorFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)
	offset := req.GetInt("offset", 0)
	pages, total, err := s.svc.ListPages(ctx, limit, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"pages": pages, "total": total})
}

func (s *Server) getHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("page_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.svc.Records(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no highlights for: %s", key)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(page)
}

func (s *Server) searchHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no highlights found"), nil
	}
	return jsonResult(results)
}

func (s *Server) exportHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("page_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	md, err := s.svc.Export(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no highlights for: %s", key)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(md), nil
}

func (s *Server) getDescriptorContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DescriptorContract), nil
}

func (s *Server) readDescriptorFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      DescriptorFormatURI,
			MIMEType: "text/markdown",
			Text:     DescriptorContract,
		},
	}, nil
}
