// Package mcp exposes the impact engine to assistants over the Model
// Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rohankatakam/impactgraph/internal/service"
)

// Server wraps an MCP server bound to one engine
type Server struct {
	svc       *service.Service
	mcpServer *mcp.Server
	logger    *slog.Logger
}

// NewServer registers every tool and resource
func NewServer(svc *service.Service, version string) *Server {
	s := &Server{
		svc: svc,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    "impactgraph",
			Version: version,
		}, nil),
		logger: slog.Default().With("component", "mcp"),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Run serves over stdin/stdout until the client disconnects or ctx ends
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return textResult(string(data))
}
