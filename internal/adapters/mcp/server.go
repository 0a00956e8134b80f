// Package mcpadapter exposes retrieval as MCP tools for agent runtimes.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

const (
	ToolRetrieve        = "retrieve"
	ToolListSourceTypes = "list_source_types"
)

type Server struct {
	svc    ports.RetrievalService
	mcp    *server.MCPServer
	logger *slog.Logger
}

func NewServer(svc ports.RetrievalService, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		mcp:    server.NewMCPServer("hybrid-retrieval", version, server.WithToolCapabilities(false), server.WithRecovery()),
		logger: logger,
	}
	s.mcp.AddTool(retrieveTool(), s.handleRetrieve)
	s.mcp.AddTool(listSourceTypesTool(), s.handleListSourceTypes)
	return s
}

func retrieveTool() mcp.Tool {
	return mcp.NewTool(ToolRetrieve,
		mcp.WithDescription("Search structured tables and document chunks together and return fused, ranked entities. "+
			"Provide a free-text query, exact identifiers (fee codes, DINs, section references, device codes), filters, or any combination."),
		mcp.WithString("query", mcp.Description("Free-text question or keywords.")),
		mcp.WithArray("identifiers", mcp.Description("Exact identifying keys to look up."), mcp.WithStringItems()),
		mcp.WithObject("filters", mcp.Description("Equality filters by field name. Use source_type to restrict to one source type.")),
		mcp.WithArray("include", mcp.Description("Fields to return per item. Empty returns every field."), mcp.WithStringItems()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of items."), mcp.Min(0)),
	)
}

func listSourceTypesTool() mcp.Tool {
	return mcp.NewTool(ToolListSourceTypes,
		mcp.WithDescription("List the source types, their identifying key fields, filterable fields and returned fields."),
	)
}

func (s *Server) handleRetrieve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := decodeRetrievalRequest(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.svc.Retrieve(ctx, req)
	if err != nil {
		s.logger.Warn("mcp_retrieve_failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleListSourceTypes(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	specs := s.svc.SourceTypes()
	out := make([]domain.SourceTypeInfo, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec.Describe())
	}
	return jsonResult(map[string]any{"source_types": out})
}

// decodeRetrievalRequest round-trips the loosely typed arguments through
// JSON so numbers and arrays land in the request's own types.
func decodeRetrievalRequest(args map[string]any) (domain.RetrievalRequest, error) {
	var req domain.RetrievalRequest
	raw, err := json.Marshal(args)
	if err != nil {
		return req, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("invalid arguments: %w", err)
	}
	return req, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// ServeStdio serves the protocol on the given streams until ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// HTTPHandler returns the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}
