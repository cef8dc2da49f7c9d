package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dshills/stepflow/flow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCP tool exposing the Q/A workflow.
const (
	ToolName        = "e-commerce-tool"
	ToolDescription = "Useful to answer questions about e-commerce products (clothing items, prices etc)."
)

// MCPServer serves one workflow engine as an MCP tool. Each call submits a
// run with the tool's query argument and returns the Stop result as text.
//
// The engine should run a workflow that never parks (the Q/A workflow): a
// tool call has no channel for a confirmation, so a parked run is aborted
// and reported as an error.
type MCPServer struct {
	mcpServer *server.MCPServer
	engine    *flow.Engine
}

// NewMCPServer registers the tool.
func NewMCPServer(engine *flow.Engine, version string) *MCPServer {
	s := &MCPServer{
		mcpServer: server.NewMCPServer(
			"stepflow e-commerce",
			version,
			server.WithToolCapabilities(true),
		),
		engine: engine,
	}

	s.mcpServer.AddTool(
		mcp.NewTool(
			ToolName,
			mcp.WithDescription(ToolDescription),
			mcp.WithString("query", mcp.Required(), mcp.Description("The shopper's question or search request")),
		),
		s.handleQuery,
	)
	return s
}

// MCP returns the underlying server.
func (s *MCPServer) MCP() *server.MCPServer { return s.mcpServer }

// Handler serves the MCP streamable HTTP transport.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *MCPServer) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	h, err := s.engine.Submit(ctx, flow.Payload{"query": query})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start run: %v", err)), nil
	}

	stop, err := s.await(ctx, h)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Run %s failed: %v", h.RunID(), err)), nil
	}
	return mcp.NewToolResultText(resultText(stop.Result())), nil
}

// await waits for the run to finish, aborting it if it parks or ctx ends.
func (s *MCPServer) await(ctx context.Context, h *flow.Handle) (flow.Event, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for ev := range h.Stream(streamCtx) {
		if ev.Kind() == flow.KindInputRequired {
			h.Abort()
			return flow.Event{}, fmt.Errorf("workflow asked for input: %s", ev.String("prompt"))
		}
	}
	if ctx.Err() != nil {
		h.Abort()
		return flow.Event{}, ctx.Err()
	}
	return h.Result(ctx)
}

func resultText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
