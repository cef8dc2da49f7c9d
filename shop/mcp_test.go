package shop

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/stepflow/flow/tool"
	"github.com/mark3labs/mcp-go/mcp"
)

func callTool(t *testing.T, s *MCPServer, args interface{}) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	res, err := s.handleQuery(testContext(t), req)
	if err != nil {
		t.Fatalf("handleQuery: %v", err)
	}
	return res
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected one content item, got %d", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestMCPServer(t *testing.T) {
	t.Run("answers through the workflow", func(t *testing.T) {
		s := NewMCPServer(newEngine(t, NewQARegistry, testAgent("Ask", nil)), "test")
		res := callTool(t, s, map[string]interface{}{"query": "recommend shoes"})
		if res.IsError {
			t.Fatalf("unexpected error result: %s", toolText(t, res))
		}
		if got := toolText(t, res); got != "Trail runners suit rocky paths." {
			t.Errorf("unexpected answer %q", got)
		}
	})

	t.Run("missing query", func(t *testing.T) {
		s := NewMCPServer(newEngine(t, NewQARegistry, testAgent("Ask", nil)), "test")
		res := callTool(t, s, map[string]interface{}{})
		if !res.IsError || !strings.Contains(toolText(t, res), "query") {
			t.Errorf("expected missing query error, got %+v", res)
		}
	})

	t.Run("run failure becomes error result", func(t *testing.T) {
		agent := testAgent("Ask", nil)
		agent.Retriever = NewQueryAgentClient(&tool.MockTool{Err: errors.New("agent down")}, 0)
		s := NewMCPServer(newEngine(t, NewQARegistry, agent), "test")

		res := callTool(t, s, map[string]interface{}{"query": "q"})
		if !res.IsError || !strings.Contains(toolText(t, res), "agent down") {
			t.Errorf("expected failure result, got %+v", res)
		}
	})

	t.Run("parking workflow is aborted", func(t *testing.T) {
		s := NewMCPServer(newEngine(t, NewAdminRegistry, testAgent("Admin", &fakeWriter{})), "test")
		res := callTool(t, s, map[string]interface{}{"query": "add item 3"})
		if !res.IsError || !strings.Contains(toolText(t, res), "asked for input") {
			t.Errorf("expected input error, got %+v", res)
		}
		deadline := time.Now().Add(3 * time.Second)
		for len(s.engine.Active()) != 0 {
			if time.Now().After(deadline) {
				t.Fatal("aborted run still active")
			}
			time.Sleep(2 * time.Millisecond)
		}
	})

	if NewMCPServer(newEngine(t, NewQARegistry, testAgent("Ask", nil)), "test").Handler() == nil {
		t.Error("expected HTTP handler")
	}
}
