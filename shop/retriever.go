package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/stepflow/flow/tool"
)

// Record is one product as stored in the catalog: a flat property map with
// at least a "name".
type Record map[string]any

// Name returns the record's "name" property.
func (r Record) Name() string {
	if s, ok := r["name"].(string); ok {
		return s
	}
	return ""
}

// Retriever answers questions about, and searches, the product catalog.
type Retriever interface {
	Ask(ctx context.Context, query string) (string, error)
	Search(ctx context.Context, query string) ([]Record, error)
}

// QueryAgentClient talks to a product query agent over a tool.Tool,
// normally a tool.HTTPTool.
//
// Requests are {"query": q, "mode": "ask"|"search", "collections": [...]}.
// Ask replies carry "final_answer"; search replies carry "objects", a list
// of property maps.
type QueryAgentClient struct {
	tool        tool.Tool
	collections []string
	limit       int
}

// NewQueryAgentClient creates a client that queries collections (default
// "ECommerce"). limit caps search results; zero leaves it to the agent.
func NewQueryAgentClient(t tool.Tool, limit int, collections ...string) *QueryAgentClient {
	if len(collections) == 0 {
		collections = []string{"ECommerce"}
	}
	return &QueryAgentClient{tool: t, collections: collections, limit: limit}
}

// Ask returns the agent's natural-language answer.
func (c *QueryAgentClient) Ask(ctx context.Context, query string) (string, error) {
	out, err := c.tool.Call(ctx, c.request("ask", query))
	if err != nil {
		return "", &RetrievalError{Op: "ask", Query: query, Err: err}
	}
	answer, ok := out["final_answer"].(string)
	if !ok {
		return "", &RetrievalError{Op: "ask", Query: query, Err: errors.New("reply has no final_answer")}
	}
	return answer, nil
}

// Search returns the matching products in the agent's ranking order.
func (c *QueryAgentClient) Search(ctx context.Context, query string) ([]Record, error) {
	out, err := c.tool.Call(ctx, c.request("search", query))
	if err != nil {
		return nil, &RetrievalError{Op: "search", Query: query, Err: err}
	}

	raw, ok := out["objects"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, &RetrievalError{Op: "search", Query: query, Err: fmt.Errorf("objects is %T, not a list", raw)}
	}

	records := make([]Record, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, &RetrievalError{Op: "search", Query: query, Err: fmt.Errorf("object %d is %T", i, item)}
		}
		if props, ok := obj["properties"].(map[string]interface{}); ok {
			obj = props
		}
		records = append(records, Record(obj))
	}
	return records, nil
}

func (c *QueryAgentClient) request(mode, query string) map[string]interface{} {
	req := map[string]interface{}{
		"query":       query,
		"mode":        mode,
		"collections": c.collections,
	}
	if mode == "search" && c.limit > 0 {
		req["limit"] = c.limit
	}
	return req
}
