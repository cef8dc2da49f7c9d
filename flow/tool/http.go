package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// StatusError is returned when the remote service answers with a non-2xx
// status.
type StatusError struct {
	Tool       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Tool, e.StatusCode, e.Body)
}

// HTTPTool POSTs its input as JSON to a fixed endpoint and decodes a JSON
// object reply.
//
// Example:
//
//	agent := tool.NewHTTPTool("query_agent", "http://localhost:8081/query",
//	    tool.WithBearerToken(os.Getenv("QUERY_AGENT_TOKEN")))
//	out, err := agent.Call(ctx, map[string]interface{}{"query": "red shirts", "mode": "search"})
type HTTPTool struct {
	name     string
	endpoint string
	token    string
	headers  map[string]string
	client   *http.Client
	limiter  *rate.Limiter
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithBearerToken sends an Authorization: Bearer header.
func WithBearerToken(token string) HTTPOption {
	return func(h *HTTPTool) { h.token = token }
}

// WithHeader adds a static request header.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPTool) { h.headers[key] = value }
}

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPTool) { h.client = c }
}

// WithRateLimit caps outgoing calls at perSecond with the given burst.
// Calls wait for a token and fail if ctx ends first.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(h *HTTPTool) {
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewHTTPTool creates a tool that calls endpoint.
func NewHTTPTool(name, endpoint string, opts ...HTTPOption) *HTTPTool {
	h := &HTTPTool{
		name:     name,
		endpoint: endpoint,
		headers:  make(map[string]string),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the tool name.
func (h *HTTPTool) Name() string { return h.name }

// Endpoint returns the URL the tool posts to.
func (h *HTTPTool) Endpoint() string { return h.endpoint }

// Call posts input and decodes the reply object.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limit: %w", h.name, err)
		}
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode input: %w", h.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", h.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to execute request: %w", h.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response body: %w", h.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Tool: h.name, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	out := map[string]interface{}{}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", h.name, err)
	}
	return out, nil
}
