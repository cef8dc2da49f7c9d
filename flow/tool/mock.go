package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests.
//
// Responses are returned in order and the last one repeats. When Handler is
// set it is used instead of Responses.
type MockTool struct {
	ToolName  string
	Responses []map[string]interface{}
	Handler   func(input map[string]interface{}) (map[string]interface{}, error)
	Err       error

	mu    sync.Mutex
	calls []map[string]interface{}
	next  int
}

// Name returns ToolName.
func (m *MockTool) Name() string { return m.ToolName }

// Call records input and returns the scripted reply.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, input)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Handler != nil {
		return m.Handler(input)
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}
	return m.Responses[idx], nil
}

// Calls returns the recorded inputs.
func (m *MockTool) Calls() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]interface{}(nil), m.calls...)
}
