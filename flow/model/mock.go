package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// Responses are returned in order and the last one repeats. Reply, when
// set, computes the answer from the conversation instead.
//
// Example:
//
//	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "Search"}}}
type MockChatModel struct {
	Responses []ChatOut
	Reply     func(messages []Message) (ChatOut, error)
	Err       error

	mu    sync.Mutex
	calls [][]Message
	next  int
}

// Chat records the conversation and returns the scripted reply.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]Message(nil), messages...))
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if m.Reply != nil {
		return m.Reply(messages)
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}
	return m.Responses[idx], nil
}

// Calls returns every recorded conversation.
func (m *MockChatModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// CallCount returns the number of Chat calls.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and rewinds Responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.next = 0
}
