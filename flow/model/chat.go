// Package model defines the chat interface that steps use to reach a
// language model, independent of provider.
package model

import (
	"context"
	"strings"
)

// ChatModel sends a conversation to a language model and returns its reply.
//
// Implementations live in the openai, anthropic and google subpackages;
// MockChatModel serves tests. Implementations must be safe for concurrent
// use and must return promptly once ctx is cancelled.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is a model reply.
type ChatOut struct {
	Text  string
	Usage Usage
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// System is shorthand for a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User is shorthand for a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant is shorthand for an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// SplitSystem separates system messages, joined by blank lines, from the
// rest of the conversation. Providers with a dedicated system field use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
