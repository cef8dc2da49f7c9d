package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/stepflow/flow/model"
)

// Formatter renders search results for a shopper.
type Formatter interface {
	Format(ctx context.Context, query string, results []Record) (string, error)
}

// IndexExtractor reads which staged item an admin query refers to.
type IndexExtractor interface {
	ExtractIndex(ctx context.Context, query string) (int, error)
}

// LLMFormatter asks a chat model to turn raw results into a readable list.
type LLMFormatter struct {
	chat model.ChatModel
}

// NewLLMFormatter creates a formatter backed by chat.
func NewLLMFormatter(chat model.ChatModel) *LLMFormatter {
	return &LLMFormatter{chat: chat}
}

// Format returns the model's rendering. An empty result set short-circuits
// without a model call.
func (f *LLMFormatter) Format(ctx context.Context, query string, results []Record) (string, error) {
	if len(results) == 0 {
		return fmt.Sprintf("No items found for '%s'.", query), nil
	}

	objects, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}
	prompt := fmt.Sprintf("Here's the list of items for the query '%s':\n%s\nReturn them as a readable list for the user.", query, objects)

	out, err := f.chat.Chat(ctx, []model.Message{model.User(prompt)})
	if err != nil {
		return "", &RetrievalError{Op: "format", Query: query, Err: err}
	}
	return strings.TrimSpace(out.Text), nil
}

// LLMIndexExtractor asks a chat model for the item index in a query.
type LLMIndexExtractor struct {
	chat model.ChatModel
}

// NewLLMIndexExtractor creates an extractor backed by chat.
func NewLLMIndexExtractor(chat model.ChatModel) *LLMIndexExtractor {
	return &LLMIndexExtractor{chat: chat}
}

var firstInt = regexp.MustCompile(`-?\d+`)

// ExtractIndex returns the index the model read from query. Replies with
// surrounding prose are accepted as long as they contain a number.
func (x *LLMIndexExtractor) ExtractIndex(ctx context.Context, query string) (int, error) {
	prompt := fmt.Sprintf("Evaluate the requested index from the query: '%s', return the number only.", query)
	out, err := x.chat.Chat(ctx, []model.Message{model.User(prompt)})
	if err != nil {
		return 0, &ClassifierError{Query: query, Err: err}
	}

	reply := strings.TrimSpace(out.Text)
	if n, err := strconv.Atoi(reply); err == nil {
		return n, nil
	}
	if m := firstInt.FindString(reply); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil {
			return 0, &ClassifierError{Query: query, Reply: out.Text, Err: err}
		}
		return n, nil
	}
	return 0, &ClassifierError{Query: query, Reply: out.Text, Err: errors.New("no index in reply")}
}
