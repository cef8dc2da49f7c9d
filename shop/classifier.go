package shop

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/stepflow/flow/model"
)

// Classifier decides which route a query takes.
type Classifier interface {
	Classify(ctx context.Context, text string) (Category, error)
}

// LLMClassifier asks a chat model to pick one of a fixed set of categories.
type LLMClassifier struct {
	chat       model.ChatModel
	categories []Category
}

var categoryHints = map[Category]string{
	CategoryAsk:    "If the query is a question that can be answered in natural language, return 'Ask'.",
	CategorySearch: "If the query is a question that can be answered by searching the database and returning a list of objects, return 'Search'.",
	CategoryAdmin:  "If the query is about adding an item to the collection, return 'Admin'.",
}

// NewLLMClassifier creates a classifier over categories. With none given it
// offers Ask and Search.
func NewLLMClassifier(chat model.ChatModel, categories ...Category) *LLMClassifier {
	if len(categories) == 0 {
		categories = []Category{CategoryAsk, CategorySearch}
	}
	return &LLMClassifier{chat: chat, categories: categories}
}

// Categories returns the categories the classifier offers.
func (c *LLMClassifier) Categories() []Category {
	return append([]Category(nil), c.categories...)
}

// Classify returns the category the model picked. A reply that matches no
// offered category fails with *ClassifierError wrapping ErrUnknownCategory.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (Category, error) {
	out, err := c.chat.Chat(ctx, []model.Message{model.User(c.prompt(text))})
	if err != nil {
		return "", &ClassifierError{Query: text, Err: err}
	}

	reply := normalizeReply(out.Text)
	for _, cat := range c.categories {
		if strings.EqualFold(reply, string(cat)) {
			return cat, nil
		}
	}
	return "", &ClassifierError{Query: text, Reply: out.Text, Err: ErrUnknownCategory}
}

func (c *LLMClassifier) prompt(text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the query '%s', return the relevant category of the query.\n", text)
	for _, cat := range c.categories {
		b.WriteString(categoryHints[cat])
		b.WriteByte('\n')
	}
	b.WriteString("Answer with the category name only.")
	return b.String()
}

// normalizeReply strips the quoting and punctuation models like to add
// around a one-word answer.
func normalizeReply(s string) string {
	return strings.Trim(strings.TrimSpace(s), "'\"`.*: \n")
}
