// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/stepflow/flow/model"
)

// DefaultModel is used when NewChatModel gets an empty model name.
const DefaultModel = "claude-3-5-haiku-latest"

// DefaultMaxTokens caps reply length.
const DefaultMaxTokens = 1024

// ErrEmptyResponse is returned when the reply has no text blocks.
var ErrEmptyResponse = errors.New("anthropic: no text in response")

// ChatModel calls the Anthropic Messages API.
type ChatModel struct {
	modelName string
	maxTokens int64
	client    messenger
}

type messenger interface {
	send(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

type sdkClient struct {
	client sdk.Client
}

func (c *sdkClient) send(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	return c.client.Messages.New(ctx, params)
}

// NewChatModel creates a ChatModel.
//
// Example:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ChatModel{
		modelName: modelName,
		maxTokens: DefaultMaxTokens,
		client:    &sdkClient{client: sdk.NewClient(opts...)},
	}
}

// Name returns the configured model name.
func (m *ChatModel) Name() string { return m.modelName }

// Chat sends messages; system messages go in the dedicated system field.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, rest := model.SplitSystem(messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  convertMessages(rest),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := m.client.send(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return model.ChatOut{}, ErrEmptyResponse
	}

	return model.ChatOut{
		Text: sb.String(),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := sdk.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}
