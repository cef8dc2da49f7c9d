// Package openai adapts the OpenAI chat completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/stepflow/flow/model"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultModel is used when NewChatModel gets an empty model name.
const DefaultModel = "gpt-4o-mini"

// ErrEmptyResponse is returned when the API answers without choices.
var ErrEmptyResponse = errors.New("openai: no choices in response")

// ChatModel calls OpenAI chat completions.
type ChatModel struct {
	modelName string
	client    completer
}

type completer interface {
	complete(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error)
}

type sdkClient struct {
	client sdk.Client
}

func (c *sdkClient) complete(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// NewChatModel creates a ChatModel. Extra request options (base URL,
// retries) are passed to the SDK client.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{client: sdk.NewClient(opts...)},
	}
}

// Name returns the configured model name.
func (m *ChatModel) Name() string { return m.modelName }

// Chat sends messages and returns the first choice.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	completion, err := m.client.complete(ctx, sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	})
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, ErrEmptyResponse
	}

	return model.ChatOut{
		Text: completion.Choices[0].Message.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfSystem: &sdk.ChatCompletionSystemMessageParam{
					Content: sdk.ChatCompletionSystemMessageParamContentUnion{OfString: sdk.String(msg.Content)},
				},
			})
		case model.RoleAssistant:
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfAssistant: &sdk.ChatCompletionAssistantMessageParam{
					Content: sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.String(msg.Content)},
				},
			})
		default:
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfUser: &sdk.ChatCompletionUserMessageParam{
					Content: sdk.ChatCompletionUserMessageParamContentUnion{OfString: sdk.String(msg.Content)},
				},
			})
		}
	}
	return out
}
