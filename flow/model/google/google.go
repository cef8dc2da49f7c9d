// Package google adapts Gemini (github.com/google/generative-ai-go) to
// model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/stepflow/flow/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when NewChatModel gets an empty model name.
const DefaultModel = "gemini-2.5-flash"

// ErrEmptyResponse is returned when no candidate carries text.
var ErrEmptyResponse = errors.New("google: no text in response")

// ChatModel calls Gemini GenerateContent.
type ChatModel struct {
	modelName string
	client    generator
}

type generator interface {
	generate(ctx context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error)
}

type sdkClient struct {
	apiKey    string
	modelName string
}

func (c *sdkClient) generate(ctx context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(c.modelName)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	return gm.GenerateContent(ctx, parts...)
}

// NewChatModel creates a ChatModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, modelName: modelName},
	}
}

// Name returns the configured model name.
func (m *ChatModel) Name() string { return m.modelName }

// Chat flattens the conversation into text parts and returns the first
// candidate's text.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, rest := model.SplitSystem(messages)
	parts := make([]genai.Part, 0, len(rest))
	for _, msg := range rest {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}

	resp, err := m.client.generate(ctx, system, parts)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
	}
	return convertResponse(resp)
}

func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.ChatOut{}, ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return model.ChatOut{}, ErrEmptyResponse
	}

	out := model.ChatOut{Text: sb.String()}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
