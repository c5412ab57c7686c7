// Package anthropic adapts Anthropic's Messages API to llmhandler.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ChatModel calls Claude's Messages API for a single user turn.
type ChatModel struct {
	client    anthropicsdk.Client
	modelName string
}

// New constructs a ChatModel. An empty modelName defaults to Claude Sonnet.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &ChatModel{
		client:    anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
	}
}

// Complete implements llmhandler.ChatModel.
func (m *ChatModel) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("anthropic: empty prompt")
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(m.modelName),
		MaxTokens: 4096,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
