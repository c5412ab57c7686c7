// Package openai adapts OpenAI's Chat Completions API to llmhandler.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatModel calls OpenAI's Chat Completions API for a single user turn.
type ChatModel struct {
	client    openaisdk.Client
	modelName string
}

// New constructs a ChatModel. An empty modelName defaults to gpt-4o.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &ChatModel{
		client:    openaisdk.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
	}
}

// Complete implements llmhandler.ChatModel.
func (m *ChatModel) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("openai: empty prompt")
	}
	var messages []openaisdk.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(systemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(m.modelName),
		Messages: messages,
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
