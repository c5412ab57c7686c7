// Package google adapts the Gemini generateContent API to llmhandler.ChatModel,
// via google.golang.org/api's generated generativelanguage client rather than
// the separate generative-ai-go SDK.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"
)

// ChatModel calls Gemini's generateContent endpoint for a single user turn.
type ChatModel struct {
	apiKey    string
	modelName string
}

// New constructs a ChatModel. An empty modelName defaults to gemini-1.5-flash.
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName}
}

// Complete implements llmhandler.ChatModel.
func (m *ChatModel) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("google: empty prompt")
	}
	if m.apiKey == "" {
		return "", errors.New("google: API key is required")
	}

	svc, err := generativelanguage.NewService(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return "", fmt.Errorf("google: new service: %w", err)
	}

	req := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{
			{
				Role:  "user",
				Parts: []*generativelanguage.Part{{Text: prompt}},
			},
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &generativelanguage.Content{
			Parts: []*generativelanguage.Part{{Text: systemPrompt}},
		}
	}

	modelPath := "models/" + m.modelName
	resp, err := svc.Models.GenerateContent(modelPath, req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("google: generate content: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
