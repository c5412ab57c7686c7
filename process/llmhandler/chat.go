// Package llmhandler adapts LLM chat providers into process.HandlerFunc
// leaves, so a behavior tree can drive a model call the same way it drives
// any other external collaborator.
package llmhandler

import (
	"context"

	"github.com/drefi/LSUtils-sub007/process"
)

// ChatModel is the common surface this package's provider adapters satisfy.
// It mirrors the single-turn completion shape shared by Anthropic, OpenAI,
// and Google's chat APIs rather than any one SDK's request type.
type ChatModel interface {
	// Complete sends prompt as the sole user turn and returns the model's
	// text response.
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Config names the Process data keys a Handler built by this package reads
// its prompt from and writes its result to.
type Config struct {
	// SystemKey, if set, names a Process data key holding a system prompt.
	SystemKey string
	// PromptKey names the Process data key holding the user prompt. Required.
	PromptKey string
	// ResultKey names the Process data key the model's text response is
	// written to on success. Required.
	ResultKey string
}

// Handler builds a process.HandlerFunc that calls model once per
// invocation, resolving to StatusSuccess with the response stored under
// cfg.ResultKey, or StatusFailure if the prompt is missing or the call
// errors. It never returns StatusWaiting — a streaming/async variant would
// need to split the request and resume across two handler invocations, but
// no provider here needs that.
func Handler(model ChatModel, cfg Config) process.HandlerFunc {
	return func(s *process.Session) process.Status {
		p := s.Process()
		prompt, ok := process.TryGetData[string](p, cfg.PromptKey)
		if !ok || prompt == "" {
			return process.StatusFailure
		}
		var system string
		if cfg.SystemKey != "" {
			system, _ = process.TryGetData[string](p, cfg.SystemKey)
		}

		text, err := model.Complete(context.Background(), system, prompt)
		if err != nil {
			return process.StatusFailure
		}
		p.SetData(cfg.ResultKey, text)
		return process.StatusSuccess
	}
}
