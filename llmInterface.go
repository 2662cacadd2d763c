package meetingpod

import "context"

// LLM defines the minimal contract the orchestrator needs from a language-model provider.
type LLM interface {
	// Generate completes a fully assembled prompt. history is the memory as of this turn, given
	// for providers that want structured messages; the built-in clients send the prompt alone
	// since the rendered history is already part of it.
	Generate(ctx context.Context, prompt string, history []Turn) (*Generation, error)
}

// Generation is a completed LLM answer.
type Generation struct {
	Text  string
	Model string
	Usage Usage
}

// Usage counts the tokens consumed by one or more LLM calls.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// LLMFunc adapts a plain function to the LLM interface.
type LLMFunc func(ctx context.Context, prompt string, history []Turn) (*Generation, error)

func (f LLMFunc) Generate(ctx context.Context, prompt string, history []Turn) (*Generation, error) {
	return f(ctx, prompt, history)
}
