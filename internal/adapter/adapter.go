package adapter

import (
	"context"

	"github.com/WhyNeet/t3-chat-clone/internal/openai"
)

// StreamEvent is one item of a streaming completion: a decoded chunk or an error.
// A *ParseError item does not end the stream; any other error is terminal.
type StreamEvent struct {
	Chunk *openai.ChatCompletionChunk
	Err   error
}

// IsError reports whether the event carries an error.
func (e StreamEvent) IsError() bool { return e.Err != nil }

// StreamingChatAdapter opens streamed chat completions against an upstream.
type StreamingChatAdapter interface {
	CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan StreamEvent, error)
}

// PromptParams tunes a one-shot completion.
type PromptParams struct {
	Temperature *float64
	MaxTokens   *int
}

// PromptAdapter runs blocking one-shot prompt completions.
type PromptAdapter interface {
	PromptCompletion(ctx context.Context, model, prompt string, params PromptParams) (string, error)
}

// ChatPromptAdapter runs a blocking, non-streamed chat completion and returns
// the first choice's text.
type ChatPromptAdapter interface {
	ChatCompletion(ctx context.Context, model string, messages []openai.ChatMessage, params PromptParams) (string, error)
}
