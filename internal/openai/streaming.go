package openai

// ChatCompletionChunk represents a chunk in an SSE streaming response.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ChatCompletionChunkChoice represents a choice in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int              `json:"index"`
	Delta        ChatMessageDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason,omitempty"`
}

// ChatMessageDelta is the incremental content of a chunk. Absent fields stay nil.
type ChatMessageDelta struct {
	Role      *string `json:"role,omitempty"`
	Content   *string `json:"content,omitempty"`
	Reasoning *string `json:"reasoning,omitempty"`
}

// FirstDelta returns the delta of the first choice, if any.
func (c *ChatCompletionChunk) FirstDelta() (ChatMessageDelta, bool) {
	if c == nil || len(c.Choices) == 0 {
		return ChatMessageDelta{}, false
	}
	return c.Choices[0].Delta, true
}

// FinishReason returns the terminal reason of the first choice.
func (c *ChatCompletionChunk) FinishReason() *string {
	if c == nil || len(c.Choices) == 0 {
		return nil
	}
	return c.Choices[0].FinishReason
}
