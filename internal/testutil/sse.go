package testutil

import (
	"fmt"
	"net/http"
	"time"
)

// SSEHandler replays frames as a text/event-stream body, each line written as
// given and followed by a blank line. A non-zero delay is slept between frames.
func SSEHandler(delay time.Duration, frames ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		for _, frame := range frames {
			fmt.Fprintf(w, "%s\n\n", frame)
			flusher.Flush()
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	})
}

// ChunkFrame renders an OpenAI chat.completion.chunk SSE data line carrying content.
func ChunkFrame(content string) string {
	return fmt.Sprintf(`data: {"id":"gen-test","object":"chat.completion.chunk","created":1,"model":"test","choices":[{"index":0,"delta":{"role":"assistant","content":%q},"finish_reason":null}]}`, content)
}

// ReasoningFrame renders a chunk carrying only a reasoning increment.
func ReasoningFrame(reasoning string) string {
	return fmt.Sprintf(`data: {"id":"gen-test","object":"chat.completion.chunk","created":1,"model":"test","choices":[{"index":0,"delta":{"reasoning":%q},"finish_reason":null}]}`, reasoning)
}

// DoneFrame is the stream terminator.
const DoneFrame = "data: [DONE]"
