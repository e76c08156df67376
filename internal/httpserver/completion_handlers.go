package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/WhyNeet/t3-chat-clone/internal/completion"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
	"github.com/WhyNeet/t3-chat-clone/internal/stream"
)

const maxPromptBody = 1 << 20

type promptPayload struct {
	Message     string `json:"message"`
	Model       string `json:"model"`
	Reasoning   string `json:"reasoning,omitempty"`
	UseSearch   bool   `json:"use_search"`
	UseMemories bool   `json:"use_memories"`
}

var (
	errEmptyMessage  = errors.New("message must not be empty")
	errMissingModel  = errors.New("model is required")
	errInvalidStream = errors.New("invalid stream id")
	errNoStream      = errors.New("stream does not exist")
)

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var payload promptPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBody)).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		s.respondError(w, http.StatusBadRequest, errEmptyMessage)
		return
	}
	if strings.TrimSpace(payload.Model) == "" {
		s.respondError(w, http.StatusBadRequest, errMissingModel)
		return
	}
	effort, err := openai.ParseReasoningEffort(payload.Reasoning)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.completions.Prompt(r.Context(), completion.PromptRequest{
		UserID:      UserIDFromContext(r.Context()),
		ChatID:      chi.URLParam(r, "chat_id"),
		Message:     payload.Message,
		Model:       payload.Model,
		Reasoning:   effort,
		UseSearch:   payload.UseSearch,
		UseMemories: payload.UseMemories,
	})
	if err != nil {
		status := promptErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logf("prompt failed: chat=%s model=%s: %v", chi.URLParam(r, "chat_id"), payload.Model, err)
		}
		s.respondError(w, status, err)
		return
	}
	s.debugf("prompt accepted: chat=%s stream=%s", res.UserMessage.ChatID, res.StreamID)
	s.respondJSON(w, http.StatusOK, res)
}

func promptErrorStatus(err error) int {
	switch {
	case errors.Is(err, completion.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, completion.ErrChatNotFound):
		return http.StatusNotFound
	case errors.Is(err, completion.ErrCredentialRequired):
		return http.StatusForbidden
	case errors.Is(err, completion.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handlePromptSSE relays a registered stream as server-sent events. It ends
// after the terminal Completed or InferenceError event and removes the stream.
func (s *Server) handlePromptSSE(w http.ResponseWriter, r *http.Request) {
	handle, err := stream.ParseHandle(chi.URLParam(r, "stream_id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errInvalidStream)
		return
	}
	// Another user's stream is reported as missing.
	rx, ok := s.streams.LookupFor(handle, UserIDFromContext(r.Context()))
	if !ok {
		s.respondError(w, http.StatusBadRequest, errNoStream)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logf("sse: flush unsupported: %v", err)
		return
	}

	if s.metrics != nil {
		s.metrics.SSEConsumerStarted()
		defer s.metrics.SSEConsumerDone()
	}
	s.debugf("sse consumer attached: stream=%s", handle)

	for {
		ctx, cancel := context.WithTimeout(r.Context(), s.keepAlive)
		d, err := rx.Recv(ctx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
			continue
		case errors.Is(err, stream.ErrClosed):
			s.streams.Remove(handle)
			return
		default:
			s.debugf("sse consumer left: stream=%s: %v", handle, err)
			return
		}

		frame, err := encodeFrame(d)
		if err != nil {
			s.logf("sse: encode %T: %v", d, err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			return
		}
		_ = rc.Flush()

		if terminal(d) {
			s.streams.Remove(handle)
			s.debugf("sse stream finished: stream=%s", handle)
			return
		}
	}
}

// encodeFrame renders content deltas bare and control events under "control".
func encodeFrame(d stream.Delta) ([]byte, error) {
	switch ev := d.(type) {
	case stream.ControlEvent:
		raw, err := stream.EncodeControl(ev)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Control json.RawMessage `json:"control"`
		}{Control: raw})
	default:
		return json.Marshal(d)
	}
}

func terminal(d stream.Delta) bool {
	switch d.(type) {
	case stream.Completed, stream.InferenceError:
		return true
	}
	return false
}
