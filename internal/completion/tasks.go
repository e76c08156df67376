package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter"
	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
	"github.com/WhyNeet/t3-chat-clone/internal/stream"
)

const titleMaxTokens = 1000

// generateTitle names a chat after its first message. It owns tx and closes it.
func (s *Service) generateTitle(parent context.Context, r *run, tx *stream.Sender) {
	defer tx.Close()
	ctx, cancel := s.detached(parent)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "completion.title", trace.WithAttributes(
		attribute.String("completion.chat_id", r.chat.ID),
	))
	defer span.End()

	if err := s.runTitle(ctx, r, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "title generation failed")
		s.taskFailed(tx, r, TaskTitle, err)
	}
}

func (s *Service) runTitle(ctx context.Context, r *run, tx *stream.Sender) error {
	client, err := s.clients.Client(s.titleProvider, "")
	if err != nil {
		return fmt.Errorf("title client: %w", err)
	}
	temperature := 0.0
	maxTokens := titleMaxTokens
	out, err := client.PromptCompletion(ctx, s.titleModel, TitlePrompt(r.req.Message), adapter.PromptParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return err
	}
	name := cleanTitle(out)
	if name == "" {
		return errors.New("empty title")
	}
	tx.Send(stream.TitleUpdated{Name: name})
	if err := s.store.UpdateChatName(ctx, r.chat.ID, name); err != nil {
		return fmt.Errorf("persist chat name: %w", err)
	}
	s.debugf("stream %s: chat %s titled %q", r.handle, r.chat.ID, name)
	return nil
}

// extractMemory decides whether the user message holds a fact worth keeping.
// It writes only the assistant row's updated_memory field, never its content.
func (s *Service) extractMemory(parent context.Context, r *run, assistantID string, tx *stream.Sender) {
	defer tx.Close()
	ctx, cancel := s.detached(parent)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "completion.memory")
	defer span.End()

	if err := s.runMemory(ctx, r, assistantID, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory extraction failed")
		s.taskFailed(tx, r, TaskMemory, err)
	}
}

func (s *Service) runMemory(ctx context.Context, r *run, assistantID string, tx *stream.Sender) error {
	existing, err := s.store.ListMemories(ctx, r.req.UserID)
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}
	client, err := s.clients.Client(s.memoryProvider, "")
	if err != nil {
		return fmt.Errorf("memory client: %w", err)
	}
	temperature := 0.0
	out, err := client.ChatCompletion(ctx, s.memoryModel, []openai.ChatMessage{
		{Role: "system", Content: []openai.ContentPart{openai.TextPart(MemoryPrompt(existing))}},
		{Role: string(chat.RoleUser), Content: []openai.ContentPart{openai.TextPart(r.req.Message)}},
	}, adapter.PromptParams{Temperature: &temperature})
	if err != nil {
		return err
	}
	content := strings.TrimSpace(out)
	if content == MemoryNone || content == "" {
		s.debugf("stream %s: no new memory", r.handle)
		return nil
	}
	memory := chat.Memory{ID: s.newID(), UserID: r.req.UserID, Content: content}
	if err := s.store.CreateMemory(ctx, memory); err != nil {
		return fmt.Errorf("persist memory: %w", err)
	}
	if err := s.store.SetMessageMemory(ctx, assistantID, content); err != nil {
		return fmt.Errorf("attach memory: %w", err)
	}
	tx.Send(stream.MemoryAdded{Memory: content})
	return nil
}

func (s *Service) taskFailed(tx *stream.Sender, r *run, task string, err error) {
	s.logger.Printf("stream %s: %s task failed: %v", r.handle, task, err)
	s.metrics.TaskFailed(task)
	tx.Send(stream.TaskFailed{Task: task, Message: err.Error()})
}
