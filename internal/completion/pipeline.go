package completion

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter"
	"github.com/WhyNeet/t3-chat-clone/internal/adapter/router"
	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/models"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
	"github.com/WhyNeet/t3-chat-clone/internal/stream"
)

// State is a pipeline stage.
type State int

const (
	StateInitializing State = iota
	StateContextAssembled
	StateSearching
	StateStreaming
	StateFinalizing
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateContextAssembled:
		return "context_assembled"
	case StateSearching:
		return "searching"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Side task names reported in TaskFailed events.
const (
	TaskTitle     = "title"
	TaskMemory    = "memory"
	TaskFinalize  = "finalize"
	TaskAssistant = "assistant"
)

// run is the state of one pipeline execution. It is owned by a single goroutine.
type run struct {
	svc         *Service
	handle      stream.Handle
	req         PromptRequest
	chat        chat.Chat
	model       models.Model
	client      router.Client
	history     []chat.Message
	userMessage chat.Message
	assistant   chat.Message
	state       State
	span        trace.Span
}

func (r *run) transition(next State) {
	r.svc.debugf("stream %s: %s -> %s", r.handle, r.state, next)
	r.state = next
	r.span.AddEvent("state", trace.WithAttributes(attribute.String("completion.state", next.String())))
}

// execute runs Searching, Streaming and Finalizing, then schedules the
// registry entry for reaping. It always leaves a terminal Completed or
// InferenceError on the stream. It is not bounded by the request or the task
// timeout; only an idle upstream ends it early.
func (r *run) execute(parent context.Context, tx *stream.Sender) {
	s := r.svc
	ctx := context.WithoutCancel(parent)
	defer r.span.End()
	defer tx.Close()
	defer func() {
		r.transition(StateCompleted)
		s.registry.ScheduleReap(r.handle, s.reaperDelay)
	}()
	started := s.now()

	var augmented *string
	if r.req.UseSearch {
		r.transition(StateSearching)
		augmented = r.search(ctx)
		tx.Send(stream.SearchPerformed{})
	}

	messages := r.outboundMessages(ctx, augmented)

	r.assistant = chat.Message{
		ID:        s.newID(),
		ChatID:    r.chat.ID,
		Content:   []chat.Segment{},
		Role:      chat.RoleAssistant,
		Model:     chat.StringPtr(r.model.Name),
		Timestamp: s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, r.assistant); err != nil {
		s.logger.Printf("stream %s: persist assistant message: %v", r.handle, err)
		s.metrics.TaskFailed(TaskAssistant)
		tx.Send(stream.TaskFailed{Task: TaskAssistant, Message: err.Error()})
		r.fail(tx, err)
		return
	}

	if r.req.UseMemories {
		memoryTx := tx.Clone()
		assistantID := r.assistant.ID
		s.spawn(func() { s.extractMemory(parent, r, assistantID, memoryTx) })
	}

	r.transition(StateStreaming)
	acc := NewAccumulator(s.batchWindow, s.now)
	streamErr := r.stream(ctx, messages, acc, tx)
	if d, ok := acc.Finish(); ok {
		tx.Send(d)
		s.metrics.DeltaFlushed()
	}

	r.transition(StateFinalizing)
	finalized := r.finalize(ctx, acc, tx)

	if streamErr != nil {
		r.fail(tx, streamErr)
		return
	}
	tx.Send(stream.Completed{Message: finalized})
	s.metrics.StreamCompleted(r.model.Identifier, s.now().Sub(started))
	s.debugf("stream %s completed: %d content bytes", r.handle, len(acc.Content()))
}

// search returns the augmented first segment, or nil when search is skipped
// or fails. Failures are logged and swallowed.
func (r *run) search(ctx context.Context) *string {
	s := r.svc
	query := strings.TrimSpace(r.req.Message)
	n := utf8.RuneCountInString(query)
	if s.searcher == nil || n == 0 || n > maxSearchQuery {
		s.debugf("stream %s: search skipped (query length %d)", r.handle, n)
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "completion.search")
	defer span.End()
	results, err := s.searcher.Search(ctx, query, searchLanguage, searchRegion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		s.logger.Printf("stream %s: search failed: %v", r.handle, err)
		return nil
	}
	span.SetAttributes(attribute.Int("completion.search.results", len(results)))
	prompt := SearchPrompt(query, results)
	return &prompt
}

// errStreamIdle is the cancellation cause when the upstream goes quiet.
var errStreamIdle = errors.New("upstream stream idle")

// stream feeds upstream chunks through acc into tx. It returns the terminal
// upstream error, if any. The stream is aborted after s.idleTimeout without
// an event.
func (r *run) stream(parent context.Context, messages []openai.ChatMessage, acc *Accumulator, tx *stream.Sender) error {
	s := r.svc
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	idle := time.AfterFunc(s.idleTimeout, func() { cancel(errStreamIdle) })
	defer idle.Stop()
	ctx, span := s.tracer.Start(ctx, "completion.stream", trace.WithAttributes(
		attribute.String("completion.model", r.model.Identifier),
	))
	defer span.End()

	temperature := streamTemperature
	req := openai.ChatCompletionRequest{
		Model:       r.model.Identifier,
		Messages:    messages,
		Stream:      true,
		Temperature: &temperature,
		Plugins:     []openai.Plugin{openai.FileParserPlugin()},
	}
	if r.req.Reasoning != "" {
		req.Reasoning = &openai.ReasoningConfig{Effort: r.req.Reasoning}
	}

	events, err := r.client.CreateCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open stream failed")
		return err
	}
	chunks := 0
	for ev := range events {
		idle.Reset(s.idleTimeout)
		if ev.IsError() {
			if adapter.IsParseError(ev.Err) {
				s.logger.Printf("stream %s: skipping malformed chunk: %v", r.handle, ev.Err)
				continue
			}
			span.RecordError(ev.Err)
			span.SetStatus(codes.Error, "upstream stream failed")
			return ev.Err
		}
		delta, ok := ev.Chunk.FirstDelta()
		if !ok {
			continue
		}
		chunks++
		if d, ok := acc.Push(delta.Content, delta.Reasoning); ok {
			tx.Send(d)
			s.metrics.DeltaFlushed()
		}
	}
	span.SetAttributes(attribute.Int("completion.chunks", chunks))
	if ctx.Err() != nil {
		err := &adapter.ConnectionError{Provider: string(r.model.Provider), Err: context.Cause(ctx)}
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream stream interrupted")
		return err
	}
	return nil
}

// finalize writes the accumulated content and reasoning to the assistant row
// in one update and returns the final message.
func (r *run) finalize(ctx context.Context, acc *Accumulator, tx *stream.Sender) chat.Message {
	s := r.svc
	ctx, span := s.tracer.Start(ctx, "completion.finalize")
	defer span.End()

	final := r.assistant
	final.Content = []chat.Segment{chat.Text(acc.Content())}
	final.Reasoning = acc.Reasoning()
	if err := s.store.UpdateMessageContent(ctx, final.ID, final.Content, final.Reasoning); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist final message failed")
		s.logger.Printf("stream %s: persist final message: %v", r.handle, err)
		s.metrics.TaskFailed(TaskFinalize)
		tx.Send(stream.TaskFailed{Task: TaskFinalize, Message: err.Error()})
	}
	return final
}

// fail emits the terminal InferenceError for err.
func (r *run) fail(tx *stream.Sender, err error) {
	s := r.svc
	code := adapter.StatusCode(err)
	var conn *adapter.ConnectionError
	var status *adapter.StatusError
	if !errors.As(err, &conn) && !errors.As(err, &status) {
		code = 500
	}
	s.logger.Printf("stream %s: inference failed (%d): %v", r.handle, code, err)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, "inference failed")
	s.metrics.InferenceFailed(code)
	tx.Send(stream.InferenceError{Code: code})
}
