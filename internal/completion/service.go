// Package completion drives one prompt from context assembly through upstream
// streaming to persistence, publishing progress on a registered delta stream.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter/router"
	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/inference"
	"github.com/WhyNeet/t3-chat-clone/internal/models"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
	"github.com/WhyNeet/t3-chat-clone/internal/search"
	"github.com/WhyNeet/t3-chat-clone/internal/store"
	"github.com/WhyNeet/t3-chat-clone/internal/stream"
)

const tracerName = "github.com/WhyNeet/t3-chat-clone/internal/completion"

// Defaults for the side tasks and the upstream stream.
const (
	DefaultTitleModel        = "chutesai/Mistral-Small-3.1-24B-Instruct-2503"
	DefaultMemoryModel       = "google/gemini-2.0-flash-exp:free"
	DefaultTaskTimeout       = 60 * time.Second
	DefaultStreamIdleTimeout = 2 * time.Minute

	streamTemperature = 0.7
	maxSearchQuery    = 400
	searchLanguage    = "en"
	searchRegion      = "us"
)

// Storage is the persistence the pipeline needs.
type Storage interface {
	store.ChatStore
	store.MessageStore
	store.UploadStore
	store.MemoryStore
}

// Catalog looks up selectable models.
type Catalog interface {
	Lookup(identifier string) (models.Model, bool)
}

// Credentials resolves the key a user runs under for a provider.
type Credentials interface {
	Resolve(ctx context.Context, p router.Provider, userID string) (inference.Credential, error)
}

// Clients hands out upstream clients per provider and key. An empty key
// selects the operator credential.
type Clients interface {
	Client(p router.Provider, apiKey string) (router.Client, error)
}

// Recorder receives pipeline metrics.
type Recorder interface {
	PromptAccepted(model string)
	StreamCompleted(model string, elapsed time.Duration)
	InferenceFailed(code int)
	TaskFailed(task string)
	DeltaFlushed()
}

type nopRecorder struct{}

func (nopRecorder) PromptAccepted(string)                {}
func (nopRecorder) StreamCompleted(string, time.Duration) {}
func (nopRecorder) InferenceFailed(int)                  {}
func (nopRecorder) TaskFailed(string)                    {}
func (nopRecorder) DeltaFlushed()                        {}

// Options wires the service collaborators.
type Options struct {
	Store       Storage
	Blobs       store.BlobStore
	Registry    *stream.Registry
	Catalog     Catalog
	Credentials Credentials
	Clients     Clients
	// Searcher is optional; without it search requests only emit SearchPerformed.
	Searcher search.Searcher

	TitleProvider  router.Provider
	TitleModel     string
	MemoryProvider router.Provider
	MemoryModel    string

	BatchWindow time.Duration
	ReaperDelay time.Duration
	// TaskTimeout bounds the title and memory tasks only.
	TaskTimeout time.Duration
	// StreamIdleTimeout aborts an upstream stream that sends nothing for this long.
	StreamIdleTimeout time.Duration

	Now    func() time.Time
	NewID  func() string
	Tracer trace.Tracer
	// Metrics is optional.
	Metrics Recorder
}

// PromptRequest is one user prompt.
type PromptRequest struct {
	UserID      string
	ChatID      string
	Message     string
	Model       string
	Reasoning   openai.ReasoningEffort
	UseSearch   bool
	UseMemories bool
}

// PromptResult identifies the started run.
type PromptResult struct {
	StreamID    stream.Handle `json:"stream_id"`
	UserMessage chat.Message  `json:"user_message"`
}

// Service runs completion pipelines.
type Service struct {
	store       Storage
	blobs       store.BlobStore
	registry    *stream.Registry
	catalog     Catalog
	credentials Credentials
	clients     Clients
	searcher    search.Searcher

	titleProvider  router.Provider
	titleModel     string
	memoryProvider router.Provider
	memoryModel    string

	batchWindow time.Duration
	reaperDelay time.Duration
	taskTimeout time.Duration
	idleTimeout time.Duration

	now     func() time.Time
	newID   func() string
	tracer  trace.Tracer
	metrics Recorder

	logger   *log.Logger
	logLevel string

	// mu guards closing and orders it against wg.Add.
	mu       sync.Mutex
	closing  bool
	wg       sync.WaitGroup
	inflight atomic.Int64
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("completion: store required")
	case opts.Registry == nil:
		return nil, errors.New("completion: registry required")
	case opts.Catalog == nil:
		return nil, errors.New("completion: catalog required")
	case opts.Credentials == nil:
		return nil, errors.New("completion: credentials required")
	case opts.Clients == nil:
		return nil, errors.New("completion: clients required")
	}
	s := &Service{
		store:          opts.Store,
		blobs:          opts.Blobs,
		registry:       opts.Registry,
		catalog:        opts.Catalog,
		credentials:    opts.Credentials,
		clients:        opts.Clients,
		searcher:       opts.Searcher,
		titleProvider:  opts.TitleProvider,
		titleModel:     opts.TitleModel,
		memoryProvider: opts.MemoryProvider,
		memoryModel:    opts.MemoryModel,
		batchWindow:    opts.BatchWindow,
		reaperDelay:    opts.ReaperDelay,
		taskTimeout:    opts.TaskTimeout,
		idleTimeout:    opts.StreamIdleTimeout,
		now:            opts.Now,
		newID:          opts.NewID,
		tracer:         opts.Tracer,
		metrics:        opts.Metrics,
		logger:         log.New(io.Discard, "", 0),
	}
	if s.titleProvider == "" {
		s.titleProvider = router.ProviderChutes
	}
	if s.titleModel == "" {
		s.titleModel = DefaultTitleModel
	}
	if s.memoryProvider == "" {
		s.memoryProvider = router.ProviderOpenRouter
	}
	if s.memoryModel == "" {
		s.memoryModel = DefaultMemoryModel
	}
	if s.batchWindow <= 0 {
		s.batchWindow = DefaultBatchWindow
	}
	if s.reaperDelay <= 0 {
		s.reaperDelay = stream.DefaultReaperDelay
	}
	if s.taskTimeout <= 0 {
		s.taskTimeout = DefaultTaskTimeout
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = DefaultStreamIdleTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	return s, nil
}

// SetLogger sets the log level and destination.
func (s *Service) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

func (s *Service) isDebug() bool { return s.logLevel == "debug" }
func (s *Service) debugf(format string, args ...any) {
	if s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// InFlight reports how many pipelines and side tasks are running.
func (s *Service) InFlight() int64 { return s.inflight.Load() }

// Shutdown stops accepting prompts and waits for running pipelines and side
// tasks to finish or ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("completion: %d tasks still running: %w", s.inflight.Load(), ctx.Err())
	}
}

func (s *Service) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// spawn runs fn tracked by Shutdown. Callers outside a tracked goroutine must
// hold s.mu and have checked closing.
func (s *Service) spawn(fn func()) {
	s.wg.Add(1)
	s.inflight.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Add(-1)
		fn()
	}()
}

// detached keeps ctx values (trace span) but drops its cancellation, bounded
// by the task timeout. Side tasks only; the main pipeline is never bounded.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.taskTimeout)
}

// Prompt assembles context, persists the user message, registers a delta
// stream and starts the pipeline. Errors returned here are request-level; no
// stream is registered when Prompt fails.
func (s *Service) Prompt(ctx context.Context, req PromptRequest) (PromptResult, error) {
	if s.isClosing() {
		return PromptResult{}, ErrShuttingDown
	}
	ctx, span := s.tracer.Start(ctx, "completion.prompt", trace.WithAttributes(
		attribute.String("completion.chat_id", req.ChatID),
		attribute.String("completion.model", req.Model),
		attribute.Bool("completion.use_search", req.UseSearch),
		attribute.Bool("completion.use_memories", req.UseMemories),
	))
	r, err := s.assemble(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context assembly failed")
		span.End()
		return PromptResult{}, err
	}
	r.span = span
	span.SetAttributes(attribute.String("completion.stream_id", r.handle.String()))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		// The user message is already stored; it simply has no reply.
		span.SetStatus(codes.Error, "shutting down")
		span.End()
		return PromptResult{}, ErrShuttingDown
	}

	tx, rx := stream.NewChannel()
	s.registry.CreateFor(r.handle, req.UserID, rx)
	s.metrics.PromptAccepted(r.model.Identifier)
	s.debugf("stream %s registered for chat %s model %s", r.handle, req.ChatID, r.model.Identifier)

	if len(r.history) == 0 {
		titleTx := tx.Clone()
		s.spawn(func() { s.generateTitle(ctx, r, titleTx) })
	}
	s.spawn(func() { r.execute(ctx, tx) })

	return PromptResult{StreamID: r.handle, UserMessage: r.userMessage}, nil
}

// assemble performs every fallible step that must succeed before a stream
// exists: model and chat validation, history, credentials, uploads and the
// user message write.
func (s *Service) assemble(ctx context.Context, req PromptRequest) (*run, error) {
	model, ok := s.catalog.Lookup(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, req.Model)
	}
	c, err := s.store.GetChat(ctx, req.ChatID, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("completion: load chat: %w", err)
	}
	history, err := s.store.ListMessages(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("completion: load history: %w", err)
	}
	cred, err := s.credentials.Resolve(ctx, model.Provider, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("completion: resolve credential: %w", err)
	}
	if !model.Free && !cred.IsUser() {
		return nil, ErrCredentialRequired
	}
	client, err := s.clients.Client(model.Provider, cred.Key)
	if err != nil {
		return nil, fmt.Errorf("completion: upstream client: %w", err)
	}

	// Uploads sent before the chat had any message are not yet bound to it.
	var uploadChat *string
	if len(history) > 0 {
		uploadChat = &c.ID
	}
	uploads, err := s.store.ListUnattachedUploads(ctx, req.UserID, uploadChat)
	if err != nil {
		return nil, fmt.Errorf("completion: load uploads: %w", err)
	}
	for _, u := range uploads {
		if err := s.store.AttachUpload(ctx, u.ID, c.ID); err != nil {
			return nil, fmt.Errorf("completion: attach upload %s: %w", u.ID, err)
		}
	}

	content := make([]chat.Segment, 0, len(uploads)+1)
	content = append(content, chat.Text(req.Message))
	for _, u := range uploads {
		content = append(content, u.Segment())
	}
	userMessage := chat.Message{
		ID:        s.newID(),
		ChatID:    c.ID,
		Content:   content,
		Role:      chat.RoleUser,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, userMessage); err != nil {
		return nil, fmt.Errorf("completion: persist user message: %w", err)
	}

	return &run{
		svc:         s,
		handle:      stream.NewHandle(),
		req:         req,
		chat:        *c,
		model:       model,
		client:      client,
		history:     history,
		userMessage: userMessage,
		state:       StateContextAssembled,
	}, nil
}
