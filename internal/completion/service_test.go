package completion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter"
	"github.com/WhyNeet/t3-chat-clone/internal/adapter/router"
	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/inference"
	"github.com/WhyNeet/t3-chat-clone/internal/models"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
	"github.com/WhyNeet/t3-chat-clone/internal/search"
	storememory "github.com/WhyNeet/t3-chat-clone/internal/store/memory"
	"github.com/WhyNeet/t3-chat-clone/internal/stream"
)

const (
	testUser   = "user-1"
	testChat   = "chat-1"
	freeModel  = "deepseek/deepseek-r1-0528:free"
	paidModel  = "anthropic/claude-sonnet-4"
	titleReply = "  \"Simple Arithmetic Question\"\n"
)

type fakeClient struct {
	mu         sync.Mutex
	events     []adapter.StreamEvent
	openErr    error
	requests   []openai.ChatCompletionRequest
	title      string
	titleErr   error
	memory     string
	memoryErr  error
	// delay paces events; hang keeps the stream open until ctx ends and
	// then closes it without an error.
	delay time.Duration
	hang  bool
	prompts    []string
	chatInputs [][]openai.ChatMessage
}

func (f *fakeClient) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.delay > 0 || f.hang {
		return f.paced(ctx), nil
	}
	ch := make(chan adapter.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) paced(ctx context.Context) <-chan adapter.StreamEvent {
	ch := make(chan adapter.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				ch <- adapter.StreamEvent{Err: &adapter.ConnectionError{Provider: "openrouter", Err: context.Cause(ctx)}}
				return
			}
			ch <- ev
		}
		if f.hang {
			<-ctx.Done()
		}
	}()
	return ch
}

func (f *fakeClient) PromptCompletion(_ context.Context, _, prompt string, _ adapter.PromptParams) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.title, f.titleErr
}

func (f *fakeClient) ChatCompletion(_ context.Context, _ string, messages []openai.ChatMessage, _ adapter.PromptParams) (string, error) {
	f.mu.Lock()
	f.chatInputs = append(f.chatInputs, messages)
	f.mu.Unlock()
	return f.memory, f.memoryErr
}

func (f *fakeClient) lastRequest(t *testing.T) openai.ChatCompletionRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type fakeClients struct {
	mu     sync.Mutex
	client *fakeClient
	keys   []string
}

func (f *fakeClients) Client(_ router.Provider, apiKey string) (router.Client, error) {
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.mu.Unlock()
	return f.client, nil
}

type fakeCredentials struct {
	cred inference.Credential
	err  error
}

func (f fakeCredentials) Resolve(context.Context, router.Provider, string) (inference.Credential, error) {
	return f.cred, f.err
}

// gatedCredentials blocks Resolve until release is closed.
type gatedCredentials struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedCredentials) Resolve(context.Context, router.Provider, string) (inference.Credential, error) {
	close(g.entered)
	<-g.release
	return inference.Credential{Key: "operator", Source: inference.SourceDefault}, nil
}

type fakeSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query, language, region string) ([]search.Result, error) {
	f.queries = append(f.queries, query+"|"+language+"|"+region)
	return f.results, f.err
}

func chunk(content, reasoning string) adapter.StreamEvent {
	d := openai.ChatMessageDelta{}
	if content != "" {
		d.Content = &content
	}
	if reasoning != "" {
		d.Reasoning = &reasoning
	}
	return adapter.StreamEvent{Chunk: &openai.ChatCompletionChunk{
		Choices: []openai.ChatCompletionChunkChoice{{Delta: d}},
	}}
}

type harness struct {
	svc      *Service
	store    *storememory.Store
	registry *stream.Registry
	client   *fakeClient
	clients  *fakeClients
}

func newHarness(t *testing.T, client *fakeClient, mutate func(*Options)) *harness {
	t.Helper()
	st := storememory.New()
	require.NoError(t, st.CreateChat(context.Background(), chat.Chat{ID: testChat, UserID: testUser, Timestamp: time.Now()}))
	registry := stream.NewRegistry()
	clients := &fakeClients{client: client}
	ids := 0
	var idMu sync.Mutex
	opts := Options{
		Store:       st,
		Blobs:       st,
		Registry:    registry,
		Catalog:     models.Default(),
		Credentials: fakeCredentials{cred: inference.Credential{Key: "operator", Source: inference.SourceDefault}},
		Clients:     clients,
		ReaperDelay: time.Hour,
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			ids++
			return "id-" + string(rune('a'+ids))
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewService(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &harness{svc: svc, store: st, registry: registry, client: client, clients: clients}
}

// drain reads until every sender has closed.
func drain(t *testing.T, h *harness, id stream.Handle) []stream.Delta {
	t.Helper()
	rx, ok := h.registry.Lookup(id)
	require.True(t, ok, "stream not registered")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []stream.Delta
	for {
		d, err := rx.Recv(ctx)
		if errors.Is(err, stream.ErrClosed) {
			return out
		}
		require.NoError(t, err)
		out = append(out, d)
	}
}

func contentOf(deltas []stream.Delta) string {
	var sb strings.Builder
	for _, d := range deltas {
		if cd, ok := d.(stream.ContentDelta); ok && cd.Text != nil {
			sb.WriteString(*cd.Text)
		}
	}
	return sb.String()
}

func controls[T stream.ControlEvent](deltas []stream.Delta) []T {
	var out []T
	for _, d := range deltas {
		if ev, ok := d.(T); ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestPromptStreamsAndCompletes(t *testing.T) {
	client := &fakeClient{
		events: []adapter.StreamEvent{chunk("", "add"), chunk("2+2", ""), chunk(" is ", ""), chunk("4", "")},
		title:  titleReply,
	}
	h := newHarness(t, client, nil)

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "What is 2+2?", Model: freeModel})
	require.NoError(t, err)
	assert.Equal(t, "What is 2+2?", res.UserMessage.TextContent())
	assert.Equal(t, chat.RoleUser, res.UserMessage.Role)

	deltas := drain(t, h, res.StreamID)

	var contentCount int
	for _, d := range deltas {
		if _, ok := d.(stream.ContentDelta); ok {
			contentCount++
		}
	}
	assert.GreaterOrEqual(t, contentCount, 1)

	done := controls[stream.Completed](deltas)
	require.Len(t, done, 1)
	assert.Equal(t, "2+2 is 4", done[0].Message.TextContent())
	assert.Equal(t, contentOf(deltas), done[0].Message.TextContent())
	require.NotNil(t, done[0].Message.Reasoning)
	assert.Equal(t, "add", *done[0].Message.Reasoning)
	assert.Equal(t, "DeepSeek R1", *done[0].Message.Model)
	assert.Empty(t, controls[stream.InferenceError](deltas))

	// The completed event comes after every content delta.
	lastContent, completedAt := -1, -1
	for i, d := range deltas {
		switch d.(type) {
		case stream.ContentDelta:
			lastContent = i
		case stream.Completed:
			completedAt = i
		}
	}
	assert.Less(t, lastContent, completedAt)

	titles := controls[stream.TitleUpdated](deltas)
	require.Len(t, titles, 1)
	assert.Equal(t, "Simple Arithmetic Question", titles[0].Name)

	c, err := h.store.GetChat(context.Background(), testChat, testUser)
	require.NoError(t, err)
	require.NotNil(t, c.Name)
	assert.Equal(t, "Simple Arithmetic Question", *c.Name)

	msgs, err := h.store.ListMessages(context.Background(), testChat)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assistant, ok := h.store.Message(done[0].Message.ID)
	require.True(t, ok)
	assert.Equal(t, "2+2 is 4", assistant.TextContent())

	req := client.lastRequest(t)
	assert.Equal(t, freeModel, req.Model)
	assert.True(t, req.Stream)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.7, *req.Temperature)
	assert.Nil(t, req.Reasoning)
	assert.Equal(t, []openai.Plugin{openai.FileParserPlugin()}, req.Plugins)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "What is 2+2?", req.Messages[0].Content[0].Text)

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], `first message was: "What is 2+2?"`)
}

func TestTitleOnlyForFirstMessage(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("ok", "")}, title: "Name"}
	h := newHarness(t, client, nil)
	ctx := context.Background()
	require.NoError(t, h.store.CreateMessage(ctx, chat.Message{ID: "old", ChatID: testChat, Role: chat.RoleUser, Content: []chat.Segment{chat.Text("earlier")}, Timestamp: time.Now().Add(-time.Minute)}))

	res, err := h.svc.Prompt(ctx, PromptRequest{UserID: testUser, ChatID: testChat, Message: "again", Model: freeModel, Reasoning: openai.ReasoningHigh})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)
	assert.Empty(t, controls[stream.TitleUpdated](deltas))

	req := client.lastRequest(t)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "earlier", req.Messages[0].Content[0].Text)
	require.NotNil(t, req.Reasoning)
	assert.Equal(t, openai.ReasoningHigh, req.Reasoning.Effort)
}

func TestStatusErrorBeforeAnyChunk(t *testing.T) {
	client := &fakeClient{openErr: &adapter.StatusError{Provider: "openrouter", Code: 429}, title: "x"}
	h := newHarness(t, client, nil)

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	errs := controls[stream.InferenceError](deltas)
	require.Len(t, errs, 1)
	assert.Equal(t, 429, errs[0].Code)
	assert.Empty(t, controls[stream.Completed](deltas))

	// The user message survives the failure.
	msgs, _ := h.store.ListMessages(context.Background(), testChat)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "hi", msgs[0].TextContent())
}

func TestConnectionErrorMidStreamKeepsPartialContent(t *testing.T) {
	client := &fakeClient{
		events: []adapter.StreamEvent{
			chunk("partial ", ""),
			{Err: &adapter.ParseError{Line: "data: {bad", Err: errors.New("bad json")}},
			chunk("answer", ""),
			{Err: &adapter.ConnectionError{Provider: "openrouter", Err: errors.New("reset")}},
			chunk("never", ""),
		},
		title: "x",
	}
	h := newHarness(t, client, nil)

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	assert.Equal(t, "partial answer", contentOf(deltas))
	errs := controls[stream.InferenceError](deltas)
	require.Len(t, errs, 1)
	assert.Equal(t, 502, errs[0].Code)
	assert.Empty(t, controls[stream.Completed](deltas))

	msgs, _ := h.store.ListMessages(context.Background(), testChat)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].TextContent())
}

func TestMemoryNoneAddsNothing(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("4", "")}, title: "t", memory: " NONE \n"}
	h := newHarness(t, client, nil)

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "What is 2+2?", Model: freeModel, UseMemories: true})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	assert.Empty(t, controls[stream.MemoryAdded](deltas))
	mems, err := h.store.ListMemories(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, mems)
	require.Len(t, client.chatInputs, 1)
}

func TestMemoryAddedTouchesOnlyMemoryField(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("Noted.", "")}, title: "t", memory: "The user lives in Chicago."}
	h := newHarness(t, client, nil)
	require.NoError(t, h.store.CreateMemory(context.Background(), chat.Memory{ID: "m0", UserID: testUser, Content: "The user likes Go."}))

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "I live in Chicago", Model: freeModel, UseMemories: true})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	added := controls[stream.MemoryAdded](deltas)
	require.Len(t, added, 1)
	assert.Equal(t, "The user lives in Chicago.", added[0].Memory)

	mems, _ := h.store.ListMemories(context.Background(), testUser)
	assert.Len(t, mems, 2)

	done := controls[stream.Completed](deltas)
	require.Len(t, done, 1)
	row, ok := h.store.Message(done[0].Message.ID)
	require.True(t, ok)
	assert.Equal(t, "Noted.", row.TextContent())
	require.NotNil(t, row.UpdatedMemory)
	assert.Equal(t, "The user lives in Chicago.", *row.UpdatedMemory)

	require.Len(t, client.chatInputs, 1)
	assert.Contains(t, client.chatInputs[0][0].Content[0].Text, "- The user likes Go.")
}

func TestSideTaskFailureIsReported(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("ok", "")}, titleErr: errors.New("chutes down")}
	h := newHarness(t, client, nil)

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	failed := controls[stream.TaskFailed](deltas)
	require.Len(t, failed, 1)
	assert.Equal(t, TaskTitle, failed[0].Task)
	assert.Len(t, controls[stream.Completed](deltas), 1)
}

func TestSearchAugmentsOutboundCopyOnly(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("Go is a language.", "")}, title: "t"}
	searcher := &fakeSearcher{results: []search.Result{{Title: "Go", Snippet: "The Go programming language", Link: "https://go.dev"}}}
	h := newHarness(t, client, func(o *Options) { o.Searcher = searcher })

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "  what is go  ", Model: freeModel, UseSearch: true})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	require.Len(t, controls[stream.SearchPerformed](deltas), 1)
	assert.Equal(t, []string{"what is go|en|us"}, searcher.queries)

	req := client.lastRequest(t)
	first := req.Messages[len(req.Messages)-1].Content[0].Text
	assert.Contains(t, first, " - Title: Go;\nSnippet: The Go programming language;\nSource: https://go.dev;\n")
	assert.Contains(t, first, " Query: what is go;")
	assert.True(t, strings.HasSuffix(first, "Answer:"))

	msgs, _ := h.store.ListMessages(context.Background(), testChat)
	assert.Equal(t, "  what is go  ", msgs[0].TextContent())
}

func TestSearchSkippedForLongQueryStillSignals(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("ok", "")}, title: "t"}
	searcher := &fakeSearcher{}
	h := newHarness(t, client, func(o *Options) { o.Searcher = searcher })

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: strings.Repeat("a", 401), Model: freeModel, UseSearch: true})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	assert.Len(t, controls[stream.SearchPerformed](deltas), 1)
	assert.Empty(t, searcher.queries)
}

func TestUploadsAttachedAndInlined(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("A cat.", "")}, title: "t"}
	h := newHarness(t, client, nil)
	ctx := context.Background()
	require.NoError(t, h.store.CreateUpload(ctx, chat.Upload{ID: "img", UserID: testUser, ContentType: "image/png"}))
	require.NoError(t, h.store.CreateUpload(ctx, chat.Upload{ID: "doc", UserID: testUser, ContentType: "application/pdf"}))
	require.NoError(t, h.store.PutBlob(ctx, "img", []byte{0x89, 'P', 'N', 'G'}))
	require.NoError(t, h.store.PutBlob(ctx, "doc", []byte("%PDF")))

	res, err := h.svc.Prompt(ctx, PromptRequest{UserID: testUser, ChatID: testChat, Message: "describe", Model: freeModel})
	require.NoError(t, err)
	assert.Equal(t, []chat.Segment{chat.Text("describe"), chat.PDF("doc"), chat.Image("img")}, res.UserMessage.Content)
	drain(t, h, res.StreamID)

	for _, id := range []string{"img", "doc"} {
		u, ok := h.store.Upload(id)
		require.True(t, ok)
		assert.True(t, u.IsSent)
		require.NotNil(t, u.ChatID)
		assert.Equal(t, testChat, *u.ChatID)
	}

	parts := client.lastRequest(t).Messages[0].Content
	require.Len(t, parts, 3)
	assert.Equal(t, openai.PartFile, parts[1].Type)
	assert.Equal(t, "doc", parts[1].File.Filename)
	assert.Equal(t, "data:application/pdf;base64,JVBERg==", parts[1].File.FileData)
	assert.Equal(t, openai.PartImageURL, parts[2].Type)
	assert.True(t, strings.HasPrefix(parts[2].ImageURL.URL, "data:image/jpeg;base64,"))
}

func TestRequestLevelErrors(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, nil)
	ctx := context.Background()

	_, err := h.svc.Prompt(ctx, PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: "nope/nope"})
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = h.svc.Prompt(ctx, PromptRequest{UserID: "intruder", ChatID: testChat, Message: "hi", Model: freeModel})
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = h.svc.Prompt(ctx, PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: paidModel})
	assert.ErrorIs(t, err, ErrCredentialRequired)

	assert.Equal(t, 0, h.registry.Len())
	msgs, _ := h.store.ListMessages(ctx, testChat)
	assert.Empty(t, msgs)
}

func TestPaidModelUsesUserKey(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("hi", "")}, title: "t"}
	h := newHarness(t, client, func(o *Options) {
		o.Credentials = fakeCredentials{cred: inference.Credential{Key: "sk-user", Source: inference.SourceUser}}
	})

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: paidModel})
	require.NoError(t, err)
	drain(t, h, res.StreamID)

	h.clients.mu.Lock()
	defer h.clients.mu.Unlock()
	assert.Equal(t, "sk-user", h.clients.keys[0])
}

func TestCompletedStreamIsReaped(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("ok", "")}, title: "t"}
	h := newHarness(t, client, func(o *Options) { o.ReaperDelay = 20 * time.Millisecond })

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
	require.NoError(t, err)
	require.Equal(t, 1, h.registry.Len())

	require.Eventually(t, func() bool {
		_, ok := h.registry.Lookup(res.StreamID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownRejectsNewPrompts(t *testing.T) {
	h := newHarness(t, &fakeClient{}, nil)
	require.NoError(t, h.svc.Shutdown(context.Background()))
	_, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestLongStreamOutlivesTaskTimeout(t *testing.T) {
	events := make([]adapter.StreamEvent, 10)
	for i := range events {
		events[i] = chunk("x", "")
	}
	client := &fakeClient{events: events, delay: 20 * time.Millisecond, title: "t"}
	h := newHarness(t, client, func(o *Options) {
		o.TaskTimeout = 50 * time.Millisecond
		o.BatchWindow = time.Millisecond
	})

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	assert.Empty(t, controls[stream.InferenceError](deltas))
	done := controls[stream.Completed](deltas)
	require.Len(t, done, 1)
	assert.Equal(t, "xxxxxxxxxx", done[0].Message.TextContent())
}

func TestIdleUpstreamIsNeverReportedCompleted(t *testing.T) {
	client := &fakeClient{
		events: []adapter.StreamEvent{chunk("partial", "")},
		delay:  time.Millisecond,
		hang:   true,
		title:  "t",
	}
	h := newHarness(t, client, func(o *Options) { o.StreamIdleTimeout = 60 * time.Millisecond })

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
	require.NoError(t, err)
	deltas := drain(t, h, res.StreamID)

	assert.Equal(t, "partial", contentOf(deltas))
	assert.Empty(t, controls[stream.Completed](deltas))
	errs := controls[stream.InferenceError](deltas)
	require.Len(t, errs, 1)
	assert.Equal(t, 502, errs[0].Code)

	msgs, _ := h.store.ListMessages(context.Background(), testChat)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].TextContent())
}

func TestShutdownDuringAssemblyRegistersNothing(t *testing.T) {
	gate := gatedCredentials{entered: make(chan struct{}), release: make(chan struct{})}
	client := &fakeClient{events: []adapter.StreamEvent{chunk("ok", "")}, title: "t"}
	h := newHarness(t, client, func(o *Options) { o.Credentials = gate })

	errCh := make(chan error, 1)
	go func() {
		_, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
		errCh <- err
	}()
	<-gate.entered
	require.NoError(t, h.svc.Shutdown(context.Background()))
	close(gate.release)

	assert.ErrorIs(t, <-errCh, ErrShuttingDown)
	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, int64(0), h.svc.InFlight())
	msgs, _ := h.store.ListMessages(context.Background(), testChat)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
}

func TestStreamOwnedByRequester(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("ok", "")}, title: "t"}
	h := newHarness(t, client, nil)

	res, err := h.svc.Prompt(context.Background(), PromptRequest{UserID: testUser, ChatID: testChat, Message: "hi", Model: freeModel})
	require.NoError(t, err)

	_, ok := h.registry.LookupFor(res.StreamID, "someone-else")
	assert.False(t, ok)
	_, ok = h.registry.LookupFor(res.StreamID, testUser)
	assert.True(t, ok)
	drain(t, h, res.StreamID)
}

func TestEmptyHistoryTurnsAreNotSentUpstream(t *testing.T) {
	client := &fakeClient{events: []adapter.StreamEvent{chunk("ok", "")}, title: "t"}
	h := newHarness(t, client, nil)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	history := []chat.Message{
		{ID: "u0", ChatID: testChat, Role: chat.RoleUser, Content: []chat.Segment{chat.Text("first")}, Timestamp: base},
		{ID: "a0", ChatID: testChat, Role: chat.RoleAssistant, Content: []chat.Segment{}, Timestamp: base.Add(time.Second)},
		{ID: "u1", ChatID: testChat, Role: chat.RoleUser, Content: []chat.Segment{chat.Text("retry")}, Timestamp: base.Add(2 * time.Second)},
		{ID: "a1", ChatID: testChat, Role: chat.RoleAssistant, Content: []chat.Segment{chat.Text("")}, Timestamp: base.Add(3 * time.Second)},
	}
	for _, m := range history {
		require.NoError(t, h.store.CreateMessage(ctx, m))
	}

	res, err := h.svc.Prompt(ctx, PromptRequest{UserID: testUser, ChatID: testChat, Message: "again", Model: freeModel})
	require.NoError(t, err)
	drain(t, h, res.StreamID)

	req := client.lastRequest(t)
	require.Len(t, req.Messages, 3)
	for _, m := range req.Messages {
		assert.NotEmpty(t, m.Content)
		assert.Equal(t, "user", m.Role)
	}
	assert.Equal(t, "again", req.Messages[2].Content[0].Text)
}
