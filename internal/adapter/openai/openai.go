package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
)

var (
	_ adapter.StreamingChatAdapter = (*OpenAIAdapter)(nil)
	_ adapter.PromptAdapter        = (*OpenAIAdapter)(nil)
	_ adapter.ChatPromptAdapter    = (*OpenAIAdapter)(nil)
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	maxLineBytes = 1 << 20
)

// OpenAIAdapter talks to an OpenAI-compatible upstream such as OpenRouter or Chutes.
// Streaming goes over a hand-parsed SSE body; one-shot prompts use openai-go.
type OpenAIAdapter struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	sdk        sdk.Client
}

// Config holds configuration for the adapter.
type Config struct {
	Name           string // provider label used in errors, defaults to "openai"
	APIKey         string
	BaseURL        string // defaults to https://api.openai.com/v1
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// New creates an OpenAIAdapter instance.
func New(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// no client-wide timeout: streams are bounded by their context
		httpClient = &http.Client{}
	}

	return &OpenAIAdapter{
		name:       name,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		sdk: sdk.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(baseURL),
			option.WithHTTPClient(httpClient),
			option.WithRequestTimeout(timeout),
			option.WithMaxRetries(0),
		),
	}, nil
}

// Name returns the provider label.
func (a *OpenAIAdapter) Name() string { return a.name }

// CreateCompletionStream opens a streamed chat completion. Errors opening the
// stream are *adapter.ConnectionError or *adapter.StatusError.
func (a *OpenAIAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%s: no messages provided", a.name)
	}
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", a.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", a.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &adapter.ConnectionError{Provider: a.name, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &adapter.StatusError{Provider: a.name, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	events := make(chan adapter.StreamEvent, 10)
	go a.readStream(ctx, resp.Body, events)
	return events, nil
}

// upstreamError is the in-band error frame some providers emit mid-stream.
// Code is a number on some providers and a string such as "server_error" on others.
type upstreamError struct {
	Error json.RawMessage `json:"error"`
}

type upstreamErrorBody struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

const finishReasonError = "error"

// inbandError returns the terminal error carried by payload, or nil.
func (a *OpenAIAdapter) inbandError(payload string) error {
	var frame upstreamError
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return nil
	}
	raw := bytes.TrimSpace(frame.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	code := http.StatusBadGateway
	body := string(raw)
	var detail upstreamErrorBody
	if err := json.Unmarshal(raw, &detail); err == nil {
		body = detail.Message
		var n int
		if err := json.Unmarshal(detail.Code, &n); err == nil && n >= 400 && n <= 599 {
			code = n
		}
	}
	return &adapter.StatusError{Provider: a.name, Code: code, Body: body}
}

// readStream decodes frames into events. The consumer must drain events until
// it is closed: a terminal error is always delivered, even after ctx ends.
func (a *OpenAIAdapter) readStream(ctx context.Context, body io.ReadCloser, events chan<- adapter.StreamEvent) {
	defer close(events)
	defer body.Close()

	emit := func(ev adapter.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		events <- adapter.StreamEvent{Err: err}
	}
	interrupted := func() {
		fail(&adapter.ConnectionError{Provider: a.name, Err: fmt.Errorf("read stream: %w", context.Cause(ctx))})
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == doneSentinel {
			return
		}

		if err := a.inbandError(payload); err != nil {
			fail(err)
			return
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			if !emit(adapter.StreamEvent{Err: &adapter.ParseError{Line: payload, Err: err}}) {
				interrupted()
				return
			}
			continue
		}
		if !emit(adapter.StreamEvent{Chunk: &chunk}) {
			interrupted()
			return
		}
		if reason := chunk.FinishReason(); reason != nil && *reason == finishReasonError {
			fail(&adapter.StatusError{Provider: a.name, Code: http.StatusBadGateway, Body: "upstream finished with error"})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		fail(&adapter.ConnectionError{Provider: a.name, Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	if ctx.Err() != nil {
		interrupted()
	}
}

// PromptCompletion runs a legacy, non-streamed text completion.
func (a *OpenAIAdapter) PromptCompletion(ctx context.Context, model, prompt string, params adapter.PromptParams) (string, error) {
	req := sdk.CompletionNewParams{
		Model:  sdk.CompletionNewParamsModel(model),
		Prompt: sdk.CompletionNewParamsPromptUnion{OfString: sdk.String(prompt)},
	}
	if params.Temperature != nil {
		req.Temperature = sdk.Float(*params.Temperature)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = sdk.Int(int64(*params.MaxTokens))
	}
	resp, err := a.sdk.Completions.New(ctx, req)
	if err != nil {
		return "", a.wrapSDKError("prompt completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: prompt completion returned no choices", a.name)
	}
	return resp.Choices[0].Text, nil
}

// ChatCompletion runs a non-streamed chat completion over the text parts of messages.
func (a *OpenAIAdapter) ChatCompletion(ctx context.Context, model string, messages []openai.ChatMessage, params adapter.PromptParams) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%s: no messages provided", a.name)
	}
	req := sdk.ChatCompletionNewParams{
		Model:    model,
		Messages: toSDKMessages(messages),
	}
	if params.Temperature != nil {
		req.Temperature = sdk.Float(*params.Temperature)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = sdk.Int(int64(*params.MaxTokens))
	}
	resp, err := a.sdk.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", a.wrapSDKError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: chat completion returned no choices", a.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func toSDKMessages(messages []openai.ChatMessage) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		var sb strings.Builder
		for _, part := range m.Content {
			if part.Type == openai.PartText {
				sb.WriteString(part.Text)
			}
		}
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(sb.String()))
		case "assistant":
			out = append(out, sdk.AssistantMessage(sb.String()))
		default:
			out = append(out, sdk.UserMessage(sb.String()))
		}
	}
	return out
}

func (a *OpenAIAdapter) wrapSDKError(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &adapter.StatusError{Provider: a.name, Code: apiErr.StatusCode, Body: apiErr.Message}
	}
	return &adapter.ConnectionError{Provider: a.name, Err: fmt.Errorf("%s: %w", op, err)}
}
