package router

import (
	"context"
	"errors"
	"testing"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
)

type fakeClient struct{ key string }

func (f *fakeClient) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	return nil, nil
}

func (f *fakeClient) PromptCompletion(ctx context.Context, model, prompt string, params adapter.PromptParams) (string, error) {
	return "", nil
}

func (f *fakeClient) ChatCompletion(ctx context.Context, model string, messages []openai.ChatMessage, params adapter.PromptParams) (string, error) {
	return "", nil
}

func newTestRouter(t *testing.T) (*Router, *int) {
	t.Helper()
	built := 0
	r := New(func(p Provider, baseURL, key string) (Client, error) {
		built++
		return &fakeClient{key: key}, nil
	})
	if err := r.RegisterProvider(ProviderOpenRouter, Endpoint{BaseURL: DefaultOpenRouterBaseURL, DefaultKey: "operator"}); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	return r, &built
}

func TestParseProvider(t *testing.T) {
	for in, want := range map[string]Provider{"OpenRouter": ProviderOpenRouter, " chutes ": ProviderChutes} {
		got, err := ParseProvider(in)
		if err != nil || got != want {
			t.Fatalf("ParseProvider(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseProvider("anthropic"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestDefaultClientIsCached(t *testing.T) {
	r, built := newTestRouter(t)
	a, err := r.Client(ProviderOpenRouter, "")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	b, err := r.Client(ProviderOpenRouter, "operator")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if a != b {
		t.Fatalf("expected the cached default client to be reused")
	}
	if *built != 1 {
		t.Fatalf("factory invoked %d times, want 1", *built)
	}
}

func TestUserKeyBuildsDedicatedClient(t *testing.T) {
	r, _ := newTestRouter(t)
	c, err := r.Client(ProviderOpenRouter, "sk-user")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if got := c.(*fakeClient).key; got != "sk-user" {
		t.Fatalf("client bound to %q", got)
	}
}

func TestUnregisteredProvider(t *testing.T) {
	r, _ := newTestRouter(t)
	if _, err := r.Client(ProviderChutes, ""); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if err := r.RegisterProvider("bedrock", Endpoint{BaseURL: "x"}); err == nil {
		t.Fatalf("providers outside the closed set must be rejected")
	}
}

func TestMissingDefaultCredential(t *testing.T) {
	r, _ := newTestRouter(t)
	if err := r.RegisterProvider(ProviderChutes, Endpoint{BaseURL: DefaultChutesBaseURL}); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	if _, err := r.Client(ProviderChutes, ""); err == nil {
		t.Fatalf("expected error without a default credential")
	}
	if got := r.ListProviders(); len(got) != 2 || got[0] != "chutes" {
		t.Fatalf("ListProviders = %v", got)
	}
}
