// Package router selects the upstream inference client for a provider and
// credential. The provider set is closed: OpenRouter and Chutes.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter"
	adapteropenai "github.com/WhyNeet/t3-chat-clone/internal/adapter/openai"
)

// Provider names an upstream inference service.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderChutes     Provider = "chutes"
)

// Default upstream base URLs.
const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultChutesBaseURL     = "https://llm.chutes.ai/v1"
)

// ErrUnknownProvider is returned for providers outside the closed set or not registered.
var ErrUnknownProvider = errors.New("router: unknown provider")

// ParseProvider accepts provider names case-insensitively ("OpenRouter", "chutes").
func ParseProvider(name string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case ProviderOpenRouter:
		return ProviderOpenRouter, nil
	case ProviderChutes:
		return ProviderChutes, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// Client is everything the completion pipeline needs from one upstream.
type Client interface {
	adapter.StreamingChatAdapter
	adapter.PromptAdapter
	adapter.ChatPromptAdapter
}

// Factory builds a client bound to one credential.
type Factory func(provider Provider, baseURL, apiKey string) (Client, error)

// Endpoint describes a registered provider.
type Endpoint struct {
	BaseURL    string
	DefaultKey string
}

// Router hands out clients per provider and credential. Clients for the
// operator's default credential are built once and reused.
type Router struct {
	mu        sync.RWMutex
	endpoints map[Provider]Endpoint
	defaults  map[Provider]Client
	factory   Factory
}

// New creates a Router. A nil factory uses the OpenAI-compatible HTTP adapter.
func New(factory Factory) *Router {
	if factory == nil {
		factory = OpenAIFactory(60 * time.Second)
	}
	return &Router{
		endpoints: make(map[Provider]Endpoint),
		defaults:  make(map[Provider]Client),
		factory:   factory,
	}
}

// OpenAIFactory returns a Factory backed by adapter/openai.
func OpenAIFactory(timeout time.Duration) Factory {
	return func(provider Provider, baseURL, apiKey string) (Client, error) {
		return adapteropenai.New(adapteropenai.Config{
			Name:           string(provider),
			APIKey:         apiKey,
			BaseURL:        baseURL,
			RequestTimeout: timeout,
		})
	}
}

// RegisterProvider registers the base URL and default credential for p.
func (r *Router) RegisterProvider(p Provider, ep Endpoint) error {
	if _, err := ParseProvider(string(p)); err != nil {
		return err
	}
	if strings.TrimSpace(ep.BaseURL) == "" {
		return fmt.Errorf("router: provider %q requires a base url", p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[p] = ep
	delete(r.defaults, p)
	return nil
}

// DefaultKey returns the operator credential configured for p.
func (r *Router) DefaultKey(p Provider) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[p].DefaultKey
}

// Client returns a client for p authenticated with apiKey. An empty apiKey
// selects the operator default.
func (r *Router) Client(p Provider, apiKey string) (Client, error) {
	r.mu.RLock()
	ep, ok := r.endpoints[p]
	cached := r.defaults[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}

	if apiKey == "" || apiKey == ep.DefaultKey {
		if cached != nil {
			return cached, nil
		}
		if ep.DefaultKey == "" {
			return nil, fmt.Errorf("router: provider %q has no default credential", p)
		}
		client, err := r.factory(p, ep.BaseURL, ep.DefaultKey)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if existing := r.defaults[p]; existing != nil {
			client = existing
		} else {
			r.defaults[p] = client
		}
		r.mu.Unlock()
		return client, nil
	}
	return r.factory(p, ep.BaseURL, apiKey)
}

// ListProviders returns the registered provider names.
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for p := range r.endpoints {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}
