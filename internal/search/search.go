// Package search queries the Serper web search API for prompt augmentation.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the Serper API root.
const DefaultBaseURL = "https://google.serper.dev"

// Result is one organic search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// Searcher runs a web search and returns ordered results.
type Searcher interface {
	Search(ctx context.Context, query, language, region string) ([]Result, error)
}

// Config configures the Serper client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls POST {BaseURL}/search.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ Searcher = (*Client)(nil)

// New builds a Serper client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("search: serper api key required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{apiKey: cfg.APIKey, baseURL: baseURL, httpClient: httpClient}, nil
}

type serperRequest struct {
	Q  string `json:"q"`
	GL string `json:"gl"`
	HL string `json:"hl"`
}

type serperResponse struct {
	Organic []Result `json:"organic"`
}

// Search posts the query and returns the organic results in ranking order.
func (c *Client) Search(ctx context.Context, query, language, region string) ([]Result, error) {
	body, err := json.Marshal(serperRequest{Q: query, GL: region, HL: language})
	if err != nil {
		return nil, fmt.Errorf("search: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	return out.Organic, nil
}
