package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	tavilyAPIURL          = "https://api.tavily.com/search"
	defaultBackendTimeout = 20 * time.Second
)

// TavilyBackend queries the Tavily search API.
type TavilyBackend struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// TavilyOption configures a TavilyBackend.
type TavilyOption func(*TavilyBackend)

// WithTavilyEndpoint overrides the API URL.
func WithTavilyEndpoint(url string) TavilyOption {
	return func(b *TavilyBackend) {
		b.endpoint = url
	}
}

// WithTavilyHTTPClient sets the HTTP client.
func WithTavilyHTTPClient(c *http.Client) TavilyOption {
	return func(b *TavilyBackend) {
		b.httpClient = c
	}
}

// NewTavilyBackend creates a Tavily backend.
func NewTavilyBackend(apiKey string, opts ...TavilyOption) (*TavilyBackend, error) {
	if apiKey == "" {
		return nil, errors.New("tavily API key required: set TAVILY_API_KEY")
	}
	b := &TavilyBackend{
		apiKey:     apiKey,
		endpoint:   tavilyAPIURL,
		httpClient: &http.Client{Timeout: defaultBackendTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name implements Backend.
func (b *TavilyBackend) Name() string {
	return "tavily"
}

// Search implements Backend.
func (b *TavilyBackend) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(tavilyRequest{
		Query:             query,
		MaxResults:        maxResults,
		SearchDepth:       "advanced",
		IncludeRawContent: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tavily API error %d: %s", resp.StatusCode, string(respBody))
	}

	var result tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]Result, 0, len(result.Results))
	for _, r := range result.Results {
		if r.URL == "" {
			continue
		}
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		out = append(out, Result{Title: r.Title, URL: r.URL, Content: content})
	}
	return out, nil
}

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}
