// Package exa provides a search.Provider backed by the Exa search API
// (https://exa.ai). Queries are sent to POST /search with text contents and
// highlights requested for each result.
package exa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voicewire/voicewire/pkg/provider/search"
)

const (
	defaultEndpoint = "https://api.exa.ai/search"
	defaultLimit    = 3
)

// Option is a functional option for configuring the Exa Provider.
type Option func(*Provider)

// WithEndpoint overrides the search endpoint URL. Used by tests.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements search.Provider backed by the Exa API.
type Provider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Exa Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("exa: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- API message types ----

// searchRequest is the JSON body sent to POST /search.
type searchRequest struct {
	Query      string          `json:"query"`
	NumResults int             `json:"numResults"`
	Contents   contentsRequest `json:"contents"`
}

// contentsRequest asks Exa to include document text and highlights.
type contentsRequest struct {
	Text       bool `json:"text"`
	Highlights bool `json:"highlights"`
}

// searchResponse is the top-level response from POST /search.
type searchResponse struct {
	Results []exaResult `json:"results"`
}

// exaResult is a single result entry from the Exa API.
type exaResult struct {
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Text       string   `json:"text"`
	Highlights []string `json:"highlights"`
}

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	if query == "" {
		return nil, errors.New("exa: query must not be empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	body, _ := json.Marshal(searchRequest{
		Query:      query,
		NumResults: limit,
		Contents:   contentsRequest{Text: true, Highlights: true},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("exa: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exa: search HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("exa: search: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("exa: search decode: %w", err)
	}

	results := make([]search.Result, 0, len(sr.Results))
	for _, r := range sr.Results {
		results = append(results, search.Result{
			Title:      r.Title,
			URL:        r.URL,
			Text:       r.Text,
			Highlights: r.Highlights,
		})
	}
	return results, nil
}

// Ensure Provider implements search.Provider at compile time.
var _ search.Provider = (*Provider)(nil)
