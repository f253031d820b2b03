// Package mock provides a test double for the search.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/voicewire/voicewire/pkg/provider/search"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Query is the query passed to Search.
	Query string
	// Limit is the result limit passed to Search.
	Limit int
}

// Provider is a mock implementation of search.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SearchResults is returned by Search when SearchErr is unset.
	SearchResults []search.Result

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// --- Call records ---

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall
}

// Search records the call and returns the configured results.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SearchCalls = append(p.SearchCalls, SearchCall{Query: query, Limit: limit})
	if p.SearchErr != nil {
		return nil, p.SearchErr
	}
	out := make([]search.Result, len(p.SearchResults))
	copy(out, p.SearchResults)
	return out, nil
}

// CallCount returns the number of recorded Search calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SearchCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SearchCalls = nil
}

// Ensure Provider implements search.Provider at compile time.
var _ search.Provider = (*Provider)(nil)
