// Package search defines the Provider interface for web search backends.
//
// A search provider retrieves a small set of relevant documents for a query so
// the assistant can ground its answers in fresh information. Search is a
// best-effort enrichment: callers must degrade gracefully when it fails.
package search

import "context"

// Result is a single document returned by a search.
type Result struct {
	// Title is the document title. May be empty.
	Title string
	// URL is the canonical document location.
	URL string
	// Text is an extract of the document body, possibly truncated by the
	// provider.
	Text string
	// Highlights are short passages most relevant to the query.
	Highlights []string
}

// Provider is the abstraction over any web search backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Search returns up to limit results for query, most relevant first. A
	// query with no matches returns an empty slice and a nil error.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}
