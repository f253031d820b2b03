// Package session persists the final delivered response per conversation
// session so it can be retrieved later (e.g., serving the audio artifact back
// over a transport the pipeline does not own).
//
// Three implementations are provided: an in-memory map for single-process
// setups and tests, PostgreSQL for durable storage, and Redis for shared
// short-lived storage with TTL eviction.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for unknown session IDs.
var ErrNotFound = errors.New("session: not found")

// Response is the stored outcome of a conversational turn.
type Response struct {
	// Text is the assistant's reply text.
	Text string `json:"text"`
	// AudioFile is the synthesized artifact path. Empty when audio was not
	// requested or synthesis failed.
	AudioFile string `json:"audio_file,omitempty"`
	// Timestamp is when the response was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Store persists the latest response per session.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put records the latest response for sessionID, replacing any previous
	// one.
	Put(ctx context.Context, sessionID string, resp Response) error

	// Get returns the latest response for sessionID. Returns ErrNotFound
	// when the session has no recorded response.
	Get(ctx context.Context, sessionID string) (Response, error)

	// Exists reports whether sessionID has a recorded response.
	Exists(ctx context.Context, sessionID string) (bool, error)

	// Close releases the store's resources.
	Close() error
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu        sync.RWMutex
	responses map[string]Response
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{responses: make(map[string]Response)}
}

// Put implements Store.
func (s *MemStore) Put(_ context.Context, sessionID string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[sessionID] = resp
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, sessionID string) (Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.responses[sessionID]
	if !ok {
		return Response{}, ErrNotFound
	}
	return resp, nil
}

// Exists implements Store.
func (s *MemStore) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.responses[sessionID]
	return ok, nil
}

// Close implements Store.
func (s *MemStore) Close() error {
	return nil
}
