// Package store provides storage backends for SkyRelay.
//
// Every backend is a plain key-value mapping: conversation state per Bluesky post URI,
// short-lived webhook delivery markers, and the direct-message watermark. There are no
// transactions; correctness relies on per-key atomicity of single reads and writes.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// Store is the full persistence surface used by SkyRelay.
type Store interface {
	StateStore
	MarkerStore
	WatermarkStore
	SessionStore
	Close() error
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is a process-local store for tests and local development.
type InMemoryStore struct {
	mu        sync.RWMutex
	states    map[string][]byte
	markers   map[string]time.Time
	watermark string
	session   string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:  make(map[string][]byte),
		markers: make(map[string]time.Time),
	}
}

func (s *InMemoryStore) SaveConversationState(_ context.Context, postID string, state models.ConversationState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[postID] = raw
	return nil
}

func (s *InMemoryStore) GetConversationState(_ context.Context, postID string) (*models.ConversationState, error) {
	s.mu.RLock()
	raw, ok := s.states[postID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeState(postID, raw), nil
}

// PutRawState stores an arbitrary value under postID (for tests of malformed records).
func (s *InMemoryStore) PutRawState(postID string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[postID] = raw
}

// StateCount returns the number of stored conversation states.
func (s *InMemoryStore) StateCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *InMemoryStore) MarkProcessing(_ context.Context, deliveryID string, at time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expires, ok := s.markers[deliveryID]; ok && at.Before(expires) {
		return false, nil
	}
	s.markers[deliveryID] = at.Add(ttl)
	return true, nil
}

func (s *InMemoryStore) GetDMWatermark(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark, nil
}

func (s *InMemoryStore) SetDMWatermark(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = value
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, nil
}

func (s *InMemoryStore) SaveSession(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = value
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
