package conversation

import (
	"context"
	"sync"
)

// InMemoryStore is a process-local store; conversations live as long as the process.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string][]Message)}
}

func (s *InMemoryStore) Append(_ context.Context, conversationID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = append(s.conversations[conversationID], msg)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.conversations[conversationID]
	out := make([]Message, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) Create(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		s.conversations[conversationID] = []Message{}
	}
	return nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations), nil
}

func (s *InMemoryStore) Close() error { return nil }
