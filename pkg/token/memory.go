package token

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. Replacements are guarded by a single
// lock, so a rotation never interleaves with a concurrent read of the same
// user's record.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

// GetToken returns the user's token, or nil when none was issued.
func (s *MemoryStore) GetToken(_ context.Context, username string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[username]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

// PutToken replaces the user's token.
func (s *MemoryStore) PutToken(_ context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.Username] = *tok
	return nil
}
