package state

import (
	"context"
	"sync"
)

// MemoryTokenStore keeps tokens in process memory
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryTokenStore creates an empty in-memory store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]Token)}
}

// Create stores a new token
func (m *MemoryTokenStore) Create(_ context.Context, token Token) error {
	if err := token.ValidateKey(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token.Key()]; ok {
		return ErrTokenExists
	}
	m.tokens[token.Key()] = token
	return nil
}

// Get loads a token
func (m *MemoryTokenStore) Get(_ context.Context, stack, requestID string) (Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[TokenKey(stack, requestID)]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return token, nil
}

// Update overwrites an existing token
func (m *MemoryTokenStore) Update(_ context.Context, token Token) error {
	if err := token.ValidateKey(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token.Key()]; !ok {
		return ErrTokenNotFound
	}
	m.tokens[token.Key()] = token
	return nil
}

// List returns every token of a stack
func (m *MemoryTokenStore) List(_ context.Context, stack string) ([]Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tokens []Token
	for _, t := range m.tokens {
		if t.Stack == stack {
			tokens = append(tokens, t)
		}
	}
	sortByCreation(tokens)
	return tokens, nil
}

// Close is a no-op
func (m *MemoryTokenStore) Close() error {
	return nil
}
