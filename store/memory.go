package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// MemoryStore keeps blobs in memory, keyed by the keccak256 of their bytes.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores data and returns its content id. Storing the same bytes twice
// returns the same id.
func (s *MemoryStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	id := crypto.Keccak256Hash(data).Hex()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		s.blobs[id] = append([]byte(nil), data...)
	}
	return id, nil
}

// Get returns a copy of the blob stored under contentID.
func (s *MemoryStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[contentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	return append([]byte(nil), data...), nil
}
