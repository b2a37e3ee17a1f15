// Package store persists credentials in content-addressed storage.
package store

import (
	"context"
	"errors"
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("content store unavailable")
	// ErrNotFound is returned for content ids the store does not hold.
	ErrNotFound = errors.New("content not found")
)

// Store is an immutable content-addressed blob store.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
}
