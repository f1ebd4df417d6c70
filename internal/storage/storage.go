// Package storage defines the persistence interface for client state and its
// implementations.
package storage

import (
	"context"
	"errors"

	"cnsniper/internal/model"
)

// ErrNotFound is returned when a cache lookup has no entry.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations: a key/value
// "local storage" plus the named response caches of the worker.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error

	PutCacheEntry(ctx context.Context, e *model.CacheEntry) error
	MatchCache(ctx context.Context, cacheName, url string) (*model.CacheEntry, error)
	CacheNames(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, cacheName string) error

	Close() error
}
