// Package kv defines the key/value + list substrate the engine runs on.
// Any store offering these primitives with atomic Increment and
// SetIfNotExists is a valid backend.
package kv

import (
	"context"
	"time"
)

// Store is the persistence substrate for cache entries, locks, budget
// versions, history lists, the job queue, and advisory metrics.
//
// TTL semantics: a zero ttl means no expiry. Expired keys behave as absent.
// List index 0 is the leftmost (most recently pushed) element; ListRange
// follows redis conventions where stop == -1 means the last element.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfNotExists atomically stores value only if key is absent (or
	// expired). Returns true if the write happened.
	SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes the key whatever its type, scalar entry and list
	// state both, matching redis DEL.
	Delete(ctx context.Context, key string) error
	// Increment atomically adds 1 to the integer at key (starting from 0
	// if absent) and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)

	ListPushLeft(ctx context.Context, key, value string) error
	ListRange(ctx context.Context, key string, start, stop int) ([]string, error)
	ListPopRight(ctx context.Context, key string) (string, bool, error)
	ListLength(ctx context.Context, key string) (int, error)

	Close() error
}
