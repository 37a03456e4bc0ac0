package kv

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// MemoryStore is an in-process Store. It is the default substrate for
// single-node deployments and for tests; expiry is lazy, checked on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	lists   map[string][]string
	now     func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		lists:   make(map[string][]string),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook for expiry behavior.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.makeEntry(value, ttl)
	return nil
}

func (s *MemoryStore) SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.expired(s.now()) {
		return false, nil
	}
	s.entries[key] = s.makeEntry(value, ttl)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if e, ok := s.entries[key]; ok && !e.expired(s.now()) {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, eris.Wrapf(err, "kv: increment non-integer key %s", key)
		}
		current = n
	}
	current++
	s.entries[key] = memEntry{value: strconv.FormatInt(current, 10)}
	return current, nil
}

func (s *MemoryStore) ListPushLeft(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append([]string{value}, s.lists[key]...)
	return nil
}

func (s *MemoryStore) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	lo, hi, ok := rangeBounds(len(list), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

func (s *MemoryStore) ListPopRight(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	last := list[len(list)-1]
	if len(list) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = list[:len(list)-1]
	}
	return last, true, nil
}

func (s *MemoryStore) ListLength(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists[key]), nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) makeEntry(value string, ttl time.Duration) memEntry {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

// rangeBounds resolves redis-style start/stop (negative = from the end)
// against a list length, returning inclusive bounds.
func rangeBounds(length, start, stop int) (int, int, bool) {
	if length == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return 0, 0, false
	}
	return start, stop, true
}
