package timerstate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps timer state in process memory for single mode and tests.
// Params: in-memory key map and injected clock.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	kvStore
}

// memoryBackend is the map-backed kvBackend.
type memoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

// NewMemoryStore creates an in-memory timer state store.
// Params: now function for lazy expiry (defaults to time.Now when nil).
// Returns: initialized in-memory store.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{kvStore: kvStore{
		kv:  &memoryBackend{values: make(map[string]string)},
		now: now,
	}}
}

func (b *memoryBackend) get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", false, ErrClosed
	}
	value, ok := b.values[key]
	return value, ok, nil
}

func (b *memoryBackend) set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.values[key] = value
	return nil
}

func (b *memoryBackend) delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	delete(b.values, key)
	return nil
}

func (b *memoryBackend) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
