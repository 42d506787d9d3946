package idempotency

import (
	"context"
	"sync"
	"time"

	redispkg "github.com/carebook/paydesk/internal/redis"
)

// MemoryCache is a process-local Cache for tests and single-node runs.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	result    []byte
	completed bool
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) CheckAndReserve(ctx context.Context, namespace, key string, ttl time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := namespace + ":" + key
	entry, ok := m.entries[k]
	if ok && time.Now().After(entry.expiresAt) {
		ok = false
	}
	if !ok {
		m.entries[k] = memoryEntry{expiresAt: time.Now().Add(ttl)}
		return nil, nil
	}
	if !entry.completed {
		return nil, redispkg.ErrKeyInFlight
	}
	return entry.result, nil
}

func (m *MemoryCache) StoreResult(ctx context.Context, namespace, key string, result []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[namespace+":"+key] = memoryEntry{result: result, completed: true, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryCache) Release(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, namespace+":"+key)
	return nil
}
