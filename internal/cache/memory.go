package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// Memory is an in-process Cache used when redis is disabled or unreachable.
// Values are stored JSON-encoded so callers observe the same semantics as
// with redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	keys    Keys
	now     func() time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory(prefix string) *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		keys:    Keys{Prefix: prefix},
		now:     time.Now,
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// Set implements Cache. A non-positive ttl keeps the value until invalidated.
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// InvalidateAll implements Cache.
func (m *Memory) InvalidateAll(context.Context) (int64, error) {
	prefix := strings.TrimSuffix(m.keys.Pattern(), "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			deleted++
		}
	}
	return deleted, nil
}

// Close implements Cache.
func (m *Memory) Close() error { return nil }

var _ Cache = (*Memory)(nil)
