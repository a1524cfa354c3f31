package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process fallback. TTLs are enforced by wall-clock
// comparison and expired entries are swept lazily on each check; mutual
// exclusion holds only within this process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	prefix  string
	now     func() time.Time
}

// NewMemoryStore constructs an in-process store.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		prefix:  prefix,
		now:     time.Now,
	}
}

// IsActive reports whether the buffer-active flag is set and unexpired.
func (m *MemoryStore) IsActive(_ context.Context, businessID uuid.UUID, phone string) bool {
	return m.isSet(activeKey(m.prefix, businessID, phone))
}

// SetActive marks the buffer-active flag.
func (m *MemoryStore) SetActive(_ context.Context, businessID uuid.UUID, phone string, ttl time.Duration) {
	m.set(activeKey(m.prefix, businessID, phone), ttl)
}

// ClearActive removes the buffer-active flag.
func (m *MemoryStore) ClearActive(_ context.Context, businessID uuid.UUID, phone string) {
	m.clear(activeKey(m.prefix, businessID, phone))
}

// IsProcessing reports whether the processing flag is set and unexpired.
func (m *MemoryStore) IsProcessing(_ context.Context, businessID uuid.UUID, phone string) bool {
	return m.isSet(processingKey(m.prefix, businessID, phone))
}

// TryAcquireProcessing sets the processing flag if no live entry exists.
func (m *MemoryStore) TryAcquireProcessing(_ context.Context, businessID uuid.UUID, phone string, ttl time.Duration) bool {
	return m.setIfAbsent(processingKey(m.prefix, businessID, phone), ttl)
}

// ClearProcessing removes the processing flag.
func (m *MemoryStore) ClearProcessing(_ context.Context, businessID uuid.UUID, phone string) {
	m.clear(processingKey(m.prefix, businessID, phone))
}

func (m *MemoryStore) isSet(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	exp, ok := m.entries[key]
	return ok && exp.After(m.now())
}

func (m *MemoryStore) set(key string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.now().Add(ttl)
}

func (m *MemoryStore) setIfAbsent(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	if exp, ok := m.entries[key]; ok && exp.After(m.now()) {
		return false
	}
	m.entries[key] = m.now().Add(ttl)
	return true
}

func (m *MemoryStore) clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *MemoryStore) sweepLocked() {
	now := m.now()
	for key, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, key)
		}
	}
}
