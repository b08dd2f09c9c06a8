package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sakif/cloudtype/internal/model"
)

var _ StatusCache = (*Memory)(nil)

type memoryEntry struct {
	status  model.AccountStatus
	expires time.Time
}

// Memory is a process-local StatusCache. Expired entries are dropped
// lazily on read. Generations are kept for as long as the process runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	gens    map[string]uint64
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		gens:    make(map[string]uint64),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, userID string) (model.AccountStatus, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[userID]
	m.mu.RUnlock()

	if !ok {
		return model.AccountStatus{}, false, nil
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		// Re-check under the write lock; a Set may have refreshed it.
		if cur, ok := m.entries[userID]; ok && !m.now().Before(cur.expires) {
			delete(m.entries, userID)
		}
		m.mu.Unlock()
		return model.AccountStatus{}, false, nil
	}
	return e.status, true, nil
}

func (m *Memory) Generation(_ context.Context, userID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[userID], nil
}

func (m *Memory) Set(_ context.Context, status model.AccountStatus, gen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[status.UserID] != gen {
		return nil
	}
	m.entries[status.UserID] = memoryEntry{status: status, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[userID]++
	delete(m.entries, userID)
	return nil
}

// Len is the number of entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
