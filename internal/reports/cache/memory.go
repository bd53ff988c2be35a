package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// entry represents a cached value with its lifetime
type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryBackend provides process-local caching with lazy expiry and an
// optional background sweep
type MemoryBackend struct {
	data map[string]*entry
	mu   sync.RWMutex
	now  func() time.Time

	cleanup  *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures a MemoryBackend
type MemoryOption func(*MemoryBackend)

// WithClock overrides the clock used for expiry
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) { m.now = now }
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		data: make(map[string]*entry),
		now:  time.Now,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartCleanup removes expired entries every interval until Stop is called
func (m *MemoryBackend) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	if m.cleanup != nil {
		m.mu.Unlock()
		return
	}
	m.cleanup = time.NewTicker(interval)
	ticker := m.cleanup
	m.mu.Unlock()

	go m.cleanupLoop(ticker)
}

func (m *MemoryBackend) cleanupLoop(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
			m.CleanupExpired()
		case <-m.done:
			return
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (m *MemoryBackend) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.cleanup != nil {
			m.cleanup.Stop()
		}
		m.mu.Unlock()
		close(m.done)
	})
}

// Get returns the value for key, evicting it when expired
func (m *MemoryBackend) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if e.expired(m.now()) {
		m.mu.Lock()
		if cur, ok := m.data[key]; ok && cur == e {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (m *MemoryBackend) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	now := m.now()
	e := &entry{value: value, createdAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

// Delete removes key
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Clear removes all keys starting with pattern minus any trailing "*"
func (m *MemoryBackend) Clear(_ context.Context, pattern string) (int, error) {
	prefix := strings.TrimSuffix(pattern, "*")

	m.mu.Lock()
	defer m.mu.Unlock()

	if prefix == "" {
		n := len(m.data)
		m.data = make(map[string]*entry)
		return n, nil
	}

	removed := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			removed++
		}
	}
	return removed, nil
}

// CleanupExpired drops every expired entry and returns how many were removed
func (m *MemoryBackend) CleanupExpired() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.data {
		if e.expired(now) {
			delete(m.data, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of stored entries, expired or not
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
