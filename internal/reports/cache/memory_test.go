package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryBackend_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemoryBackend(WithClock(clock.Now))

	require.NoError(t, m.Set(ctx, "a", "value", time.Second))
	require.NoError(t, m.Set(ctx, "b", "other", time.Second))

	v, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	clock.Advance(1500 * time.Millisecond)

	_, ok, err = m.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Size(), "expired entry is evicted lazily on get")

	assert.Equal(t, 1, m.CleanupExpired())
	assert.Equal(t, 0, m.Size())
}

func TestMemoryBackend_NonPositiveTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemoryBackend(WithClock(clock.Now))

	require.NoError(t, m.Set(ctx, "forever", 1, 0))
	require.NoError(t, m.Set(ctx, "negative", 2, -time.Second))
	clock.Advance(24 * 365 * time.Hour)

	for _, key := range []string{"forever", "negative"} {
		_, ok, err := m.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
	assert.Zero(t, m.CleanupExpired())
}

func TestMemoryBackend_ClearPattern(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	for _, key := range []string{"report:sales:1", "report:sales:2", "report:stock:1", "other"} {
		require.NoError(t, m.Set(ctx, key, key, 0))
	}

	n, err := m.Clear(ctx, "report:sales:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, m.Size())

	n, err = m.Clear(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, m.Size())
}

func TestMemoryBackend_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	require.NoError(t, m.Delete(ctx, "k"))

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackend_CleanupLoopStops(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	m.StartCleanup(5 * time.Millisecond)

	require.NoError(t, m.Set(ctx, "short", "v", time.Millisecond))
	assert.Eventually(t, func() bool { return m.Size() == 0 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestSQLiteBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	clock := newFakeClock()
	s.now = clock.Now

	require.NoError(t, s.Set(ctx, "report:sales:a", map[string]any{"total": 3}, time.Second))
	require.NoError(t, s.Set(ctx, "report:sales:b", "kept", 0))
	require.NoError(t, s.Set(ctx, "report:stock:a", "stock", 0))

	v, ok, err := s.Get(ctx, "report:sales:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"total": 3}`, string(v.(json.RawMessage)))

	clock.Advance(2 * time.Second)
	_, ok, err = s.Get(ctx, "report:sales:a")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.Clear(ctx, "report:sales:*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = s.Get(ctx, "report:stock:a")
	require.NoError(t, err)
	assert.True(t, ok)
}
