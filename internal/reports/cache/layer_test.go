package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carbon-scribe/report-engine/internal/reports"
)

func cachedDef(enabled bool, pattern string) *reports.ReportDefinition {
	return &reports.ReportDefinition{
		Meta:  reports.ReportMeta{Code: "sales"},
		Cache: reports.CacheSpec{Enabled: enabled, TTLSeconds: 60, KeyPattern: pattern},
	}
}

func TestKey_Default(t *testing.T) {
	def := cachedDef(true, "")

	a := Key(def, map[string]any{"year": int64(2025), "region": "north"}, reports.FormatJSON)
	b := Key(def, map[string]any{"region": "north", "year": int64(2025)}, reports.FormatJSON)
	c := Key(def, map[string]any{"region": "north", "year": int64(2025)}, reports.FormatCSV)
	d := Key(def, map[string]any{"region": "south", "year": int64(2025)}, reports.FormatJSON)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Regexp(t, `^report:sales:[0-9a-f]{32}$`, a)
}

func TestKey_NonFiniteFloats(t *testing.T) {
	def := cachedDef(true, "")

	keys := []string{
		Key(def, map[string]any{"year": int64(2024), "ratio": math.NaN()}, reports.FormatJSON),
		Key(def, map[string]any{"year": int64(2025), "ratio": math.NaN()}, reports.FormatJSON),
		Key(def, map[string]any{"year": int64(2025), "ratio": math.NaN()}, reports.FormatCSV),
		Key(def, map[string]any{"year": int64(2025), "ratio": math.Inf(1)}, reports.FormatPDF),
		Key(def, map[string]any{"year": int64(2025), "ratio": math.Inf(-1)}, reports.FormatPDF),
	}

	seen := make(map[string]bool)
	for _, k := range keys {
		assert.Regexp(t, `^report:sales:[0-9a-f]{32}$`, k)
		assert.NotContains(t, k, "d41d8cd98f00b204e9800998ecf8427e")
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	assert.Equal(t, keys[1], Key(def, map[string]any{"ratio": math.NaN(), "year": int64(2025)}, reports.FormatJSON))
}

func TestFingerprint_DistinguishesTypes(t *testing.T) {
	a := Fingerprint("sales", map[string]any{"v": int64(1)}, reports.FormatJSON)
	b := Fingerprint("sales", map[string]any{"v": "1"}, reports.FormatJSON)
	c := Fingerprint("sales", map[string]any{"v": 1.0}, reports.FormatJSON)
	d := Fingerprint("sales", map[string]any{"v": []any{"a", "b"}}, reports.FormatJSON)
	e := Fingerprint("sales", map[string]any{"v": []any{"a,b"}}, reports.FormatJSON)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, d, e)
}

func TestKey_Pattern(t *testing.T) {
	params := map[string]any{
		"year":  int64(2025),
		"start": time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, "sales:2025:2025-03-01",
		Key(cachedDef(true, "{code}:{year}:{start}"), params, reports.FormatJSON))
	assert.Equal(t, "sales:2025:2025-03-01:csv",
		Key(cachedDef(true, "{code}:{year}:{start}"), params, reports.FormatCSV))
	assert.Equal(t, "pdf/sales/2025",
		Key(cachedDef(true, "{format}/{code}/{year}"), params, reports.FormatPDF))
}

func TestLayer_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	layer := NewLayer(backend, nil)
	def := cachedDef(false, "")

	layer.Set(ctx, def, nil, reports.FormatJSON, &reports.RenderedResult{Format: reports.FormatJSON})
	_, ok := layer.Get(ctx, def, nil, reports.FormatJSON)

	assert.False(t, ok)
	assert.Zero(t, backend.Size())
}

func TestLayer_HitMissAndInvalidate(t *testing.T) {
	ctx := context.Background()
	layer := NewLayer(NewMemoryBackend(), nil)
	def := cachedDef(true, "")
	params := map[string]any{"year": int64(2025)}
	result := &reports.RenderedResult{Format: reports.FormatJSON, Data: "x"}

	_, ok := layer.Get(ctx, def, params, reports.FormatJSON)
	assert.False(t, ok)

	layer.Set(ctx, def, params, reports.FormatJSON, result)
	got, ok := layer.Get(ctx, def, params, reports.FormatJSON)
	require.True(t, ok)
	assert.Same(t, result, got)

	n, err := layer.Invalidate(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok = layer.Get(ctx, def, params, reports.FormatJSON)
	assert.False(t, ok)

	stats := layer.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)
}

func TestLayer_InvalidateDefinitionWithPattern(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	layer := NewLayer(backend, nil)
	def := cachedDef(true, "custom:{code}:{year}")

	layer.Set(ctx, def, map[string]any{"year": 2024}, reports.FormatJSON, &reports.RenderedResult{})
	layer.Set(ctx, def, map[string]any{"year": 2025}, reports.FormatJSON, &reports.RenderedResult{})
	require.Equal(t, 2, backend.Size())

	n, err := layer.InvalidateDefinition(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, backend.Size())
}

func TestLayer_DecodesPersistedEntries(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	layer := NewLayer(backend, nil)
	def := cachedDef(true, "")

	key := Key(def, nil, reports.FormatCSV)
	require.NoError(t, backend.Set(ctx, key, json.RawMessage(`{"format":"csv","content_type":"text/csv","file_name":"sales.csv"}`), 0))

	got, ok := layer.Get(ctx, def, nil, reports.FormatCSV)
	require.True(t, ok)
	assert.Equal(t, reports.FormatCSV, got.Format)
	assert.Equal(t, "sales.csv", got.FileName)
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Get(ctx context.Context, key string) (any, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0), args.Bool(1), args.Error(2)
}

func (m *mockBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *mockBackend) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockBackend) Clear(ctx context.Context, pattern string) (int, error) {
	args := m.Called(ctx, pattern)
	return args.Int(0), args.Error(1)
}

func TestLayer_BackendFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	backend := new(mockBackend)
	layer := NewLayer(backend, nil)
	def := cachedDef(true, "")

	backend.On("Get", ctx, mock.AnythingOfType("string")).Return(nil, false, errors.New("disk full"))
	backend.On("Set", ctx, mock.AnythingOfType("string"), mock.Anything, time.Minute).Return(errors.New("disk full"))

	_, ok := layer.Get(ctx, def, nil, reports.FormatJSON)
	assert.False(t, ok)
	layer.Set(ctx, def, nil, reports.FormatJSON, &reports.RenderedResult{})

	backend.AssertExpectations(t)
}
