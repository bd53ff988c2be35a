package definitions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/report-engine/internal/reports"
)

const salesYAML = `
meta:
  code: sales
  name: Sales Summary
permissions:
  roles: [finance]
parameters:
  - name: year
    type: integer
    required: true
cache:
  enabled: true
  ttl_seconds: 300
data_sources:
  totals:
    type: query
    sql: SELECT SUM(amount) AS total FROM orders WHERE year = :year
  by_status:
    type: aggregate
    expr: "{{ totals|group_by('status') }}"
  regions:
    type: service
    method: sales.regions
sections:
  - id: kpis
    type: metrics
    items:
      - label: Total
        value: "{{ totals[0].total }}"
  - id: detail
    type: table
    source: totals
exports:
  csv:
    enabled: true
`

const stockJSON = `{
  "meta": {"code": "stock", "name": "Stock"},
  "data_sources": {"items": {"type": "query", "sql": "SELECT 1"}},
  "sections": [{"id": "t", "type": "table", "source": "items"}]
}`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestStore_GetFromFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.yaml", salesYAML)
	writeFile(t, dir, "stock.json", stockJSON)

	store := NewStore(NewFileSource(dir), nil, nil)
	ctx := context.Background()

	def, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, "Sales Summary", def.Meta.Name)
	assert.Equal(t, []string{"totals", "by_status", "regions"}, def.DataSources.Names())
	assert.Equal(t, reports.ParamInteger, def.Parameters[0].Type)

	stock, err := store.Get(ctx, "stock")
	require.NoError(t, err)
	assert.Equal(t, []string{"items"}, stock.DataSources.Names())
}

func TestStore_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "renamed.yaml", salesYAML)
	writeFile(t, dir, "broken.yaml", "meta: [")

	store := NewStore(NewFileSource(dir), nil, nil)
	ctx := context.Background()

	tests := []struct {
		code   string
		target error
	}{
		{"missing", reports.ErrNotFound},
		{"renamed", reports.ErrCodeMismatch},
		{"../etc/passwd", reports.ErrNotFound},
	}
	for _, tt := range tests {
		_, err := store.Get(ctx, tt.code)

		var cfgErr *reports.ConfigError
		require.True(t, errors.As(err, &cfgErr), tt.code)
		assert.ErrorIs(t, err, tt.target)
		assert.Equal(t, tt.code, cfgErr.Code)
	}

	_, err := store.Get(ctx, "broken")
	var cfgErr *reports.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestStore_ListAvailableSkipsBrokenDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.yaml", salesYAML)
	writeFile(t, dir, "stock.json", stockJSON)
	writeFile(t, dir, "broken.yml", "meta: [")
	writeFile(t, dir, "notes.txt", "ignored")

	defs, err := NewStore(NewFileSource(dir), nil, nil).ListAvailable(context.Background())
	require.NoError(t, err)

	codes := make([]string, len(defs))
	for i, d := range defs {
		codes[i] = d.Meta.Code
	}
	assert.Equal(t, []string{"sales", "stock"}, codes)
}

func TestStore_Reload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stock.json", stockJSON)

	store := NewStore(NewFileSource(dir), nil, nil)
	ctx := context.Background()

	_, err := store.Get(ctx, "stock")
	require.NoError(t, err)

	writeFile(t, dir, "stock.json", `{"meta": {"code": "stock", "name": "Stock v2"}}`)

	def, err := store.Get(ctx, "stock")
	require.NoError(t, err)
	assert.Equal(t, "Stock", def.Meta.Name, "served from cache until reloaded")

	store.Reload("stock")
	def, err = store.Get(ctx, "stock")
	require.NoError(t, err)
	assert.Equal(t, "Stock v2", def.Meta.Name)
}

func TestChain_FallsThroughOnNotFound(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeFile(t, first, "stock.json", stockJSON)
	writeFile(t, second, "sales.yaml", salesYAML)

	src := Chain(NewFileSource(first), NewFileSource(second))
	ctx := context.Background()

	def, err := src.Load(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, "sales", def.Meta.Code)

	codes, err := src.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "stock"}, codes)

	_, err = src.Load(ctx, "nope")
	assert.ErrorIs(t, err, reports.ErrNotFound)
}

const stockYAML = `
meta:
  code: stock
  name: Stock
data_sources:
  items:
    type: query
    sql: SELECT 1
sections:
  - id: t
    type: table
    source: items
`

func TestDecode_YAMLAndJSONAgree(t *testing.T) {
	fromJSON, err := Decode([]byte(stockJSON))
	require.NoError(t, err)
	fromYAML, err := Decode([]byte(stockYAML))
	require.NoError(t, err)

	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Errorf("decoded definitions differ (-json +yaml):\n%s", diff)
	}
}
