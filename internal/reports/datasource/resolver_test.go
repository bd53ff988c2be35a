package datasource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carbon-scribe/report-engine/internal/reports"
)

type mockQuerier struct {
	mock.Mock
}

func (m *mockQuerier) QueryRows(ctx context.Context, query string, args map[string]any) ([]map[string]any, error) {
	ret := m.Called(ctx, query, args)
	rows, _ := ret.Get(0).([]map[string]any)
	return rows, ret.Error(1)
}

func querySource(name, sql string, args map[string]any) reports.NamedDataSource {
	return reports.NamedDataSource{Name: name, Spec: reports.DataSourceSpec{Type: reports.SourceQuery, SQL: sql, Args: args}}
}

func TestResolveAll_ChainsArgsThroughEarlierResults(t *testing.T) {
	q := new(mockQuerier)
	q.On("QueryRows", mock.Anything, "SELECT id FROM customers WHERE year = :year", map[string]any{"year": int64(2025)}).
		Return([]map[string]any{{"id": int64(7)}}, nil)
	q.On("QueryRows", mock.Anything, "SELECT * FROM orders WHERE customer = :customer", map[string]any{"year": int64(2025), "customer": int64(7)}).
		Return([]map[string]any{{"amount": 10}, {"amount": 5}}, nil)

	r := NewResolver(q, nil, nil, nil, Options{})
	sources := reports.DataSources{
		querySource("customers", "SELECT id FROM customers WHERE year = :year", nil),
		querySource("orders", "SELECT * FROM orders WHERE customer = :customer", map[string]any{"customer": "{{ customers[0].id }}"}),
		{Name: "total", Spec: reports.DataSourceSpec{Type: reports.SourceAggregate, Expr: "{{ orders|sum_by('amount') }}"}},
	}

	data, err := r.ResolveAll(context.Background(), sources, map[string]any{"year": int64(2025)})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": int64(7)}}, data["customers"])
	assert.Len(t, data["orders"], 2)
	assert.Equal(t, int64(15), data["total"])
	q.AssertExpectations(t)
}

func TestResolveAll_IsolatesFailingSources(t *testing.T) {
	q := new(mockQuerier)
	q.On("QueryRows", mock.Anything, "SELECT broken", mock.Anything).Return(nil, errors.New("relation does not exist"))
	q.On("QueryRows", mock.Anything, "SELECT ok", mock.Anything).Return([]map[string]any{{"n": 1}}, nil)

	services := NewRegistry()
	r := NewResolver(q, services, nil, nil, Options{})
	sources := reports.DataSources{
		querySource("broken", "SELECT broken", nil),
		querySource("dangerous", "DROP TABLE orders", nil),
		{Name: "missing_service", Spec: reports.DataSourceSpec{Type: reports.SourceService, Method: "Nope.nothing"}},
		{Name: "bad_args", Spec: reports.DataSourceSpec{Type: reports.SourceService, Method: "Nope.nothing", Args: map[string]any{"x": "{{ ghost }}"}}},
		querySource("ok", "SELECT ok", nil),
	}

	data, err := r.ResolveAll(context.Background(), sources, nil)
	require.NoError(t, err)
	for _, name := range []string{"broken", "dangerous", "missing_service", "bad_args"} {
		assert.Equal(t, []any{}, data[name], name)
	}
	assert.Equal(t, []map[string]any{{"n": 1}}, data["ok"])
	q.AssertNotCalled(t, "QueryRows", mock.Anything, "DROP TABLE orders", mock.Anything)
}

func TestResolveAll_ServiceReceivesMergedArgs(t *testing.T) {
	services := NewRegistry()
	var got map[string]any
	services.Register("Sales.regions", func(_ context.Context, _ Querier, args map[string]any) (any, error) {
		got = args
		return []any{"north"}, nil
	})

	r := NewResolver(nil, services, nil, nil, Options{})
	sources := reports.DataSources{
		{Name: "regions", Spec: reports.DataSourceSpec{
			Type:   reports.SourceService,
			Method: "reports.Sales.regions",
			Args:   map[string]any{"limit": 5, "active": true, "label": "{{ params.year ~ '' }}"},
		}},
	}

	data, err := r.ResolveAll(context.Background(), sources, map[string]any{"active": false, "year": int64(2025)})
	require.NoError(t, err)
	assert.Equal(t, []any{"north"}, data["regions"])
	assert.Equal(t, map[string]any{"limit": 5, "active": false, "label": int64(2025), "year": int64(2025)}, got)
}

func TestResolveAll_ParallelIndependentSources(t *testing.T) {
	var inFlight, peak atomic.Int32
	services := NewRegistry()
	services.Register("Slow.fetch", func(ctx context.Context, _ Querier, _ map[string]any) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		return []any{1}, nil
	})

	slow := reports.DataSourceSpec{Type: reports.SourceService, Method: "Slow.fetch"}
	sources := reports.DataSources{
		{Name: "a", Spec: slow},
		{Name: "b", Spec: slow},
		{Name: "c", Spec: slow},
		{Name: "count", Spec: reports.DataSourceSpec{Type: reports.SourceAggregate, Expr: "{{ a|length + b|length + c|length }}"}},
	}

	r := NewResolver(nil, services, nil, nil, Options{Parallelism: 3})
	data, err := r.ResolveAll(context.Background(), sources, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), data["count"])
	assert.Greater(t, peak.Load(), int32(1))

	batches := r.batches(sources)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
}

func TestMergeArgs(t *testing.T) {
	merged, err := MergeArgs(map[string]any{"year": 2000, "limit": 10}, map[string]any{"year": 2025, "flag": false})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"year": 2025, "limit": 10, "flag": false}, merged)
}
