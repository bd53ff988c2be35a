package params

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/report-engine/internal/reports"
)

func testDefinition() *reports.ReportDefinition {
	return &reports.ReportDefinition{
		Meta: reports.ReportMeta{Code: "sales"},
		Parameters: []reports.ParameterSpec{
			{Name: "year", Type: reports.ParamInteger, Required: true},
			{Name: "rate", Type: reports.ParamFloat, Default: 0.5},
			{Name: "active", Type: reports.ParamBoolean, Default: "not-coerced"},
			{Name: "start", Type: reports.ParamDate},
			{Name: "region", Type: reports.ParamString, Default: "north"},
			{Name: "ids", Type: reports.ParamList},
		},
	}
}

func TestValidate_CoercesDeclaredTypes(t *testing.T) {
	v := NewValidator()

	got, err := v.Validate(testDefinition(), map[string]any{
		"year":       "2025",
		"rate":       "1.25",
		"active":     "YES",
		"start":      "2025-03-01",
		"region":     42,
		"ids":        []int{1, 2},
		"undeclared": "dropped",
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"year":   int64(2025),
		"rate":   1.25,
		"active": true,
		"start":  time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		"region": "42",
		"ids":    []any{1, 2},
	}, got)
}

func TestValidate_DefaultsAreNotCoerced(t *testing.T) {
	got, err := NewValidator().Validate(testDefinition(), map[string]any{"year": 2025})

	require.NoError(t, err)
	assert.Equal(t, int64(2025), got["year"])
	assert.Equal(t, 0.5, got["rate"])
	assert.Equal(t, "not-coerced", got["active"])
	assert.Equal(t, "north", got["region"])
	assert.Contains(t, got, "start")
	assert.Nil(t, got["start"])
}

func TestValidate_MissingRequired(t *testing.T) {
	for _, raw := range []map[string]any{nil, {}, {"region": "south"}} {
		_, err := NewValidator().Validate(testDefinition(), raw)

		var paramErr *reports.ParameterError
		require.True(t, errors.As(err, &paramErr))
		assert.Equal(t, "year", paramErr.Field)
		assert.Equal(t, "required parameter is missing", paramErr.Message)
	}
}

func TestValidate_BlankValuesAreCoercedNotDefaulted(t *testing.T) {
	def := &reports.ReportDefinition{
		Meta: reports.ReportMeta{Code: "notes"},
		Parameters: []reports.ParameterSpec{
			{Name: "title", Type: reports.ParamString, Required: true},
			{Name: "region", Type: reports.ParamString, Default: "all"},
			{Name: "label", Type: reports.ParamString, Default: "none"},
		},
	}

	got, err := NewValidator().Validate(def, map[string]any{"title": "", "region": "   ", "label": nil})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "", "region": "   ", "label": ""}, got)
}

func TestValidate_BadValues(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]any
		field string
	}{
		{"non numeric integer", map[string]any{"year": "twenty"}, "year"},
		{"fractional integer", map[string]any{"year": 20.5}, "year"},
		{"bad float", map[string]any{"year": 1, "rate": "fast"}, "rate"},
		{"loose date", map[string]any{"year": 1, "start": "03/01/2025"}, "start"},
		{"date with time", map[string]any{"year": 1, "start": "2025-03-01T10:00:00"}, "start"},
		{"blank integer", map[string]any{"year": "  "}, "year"},
		{"null integer", map[string]any{"year": nil}, "year"},
		{"empty float", map[string]any{"year": 1, "rate": ""}, "rate"},
		{"empty date", map[string]any{"year": 1, "start": ""}, "start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator().Validate(testDefinition(), tt.raw)

			var paramErr *reports.ParameterError
			require.True(t, errors.As(err, &paramErr))
			assert.Equal(t, tt.field, paramErr.Field)
		})
	}
}

func TestCoerce_Edges(t *testing.T) {
	n, err := Coerce(reports.ParamInteger, "010")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = Coerce(reports.ParamInteger, 3.0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, in := range []any{"true", "1", "Yes", true} {
		b, err := Coerce(reports.ParamBoolean, in)
		require.NoError(t, err)
		assert.Equal(t, true, b, in)
	}
	for _, in := range []any{"ture", "0", "no", false, 7} {
		b, err := Coerce(reports.ParamBoolean, in)
		require.NoError(t, err)
		assert.Equal(t, false, b, in)
	}

	l, err := Coerce(reports.ParamList, "solo")
	require.NoError(t, err)
	assert.Equal(t, []any{"solo"}, l)

	l, err = Coerce(reports.ParamList, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{}, l)

	b, err := Coerce(reports.ParamBoolean, nil)
	require.NoError(t, err)
	assert.Equal(t, false, b)
}
