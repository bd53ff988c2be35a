package definitions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/report-engine/internal/reports"
	"carbon-scribe/report-engine/internal/reports/expression"
)

func validDefinition() *reports.ReportDefinition {
	return &reports.ReportDefinition{
		Meta: reports.ReportMeta{Code: "sales", Name: "Sales"},
		Parameters: []reports.ParameterSpec{
			{Name: "year", Type: reports.ParamInteger},
		},
		DataSources: reports.DataSources{
			{Name: "orders", Spec: reports.DataSourceSpec{Type: reports.SourceQuery, SQL: "SELECT 1"}},
			{Name: "regions", Spec: reports.DataSourceSpec{Type: reports.SourceService, Method: "sales.regions"}},
		},
		Sections: []reports.SectionSpec{
			{ID: "kpi", Type: reports.SectionMetrics, Items: []reports.MetricItemSpec{{Label: "n", Value: "{{ orders|length }}"}}},
			{ID: "rows", Type: reports.SectionTable, Source: "orders"},
		},
		Exports: map[string]reports.ExportSpec{"pdf": {Enabled: true}},
	}
}

func TestValidator_AcceptsValidDefinition(t *testing.T) {
	v := NewValidator(expression.NewEngine())

	result := v.ValidateDefinition(validDefinition())
	assert.True(t, result.IsValid, "%+v", result.Errors)
	assert.NoError(t, v.Validate(validDefinition()))
}

func TestValidator_ReportsEachProblem(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*reports.ReportDefinition)
		field  string
		code   string
	}{
		{"bad parameter name", func(d *reports.ReportDefinition) { d.Parameters[0].Name = "1year" }, "parameters[0].name", "invalid_format"},
		{"duplicate parameter", func(d *reports.ReportDefinition) {
			d.Parameters = append(d.Parameters, reports.ParameterSpec{Name: "year", Type: reports.ParamString})
		}, "parameters[1].name", "duplicate"},
		{"bad parameter type", func(d *reports.ReportDefinition) { d.Parameters[0].Type = "decimal" }, "parameters[0].type", "invalid"},
		{"query without sql", func(d *reports.ReportDefinition) { d.DataSources[0].Spec.SQL = " " }, "data_sources.orders.sql", "required"},
		{"undotted service", func(d *reports.ReportDefinition) { d.DataSources[1].Spec.Method = "regions" }, "data_sources.regions.method", "invalid_format"},
		{"unknown source type", func(d *reports.ReportDefinition) { d.DataSources[0].Spec.Type = "graphql" }, "data_sources.orders.type", "invalid"},
		{"unknown section source", func(d *reports.ReportDefinition) { d.Sections[1].Source = "ghost" }, "sections[1].source", "invalid"},
		{"bad section type", func(d *reports.ReportDefinition) { d.Sections[1].Type = "map" }, "sections[1].type", "invalid"},
		{"bad template", func(d *reports.ReportDefinition) { d.Sections[0].Items[0].Value = "{{ orders| }}" }, "sections[0].items[0].value", "invalid_template"},
		{"blank export name", func(d *reports.ReportDefinition) { d.Exports[" "] = reports.ExportSpec{Enabled: true} }, "exports. ", "invalid_format"},
	}

	v := NewValidator(expression.NewEngine())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)

			result := v.ValidateDefinition(def)
			require.False(t, result.IsValid)
			require.Len(t, result.Errors, 1, "%+v", result.Errors)
			assert.Equal(t, tt.field, result.Errors[0].Field)
			assert.Equal(t, tt.code, result.Errors[0].Code)

			var cfgErr *reports.ConfigError
			assert.True(t, errors.As(v.Validate(def), &cfgErr))
		})
	}
}

func TestValidator_AcceptsUnregisteredExportFormats(t *testing.T) {
	def := validDefinition()
	def.Exports["word"] = reports.ExportSpec{Enabled: true}
	def.Exports["markdown"] = reports.ExportSpec{Enabled: false}

	result := NewValidator(expression.NewEngine()).ValidateDefinition(def)

	assert.True(t, result.IsValid, "%+v", result.Errors)
}
