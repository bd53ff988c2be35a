package export

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"carbon-scribe/report-engine/internal/reports"
)

func sampleMeta() reports.ResultMetadata {
	return reports.ResultMetadata{
		ReportCode:  "sales_summary",
		ReportName:  "Sales Summary",
		GeneratedAt: time.Date(2025, time.March, 12, 9, 30, 0, 0, time.UTC),
		Parameters:  map[string]any{"year": int64(2025)},
	}
}

func sampleSections() []reports.SectionResult {
	return []reports.SectionResult{
		{ID: "kpi", Title: "KPIs", Type: reports.SectionMetrics, Items: []reports.MetricValue{
			{Label: "Total", Value: int64(42)},
			{Label: "Region", Value: "north"},
		}},
		{ID: "orders", Title: "Orders", Type: reports.SectionTable,
			Columns: []reports.ColumnSpec{{Field: "id", Label: "ID"}, {Field: "amount", Label: "Amount"}},
			Data: []any{
				map[string]any{"id": int64(1), "amount": 9.5},
				map[string]any{"id": int64(2)},
			}},
		{ID: "by_status", Type: reports.SectionChart, ChartType: "bar", Data: []any{
			map[string]any{"label": "open", "value": int64(3)},
		}},
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"csv", "excel", "json", "pdf"}, r.Formats())

	for _, format := range []reports.ExportFormat{reports.FormatJSON, reports.FormatCSV, reports.FormatExcel, reports.FormatPDF} {
		e, ok := r.Get(format)
		require.True(t, ok, format)
		assert.Equal(t, format, e.FormatName())
		assert.Equal(t, GetContentType(string(format)), e.ContentType())
	}

	_, ok := r.Get("xml")
	assert.False(t, ok)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewJSONExporter()))

	err := r.Register(NewJSONExporter())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Error(t, r.Register(nil))
}

func TestFileName(t *testing.T) {
	at := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "sales_20250102_030405.xlsx", FileName("sales", reports.FormatExcel, at))
	assert.Equal(t, "report_20250102_030405.csv", FileName("", reports.FormatCSV, at))
}

func TestTabulate(t *testing.T) {
	sections := sampleSections()

	metrics := tabulate(sections[0])
	assert.Equal(t, []string{"Metric", "Value"}, metrics.labels)
	assert.Equal(t, "Total", metrics.rows[0]["label"])

	declared := tabulate(sections[1])
	assert.Equal(t, []string{"id", "amount"}, declared.fields)
	assert.Equal(t, []string{"ID", "Amount"}, declared.labels)

	inferred := tabulate(sections[2])
	assert.Equal(t, []string{"label", "value"}, inferred.fields)
}

func TestJSONExporter(t *testing.T) {
	meta := sampleMeta()
	sections := sampleSections()

	result, err := NewJSONExporter().Render(context.Background(), sections, meta)
	require.NoError(t, err)

	assert.False(t, result.IsFile())
	assert.Equal(t, reports.FormatJSON, result.Format)
	assert.Equal(t, "application/json", result.ContentType)
	assert.Equal(t, reports.Document{Sections: sections, Metadata: meta}, result.Data)

	empty, err := NewJSONExporter().Render(context.Background(), nil, meta)
	require.NoError(t, err)
	assert.Equal(t, []reports.SectionResult{}, empty.Data.(reports.Document).Sections)
}

func TestCSVExporter(t *testing.T) {
	result, err := NewCSVExporter(DefaultCSVOptions()).Render(context.Background(), sampleSections(), sampleMeta())
	require.NoError(t, err)

	want := strings.Join([]string{
		"KPIs",
		"Metric,Value",
		"Total,42",
		"Region,north",
		"",
		"Orders",
		"ID,Amount",
		"1,9.5",
		"2,",
		"",
		"by_status",
		"label,value",
		"open,3",
		"",
	}, "\n")
	assert.Equal(t, want, string(result.Content))
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "sales_summary_20250312_093000.csv", result.FileName)
}

func TestCSVExporter_NoTitles(t *testing.T) {
	opts := DefaultCSVOptions()
	opts.SectionTitles = false
	opts.Delimiter = ';'

	result, err := NewCSVExporter(opts).Render(context.Background(), sampleSections()[:1], sampleMeta())
	require.NoError(t, err)
	assert.Equal(t, "Metric;Value\nTotal;42\nRegion;north\n", string(result.Content))
}

func TestExcelExporter(t *testing.T) {
	sections := sampleSections()
	sections = append(sections, reports.SectionResult{ID: "dup", Title: "Orders", Type: reports.SectionTable})

	result, err := NewExcelExporter(DefaultExcelOptions()).Render(context.Background(), sections, sampleMeta())
	require.NoError(t, err)
	require.True(t, result.IsFile())
	assert.Equal(t, "sales_summary_20250312_093000.xlsx", result.FileName)

	f, err := excelize.OpenReader(bytes.NewReader(result.Content))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"KPIs", "Orders", "by_status", "Orders (2)"}, f.GetSheetList())

	v, err := f.GetCellValue("KPIs", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Total", v)

	v, err = f.GetCellValue("Orders", "B1")
	require.NoError(t, err)
	assert.Equal(t, "Amount", v)

	v, err = f.GetCellValue("Orders", "A3")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestUniqueSheetName(t *testing.T) {
	used := map[string]bool{}

	assert.Equal(t, "Q1_Q2_ _draft_", uniqueSheetName("Q1/Q2: [draft]", used))
	assert.Equal(t, "Q1_Q2_ _draft_ (2)", uniqueSheetName("Q1/Q2: [draft]", used))
	assert.Equal(t, "Section", uniqueSheetName("", used))

	long := uniqueSheetName(strings.Repeat("x", 40), used)
	assert.Len(t, long, maxSheetName)
	again := uniqueSheetName(strings.Repeat("x", 40), used)
	assert.Len(t, again, maxSheetName)
	assert.True(t, strings.HasSuffix(again, " (2)"))
}

func TestPDFExporter(t *testing.T) {
	result, err := NewPDFExporter(DefaultPDFOptions()).Render(context.Background(), sampleSections(), sampleMeta())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(result.Content, []byte("%PDF")))
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.Equal(t, "sales_summary_20250312_093000.pdf", result.FileName)
}

func TestPDFExporter_ManyRowsPaginate(t *testing.T) {
	rows := make([]any, 200)
	for i := range rows {
		rows[i] = map[string]any{"n": int64(i), "note": strings.Repeat("long text ", 10)}
	}
	sections := []reports.SectionResult{{ID: "big", Type: reports.SectionTable, Data: rows}}

	result, err := NewPDFExporter(DefaultPDFOptions()).Render(context.Background(), sections, sampleMeta())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(result.Content, []byte("%PDF")))
}

func TestExporters_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, e := range []Exporter{
		NewCSVExporter(DefaultCSVOptions()),
		NewExcelExporter(DefaultExcelOptions()),
		NewPDFExporter(DefaultPDFOptions()),
	} {
		_, err := e.Render(ctx, sampleSections(), sampleMeta())
		assert.ErrorIs(t, err, context.Canceled, e.FormatName())
	}
}
