// Package export renders section results into output formats
package export

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carbon-scribe/report-engine/internal/reports"
)

// Exporter renders a report's sections into one output format
type Exporter interface {
	Render(ctx context.Context, sections []reports.SectionResult, meta reports.ResultMetadata) (*reports.RenderedResult, error)
	FormatName() reports.ExportFormat
	ContentType() string
}

// Registry maps format names to exporters
type Registry struct {
	mu        sync.RWMutex
	exporters map[reports.ExportFormat]Exporter
}

// NewRegistry creates an empty exporter registry
func NewRegistry() *Registry {
	return &Registry{exporters: make(map[reports.ExportFormat]Exporter)}
}

// DefaultRegistry returns a registry holding the JSON, CSV, Excel and PDF exporters
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, e := range []Exporter{
		NewJSONExporter(),
		NewCSVExporter(DefaultCSVOptions()),
		NewExcelExporter(DefaultExcelOptions()),
		NewPDFExporter(DefaultPDFOptions()),
	} {
		_ = r.Register(e)
	}
	return r
}

// Register adds e under its format name
func (r *Registry) Register(e Exporter) error {
	if e == nil {
		return fmt.Errorf("exporter cannot be nil")
	}
	format := e.FormatName()
	if format == "" {
		return fmt.Errorf("exporter format cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.exporters[format]; exists {
		return fmt.Errorf("format %q is already registered", format)
	}
	r.exporters[format] = e
	return nil
}

// Get returns the exporter for format
func (r *Registry) Get(format reports.ExportFormat) (Exporter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exporters[format]
	return e, ok
}

// Formats lists the registered formats
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]string, 0, len(r.exporters))
	for f := range r.exporters {
		formats = append(formats, string(f))
	}
	sort.Strings(formats)
	return formats
}

// GetContentType returns the MIME type for a report format
func GetContentType(format string) string {
	switch format {
	case "csv":
		return "text/csv"
	case "excel":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		return "application/pdf"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// GetFileExtension returns the file extension for a report format
func GetFileExtension(format string) string {
	switch format {
	case "csv":
		return ".csv"
	case "excel":
		return ".xlsx"
	case "pdf":
		return ".pdf"
	case "json":
		return ".json"
	default:
		return ""
	}
}

// FileName builds <code>_<timestamp><ext> for a rendered file
func FileName(code string, format reports.ExportFormat, at time.Time) string {
	if code == "" {
		code = "report"
	}
	return fmt.Sprintf("%s_%s%s", code, at.UTC().Format("20060102_150405"), GetFileExtension(string(format)))
}

// fileResult wraps rendered bytes
func fileResult(format reports.ExportFormat, content []byte, meta reports.ResultMetadata) *reports.RenderedResult {
	return &reports.RenderedResult{
		Content:     content,
		Format:      format,
		ContentType: GetContentType(string(format)),
		GeneratedAt: meta.GeneratedAt,
		FileName:    FileName(meta.ReportCode, format, meta.GeneratedAt),
		Metadata:    meta,
	}
}

// table is a section flattened to ordered columns and row maps
type table struct {
	fields []string
	labels []string
	rows   []map[string]any
}

// tabulate flattens a section. Metrics become label/value rows; tables use
// their declared columns or, when none are declared, the sorted union of
// row keys.
func tabulate(s reports.SectionResult) table {
	if s.Type == reports.SectionMetrics {
		rows := make([]map[string]any, len(s.Items))
		for i, item := range s.Items {
			rows[i] = map[string]any{"label": item.Label, "value": item.Value}
		}
		return table{fields: []string{"label", "value"}, labels: []string{"Metric", "Value"}, rows: rows}
	}

	rows := s.Rows()
	if len(s.Columns) > 0 {
		t := table{rows: rows}
		for _, c := range s.Columns {
			t.fields = append(t.fields, c.Field)
			label := c.Label
			if label == "" {
				label = c.Field
			}
			t.labels = append(t.labels, label)
		}
		return t
	}

	seen := make(map[string]bool)
	var fields []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields)
	return table{fields: fields, labels: fields, rows: rows}
}

func sectionTitle(s reports.SectionResult) string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}
