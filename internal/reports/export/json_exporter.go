package export

import (
	"context"

	"carbon-scribe/report-engine/internal/reports"
)

// JSONExporter returns sections and metadata as one document with no
// further transformation. Other exporters must agree with it structurally.
type JSONExporter struct{}

// NewJSONExporter creates the JSON exporter
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

func (e *JSONExporter) FormatName() reports.ExportFormat { return reports.FormatJSON }

func (e *JSONExporter) ContentType() string { return GetContentType(string(reports.FormatJSON)) }

func (e *JSONExporter) Render(_ context.Context, sections []reports.SectionResult, meta reports.ResultMetadata) (*reports.RenderedResult, error) {
	if sections == nil {
		sections = []reports.SectionResult{}
	}
	return &reports.RenderedResult{
		Data:        reports.Document{Sections: sections, Metadata: meta},
		Format:      reports.FormatJSON,
		ContentType: e.ContentType(),
		GeneratedAt: meta.GeneratedAt,
		Metadata:    meta,
	}, nil
}
