package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"carbon-scribe/report-engine/internal/reports"
)

// PDFOptions configures PDF generation
type PDFOptions struct {
	PageSize       string             `json:"page_size"`   // A4, Letter, Legal
	Orientation    string             `json:"orientation"` // portrait, landscape
	Author         string             `json:"author,omitempty"`
	DateFormat     string             `json:"date_format"`
	IncludeHeader  bool               `json:"include_header"`
	IncludeFooter  bool               `json:"include_footer"`
	IncludePageNum bool               `json:"include_page_num"`
	IncludeDate    bool               `json:"include_date"`
	HeaderColor    PDFColor           `json:"header_color"`
	AlternateRows  bool               `json:"alternate_rows"`
	AlternateColor PDFColor           `json:"alternate_color"`
	FontFamily     string             `json:"font_family"`
	FontSize       float64            `json:"font_size"`
	HeaderFontSize float64            `json:"header_font_size"`
	TitleFontSize  float64            `json:"title_font_size"`
	Margins        PDFMargins         `json:"margins"`
	ColumnWidths   map[string]float64 `json:"column_widths,omitempty"`
	MaxSampleRows  int                `json:"max_sample_rows"`
}

// PDFColor represents an RGB color
type PDFColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// PDFMargins represents page margins
type PDFMargins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:       "A4",
		Orientation:    "portrait",
		DateFormat:     "2006-01-02",
		IncludeHeader:  true,
		IncludeFooter:  true,
		IncludePageNum: true,
		IncludeDate:    true,
		HeaderColor:    PDFColor{R: 68, G: 114, B: 196},
		AlternateRows:  true,
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		FontFamily:     "Arial",
		FontSize:       10,
		HeaderFontSize: 11,
		TitleFontSize:  16,
		MaxSampleRows:  100,
		Margins: PDFMargins{
			Left:   15,
			Right:  15,
			Top:    20,
			Bottom: 20,
		},
	}
}

// PDFExporter lays sections out one after another: metrics as a summary
// block, tables and charts as bordered tables
type PDFExporter struct {
	options PDFOptions
}

// NewPDFExporter creates a PDF exporter
func NewPDFExporter(options PDFOptions) *PDFExporter {
	return &PDFExporter{options: options}
}

func (e *PDFExporter) FormatName() reports.ExportFormat { return reports.FormatPDF }

func (e *PDFExporter) ContentType() string { return GetContentType(string(reports.FormatPDF)) }

func (e *PDFExporter) Render(ctx context.Context, sections []reports.SectionResult, meta reports.ResultMetadata) (*reports.RenderedResult, error) {
	doc := newPDFDocument(e.options)
	doc.pdf.SetTitle(meta.ReportName, true)
	if e.options.Author != "" {
		doc.pdf.SetAuthor(e.options.Author, true)
	}
	doc.pdf.SetCreationDate(meta.GeneratedAt)

	doc.pdf.AddPage()
	doc.addHeading(meta)

	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch s.Type {
		case reports.SectionMetrics:
			doc.addSummary(sectionTitle(s), s.Items)
		default:
			doc.addTable(sectionTitle(s), tabulate(s))
		}
	}

	if err := doc.pdf.Error(); err != nil {
		return nil, &reports.RenderError{Format: string(reports.FormatPDF), Err: err}
	}

	var buf bytes.Buffer
	if err := doc.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return fileResult(reports.FormatPDF, buf.Bytes(), meta), nil
}

// pdfDocument wraps one gofpdf document for the duration of a render
type pdfDocument struct {
	pdf     *gofpdf.Fpdf
	tr      func(string) string
	options PDFOptions
}

func newPDFDocument(options PDFOptions) *pdfDocument {
	orientation := "P"
	if options.Orientation == "landscape" {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", options.PageSize, "")
	pdf.SetMargins(options.Margins.Left, options.Margins.Top, options.Margins.Right)
	pdf.SetAutoPageBreak(true, options.Margins.Bottom)

	d := &pdfDocument{
		pdf:     pdf,
		tr:      pdf.UnicodeTranslatorFromDescriptor(""),
		options: options,
	}
	if options.IncludeFooter {
		d.setFooter()
	}
	return d
}

// addHeading writes the report name, its code and the generation date
func (d *pdfDocument) addHeading(meta reports.ResultMetadata) {
	d.pdf.SetFont(d.options.FontFamily, "B", d.options.TitleFontSize)
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.CellFormat(0, 10, d.tr(meta.ReportName), "", 1, "C", false, 0, "")

	if meta.ReportCode != "" {
		d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize+2)
		d.pdf.SetTextColor(100, 100, 100)
		d.pdf.CellFormat(0, 8, d.tr(meta.ReportCode), "", 1, "C", false, 0, "")
	}

	if d.options.IncludeDate {
		d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize-1)
		d.pdf.SetTextColor(128, 128, 128)
		dateStr := fmt.Sprintf("Generated: %s", meta.GeneratedAt.Format(d.options.DateFormat+" 15:04:05"))
		d.pdf.CellFormat(0, 6, dateStr, "", 1, "R", false, 0, "")
	}
	d.pdf.Ln(5)
}

func (d *pdfDocument) addSectionTitle(title string) {
	d.pdf.Ln(5)
	d.pdf.SetFont(d.options.FontFamily, "B", d.options.FontSize+2)
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.CellFormat(0, 8, d.tr(title), "", 1, "L", false, 0, "")
	d.pdf.Ln(2)
}

// addSummary writes metric items in declaration order
func (d *pdfDocument) addSummary(title string, items []reports.MetricValue) {
	d.addSectionTitle(title)
	for _, item := range items {
		d.pdf.SetFont(d.options.FontFamily, "B", d.options.FontSize)
		d.pdf.CellFormat(60, 6, d.tr(item.Label+":"), "", 0, "L", false, 0, "")
		d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize)
		d.pdf.CellFormat(0, 6, d.tr(d.formatValue(item.Value)), "", 1, "L", false, 0, "")
	}
}

func (d *pdfDocument) addTable(title string, t table) {
	d.addSectionTitle(title)
	if len(t.fields) == 0 {
		d.pdf.SetFont(d.options.FontFamily, "I", d.options.FontSize)
		d.pdf.SetTextColor(128, 128, 128)
		d.pdf.CellFormat(0, 6, "No data", "", 1, "L", false, 0, "")
		d.pdf.SetTextColor(0, 0, 0)
		return
	}

	widths := d.calculateColumnWidths(t)
	if d.options.IncludeHeader {
		d.addTableHeader(t.labels, widths)
	}
	d.addTableData(t, widths)
}

// calculateColumnWidths sizes columns to their content, scaled to the page
func (d *pdfDocument) calculateColumnWidths(t table) []float64 {
	pageWidth, _ := d.pdf.GetPageSize()
	availableWidth := pageWidth - d.options.Margins.Left - d.options.Margins.Right

	if len(d.options.ColumnWidths) > 0 {
		widths := make([]float64, len(t.fields))
		totalCustom := 0.0
		customCount := 0
		for i, col := range t.fields {
			if w, ok := d.options.ColumnWidths[col]; ok {
				widths[i] = w
				totalCustom += w
				customCount++
			}
		}
		if customCount < len(t.fields) {
			defaultWidth := (availableWidth - totalCustom) / float64(len(t.fields)-customCount)
			for i := range widths {
				if widths[i] == 0 {
					widths[i] = defaultWidth
				}
			}
		}
		return widths
	}

	maxWidths := make([]float64, len(t.fields))

	d.pdf.SetFont(d.options.FontFamily, "B", d.options.HeaderFontSize)
	for i, label := range t.labels {
		maxWidths[i] = max(maxWidths[i], d.pdf.GetStringWidth(d.tr(label))+4)
	}

	d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize)
	sample := t.rows
	if d.options.MaxSampleRows > 0 && len(sample) > d.options.MaxSampleRows {
		sample = sample[:d.options.MaxSampleRows]
	}
	for _, row := range sample {
		for i, col := range t.fields {
			maxWidths[i] = max(maxWidths[i], d.pdf.GetStringWidth(d.tr(d.formatValue(row[col])))+4)
		}
	}

	totalWidth := 0.0
	for _, w := range maxWidths {
		totalWidth += w
	}
	if totalWidth > availableWidth {
		scale := availableWidth / totalWidth
		for i := range maxWidths {
			maxWidths[i] *= scale
		}
	}
	return maxWidths
}

func (d *pdfDocument) addTableHeader(labels []string, widths []float64) {
	d.pdf.SetFont(d.options.FontFamily, "B", d.options.HeaderFontSize)
	d.pdf.SetFillColor(d.options.HeaderColor.R, d.options.HeaderColor.G, d.options.HeaderColor.B)
	d.pdf.SetTextColor(255, 255, 255)

	for i, label := range labels {
		d.pdf.CellFormat(widths[i], 8, d.fit(label, widths[i]), "1", 0, "C", true, 0, "")
	}
	d.pdf.Ln(-1)
	d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize)
	d.pdf.SetTextColor(0, 0, 0)
}

func (d *pdfDocument) addTableData(t table, widths []float64) {
	d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize)
	d.pdf.SetTextColor(0, 0, 0)
	_, pageHeight := d.pdf.GetPageSize()

	for i, row := range t.rows {
		if d.options.AlternateRows && i%2 == 1 {
			d.pdf.SetFillColor(d.options.AlternateColor.R, d.options.AlternateColor.G, d.options.AlternateColor.B)
		} else {
			d.pdf.SetFillColor(255, 255, 255)
		}

		if d.pdf.GetY()+8 > pageHeight-d.options.Margins.Bottom {
			d.pdf.AddPage()
			if d.options.IncludeHeader {
				d.addTableHeader(t.labels, widths)
				if d.options.AlternateRows && i%2 == 1 {
					d.pdf.SetFillColor(d.options.AlternateColor.R, d.options.AlternateColor.G, d.options.AlternateColor.B)
				} else {
					d.pdf.SetFillColor(255, 255, 255)
				}
			}
		}

		for j, col := range t.fields {
			d.pdf.CellFormat(widths[j], 7, d.fit(d.formatValue(row[col]), widths[j]), "1", 0, "L", true, 0, "")
		}
		d.pdf.Ln(-1)
	}
}

// fit truncates text with an ellipsis so it fits within width
func (d *pdfDocument) fit(text string, width float64) string {
	text = d.tr(text)
	if d.pdf.GetStringWidth(text) <= width-2 {
		return text
	}
	for len(text) > 0 && d.pdf.GetStringWidth(text+"...") > width-2 {
		text = text[:len(text)-1]
	}
	return text + "..."
}

func (d *pdfDocument) formatValue(val any) string {
	if val == nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(d.options.DateFormat)
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		return v.Format(d.options.DateFormat)
	case float64:
		return fmt.Sprintf("%.2f", v)
	case float32:
		return fmt.Sprintf("%.2f", v)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = d.formatValue(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (d *pdfDocument) setFooter() {
	d.pdf.SetFooterFunc(func() {
		if !d.options.IncludePageNum {
			return
		}
		d.pdf.SetY(-15)
		d.pdf.SetFont(d.options.FontFamily, "", 8)
		d.pdf.SetTextColor(128, 128, 128)
		d.pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", d.pdf.PageNo()), "", 0, "C", false, 0, "")
		d.pdf.SetTextColor(0, 0, 0)
	})
}
