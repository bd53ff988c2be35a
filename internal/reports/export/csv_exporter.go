package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"carbon-scribe/report-engine/internal/reports"
)

// CSVOptions configures CSV export behavior
type CSVOptions struct {
	Delimiter       rune   `json:"delimiter"`        // Field delimiter (default: comma)
	UseCRLF         bool   `json:"use_crlf"`         // Use \r\n for line terminator
	IncludeHeader   bool   `json:"include_header"`   // Include column headers
	SectionTitles   bool   `json:"section_titles"`   // Write a title row before each section
	DateFormat      string `json:"date_format"`      // Format for date fields
	TimestampFormat string `json:"timestamp_format"` // Format for timestamp fields
	NumberFormat    string `json:"number_format"`    // Format for floats (e.g., "%.2f")
	NullValue       string `json:"null_value"`
	BoolTrueValue   string `json:"bool_true_value"`
	BoolFalseValue  string `json:"bool_false_value"`
}

// DefaultCSVOptions returns default CSV export options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:       ',',
		IncludeHeader:   true,
		SectionTitles:   true,
		DateFormat:      "2006-01-02",
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		BoolTrueValue:   "true",
		BoolFalseValue:  "false",
	}
}

// CSVExporter writes every section as a block of rows, separated by an
// empty line
type CSVExporter struct {
	options CSVOptions
}

// NewCSVExporter creates a CSV exporter
func NewCSVExporter(options CSVOptions) *CSVExporter {
	if options.Delimiter == 0 {
		options.Delimiter = ','
	}
	return &CSVExporter{options: options}
}

func (e *CSVExporter) FormatName() reports.ExportFormat { return reports.FormatCSV }

func (e *CSVExporter) ContentType() string { return GetContentType(string(reports.FormatCSV)) }

func (e *CSVExporter) Render(ctx context.Context, sections []reports.SectionResult, meta reports.ResultMetadata) (*reports.RenderedResult, error) {
	var buf bytes.Buffer
	w := newCSVWriter(&buf, e.options)

	for i, s := range sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := w.writeRecord(nil); err != nil {
				return nil, err
			}
		}
		if e.options.SectionTitles {
			if err := w.writeRecord([]string{sectionTitle(s)}); err != nil {
				return nil, err
			}
		}

		t := tabulate(s)
		if e.options.IncludeHeader {
			if err := w.writeRecord(t.labels); err != nil {
				return nil, fmt.Errorf("failed to write header: %w", err)
			}
		}
		if err := w.writeMapRows(t.rows, t.fields); err != nil {
			return nil, err
		}
	}

	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return fileResult(reports.FormatCSV, buf.Bytes(), meta), nil
}

// csvWriter formats values and writes records
type csvWriter struct {
	writer  *csv.Writer
	options CSVOptions
}

func newCSVWriter(w io.Writer, options CSVOptions) *csvWriter {
	writer := csv.NewWriter(w)
	writer.Comma = options.Delimiter
	writer.UseCRLF = options.UseCRLF
	return &csvWriter{writer: writer, options: options}
}

func (w *csvWriter) writeRecord(record []string) error {
	if record == nil {
		record = []string{}
	}
	return w.writer.Write(record)
}

// writeMapRows writes rows in column order; missing keys become NullValue
func (w *csvWriter) writeMapRows(rows []map[string]any, columns []string) error {
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			val, ok := row[col]
			if !ok {
				record[i] = w.options.NullValue
			} else {
				record[i] = w.formatValue(val)
			}
		}
		if err := w.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}

func (w *csvWriter) flush() error {
	w.writer.Flush()
	return w.writer.Error()
}

// formatValue formats a value for CSV output
func (w *csvWriter) formatValue(val any) string {
	if val == nil {
		return w.options.NullValue
	}

	switch v := val.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		if w.options.NumberFormat != "" {
			return fmt.Sprintf(w.options.NumberFormat, v)
		}
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		if w.options.NumberFormat != "" {
			return fmt.Sprintf(w.options.NumberFormat, v)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return w.options.BoolTrueValue
		}
		return w.options.BoolFalseValue
	case time.Time:
		return w.formatTime(v)
	case *time.Time:
		if v == nil {
			return w.options.NullValue
		}
		return w.formatTime(*v)
	case []byte:
		return string(v)
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatTime uses the timestamp format only when a time component is set
func (w *csvWriter) formatTime(t time.Time) string {
	if t.IsZero() {
		return w.options.NullValue
	}
	if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 {
		return t.Format(w.options.TimestampFormat)
	}
	return t.Format(w.options.DateFormat)
}
