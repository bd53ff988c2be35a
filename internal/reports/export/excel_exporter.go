package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"carbon-scribe/report-engine/internal/reports"
)

const maxSheetName = 31

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	IncludeHeader bool               `json:"include_header"`
	FreezeHeader  bool               `json:"freeze_header"`
	AutoFilter    bool               `json:"auto_filter"`
	NumberFormat  string             `json:"number_format"`
	HeaderStyle   *ExcelStyleConfig  `json:"header_style,omitempty"`
	DataStyle     *ExcelStyleConfig  `json:"data_style,omitempty"`
	ColumnWidths  map[string]float64 `json:"column_widths,omitempty"`
	AutoWidth     bool               `json:"auto_width"`
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool   `json:"font_bold"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	FillColor string `json:"fill_color"`
	Alignment string `json:"alignment"` // left, center, right
	Border    bool   `json:"border"`
	WrapText  bool   `json:"wrap_text"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		IncludeHeader: true,
		FreezeHeader:  true,
		AutoFilter:    true,
		NumberFormat:  "#,##0.00",
		AutoWidth:     true,
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "4472C4",
			FontColor: "FFFFFF",
			Alignment: "center",
			Border:    true,
		},
		DataStyle: &ExcelStyleConfig{
			FontSize:  11,
			Alignment: "left",
			Border:    true,
		},
	}
}

// ExcelExporter writes a workbook with one sheet per section
type ExcelExporter struct {
	options ExcelOptions
}

// NewExcelExporter creates an Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	return &ExcelExporter{options: options}
}

func (e *ExcelExporter) FormatName() reports.ExportFormat { return reports.FormatExcel }

func (e *ExcelExporter) ContentType() string { return GetContentType(string(reports.FormatExcel)) }

func (e *ExcelExporter) Render(ctx context.Context, sections []reports.SectionResult, meta reports.ResultMetadata) (*reports.RenderedResult, error) {
	file := excelize.NewFile()
	defer file.Close()

	wb := &workbook{file: file, options: e.options}
	if err := wb.initStyles(); err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	for i, s := range sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := uniqueSheetName(sectionTitle(s), used)
		if i == 0 {
			if err := file.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := file.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet: %w", err)
		}

		t := tabulate(s)
		if err := wb.writeHeader(name, t.labels); err != nil {
			return nil, err
		}
		if err := wb.writeRows(name, t); err != nil {
			return nil, err
		}
	}

	if len(sections) == 0 {
		if err := file.SetCellValue("Sheet1", "A1", meta.ReportName); err != nil {
			return nil, err
		}
	}
	file.SetActiveSheet(0)

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return fileResult(reports.FormatExcel, buf.Bytes(), meta), nil
}

// uniqueSheetName strips characters Excel rejects and truncates to 31 runes
func uniqueSheetName(title string, used map[string]bool) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, title)
	if clean == "" {
		clean = "Section"
	}
	base := truncateRunes(clean, maxSheetName)

	name := base
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		name = truncateRunes(base, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// workbook holds the styles shared by every sheet
type workbook struct {
	file        *excelize.File
	options     ExcelOptions
	headerStyle int
	dataStyle   int
	numberStyle int
	dateStyle   int
}

func (w *workbook) initStyles() error {
	var err error
	if w.options.HeaderStyle != nil {
		if w.headerStyle, err = w.createStyle(w.options.HeaderStyle, nil); err != nil {
			return fmt.Errorf("failed to create header style: %w", err)
		}
	}
	if w.options.DataStyle != nil {
		if w.dataStyle, err = w.createStyle(w.options.DataStyle, nil); err != nil {
			return fmt.Errorf("failed to create data style: %w", err)
		}
	}
	if w.options.NumberFormat != "" {
		numFmt := w.options.NumberFormat
		if w.numberStyle, err = w.createStyle(w.options.DataStyle, func(s *excelize.Style) { s.CustomNumFmt = &numFmt }); err != nil {
			return fmt.Errorf("failed to create number style: %w", err)
		}
	}
	if w.dateStyle, err = w.createStyle(w.options.DataStyle, func(s *excelize.Style) { s.NumFmt = 14 }); err != nil {
		return fmt.Errorf("failed to create date style: %w", err)
	}
	return nil
}

func (w *workbook) writeHeader(sheet string, labels []string) error {
	if !w.options.IncludeHeader {
		return nil
	}
	for i, label := range labels {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := w.file.SetCellValue(sheet, cell, label); err != nil {
			return err
		}
		if w.headerStyle > 0 {
			w.file.SetCellStyle(sheet, cell, cell, w.headerStyle)
		}
	}

	if w.options.FreezeHeader && len(labels) > 0 {
		w.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

func (w *workbook) writeRows(sheet string, t table) error {
	startRow := 1
	if w.options.IncludeHeader {
		startRow = 2
	}

	columnWidths := make(map[int]float64)
	for i, label := range t.labels {
		columnWidths[i] = estimateCellWidth(label)
	}

	for rowIdx, row := range t.rows {
		rowNum := startRow + rowIdx
		for colIdx, field := range t.fields {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowNum)
			val := row[field]
			if err := w.setCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
			if width := estimateCellWidth(val); width > columnWidths[colIdx] {
				columnWidths[colIdx] = width
			}
		}
	}

	if w.options.AutoFilter && w.options.IncludeHeader && len(t.rows) > 0 && len(t.fields) > 0 {
		lastCell, _ := excelize.CoordinatesToCellName(len(t.fields), len(t.rows)+1)
		w.file.AutoFilter(sheet, "A1:"+lastCell, nil)
	}

	for colIdx := range t.fields {
		colName, _ := excelize.ColumnNumberToName(colIdx + 1)
		if width, ok := w.options.ColumnWidths[t.fields[colIdx]]; ok {
			w.file.SetColWidth(sheet, colName, colName, width)
			continue
		}
		if w.options.AutoWidth {
			width := min(max(columnWidths[colIdx], 10), 50)
			w.file.SetColWidth(sheet, colName, colName, width)
		}
	}
	return nil
}

// createStyle creates an Excel style from config; tweak adjusts it further
func (w *workbook) createStyle(config *ExcelStyleConfig, tweak func(*excelize.Style)) (int, error) {
	style := &excelize.Style{}

	if config != nil {
		style.Font = &excelize.Font{
			Bold:  config.FontBold,
			Size:  float64(config.FontSize),
			Color: config.FontColor,
		}
		if config.FillColor != "" {
			style.Fill = excelize.Fill{
				Type:    "pattern",
				Pattern: 1,
				Color:   []string{config.FillColor},
			}
		}
		if config.Alignment != "" || config.WrapText {
			style.Alignment = &excelize.Alignment{
				Horizontal: config.Alignment,
				WrapText:   config.WrapText,
			}
		}
		if config.Border {
			style.Border = []excelize.Border{
				{Type: "left", Color: "000000", Style: 1},
				{Type: "right", Color: "000000", Style: 1},
				{Type: "top", Color: "000000", Style: 1},
				{Type: "bottom", Color: "000000", Style: 1},
			}
		}
	}
	if tweak != nil {
		tweak(style)
	}
	return w.file.NewStyle(style)
}

// setCellValue sets a cell value with the style matching its type
func (w *workbook) setCellValue(sheet, cell string, val any) error {
	style := w.dataStyle

	switch v := val.(type) {
	case nil:
		val = ""
	case time.Time:
		if v.IsZero() {
			val = ""
		} else {
			style = w.dateStyle
		}
	case *time.Time:
		if v == nil || v.IsZero() {
			val = ""
		} else {
			val = *v
			style = w.dateStyle
		}
	case float32, float64:
		if w.numberStyle > 0 {
			style = w.numberStyle
		}
	case map[string]any, []any:
		val = fmt.Sprintf("%v", v)
	}

	if err := w.file.SetCellValue(sheet, cell, val); err != nil {
		return err
	}
	if style > 0 {
		return w.file.SetCellStyle(sheet, cell, cell, style)
	}
	return nil
}

// estimateCellWidth estimates the display width of a cell value
func estimateCellWidth(val any) float64 {
	if val == nil {
		return 0
	}
	return float64(len(fmt.Sprintf("%v", val))) * 1.2
}
