package reports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ParameterType enumerates the declared types of report parameters
type ParameterType string

const (
	ParamInteger ParameterType = "integer"
	ParamFloat   ParameterType = "float"
	ParamBoolean ParameterType = "boolean"
	ParamDate    ParameterType = "date"
	ParamString  ParameterType = "string"
	ParamList    ParameterType = "list"
)

// DataSourceType enumerates the supported data source kinds
type DataSourceType string

const (
	SourceQuery     DataSourceType = "query"
	SourceService   DataSourceType = "service"
	SourceAggregate DataSourceType = "aggregate"
)

// SectionType enumerates the supported section kinds
type SectionType string

const (
	SectionMetrics SectionType = "metrics"
	SectionTable   SectionType = "table"
	SectionChart   SectionType = "chart"
)

// ExportFormat represents a registered output format name
type ExportFormat string

const (
	FormatJSON  ExportFormat = "json"
	FormatCSV   ExportFormat = "csv"
	FormatExcel ExportFormat = "excel"
	FormatPDF   ExportFormat = "pdf"
)

// =====================================================
// Report Definition
// =====================================================

// ReportDefinition is a declarative report loaded from a definition source
type ReportDefinition struct {
	Meta        ReportMeta            `json:"meta" yaml:"meta"`
	Permissions PermissionSpec        `json:"permissions" yaml:"permissions"`
	Parameters  []ParameterSpec       `json:"parameters" yaml:"parameters"`
	Cache       CacheSpec             `json:"cache" yaml:"cache"`
	DataSources DataSources           `json:"data_sources" yaml:"data_sources"`
	Sections    []SectionSpec         `json:"sections" yaml:"sections"`
	Exports     map[string]ExportSpec `json:"exports,omitempty" yaml:"exports,omitempty"`
}

// ReportMeta identifies a report
type ReportMeta struct {
	Code        string `json:"code" yaml:"code"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
}

// PermissionSpec lists the roles allowed to run a report.
// DataScope is informational only.
type PermissionSpec struct {
	Roles     []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	DataScope string   `json:"data_scope,omitempty" yaml:"data_scope,omitempty"`
}

// ParameterSpec declares one caller-supplied parameter
type ParameterSpec struct {
	Name        string        `json:"name" yaml:"name"`
	Type        ParameterType `json:"type" yaml:"type"`
	Required    bool          `json:"required" yaml:"required"`
	Default     any           `json:"default,omitempty" yaml:"default,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// CacheSpec configures result caching for a report
type CacheSpec struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
	KeyPattern string `json:"key_pattern,omitempty" yaml:"key_pattern,omitempty"`
}

// TTL returns the cache lifetime as a duration
func (c CacheSpec) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DataSourceSpec declares how one named piece of data is fetched
type DataSourceSpec struct {
	Type   DataSourceType `json:"type" yaml:"type"`
	SQL    string         `json:"sql,omitempty" yaml:"sql,omitempty"`
	Method string         `json:"method,omitempty" yaml:"method,omitempty"`
	Expr   string         `json:"expr,omitempty" yaml:"expr,omitempty"`
	Args   map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// NamedDataSource pairs a data source with its declared name
type NamedDataSource struct {
	Name string
	Spec DataSourceSpec
}

// DataSources is an ordered mapping of data source names to specs.
// Declaration order is preserved from both YAML and JSON documents.
type DataSources []NamedDataSource

// Get returns the spec declared under name
func (d DataSources) Get(name string) (DataSourceSpec, bool) {
	for _, s := range d {
		if s.Name == name {
			return s.Spec, true
		}
	}
	return DataSourceSpec{}, false
}

// Names returns the declared names in order
func (d DataSources) Names() []string {
	names := make([]string, len(d))
	for i, s := range d {
		names[i] = s.Name
	}
	return names
}

// UnmarshalYAML decodes a mapping node keeping key order
func (d *DataSources) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data_sources must be a mapping, got %v", node.Tag)
	}
	out := make(DataSources, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var spec DataSourceSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("failed to decode data source %q: %w", node.Content[i].Value, err)
		}
		out = append(out, NamedDataSource{Name: node.Content[i].Value, Spec: spec})
	}
	*d = out
	return nil
}

// MarshalYAML encodes the sources as an ordered mapping
func (d DataSources) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range d {
		var value yaml.Node
		if err := value.Encode(s.Spec); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: s.Name}, &value)
	}
	return node, nil
}

// UnmarshalJSON decodes an object keeping key order
func (d *DataSources) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("data_sources must be an object")
	}
	out := DataSources{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		var spec DataSourceSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("failed to decode data source %q: %w", name, err)
		}
		out = append(out, NamedDataSource{Name: name, Spec: spec})
	}
	*d = out
	return nil
}

// MarshalJSON encodes the sources as an ordered object
func (d DataSources) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(s.Spec)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SectionSpec declares one output section
type SectionSpec struct {
	ID        string           `json:"id" yaml:"id"`
	Title     string           `json:"title,omitempty" yaml:"title,omitempty"`
	Type      SectionType      `json:"type" yaml:"type"`
	Items     []MetricItemSpec `json:"items,omitempty" yaml:"items,omitempty"`
	Source    string           `json:"source,omitempty" yaml:"source,omitempty"`
	Columns   []ColumnSpec     `json:"columns,omitempty" yaml:"columns,omitempty"`
	ChartType string           `json:"chart_type,omitempty" yaml:"chart_type,omitempty"`
}

// MetricItemSpec is a labelled value template in a metrics section
type MetricItemSpec struct {
	Label string `json:"label" yaml:"label"`
	Value any    `json:"value" yaml:"value"`
}

// ColumnSpec describes a table column
type ColumnSpec struct {
	Field  string `json:"field" yaml:"field"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ExportSpec toggles an output format for a report
type ExportSpec struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// =====================================================
// Principal
// =====================================================

// Principal is the identity requesting a report
type Principal struct {
	ID          string      `json:"id,omitempty"`
	Username    string      `json:"username,omitempty"`
	IsSuperuser bool        `json:"is_superuser"`
	Roles       []RoleGrant `json:"roles,omitempty"`
}

// RoleGrant carries a role code either directly or nested under Role
type RoleGrant struct {
	Code string   `json:"code,omitempty"`
	Role *RoleRef `json:"role,omitempty"`
}

// RoleRef is the nested role form
type RoleRef struct {
	Code string `json:"code"`
}

// RoleCode returns the effective role code of the grant
func (g RoleGrant) RoleCode() string {
	if g.Code != "" {
		return g.Code
	}
	if g.Role != nil {
		return g.Role.Code
	}
	return ""
}

// RoleCodes returns the principal's effective role codes
func (p *Principal) RoleCodes() []string {
	if p == nil {
		return nil
	}
	codes := make([]string, 0, len(p.Roles))
	for _, g := range p.Roles {
		if code := g.RoleCode(); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// SystemPrincipal is used for scheduled and CLI generations
func SystemPrincipal() *Principal {
	return &Principal{ID: "system", Username: "system", IsSuperuser: true}
}

// =====================================================
// Results
// =====================================================

// MetricValue is one evaluated metrics item
type MetricValue struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// SectionResult is a rendered section
type SectionResult struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Type      SectionType   `json:"type"`
	Items     []MetricValue `json:"items,omitempty"`
	Data      any           `json:"data,omitempty"`
	Columns   []ColumnSpec  `json:"columns,omitempty"`
	ChartType string        `json:"chart_type,omitempty"`
}

// Rows returns table or chart data as row maps, skipping non-map entries
func (s SectionResult) Rows() []map[string]any {
	switch v := s.Data.(type) {
	case []map[string]any:
		return v
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		return rows
	}
	return nil
}

// ResultMetadata echoes what a result was generated from
type ResultMetadata struct {
	ReportCode  string         `json:"report_code"`
	ReportName  string         `json:"report_name"`
	GeneratedAt time.Time      `json:"generated_at"`
	Parameters  map[string]any `json:"parameters"`
}

// Document is the JSON payload of a rendered report
type Document struct {
	Sections []SectionResult `json:"sections"`
	Metadata ResultMetadata  `json:"metadata"`
}

// RenderedResult is the output of a report generation
type RenderedResult struct {
	Data        any            `json:"data,omitempty"`
	Content     []byte         `json:"content,omitempty"`
	Format      ExportFormat   `json:"format"`
	ContentType string         `json:"content_type"`
	GeneratedAt time.Time      `json:"generated_at"`
	FilePath    string         `json:"file_path,omitempty"`
	FileName    string         `json:"file_name,omitempty"`
	DownloadURL string         `json:"download_url,omitempty"`
	Metadata    ResultMetadata `json:"metadata"`
}

// IsFile reports whether the result carries binary content
func (r *RenderedResult) IsFile() bool {
	return len(r.Content) > 0
}

// =====================================================
// Schema
// =====================================================

// ParameterSchema describes a parameter for client-side form generation
type ParameterSchema struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Required    bool          `json:"required"`
	Default     any           `json:"default"`
	Description string        `json:"description,omitempty"`
}

// Schema describes a report's inputs and outputs
type Schema struct {
	ReportCode  string            `json:"report_code"`
	ReportName  string            `json:"report_name"`
	Description string            `json:"description,omitempty"`
	Parameters  []ParameterSchema `json:"parameters"`
	Exports     map[string]bool   `json:"exports"`
}

// SchemaOf builds the schema of a definition
func SchemaOf(def *ReportDefinition) *Schema {
	schema := &Schema{
		ReportCode:  def.Meta.Code,
		ReportName:  def.Meta.Name,
		Description: def.Meta.Description,
		Parameters:  make([]ParameterSchema, 0, len(def.Parameters)),
		Exports:     make(map[string]bool, len(def.Exports)),
	}
	for _, p := range def.Parameters {
		schema.Parameters = append(schema.Parameters, ParameterSchema{
			Name:        p.Name,
			Type:        p.Type,
			Required:    p.Required,
			Default:     p.Default,
			Description: p.Description,
		})
	}
	for format, spec := range def.Exports {
		schema.Exports[format] = spec.Enabled
	}
	return schema
}
