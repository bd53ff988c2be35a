package definitions

import (
	"fmt"
	"regexp"
	"strings"

	"carbon-scribe/report-engine/internal/reports"
)

var paramNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// TemplateChecker parses a template without evaluating it
type TemplateChecker interface {
	Check(text string) error
}

// Validator validates report definitions
type Validator struct {
	templates TemplateChecker
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult contains the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// NewValidator creates a new validator. templates may be nil, in which case
// template syntax is not checked.
func NewValidator(templates TemplateChecker) *Validator {
	return &Validator{templates: templates}
}

// ValidateDefinition validates a complete report definition
func (v *Validator) ValidateDefinition(def *reports.ReportDefinition) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if def.Meta.Code == "" {
		result.addError("meta.code", "required", "Report code is required")
	}
	if def.Cache.TTLSeconds < 0 {
		result.addError("cache.ttl_seconds", "invalid", "ttl_seconds must be non-negative")
	}

	seen := make(map[string]bool)
	for i, param := range def.Parameters {
		v.validateParameter(param, i, seen, result)
	}

	for _, ds := range def.DataSources {
		v.validateDataSource(ds, result)
	}

	for i, section := range def.Sections {
		v.validateSection(section, i, def.DataSources, result)
	}

	// Formats are pluggable; whether one is registered is decided at generation
	for format := range def.Exports {
		if strings.TrimSpace(format) == "" || strings.ContainsAny(format, " \t/") {
			result.addError("exports."+format, "invalid_format", fmt.Sprintf("Invalid export format name: %q", format))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// Validate returns a ConfigError describing every problem in def
func (v *Validator) Validate(def *reports.ReportDefinition) error {
	result := v.ValidateDefinition(def)
	if result.IsValid {
		return nil
	}
	msgs := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return &reports.ConfigError{Code: def.Meta.Code, Message: "invalid definition: " + strings.Join(msgs, "; ")}
}

func (v *Validator) validateParameter(param reports.ParameterSpec, index int, seen map[string]bool, result *ValidationResult) {
	fieldPath := fmt.Sprintf("parameters[%d]", index)

	if param.Name == "" {
		result.addError(fieldPath+".name", "required", "Parameter name is required")
		return
	}
	if !paramNamePattern.MatchString(param.Name) {
		result.addError(fieldPath+".name", "invalid_format", "Parameter name must start with a letter and contain only letters, numbers, and underscores")
	}
	if seen[param.Name] {
		result.addError(fieldPath+".name", "duplicate", fmt.Sprintf("Parameter %s is declared twice", param.Name))
	}
	seen[param.Name] = true

	switch param.Type {
	case reports.ParamInteger, reports.ParamFloat, reports.ParamBoolean,
		reports.ParamDate, reports.ParamString, reports.ParamList:
	case "":
		result.addError(fieldPath+".type", "required", "Parameter type is required")
	default:
		result.addError(fieldPath+".type", "invalid", fmt.Sprintf("Invalid parameter type: %s", param.Type))
	}
}

func (v *Validator) validateDataSource(ds reports.NamedDataSource, result *ValidationResult) {
	fieldPath := "data_sources." + ds.Name

	switch ds.Spec.Type {
	case reports.SourceQuery:
		if strings.TrimSpace(ds.Spec.SQL) == "" {
			result.addError(fieldPath+".sql", "required", "Query data sources require sql")
		}
	case reports.SourceService:
		if !strings.Contains(ds.Spec.Method, ".") {
			result.addError(fieldPath+".method", "invalid_format", "Service method must be a dotted path such as module.function")
		}
	case reports.SourceAggregate:
		if strings.TrimSpace(ds.Spec.Expr) == "" {
			result.addError(fieldPath+".expr", "required", "Aggregate data sources require expr")
		} else {
			v.checkTemplate(fieldPath+".expr", ds.Spec.Expr, result)
		}
	case "":
		result.addError(fieldPath+".type", "required", "Data source type is required")
	default:
		result.addError(fieldPath+".type", "invalid", fmt.Sprintf("Invalid data source type: %s", ds.Spec.Type))
	}

	for name, arg := range ds.Spec.Args {
		if s, ok := arg.(string); ok {
			v.checkTemplate(fieldPath+".args."+name, s, result)
		}
	}
}

func (v *Validator) validateSection(section reports.SectionSpec, index int, sources reports.DataSources, result *ValidationResult) {
	fieldPath := fmt.Sprintf("sections[%d]", index)

	if section.ID == "" {
		result.addError(fieldPath+".id", "required", "Section id is required")
	}

	switch section.Type {
	case reports.SectionMetrics:
		for i, item := range section.Items {
			if s, ok := item.Value.(string); ok {
				v.checkTemplate(fmt.Sprintf("%s.items[%d].value", fieldPath, i), s, result)
			}
		}
	case reports.SectionTable, reports.SectionChart:
		if section.Source != "" {
			if _, ok := sources.Get(section.Source); !ok {
				result.addError(fieldPath+".source", "invalid", fmt.Sprintf("Unknown data source: %s", section.Source))
			}
		}
	case "":
		result.addError(fieldPath+".type", "required", "Section type is required")
	default:
		result.addError(fieldPath+".type", "invalid", fmt.Sprintf("Invalid section type: %s", section.Type))
	}
}

func (v *Validator) checkTemplate(field, text string, result *ValidationResult) {
	if v.templates == nil {
		return
	}
	if err := v.templates.Check(text); err != nil {
		result.addError(field, "invalid_template", err.Error())
	}
}

// addError adds an error to the validation result
func (r *ValidationResult) addError(field, code, message string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Code:    code,
		Message: message,
	})
	r.IsValid = false
}
