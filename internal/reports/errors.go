package reports

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a report code with no definition
	ErrNotFound = errors.New("report definition not found")
	// ErrCodeMismatch marks a definition whose meta.code differs from the requested code
	ErrCodeMismatch = errors.New("report code mismatch")
	// ErrUnsupportedFormat marks an export format with no registered exporter
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// ConfigError reports a missing, invalid or mismatched definition,
// or an unsupported export format.
type ConfigError struct {
	Code    string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error for report %q: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("config error for report %q: %s", e.Code, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PermissionError reports a principal lacking every required role
type PermissionError struct {
	Code string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for report %q", e.Code)
}

// ParameterError reports a missing or uncoercible parameter
type ParameterError struct {
	Field   string
	Message string
	Err     error
}

func (e *ParameterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parameter %q: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("parameter %q: %s", e.Field, e.Message)
}

func (e *ParameterError) Unwrap() error { return e.Err }

// DataSourceError reports a failed data source. The resolver recovers from it per source.
type DataSourceError struct {
	Source  string
	Message string
	Err     error
}

func (e *DataSourceError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Source == "" {
		return "data source error: " + msg
	}
	return fmt.Sprintf("data source %q: %s", e.Source, msg)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// ExpressionErrorKind distinguishes template failure modes
type ExpressionErrorKind string

const (
	ExprSyntax     ExpressionErrorKind = "syntax"
	ExprUndefined  ExpressionErrorKind = "undefined"
	ExprEvaluation ExpressionErrorKind = "evaluation"
)

// ExpressionError reports a template that failed to parse or evaluate
type ExpressionError struct {
	Kind     ExpressionErrorKind
	Template string
	Message  string
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %s error: %s", e.Kind, e.Message)
}

// RenderError reports a fatal rendering or export failure
type RenderError struct {
	Format  string
	Section string
	Err     error
}

func (e *RenderError) Error() string {
	switch {
	case e.Section != "":
		return fmt.Sprintf("failed to render section %q: %v", e.Section, e.Err)
	case e.Format != "":
		return fmt.Sprintf("failed to render %s export: %v", e.Format, e.Err)
	default:
		return fmt.Sprintf("render error: %v", e.Err)
	}
}

func (e *RenderError) Unwrap() error { return e.Err }

// StatusCode maps an error to the HTTP status surfaced to callers
func StatusCode(err error) int {
	var (
		cfgErr   *ConfigError
		permErr  *PermissionError
		paramErr *ParameterError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusNotFound
	case errors.As(err, &permErr):
		return http.StatusForbidden
	case errors.As(err, &paramErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
