// Package params coerces caller-supplied report parameters to the types
// declared by a report definition.
package params

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"carbon-scribe/report-engine/internal/reports"
)

const dateLayout = "2006-01-02"

// Validator checks and coerces raw parameters
type Validator struct{}

// NewValidator creates a parameter validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns the declared parameters of def, coerced to their types.
// Absent optional parameters take their default verbatim; undeclared
// inputs are dropped. Present values are always coerced, even when blank.
func (v *Validator) Validate(def *reports.ReportDefinition, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(def.Parameters))

	for _, spec := range def.Parameters {
		value, present := raw[spec.Name]
		if !present {
			if spec.Required {
				return nil, &reports.ParameterError{Field: spec.Name, Message: "required parameter is missing"}
			}
			out[spec.Name] = spec.Default
			continue
		}

		coerced, err := Coerce(spec.Type, value)
		if err != nil {
			return nil, &reports.ParameterError{
				Field:   spec.Name,
				Message: fmt.Sprintf("cannot convert to %s", spec.Type),
				Err:     err,
			}
		}
		out[spec.Name] = coerced
	}

	return out, nil
}

// Coerce converts value to the given parameter type. A present but empty
// value is left to the type: "" is a valid string and an invalid integer.
func Coerce(typ reports.ParameterType, value any) (any, error) {
	if value == nil {
		switch typ {
		case reports.ParamInteger, reports.ParamFloat, reports.ParamDate:
			return nil, fmt.Errorf("no value for %s parameter", typ)
		}
	}
	switch typ {
	case reports.ParamInteger:
		return toInteger(value)
	case reports.ParamFloat:
		return cast.ToFloat64E(value)
	case reports.ParamBoolean:
		return toBoolean(value), nil
	case reports.ParamDate:
		return toDate(value)
	case reports.ParamString, "":
		if s, err := cast.ToStringE(value); err == nil {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case reports.ParamList:
		return toList(value), nil
	}
	return nil, fmt.Errorf("unknown parameter type %q", typ)
}

// toInteger parses strings as base-10 so "010" is ten, not eight
func toInteger(value any) (int64, error) {
	switch t := value.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	case float64:
		return integralFloat(t)
	case float32:
		return integralFloat(float64(t))
	}
	return cast.ToInt64E(value)
}

func integralFloat(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

// toBoolean never fails: anything other than true/1/yes is false
func toBoolean(value any) bool {
	if b, ok := value.(bool); ok {
		return b
	}
	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(value))) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func toDate(value any) (time.Time, error) {
	switch t := value.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t != nil {
			return *t, nil
		}
	case string:
		return time.Parse(dateLayout, strings.TrimSpace(t))
	}
	return time.Time{}, fmt.Errorf("expected a YYYY-MM-DD date, got %T", value)
}

func toList(value any) []any {
	if value == nil {
		return []any{}
	}
	if l, ok := value.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if b, ok := value.([]byte); ok {
			return []any{string(b)}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{value}
}
