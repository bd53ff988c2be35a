// Package sections turns section specs and resolved data into section results
package sections

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"carbon-scribe/report-engine/internal/reports"
	"carbon-scribe/report-engine/internal/reports/expression"
)

// Renderer renders report sections
type Renderer struct {
	engine *expression.Engine
}

// NewRenderer creates a renderer evaluating metric templates with engine
func NewRenderer(engine *expression.Engine) *Renderer {
	if engine == nil {
		engine = expression.NewEngine()
	}
	return &Renderer{engine: engine}
}

// RenderAll renders specs in order against data. The engine passes every
// resolved source plus the validated parameters under "params".
func (r *Renderer) RenderAll(ctx context.Context, specs []reports.SectionSpec, data map[string]any) ([]reports.SectionResult, error) {
	tctx := expression.NewContext(data)
	out := make([]reports.SectionResult, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := r.Render(spec, data, tctx)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Render renders one section
func (r *Renderer) Render(spec reports.SectionSpec, data map[string]any, tctx expression.Context) (reports.SectionResult, error) {
	res := reports.SectionResult{
		ID:    spec.ID,
		Title: spec.Title,
		Type:  spec.Type,
	}

	switch spec.Type {
	case reports.SectionMetrics:
		items, err := r.metrics(spec, tctx)
		if err != nil {
			return res, err
		}
		res.Items = items
	case reports.SectionTable:
		res.Columns = spec.Columns
		res.Data = lookup(spec.Source, data)
	case reports.SectionChart:
		res.ChartType = spec.ChartType
		res.Data = chartData(lookup(spec.Source, data))
	default:
		return res, &reports.RenderError{Section: spec.ID, Err: fmt.Errorf("unknown section type %q", spec.Type)}
	}
	return res, nil
}

func (r *Renderer) metrics(spec reports.SectionSpec, tctx expression.Context) ([]reports.MetricValue, error) {
	items := make([]reports.MetricValue, 0, len(spec.Items))
	for _, item := range spec.Items {
		value := item.Value
		if text, ok := value.(string); ok {
			v, err := r.engine.Evaluate(text, tctx)
			if err != nil {
				return nil, &reports.RenderError{Section: spec.ID, Err: fmt.Errorf("item %q: %w", item.Label, err)}
			}
			value = v.Interface()
		}
		items = append(items, reports.MetricValue{Label: item.Label, Value: value})
	}
	return items, nil
}

func lookup(source string, data map[string]any) any {
	if source == "" {
		return []any{}
	}
	v, ok := data[source]
	if !ok || v == nil {
		return []any{}
	}
	return v
}

// chartData passes lists through and turns a mapping into label/value
// points. Non-numeric values are replaced by their length.
func chartData(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	labels := make([]string, 0, len(m))
	for k := range m {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	points := make([]any, 0, len(m))
	for _, label := range labels {
		points = append(points, map[string]any{"label": label, "value": pointValue(m[label])})
	}
	return points
}

func pointValue(v any) any {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return v
	case nil:
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len()
	}
	return 0
}
