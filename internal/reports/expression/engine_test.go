package expression

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/report-engine/internal/reports"
)

func fixedClock() time.Time {
	return time.Date(2025, time.March, 12, 9, 30, 0, 0, time.UTC)
}

func testContext() Context {
	return NewContext(map[string]any{
		"total":  42,
		"flag":   true,
		"params": map[string]any{"year": 2025, "region": "north"},
		"rows":   []map[string]any{{"id": 1}},
		"orders": []any{
			map[string]any{"status": "paid", "amount": 10},
			map[string]any{"status": "open", "amount": 5.5},
			map[string]any{"status": "paid", "amount": "4"},
		},
	})
}

func TestEvaluate_Retyping(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	ctx := testContext()

	tests := []struct {
		name     string
		template string
		want     any
	}{
		{"plain text unchanged", "hello world", "hello world"},
		{"int from context", "{{ total }}", int64(42)},
		{"mixed text stays string", "Total: {{ total }}", "Total: 42"},
		{"float arithmetic", "{{ 1.5 * 2 }}", 3.0},
		{"bool from context", "{{ flag }}", true},
		{"length filter", "{{ rows|length }}", int64(1)},
		{"attribute access", "{{ params.year }}", int64(2025)},
		{"integer division", "{{ 7 // 2 }}", int64(3)},
		{"true division", "{{ 7 / 2 }}", 3.5},
		{"python modulo", "{{ -7 % 3 }}", int64(2)},
		{"power", "{{ 2 ** 10 }}", int64(1024)},
		{"concat operator", "{{ params.region ~ '-' ~ total }}", "north-42"},
		{"conditional", "{{ 'big' if total > 10 else 'small' }}", "big"},
		{"chained comparison", "{{ 1 < 2 < 3 }}", true},
		{"membership", "{{ 'paid' in orders|pluck('status') }}", true},
		{"is defined test", "{{ missing is defined }}", false},
		{"rendered bool text", "{{ 'TRUE' }}", true},
		{"comment is dropped", "{# note #}{{ total }}", int64(42)},
		{"dict literal with nested braces", "{{ {'a': {'b': 1}}['a']['b'] }}", int64(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Evaluate(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Interface())
		})
	}
}

func TestEvaluate_Functions(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	ctx := testContext()

	tests := []struct {
		template string
		want     any
	}{
		{"{{ today() }}", "2025-03-12"},
		{"{{ now() }}", "2025-03-12 09:30:00"},
		{"{{ last_monday() }}", "2025-03-03"},
		{"{{ last_sunday() }}", "2025-03-09"},
		{"{{ month_start() }}", "2025-03-01"},
		{"{{ month_end() }}", "2025-03-31"},
		{"{{ last_month_start() }}", "2025-02-01"},
		{"{{ last_month_end() }}", "2025-02-28"},
		{"{{ len('héllo') }}", int64(5)},
		{"{{ sum([1, 2, 3]) }}", int64(6)},
		{"{{ min(4, 2) }}", int64(2)},
		{"{{ max([1, 5, 3]) }}", int64(5)},
		{"{{ abs(-3) }}", int64(3)},
		{"{{ round(2.5) }}", int64(2)},
		{"{{ round(2.567, 2) }}", 2.57},
		{"{{ range(3)|length }}", int64(3)},
		{"{{ range(1, 10, 4) }}", []any{int64(1), int64(5), int64(9)}},
		{"{{ zip([1, 2], ['a', 'b']) }}", []any{[]any{int64(1), "a"}, []any{int64(2), "b"}}},
		{"{{ enumerate(['x'], start=1) }}", []any{[]any{int64(1), "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			got, err := engine.Evaluate(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Interface())
		})
	}
}

func TestEvaluate_Filters(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	ctx := testContext()

	tests := []struct {
		template string
		want     any
	}{
		{"{{ orders|sum_by('amount') }}", 19.5},
		{"{{ orders|avg_by('amount') }}", 6.5},
		{"{{ orders|count_by('status') }}", map[string]any{"paid": int64(2), "open": int64(1)}},
		{"{{ orders|count_by('status', 'paid') }}", int64(2)},
		{"{{ orders|pluck('status')|unique|join(',') }}", "paid,open"},
		{"{{ orders|group_by('status')|length }}", int64(2)},
		{"{{ (orders|group_by('status')).paid|length }}", int64(2)},
		{"{{ [{'n': 2}, {'n': 3}, {'n': 1}]|sort_by('n')|pluck('n') }}", []any{int64(1), int64(2), int64(3)}},
		{"{{ [{'n': 2}, {'n': 3}]|sort_by('n', reverse=true)|first }}", map[string]any{"n": int64(3)}},
		{"{{ 1234.5|currency }}", "$1,234.50"},
		{"{{ (-1234567)|currency('€', 0) }}", "-€1,234,567"},
		{"{{ 0.125|percentage }}", "12.5%"},
		{"{{ 3.14159|round_num(2) }}", 3.14},
		{"{{ '2025-03-07'|date_format('%d/%m/%Y') }}", "07/03/2025"},
		{"{{ '2025-03-07 14:05:09'|date_format('%b %d, %Y %I:%M %p') }}", "Mar 07, 2025 02:05 PM"},
		{"{{ '2025-03-07'|date_format('%A %j %%') }}", "Friday 066 %"},
		{"{{ '2025-03-07'|date_format }}", "2025-03-07"},
		{"{{ 'abcdefgh'|truncate_text(3) }}", "abc..."},
		{"{{ 'in_progress'|status_label }}", "In Progress"},
		{"{{ 'on_hold'|status_label }}", "On Hold"},
		{"{{ 'x'|status_label({'x': 'Custom'}) }}", "Custom"},
		{"{{ missing|default_if_none('n/a') }}", "n/a"},
		{"{{ none|coalesce(none, 5) }}", int64(5)},
		{"{{ 'abc'|upper }}", "ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			got, err := engine.Evaluate(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Interface())
		})
	}
}

func TestEvaluate_ErrorKinds(t *testing.T) {
	engine := NewEngine()
	ctx := testContext()

	tests := []struct {
		name     string
		template string
		kind     reports.ExpressionErrorKind
	}{
		{"dangling operator", "{{ 1 + }}", reports.ExprSyntax},
		{"unclosed block", "{{ total ", reports.ExprSyntax},
		{"block tags", "{% if total %}x{% endif %}", reports.ExprSyntax},
		{"unknown name", "{{ missing }}", reports.ExprUndefined},
		{"unknown filter", "{{ total|nope }}", reports.ExprUndefined},
		{"unknown function", "{{ nope() }}", reports.ExprUndefined},
		{"missing key", "{{ params.nope }}", reports.ExprUndefined},
		{"division by zero", "{{ 1 / 0 }}", reports.ExprEvaluation},
		{"bad operands", "{{ 'a' - 1 }}", reports.ExprEvaluation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Evaluate(tt.template, ctx)
			require.Error(t, err)

			var exprErr *reports.ExpressionError
			require.True(t, errors.As(err, &exprErr))
			assert.Equal(t, tt.kind, exprErr.Kind)
			assert.Equal(t, tt.template, exprErr.Template)
		})
	}
}

func TestEvaluateMap_NestedLeaves(t *testing.T) {
	engine := NewEngine()
	ctx := testContext()

	got, err := engine.EvaluateMap(map[string]any{
		"a": "{{ total }}",
		"b": 3,
		"c": map[string]any{"d": "{{ total + 1 }}"},
		"e": []any{"plain", "{{ total }}"},
	}, ctx)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": int64(42),
		"b": 3,
		"c": map[string]any{"d": int64(43)},
		"e": []any{"plain", int64(42)},
	}, got)
}

func TestReferencedNames(t *testing.T) {
	engine := NewEngine()

	names, err := engine.ReferencedNames("{{ params.year + orders|length }} and {{ sum(totals) }}")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "params", "totals"}, names)

	names, err = engine.ReferencedNames("no markers")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestEngine_CustomFunction(t *testing.T) {
	engine := NewEngine(WithFunction("double", func(_ CallEnv, args []Value, _ map[string]Value) (Value, error) {
		return IntValue(args[0].Int() * 2), nil
	}))

	got, err := engine.Evaluate("{{ double(21) }}", Context{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Interface())
	assert.Contains(t, engine.Functions(), "double")
}
