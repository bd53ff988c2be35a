// Package expression implements the template language used by report
// definitions: {{ expr }} blocks with Jinja-style operators, global
// functions and filters, evaluated over a closed set of value types.
package expression

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"carbon-scribe/report-engine/internal/reports"
)

// Context maps top-level template names to values
type Context map[string]Value

// NewContext converts plain Go data into a template context
func NewContext(data map[string]any) Context {
	ctx := make(Context, len(data))
	for k, v := range data {
		ctx[k] = FromAny(v)
	}
	return ctx
}

// With returns a copy of the context with name bound to v
func (c Context) With(name string, v Value) Context {
	out := make(Context, len(c)+1)
	for k, val := range c {
		out[k] = val
	}
	out[name] = v
	return out
}

// CallEnv is passed to functions and filters
type CallEnv struct {
	Now time.Time
}

// Function is a global template function
type Function func(env CallEnv, args []Value, kwargs map[string]Value) (Value, error)

// Filter is applied with the pipe syntax; in is the piped value
type Filter func(env CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error)

// Engine evaluates templates. It is safe for concurrent use once configured.
type Engine struct {
	functions map[string]Function
	filters   map[string]Filter
	now       func() time.Time
	parsed    sync.Map // template text -> *template
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used by date functions
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithFunction registers an additional global function
func WithFunction(name string, fn Function) Option {
	return func(e *Engine) { e.functions[name] = fn }
}

// WithFilter registers an additional filter
func WithFilter(name string, f Filter) Option {
	return func(e *Engine) { e.filters[name] = f }
}

// NewEngine creates an engine with the built-in functions and filters
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		functions: builtinFunctions(),
		filters:   builtinFilters(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) callEnv() CallEnv {
	return CallEnv{Now: e.now()}
}

// Functions lists the registered global function names
func (e *Engine) Functions() []string {
	names := make([]string, 0, len(e.functions))
	for name := range e.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filters lists the registered filter names
func (e *Engine) Filters() []string {
	names := make([]string, 0, len(e.filters))
	for name := range e.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) compile(text string) (*template, error) {
	if t, ok := e.parsed.Load(text); ok {
		return t.(*template), nil
	}
	t, err := parseTemplate(text)
	if err != nil {
		return nil, err
	}
	e.parsed.Store(text, t)
	return t, nil
}

// Check parses text without evaluating it
func (e *Engine) Check(text string) error {
	if !HasMarkers(text) {
		return nil
	}
	_, err := e.compile(text)
	return withTemplate(err, text)
}

// ReferencedNames returns the top-level context names a template reads
func (e *Engine) ReferencedNames(text string) ([]string, error) {
	if !HasMarkers(text) {
		return nil, nil
	}
	t, err := e.compile(text)
	if err != nil {
		return nil, withTemplate(err, text)
	}
	names := append([]string(nil), t.names...)
	sort.Strings(names)
	return names, nil
}

// Evaluate renders text against ctx. Text without markers is returned as
// a string unchanged. A template made of one expression that yields a
// list, map or none returns that value; everything else is rendered and
// retyped to int, float, bool or string.
func (e *Engine) Evaluate(text string, ctx Context) (Value, error) {
	if !HasMarkers(text) {
		return StringValue(text), nil
	}
	t, err := e.compile(text)
	if err != nil {
		return Null(), withTemplate(err, text)
	}
	en := &env{ctx: ctx, engine: e}

	if expr := t.single(); expr != nil {
		v, err := safeEval(expr, en)
		if err != nil {
			return Null(), withTemplate(err, text)
		}
		switch v.kind {
		case KindList, KindMap, KindNull:
			return v, nil
		}
		return Retype(v.String()), nil
	}

	var sb strings.Builder
	for _, seg := range t.segments {
		if seg.expr == nil {
			sb.WriteString(seg.text)
			continue
		}
		v, err := safeEval(seg.expr, en)
		if err != nil {
			return Null(), withTemplate(err, text)
		}
		sb.WriteString(v.String())
	}
	return Retype(sb.String()), nil
}

// EvaluateAny evaluates string input and returns other values untouched
func (e *Engine) EvaluateAny(v any, ctx Context) (any, error) {
	switch t := v.(type) {
	case string:
		out, err := e.Evaluate(t, ctx)
		if err != nil {
			return nil, err
		}
		if !HasMarkers(t) {
			return t, nil
		}
		return out.Interface(), nil
	case map[string]any:
		return e.EvaluateMap(t, ctx)
	case []any:
		return e.EvaluateList(t, ctx)
	}
	return v, nil
}

// EvaluateMap evaluates every string leaf of a nested map
func (e *Engine) EvaluateMap(m map[string]any, ctx Context) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		ev, err := e.EvaluateAny(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %q: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

// EvaluateList evaluates every string leaf of a nested list
func (e *Engine) EvaluateList(l []any, ctx Context) ([]any, error) {
	if l == nil {
		return nil, nil
	}
	out := make([]any, len(l))
	for i, v := range l {
		ev, err := e.EvaluateAny(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate item %d: %w", i, err)
		}
		out[i] = ev
	}
	return out, nil
}

// safeEval turns a panicking function or filter into an evaluation error
func safeEval(n node, en *env) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = Null(), evalError("%v", r)
		}
	}()
	return n.eval(en)
}

func withTemplate(err error, text string) error {
	var exprErr *reports.ExpressionError
	if errors.As(err, &exprErr) && exprErr.Template == "" {
		exprErr.Template = text
	}
	return err
}
