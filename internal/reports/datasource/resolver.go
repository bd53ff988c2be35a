// Package datasource resolves the named data sources of a report definition
// into plain Go data: SQL row sets, service results and aggregates derived
// from earlier sources.
package datasource

import (
	"context"
	"errors"
	"fmt"

	"dario.cat/mergo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carbon-scribe/report-engine/internal/reports"
	"carbon-scribe/report-engine/internal/reports/expression"
)

var tracer = otel.Tracer("carbon-scribe/report-engine/datasource")

// Options tunes resolution
type Options struct {
	// Parallelism bounds concurrent resolution of independent sources.
	// Values below 2 resolve strictly one at a time.
	Parallelism int
}

// Resolver turns data source specs into data
type Resolver struct {
	querier  Querier
	services *Registry
	engine   *expression.Engine
	logger   *zap.Logger
	opts     Options
}

// NewResolver creates a resolver. querier may be nil when no report uses
// query sources.
func NewResolver(querier Querier, services *Registry, engine *expression.Engine, logger *zap.Logger, opts Options) *Resolver {
	if services == nil {
		services = NewRegistry()
	}
	if engine == nil {
		engine = expression.NewEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		querier:  querier,
		services: services,
		engine:   engine,
		logger:   logger,
		opts:     opts,
	}
}

// ResolveAll resolves every source in declaration order. A source failing
// with a DataSourceError is logged and yields an empty list; any other error
// aborts resolution.
func (r *Resolver) ResolveAll(ctx context.Context, sources reports.DataSources, params map[string]any) (map[string]any, error) {
	data := make(map[string]any, len(sources))

	for _, batch := range r.batches(sources) {
		results := make([]any, len(batch))
		base := snapshot(data)

		if len(batch) == 1 || r.opts.Parallelism < 2 {
			for i, src := range batch {
				v, err := r.resolveNamed(ctx, src, params, snapshot(data))
				if err != nil {
					return nil, err
				}
				results[i] = v
				data[src.Name] = v
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Parallelism)
		for i, src := range batch {
			g.Go(func() error {
				v, err := r.resolveNamed(gctx, src, params, base)
				if err != nil {
					return err
				}
				results[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i, src := range batch {
			data[src.Name] = results[i]
		}
	}

	return data, nil
}

func snapshot(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// resolveNamed resolves one source and neutralizes DataSourceErrors
func (r *Resolver) resolveNamed(ctx context.Context, src reports.NamedDataSource, params, data map[string]any) (any, error) {
	ctx, span := tracer.Start(ctx, "datasource.resolve")
	span.SetAttributes(
		attribute.String("datasource.name", src.Name),
		attribute.String("datasource.type", string(src.Spec.Type)),
	)
	defer span.End()

	v, err := r.ResolveOne(ctx, src.Spec, params, data)
	if err == nil {
		return v, nil
	}

	var dsErr *reports.DataSourceError
	if errors.As(err, &dsErr) {
		if dsErr.Source == "" {
			dsErr.Source = src.Name
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "data source failed")
		r.logger.Warn("Data source failed, using empty result",
			zap.String("source", src.Name),
			zap.String("type", string(src.Spec.Type)),
			zap.Error(err))
		return []any{}, nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// ResolveOne resolves a single source against params and the data resolved
// so far
func (r *Resolver) ResolveOne(ctx context.Context, spec reports.DataSourceSpec, params, data map[string]any) (any, error) {
	tctx := templateContext(params, data)

	args, err := r.engine.EvaluateMap(spec.Args, tctx)
	if err != nil {
		return nil, &reports.DataSourceError{Message: "failed to evaluate args", Err: err}
	}

	switch spec.Type {
	case reports.SourceQuery:
		return r.resolveQuery(ctx, spec, args, params)
	case reports.SourceService:
		return r.resolveService(ctx, spec, args, params)
	case reports.SourceAggregate:
		v, err := r.engine.Evaluate(spec.Expr, tctx)
		if err != nil {
			return nil, &reports.DataSourceError{Message: "failed to evaluate aggregate", Err: err}
		}
		return v.Interface(), nil
	}
	return nil, &reports.DataSourceError{Message: fmt.Sprintf("unknown data source type %q", spec.Type)}
}

func (r *Resolver) resolveQuery(ctx context.Context, spec reports.DataSourceSpec, args, params map[string]any) (any, error) {
	if err := Guard(spec.SQL); err != nil {
		return nil, err
	}
	if r.querier == nil {
		return nil, &reports.DataSourceError{Message: "no database configured for query sources"}
	}

	bind, err := MergeArgs(args, params)
	if err != nil {
		return nil, err
	}
	rows, err := r.querier.QueryRows(ctx, spec.SQL, bind)
	if err != nil {
		var dsErr *reports.DataSourceError
		if errors.As(err, &dsErr) {
			return nil, err
		}
		return nil, &reports.DataSourceError{Message: "query failed", Err: err}
	}
	return rows, nil
}

func (r *Resolver) resolveService(ctx context.Context, spec reports.DataSourceSpec, args, params map[string]any) (any, error) {
	fn, err := r.services.Lookup(spec.Method)
	if err != nil {
		return nil, err
	}
	merged, err := MergeArgs(args, params)
	if err != nil {
		return nil, err
	}
	return call(ctx, spec.Method, fn, r.querier, merged)
}

// MergeArgs combines source args with params; params win on conflicts,
// including zero values
func MergeArgs(args, params map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(args)+len(params))
	for k, v := range args {
		merged[k] = v
	}
	if len(params) == 0 {
		return merged, nil
	}
	if err := mergo.Merge(&merged, params, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
		return nil, &reports.DataSourceError{Message: "failed to merge arguments", Err: err}
	}
	return merged, nil
}

func templateContext(params, data map[string]any) expression.Context {
	ctx := make(expression.Context, len(data)+1)
	for k, v := range data {
		ctx[k] = expression.FromAny(v)
	}
	ctx["params"] = expression.FromAny(params)
	return ctx
}

// batches groups consecutive sources whose templates do not reference any
// other source in the same group
func (r *Resolver) batches(sources reports.DataSources) [][]reports.NamedDataSource {
	var (
		out     [][]reports.NamedDataSource
		current []reports.NamedDataSource
		inBatch = make(map[string]bool)
	)
	for _, src := range sources {
		depends := false
		for _, name := range r.references(src.Spec) {
			if name == "*" || inBatch[name] {
				depends = true
				break
			}
		}
		if depends && len(current) > 0 {
			out = append(out, current)
			current = nil
			inBatch = make(map[string]bool)
		}
		current = append(current, src)
		inBatch[src.Name] = true
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// references returns the top-level names read by a source's templates.
// Unparseable templates count as depending on everything before them.
func (r *Resolver) references(spec reports.DataSourceSpec) []string {
	var texts []string
	collectStrings(spec.Args, &texts)
	if spec.Type == reports.SourceAggregate {
		texts = append(texts, spec.Expr)
	}

	var names []string
	for _, text := range texts {
		refs, err := r.engine.ReferencedNames(text)
		if err != nil {
			return []string{"*"}
		}
		names = append(names, refs...)
	}
	return names
}

func collectStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case map[string]any:
		for _, e := range t {
			collectStrings(e, out)
		}
	case []any:
		for _, e := range t {
			collectStrings(e, out)
		}
	}
}
