// Package engine orchestrates report generation: definition lookup,
// permission and parameter checks, cache, data resolution, section
// rendering and export.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"carbon-scribe/report-engine/internal/reports"
	"carbon-scribe/report-engine/internal/reports/cache"
	"carbon-scribe/report-engine/internal/reports/export"
	"carbon-scribe/report-engine/internal/reports/params"
	"carbon-scribe/report-engine/internal/reports/permissions"
	"carbon-scribe/report-engine/pkg/storage"
)

// DefinitionStore loads validated report definitions
type DefinitionStore interface {
	Get(ctx context.Context, code string) (*reports.ReportDefinition, error)
	ListAvailable(ctx context.Context) ([]*reports.ReportDefinition, error)
	Reload(code string)
}

// DataResolver turns a definition's data sources into named data
type DataResolver interface {
	ResolveAll(ctx context.Context, sources reports.DataSources, params map[string]any) (map[string]any, error)
}

// SectionRenderer evaluates section specs against resolved data
type SectionRenderer interface {
	RenderAll(ctx context.Context, specs []reports.SectionSpec, data map[string]any) ([]reports.SectionResult, error)
}

// ResultCache stores finished results
type ResultCache interface {
	Get(ctx context.Context, def *reports.ReportDefinition, params map[string]any, format reports.ExportFormat) (*reports.RenderedResult, bool)
	Set(ctx context.Context, def *reports.ReportDefinition, params map[string]any, format reports.ExportFormat, result *reports.RenderedResult)
	InvalidateDefinition(ctx context.Context, def *reports.ReportDefinition) (int, error)
	Invalidate(ctx context.Context, code string) (int, error)
}

// Deps are the collaborators of an Engine. Definitions, Resolver and
// Renderer are required; the rest fall back to defaults or are skipped.
type Deps struct {
	Definitions DefinitionStore
	Resolver    DataResolver
	Renderer    SectionRenderer
	Cache       ResultCache
	Exporters   *export.Registry
	Gate        *permissions.Gate
	Params      *params.Validator

	// Artifacts receives binary exports when set
	Artifacts      storage.Store
	ArtifactPrefix string

	Logger *zap.Logger
	Clock  func() time.Time
}

// GenerateRequest is one call to Generate
type GenerateRequest struct {
	Code      string         `json:"code"`
	Params    map[string]any `json:"params"`
	Format    string         `json:"format"`
	Principal *reports.Principal
	SkipCache bool `json:"skip_cache"`
	// DeferArtifact leaves binary content unstored so the caller can
	// inspect it first and store it with StoreArtifact
	DeferArtifact bool `json:"-"`
}

// Engine generates reports. It holds no global state.
type Engine struct {
	definitions DefinitionStore
	resolver    DataResolver
	renderer    SectionRenderer
	cache       ResultCache
	exporters   *export.Registry
	gate        *permissions.Gate
	params      *params.Validator
	artifacts   storage.Store
	prefix      string
	logger      *zap.Logger
	now         func() time.Time
	metrics     instruments
	inflight    singleflight.Group
}

// New creates an engine from deps
func New(deps Deps) (*Engine, error) {
	if deps.Definitions == nil || deps.Resolver == nil || deps.Renderer == nil {
		return nil, errors.New("definitions, resolver and renderer are required")
	}
	if deps.Exporters == nil {
		deps.Exporters = export.DefaultRegistry()
	}
	if deps.Gate == nil {
		deps.Gate = permissions.NewGate()
	}
	if deps.Params == nil {
		deps.Params = params.NewValidator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Engine{
		definitions: deps.Definitions,
		resolver:    deps.Resolver,
		renderer:    deps.Renderer,
		cache:       deps.Cache,
		exporters:   deps.Exporters,
		gate:        deps.Gate,
		params:      deps.Params,
		artifacts:   deps.Artifacts,
		prefix:      deps.ArtifactPrefix,
		logger:      deps.Logger,
		now:         deps.Clock,
		metrics:     newInstruments(deps.Logger),
	}, nil
}

// Formats lists the registered export formats
func (e *Engine) Formats() []string {
	return e.exporters.Formats()
}

// Generate runs one report. Definition, permission and parameter failures
// abort before any data is touched; an unknown format is reported once
// sections are rendered; export failures are never cached.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*reports.RenderedResult, error) {
	format := reports.ExportFormat(req.Format)
	if format == "" {
		format = reports.FormatJSON
	}
	genID := uuid.New().String()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "report.generate", trace.WithAttributes(
		attribute.String("report.code", req.Code),
		attribute.String("report.format", string(format)),
		attribute.String("report.generation_id", genID),
		attribute.Bool("report.skip_cache", req.SkipCache),
	))
	defer span.End()

	result, trail, err := e.generate(ctx, req, format)
	state := trail.last()

	span.SetAttributes(attribute.String("report.state", string(state)))
	e.metrics.record(ctx, req.Code, format, state, time.Since(start))

	fields := []zap.Field{
		zap.String("generation_id", genID),
		zap.String("report_code", req.Code),
		zap.String("format", string(format)),
		zap.String("state", string(state)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if perr := trail.validate(); perr != nil {
		e.logger.DPanic("Generation left the stage order", append(fields, zap.Strings("path", trail.strings()), zap.Error(perr))...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("Report generation failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	e.logger.Info("Report generated", fields...)
	return result, nil
}

func (e *Engine) generate(ctx context.Context, req GenerateRequest, format reports.ExportFormat) (*reports.RenderedResult, path, error) {
	trail := path{}
	enter := func(s State) {
		trail = append(trail, s)
		trace.SpanFromContext(ctx).AddEvent(string(s))
	}

	def, err := e.definitions.Get(ctx, req.Code)
	if err != nil {
		enter(StateConfigFailed)
		return nil, trail, err
	}
	enter(StateLoaded)

	if err := e.gate.Check(def, req.Principal); err != nil {
		enter(StatePermissionFailed)
		return nil, trail, err
	}
	enter(StateAuthorized)

	validated, err := e.params.Validate(def, req.Params)
	if err != nil {
		enter(StateParamFailed)
		return nil, trail, err
	}
	enter(StateValidated)

	if !req.SkipCache && e.cache != nil {
		if cached, ok := e.cache.Get(ctx, def, validated, format); ok {
			enter(StateCacheHit)
			return cached, trail, nil
		}
	}

	store := !req.DeferArtifact
	if req.SkipCache {
		result, rest, err := e.produce(ctx, def, validated, format, store)
		return result, append(trail, rest...), err
	}

	type produced struct {
		result *reports.RenderedResult
		trail  path
	}
	key := cache.Fingerprint(def.Meta.Code, validated, format)
	if !store {
		key += ":deferred"
	}
	v, err, shared := e.inflight.Do(key, func() (any, error) {
		result, rest, err := e.produce(ctx, def, validated, format, store)
		if err != nil {
			return produced{trail: rest}, err
		}
		if e.cache != nil {
			e.cache.Set(ctx, def, validated, format, result)
		}
		return produced{result: result, trail: rest}, nil
	})
	if shared {
		e.logger.Debug("Joined in-flight generation", zap.String("report_code", def.Meta.Code))
	}
	p := v.(produced)
	return p.result, append(trail, p.trail...), err
}

// produce resolves data, renders sections and exports them, storing file
// content when store is set. It returns the states passed after VALIDATED.
func (e *Engine) produce(ctx context.Context, def *reports.ReportDefinition, validated map[string]any, format reports.ExportFormat, store bool) (*reports.RenderedResult, path, error) {
	meta := reports.ResultMetadata{
		ReportCode:  def.Meta.Code,
		ReportName:  def.Meta.Name,
		GeneratedAt: e.now(),
		Parameters:  validated,
	}
	trail := path{}

	stageCtx, span := tracer.Start(ctx, "report.resolve")
	data, err := e.resolver.ResolveAll(stageCtx, def.DataSources, validated)
	endSpan(span, err)
	if err != nil {
		return nil, append(trail, StateResolveFailed), fmt.Errorf("failed to resolve data sources: %w", err)
	}
	trail = append(trail, StateDataResolved)

	stageCtx, span = tracer.Start(ctx, "report.render")
	sections, err := e.renderer.RenderAll(stageCtx, def.Sections, renderContext(data, validated))
	endSpan(span, err)
	if err != nil {
		return nil, append(trail, StateRenderFailed), err
	}
	trail = append(trail, StateSectionsRendered)

	exporter, err := e.exporterFor(def, format)
	if err != nil {
		return nil, append(trail, StateFormatUnsupported), err
	}

	stageCtx, span = tracer.Start(ctx, "report.export", trace.WithAttributes(attribute.String("report.format", string(format))))
	result, err := exporter.Render(stageCtx, sections, meta)
	endSpan(span, err)
	if err != nil {
		var renderErr *reports.RenderError
		if !errors.As(err, &renderErr) {
			err = &reports.RenderError{Format: string(format), Err: err}
		}
		return nil, append(trail, StateRenderFailed), err
	}
	trail = append(trail, StateExported)

	if store {
		_ = e.StoreArtifact(ctx, result)
	}
	return result, append(trail, StateDone), nil
}

// renderContext is the section template context: every resolved source
// plus the validated parameters under "params"
func renderContext(data, params map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["params"] = params
	return out
}

// exporterFor returns the registered exporter, rejecting formats a
// definition explicitly disables
func (e *Engine) exporterFor(def *reports.ReportDefinition, format reports.ExportFormat) (export.Exporter, error) {
	exporter, ok := e.exporters.Get(format)
	if !ok {
		return nil, &reports.ConfigError{
			Code:    def.Meta.Code,
			Message: fmt.Sprintf("format %q is not one of %v", format, e.exporters.Formats()),
			Err:     reports.ErrUnsupportedFormat,
		}
	}
	if spec, declared := def.Exports[string(format)]; declared && !spec.Enabled {
		return nil, &reports.ConfigError{
			Code:    def.Meta.Code,
			Message: fmt.Sprintf("format %q is disabled for this report", format),
			Err:     reports.ErrUnsupportedFormat,
		}
	}
	return exporter, nil
}

// StoreArtifact uploads the binary content of result and sets its file
// path and download URL. JSON results and engines without artifact
// storage are left alone. Failures are logged and leave the in-memory
// content in place.
func (e *Engine) StoreArtifact(ctx context.Context, result *reports.RenderedResult) error {
	if e.artifacts == nil || result == nil || !result.IsFile() {
		return nil
	}
	ctx, span := tracer.Start(ctx, "report.store")
	defer span.End()

	key := storage.ArtifactKey(e.prefix, result.Metadata.ReportCode, result.FileName, result.GeneratedAt)
	obj, err := e.artifacts.Put(ctx, key, result.Content, result.ContentType)
	if err != nil {
		span.RecordError(err)
		e.logger.Error("Failed to store report artifact",
			zap.String("report_code", result.Metadata.ReportCode),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	result.FilePath = obj.Location
	result.DownloadURL = obj.URL
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
