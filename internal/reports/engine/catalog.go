package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"carbon-scribe/report-engine/internal/reports"
)

// ListAvailable returns the metas of every loadable definition, filtered
// to those principal may run when principal is not nil
func (e *Engine) ListAvailable(ctx context.Context, principal *reports.Principal) ([]reports.ReportMeta, error) {
	defs, err := e.definitions.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	metas := make([]reports.ReportMeta, 0, len(defs))
	for _, def := range defs {
		if principal != nil && !e.gate.Allowed(def, principal) {
			continue
		}
		metas = append(metas, def.Meta)
	}
	return metas, nil
}

// GetSchema describes a report's parameters and export toggles
func (e *Engine) GetSchema(ctx context.Context, code string) (*reports.Schema, error) {
	def, err := e.definitions.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return reports.SchemaOf(def), nil
}

// Invalidate drops cached results of one report. The definition is
// reloaded so custom key patterns are cleared as well.
func (e *Engine) Invalidate(ctx context.Context, code string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}

	def, err := e.definitions.Get(ctx, code)
	if err != nil {
		e.logger.Debug("Invalidating by code only", zap.String("report_code", code), zap.Error(err))
		return e.cache.Invalidate(ctx, code)
	}
	n, err := e.cache.InvalidateDefinition(ctx, def)
	if err != nil {
		return n, err
	}
	e.logger.Info("Report cache invalidated", zap.String("report_code", code), zap.Int("entries", n))
	return n, nil
}

// Reload drops a cached definition, or every definition when code is empty
func (e *Engine) Reload(code string) {
	e.definitions.Reload(code)
}
