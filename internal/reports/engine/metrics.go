package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"carbon-scribe/report-engine/internal/reports"
)

const instrumentationName = "carbon-scribe/report-engine/engine"

var tracer = otel.Tracer(instrumentationName)

// instruments holds the generation counter and latency histogram
type instruments struct {
	generations metric.Int64Counter
	duration    metric.Float64Histogram
}

func newInstruments(logger *zap.Logger) instruments {
	meter := otel.Meter(instrumentationName)

	generations, err := meter.Int64Counter("report.generations",
		metric.WithDescription("Report generations by terminal state"))
	if err != nil {
		logger.Warn("Failed to create generation counter", zap.Error(err))
		generations, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("report.generations")
	}

	duration, err := meter.Float64Histogram("report.generation.duration",
		metric.WithDescription("Report generation latency"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("Failed to create generation histogram", zap.Error(err))
		duration, _ = noop.NewMeterProvider().Meter(instrumentationName).Float64Histogram("report.generation.duration")
	}

	return instruments{generations: generations, duration: duration}
}

func (i instruments) record(ctx context.Context, code string, format reports.ExportFormat, state State, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("report.code", code),
		attribute.String("report.format", string(format)),
		attribute.String("report.state", string(state)),
	)
	i.generations.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
}
