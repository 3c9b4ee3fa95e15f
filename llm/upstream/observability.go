package upstream

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/standforge/llm/upstream"

// observer OpenTelemetry span 与 OTLP 指标
type observer struct {
	tracer          trace.Tracer
	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

func newObserver() *observer {
	meter := otel.Meter(instrumentationName)
	o := &observer{tracer: otel.Tracer(instrumentationName)}

	// 指标创建失败时只保留 tracing
	o.requestTotal, _ = meter.Int64Counter("upstream.request.total",
		metric.WithDescription("Total number of upstream AI requests"),
		metric.WithUnit("{request}"))
	o.requestDuration, _ = meter.Float64Histogram("upstream.request.duration",
		metric.WithDescription("Upstream AI request duration"),
		metric.WithUnit("s"))
	return o
}

func (o *observer) start(ctx context.Context, kind string, ep Endpoint) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "upstream."+kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.dialect", ep.Dialect.String()),
			attribute.String("upstream.model", ep.Model),
		))
}

func (o *observer) end(ctx context.Context, span trace.Span, kind string, ep Endpoint, outcome string, duration time.Duration, err error) {
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("dialect", ep.Dialect.String()),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	if o.requestTotal != nil {
		o.requestTotal.Add(ctx, 1, attrs)
	}
	if o.requestDuration != nil {
		o.requestDuration.Record(ctx, duration.Seconds(), attrs)
	}

	span.SetAttributes(attribute.String("upstream.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
