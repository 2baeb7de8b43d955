package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// TracingBus wraps a domain.EventBus with OpenTelemetry tracing.
type TracingBus struct {
	next   domain.EventBus
	tracer trace.Tracer
}

// Compile-time check: TracingBus implements domain.EventBus.
var _ domain.EventBus = (*TracingBus)(nil)

// NewTracingBus creates a tracing decorator around the given bus.
func NewTracingBus(next domain.EventBus) *TracingBus {
	return &TracingBus{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (b *TracingBus) Publish(ctx context.Context, env domain.Envelope) (err error) {
	ctx, span := b.tracer.Start(ctx, "EventBus.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.id", env.ID),
			attribute.String("event.type", string(env.Type)),
			attribute.String("event.source", string(env.Source)),
			attribute.String("event.version", env.Version()),
			attribute.Bool("event.deferred", env.Deferred),
			attribute.String("tenant.id", env.TenantID),
		),
	)
	defer func() { finish(span, err) }()

	return b.next.Publish(ctx, env)
}
