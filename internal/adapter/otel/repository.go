package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

const tracerName = "github.com/neomorfeo/tenantplane/internal/adapter/otel"

// finish records err on the span, if any, and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TracingRepository wraps a domain.TenantRepository with OpenTelemetry tracing.
type TracingRepository struct {
	next   domain.TenantRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.TenantRepository.
var _ domain.TenantRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.TenantRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, tenant domain.Tenant) (err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Create",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.tier", string(tenant.Tier)),
		),
	)
	defer func() { finish(span, err) }()

	return r.next.Create(ctx, tenant)
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (_ domain.Tenant, err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.GetByID",
		trace.WithAttributes(attribute.String("tenant.id", id)),
	)
	defer func() { finish(span, err) }()

	return r.next.GetByID(ctx, id)
}

func (r *TracingRepository) List(ctx context.Context, filter domain.ListFilter) (_ []domain.Tenant, err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer func() { finish(span, err) }()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	tenants, err := r.next.List(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(tenants)))
	}
	return tenants, err
}

func (r *TracingRepository) Update(ctx context.Context, tenant domain.Tenant) (err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Update",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.status", string(tenant.Status)),
			attribute.String("tenant.intent", string(tenant.Intent.Type)),
		),
	)
	defer func() { finish(span, err) }()

	return r.next.Update(ctx, tenant)
}

func (r *TracingRepository) NextGeneration(ctx context.Context, id string) (_ int, err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.NextGeneration",
		trace.WithAttributes(attribute.String("tenant.id", id)),
	)
	defer func() { finish(span, err) }()

	gen, err := r.next.NextGeneration(ctx, id)
	if err == nil {
		span.SetAttributes(attribute.Int("tenant.generation", gen))
	}
	return gen, err
}
