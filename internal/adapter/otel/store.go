package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// TracingDeploymentStore wraps a domain.DeploymentStore with tracing.
type TracingDeploymentStore struct {
	next   domain.DeploymentStore
	tracer trace.Tracer
}

var _ domain.DeploymentStore = (*TracingDeploymentStore)(nil)

func NewTracingDeploymentStore(next domain.DeploymentStore) *TracingDeploymentStore {
	return &TracingDeploymentStore{next: next, tracer: otel.Tracer(tracerName)}
}

func (s *TracingDeploymentStore) Put(ctx context.Context, d domain.Deployment) (err error) {
	ctx, span := s.tracer.Start(ctx, "DeploymentStore.Put",
		trace.WithAttributes(
			attribute.String("tenant.id", d.TenantID),
			attribute.String("deployment.stack", d.StackName),
			attribute.String("deployment.commit", d.CommitID),
			attribute.String("deployment.wave", d.WaveNumber),
		),
	)
	defer func() { finish(span, err) }()

	return s.next.Put(ctx, d)
}

func (s *TracingDeploymentStore) Get(ctx context.Context, tenantID string) (_ domain.Deployment, err error) {
	ctx, span := s.tracer.Start(ctx, "DeploymentStore.Get",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer func() { finish(span, err) }()

	return s.next.Get(ctx, tenantID)
}

func (s *TracingDeploymentStore) Delete(ctx context.Context, tenantID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "DeploymentStore.Delete",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer func() { finish(span, err) }()

	return s.next.Delete(ctx, tenantID)
}
