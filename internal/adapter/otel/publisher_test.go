package otel_test

import (
	"context"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	adapter "github.com/neomorfeo/tenantplane/internal/adapter/otel"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

type mockBus struct {
	envs []domain.Envelope
}

func (m *mockBus) Publish(_ context.Context, env domain.Envelope) error {
	m.envs = append(m.envs, env)
	return nil
}

type failingBus struct{}

func (failingBus) Publish(_ context.Context, _ domain.Envelope) error {
	return fmt.Errorf("publish failed")
}

func testEnvelope() domain.Envelope {
	return domain.Envelope{
		ID:       "evt-1",
		Type:     domain.EventOnboardingRequested,
		TenantID: "t-1",
		Payload:  map[string]any{domain.PayloadVersion: "3"},
		Source:   domain.SourceControlPlane,
	}
}

func TestTracingBus_Publish_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := &mockBus{}
	bus := adapter.NewTracingBus(inner)

	if err := bus.Publish(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "EventBus.Publish" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "EventBus.Publish")
	}
	if spans[0].SpanKind != trace.SpanKindProducer {
		t.Errorf("span kind = %v, want producer", spans[0].SpanKind)
	}

	assertAttribute(t, spans[0], "event.type", "TenantOnboardingRequested")
	assertAttribute(t, spans[0], "event.version", "3")
	assertAttribute(t, spans[0], "tenant.id", "t-1")

	if len(inner.envs) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(inner.envs))
	}
}

func TestTracingBus_Publish_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	bus := adapter.NewTracingBus(failingBus{})

	if err := bus.Publish(context.Background(), testEnvelope()); err == nil {
		t.Fatal("expected error")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want %v", spans[0].Status.Code, codes.Error)
	}
}
