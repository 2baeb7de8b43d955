package otel_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"

	adapter "github.com/neomorfeo/tenantplane/internal/adapter/otel"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

type mockStore struct {
	records map[string]domain.Deployment
}

func (m *mockStore) Put(_ context.Context, d domain.Deployment) error {
	m.records[d.TenantID] = d
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (domain.Deployment, error) {
	d, ok := m.records[id]
	if !ok {
		return domain.Deployment{}, domain.ErrDeploymentNotFound
	}
	return d, nil
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	delete(m.records, id)
	return nil
}

func TestTracingDeploymentStore(t *testing.T) {
	exporter := setupTestTracer(t)
	store := adapter.NewTracingDeploymentStore(&mockStore{records: map[string]domain.Deployment{}})
	ctx := context.Background()

	d := domain.Deployment{TenantID: "t-1", StackName: "t-1-stack", CommitID: "abc123", WaveNumber: "1"}
	if err := store.Put(ctx, d); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Get(ctx, "t-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := store.Delete(ctx, "t-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "t-1"); !errors.Is(err, domain.ErrDeploymentNotFound) {
		t.Fatalf("expected ErrDeploymentNotFound, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 4 {
		t.Fatalf("got %d spans, want 4", len(spans))
	}
	want := []string{"DeploymentStore.Put", "DeploymentStore.Get", "DeploymentStore.Delete", "DeploymentStore.Get"}
	for i, name := range want {
		if spans[i].Name != name {
			t.Errorf("span %d = %q, want %q", i, spans[i].Name, name)
		}
	}
	assertAttribute(t, spans[0], "deployment.commit", "abc123")
	if spans[3].Status.Code != codes.Error {
		t.Errorf("missing record should mark the span as error")
	}
}
