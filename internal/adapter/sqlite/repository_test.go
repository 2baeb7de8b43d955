package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// newTestRepo creates an in-memory SQLite repository for testing.
func newTestRepo(t *testing.T) *sqlite.TenantRepository {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustCreate(t *testing.T, repo *sqlite.TenantRepository, tenant domain.Tenant) {
	t.Helper()
	if err := repo.Create(context.Background(), tenant); err != nil {
		t.Fatalf("mustCreate failed: %v", err)
	}
}

func mustUpdate(t *testing.T, repo *sqlite.TenantRepository, tenant domain.Tenant) {
	t.Helper()
	if err := repo.Update(context.Background(), tenant); err != nil {
		t.Fatalf("mustUpdate failed: %v", err)
	}
}

func TestCreate_And_GetByID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tenant := domain.NewTenant("t1", "Acme Corp", "ops@acme.test", domain.TierPremium)
	tenant.Phone = "+1 555 0100"

	if err := repo.Create(ctx, tenant); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	if got.Name != "Acme Corp" {
		t.Errorf("Name = %q, want %q", got.Name, "Acme Corp")
	}
	if got.Email != "ops@acme.test" {
		t.Errorf("Email = %q, want %q", got.Email, "ops@acme.test")
	}
	if got.Tier != domain.TierPremium {
		t.Errorf("Tier = %q, want %q", got.Tier, domain.TierPremium)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusPending)
	}
	if got.Phone != "+1 555 0100" {
		t.Errorf("Phone = %q", got.Phone)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	repo := newTestRepo(t)

	mustCreate(t, repo, domain.NewTenant("t1", "Acme", "a@acme.test", domain.TierBasic))
	err := repo.Create(context.Background(), domain.NewTenant("t1", "Acme 2", "b@acme.test", domain.TierBasic))

	var dup *domain.DuplicateTenantError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateTenantError, got %v", err)
	}
	if dup.TenantID != "t1" {
		t.Errorf("TenantID = %q, want %q", dup.TenantID, "t1")
	}
}

func TestUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tenant := domain.NewTenant("t1", "Acme", "a@acme.test", domain.TierBasic)
	mustCreate(t, repo, tenant)

	tenant.Status = domain.StatusFailed
	tenant.FailedStep = "AccessGateway"
	tenant.FailureReason = "quota exceeded"
	tenant.Intent = domain.Intent{
		Type:       domain.EventOnboardingRequested,
		Version:    "1",
		CommitID:   "abc123",
		WaveNumber: "2",
	}
	mustUpdate(t, repo, tenant)

	got, _ := repo.GetByID(ctx, "t1")
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusFailed)
	}
	if got.FailedStep != "AccessGateway" || got.FailureReason != "quota exceeded" {
		t.Errorf("failure = %q/%q", got.FailedStep, got.FailureReason)
	}
	if got.Intent != tenant.Intent {
		t.Errorf("Intent = %+v, want %+v", got.Intent, tenant.Intent)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Error("UpdatedAt should not be before CreatedAt")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Update(context.Background(), domain.NewTenant("nonexistent", "X", "x@x.test", domain.TierBasic))
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestNextGeneration(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, domain.NewTenant("t1", "Acme", "a@acme.test", domain.TierBasic))

	for want := 1; want <= 3; want++ {
		got, err := repo.NextGeneration(ctx, "t1")
		if err != nil {
			t.Fatalf("NextGeneration: %v", err)
		}
		if got != want {
			t.Errorf("generation = %d, want %d", got, want)
		}
	}

	// Update must not reset the counter.
	tenant, _ := repo.GetByID(ctx, "t1")
	tenant.Generation = 0
	mustUpdate(t, repo, tenant)
	if got, _ := repo.GetByID(ctx, "t1"); got.Generation != 3 {
		t.Errorf("Generation after Update = %d, want 3", got.Generation)
	}
}

func TestNextGeneration_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	if _, err := repo.NextGeneration(context.Background(), "missing"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestList_All(t *testing.T) {
	repo := newTestRepo(t)

	mustCreate(t, repo, domain.NewTenant("t1", "A", "a@x.test", domain.TierBasic))
	mustCreate(t, repo, domain.NewTenant("t2", "B", "b@x.test", domain.TierStandard))

	tenants, err := repo.List(context.Background(), domain.ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tenants) != 2 {
		t.Errorf("got %d tenants, want 2", len(tenants))
	}
}

func TestList_FilterByStatus(t *testing.T) {
	repo := newTestRepo(t)

	mustCreate(t, repo, domain.NewTenant("t1", "A", "a@x.test", domain.TierBasic))
	t2 := domain.NewTenant("t2", "B", "b@x.test", domain.TierBasic)
	mustCreate(t, repo, t2)

	t2.Status = domain.StatusActive
	mustUpdate(t, repo, t2)

	status := domain.StatusActive
	tenants, err := repo.List(context.Background(), domain.ListFilter{Status: &status})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tenants) != 1 {
		t.Fatalf("got %d tenants, want 1", len(tenants))
	}
	if tenants[0].ID != "t2" {
		t.Errorf("ID = %q, want %q", tenants[0].ID, "t2")
	}
}

func TestList_Pagination(t *testing.T) {
	repo := newTestRepo(t)

	for i := range 5 {
		mustCreate(t, repo, domain.NewTenant(fmt.Sprintf("t-%d", i), "T", "t@x.test", domain.TierBasic))
	}

	tenants, err := repo.List(context.Background(), domain.ListFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tenants) != 2 {
		t.Errorf("got %d tenants, want 2", len(tenants))
	}

	rest, err := repo.List(context.Background(), domain.ListFilter{Offset: 3})
	if err != nil {
		t.Fatalf("List offset only: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("got %d tenants, want 2", len(rest))
	}
}
