package sqlite_test

import (
	"context"
	"testing"

	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

func heldEnvelope(id, tenantID string) domain.Envelope {
	return domain.Envelope{
		ID:       id,
		Type:     domain.EventOnboardingRequested,
		TenantID: tenantID,
		Payload:  map[string]any{domain.PayloadVersion: "1", domain.PayloadTier: "BASIC"},
		Source:   domain.SourceControlPlane,
	}
}

func TestInbox_HoldAndRelease(t *testing.T) {
	inbox := sqlite.NewInbox(newTestRepo(t).DB())
	ctx := context.Background()

	first, err := inbox.Hold(ctx, 10, heldEnvelope("e1", "t1"))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	second, _ := inbox.Hold(ctx, 11, heldEnvelope("e2", "t2"))
	if second <= first {
		t.Errorf("sequence %d should follow %d", second, first)
	}

	pending, err := inbox.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Seq != first || pending[1].Envelope.ID != "e2" {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].Envelope.PayloadString(domain.PayloadTier) != "BASIC" {
		t.Errorf("payload not preserved: %v", pending[0].Envelope.Payload)
	}

	if err := inbox.Release(ctx, first); err != nil {
		t.Fatalf("Release: %v", err)
	}
	pending, _ = inbox.Pending(ctx)
	if len(pending) != 1 || pending[0].Seq != second {
		t.Errorf("pending after release = %+v", pending)
	}
}

func TestInbox_HoldSameJobTwice(t *testing.T) {
	inbox := sqlite.NewInbox(newTestRepo(t).DB())
	ctx := context.Background()

	first, _ := inbox.Hold(ctx, 7, heldEnvelope("e1", "t1"))
	again, err := inbox.Hold(ctx, 7, heldEnvelope("e1", "t1"))
	if err != nil {
		t.Fatalf("Hold again: %v", err)
	}
	if again != first {
		t.Errorf("second hold = %d, want %d", again, first)
	}
	if pending, _ := inbox.Pending(ctx); len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestInbox_ReleaseMissing(t *testing.T) {
	inbox := sqlite.NewInbox(newTestRepo(t).DB())
	if err := inbox.Release(context.Background(), 42); err != nil {
		t.Errorf("Release of unknown seq: %v", err)
	}
}
