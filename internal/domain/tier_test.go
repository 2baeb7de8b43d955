package domain_test

import (
	"errors"
	"testing"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

func defaultCatalog(t *testing.T) *domain.TierCatalog {
	t.Helper()
	c, err := domain.NewTierCatalog(domain.DefaultTierDefinitions())
	if err != nil {
		t.Fatalf("NewTierCatalog: %v", err)
	}
	return c
}

func TestResolve_Platinum(t *testing.T) {
	c := defaultCatalog(t)

	def, err := c.Resolve("PLATINUM")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.BillingPlanID != "price_1PaQjjGaGaoOvAePt9PIecSV" {
		t.Errorf("BillingPlanID = %q", def.BillingPlanID)
	}
	if def.ThrottleClass != "platinum" {
		t.Errorf("ThrottleClass = %q, want %q", def.ThrottleClass, "platinum")
	}
}

func TestResolve_ExactName(t *testing.T) {
	c := defaultCatalog(t)
	for _, name := range []string{"basic", "Platinum", " BASIC"} {
		var unknown *domain.UnknownTierError
		if _, err := c.Resolve(name); !errors.As(err, &unknown) {
			t.Errorf("Resolve(%q): expected UnknownTierError, got %v", name, err)
		}
	}
}

func TestResolve_Unknown(t *testing.T) {
	c := defaultCatalog(t)

	_, err := c.Resolve("GOLD")
	var unknown *domain.UnknownTierError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTierError, got %v", err)
	}
	if unknown.Tier != "GOLD" {
		t.Errorf("Tier = %q, want %q", unknown.Tier, "GOLD")
	}
}

func TestNewTierCatalog_Rejects(t *testing.T) {
	cases := map[string][]domain.TierDefinition{
		"no name":   {{BillingPlanID: "price_x"}},
		"no plan":   {{Name: "BASIC"}},
		"duplicate": {{Name: "BASIC", BillingPlanID: "a"}, {Name: "basic", BillingPlanID: "b"}},
	}
	for name, defs := range cases {
		if _, err := domain.NewTierCatalog(defs); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestTiers_Sorted(t *testing.T) {
	tiers := defaultCatalog(t).Tiers()
	if len(tiers) != 4 {
		t.Fatalf("got %d tiers, want 4", len(tiers))
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1].Name > tiers[i].Name {
			t.Errorf("tiers not sorted: %q before %q", tiers[i-1].Name, tiers[i].Name)
		}
	}
}
