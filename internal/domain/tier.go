package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Tier is a subscription level.
type Tier string

const (
	TierBasic    Tier = "BASIC"
	TierStandard Tier = "STANDARD"
	TierPremium  Tier = "PREMIUM"
	TierPlatinum Tier = "PLATINUM"
)

// ThrottleClass names the request-throttling policy bound to a tenant's gateway.
type ThrottleClass string

// TierDefinition is what a tier resolves to.
type TierDefinition struct {
	Name          Tier
	BillingPlanID string
	ThrottleClass ThrottleClass
}

// TierCatalog resolves tier names. It is immutable after construction and
// safe for concurrent reads without synchronization.
type TierCatalog struct {
	tiers map[Tier]TierDefinition
}

// NewTierCatalog copies defs into a new catalog. Tier names are matched
// exactly as given.
func NewTierCatalog(defs []TierDefinition) (*TierCatalog, error) {
	tiers := make(map[Tier]TierDefinition, len(defs))
	for _, d := range defs {
		if strings.TrimSpace(string(d.Name)) == "" {
			return nil, fmt.Errorf("tier definition without a name")
		}
		if d.BillingPlanID == "" {
			return nil, fmt.Errorf("tier %q has no billing plan id", d.Name)
		}
		if _, dup := tiers[d.Name]; dup {
			return nil, fmt.Errorf("tier %q defined twice", d.Name)
		}
		tiers[d.Name] = d
	}
	return &TierCatalog{tiers: tiers}, nil
}

// DefaultTierDefinitions returns the built-in catalog used when no catalog
// file is configured.
func DefaultTierDefinitions() []TierDefinition {
	return []TierDefinition{
		{Name: TierBasic, BillingPlanID: "price_1PWnbbGaGaoOvAePZvk8VRp0", ThrottleClass: "basic"},
		{Name: TierStandard, BillingPlanID: "price_1PaQggGaGaoOvAePWhmKJZYq", ThrottleClass: "standard"},
		{Name: TierPremium, BillingPlanID: "price_1PaQhBGaGaoOvAePQFGPdhBK", ThrottleClass: "premium"},
		{Name: TierPlatinum, BillingPlanID: "price_1PaQjjGaGaoOvAePt9PIecSV", ThrottleClass: "platinum"},
	}
}

// Resolve returns the definition for name or an *UnknownTierError.
func (c *TierCatalog) Resolve(name string) (TierDefinition, error) {
	def, ok := c.tiers[Tier(name)]
	if !ok {
		return TierDefinition{}, &UnknownTierError{Tier: name}
	}
	return def, nil
}

// Tiers returns all definitions ordered by name.
func (c *TierCatalog) Tiers() []TierDefinition {
	out := make([]TierDefinition, 0, len(c.tiers))
	for _, d := range c.tiers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
