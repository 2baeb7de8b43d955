// Package yaml loads the tier catalog from a YAML file.
package yaml

import (
	"bytes"
	"fmt"
	"io"
	"os"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// catalogFile is the on-disk layout:
//
//	tiers:
//	  - name: BASIC
//	    billingPlanId: price_123
//	    throttleClass: basic
type catalogFile struct {
	Tiers []struct {
		Name          string `yaml:"name"`
		BillingPlanID string `yaml:"billingPlanId"`
		ThrottleClass string `yaml:"throttleClass"`
	} `yaml:"tiers"`
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) (*domain.TierCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tier catalog: %w", err)
	}
	catalog, err := ParseCatalog(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

// ParseCatalog decodes a catalog document. Unknown keys are rejected.
func ParseCatalog(r io.Reader) (*domain.TierCatalog, error) {
	dec := yamlv3.NewDecoder(r)
	dec.KnownFields(true)

	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding tier catalog: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("tier catalog defines no tiers")
	}

	defs := make([]domain.TierDefinition, 0, len(f.Tiers))
	for _, t := range f.Tiers {
		throttle := t.ThrottleClass
		if throttle == "" {
			throttle = t.Name
		}
		defs = append(defs, domain.TierDefinition{
			Name:          domain.Tier(t.Name),
			BillingPlanID: t.BillingPlanID,
			ThrottleClass: domain.ThrottleClass(throttle),
		})
	}
	return domain.NewTierCatalog(defs)
}
