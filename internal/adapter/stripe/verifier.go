// Package stripe checks tier catalog billing plans against Stripe prices.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/price"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Verifier confirms each tier's billing plan exists and is active.
type Verifier struct{}

// NewVerifier configures the Stripe client with apiKey.
func NewVerifier(apiKey string) *Verifier {
	stripe.Key = apiKey
	stripe.SetHTTPClient(&http.Client{Timeout: 10 * time.Second})
	return &Verifier{}
}

// Verify checks every tier in catalog and reports all problems at once.
func (v *Verifier) Verify(ctx context.Context, catalog *domain.TierCatalog) error {
	var errs []error
	for _, def := range catalog.Tiers() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := price.Get(def.BillingPlanID, &stripe.PriceParams{})
		if err != nil {
			var serr *stripe.Error
			if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
				errs = append(errs, fmt.Errorf("tier %s: billing plan %s does not exist", def.Name, def.BillingPlanID))
				continue
			}
			errs = append(errs, fmt.Errorf("tier %s: fetching billing plan %s: %w", def.Name, def.BillingPlanID, err))
			continue
		}
		if !p.Active {
			errs = append(errs, fmt.Errorf("tier %s: billing plan %s is inactive", def.Name, def.BillingPlanID))
		}
	}
	return errors.Join(errs...)
}
