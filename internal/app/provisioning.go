package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// errSuperseded stops a provisioning run at a step boundary.
var errSuperseded = errors.New(SupersededCause)

// provision runs the provisioning steps for the tenant's current intent and
// settles the tenant in Active or Failed.
func (o *Orchestrator) provision(ctx context.Context, env domain.Envelope, tenant domain.Tenant) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{domain.StepIdentity, nil},
		{domain.StepAccessGateway, nil},
		{domain.StepDeploymentRecord, nil},
	}

	var identity domain.Identity
	var gateway domain.Gateway
	steps[0].run = func(ctx context.Context) (err error) {
		identity, err = runStep(ctx, o, tenant, domain.StepIdentity, func(ctx context.Context) (domain.Identity, error) {
			return o.identity.Provision(ctx, tenant.ID)
		})
		return err
	}
	steps[1].run = func(ctx context.Context) (err error) {
		gateway, err = runStep(ctx, o, tenant, domain.StepAccessGateway, func(ctx context.Context) (domain.Gateway, error) {
			def, err := o.catalog.Resolve(string(tenant.Tier))
			if err != nil {
				return domain.Gateway{}, domain.Terminal(domain.StepAccessGateway, err)
			}
			return o.gateway.Provision(ctx, tenant.ID, def.ThrottleClass, identity)
		})
		return err
	}
	steps[2].run = func(ctx context.Context) error {
		_, err := runStep(ctx, o, tenant, domain.StepDeploymentRecord, func(ctx context.Context) (domain.Deployment, error) {
			d := domain.Deployment{
				TenantID:   tenant.ID,
				StackName:  domain.StackName(tenant.ID),
				CommitID:   tenant.Intent.CommitID,
				WaveNumber: tenant.Intent.WaveNumber,
			}
			return d, o.deployments.Put(ctx, d)
		})
		return err
	}

	for _, step := range steps {
		if o.takeSuperseded(tenant.ID) {
			return o.failProvisioning(ctx, env, tenant, step.name, errSuperseded)
		}
		if err := step.run(ctx); err != nil {
			if !isStepFailure(err) {
				return err
			}
			return o.failProvisioning(ctx, env, tenant, step.name, err)
		}
	}

	return o.completeProvisioning(ctx, env, tenant, gateway)
}

func (o *Orchestrator) completeProvisioning(ctx context.Context, env domain.Envelope, tenant domain.Tenant, gateway domain.Gateway) error {
	next, err := o.validator.Apply(ctx, tenant.Status, domain.TransitionSucceed)
	if err != nil {
		return err
	}
	tenant.Status = next
	tenant.FailedStep, tenant.FailureReason = "", ""
	if err := o.save(ctx, tenant); err != nil {
		return err
	}

	slog.InfoContext(ctx, "tenant provisioned",
		"tenant_id", tenant.ID,
		"event", env.Type,
		"commit_id", tenant.Intent.CommitID,
		"gateway_url", gateway.URL,
	)

	done := newEnvelope(successEventFor(tenant.Intent.Type), tenant.ID, map[string]any{
		domain.PayloadVersion:    tenant.Intent.Version,
		domain.PayloadTier:       string(tenant.Tier),
		domain.PayloadStackName:  domain.StackName(tenant.ID),
		domain.PayloadCommitID:   tenant.Intent.CommitID,
		domain.PayloadWaveNumber: tenant.Intent.WaveNumber,
	})
	if err := o.publish(ctx, done); err != nil {
		return err
	}
	return o.markProcessed(ctx, env)
}

// failProvisioning moves the tenant to Failed. A tenant that was Active
// before the intent keeps its deployment record.
func (o *Orchestrator) failProvisioning(ctx context.Context, env domain.Envelope, tenant domain.Tenant, step string, cause error) error {
	next, err := o.validator.Apply(ctx, tenant.Status, domain.TransitionFail)
	if err != nil {
		return err
	}
	tenant.Status = next
	tenant.FailedStep = step
	tenant.FailureReason = causeOf(cause)
	if err := o.save(ctx, tenant); err != nil {
		return err
	}

	slog.WarnContext(ctx, "tenant provisioning failed",
		"tenant_id", tenant.ID,
		"event", env.Type,
		"step", step,
		"error", cause,
	)

	failed := newEnvelope(failureEventFor(tenant.Intent.Type), tenant.ID, map[string]any{
		domain.PayloadVersion: tenant.Intent.Version,
		domain.PayloadStep:    step,
		domain.PayloadCause:   tenant.FailureReason,
	})
	if err := o.publish(ctx, failed); err != nil {
		return err
	}
	return o.markProcessed(ctx, env)
}

// teardown releases the tenant's resources in reverse provisioning order.
// A failing step leaves the tenant in Deprovisioning with the cause
// recorded.
func (o *Orchestrator) teardown(ctx context.Context, env domain.Envelope, tenant domain.Tenant) error {
	steps := []struct {
		name string
		run  func(context.Context, string) error
	}{
		{domain.StepAccessGatewayTeardown, o.gateway.Deprovision},
		{domain.StepIdentityTeardown, o.identity.Deprovision},
		{domain.StepDeploymentTeardown, o.deployments.Delete},
	}

	for _, step := range steps {
		_, err := runStep(ctx, o, tenant, step.name, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, step.run(ctx, tenant.ID)
		})
		if err == nil {
			continue
		}
		if !isStepFailure(err) {
			return err
		}
		return o.failTeardown(ctx, env, tenant, step.name, err)
	}

	next, err := o.validator.Apply(ctx, tenant.Status, domain.TransitionTeardownEnd)
	if err != nil {
		return err
	}
	tenant.Status = next
	tenant.FailedStep, tenant.FailureReason = "", ""
	if err := o.save(ctx, tenant); err != nil {
		return err
	}

	slog.InfoContext(ctx, "tenant removed", "tenant_id", tenant.ID)

	done := newEnvelope(domain.EventOffboardingSucceeded, tenant.ID, map[string]any{
		domain.PayloadVersion: tenant.Intent.Version,
	})
	if err := o.publish(ctx, done); err != nil {
		return err
	}
	return o.markProcessed(ctx, env)
}

func (o *Orchestrator) failTeardown(ctx context.Context, env domain.Envelope, tenant domain.Tenant, step string, cause error) error {
	tenant.FailedStep = step
	tenant.FailureReason = causeOf(cause)
	if err := o.save(ctx, tenant); err != nil {
		return err
	}

	slog.WarnContext(ctx, "tenant teardown failed",
		"tenant_id", tenant.ID,
		"step", step,
		"error", cause,
	)

	failed := newEnvelope(domain.EventOffboardingFailed, tenant.ID, map[string]any{
		domain.PayloadVersion: tenant.Intent.Version,
		domain.PayloadStep:    step,
		domain.PayloadCause:   tenant.FailureReason,
	})
	if err := o.publish(ctx, failed); err != nil {
		return err
	}
	return o.markProcessed(ctx, env)
}

// runStep executes one step for the tenant's current intent. A step that
// already succeeded for the same intent version returns its stored output
// without calling out again. Collaborator failures come back as
// *domain.TransientProvisioningError or *domain.TerminalProvisioningError;
// any other error is a ledger failure.
func runStep[T any](ctx context.Context, o *Orchestrator, tenant domain.Tenant, step string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	version := tenant.Intent.Version

	rec, err := o.ledger.Step(ctx, tenant.ID, step)
	switch {
	case err == nil && rec.State == domain.StepSucceeded && rec.Version == version:
		var out T
		if len(rec.Output) > 0 {
			if err := json.Unmarshal(rec.Output, &out); err != nil {
				return zero, fmt.Errorf("decoding stored %s output: %w", step, err)
			}
		}
		slog.DebugContext(ctx, "skipping completed step", "tenant_id", tenant.ID, "step", step)
		return out, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return zero, fmt.Errorf("reading step %s: %w", step, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InitialBackoff

	attempt := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()

		v, err := call(callCtx)
		if err == nil {
			return v, nil
		}
		if domain.IsTerminal(err) {
			return zero, backoff.Permanent(err)
		}
		slog.WarnContext(ctx, "step attempt failed",
			"tenant_id", tenant.ID,
			"step", step,
			"attempt", attempt,
			"error", err,
		)
		return zero, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(o.cfg.MaxAttempts))

	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: the intent stays in flight for Resume.
			return zero, ctx.Err()
		}
		stepErr := classify(step, err)
		rec := domain.StepRecord{TenantID: tenant.ID, Step: step, Version: version, State: domain.StepFailed, Error: stepErr.Error()}
		if lerr := o.ledger.RecordStep(ctx, rec); lerr != nil {
			return zero, fmt.Errorf("recording step %s: %w", step, lerr)
		}
		return zero, stepErr
	}

	output, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("encoding %s output: %w", step, err)
	}
	rec = domain.StepRecord{TenantID: tenant.ID, Step: step, Version: version, State: domain.StepSucceeded, Output: output, UpdatedAt: time.Now().UTC()}
	if err := o.ledger.RecordStep(ctx, rec); err != nil {
		return zero, fmt.Errorf("recording step %s: %w", step, err)
	}
	return out, nil
}

// classify turns the last step error into a provisioning error type.
func classify(step string, err error) error {
	var term *domain.TerminalProvisioningError
	if errors.As(err, &term) {
		return &domain.TerminalProvisioningError{Step: step, Err: term.Err}
	}
	return &domain.TransientProvisioningError{Step: step, Err: err}
}

func isStepFailure(err error) bool {
	var transient *domain.TransientProvisioningError
	var term *domain.TerminalProvisioningError
	return errors.As(err, &transient) || errors.As(err, &term)
}

// causeOf is the cause recorded on the tenant: the collaborator's message
// without the step prefix.
func causeOf(err error) string {
	var transient *domain.TransientProvisioningError
	var term *domain.TerminalProvisioningError
	switch {
	case errors.As(err, &term):
		return term.Err.Error()
	case errors.As(err, &transient):
		return transient.Err.Error()
	default:
		return err.Error()
	}
}
