package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// SupersededCause is the failure cause recorded when an offboarding request
// preempts a running provisioning.
const SupersededCause = "superseded by offboarding"

// Deps are the ports the orchestrator drives.
type Deps struct {
	Tenants     domain.TenantRepository
	Deployments domain.DeploymentStore
	Ledger      domain.Ledger
	Bus         domain.EventBus
	// Tx makes request writes and their intent publish atomic. Optional.
	Tx          domain.Transactor
	Validator   domain.TransitionValidator
	Catalog     *domain.TierCatalog
	Identity    domain.IdentityProvisioner
	Gateway     domain.GatewayProvisioner
}

// Config tunes step execution.
type Config struct {
	// DefaultCommitID is deployed when a request names no commit.
	DefaultCommitID string
	// StepTimeout bounds each collaborator call.
	StepTimeout time.Duration
	// MaxAttempts is the retry budget of each step.
	MaxAttempts uint
	// InitialBackoff is the first wait between attempts.
	InitialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultCommitID == "" {
		c.DefaultCommitID = "main"
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 10 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	return c
}

// Orchestrator drives tenants through their lifecycle. It is the only
// writer of tenant status and of deployment records. OnControlPlaneEvent
// must not run concurrently for the same tenant; the Dispatcher ensures
// that.
type Orchestrator struct {
	tenants     domain.TenantRepository
	deployments domain.DeploymentStore
	ledger      domain.Ledger
	bus         domain.EventBus
	tx          domain.Transactor
	validator   domain.TransitionValidator
	catalog     *domain.TierCatalog
	identity    domain.IdentityProvisioner
	gateway     domain.GatewayProvisioner
	cfg         Config

	// superseded holds tenant ids whose provisioning should stop at the
	// next step boundary.
	superseded sync.Map
}

// NewOrchestrator creates an orchestrator over the given ports.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	tx := deps.Tx
	if tx == nil {
		tx = noTx{}
	}
	return &Orchestrator{
		tenants:     deps.Tenants,
		deployments: deps.Deployments,
		ledger:      deps.Ledger,
		bus:         deps.Bus,
		tx:          tx,
		validator:   deps.Validator,
		catalog:     deps.Catalog,
		identity:    deps.Identity,
		gateway:     deps.Gateway,
		cfg:         cfg.withDefaults(),
	}
}

// RequestOnboarding registers a new tenant in Pending and emits the
// onboarding intent in the same transaction. Bad tiers and reused ids are
// rejected before any event is emitted.
func (o *Orchestrator) RequestOnboarding(ctx context.Context, tenant domain.Tenant, target domain.DeployTarget) (domain.Tenant, error) {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if err := validateTenant(tenant); err != nil {
		return domain.Tenant{}, err
	}

	def, err := o.catalog.Resolve(string(tenant.Tier))
	if err != nil {
		return domain.Tenant{}, &domain.InvalidTierError{Tier: string(tenant.Tier)}
	}

	// The first intent of a tenant is generation 1. It is recorded on the
	// Pending tenant so Resume can emit it again.
	const gen = 1
	target = o.resolveTarget(target)
	now := time.Now().UTC()
	tenant.Tier = def.Name
	tenant.Status = domain.StatusPending
	tenant.Generation = gen
	tenant.Intent = domain.Intent{
		Type:       domain.EventOnboardingRequested,
		Version:    strconv.Itoa(gen),
		CommitID:   target.CommitID,
		WaveNumber: target.WaveNumber,
	}
	tenant.FailedStep, tenant.FailureReason = "", ""
	tenant.CreatedAt, tenant.UpdatedAt = now, now

	err = o.tx.InTx(ctx, func(ctx context.Context) error {
		if err := o.tenants.Create(ctx, tenant); err != nil {
			return fmt.Errorf("creating tenant: %w", err)
		}
		if err := o.bus.Publish(ctx, onboardingEnvelope(tenant)); err != nil {
			return fmt.Errorf("publishing onboarding intent: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Tenant{}, err
	}

	slog.InfoContext(ctx, "tenant onboarding requested",
		"tenant_id", tenant.ID,
		"tier", def.Name,
		"version", gen,
	)
	return tenant, nil
}

// RequestUpdate emits a redeploy intent for an Active tenant. A target
// without a wave keeps the tenant's current wave.
func (o *Orchestrator) RequestUpdate(ctx context.Context, tenantID string, target domain.DeployTarget) error {
	tenant, err := o.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if _, err := o.validator.Apply(ctx, tenant.Status, domain.TransitionRedeploy); err != nil {
		return err
	}

	if target.WaveNumber == "" {
		target.WaveNumber, err = o.currentWave(ctx, tenant)
		if err != nil {
			return err
		}
	}
	target = o.resolveTarget(target)

	var gen int
	err = o.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if gen, err = o.tenants.NextGeneration(ctx, tenantID); err != nil {
			return fmt.Errorf("allocating intent version: %w", err)
		}
		env := newEnvelope(domain.EventUpdateRequested, tenantID, map[string]any{
			domain.PayloadVersion:    strconv.Itoa(gen),
			domain.PayloadCommitID:   target.CommitID,
			domain.PayloadWaveNumber: target.WaveNumber,
		})
		if err := o.bus.Publish(ctx, env); err != nil {
			return fmt.Errorf("publishing update intent: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "tenant update requested",
		"tenant_id", tenantID,
		"commit_id", target.CommitID,
		"version", gen,
	)
	return nil
}

// RequestOffboarding emits an offboarding intent. A tenant still being
// onboarded is flagged so its provisioning stops after the current step.
func (o *Orchestrator) RequestOffboarding(ctx context.Context, tenantID string) error {
	tenant, err := o.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}

	supersede := false
	switch tenant.Status {
	case domain.StatusPending, domain.StatusProvisioning:
		supersede = true
	case domain.StatusDeprovisioning:
		// A failed teardown is retried by a fresh intent.
	default:
		if _, err := o.validator.Apply(ctx, tenant.Status, domain.TransitionOffboard); err != nil {
			return err
		}
	}

	var gen int
	err = o.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if gen, err = o.tenants.NextGeneration(ctx, tenantID); err != nil {
			return fmt.Errorf("allocating intent version: %w", err)
		}
		env := newEnvelope(domain.EventOffboardingRequested, tenantID, map[string]any{
			domain.PayloadVersion: strconv.Itoa(gen),
		})
		if err := o.bus.Publish(ctx, env); err != nil {
			return fmt.Errorf("publishing offboarding intent: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if supersede {
		o.superseded.Store(tenantID, struct{}{})
	}

	slog.InfoContext(ctx, "tenant offboarding requested",
		"tenant_id", tenantID,
		"status", tenant.Status,
		"version", gen,
	)
	return nil
}

// GetTenant returns a tenant's record, including failure details.
func (o *Orchestrator) GetTenant(ctx context.Context, tenantID string) (domain.Tenant, error) {
	return o.tenants.GetByID(ctx, tenantID)
}

// ListTenants returns tenants matching filter.
func (o *Orchestrator) ListTenants(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	return o.tenants.List(ctx, filter)
}

// GetDeployment returns the deployment record of a tenant.
func (o *Orchestrator) GetDeployment(ctx context.Context, tenantID string) (domain.Deployment, error) {
	return o.deployments.Get(ctx, tenantID)
}

// Tiers lists the tier catalog.
func (o *Orchestrator) Tiers() []domain.TierDefinition {
	return o.catalog.Tiers()
}

// Resume republishes the in-flight intent of every tenant that was left
// mid-provisioning or mid-teardown, and the onboarding intent of every
// Pending tenant whose onboarding was never handled. Steps that already
// succeeded for the intent are skipped when it is handled again.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	resumed := 0
	for _, status := range []domain.Status{domain.StatusPending, domain.StatusProvisioning, domain.StatusDeprovisioning} {
		tenants, err := o.tenants.List(ctx, domain.ListFilter{Status: &status})
		if err != nil {
			return resumed, fmt.Errorf("listing %s tenants: %w", status, err)
		}

		for _, t := range tenants {
			if !t.Intent.Type.IsIntent() {
				slog.WarnContext(ctx, "tenant has no recorded intent to resume",
					"tenant_id", t.ID,
					"status", t.Status,
				)
				continue
			}
			var env domain.Envelope
			if status == domain.StatusPending {
				env = onboardingEnvelope(t)
				done, err := o.ledger.Processed(ctx, env.Key())
				if err != nil {
					return resumed, fmt.Errorf("checking onboarding of %s: %w", t.ID, err)
				}
				if done {
					continue
				}
			} else {
				env = newEnvelope(t.Intent.Type, t.ID, map[string]any{
					domain.PayloadVersion:    t.Intent.Version,
					domain.PayloadCommitID:   t.Intent.CommitID,
					domain.PayloadWaveNumber: t.Intent.WaveNumber,
				})
			}
			if err := o.bus.Publish(ctx, env); err != nil {
				return resumed, fmt.Errorf("resuming tenant %s: %w", t.ID, err)
			}
			resumed++
			slog.InfoContext(ctx, "resuming tenant intent",
				"tenant_id", t.ID,
				"event", t.Intent.Type,
				"version", t.Intent.Version,
			)
		}
	}
	return resumed, nil
}

// Submit puts an envelope from an external producer on the bus. Missing
// ids, sources and timestamps are filled in; the event is then handled
// like any other.
func (o *Orchestrator) Submit(ctx context.Context, env domain.Envelope) (domain.Envelope, error) {
	switch {
	case env.TenantID == "":
		return domain.Envelope{}, &domain.InvalidEventError{Reason: "tenantId is required"}
	case !env.Type.Known():
		return domain.Envelope{}, &domain.InvalidEventError{Reason: fmt.Sprintf("unknown event type %q", env.Type)}
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Source == "" {
		env.Source = domain.SourceApplicationPlane
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	env.Deferred = false

	if err := o.publish(ctx, env); err != nil {
		return domain.Envelope{}, err
	}
	slog.InfoContext(ctx, "accepted external event",
		"tenant_id", env.TenantID,
		"event", env.Type,
		"source", env.Source,
	)
	return env, nil
}

// OnControlPlaneEvent applies one control-plane event to the tenant state
// machine. Redelivered events are ignored. Provisioning failures surface as
// emitted events and tenant status, never as a returned error; a returned
// error means the event could not be handled and should be redelivered.
func (o *Orchestrator) OnControlPlaneEvent(ctx context.Context, env domain.Envelope) error {
	if !env.Type.IsIntent() {
		return nil
	}

	key := env.Key()
	done, err := o.ledger.Processed(ctx, key)
	if err != nil {
		return fmt.Errorf("checking delivery: %w", err)
	}
	if done {
		slog.DebugContext(ctx, "ignoring redelivered event",
			"tenant_id", env.TenantID,
			"event", env.Type,
			"version", key.Version,
		)
		return nil
	}

	tenant, err := o.tenants.GetByID(ctx, env.TenantID)
	if errors.Is(err, domain.ErrTenantNotFound) {
		return o.deferEvent(ctx, env, "")
	}
	if err != nil {
		return fmt.Errorf("loading tenant: %w", err)
	}

	switch env.Type {
	case domain.EventOnboardingRequested:
		return o.onOnboarding(ctx, env, tenant)
	case domain.EventUpdateRequested:
		return o.onUpdate(ctx, env, tenant)
	default:
		return o.onOffboarding(ctx, env, tenant)
	}
}

func (o *Orchestrator) onOnboarding(ctx context.Context, env domain.Envelope, tenant domain.Tenant) error {
	switch {
	case tenant.Status == domain.StatusPending:
		tenant, err := o.accept(ctx, env, tenant, domain.TransitionAccept)
		if err != nil {
			return err
		}
		return o.provision(ctx, env, tenant)
	case o.isResumable(env, tenant, domain.StatusProvisioning):
		return o.provision(ctx, env, tenant)
	default:
		return o.drop(ctx, env, tenant)
	}
}

func (o *Orchestrator) onUpdate(ctx context.Context, env domain.Envelope, tenant domain.Tenant) error {
	switch {
	case tenant.Status == domain.StatusActive:
		tenant, err := o.accept(ctx, env, tenant, domain.TransitionRedeploy)
		if err != nil {
			return err
		}
		return o.provision(ctx, env, tenant)
	case o.isResumable(env, tenant, domain.StatusProvisioning):
		return o.provision(ctx, env, tenant)
	case tenant.Status == domain.StatusPending, tenant.Status == domain.StatusProvisioning:
		return o.deferEvent(ctx, env, tenant.Status)
	default:
		return o.drop(ctx, env, tenant)
	}
}

func (o *Orchestrator) onOffboarding(ctx context.Context, env domain.Envelope, tenant domain.Tenant) error {
	switch tenant.Status {
	case domain.StatusActive, domain.StatusFailed:
		o.superseded.Delete(tenant.ID)
		tenant, err := o.accept(ctx, env, tenant, domain.TransitionOffboard)
		if err != nil {
			return err
		}
		return o.teardown(ctx, env, tenant)
	case domain.StatusDeprovisioning:
		if tenant.Intent.Version != env.Version() {
			tenant.Intent = intentFrom(env, domain.DeployTarget{})
			if err := o.save(ctx, tenant); err != nil {
				return err
			}
		}
		return o.teardown(ctx, env, tenant)
	case domain.StatusPending, domain.StatusProvisioning:
		return o.deferEvent(ctx, env, tenant.Status)
	default:
		return o.drop(ctx, env, tenant)
	}
}

// isResumable reports whether env is the intent the tenant was working on
// when it was interrupted.
func (o *Orchestrator) isResumable(env domain.Envelope, tenant domain.Tenant, status domain.Status) bool {
	return tenant.Status == status &&
		tenant.Intent.Type == env.Type &&
		tenant.Intent.Version == env.Version()
}

// accept moves the tenant along tr and records env as its in-flight intent.
func (o *Orchestrator) accept(ctx context.Context, env domain.Envelope, tenant domain.Tenant, tr domain.Transition) (domain.Tenant, error) {
	next, err := o.validator.Apply(ctx, tenant.Status, tr)
	if err != nil {
		return domain.Tenant{}, err
	}

	target := domain.DeployTarget{
		CommitID:   env.PayloadString(domain.PayloadCommitID),
		WaveNumber: env.PayloadString(domain.PayloadWaveNumber),
	}
	if target.WaveNumber == "" && tr == domain.TransitionRedeploy {
		if target.WaveNumber, err = o.currentWave(ctx, tenant); err != nil {
			return domain.Tenant{}, err
		}
	}

	prev := tenant.Status
	tenant.Status = next
	tenant.Intent = intentFrom(env, o.resolveTarget(target))
	tenant.FailedStep, tenant.FailureReason = "", ""
	if err := o.save(ctx, tenant); err != nil {
		return domain.Tenant{}, err
	}

	slog.InfoContext(ctx, "tenant transition",
		"tenant_id", tenant.ID,
		"event", env.Type,
		"from", prev,
		"to", next,
	)
	return tenant, nil
}

// drop logs and discards an event that is not valid in the tenant's state.
func (o *Orchestrator) drop(ctx context.Context, env domain.Envelope, tenant domain.Tenant) error {
	slog.WarnContext(ctx, "dropping event invalid for tenant state",
		"tenant_id", env.TenantID,
		"event", env.Type,
		"status", tenant.Status,
		"version", env.Version(),
	)
	return o.markProcessed(ctx, env)
}

// deferEvent requeues an event that arrived before its causal predecessor.
// An event that was already requeued once fails instead.
func (o *Orchestrator) deferEvent(ctx context.Context, env domain.Envelope, status domain.Status) error {
	deferral := &domain.OrderingDeferral{Key: env.Key(), Status: status}

	if !env.Deferred {
		slog.InfoContext(ctx, "deferring event until its predecessor is handled",
			"tenant_id", env.TenantID,
			"event", env.Type,
			"status", status,
		)
		if err := o.bus.Publish(ctx, env.WithDeferred()); err != nil {
			return fmt.Errorf("requeueing deferred event: %w", err)
		}
		return nil
	}

	slog.WarnContext(ctx, "dropping event still out of order after requeue",
		"tenant_id", env.TenantID,
		"event", env.Type,
		"status", status,
		"error", deferral,
	)
	failed := newEnvelope(failureEventFor(env.Type), env.TenantID, map[string]any{
		domain.PayloadVersion: env.Version(),
		domain.PayloadCause:   deferral.Error(),
	})
	if err := o.bus.Publish(ctx, failed); err != nil {
		return fmt.Errorf("publishing ordering failure: %w", err)
	}
	return o.markProcessed(ctx, env)
}

func (o *Orchestrator) save(ctx context.Context, tenant domain.Tenant) error {
	tenant.UpdatedAt = time.Now().UTC()
	if err := o.tenants.Update(ctx, tenant); err != nil {
		return fmt.Errorf("updating tenant: %w", err)
	}
	return nil
}

func (o *Orchestrator) markProcessed(ctx context.Context, env domain.Envelope) error {
	if err := o.ledger.MarkProcessed(ctx, env.Key()); err != nil {
		return fmt.Errorf("marking event processed: %w", err)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, env domain.Envelope) error {
	if err := o.bus.Publish(ctx, env); err != nil {
		return fmt.Errorf("publishing %s: %w", env.Type, err)
	}
	return nil
}

// currentWave is the wave of the tenant's deployment record, or of its
// last intent when no record exists.
func (o *Orchestrator) currentWave(ctx context.Context, tenant domain.Tenant) (string, error) {
	d, err := o.deployments.Get(ctx, tenant.ID)
	switch {
	case err == nil:
		return d.WaveNumber, nil
	case errors.Is(err, domain.ErrNotFound):
		return tenant.Intent.WaveNumber, nil
	default:
		return "", fmt.Errorf("reading deployment: %w", err)
	}
}

func (o *Orchestrator) resolveTarget(t domain.DeployTarget) domain.DeployTarget {
	if t.CommitID == "" {
		t.CommitID = o.cfg.DefaultCommitID
	}
	if t.WaveNumber == "" {
		t.WaveNumber = domain.DefaultWaveNumber
	}
	return t
}

// takeSuperseded reports and clears the supersede flag of a tenant.
func (o *Orchestrator) takeSuperseded(tenantID string) bool {
	_, ok := o.superseded.LoadAndDelete(tenantID)
	return ok
}

func validateTenant(t domain.Tenant) error {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return &domain.InvalidTenantError{Reason: "name is required"}
	case strings.TrimSpace(t.Email) == "":
		return &domain.InvalidTenantError{Reason: "email is required"}
	case t.Status != "" && t.Status != domain.StatusPending:
		return &domain.InvalidTenantError{Reason: fmt.Sprintf("new tenants start in %s, got %s", domain.StatusPending, t.Status)}
	}
	return nil
}

func intentFrom(env domain.Envelope, target domain.DeployTarget) domain.Intent {
	return domain.Intent{
		Type:       env.Type,
		Version:    env.Version(),
		CommitID:   target.CommitID,
		WaveNumber: target.WaveNumber,
	}
}

func onboardingEnvelope(t domain.Tenant) domain.Envelope {
	return newEnvelope(domain.EventOnboardingRequested, t.ID, map[string]any{
		domain.PayloadVersion:    t.Intent.Version,
		domain.PayloadTier:       string(t.Tier),
		domain.PayloadCommitID:   t.Intent.CommitID,
		domain.PayloadWaveNumber: t.Intent.WaveNumber,
	})
}

// noTx runs fn directly, for stores without transactions.
type noTx struct{}

func (noTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func newEnvelope(t domain.EventType, tenantID string, payload map[string]any) domain.Envelope {
	return domain.Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		TenantID:  tenantID,
		Payload:   payload,
		Source:    domain.SourceControlPlane,
		Timestamp: time.Now().UTC(),
	}
}

func failureEventFor(t domain.EventType) domain.EventType {
	switch t {
	case domain.EventOnboardingRequested:
		return domain.EventOnboardingFailed
	case domain.EventUpdateRequested:
		return domain.EventUpdateFailed
	default:
		return domain.EventOffboardingFailed
	}
}

func successEventFor(t domain.EventType) domain.EventType {
	switch t {
	case domain.EventOnboardingRequested:
		return domain.EventOnboardingSucceeded
	case domain.EventUpdateRequested:
		return domain.EventUpdateSucceeded
	default:
		return domain.EventOffboardingSucceeded
	}
}
