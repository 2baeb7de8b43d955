package domain

import (
	"context"
	"time"
)

// TenantRepository defines the persistence contract for tenants.
type TenantRepository interface {
	// Create fails with *DuplicateTenantError if the id was ever used.
	Create(ctx context.Context, tenant Tenant) error
	GetByID(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context, filter ListFilter) ([]Tenant, error)
	// Update writes status, intent and failure details. It never touches
	// the generation counter.
	Update(ctx context.Context, tenant Tenant) error
	// NextGeneration atomically increments and returns the tenant's intent
	// generation.
	NextGeneration(ctx context.Context, id string) (int, error)
}

// ListFilter holds optional criteria for listing tenants.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// DeploymentStore is the tenant mapping store. Each tenant's record is
// independent; no multi-key operations exist.
type DeploymentStore interface {
	// Put creates or replaces the record for d.TenantID.
	Put(ctx context.Context, d Deployment) error
	// Get returns ErrDeploymentNotFound if absent.
	Get(ctx context.Context, tenantID string) (Deployment, error)
	// Delete succeeds when the record is already gone.
	Delete(ctx context.Context, tenantID string) error
}

// StepState is the outcome of a provisioning step attempt.
type StepState string

const (
	StepSucceeded StepState = "succeeded"
	StepFailed    StepState = "failed"
)

// Provisioning and teardown step names, in execution order.
const (
	StepIdentity              = "Identity"
	StepAccessGateway         = "AccessGateway"
	StepDeploymentRecord      = "DeploymentRecord"
	StepAccessGatewayTeardown = "AccessGatewayTeardown"
	StepIdentityTeardown      = "IdentityTeardown"
	StepDeploymentTeardown    = "DeploymentRecordTeardown"
)

// StepRecord is the persisted outcome of one step for one tenant. Version
// is the intent version the step ran for; a record from another intent
// does not count as done.
type StepRecord struct {
	TenantID  string
	Step      string
	Version   string
	State     StepState
	Output    []byte
	Error     string
	UpdatedAt time.Time
}

// Ledger tracks step outcomes and handled deliveries so that redelivered
// or resumed work is not repeated.
type Ledger interface {
	// Step returns ErrNotFound if the step never ran for the tenant.
	Step(ctx context.Context, tenantID, step string) (StepRecord, error)
	RecordStep(ctx context.Context, rec StepRecord) error
	Processed(ctx context.Context, key DeliveryKey) (bool, error)
	MarkProcessed(ctx context.Context, key DeliveryKey) error
}

// EventBus publishes control-plane events.
type EventBus interface {
	Publish(ctx context.Context, env Envelope) error
}

// Transactor runs fn so that every store write and publish made with the
// context it is given commits or rolls back together.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Delivery is an event taken off the bus and held until it is handled.
type Delivery struct {
	Seq      int64
	Envelope Envelope
}

// Inbox keeps delivered events durable between the bus and the dispatcher.
// A held event is released only once it has been handled; anything still
// held is delivered again on the next start.
type Inbox interface {
	// Hold stores env under the bus job that delivered it. Holding the same
	// job twice returns the first sequence number.
	Hold(ctx context.Context, jobID int64, env Envelope) (int64, error)
	Release(ctx context.Context, seq int64) error
	// Pending returns held deliveries in the order they were held.
	Pending(ctx context.Context) ([]Delivery, error)
}

// EventSink observes every event on the bus, for monitoring.
type EventSink interface {
	Observe(ctx context.Context, env Envelope) error
}

// TransitionValidator checks lifecycle transitions against Transitions.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, t Transition) (Status, error)
}

// Identity is the output of the identity step.
type Identity struct {
	PoolID   string `json:"identityPoolId"`
	ClientID string `json:"clientId"`
}

// Gateway is the output of the access gateway step.
type Gateway struct {
	URL      string `json:"gatewayUrl"`
	APIKeyID string `json:"apiKeyId,omitempty"`
}

// IdentityProvisioner creates the tenant's user directory and client
// credentials. Both calls are idempotent per tenant id.
type IdentityProvisioner interface {
	Provision(ctx context.Context, tenantID string) (Identity, error)
	Deprovision(ctx context.Context, tenantID string) error
}

// GatewayProvisioner creates the tenant's request-routing surface. It needs
// the identity step's output. Both calls are idempotent per tenant id.
type GatewayProvisioner interface {
	Provision(ctx context.Context, tenantID string, throttle ThrottleClass, identity Identity) (Gateway, error)
	Deprovision(ctx context.Context, tenantID string) error
}

// UsageSink receives metering records from the usage log router.
type UsageSink interface {
	Forward(ctx context.Context, rec MeteringRecord) error
}
