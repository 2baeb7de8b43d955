package domain

import "time"

// Status represents the lifecycle state of a tenant.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusProvisioning   Status = "Provisioning"
	StatusActive         Status = "Active"
	StatusFailed         Status = "Failed"
	StatusDeprovisioning Status = "Deprovisioning"
	StatusRemoved        Status = "Removed"
)

// Transition is an internal lifecycle event that moves a tenant between states.
// These are distinct from the control-plane event types carried on the bus.
type Transition string

const (
	TransitionAccept      Transition = "accept"
	TransitionSucceed     Transition = "succeed"
	TransitionFail        Transition = "fail"
	TransitionRedeploy    Transition = "redeploy"
	TransitionOffboard    Transition = "offboard"
	TransitionTeardownEnd Transition = "teardown_complete"
)

// Edge defines a valid state change: a transition moves a tenant from Src to Dst.
type Edge struct {
	Transition Transition
	Src        Status
	Dst        Status
}

// Transitions defines all valid state changes in the tenant lifecycle.
// This is domain knowledge consumed by the FSM adapter.
var Transitions = []Edge{
	{Transition: TransitionAccept, Src: StatusPending, Dst: StatusProvisioning},
	{Transition: TransitionSucceed, Src: StatusProvisioning, Dst: StatusActive},
	{Transition: TransitionFail, Src: StatusProvisioning, Dst: StatusFailed},
	{Transition: TransitionRedeploy, Src: StatusActive, Dst: StatusProvisioning},
	{Transition: TransitionOffboard, Src: StatusActive, Dst: StatusDeprovisioning},
	{Transition: TransitionOffboard, Src: StatusFailed, Dst: StatusDeprovisioning},
	{Transition: TransitionTeardownEnd, Src: StatusDeprovisioning, Dst: StatusRemoved},
}

// Intent is the lifecycle request a tenant is currently working through.
// It is recorded when the orchestrator accepts an event so an interrupted
// intent can be resumed after a restart.
type Intent struct {
	Type       EventType
	Version    string
	CommitID   string
	WaveNumber string
}

// Tenant is a customer organization with isolated resources and access policy.
type Tenant struct {
	ID      string
	Name    string
	Email   string
	Tier    Tier
	Status  Status
	Phone   string
	Address string

	Generation    int
	Intent        Intent
	FailedStep    string
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTenant creates a tenant in the initial "Pending" state.
func NewTenant(id, name, email string, tier Tier) Tenant {
	now := time.Now().UTC()
	return Tenant{
		ID:        id,
		Name:      name,
		Email:     email,
		Tier:      tier,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DeployTarget selects what an onboarding or redeploy intent should deploy.
// Zero values fall back to the orchestrator's defaults.
type DeployTarget struct {
	CommitID   string
	WaveNumber string
}

// DefaultWaveNumber is used when an intent does not name a wave.
const DefaultWaveNumber = "1"

// Deployment maps a tenant to the stack and version it runs on.
type Deployment struct {
	TenantID   string
	StackName  string
	CommitID   string
	WaveNumber string
	UpdatedAt  time.Time
}

// StackName returns the deployment stack name for a tenant.
func StackName(tenantID string) string {
	return tenantID + "-stack"
}
