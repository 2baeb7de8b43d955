package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrNotFound           = errors.New("not found")
	ErrTenantNotFound     = fmt.Errorf("tenant %w", ErrNotFound)
	ErrDeploymentNotFound = fmt.Errorf("deployment record %w", ErrNotFound)
)

// ValidationError is implemented by errors that reject a request
// synchronously, before it enters the state machine.
type ValidationError interface {
	error
	Validation()
}

// InvalidTierError is returned when onboarding names a tier the catalog
// does not know.
type InvalidTierError struct {
	Tier string
}

func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("tier %q is not offered", e.Tier)
}

func (*InvalidTierError) Validation() {}

// DuplicateTenantError is returned when a tenant id is already taken.
type DuplicateTenantError struct {
	TenantID string
}

func (e *DuplicateTenantError) Error() string {
	return fmt.Sprintf("tenant %q already exists", e.TenantID)
}

func (*DuplicateTenantError) Validation() {}

// InvalidTenantError is returned for malformed onboarding requests.
type InvalidTenantError struct {
	Reason string
}

func (e *InvalidTenantError) Error() string {
	return "invalid tenant: " + e.Reason
}

func (*InvalidTenantError) Validation() {}

// InvalidEventError is returned when an inbound envelope cannot be put on
// the bus.
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string {
	return "invalid event: " + e.Reason
}

func (*InvalidEventError) Validation() {}

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Transition Transition
	Current    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %q is not valid from state %q", e.Transition, e.Current)
}

func (*TransitionError) Validation() {}

// UnknownTierError is returned by the tier catalog for unrecognized names.
type UnknownTierError struct {
	Tier string
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown tier %q", e.Tier)
}

// TransientProvisioningError marks a collaborator failure worth retrying:
// timeouts, throttling, unavailability.
type TransientProvisioningError struct {
	Step string
	Err  error
}

func (e *TransientProvisioningError) Error() string {
	return fmt.Sprintf("step %s: transient failure: %v", e.Step, e.Err)
}

func (e *TransientProvisioningError) Unwrap() error { return e.Err }

// TerminalProvisioningError marks an unrecoverable collaborator rejection.
// A step failing with it is not retried.
type TerminalProvisioningError struct {
	Step string
	Err  error
}

func (e *TerminalProvisioningError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *TerminalProvisioningError) Unwrap() error { return e.Err }

// Terminal wraps err as a TerminalProvisioningError. Collaborators use it to
// tell the orchestrator not to retry.
func Terminal(step string, err error) error {
	return &TerminalProvisioningError{Step: step, Err: err}
}

// IsTerminal reports whether err carries a TerminalProvisioningError.
func IsTerminal(err error) bool {
	var t *TerminalProvisioningError
	return errors.As(err, &t)
}

// OrderingDeferral is returned when an event arrives before the event it
// causally depends on.
type OrderingDeferral struct {
	Key    DeliveryKey
	Status Status
}

func (e *OrderingDeferral) Error() string {
	return fmt.Sprintf("%s for tenant %q (version %s) arrived in state %q before its predecessor",
		e.Key.Type, e.Key.TenantID, e.Key.Version, e.Status)
}
