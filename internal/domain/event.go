package domain

import (
	"fmt"
	"time"
)

// EventType identifies a control-plane event.
type EventType string

const (
	EventOnboardingRequested  EventType = "TenantOnboardingRequested"
	EventOnboardingSucceeded  EventType = "TenantOnboardingSucceeded"
	EventOnboardingFailed     EventType = "TenantOnboardingFailed"
	EventUpdateRequested      EventType = "TenantUpdateRequested"
	EventUpdateSucceeded      EventType = "TenantUpdateSucceeded"
	EventUpdateFailed         EventType = "TenantUpdateFailed"
	EventOffboardingRequested EventType = "TenantOffboardingRequested"
	EventOffboardingSucceeded EventType = "TenantOffboardingSucceeded"
	EventOffboardingFailed    EventType = "TenantOffboardingFailed"
)

// IsIntent reports whether the event asks the orchestrator to do something,
// as opposed to recording something that already happened.
func (t EventType) IsIntent() bool {
	switch t {
	case EventOnboardingRequested, EventUpdateRequested, EventOffboardingRequested:
		return true
	}
	return false
}

// Known reports whether t is one of the control-plane event types.
func (t EventType) Known() bool {
	switch t {
	case EventOnboardingRequested, EventOnboardingSucceeded, EventOnboardingFailed,
		EventUpdateRequested, EventUpdateSucceeded, EventUpdateFailed,
		EventOffboardingRequested, EventOffboardingSucceeded, EventOffboardingFailed:
		return true
	}
	return false
}

// Source says which plane emitted an event.
type Source string

const (
	SourceControlPlane     Source = "control-plane"
	SourceApplicationPlane Source = "application-plane"
)

// Payload keys used by the orchestrator.
const (
	PayloadVersion    = "version"
	PayloadTier       = "tier"
	PayloadCommitID   = "commitId"
	PayloadWaveNumber = "waveNumber"
	PayloadStep       = "step"
	PayloadCause      = "cause"
	PayloadStackName  = "stackName"
)

// Envelope is an immutable control-plane event as carried on the bus.
type Envelope struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"eventType"`
	TenantID  string         `json:"tenantId"`
	Payload   map[string]any `json:"payload"`
	Source    Source         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Deferred  bool           `json:"deferred,omitempty"`
}

// PayloadString returns payload[key] rendered as a string, or "" if absent.
func (e Envelope) PayloadString(key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Version is the payload version used for delivery deduplication. Events
// without one fall back to their envelope id.
func (e Envelope) Version() string {
	if v := e.PayloadString(PayloadVersion); v != "" {
		return v
	}
	return e.ID
}

// DeliveryKey identifies an event for idempotent handling.
type DeliveryKey struct {
	TenantID string
	Type     EventType
	Version  string
}

// Key returns the deduplication key of the envelope.
func (e Envelope) Key() DeliveryKey {
	return DeliveryKey{TenantID: e.TenantID, Type: e.Type, Version: e.Version()}
}

// WithDeferred returns a copy marked as requeued once for ordering.
// The payload map is shared; envelopes are never mutated after emission.
func (e Envelope) WithDeferred() Envelope {
	e.Deferred = true
	return e
}
