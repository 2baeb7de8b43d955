package domain

import "time"

// DefaultMeteringMarker is the term that marks a log line as carrying
// embedded usage metrics.
const DefaultMeteringMarker = "_aws"

// LogEvent is one structured log line emitted by a tenant service.
// It is transient: consumed once by the usage router and never stored.
// Service and TenantID are used when the message itself does not carry
// "service" and "tenant_id" fields.
type LogEvent struct {
	ID        string    `json:"id"`
	Service   string    `json:"service,omitempty"`
	TenantID  string    `json:"tenantId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// RouteOutcome is what the usage router did with one log event.
type RouteOutcome string

const (
	RouteForwarded RouteOutcome = "forwarded"
	RouteSkipped   RouteOutcome = "skipped"
	RouteMalformed RouteOutcome = "malformed"
	RouteFailed    RouteOutcome = "failed"
)

// MeteringRecord is what the usage router forwards to the aggregation sink.
type MeteringRecord struct {
	ActionName    string         `json:"action_name"`
	Request       MeteringTime   `json:"request"`
	CompanyID     string         `json:"company_id"`
	TransactionID string         `json:"transaction_id"`
	Metadata      map[string]any `json:"metadata"`
}

// MeteringTime holds the request time in ISO 8601.
type MeteringTime struct {
	Time string `json:"time"`
}
