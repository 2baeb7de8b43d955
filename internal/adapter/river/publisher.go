package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Compile-time check: Publisher implements domain.EventBus.
var _ domain.EventBus = (*Publisher)(nil)

// Queue names.
const (
	QueueControlPlane  = "control_plane"
	QueueObservability = "observability"
)

// EventJobArgs carries a control-plane event to the orchestrator.
// River serializes it as JSON into its job table, so the envelope survives
// a restart between publish and handling.
type EventJobArgs struct {
	Envelope domain.Envelope `json:"envelope"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (EventJobArgs) Kind() string { return "control_plane.event" }

// InsertOpts routes the job to the single-worker intake queue, which hands
// events to the dispatcher in insertion order.
func (EventJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueControlPlane, MaxAttempts: 10}
}

// MirrorJobArgs carries a copy of every event to the monitoring sink.
type MirrorJobArgs struct {
	Envelope domain.Envelope `json:"envelope"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (MirrorJobArgs) Kind() string { return "observability.mirror" }

// InsertOpts routes the job to the observability queue.
func (MirrorJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueObservability, MaxAttempts: 5}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.EventBus by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues the envelope for the orchestrator and for the mirror in
// a single insert. Inside sqlite.Transactor.InTx the jobs become visible
// only when the transaction commits.
func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	params := []river.InsertManyParams{
		{Args: EventJobArgs{Envelope: env}},
		{Args: MirrorJobArgs{Envelope: env}},
	}

	var err error
	if tx, ok := sqlite.TxFromContext(ctx); ok {
		_, err = p.client.InsertManyTx(ctx, tx, params)
	} else {
		_, err = p.client.InsertMany(ctx, params)
	}
	if err != nil {
		return fmt.Errorf("enqueuing %s for tenant %s: %w", env.Type, env.TenantID, err)
	}
	return nil
}
