package river

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Dispatcher accepts held events for per-tenant sequential handling.
type Dispatcher interface {
	Dispatch(d domain.Delivery) error
}

// EventWorker moves control-plane event jobs into the inbox and hands them
// to the dispatcher. The job completes once the event is held, not once it
// is handled; the inbox keeps it until the dispatcher releases it. One
// intake worker keeps insertion order without serializing unrelated
// tenants.
type EventWorker struct {
	river.WorkerDefaults[EventJobArgs]
	inbox      domain.Inbox
	dispatcher Dispatcher
}

// Work processes a single event job.
func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventJobArgs]) error {
	env := job.Args.Envelope

	seq, err := w.inbox.Hold(ctx, job.ID, env)
	if err != nil {
		return fmt.Errorf("holding %s: %w", env.Type, err)
	}

	slog.DebugContext(ctx, "dispatching event",
		"event", env.Type,
		"tenant_id", env.TenantID,
		"job_id", job.ID,
		"seq", seq,
		"attempt", job.Attempt,
	)
	if err := w.dispatcher.Dispatch(domain.Delivery{Seq: seq, Envelope: env}); err != nil {
		return fmt.Errorf("dispatching %s: %w", env.Type, err)
	}
	return nil
}

// MirrorWorker forwards every event to the monitoring sink.
type MirrorWorker struct {
	river.WorkerDefaults[MirrorJobArgs]
	sink domain.EventSink
}

// Work processes a single mirror job.
func (w *MirrorWorker) Work(ctx context.Context, job *river.Job[MirrorJobArgs]) error {
	if err := w.sink.Observe(ctx, job.Args.Envelope); err != nil {
		return fmt.Errorf("mirroring %s: %w", job.Args.Envelope.Type, err)
	}
	return nil
}
