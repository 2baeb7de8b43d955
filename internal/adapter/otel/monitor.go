package otel

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

const meterName = tracerName

// Compile-time check: Monitor implements domain.EventSink.
var _ domain.EventSink = (*Monitor)(nil)

// Monitor is the observability bridge. It logs and counts every
// control-plane event and fans it out to optional external mirrors.
type Monitor struct {
	events   metric.Int64Counter
	failures metric.Int64Counter
	mirrors  []domain.EventSink
}

// NewMonitor creates a monitor that also forwards every event to mirrors.
func NewMonitor(mirrors ...domain.EventSink) (*Monitor, error) {
	meter := otel.Meter(meterName)

	events, err := meter.Int64Counter("tenantplane.events",
		metric.WithDescription("Control-plane events observed on the bus"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("tenantplane.tenant.failures",
		metric.WithDescription("Lifecycle intents that ended in failure"),
	)
	if err != nil {
		return nil, err
	}

	return &Monitor{events: events, failures: failures, mirrors: mirrors}, nil
}

// Observe records env and forwards it to every mirror. Mirror errors are
// joined so a job retry covers all of them.
func (m *Monitor) Observe(ctx context.Context, env domain.Envelope) error {
	attrs := metric.WithAttributes(
		attribute.String("event.type", string(env.Type)),
		attribute.String("event.source", string(env.Source)),
	)
	m.events.Add(ctx, 1, attrs)

	level := slog.LevelInfo
	if strings.HasSuffix(string(env.Type), "Failed") {
		level = slog.LevelWarn
		m.failures.Add(ctx, 1, attrs)
	}
	slog.Log(ctx, level, "control-plane event",
		"event", env.Type,
		"tenant_id", env.TenantID,
		"source", env.Source,
		"version", env.Version(),
		"step", env.PayloadString(domain.PayloadStep),
		"cause", env.PayloadString(domain.PayloadCause),
	)

	var errs []error
	for _, mirror := range m.mirrors {
		if err := mirror.Observe(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
