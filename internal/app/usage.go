package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

const meterName = "github.com/neomorfeo/tenantplane/internal/app"

// UsageConfig tunes the usage log router.
type UsageConfig struct {
	// Marker is the term a log message must contain to be forwarded.
	Marker string
	// MaxAttempts bounds forwarding retries per event.
	MaxAttempts uint
	// InitialBackoff is the first wait between forwarding attempts.
	InitialBackoff time.Duration
}

// UsageRouter forwards metering log lines to the usage sink. Routing is
// best-effort: failures are reported through logs, metrics and the active
// span, and never returned to the caller.
type UsageRouter struct {
	sink   domain.UsageSink
	cfg    UsageConfig
	routed metric.Int64Counter
	now    func() time.Time
}

// NewUsageRouter creates a router forwarding to sink.
func NewUsageRouter(sink domain.UsageSink, cfg UsageConfig) *UsageRouter {
	if cfg.Marker == "" {
		cfg.Marker = domain.DefaultMeteringMarker
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}

	routed, err := otel.Meter(meterName).Int64Counter("tenantplane.usage.routed",
		metric.WithDescription("Usage log events by routing outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &UsageRouter{
		sink:   sink,
		cfg:    cfg,
		routed: routed,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Route forwards ev if it carries the metering marker. Events without it
// are skipped and never forwarded.
func (r *UsageRouter) Route(ctx context.Context, ev domain.LogEvent) domain.RouteOutcome {
	outcome := r.route(ctx, ev)
	if r.routed != nil {
		r.routed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
	return outcome
}

// RouteBatch routes each event in order and tallies the outcomes.
func (r *UsageRouter) RouteBatch(ctx context.Context, events []domain.LogEvent) map[domain.RouteOutcome]int {
	tally := make(map[domain.RouteOutcome]int)
	for _, ev := range events {
		tally[r.Route(ctx, ev)]++
	}
	return tally
}

func (r *UsageRouter) route(ctx context.Context, ev domain.LogEvent) domain.RouteOutcome {
	if !strings.Contains(ev.Message, r.cfg.Marker) {
		return domain.RouteSkipped
	}

	rec, err := r.transform(ev)
	if err != nil {
		r.report(ctx, ev, domain.RouteMalformed, err)
		return domain.RouteMalformed
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, r.sink.Forward(ctx, rec)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.MaxAttempts))
	if err != nil {
		r.report(ctx, ev, domain.RouteFailed, err)
		return domain.RouteFailed
	}
	return domain.RouteForwarded
}

func (r *UsageRouter) report(ctx context.Context, ev domain.LogEvent, outcome domain.RouteOutcome, err error) {
	slog.ErrorContext(ctx, "dropping usage log event",
		"log_event_id", ev.ID,
		"service", ev.Service,
		"outcome", outcome,
		"error", err,
	)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("usage.log_event_id", ev.ID)))
	span.SetStatus(codes.Error, "usage routing failed")
}

// emfPayload is the subset of an embedded-metric-format log line the
// router reads.
type emfPayload struct {
	Service  string `json:"service"`
	TenantID string `json:"tenant_id"`
	AWS      struct {
		CloudWatchMetrics []struct {
			Metrics []struct {
				Name string `json:"Name"`
			} `json:"Metrics"`
		} `json:"CloudWatchMetrics"`
	} `json:"_aws"`
}

var errNoTenant = errors.New("metering log line names no tenant")

// transform builds the metering record for a log line. Metric values are
// read from top-level fields named in the first metric directive; list
// values contribute their first element.
func (r *UsageRouter) transform(ev domain.LogEvent) (domain.MeteringRecord, error) {
	var payload emfPayload
	if err := json.Unmarshal([]byte(ev.Message), &payload); err != nil {
		return domain.MeteringRecord{}, fmt.Errorf("decoding metering log line: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(ev.Message), &fields); err != nil {
		return domain.MeteringRecord{}, fmt.Errorf("decoding metering log line: %w", err)
	}

	service := payload.Service
	if service == "" {
		service = ev.Service
	}
	tenantID := payload.TenantID
	if tenantID == "" {
		tenantID = ev.TenantID
	}
	if tenantID == "" {
		return domain.MeteringRecord{}, errNoTenant
	}

	metadata := map[string]any{
		"service":      service,
		"source":       "kinesis",
		"log_event_id": ev.ID,
	}
	if len(payload.AWS.CloudWatchMetrics) > 0 {
		for _, m := range payload.AWS.CloudWatchMetrics[0].Metrics {
			v, ok := fields[m.Name]
			if !ok || v == nil {
				continue
			}
			if list, isList := v.([]any); isList {
				if len(list) == 0 || list[0] == nil {
					continue
				}
				v = list[0]
			}
			metadata[m.Name] = v
		}
	}

	return domain.MeteringRecord{
		ActionName:    "Processed Transaction for " + service,
		Request:       domain.MeteringTime{Time: r.now().Truncate(time.Second).Format(time.RFC3339)},
		CompanyID:     tenantID,
		TransactionID: uuid.NewString(),
		Metadata:      metadata,
	}, nil
}
