// Package eventbridge mirrors control-plane events onto an EventBridge bus
// for consumers outside the control plane.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	eb "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// API is the subset of the EventBridge client the mirror calls.
type API interface {
	PutEvents(ctx context.Context, in *eb.PutEventsInput, opts ...func(*eb.Options)) (*eb.PutEventsOutput, error)
}

var _ domain.EventSink = (*Mirror)(nil)

// Mirror implements domain.EventSink.
type Mirror struct {
	api API
	bus string
}

// New creates a Mirror that puts events on bus.
func New(api API, bus string) *Mirror {
	return &Mirror{api: api, bus: bus}
}

// NewFromConfig creates a Mirror backed by a real EventBridge client.
func NewFromConfig(cfg aws.Config, bus string) *Mirror {
	return New(eb.NewFromConfig(cfg), bus)
}

// detail is the EventBridge event body.
type detail struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenantId"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func (m *Mirror) Observe(ctx context.Context, env domain.Envelope) error {
	body, err := json.Marshal(detail{ID: env.ID, TenantID: env.TenantID, Payload: env.Payload})
	if err != nil {
		return fmt.Errorf("encoding event detail: %w", err)
	}

	out, err := m.api.PutEvents(ctx, &eb.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(m.bus),
			Source:       aws.String(string(env.Source)),
			DetailType:   aws.String(string(env.Type)),
			Detail:       aws.String(string(body)),
			Time:         aws.Time(env.Timestamp),
			Resources:    []string{"tenant/" + env.TenantID},
		}},
	})
	if err != nil {
		return fmt.Errorf("eventbridge: put %s: %w", env.Type, err)
	}
	if out.FailedEntryCount > 0 && len(out.Entries) > 0 {
		e := out.Entries[0]
		return fmt.Errorf("eventbridge: put %s rejected: %s: %s",
			env.Type, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
	}
	return nil
}
